// Package audio moves PCM between the local sound devices and a chat session: captured
// microphone audio is batched and posted as audio/pcm events, received audio is played back.
package audio

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/shopchat/messages"
)

// DefaultFlushInterval is how often captured audio is posted.
const DefaultFlushInterval = 200 * time.Millisecond

var ErrNotRunning = errors.New("audio bridge not running")

// Poster delivers outbound events for a session.
type Poster interface {
	Send(ctx context.Context, sessionID string, ev messages.OutboundEvent) error
}

// Source produces raw PCM chunks. onChunk may be called from any goroutine until Stop returns.
type Source interface {
	Start(ctx context.Context, onChunk func([]byte)) error
	Stop() error
}

// Sink renders raw PCM. Flush discards audio already written but not yet heard.
type Sink interface {
	Write(pcm []byte) error
	Flush() error
	Close() error
}

// Bridge owns one capture source and one playback sink while audio mode is on.
type Bridge struct {
	poster    Poster
	newSource func() Source
	newSink   func() Sink
	interval  time.Duration
	buffer    *Buffer

	mu        sync.Mutex
	sessionID string
	source    Source
	sink      Sink
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Bridge)

func WithFlushInterval(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.interval = d
		}
	}
}

func WithSource(f func() Source) Option {
	return func(b *Bridge) { b.newSource = f }
}

func WithSink(f func() Sink) Option {
	return func(b *Bridge) { b.newSink = f }
}

func WithMaxBufferSize(n int) Option {
	return func(b *Bridge) { b.buffer = NewBuffer(n) }
}

// NewBridge creates a stopped bridge posting through poster. Without options it captures and
// plays through sox.
func NewBridge(poster Poster, opts ...Option) *Bridge {
	b := &Bridge{
		poster:    poster,
		newSource: func() Source { return NewSoxSource() },
		newSink:   func() Sink { return NewSoxSink() },
		interval:  DefaultFlushInterval,
		buffer:    NewBuffer(DefaultMaxBufferSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start opens the capture and playback units for sessionID and begins periodic flushing.
// Starting a running bridge is a no-op.
func (b *Bridge) Start(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.buffer.Clear()

	source := b.newSource()
	if err := source.Start(runCtx, b.capture); err != nil {
		cancel()
		return errors.Wrap(err, "start audio capture")
	}

	b.sessionID = sessionID
	b.source = source
	b.sink = b.newSink()
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.flushLoop(runCtx, sessionID, b.done)

	log.Info().Str("component", "audio").Str("session_id", sessionID).Dur("flush_interval", b.interval).Msg("audio bridge started")
	return nil
}

// Stop releases the capture and playback units. Buffered but unsent audio is dropped.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	source, sink, cancel, done := b.source, b.sink, b.cancel, b.done
	b.source, b.sink, b.cancel, b.done = nil, nil, nil, nil
	sessionID := b.sessionID
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	stopErr := errors.Wrap(source.Stop(), "stop capture")
	closeErr := errors.Wrap(sink.Close(), "close playback")
	b.buffer.Clear()

	log.Info().Str("component", "audio").Str("session_id", sessionID).Msg("audio bridge stopped")
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel != nil
}

// Play queues decoded PCM for playback.
func (b *Bridge) Play(pcm []byte) error {
	sink := b.currentSink()
	if sink == nil {
		return ErrNotRunning
	}
	return errors.Wrap(sink.Write(pcm), "play audio")
}

// Interrupt drops in-flight playback so stale audio does not overlap the next turn.
func (b *Bridge) Interrupt() error {
	sink := b.currentSink()
	if sink == nil {
		return nil
	}
	log.Debug().Str("component", "audio").Msg("flushing playback")
	return errors.Wrap(sink.Flush(), "flush playback")
}

func (b *Bridge) currentSink() Sink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink
}

func (b *Bridge) capture(chunk []byte) {
	if err := b.buffer.Append(chunk); err != nil {
		log.Warn().
			Str("component", "audio").
			Int("chunk_bytes", len(chunk)).
			Int("max_bytes", b.buffer.MaxSize()).
			Msg("capture buffer full, dropping chunk")
	}
}

func (b *Bridge) flushLoop(ctx context.Context, sessionID string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = b.flush(ctx, sessionID)
		}
	}
}

// flush posts everything captured since the previous flush as one event. Nothing is sent when
// the buffer is empty.
func (b *Bridge) flush(ctx context.Context, sessionID string) error {
	pcm := b.buffer.Flush()
	if len(pcm) == 0 {
		return nil
	}
	if err := b.poster.Send(ctx, sessionID, messages.NewAudioEvent(pcm)); err != nil {
		log.Warn().Err(err).Str("component", "audio").Str("session_id", sessionID).Int("bytes", len(pcm)).Msg("failed to post audio")
		return err
	}
	return nil
}
