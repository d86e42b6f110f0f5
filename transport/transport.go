// Package transport keeps one server-push connection per chat session alive and hands the
// decoded frames to a Handler in arrival order.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/room4-2/shopchat/messages"
)

// DefaultReconnectDelay is the wait between a dropped connection and the next attempt.
const DefaultReconnectDelay = time.Second

type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Handler receives frames and status changes. HandleFrame is called from a single goroutine
// per connection, one frame at a time.
type Handler interface {
	HandleFrame(frame messages.Frame)
	HandleStatus(status Status)
}

// Transport owns the event stream for the current (session, audio mode) pair.
type Transport struct {
	baseURL string
	dialer  Dialer
	clock   Clock
	backoff Backoff

	mu        sync.Mutex
	handler   Handler
	status    Status
	gen       uint64
	sessionID string
	audio     bool
	attempt   int
	cancel    context.CancelFunc
	stream    Stream
	timer     Timer
}

type Option func(*Transport)

func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

func WithClock(c Clock) Option {
	return func(t *Transport) { t.clock = c }
}

func WithBackoff(b Backoff) Option {
	return func(t *Transport) { t.backoff = b }
}

func WithHandler(h Handler) Option {
	return func(t *Transport) { t.handler = h }
}

// New creates an idle transport for the backend at baseURL.
func New(baseURL string, opts ...Option) *Transport {
	t := &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   realClock{},
		backoff: ConstantBackoff(DefaultReconnectDelay),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.dialer == nil {
		t.dialer = NewAutoDialer(&http.Client{})
	}
	return t
}

// SetHandler replaces the frame and status receiver.
func (t *Transport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// EventsURL is the stream endpoint for a session.
func (t *Transport) EventsURL(sessionID string, audio bool) string {
	return fmt.Sprintf("%s/events/%s?is_audio=%t", t.baseURL, url.PathEscape(sessionID), audio)
}

// Connect opens the stream for sessionID in the given mode. An open connection or pending
// retry is torn down first. Dialing happens in the background; progress is reported through
// HandleStatus.
func (t *Transport) Connect(sessionID string, audio bool) {
	t.mu.Lock()
	stream, cancel, timer := t.detachLocked()
	t.gen++
	gen := t.gen
	t.sessionID = sessionID
	t.audio = audio
	t.attempt = 0
	t.mu.Unlock()

	release(stream, cancel, timer)
	log.Info().Str("component", "transport").Str("session_id", sessionID).Bool("audio", audio).Msg("connecting")
	t.open(gen)
}

// Disconnect closes the stream and cancels any pending or future reconnect of it.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	stream, cancel, timer := t.detachLocked()
	t.gen++
	changed := t.status != StatusClosed
	t.status = StatusClosed
	h := t.handler
	sessionID := t.sessionID
	t.mu.Unlock()

	release(stream, cancel, timer)
	if changed {
		log.Info().Str("component", "transport").Str("session_id", sessionID).Msg("disconnected")
		if h != nil {
			h.HandleStatus(StatusClosed)
		}
	}
}

func (t *Transport) detachLocked() (Stream, context.CancelFunc, Timer) {
	stream, cancel, timer := t.stream, t.cancel, t.timer
	t.stream, t.cancel, t.timer = nil, nil, nil
	return stream, cancel, timer
}

func release(stream Stream, cancel context.CancelFunc, timer Timer) {
	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		_ = stream.Close()
	}
}

func (t *Transport) open(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.timer = nil
	rawURL := t.EventsURL(t.sessionID, t.audio)
	t.mu.Unlock()

	t.setStatus(gen, StatusConnecting)
	go t.run(ctx, gen, rawURL)
}

func (t *Transport) run(ctx context.Context, gen uint64, rawURL string) {
	stream, err := t.dialer.Dial(ctx, rawURL)
	if err != nil {
		t.dropped(gen, err)
		return
	}

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		_ = stream.Close()
		return
	}
	t.stream = stream
	t.attempt = 0
	t.mu.Unlock()

	t.setStatus(gen, StatusConnected)

	for {
		data, err := stream.Next()
		if err != nil {
			t.dropped(gen, err)
			return
		}
		if !t.current(gen) {
			return
		}
		t.handleMessage(data)
	}
}

// handleMessage decodes one payload and forwards it. Undecodable payloads are logged and
// dropped.
func (t *Transport) handleMessage(data []byte) {
	frame, err := messages.DecodeFrame(data)
	if err != nil {
		log.Warn().Err(err).Str("component", "transport").Int("bytes", len(data)).Msg("dropping malformed frame")
		return
	}

	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h.HandleFrame(frame)
	}
}

func (t *Transport) dropped(gen uint64, cause error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	stream, cancel, _ := t.detachLocked()
	t.attempt++
	delay := t.backoff(t.attempt)
	t.timer = t.clock.AfterFunc(delay, func() { t.open(gen) })
	t.status = StatusDisconnected
	h := t.handler
	sessionID := t.sessionID
	attempt := t.attempt
	t.mu.Unlock()

	release(stream, cancel, nil)
	log.Warn().Err(cause).
		Str("component", "transport").
		Str("session_id", sessionID).
		Int("attempt", attempt).
		Dur("retry_in", delay).
		Msg("event stream dropped")
	if h != nil {
		h.HandleStatus(StatusDisconnected)
	}
}

func (t *Transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}

func (t *Transport) setStatus(gen uint64, s Status) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.status = s
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h.HandleStatus(s)
	}
}
