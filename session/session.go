package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/shopchat/messages"
)

const frameBufferSize = 256

// ErrUnsupportedMime is returned for inbound events the backend cannot take
var ErrUnsupportedMime = errors.New("unsupported mime type")

// ErrSessionClosed is returned when sending to a closed session
var ErrSessionClosed = errors.New("session closed")

// Backend is the model connection behind one client session
type Backend interface {
	SendText(text string) error
	SendAudio(pcm []byte) error
	SendBlob(mimeType string, data []byte) error
	Close() error
}

// BackendFactory opens the backend for cs. It pushes model output with cs.Emit and reports a
// dead connection with cs.Fail.
type BackendFactory func(ctx context.Context, cs *ClientSession) (Backend, error)

// ClientSession represents one connected event stream
type ClientSession struct {
	ID           string
	Audio        bool
	CreatedAt    time.Time
	LastActivity time.Time

	backend Backend
	// Use channels for non-blocking writes
	frames chan *messages.WireFrame

	mu        sync.RWMutex
	closed    bool
	CloseChan chan struct{}
	cancel    context.CancelFunc
}

// newClientSession creates a session; the backend is attached by the manager
func newClientSession(id string, audio bool, cancel context.CancelFunc) *ClientSession {
	now := time.Now()
	return &ClientSession{
		ID:           id,
		Audio:        audio,
		CreatedAt:    now,
		LastActivity: now,
		frames:       make(chan *messages.WireFrame, frameBufferSize),
		CloseChan:    make(chan struct{}),
		cancel:       cancel,
	}
}

// Frames is the outbound queue drained by the stream writer
func (cs *ClientSession) Frames() <-chan *messages.WireFrame {
	return cs.frames
}

// Emit queues a frame for the client without blocking; frames are dropped when the writer
// falls too far behind
func (cs *ClientSession) Emit(frame *messages.WireFrame) {
	cs.mu.RLock()
	closed := cs.closed
	cs.mu.RUnlock()
	if closed {
		return
	}

	select {
	case cs.frames <- frame:
		cs.Touch()
	default:
		log.Warn().Str("component", "session").Str("session_id", cs.ID).Msg("frame queue full, dropping frame")
	}
}

// Fail closes the session after an unrecoverable backend error; the client sees the stream end
// and reconnects
func (cs *ClientSession) Fail(err error) {
	if cs.IsClosed() {
		return
	}
	log.Error().Err(err).Str("component", "session").Str("session_id", cs.ID).Msg("backend failed, closing session")
	_ = cs.Close()
}

// Send routes an inbound event to the backend by mime type
func (cs *ClientSession) Send(ctx context.Context, ev messages.OutboundEvent) error {
	if cs.IsClosed() {
		return ErrSessionClosed
	}
	cs.Touch()

	cs.mu.RLock()
	backend := cs.backend
	cs.mu.RUnlock()
	if backend == nil {
		return ErrSessionClosed
	}

	switch {
	case ev.IsText():
		return errors.Wrap(backend.SendText(ev.Data), "forward text")

	case messages.IsAudioMime(ev.MimeType):
		pcm, err := ev.Bytes()
		if err != nil {
			return errors.Wrap(err, "decode audio")
		}
		return errors.Wrap(backend.SendAudio(pcm), "forward audio")

	case messages.IsImageMime(ev.MimeType):
		data, err := ev.Bytes()
		if err != nil {
			return errors.Wrap(err, "decode image")
		}
		log.Debug().Str("component", "session").Str("session_id", cs.ID).Str("mime_type", ev.MimeType).Int("bytes", len(data)).Msg("forwarding image")
		return errors.Wrap(backend.SendBlob(ev.MimeType, data), "forward image")

	default:
		return errors.Wrapf(ErrUnsupportedMime, "%q", ev.MimeType)
	}
}

// Touch records activity for the inactivity cleanup
func (cs *ClientSession) Touch() {
	cs.mu.Lock()
	cs.LastActivity = time.Now()
	cs.mu.Unlock()
}

func (cs *ClientSession) lastActivity() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.LastActivity
}

// Close releases the backend and signals the stream writer
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	backend := cs.backend
	cs.mu.Unlock()

	if cs.cancel != nil {
		cs.cancel()
	}
	close(cs.CloseChan)

	if backend != nil {
		return backend.Close()
	}
	return nil
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}
