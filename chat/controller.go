// Package chat drives a chat session: it owns the session id and transcript, feeds streamed
// frames through the reducer and turns user input into outbound events.
package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/shopchat/messages"
	"github.com/room4-2/shopchat/transcript"
	"github.com/room4-2/shopchat/transport"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("assistant is still responding")
	ErrNotImage     = errors.New("file is not an image")
	ErrNotStarted   = errors.New("chat not started")
	ErrNoAudio      = errors.New("audio is not available")
)

type SessionSource interface {
	GetOrCreateSessionID(ctx context.Context) (string, error)
}

type Connector interface {
	Connect(sessionID string, audio bool)
	Disconnect()
}

type Poster interface {
	Send(ctx context.Context, sessionID string, ev messages.OutboundEvent) error
}

type AudioBridge interface {
	Start(ctx context.Context, sessionID string) error
	Stop() error
	Play(pcm []byte) error
	Interrupt() error
}

type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

var _ transport.Handler = (*Controller)(nil)

// Controller is the single writer of chat State.
type Controller struct {
	sessions SessionSource
	conn     Connector
	poster   Poster
	reducer  *transcript.Reducer
	bridge   AudioBridge
	uploader Uploader
	greeting string
	now      func() time.Time
	newID    func() string

	// notifyMu orders subscriber delivery; it is taken before mu and held while subscribers run
	notifyMu    sync.Mutex
	mu          sync.Mutex
	state       State
	closed      bool
	nextSub     int
	subscribers map[int]func(State)
}

type Option func(*Controller)

func WithAudioBridge(b AudioBridge) Option {
	return func(c *Controller) { c.bridge = b }
}

func WithUploader(u Uploader) Option {
	return func(c *Controller) { c.uploader = u }
}

// WithGreeting seeds an empty transcript with a system message on Start.
func WithGreeting(text string) Option {
	return func(c *Controller) { c.greeting = text }
}

func WithReducer(r *transcript.Reducer) Option {
	return func(c *Controller) { c.reducer = r }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(c *Controller) { c.newID = gen }
}

func NewController(sessions SessionSource, conn Connector, poster Poster, opts ...Option) *Controller {
	c := &Controller{
		sessions:    sessions,
		conn:        conn,
		poster:      poster,
		now:         time.Now,
		newID:       uuid.NewString,
		subscribers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reducer == nil {
		c.reducer = transcript.NewReducer(transcript.RoleAssistant)
	}
	return c
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to receive every new snapshot. The returned func unregisters it.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// update is the only path that writes State. fn must leave s untouched when it returns an
// error; subscribers are then not notified. Subscribers see snapshots in write order and must
// not call back into methods that update state.
func (c *Controller) update(fn func(s *State) error) error {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if err := fn(&c.state); err != nil {
		c.mu.Unlock()
		return err
	}
	snap := c.state
	subs := make([]func(State), 0, len(c.subscribers))
	for _, s := range c.subscribers {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s(snap)
	}
	return nil
}

// Start resolves the session id and opens the event stream in text mode.
func (c *Controller) Start(ctx context.Context) error {
	id, err := c.sessions.GetOrCreateSessionID(ctx)
	if err != nil {
		return errors.Wrap(err, "resolve session id")
	}

	var audio bool
	_ = c.update(func(s *State) error {
		s.SessionID = id
		audio = s.AudioMode
		if c.greeting != "" && s.Transcript.Len() == 0 {
			s.Transcript = s.Transcript.Append(c.localMessage(transcript.RoleSystem, c.greeting, transcript.KindText))
		}
		return nil
	})
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()

	log.Info().Str("component", "chat").Str("session_id", id).Msg("chat started")
	c.conn.Connect(id, audio)
	return nil
}

// SubmitText appends the user's message immediately and posts it. On failure input is
// re-enabled and the error returned; nothing is retried.
func (c *Controller) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	msg := c.localMessage(transcript.RoleUser, text, transcript.KindText)
	sessionID, err := c.beginTurn(msg)
	if err != nil {
		return err
	}
	return c.send(ctx, sessionID, messages.NewTextEvent(text))
}

// SubmitImage shows the image locally and posts its bytes under its media type. An empty
// mediaType is sniffed from data.
func (c *Controller) SubmitImage(ctx context.Context, name, mediaType string, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyMessage
	}
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	if !messages.IsImageMime(mediaType) {
		return errors.Wrapf(ErrNotImage, "%s is %s", name, mediaType)
	}

	content := ""
	if c.uploader != nil {
		url, err := c.uploader.Upload(ctx, name, bytes.NewReader(data))
		if err != nil {
			log.Warn().Err(err).Str("component", "chat").Str("file", name).Msg("upload failed, showing inline image")
		} else {
			content = url
		}
	}
	if content == "" {
		content = "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
	}

	msg := c.localMessage(transcript.RoleUser, content, transcript.KindImage)
	sessionID, err := c.beginTurn(msg)
	if err != nil {
		return err
	}
	return c.send(ctx, sessionID, messages.NewBinaryEvent(mediaType, data))
}

func (c *Controller) beginTurn(msg transcript.ChatMessage) (string, error) {
	var sessionID string
	err := c.update(func(s *State) error {
		if s.SessionID == "" {
			return ErrNotStarted
		}
		if s.Generating {
			return ErrBusy
		}
		sessionID = s.SessionID
		s.Transcript = s.Transcript.Append(msg)
		s.Generating = true
		s.LastError = nil
		return nil
	})
	return sessionID, err
}

func (c *Controller) send(ctx context.Context, sessionID string, ev messages.OutboundEvent) error {
	err := c.poster.Send(ctx, sessionID, ev)
	if err == nil {
		return nil
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return err
	}

	log.Warn().Err(err).Str("component", "chat").Str("session_id", sessionID).Str("mime_type", ev.MimeType).Msg("send failed")
	_ = c.update(func(s *State) error {
		s.Generating = false
		s.LastError = err
		return nil
	})
	return err
}

// ToggleAudio reconnects the session in the other mode and engages or releases the audio
// bridge. It returns the new mode.
func (c *Controller) ToggleAudio(ctx context.Context) (bool, error) {
	st := c.State()
	if st.SessionID == "" {
		return false, ErrNotStarted
	}
	if !st.AudioMode && c.bridge == nil {
		return false, ErrNoAudio
	}

	c.conn.Disconnect()
	if st.AudioMode {
		if err := c.bridge.Stop(); err != nil {
			log.Warn().Err(err).Str("component", "chat").Msg("stopping audio")
		}
	}

	next := !st.AudioMode
	if next {
		if err := c.bridge.Start(ctx, st.SessionID); err != nil {
			err = errors.Wrap(err, "start audio")
			_ = c.update(func(s *State) error {
				s.AudioMode = false
				s.LastError = err
				return nil
			})
			c.conn.Connect(st.SessionID, false)
			return false, err
		}
	}

	_ = c.update(func(s *State) error {
		s.AudioMode = next
		return nil
	})
	log.Info().Str("component", "chat").Str("session_id", st.SessionID).Bool("audio", next).Msg("switched mode")
	c.conn.Connect(st.SessionID, next)
	return next, nil
}

// HandleFrame folds a streamed frame into the state and routes its side effects.
func (c *Controller) HandleFrame(f messages.Frame) {
	var eff transcript.Effect
	_ = c.update(func(s *State) error {
		s.Transcript, eff = c.reducer.Apply(s.Transcript, f)
		if eff.TurnStarted {
			s.Generating = true
		}
		if eff.TurnComplete {
			s.Generating = false
		}
		if eff.Structured != nil {
			s.Structured = eff.Structured
		}
		return nil
	})

	if c.bridge == nil {
		return
	}
	if len(eff.Audio) > 0 {
		if err := c.bridge.Play(eff.Audio); err != nil {
			log.Debug().Err(err).Str("component", "chat").Msg("dropping audio frame")
		}
	}
	if eff.Interrupted {
		if err := c.bridge.Interrupt(); err != nil {
			log.Warn().Err(err).Str("component", "chat").Msg("interrupting playback")
		}
	}
}

// HandleStatus records the connection status. A dropped or closed stream abandons the turn in
// progress: the backend session behind it is gone, so its turn_complete never arrives.
func (c *Controller) HandleStatus(status transport.Status) {
	_ = c.update(func(s *State) error {
		s.Status = status
		if status == transport.StatusDisconnected || status == transport.StatusClosed {
			s.Generating = false
			s.Transcript.OpenTurnID = ""
		}
		return nil
	})
}

// Close disconnects and stops audio. Sends still in flight complete but their outcome is
// ignored.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	audio := c.state.AudioMode
	c.mu.Unlock()

	c.conn.Disconnect()
	if audio && c.bridge != nil {
		return errors.Wrap(c.bridge.Stop(), "stop audio")
	}
	return nil
}

func (c *Controller) localMessage(role transcript.Role, content string, kind transcript.Kind) transcript.ChatMessage {
	return transcript.ChatMessage{
		ID:        c.newID(),
		Role:      role,
		Content:   content,
		Timestamp: c.now(),
		Kind:      kind,
	}
}
