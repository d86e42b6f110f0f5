package chat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/shopchat/identity"
	"github.com/room4-2/shopchat/messages"
	"github.com/room4-2/shopchat/transcript"
	"github.com/room4-2/shopchat/transport"
)

type connectCall struct {
	sessionID string
	audio     bool
}

type fakeConnector struct {
	mu          sync.Mutex
	connects    []connectCall
	disconnects int
}

func (f *fakeConnector) Connect(sessionID string, audio bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, connectCall{sessionID, audio})
}

func (f *fakeConnector) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

type fakePoster struct {
	mu     sync.Mutex
	events []messages.OutboundEvent
	err    error
	onSend func()
}

func (p *fakePoster) Send(_ context.Context, _ string, ev messages.OutboundEvent) error {
	if p.onSend != nil {
		p.onSend()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type fakeBridge struct {
	startErr   error
	started    int
	stopped    int
	played     [][]byte
	interrupts int
}

func (b *fakeBridge) Start(context.Context, string) error {
	if b.startErr != nil {
		return b.startErr
	}
	b.started++
	return nil
}

func (b *fakeBridge) Stop() error {
	b.stopped++
	return nil
}

func (b *fakeBridge) Play(pcm []byte) error {
	b.played = append(b.played, pcm)
	return nil
}

func (b *fakeBridge) Interrupt() error {
	b.interrupts++
	return nil
}

type fakeUploader struct {
	url string
	err error
}

func (u *fakeUploader) Upload(_ context.Context, _ string, r io.Reader) (string, error) {
	_, _ = io.ReadAll(r)
	return u.url, u.err
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *fakeConnector, *fakePoster) {
	t.Helper()
	conn := &fakeConnector{}
	poster := &fakePoster{}
	sessions := identity.NewManager(identity.NewMemoryStore(), identity.WithIDGenerator(func() string { return "sess-1" }))
	base := []Option{WithIDGenerator(sequentialIDs()), WithClock(func() time.Time { return time.Unix(0, 0) })}
	c := NewController(sessions, conn, poster, append(base, opts...)...)
	require.NoError(t, c.Start(context.Background()))
	return c, conn, poster
}

func decode(t *testing.T, payload string) messages.Frame {
	t.Helper()
	f, err := messages.DecodeFrame([]byte(payload))
	require.NoError(t, err)
	return f
}

func TestController_StartConnectsInTextMode(t *testing.T) {
	c, conn, _ := newTestController(t, WithGreeting("Welcome to the shop!"))

	require.Equal(t, []connectCall{{"sess-1", false}}, conn.connects)
	st := c.State()
	require.Equal(t, "sess-1", st.SessionID)
	require.Len(t, st.Messages(), 1)
	require.Equal(t, transcript.RoleSystem, st.Messages()[0].Role)
	require.Equal(t, "Welcome to the shop!", st.Messages()[0].Content)
}

func TestController_HiHelloThere(t *testing.T) {
	c, _, poster := newTestController(t)

	poster.onSend = func() {
		// the user message is visible before the network call resolves
		msgs := c.State().Messages()
		require.Len(t, msgs, 1)
		require.Equal(t, transcript.RoleUser, msgs[0].Role)
		require.Equal(t, "Hi", msgs[0].Content)
		require.False(t, c.State().InputEnabled())
	}
	require.NoError(t, c.SubmitText(context.Background(), "Hi"))
	require.Equal(t, []messages.OutboundEvent{messages.NewTextEvent("Hi")}, poster.events)

	c.HandleFrame(decode(t, `{"mime_type":"text/plain","data":"Hello"}`))
	require.True(t, c.State().Generating)
	c.HandleFrame(decode(t, `{"mime_type":"text/plain","data":" there"}`))
	c.HandleFrame(decode(t, `{"turn_complete":true}`))

	st := c.State()
	require.False(t, st.Generating)
	require.True(t, st.InputEnabled())
	require.Len(t, st.Messages(), 2)
	last := st.Messages()[1]
	require.Equal(t, transcript.RoleAssistant, last.Role)
	require.Equal(t, "Hello there", last.Content)
}

func TestController_StructuredFrameUpdatesSlot(t *testing.T) {
	c, _, _ := newTestController(t)
	c.HandleFrame(decode(t, `{"mime_type":"text/plain","data":"Here are some shoes"}`))
	before := len(c.State().Messages())

	c.HandleFrame(decode(t, `{"mime_type":"application/json","data":[{"name":"Shoe A","url":"https://shop.test/a"}]}`))

	st := c.State()
	require.Len(t, st.Messages(), before)
	products, err := messages.DecodeProducts(st.Structured)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "Shoe A", products[0].Name)
}

func TestController_SendFailureReenablesInput(t *testing.T) {
	c, _, poster := newTestController(t)
	poster.err = errors.New("503")

	err := c.SubmitText(context.Background(), "Hi")
	require.Error(t, err)

	st := c.State()
	require.False(t, st.Generating)
	require.Equal(t, err, st.LastError)
	// the optimistic message stays
	require.Len(t, st.Messages(), 1)

	poster.err = nil
	require.NoError(t, c.SubmitText(context.Background(), "again"))
	require.Nil(t, c.State().LastError)
}

func TestController_RejectsWhileGenerating(t *testing.T) {
	c, _, poster := newTestController(t)
	require.NoError(t, c.SubmitText(context.Background(), "first"))

	require.ErrorIs(t, c.SubmitText(context.Background(), "second"), ErrBusy)
	require.ErrorIs(t, c.SubmitText(context.Background(), "   "), ErrEmptyMessage)
	require.Len(t, poster.events, 1)
	require.Len(t, c.State().Messages(), 1)
}

func TestController_RequiresStart(t *testing.T) {
	c := NewController(identity.NewManager(identity.NewMemoryStore()), &fakeConnector{}, &fakePoster{})
	require.ErrorIs(t, c.SubmitText(context.Background(), "Hi"), ErrNotStarted)
	_, err := c.ToggleAudio(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestController_SubmitImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	c, _, poster := newTestController(t)
	require.NoError(t, c.SubmitImage(context.Background(), "me.png", "", png))

	msg := c.State().Messages()[0]
	require.Equal(t, transcript.KindImage, msg.Kind)
	require.Contains(t, msg.Content, "data:image/png;base64,")
	require.Equal(t, "image/png", poster.events[0].MimeType)
	raw, err := poster.events[0].Bytes()
	require.NoError(t, err)
	require.Equal(t, png, raw)
}

func TestController_SubmitImageUsesUploadedURL(t *testing.T) {
	c, _, _ := newTestController(t, WithUploader(&fakeUploader{url: "https://cdn/me.png"}))
	require.NoError(t, c.SubmitImage(context.Background(), "me.png", "image/png", []byte("x")))
	require.Equal(t, "https://cdn/me.png", c.State().Messages()[0].Content)
}

func TestController_SubmitImageRejectsNonImage(t *testing.T) {
	c, _, poster := newTestController(t)
	err := c.SubmitImage(context.Background(), "notes.txt", "", []byte("plain words"))
	require.ErrorIs(t, err, ErrNotImage)
	require.Empty(t, poster.events)
	require.Empty(t, c.State().Messages())
}

func TestController_ToggleAudio(t *testing.T) {
	bridge := &fakeBridge{}
	c, conn, _ := newTestController(t, WithAudioBridge(bridge))

	on, err := c.ToggleAudio(context.Background())
	require.NoError(t, err)
	require.True(t, on)
	require.True(t, c.State().AudioMode)
	require.Equal(t, 1, bridge.started)
	require.Equal(t, 1, conn.disconnects)
	require.Equal(t, connectCall{"sess-1", true}, conn.connects[len(conn.connects)-1])

	c.HandleFrame(decode(t, `{"mime_type":"audio/pcm","data":"AAEC"}`))
	c.HandleFrame(decode(t, `{"interrupted":true}`))
	require.Equal(t, [][]byte{{0, 1, 2}}, bridge.played)
	require.Equal(t, 1, bridge.interrupts)

	on, err = c.ToggleAudio(context.Background())
	require.NoError(t, err)
	require.False(t, on)
	require.Equal(t, 1, bridge.stopped)
	require.Equal(t, connectCall{"sess-1", false}, conn.connects[len(conn.connects)-1])
}

func TestController_ToggleAudioRevertsOnFailure(t *testing.T) {
	bridge := &fakeBridge{startErr: errors.New("no microphone")}
	c, conn, _ := newTestController(t, WithAudioBridge(bridge))

	on, err := c.ToggleAudio(context.Background())
	require.Error(t, err)
	require.False(t, on)
	require.False(t, c.State().AudioMode)
	require.Equal(t, connectCall{"sess-1", false}, conn.connects[len(conn.connects)-1])
}

func TestController_ToggleAudioWithoutBridge(t *testing.T) {
	c, conn, _ := newTestController(t)
	_, err := c.ToggleAudio(context.Background())
	require.ErrorIs(t, err, ErrNoAudio)
	require.Zero(t, conn.disconnects)
}

func TestController_StatusAndSubscribers(t *testing.T) {
	c, _, _ := newTestController(t)

	var mu sync.Mutex
	var seen []State
	unsubscribe := c.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	c.HandleStatus(transport.StatusConnected)
	require.True(t, c.State().Connected())
	c.HandleStatus(transport.StatusDisconnected)
	require.False(t, c.State().Connected())

	unsubscribe()
	c.HandleStatus(transport.StatusConnected)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	require.Equal(t, transport.StatusDisconnected, seen[1].Status)
}

func TestController_StreamDropAbandonsTurn(t *testing.T) {
	c, _, poster := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.SubmitText(ctx, "Hi"))
	c.HandleFrame(decode(t, `{"mime_type":"text/plain","data":"Hel"}`))
	require.True(t, c.State().Generating)

	c.HandleStatus(transport.StatusDisconnected)
	st := c.State()
	require.False(t, st.Generating)
	require.True(t, st.InputEnabled())
	require.Empty(t, st.Transcript.OpenTurnID)

	c.HandleStatus(transport.StatusConnecting)
	c.HandleStatus(transport.StatusConnected)

	require.NoError(t, c.SubmitText(ctx, "Are you there?"))
	require.Len(t, poster.events, 2)

	c.HandleFrame(decode(t, `{"mime_type":"text/plain","data":"New reply"}`))
	msgs := c.State().Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, "Hel", msgs[1].Content)
	require.Equal(t, "New reply", msgs[3].Content)
}

func TestController_AudioTurnAfterDropStartsNewEntry(t *testing.T) {
	c, _, _ := newTestController(t)

	c.HandleFrame(decode(t, `{"mime_type":"text/plain","role":"model","data":"Part"}`))
	c.HandleStatus(transport.StatusDisconnected)
	c.HandleStatus(transport.StatusConnected)
	c.HandleFrame(decode(t, `{"mime_type":"text/plain","role":"model","data":"Fresh"}`))

	msgs := c.State().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "Part", msgs[0].Content)
	require.Equal(t, "Fresh", msgs[1].Content)
	require.True(t, c.State().Generating)
}

func TestController_SubscribersSeeWriteOrder(t *testing.T) {
	c, _, _ := newTestController(t)

	var mu sync.Mutex
	var lengths []int
	unsubscribe := c.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if last, ok := s.Transcript.Last(); ok {
			lengths = append(lengths, len(last.Content))
		}
	})
	defer unsubscribe()

	const writers, frames = 8, 50
	delta := decode(t, `{"mime_type":"text/plain","data":"x"}`)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < frames; i++ {
				c.HandleFrame(delta)
				c.HandleStatus(transport.StatusConnected)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lengths, 2*writers*frames)
	for i := 1; i < len(lengths); i++ {
		require.GreaterOrEqual(t, lengths[i], lengths[i-1], "snapshot %d delivered out of order", i)
	}
	require.Equal(t, writers*frames, lengths[len(lengths)-1])
}

func TestController_CloseIgnoresLateFailure(t *testing.T) {
	bridge := &fakeBridge{}
	c, conn, poster := newTestController(t, WithAudioBridge(bridge))
	_, err := c.ToggleAudio(context.Background())
	require.NoError(t, err)

	poster.err = errors.New("gone")
	poster.onSend = func() { require.NoError(t, c.Close()) }
	require.Error(t, c.SubmitText(context.Background(), "bye"))

	require.Nil(t, c.State().LastError)
	require.Equal(t, 1, bridge.stopped)
	require.Equal(t, 2, conn.disconnects)
}
