package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/shopchat/collab"
	"github.com/room4-2/shopchat/config"
	"github.com/room4-2/shopchat/messages"
	"github.com/room4-2/shopchat/session"
	"github.com/room4-2/shopchat/transport"
)

type fakeBackend struct {
	mu    sync.Mutex
	texts []string
	blobs []string
}

func (b *fakeBackend) SendText(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, text)
	return nil
}

func (b *fakeBackend) SendAudio([]byte) error { return nil }

func (b *fakeBackend) SendBlob(mimeType string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs = append(b.blobs, mimeType)
	return nil
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) received() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.texts...)
}

type fixture struct {
	srv      *httptest.Server
	manager  *session.Manager
	mu       sync.Mutex
	backends map[string]*fakeBackend
}

func (f *fixture) backend(id string) *fakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backends[id]
}

func newFixture(t *testing.T, maxSessions int) *fixture {
	t.Helper()
	f := &fixture{backends: map[string]*fakeBackend{}}

	cfg := &config.Config{
		MaxSessions:     maxSessions,
		SessionTimeout:  time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: time.Hour,
		UploadDir:       t.TempDir(),
	}
	f.manager = session.NewManager(cfg, func(_ context.Context, cs *session.ClientSession) (session.Backend, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		b := &fakeBackend{}
		f.backends[cs.ID] = b
		return b, nil
	})

	f.srv = httptest.NewServer(NewServer(cfg, f.manager).Handler())
	t.Cleanup(func() {
		f.srv.Close()
		f.manager.Shutdown()
	})
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := sonic.Marshal(body)
	require.NoError(t, err)
	resp, err := f.srv.Client().Post(f.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_SSEStream(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	stream, err := (&transport.SSEDialer{Client: f.srv.Client()}).Dial(ctx, f.srv.URL+"/events/s1?is_audio=false")
	require.NoError(t, err)
	defer stream.Close()

	cs, ok := f.manager.GetSession("s1")
	require.True(t, ok)
	require.False(t, cs.Audio)

	cs.Emit(messages.NewTextFrame("model", "Hello"))
	cs.Emit(messages.NewTurnCompleteFrame())

	payload, err := stream.Next()
	require.NoError(t, err)
	frame, err := messages.DecodeFrame(payload)
	require.NoError(t, err)
	require.Equal(t, messages.KindText, frame.Kind)
	require.Equal(t, "Hello", frame.Text)
	require.Equal(t, "model", frame.Role)

	payload, err = stream.Next()
	require.NoError(t, err)
	frame, err = messages.DecodeFrame(payload)
	require.NoError(t, err)
	require.Equal(t, messages.KindControl, frame.Kind)
	require.True(t, frame.TurnComplete)

	// closing the session ends the stream
	_ = cs.Close()
	_, err = stream.Next()
	require.Error(t, err)
	require.Eventually(t, func() bool { return f.manager.GetActiveSessionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_EventsRejectedAtCapacity(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	stream, err := (&transport.SSEDialer{Client: f.srv.Client()}).Dial(ctx, f.srv.URL+"/events/a")
	require.NoError(t, err)
	defer stream.Close()

	_, err = (&transport.SSEDialer{Client: f.srv.Client()}).Dial(ctx, f.srv.URL+"/events/b")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestServer_Send(t *testing.T) {
	f := newFixture(t, 10)

	resp := f.post(t, "/send/missing", messages.NewTextEvent("hi"))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	stream, err := (&transport.SSEDialer{Client: f.srv.Client()}).Dial(context.Background(), f.srv.URL+"/events/s1")
	require.NoError(t, err)
	defer stream.Close()

	resp = f.post(t, "/send/s1", messages.NewTextEvent("Hi"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"Hi"}, f.backend("s1").received())

	resp = f.post(t, "/send/s1", messages.NewBinaryEvent("image/png", []byte("png")))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.post(t, "/send/s1", messages.OutboundEvent{MimeType: "video/mp4", Data: "AA=="})
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = f.post(t, "/send/s1", map[string]string{"data": "no mime"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body messages.ErrorPayload
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(raw, &body))
	require.Equal(t, messages.ErrCodeInvalidMessage, body.Code)
}

func TestServer_WebSocketStream(t *testing.T) {
	f := newFixture(t, 10)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/events/w1?is_audio=true"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(messages.NewTextEvent("from socket")))
	require.Eventually(t, func() bool {
		b := f.backend("w1")
		return b != nil && len(b.received()) == 1
	}, time.Second, 10*time.Millisecond)

	cs, ok := f.manager.GetSession("w1")
	require.True(t, ok)
	require.True(t, cs.Audio)
	cs.Emit(messages.NewAudioFrame("AAE="))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := messages.DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, messages.KindAudio, frame.Kind)
	require.Equal(t, []byte{0, 1}, frame.PCM)
}

func TestServer_UploadAndServe(t *testing.T) {
	f := newFixture(t, 10)
	uploader := collab.NewUploader(f.srv.URL+"/upload-image", f.srv.Client())

	url, err := uploader.Upload(context.Background(), "photo.PNG", strings.NewReader("image bytes"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, f.srv.URL+"/uploads/"))
	require.True(t, strings.HasSuffix(url, ".png"))

	resp, err := f.srv.Client().Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "image bytes", string(data))
}

func TestServer_UploadMissingFile(t *testing.T) {
	f := newFixture(t, 10)
	resp, err := f.srv.Client().Post(f.srv.URL+"/upload-image", "multipart/form-data; boundary=x", strings.NewReader("--x--\r\n"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadExt(t *testing.T) {
	require.Equal(t, ".png", uploadExt("a.PNG"))
	require.Equal(t, ".jpg", uploadExt("noext"))
	require.Equal(t, ".jpg", uploadExt("evil.p/h"))
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t, 10)
	resp, err := f.srv.Client().Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok","sessions":0}`, string(data))
}
