package sender

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/shopchat/messages"
)

func TestSender_PostsEvent(t *testing.T) {
	var gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotPath = r.URL.EscapedPath()
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(srv.URL+"/", srv.Client())
	err := s.Send(context.Background(), "abc 1", messages.NewTextEvent("Hi"))
	require.NoError(t, err)

	require.Equal(t, "/send/abc%201", gotPath)
	require.Equal(t, "application/json", gotType)
	require.JSONEq(t, `{"mime_type":"text/plain","data":"Hi"}`, string(gotBody))
}

func TestSender_NonSuccessStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer srv.Close()

	err := New(srv.URL, srv.Client()).Send(context.Background(), "x", messages.NewTextEvent("Hi"))
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusNotFound, se.StatusCode)
	require.Equal(t, "session not found", se.Body)
	require.EqualValues(t, 1, calls.Load())
}

func TestSender_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := New(url, nil).Send(context.Background(), "x", messages.NewTextEvent("Hi"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "send text/plain event")
}

func TestSender_AudioEventIsBase64(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := New(srv.URL, srv.Client()).Send(context.Background(), "x", messages.NewAudioEvent([]byte{0, 1, 2, 3}))
	require.NoError(t, err)
	require.JSONEq(t, `{"mime_type":"audio/pcm","data":"AAECAw=="}`, string(gotBody))
}
