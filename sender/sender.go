// Package sender posts user events to a session's ingress endpoint.
package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/shopchat/messages"
)

// StatusError reports a non-2xx response from the ingress endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("send rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("send rejected with status %d: %s", e.StatusCode, e.Body)
}

// Sender issues one POST per event. There is no retry and no queue; concurrent calls are
// independent requests with no ordering guarantee between them.
type Sender struct {
	baseURL string
	client  *http.Client
}

// New creates a sender for the backend at baseURL. A nil client gets a 30s timeout default.
func New(baseURL string, client *http.Client) *Sender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Sender{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// SendURL is the ingress endpoint for a session.
func (s *Sender) SendURL(sessionID string) string {
	return s.baseURL + "/send/" + url.PathEscape(sessionID)
}

// Send posts ev for sessionID. The response body is ignored on success.
func (s *Sender) Send(ctx context.Context, sessionID string, ev messages.OutboundEvent) error {
	body, err := sonic.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.SendURL(sessionID), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create send request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "send %s event", ev.MimeType)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Debug().
			Str("component", "sender").
			Str("session_id", sessionID).
			Int("status", resp.StatusCode).
			Msg("send rejected")
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
