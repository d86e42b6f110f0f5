package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Stream yields raw frame payloads in arrival order.
type Stream interface {
	// Next blocks until a payload arrives; any error ends the stream.
	Next() ([]byte, error)
	Close() error
}

// Dialer opens a Stream to an event endpoint.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Stream, error)
}

// AutoDialer picks the framing from the URL scheme: Server-Sent Events for http(s),
// WebSocket for ws(s).
type AutoDialer struct {
	SSE       Dialer
	WebSocket Dialer
}

// NewAutoDialer returns an AutoDialer using client for SSE and a default websocket dialer.
func NewAutoDialer(client *http.Client) *AutoDialer {
	return &AutoDialer{
		SSE:       &SSEDialer{Client: client},
		WebSocket: &WebSocketDialer{},
	}
}

func (d *AutoDialer) Dial(ctx context.Context, rawURL string) (Stream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse stream url")
	}
	switch u.Scheme {
	case "ws", "wss":
		return d.WebSocket.Dial(ctx, rawURL)
	case "http", "https":
		return d.SSE.Dial(ctx, rawURL)
	default:
		return nil, errors.Errorf("unsupported stream scheme %q", u.Scheme)
	}
}

// SSEDialer opens text/event-stream responses.
type SSEDialer struct {
	Client *http.Client
}

func (d *SSEDialer) Dial(ctx context.Context, rawURL string) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create event request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "open event stream")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, errors.Errorf("event stream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return newSSEStream(resp.Body), nil
}

// sseStream parses the event-stream framing: "data:" lines accumulate until a blank line
// dispatches them, ":" lines are comments, other fields are ignored.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{
		body:   body,
		reader: bufio.NewReaderSize(body, 64*1024),
	}
}

func (s *sseStream) Next() ([]byte, error) {
	var data []byte
	hasData := false

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && len(line) == 0 {
			if err == io.EOF && hasData {
				return data, nil
			}
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if hasData {
				return data, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			value = bytes.TrimPrefix(value, []byte(" "))
		}
		if string(field) != "data" {
			continue
		}
		if hasData {
			data = append(data, '\n')
		}
		data = append(data, value...)
		hasData = true
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
