package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/shopchat/messages"
	"github.com/room4-2/shopchat/session"
)

const wsWriteWait = 10 * time.Second

// handleEvents serves the event stream for one session id. A WebSocket upgrade on the same
// path carries the stream and also accepts client events; everything else gets SSE.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	audio, _ := strconv.ParseBool(r.URL.Query().Get("is_audio"))

	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r, sessionID, audio)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, messages.NewErrorPayload(messages.ErrCodeSessionFailed, "streaming unsupported"))
		return
	}

	cs, err := s.sessionManager.CreateSession(r.Context(), sessionID, audio)
	if err != nil {
		log.Error().Err(err).Str("component", "server").Str("session_id", sessionID).Msg("failed to create session")
		writeJSON(w, createStatus(err), messages.NewErrorPayload(messages.ErrCodeSessionFailed, err.Error()))
		return
	}
	defer s.sessionManager.RemoveSession(context.WithoutCancel(r.Context()), cs)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Info().Str("component", "server").Str("session_id", sessionID).Bool("audio", audio).Msg("event stream opened")

	keepalive := time.NewTicker(s.keepAlivePeriod())
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info().Str("component", "server").Str("session_id", sessionID).Msg("client disconnected")
			return

		case <-cs.CloseChan:
			log.Info().Str("component", "server").Str("session_id", sessionID).Msg("session closed, ending stream")
			return

		case frame := <-cs.Frames():
			data, err := sonic.Marshal(frame)
			if err != nil {
				log.Error().Err(err).Str("component", "server").Str("session_id", sessionID).Msg("failed to encode frame")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, sessionID string, audio bool) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "server").Str("session_id", sessionID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := context.WithoutCancel(r.Context())
	cs, err := s.sessionManager.CreateSession(ctx, sessionID, audio)
	if err != nil {
		log.Error().Err(err).Str("component", "server").Str("session_id", sessionID).Msg("failed to create session")
		_ = conn.WriteJSON(messages.NewErrorPayload(messages.ErrCodeSessionFailed, err.Error()))
		return
	}
	defer s.sessionManager.RemoveSession(ctx, cs)

	log.Info().Str("component", "server").Str("session_id", sessionID).Bool("audio", audio).Msg("websocket stream opened")

	// the read pump ends the session when the client goes away
	go s.readPump(ctx, conn, cs)

	keepalive := time.NewTicker(s.keepAlivePeriod())
	defer keepalive.Stop()

	for {
		select {
		case <-cs.CloseChan:
			deadline := time.Now().Add(wsWriteWait)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return

		case frame := <-cs.Frames():
			data, err := sonic.Marshal(frame)
			if err != nil {
				log.Error().Err(err).Str("component", "server").Str("session_id", sessionID).Msg("failed to encode frame")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("component", "server").Str("session_id", sessionID).Msg("websocket write failed")
				return
			}

		case <-keepalive.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump forwards client events from the socket to the session
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, cs *session.ClientSession) {
	defer func() { _ = cs.Close() }()

	conn.SetReadLimit(maxEventBody)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("component", "server").Str("session_id", cs.ID).Msg("websocket read error")
			}
			return
		}

		var ev messages.OutboundEvent
		if err := sonic.Unmarshal(data, &ev); err != nil || ev.MimeType == "" {
			log.Warn().Str("component", "server").Str("session_id", cs.ID).Msg("dropping malformed client event")
			continue
		}
		if err := cs.Send(ctx, ev); err != nil {
			log.Warn().Err(err).Str("component", "server").Str("session_id", cs.ID).Str("mime_type", ev.MimeType).Msg("failed to forward client event")
		}
	}
}

func (s *Server) keepAlivePeriod() time.Duration {
	if s.config.KeepAlivePeriod > 0 {
		return s.config.KeepAlivePeriod
	}
	return 15 * time.Second
}

func createStatus(err error) int {
	if errors.Is(err, session.ErrMaxSessions) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}
