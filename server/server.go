// Package server is the reference backend: it streams model output to clients over SSE or a
// WebSocket and accepts their events, uploads and health probes over plain HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/shopchat/config"
	"github.com/room4-2/shopchat/session"
)

// maxEventBody bounds a posted event; images are the largest payload
const maxEventBody = 16 << 20

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
}

func NewServer(cfg *config.Config, sessionManager *session.Manager) *Server {
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024, // 64KB for audio chunks
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// no WriteTimeout: event streams stay open
	}

	return s
}

// Handler returns the routed and CORS-wrapped handler
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Path("/events/{sessionId}").Methods("GET").HandlerFunc(s.handleEvents)
	r.Path("/send/{sessionId}").Methods("POST").HandlerFunc(s.handleSend)
	r.Path("/upload-image").Methods("POST").HandlerFunc(s.handleUpload)
	r.Path("/health").Methods("GET").HandlerFunc(s.handleHealth)
	r.PathPrefix("/uploads/").Methods("GET").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.config.UploadDir))),
	)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.config.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(cors(r))
}

// Start begins listening for connections
func (s *Server) Start() error {
	if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
		return err
	}
	log.Info().Str("component", "server").Int("port", s.config.Port).Msg("server starting")
	log.Info().Str("component", "server").Msgf("event stream endpoint: http://localhost:%d/events/{session_id}", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Str("component", "server").Msg("shutting down server")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessionManager.GetActiveSessionCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := sonic.Marshal(body)
	if err != nil {
		log.Error().Err(err).Str("component", "server").Msg("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
