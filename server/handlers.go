package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/shopchat/messages"
	"github.com/room4-2/shopchat/session"
)

const maxUploadMemory = 32 << 20

var extPattern = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// handleSend accepts one client event for an open session
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	cs, ok := s.sessionManager.GetSession(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, messages.NewErrorPayload(messages.ErrCodeSessionNotFound, "Session not found"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, messages.NewErrorPayload(messages.ErrCodeInvalidMessage, err.Error()))
		return
	}

	var ev messages.OutboundEvent
	if err := sonic.Unmarshal(body, &ev); err != nil || ev.MimeType == "" {
		writeJSON(w, http.StatusBadRequest, messages.NewErrorPayload(messages.ErrCodeInvalidMessage, "body must be {mime_type, data}"))
		return
	}

	if err := cs.Send(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, session.ErrUnsupportedMime):
			writeJSON(w, http.StatusUnsupportedMediaType, messages.NewErrorPayload(messages.ErrCodeUnsupportedMime, err.Error()))
		case errors.Is(err, session.ErrSessionClosed):
			writeJSON(w, http.StatusNotFound, messages.NewErrorPayload(messages.ErrCodeSessionNotFound, err.Error()))
		default:
			log.Error().Err(err).Str("component", "server").Str("session_id", sessionID).Msg("failed to forward event")
			writeJSON(w, http.StatusBadGateway, messages.NewErrorPayload(messages.ErrCodeGeminiError, err.Error()))
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// handleUpload stores an image under UploadDir and returns its public URL
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid multipart form", "details": err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing 'file' in form-data"})
		return
	}
	defer file.Close()

	name := uuid.NewString() + uploadExt(header.Filename)
	size, err := s.saveUpload(name, file)
	if err != nil {
		log.Error().Err(err).Str("component", "server").Str("file", header.Filename).Msg("failed to store upload")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Upload failed", "details": err.Error()})
		return
	}

	path := "/uploads/" + name
	log.Info().Str("component", "server").Str("name", name).Int64("size", size).Msg("image uploaded")

	writeJSON(w, http.StatusOK, map[string]any{
		"url":  s.publicBase(r) + path,
		"path": path,
		"name": name,
		"size": size,
	})
}

func (s *Server) saveUpload(name string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
		return 0, errors.Wrap(err, "create upload dir")
	}

	dst, err := os.Create(filepath.Join(s.config.UploadDir, name))
	if err != nil {
		return 0, errors.Wrap(err, "create upload file")
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return n, errors.Wrap(err, "write upload file")
	}
	return n, nil
}

// uploadExt keeps a short alphanumeric extension and falls back to .jpg
func uploadExt(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !extPattern.MatchString(ext) {
		ext = "jpg"
	}
	return "." + ext
}

func (s *Server) publicBase(r *http.Request) string {
	if s.config.PublicURL != "" {
		return strings.TrimRight(s.config.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}
