package messages

// Error codes returned in HTTP error bodies
const (
	ErrCodeInvalidMessage  = "INVALID_MESSAGE"
	ErrCodeUnsupportedMime = "UNSUPPORTED_MIME"
	ErrCodeGeminiError     = "GEMINI_ERROR"
	ErrCodeSessionFailed   = "SESSION_FAILED"
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrCodeUploadFailed    = "UPLOAD_FAILED"
)

// WireFrame is the server-to-client message pushed on the event stream.
// Exactly one of the mime_type group or the control flags is set.
type WireFrame struct {
	MimeType     string `json:"mime_type,omitempty"`
	Role         string `json:"role,omitempty"`
	Data         any    `json:"data,omitempty"`
	TurnComplete bool   `json:"turn_complete,omitempty"`
	Interrupted  bool   `json:"interrupted,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewTextFrame creates a text delta frame
func NewTextFrame(role, text string) *WireFrame {
	return &WireFrame{
		MimeType: MimeText,
		Role:     role,
		Data:     text,
	}
}

// NewAudioFrame creates an audio frame from already base64-encoded PCM
func NewAudioFrame(base64Data string) *WireFrame {
	return &WireFrame{
		MimeType: MimeAudio,
		Data:     base64Data,
	}
}

// NewDataFrame creates a structured-data frame
func NewDataFrame(payload any) *WireFrame {
	return &WireFrame{
		MimeType: MimeJSON,
		Data:     payload,
	}
}

// NewTurnCompleteFrame creates the control frame closing the current turn
func NewTurnCompleteFrame() *WireFrame {
	return &WireFrame{TurnComplete: true}
}

// NewInterruptedFrame creates the control frame telling clients to drop pending playback
func NewInterruptedFrame() *WireFrame {
	return &WireFrame{Interrupted: true}
}

// NewErrorPayload creates an error body
func NewErrorPayload(code, message string) *ErrorPayload {
	return &ErrorPayload{
		Code:    code,
		Message: message,
	}
}
