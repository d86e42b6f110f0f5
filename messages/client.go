package messages

import (
	"encoding/base64"
	"strings"
)

// Mime types understood on both directions of the session.
const (
	MimeText  = "text/plain"
	MimeAudio = "audio/pcm"
	MimeJSON  = "application/json"
)

// OutboundEvent is one client-to-server message posted to the ingress endpoint.
type OutboundEvent struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // plain text for text/plain, base64 otherwise
}

// NewTextEvent creates a text/plain event
func NewTextEvent(text string) OutboundEvent {
	return OutboundEvent{MimeType: MimeText, Data: text}
}

// NewAudioEvent creates an audio/pcm event from raw 16-bit PCM
func NewAudioEvent(pcm []byte) OutboundEvent {
	return OutboundEvent{MimeType: MimeAudio, Data: base64.StdEncoding.EncodeToString(pcm)}
}

// NewBinaryEvent creates an event carrying arbitrary bytes under the given media type
func NewBinaryEvent(mimeType string, data []byte) OutboundEvent {
	return OutboundEvent{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}
}

// IsText reports whether Data is plain text rather than base64.
func (e OutboundEvent) IsText() bool {
	return e.MimeType == MimeText
}

// Bytes decodes Data for binary mime types.
func (e OutboundEvent) Bytes() ([]byte, error) {
	if e.IsText() {
		return []byte(e.Data), nil
	}
	return base64.StdEncoding.DecodeString(e.Data)
}

// IsAudioMime matches audio/pcm with or without parameters ("audio/pcm;rate=16000").
func IsAudioMime(mimeType string) bool {
	return mimeType == MimeAudio || strings.HasPrefix(mimeType, MimeAudio+";")
}

// IsImageMime matches image/* media types.
func IsImageMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}
