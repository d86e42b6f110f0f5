package chat

import (
	"encoding/json"

	"github.com/room4-2/shopchat/transcript"
	"github.com/room4-2/shopchat/transport"
)

// State is a snapshot of everything the presentation layer renders.
type State struct {
	SessionID  string
	AudioMode  bool
	Status     transport.Status
	Generating bool
	Transcript transcript.Transcript
	// Structured holds the latest application/json payload pushed by the backend.
	Structured json.RawMessage
	LastError  error
}

func (s State) Connected() bool {
	return s.Status == transport.StatusConnected
}

// InputEnabled is false while the assistant is producing a turn.
func (s State) InputEnabled() bool {
	return !s.Generating
}

func (s State) Messages() []transcript.ChatMessage {
	return s.Transcript.Messages
}
