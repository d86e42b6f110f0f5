// Package transcript folds streamed frames into an ordered chat transcript.
package transcript

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole maps a wire role onto a transcript role. Unknown or empty roles yield fallback.
func ParseRole(wire string, fallback Role) Role {
	switch strings.ToLower(strings.TrimSpace(wire)) {
	case "model", "assistant":
		return RoleAssistant
	case "system":
		return RoleSystem
	case "user":
		return RoleUser
	default:
		return fallback
	}
}

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// ChatMessage is one transcript entry.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
}

// Transcript is the ordered message list plus the id of the message still receiving deltas.
// Values are treated as immutable: every writer returns a new Transcript.
type Transcript struct {
	Messages   []ChatMessage
	OpenTurnID string
}

// Append adds a locally created message. It closes any open turn so later deltas start a new
// entry below it.
func (t Transcript) Append(msg ChatMessage) Transcript {
	out := t.clone(1)
	out.Messages = append(out.Messages, msg)
	out.OpenTurnID = ""
	return out
}

func (t Transcript) Len() int {
	return len(t.Messages)
}

// Last returns the newest entry, if any.
func (t Transcript) Last() (ChatMessage, bool) {
	if len(t.Messages) == 0 {
		return ChatMessage{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

func (t Transcript) clone(extra int) Transcript {
	msgs := make([]ChatMessage, len(t.Messages), len(t.Messages)+extra)
	copy(msgs, t.Messages)
	return Transcript{Messages: msgs, OpenTurnID: t.OpenTurnID}
}
