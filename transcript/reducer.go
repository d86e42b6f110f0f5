package transcript

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/room4-2/shopchat/messages"
)

// Effect carries what a frame means outside the transcript.
type Effect struct {
	TurnStarted  bool
	TurnComplete bool
	Interrupted  bool
	Audio        []byte
	Structured   json.RawMessage
}

// Reducer applies frames to a transcript. Its only impurity is the injected id and clock.
type Reducer struct {
	NewID       func() string
	Now         func() time.Time
	DefaultRole Role
}

// NewReducer returns a reducer using random ids, wall-clock timestamps and defaultRole for
// frames without a recognised role.
func NewReducer(defaultRole Role) *Reducer {
	if defaultRole == "" {
		defaultRole = RoleAssistant
	}
	return &Reducer{
		NewID:       uuid.NewString,
		Now:         time.Now,
		DefaultRole: defaultRole,
	}
}

// Apply folds one frame into t.
func (r *Reducer) Apply(t Transcript, f messages.Frame) (Transcript, Effect) {
	switch f.Kind {
	case messages.KindText:
		return r.applyText(t, f)
	case messages.KindControl:
		eff := Effect{TurnComplete: f.TurnComplete, Interrupted: f.Interrupted}
		if f.TurnComplete {
			t.OpenTurnID = ""
		}
		return t, eff
	case messages.KindData:
		return t, Effect{Structured: f.Payload}
	case messages.KindAudio:
		return t, Effect{Audio: f.PCM}
	default:
		return t, Effect{}
	}
}

func (r *Reducer) applyText(t Transcript, f messages.Frame) (Transcript, Effect) {
	role := ParseRole(f.Role, r.DefaultRole)

	if last, ok := t.Last(); ok && t.OpenTurnID != "" && last.ID == t.OpenTurnID && last.Role == role {
		out := t.clone(0)
		last.Content += f.Text
		out.Messages[len(out.Messages)-1] = last
		return out, Effect{}
	}

	msg := ChatMessage{
		ID:        r.NewID(),
		Role:      role,
		Content:   f.Text,
		Timestamp: r.Now(),
		Kind:      KindText,
	}
	out := t.clone(1)
	out.Messages = append(out.Messages, msg)
	out.OpenTurnID = msg.ID
	return out, Effect{TurnStarted: true}
}
