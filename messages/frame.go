package messages

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// ErrUnclassifiable is returned for payloads that are valid JSON but match no frame kind.
var ErrUnclassifiable = errors.New("unclassifiable frame")

// FrameKind tags the decoded Frame variant.
type FrameKind int

const (
	KindText FrameKind = iota + 1
	KindAudio
	KindData
	KindControl
)

func (k FrameKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAudio:
		return "audio"
	case KindData:
		return "data"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Frame is one decoded unit pushed over the streaming connection.
// Only the fields belonging to Kind are meaningful.
type Frame struct {
	Kind FrameKind

	// KindText
	Role string
	Text string

	// KindAudio
	PCM []byte

	// KindData
	Payload json.RawMessage

	// KindControl
	TurnComplete bool
	Interrupted  bool
}

type inboundFrame struct {
	MimeType     string          `json:"mime_type"`
	Role         string          `json:"role"`
	Data         json.RawMessage `json:"data"`
	TurnComplete *bool           `json:"turn_complete"`
	Interrupted  *bool           `json:"interrupted"`
}

// DecodeFrame classifies a JSON payload into exactly one Frame kind.
func DecodeFrame(payload []byte) (Frame, error) {
	var in inboundFrame
	if err := sonic.Unmarshal(payload, &in); err != nil {
		return Frame{}, errors.Wrap(err, "decode frame")
	}

	switch {
	case in.MimeType == MimeText:
		text, err := stringData(in.Data)
		if err != nil {
			return Frame{}, errors.Wrap(err, "text frame")
		}
		return Frame{Kind: KindText, Role: in.Role, Text: text}, nil

	case IsAudioMime(in.MimeType):
		encoded, err := stringData(in.Data)
		if err != nil {
			return Frame{}, errors.Wrap(err, "audio frame")
		}
		pcm, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return Frame{}, errors.Wrap(err, "audio frame base64")
		}
		return Frame{Kind: KindAudio, PCM: pcm}, nil

	case in.MimeType == MimeJSON:
		return Frame{Kind: KindData, Payload: append(json.RawMessage(nil), in.Data...)}, nil

	case in.MimeType != "":
		return Frame{}, errors.Wrapf(ErrUnclassifiable, "mime type %q", in.MimeType)
	}

	turnComplete := in.TurnComplete != nil && *in.TurnComplete
	interrupted := in.Interrupted != nil && *in.Interrupted
	if !turnComplete && !interrupted {
		return Frame{}, ErrUnclassifiable
	}
	return Frame{Kind: KindControl, TurnComplete: turnComplete, Interrupted: interrupted}, nil
}

// stringData unwraps a JSON string; a missing value decodes as "".
func stringData(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	var s string
	if err := sonic.UnmarshalString(trimmed, &s); err != nil {
		return "", errors.Wrap(err, "data is not a string")
	}
	return s, nil
}
