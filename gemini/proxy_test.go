package gemini

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestProxy_HandleResponseOrder(t *testing.T) {
	var events []string
	gp := &Proxy{
		OnText:        func(text string) { events = append(events, "text:"+text) },
		OnAudio:       func(data []byte) { events = append(events, "audio") },
		OnTranscript:  func(text string) { events = append(events, "transcript:"+text) },
		OnComplete:    func() { events = append(events, "complete") },
		OnInterrupted: func() { events = append(events, "interrupted") },
		OnToolCall: func(calls []*genai.FunctionCall) {
			events = append(events, "tool:"+calls[0].Name)
		},
	}

	gp.handleResponse(&genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{{Name: "search_products"}}},
	})
	gp.handleResponse(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{Text: "Hello"},
				{InlineData: &genai.Blob{MIMEType: "audio/pcm", Data: []byte{1, 2}}},
				{InlineData: &genai.Blob{MIMEType: "audio/pcm"}},
			}},
			OutputTranscription: &genai.Transcription{Text: "Hello"},
			TurnComplete:        true,
		},
	})
	gp.handleResponse(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{Interrupted: true},
	})
	gp.handleResponse(&genai.LiveServerMessage{})

	require.Equal(t, []string{
		"tool:search_products",
		"text:Hello",
		"audio",
		"transcript:Hello",
		"complete",
		"interrupted",
	}, events)
}

func TestProxy_SendBeforeSetup(t *testing.T) {
	gp := &Proxy{}
	require.Error(t, gp.SendText("hi"))
	require.Error(t, gp.SendBlob("image/png", []byte("png")))
	require.NoError(t, gp.SendAudio(nil))
}
