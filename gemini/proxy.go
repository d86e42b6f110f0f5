package gemini

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultModel is used when the configuration leaves the model empty
const DefaultModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"

// inputAudioMime is the PCM format the Live API expects from the microphone
const inputAudioMime = "audio/pcm;rate=16000"

// SessionOptions configures one Live session
type SessionOptions struct {
	Model        string
	SystemPrompt string
	Tools        []*genai.Tool
	// Audio selects spoken responses; otherwise the model answers in text
	Audio bool
	Voice string
}

// Proxy manages the connection to Gemini Live API using the official SDK
type Proxy struct {
	client  *genai.Client
	session *genai.Session
	model   string

	// Callbacks for handling responses
	OnAudio       func(data []byte)
	OnText        func(text string)
	OnTranscript  func(text string) // spoken reply transcription in audio mode
	OnComplete    func()
	OnInterrupted func()
	OnToolCall    func(functionCalls []*genai.FunctionCall)
	OnError       func(err error)

	mu     sync.RWMutex
	closed bool
}

// NewProxy creates a GenAI client; Setup opens the Live session
func NewProxy(ctx context.Context, apiKey string) (*Proxy, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GenAI client")
	}

	return &Proxy{
		client: client,
	}, nil
}

// Setup establishes the Live session
func (gp *Proxy) Setup(ctx context.Context, opts SessionOptions) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return errors.New("proxy is closed")
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityText},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: opts.SystemPrompt},
			},
		},
		Tools: opts.Tools,
	}
	if opts.Audio {
		voice := opts.Voice
		if voice == "" {
			voice = "Zephyr"
		}
		config.ResponseModalities = []genai.Modality{genai.ModalityAudio}
		config.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: voice,
				},
			},
		}
	}

	session, err := gp.client.Live.Connect(ctx, model, config)
	if err != nil {
		return errors.Wrap(err, "failed to connect to Live API")
	}

	gp.session = session
	gp.model = model
	log.Info().Str("component", "gemini").Str("model", model).Bool("audio", opts.Audio).Msg("connected to Gemini Live")
	return nil
}

// StartReceiving begins listening for Gemini responses
func (gp *Proxy) StartReceiving(ctx context.Context) {
	go func() {
		for {
			gp.mu.RLock()
			if gp.closed || gp.session == nil {
				gp.mu.RUnlock()
				return
			}
			session := gp.session
			gp.mu.RUnlock()

			// Receive blocks until a message arrives or the session fails
			resp, err := session.Receive()
			if err != nil {
				gp.mu.RLock()
				closed := gp.closed
				gp.mu.RUnlock()

				if !closed {
					log.Error().Err(err).Str("component", "gemini").Msg("receive failed")
					if gp.OnError != nil {
						gp.OnError(err)
					}
				}
				return
			}

			gp.handleResponse(resp)
		}
	}()
}

func (gp *Proxy) handleResponse(resp *genai.LiveServerMessage) {
	if resp.ToolCall != nil && len(resp.ToolCall.FunctionCalls) > 0 {
		log.Debug().Str("component", "gemini").Int("calls", len(resp.ToolCall.FunctionCalls)).Msg("received function calls")
		if gp.OnToolCall != nil {
			gp.OnToolCall(resp.ToolCall.FunctionCalls)
		}
	}

	content := resp.ServerContent
	if content == nil {
		return
	}

	if content.Interrupted {
		log.Debug().Str("component", "gemini").Msg("generation interrupted")
		if gp.OnInterrupted != nil {
			gp.OnInterrupted()
		}
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.Text != "" && gp.OnText != nil {
				gp.OnText(part.Text)
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 && gp.OnAudio != nil {
				gp.OnAudio(part.InlineData.Data)
			}
		}
	}

	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" && gp.OnTranscript != nil {
		gp.OnTranscript(content.OutputTranscription.Text)
	}

	if content.TurnComplete {
		log.Debug().Str("component", "gemini").Msg("turn complete")
		if gp.OnComplete != nil {
			gp.OnComplete()
		}
	}
}

func (gp *Proxy) current() (*genai.Session, error) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	if gp.closed || gp.session == nil {
		return nil, errors.New("proxy is closed or not connected")
	}
	return gp.session, nil
}

// SendAudio streams a 16 kHz PCM chunk as realtime input
func (gp *Proxy) SendAudio(audioData []byte) error {
	if len(audioData) == 0 {
		return nil
	}
	session, err := gp.current()
	if err != nil {
		return err
	}

	err = session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: inputAudioMime,
			Data:     audioData,
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to send audio")
	}
	log.Trace().Str("component", "gemini").Int("bytes", len(audioData)).Msg("sent audio")
	return nil
}

// SendText sends a complete user turn
func (gp *Proxy) SendText(text string) error {
	return gp.sendTurn(&genai.Part{Text: text})
}

// SendBlob sends a binary part such as an image as a complete user turn
func (gp *Proxy) SendBlob(mimeType string, data []byte) error {
	return gp.sendTurn(&genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}})
}

func (gp *Proxy) sendTurn(parts ...*genai.Part) error {
	session, err := gp.current()
	if err != nil {
		return err
	}

	turnComplete := true
	err = session.SendClientContent(genai.LiveSendClientContentParameters{
		Turns: []*genai.Content{
			{
				Role:  "user",
				Parts: parts,
			},
		},
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return errors.Wrap(err, "failed to send client content")
	}
	log.Debug().Str("component", "gemini").Int("parts", len(parts)).Msg("sent user turn")
	return nil
}

// SendToolResponse sends function call responses back to Gemini
func (gp *Proxy) SendToolResponse(responses []*genai.FunctionResponse) error {
	session, err := gp.current()
	if err != nil {
		return err
	}

	err = session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: responses,
	})
	if err != nil {
		return errors.Wrap(err, "failed to send tool response")
	}

	log.Debug().Str("component", "gemini").Int("responses", len(responses)).Msg("sent tool responses")
	return nil
}

// Close terminates the Gemini connection
func (gp *Proxy) Close() error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return nil
	}
	gp.closed = true

	if gp.session != nil {
		return gp.session.Close()
	}
	return nil
}
