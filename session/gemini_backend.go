package session

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/room4-2/shopchat/functions"
	"github.com/room4-2/shopchat/gemini"
	"github.com/room4-2/shopchat/messages"
)

// modelRole is the role stamped on model text frames
const modelRole = "model"

// GeminiOptions configures the Gemini Live backend
type GeminiOptions struct {
	APIKey       string
	Model        string
	SystemPrompt string
	Catalog      *functions.Catalog
}

func buildTools() []*genai.Tool {
	return []*genai.Tool{
		{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				functions.SearchProductsDeclaration(),
				functions.StoreInformationDeclaration(),
			},
		},
	}
}

// NewGeminiBackendFactory opens one Gemini Live session per client session
func NewGeminiBackendFactory(opts GeminiOptions) BackendFactory {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Catalog == nil {
		opts.Catalog = functions.DefaultCatalog()
	}

	return func(ctx context.Context, cs *ClientSession) (Backend, error) {
		proxy, err := gemini.NewProxy(ctx, opts.APIKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Gemini proxy")
		}

		if err := proxy.Setup(ctx, gemini.SessionOptions{
			Model:        opts.Model,
			SystemPrompt: opts.SystemPrompt,
			Tools:        buildTools(),
			Audio:        cs.Audio,
		}); err != nil {
			_ = proxy.Close()
			return nil, errors.Wrap(err, "failed to setup Gemini session")
		}

		tools := &toolHandler{catalog: opts.Catalog, emit: cs.Emit, responder: proxy, sessionID: cs.ID}
		setupGeminiCallbacks(proxy, cs, tools)
		proxy.StartReceiving(ctx)
		return proxy, nil
	}
}

// setupGeminiCallbacks turns model output into wire frames
func setupGeminiCallbacks(proxy *gemini.Proxy, cs *ClientSession, tools *toolHandler) {
	proxy.OnText = func(text string) {
		cs.Emit(messages.NewTextFrame(modelRole, text))
	}

	// in audio mode the transcript of the spoken reply is the text channel
	proxy.OnTranscript = func(text string) {
		cs.Emit(messages.NewTextFrame(modelRole, text))
	}

	proxy.OnAudio = func(data []byte) {
		cs.Emit(messages.NewAudioFrame(base64.StdEncoding.EncodeToString(data)))
	}

	proxy.OnComplete = func() {
		cs.Emit(messages.NewTurnCompleteFrame())
	}

	proxy.OnInterrupted = func() {
		cs.Emit(messages.NewInterruptedFrame())
	}

	proxy.OnToolCall = tools.handle

	proxy.OnError = cs.Fail
}

type toolResponder interface {
	SendToolResponse(responses []*genai.FunctionResponse) error
}

// toolHandler answers function calls; product matches are also pushed to the client as a
// structured frame
type toolHandler struct {
	catalog   *functions.Catalog
	emit      func(*messages.WireFrame)
	responder toolResponder
	sessionID string
}

func (h *toolHandler) handle(functionCalls []*genai.FunctionCall) {
	var responses []*genai.FunctionResponse

	for _, fc := range functionCalls {
		log.Debug().Str("component", "session").Str("session_id", h.sessionID).Str("function", fc.Name).Str("call_id", fc.ID).Msg("function call")

		var response map[string]any

		switch fc.Name {
		case functions.SearchProductsName:
			query, _ := fc.Args["query"].(string)
			category, _ := fc.Args["category"].(string)
			products := h.catalog.Search(query, category, 0)
			h.emit(messages.NewDataFrame(products))

			summary := make([]map[string]any, 0, len(products))
			for _, p := range products {
				summary = append(summary, map[string]any{"name": p.Name, "price": p.Price, "brand": p.Brand})
			}
			response = map[string]any{"status": "ok", "products": summary}

		case functions.StoreInformationName:
			response = map[string]any{"output": functions.StoreInformation()}

		default:
			response = map[string]any{"error": fmt.Sprintf("Unknown function: %s", fc.Name)}
			log.Warn().Str("component", "session").Str("session_id", h.sessionID).Str("function", fc.Name).Msg("unknown function called")
		}

		responses = append(responses, &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: response,
		})
	}

	if err := h.responder.SendToolResponse(responses); err != nil {
		log.Error().Err(err).Str("component", "session").Str("session_id", h.sessionID).Msg("failed to send tool response")
	}
}
