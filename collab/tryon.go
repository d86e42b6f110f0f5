package collab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	GarmentUpperBody = "upper_body"
	GarmentLowerBody = "lower_body"
)

type Garment struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Image       string  `json:"image"`
	Category    string  `json:"category,omitempty"`
	Price       float64 `json:"price,omitempty"`
	GarmentType string  `json:"garment_type"`
}

// SelectGarment adds g, replacing any garment of the same type.
func SelectGarment(selected []Garment, g Garment) []Garment {
	out := make([]Garment, 0, len(selected)+1)
	replaced := false
	for _, s := range selected {
		if s.GarmentType == g.GarmentType {
			out = append(out, g)
			replaced = true
			continue
		}
		out = append(out, s)
	}
	if !replaced {
		out = append(out, g)
	}
	return out
}

// RemoveGarment drops the garment of the given type.
func RemoveGarment(selected []Garment, garmentType string) []Garment {
	out := make([]Garment, 0, len(selected))
	for _, s := range selected {
		if s.GarmentType != garmentType {
			out = append(out, s)
		}
	}
	return out
}

type Garments struct {
	UpperBody *string `json:"upper_body"`
	LowerBody *string `json:"lower_body"`
}

type TryOnRequest struct {
	ModelImage       string    `json:"model_image"`
	Garments         Garments  `json:"garments"`
	SelectedGarments []Garment `json:"selected_garments"`
}

// NewTryOnRequest builds the webhook payload from the model photo URL and the selection.
func NewTryOnRequest(modelImage string, selected []Garment) TryOnRequest {
	req := TryOnRequest{ModelImage: modelImage, SelectedGarments: selected}
	for i := range selected {
		image := selected[i].Image
		if image == "" {
			continue
		}
		switch selected[i].GarmentType {
		case GarmentUpperBody:
			if req.Garments.UpperBody == nil {
				req.Garments.UpperBody = &image
			}
		case GarmentLowerBody:
			if req.Garments.LowerBody == nil {
				req.Garments.LowerBody = &image
			}
		}
	}
	if req.SelectedGarments == nil {
		req.SelectedGarments = []Garment{}
	}
	return req
}

// TryOnResult is the interpreted webhook reply. Image is empty when the workflow returned no
// recognised image field; LocalPreview then tells the caller to fall back to a local composite.
type TryOnResult struct {
	Image        string
	Status       string
	Error        string
	LocalPreview bool
	Raw          map[string]any
}

// Webhook posts try-on requests to a workflow automation endpoint.
type Webhook struct {
	endpoint string
	client   *http.Client
}

func NewWebhook(endpoint string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Webhook{endpoint: endpoint, client: client}
}

// TryOn submits req and interprets the reply. Transport failures and non-2xx statuses are
// returned as errors.
func (w *Webhook) TryOn(ctx context.Context, req TryOnRequest) (*TryOnResult, error) {
	if req.ModelImage == "" {
		return nil, errors.New("model image is required")
	}
	if len(req.SelectedGarments) == 0 {
		return nil, errors.New("select at least one garment to try on")
	}

	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode try-on request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create webhook request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "webhook request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("webhook failed: %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read webhook response")
	}
	var data map[string]any
	if err := sonic.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, "decode webhook response")
	}
	return InterpretTryOn(data), nil
}

// InterpretTryOn maps a webhook reply onto a TryOnResult.
func InterpretTryOn(data map[string]any) *TryOnResult {
	res := &TryOnResult{Raw: data}
	if image, ok := ExtractResultImage(data); ok {
		res.Image = image
		res.Status = "Try-on completed successfully! Generated image displayed."
		return res
	}

	log.Warn().
		Str("component", "collab").
		Strs("keys", sortedKeys(data)).
		Msg("try-on response has no recognised image field")

	res.LocalPreview = true
	switch {
	case truthy(data["success"]):
		res.Status = "Try-on completed successfully! Check the response details below."
	case data["status"] == "processing":
		res.Status = "Processing your try-on request... This may take a few moments."
	case truthy(data["error"]):
		res.Error = fmt.Sprintf("Try-on failed: %v", data["error"])
	case truthy(data["message"]):
		res.Status = fmt.Sprint(data["message"])
	default:
		res.Status = "Try-on request processed. Check response details below."
	}
	return res
}

// resultImagePaths is the documented lookup order for the generated image.
var resultImagePaths = [][]string{
	{"result_image"},
	{"image_url"},
	{"generated_image"},
	{"output_image"},
	{"try_on_result"},
	{"data", "image"},
	{"result", "image"},
}

// ExtractResultImage returns the first non-empty string found along resultImagePaths.
func ExtractResultImage(data map[string]any) (string, bool) {
	for _, path := range resultImagePaths {
		if s, ok := lookupString(data, path); ok {
			return s, true
		}
	}
	return "", false
}

func lookupString(data map[string]any, path []string) (string, bool) {
	var cur any = data
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur = m[key]
	}
	s, ok := cur.(string)
	return s, ok && s != ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
