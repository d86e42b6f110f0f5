// Package collab talks to the collaborators around the chat core: the image upload endpoint
// and the virtual try-on workflow webhook.
package collab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// UploadError carries the message returned by the upload endpoint.
type UploadError struct {
	StatusCode int
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed (status %d): %s", e.StatusCode, e.Message)
}

// UploadResponse is the upload endpoint's reply.
type UploadResponse struct {
	URL     string `json:"url,omitempty"`
	Path    string `json:"path,omitempty"`
	Name    string `json:"name,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// Uploader posts files to an image hosting endpoint.
type Uploader struct {
	endpoint string
	client   *http.Client
}

func NewUploader(endpoint string, client *http.Client) *Uploader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Uploader{endpoint: endpoint, client: client}
}

// Upload sends r as the multipart field "file" and returns the hosted URL.
func (u *Uploader) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", errors.Wrap(err, "create form file")
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", errors.Wrap(err, "read upload")
	}
	if err := form.Close(); err != nil {
		return "", errors.Wrap(err, "finish form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return "", errors.Wrap(err, "create upload request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "upload image")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read upload response")
	}

	var out UploadResponse
	if err := sonic.Unmarshal(raw, &out); err != nil && resp.StatusCode/100 == 2 {
		return "", errors.Wrap(err, "decode upload response")
	}

	switch {
	case out.Error != "":
		return "", &UploadError{StatusCode: resp.StatusCode, Message: out.Error}
	case resp.StatusCode/100 != 2:
		return "", &UploadError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	case out.URL == "":
		return "", &UploadError{StatusCode: resp.StatusCode, Message: "No URL returned from upload"}
	}

	log.Debug().Str("component", "collab").Str("url", out.URL).Msg("image uploaded")
	return out.URL, nil
}
