// Package cloud talks to a generation service over plain JSON/HTTP, as an
// alternative to the Gemini backend.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelkit/reel-agent/internal/assets"
	"github.com/reelkit/reel-agent/internal/breakdown"
	"github.com/reelkit/reel-agent/internal/generation"
	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/media"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

const (
	maxErrorBody    = 4096
	maxMediaBody    = 256 << 20
	maxDocumentBody = 8 << 20
)

// GatewayError represents a non-2xx answer from the generation service.
type GatewayError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("generation service %s failed: HTTP %d: %s", e.Path, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *GatewayError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// HTTPClient implements generation.Gateway and breakdown.Analyzer against
// the service at baseURL.
type HTTPClient struct {
	baseURL    string
	token      string
	store      *assets.Store
	httpClient *http.Client
	logger     *slog.Logger
}

var (
	_ generation.Gateway = (*HTTPClient)(nil)
	_ breakdown.Analyzer = (*HTTPClient)(nil)
)

// NewHTTPClient builds a client. token is sent when a call carries no
// credential of its own.
func NewHTTPClient(baseURL, token string, store *assets.Store, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		store:   store,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		logger: logging.WithComponent(logging.OrDiscard(logger), "cloud"),
	}
}

func (c *HTTPClient) Image(ctx context.Context, cred generation.Credential, req generation.ImageRequest) (storyboard.ImageRef, error) {
	var resp MediaResponse
	err := c.post(ctx, "/v1/images", cred, ImagePayload{
		ShotID:      req.ShotID,
		Model:       req.Model,
		Prompt:      generation.ComposeImagePrompt(req),
		AspectRatio: req.AspectRatio,
	}, &resp)
	if err != nil {
		return storyboard.ImageRef{}, err
	}

	ref := storyboard.ImageRef{MIMEType: resp.MIMEType, Model: req.Model, URI: resp.URI}
	if ref.Asset, ref.SizeBytes, err = c.keep(req.ShotID, "image", resp); err != nil {
		return storyboard.ImageRef{}, err
	}
	return ref, nil
}

func (c *HTTPClient) Video(ctx context.Context, cred generation.Credential, req generation.VideoRequest) (storyboard.VideoRef, error) {
	image := InlineMedia{MIMEType: req.Image.MIMEType, URI: req.Image.URI}
	if req.Image.Asset != "" {
		data, err := c.store.Read(req.Image.Asset)
		if err != nil {
			return storyboard.VideoRef{}, fmt.Errorf("read source image: %w", err)
		}
		image.Data = data
	}

	var resp MediaResponse
	err := c.post(ctx, "/v1/videos", cred, VideoPayload{
		ShotID:      req.ShotID,
		Model:       req.Model,
		Prompt:      req.Description,
		AspectRatio: req.AspectRatio,
		Image:       image,
	}, &resp)
	if err != nil {
		return storyboard.VideoRef{}, err
	}

	ref := storyboard.VideoRef{MIMEType: resp.MIMEType, Model: req.Model, URI: resp.URI, SourceImage: req.Image.Location()}
	if ref.Asset, ref.SizeBytes, err = c.keep(req.ShotID, "video", resp); err != nil {
		return storyboard.VideoRef{}, err
	}
	return ref, nil
}

// keep stores inline bytes. A URI-only response is left remote.
func (c *HTTPClient) keep(shotID, kind string, resp MediaResponse) (string, int64, error) {
	if len(resp.Data) == 0 {
		if resp.URI == "" {
			return "", 0, fmt.Errorf("%s response has neither data nor uri", kind)
		}
		return "", 0, nil
	}
	if resp.MIMEType == "" {
		return "", 0, fmt.Errorf("%s response has no mime_type", kind)
	}
	name, err := c.store.Save(shotID, kind, resp.MIMEType, resp.Data)
	if err != nil {
		return "", 0, fmt.Errorf("save %s: %w", kind, err)
	}
	return name, int64(len(resp.Data)), nil
}

func (c *HTTPClient) AnalyzeFrames(ctx context.Context, frames []media.Frame, prompt breakdown.Prompt, model string) ([]byte, error) {
	payload := BreakdownPayload{Model: model, System: prompt.System, Prompt: prompt.User}
	for _, f := range frames {
		payload.Frames = append(payload.Frames, FramePayload{
			TimestampSeconds: f.TimestampSeconds,
			InlineMedia:      InlineMedia{MIMEType: f.Payload.MIMEType, Data: f.Payload.Data},
		})
	}
	var raw json.RawMessage
	if err := c.post(ctx, "/v1/breakdown", generation.Credential{}, payload, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *HTTPClient) AnalyzeReference(ctx context.Context, url string, prompt breakdown.Prompt, model string) ([]byte, error) {
	var raw json.RawMessage
	err := c.post(ctx, "/v1/breakdown", generation.Credential{}, BreakdownPayload{
		Model:        model,
		System:       prompt.System,
		Prompt:       prompt.User,
		ReferenceURL: url,
	}, &raw)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, cred generation.Credential, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reel-Request-Id", requestID)
	if token := c.bearer(cred); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("calling generation service",
		"url", logging.SanitizeURL(url),
		"request_id", requestID,
		"body_bytes", len(body),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &GatewayError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	limit := int64(maxMediaBody)
	if _, ok := out.(*json.RawMessage); ok {
		limit = maxDocumentBody
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if int64(len(data)) > limit {
		return fmt.Errorf("%s response exceeds %d bytes", path, limit)
	}
	// The breakdown document is passed through untouched for normalization.
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = data
	} else if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	c.logger.Info("generation service call succeeded",
		"path", path,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (c *HTTPClient) bearer(cred generation.Credential) string {
	if !cred.IsZero() {
		return cred.APIKey
	}
	return c.token
}
