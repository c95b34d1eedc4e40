package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/reelkit/reel-agent/internal/generation"
	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

const (
	imageMIMEType = "image/png"
	videoMIMEType = "video/mp4"

	defaultVideoPrompt = "Animate this still with subtle, natural camera motion."
)

// Gateway adapts a Backend to generation.Gateway.
type Gateway struct {
	backend *Backend
}

func NewGateway(backend *Backend) *Gateway {
	return &Gateway{backend: backend}
}

var _ generation.Gateway = (*Gateway)(nil)

func (g *Gateway) Image(ctx context.Context, cred generation.Credential, req generation.ImageRequest) (storyboard.ImageRef, error) {
	b := g.backend
	client, _, err := b.client(ctx, cred)
	if err != nil {
		return storyboard.ImageRef{}, err
	}

	resp, err := client.Models.GenerateImages(ctx, req.Model, generation.ComposeImagePrompt(req), &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    req.AspectRatio,
		OutputMIMEType: imageMIMEType,
	})
	if err != nil {
		return storyboard.ImageRef{}, fmt.Errorf("generate image: %w", err)
	}
	img, err := firstImage(resp)
	if err != nil {
		return storyboard.ImageRef{}, err
	}

	mime := mimeOr(img.MIMEType, imageMIMEType)
	name, err := b.store.Save(req.ShotID, "image", mime, img.ImageBytes)
	if err != nil {
		return storyboard.ImageRef{}, fmt.Errorf("save image: %w", err)
	}
	logging.WithShotID(b.logger, req.ShotID).Info("image generated", "model", req.Model, "asset", name, "bytes", len(img.ImageBytes))

	return storyboard.ImageRef{
		Asset:     name,
		MIMEType:  mime,
		Model:     req.Model,
		SizeBytes: int64(len(img.ImageBytes)),
	}, nil
}

func (g *Gateway) Video(ctx context.Context, cred generation.Credential, req generation.VideoRequest) (storyboard.VideoRef, error) {
	b := g.backend
	client, apiKey, err := b.client(ctx, cred)
	if err != nil {
		return storyboard.VideoRef{}, err
	}

	source, err := g.sourceImage(req.Image)
	if err != nil {
		return storyboard.VideoRef{}, err
	}

	prompt := strings.TrimSpace(req.Description)
	if prompt == "" {
		prompt = defaultVideoPrompt
	}

	op, err := client.Models.GenerateVideos(ctx, req.Model, prompt, source, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		AspectRatio:    req.AspectRatio,
	})
	if err != nil {
		return storyboard.VideoRef{}, fmt.Errorf("generate video: %w", err)
	}

	logger := logging.WithShotID(b.logger, req.ShotID)
	logger.Info("video generation started", "model", req.Model, "operation", op.Name)

	op, err = pollVideo(ctx, op, b.pollInterval, func(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
		return client.Operations.GetVideosOperation(ctx, op, nil)
	})
	if err != nil {
		return storyboard.VideoRef{}, err
	}
	video, err := firstVideo(op)
	if err != nil {
		return storyboard.VideoRef{}, err
	}

	ref := storyboard.VideoRef{
		MIMEType:    mimeOr(video.MIMEType, videoMIMEType),
		Model:       req.Model,
		SourceImage: req.Image.Location(),
	}
	if len(video.VideoBytes) > 0 {
		ref.Asset, err = b.store.Save(req.ShotID, "video", ref.MIMEType, video.VideoBytes)
		ref.SizeBytes = int64(len(video.VideoBytes))
	} else {
		ref.Asset, ref.SizeBytes, err = b.download(ctx, apiKey, req.ShotID, ref.MIMEType, video.URI)
	}
	if err != nil {
		return storyboard.VideoRef{}, fmt.Errorf("save video: %w", err)
	}

	logger.Info("video generated", "model", req.Model, "asset", ref.Asset, "bytes", ref.SizeBytes)
	return ref, nil
}

func (g *Gateway) sourceImage(ref storyboard.ImageRef) (*genai.Image, error) {
	mime := mimeOr(ref.MIMEType, imageMIMEType)
	if ref.Asset != "" {
		data, err := g.backend.store.Read(ref.Asset)
		if err != nil {
			return nil, fmt.Errorf("read source image: %w", err)
		}
		return &genai.Image{ImageBytes: data, MIMEType: mime}, nil
	}
	if strings.HasPrefix(ref.URI, "gs://") {
		return &genai.Image{GCSURI: ref.URI, MIMEType: mime}, nil
	}
	return nil, errors.New("source image has no stored asset")
}

func firstImage(resp *genai.GenerateImagesResponse) (*genai.Image, error) {
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, errors.New("no image returned")
	}
	gi := resp.GeneratedImages[0]
	if gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
		if gi.RAIFilteredReason != "" {
			return nil, fmt.Errorf("image filtered: %s", gi.RAIFilteredReason)
		}
		return nil, errors.New("image response has no data")
	}
	return gi.Image, nil
}

func firstVideo(op *genai.GenerateVideosOperation) (*genai.Video, error) {
	if op.Error != nil {
		return nil, fmt.Errorf("video operation failed: %v", op.Error["message"])
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		if op.Response != nil && len(op.Response.RAIMediaFilteredReasons) > 0 {
			return nil, fmt.Errorf("video filtered: %s", strings.Join(op.Response.RAIMediaFilteredReasons, "; "))
		}
		return nil, errors.New("no video returned")
	}
	v := op.Response.GeneratedVideos[0].Video
	if v == nil || (len(v.VideoBytes) == 0 && v.URI == "") {
		return nil, errors.New("video response has no data")
	}
	return v, nil
}

type operationGetter func(context.Context, *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error)

// pollVideo refreshes op every interval until it is done or ctx ends.
func pollVideo(ctx context.Context, op *genai.GenerateVideosOperation, interval time.Duration, get operationGetter) (*genai.GenerateVideosOperation, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for video operation: %w", ctx.Err())
		case <-ticker.C:
		}
		next, err := get(ctx, op)
		if err != nil {
			return nil, fmt.Errorf("poll video operation: %w", err)
		}
		op = next
	}
	return op, nil
}

// download streams a hosted video into the asset store.
func (b *Backend) download(ctx context.Context, apiKey, shotID, mime, uri string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", 0, fmt.Errorf("download video: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return b.store.SaveStream(shotID, "video", mime, resp.Body)
}
