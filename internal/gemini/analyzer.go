package gemini

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/reelkit/reel-agent/internal/breakdown"
	"github.com/reelkit/reel-agent/internal/generation"
	"github.com/reelkit/reel-agent/internal/media"
)

var errEmptyResponse = errors.New("empty model response")

// Analyzer is a breakdown.Analyzer backed by GenerateContent.
type Analyzer struct {
	backend *Backend
}

func NewAnalyzer(backend *Backend) *Analyzer {
	return &Analyzer{backend: backend}
}

func (a *Analyzer) AnalyzeFrames(ctx context.Context, frames []media.Frame, prompt breakdown.Prompt, model string) ([]byte, error) {
	return a.generate(ctx, model, prompt, frameParts(frames, prompt.User))
}

func (a *Analyzer) AnalyzeReference(ctx context.Context, url string, prompt breakdown.Prompt, model string) ([]byte, error) {
	return a.generate(ctx, model, prompt, referenceParts(url, prompt.User))
}

func (a *Analyzer) generate(ctx context.Context, model string, prompt breakdown.Prompt, parts []*genai.Part) ([]byte, error) {
	client, _, err := a.backend.client(ctx, generation.Credential{})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		analysisConfig(prompt))
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	a.backend.logger.Info("breakdown analysis returned",
		"model", model,
		"parts", len(parts),
		"response_bytes", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if text == "" {
		return nil, errEmptyResponse
	}
	return []byte(text), nil
}

func analysisConfig(prompt breakdown.Prompt) *genai.GenerateContentConfig {
	temperature := float32(0.4)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temperature,
	}
	if prompt.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}
	return cfg
}

// frameParts interleaves a timestamp label with each frame so the model can
// place shots on the timeline, then appends the instruction.
func frameParts(frames []media.Frame, instruction string) []*genai.Part {
	parts := make([]*genai.Part, 0, 2*len(frames)+1)
	for i, f := range frames {
		parts = append(parts,
			genai.NewPartFromText(fmt.Sprintf("Frame %d at %.1fs", i+1, f.TimestampSeconds)),
			genai.NewPartFromBytes(f.Payload.Data, mimeOr(f.Payload.MIMEType, media.MIMETypeJPEG)),
		)
	}
	return append(parts, genai.NewPartFromText(instruction))
}

func referenceParts(url, instruction string) []*genai.Part {
	return []*genai.Part{
		genai.NewPartFromURI(url, referenceMIMEType(url)),
		genai.NewPartFromText(instruction),
	}
}

// referenceMIMEType guesses the video type from the URL path. Hosted pages
// such as YouTube links carry no extension and are sent as mp4.
func referenceMIMEType(url string) string {
	p := url
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	}
	return "video/mp4"
}

func mimeOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
