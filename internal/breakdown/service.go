package breakdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/media"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

// Request carries the caller-supplied inputs common to both entry points.
type Request struct {
	Context   string
	Languages Languages
	Model     string
}

// Service is the consumer side of the breakdown contract. It performs no
// retries; that policy belongs to the caller.
type Service struct {
	analyzer Analyzer
	logger   *slog.Logger
	newID    func() string
}

func NewService(analyzer Analyzer, logger *slog.Logger) *Service {
	return &Service{
		analyzer: analyzer,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "breakdown"),
		newID:    uuid.NewString,
	}
}

// AnalyzeFrames breaks down a locally sampled video.
func (s *Service) AnalyzeFrames(ctx context.Context, frames []media.Frame, req Request) (*storyboard.Breakdown, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames to analyze")
	}
	if req.Model == "" {
		return nil, errors.New("breakdown model is required")
	}
	langs, err := req.Languages.Normalize()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := s.analyzer.AnalyzeFrames(ctx, frames, BuildPrompt(req.Context, langs, len(frames)), req.Model)
	if err != nil {
		return nil, fmt.Errorf("analyze frames: %w", err)
	}
	return s.normalize(raw, "frames", req.Model, start)
}

// AnalyzeReference breaks down a video the analyzer fetches by URL.
func (s *Service) AnalyzeReference(ctx context.Context, url string, req Request) (*storyboard.Breakdown, error) {
	if err := ValidateReference(url); err != nil {
		return nil, err
	}
	if req.Model == "" {
		return nil, errors.New("breakdown model is required")
	}
	langs, err := req.Languages.Normalize()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := s.analyzer.AnalyzeReference(ctx, url, BuildPrompt(req.Context, langs, 0), req.Model)
	if err != nil {
		return nil, fmt.Errorf("analyze reference: %w", err)
	}
	return s.normalize(raw, "reference", req.Model, start)
}

func (s *Service) normalize(raw []byte, input, model string, start time.Time) (*storyboard.Breakdown, error) {
	bd, err := Normalize(raw, s.newID, s.logger)
	if err != nil {
		s.logger.Warn("breakdown response rejected", "input", input, "model", model, "error", err)
		return nil, err
	}
	s.logger.Info("breakdown normalized",
		"input", input,
		"model", model,
		"shots", len(bd.Shots),
		"script_chars", len(bd.Script),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return bd, nil
}
