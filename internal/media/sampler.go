package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/reelkit/reel-agent/internal/logging"
)

// Sampler extracts bounded, evenly spaced frames from local video files.
type Sampler struct {
	decoder Decoder
	logger  *slog.Logger
}

func NewSampler(decoder Decoder, logger *slog.Logger) *Sampler {
	return &Sampler{decoder: decoder, logger: logging.OrDiscard(logger)}
}

// SampleFile acquires a decode handle for path, samples it and releases the
// handle on every exit path.
func (s *Sampler) SampleFile(ctx context.Context, path string, n int, maxInterval float64) ([]Frame, error) {
	start := time.Now()

	handle, err := s.decoder.Open(ctx, path)
	if err != nil {
		var decodeErr *MediaDecodeError
		if errors.As(err, &decodeErr) {
			return nil, err
		}
		return nil, &MediaDecodeError{Path: path, Op: "open", Err: err}
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			s.logger.Warn("failed to release decode handle", "path", logging.SanitizePath(path), "error", cerr)
		}
	}()

	frames, err := Sample(ctx, handle, n, maxInterval)
	if err != nil {
		var decodeErr *MediaDecodeError
		if errors.As(err, &decodeErr) && decodeErr.Path == "" {
			decodeErr.Path = path
		}
		return nil, err
	}

	s.logger.Info("sampled frames",
		"path", logging.SanitizePath(path),
		"duration_s", handle.Duration(),
		"frames", len(frames),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return frames, nil
}

// SampleInterval returns min(duration/n, maxInterval). A non-positive
// maxInterval disables the cap.
func SampleInterval(duration float64, n int, maxInterval float64) float64 {
	interval := duration / float64(n)
	if maxInterval > 0 && maxInterval < interval {
		interval = maxInterval
	}
	return interval
}

// Sample walks the handle from t=0 in steps of SampleInterval, capturing at
// half the native resolution, until n frames are collected or t reaches the
// duration. Captures are strictly sequential.
func Sample(ctx context.Context, h Handle, n int, maxInterval float64) ([]Frame, error) {
	if n <= 0 {
		return nil, fmt.Errorf("frame count must be positive, got %d", n)
	}

	duration := h.Duration()
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return nil, &MediaDecodeError{Op: "duration", Err: ErrNoDuration}
	}

	width, height := h.Dimensions()
	if width <= 0 || height <= 0 {
		return nil, &MediaDecodeError{Op: "dimensions", Err: ErrNoVideoStream}
	}
	targetW, targetH := halfDimension(width), halfDimension(height)

	interval := SampleInterval(duration, n, maxInterval)
	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		// Multiplying instead of accumulating keeps the step exact.
		t := float64(i) * interval
		if t >= duration {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := h.Capture(ctx, t, targetW, targetH)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &MediaDecodeError{Op: "capture", Timestamp: t, Err: err}
		}
		frames = append(frames, Frame{TimestampSeconds: t, Payload: img})
	}
	return frames, nil
}

// halfDimension halves a native dimension, rounded down to an even pixel
// count for the encoder, never below 2.
func halfDimension(native int) int {
	half := native / 2
	half -= half % 2
	if half < 2 {
		return 2
	}
	return half
}
