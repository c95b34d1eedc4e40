// Package media decodes local video sources and samples still frames from
// them for breakdown analysis.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MIMETypeJPEG is the encoding used for sampled frames.
const MIMETypeJPEG = "image/jpeg"

var (
	// ErrNoDuration is reported when a source never yields a usable duration.
	ErrNoDuration = errors.New("media has no decodable duration")
	// ErrNoVideoStream is reported when a container has no video stream.
	ErrNoVideoStream = errors.New("media has no video stream")
	// ErrHandleClosed is returned when a handle is used after release.
	ErrHandleClosed = errors.New("decode handle closed")
)

// EncodedImage is a rasterized, encoded still.
type EncodedImage struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Frame is one sampled still. Frames are consumed by a single breakdown call
// and are not retained afterwards.
type Frame struct {
	TimestampSeconds float64      `json:"timestamp_seconds"`
	Payload          EncodedImage `json:"payload"`
}

// Decoder opens local media into an exclusively owned decode handle.
type Decoder interface {
	Open(ctx context.Context, path string) (Handle, error)
}

// Handle is a single stateful decode resource. It must not be shared
// between sampling runs and its methods must not be called concurrently.
type Handle interface {
	// Duration is the total duration in seconds.
	Duration() float64
	// Dimensions is the native frame size in pixels.
	Dimensions() (width, height int)
	// Capture seeks to t seconds and rasterizes the frame at width x height.
	Capture(ctx context.Context, t float64, width, height int) (EncodedImage, error)
	Close() error
}

// MediaDecodeError reports that a source could not be sampled. No partial
// frame list accompanies it.
type MediaDecodeError struct {
	Path      string
	Op        string
	Timestamp float64
	Err       error
}

func (e *MediaDecodeError) Error() string {
	if e.Op == "capture" {
		return fmt.Sprintf("media decode %s at %.3fs: %v", e.Op, e.Timestamp, e.Err)
	}
	return fmt.Sprintf("media decode %s: %v", e.Op, e.Err)
}

func (e *MediaDecodeError) Unwrap() error { return e.Err }

// DepInfo represents the availability of one external executable.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities reports what the local media toolchain can do.
type Capabilities struct {
	FFmpeg   DepInfo   `json:"ffmpeg"`
	FFprobe  DepInfo   `json:"ffprobe"`
	ProbedAt time.Time `json:"probed_at"`
}

// CanSample is true when local files can be decoded and rasterized.
func (c Capabilities) CanSample() bool {
	return c.FFmpeg.Available && c.FFprobe.Available
}
