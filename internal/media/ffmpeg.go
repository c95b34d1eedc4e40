package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/reelkit/reel-agent/internal/logging"
)

// FFmpegDecoder opens local files through ffprobe and captures frames with
// one ffmpeg invocation per seek.
type FFmpegDecoder struct {
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

func NewFFmpegDecoder(ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegDecoder{ffmpeg: ffmpegPath, ffprobe: ffprobePath, logger: logging.OrDiscard(logger)}
}

// Open probes path and returns a handle once it is known to be decodable.
func (d *FFmpegDecoder) Open(ctx context.Context, path string) (Handle, error) {
	probe, err := Inspect(ctx, d.ffprobe, path)
	if err != nil {
		return nil, &MediaDecodeError{Path: path, Op: "probe", Err: err}
	}

	stream, ok := probe.VideoStream()
	if !ok || stream.Width <= 0 || stream.Height <= 0 {
		return nil, &MediaDecodeError{Path: path, Op: "probe", Err: ErrNoVideoStream}
	}
	duration := probe.DurationSeconds()
	if duration <= 0 {
		return nil, &MediaDecodeError{Path: path, Op: "probe", Err: ErrNoDuration}
	}

	d.logger.Debug("decode handle opened",
		"path", logging.SanitizePath(path),
		"codec", stream.CodecName,
		"width", stream.Width,
		"height", stream.Height,
		"duration_s", duration,
	)

	return &ffmpegHandle{
		binary:   d.ffmpeg,
		path:     path,
		duration: duration,
		width:    stream.Width,
		height:   stream.Height,
	}, nil
}

type ffmpegHandle struct {
	binary   string
	path     string
	duration float64
	width    int
	height   int

	mu     sync.Mutex
	closed bool
}

func (h *ffmpegHandle) Duration() float64 { return h.duration }

func (h *ffmpegHandle) Dimensions() (int, int) { return h.width, h.height }

func (h *ffmpegHandle) Capture(ctx context.Context, t float64, width, height int) (EncodedImage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return EncodedImage{}, ErrHandleClosed
	}

	out, err := run(ctx, h.binary, captureArgs(h.path, t, width, height)...)
	if err != nil {
		return EncodedImage{}, err
	}
	if len(out) == 0 {
		return EncodedImage{}, errors.New("ffmpeg produced no frame")
	}
	return EncodedImage{Data: out, MIMEType: MIMETypeJPEG, Width: width, Height: height}, nil
}

func (h *ffmpegHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// captureArgs seeks before the input for a fast keyframe seek and emits a
// single scaled JPEG on stdout.
func captureArgs(path string, t float64, width, height int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(t, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "4",
		"pipe:1",
	}
}
