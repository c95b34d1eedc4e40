package media

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "aac", "codec_type": "audio", "duration": "12.010000"},
    {"index": 1, "codec_name": "h264", "codec_type": "video", "duration": "11.980000", "width": 1920, "height": 1080}
  ],
  "format": {"filename": "clip.mp4", "duration": "12.000000", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestParseProbe(t *testing.T) {
	result, err := ParseProbe([]byte(sampleProbe))
	if err != nil {
		t.Fatalf("ParseProbe() error: %v", err)
	}
	stream, ok := result.VideoStream()
	if !ok {
		t.Fatal("VideoStream() not found")
	}
	if stream.CodecName != "h264" || stream.Width != 1920 || stream.Height != 1080 {
		t.Errorf("unexpected stream: %+v", stream)
	}
	if got := result.DurationSeconds(); got != 12 {
		t.Errorf("DurationSeconds() = %v, want 12", got)
	}
}

func TestParseProbe_StreamDurationFallback(t *testing.T) {
	raw := `{"streams":[{"codec_type":"video","duration":"7.5","width":10,"height":10}],"format":{"duration":"N/A"}}`
	result, err := ParseProbe([]byte(raw))
	if err != nil {
		t.Fatalf("ParseProbe() error: %v", err)
	}
	if got := result.DurationSeconds(); got != 7.5 {
		t.Errorf("DurationSeconds() = %v, want 7.5", got)
	}
}

func TestParseProbe_NoVideo(t *testing.T) {
	raw := `{"streams":[{"codec_type":"audio","duration":"3"}],"format":{}}`
	result, err := ParseProbe([]byte(raw))
	if err != nil {
		t.Fatalf("ParseProbe() error: %v", err)
	}
	if _, ok := result.VideoStream(); ok {
		t.Error("VideoStream() found a stream in audio-only input")
	}
	if got := result.DurationSeconds(); got != 0 {
		t.Errorf("DurationSeconds() = %v, want 0", got)
	}
}

func TestParseProbe_Invalid(t *testing.T) {
	if _, err := ParseProbe([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestInspect_EmptyPath(t *testing.T) {
	if _, err := Inspect(context.Background(), "ffprobe", "  "); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestCaptureArgs(t *testing.T) {
	got := captureArgs("/tmp/in.mp4", 1.2, 960, 540)
	want := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", "1.200",
		"-i", "/tmp/in.mp4",
		"-frames:v", "1",
		"-vf", "scale=960:540",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "4",
		"pipe:1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("captureArgs() = %v, want %v", got, want)
	}
}

func TestFFmpegHandle_CaptureAfterClose(t *testing.T) {
	h := &ffmpegHandle{binary: "ffmpeg", path: "x.mp4", duration: 1, width: 2, height: 2}
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := h.Capture(context.Background(), 0, 2, 2); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("Capture() after Close error = %v, want ErrHandleClosed", err)
	}
}

func TestRun_MissingBinary(t *testing.T) {
	_, err := run(context.Background(), "/nonexistent/ffmpeg-missing")
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecError", err)
	}
	if execErr.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", execErr.ExitCode)
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	n, _ := lw.Write([]byte(" world of test data"))
	if n != 19 {
		t.Errorf("Write returned %d, want 19", n)
	}
	if got, want := buf.String(), " test data"; got != want {
		t.Errorf("after overflow got %q, want %q", got, want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "...world"},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestVersionLine(t *testing.T) {
	out := []byte("ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc\n")
	if got := versionLine(out); got != "6.1.1" {
		t.Errorf("versionLine() = %q, want 6.1.1", got)
	}
	if got := versionLine(nil); got != "" {
		t.Errorf("versionLine(nil) = %q, want empty", got)
	}
}

type countingProber struct {
	calls atomic.Int32
	err   error
}

func (p *countingProber) Probe(context.Context) (*Capabilities, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &Capabilities{
		FFmpeg:   DepInfo{Available: true, Version: "6.1"},
		FFprobe:  DepInfo{Available: true, Version: "6.1"},
		ProbedAt: time.Now(),
	}, nil
}

func TestCachedDoctor_CachesWithinTTL(t *testing.T) {
	p := &countingProber{}
	d := NewCachedDoctor(p, nil)

	for i := 0; i < 3; i++ {
		caps, err := d.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if !caps.CanSample() {
			t.Error("CanSample() = false")
		}
	}
	if p.calls.Load() != 1 {
		t.Errorf("probe called %d times, want 1", p.calls.Load())
	}
}

func TestCachedDoctor_StaleOnFailure(t *testing.T) {
	p := &countingProber{}
	d := NewCachedDoctor(p, nil)
	first, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	p.err = errors.New("exec failed")
	got, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() with stale cache error: %v", err)
	}
	if got != first {
		t.Error("expected stale capabilities to be returned")
	}
}

func TestCachedDoctor_NoCacheFailure(t *testing.T) {
	d := NewCachedDoctor(&countingProber{err: errors.New("exec failed")}, nil)
	if _, err := d.Get(context.Background()); err == nil {
		t.Error("expected error without cache")
	}
	if d.Peek() != nil {
		t.Error("Peek() should be nil after failed probe")
	}
}
