package media

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/reelkit/reel-agent/internal/logging"
)

const defaultCacheTTL = 5 * time.Minute

// Prober reports the local media toolchain's capabilities.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// ToolchainProber checks ffmpeg and ffprobe with `-version`.
type ToolchainProber struct {
	FFmpeg  string
	FFprobe string
}

func (p ToolchainProber) Probe(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		FFmpeg:   probeBinary(ctx, p.FFmpeg, "ffmpeg"),
		FFprobe:  probeBinary(ctx, p.FFprobe, "ffprobe"),
		ProbedAt: time.Now(),
	}
	return caps, nil
}

func probeBinary(ctx context.Context, configured, fallback string) DepInfo {
	name := configured
	if name == "" {
		name = fallback
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return DepInfo{Error: err.Error()}
	}
	out, err := run(ctx, path, "-version")
	if err != nil {
		return DepInfo{Path: path, Error: err.Error()}
	}
	return DepInfo{Available: true, Path: path, Version: versionLine(out)}
}

// versionLine extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func versionLine(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	if !sc.Scan() {
		return ""
	}
	fields := strings.Fields(sc.Text())
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

// CachedDoctor wraps a Prober to cache capability results with a TTL.
// This avoids spawning the toolchain on every status request.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logging.OrDiscard(logger),
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the last probe result without probing.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness. On failure the
// stale result is returned when one exists.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("media toolchain probe failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	d.logger.Info("media toolchain probed",
		"ffmpeg", caps.FFmpeg.Available,
		"ffmpeg_version", caps.FFmpeg.Version,
		"ffprobe", caps.FFprobe.Available,
	)
	d.cached = caps
	return caps, nil
}
