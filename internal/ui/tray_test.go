package ui

import (
	"bytes"
	"testing"

	"github.com/reelkit/reel-agent/internal/runs"
)

func TestStatusTitle(t *testing.T) {
	ready := &runs.Run{Status: runs.StatusReady}
	failed := &runs.Run{Status: runs.StatusFailed}
	sampling := &runs.Run{Status: runs.StatusSampling}
	analyzing := &runs.Run{Status: runs.StatusAnalyzing}

	tests := []struct {
		name   string
		recent []*runs.Run
		paused bool
		want   string
	}{
		{"no runs", nil, false, "Idle"},
		{"all terminal", []*runs.Run{ready, failed}, false, "Idle"},
		{"one working", []*runs.Run{ready, sampling}, false, "Analyzing 1 video"},
		{"several working", []*runs.Run{sampling, analyzing, failed}, false, "Analyzing 2 videos"},
		{"paused", []*runs.Run{ready}, true, "Idle (inbox paused)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusTitle(tt.recent, tt.paused); got != tt.want {
				t.Errorf("StatusTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIconIsPNG(t *testing.T) {
	if !bytes.HasPrefix(iconBytes, []byte("\x89PNG\r\n\x1a\n")) {
		t.Errorf("embedded icon is not a PNG (%d bytes)", len(iconBytes))
	}
}
