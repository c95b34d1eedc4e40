// Package runs persists breakdown runs and their shots.
package runs

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/reelkit/reel-agent/internal/breakdown"
)

const (
	StatusSampling  = "sampling"
	StatusAnalyzing = "analyzing"
	StatusReady     = "ready"
	StatusFailed    = "failed"
)

// Run is one pass from a video source to a populated storyboard.
type Run struct {
	ID         string              `json:"id"`
	SourceKind string              `json:"source_kind"`
	Source     string              `json:"source"`
	Context    string              `json:"context,omitempty"`
	Languages  breakdown.Languages `json:"languages"`
	Model      string              `json:"model"`
	Status     string              `json:"status"`
	Script     string              `json:"script,omitempty"`
	FrameCount int                 `json:"frame_count"`
	Attempts   int                 `json:"attempts"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Terminal reports whether the run will not change status again.
func (r *Run) Terminal() bool {
	return r.Status == StatusReady || r.Status == StatusFailed
}

var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
