// Package export renders a finished storyboard as a shareable document.
package export

import "time"

const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Document is the script followed by every shot, in storyboard order.
type Document struct {
	Title       string    `json:"title"`
	RunID       string    `json:"run_id,omitempty"`
	Source      string    `json:"source,omitempty"`
	Script      string    `json:"script"`
	Shots       []Section `json:"shots"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Section is one shot of a Document.
type Section struct {
	Number       int    `json:"shot_number"`
	Description  string `json:"description"`
	AudioNote    string `json:"audio_note"`
	VisualPrompt string `json:"visual_prompt"`
	Image        string `json:"image,omitempty"`
	Video        string `json:"video,omitempty"`
}

type ExportRequest struct {
	Name      string `json:"name"`
	Format    string `json:"format"`
	OutputDir string `json:"output_dir"`
}

type ExportResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	ShotCount  int    `json:"shot_count"`
}
