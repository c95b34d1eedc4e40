package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reelkit/reel-agent/internal/storyboard"
)

// Build assembles a Document. Artifact locations are included only for
// ready artifacts.
func Build(title, script string, shots []storyboard.Shot) Document {
	doc := Document{
		Title:       title,
		Script:      script,
		Shots:       make([]Section, 0, len(shots)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, s := range shots {
		sec := Section{
			Number:       s.Number,
			Description:  s.Description,
			AudioNote:    s.AudioNote,
			VisualPrompt: s.VisualPrompt,
		}
		if s.Image.State == storyboard.StateReady && s.Image.Value != nil {
			sec.Image = s.Image.Value.Location()
		}
		if s.Video.State == storyboard.StateReady && s.Video.Value != nil {
			sec.Video = s.Video.Value.Location()
		}
		doc.Shots = append(doc.Shots, sec)
	}
	return doc
}

func Markdown(doc Document) string {
	var b strings.Builder

	title := doc.Title
	if title == "" {
		title = "Storyboard"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	b.WriteString("## Script\n\n")
	if strings.TrimSpace(doc.Script) == "" {
		b.WriteString("_No script._\n\n")
	} else {
		b.WriteString(strings.TrimSpace(doc.Script))
		b.WriteString("\n\n")
	}

	b.WriteString("## Shots\n\n")
	if len(doc.Shots) == 0 {
		b.WriteString("_No shots._\n")
		return b.String()
	}
	for _, s := range doc.Shots {
		fmt.Fprintf(&b, "### Shot %d\n\n", s.Number)
		fmt.Fprintf(&b, "- **Description:** %s\n", oneLine(s.Description))
		fmt.Fprintf(&b, "- **Audio:** %s\n", oneLine(s.AudioNote))
		fmt.Fprintf(&b, "- **Visual prompt:** %s\n", oneLine(s.VisualPrompt))
		if s.Image != "" {
			fmt.Fprintf(&b, "- **Image:** `%s`\n", s.Image)
		}
		if s.Video != "" {
			fmt.Fprintf(&b, "- **Video:** `%s`\n", s.Video)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "-"
	}
	return s
}

// Render encodes doc in format and returns the file extension to use.
func Render(doc Document, format string) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case "", FormatMarkdown, "md":
		return []byte(Markdown(doc)), ".md", nil
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return append(data, '\n'), ".json", nil
	}
	return nil, "", fmt.Errorf("format must be %s or %s", FormatMarkdown, FormatJSON)
}

// Write renders doc into req.OutputDir under a sanitized name.
func Write(doc Document, req ExportRequest) (*ExportResponse, error) {
	if err := ValidateOutputDir(req.OutputDir); err != nil {
		return nil, err
	}
	data, ext, err := Render(doc, req.Format)
	if err != nil {
		return nil, err
	}

	name := SanitizeName(req.Name, 120)
	if name == "" {
		name = SanitizeName(doc.Title, 120)
	}
	if name == "" {
		name = "storyboard"
	}
	outPath := filepath.Join(req.OutputDir, name+ext)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write export: %w", err)
	}

	format := FormatMarkdown
	if ext == ".json" {
		format = FormatJSON
	}
	return &ExportResponse{
		Status:     "ok",
		Format:     format,
		OutputPath: outPath,
		ShotCount:  len(doc.Shots),
	}, nil
}
