package export

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"plain title kept", "Launch Teaser (v2), cut 1.final", 100, "Launch Teaser (v2), cut 1.final"},
		{"unicode letters kept", "Café Ep. 1", 100, "Café Ep. 1"},
		{"control chars dropped", " A\nB\rC\tD\x00 ", 100, "ABCD"},
		{"separators replaced", "Storyboard: Q3/Q4", 100, "Storyboard_ Q3_Q4"},
		{"shell chars replaced", `bad<>|"name`, 100, "bad____name"},
		{"leading dots trimmed", "../../etc/passwd", 100, "_.._etc_passwd"},
		{"only dots", "...", 100, ""},
		{"truncated", "abcdefghijklmnopqrstuvwxyz", 10, "abcdefghij"},
		{"truncation trims space", "Launch Teaser", 7, "Launch"},
		{"no limit", "abcdefghijklmnopqrstuvwxyz", 0, "abcdefghijklmnopqrstuvwxyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("SanitizeName(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestValidateOutputDir(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "storyboard.md")
	if err := os.WriteFile(file, []byte("# Storyboard"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	tests := []struct {
		name    string
		dir     string
		wantErr bool
	}{
		{"existing dir", base, false},
		{"empty", "  ", true},
		{"relative", "exports", true},
		{"traversal", "/tmp/../etc", true},
		{"unclean", base + "/./", true},
		{"missing", filepath.Join(base, "missing"), true},
		{"regular file", file, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutputDir(tt.dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOutputDir(%q) error = %v, wantErr %v", tt.dir, err, tt.wantErr)
			}
		})
	}
}
