package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/reelkit/reel-agent/internal/export"
	"github.com/reelkit/reel-agent/internal/media"
	"github.com/reelkit/reel-agent/internal/runs"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]string{
		"":         export.FormatMarkdown,
		"md":       export.FormatMarkdown,
		"Markdown": export.FormatMarkdown,
		" json ":   export.FormatJSON,
	} {
		got, err := parseFormat(in)
		if err != nil || got != want {
			t.Errorf("parseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := parseFormat("pdf"); err == nil {
		t.Error("parseFormat(pdf) should fail")
	}
}

func TestRunRow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &runs.Run{
		ID:         "run-1",
		SourceKind: "local",
		Source:     "/videos/launch/teaser.mp4",
		Status:     runs.StatusFailed,
		FrameCount: 8,
		Error:      strings.Repeat("x", 80),
		CreatedAt:  now.Add(-2 * time.Hour),
	}

	got := runRow(run, now)
	want := []string{"run-1", "failed", "teaser.mp4", "8", "2 hours ago", strings.Repeat("x", 57) + "..."}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("runRow mismatch (-want +got):\n%s", diff)
	}

	remote := &runs.Run{ID: "run-2", SourceKind: "remote", Source: "https://example.com/a.mp4", CreatedAt: now}
	if got := runRow(remote, now)[2]; got != "https://example.com/a.mp4" {
		t.Errorf("remote source = %q, want full URL", got)
	}
}

func TestDepRow(t *testing.T) {
	ok := depRow("ffmpeg", media.DepInfo{Available: true, Version: "6.1", Path: "/usr/bin/ffmpeg"})
	if diff := cmp.Diff([]string{"ffmpeg", "ok", "6.1", "/usr/bin/ffmpeg"}, ok); diff != "" {
		t.Errorf("available row (-want +got):\n%s", diff)
	}
	missing := depRow("ffprobe", media.DepInfo{Error: "not found"})
	if missing[1] != "missing" || missing[3] != "not found" {
		t.Errorf("missing row = %v", missing)
	}
}

func TestRenderTable(t *testing.T) {
	if got := renderTable(nil, nil, nil); got != "" {
		t.Errorf("empty headers should render nothing, got %q", got)
	}

	out := renderTable([]string{"ID", "Status"}, [][]string{{"abc", "ready"}, {"def"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"ID", "STATUS", "abc", "ready", "def"} {
		if !strings.Contains(strings.ToUpper(out), strings.ToUpper(want)) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestFrameExt(t *testing.T) {
	cases := map[string]string{"image/jpeg": ".jpg", "image/png": ".png", "image/webp": ".webp", "": ".jpg"}
	for mimeType, want := range cases {
		if got := frameExt(mimeType); got != want {
			t.Errorf("frameExt(%q) = %q, want %q", mimeType, got, want)
		}
	}
}

func TestWriteDocument_NonTerminal(t *testing.T) {
	doc := export.Build("Storyboard abc", "Open on the city.", nil)

	var md bytes.Buffer
	if err := writeDocument(&md, doc, export.FormatMarkdown); err != nil {
		t.Fatalf("markdown: %v", err)
	}
	if !strings.Contains(md.String(), "Open on the city.") || strings.Contains(md.String(), "\x1b[") {
		t.Errorf("expected raw markdown, got %q", md.String())
	}

	var js bytes.Buffer
	if err := writeDocument(&js, doc, export.FormatJSON); err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded export.Document
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.Title != "Storyboard abc" {
		t.Errorf("title = %q", decoded.Title)
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	want := map[string]bool{"serve": false, "breakdown": false, "sample": false, "doctor": false, "runs": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing %q subcommand", name)
		}
	}
}
