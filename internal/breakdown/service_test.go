package breakdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/reelkit/reel-agent/internal/media"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

type fakeAnalyzer struct {
	raw   string
	err   error
	calls atomic.Int32

	gotFrames int
	gotURL    string
	gotPrompt Prompt
	gotModel  string
}

func (a *fakeAnalyzer) AnalyzeFrames(_ context.Context, frames []media.Frame, p Prompt, model string) ([]byte, error) {
	a.calls.Add(1)
	a.gotFrames, a.gotPrompt, a.gotModel = len(frames), p, model
	return []byte(a.raw), a.err
}

func (a *fakeAnalyzer) AnalyzeReference(_ context.Context, url string, p Prompt, model string) ([]byte, error) {
	a.calls.Add(1)
	a.gotURL, a.gotPrompt, a.gotModel = url, p, model
	return []byte(a.raw), a.err
}

func seqIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("shot-%d", n)
	}
}

func testService(a Analyzer) *Service {
	s := NewService(a, nil)
	s.newID = seqIDs()
	return s
}

func someFrames(n int) []media.Frame {
	frames := make([]media.Frame, n)
	for i := range frames {
		frames[i] = media.Frame{TimestampSeconds: float64(i), Payload: media.EncodedImage{Data: []byte{1}, MIMEType: media.MIMETypeJPEG}}
	}
	return frames
}

func TestNormalize_RederivesShotNumbers(t *testing.T) {
	raw := `{"script":"Hook, then reveal.","shots":[
		{"shotNumber":3,"description":"title card","audioNote":"whoosh","visualPrompt":"logo on black"},
		{"shotNumber":3,"description":"gameplay","audioNote":"music","visualPrompt":"hero jumping"},
		{"description":"cta","audioNote":"vo","visualPrompt":"download button"}
	]}`

	bd, err := Normalize([]byte(raw), seqIDs(), nil)
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	want := &storyboard.Breakdown{
		Script: "Hook, then reveal.",
		Shots: []storyboard.Shot{
			{ID: "shot-1", Number: 1, Description: "title card", AudioNote: "whoosh", VisualPrompt: "logo on black",
				Image: storyboard.Artifact[storyboard.ImageRef]{State: storyboard.StateEmpty},
				Video: storyboard.Artifact[storyboard.VideoRef]{State: storyboard.StateEmpty}},
			{ID: "shot-2", Number: 2, Description: "gameplay", AudioNote: "music", VisualPrompt: "hero jumping",
				Image: storyboard.Artifact[storyboard.ImageRef]{State: storyboard.StateEmpty},
				Video: storyboard.Artifact[storyboard.VideoRef]{State: storyboard.StateEmpty}},
			{ID: "shot-3", Number: 3, Description: "cta", AudioNote: "vo", VisualPrompt: "download button",
				Image: storyboard.Artifact[storyboard.ImageRef]{State: storyboard.StateEmpty},
				Video: storyboard.Artifact[storyboard.VideoRef]{State: storyboard.StateEmpty}},
		},
	}
	if diff := cmp.Diff(want, bd); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_ShotNumbersMatchOrder(t *testing.T) {
	inputs := []string{
		`{"script":"","shots":[{"shotNumber":10},{"shotNumber":2},{"shotNumber":2},{"shotNumber":-1}]}`,
		`{"shots":[{"shot_number":"1"},{"shot_number":"2"}]}`,
		`{"storyboard":[{},{},{},{},{}]}`,
	}
	for _, raw := range inputs {
		bd, err := Normalize([]byte(raw), seqIDs(), nil)
		if err != nil {
			t.Fatalf("Normalize(%s) error: %v", raw, err)
		}
		for i, s := range bd.Shots {
			if s.Number != i+1 {
				t.Errorf("Normalize(%s): shots[%d].Number = %d, want %d", raw, i, s.Number, i+1)
			}
		}
	}
}

func TestNormalize_EmptyShotsAreValid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty list", `{"script":"only a script","shots":[]}`},
		{"null list", `{"script":"only a script","shots":null}`},
		{"missing list", `{"script":"only a script"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bd, err := Normalize([]byte(tt.raw), seqIDs(), nil)
			if err != nil {
				t.Fatalf("Normalize() error: %v", err)
			}
			if len(bd.Shots) != 0 {
				t.Errorf("got %d shots, want 0", len(bd.Shots))
			}
			if bd.Shots == nil {
				t.Error("Shots is nil, want empty slice")
			}
			if bd.Script != "only a script" {
				t.Errorf("Script = %q", bd.Script)
			}
		})
	}
}

func TestNormalize_AliasesAndFences(t *testing.T) {
	raw := "```json\n" + `{"script":"s","storyboard":[{"desc":"d","audio":"a","prompt":"p","shot_number":1}]}` + "\n```"

	bd, err := Normalize([]byte(raw), seqIDs(), nil)
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	if len(bd.Shots) != 1 {
		t.Fatalf("got %d shots, want 1", len(bd.Shots))
	}
	s := bd.Shots[0]
	if s.Description != "d" || s.AudioNote != "a" || s.VisualPrompt != "p" {
		t.Errorf("aliases not applied: %+v", s)
	}
}

func TestNormalize_ScalarFieldsKeepSpelling(t *testing.T) {
	raw := `{"shots":[{"description":42,"audioNote":true,"visualPrompt":null}]}`
	bd, err := Normalize([]byte(raw), seqIDs(), nil)
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	s := bd.Shots[0]
	if s.Description != "42" || s.AudioNote != "true" || s.VisualPrompt != "" {
		t.Errorf("unexpected fields: %+v", s)
	}
}

func TestNormalize_ContractErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `the model refused`},
		{"top-level array", `[{"description":"x"}]`},
		{"top-level null", `null`},
		{"script object", `{"script":{"text":"x"},"shots":[]}`},
		{"script number", `{"script":7}`},
		{"shots object", `{"shots":{"1":{}}}`},
		{"shot string", `{"shots":["first shot"]}`},
		{"shot null", `{"shots":[null]}`},
		{"description list", `{"shots":[{"description":["a","b"]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bd, err := Normalize([]byte(tt.raw), seqIDs(), nil)
			if bd != nil {
				t.Error("got a breakdown alongside an error")
			}
			var contractErr *ServiceContractError
			if !errors.As(err, &contractErr) {
				t.Fatalf("error = %v, want *ServiceContractError", err)
			}
		})
	}
}

func TestContractError_TruncatesRaw(t *testing.T) {
	err := contractError("x", []byte(strings.Repeat("a", 2000)), nil)
	if len(err.Raw) > 520 {
		t.Errorf("Raw length %d not truncated", len(err.Raw))
	}

	// 3-byte runes put the 512-byte limit mid-rune.
	err = contractError("x", []byte(strings.Repeat("한", 300)), nil)
	if !utf8.ValidString(err.Raw) {
		t.Errorf("truncated Raw is not valid UTF-8: %q", err.Raw)
	}
	if want := strings.Repeat("한", 170) + "..."; err.Raw != want {
		t.Errorf("Raw = %d bytes, want %d", len(err.Raw), len(want))
	}
}

func TestService_AnalyzeFrames(t *testing.T) {
	a := &fakeAnalyzer{raw: `{"script":"s","shots":[{"description":"d"}]}`}
	s := testService(a)

	bd, err := s.AnalyzeFrames(context.Background(), someFrames(4), Request{
		Context:   "Launch trailer for a cozy farming game",
		Languages: Languages{Script: "ko"},
		Model:     "gemini-2.5-flash",
	})
	if err != nil {
		t.Fatalf("AnalyzeFrames() error: %v", err)
	}
	if len(bd.Shots) != 1 || bd.Shots[0].ID != "shot-1" {
		t.Errorf("unexpected shots: %+v", bd.Shots)
	}
	if a.gotFrames != 4 || a.gotModel != "gemini-2.5-flash" {
		t.Errorf("analyzer got frames=%d model=%q", a.gotFrames, a.gotModel)
	}
	if !strings.Contains(a.gotPrompt.User, "Korean") {
		t.Errorf("prompt missing script language: %q", a.gotPrompt.User)
	}
	if !strings.Contains(a.gotPrompt.User, "cozy farming") {
		t.Errorf("prompt missing context: %q", a.gotPrompt.User)
	}
	if !strings.Contains(a.gotPrompt.User, "4 still frames") {
		t.Errorf("prompt missing frame count: %q", a.gotPrompt.User)
	}
}

func TestService_AnalyzeFrames_RejectsEmpty(t *testing.T) {
	a := &fakeAnalyzer{}
	s := testService(a)
	if _, err := s.AnalyzeFrames(context.Background(), nil, Request{Model: "m"}); err == nil {
		t.Error("expected error for no frames")
	}
	if a.calls.Load() != 0 {
		t.Errorf("analyzer called %d times", a.calls.Load())
	}
}

func TestService_AnalyzeReference(t *testing.T) {
	a := &fakeAnalyzer{raw: `{"script":"s","shots":[]}`}
	s := testService(a)

	bd, err := s.AnalyzeReference(context.Background(), "https://youtu.be/abc", Request{Model: "m"})
	if err != nil {
		t.Fatalf("AnalyzeReference() error: %v", err)
	}
	if len(bd.Shots) != 0 {
		t.Errorf("got %d shots, want 0", len(bd.Shots))
	}
	if a.gotURL != "https://youtu.be/abc" {
		t.Errorf("analyzer url = %q", a.gotURL)
	}
	if !strings.Contains(a.gotPrompt.User, "by reference") {
		t.Errorf("prompt = %q", a.gotPrompt.User)
	}
}

func TestService_AnalyzeReference_Validation(t *testing.T) {
	tests := []struct {
		name string
		url  string
		req  Request
	}{
		{"ftp url", "ftp://host/video.mp4", Request{Model: "m"}},
		{"no host", "https:///video.mp4", Request{Model: "m"}},
		{"no model", "https://host/video.mp4", Request{}},
		{"bad language", "https://host/video.mp4", Request{Model: "m", Languages: Languages{Prompt: "not a tag!"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAnalyzer{raw: `{}`}
			if _, err := testService(a).AnalyzeReference(context.Background(), tt.url, tt.req); err == nil {
				t.Fatal("expected error")
			}
			if a.calls.Load() != 0 {
				t.Errorf("analyzer called %d times", a.calls.Load())
			}
		})
	}
}

func TestService_PropagatesErrors(t *testing.T) {
	upstream := errors.New("quota exceeded")
	s := testService(&fakeAnalyzer{err: upstream})
	_, err := s.AnalyzeFrames(context.Background(), someFrames(1), Request{Model: "m"})
	if !errors.Is(err, upstream) {
		t.Errorf("error = %v, want wrapped %v", err, upstream)
	}

	s = testService(&fakeAnalyzer{raw: "nope"})
	_, err = s.AnalyzeFrames(context.Background(), someFrames(1), Request{Model: "m"})
	var contractErr *ServiceContractError
	if !errors.As(err, &contractErr) {
		t.Errorf("error = %v, want *ServiceContractError", err)
	}
}

func TestLanguages_Normalize(t *testing.T) {
	got, err := Languages{Script: "ko", Prompt: "EN-us"}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	want := Languages{Script: "ko", Storyboard: "en", Prompt: "en-US"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"ko": "Korean",
		"ja": "Japanese",
		"en": "English",
	}
	for tag, want := range tests {
		if got := DisplayName(tag); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", tag, got, want)
		}
	}
}

func TestParseSource(t *testing.T) {
	src, err := ParseSource("https://example.com/ad.mp4")
	if err != nil {
		t.Fatalf("ParseSource(url) error: %v", err)
	}
	if _, ok := src.(RemoteReference); !ok {
		t.Errorf("got %T, want RemoteReference", src)
	}

	src, err = ParseSource("clips/ad.mp4")
	if err != nil {
		t.Fatalf("ParseSource(path) error: %v", err)
	}
	local, ok := src.(LocalFile)
	if !ok {
		t.Fatalf("got %T, want LocalFile", src)
	}
	if !strings.HasSuffix(local.Path, "clips/ad.mp4") || local.Kind() != "local" {
		t.Errorf("unexpected local source %+v", local)
	}

	if _, err := ParseSource("  "); err == nil {
		t.Error("expected error for empty source")
	}
}
