// Package breakdown turns a video source plus marketing context into a
// normalized script and ordered shot list.
package breakdown

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/reelkit/reel-agent/internal/media"
)

// Source is the video a run consumes: a LocalFile or a RemoteReference.
type Source interface {
	Kind() string
	String() string
	isSource()
}

// LocalFile is a video on disk. Its duration is unknown until decoded.
type LocalFile struct {
	Path string
}

func (LocalFile) Kind() string     { return "local" }
func (f LocalFile) String() string { return f.Path }
func (LocalFile) isSource()        {}

// RemoteReference is a video the analyzer fetches itself.
type RemoteReference struct {
	URL string
}

func (RemoteReference) Kind() string     { return "remote" }
func (r RemoteReference) String() string { return r.URL }
func (RemoteReference) isSource()        {}

// ParseSource classifies raw as a URL when it has an http(s) scheme and a
// file path otherwise.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty source")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if err := ValidateReference(raw); err != nil {
			return nil, err
		}
		return RemoteReference{URL: raw}, nil
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return LocalFile{Path: abs}, nil
}

// ValidateReference checks that raw is an absolute http(s) URL.
func ValidateReference(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid reference url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("reference url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("reference url has no host")
	}
	return nil
}

// Prompt is the instruction pair sent to an analyzer.
type Prompt struct {
	System string
	User   string
}

// Analyzer produces the raw JSON breakdown document. It is not expected to
// validate its own output.
type Analyzer interface {
	AnalyzeFrames(ctx context.Context, frames []media.Frame, prompt Prompt, model string) ([]byte, error)
	AnalyzeReference(ctx context.Context, url string, prompt Prompt, model string) ([]byte, error)
}

// ServiceContractError reports an analyzer response that could not be
// normalized into a breakdown.
type ServiceContractError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ServiceContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("breakdown response invalid: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("breakdown response invalid: %s", e.Reason)
}

func (e *ServiceContractError) Unwrap() error { return e.Err }

func contractError(reason string, raw []byte, err error) *ServiceContractError {
	const maxRaw = 512
	s := string(raw)
	if len(s) > maxRaw {
		cut := maxRaw
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return &ServiceContractError{Reason: reason, Raw: s, Err: err}
}
