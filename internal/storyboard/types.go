// Package storyboard holds the ordered shot list of a breakdown and the
// per-shot artifact state that generation advances.
package storyboard

import "time"

// GenerationState is the lifecycle position of one artifact.
type GenerationState string

const (
	StateEmpty      GenerationState = "empty"
	StateGenerating GenerationState = "generating"
	StateReady      GenerationState = "ready"
	StateFailed     GenerationState = "failed"
)

// Valid reports whether s is one of the known states.
func (s GenerationState) Valid() bool {
	switch s {
	case StateEmpty, StateGenerating, StateReady, StateFailed:
		return true
	}
	return false
}

// ImageRef points at a generated still.
type ImageRef struct {
	Asset     string `json:"asset,omitempty"`
	URI       string `json:"uri,omitempty"`
	MIMEType  string `json:"mime_type"`
	Model     string `json:"model,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Location is the stored asset name, or the remote URI when the gateway
// did not hand over bytes.
func (r ImageRef) Location() string {
	if r.Asset != "" {
		return r.Asset
	}
	return r.URI
}

// VideoRef points at a generated clip.
type VideoRef struct {
	Asset     string `json:"asset,omitempty"`
	URI       string `json:"uri,omitempty"`
	MIMEType  string `json:"mime_type"`
	Model     string `json:"model,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	// SourceImage is the asset of the still the clip was generated from.
	SourceImage string `json:"source_image,omitempty"`
}

func (r VideoRef) Location() string {
	if r.Asset != "" {
		return r.Asset
	}
	return r.URI
}

// Artifact tracks one generated asset. Value is set only when State is
// StateReady.
type Artifact[T any] struct {
	State     GenerationState `json:"state"`
	Value     *T              `json:"value,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// Shot is one storyboard entry. Number is 1-based and matches list order.
type Shot struct {
	ID           string             `json:"id"`
	Number       int                `json:"shot_number"`
	Description  string             `json:"description"`
	AudioNote    string             `json:"audio_note"`
	VisualPrompt string             `json:"visual_prompt"`
	Image        Artifact[ImageRef] `json:"image"`
	Video        Artifact[VideoRef] `json:"video"`
}

// Breakdown is a normalized script plus its ordered shots. An empty Shots
// list is valid.
type Breakdown struct {
	Script string `json:"script"`
	Shots  []Shot `json:"shots"`
}

// Generating sets the artifact in flight, clearing any previous result.
func Generating[T any](now time.Time) Artifact[T] {
	return Artifact[T]{State: StateGenerating, UpdatedAt: now}
}

// Ready records a successful generation.
func Ready[T any](v T, now time.Time) Artifact[T] {
	return Artifact[T]{State: StateReady, Value: &v, UpdatedAt: now}
}

// Failed records a failed generation with no value.
func Failed[T any](err error, now time.Time) Artifact[T] {
	a := Artifact[T]{State: StateFailed, UpdatedAt: now}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}
