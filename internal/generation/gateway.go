// Package generation defines the contract with the external image and video
// generation service and the credentials it requires.
package generation

import (
	"context"
	"fmt"

	"github.com/reelkit/reel-agent/internal/storyboard"
)

// Aspect ratios accepted by the gateways.
const (
	AspectLandscape = "16:9"
	AspectPortrait  = "9:16"
	AspectSquare    = "1:1"
)

// ImageRequest asks for a still for one shot.
type ImageRequest struct {
	ShotID      string
	Prompt      string
	Description string
	AspectRatio string
	Style       string
	Language    string
	Flags       []string
	Model       string
}

// VideoRequest asks for a clip animated from a shot's ready still.
type VideoRequest struct {
	ShotID      string
	Description string
	Image       storyboard.ImageRef
	AspectRatio string
	Model       string
}

// Gateway is the external generation service. Implementations own their
// timeouts; callers may still bound them through ctx.
type Gateway interface {
	Image(ctx context.Context, cred Credential, req ImageRequest) (storyboard.ImageRef, error)
	Video(ctx context.Context, cred Credential, req VideoRequest) (storyboard.VideoRef, error)
}

// ValidAspectRatio reports whether r is empty or one of the known ratios.
func ValidAspectRatio(r string) bool {
	switch r {
	case "", AspectLandscape, AspectPortrait, AspectSquare:
		return true
	}
	return false
}

// ComposeImagePrompt folds the optional request fields into the single
// prompt string image models accept.
func ComposeImagePrompt(req ImageRequest) string {
	prompt := req.Prompt
	if prompt == "" {
		prompt = req.Description
	}
	if req.Prompt != "" && req.Description != "" && req.Description != req.Prompt {
		prompt = fmt.Sprintf("%s\nScene: %s", prompt, req.Description)
	}
	if req.Style != "" {
		prompt = fmt.Sprintf("%s\nStyle: %s", prompt, req.Style)
	}
	if req.Language != "" {
		prompt = fmt.Sprintf("%s\nAny on-screen text must be in %s.", prompt, req.Language)
	}
	for _, f := range req.Flags {
		switch f {
		case "no_text":
			prompt += "\nDo not render any text or logos."
		case "no_people":
			prompt += "\nDo not depict people."
		case "game_ui":
			prompt += "\nInclude game HUD elements."
		}
	}
	return prompt
}
