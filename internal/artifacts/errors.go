package artifacts

import (
	"errors"
	"fmt"

	"github.com/reelkit/reel-agent/internal/storyboard"
)

// ErrInFlight rejects a request for an artifact that is already generating.
var ErrInFlight = errors.New("generation already in flight")

// PreconditionError rejects a video request made before the shot's image is
// ready. No state changes accompany it.
type PreconditionError struct {
	ShotID     string
	ImageState storyboard.GenerationState
}

// CheckVideoPrecondition reports whether a video may be requested for shot
// right now.
func CheckVideoPrecondition(shot storyboard.Shot) error {
	if shot.Image.State != storyboard.StateReady || shot.Image.Value == nil {
		return &PreconditionError{ShotID: shot.ID, ImageState: shot.Image.State}
	}
	return nil
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("shot %s: video requires a ready image, image is %s", e.ShotID, e.ImageState)
}

// GenerationFailure is a gateway failure for one artifact of one shot. It is
// recorded on that artifact and never returned to the requester.
type GenerationFailure struct {
	ShotID string
	Kind   Kind
	Err    error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("shot %s: %s generation failed: %v", e.ShotID, e.Kind, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }
