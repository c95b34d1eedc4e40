// Package artifacts drives the per-shot image then video generation state
// machine against a generation gateway.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/reelkit/reel-agent/internal/generation"
	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

// Kind names the artifact a task produces.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Outcomes reported to the Recorder.
const (
	OutcomeReady  = "ready"
	OutcomeFailed = "failed"
)

// Recorder observes generation tasks, e.g. for metrics.
type Recorder interface {
	GenerationStarted(kind Kind)
	GenerationFinished(kind Kind, outcome string, elapsed time.Duration)
}

// ImageOptions are the caller's knobs for an image request.
type ImageOptions struct {
	AspectRatio string
	Style       string
	Language    string
	Flags       []string
	Model       string
}

// VideoOptions are the caller's knobs for a video request.
type VideoOptions struct {
	AspectRatio string
	Model       string
}

// Options configure a Pipeline. Zero values mean unbounded concurrency, no
// timeout and no observers.
type Options struct {
	MaxInFlight int64
	Timeout     time.Duration
	Recorder    Recorder
	// OnChange is called with every shot state the pipeline publishes.
	OnChange func(storyboard.Shot)
}

// Pipeline advances shots of one registry. Each accepted request runs as its
// own task keyed by shot and kind; the registry update is the only point
// where tasks meet.
type Pipeline struct {
	registry *storyboard.Registry
	gateway  generation.Gateway
	logger   *slog.Logger

	sem      *semaphore.Weighted
	timeout  time.Duration
	recorder Recorder
	onChange func(storyboard.Shot)

	// locks serializes publication per shot; shots never wait on each other.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	wg  sync.WaitGroup
	now func() time.Time
}

func New(registry *storyboard.Registry, gateway generation.Gateway, logger *slog.Logger, opts Options) *Pipeline {
	p := &Pipeline{
		registry: registry,
		gateway:  gateway,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "artifacts"),
		timeout:  opts.Timeout,
		recorder: opts.Recorder,
		onChange: opts.OnChange,
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
	if opts.MaxInFlight > 0 {
		p.sem = semaphore.NewWeighted(opts.MaxInFlight)
	}
	return p
}

// RequestImage moves the shot's image to generating and starts the gateway
// call in the background. The returned shot is the state just published.
// A ready video is kept; regenerating its source image leaves it stale.
func (p *Pipeline) RequestImage(ctx context.Context, shotID string, cred generation.Credential, opts ImageOptions) (storyboard.Shot, error) {
	if opts.Model == "" {
		return storyboard.Shot{}, errors.New("image model is required")
	}
	if !generation.ValidAspectRatio(opts.AspectRatio) {
		return storyboard.Shot{}, fmt.Errorf("unsupported aspect ratio %q", opts.AspectRatio)
	}

	shot, err := p.tryUpdate(shotID, func(s storyboard.Shot) (storyboard.Shot, error) {
		if s.Image.State == storyboard.StateGenerating {
			return s, ErrInFlight
		}
		s.Image = storyboard.Generating[storyboard.ImageRef](p.now())
		return s, nil
	})
	if err != nil {
		return storyboard.Shot{}, err
	}

	log := logging.WithShotID(p.logger, shotID)
	if shot.Video.State == storyboard.StateReady {
		log.Warn("regenerating image of a shot with a ready video; video keeps the previous image",
			"video", shot.Video.Value.Location())
	}

	req := generation.ImageRequest{
		ShotID:      shot.ID,
		Prompt:      shot.VisualPrompt,
		Description: shot.Description,
		AspectRatio: opts.AspectRatio,
		Style:       opts.Style,
		Language:    opts.Language,
		Flags:       opts.Flags,
		Model:       opts.Model,
	}
	p.spawn(ctx, shotID, KindImage, log, func(ctx context.Context) (func(storyboard.Shot) storyboard.Shot, error) {
		ref, err := p.gateway.Image(ctx, cred, req)
		if err != nil {
			return nil, err
		}
		if ref.Model == "" {
			ref.Model = req.Model
		}
		return func(s storyboard.Shot) storyboard.Shot {
			s.Image = storyboard.Ready(ref, p.now())
			return s
		}, nil
	})
	return shot, nil
}

// RequestVideo moves the shot's video to generating, provided its image is
// ready at this moment, and starts the gateway call in the background.
func (p *Pipeline) RequestVideo(ctx context.Context, shotID string, cred generation.Credential, opts VideoOptions) (storyboard.Shot, error) {
	if opts.Model == "" {
		return storyboard.Shot{}, errors.New("video model is required")
	}
	if !generation.ValidAspectRatio(opts.AspectRatio) {
		return storyboard.Shot{}, fmt.Errorf("unsupported aspect ratio %q", opts.AspectRatio)
	}

	var source storyboard.ImageRef
	shot, err := p.tryUpdate(shotID, func(s storyboard.Shot) (storyboard.Shot, error) {
		if err := CheckVideoPrecondition(s); err != nil {
			return s, err
		}
		if s.Video.State == storyboard.StateGenerating {
			return s, ErrInFlight
		}
		source = *s.Image.Value
		s.Video = storyboard.Generating[storyboard.VideoRef](p.now())
		return s, nil
	})
	if err != nil {
		return storyboard.Shot{}, err
	}

	req := generation.VideoRequest{
		ShotID:      shot.ID,
		Description: shot.Description,
		Image:       source,
		AspectRatio: opts.AspectRatio,
		Model:       opts.Model,
	}
	log := logging.WithShotID(p.logger, shotID)
	p.spawn(ctx, shotID, KindVideo, log, func(ctx context.Context) (func(storyboard.Shot) storyboard.Shot, error) {
		ref, err := p.gateway.Video(ctx, cred, req)
		if err != nil {
			return nil, err
		}
		if ref.Model == "" {
			ref.Model = req.Model
		}
		if ref.SourceImage == "" {
			ref.SourceImage = source.Location()
		}
		return func(s storyboard.Shot) storyboard.Shot {
			s.Video = storyboard.Ready(ref, p.now())
			return s
		}, nil
	})
	return shot, nil
}

// Wait blocks until every spawned task has recorded its outcome.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

type generateFunc func(ctx context.Context) (func(storyboard.Shot) storyboard.Shot, error)

// spawn runs gen detached from the request context: once accepted, a
// generation runs to completion or failure.
func (p *Pipeline) spawn(ctx context.Context, shotID string, kind Kind, log *slog.Logger, gen generateFunc) {
	taskCtx := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(taskCtx, shotID, kind, log, gen)
	}()
}

func (p *Pipeline) run(ctx context.Context, shotID string, kind Kind, log *slog.Logger, gen generateFunc) {
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.fail(shotID, kind, log, err, 0)
			return
		}
		defer p.sem.Release(1)
	}

	if p.recorder != nil {
		p.recorder.GenerationStarted(kind)
	}
	start := p.now()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	apply, err := p.call(ctx, gen)
	elapsed := p.now().Sub(start)
	if err != nil {
		p.fail(shotID, kind, log, err, elapsed)
		return
	}

	if _, err := p.update(shotID, apply); err != nil {
		log.Error("failed to record generation result", "kind", kind, "error", err)
		return
	}
	if p.recorder != nil {
		p.recorder.GenerationFinished(kind, OutcomeReady, elapsed)
	}
	log.Info("generation ready", "kind", kind, "elapsed_ms", elapsed.Milliseconds())
}

// call converts a gateway panic into an ordinary failure so it stays local
// to its shot.
func (p *Pipeline) call(ctx context.Context, gen generateFunc) (apply func(storyboard.Shot) storyboard.Shot, err error) {
	defer func() {
		if r := recover(); r != nil {
			apply, err = nil, fmt.Errorf("gateway panic: %v", r)
		}
	}()
	return gen(ctx)
}

func (p *Pipeline) fail(shotID string, kind Kind, log *slog.Logger, cause error, elapsed time.Duration) {
	failure := &GenerationFailure{ShotID: shotID, Kind: kind, Err: cause}
	_, err := p.update(shotID, func(s storyboard.Shot) storyboard.Shot {
		switch kind {
		case KindImage:
			s.Image = storyboard.Failed[storyboard.ImageRef](cause, p.now())
		case KindVideo:
			s.Video = storyboard.Failed[storyboard.VideoRef](cause, p.now())
		}
		return s
	})
	if err != nil {
		log.Error("failed to record generation failure", "kind", kind, "error", err)
		return
	}
	if p.recorder != nil {
		p.recorder.GenerationFinished(kind, OutcomeFailed, elapsed)
	}
	log.Warn("generation failed", "kind", kind, "error", failure)
}

func (p *Pipeline) update(shotID string, fn func(storyboard.Shot) storyboard.Shot) (storyboard.Shot, error) {
	return p.tryUpdate(shotID, func(s storyboard.Shot) (storyboard.Shot, error) {
		return fn(s), nil
	})
}

// tryUpdate publishes to OnChange in registry order per shot, so observers
// never see an older state of a shot after a newer one. A slow observer only
// holds up later updates of the same shot.
func (p *Pipeline) tryUpdate(shotID string, fn func(storyboard.Shot) (storyboard.Shot, error)) (storyboard.Shot, error) {
	mu := p.shotLock(shotID)
	mu.Lock()
	defer mu.Unlock()

	shot, err := p.registry.TryUpdateShot(shotID, fn)
	if err != nil {
		return storyboard.Shot{}, err
	}
	if p.onChange != nil {
		p.onChange(shot)
	}
	return shot, nil
}

func (p *Pipeline) shotLock(shotID string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	mu, ok := p.locks[shotID]
	if !ok {
		mu = &sync.Mutex{}
		p.locks[shotID] = mu
	}
	return mu
}
