// Package orchestrator runs a video source through sampling and breakdown
// into a storyboard, and routes per-shot generation requests to it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/reelkit/reel-agent/internal/artifacts"
	"github.com/reelkit/reel-agent/internal/breakdown"
	"github.com/reelkit/reel-agent/internal/export"
	"github.com/reelkit/reel-agent/internal/generation"
	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/media"
	"github.com/reelkit/reel-agent/internal/runs"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunNotReady = errors.New("run has no storyboard yet")
)

// Sampler extracts frames from a local video.
type Sampler interface {
	SampleFile(ctx context.Context, path string, n int, maxInterval float64) ([]media.Frame, error)
}

// Breakdowns is the breakdown contract, satisfied by *breakdown.Service.
type Breakdowns interface {
	AnalyzeFrames(ctx context.Context, frames []media.Frame, req breakdown.Request) (*storyboard.Breakdown, error)
	AnalyzeReference(ctx context.Context, url string, req breakdown.Request) (*storyboard.Breakdown, error)
}

// AssetRemover deletes stored artifacts of discarded runs.
type AssetRemover interface {
	// RemoveShots deletes every asset ever stored for the given shots.
	RemoveShots(shotIDs ...string) (int, error)
}

// Recorder observes runs, e.g. for metrics.
type Recorder interface {
	artifacts.Recorder
	RunFinished(source, status string)
	FramesSampled(n int)
	BreakdownAttempt(outcome string)
}

// Options configure an Orchestrator. Zero values take the defaults below.
type Options struct {
	FrameCount        int
	FrameMaxInterval  float64
	BreakdownModel    string
	ImageModel        string
	VideoModel        string
	BreakdownAttempts int
	RetryBackoff      time.Duration

	MaxInFlight       int64
	GenerationTimeout time.Duration

	Policy      generation.Policy
	Credentials generation.CredentialProvider
	Assets      AssetRemover
	Recorder    Recorder
}

const (
	defaultFrameCount       = 10
	defaultFrameMaxInterval = 5.0
	defaultRetryBackoff     = 2 * time.Second
)

// StartRequest describes a new run.
type StartRequest struct {
	Source    breakdown.Source
	Context   string
	Languages breakdown.Languages
	Model     string
	// DeleteAfterSampling removes a local source once its frames are read,
	// as for uploaded videos.
	DeleteAfterSampling bool
}

type Orchestrator struct {
	repo       runs.Repository
	sampler    Sampler
	breakdowns Breakdowns
	gateway    generation.Gateway
	logger     *slog.Logger
	opts       Options

	mu       sync.Mutex
	sessions map[string]*Session
	restores singleflight.Group
	wg       sync.WaitGroup
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(repo runs.Repository, sampler Sampler, breakdowns Breakdowns, gateway generation.Gateway, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.FrameCount <= 0 {
		opts.FrameCount = defaultFrameCount
	}
	if opts.FrameMaxInterval <= 0 {
		opts.FrameMaxInterval = defaultFrameMaxInterval
	}
	if opts.BreakdownAttempts <= 0 {
		opts.BreakdownAttempts = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Orchestrator{
		repo:       repo,
		sampler:    sampler,
		breakdowns: breakdowns,
		gateway:    gateway,
		logger:     logging.WithComponent(logging.OrDiscard(logger), "orchestrator"),
		opts:       opts,
		sessions:   make(map[string]*Session),
		sleep:      sleepContext,
	}
}

// Begin validates req and records a new run without executing it.
func (o *Orchestrator) Begin(ctx context.Context, req StartRequest) (*runs.Run, error) {
	if req.Source == nil {
		return nil, errors.New("source is required")
	}
	langs, err := req.Languages.Normalize()
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = o.opts.BreakdownModel
	}
	if model == "" {
		return nil, errors.New("breakdown model is required")
	}

	status := runs.StatusAnalyzing
	if _, ok := req.Source.(breakdown.LocalFile); ok {
		status = runs.StatusSampling
		if o.sampler == nil {
			return nil, errors.New("local sources need a frame sampler")
		}
	}

	now := time.Now().UTC()
	run := &runs.Run{
		ID:         uuid.NewString(),
		SourceKind: req.Source.Kind(),
		Source:     req.Source.String(),
		Context:    req.Context,
		Languages:  langs,
		Model:      model,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	o.logger.Info("run created", "run_id", run.ID, "source_kind", run.SourceKind, "model", model)
	return run, nil
}

// Run records and executes a run synchronously.
func (o *Orchestrator) Run(ctx context.Context, req StartRequest) (*Session, error) {
	run, err := o.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, run, req.DeleteAfterSampling)
}

// Start records a run and executes it in the background. The run outlives
// ctx; use Wait to join it.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*runs.Run, error) {
	run, err := o.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	detached := context.WithoutCancel(ctx)
	working := *run
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(detached, &working, req.DeleteAfterSampling)
	}()
	return run, nil
}

// Wait blocks until background runs and all sessions' generations finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
	o.mu.Lock()
	sessions := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()
	for _, s := range sessions {
		s.Wait()
	}
}

// Execute samples (local sources only), breaks down and populates run. Any
// failure aborts the whole run and leaves it failed with no shots.
func (o *Orchestrator) Execute(ctx context.Context, run *runs.Run) (*Session, error) {
	return o.execute(ctx, run, false)
}

func (o *Orchestrator) execute(ctx context.Context, run *runs.Run, deleteSource bool) (*Session, error) {
	log := logging.WithRunID(o.logger, run.ID)
	start := time.Now()

	source, err := breakdown.ParseSource(run.Source)
	if err != nil {
		return nil, o.failRun(ctx, run, err)
	}
	req := breakdown.Request{Context: run.Context, Languages: run.Languages, Model: run.Model}

	var frames []media.Frame
	if local, ok := source.(breakdown.LocalFile); ok {
		o.setStatus(ctx, run, runs.StatusSampling)
		frames, err = o.sampler.SampleFile(ctx, local.Path, o.opts.FrameCount, o.opts.FrameMaxInterval)
		if deleteSource {
			if rerr := os.Remove(local.Path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				log.Warn("failed to remove sampled upload", "path", logging.SanitizePath(local.Path), "error", rerr)
			}
		}
		if err != nil {
			return nil, o.failRun(ctx, run, err)
		}
		if o.opts.Recorder != nil {
			o.opts.Recorder.FramesSampled(len(frames))
		}
		log.Info("frames sampled", "count", len(frames), "path", logging.SanitizePath(local.Path))
	}

	o.setStatus(ctx, run, runs.StatusAnalyzing)
	bd, err := o.analyze(ctx, run, source, frames, req)
	if err != nil {
		return nil, o.failRun(ctx, run, err)
	}

	registry := storyboard.NewRegistry()
	if err := registry.ReplaceAll(bd.Shots); err != nil {
		return nil, o.failRun(ctx, run, err)
	}
	if err := o.repo.CompleteRun(ctx, run.ID, bd.Script, len(frames), registry.Shots()); err != nil {
		return nil, o.failRun(ctx, run, fmt.Errorf("save breakdown: %w", err))
	}

	run.Status = runs.StatusReady
	run.Script = bd.Script
	run.FrameCount = len(frames)
	run.Error = ""
	run.UpdatedAt = time.Now().UTC()

	session := o.newSession(*run, registry)
	o.mu.Lock()
	o.sessions[run.ID] = session
	o.mu.Unlock()

	if o.opts.Recorder != nil {
		o.opts.Recorder.RunFinished(run.SourceKind, runs.StatusReady)
	}
	log.Info("run ready",
		"shots", registry.Len(),
		"attempts", run.Attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return session, nil
}

// analyze calls the breakdown service under the retry policy. Contract
// errors and permanent errors are not retried.
func (o *Orchestrator) analyze(ctx context.Context, run *runs.Run, source breakdown.Source, frames []media.Frame, req breakdown.Request) (*storyboard.Breakdown, error) {
	log := logging.WithRunID(o.logger, run.ID)

	var lastErr error
	for attempt := 1; attempt <= o.opts.BreakdownAttempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, o.opts.RetryBackoff*time.Duration(attempt-1)); err != nil {
				return nil, lastErr
			}
		}

		var bd *storyboard.Breakdown
		var err error
		switch src := source.(type) {
		case breakdown.LocalFile:
			bd, err = o.breakdowns.AnalyzeFrames(ctx, frames, req)
		case breakdown.RemoteReference:
			bd, err = o.breakdowns.AnalyzeReference(ctx, src.URL, req)
		default:
			return nil, fmt.Errorf("unsupported source %T", source)
		}

		run.Attempts = attempt
		if uerr := o.repo.UpdateRunAttempts(ctx, run.ID, attempt); uerr != nil {
			log.Warn("failed to record attempt", "error", uerr)
		}
		o.recordAttempt(err)

		if err == nil {
			return bd, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		log.Warn("breakdown attempt failed", "attempt", attempt, "max_attempts", o.opts.BreakdownAttempts, "error", err)
	}
	return nil, lastErr
}

func (o *Orchestrator) recordAttempt(err error) {
	if o.opts.Recorder == nil {
		return
	}
	var contractErr *breakdown.ServiceContractError
	switch {
	case err == nil:
		o.opts.Recorder.BreakdownAttempt("ok")
	case errors.As(err, &contractErr):
		o.opts.Recorder.BreakdownAttempt("contract_error")
	default:
		o.opts.Recorder.BreakdownAttempt("error")
	}
}

// retryable treats transport failures as transient unless the error says
// otherwise.
func retryable(err error) bool {
	var contractErr *breakdown.ServiceContractError
	if errors.As(err, &contractErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, generation.ErrAuthRequired) {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}

func (o *Orchestrator) setStatus(ctx context.Context, run *runs.Run, status string) {
	run.Status = status
	if err := o.repo.UpdateRunStatus(ctx, run.ID, status, ""); err != nil {
		logging.WithRunID(o.logger, run.ID).Warn("failed to update run status", "status", status, "error", err)
	}
}

func (o *Orchestrator) failRun(ctx context.Context, run *runs.Run, cause error) error {
	run.Status = runs.StatusFailed
	run.Error = cause.Error()
	if err := o.repo.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, runs.StatusFailed, cause.Error()); err != nil {
		logging.WithRunID(o.logger, run.ID).Error("failed to mark run failed", "error", err)
	}
	if o.opts.Recorder != nil {
		o.opts.Recorder.RunFinished(run.SourceKind, runs.StatusFailed)
	}
	logging.WithRunID(o.logger, run.ID).Error("run failed", "source_kind", run.SourceKind, "error", cause)
	return cause
}

func (o *Orchestrator) newSession(run runs.Run, registry *storyboard.Registry) *Session {
	s := &Session{registry: registry, run: run}
	log := logging.WithRunID(o.logger, run.ID)

	var recorder artifacts.Recorder
	if o.opts.Recorder != nil {
		recorder = o.opts.Recorder
	}
	s.pipeline = artifacts.New(registry, o.gateway, log, artifacts.Options{
		MaxInFlight: o.opts.MaxInFlight,
		Timeout:     o.opts.GenerationTimeout,
		Recorder:    recorder,
		OnChange: func(shot storyboard.Shot) {
			if s.discarded.Load() {
				o.removeShotAssets(log, shot.ID)
				return
			}
			if err := o.repo.SaveShot(context.Background(), run.ID, shot); err != nil {
				logging.WithShotID(log, shot.ID).Warn("failed to persist shot", "error", err)
			}
		},
	})
	return s
}

// Session returns the in-memory session of a ready run, rebuilding it from
// storage when it is not loaded. Concurrent restores of one run share a
// single load.
func (o *Orchestrator) Session(ctx context.Context, runID string) (*Session, error) {
	if s := o.loaded(runID); s != nil {
		return s, nil
	}

	v, err, _ := o.restores.Do(runID, func() (any, error) {
		if s := o.loaded(runID); s != nil {
			return s, nil
		}
		s, err := o.restore(ctx, runID)
		if err != nil {
			return nil, err
		}

		o.mu.Lock()
		defer o.mu.Unlock()
		if existing, ok := o.sessions[runID]; ok {
			return existing, nil
		}
		o.sessions[runID] = s
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (o *Orchestrator) loaded(runID string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[runID]
}

func (o *Orchestrator) restore(ctx context.Context, runID string) (*Session, error) {
	run, err := o.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	if run.Status != runs.StatusReady {
		return nil, fmt.Errorf("%w: status %s", ErrRunNotReady, run.Status)
	}
	shots, err := o.repo.ListShots(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load shots: %w", err)
	}

	registry := storyboard.NewRegistry()
	if err := registry.ReplaceAll(shots); err != nil {
		return nil, fmt.Errorf("restore storyboard: %w", err)
	}
	logging.WithRunID(o.logger, runID).Info("session restored", "shots", len(shots))
	return o.newSession(*run, registry), nil
}

// ActiveSessions is the number of storyboards held in memory.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Discard drops a run, its shots and every asset its shots ever stored.
// In-flight generations finish but are no longer persisted, and their assets
// are removed as they land.
func (o *Orchestrator) Discard(ctx context.Context, runID string) error {
	run, err := o.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return ErrRunNotFound
	}

	var shotIDs []string
	if s := o.loaded(runID); s != nil {
		s.discarded.Store(true)
		for _, shot := range s.Shots() {
			shotIDs = append(shotIDs, shot.ID)
		}
	} else {
		shots, err := o.repo.ListShots(ctx, runID)
		if err != nil {
			return fmt.Errorf("load shots: %w", err)
		}
		for _, shot := range shots {
			shotIDs = append(shotIDs, shot.ID)
		}
	}

	if err := o.repo.DeleteRun(ctx, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	o.mu.Lock()
	delete(o.sessions, runID)
	o.mu.Unlock()

	log := logging.WithRunID(o.logger, runID)
	removed := o.removeShotAssets(log, shotIDs...)
	log.Info("run discarded", "shots", len(shotIDs), "assets", removed)
	return nil
}

func (o *Orchestrator) removeShotAssets(log *slog.Logger, shotIDs ...string) int {
	if o.opts.Assets == nil || len(shotIDs) == 0 {
		return 0
	}
	n, err := o.opts.Assets.RemoveShots(shotIDs...)
	if err != nil {
		log.Warn("failed to remove shot assets", "error", err)
	}
	return n
}

// RequestImage resolves the credential for the image model and hands the
// request to the run's pipeline. ErrAuthRequired is returned before any
// state changes.
func (o *Orchestrator) RequestImage(ctx context.Context, runID, shotID string, opts artifacts.ImageOptions) (storyboard.Shot, error) {
	s, err := o.Session(ctx, runID)
	if err != nil {
		return storyboard.Shot{}, err
	}
	if opts.Model == "" {
		opts.Model = o.opts.ImageModel
	}
	if opts.Language == "" {
		opts.Language = breakdown.DisplayName(s.Run().Languages.Script)
	}
	cred, err := generation.Resolve(ctx, o.opts.Policy, o.opts.Credentials, opts.Model)
	if err != nil {
		return storyboard.Shot{}, err
	}
	return s.pipeline.RequestImage(ctx, shotID, cred, opts)
}

func (o *Orchestrator) RequestVideo(ctx context.Context, runID, shotID string, opts artifacts.VideoOptions) (storyboard.Shot, error) {
	s, err := o.Session(ctx, runID)
	if err != nil {
		return storyboard.Shot{}, err
	}
	if opts.Model == "" {
		opts.Model = o.opts.VideoModel
	}
	// A missing image outranks a missing credential.
	if shot, ok := s.Shot(shotID); ok {
		if err := artifacts.CheckVideoPrecondition(shot); err != nil {
			return storyboard.Shot{}, err
		}
	}
	cred, err := generation.Resolve(ctx, o.opts.Policy, o.opts.Credentials, opts.Model)
	if err != nil {
		return storyboard.Shot{}, err
	}
	return s.pipeline.RequestVideo(ctx, shotID, cred, opts)
}

// Document builds the export document of a ready run.
func (o *Orchestrator) Document(ctx context.Context, runID string) (export.Document, error) {
	s, err := o.Session(ctx, runID)
	if err != nil {
		return export.Document{}, err
	}
	run := s.Run()
	doc := export.Build("Storyboard "+shortID(run.ID), run.Script, s.Shots())
	doc.RunID = run.ID
	doc.Source = run.Source
	return doc, nil
}

func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*runs.Run, error) {
	run, err := o.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]*runs.Run, error) {
	return o.repo.ListRuns(ctx, limit)
}

// StoreCredential persists an API key and drops any cached credential so
// the next generation picks it up.
func (o *Orchestrator) StoreCredential(ctx context.Context, apiKey string) error {
	if err := o.repo.SetConfig(ctx, generation.ConfigKeyAPIKey, apiKey); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	if inv, ok := o.opts.Credentials.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}
	o.logger.Info("generation credential stored", "key", logging.SanitizeToken(apiKey))
	return nil
}

// CredentialStatus reports where the current credential comes from, or ""
// when none is configured.
func (o *Orchestrator) CredentialStatus(ctx context.Context) (string, error) {
	if o.opts.Credentials == nil {
		return "", nil
	}
	cred, err := o.opts.Credentials.Ensure(ctx)
	if errors.Is(err, generation.ErrAuthRequired) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cred.Source, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
