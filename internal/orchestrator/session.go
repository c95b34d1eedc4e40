package orchestrator

import (
	"sync"
	"sync/atomic"

	"github.com/reelkit/reel-agent/internal/artifacts"
	"github.com/reelkit/reel-agent/internal/runs"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

// Session is a populated storyboard held in memory for generation.
type Session struct {
	registry  *storyboard.Registry
	pipeline  *artifacts.Pipeline
	discarded atomic.Bool

	mu  sync.RWMutex
	run runs.Run
}

// Run returns a copy of the session's run record.
func (s *Session) Run() runs.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}

func (s *Session) Script() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run.Script
}

// Shots returns the current shot list in storyboard order.
func (s *Session) Shots() []storyboard.Shot {
	return s.registry.Shots()
}

func (s *Session) Shot(id string) (storyboard.Shot, bool) {
	return s.registry.Shot(id)
}

// Wait blocks until the session's in-flight generations finish.
func (s *Session) Wait() {
	s.pipeline.Wait()
}
