package storyboard

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrAlreadyPopulated = errors.New("storyboard already populated")
	ErrShotNotFound     = errors.New("shot not found")
)

// Registry owns the shot list of one run.
//
// Readers load an immutable snapshot without locking. Writers rebuild the
// slice with exactly one element replaced and publish it atomically, so every
// other element keeps its pointer identity and no reader sees a torn shot.
type Registry struct {
	mu        sync.Mutex
	populated bool
	shots     atomic.Pointer[[]*Shot]
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := []*Shot{}
	r.shots.Store(&empty)
	return r
}

// ReplaceAll performs the initial population. Shot numbers are re-derived
// from order. It may be called once; the list length and order are fixed
// afterwards.
func (r *Registry) ReplaceAll(shots []Shot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.populated {
		return ErrAlreadyPopulated
	}

	next := make([]*Shot, len(shots))
	seen := make(map[string]struct{}, len(shots))
	for i := range shots {
		s := shots[i]
		if s.ID == "" {
			return fmt.Errorf("shot %d has no id", i+1)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate shot id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		s.Number = i + 1
		if s.Image.State == "" {
			s.Image.State = StateEmpty
		}
		if s.Video.State == "" {
			s.Video.State = StateEmpty
		}
		next[i] = &s
	}

	r.populated = true
	r.shots.Store(&next)
	return nil
}

// Populated reports whether ReplaceAll has run.
func (r *Registry) Populated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.populated
}

// UpdateShot replaces the shot with the given id by fn's result.
func (r *Registry) UpdateShot(id string, fn func(Shot) Shot) (Shot, error) {
	return r.TryUpdateShot(id, func(s Shot) (Shot, error) {
		return fn(s), nil
	})
}

// TryUpdateShot is UpdateShot for conditional transitions: when fn returns
// an error nothing is published. ID and Number cannot be changed by fn.
func (r *Registry) TryUpdateShot(id string, fn func(Shot) (Shot, error)) (Shot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.shots.Load()
	idx := -1
	for i, s := range cur {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Shot{}, fmt.Errorf("%w: %s", ErrShotNotFound, id)
	}

	updated, err := fn(*cur[idx])
	if err != nil {
		return Shot{}, err
	}
	updated.ID = cur[idx].ID
	updated.Number = cur[idx].Number

	next := make([]*Shot, len(cur))
	copy(next, cur)
	next[idx] = &updated
	r.shots.Store(&next)
	return updated, nil
}

// Snapshot returns the current list. The slice and the shots it points to
// must be treated as read-only.
func (r *Registry) Snapshot() []*Shot {
	return *r.shots.Load()
}

// Shots returns a copy of the current list.
func (r *Registry) Shots() []Shot {
	snap := r.Snapshot()
	out := make([]Shot, len(snap))
	for i, s := range snap {
		out[i] = *s
	}
	return out
}

// Shot returns a copy of one shot.
func (r *Registry) Shot(id string) (Shot, bool) {
	for _, s := range r.Snapshot() {
		if s.ID == id {
			return *s, true
		}
	}
	return Shot{}, false
}

func (r *Registry) Len() int {
	return len(r.Snapshot())
}
