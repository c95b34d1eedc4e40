// Package watcher reports video files that land in an inbox directory.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/runs"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

var _ Watcher = (*InboxWatcher)(nil)

// DefaultSettle is how long a file must stay unwritten before it is reported.
const DefaultSettle = 2 * time.Second

// InboxWatcher reports each video file created in a directory once it has
// stopped growing. Later writes to a reported file are reported as
// EventModify; removals as EventDelete.
type InboxWatcher struct {
	logger *slog.Logger
	settle time.Duration

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	callback func(path string, event EventType)
	pending  map[string]time.Time
	reported map[string]struct{}
	done     chan struct{}
	paused   atomic.Bool
}

func NewInboxWatcher(settle time.Duration, logger *slog.Logger) *InboxWatcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &InboxWatcher{
		logger:   logging.WithComponent(logging.OrDiscard(logger), "watcher"),
		settle:   settle,
		pending:  make(map[string]time.Time),
		reported: make(map[string]struct{}),
	}
}

func (w *InboxWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch creates dir if needed and starts watching it. It returns once the
// watch is registered; events are delivered until ctx ends or Stop.
func (w *InboxWatcher) Watch(ctx context.Context, dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return errors.New("watcher already running")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	go w.loop(ctx, fsw, w.done)
	w.logger.Info("watching inbox", "dir", logging.SanitizePath(dir), "settle_ms", w.settle.Milliseconds())
	return nil
}

// Stop ends the watch and waits for the event loop to exit.
func (w *InboxWatcher) Stop() error {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.fsw = nil
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}

func (w *InboxWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	tick := time.NewTicker(w.settle / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("inbox watch error", "error", err)
		case now := <-tick.C:
			w.flush(now)
		}
	}
}

func (w *InboxWatcher) handle(ev fsnotify.Event) {
	if !wanted(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.pending, ev.Name)
		_, was := w.reported[ev.Name]
		delete(w.reported, ev.Name)
		w.mu.Unlock()
		if was {
			w.emit(ev.Name, EventDelete)
		}
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.mu.Lock()
		w.pending[ev.Name] = time.Now()
		w.mu.Unlock()
	}
}

// Pause holds settled files back until Resume. Events are still tracked.
func (w *InboxWatcher) Pause() {
	if !w.paused.Swap(true) {
		w.logger.Info("inbox paused")
	}
}

func (w *InboxWatcher) Resume() {
	if w.paused.Swap(false) {
		w.logger.Info("inbox resumed")
	}
}

func (w *InboxWatcher) IsPaused() bool {
	return w.paused.Load()
}

// flush reports pending files that have settled.
func (w *InboxWatcher) flush(now time.Time) {
	if w.paused.Load() {
		return
	}
	type ready struct {
		path  string
		event EventType
	}
	var out []ready

	w.mu.Lock()
	for path, last := range w.pending {
		if now.Sub(last) < w.settle {
			continue
		}
		delete(w.pending, path)
		event := EventCreate
		if _, ok := w.reported[path]; ok {
			event = EventModify
		}
		w.reported[path] = struct{}{}
		out = append(out, ready{path, event})
	}
	w.mu.Unlock()

	for _, r := range out {
		w.emit(r.path, r.event)
	}
}

func (w *InboxWatcher) emit(path string, event EventType) {
	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()

	w.logger.Debug("inbox event", "event", event.String(), "path", logging.SanitizePath(path))
	if cb != nil {
		cb(path, event)
	}
}

// wanted skips hidden files and anything that is not a video.
func wanted(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return runs.IsVideoFile(base)
}
