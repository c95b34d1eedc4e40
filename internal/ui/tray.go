// Package ui shows the agent in the system tray.
package ui

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/runs"
)

//go:embed icon.png
var iconBytes []byte

const refreshInterval = 5 * time.Second

// StatusSource is the part of the orchestrator the tray reads.
type StatusSource interface {
	ActiveSessions() int
	ListRuns(ctx context.Context, limit int) ([]*runs.Run, error)
}

// Pauser is the inbox watcher's pause switch.
type Pauser interface {
	Pause()
	Resume()
	IsPaused() bool
}

type Tray struct {
	status StatusSource
	inbox  Pauser
	logger *slog.Logger
	apiURL string

	statusItem   *systray.MenuItem
	sessionsItem *systray.MenuItem
	pauseItem    *systray.MenuItem

	mu sync.Mutex

	onQuit func()
	stop   chan struct{}
}

type TrayConfig struct {
	Status StatusSource
	// Inbox is nil when no inbox directory is configured.
	Inbox  Pauser
	APIURL string
	Logger *slog.Logger
	OnQuit func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		status: cfg.Status,
		inbox:  cfg.Inbox,
		apiURL: cfg.APIURL,
		logger: logging.WithComponent(logging.OrDiscard(cfg.Logger), "tray"),
		onQuit: cfg.OnQuit,
		stop:   make(chan struct{}),
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Reel")
	systray.SetTooltip("Reel Agent " + t.apiURL)

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.sessionsItem = systray.AddMenuItem("Storyboards: 0", "Storyboards open in memory")
	t.sessionsItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause Inbox", "Stop starting runs for new inbox videos")
	if t.inbox == nil {
		t.pauseItem.SetTitle("Inbox: not configured")
		t.pauseItem.Disable()
	}

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Reel Agent")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	go t.refreshLoop()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	tick := time.NewTicker(refreshInterval)
	defer tick.Stop()

	t.refresh()
	for {
		select {
		case <-t.stop:
			return
		case <-tick.C:
			t.refresh()
		}
	}
}

func (t *Tray) refresh() {
	if t.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	list, err := t.status.ListRuns(ctx, 20)
	if err != nil {
		t.logger.Warn("tray refresh failed", "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusItem.SetTitle("Status: " + StatusTitle(list, t.inbox != nil && t.inbox.IsPaused()))
	t.sessionsItem.SetTitle(fmt.Sprintf("Storyboards: %d", t.status.ActiveSessions()))
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inbox == nil {
		return
	}

	if t.inbox.IsPaused() {
		t.inbox.Resume()
		t.pauseItem.SetTitle("Pause Inbox")
	} else {
		t.inbox.Pause()
		t.pauseItem.SetTitle("Resume Inbox")
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

// StatusTitle summarizes recent runs for the tray's status line.
func StatusTitle(recent []*runs.Run, inboxPaused bool) string {
	working := 0
	for _, r := range recent {
		if !r.Terminal() {
			working++
		}
	}

	var title string
	switch {
	case working == 1:
		title = "Analyzing 1 video"
	case working > 1:
		title = fmt.Sprintf("Analyzing %d videos", working)
	default:
		title = "Idle"
	}
	if inboxPaused {
		title += " (inbox paused)"
	}
	return title
}
