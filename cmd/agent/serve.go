package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/reelkit/reel-agent/internal/api"
	"github.com/reelkit/reel-agent/internal/assets"
	"github.com/reelkit/reel-agent/internal/breakdown"
	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/orchestrator"
	"github.com/reelkit/reel-agent/internal/runs"
	"github.com/reelkit/reel-agent/internal/ui"
	"github.com/reelkit/reel-agent/internal/watcher"
)

const drainTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP agent (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), headless)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "Run without the system tray")
	return cmd
}

func runServe(parent context.Context, headless bool) error {
	startTime := time.Now()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting reel agent", "version", Version, "data_dir", cfg.DataDir())

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another reel agent is already running for this data dir")
	}
	defer lock.Unlock()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.db.Close()

	authToken, err := ensureAuthToken(a.repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  %-56s ║\n", "REEL AGENT v"+Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-44s ║\n", authToken)
	fmt.Printf("║  Gateway:    %-44s ║\n", cfg.Gateway())
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	initCtx, initCancel := context.WithTimeout(parent, 10*time.Second)
	if caps, err := a.doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial media probe failed", "error", err)
	} else if !caps.CanSample() {
		logger.Warn("ffmpeg/ffprobe unavailable, local videos cannot be sampled",
			"ffmpeg", caps.FFmpeg.Error,
			"ffprobe", caps.FFprobe.Error,
		)
	} else {
		logger.Info("media toolchain detected", "ffmpeg", caps.FFmpeg.Version)
	}
	initCancel()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var inbox *watcher.InboxWatcher
	if dir := cfg.InboxDir(); dir != "" {
		inbox = watcher.NewInboxWatcher(watcher.DefaultSettle, logger)
		inbox.OnChange(func(path string, event watcher.EventType) {
			if event != watcher.EventCreate {
				return
			}
			run, err := a.orch.Start(ctx, orchestrator.StartRequest{Source: breakdown.LocalFile{Path: path}})
			if err != nil {
				logger.Error("inbox run failed to start", "path", logging.SanitizePath(path), "error", err)
				return
			}
			logger.Info("inbox run started", "run_id", run.ID, "path", logging.SanitizePath(path))
		})
		if err := inbox.Watch(ctx, dir); err != nil {
			return fmt.Errorf("failed to watch inbox: %w", err)
		}
		defer inbox.Stop()
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Service:        a.orch,
		Config:         a.repo,
		Assets:         assets.NewServer(a.store, logger),
		Doctor:         a.doctor,
		Metrics:        a.metrics,
		UploadDir:      filepath.Join(cfg.CacheDir(), "uploads"),
		AllowedOrigins: []string{cfg.DashboardOrigin()},
		Logger:         logger,
		StartTime:      startTime,
		Version:        Version,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	if headless || cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		trayCfg := ui.TrayConfig{
			Status: a.orch,
			APIURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Port()),
			Logger: logger,
			OnQuit: quit,
		}
		if inbox != nil {
			trayCfg.Inbox = inbox
		}
		tray := ui.NewTray(trayCfg)
		go tray.Run()
		defer tray.Quit()
	}

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-quitCh:
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	drained := make(chan struct{})
	go func() {
		a.orch.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		logger.Warn("generations still running at shutdown, abandoning", "active_sessions", a.orch.ActiveSessions())
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo *runs.SQLiteRepository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.ConfigKeyAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.ConfigKeyAuthToken, token); err != nil {
		return "", err
	}

	return token, nil
}
