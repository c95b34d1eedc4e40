package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/reelkit/reel-agent/internal/assets"
	"github.com/reelkit/reel-agent/internal/breakdown"
	"github.com/reelkit/reel-agent/internal/cloud"
	"github.com/reelkit/reel-agent/internal/config"
	"github.com/reelkit/reel-agent/internal/db"
	"github.com/reelkit/reel-agent/internal/gemini"
	"github.com/reelkit/reel-agent/internal/generation"
	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/media"
	"github.com/reelkit/reel-agent/internal/metrics"
	"github.com/reelkit/reel-agent/internal/orchestrator"
	"github.com/reelkit/reel-agent/internal/runs"
)

// app holds everything the serve and breakdown commands share.
type app struct {
	cfg     *config.EnvConfig
	logger  *slog.Logger
	db      *db.DB
	repo    *runs.SQLiteRepository
	store   *assets.Store
	doctor  *media.CachedDoctor
	metrics *metrics.Metrics
	orch    *orchestrator.Orchestrator
}

func loadConfig() (*config.EnvConfig, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.CacheDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return cfg, nil
}

func newApp(cfg *config.EnvConfig, logger *slog.Logger) (*app, error) {
	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	repo := runs.NewRepository(database.Conn())

	store, err := assets.NewStore(cfg.ArtifactsDir(), logger)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	credentials := generation.NewChainProvider(cfg.GeminiAPIKey(), repo, logger)

	var gateway generation.Gateway
	var analyzer breakdown.Analyzer
	switch cfg.Gateway() {
	case config.GatewayHTTP:
		client := cloud.NewHTTPClient(cfg.GatewayURL(), cfg.GatewayToken(), store, logger)
		gateway, analyzer = client, client
		logger.Info("using http generation gateway", "url", logging.SanitizeURL(cfg.GatewayURL()))
	default:
		backend := gemini.NewBackend(credentials, store, logger)
		gateway, analyzer = gemini.NewGateway(backend), gemini.NewAnalyzer(backend)
	}

	m := metrics.New()
	sampler := media.NewSampler(media.NewFFmpegDecoder(cfg.FFmpegPath(), cfg.FFprobePath(), logger), logger)

	orch := orchestrator.New(repo, sampler, breakdown.NewService(analyzer, logger), gateway, logger, orchestrator.Options{
		FrameCount:        cfg.FrameCount(),
		FrameMaxInterval:  cfg.FrameMaxInterval(),
		BreakdownModel:    cfg.BreakdownModel(),
		ImageModel:        cfg.ImageModel(),
		VideoModel:        cfg.VideoModel(),
		BreakdownAttempts: cfg.BreakdownAttempts(),
		MaxInFlight:       int64(cfg.MaxInFlight()),
		GenerationTimeout: cfg.GenerationTimeout(),
		Policy:            generation.NewPolicy(cfg.CredentialModels()),
		Credentials:       credentials,
		Assets:            store,
		Recorder:          m,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      database,
		repo:    repo,
		store:   store,
		doctor:  media.NewCachedDoctor(media.ToolchainProber{FFmpeg: cfg.FFmpegPath(), FFprobe: cfg.FFprobePath()}, logger),
		metrics: m,
		orch:    orch,
	}, nil
}

// Close waits for in-flight work and closes the database.
func (a *app) Close() error {
	a.orch.Wait()
	return a.db.Close()
}
