package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/reelkit/reel-agent/internal/artifacts"
	"github.com/reelkit/reel-agent/internal/assets"
	"github.com/reelkit/reel-agent/internal/export"
	"github.com/reelkit/reel-agent/internal/media"
	"github.com/reelkit/reel-agent/internal/metrics"
	"github.com/reelkit/reel-agent/internal/orchestrator"
	"github.com/reelkit/reel-agent/internal/runs"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

// Service is what the API needs from the orchestrator.
type Service interface {
	Start(ctx context.Context, req orchestrator.StartRequest) (*runs.Run, error)
	GetRun(ctx context.Context, runID string) (*runs.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*runs.Run, error)
	Session(ctx context.Context, runID string) (*orchestrator.Session, error)
	Discard(ctx context.Context, runID string) error
	RequestImage(ctx context.Context, runID, shotID string, opts artifacts.ImageOptions) (storyboard.Shot, error)
	RequestVideo(ctx context.Context, runID, shotID string, opts artifacts.VideoOptions) (storyboard.Shot, error)
	Document(ctx context.Context, runID string) (export.Document, error)
	StoreCredential(ctx context.Context, apiKey string) error
	CredentialStatus(ctx context.Context) (string, error)
	ActiveSessions() int
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Service        Service
	Config         ConfigStore
	Assets         *assets.Server
	Doctor         *media.CachedDoctor
	Metrics        *metrics.Metrics
	UploadDir      string
	MaxUploadBytes int64
	AllowedOrigins []string
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
