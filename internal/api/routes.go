package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reelkit/reel-agent/internal/artifacts"
	"github.com/reelkit/reel-agent/internal/generation"
	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/metrics"
	"github.com/reelkit/reel-agent/internal/orchestrator"
	"github.com/reelkit/reel-agent/internal/runs"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.WithComponent(logging.OrDiscard(cfg.Logger), "api")
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.AllowedOrigins...))

	if cfg.Metrics != nil {
		r.Use(metrics.RequestMiddleware(cfg.Metrics))
		r.Handle("/metrics", cfg.Metrics.Handler(func() {
			if cfg.Service != nil {
				cfg.Metrics.SetActiveSessions(cfg.Service.ActiveSessions())
			}
		}))
	}

	r.Get("/health", healthHandler(cfg))

	// Media elements cannot send bearer tokens, so artifacts are served
	// without auth but only to this machine.
	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Get("/artifacts/{name}", artifactHandler(cfg))
		r.Head("/artifacts/{name}", artifactHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Config, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/credentials", getCredentialHandler(cfg))
		r.Post("/credentials", storeCredentialHandler(cfg))

		r.Get("/runs", listRunsHandler(cfg))
		r.Post("/runs", createRunHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))
		r.Delete("/runs/{id}", deleteRunHandler(cfg))
		r.Post("/runs/{id}/shots/{shotID}/image", requestImageHandler(cfg))
		r.Post("/runs/{id}/shots/{shotID}/video", requestVideoHandler(cfg))
		r.Get("/runs/{id}/export", downloadExportHandler(cfg))
		r.Post("/runs/{id}/export", writeExportHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		source, err := cfg.Service.CredentialStatus(ctx)
		if err != nil {
			cfg.Logger.Warn("credential lookup failed", "error", err)
		}
		if source == "" {
			source = "none"
		}

		resp := StatusResponse{
			State:          "idle",
			Credential:     source,
			ActiveSessions: cfg.Service.ActiveSessions(),
		}

		recent, _ := cfg.Service.ListRuns(ctx, 20)
		for i, run := range recent {
			if !run.Terminal() {
				resp.State = "analyzing"
				resp.RunsActive++
			}
			if i == 0 && run.Status == runs.StatusFailed {
				resp.LastError = run.Error
			}
		}
		if resp.LastError != "" && resp.State == "idle" {
			resp.State = "error"
		}

		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(ctx)
			if err == nil && caps != nil {
				media := &MediaStatusResponse{
					CanSample:      caps.CanSample(),
					FFmpegVersion:  caps.FFmpeg.Version,
					FFprobeVersion: caps.FFprobe.Version,
				}
				if !caps.ProbedAt.IsZero() {
					media.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				resp.Media = media
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func getCredentialHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source, err := cfg.Service.CredentialStatus(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to read credential", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, CredentialResponse{Configured: source != "", Source: source})
	}
}

func storeCredentialHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CredentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		key := strings.TrimSpace(req.APIKey)
		if key == "" {
			WriteError(w, http.StatusBadRequest, "api_key is required", "BAD_REQUEST")
			return
		}

		if err := cfg.Service.StoreCredential(r.Context(), key); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		source, _ := cfg.Service.CredentialStatus(r.Context())
		WriteJSON(w, http.StatusOK, CredentialResponse{Configured: source != "", Source: source})
	}
}

func artifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if cfg.Assets == nil || name == "" {
			WriteError(w, http.StatusNotFound, "asset not found", "NOT_FOUND")
			return
		}
		if err := cfg.Assets.ServeAsset(w, r, name); err != nil {
			cfg.Logger.Error("artifact serve error", "error", err, "asset", name)
		}
	}
}

// writeServiceError maps orchestrator and pipeline errors onto responses.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var precond *artifacts.PreconditionError
	switch {
	case errors.Is(err, orchestrator.ErrRunNotFound):
		WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
	case errors.Is(err, storyboard.ErrShotNotFound):
		WriteError(w, http.StatusNotFound, "shot not found", "NOT_FOUND")
	case errors.Is(err, orchestrator.ErrRunNotReady):
		WriteError(w, http.StatusConflict, err.Error(), "RUN_NOT_READY")
	case errors.Is(err, artifacts.ErrInFlight):
		WriteError(w, http.StatusConflict, err.Error(), "IN_FLIGHT")
	case errors.As(err, &precond):
		WriteError(w, http.StatusConflict, err.Error(), "IMAGE_NOT_READY")
	case errors.Is(err, generation.ErrAuthRequired):
		WriteError(w, http.StatusUnauthorized, "a generation API key is required", "AUTH_REQUIRED")
	default:
		logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
