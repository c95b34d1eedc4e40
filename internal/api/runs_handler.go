package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reelkit/reel-agent/internal/artifacts"
	"github.com/reelkit/reel-agent/internal/breakdown"
	"github.com/reelkit/reel-agent/internal/generation"
	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/orchestrator"
	"github.com/reelkit/reel-agent/internal/runs"
)

const (
	defaultMaxUploadBytes = 4 << 30
	maxFormFieldBytes     = 64 << 10
)

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		list, err := cfg.Service.ListRuns(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(list))}
		for i, run := range list {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		run, err := cfg.Service.GetRun(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := RunToResponse(run)
		if run.Status == runs.StatusReady {
			session, err := cfg.Service.Session(r.Context(), id)
			if err != nil {
				writeServiceError(w, cfg.Logger, err)
				return
			}
			resp.Shots = ShotsToResponse(session.Shots())
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func deleteRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Service.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// createRunHandler accepts either a JSON body naming a URL or local path,
// or a multipart upload with the video in the "file" part.
func createRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

		var req CreateRunRequest
		var uploaded string
		if mediaType == "multipart/form-data" {
			var status int
			var err error
			req, uploaded, status, err = receiveUpload(cfg, w, r)
			if err != nil {
				WriteError(w, status, err.Error(), "BAD_REQUEST")
				return
			}
		} else {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		cleanup := func() {
			if uploaded != "" {
				os.Remove(uploaded)
			}
		}

		source, err := parseRunSource(req.Source)
		if err != nil {
			cleanup()
			WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_SOURCE")
			return
		}
		langs, err := req.Languages.Normalize()
		if err != nil {
			cleanup()
			WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_LANGUAGE")
			return
		}

		run, err := cfg.Service.Start(r.Context(), orchestrator.StartRequest{
			Source:    source,
			Context:   req.Context,
			Languages: langs,
			Model:     req.Model,
			// Uploads exist only to be sampled.
			DeleteAfterSampling: uploaded != "",
		})
		if err != nil {
			cleanup()
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, RunToResponse(run))
	}
}

// parseRunSource accepts an http(s) reference or an existing local video.
func parseRunSource(raw string) (breakdown.Source, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("source is required")
	}
	source, err := breakdown.ParseSource(raw)
	if err != nil {
		return nil, err
	}
	if local, ok := source.(breakdown.LocalFile); ok {
		info, err := os.Stat(local.Path)
		if err != nil || !info.Mode().IsRegular() {
			return nil, fmt.Errorf("source file not found: %s", filepath.Base(local.Path))
		}
		if !runs.IsVideoFile(local.Path) {
			return nil, fmt.Errorf("unsupported video type %q", filepath.Ext(local.Path))
		}
	}
	return source, nil
}

// receiveUpload streams the "file" part into the upload dir and collects
// the other form fields. The returned path is the saved file.
func receiveUpload(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (CreateRunRequest, string, int, error) {
	var req CreateRunRequest
	if cfg.UploadDir == "" {
		return req, "", http.StatusServiceUnavailable, errors.New("uploads are not enabled")
	}

	limit := cfg.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mr, err := r.MultipartReader()
	if err != nil {
		return req, "", http.StatusBadRequest, errors.New("invalid multipart body")
	}

	var saved string
	fail := func(status int, err error) (CreateRunRequest, string, int, error) {
		if saved != "" {
			os.Remove(saved)
		}
		return req, "", status, err
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(http.StatusBadRequest, errors.New("invalid multipart body"))
		}

		if part.FormName() == "file" {
			if saved != "" {
				part.Close()
				return fail(http.StatusBadRequest, errors.New("only one file may be uploaded"))
			}
			path, n, err := saveUpload(cfg.UploadDir, part)
			part.Close()
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					return fail(http.StatusRequestEntityTooLarge, errors.New("upload too large"))
				}
				return fail(http.StatusBadRequest, err)
			}
			saved = path
			cfg.Logger.Info("video uploaded", "path", logging.SanitizePath(path), "bytes", n)
			continue
		}

		value, err := io.ReadAll(io.LimitReader(part, maxFormFieldBytes))
		part.Close()
		if err != nil {
			return fail(http.StatusBadRequest, errors.New("invalid multipart body"))
		}
		v := strings.TrimSpace(string(value))
		switch part.FormName() {
		case "context":
			req.Context = v
		case "model":
			req.Model = v
		case "script_language":
			req.Languages.Script = v
		case "storyboard_language":
			req.Languages.Storyboard = v
		case "prompt_language":
			req.Languages.Prompt = v
		}
	}

	if saved == "" {
		return fail(http.StatusBadRequest, errors.New("file is required"))
	}
	req.Source = saved
	return req, saved, http.StatusOK, nil
}

func saveUpload(dir string, part *multipart.Part) (string, int64, error) {
	if !runs.IsVideoFile(part.FileName()) {
		return "", 0, errors.New("file must be a video (.mp4, .mov, .mkv, .webm, .m4v)")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(part.FileName()))
	path := filepath.Join(dir, uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create upload: %w", err)
	}
	n, err := io.Copy(f, part)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, n, nil
}

func requestImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImageRequest
		if err := decodeOptional(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if !generation.ValidAspectRatio(req.AspectRatio) {
			WriteError(w, http.StatusBadRequest, "aspect_ratio must be 16:9, 9:16 or 1:1", "BAD_REQUEST")
			return
		}

		shot, err := cfg.Service.RequestImage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "shotID"), artifacts.ImageOptions{
			AspectRatio: req.AspectRatio,
			Style:       req.Style,
			Language:    req.Language,
			Flags:       req.Flags,
			Model:       req.Model,
		})
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, ShotToResponse(shot))
	}
}

func requestVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VideoRequest
		if err := decodeOptional(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if !generation.ValidAspectRatio(req.AspectRatio) {
			WriteError(w, http.StatusBadRequest, "aspect_ratio must be 16:9, 9:16 or 1:1", "BAD_REQUEST")
			return
		}

		shot, err := cfg.Service.RequestVideo(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "shotID"), artifacts.VideoOptions{
			AspectRatio: req.AspectRatio,
			Model:       req.Model,
		})
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, ShotToResponse(shot))
	}
}

// decodeOptional decodes a JSON body into v; an empty body leaves v as is.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
