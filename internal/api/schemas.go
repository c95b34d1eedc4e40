package api

import (
	"time"

	"github.com/reelkit/reel-agent/internal/breakdown"
	"github.com/reelkit/reel-agent/internal/runs"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State          string               `json:"state"`
	Credential     string               `json:"credential"`
	ActiveSessions int                  `json:"active_sessions"`
	RunsActive     int                  `json:"runs_active"`
	LastError      string               `json:"last_error,omitempty"`
	Media          *MediaStatusResponse `json:"media,omitempty"`
}

type MediaStatusResponse struct {
	CanSample      bool   `json:"can_sample"`
	FFmpegVersion  string `json:"ffmpeg_version,omitempty"`
	FFprobeVersion string `json:"ffprobe_version,omitempty"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
}

type CredentialRequest struct {
	APIKey string `json:"api_key"`
}

type CredentialResponse struct {
	Configured bool   `json:"configured"`
	Source     string `json:"source,omitempty"`
}

type CreateRunRequest struct {
	Source    string              `json:"source"`
	Context   string              `json:"context,omitempty"`
	Languages breakdown.Languages `json:"languages"`
	Model     string              `json:"model,omitempty"`
}

type RunResponse struct {
	ID         string              `json:"id"`
	SourceKind string              `json:"source_kind"`
	Source     string              `json:"source"`
	Context    string              `json:"context,omitempty"`
	Languages  breakdown.Languages `json:"languages"`
	Model      string              `json:"model"`
	Status     string              `json:"status"`
	Script     string              `json:"script,omitempty"`
	FrameCount int                 `json:"frame_count"`
	Attempts   int                 `json:"attempts"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  string              `json:"created_at"`
	UpdatedAt  string              `json:"updated_at"`
	Shots      []ShotResponse      `json:"shots,omitempty"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// ShotResponse is a shot plus dashboard URLs of its ready artifacts.
type ShotResponse struct {
	storyboard.Shot
	ImageURL string `json:"image_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

type ImageRequest struct {
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	Style       string   `json:"style,omitempty"`
	Language    string   `json:"language,omitempty"`
	Flags       []string `json:"flags,omitempty"`
	Model       string   `json:"model,omitempty"`
}

type VideoRequest struct {
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Model       string `json:"model,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *runs.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		SourceKind: r.SourceKind,
		Source:     r.Source,
		Context:    r.Context,
		Languages:  r.Languages,
		Model:      r.Model,
		Status:     r.Status,
		Script:     r.Script,
		FrameCount: r.FrameCount,
		Attempts:   r.Attempts,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  r.UpdatedAt.Format(time.RFC3339),
	}
}

func ShotToResponse(s storyboard.Shot) ShotResponse {
	resp := ShotResponse{Shot: s}
	if s.Image.State == storyboard.StateReady && s.Image.Value != nil {
		resp.ImageURL = artifactURL(s.Image.Value.Asset, s.Image.Value.URI)
	}
	if s.Video.State == storyboard.StateReady && s.Video.Value != nil {
		resp.VideoURL = artifactURL(s.Video.Value.Asset, s.Video.Value.URI)
	}
	return resp
}

func ShotsToResponse(shots []storyboard.Shot) []ShotResponse {
	out := make([]ShotResponse, len(shots))
	for i, s := range shots {
		out[i] = ShotToResponse(s)
	}
	return out
}

func artifactURL(asset, uri string) string {
	if asset != "" {
		return "/artifacts/" + asset
	}
	return uri
}
