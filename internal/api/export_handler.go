package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/reelkit/reel-agent/internal/export"
)

func exportFormat(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", export.FormatMarkdown, "md":
		return export.FormatMarkdown, true
	case export.FormatJSON:
		return export.FormatJSON, true
	}
	return "", false
}

// downloadExportHandler returns the rendered document as an attachment.
func downloadExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, ok := exportFormat(r.URL.Query().Get("format"))
		if !ok {
			WriteError(w, http.StatusBadRequest, "format must be markdown or json", "BAD_REQUEST")
			return
		}

		doc, err := cfg.Service.Document(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		data, ext, err := export.Render(doc, format)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		contentType := "text/markdown; charset=utf-8"
		if format == export.FormatJSON {
			contentType = "application/json"
		}
		name := export.SanitizeName(doc.Title, 120)
		if name == "" {
			name = "storyboard"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+ext))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

// writeExportHandler writes the document into a directory on this machine.
func writeExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		format, ok := exportFormat(req.Format)
		if !ok {
			WriteError(w, http.StatusBadRequest, "format must be markdown or json", "BAD_REQUEST")
			return
		}
		req.Format = format

		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		doc, err := cfg.Service.Document(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp, err := export.Write(doc, req)
		if err != nil {
			cfg.Logger.Error("export failed", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}
