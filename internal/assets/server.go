package assets

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/reelkit/reel-agent/internal/logging"
)

// Server streams stored assets with range support so generated clips can be
// scrubbed in the dashboard player.
type Server struct {
	store  *Store
	logger *slog.Logger
}

func NewServer(store *Store, logger *slog.Logger) *Server {
	return &Server{store: store, logger: logging.OrDiscard(logger)}
}

func (s *Server) ServeAsset(w http.ResponseWriter, r *http.Request, name string) error {
	path, err := s.store.Path(name)
	if err != nil {
		http.Error(w, "asset not found", http.StatusNotFound)
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "asset not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open asset: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat asset: %w", err)
	}

	w.Header().Set("Content-Type", ContentType(name))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")

	http.ServeContent(w, r, name, stat.ModTime(), file)
	return nil
}
