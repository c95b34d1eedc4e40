// Package assets stores generated images and clips on disk and serves them
// to the dashboard.
package assets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/reelkit/reel-agent/internal/logging"
)

var ErrInvalidName = errors.New("invalid asset name")

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
}

// ContentType maps an asset name to its MIME type. The platform MIME table
// is consulted only for extensions the store never writes itself.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	for mimeType, e := range extensions {
		if e == ext {
			return mimeType
		}
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Store keeps assets as flat files under one directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create assets dir: %w", err)
	}
	return &Store{dir: dir, logger: logging.OrDiscard(logger)}, nil
}

func (s *Store) Dir() string { return s.dir }

// NewName builds a unique asset name for a shot artifact.
func NewName(shotID, kind, mimeType string) string {
	ext, ok := extensions[strings.ToLower(mimeType)]
	if !ok {
		ext = ".bin"
	}
	return fmt.Sprintf("%s-%s-%s%s", sanitizeSegment(shotID), kind, uuid.NewString()[:8], ext)
}

// Save writes data under a fresh name and returns it.
func (s *Store) Save(shotID, kind, mimeType string, data []byte) (string, error) {
	name := NewName(shotID, kind, mimeType)
	if _, err := s.write(name, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return name, nil
}

// SaveStream copies r under a fresh name and returns it with the byte count.
func (s *Store) SaveStream(shotID, kind, mimeType string, r io.Reader) (string, int64, error) {
	name := NewName(shotID, kind, mimeType)
	n, err := s.write(name, r)
	if err != nil {
		return "", 0, err
	}
	return name, n, nil
}

// write goes through a temp file so readers never see a partial asset.
func (s *Store) write(name string, r io.Reader) (int64, error) {
	path, err := s.Path(name)
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp asset: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write asset %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("commit asset %s: %w", name, err)
	}
	s.logger.Debug("asset saved", "name", name, "bytes", n)
	return n, nil
}

// Path resolves name inside the store, rejecting anything that could escape
// the directory.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *Store) Read(name string) ([]byte, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Remove deletes assets, ignoring ones that are already gone.
func (s *Store) Remove(names ...string) error {
	var errs []error
	for _, name := range names {
		if name == "" {
			continue
		}
		path, err := s.Path(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveShots deletes every asset saved for the given shots and reports how
// many were removed. Names start with the shot segment, so superseded images
// and late arrivals are found too.
func (s *Store) RemoveShots(shotIDs ...string) (int, error) {
	var names []string
	for _, id := range shotIDs {
		if id == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(s.dir, sanitizeSegment(id)+"-*"))
		if err != nil {
			return 0, fmt.Errorf("match assets of shot %s: %w", id, err)
		}
		for _, m := range matches {
			names = append(names, filepath.Base(m))
		}
	}
	if err := s.Remove(names...); err != nil {
		return 0, err
	}
	if len(names) > 0 {
		s.logger.Debug("shot assets removed", "shots", len(shotIDs), "assets", len(names))
	}
	return len(names), nil
}

func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "asset"
	}
	return b.String()
}
