package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reelkit/reel-agent/internal/storyboard"
)

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateRunAttempts(ctx context.Context, id string, attempts int) error
	CompleteRun(ctx context.Context, id, script string, frameCount int, shots []storyboard.Shot) error
	DeleteRun(ctx context.Context, id string) error

	SaveShot(ctx context.Context, runID string, shot storyboard.Shot) error
	ListShots(ctx context.Context, runID string) ([]storyboard.Shot, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	DeleteConfig(ctx context.Context, key string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const runColumns = `id, source_kind, source, context, languages, model, status, script, frame_count, attempts, error, created_at, updated_at`

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	langs, err := json.Marshal(run.Languages)
	if err != nil {
		return fmt.Errorf("marshal languages: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SourceKind, run.Source, run.Context, string(langs), run.Model, run.Status, run.Script,
		run.FrameCount, run.Attempts, nullString(run.Error), formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var out []*Run
	for rows.Next() {
		var run Run
		var langs, createdAt, updatedAt string
		var errMsg sql.NullString

		if err := rows.Scan(&run.ID, &run.SourceKind, &run.Source, &run.Context, &langs, &run.Model, &run.Status,
			&run.Script, &run.FrameCount, &run.Attempts, &errMsg, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(langs), &run.Languages); err != nil {
			return nil, fmt.Errorf("run %s languages: %w", run.ID, err)
		}
		run.Error = errMsg.String
		run.CreatedAt = parseTime(createdAt)
		run.UpdatedAt = parseTime(updatedAt)
		out = append(out, &run)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateRunAttempts(ctx context.Context, id string, attempts int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET attempts = ?, updated_at = ? WHERE id = ?
	`, attempts, formatTime(time.Now()), id)
	return err
}

// CompleteRun stores the breakdown and marks the run ready in one
// transaction, so a run is never ready without its shots.
func (r *SQLiteRepository) CompleteRun(ctx context.Context, id, script string, frameCount int, shots []storyboard.Shot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = ?, script = ?, frame_count = ?, error = NULL, updated_at = ? WHERE id = ?
	`, StatusReady, script, frameCount, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM shots WHERE run_id = ?`, id); err != nil {
		return err
	}
	for _, shot := range shots {
		if err := upsertShot(ctx, tx, id, shot); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) DeleteRun(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) SaveShot(ctx context.Context, runID string, shot storyboard.Shot) error {
	return upsertShot(ctx, r.db, runID, shot)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertShot(ctx context.Context, db execer, runID string, s storyboard.Shot) error {
	imageRef, err := marshalRef(s.Image.Value)
	if err != nil {
		return fmt.Errorf("shot %s image: %w", s.ID, err)
	}
	videoRef, err := marshalRef(s.Video.Value)
	if err != nil {
		return fmt.Errorf("shot %s video: %w", s.ID, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO shots (run_id, id, shot_number, description, audio_note, visual_prompt,
			image_state, image_ref, image_error, video_state, video_ref, video_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO UPDATE SET
			image_state = excluded.image_state,
			image_ref = excluded.image_ref,
			image_error = excluded.image_error,
			video_state = excluded.video_state,
			video_ref = excluded.video_ref,
			video_error = excluded.video_error,
			updated_at = excluded.updated_at
	`, runID, s.ID, s.Number, s.Description, s.AudioNote, s.VisualPrompt,
		stateOrEmpty(s.Image.State), imageRef, nullString(s.Image.Error),
		stateOrEmpty(s.Video.State), videoRef, nullString(s.Video.Error),
		formatTime(latest(s.Image.UpdatedAt, s.Video.UpdatedAt)))
	return err
}

// ListShots returns a run's shots in storyboard order.
func (r *SQLiteRepository) ListShots(ctx context.Context, runID string) ([]storyboard.Shot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, shot_number, description, audio_note, visual_prompt,
			image_state, image_ref, image_error, video_state, video_ref, video_error, updated_at
		FROM shots WHERE run_id = ? ORDER BY shot_number
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shots := []storyboard.Shot{}
	for rows.Next() {
		var s storyboard.Shot
		var imageState, videoState, updatedAt string
		var imageRef, imageErr, videoRef, videoErr sql.NullString

		if err := rows.Scan(&s.ID, &s.Number, &s.Description, &s.AudioNote, &s.VisualPrompt,
			&imageState, &imageRef, &imageErr, &videoState, &videoRef, &videoErr, &updatedAt); err != nil {
			return nil, err
		}
		ts := parseTime(updatedAt)
		s.Image = storyboard.Artifact[storyboard.ImageRef]{State: storyboard.GenerationState(imageState), Error: imageErr.String, UpdatedAt: ts}
		if s.Image.Value, err = unmarshalRef[storyboard.ImageRef](imageRef); err != nil {
			return nil, fmt.Errorf("shot %s image: %w", s.ID, err)
		}
		s.Video = storyboard.Artifact[storyboard.VideoRef]{State: storyboard.GenerationState(videoState), Error: videoErr.String, UpdatedAt: ts}
		if s.Video.Value, err = unmarshalRef[storyboard.VideoRef](videoRef); err != nil {
			return nil, fmt.Errorf("shot %s video: %w", s.ID, err)
		}
		shots = append(shots, s)
	}
	return shots, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (r *SQLiteRepository) DeleteConfig(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM config WHERE key = ?", key)
	return err
}

func marshalRef[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalRef[T any](s sql.NullString) (*T, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func stateOrEmpty(s storyboard.GenerationState) string {
	if s == "" {
		return string(storyboard.StateEmpty)
	}
	return string(s)
}

func latest(a, b time.Time) time.Time {
	t := a
	if b.After(t) {
		t = b
	}
	if t.IsZero() {
		t = time.Now()
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
