package runs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/reelkit/reel-agent/internal/breakdown"
	"github.com/reelkit/reel-agent/internal/db"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func newRun(id string, created time.Time) *Run {
	return &Run{
		ID:         id,
		SourceKind: "local",
		Source:     "/videos/" + id + ".mp4",
		Context:    "product teaser",
		Languages:  breakdown.Languages{Script: "en", Storyboard: "fr", Prompt: "en"},
		Model:      "gemini-2.5-flash",
		Status:     StatusSampling,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestRepository_CreateAndGetRun(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := newRun("run-1", created)
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	got, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("GetRun() mismatch (-want +got):\n%s", diff)
	}

	missing, err := repo.GetRun(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetRun(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestRepository_ListRunsNewestFirst(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := repo.CreateRun(ctx, newRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("CreateRun(%s) error = %v", id, err)
		}
	}

	list, err := repo.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		ids := make([]string, len(list))
		for i, r := range list {
			ids[i] = r.ID
		}
		t.Errorf("ListRuns(2) = %v, want [c b]", ids)
	}
}

func TestRepository_StatusAndAttempts(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateRun(ctx, newRun("r", time.Now())); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := repo.UpdateRunAttempts(ctx, "r", 3); err != nil {
		t.Fatalf("UpdateRunAttempts() error = %v", err)
	}
	if err := repo.UpdateRunStatus(ctx, "r", StatusFailed, "analysis service unavailable"); err != nil {
		t.Fatalf("UpdateRunStatus() error = %v", err)
	}

	got, _ := repo.GetRun(ctx, "r")
	if got.Status != StatusFailed || got.Error != "analysis service unavailable" || got.Attempts != 3 {
		t.Errorf("run = %s/%q/%d, want failed/analysis service unavailable/3", got.Status, got.Error, got.Attempts)
	}
	if !got.Terminal() {
		t.Error("failed run should be terminal")
	}
}

func TestRepository_CompleteRunStoresShots(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateRun(ctx, newRun("r", time.Now())); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	shots := []storyboard.Shot{
		{ID: "s1", Number: 1, Description: "Wide city", AudioNote: "traffic", VisualPrompt: "aerial dusk skyline"},
		{ID: "s2", Number: 2, Description: "Close up", VisualPrompt: "hands on keyboard"},
	}
	if err := repo.CompleteRun(ctx, "r", "A day in the city.", 10, shots); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	run, _ := repo.GetRun(ctx, "r")
	if run.Status != StatusReady || run.Script != "A day in the city." || run.FrameCount != 10 {
		t.Errorf("run = %s/%q/%d", run.Status, run.Script, run.FrameCount)
	}

	got, err := repo.ListShots(ctx, "r")
	if err != nil {
		t.Fatalf("ListShots() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(shots) = %d, want 2", len(got))
	}
	for i, s := range got {
		if s.ID != shots[i].ID || s.Number != i+1 || s.Description != shots[i].Description {
			t.Errorf("shot[%d] = %+v", i, s)
		}
		if s.Image.State != storyboard.StateEmpty || s.Video.State != storyboard.StateEmpty {
			t.Errorf("shot[%d] states = %s/%s, want empty/empty", i, s.Image.State, s.Video.State)
		}
		if s.Image.Value != nil || s.Video.Value != nil {
			t.Errorf("shot[%d] has refs before generation", i)
		}
	}
}

func TestRepository_CompleteRunUnknown(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.CompleteRun(context.Background(), "ghost", "s", 1, nil); err == nil {
		t.Fatal("CompleteRun(unknown) should fail")
	}
}

func TestRepository_SaveShotRoundTripsArtifacts(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateRun(ctx, newRun("r", time.Now())); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	base := storyboard.Shot{ID: "s1", Number: 1, Description: "Wide", VisualPrompt: "sky"}
	if err := repo.CompleteRun(ctx, "r", "", 1, []storyboard.Shot{base}); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	shot := base
	shot.Image = storyboard.Ready(storyboard.ImageRef{Asset: "s1-image-ab12cd34.png", MIMEType: "image/png", Model: "imagen", SizeBytes: 2048}, now)
	shot.Video = storyboard.Failed[storyboard.VideoRef](errors.New("quota exceeded"), now)
	if err := repo.SaveShot(ctx, "r", shot); err != nil {
		t.Fatalf("SaveShot() error = %v", err)
	}

	got, err := repo.ListShots(ctx, "r")
	if err != nil {
		t.Fatalf("ListShots() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(shots) = %d, want 1", len(got))
	}
	if diff := cmp.Diff(shot, got[0], cmpopts.IgnoreFields(storyboard.Artifact[storyboard.ImageRef]{}, "UpdatedAt"),
		cmpopts.IgnoreFields(storyboard.Artifact[storyboard.VideoRef]{}, "UpdatedAt")); diff != "" {
		t.Errorf("ListShots() mismatch (-want +got):\n%s", diff)
	}
}

func TestRepository_DeleteRunRemovesShots(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateRun(ctx, newRun("r", time.Now())); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := repo.CompleteRun(ctx, "r", "", 1, []storyboard.Shot{{ID: "s1", Number: 1}}); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}
	if err := repo.DeleteRun(ctx, "r"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}

	shots, err := repo.ListShots(ctx, "r")
	if err != nil {
		t.Fatalf("ListShots() error = %v", err)
	}
	if len(shots) != 0 {
		t.Errorf("len(shots) = %d after delete, want 0", len(shots))
	}
}

func TestRepository_Config(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	val, err := repo.GetConfig(ctx, "gemini_api_key")
	if err != nil || val != "" {
		t.Errorf("GetConfig(unset) = %q, %v; want empty", val, err)
	}

	if err := repo.SetConfig(ctx, "gemini_api_key", "k1"); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := repo.SetConfig(ctx, "gemini_api_key", "k2"); err != nil {
		t.Fatalf("SetConfig(overwrite) error = %v", err)
	}
	if val, _ := repo.GetConfig(ctx, "gemini_api_key"); val != "k2" {
		t.Errorf("GetConfig() = %q, want k2", val)
	}

	if err := repo.DeleteConfig(ctx, "gemini_api_key"); err != nil {
		t.Fatalf("DeleteConfig() error = %v", err)
	}
	if val, _ := repo.GetConfig(ctx, "gemini_api_key"); val != "" {
		t.Errorf("GetConfig() after delete = %q, want empty", val)
	}
}

func TestIsVideoFile(t *testing.T) {
	tests := map[string]bool{
		"clip.mp4":  true,
		"CLIP.MOV":  true,
		"a.b.webm":  true,
		"notes.txt": false,
		"noext":     false,
	}
	for name, want := range tests {
		if got := IsVideoFile(name); got != want {
			t.Errorf("IsVideoFile(%q) = %v, want %v", name, got, want)
		}
	}
}
