package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/reelkit/reel-agent/internal/assets"
	"github.com/reelkit/reel-agent/internal/breakdown"
	"github.com/reelkit/reel-agent/internal/generation"
	"github.com/reelkit/reel-agent/internal/media"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

var _ breakdown.Analyzer = (*Analyzer)(nil)

type staticProvider struct {
	cred  generation.Credential
	err   error
	calls atomic.Int32
}

func (p *staticProvider) Ensure(context.Context) (generation.Credential, error) {
	p.calls.Add(1)
	return p.cred, p.err
}

func newTestBackend(t *testing.T, provider generation.CredentialProvider) *Backend {
	t.Helper()
	store, err := assets.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return NewBackend(provider, store, nil)
}

func TestBackendKey(t *testing.T) {
	provider := &staticProvider{cred: generation.Credential{APIKey: "stored", Source: "stored"}}
	b := newTestBackend(t, provider)
	ctx := context.Background()

	key, err := b.key(ctx, generation.Credential{APIKey: "caller"})
	if err != nil || key != "caller" {
		t.Errorf("key(caller) = %q, %v; want caller", key, err)
	}
	if provider.calls.Load() != 0 {
		t.Errorf("provider consulted although caller held a key")
	}

	key, err = b.key(ctx, generation.Credential{})
	if err != nil || key != "stored" {
		t.Errorf("key(zero) = %q, %v; want stored", key, err)
	}
}

func TestBackendKey_AuthRequired(t *testing.T) {
	ctx := context.Background()

	if _, err := newTestBackend(t, nil).key(ctx, generation.Credential{}); !errors.Is(err, generation.ErrAuthRequired) {
		t.Errorf("no provider: err = %v, want ErrAuthRequired", err)
	}

	provider := &staticProvider{err: generation.ErrAuthRequired}
	if _, err := newTestBackend(t, provider).key(ctx, generation.Credential{}); !errors.Is(err, generation.ErrAuthRequired) {
		t.Errorf("empty provider: err = %v, want ErrAuthRequired", err)
	}
}

func TestFrameParts(t *testing.T) {
	frames := []media.Frame{
		{TimestampSeconds: 0, Payload: media.EncodedImage{Data: []byte{1}, MIMEType: media.MIMETypeJPEG}},
		{TimestampSeconds: 1.2, Payload: media.EncodedImage{Data: []byte{2}}},
	}
	parts := frameParts(frames, "describe")

	if len(parts) != 5 {
		t.Fatalf("len(parts) = %d, want 5", len(parts))
	}
	if parts[0].Text != "Frame 1 at 0.0s" || parts[2].Text != "Frame 2 at 1.2s" {
		t.Errorf("labels = %q, %q", parts[0].Text, parts[2].Text)
	}
	if parts[3].InlineData == nil || parts[3].InlineData.MIMEType != media.MIMETypeJPEG {
		t.Errorf("frame part without mime should default to jpeg: %+v", parts[3].InlineData)
	}
	if parts[4].Text != "describe" {
		t.Errorf("last part = %q, want instruction", parts[4].Text)
	}
}

func TestReferenceParts(t *testing.T) {
	parts := referenceParts("https://cdn.example.com/a/clip.webm?sig=1", "describe")
	if len(parts) != 2 || parts[0].FileData == nil {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[0].FileData.MIMEType != "video/webm" {
		t.Errorf("mime = %q, want video/webm", parts[0].FileData.MIMEType)
	}

	tests := map[string]string{
		"https://www.youtube.com/watch?v=abc": "video/mp4",
		"https://x.test/a.MOV":                "video/quicktime",
		"https://x.test/a.mkv#t=3":            "video/x-matroska",
	}
	for url, want := range tests {
		if got := referenceMIMEType(url); got != want {
			t.Errorf("referenceMIMEType(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestAnalysisConfig(t *testing.T) {
	cfg := analysisConfig(breakdown.Prompt{System: "be terse", User: "go"})
	if cfg.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q", cfg.ResponseMIMEType)
	}
	if cfg.SystemInstruction == nil || len(cfg.SystemInstruction.Parts) != 1 || cfg.SystemInstruction.Parts[0].Text != "be terse" {
		t.Errorf("SystemInstruction = %+v", cfg.SystemInstruction)
	}
	if analysisConfig(breakdown.Prompt{User: "go"}).SystemInstruction != nil {
		t.Error("empty system prompt should not set SystemInstruction")
	}
}

func TestFirstImage(t *testing.T) {
	if _, err := firstImage(nil); err == nil {
		t.Error("nil response should fail")
	}
	filtered := &genai.GenerateImagesResponse{GeneratedImages: []*genai.GeneratedImage{{RAIFilteredReason: "people"}}}
	if _, err := firstImage(filtered); err == nil {
		t.Error("filtered image should fail")
	}
	ok := &genai.GenerateImagesResponse{GeneratedImages: []*genai.GeneratedImage{{Image: &genai.Image{ImageBytes: []byte("png")}}}}
	img, err := firstImage(ok)
	if err != nil || string(img.ImageBytes) != "png" {
		t.Errorf("firstImage() = %v, %v", img, err)
	}
}

func TestFirstVideo(t *testing.T) {
	tests := []struct {
		name    string
		op      *genai.GenerateVideosOperation
		wantErr bool
	}{
		{"operation error", &genai.GenerateVideosOperation{Done: true, Error: map[string]any{"message": "quota"}}, true},
		{"no response", &genai.GenerateVideosOperation{Done: true}, true},
		{"filtered", &genai.GenerateVideosOperation{Done: true, Response: &genai.GenerateVideosResponse{RAIMediaFilteredReasons: []string{"unsafe"}}}, true},
		{"empty video", &genai.GenerateVideosOperation{Done: true, Response: &genai.GenerateVideosResponse{
			GeneratedVideos: []*genai.GeneratedVideo{{Video: &genai.Video{}}}}}, true},
		{"uri", &genai.GenerateVideosOperation{Done: true, Response: &genai.GenerateVideosResponse{
			GeneratedVideos: []*genai.GeneratedVideo{{Video: &genai.Video{URI: "https://files/v"}}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := firstVideo(tt.op)
			if (err != nil) != tt.wantErr {
				t.Errorf("firstVideo() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPollVideo(t *testing.T) {
	var polls atomic.Int32
	get := func(_ context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
		n := polls.Add(1)
		return &genai.GenerateVideosOperation{Name: op.Name, Done: n >= 3}, nil
	}

	op, err := pollVideo(context.Background(), &genai.GenerateVideosOperation{Name: "op/1"}, time.Millisecond, get)
	if err != nil {
		t.Fatalf("pollVideo() error = %v", err)
	}
	if !op.Done || polls.Load() != 3 {
		t.Errorf("done = %v after %d polls, want true after 3", op.Done, polls.Load())
	}
}

func TestPollVideo_AlreadyDone(t *testing.T) {
	get := func(context.Context, *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
		t.Fatal("done operation should not be polled")
		return nil, nil
	}
	if _, err := pollVideo(context.Background(), &genai.GenerateVideosOperation{Done: true}, time.Hour, get); err != nil {
		t.Fatalf("pollVideo() error = %v", err)
	}
}

func TestPollVideo_ContextAndErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	never := func(context.Context, *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
		return &genai.GenerateVideosOperation{}, nil
	}
	if _, err := pollVideo(ctx, &genai.GenerateVideosOperation{}, time.Hour, never); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v, want context.Canceled", err)
	}

	boom := errors.New("boom")
	failing := func(context.Context, *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
		return nil, boom
	}
	if _, err := pollVideo(context.Background(), &genai.GenerateVideosOperation{}, time.Millisecond, failing); !errors.Is(err, boom) {
		t.Errorf("poll error = %v, want boom", err)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "k" {
			http.Error(w, "denied", http.StatusForbidden)
			return
		}
		w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	b := newTestBackend(t, nil)
	name, n, err := b.download(context.Background(), "k", "shot-1", "video/mp4", srv.URL)
	if err != nil {
		t.Fatalf("download() error = %v", err)
	}
	if n != int64(len("mp4-bytes")) {
		t.Errorf("size = %d", n)
	}
	data, err := b.store.Read(name)
	if err != nil || string(data) != "mp4-bytes" {
		t.Errorf("stored = %q, %v", data, err)
	}

	if _, _, err := b.download(context.Background(), "wrong", "shot-1", "video/mp4", srv.URL); err == nil {
		t.Error("download with rejected key should fail")
	}
}

func TestSourceImage(t *testing.T) {
	b := newTestBackend(t, nil)
	g := NewGateway(b)

	name, err := b.store.Save("shot-1", "image", "image/png", []byte("png"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	img, err := g.sourceImage(storyboardImage(name, ""))
	if err != nil || string(img.ImageBytes) != "png" || img.MIMEType != "image/png" {
		t.Errorf("sourceImage(asset) = %+v, %v", img, err)
	}
	img, err = g.sourceImage(storyboardImage("", "gs://bucket/a.png"))
	if err != nil || img.GCSURI != "gs://bucket/a.png" {
		t.Errorf("sourceImage(gcs) = %+v, %v", img, err)
	}
	if _, err := g.sourceImage(storyboardImage("", "https://x/a.png")); err == nil {
		t.Error("http source image should be rejected")
	}
}

func storyboardImage(asset, uri string) storyboard.ImageRef {
	return storyboard.ImageRef{Asset: asset, URI: uri, MIMEType: "image/png"}
}
