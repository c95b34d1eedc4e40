// Package gemini implements breakdown analysis and image/video generation on
// the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/reelkit/reel-agent/internal/assets"
	"github.com/reelkit/reel-agent/internal/generation"
	"github.com/reelkit/reel-agent/internal/logging"
)

const (
	DefaultPollInterval = 10 * time.Second
	defaultHTTPTimeout  = 5 * time.Minute
)

// Backend owns the genai clients, one per API key, and the asset store that
// generated media is written to.
type Backend struct {
	provider     generation.CredentialProvider
	store        *assets.Store
	httpClient   *http.Client
	logger       *slog.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewBackend builds a backend. provider supplies the key for calls that do
// not carry one of their own, such as breakdown analysis.
func NewBackend(provider generation.CredentialProvider, store *assets.Store, logger *slog.Logger) *Backend {
	return &Backend{
		provider:     provider,
		store:        store,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		logger:       logging.WithComponent(logging.OrDiscard(logger), "gemini"),
		pollInterval: DefaultPollInterval,
		clients:      make(map[string]*genai.Client),
	}
}

// key picks the caller's credential, falling back to the provider.
func (b *Backend) key(ctx context.Context, cred generation.Credential) (string, error) {
	if !cred.IsZero() {
		return cred.APIKey, nil
	}
	if b.provider == nil {
		return "", generation.ErrAuthRequired
	}
	c, err := b.provider.Ensure(ctx)
	if err != nil {
		return "", err
	}
	return c.APIKey, nil
}

func (b *Backend) client(ctx context.Context, cred generation.Credential) (*genai.Client, string, error) {
	apiKey, err := b.key(ctx, cred)
	if err != nil {
		return nil, "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[apiKey]; ok {
		return c, apiKey, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, "", fmt.Errorf("create genai client: %w", err)
	}
	b.clients[apiKey] = c
	b.logger.Debug("genai client created", "key", logging.SanitizeToken(apiKey))
	return c, apiKey, nil
}
