package generation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/reelkit/reel-agent/internal/logging"
)

// ErrAuthRequired is returned when a model needs a credential and none is
// configured. The dashboard answers it by prompting for an API key.
var ErrAuthRequired = errors.New("generation credential required")

// ConfigKeyAPIKey is the repository config key of a stored API key.
const ConfigKeyAPIKey = "gemini_api_key"

// Credential authorizes gateway calls. The zero value means "use the
// gateway's own configuration".
type Credential struct {
	APIKey string
	Source string
}

func (c Credential) IsZero() bool { return c.APIKey == "" }

// CredentialProvider hands out a credential or ErrAuthRequired.
type CredentialProvider interface {
	Ensure(ctx context.Context) (Credential, error)
}

// KeyStore reads persisted configuration values.
type KeyStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

// ChainProvider resolves a credential from the environment first and the
// key store second. Concurrent first lookups share one query; successful
// results are cached until Invalidate.
type ChainProvider struct {
	envKey string
	store  KeyStore
	logger *slog.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	cached *Credential
}

func NewChainProvider(envKey string, store KeyStore, logger *slog.Logger) *ChainProvider {
	return &ChainProvider{
		envKey: strings.TrimSpace(envKey),
		store:  store,
		logger: logging.OrDiscard(logger),
	}
}

func (p *ChainProvider) Ensure(ctx context.Context) (Credential, error) {
	p.mu.RLock()
	if p.cached != nil {
		c := *p.cached
		p.mu.RUnlock()
		return c, nil
	}
	p.mu.RUnlock()

	v, err, _ := p.group.Do("credential", func() (any, error) {
		return p.lookup(ctx)
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

func (p *ChainProvider) lookup(ctx context.Context) (Credential, error) {
	if p.envKey != "" {
		return p.remember(Credential{APIKey: p.envKey, Source: "env"}), nil
	}
	if p.store != nil {
		key, err := p.store.GetConfig(ctx, ConfigKeyAPIKey)
		if err != nil {
			return Credential{}, err
		}
		if key = strings.TrimSpace(key); key != "" {
			return p.remember(Credential{APIKey: key, Source: "stored"}), nil
		}
	}
	return Credential{}, ErrAuthRequired
}

func (p *ChainProvider) remember(c Credential) Credential {
	p.mu.Lock()
	p.cached = &c
	p.mu.Unlock()
	p.logger.Info("generation credential resolved", "source", c.Source, "key", logging.SanitizeToken(c.APIKey))
	return c
}

// Invalidate drops the cached credential, e.g. after a new key is stored.
func (p *ChainProvider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

// Policy decides which models need a caller-held credential.
type Policy struct {
	prefixes []string
}

func NewPolicy(prefixes []string) Policy {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return Policy{prefixes: out}
}

// RequiresCredential reports whether model matches a configured prefix.
func (p Policy) RequiresCredential(model string) bool {
	model = strings.ToLower(model)
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// Resolve returns the credential for model, querying provider only when the
// policy requires one.
func Resolve(ctx context.Context, policy Policy, provider CredentialProvider, model string) (Credential, error) {
	if !policy.RequiresCredential(model) {
		return Credential{}, nil
	}
	if provider == nil {
		return Credential{}, ErrAuthRequired
	}
	return provider.Ensure(ctx)
}
