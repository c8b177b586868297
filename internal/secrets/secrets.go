// Package secrets resolves credentials referenced from configuration.
// A config value like "env:ARGUS_DB_PASSWORD" or "file:db_password" is
// resolved at load time so the YAML file itself never carries a secret.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrSecretNotFound is returned when no provider has the secret.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrNoProvider is returned when the resolver has no providers.
	ErrNoProvider = errors.New("no secret provider configured")
)

// Provider supplies secret values from one backing source.
type Provider interface {
	Name() string
	Get(ctx context.Context, key string) (string, error)
	HealthCheck(ctx context.Context) error
}

// Resolver tries each provider in order and caches hits for a short TTL.
type Resolver struct {
	providers []Provider
	cacheTTL  time.Duration
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedValue
}

type cachedValue struct {
	value     string
	fetchedAt time.Time
}

// Config holds resolver configuration.
type Config struct {
	SecretsDir string        `yaml:"secrets_dir"` // mounted secret files, e.g. /run/secrets
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig enables environment lookup with a 5 minute cache. The file
// provider activates only when SecretsDir is set.
func DefaultConfig() Config {
	return Config{
		CacheTTL: 5 * time.Minute,
	}
}

// NewResolver builds a resolver from configuration. Environment variables
// are always consulted first; mounted files second when configured.
func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	providers := []Provider{NewEnvProvider()}
	if cfg.SecretsDir != "" {
		providers = append(providers, NewFileProvider(cfg.SecretsDir))
	}

	return &Resolver{
		providers: providers,
		cacheTTL:  cfg.CacheTTL,
		logger:    logger,
		cache:     make(map[string]cachedValue),
	}
}

// Get retrieves a secret, trying each provider in order.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	if len(r.providers) == 0 {
		return "", ErrNoProvider
	}

	if value, ok := r.fromCache(key); ok {
		return value, nil
	}

	for _, p := range r.providers {
		value, err := p.Get(ctx, key)
		if err == nil {
			r.store(key, value)
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			r.logger.Warn("secret provider error",
				"provider", p.Name(),
				"key", key,
				"error", err,
			)
		}
	}

	return "", fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
}

// Resolve interprets a config-level secret reference.
//
//	"hunter2"          literal, returned as-is
//	"env:DB_PASSWORD"  environment variable
//	"file:db_password" file under the configured secrets directory
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, key, found := strings.Cut(ref, ":")
	if !found {
		return ref, nil
	}

	switch scheme {
	case "env", "file":
		return r.Get(ctx, key)
	default:
		// Not a reference, e.g. a password containing a colon.
		return ref, nil
	}
}

// HealthCheck verifies every provider is reachable.
func (r *Resolver) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, p := range r.providers {
		if err := p.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ClearCache drops all cached values, forcing re-reads on next access.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cachedValue)
}

func (r *Resolver) fromCache(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cached, ok := r.cache[key]
	if !ok || time.Since(cached.fetchedAt) > r.cacheTTL {
		return "", false
	}
	return cached.value, true
}

func (r *Resolver) store(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cachedValue{value: value, fetchedAt: time.Now()}
}
