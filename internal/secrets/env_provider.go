package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvProvider reads secrets from environment variables.
type EnvProvider struct{}

// NewEnvProvider creates an environment variable provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (e *EnvProvider) Name() string { return "environment" }

// Get looks up the key as given, then normalized with an ARGUS_ prefix, so
// "db.password" finds ARGUS_DB_PASSWORD.
func (e *EnvProvider) Get(_ context.Context, key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	if value := os.Getenv(normalizeEnvKey(key)); value != "" {
		return value, nil
	}
	return "", ErrSecretNotFound
}

// HealthCheck always succeeds; the process environment is always readable.
func (e *EnvProvider) HealthCheck(_ context.Context) error { return nil }

func normalizeEnvKey(key string) string {
	normalized := strings.ToUpper(key)
	normalized = strings.ReplaceAll(normalized, ".", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if !strings.HasPrefix(normalized, "ARGUS_") {
		normalized = "ARGUS_" + normalized
	}
	return normalized
}
