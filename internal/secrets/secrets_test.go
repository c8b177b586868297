package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("ARGUS_DB_PASSWORD", "hunter2")

	p := NewEnvProvider()

	// Normalized lookup
	value, err := p.Get(context.Background(), "db.password")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "hunter2" {
		t.Errorf("value = %q, want hunter2", value)
	}

	// Exact lookup
	t.Setenv("PLAIN_KEY", "plain")
	if value, _ := p.Get(context.Background(), "PLAIN_KEY"); value != "plain" {
		t.Errorf("exact lookup = %q, want plain", value)
	}

	if _, err := p.Get(context.Background(), "does.not.exist"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("err = %v, want ErrSecretNotFound", err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "db_password"), []byte("s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}

	p := NewFileProvider(dir)

	value, err := p.Get(context.Background(), "db/password")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "s3cret" {
		t.Errorf("value = %q, want s3cret (trailing newline trimmed)", value)
	}

	if _, err := p.Get(context.Background(), "missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("err = %v, want ErrSecretNotFound", err)
	}

	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	bad := NewFileProvider(filepath.Join(dir, "nope"))
	if err := bad.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check failure for missing directory")
	}
}

func TestResolverFallbackOrder(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "shared_key"), []byte("from-file"), 0600)

	t.Setenv("ARGUS_SHARED_KEY", "from-env")

	r := NewResolver(Config{SecretsDir: dir, CacheTTL: time.Minute}, nil)

	// Environment wins over the mounted file
	value, err := r.Get(context.Background(), "shared_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "from-env" {
		t.Errorf("value = %q, want from-env", value)
	}

	// File-only key falls through
	os.WriteFile(filepath.Join(dir, "file_only"), []byte("disk"), 0600)
	if value, _ := r.Get(context.Background(), "file_only"); value != "disk" {
		t.Errorf("value = %q, want disk", value)
	}
}

func TestResolverCache(t *testing.T) {
	t.Setenv("ARGUS_CACHED", "first")

	r := NewResolver(DefaultConfig(), nil)

	if value, _ := r.Get(context.Background(), "cached"); value != "first" {
		t.Fatalf("value = %q", value)
	}

	// A changed environment is not visible until the cache clears
	t.Setenv("ARGUS_CACHED", "second")
	if value, _ := r.Get(context.Background(), "cached"); value != "first" {
		t.Errorf("value = %q, want cached first", value)
	}

	r.ClearCache()
	if value, _ := r.Get(context.Background(), "cached"); value != "second" {
		t.Errorf("value = %q, want second after cache clear", value)
	}
}

func TestResolveReference(t *testing.T) {
	t.Setenv("ARGUS_REF_SECRET", "resolved")

	r := NewResolver(DefaultConfig(), nil)

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"literal", "plain-password", "plain-password"},
		{"env reference", "env:ref_secret", "resolved"},
		{"unknown scheme stays literal", "postgres://u:p@host/db", "postgres://u:p@host/db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.ref)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}

	if _, err := r.Resolve(context.Background(), "env:missing_ref"); err == nil {
		t.Error("expected error for unresolvable reference")
	}
}
