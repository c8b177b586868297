package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Queue.Size != 100000 {
		t.Errorf("Queue.Size = %d, want 100000", cfg.Queue.Size)
	}
	if cfg.Validation.MaxAlertAge != 7*24*time.Hour {
		t.Errorf("MaxAlertAge = %v, want 168h", cfg.Validation.MaxAlertAge)
	}
	if cfg.Session.CookieName != "argus_session" {
		t.Errorf("CookieName = %q", cfg.Session.CookieName)
	}
	if cfg.Kafka.Topic != "argus-alerts" {
		t.Errorf("Kafka.Topic = %q", cfg.Kafka.Topic)
	}
	if cfg.Storage.Enabled {
		t.Error("storage should be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_port: 9090
queue:
  size: 500
alerting:
  deduplication_window: 10m
catalog:
  host: db.internal
  database: argus_prod
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARGUS_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Queue.Size != 500 {
		t.Errorf("Queue.Size = %d, want 500", cfg.Queue.Size)
	}
	if cfg.Alerting.DeduplicationWindow != 10*time.Minute {
		t.Errorf("DeduplicationWindow = %v, want 10m", cfg.Alerting.DeduplicationWindow)
	}
	if cfg.Catalog.Host != "db.internal" {
		t.Errorf("Catalog.Host = %q", cfg.Catalog.Host)
	}

	// Unset sections keep their defaults
	if cfg.Consumer.Workers != 4 {
		t.Errorf("Consumer.Workers = %d, want default 4", cfg.Consumer.Workers)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("ARGUS_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want default", cfg.Server.HTTPPort)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("server: [not a map"), 0644)
	t.Setenv("ARGUS_CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARGUS_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("ARGUS_HTTP_PORT", "7070")
	t.Setenv("ARGUS_LOG_LEVEL", "debug")
	t.Setenv("ARGUS_API_KEY", "edge-key-1")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("HTTPPort = %d, want 7070", cfg.Server.HTTPPort)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if !cfg.Auth.Enabled || len(cfg.Auth.APIKeys) != 1 {
		t.Errorf("Auth = %+v, want enabled with one key", cfg.Auth)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Session.Redis.Addr != "redis:6379" || cfg.Stats.Redis.Addr != "redis:6379" {
		t.Error("REDIS_ADDR should apply to sessions and stats")
	}
}

func TestSecretResolution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
catalog:
  password: "env:catalog_pw"
storage:
  clickhouse:
    password: literal-ch-password
`
	os.WriteFile(path, []byte(content), 0644)
	t.Setenv("ARGUS_CONFIG_PATH", path)
	t.Setenv("ARGUS_CATALOG_PW", "resolved-pw")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Catalog.Password != "resolved-pw" {
		t.Errorf("Catalog.Password = %q, want resolved-pw", cfg.Catalog.Password)
	}
	if cfg.Storage.ClickHouse.Password != "literal-ch-password" {
		t.Errorf("ClickHouse.Password = %q, want literal", cfg.Storage.ClickHouse.Password)
	}
}

func TestSecretResolutionFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("catalog:\n  password: \"env:missing_pw\"\n"), 0644)
	t.Setenv("ARGUS_CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Error("expected error for unresolvable secret reference")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, true},
		{"bad queue", func(c *Config) { c.Queue.Size = -1 }, true},
		{"bad batch", func(c *Config) { c.Ingest.MaxBatchSize = 0 }, true},
		{"no workers", func(c *Config) { c.Consumer.Workers = 0 }, true},
		{"storage without hosts", func(c *Config) {
			c.Storage.Enabled = true
			c.Storage.ClickHouse.Hosts = nil
		}, true},
		{"kafka without brokers", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = nil
		}, true},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true }, true},
		{"bad stats bucket", func(c *Config) { c.Stats.DefaultBucket = "week" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
