// Package config handles configuration loading for the Argus VMS backend.
// Configuration comes from a YAML file with environment variable overrides;
// secret values may be references resolved through the secrets package.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"argus-vms/internal/secrets"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Queue      QueueConfig      `yaml:"queue"`
	Validation ValidationConfig `yaml:"validation"`
	Auth       AuthConfig       `yaml:"auth"`
	Session    SessionConfig    `yaml:"session"`
	CORS       CORSConfig       `yaml:"cors"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Rules      RulesConfig      `yaml:"rules"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Stats      StatsConfig      `yaml:"stats"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Secrets    secrets.Config   `yaml:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`       // alert intake
	ManagementPort  int           `yaml:"management_port"` // operator API
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// IngestConfig holds alert intake settings.
type IngestConfig struct {
	MaxBatchSize   int        `yaml:"max_batch_size"`
	MaxPayloadSize int        `yaml:"max_payload_size"`
	DTLS           DTLSConfig `yaml:"dtls"`
}

// DTLSConfig holds the secure UDP intake settings for edge detectors.
type DTLSConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Address           string        `yaml:"address"`
	CertFile          string        `yaml:"cert_file"`
	KeyFile           string        `yaml:"key_file"`
	CAFile            string        `yaml:"ca_file"`
	RequireClientCert bool          `yaml:"require_client_cert"`
	Workers           int           `yaml:"workers"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	AllowInsecure     bool          `yaml:"allow_insecure"` // plain UDP fallback, logs a warning
}

// QueueConfig holds the in-memory alert buffer settings.
type QueueConfig struct {
	Size int `yaml:"size"`
}

// ValidationConfig bounds alert timestamps at intake.
type ValidationConfig struct {
	MaxAlertAge time.Duration `yaml:"max_alert_age"`
	MaxFuture   time.Duration `yaml:"max_future"`
}

// AuthConfig holds API key authentication for the intake surface.
// Detector pipelines authenticate with a static key, not a session.
type AuthConfig struct {
	Enabled      bool     `yaml:"enabled"`
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeys      []string `yaml:"api_keys"`
}

// SessionConfig holds operator session settings for the management API.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	CookieName    string        `yaml:"cookie_name"`
	SecureCookies bool          `yaml:"secure_cookies"`
	Redis         RedisConfig   `yaml:"redis"` // empty Addr keeps sessions in memory
	Admin         AdminConfig   `yaml:"admin"`
}

// AdminConfig seeds the bootstrap administrator account.
type AdminConfig struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"` // may be a secret reference
	OrganizationID int64  `yaml:"organization_id"`
}

// RedisConfig holds Redis connection settings, shared by session storage
// and the stats cache.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// CORSConfig holds CORS settings for the management API.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"` // preflight cache in seconds
}

// RateLimitConfig holds per-IP rate limiting for the intake surface.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"`
	WindowSize    time.Duration `yaml:"window_size"`
	BurstSize     int           `yaml:"burst_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	ExemptPaths   []string      `yaml:"exempt_paths"`
	TrustProxy    bool          `yaml:"trust_proxy"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig holds the alert store settings.
type StorageConfig struct {
	Enabled     bool              `yaml:"enabled"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter BatchWriterConfig `yaml:"batch_writer"`
	Retention   RetentionConfig   `yaml:"retention"`
}

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"` // may be a secret reference
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	Debug           bool          `yaml:"debug"`
}

// BatchWriterConfig holds alert batch writer settings.
type BatchWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// RetentionConfig holds alert retention TTLs.
type RetentionConfig struct {
	AlertsTTL time.Duration `yaml:"alerts_ttl"`
	HourlyTTL time.Duration `yaml:"hourly_ttl"`
}

// CatalogConfig holds the Postgres catalog settings. The catalog owns
// organizations, cameras, rules and their bindings.
type CatalogConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"` // may be a secret reference
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// ConsumerConfig holds queue consumer settings.
type ConsumerConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// RulesConfig holds rule engine settings.
type RulesConfig struct {
	AllowEmptySchedule bool          `yaml:"allow_empty_schedule"`
	StoreTimeout       time.Duration `yaml:"store_timeout"`
}

// AlertingConfig holds alert manager settings.
type AlertingConfig struct {
	DeduplicationWindow time.Duration `yaml:"deduplication_window"`
	MaxListLimit        int           `yaml:"max_list_limit"`
}

// StatsConfig holds aggregation settings.
type StatsConfig struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	DefaultWindow time.Duration `yaml:"default_window"`
	DefaultBucket string        `yaml:"default_bucket"`
	Redis         RedisConfig   `yaml:"redis"` // empty Addr keeps the cache in memory
}

// KafkaConfig holds the broker bridge settings for alert fan-out and
// ingestion from remote sites.
type KafkaConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	ConsumerGroup     string   `yaml:"consumer_group"`
	Partitions        int      `yaml:"partitions"`
	ReplicationFactor int      `yaml:"replication_factor"`
	CompressionType   string   `yaml:"compression_type"`

	SecurityProtocol string `yaml:"security_protocol"`
	SASLMechanism    string `yaml:"sasl_mechanism,omitempty"`
	SASLUsername     string `yaml:"sasl_username,omitempty"`
	SASLPassword     string `yaml:"sasl_password,omitempty"` // may be a secret reference

	TLSEnabled    bool   `yaml:"tls_enabled"`
	TLSCertFile   string `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile    string `yaml:"tls_key_file,omitempty"`
	TLSCAFile     string `yaml:"tls_ca_file,omitempty"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify,omitempty"`
}

// ArchiveConfig holds cold storage settings for resolved alerts.
type ArchiveConfig struct {
	Enabled     bool     `yaml:"enabled"`
	BatchSize   int      `yaml:"batch_size"`
	Compression string   `yaml:"compression"`
	S3          S3Config `yaml:"s3"`
}

// S3Config holds S3 (or compatible) object storage settings.
type S3Config struct {
	Region               string        `yaml:"region"`
	Bucket               string        `yaml:"bucket"`
	Prefix               string        `yaml:"prefix"`
	Endpoint             string        `yaml:"endpoint,omitempty"`
	AccessKeyID          string        `yaml:"access_key_id,omitempty"`
	SecretAccessKey      string        `yaml:"secret_access_key,omitempty"` // may be a secret reference
	StorageClass         string        `yaml:"storage_class"`
	ServerSideEncryption string        `yaml:"server_side_encryption,omitempty"`
	UsePathStyle         bool          `yaml:"use_path_style"`
	RetryMaxAttempts     int           `yaml:"retry_max_attempts"`
	Timeout              time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ManagementPort:  8081,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Ingest: IngestConfig{
			MaxBatchSize:   1000,
			MaxPayloadSize: 10 * 1024 * 1024,
			DTLS: DTLSConfig{
				Enabled:           false, // needs certificates
				Address:           ":5516",
				Workers:           8,
				MaxMessageSize:    65535,
				ConnectionTimeout: 30 * time.Second,
				IdleTimeout:       5 * time.Minute,
			},
		},
		Queue: QueueConfig{
			Size: 100000,
		},
		Validation: ValidationConfig{
			MaxAlertAge: 7 * 24 * time.Hour,
			MaxFuture:   5 * time.Minute,
		},
		Auth: AuthConfig{
			Enabled:      false,
			APIKeyHeader: "X-API-Key",
		},
		Session: SessionConfig{
			TTL:           24 * time.Hour,
			CookieName:    "argus_session",
			SecureCookies: true,
			Admin: AdminConfig{
				Username:       "admin",
				OrganizationID: 1,
			},
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				"X-API-Key",
				"X-CSRF-Token",
				"X-Request-ID",
			},
			ExposedHeaders: []string{
				"X-Request-ID",
				"X-RateLimit-Limit",
				"X-RateLimit-Remaining",
				"X-RateLimit-Reset",
			},
			AllowCredentials: false,
			MaxAge:           86400,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 1000,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/health", "/metrics"},
			TrustProxy:    false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Enabled: false, // development without ClickHouse
			ClickHouse: ClickHouseConfig{
				Hosts:           []string{"localhost:9000"},
				Database:        "argus",
				Username:        "default",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				DialTimeout:     10 * time.Second,
			},
			BatchWriter: BatchWriterConfig{
				BatchSize:     1000,
				FlushInterval: 5 * time.Second,
				MaxRetries:    3,
				RetryDelay:    time.Second,
			},
			Retention: RetentionConfig{
				AlertsTTL: 90 * 24 * time.Hour,
				HourlyTTL: 365 * 24 * time.Hour,
			},
		},
		Catalog: CatalogConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "argus",
			Username:        "argus",
			SSLMode:         "prefer",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnectTimeout:  10 * time.Second,
		},
		Consumer: ConsumerConfig{
			Workers:      4,
			PollInterval: 10 * time.Millisecond,
			ShutdownWait: 30 * time.Second,
		},
		Rules: RulesConfig{
			AllowEmptySchedule: false,
			StoreTimeout:       5 * time.Second,
		},
		Alerting: AlertingConfig{
			DeduplicationWindow: 5 * time.Minute,
			MaxListLimit:        1000,
		},
		Stats: StatsConfig{
			CacheTTL:      30 * time.Second,
			DefaultWindow: 24 * time.Hour,
			DefaultBucket: "hour",
		},
		Kafka: KafkaConfig{
			Enabled:           false,
			Brokers:           []string{"localhost:9092"},
			Topic:             "argus-alerts",
			ConsumerGroup:     "argus-ingest",
			Partitions:        6,
			ReplicationFactor: 1,
			CompressionType:   "snappy",
			SecurityProtocol:  "PLAINTEXT",
		},
		Archive: ArchiveConfig{
			Enabled:     false,
			BatchSize:   10000,
			Compression: "gzip",
			S3: S3Config{
				Region:           "us-east-1",
				Prefix:           "alerts",
				StorageClass:     "STANDARD_IA",
				RetryMaxAttempts: 3,
				Timeout:          time.Minute,
			},
		},
		Secrets: secrets.DefaultConfig(),
	}
}

// Load loads configuration from a file, applies environment overrides, and
// resolves secret references. A missing config file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("ARGUS_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides on top of the
// file values. Only operational knobs are exposed this way; secrets go
// through references.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("ARGUS_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}
	if level := os.Getenv("ARGUS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if apiKey := os.Getenv("ARGUS_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}
	if enabled := os.Getenv("ARGUS_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		c.Catalog.Host = host
	}
	if db := os.Getenv("POSTGRES_DATABASE"); db != "" {
		c.Catalog.Database = db
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Session.Redis.Addr = addr
		c.Stats.Redis.Addr = addr
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
		c.Kafka.Enabled = true
	}
}

// resolveSecrets replaces secret references in credential fields with their
// resolved values.
func (c *Config) resolveSecrets() error {
	resolver := secrets.NewResolver(c.Secrets, nil)
	ctx := context.Background()

	fields := []struct {
		name  string
		value *string
	}{
		{"clickhouse password", &c.Storage.ClickHouse.Password},
		{"catalog password", &c.Catalog.Password},
		{"session redis password", &c.Session.Redis.Password},
		{"stats redis password", &c.Stats.Redis.Password},
		{"admin password", &c.Session.Admin.Password},
		{"kafka sasl password", &c.Kafka.SASLPassword},
		{"s3 secret access key", &c.Archive.S3.SecretAccessKey},
	}

	for _, f := range fields {
		if *f.value == "" {
			continue
		}
		resolved, err := resolver.Resolve(ctx, *f.value)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", f.name, err)
		}
		*f.value = resolved
	}

	return nil
}

func splitAndTrim(s, sep string) []string {
	var parts []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Server.ManagementPort <= 0 || c.Server.ManagementPort > 65535 {
		return fmt.Errorf("invalid management_port: %d", c.Server.ManagementPort)
	}
	if c.Server.ManagementPort == c.Server.HTTPPort {
		return fmt.Errorf("management_port must differ from http_port")
	}
	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.Ingest.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}
	if c.Consumer.Workers <= 0 {
		return fmt.Errorf("consumer workers must be positive")
	}
	if c.Storage.Enabled && len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("storage enabled but no clickhouse hosts configured")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}
	if c.Archive.Enabled && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive enabled but no s3 bucket configured")
	}
	switch c.Stats.DefaultBucket {
	case "", "hour", "day":
	default:
		return fmt.Errorf("invalid stats default_bucket: %q", c.Stats.DefaultBucket)
	}
	return nil
}
