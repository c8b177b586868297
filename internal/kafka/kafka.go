// Package kafka carries alerts over the broker: a publisher fanning
// accepted alerts out to downstream consumers and an ingestor pulling
// alert submissions from remote sites into the intake queue.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

var (
	ErrPublisherClosed = errors.New("kafka: publisher is closed")
	ErrConsumerClosed  = errors.New("kafka: consumer is closed")
)

// Config holds broker connection and stream behavior settings. One Config
// serves the publisher, the ingestor and topic administration; they differ
// only in which fields they read.
type Config struct {
	Brokers       []string `json:"brokers" yaml:"brokers"`
	Topic         string   `json:"topic" yaml:"topic"`
	ConsumerGroup string   `json:"consumer_group" yaml:"consumer_group"`

	// Topic shape, applied when the topic is created on startup.
	Partitions        int   `json:"partitions" yaml:"partitions"`
	ReplicationFactor int   `json:"replication_factor" yaml:"replication_factor"`
	RetentionMs       int64 `json:"retention_ms" yaml:"retention_ms"`
	MaxMessageBytes   int   `json:"max_message_bytes" yaml:"max_message_bytes"`

	// CompressionType: none, gzip, snappy, lz4, zstd.
	CompressionType string `json:"compression_type" yaml:"compression_type"`

	// SecurityProtocol: PLAINTEXT, SSL, SASL_PLAINTEXT, SASL_SSL.
	SecurityProtocol string `json:"security_protocol" yaml:"security_protocol"`

	// SASLMechanism: PLAIN, SCRAM-SHA-256, SCRAM-SHA-512.
	SASLMechanism string `json:"sasl_mechanism,omitempty" yaml:"sasl_mechanism,omitempty"`
	SASLUsername  string `json:"sasl_username,omitempty" yaml:"sasl_username,omitempty"`
	SASLPassword  string `json:"sasl_password,omitempty" yaml:"sasl_password,omitempty"`

	TLSEnabled    bool   `json:"tls_enabled" yaml:"tls_enabled"`
	TLSCertFile   string `json:"tls_cert_file,omitempty" yaml:"tls_cert_file,omitempty"`
	TLSKeyFile    string `json:"tls_key_file,omitempty" yaml:"tls_key_file,omitempty"`
	TLSCAFile     string `json:"tls_ca_file,omitempty" yaml:"tls_ca_file,omitempty"`
	TLSSkipVerify bool   `json:"tls_skip_verify,omitempty" yaml:"tls_skip_verify,omitempty"`

	// Publish path
	WriteBatchSize    int           `json:"write_batch_size" yaml:"write_batch_size"`
	WriteBatchTimeout time.Duration `json:"write_batch_timeout" yaml:"write_batch_timeout"`
	WriteMaxRetries   int           `json:"write_max_retries" yaml:"write_max_retries"`
	WriteRetryBackoff time.Duration `json:"write_retry_backoff" yaml:"write_retry_backoff"`
	RequiredAcks      int           `json:"required_acks" yaml:"required_acks"` // -1=all, 0=none, 1=leader

	// Consume path
	ReadMinBytes      int           `json:"read_min_bytes" yaml:"read_min_bytes"`
	ReadMaxBytes      int           `json:"read_max_bytes" yaml:"read_max_bytes"`
	ReadMaxWait       time.Duration `json:"read_max_wait" yaml:"read_max_wait"`
	CommitInterval    time.Duration `json:"commit_interval" yaml:"commit_interval"`
	StartOffset       int64         `json:"start_offset" yaml:"start_offset"` // -1=latest, -2=earliest
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	SessionTimeout    time.Duration `json:"session_timeout" yaml:"session_timeout"`
	RebalanceTimeout  time.Duration `json:"rebalance_timeout" yaml:"rebalance_timeout"`

	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns defaults tuned for a modest alert volume. Alerts are
// small JSON records, so batches flush on a short timer rather than on size.
func DefaultConfig() *Config {
	return &Config{
		Brokers:           []string{"localhost:9092"},
		Topic:             "argus-alerts",
		ConsumerGroup:     "argus-ingest",
		Partitions:        6,
		ReplicationFactor: 3,
		RetentionMs:       7 * 24 * 60 * 60 * 1000,
		MaxMessageBytes:   1 << 20,
		CompressionType:   "snappy",
		SecurityProtocol:  "PLAINTEXT",
		WriteBatchSize:    100,
		WriteBatchTimeout: 10 * time.Millisecond,
		WriteMaxRetries:   3,
		WriteRetryBackoff: 100 * time.Millisecond,
		RequiredAcks:      -1,
		ReadMinBytes:      1,
		ReadMaxBytes:      10 << 20,
		ReadMaxWait:       500 * time.Millisecond,
		CommitInterval:    time.Second,
		StartOffset:       kafka.LastOffset,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		RebalanceTimeout:  60 * time.Second,
		DialTimeout:       10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// Validate checks the configuration before any connection is attempted.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	if c.Partitions < 1 {
		return errors.New("kafka: partitions must be at least 1")
	}
	if c.ReplicationFactor < 1 {
		return errors.New("kafka: replication factor must be at least 1")
	}

	switch c.SecurityProtocol {
	case "PLAINTEXT", "SSL", "SASL_PLAINTEXT", "SASL_SSL":
	default:
		return fmt.Errorf("kafka: invalid security protocol: %s", c.SecurityProtocol)
	}

	if c.saslRequired() {
		switch c.SASLMechanism {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return fmt.Errorf("kafka: invalid SASL mechanism: %s", c.SASLMechanism)
		}
		if c.SASLUsername == "" || c.SASLPassword == "" {
			return errors.New("kafka: SASL username and password required")
		}
	}

	return nil
}

func (c *Config) saslRequired() bool {
	return c.SecurityProtocol == "SASL_PLAINTEXT" || c.SecurityProtocol == "SASL_SSL"
}

func (c *Config) tlsRequired() bool {
	return c.TLSEnabled || c.SecurityProtocol == "SSL" || c.SecurityProtocol == "SASL_SSL"
}

// compression maps the config name to a kafka-go codec. Unknown names mean
// no compression.
func (c *Config) compression() kafka.Compression {
	switch c.CompressionType {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

// newDialer builds a dialer carrying the configured TLS and SASL settings.
func (c *Config) newDialer() (*kafka.Dialer, error) {
	dialer := &kafka.Dialer{
		Timeout:   c.DialTimeout,
		DualStack: true,
	}

	if c.tlsRequired() {
		tlsConfig, err := c.buildTLS()
		if err != nil {
			return nil, fmt.Errorf("kafka: tls setup: %w", err)
		}
		dialer.TLS = tlsConfig
	}

	if c.saslRequired() {
		mechanism, err := c.buildSASL()
		if err != nil {
			return nil, fmt.Errorf("kafka: sasl setup: %w", err)
		}
		dialer.SASLMechanism = mechanism
	}

	return dialer, nil
}

func (c *Config) buildTLS() (*tls.Config, error) {
	if c.TLSSkipVerify {
		slog.Warn("kafka TLS certificate verification is disabled")
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if c.TLSCAFile != "" {
		caCert, err := os.ReadFile(c.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func (c *Config) buildSASL() (sasl.Mechanism, error) {
	switch c.SASLMechanism {
	case "PLAIN":
		return plain.Mechanism{Username: c.SASLUsername, Password: c.SASLPassword}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.SASLUsername, c.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.SASLUsername, c.SASLPassword)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", c.SASLMechanism)
	}
}

// HealthStatus reports the reachability of the broker cluster.
type HealthStatus struct {
	Healthy     bool          `json:"healthy"`
	Connected   bool          `json:"connected"`
	LastCheck   time.Time     `json:"last_check"`
	Latency     time.Duration `json:"latency"`
	Error       string        `json:"error,omitempty"`
	BrokerCount int           `json:"broker_count"`
}

// brokerHealth probes the first broker and counts the cluster members. The
// publisher, ingestor and admin all report health through this one probe.
func brokerHealth(ctx context.Context, cfg *Config) HealthStatus {
	status := HealthStatus{LastCheck: time.Now()}

	dialer, err := cfg.newDialer()
	if err != nil {
		status.Error = err.Error()
		return status
	}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		status.Error = fmt.Sprintf("connect: %v", err)
		return status
	}
	defer conn.Close()

	brokers, err := conn.Brokers()
	if err != nil {
		status.Error = fmt.Sprintf("list brokers: %v", err)
		return status
	}

	status.Latency = time.Since(start)
	status.Connected = true
	status.Healthy = len(brokers) > 0
	status.BrokerCount = len(brokers)
	return status
}
