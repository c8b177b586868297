// Package storage provides ClickHouse storage for anomaly alerts.
package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds connection settings for the alert store.
type ClickHouseConfig struct {
	Hosts    []string `yaml:"hosts"`
	Database string   `yaml:"database"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"` // may be a secret reference

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`

	TLSEnabled bool `yaml:"tls_enabled"`
	Debug      bool `yaml:"debug"` // driver-level query logging
}

func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Hosts:           []string{"localhost:9000"},
		Database:        "argus",
		Username:        "default",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		DialTimeout:     10 * time.Second,
	}
}

// ClickHouseClient wraps the native-protocol connection used by the
// alert store.
type ClickHouseClient struct {
	conn   driver.Conn
	config ClickHouseConfig
}

// connectProbeTimeout bounds the ping that verifies a fresh connection.
const connectProbeTimeout = 5 * time.Second

// options translates the YAML-level config into driver options. Inserts are
// ZSTD-compressed and queries are capped at one minute server-side.
func (c ClickHouseConfig) options() *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr:            c.Hosts,
		DialTimeout:     c.DialTimeout,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		Debug:           c.Debug,
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionZSTD},
		Settings:    clickhouse.Settings{"max_execution_time": 60},
	}
	if c.TLSEnabled {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// NewClickHouseClient opens a connection and verifies it with a ping.
func NewClickHouseClient(cfg ClickHouseConfig) (*ClickHouseClient, error) {
	conn, err := clickhouse.Open(cfg.options())
	if err != nil {
		return nil, WrapConnectionError("Open", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectProbeTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, WrapConnectionError("Ping", err)
	}

	return &ClickHouseClient{conn: conn, config: cfg}, nil
}

func (c *ClickHouseClient) Close() error {
	return c.conn.Close()
}

func (c *ClickHouseClient) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *ClickHouseClient) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

func (c *ClickHouseClient) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return c.conn.QueryRow(ctx, query, args...)
}

func (c *ClickHouseClient) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}
