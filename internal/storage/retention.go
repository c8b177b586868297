package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig sets how long alert data stays queryable. Raw alerts
// and hourly rollups age out independently.
type RetentionConfig struct {
	AlertsTTL time.Duration `yaml:"alerts_ttl"`
	HourlyTTL time.Duration `yaml:"hourly_ttl"`
}

func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		AlertsTTL: 90 * 24 * time.Hour,
		HourlyTTL: 365 * 24 * time.Hour,
	}
}

// RetentionManager keeps table TTLs in line with configuration.
type RetentionManager struct {
	client *ClickHouseClient
	config RetentionConfig
}

func NewRetentionManager(client *ClickHouseClient, config RetentionConfig) *RetentionManager {
	return &RetentionManager{client: client, config: config}
}

// ApplyTTLs alters the alert tables to the configured retention. Runs
// after migrations; a missing table logs a warning instead of failing
// startup.
func (r *RetentionManager) ApplyTTLs(ctx context.Context) error {
	r.applyTTL(ctx, "alerts", "timestamp", r.config.AlertsTTL)
	r.applyTTL(ctx, "alerts_hourly", "bucket", r.config.HourlyTTL)
	return nil
}

func (r *RetentionManager) applyTTL(ctx context.Context, table, column string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	days := max(1, int(ttl/(24*time.Hour)))

	stmt := fmt.Sprintf("ALTER TABLE %s MODIFY TTL %s + INTERVAL %d DAY DELETE", table, column, days)
	if err := r.client.Exec(ctx, stmt); err != nil {
		slog.Warn("failed to apply TTL policy", "table", table, "ttl_days", days, "error", err)
		return
	}

	slog.Info("applied retention policy", "table", table, "ttl_days", days)
}
