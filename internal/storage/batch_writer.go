package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"argus-vms/internal/schema"
)

// BatchWriterConfig controls batching and retry for alert inserts.
type BatchWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// BatchWriter accumulates alerts and inserts them into ClickHouse in
// batches, flushing on size or on a timer, whichever comes first.
type BatchWriter struct {
	client *ClickHouseClient
	config BatchWriterConfig

	mu     sync.Mutex
	buffer []*schema.Alert
	closed bool

	flushTimer *time.Timer

	written atomic.Uint64
	failed  atomic.Uint64
	batches atomic.Uint64
}

func NewBatchWriter(client *ClickHouseClient, cfg BatchWriterConfig) *BatchWriter {
	bw := &BatchWriter{
		client: client,
		config: cfg,
		buffer: make([]*schema.Alert, 0, cfg.BatchSize),
	}
	bw.flushTimer = time.AfterFunc(cfg.FlushInterval, bw.timerFlush)
	return bw
}

// Write buffers an alert. Filling the batch flushes synchronously, so
// the caller sees the insert error for the batch its alert completed.
func (bw *BatchWriter) Write(alert *schema.Alert) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return errors.New("batch writer is closed")
	}

	bw.buffer = append(bw.buffer, alert)
	if len(bw.buffer) >= bw.config.BatchSize {
		return bw.flushLocked()
	}
	return nil
}

func (bw *BatchWriter) timerFlush() {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return
	}
	if err := bw.flushLocked(); err != nil {
		slog.Error("timer flush failed", "error", err)
	}
	bw.flushTimer.Reset(bw.config.FlushInterval)
}

// flushLocked swaps out the buffer and inserts it with retries. Caller
// holds the lock.
func (bw *BatchWriter) flushLocked() error {
	if len(bw.buffer) == 0 {
		return nil
	}

	alerts := bw.buffer
	bw.buffer = make([]*schema.Alert, 0, bw.config.BatchSize)

	var lastErr error
	for attempt := 0; attempt <= bw.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(bw.config.RetryDelay * time.Duration(attempt))
		}

		lastErr = bw.insertBatch(alerts)
		if lastErr == nil {
			bw.written.Add(uint64(len(alerts)))
			bw.batches.Add(1)
			return nil
		}

		slog.Warn("batch insert failed, retrying",
			"attempt", attempt+1,
			"max_retries", bw.config.MaxRetries,
			"error", lastErr,
		)
	}

	bw.failed.Add(uint64(len(alerts)))
	return fmt.Errorf("%w: after %d retries: %v", ErrBatchInsertFailed, bw.config.MaxRetries, lastErr)
}

func (bw *BatchWriter) insertBatch(alerts []*schema.Alert) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := bw.client.PrepareBatch(ctx, `
		INSERT INTO alerts (
			alert_id, org_id, rule_id, camera_id,
			timestamp, received_at, criticality, status,
			detail, metadata
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, alert := range alerts {
		metadata, _ := json.Marshal(alert.Metadata)

		status := alert.Status
		if status == "" {
			status = schema.AlertStatusNew
		}

		err := batch.Append(
			alert.ID,
			alert.OrganizationID,
			alert.RuleID,
			alert.CameraID,
			alert.Timestamp,
			alert.ReceivedAt,
			string(alert.Criticality),
			string(status),
			alert.Detail,
			string(metadata),
		)
		if err != nil {
			return fmt.Errorf("append alert: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	slog.Debug("batch inserted", "count", len(alerts))
	return nil
}

// Flush inserts whatever is buffered.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked()
}

// Close stops the timer and flushes the remaining buffer.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return nil
	}
	bw.closed = true
	bw.flushTimer.Stop()

	return bw.flushLocked()
}

// BatchWriterMetrics is a snapshot of writer counters.
type BatchWriterMetrics struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Batches uint64 `json:"batches"`
	Pending int    `json:"pending"`
}

func (bw *BatchWriter) Metrics() BatchWriterMetrics {
	bw.mu.Lock()
	pending := len(bw.buffer)
	bw.mu.Unlock()

	return BatchWriterMetrics{
		Written: bw.written.Load(),
		Failed:  bw.failed.Load(),
		Batches: bw.batches.Load(),
		Pending: pending,
	}
}
