// Package consumer drains the intake queue into the alert manager.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"argus-vms/internal/queue"
	"argus-vms/internal/schema"
)

// Sink receives alerts popped from the queue. Returns false when the alert
// was deliberately dropped (deduplication).
type Sink interface {
	Record(alert *schema.Alert) (bool, error)
}

// Config holds the consumer configuration.
type Config struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// DefaultConfig returns the default consumer configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		PollInterval: 10 * time.Millisecond,
		ShutdownWait: 30 * time.Second,
	}
}

// Consumer reads alerts from the queue and hands them to the sink.
type Consumer struct {
	queue  *queue.RingBuffer
	sink   Sink
	config Config

	wg   sync.WaitGroup
	done chan struct{}

	consumed   atomic.Uint64
	suppressed atomic.Uint64
	errorCount atomic.Uint64
}

// New creates a Consumer over the given queue and sink.
func New(q *queue.RingBuffer, sink Sink, cfg Config) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}

	return &Consumer{
		queue:  q,
		sink:   sink,
		config: cfg,
		done:   make(chan struct{}),
	}
}

// Start launches the worker pool. Workers run until the context is
// cancelled, Stop is called, or the queue is closed and drained.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	slog.Info("alert consumer started", "workers", c.config.Workers)
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		alert, err := c.queue.PopWithTimeout(c.config.PollInterval)
		switch {
		case err == nil:
			c.record(id, alert)
		case errors.Is(err, queue.ErrQueueEmpty):
			// Timed out waiting, loop around and re-check shutdown.
		case errors.Is(err, queue.ErrQueueClosed):
			return
		default:
			slog.Warn("unexpected queue error", "worker_id", id, "error", err)
			c.errorCount.Add(1)
		}
	}
}

func (c *Consumer) record(workerID int, alert *schema.Alert) {
	recorded, err := c.sink.Record(alert)
	if err != nil {
		slog.Error("failed to record alert",
			"worker_id", workerID,
			"alert_id", alert.ID,
			"error", err,
		)
		c.errorCount.Add(1)
		return
	}

	if recorded {
		c.consumed.Add(1)
	} else {
		c.suppressed.Add(1)
	}
}

// Stop signals the workers and waits up to ShutdownWait for them to drain.
func (c *Consumer) Stop() {
	close(c.done)

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		slog.Info("alert consumer stopped gracefully")
	case <-time.After(c.config.ShutdownWait):
		slog.Warn("alert consumer shutdown timed out")
	}
}

// Metrics returns consumer statistics.
func (c *Consumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Consumed:   c.consumed.Load(),
		Suppressed: c.suppressed.Load(),
		Errors:     c.errorCount.Load(),
	}
}

// ConsumerMetrics holds consumer statistics.
type ConsumerMetrics struct {
	Consumed   uint64 `json:"consumed"`
	Suppressed uint64 `json:"suppressed"`
	Errors     uint64 `json:"errors"`
}
