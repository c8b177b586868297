package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageHandler processes one consumed message. A nil return commits the
// offset; an error leaves the offset uncommitted for redelivery.
type MessageHandler func(ctx context.Context, msg Message) error

// Message is a consumed record. Only the fields the alert ingestor reads
// are carried over from the wire format.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Consumer reads the stream topic within a consumer group and hands each
// record to the handler.
type Consumer struct {
	reader  *kafka.Reader
	config  *Config
	logger  *slog.Logger
	handler MessageHandler

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	started atomic.Bool

	consumed   atomic.Int64
	bytesIn    atomic.Int64
	errorCount atomic.Int64
}

// NewConsumer creates a consumer bound to the configured topic and group.
func NewConsumer(config *Config, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("kafka: message handler is required")
	}

	reader, err := newReader(config, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger.Info("kafka consumer ready",
		"brokers", config.Brokers,
		"topic", config.Topic,
		"group", config.ConsumerGroup,
	)

	return &Consumer{
		reader:  reader,
		config:  config,
		logger:  logger,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func newReader(cfg *Config, logger *slog.Logger) (*kafka.Reader, error) {
	dialer, err := cfg.newDialer()
	if err != nil {
		return nil, err
	}

	debugLog := func(msg string, args ...interface{}) {
		logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-reader")
	}
	errorLog := func(msg string, args ...interface{}) {
		logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.ConsumerGroup,
		Topic:             cfg.Topic,
		Dialer:            dialer,
		MinBytes:          cfg.ReadMinBytes,
		MaxBytes:          cfg.ReadMaxBytes,
		MaxWait:           cfg.ReadMaxWait,
		CommitInterval:    cfg.CommitInterval,
		StartOffset:       cfg.StartOffset,
		HeartbeatInterval: cfg.HeartbeatInterval,
		SessionTimeout:    cfg.SessionTimeout,
		RebalanceTimeout:  cfg.RebalanceTimeout,
		ReadBackoffMin:    100 * time.Millisecond,
		ReadBackoffMax:    time.Second,
		Logger:            kafka.LoggerFunc(debugLog),
		ErrorLogger:       kafka.LoggerFunc(errorLog),
	}), nil
}

// Start consumes until Stop is called. Blocking; see StartAsync.
func (c *Consumer) Start() error {
	if c.started.Swap(true) {
		return errors.New("kafka: consumer already started")
	}
	return c.run()
}

// StartAsync consumes in a background goroutine and returns immediately.
func (c *Consumer) StartAsync() error {
	if c.started.Swap(true) {
		return errors.New("kafka: consumer already started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.run(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("consumer loop exited", "error", err)
		}
	}()

	return nil
}

func (c *Consumer) run() error {
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		rec, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			c.errorCount.Add(1)
			c.logger.Error("fetch failed", "topic", c.config.Topic, "error", err)

			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		msg := Message{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       rec.Key,
			Value:     rec.Value,
			Time:      rec.Time,
		}

		if err := c.dispatch(msg); err != nil {
			c.logger.Error("handler failed, offset not committed",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
			continue
		}

		if err := c.reader.CommitMessages(c.ctx, rec); err != nil {
			c.logger.Error("commit failed", "offset", rec.Offset, "error", err)
		}

		c.consumed.Add(1)
		c.bytesIn.Add(int64(len(rec.Value) + len(rec.Key)))
	}
}

// dispatch runs the handler under a per-message deadline so a stuck handler
// cannot stall the partition forever.
func (c *Consumer) dispatch(msg Message) error {
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	if err := c.handler(ctx, msg); err != nil {
		c.errorCount.Add(1)
		return err
	}
	return nil
}

// ConsumerMetrics holds cumulative read counters.
type ConsumerMetrics struct {
	Consumed int64
	Bytes    int64
	Errors   int64
}

func (c *Consumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Consumed: c.consumed.Load(),
		Bytes:    c.bytesIn.Load(),
		Errors:   c.errorCount.Load(),
	}
}

// HealthCheck probes broker reachability.
func (c *Consumer) HealthCheck(ctx context.Context) HealthStatus {
	if c.closed.Load() {
		return HealthStatus{LastCheck: time.Now(), Error: "consumer is closed"}
	}
	status := brokerHealth(ctx, c.config)
	status.Healthy = status.Healthy && c.started.Load()
	return status
}

// Stop cancels the loop, waits for in-flight work and closes the reader.
func (c *Consumer) Stop() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.logger.Info("stopping kafka consumer",
		"consumed", c.consumed.Load(),
		"bytes", c.bytesIn.Load(),
	)

	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("kafka: close consumer: %w", err)
	}
	return nil
}
