package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer writes alert records to the stream topic with bounded retries.
type Producer struct {
	writer *kafka.Writer
	config *Config
	logger *slog.Logger
	closed atomic.Bool

	produced   atomic.Int64
	bytesOut   atomic.Int64
	errorCount atomic.Int64
	retryCount atomic.Int64
}

// NewProducer creates a producer for the configured topic.
func NewProducer(config *Config, logger *slog.Logger) (*Producer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dialer, err := config.newDialer()
	if err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    config.WriteBatchSize,
		BatchTimeout: config.WriteBatchTimeout,
		MaxAttempts:  config.WriteMaxRetries,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		Compression:  config.compression(),
		Transport: &kafka.Transport{
			Dial: dialer.DialFunc,
			TLS:  dialer.TLS,
			SASL: dialer.SASLMechanism,
		},
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Info("kafka producer ready",
		"brokers", config.Brokers,
		"topic", config.Topic,
		"compression", config.CompressionType,
	)

	return &Producer{
		writer: writer,
		config: config,
		logger: logger,
	}, nil
}

// Produce writes one keyed message, retrying transient failures with
// exponential backoff until the attempt limit.
func (p *Producer) Produce(ctx context.Context, key, value []byte) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	msg := kafka.Message{
		Key:   key,
		Value: value,
		Time:  time.Now(),
	}

	var lastErr error
	backoff := p.config.WriteRetryBackoff

	for attempt := 0; attempt <= p.config.WriteMaxRetries; attempt++ {
		if attempt > 0 {
			p.retryCount.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			p.produced.Add(1)
			p.bytesOut.Add(int64(len(msg.Value) + len(msg.Key)))
			return nil
		}

		lastErr = err
		p.errorCount.Add(1)
		p.logger.Warn("kafka write failed",
			"error", err,
			"attempt", attempt+1,
			"max_attempts", p.config.WriteMaxRetries+1,
		)

		if permanentWriteError(err) {
			return fmt.Errorf("kafka: permanent write error: %w", err)
		}
	}

	return fmt.Errorf("kafka: write failed after %d attempts: %w", p.config.WriteMaxRetries+1, lastErr)
}

// ProduceJSON marshals the value and writes it under the given key.
func (p *Producer) ProduceJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka: marshal message: %w", err)
	}
	return p.Produce(ctx, []byte(key), data)
}

// ProducerMetrics holds cumulative write counters.
type ProducerMetrics struct {
	Produced int64
	Bytes    int64
	Errors   int64
	Retries  int64
}

func (p *Producer) Metrics() ProducerMetrics {
	return ProducerMetrics{
		Produced: p.produced.Load(),
		Bytes:    p.bytesOut.Load(),
		Errors:   p.errorCount.Load(),
		Retries:  p.retryCount.Load(),
	}
}

// HealthCheck probes broker reachability.
func (p *Producer) HealthCheck(ctx context.Context) HealthStatus {
	if p.closed.Load() {
		return HealthStatus{LastCheck: time.Now(), Error: "producer is closed"}
	}
	return brokerHealth(ctx, p.config)
}

// Close flushes buffered messages and releases the writer.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.logger.Info("closing kafka producer",
		"produced", p.produced.Load(),
		"bytes", p.bytesOut.Load(),
	)

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka: close producer: %w", err)
	}
	return nil
}

// permanentWriteError reports errors that retrying cannot fix.
func permanentWriteError(err error) bool {
	switch {
	case errors.Is(err, kafka.MessageSizeTooLarge),
		errors.Is(err, kafka.InvalidTopic),
		errors.Is(err, kafka.TopicAuthorizationFailed),
		errors.Is(err, kafka.GroupAuthorizationFailed),
		errors.Is(err, kafka.ClusterAuthorizationFailed):
		return true
	}
	return false
}
