package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"argus-vms/internal/queue"
	"argus-vms/internal/schema"
)

// AlertPublisher streams accepted alerts to the Kafka topic. Messages are
// keyed by organization ID so alerts for the same tenant land on the same
// partition and preserve order.
type AlertPublisher struct {
	producer *Producer
	logger   *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewAlertPublisher creates a publisher on top of a configured producer.
func NewAlertPublisher(config *Config, logger *slog.Logger) (*AlertPublisher, error) {
	producer, err := NewProducer(config, logger)
	if err != nil {
		return nil, err
	}

	return &AlertPublisher{
		producer: producer,
		logger:   logger,
	}, nil
}

// Publish sends one alert to the stream.
func (p *AlertPublisher) Publish(ctx context.Context, alert *schema.Alert) error {
	key := strconv.FormatInt(alert.OrganizationID, 10)

	if err := p.producer.ProduceJSON(ctx, key, alert); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("kafka: failed to publish alert %s: %w", alert.ID, err)
	}

	p.published.Add(1)
	return nil
}

// PublisherStats reports publish counters.
type PublisherStats struct {
	Published int64
	Failed    int64
}

func (p *AlertPublisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *AlertPublisher) HealthCheck(ctx context.Context) HealthStatus {
	return p.producer.HealthCheck(ctx)
}

func (p *AlertPublisher) Close() error {
	return p.producer.Close()
}

// AlertIngestor consumes alert submissions from Kafka and feeds them into the
// intake queue. Malformed or invalid messages are counted and dropped rather
// than retried; the broker is not a place to park bad payloads.
type AlertIngestor struct {
	consumer  *Consumer
	validator *schema.Validator
	buffer    *queue.RingBuffer
	logger    *slog.Logger
	now       func() time.Time

	accepted atomic.Int64
	rejected atomic.Int64
	dropped  atomic.Int64
}

// NewAlertIngestor creates an ingestor that decodes alert submissions and
// pushes accepted alerts onto the buffer.
func NewAlertIngestor(config *Config, validator *schema.Validator, buffer *queue.RingBuffer, logger *slog.Logger) (*AlertIngestor, error) {
	ing := &AlertIngestor{
		validator: validator,
		buffer:    buffer,
		logger:    logger,
		now:       time.Now,
	}

	consumer, err := NewConsumer(config, ing.handleMessage, logger)
	if err != nil {
		return nil, err
	}
	ing.consumer = consumer

	return ing, nil
}

func (i *AlertIngestor) handleMessage(ctx context.Context, msg Message) error {
	var input schema.AlertInput
	if err := json.Unmarshal(msg.Value, &input); err != nil {
		i.rejected.Add(1)
		i.logger.Warn("dropping undecodable alert message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err)
		return nil
	}

	alert := input.ToAlert(i.now())
	if err := i.validator.Validate(alert); err != nil {
		i.rejected.Add(1)
		i.logger.Warn("dropping invalid alert message",
			"alert_id", alert.ID,
			"org_id", alert.OrganizationID,
			"error", err)
		return nil
	}

	if err := i.buffer.Push(alert); err != nil {
		i.dropped.Add(1)
		i.logger.Error("intake buffer rejected alert",
			"alert_id", alert.ID,
			"org_id", alert.OrganizationID,
			"error", err)
		return nil
	}

	i.accepted.Add(1)
	return nil
}

// Start begins consuming until the consumer is stopped.
func (i *AlertIngestor) Start() error {
	return i.consumer.Start()
}

// StartAsync begins consuming in a background goroutine.
func (i *AlertIngestor) StartAsync() error {
	return i.consumer.StartAsync()
}

func (i *AlertIngestor) Stop() error {
	return i.consumer.Stop()
}

// IngestorStats reports intake counters.
type IngestorStats struct {
	Accepted int64
	Rejected int64
	Dropped  int64
}

func (i *AlertIngestor) Stats() IngestorStats {
	return IngestorStats{
		Accepted: i.accepted.Load(),
		Rejected: i.rejected.Load(),
		Dropped:  i.dropped.Load(),
	}
}

func (i *AlertIngestor) HealthCheck(ctx context.Context) HealthStatus {
	return i.consumer.HealthCheck(ctx)
}
