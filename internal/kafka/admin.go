package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// Admin performs the one administrative task the pipeline needs: making
// sure the alert topic exists with the configured shape before the
// publisher and ingestor start.
type Admin struct {
	config *Config
	logger *slog.Logger
}

// NewAdmin creates a topic admin client.
func NewAdmin(config *Config, logger *slog.Logger) (*Admin, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Admin{config: config, logger: logger}, nil
}

// EnsureTopic creates the configured topic if it does not exist. Existing
// topics are left untouched, whatever their shape.
func (a *Admin) EnsureTopic(ctx context.Context) error {
	exists, err := a.topicExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		a.logger.Debug("topic already exists", "topic", a.config.Topic)
		return nil
	}
	return a.createTopic(ctx)
}

func (a *Admin) topicExists(ctx context.Context) (bool, error) {
	conn, err := a.dial(ctx, a.config.Brokers[0])
	if err != nil {
		return false, err
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return false, fmt.Errorf("kafka: read partitions: %w", err)
	}

	for _, p := range partitions {
		if p.Topic == a.config.Topic {
			return true, nil
		}
	}
	return false, nil
}

func (a *Admin) createTopic(ctx context.Context) error {
	conn, err := a.dial(ctx, a.config.Brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	// Topic creation must go through the controller broker.
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka: resolve controller: %w", err)
	}

	controllerConn, err := a.dial(ctx, net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	entries := []kafka.ConfigEntry{
		{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(a.config.RetentionMs, 10)},
	}
	if a.config.MaxMessageBytes > 0 {
		entries = append(entries, kafka.ConfigEntry{
			ConfigName:  "max.message.bytes",
			ConfigValue: strconv.Itoa(a.config.MaxMessageBytes),
		})
	}

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             a.config.Topic,
		NumPartitions:     a.config.Partitions,
		ReplicationFactor: a.config.ReplicationFactor,
		ConfigEntries:     entries,
	})
	if err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", a.config.Topic, err)
	}

	a.logger.Info("kafka topic created",
		"topic", a.config.Topic,
		"partitions", a.config.Partitions,
		"replication_factor", a.config.ReplicationFactor,
	)
	return nil
}

func (a *Admin) dial(ctx context.Context, addr string) (*kafka.Conn, error) {
	dialer, err := a.config.newDialer()
	if err != nil {
		return nil, err
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("kafka: connect %s: %w", addr, err)
	}
	return conn, nil
}

// HealthCheck probes broker reachability.
func (a *Admin) HealthCheck(ctx context.Context) HealthStatus {
	return brokerHealth(ctx, a.config)
}
