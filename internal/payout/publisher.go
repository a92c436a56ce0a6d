// Package payout delivers approved refunds to the payment collaborator. Events
// are written to the outbox in the same transaction that approves a refund;
// the Dispatcher publishes them afterwards, at least once.
package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/example/hotel-refunds/internal/models"
)

// Publisher hands one outbox event to the payment collaborator.
type Publisher interface {
	Publish(ctx context.Context, e *models.OutboxEvent) error
	Close() error
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	RetryMax int
	Timeout  time.Duration
}

// NewSaramaConfig returns the producer settings used for refund events:
// acknowledged by all in-sync replicas, idempotent, hash-partitioned by key so
// every event of one refund request lands on the same partition.
func NewSaramaConfig(cfg KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Retry.Max = cfg.RetryMax
	if sc.Producer.Retry.Max <= 0 {
		sc.Producer.Retry.Max = 3
	}
	if cfg.Timeout > 0 {
		sc.Producer.Timeout = cfg.Timeout
	}
	sc.ClientID = "hotel-refunds-payout"
	return sc
}

// KafkaPublisher publishes events with a sarama SyncProducer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaPublisher connects to the brokers in cfg.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher needs at least one broker")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg.Topic, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e *models.OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.AggregateID),
		Value: sarama.ByteEncoder(e.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(e.ID)},
			{Key: []byte("event_type"), Value: []byte(e.Type)},
			{Key: []byte("created_at"), Value: []byte(e.CreatedAt.UTC().Format(time.RFC3339Nano))},
		},
		Timestamp: e.CreatedAt,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send %s event %s to Kafka: %w", e.Type, e.ID, err)
	}
	p.logger.Debug("payout_event_published",
		"event_id", e.ID,
		"topic", p.topic,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// LogPublisher writes events to the log. It stands in for the payment
// collaborator when no brokers are configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, e *models.OutboxEvent) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("payout_event",
		"event_id", e.ID,
		"type", string(e.Type),
		"refund_request_id", e.AggregateID,
		"payload", string(e.Payload),
	)
	return nil
}

func (LogPublisher) Close() error { return nil }
