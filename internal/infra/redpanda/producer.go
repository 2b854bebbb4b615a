// Package redpanda adapts a Redpanda (Kafka-compatible) client to the
// broker-send capability the publisher consumes.
package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/cornjacket/event-egress/internal/outbox"
)

// Producer implements outbox.BrokerSender using Redpanda.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer creates a new Redpanda producer.
func NewProducer(brokers []string, logger *slog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redpanda client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger.With("component", "redpanda-producer"),
	}, nil
}

// Send delivers the payload to the topic. The key (the aggregate id)
// drives partitioning so one aggregate's events share a partition.
func (p *Producer) Send(ctx context.Context, topic, key string, payload []byte) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}

	// Synchronous produce: the publisher needs the outcome per row to
	// drive the state machine.
	results := p.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.logger.Debug("payload published",
		"topic", topic,
		"key", key,
		"bytes", len(payload),
	)

	return nil
}

// Close closes the producer connection.
func (p *Producer) Close() {
	p.client.Close()
	p.logger.Info("Redpanda producer closed")
}

// Ensure Producer implements outbox.BrokerSender
var _ outbox.BrokerSender = (*Producer)(nil)
