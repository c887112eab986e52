// Package kafka publishes dispatched events to a broker topic, mirroring the
// webhook fan-out for consumers that prefer a stream over callbacks.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"wabridge/internal/domain"
)

// Publisher is a dispatch sink backed by a Kafka-compatible broker. Records
// are keyed by buffer group key so per-subject ordering survives
// partitioning.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// NewPublisher connects to the seed brokers and ensures the topic exists.
// Topic creation is idempotent; an "already exists" answer is fine.
func NewPublisher(ctx context.Context, seeds []string, topic string, opts ...Option) (*Publisher, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("at least one seed broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	responses, err := admin.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, err)
	}
	for _, resp := range responses {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			client.Close()
			return nil, fmt.Errorf("ensure topic %s: %w", topic, resp.Err)
		}
	}

	p := &Publisher{client: client, topic: topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger.Info("kafka sink ready", "topic", topic, "seed_brokers", len(seeds))
	return p, nil
}

// Name identifies the sink in logs and outcome records.
func (p *Publisher) Name() string {
	return "kafka:" + p.topic
}

// Publish produces one event synchronously. The dispatcher already runs off
// the ingestion path, so the produce latency never backs up normalization.
func (p *Publisher) Publish(ctx context.Context, event domain.NormalizedEvent) error {
	payload, err := json.Marshal(event.Envelope(""))
	if err != nil {
		return fmt.Errorf("encode event for kafka: %w", err)
	}
	record := &kgo.Record{
		Key:   []byte(event.BufferGroupKey),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and releases the client.
func (p *Publisher) Close() {
	p.client.Close()
}
