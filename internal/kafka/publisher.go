// Package kafka publishes fleet events to a Kafka-compatible broker
// (Kafka, Redpanda) as an alternative to NATS.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Publisher writes every event to one topic, keyed by its subject so that all
// events of a machine land on the same partition in order.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

func NewPublisher(ctx context.Context, brokers, topic string, logger *zap.Logger) (*Publisher, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, fmt.Errorf("kafka brokers must be provided")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic must be provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokers, ",")...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.RecordRetries(3),
		kgo.RetryBackoffFn(func(attempts int) time.Duration {
			return time.Duration(attempts) * 200 * time.Millisecond
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping kafka brokers %s: %w", brokers, err)
	}
	return &Publisher{client: client, topic: topic, logger: logger.Named("kafka")}, nil
}

// Publish blocks until the broker acknowledges the record or ctx ends.
func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte) error {
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(subject),
		Value: payload,
	}
	return p.client.ProduceSync(ctx, rec).FirstErr()
}

func (p *Publisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka flush failed", zap.Error(err))
	}
	p.client.Close()
}
