package repository

import (
	"context"
	"fmt"

	"BTProxy/internal/domain/models"
)

// publisher is the subset of kafka.Producer used here.
type publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEvents publishes summary events keyed by cache key, so events of
// one key stay ordered on one partition.
type KafkaEvents struct {
	pub   publisher
	topic string
}

func NewKafkaEvents(pub publisher, topic string) *KafkaEvents {
	return &KafkaEvents{pub: pub, topic: topic}
}

func (k *KafkaEvents) Publish(ctx context.Context, ev models.SummaryEvent) error {
	if err := k.pub.Publish(ctx, k.topic, []byte(ev.Key), ev); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (k *KafkaEvents) Close() error {
	return k.pub.Close()
}

// NoopEvents drops every event. Used when Kafka is disabled.
type NoopEvents struct{}

func (NoopEvents) Publish(context.Context, models.SummaryEvent) error { return nil }

func (NoopEvents) Close() error { return nil }
