package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"order-tracker/config"
	"order-tracker/logger"
	"order-tracker/models"

	"github.com/twmb/franz-go/pkg/kgo"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Kafka publishes every status change as a JSON event keyed by order id,
// so all events of one order land on the same partition in order.
type Kafka struct {
	client producer
	topic  string
	log    logger.Logger
}

func NewKafka(cfg config.KafkaConfig, log logger.Logger) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.StatusTopic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	log.Info("kafka status events enabled",
		logger.Any("brokers", cfg.Brokers),
		logger.String("topic", cfg.StatusTopic),
	)
	return &Kafka{client: client, topic: cfg.StatusTopic, log: log}, nil
}

func (k *Kafka) StatusChanged(ctx context.Context, change models.StatusChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode status change: %w", err)
	}
	rec := &kgo.Record{
		Topic:     k.topic,
		Key:       []byte(change.OrderID),
		Value:     payload,
		Timestamp: change.At,
	}
	if err := k.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publish to kafka topic %s: %w", k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() {
	k.client.Close()
}
