// README: Kafka sink publishing intent transitions as JSON keyed by intent id.
package infra

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"wheels/internal/modules/intent"
)

type KafkaEventSink struct {
	writer *kafka.Writer
}

func NewKafkaEventSink(brokers []string, topic string) *KafkaEventSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaEventSink{writer: w}
}

// Publish keys messages by intent so one intent's transitions stay ordered in a partition.
func (k *KafkaEventSink) Publish(ctx context.Context, e intent.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.IntentID), Value: b})
}

func (k *KafkaEventSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
