package notify

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/posterly/order-engine/pkg/logging"
)

// KafkaPublisher writes order events to the notification topic, keyed by
// order number so all events of one order land on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher stands in when no broker is configured; events are written
// to the log and marked sent.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	logging.Log(logging.Fields{
		Component:   "log_publisher",
		OrderNumber: key,
		Message:     string(payload),
	})
	return nil
}
