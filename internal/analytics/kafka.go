package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka publishes events to a Kafka topic, keyed by session ID so one
// session's events stay in order within a partition.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka creates a publisher for the given brokers and topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish writes the event as a JSON message.
func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode analytics event: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish analytics event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.writer.Close() }
