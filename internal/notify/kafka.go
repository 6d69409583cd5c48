package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes batches to a topic, keyed by party id so a party's
// messages stay on one partition.
type Kafka struct {
	writer messageWriter
}

// NewKafka initializes a Kafka producer.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (k *Kafka) Notify(ctx context.Context, b model.NotificationBatch) error {
	const op = "notify.Kafka.Notify"

	value, err := Encode(b)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(b.PartyID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "batch_id", Value: []byte(b.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
