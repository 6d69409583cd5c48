// Package notify hands notification batches to an outbound channel: the log,
// a RabbitMQ exchange, or a Kafka topic.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
)

// Message is the wire form of a batch. Text and Mentions are pre-rendered so
// a chat relay can post them verbatim.
type Message struct {
	model.NotificationBatch
	Text     string `json:"text"`
	Mentions string `json:"mentions,omitempty"`
}

// NewMessage wraps a batch with its rendered text.
func NewMessage(b model.NotificationBatch) Message {
	return Message{
		NotificationBatch: b,
		Text:              b.Announcement(),
		Mentions:          b.Mentions(),
	}
}

// Encode marshals the batch as a Message.
func Encode(b model.NotificationBatch) ([]byte, error) {
	return json.Marshal(NewMessage(b))
}

// Log writes batches to the application log. It is the default channel for
// local runs.
type Log struct {
	log *slog.Logger
}

// NewLog constructs a Log notifier.
func NewLog(log *slog.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, b model.NotificationBatch) error {
	l.log.Info(b.Announcement(),
		slog.String("batch_id", b.ID),
		slog.Int64("party_id", b.PartyID),
		slog.String("scope", b.Scope.Key()),
		slog.String("mentions", b.Mentions()),
		slog.Int("recipients", len(b.Recipients)),
	)
	return nil
}

func (l *Log) Close() error { return nil }
