package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Shivanand-hulikatti/listening-parties/internal/lib/logger/sl"
	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
)

// RoutingKey is used for every batch published to the exchange.
const RoutingKey = "party.starting"

const (
	dialAttempts = 5
	dialBackoff  = 2 * time.Second
)

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQ publishes batches to a topic exchange.
type RabbitMQ struct {
	log      *slog.Logger
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

// DialRabbitMQ connects, retrying while the broker starts, and declares the
// exchange.
func DialRabbitMQ(ctx context.Context, log *slog.Logger, url, exchange string) (*RabbitMQ, error) {
	const op = "notify.DialRabbitMQ"

	conn, err := dial(ctx, log, url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: open channel: %w", op, err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: declare exchange: %w", op, err)
	}

	return &RabbitMQ{log: log, conn: conn, channel: ch, exchange: exchange}, nil
}

// dial tries up to dialAttempts times, backing off between attempts until ctx
// is done.
func dial(ctx context.Context, log *slog.Logger, url string) (*amqp.Connection, error) {
	var err error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		var conn *amqp.Connection
		if conn, err = amqp.Dial(url); err == nil {
			return conn, nil
		}
		if attempt == dialAttempts {
			break
		}
		log.Warn("rabbitmq connect failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", dialBackoff),
			sl.Err(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialBackoff):
		}
	}
	return nil, err
}

func (r *RabbitMQ) Notify(ctx context.Context, b model.NotificationBatch) error {
	const op = "notify.RabbitMQ.Notify"

	body, err := Encode(b)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err = r.channel.PublishWithContext(ctx, r.exchange, RoutingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: b.ID,
		MessageId:     b.ID,
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     b.ClaimedAt,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
