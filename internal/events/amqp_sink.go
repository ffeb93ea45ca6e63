package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPSink publishes events to a durable topic exchange with routing key "chat.<event type>".
type AMQPSink struct {
	conn     *amqp091.Connection
	exchange string
	source   string
	logger   *zap.Logger
}

// NewAMQPSink dials the broker and declares the exchange.
func NewAMQPSink(url, exchange, source string, logger *zap.Logger) (*AMQPSink, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPSink{
		conn:     conn,
		exchange: exchange,
		source:   source,
		logger:   logger.Named("amqp-sink"),
	}, nil
}

func (a *AMQPSink) Publish(ctx context.Context, event Event) error {
	ch, err := a.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := Encode(a.source, event)
	if err != nil {
		return err
	}
	key := "chat." + string(event.Type)
	err = ch.PublishWithContext(ctx, a.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.ID,
		Timestamp:    time.Now(),
		Type:         string(event.Type),
		Body:         body,
	})
	if err == nil {
		a.logger.Debug("event published", zap.String("routing_key", key))
	}
	return err
}

func (a *AMQPSink) Close() error {
	return a.conn.Close()
}
