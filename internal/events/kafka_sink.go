package events

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink writes events to a single topic keyed by conversation id so one conversation's
// events stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	source string
	logger *zap.Logger
}

// NewKafkaSink builds a synchronous low-latency writer.
func NewKafkaSink(brokers []string, topic, source string, logger *zap.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &KafkaSink{writer: writer, source: source, logger: logger.Named("kafka-sink")}
}

func (k *KafkaSink) Publish(ctx context.Context, event Event) error {
	data, err := Encode(k.source, event)
	if err != nil {
		return err
	}
	key := string(event.Type)
	if event.ConversationID != 0 {
		key = strconv.FormatInt(event.ConversationID, 10)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  event.Timestamp,
	}); err != nil {
		return err
	}
	k.logger.Debug("event published", zap.String("event_type", string(event.Type)), zap.String("key", key))
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
