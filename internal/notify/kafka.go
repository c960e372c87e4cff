package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes order lifecycle events keyed by order id, so every
// event of one order lands on the same partition.
type KafkaSender struct {
	writer MessageWriter
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaSender(writer MessageWriter) *KafkaSender {
	return &KafkaSender{writer: writer}
}

func (s *KafkaSender) Name() string {
	return "kafka"
}

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: failed to encode event: %w", err)
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.OrderID),
		Value: payload,
		Time:  msg.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: failed to publish %s for order %s: %w", msg.EventType, msg.OrderID, err)
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}

// LogSender writes messages to the log. It stands in for a sink that is not
// configured, so development setups still show what would be sent.
type LogSender struct {
	name string
}

func NewLogSender(name string) *LogSender {
	return &LogSender{name: name}
}

func (s *LogSender) Name() string {
	return s.name
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	log.Info().
		Str("sink", s.name).
		Stringer("kind", msg.Kind).
		Str("event_type", msg.EventType).
		Str("order_id", msg.OrderID).
		Str("order_number", msg.OrderNumber).
		Str("email", msg.Email).
		Str("amount", msg.Amount.StringFixed(2)).
		Msg("notify: message logged")
	return nil
}
