package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards every emitted event to a Kafka topic keyed by
// aggregate id, so events of one order stay ordered within a partition.
type KafkaPublisher struct {
	Writer MessageWriter
	Topics map[string]bool
}

// NewKafkaWriter builds an async writer. Delivery errors are logged from the
// completion callback.
func NewKafkaWriter(brokers []string, topic string, logger zerolog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error().Err(err).Int("messages", len(messages)).Msg("kafka delivery failed")
			}
		},
	}
}

// Notify implements Notifier.
func (p *KafkaPublisher) Notify(ctx context.Context, ev Event) error {
	if p == nil || p.Writer == nil {
		return nil
	}
	if len(p.Topics) > 0 && !p.Topics[ev.Topic] {
		return nil
	}
	value, err := encodePayload(ev)
	if err != nil {
		return fmt.Errorf("kafka: encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(ev.Topic)},
			{Key: "event_id", Value: []byte(ev.ID.String())},
		},
	}
	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", ev.Topic, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.Writer == nil {
		return nil
	}
	return p.Writer.Close()
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
