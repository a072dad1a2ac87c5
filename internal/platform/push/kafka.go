package push

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes notifications to a topic; a delivery worker outside
// this service consumes it. Messages are keyed by device token so one device
// keeps its ordering within a partition.
type KafkaSender struct {
	writer messageWriter
}

func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return &KafkaSender{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (s *KafkaSender) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if err := validate(token); err != nil {
		return err
	}
	value, err := encodeEnvelope(token, title, body, data)
	if err != nil {
		return fmt.Errorf("encode push envelope: %w", err)
	}

	msg := kafka.Message{Key: []byte(token), Value: value}
	if id := data["appointment_id"]; id != "" {
		msg.Headers = []kafka.Header{{Key: "appointment_id", Value: []byte(id)}}
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish push message: %w", err)
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
