package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-formrelay/core"
	k "github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...k.Message) error
	Close() error
}

// NewWriter builds a writer for the outcome topic.
func NewWriter(cfg core.KafkaConfig) *k.Writer {
	return &k.Writer{
		Addr:                   k.TCP(cfg.Brokers...),
		Topic:                  strings.TrimSpace(cfg.Topic),
		Balancer:               &k.Hash{},
		BatchTimeout:           5 * time.Millisecond,
		RequiredAcks:           k.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// Sink publishes dispatch outcome events keyed by reference number, so every
// attempt for one submission lands on the same partition.
type Sink struct {
	writer MessageWriter
}

func NewSink(writer MessageWriter) (*Sink, error) {
	if writer == nil {
		return nil, fmt.Errorf("kafka: writer is required")
	}
	return &Sink{writer: writer}, nil
}

func (s *Sink) Publish(ctx context.Context, event core.OutcomeEvent) error {
	if s == nil || s.writer == nil {
		return fmt.Errorf("kafka: sink is not configured")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: marshal outcome event: %w", err)
	}
	msg := k.Message{
		Key:   []byte(messageKey(event)),
		Value: body,
		Time:  event.Meta.Time,
		Headers: []k.Header{
			{Key: "event_id", Value: []byte(event.Meta.ID)},
			{Key: "event_type", Value: []byte(event.Meta.Type)},
			{Key: "content_type", Value: []byte("application/json")},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write outcome event: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

func messageKey(event core.OutcomeEvent) string {
	if ref := strings.TrimSpace(event.Data.ReferenceNumber); ref != "" {
		return ref
	}
	return event.Data.DispatchID
}

var _ core.OutcomeSink = (*Sink)(nil)
