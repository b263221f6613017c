package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-formrelay/core"
	k "github.com/segmentio/kafka-go"
)

type stubWriter struct {
	msgs   []k.Message
	err    error
	closed bool
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...k.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func testEvent() core.OutcomeEvent {
	finished := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return core.NewOutcomeEvent("evt-1", "formrelay", core.DispatchReport{
		DispatchID:      "d1",
		ReferenceNumber: "48213377",
		Attempt:         1,
		StartedAt:       finished.Add(-time.Second),
		FinishedAt:      finished,
		Outcomes: []core.Outcome{
			core.SentOutcome(core.ChannelEmail, "forward and confirmation sent"),
			core.FailedOutcome(core.ChannelWebhook, "timed out after 10s", true),
		},
	})
}

func TestSink_PublishKeysByReference(t *testing.T) {
	writer := &stubWriter{}
	sink, err := NewSink(writer)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(writer.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.msgs))
	}
	msg := writer.msgs[0]
	if string(msg.Key) != "48213377" {
		t.Fatalf("expected reference number key, got %q", msg.Key)
	}
	decoded := core.OutcomeEvent{}
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.Meta.Type != core.OutcomeEventType || len(decoded.Data.Outcomes) != 2 {
		t.Fatalf("unexpected event payload %#v", decoded)
	}
	if len(msg.Headers) == 0 || msg.Headers[0].Key != "event_id" || string(msg.Headers[0].Value) != "evt-1" {
		t.Fatalf("expected event id header, got %#v", msg.Headers)
	}
}

func TestSink_FallsBackToDispatchKeyAndWrapsErrors(t *testing.T) {
	writer := &stubWriter{err: errors.New("broker unavailable")}
	sink, _ := NewSink(writer)
	event := testEvent()
	event.Data.ReferenceNumber = ""

	err := sink.Publish(context.Background(), event)
	if err == nil || !errors.Is(err, writer.err) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
	if string(writer.msgs[0].Key) != "d1" {
		t.Fatalf("expected dispatch id key, got %q", writer.msgs[0].Key)
	}
	if err := sink.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer to be closed")
	}
}

func TestNewSink_RequiresWriter(t *testing.T) {
	if _, err := NewSink(nil); err == nil {
		t.Fatalf("expected error for nil writer")
	}
	writer := NewWriter(core.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: " outcomes "})
	if writer.Topic != "outcomes" {
		t.Fatalf("expected trimmed topic, got %q", writer.Topic)
	}
}
