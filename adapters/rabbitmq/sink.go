package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-formrelay/core"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultRoutingKey = "formrelay.dispatch.completed"

// Channel is the subset of *amqp.Channel the sink uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Config struct {
	Exchange   string
	RoutingKey string
	Producer   string
}

// Sink publishes outcome events to a durable topic exchange. An AMQP channel
// is not safe for concurrent publishing, so publishes are serialized.
type Sink struct {
	mu      sync.Mutex
	channel Channel
	closer  func() error
	config  Config
}

// Dial connects to url, opens a channel and declares the exchange.
func Dial(url string, config Config) (*Sink, error) {
	conn, err := amqp.Dial(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	sink, err := NewSink(ch, config)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	sink.closer = conn.Close
	return sink, nil
}

func NewSink(channel Channel, config Config) (*Sink, error) {
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq: channel is required")
	}
	config.Exchange = strings.TrimSpace(config.Exchange)
	if config.Exchange == "" {
		return nil, fmt.Errorf("rabbitmq: exchange is required")
	}
	config.RoutingKey = strings.TrimSpace(config.RoutingKey)
	if config.RoutingKey == "" {
		config.RoutingKey = DefaultRoutingKey
	}
	if err := channel.ExchangeDeclare(config.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq: declare exchange %q: %w", config.Exchange, err)
	}
	return &Sink{channel: channel, config: config}, nil
}

func (s *Sink) Publish(ctx context.Context, event core.OutcomeEvent) error {
	if s == nil || s.channel == nil {
		return fmt.Errorf("rabbitmq: sink is not configured")
	}
	if strings.TrimSpace(event.Meta.ID) == "" {
		return fmt.Errorf("rabbitmq: event id is required")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal outcome event: %w", err)
	}
	correlationID := event.Meta.ID
	if event.Meta.CorrelationID != nil && *event.Meta.CorrelationID != "" {
		correlationID = *event.Meta.CorrelationID
	}
	appID := s.config.Producer
	if event.Meta.Producer != nil && appID == "" {
		appID = *event.Meta.Producer
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.Meta.ID,
		CorrelationId: correlationID,
		Type:          event.Meta.Type,
		Timestamp:     event.Meta.Time,
		AppId:         appID,
		Headers: amqp.Table{
			"reference_number": event.Data.ReferenceNumber,
			"attempt":          int32(event.Data.Attempt),
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.channel.PublishWithContext(ctx, s.config.Exchange, s.config.RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish outcome event: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s == nil || s.channel == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.channel.Close()
	if s.closer != nil {
		if closeErr := s.closer(); err == nil {
			err = closeErr
		}
	}
	return err
}

var _ core.OutcomeSink = (*Sink)(nil)
