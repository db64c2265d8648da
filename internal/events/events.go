// Package events fans ledger events out to an AMQP topic exchange.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/armando3069/zottis/internal/message"
)

const (
	TypeMessageCreated = "message.created"
	producer           = "zottis"
)

// Meta describes an event.
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Producer      string    `json:"producer,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Envelope is the JSON body of every published event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope wraps data with fresh metadata.
func NewEnvelope(eventType string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Type:       eventType,
			Producer:   producer,
			OccurredAt: time.Now().UTC(),
		},
		Data: data,
	}
}

// Publisher publishes envelopes on a durable topic exchange with publisher
// confirms enabled.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger
}

// NewPublisher dials url and declares exchange.
func NewPublisher(log *slog.Logger, url, exchange string) (*Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("amqp url is required")
	}
	if log == nil {
		log = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{
		conn:     conn,
		exchange: exchange,
		logger:   log.With(slog.String("component", "events")),
	}, nil
}

// Publish sends env with routing key and waits for the broker confirm.
func (p *Publisher) Publish(ctx context.Context, key string, env Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}
	publishing, err := buildPublishing(env)
	if err != nil {
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, publishing)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: broker nacked", key)
	}
	p.logger.Debug("published", slog.String("key", key), slog.String("exchange", p.exchange))
	return nil
}

// Close closes the broker connection.
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func buildPublishing(env Envelope) (amqp.Publishing, error) {
	if env.Meta.ID == "" {
		env.Meta.ID = uuid.NewString()
	}
	if env.Meta.OccurredAt.IsZero() {
		env.Meta.OccurredAt = time.Now().UTC()
	}
	correlationID := env.Meta.CorrelationID
	if correlationID == "" {
		correlationID = env.Meta.ID
	}
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode envelope: %w", err)
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: correlationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.OccurredAt,
		Body:          body,
	}, nil
}

type envelopePublisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
}

// MessagePublisher forwards committed ledger messages to the exchange.
type MessagePublisher struct {
	publisher envelopePublisher
}

// NewMessagePublisher adapts p to message.Publisher.
func NewMessagePublisher(p envelopePublisher) *MessagePublisher {
	return &MessagePublisher{publisher: p}
}

// RoutingKey is message.created.<platform>.
func RoutingKey(msg message.Message) string {
	platform := strings.TrimSpace(msg.Platform.String())
	if platform == "" {
		platform = "unknown"
	}
	return TypeMessageCreated + "." + platform
}

func (m *MessagePublisher) PublishMessageCreated(ctx context.Context, msg message.Message) error {
	env := NewEnvelope(TypeMessageCreated, msg)
	env.Meta.CorrelationID = msg.ConversationID
	return m.publisher.Publish(ctx, RoutingKey(msg), env)
}
