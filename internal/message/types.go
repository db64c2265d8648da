package message

import (
	"context"
	"time"

	"github.com/armando3069/zottis/internal/channel"
)

// Sender types.
const (
	SenderClient = "client"
	SenderBot    = "bot"
)

// Delivery statuses. Inbound messages are received; outbound ones record
// whether the platform accepted them.
const (
	DeliveryReceived = "received"
	DeliverySent     = "sent"
	DeliveryFailed   = "failed"
)

// Message is one entry of a conversation ledger.
type Message struct {
	ID                string           `json:"id"`
	ConversationID    string           `json:"conversation_id"`
	SenderType        string           `json:"sender_type"`
	Text              string           `json:"text"`
	Platform          channel.Platform `json:"platform"`
	ExternalMessageID string           `json:"external_message_id,omitempty"`
	DeliveryStatus    string           `json:"delivery_status"`
	Timestamp         time.Time        `json:"timestamp"`
	CreatedAt         time.Time        `json:"created_at"`
}

// AppendInput is the input for appending a message.
type AppendInput struct {
	ConversationID    string
	SenderType        string
	Text              string
	Platform          channel.Platform
	ExternalMessageID string
	DeliveryStatus    string
	// Timestamp is the platform time for inbound messages; zero means now.
	Timestamp time.Time
}

// Publisher is notified after a message row is committed.
type Publisher interface {
	PublishMessageCreated(ctx context.Context, msg Message) error
}

// Writer defines write behavior needed by the ingestion pipeline.
type Writer interface {
	Append(ctx context.Context, in AppendInput) (Message, error)
}

// Service defines message read/write behavior.
type Service interface {
	Writer
	ListByConversation(ctx context.Context, conversationID string) ([]Message, error)
	Recent(ctx context.Context, conversationID string, limit int) ([]Message, error)
}
