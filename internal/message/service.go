package message

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/db"
)

const messageColumns = `id::text, conversation_id::text, sender_type, text, platform,
COALESCE(external_message_id, ''), delivery_status, timestamp, created_at`

// DBService persists and reads conversation messages.
type DBService struct {
	db         db.DBTX
	logger     *slog.Logger
	publishers []Publisher
}

// NewService creates a message service. Publishers are called after each append.
func NewService(log *slog.Logger, conn db.DBTX, publishers ...Publisher) *DBService {
	if log == nil {
		log = slog.Default()
	}
	var active []Publisher
	for _, p := range publishers {
		if p != nil {
			active = append(active, p)
		}
	}
	return &DBService{
		db:         conn,
		logger:     log.With(slog.String("service", "message")),
		publishers: active,
	}
}

// Append writes a single message and notifies publishers once it is stored.
func (s *DBService) Append(ctx context.Context, in AppendInput) (Message, error) {
	if _, err := uuid.Parse(in.ConversationID); err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	switch in.SenderType {
	case SenderClient, SenderBot:
	default:
		return Message{}, fmt.Errorf("invalid sender type %q", in.SenderType)
	}
	status := strings.TrimSpace(in.DeliveryStatus)
	if status == "" {
		status = DeliveryReceived
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	row := s.db.QueryRow(ctx, `
INSERT INTO messages (id, conversation_id, sender_type, text, platform, external_message_id, delivery_status, timestamp)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, NULLIF($6, ''), $7, $8)
RETURNING `+messageColumns,
		uuid.NewString(), in.ConversationID, in.SenderType, in.Text, in.Platform.String(),
		strings.TrimSpace(in.ExternalMessageID), status, ts.UTC(),
	)
	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	s.publishMessageCreated(ctx, msg)
	return msg, nil
}

// ListByConversation returns every message of a conversation in ledger order.
func (s *DBService) ListByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	rows, err := s.db.Query(ctx, `SELECT `+messageColumns+` FROM messages
WHERE conversation_id = $1::uuid
ORDER BY timestamp ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return collectMessages(rows)
}

// Recent returns the last limit messages, oldest first.
func (s *DBService) Recent(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	rows, err := s.db.Query(ctx, `SELECT `+messageColumns+` FROM (
    SELECT * FROM messages
    WHERE conversation_id = $1::uuid
    ORDER BY timestamp DESC, seq DESC
    LIMIT $2
) recent
ORDER BY timestamp ASC, seq ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *DBService) publishMessageCreated(ctx context.Context, msg Message) {
	for _, p := range s.publishers {
		if err := p.PublishMessageCreated(ctx, msg); err != nil {
			s.logger.Warn("publish message event failed",
				slog.String("message_id", msg.ID),
				slog.String("conversation_id", msg.ConversationID),
				slog.Any("error", err),
			)
		}
	}
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m        Message
		platform string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderType, &m.Text, &platform, &m.ExternalMessageID, &m.DeliveryStatus, &m.Timestamp, &m.CreatedAt); err != nil {
		return Message{}, err
	}
	m.Platform = channel.Platform(platform)
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	items := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}
