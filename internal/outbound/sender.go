// Package outbound sends operator-written messages through a platform gateway
// and records them in the ledger.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/conversation"
	"github.com/armando3069/zottis/internal/message"
)

var (
	// ErrPlatformMismatch is returned when a conversation belongs to another platform.
	ErrPlatformMismatch = errors.New("conversation belongs to another platform")
	ErrEmptyText        = errors.New("text is required")
)

type accountLookup interface {
	Get(ctx context.Context, id string) (accounts.Account, error)
	FindForUser(ctx context.Context, userID string, platform channel.Platform) (accounts.Account, error)
}

type conversationLookup interface {
	GetForUser(ctx context.Context, userID, id string) (conversation.Conversation, error)
	FindByContact(ctx context.Context, accountID, externalChatID string) (conversation.Conversation, error)
}

type Broadcaster interface {
	EmitNewMessage(userID string, msg message.Message)
}

type Sender struct {
	accounts      accountLookup
	conversations conversationLookup
	messages      message.Writer
	registry      *channel.Registry
	broadcaster   Broadcaster
	logger        *slog.Logger
}

func NewSender(log *slog.Logger, accountStore accountLookup, conversations conversationLookup, messages message.Writer, registry *channel.Registry, broadcaster Broadcaster) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		accounts:      accountStore,
		conversations: conversations,
		messages:      messages,
		registry:      registry,
		broadcaster:   broadcaster,
		logger:        log.With(slog.String("component", "outbound")),
	}
}

// Reply sends text to the contact of a conversation owned by userID. Nothing
// is stored when the platform rejects the message.
func (s *Sender) Reply(ctx context.Context, userID, conversationID string, platform channel.Platform, text string) (message.Message, error) {
	if strings.TrimSpace(text) == "" {
		return message.Message{}, ErrEmptyText
	}
	conv, err := s.conversations.GetForUser(ctx, userID, conversationID)
	if err != nil {
		return message.Message{}, err
	}
	if conv.Platform != platform {
		return message.Message{}, fmt.Errorf("%w: %s", ErrPlatformMismatch, conv.Platform)
	}
	account, err := s.accounts.Get(ctx, conv.PlatformAccountID)
	if err != nil {
		return message.Message{}, err
	}
	if err := s.send(ctx, account, conv.ExternalChatID, text); err != nil {
		return message.Message{}, err
	}
	return s.record(ctx, userID, conv, text)
}

// SendToContact sends text to a raw recipient through the user's account on
// platform. The message is stored only when a conversation with that contact
// already exists.
func (s *Sender) SendToContact(ctx context.Context, userID string, platform channel.Platform, to, text string) error {
	to = strings.TrimSpace(to)
	if to == "" || strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	account, err := s.accounts.FindForUser(ctx, userID, platform)
	if err != nil {
		return err
	}
	if err := s.send(ctx, account, to, text); err != nil {
		return err
	}
	conv, err := s.conversations.FindByContact(ctx, account.ID, to)
	if err != nil {
		if conversation.IsNotFound(err) {
			return nil
		}
		return err
	}
	_, err = s.record(ctx, userID, conv, text)
	return err
}

func (s *Sender) send(ctx context.Context, account accounts.Account, recipient, text string) error {
	gateway, err := s.registry.Gateway(account.Platform)
	if err != nil {
		return err
	}
	if err := gateway.SendText(ctx, account.Credential(), recipient, text); err != nil {
		s.logger.Warn("outbound send failed",
			slog.String("account_id", account.ID),
			slog.String("platform", account.Platform.String()),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

func (s *Sender) record(ctx context.Context, userID string, conv conversation.Conversation, text string) (message.Message, error) {
	stored, err := s.messages.Append(ctx, message.AppendInput{
		ConversationID: conv.ID,
		SenderType:     message.SenderBot,
		Text:           text,
		Platform:       conv.Platform,
		DeliveryStatus: message.DeliverySent,
		Timestamp:      time.Now(),
	})
	if err != nil {
		return message.Message{}, fmt.Errorf("store outbound message: %w", err)
	}
	if s.broadcaster != nil {
		s.broadcaster.EmitNewMessage(userID, stored)
	}
	return stored, nil
}
