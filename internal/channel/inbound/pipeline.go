// Package inbound turns normalized platform messages into conversation
// ledger entries, realtime events and auto-reply jobs.
package inbound

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/autoreply"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/conversation"
	"github.com/armando3069/zottis/internal/message"
)

// AccountResolver finds the account an inbound webhook belongs to.
type AccountResolver interface {
	FindByExternalID(ctx context.Context, platform channel.Platform, externalAppID string) (accounts.Account, error)
}

// ConversationStore finds or creates the conversation of a contact.
type ConversationStore interface {
	FindOrCreate(ctx context.Context, account accounts.Account, contact channel.Contact) (conversation.Conversation, bool, error)
}

// Broadcaster pushes ledger changes to the owning user.
type Broadcaster interface {
	EmitNewMessage(userID string, msg message.Message)
	EmitNewConversation(userID string, conv conversation.Conversation)
}

// Pipeline is the ingestion path shared by webhooks and polling.
type Pipeline struct {
	accounts      AccountResolver
	conversations ConversationStore
	messages      message.Writer
	broadcaster   Broadcaster
	state         autoreply.State
	scheduler     autoreply.Scheduler
	locks         *keyedMutex
	logger        *slog.Logger
}

// NewPipeline creates a Pipeline. A nil scheduler disables auto-reply.
func NewPipeline(
	log *slog.Logger,
	accountResolver AccountResolver,
	conversations ConversationStore,
	messages message.Writer,
	broadcaster Broadcaster,
	state autoreply.State,
	scheduler autoreply.Scheduler,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		accounts:      accountResolver,
		conversations: conversations,
		messages:      messages,
		broadcaster:   broadcaster,
		state:         state,
		scheduler:     scheduler,
		locks:         newKeyedMutex(),
		logger:        log.With(slog.String("component", "inbound")),
	}
}

// HandleWebhook resolves the account of externalBotID, checks the presented
// secret and ingests each message. Nothing is returned: unknown accounts,
// secret mismatches and per-message failures are logged and dropped.
func (p *Pipeline) HandleWebhook(ctx context.Context, platform channel.Platform, externalBotID, presentedSecret string, msgs []channel.InboundMessage) {
	logger := p.logger.With(slog.String("platform", platform.String()), slog.String("external_bot_id", externalBotID))
	if len(msgs) == 0 {
		return
	}
	account, err := p.accounts.FindByExternalID(ctx, platform, externalBotID)
	if err != nil {
		if accounts.IsNotFound(err) {
			logger.Warn("webhook for unknown account discarded")
		} else {
			logger.Error("resolve webhook account failed", slog.Any("error", err))
		}
		return
	}
	if !secretMatches(account.WebhookSecret(), presentedSecret) {
		logger.Warn("webhook secret mismatch, update discarded", slog.String("account_id", account.ID))
		return
	}
	for _, msg := range msgs {
		if err := p.Ingest(ctx, account, msg); err != nil {
			logger.Error("ingest failed",
				slog.String("account_id", account.ID),
				slog.String("external_chat_id", msg.Contact.ExternalChatID),
				slog.Any("error", err),
			)
		}
	}
}

// Ingest stores one inbound message, broadcasts it and schedules an auto-reply
// when enabled. Messages of the same contact are processed in arrival order.
func (p *Pipeline) Ingest(ctx context.Context, account accounts.Account, msg channel.InboundMessage) error {
	if strings.TrimSpace(msg.Contact.ExternalChatID) == "" {
		return fmt.Errorf("inbound message has no chat id")
	}
	unlock := p.locks.Lock(account.ID + "/" + msg.Contact.ExternalChatID)
	defer unlock()

	conv, isNew, err := p.conversations.FindOrCreate(ctx, account, msg.Contact)
	if err != nil {
		return fmt.Errorf("find or create conversation: %w", err)
	}
	occurredAt := msg.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	stored, err := p.messages.Append(ctx, message.AppendInput{
		ConversationID:    conv.ID,
		SenderType:        message.SenderClient,
		Text:              msg.Text,
		Platform:          account.Platform,
		ExternalMessageID: msg.ExternalMessageID,
		DeliveryStatus:    message.DeliveryReceived,
		Timestamp:         occurredAt,
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if p.broadcaster != nil {
		p.broadcaster.EmitNewMessage(account.UserID, stored)
		if isNew {
			p.broadcaster.EmitNewConversation(account.UserID, conv)
		}
	}

	if p.autoReplyEnabled(ctx) && strings.TrimSpace(msg.Text) != "" {
		job := autoreply.Job{Account: account, Conversation: conv, Text: msg.Text}
		if err := p.scheduler.Submit(ctx, job); err != nil {
			p.logger.Error("schedule auto-reply failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
		}
	}
	return nil
}

func (p *Pipeline) autoReplyEnabled(ctx context.Context) bool {
	return p.scheduler != nil && p.state != nil && p.state.Enabled(ctx)
}

// secretMatches accepts any presented value when no secret is stored.
func secretMatches(stored, presented string) bool {
	if stored == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
