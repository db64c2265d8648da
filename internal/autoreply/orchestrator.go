// Package autoreply generates assistant replies for conversations and delivers
// them through the owning platform account.
package autoreply

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
	"github.com/armando3069/zottis/internal/knowledge"
	"github.com/armando3069/zottis/internal/message"
)

// ErrNoMessages is returned when a reply is requested for an empty conversation.
var ErrNoMessages = errors.New("conversation has no messages")

const (
	defaultHistoryLimit = 10
	// persistTimeout bounds storing and broadcasting a reply after the job deadline.
	persistTimeout = 10 * time.Second
)

// KnowledgeBase answers questions from a user's indexed documents.
type KnowledgeBase interface {
	HasKnowledgeBase(ctx context.Context, userID string) bool
	Answer(ctx context.Context, userID, question string) (knowledge.Answer, error)
}

// Broadcaster pushes persisted messages to the owner's realtime room.
type Broadcaster interface {
	EmitNewMessage(userID string, msg message.Message)
}

type messageLedger interface {
	Append(ctx context.Context, in message.AppendInput) (message.Message, error)
	Recent(ctx context.Context, conversationID string, limit int) ([]message.Message, error)
}

// Options configure an Orchestrator.
type Options struct {
	SystemPrompt string
	HistoryLimit int
}

// Orchestrator runs generate, send, persist and broadcast for one reply.
type Orchestrator struct {
	registry    *channel.Registry
	completer   Completer
	knowledge   KnowledgeBase
	messages    messageLedger
	broadcaster Broadcaster
	opts        Options
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A nil knowledge base disables RAG.
func NewOrchestrator(
	log *slog.Logger,
	registry *channel.Registry,
	completer Completer,
	kb KnowledgeBase,
	messages messageLedger,
	broadcaster Broadcaster,
	opts Options,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if kb == nil {
		kb = knowledge.Nop{}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	return &Orchestrator{
		registry:    registry,
		completer:   completer,
		knowledge:   kb,
		messages:    messages,
		broadcaster: broadcaster,
		opts:        opts,
		logger:      log.With(slog.String("component", "autoreply")),
	}
}

// GenerateReply produces reply text without sending or storing it. With an
// empty conversationID the text is answered on its own.
func (o *Orchestrator) GenerateReply(ctx context.Context, userID, conversationID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if o.knowledge.HasKnowledgeBase(ctx, userID) {
		ans, err := o.knowledge.Answer(ctx, userID, text)
		if err == nil && strings.TrimSpace(ans.Answer) != "" {
			o.logger.Debug("reply answered from knowledge base",
				slog.String("user_id", userID),
				slog.Int("used_chunks", len(ans.UsedChunks)),
			)
			return strings.TrimSpace(ans.Answer), nil
		}
		o.logger.Warn("knowledge base answer failed, using history",
			slog.String("user_id", userID),
			slog.String("conversation_id", conversationID),
			slog.Any("error", err),
		)
	}

	var history []message.Message
	if conversationID != "" {
		recent, err := o.messages.Recent(ctx, conversationID, o.opts.HistoryLimit)
		if err != nil {
			return "", fmt.Errorf("load history: %w", err)
		}
		history = recent
	}
	return o.completer.Complete(ctx, o.opts.SystemPrompt, BuildTranscript(history, text))
}

// Reply generates a reply to latestText, sends it to the conversation contact,
// stores it and broadcasts it. A generation failure stops before anything is
// sent. A send failure is stored with delivery status failed. Once a reply is
// generated it is stored even if ctx has expired in the meantime.
func (o *Orchestrator) Reply(ctx context.Context, account accounts.Account, conv conversation.Conversation, latestText string) (message.Message, error) {
	logger := o.logger.With(
		slog.String("account_id", account.ID),
		slog.String("conversation_id", conv.ID),
	)
	reply, err := o.GenerateReply(ctx, account.UserID, conv.ID, latestText)
	if err != nil {
		logger.Error("generate reply failed", slog.Any("error", err))
		return message.Message{}, err
	}

	status := message.DeliverySent
	gateway, err := o.registry.Gateway(conv.Platform)
	if err == nil {
		err = gateway.SendText(ctx, account.Credential(), conv.ExternalChatID, reply)
	}
	if err != nil {
		status = message.DeliveryFailed
		logger.Error("send reply failed", slog.String("platform", conv.Platform.String()), slog.Any("error", err))
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	stored, err := o.messages.Append(persistCtx, message.AppendInput{
		ConversationID: conv.ID,
		SenderType:     message.SenderBot,
		Text:           reply,
		Platform:       conv.Platform,
		DeliveryStatus: status,
		Timestamp:      time.Now(),
	})
	if err != nil {
		logger.Error("persist reply failed", slog.Any("error", err))
		return message.Message{}, err
	}
	if o.broadcaster != nil {
		o.broadcaster.EmitNewMessage(account.UserID, stored)
	}
	logger.Info("auto-reply stored", slog.String("message_id", stored.ID), slog.String("delivery_status", status))
	return stored, nil
}

// ReplyToLatest replies to the newest message of the conversation.
func (o *Orchestrator) ReplyToLatest(ctx context.Context, account accounts.Account, conv conversation.Conversation) (message.Message, error) {
	last, err := o.messages.Recent(ctx, conv.ID, 1)
	if err != nil {
		return message.Message{}, fmt.Errorf("load latest message: %w", err)
	}
	if len(last) == 0 || strings.TrimSpace(last[0].Text) == "" {
		return message.Message{}, ErrNoMessages
	}
	return o.Reply(ctx, account, conv, last[0].Text)
}

// BuildTranscript maps history to model turns, oldest first. Client messages
// become user turns and every other sender an assistant turn. latestText is
// appended unless the history already ends with that client message.
func BuildTranscript(history []message.Message, latestText string) []Turn {
	turns := make([]Turn, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := RoleAssistant
		if m.SenderType == message.SenderClient {
			role = RoleUser
		}
		turns = append(turns, Turn{Role: role, Content: m.Text})
	}
	if latestText == "" {
		return turns
	}
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.SenderType == message.SenderClient && strings.TrimSpace(last.Text) == latestText {
			return turns
		}
	}
	return append(turns, Turn{Role: RoleUser, Content: latestText})
}
