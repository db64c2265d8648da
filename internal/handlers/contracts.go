package handlers

import (
	"context"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/conversation"
	"github.com/armando3069/zottis/internal/message"
)

type accountConnector interface {
	Connect(ctx context.Context, in accounts.ConnectInput) (accounts.SafeAccount, error)
}

type accountLister interface {
	ListSafeForUser(ctx context.Context, userID string) ([]accounts.SafeAccount, error)
}

type accountGetter interface {
	Get(ctx context.Context, id string) (accounts.Account, error)
}

type accountDirectory interface {
	accountLister
	accountGetter
}

type conversationReader interface {
	ListForUser(ctx context.Context, userID string, platform channel.Platform) ([]conversation.Conversation, error)
	GetForUser(ctx context.Context, userID, id string) (conversation.Conversation, error)
}

type messageLister interface {
	ListByConversation(ctx context.Context, conversationID string) ([]message.Message, error)
}

type replySender interface {
	Reply(ctx context.Context, userID, conversationID string, platform channel.Platform, text string) (message.Message, error)
	SendToContact(ctx context.Context, userID string, platform channel.Platform, to, text string) error
}

type webhookSink interface {
	HandleWebhook(ctx context.Context, platform channel.Platform, externalBotID, presentedSecret string, msgs []channel.InboundMessage)
}

type ReplyRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Text           string `json:"text" validate:"required"`
}
