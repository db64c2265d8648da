// Package conversation stores the threads between a platform account and one
// external contact.
package conversation

import (
	"errors"
	"time"

	"github.com/armando3069/zottis/internal/channel"
)

// ErrConversationNotFound is returned when a conversation is missing or is not
// owned by the requesting user.
var ErrConversationNotFound = errors.New("conversation not found")

// Conversation is unique per (platform account, external chat id).
type Conversation struct {
	ID                string           `json:"id"`
	PlatformAccountID string           `json:"platform_account_id"`
	Platform          channel.Platform `json:"platform"`
	ExternalChatID    string           `json:"external_chat_id"`
	ContactName       string           `json:"contact_name,omitempty"`
	ContactUsername   string           `json:"contact_username,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// Contact returns the external party of the conversation.
func (c Conversation) Contact() channel.Contact {
	return channel.Contact{
		ExternalChatID: c.ExternalChatID,
		DisplayName:    c.ContactName,
		Username:       c.ContactUsername,
	}
}

// IsNotFound reports whether err means the conversation is missing or not owned.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound)
}
