package channel

import "context"

// Gateway is the capability set every platform implements.
type Gateway interface {
	Platform() Platform
	SendText(ctx context.Context, cred Credential, recipient, text string) error
	ValidateCredential(ctx context.Context, cred Credential) (Identity, error)
}

// WebhookRegistrar is implemented by platforms whose webhook URL is set through
// their API. Registration must be idempotent.
type WebhookRegistrar interface {
	RegisterWebhook(ctx context.Context, cred Credential, externalBotID, callbackURL, secret string) error
}

// UpdatePoller is implemented by platforms that support pull-based ingestion.
// An offset of 0 means "from now".
type UpdatePoller interface {
	GetUpdates(ctx context.Context, cred Credential, offset int64) ([]Update, error)
}
