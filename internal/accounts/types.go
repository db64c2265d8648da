package accounts

import (
	"errors"
	"time"

	"github.com/armando3069/zottis/internal/channel"
)

// SettingWebhookSecret is the settings key holding the per-account webhook secret.
const SettingWebhookSecret = "webhookSecret"

var (
	ErrAccountNotFound    = errors.New("platform account not found")
	ErrInvalidCredential  = errors.New("invalid platform credential")
	ErrPublicURLRequired  = errors.New("server public url is required for webhook registration")
	ErrCredentialRequired = errors.New("credential is required")
)

// Account is a user's connected bot or business identity on one platform.
// It carries secrets and must never be serialized to clients; use Safe.
type Account struct {
	ID            string
	UserID        string
	Platform      channel.Platform
	AccessToken   string
	ExternalAppID string
	Settings      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Credential returns the gateway credential of the account.
func (a Account) Credential() channel.Credential {
	return channel.Credential{
		AccessToken:   a.AccessToken,
		ExternalAppID: a.ExternalAppID,
	}
}

// WebhookSecret returns the stored webhook secret, or "" when none is configured.
func (a Account) WebhookSecret() string {
	if a.Settings == nil {
		return ""
	}
	secret, _ := a.Settings[SettingWebhookSecret].(string)
	return secret
}

// Safe returns the client-facing view with every secret removed.
func (a Account) Safe() SafeAccount {
	settings := make(map[string]any, len(a.Settings))
	for k, v := range a.Settings {
		if k == SettingWebhookSecret {
			continue
		}
		settings[k] = v
	}
	return SafeAccount{
		ID:            a.ID,
		UserID:        a.UserID,
		Platform:      a.Platform,
		ExternalAppID: a.ExternalAppID,
		Settings:      settings,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// SafeAccount is the serializable projection of Account.
type SafeAccount struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Platform      channel.Platform `json:"platform"`
	ExternalAppID string           `json:"external_app_id"`
	Settings      map[string]any   `json:"settings"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// UpsertInput creates or refreshes an account keyed by (platform, external app id).
type UpsertInput struct {
	UserID        string
	Platform      channel.Platform
	AccessToken   string
	ExternalAppID string
	Settings      map[string]any
}

// ConnectInput is a user's request to connect a platform identity.
type ConnectInput struct {
	UserID     string
	Platform   channel.Platform
	Credential channel.Credential
}
