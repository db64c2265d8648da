package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/armando3069/zottis/internal/channel"
)

type accountStore interface {
	Upsert(ctx context.Context, in UpsertInput) (Account, error)
	Get(ctx context.Context, id string) (Account, error)
	FindByExternalID(ctx context.Context, platform channel.Platform, externalAppID string) (Account, error)
	FindForUser(ctx context.Context, userID string, platform channel.Platform) (Account, error)
	ListByPlatform(ctx context.Context, platform channel.Platform) ([]Account, error)
	ListByUser(ctx context.Context, userID string) ([]Account, error)
}

// WebhookOptions control webhook registration during Connect.
type WebhookOptions struct {
	// PublicURL is the externally reachable base URL of this server.
	PublicURL string
	// Skip disables registration, e.g. when polling is used instead.
	Skip bool
}

// Service connects platform identities and looks accounts up.
type Service struct {
	store    accountStore
	registry *channel.Registry
	webhooks WebhookOptions
	logger   *slog.Logger
}

// NewService creates an accounts Service.
func NewService(log *slog.Logger, store accountStore, registry *channel.Registry, webhooks WebhookOptions) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		registry: registry,
		webhooks: webhooks,
		logger:   log.With(slog.String("component", "accounts")),
	}
}

// Connect validates a credential with the platform, registers the webhook when
// the platform supports it, and stores the account.
func (s *Service) Connect(ctx context.Context, in ConnectInput) (SafeAccount, error) {
	if strings.TrimSpace(in.Credential.AccessToken) == "" {
		return SafeAccount{}, ErrCredentialRequired
	}
	gateway, err := s.registry.Gateway(in.Platform)
	if err != nil {
		return SafeAccount{}, err
	}
	identity, err := gateway.ValidateCredential(ctx, in.Credential)
	if err != nil {
		if channel.IsSendError(err) {
			return SafeAccount{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
		}
		return SafeAccount{}, fmt.Errorf("validate credential: %w", err)
	}
	externalID := strings.TrimSpace(identity.ExternalAppID)
	if externalID == "" {
		externalID = strings.TrimSpace(in.Credential.ExternalAppID)
	}
	settings := make(map[string]any, len(identity.Settings)+1)
	for k, v := range identity.Settings {
		settings[k] = v
	}

	if registrar, ok := s.registry.WebhookRegistrar(in.Platform); ok {
		secret, err := channel.NewWebhookSecret()
		if err != nil {
			return SafeAccount{}, err
		}
		settings[SettingWebhookSecret] = secret
		if s.webhooks.Skip {
			s.logger.Info("webhook registration skipped", slog.String("platform", in.Platform.String()), slog.String("external_app_id", externalID))
		} else {
			callback, err := s.CallbackURL(in.Platform, externalID)
			if err != nil {
				return SafeAccount{}, err
			}
			if err := registrar.RegisterWebhook(ctx, in.Credential, externalID, callback, secret); err != nil {
				return SafeAccount{}, fmt.Errorf("register webhook: %w", err)
			}
		}
	}

	account, err := s.store.Upsert(ctx, UpsertInput{
		UserID:        in.UserID,
		Platform:      in.Platform,
		AccessToken:   in.Credential.AccessToken,
		ExternalAppID: externalID,
		Settings:      settings,
	})
	if err != nil {
		return SafeAccount{}, err
	}
	s.logger.Info("platform account connected",
		slog.String("account_id", account.ID),
		slog.String("user_id", account.UserID),
		slog.String("platform", account.Platform.String()),
		slog.String("external_app_id", account.ExternalAppID),
	)
	return account.Safe(), nil
}

// CallbackURL is the webhook URL a platform calls for one external bot id.
func (s *Service) CallbackURL(platform channel.Platform, externalID string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(s.webhooks.PublicURL), "/")
	if base == "" {
		return "", ErrPublicURLRequired
	}
	return base + "/" + platform.String() + "/webhook/" + externalID, nil
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.store.Get(ctx, id)
}

// FindByExternalID resolves an account for inbound traffic.
func (s *Service) FindByExternalID(ctx context.Context, platform channel.Platform, externalAppID string) (Account, error) {
	return s.store.FindByExternalID(ctx, platform, strings.TrimSpace(externalAppID))
}

// FindForUser returns the user's account on a platform.
func (s *Service) FindForUser(ctx context.Context, userID string, platform channel.Platform) (Account, error) {
	return s.store.FindForUser(ctx, userID, platform)
}

// ListByPlatform returns every account on a platform.
func (s *Service) ListByPlatform(ctx context.Context, platform channel.Platform) ([]Account, error) {
	return s.store.ListByPlatform(ctx, platform)
}

// ListSafeForUser returns the user's accounts with secrets removed.
func (s *Service) ListSafeForUser(ctx context.Context, userID string) ([]SafeAccount, error) {
	items, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	safe := make([]SafeAccount, 0, len(items))
	for _, a := range items {
		safe = append(safe, a.Safe())
	}
	return safe, nil
}

// IsNotFound reports whether err means the account does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
