package channelchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/healthcheck"
)

const (
	checkTypeCredential = "channel.credential"
	checkTypeIngestion  = "channel.ingestion"
	checkTimeout        = 10 * time.Second
)

// Checker verifies that an account's credential is still accepted by its
// platform and that the account has a working ingestion path.
type Checker struct {
	logger         *slog.Logger
	registry       *channel.Registry
	pollingEnabled bool
}

// NewChecker creates a channel health checker. pollingEnabled tells the
// checker that webhook-less Telegram accounts are served by the poller.
func NewChecker(log *slog.Logger, registry *channel.Registry, pollingEnabled bool) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:         log.With(slog.String("checker", "healthcheck_channel")),
		registry:       registry,
		pollingEnabled: pollingEnabled,
	}
}

// ListChecks evaluates the credential and ingestion checks of an account.
func (c *Checker) ListChecks(ctx context.Context, account accounts.Account) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	platform := strings.TrimSpace(account.Platform.String())
	if platform == "" {
		platform = "unknown"
	}
	subtitle := buildSubtitle(platform, account.ExternalAppID)
	return []healthcheck.CheckResult{
		c.credentialCheck(ctx, account, platform, subtitle),
		c.ingestionCheck(account, platform, subtitle),
	}
}

func (c *Checker) credentialCheck(ctx context.Context, account accounts.Account, platform, subtitle string) healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:       checkTypeCredential + "." + account.ID,
		Type:     checkTypeCredential,
		Subtitle: subtitle,
		Status:   healthcheck.StatusError,
		Metadata: map[string]any{"platform": platform},
	}
	gateway, ok := c.registry.Get(account.Platform)
	if !ok {
		item.Summary = fmt.Sprintf("Platform %s is not supported.", platform)
		return item
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	identity, err := gateway.ValidateCredential(ctx, account.Credential())
	if err != nil {
		c.logger.Warn("credential check failed", slog.String("account_id", account.ID), slog.Any("error", err))
		item.Summary = fmt.Sprintf("%s rejected the stored credential.", platform)
		item.Detail = err.Error()
		return item
	}
	item.Metadata["external_app_id"] = identity.ExternalAppID
	if identity.ExternalAppID != "" && identity.ExternalAppID != account.ExternalAppID {
		item.Status = healthcheck.StatusWarn
		item.Summary = "Credential belongs to a different bot than the one connected."
		return item
	}
	item.Status = healthcheck.StatusOK
	item.Summary = fmt.Sprintf("%s accepts the credential.", platform)
	return item
}

func (c *Checker) ingestionCheck(account accounts.Account, platform, subtitle string) healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:       checkTypeIngestion + "." + account.ID,
		Type:     checkTypeIngestion,
		Subtitle: subtitle,
		Status:   healthcheck.StatusOK,
		Metadata: map[string]any{"platform": platform},
	}
	if _, ok := c.registry.WebhookRegistrar(account.Platform); !ok {
		item.Summary = "Messages arrive through the platform webhook."
		item.Metadata["mode"] = "webhook"
		return item
	}
	if c.pollingEnabled {
		item.Summary = "Messages are fetched by polling."
		item.Metadata["mode"] = "polling"
		return item
	}
	item.Metadata["mode"] = "webhook"
	if account.WebhookSecret() == "" {
		item.Status = healthcheck.StatusWarn
		item.Summary = "Webhook has no shared secret; reconnect the account to set one."
		return item
	}
	item.Summary = "Webhook is registered with a shared secret."
	return item
}

func buildSubtitle(platform, externalID string) string {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return platform
	}
	if len(externalID) > 12 {
		externalID = externalID[:12]
	}
	return platform + " (" + externalID + ")"
}
