// Package polling pulls Telegram updates for every connected bot and feeds
// them through the same path as webhooks.
package polling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/channel"
)

const defaultInterval = 2 * time.Second

type accountLister interface {
	ListByPlatform(ctx context.Context, platform channel.Platform) ([]accounts.Account, error)
}

// WebhookHandler is the ingestion entry shared with the webhook routes.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, platform channel.Platform, externalBotID, presentedSecret string, msgs []channel.InboundMessage)
}

// Poller runs one polling cycle per interval. A cycle still running when the
// next tick fires makes that tick a no-op.
type Poller struct {
	platform channel.Platform
	accounts accountLister
	updates  channel.UpdatePoller
	handler  WebhookHandler
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	offsets map[string]int64 // keyed by bot token

	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewPoller creates a Telegram poller.
func NewPoller(log *slog.Logger, accountLister accountLister, updates channel.UpdatePoller, handler WebhookHandler, interval time.Duration) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		platform: channel.PlatformTelegram,
		accounts: accountLister,
		updates:  updates,
		handler:  handler,
		interval: interval,
		logger:   log.With(slog.String("component", "polling")),
		offsets:  make(map[string]int64),
	}
}

// Start schedules the cycles. ctx only bounds startup; cycles run until Stop.
func (p *Poller) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.cron != nil {
		return errors.New("poller already started")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	logger := cronLogger{p.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", p.interval), func() { p.PollOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule polling: %w", err)
	}
	p.cron = c
	p.cancel = cancel
	c.Start()
	p.logger.Info("telegram polling started", slog.Duration("interval", p.interval))
	return nil
}

// Stop cancels the running cycle and waits for it, or for ctx.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cron == nil {
		return nil
	}
	p.cancel()
	done := p.cron.Stop()
	select {
	case <-done.Done():
		p.logger.Info("telegram polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollOnce runs one cycle: every account is polled concurrently and the call
// returns when all of them are done.
func (p *Poller) PollOnce(ctx context.Context) {
	items, err := p.accounts.ListByPlatform(ctx, p.platform)
	if err != nil {
		p.logger.Error("list accounts for polling failed", slog.Any("error", err))
		return
	}
	if len(items) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, account := range items {
		wg.Add(1)
		go func(account accounts.Account) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("account polling panicked", slog.String("account_id", account.ID), slog.Any("panic", r))
				}
			}()
			p.pollAccount(ctx, account)
		}(account)
	}
	wg.Wait()
}

func (p *Poller) pollAccount(ctx context.Context, account accounts.Account) {
	token := account.AccessToken
	updates, err := p.updates.GetUpdates(ctx, account.Credential(), p.Offset(token))
	if err != nil {
		p.logger.Warn("get updates failed", slog.String("account_id", account.ID), slog.Any("error", err))
		return
	}
	secret := account.WebhookSecret()
	for _, u := range updates {
		if u.HasText {
			p.handleUpdate(ctx, account, secret, u)
		}
		p.advance(token, u.ID+1)
	}
}

// handleUpdate ingests one update. A panic is logged and the update counts as consumed.
func (p *Poller) handleUpdate(ctx context.Context, account accounts.Account, secret string, u channel.Update) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("update processing panicked",
				slog.String("account_id", account.ID),
				slog.Int64("update_id", u.ID),
				slog.Any("panic", r),
			)
		}
	}()
	p.handler.HandleWebhook(ctx, p.platform, account.ExternalAppID, secret, []channel.InboundMessage{u.Message})
}

// Offset returns the next update id to request for token, 0 before the first update.
func (p *Poller) Offset(token string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offsets[token]
}

func (p *Poller) advance(token string, next int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if next > p.offsets[token] {
		p.offsets[token] = next
	}
}

// cronLogger routes cron's logs to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, slog.Any("error", err))...)
}
