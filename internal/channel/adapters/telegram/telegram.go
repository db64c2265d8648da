package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/armando3069/zottis/internal/channel"
)

const (
	Type channel.Platform = channel.PlatformTelegram

	telegramMaxMessageLength = 4096
	defaultRequestTimeout    = 15 * time.Second
	defaultPollTimeout       = 1
	defaultPollLimit         = 100
)

// Options tune the Bot API client.
type Options struct {
	// APIEndpoint is a tgbotapi endpoint format, "https://api.telegram.org/bot%s/%s" by default.
	APIEndpoint    string
	RequestTimeout time.Duration
	PollTimeout    int
	PollLimit      int
}

// TelegramAdapter implements channel.Gateway, channel.WebhookRegistrar and
// channel.UpdatePoller on top of the Bot API.
type TelegramAdapter struct {
	logger *slog.Logger
	opts   Options
	client *http.Client
	mu     sync.RWMutex
	bots   map[string]*tgbotapi.BotAPI // keyed by bot token
}

// NewTelegramAdapter creates a Telegram gateway.
func NewTelegramAdapter(log *slog.Logger, opts Options) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(opts.APIEndpoint) == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.PollLimit <= 0 {
		opts.PollLimit = defaultPollLimit
	}
	return &TelegramAdapter{
		logger: log.With(slog.String("adapter", "telegram")),
		opts:   opts,
		client: &http.Client{Timeout: opts.RequestTimeout},
		bots:   make(map[string]*tgbotapi.BotAPI),
	}
}

// Platform returns the Telegram platform tag.
func (a *TelegramAdapter) Platform() channel.Platform {
	return Type
}

func (a *TelegramAdapter) getOrCreateBot(token string) (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := a.newBot(token)
	if err != nil {
		return nil, err
	}
	a.bots[token] = bot
	return bot, nil
}

// newBot builds a client and calls getMe once.
func (a *TelegramAdapter) newBot(token string) (*tgbotapi.BotAPI, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, a.opts.APIEndpoint, a.client)
	if err != nil {
		return nil, wrapTelegramError("getMe", err)
	}
	return bot, nil
}

// ValidateCredential calls getMe with a fresh client and caches it on success.
func (a *TelegramAdapter) ValidateCredential(ctx context.Context, cred channel.Credential) (channel.Identity, error) {
	if err := ctx.Err(); err != nil {
		return channel.Identity{}, err
	}
	bot, err := a.newBot(cred.AccessToken)
	if err != nil {
		return channel.Identity{}, err
	}
	a.mu.Lock()
	a.bots[cred.AccessToken] = bot
	a.mu.Unlock()

	self := bot.Self
	displayName := strings.TrimSpace(self.FirstName)
	if displayName == "" {
		displayName = self.UserName
	}
	return channel.Identity{
		ExternalAppID: strconv.FormatInt(self.ID, 10),
		DisplayName:   displayName,
		Username:      self.UserName,
		Settings: map[string]any{
			"username":   self.UserName,
			"first_name": self.FirstName,
		},
	}, nil
}

// RegisterWebhook points the bot at callbackURL. Telegram replaces any earlier
// registration, so repeating the call is harmless.
func (a *TelegramAdapter) RegisterWebhook(ctx context.Context, cred channel.Credential, externalBotID, callbackURL, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := a.getOrCreateBot(cred.AccessToken)
	if err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params["url"] = callbackURL
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", []string{"message"}); err != nil {
		return fmt.Errorf("encode allowed_updates: %w", err)
	}
	if _, err := bot.MakeRequest("setWebhook", params); err != nil {
		return wrapTelegramError("setWebhook", err)
	}
	a.logger.Info("webhook registered", slog.String("bot_id", externalBotID), slog.String("url", callbackURL))
	return nil
}

// GetUpdates fetches updates after offset. An offset of 0 is omitted so
// Telegram returns only unconfirmed updates.
func (a *TelegramAdapter) GetUpdates(ctx context.Context, cred channel.Credential, offset int64) ([]channel.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bot, err := a.getOrCreateBot(cred.AccessToken)
	if err != nil {
		return nil, err
	}
	cfg := tgbotapi.UpdateConfig{
		Limit:   a.opts.PollLimit,
		Timeout: a.opts.PollTimeout,
	}
	if offset > 0 {
		cfg.Offset = int(offset)
	}
	raw, err := bot.GetUpdates(cfg)
	if err != nil {
		return nil, wrapTelegramError("getUpdates", err)
	}
	updates := make([]channel.Update, 0, len(raw))
	for _, u := range raw {
		msg, ok := NormalizeUpdate(u)
		updates = append(updates, channel.Update{
			ID:      int64(u.UpdateID),
			Message: msg,
			HasText: ok,
		})
	}
	return updates, nil
}

// SendText delivers a plain text message to a chat id or @channel username.
func (a *TelegramAdapter) SendText(ctx context.Context, cred channel.Credential, recipient, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := a.getOrCreateBot(cred.AccessToken)
	if err != nil {
		return err
	}
	return sendTelegramText(bot, recipient, text)
}

func sendTelegramText(bot *tgbotapi.BotAPI, target string, text string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("telegram target is required")
	}
	text = truncateTelegramText(text)
	var msg tgbotapi.MessageConfig
	if chatID, err := strconv.ParseInt(target, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(chatID, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(target, text)
	}
	if _, err := bot.Send(msg); err != nil {
		return wrapTelegramError("sendMessage", err)
	}
	return nil
}

// NormalizeUpdate extracts the text message of an update. Updates without a
// text message yield false.
func NormalizeUpdate(update tgbotapi.Update) (channel.InboundMessage, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return channel.InboundMessage{}, false
	}
	displayName, username := resolveTelegramSender(msg)
	return channel.InboundMessage{
		Contact: channel.Contact{
			ExternalChatID: strconv.FormatInt(msg.Chat.ID, 10),
			DisplayName:    displayName,
			Username:       username,
		},
		Text:              msg.Text,
		OccurredAt:        time.Unix(int64(msg.Date), 0).UTC(),
		ExternalMessageID: strconv.Itoa(msg.MessageID),
	}, true
}

// resolveTelegramSender returns the contact display name (first and last name)
// and username of a message sender.
func resolveTelegramSender(msg *tgbotapi.Message) (string, string) {
	if msg == nil || msg.From == nil {
		return "", ""
	}
	parts := make([]string, 0, 2)
	for _, p := range []string{msg.From.FirstName, msg.From.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " "), strings.TrimSpace(msg.From.UserName)
}

// truncateTelegramText caps text at the Bot API limit, which counts UTF-16
// code units rather than bytes.
func truncateTelegramText(text string) string {
	if len(text) <= telegramMaxMessageLength || utf16Len(text) <= telegramMaxMessageLength {
		return text
	}
	const suffix = "..."
	limit := telegramMaxMessageLength - len(suffix)
	units := 0
	for i, r := range text {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > limit {
			return text[:i] + suffix
		}
		units += n
	}
	return text
}

func utf16Len(text string) int {
	units := 0
	for _, r := range text {
		if n := utf16.RuneLen(r); n > 0 {
			units += n
		} else {
			units++
		}
	}
	return units
}

// wrapTelegramError converts Bot API rejections into channel.SendError and
// leaves transport errors untouched.
func wrapTelegramError(method string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &channel.SendError{
			Platform: Type,
			Method:   method,
			Status:   apiErr.Code,
			Body:     apiErr.Message,
		}
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}
