package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/armando3069/zottis/internal/channel"
)

const (
	Type channel.Platform = channel.PlatformWhatsApp

	DefaultAPIBase        = "https://graph.facebook.com/v20.0"
	defaultRequestTimeout = 15 * time.Second
	maxErrorBodyBytes     = 4 << 10
)

// Options tune the Graph API client.
type Options struct {
	APIBase        string
	RequestTimeout time.Duration
}

// WhatsAppAdapter implements channel.Gateway against the WhatsApp Cloud API.
// An account credential is the long-lived access token plus the phone number id.
type WhatsAppAdapter struct {
	logger  *slog.Logger
	apiBase string
	client  *http.Client
}

// NewWhatsAppAdapter creates a WhatsApp gateway.
func NewWhatsAppAdapter(log *slog.Logger, opts Options) *WhatsAppAdapter {
	if log == nil {
		log = slog.Default()
	}
	base := strings.TrimRight(strings.TrimSpace(opts.APIBase), "/")
	if base == "" {
		base = DefaultAPIBase
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &WhatsAppAdapter{
		logger:  log.With(slog.String("adapter", "whatsapp")),
		apiBase: base,
		client:  &http.Client{Timeout: timeout},
	}
}

// Platform returns the WhatsApp platform tag.
func (a *WhatsAppAdapter) Platform() channel.Platform {
	return Type
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             TextBody `json:"text"`
}

// SendText posts a text message to recipient (a wa_id or phone number).
func (a *WhatsAppAdapter) SendText(ctx context.Context, cred channel.Credential, recipient, text string) error {
	if err := requireCredential(cred); err != nil {
		return err
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return fmt.Errorf("whatsapp recipient is required")
	}
	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "text",
		Text:             TextBody{Body: text},
	})
	if err != nil {
		return fmt.Errorf("encode whatsapp message: %w", err)
	}
	endpoint := a.apiBase + "/" + url.PathEscape(cred.ExternalAppID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = a.do(req, cred.AccessToken, "messages")
	return err
}

type phoneNumberInfo struct {
	ID                 string `json:"id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	VerifiedName       string `json:"verified_name"`
}

// ValidateCredential reads the phone number node, which fails for a bad token
// or an id the token cannot access.
func (a *WhatsAppAdapter) ValidateCredential(ctx context.Context, cred channel.Credential) (channel.Identity, error) {
	if err := requireCredential(cred); err != nil {
		return channel.Identity{}, err
	}
	endpoint := a.apiBase + "/" + url.PathEscape(cred.ExternalAppID) + "?fields=display_phone_number,verified_name"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return channel.Identity{}, err
	}
	raw, err := a.do(req, cred.AccessToken, "phone_number")
	if err != nil {
		return channel.Identity{}, err
	}
	var info phoneNumberInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return channel.Identity{}, fmt.Errorf("decode whatsapp phone number: %w", err)
	}
	displayName := strings.TrimSpace(info.VerifiedName)
	if displayName == "" {
		displayName = info.DisplayPhoneNumber
	}
	return channel.Identity{
		ExternalAppID: cred.ExternalAppID,
		DisplayName:   displayName,
		Username:      info.DisplayPhoneNumber,
		Settings: map[string]any{
			"display_phone_number": info.DisplayPhoneNumber,
			"verified_name":        info.VerifiedName,
		},
	}, nil
}

func (a *WhatsAppAdapter) do(req *http.Request, token, method string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("whatsapp %s: read body: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := raw
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		a.logger.Warn("graph api rejected request",
			slog.String("method", method),
			slog.Int("status", resp.StatusCode),
		)
		return nil, &channel.SendError{
			Platform: Type,
			Method:   method,
			Status:   resp.StatusCode,
			Body:     string(body),
		}
	}
	return raw, nil
}

func requireCredential(cred channel.Credential) error {
	if strings.TrimSpace(cred.AccessToken) == "" {
		return fmt.Errorf("whatsapp access token is required")
	}
	if strings.TrimSpace(cred.ExternalAppID) == "" {
		return fmt.Errorf("whatsapp phone number id is required")
	}
	return nil
}
