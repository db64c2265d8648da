// Package channel provides a unified abstraction over the messaging platforms
// the hub talks to. It defines the canonical inbound form, the gateway
// interfaces every platform implements, and a registry to select a gateway by
// platform tag.
package channel

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Platform identifies a messaging platform (e.g., "telegram", "whatsapp").
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
)

// String returns the platform as a plain string.
func (p Platform) String() string {
	return string(p)
}

// ParsePlatform normalizes a raw platform tag.
func ParsePlatform(raw string) (Platform, error) {
	p := normalizePlatform(raw)
	switch p {
	case PlatformTelegram, PlatformWhatsApp:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, raw)
	}
}

func normalizePlatform(raw string) Platform {
	return Platform(strings.ToLower(strings.TrimSpace(raw)))
}

// ErrUnsupportedPlatform is returned for platform tags with no registered gateway.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Credential is the opaque secret material a gateway needs to act as a bot.
type Credential struct {
	AccessToken   string
	ExternalAppID string
}

// Identity is what a platform reports about a validated credential.
type Identity struct {
	ExternalAppID string
	DisplayName   string
	Username      string
	Settings      map[string]any
}

// Contact describes the external party of a conversation.
type Contact struct {
	ExternalChatID string
	DisplayName    string
	Username       string
}

// InboundMessage is a platform update reduced to the fields the hub persists.
type InboundMessage struct {
	Contact           Contact
	Text              string
	OccurredAt        time.Time
	ExternalMessageID string
}

// Update is a polled platform update together with its cursor id.
type Update struct {
	ID      int64
	Message InboundMessage
	// HasText is false for updates that carry nothing to ingest.
	HasText bool
}

// SendError is returned when a platform rejects an outbound call.
type SendError struct {
	Platform Platform
	Method   string
	Status   int
	Body     string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s %s failed: status %d: %s", e.Platform, e.Method, e.Status, e.Body)
}

// IsSendError reports whether err wraps a SendError.
func IsSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se)
}

// NewWebhookSecret returns 32 random bytes, hex encoded, for use as a per-account
// webhook shared secret.
func NewWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
