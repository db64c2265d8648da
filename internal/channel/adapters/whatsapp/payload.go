package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/armando3069/zottis/internal/channel"
)

const businessAccountObject = "whatsapp_business_account"

// WebhookPayload is the Cloud API change notification body.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

type Profile struct {
	Name string `json:"name"`
}

type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Type      string    `json:"type"`
	Timestamp string    `json:"timestamp"`
	Text      *TextBody `json:"text,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

// Batch groups the text messages addressed to one business phone number.
type Batch struct {
	PhoneNumberID string
	Messages      []channel.InboundMessage
}

// NormalizeWebhook flattens a payload into per-phone-number batches of text
// messages. Payloads for other objects, non-message fields and non-text
// messages are dropped.
func NormalizeWebhook(payload WebhookPayload) []Batch {
	if payload.Object != businessAccountObject {
		return nil
	}
	var batches []Batch
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			value := change.Value
			phoneNumberID := strings.TrimSpace(value.Metadata.PhoneNumberID)
			if phoneNumberID == "" {
				continue
			}
			batch := Batch{PhoneNumberID: phoneNumberID}
			for _, msg := range value.Messages {
				if msg.Type != "text" || msg.Text == nil || msg.Text.Body == "" {
					continue
				}
				batch.Messages = append(batch.Messages, channel.InboundMessage{
					Contact: channel.Contact{
						ExternalChatID: msg.From,
						DisplayName:    contactName(value.Contacts, msg.From),
						Username:       msg.From,
					},
					Text:              msg.Text.Body,
					OccurredAt:        parseUnixSeconds(msg.Timestamp),
					ExternalMessageID: msg.ID,
				})
			}
			if len(batch.Messages) > 0 {
				batches = append(batches, batch)
			}
		}
	}
	return batches
}

func contactName(contacts []Contact, waID string) string {
	for _, c := range contacts {
		if c.WaID == waID {
			return strings.TrimSpace(c.Profile.Name)
		}
	}
	return ""
}

func parseUnixSeconds(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

// VerifyChallenge implements the hub.mode/hub.verify_token handshake and
// returns the challenge to echo back.
func VerifyChallenge(mode, token, challenge, expected string) (string, bool) {
	if mode != "subscribe" || expected == "" {
		return "", false
	}
	if !hmac.Equal([]byte(token), []byte(expected)) {
		return "", false
	}
	return challenge, true
}

// VerifySignature checks an X-Hub-Signature-256 header against the app secret.
func VerifySignature(body []byte, header, appSecret string) bool {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
