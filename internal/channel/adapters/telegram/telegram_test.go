package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/armando3069/zottis/internal/channel"
)

const testToken = "99:secret-token"

// fakeBotAPI serves the handful of Bot API methods the adapter uses.
type fakeBotAPI struct {
	mu       sync.Mutex
	calls    map[string][]map[string]string
	updates  string
	failSend bool
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, *httptest.Server) {
	t.Helper()
	f := &fakeBotAPI{calls: map[string][]map[string]string{}, updates: "[]"}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	method := parts[len(parts)-1]
	token := strings.TrimPrefix(parts[0], "bot")

	params := map[string]string{}
	for k := range r.Form {
		params[k] = r.Form.Get(k)
	}
	f.mu.Lock()
	f.calls[method] = append(f.calls[method], params)
	failSend := f.failSend
	updates := f.updates
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if token != testToken {
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
		return
	}
	switch method {
	case "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"Support","username":"support_bot"}}`))
	case "setWebhook":
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	case "getUpdates":
		_, _ = w.Write([]byte(`{"ok":true,"result":` + updates + `}`))
	case "sendMessage":
		if failSend {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func (f *fakeBotAPI) lastCall(method string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls[method]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func (f *fakeBotAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[method])
}

func newTestAdapter(srv *httptest.Server) *TelegramAdapter {
	return NewTelegramAdapter(nil, Options{
		APIEndpoint:    srv.URL + "/bot%s/%s",
		RequestTimeout: 2 * time.Second,
	})
}

func TestValidateCredential(t *testing.T) {
	t.Parallel()

	_, srv := newFakeBotAPI(t)
	adapter := newTestAdapter(srv)

	identity, err := adapter.ValidateCredential(context.Background(), channel.Credential{AccessToken: testToken})
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	if identity.ExternalAppID != "99" || identity.Username != "support_bot" || identity.DisplayName != "Support" {
		t.Fatalf("unexpected identity: %#v", identity)
	}
	if identity.Settings["first_name"] != "Support" {
		t.Fatalf("unexpected settings: %#v", identity.Settings)
	}
}

func TestValidateCredential_Rejected(t *testing.T) {
	t.Parallel()

	_, srv := newFakeBotAPI(t)
	adapter := newTestAdapter(srv)

	_, err := adapter.ValidateCredential(context.Background(), channel.Credential{AccessToken: "1:wrong"})
	var se *channel.SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected SendError, got %v", err)
	}
	if se.Status != 401 || se.Method != "getMe" {
		t.Fatalf("unexpected send error: %#v", se)
	}
}

func TestRegisterWebhook(t *testing.T) {
	t.Parallel()

	api, srv := newFakeBotAPI(t)
	adapter := newTestAdapter(srv)

	err := adapter.RegisterWebhook(context.Background(), channel.Credential{AccessToken: testToken}, "99", "https://hub.example.com/telegram/webhook/99", "s3cret")
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
	call := api.lastCall("setWebhook")
	if call["url"] != "https://hub.example.com/telegram/webhook/99" {
		t.Fatalf("unexpected url: %q", call["url"])
	}
	if call["secret_token"] != "s3cret" {
		t.Fatalf("unexpected secret: %q", call["secret_token"])
	}
	var allowed []string
	if err := json.Unmarshal([]byte(call["allowed_updates"]), &allowed); err != nil || len(allowed) != 1 || allowed[0] != "message" {
		t.Fatalf("unexpected allowed_updates: %q", call["allowed_updates"])
	}
}

func TestGetUpdates_OffsetOmittedWhenZero(t *testing.T) {
	t.Parallel()

	api, srv := newFakeBotAPI(t)
	api.updates = `[
		{"update_id":5,"message":{"message_id":10,"date":1700000000,"text":"Hello","chat":{"id":42,"type":"private"},"from":{"id":7,"is_bot":false,"first_name":"Ana","last_name":"Pop","username":"anapop"}}},
		{"update_id":6,"message":{"message_id":11,"date":1700000001,"chat":{"id":42,"type":"private"},"sticker":{"file_id":"x","file_unique_id":"y","width":1,"height":1,"is_animated":false,"is_video":false,"type":"regular"}}}
	]`
	adapter := newTestAdapter(srv)

	updates, err := adapter.GetUpdates(context.Background(), channel.Credential{AccessToken: testToken}, 0)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	call := api.lastCall("getUpdates")
	if _, ok := call["offset"]; ok {
		t.Fatalf("offset must be omitted on first poll: %#v", call)
	}
	if call["limit"] != "100" || call["timeout"] != "1" {
		t.Fatalf("unexpected poll params: %#v", call)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[0].ID != 5 || !updates[0].HasText || updates[0].Message.Text != "Hello" {
		t.Fatalf("unexpected first update: %#v", updates[0])
	}
	if updates[1].ID != 6 || updates[1].HasText {
		t.Fatalf("sticker update must not carry text: %#v", updates[1])
	}

	if _, err := adapter.GetUpdates(context.Background(), channel.Credential{AccessToken: testToken}, 7); err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if got := api.lastCall("getUpdates")["offset"]; got != "7" {
		t.Fatalf("expected offset 7, got %q", got)
	}
	if api.count("getMe") != 1 {
		t.Fatalf("bot client must be cached per token, getMe called %d times", api.count("getMe"))
	}
}

func TestSendText(t *testing.T) {
	t.Parallel()

	api, srv := newFakeBotAPI(t)
	adapter := newTestAdapter(srv)

	if err := adapter.SendText(context.Background(), channel.Credential{AccessToken: testToken}, "42", "Salut"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	call := api.lastCall("sendMessage")
	if call["chat_id"] != "42" || call["text"] != "Salut" {
		t.Fatalf("unexpected sendMessage params: %#v", call)
	}
}

func TestSendText_PlatformFailure(t *testing.T) {
	t.Parallel()

	api, srv := newFakeBotAPI(t)
	api.failSend = true
	adapter := newTestAdapter(srv)

	err := adapter.SendText(context.Background(), channel.Credential{AccessToken: testToken}, "42", "Salut")
	var se *channel.SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected SendError, got %v", err)
	}
	if se.Status != 400 || !strings.Contains(se.Body, "chat not found") {
		t.Fatalf("unexpected send error: %#v", se)
	}
}

func TestNormalizeUpdate(t *testing.T) {
	t.Parallel()

	update := tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 77,
			Date:      1700000000,
			Text:      "Hello",
			Chat:      &tgbotapi.Chat{ID: 42},
			From:      &tgbotapi.User{ID: 7, FirstName: " Ana ", LastName: "", UserName: "ana"},
		},
	}
	msg, ok := NormalizeUpdate(update)
	if !ok {
		t.Fatal("expected text update to normalize")
	}
	if msg.Contact.ExternalChatID != "42" || msg.Contact.DisplayName != "Ana" || msg.Contact.Username != "ana" {
		t.Fatalf("unexpected contact: %#v", msg.Contact)
	}
	if msg.ExternalMessageID != "77" || !msg.OccurredAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected message: %#v", msg)
	}

	if _, ok := NormalizeUpdate(tgbotapi.Update{UpdateID: 2}); ok {
		t.Fatal("update without message must be ignored")
	}
	if _, ok := NormalizeUpdate(tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}}}); ok {
		t.Fatal("message without text must be ignored")
	}
}

func TestResolveTelegramSender(t *testing.T) {
	t.Parallel()

	name, username := resolveTelegramSender(nil)
	if name != "" || username != "" {
		t.Fatalf("expected empty sender")
	}
	name, username = resolveTelegramSender(&tgbotapi.Message{From: &tgbotapi.User{FirstName: "Ion", LastName: "Rusu", UserName: "ionr"}})
	if name != "Ion Rusu" || username != "ionr" {
		t.Fatalf("unexpected sender: %q %q", name, username)
	}
}

func TestTruncateTelegramText(t *testing.T) {
	t.Parallel()

	short := "hello"
	if got := truncateTelegramText(short); got != short {
		t.Fatalf("short text changed: %q", got)
	}

	// Two bytes per rune but one UTF-16 unit: within the limit.
	romanian := strings.Repeat("ă", telegramMaxMessageLength)
	if got := truncateTelegramText(romanian); got != romanian {
		t.Fatalf("text of %d characters must not be truncated", telegramMaxMessageLength)
	}

	long := strings.Repeat("ă", telegramMaxMessageLength+100)
	got := truncateTelegramText(long)
	if n := utf8.RuneCountInString(got); n != telegramMaxMessageLength {
		t.Fatalf("expected %d characters, got %d", telegramMaxMessageLength, n)
	}
	if !utf8.ValidString(got) || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated text must stay valid utf8 and end with suffix")
	}

	// Emoji outside the BMP take two UTF-16 units each.
	emoji := strings.Repeat("😀", 3000)
	got = truncateTelegramText(emoji)
	if n := utf16Len(got); n > telegramMaxMessageLength {
		t.Fatalf("truncated text has %d UTF-16 units", n)
	}
	if !strings.HasPrefix(got, strings.Repeat("😀", 2046)) || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected emoji truncation, %d runes", utf8.RuneCountInString(got))
	}
}
