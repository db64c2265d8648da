package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/autoreply"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/conversation"
	"github.com/armando3069/zottis/internal/healthcheck"
	"github.com/armando3069/zottis/internal/message"
	"github.com/armando3069/zottis/internal/outbound"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type webhookCall struct {
	platform channel.Platform
	botID    string
	secret   string
	msgs     []channel.InboundMessage
}

type fakeSink struct {
	mu    sync.Mutex
	calls []webhookCall
}

func (f *fakeSink) HandleWebhook(_ context.Context, platform channel.Platform, botID, secret string, msgs []channel.InboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, webhookCall{platform, botID, secret, msgs})
}

type fakeConnector struct {
	in  accounts.ConnectInput
	out accounts.SafeAccount
	err error
}

func (f *fakeConnector) Connect(_ context.Context, in accounts.ConnectInput) (accounts.SafeAccount, error) {
	f.in = in
	return f.out, f.err
}

type fakeConvs map[string]conversation.Conversation

func (f fakeConvs) ListForUser(_ context.Context, userID string, platform channel.Platform) ([]conversation.Conversation, error) {
	var out []conversation.Conversation
	for _, c := range f {
		if c.PlatformAccountID == "acc-"+userID && (platform == "" || c.Platform == platform) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f fakeConvs) GetForUser(_ context.Context, userID, id string) (conversation.Conversation, error) {
	if c, ok := f[id]; ok && c.PlatformAccountID == "acc-"+userID {
		return c, nil
	}
	return conversation.Conversation{}, conversation.ErrConversationNotFound
}

type fakeMessages map[string][]message.Message

func (f fakeMessages) ListByConversation(_ context.Context, id string) ([]message.Message, error) {
	return f[id], nil
}

type fakeSender struct {
	replyErr error
	sendErr  error
	replied  []string
	sent     []string
}

func (f *fakeSender) Reply(_ context.Context, userID, conversationID string, platform channel.Platform, text string) (message.Message, error) {
	if f.replyErr != nil {
		return message.Message{}, f.replyErr
	}
	f.replied = append(f.replied, platform.String()+":"+conversationID+":"+text)
	return message.Message{ID: "m1", ConversationID: conversationID, SenderType: message.SenderBot, Text: text, Platform: platform}, nil
}

func (f *fakeSender) SendToContact(_ context.Context, _ string, platform channel.Platform, to, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, platform.String()+":"+to+":"+text)
	return nil
}

type fakeAccountStore map[string]accounts.Account

func (f fakeAccountStore) Get(_ context.Context, id string) (accounts.Account, error) {
	if a, ok := f[id]; ok {
		return a, nil
	}
	return accounts.Account{}, accounts.ErrAccountNotFound
}

func (f fakeAccountStore) ListSafeForUser(_ context.Context, userID string) ([]accounts.SafeAccount, error) {
	var out []accounts.SafeAccount
	for _, a := range f {
		if a.UserID == userID {
			out = append(out, a.Safe())
		}
	}
	return out, nil
}

type fakeReplies struct {
	reply      string
	err        error
	lastConv   string
	lastText   string
	latestConv string
}

func (f *fakeReplies) GenerateReply(_ context.Context, _, conversationID, text string) (string, error) {
	f.lastConv, f.lastText = conversationID, text
	return f.reply, f.err
}

func (f *fakeReplies) ReplyToLatest(_ context.Context, _ accounts.Account, conv conversation.Conversation) (message.Message, error) {
	f.latestConv = conv.ID
	if f.err != nil {
		return message.Message{}, f.err
	}
	return message.Message{ID: "bot-1", ConversationID: conv.ID, SenderType: message.SenderBot, Text: f.reply}, nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

func newContext(e *echo.Echo, method, target, body, userID string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID != "" {
		c.Set("user", &jwt.Token{Valid: true, Claims: jwt.MapClaims{"user_id": userID}})
	}
	return c, rec
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he), "expected echo.HTTPError, got %v", err)
	return he.Code
}

func testConvs() fakeConvs {
	return fakeConvs{
		"c1": {ID: "c1", PlatformAccountID: "acc-u1", Platform: channel.PlatformTelegram, ExternalChatID: "42"},
		"c2": {ID: "c2", PlatformAccountID: "acc-u1", Platform: channel.PlatformWhatsApp, ExternalChatID: "4071"},
		"c9": {ID: "c9", PlatformAccountID: "acc-u2", Platform: channel.PlatformTelegram, ExternalChatID: "7"},
	}
}

func TestTelegramWebhook(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	h := NewTelegramHandler(testLogger, &fakeConnector{}, testConvs(), fakeMessages{}, &fakeSender{}, sink)
	e := newEcho()

	body := `{"update_id":5,"message":{"message_id":10,"date":1700000000,"text":"Hello","chat":{"id":42,"type":"private"},"from":{"id":7,"is_bot":false,"first_name":"Ana","username":"ana"}}}`
	c, rec := newContext(e, http.MethodPost, "/telegram/webhook/99", body, "")
	c.Request().Header.Set(headerTelegramSecret, "s3cret")
	c.SetParamNames("botId")
	c.SetParamValues("99")

	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Len(t, sink.calls, 1)
	call := sink.calls[0]
	assert.Equal(t, channel.PlatformTelegram, call.platform)
	assert.Equal(t, "99", call.botID)
	assert.Equal(t, "s3cret", call.secret)
	require.Len(t, call.msgs, 1)
	assert.Equal(t, "Hello", call.msgs[0].Text)
	assert.Equal(t, "42", call.msgs[0].Contact.ExternalChatID)
}

func TestTelegramWebhook_AlternateSecretHeaderAndGarbage(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	h := NewTelegramHandler(testLogger, &fakeConnector{}, testConvs(), fakeMessages{}, &fakeSender{}, sink)
	e := newEcho()

	c, rec := newContext(e, http.MethodPost, "/webhook/99", `{"update_id":6}`, "")
	c.Request().Header.Set(headerPlatformSecret, "alt")
	c.SetParamNames("botId")
	c.SetParamValues("99")
	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.calls, 1)
	assert.Equal(t, "alt", sink.calls[0].secret)
	assert.Empty(t, sink.calls[0].msgs)

	c, rec = newContext(e, http.MethodPost, "/webhook/99", `{not json`, "")
	c.SetParamNames("botId")
	c.SetParamValues("99")
	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusOK, rec.Code, "malformed updates are still acknowledged")
	assert.Len(t, sink.calls, 1)
}

func TestTelegramConnect(t *testing.T) {
	t.Parallel()

	conn := &fakeConnector{out: accounts.SafeAccount{ID: "acc-u1", ExternalAppID: "99", Platform: channel.PlatformTelegram}}
	h := NewTelegramHandler(testLogger, conn, testConvs(), fakeMessages{}, &fakeSender{}, &fakeSink{})
	e := newEcho()

	c, rec := newContext(e, http.MethodPost, "/telegram/connect", `{"botToken":" 99:abc "}`, "u1")
	require.NoError(t, h.Connect(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "99:abc", conn.in.Credential.AccessToken)
	assert.Equal(t, "u1", conn.in.UserID)
	assert.NotContains(t, rec.Body.String(), "99:abc")

	c, _ = newContext(e, http.MethodPost, "/telegram/connect", `{}`, "u1")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.Connect(c)))

	conn.err = errors.Join(accounts.ErrInvalidCredential, &channel.SendError{Status: 401})
	c, _ = newContext(e, http.MethodPost, "/telegram/connect", `{"botToken":"bad"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.Connect(c)))
}

func TestTelegramConnect_Unauthenticated(t *testing.T) {
	t.Parallel()

	h := NewTelegramHandler(testLogger, &fakeConnector{}, testConvs(), fakeMessages{}, &fakeSender{}, &fakeSink{})
	c, _ := newContext(newEcho(), http.MethodPost, "/telegram/connect", `{"botToken":"x"}`, "")
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, h.Connect(c)))
}

func TestTelegramConversationsAndMessages(t *testing.T) {
	t.Parallel()

	msgs := fakeMessages{"c1": {{ID: "m1", Text: "Hello"}}}
	h := NewTelegramHandler(testLogger, &fakeConnector{}, testConvs(), msgs, &fakeSender{}, &fakeSink{})
	e := newEcho()

	c, rec := newContext(e, http.MethodGet, "/telegram/conversations", "", "u1")
	require.NoError(t, h.ListConversations(c))
	var convs []conversation.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ID)

	c, rec = newContext(e, http.MethodGet, "/telegram/conversations/c1/messages", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues("c1")
	require.NoError(t, h.ListMessages(c))
	assert.Contains(t, rec.Body.String(), `"text":"Hello"`)

	c, _ = newContext(e, http.MethodGet, "/telegram/conversations/c9/messages", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues("c9")
	assert.Equal(t, http.StatusNotFound, statusOf(t, h.ListMessages(c)))
}

func TestTelegramReply_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", conversation.ErrConversationNotFound, http.StatusNotFound},
		{"platform mismatch", outbound.ErrPlatformMismatch, http.StatusForbidden},
		{"platform rejected", &channel.SendError{Platform: channel.PlatformTelegram, Method: "sendMessage", Status: 400, Body: "chat not found"}, http.StatusBadGateway},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &fakeSender{replyErr: tc.err}
			h := NewTelegramHandler(testLogger, &fakeConnector{}, testConvs(), fakeMessages{}, sender, &fakeSink{})
			c, _ := newContext(newEcho(), http.MethodPost, "/telegram/reply", `{"conversationId":"c1","text":"Salut"}`, "u1")
			assert.Equal(t, tc.want, statusOf(t, h.Reply(c)))
		})
	}
}

func TestTelegramReply(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := NewTelegramHandler(testLogger, &fakeConnector{}, testConvs(), fakeMessages{}, sender, &fakeSink{})
	e := newEcho()

	c, rec := newContext(e, http.MethodPost, "/telegram/reply", `{"conversationId":"c1","text":"Salut"}`, "u1")
	require.NoError(t, h.Reply(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"telegram:c1:Salut"}, sender.replied)

	c, _ = newContext(e, http.MethodPost, "/telegram/reply", `{"conversationId":"c1"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.Reply(c)))
}

func TestWhatsAppVerify(t *testing.T) {
	t.Parallel()

	h := NewWhatsAppHandler(testLogger, &fakeConnector{}, &fakeSender{}, &fakeSink{}, WhatsAppOptions{VerifyToken: "verify-me"})
	e := newEcho()

	c, rec := newContext(e, http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", "", "")
	require.NoError(t, h.Verify(c))
	assert.Equal(t, "1158201444", rec.Body.String())

	c, _ = newContext(e, http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", "", "")
	assert.Equal(t, http.StatusForbidden, statusOf(t, h.Verify(c)))
}

const whatsappPayload = `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
	"messaging_product":"whatsapp",
	"metadata":{"display_phone_number":"40700","phone_number_id":"555"},
	"contacts":[{"wa_id":"4071","profile":{"name":"Ion"}}],
	"messages":[{"from":"4071","id":"wamid.1","timestamp":"1700000000","type":"text","text":{"body":"Bună"}}]
}}]}]}`

func TestWhatsAppWebhook(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	h := NewWhatsAppHandler(testLogger, &fakeConnector{}, &fakeSender{}, sink, WhatsAppOptions{})
	c, rec := newContext(newEcho(), http.MethodPost, "/webhooks/whatsapp", whatsappPayload, "")

	require.NoError(t, h.Webhook(c))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Len(t, sink.calls, 1)
	assert.Equal(t, channel.PlatformWhatsApp, sink.calls[0].platform)
	assert.Equal(t, "555", sink.calls[0].botID)
	require.Len(t, sink.calls[0].msgs, 1)
	assert.Equal(t, "Ion", sink.calls[0].msgs[0].Contact.DisplayName)
}

func TestWhatsAppWebhook_Signature(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	h := NewWhatsAppHandler(testLogger, &fakeConnector{}, &fakeSender{}, sink, WhatsAppOptions{AppSecret: "app-secret"})
	e := newEcho()

	c, rec := newContext(e, http.MethodPost, "/webhooks/whatsapp", whatsappPayload, "")
	c.Request().Header.Set(headerHubSignature, "sha256=00")
	require.NoError(t, h.Webhook(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sink.calls, "bad signature is discarded")

	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(whatsappPayload))
	c, _ = newContext(e, http.MethodPost, "/webhooks/whatsapp", whatsappPayload, "")
	c.Request().Header.Set(headerHubSignature, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	require.NoError(t, h.Webhook(c))
	assert.Len(t, sink.calls, 1)
}

func TestWhatsAppConnectAndSend(t *testing.T) {
	t.Parallel()

	conn := &fakeConnector{}
	sender := &fakeSender{}
	h := NewWhatsAppHandler(testLogger, conn, sender, &fakeSink{}, WhatsAppOptions{})
	e := newEcho()

	c, rec := newContext(e, http.MethodPost, "/whatsapp/connect", `{"accessToken":"EAAG","phoneNumberId":"555"}`, "u1")
	require.NoError(t, h.Connect(c))
	assert.JSONEq(t, `{"connected":true}`, rec.Body.String())
	assert.Equal(t, channel.PlatformWhatsApp, conn.in.Platform)
	assert.Equal(t, "555", conn.in.Credential.ExternalAppID)

	c, _ = newContext(e, http.MethodPost, "/whatsapp/connect", `{"accessToken":"EAAG"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.Connect(c)))

	c, rec = newContext(e, http.MethodPost, "/whatsapp/test-send", `{"to":"4071","text":"Test"}`, "u1")
	require.NoError(t, h.TestSend(c))
	assert.JSONEq(t, `{"sent":true}`, rec.Body.String())
	assert.Equal(t, []string{"whatsapp:4071:Test"}, sender.sent)

	sender.sendErr = accounts.ErrAccountNotFound
	c, _ = newContext(e, http.MethodPost, "/whatsapp/test-send", `{"to":"4071","text":"Test"}`, "u1")
	assert.Equal(t, http.StatusNotFound, statusOf(t, h.TestSend(c)))

	c, rec = newContext(e, http.MethodPost, "/whatsapp/reply", `{"conversationId":"c2","text":"Salut"}`, "u1")
	require.NoError(t, h.Reply(c))
	assert.Equal(t, []string{"whatsapp:c2:Salut"}, sender.replied)
}

func TestPlatformAccountsList(t *testing.T) {
	t.Parallel()

	store := fakeAccountStore{
		"acc-u1": {ID: "acc-u1", UserID: "u1", Platform: channel.PlatformTelegram, AccessToken: "99:secret", Settings: map[string]any{accounts.SettingWebhookSecret: "hook"}},
	}
	h := NewPlatformAccountsHandler(testLogger, store)
	e := newEcho()

	c, rec := newContext(e, http.MethodGet, "/platform-accounts", "", "u1")
	require.NoError(t, h.List(c))
	var resp ListAccountsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.NotContains(t, rec.Body.String(), "99:secret")
	assert.NotContains(t, rec.Body.String(), "hook")

	c, rec = newContext(e, http.MethodGet, "/platform-accounts", "", "nobody")
	require.NoError(t, h.List(c))
	assert.JSONEq(t, `{"total":0,"accounts":[]}`, rec.Body.String())
}

type fakeChecker struct {
	status string
}

func (f fakeChecker) ListChecks(_ context.Context, account accounts.Account) []healthcheck.CheckResult {
	return []healthcheck.CheckResult{{ID: "check." + account.ID, Type: "fake", Status: f.status}}
}

func TestPlatformAccountsChecks(t *testing.T) {
	t.Parallel()

	store := fakeAccountStore{
		"acc-u1": {ID: "acc-u1", UserID: "u1", Platform: channel.PlatformTelegram},
		"acc-u2": {ID: "acc-u2", UserID: "u2", Platform: channel.PlatformTelegram},
	}
	h := NewPlatformAccountsHandler(testLogger, store, fakeChecker{status: healthcheck.StatusOK}, fakeChecker{status: healthcheck.StatusWarn})
	e := newEcho()

	c, rec := newContext(e, http.MethodGet, "/platform-accounts/acc-u1/checks", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues("acc-u1")
	require.NoError(t, h.Checks(c))
	var resp AccountChecksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acc-u1", resp.AccountID)
	assert.Equal(t, healthcheck.StatusWarn, resp.Status)
	assert.Len(t, resp.Checks, 2)

	c, _ = newContext(e, http.MethodGet, "/platform-accounts/acc-u2/checks", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues("acc-u2")
	assert.Equal(t, http.StatusNotFound, statusOf(t, h.Checks(c)))

	c, _ = newContext(e, http.MethodGet, "/platform-accounts/missing/checks", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues("missing")
	assert.Equal(t, http.StatusNotFound, statusOf(t, h.Checks(c)))
}

func TestAssistantTestReply(t *testing.T) {
	t.Parallel()

	replies := &fakeReplies{reply: "Bună ziua!"}
	h := NewAssistantHandler(testLogger, replies, autoreply.NewMemoryState(testLogger, false), testConvs(), fakeAccountStore{})
	e := newEcho()

	c, rec := newContext(e, http.MethodPost, "/ai-assistant/test-reply", `{"message":"Salut"}`, "u1")
	require.NoError(t, h.TestReply(c))
	assert.JSONEq(t, `{"reply":"Bună ziua!"}`, rec.Body.String())
	assert.Equal(t, "", replies.lastConv)

	c, _ = newContext(e, http.MethodPost, "/ai-assistant/test-reply", `{"conversationId":"c1","text":"Salut"}`, "u1")
	require.NoError(t, h.TestReply(c))
	assert.Equal(t, "c1", replies.lastConv)
	assert.Equal(t, "Salut", replies.lastText)

	c, _ = newContext(e, http.MethodPost, "/ai-assistant/test-reply", `{"conversationId":"c9","message":"x"}`, "u1")
	assert.Equal(t, http.StatusNotFound, statusOf(t, h.TestReply(c)))

	c, _ = newContext(e, http.MethodPost, "/ai-assistant/test-reply", `{}`, "u1")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.TestReply(c)))

	replies.err = autoreply.ErrCompletionUnavailable
	c, _ = newContext(e, http.MethodPost, "/ai-assistant/test-reply", `{"message":"Salut"}`, "u1")
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(t, h.TestReply(c)))
}

func TestAssistantToggle(t *testing.T) {
	t.Parallel()

	state := autoreply.NewMemoryState(testLogger, false)
	h := NewAssistantHandler(testLogger, &fakeReplies{}, state, testConvs(), fakeAccountStore{})
	e := newEcho()

	c, rec := newContext(e, http.MethodPost, "/ai-assistant/auto-reply/enable", `{"enabled":true}`, "u1")
	require.NoError(t, h.SetAutoReply(c))
	assert.JSONEq(t, `{"enabled":true}`, rec.Body.String())
	assert.True(t, state.Enabled(context.Background()))

	c, rec = newContext(e, http.MethodGet, "/ai-assistant/auto-reply/status", "", "u1")
	require.NoError(t, h.AutoReplyStatus(c))
	assert.JSONEq(t, `{"enabled":true}`, rec.Body.String())

	c, _ = newContext(e, http.MethodPost, "/ai-assistant/auto-reply/enable", `{"enabled":false}`, "u1")
	require.NoError(t, h.SetAutoReply(c))
	assert.False(t, state.Enabled(context.Background()))

	c, _ = newContext(e, http.MethodPost, "/ai-assistant/auto-reply/enable", `{}`, "u1")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.SetAutoReply(c)))
}

func TestAssistantTriggerAutoReply(t *testing.T) {
	t.Parallel()

	replies := &fakeReplies{reply: "Revin imediat."}
	store := fakeAccountStore{"acc-u1": {ID: "acc-u1", UserID: "u1", Platform: channel.PlatformTelegram}}
	h := NewAssistantHandler(testLogger, replies, autoreply.NewMemoryState(testLogger, false), testConvs(), store)
	e := newEcho()

	c, rec := newContext(e, http.MethodPost, "/ai-assistant/conversations/c1/auto-reply", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues("c1")
	require.NoError(t, h.TriggerAutoReply(c))
	assert.Equal(t, "c1", replies.latestConv)
	assert.Contains(t, rec.Body.String(), `"sender_type":"bot"`)

	c, _ = newContext(e, http.MethodPost, "/ai-assistant/conversations/c9/auto-reply", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues("c9")
	assert.Equal(t, http.StatusNotFound, statusOf(t, h.TriggerAutoReply(c)))

	replies.err = autoreply.ErrNoMessages
	c, _ = newContext(e, http.MethodPost, "/ai-assistant/conversations/c1/auto-reply", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues("c1")
	assert.Equal(t, http.StatusNotFound, statusOf(t, h.TriggerAutoReply(c)))
}

func TestPing(t *testing.T) {
	t.Parallel()

	h := NewPingHandler(testLogger)
	c, rec := newContext(newEcho(), http.MethodGet, "/ping", "", "")
	require.NoError(t, h.Ping(c))
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHTTPError_NilPassesThrough(t *testing.T) {
	t.Parallel()

	assert.NoError(t, httpError(nil))
}
