package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/channel"
)

type staticAccounts struct {
	items []accounts.Account
	err   error
}

func (s staticAccounts) ListByPlatform(ctx context.Context, platform channel.Platform) ([]accounts.Account, error) {
	return s.items, s.err
}

type scriptedUpdates struct {
	mu      sync.Mutex
	byToken map[string][]channel.Update
	errs    map[string]error
	offsets map[string][]int64
	block   chan struct{}
	calls   atomic.Int32
}

func newScriptedUpdates() *scriptedUpdates {
	return &scriptedUpdates{
		byToken: map[string][]channel.Update{},
		errs:    map[string]error{},
		offsets: map[string][]int64{},
	}
}

func (s *scriptedUpdates) GetUpdates(ctx context.Context, cred channel.Credential, offset int64) ([]channel.Update, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[cred.AccessToken] = append(s.offsets[cred.AccessToken], offset)
	if err := s.errs[cred.AccessToken]; err != nil {
		return nil, err
	}
	var out []channel.Update
	for _, u := range s.byToken[cred.AccessToken] {
		if u.ID >= offset {
			out = append(out, u)
		}
	}
	return out, nil
}

type webhookCall struct {
	botID  string
	secret string
	text   string
}

type recordingHandler struct {
	mu      sync.Mutex
	calls   []webhookCall
	panicOn string
}

func (h *recordingHandler) HandleWebhook(ctx context.Context, platform channel.Platform, externalBotID, presentedSecret string, msgs []channel.InboundMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		if h.panicOn != "" && m.Text == h.panicOn {
			panic("processing " + m.Text + " failed")
		}
		h.calls = append(h.calls, webhookCall{botID: externalBotID, secret: presentedSecret, text: m.Text})
	}
}

func textUpdate(id int64, text string) channel.Update {
	return channel.Update{ID: id, HasText: true, Message: channel.InboundMessage{
		Contact: channel.Contact{ExternalChatID: "42"},
		Text:    text,
	}}
}

func botAccount(id, token string) accounts.Account {
	return accounts.Account{
		ID:            "acc-" + id,
		UserID:        "user-1",
		Platform:      channel.PlatformTelegram,
		AccessToken:   token,
		ExternalAppID: id,
		Settings:      map[string]any{accounts.SettingWebhookSecret: "secret-" + id},
	}
}

func TestPollOnce_AdvancesOffsetPastEveryUpdate(t *testing.T) {
	t.Parallel()

	updates := newScriptedUpdates()
	updates.byToken["t99"] = []channel.Update{
		textUpdate(5, "Hello"),
		{ID: 6}, // sticker: nothing to ingest
		textUpdate(7, "Still there?"),
	}
	handler := &recordingHandler{}
	p := NewPoller(nil, staticAccounts{items: []accounts.Account{botAccount("99", "t99")}}, updates, handler, time.Second)

	p.PollOnce(context.Background())
	assert.Equal(t, int64(8), p.Offset("t99"))
	assert.Equal(t, []webhookCall{
		{botID: "99", secret: "secret-99", text: "Hello"},
		{botID: "99", secret: "secret-99", text: "Still there?"},
	}, handler.calls)

	p.PollOnce(context.Background())
	assert.Equal(t, []int64{0, 8}, updates.offsets["t99"], "first poll omits the offset, the next asks past the last update")
	assert.Len(t, handler.calls, 2, "consumed updates are not redelivered")
}

func TestPollOnce_FailedUpdateStillAdvances(t *testing.T) {
	t.Parallel()

	updates := newScriptedUpdates()
	updates.byToken["t99"] = []channel.Update{
		textUpdate(5, "Hello"),
		textUpdate(6, "boom"),
		textUpdate(7, "Still there?"),
	}
	updates.byToken["t100"] = []channel.Update{textUpdate(20, "Other bot")}
	handler := &recordingHandler{panicOn: "boom"}
	p := NewPoller(nil, staticAccounts{items: []accounts.Account{botAccount("99", "t99"), botAccount("100", "t100")}}, updates, handler, time.Second)

	require.NotPanics(t, func() { p.PollOnce(context.Background()) })
	assert.Equal(t, int64(8), p.Offset("t99"))
	assert.Equal(t, int64(21), p.Offset("t100"))

	var texts []string
	for _, c := range handler.calls {
		texts = append(texts, c.text)
	}
	assert.ElementsMatch(t, []string{"Hello", "Still there?", "Other bot"}, texts)
}

func TestPoller_StartedCycleSurvivesFailedUpdate(t *testing.T) {
	t.Parallel()

	updates := newScriptedUpdates()
	updates.byToken["t99"] = []channel.Update{textUpdate(6, "boom"), textUpdate(7, "Still there?")}
	handler := &recordingHandler{panicOn: "boom"}
	p := NewPoller(nil, staticAccounts{items: []accounts.Account{botAccount("99", "t99")}}, updates, handler, time.Second)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.Offset("t99") == 8 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.calls, 1)
	assert.Equal(t, "Still there?", handler.calls[0].text)
}

func TestPollOnce_FetchFailureIsolatedPerAccount(t *testing.T) {
	t.Parallel()

	updates := newScriptedUpdates()
	updates.errs["bad"] = errors.New("telegram timeout")
	updates.byToken["good"] = []channel.Update{textUpdate(10, "Hi")}
	handler := &recordingHandler{}
	p := NewPoller(nil, staticAccounts{items: []accounts.Account{botAccount("1", "bad"), botAccount("2", "good")}}, updates, handler, time.Second)

	p.PollOnce(context.Background())
	assert.Equal(t, int64(0), p.Offset("bad"))
	assert.Equal(t, int64(11), p.Offset("good"))
	require.Len(t, handler.calls, 1)
	assert.Equal(t, "2", handler.calls[0].botID)
}

func TestPollOnce_NoAccountsIsNoop(t *testing.T) {
	t.Parallel()

	updates := newScriptedUpdates()
	p := NewPoller(nil, staticAccounts{}, updates, &recordingHandler{}, time.Second)
	p.PollOnce(context.Background())
	assert.Zero(t, updates.calls.Load())

	p = NewPoller(nil, staticAccounts{err: errors.New("db down")}, updates, &recordingHandler{}, time.Second)
	p.PollOnce(context.Background())
	assert.Zero(t, updates.calls.Load())
}

func TestPoller_CyclesNeverOverlap(t *testing.T) {
	t.Parallel()

	updates := newScriptedUpdates()
	updates.block = make(chan struct{})
	p := NewPoller(nil, staticAccounts{items: []accounts.Account{botAccount("99", "t99")}}, updates, &recordingHandler{}, time.Second)

	require.NoError(t, p.Start(context.Background()))
	// The first cycle blocks inside GetUpdates; later ticks must be skipped.
	time.Sleep(3500 * time.Millisecond)
	assert.Equal(t, int32(1), updates.calls.Load())
	close(updates.block)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.Error(t, p.Start(context.Background()), "a poller starts once")
}

func TestAdvance_IsMonotonic(t *testing.T) {
	t.Parallel()

	p := NewPoller(nil, staticAccounts{}, newScriptedUpdates(), &recordingHandler{}, 0)
	p.advance("t", 8)
	p.advance("t", 6)
	assert.Equal(t, int64(8), p.Offset("t"))
	assert.Equal(t, defaultInterval, p.interval)
}
