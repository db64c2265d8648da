package message

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/conversation"
	"github.com/armando3069/zottis/internal/db/dbtest"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (p *recordingPublisher) PublishMessageCreated(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func TestAppend_RejectsBadInputBeforeQuerying(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil)
	_, err := svc.Append(context.Background(), AppendInput{ConversationID: "nope", SenderType: SenderClient})
	assert.Error(t, err)
	_, err = svc.Append(context.Background(), AppendInput{ConversationID: uuid.NewString(), SenderType: "agent"})
	assert.Error(t, err)

	items, err := svc.Recent(context.Background(), uuid.NewString(), 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDBService_AppendAndList(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()

	account, err := accounts.NewStore(pool).Upsert(ctx, accounts.UpsertInput{
		UserID:        uuid.NewString(),
		Platform:      channel.PlatformTelegram,
		AccessToken:   "t",
		ExternalAppID: uuid.NewString(),
	})
	require.NoError(t, err)
	conv, _, err := conversation.NewStore(pool).FindOrCreate(ctx, account, channel.Contact{ExternalChatID: "42"})
	require.NoError(t, err)

	failing := &recordingPublisher{err: errors.New("broker down")}
	ok := &recordingPublisher{}
	svc := NewService(nil, pool, failing, nil, ok)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	texts := []string{"one", "two", "three"}
	for _, text := range texts {
		// Equal timestamps fall back to insertion order.
		_, err := svc.Append(ctx, AppendInput{
			ConversationID: conv.ID,
			SenderType:     SenderClient,
			Text:           text,
			Platform:       channel.PlatformTelegram,
			Timestamp:      at,
		})
		require.NoError(t, err, "a failing publisher must not fail the append")
	}
	bot, err := svc.Append(ctx, AppendInput{
		ConversationID: conv.ID,
		SenderType:     SenderBot,
		Text:           "reply",
		Platform:       channel.PlatformTelegram,
		DeliveryStatus: DeliveryFailed,
		Timestamp:      at.Add(time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryFailed, bot.DeliveryStatus)

	all, err := svc.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"one", "two", "three", "reply"}, []string{all[0].Text, all[1].Text, all[2].Text, all[3].Text})
	assert.Equal(t, DeliveryReceived, all[0].DeliveryStatus)

	recent, err := svc.Recent(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Text)
	assert.Equal(t, "reply", recent[1].Text)

	assert.Len(t, failing.msgs, 4)
	assert.Len(t, ok.msgs, 4)
	assert.Equal(t, bot.ID, ok.msgs[3].ID)
}
