package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/db"
)

const conversationColumns = `c.id::text, c.platform_account_id::text, c.platform, c.external_chat_id,
COALESCE(c.contact_name, ''), COALESCE(c.contact_username, ''), c.created_at`

// Store persists conversations in Postgres.
type Store struct {
	db db.DBTX
}

// NewStore creates a Store on top of a pool or transaction.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// FindOrCreate returns the conversation for (account, contact chat id),
// creating it when missing. isNew is true only for the caller whose insert
// created the row, so concurrent first messages yield one conversation.
// Contact fields of an existing conversation are left unchanged.
func (s *Store) FindOrCreate(ctx context.Context, account accounts.Account, contact channel.Contact) (Conversation, bool, error) {
	chatID := strings.TrimSpace(contact.ExternalChatID)
	if chatID == "" {
		return Conversation{}, false, fmt.Errorf("find or create conversation: external chat id is required")
	}
	row := s.db.QueryRow(ctx, `
WITH inserted AS (
    INSERT INTO conversations (id, platform_account_id, platform, external_chat_id, contact_name, contact_username)
    VALUES ($1::uuid, $2::uuid, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
    ON CONFLICT (platform_account_id, external_chat_id) DO NOTHING
    RETURNING *
)
SELECT `+conversationColumns+` FROM inserted c`,
		uuid.NewString(), account.ID, account.Platform.String(), chatID,
		strings.TrimSpace(contact.DisplayName), strings.TrimSpace(contact.Username),
	)
	created, err := scanConversation(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, false, fmt.Errorf("insert conversation: %w", err)
	}
	existing, err := s.FindByContact(ctx, account.ID, chatID)
	if err != nil {
		return Conversation{}, false, err
	}
	return existing, false, nil
}

// FindByContact returns the conversation of an account with one external chat.
func (s *Store) FindByContact(ctx context.Context, accountID, externalChatID string) (Conversation, error) {
	if _, err := uuid.Parse(accountID); err != nil {
		return Conversation{}, ErrConversationNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations c
WHERE c.platform_account_id = $1::uuid AND c.external_chat_id = $2`, accountID, strings.TrimSpace(externalChatID))
	return scanOne(row)
}

// Get returns a conversation by id without an ownership check.
func (s *Store) Get(ctx context.Context, id string) (Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Conversation{}, ErrConversationNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1::uuid`, id)
	return scanOne(row)
}

// GetForUser returns a conversation only if its platform account belongs to userID.
func (s *Store) GetForUser(ctx context.Context, userID, id string) (Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Conversation{}, ErrConversationNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations c
JOIN platform_accounts a ON a.id = c.platform_account_id
WHERE c.id = $1::uuid AND a.user_id = $2`, id, userID)
	return scanOne(row)
}

// ListForUser returns the user's conversations, newest first. An empty
// platform lists every platform.
func (s *Store) ListForUser(ctx context.Context, userID string, platform channel.Platform) ([]Conversation, error) {
	rows, err := s.db.Query(ctx, `SELECT `+conversationColumns+` FROM conversations c
JOIN platform_accounts a ON a.id = c.platform_account_id
WHERE a.user_id = $1 AND ($2 = '' OR c.platform = $2)
ORDER BY c.created_at DESC`, userID, platform.String())
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	items := []Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

func scanOne(row pgx.Row) (Conversation, error) {
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c        Conversation
		platform string
	)
	if err := row.Scan(&c.ID, &c.PlatformAccountID, &platform, &c.ExternalChatID, &c.ContactName, &c.ContactUsername, &c.CreatedAt); err != nil {
		return Conversation{}, err
	}
	c.Platform = channel.Platform(platform)
	return c, nil
}
