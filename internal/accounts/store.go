package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/db"
)

const accountColumns = `id::text, user_id, platform, access_token, external_app_id, settings, created_at, updated_at`

// Store persists platform accounts in Postgres.
type Store struct {
	db db.DBTX
}

// NewStore creates a Store on top of a pool or transaction.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// Upsert inserts an account or, when (platform, external_app_id) already
// exists, moves it to the caller and refreshes its credential and settings.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) (Account, error) {
	settings := in.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	row := s.db.QueryRow(ctx, `
INSERT INTO platform_accounts (id, user_id, platform, access_token, external_app_id, settings)
VALUES ($1::uuid, $2, $3, $4, $5, $6)
ON CONFLICT (platform, external_app_id) DO UPDATE
SET user_id = EXCLUDED.user_id,
    access_token = EXCLUDED.access_token,
    settings = EXCLUDED.settings,
    updated_at = now()
RETURNING `+accountColumns,
		uuid.NewString(), in.UserID, in.Platform.String(), in.AccessToken, in.ExternalAppID, settings,
	)
	account, err := scanAccount(row)
	if err != nil {
		return Account{}, fmt.Errorf("upsert platform account: %w", err)
	}
	return account, nil
}

// Get returns an account by id.
func (s *Store) Get(ctx context.Context, id string) (Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM platform_accounts WHERE id = $1::uuid`, id)
	return scanOne(row)
}

// FindByExternalID resolves the account a webhook or poll belongs to.
func (s *Store) FindByExternalID(ctx context.Context, platform channel.Platform, externalAppID string) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM platform_accounts WHERE platform = $1 AND external_app_id = $2`,
		platform.String(), externalAppID)
	return scanOne(row)
}

// FindForUser returns the user's oldest account on the platform.
func (s *Store) FindForUser(ctx context.Context, userID string, platform channel.Platform) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM platform_accounts WHERE user_id = $1 AND platform = $2 ORDER BY created_at ASC LIMIT 1`,
		userID, platform.String())
	return scanOne(row)
}

// ListByPlatform returns every account on a platform.
func (s *Store) ListByPlatform(ctx context.Context, platform channel.Platform) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM platform_accounts WHERE platform = $1 ORDER BY created_at ASC`, platform.String())
	if err != nil {
		return nil, fmt.Errorf("list platform accounts: %w", err)
	}
	return collectAccounts(rows)
}

// ListByUser returns every account owned by a user.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM platform_accounts WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user accounts: %w", err)
	}
	return collectAccounts(rows)
}

func scanOne(row pgx.Row) (Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get platform account: %w", err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a        Account
		platform string
	)
	if err := row.Scan(&a.ID, &a.UserID, &platform, &a.AccessToken, &a.ExternalAppID, &a.Settings, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	a.Platform = channel.Platform(platform)
	if a.Settings == nil {
		a.Settings = map[string]any{}
	}
	return a, nil
}

func collectAccounts(rows pgx.Rows) ([]Account, error) {
	defer rows.Close()
	var items []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan platform account: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate platform accounts: %w", err)
	}
	return items, nil
}
