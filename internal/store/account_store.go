package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsweep/internal/model"
)

// SaveAccount creates an account, or refreshes the credentials of the
// existing account for the same provider and address and reactivates it.
// account.ID is set to the stored id.
func (s *SQLiteStore) SaveAccount(ctx context.Context, account *model.Account) error {
	if account.RefreshToken == "" {
		return fmt.Errorf("account refresh token must not be empty")
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	account.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, user_id, provider, email, refresh_token,
			access_token, access_token_expiry, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(provider, email) DO UPDATE SET
			user_id = excluded.user_id,
			refresh_token = excluded.refresh_token,
			access_token = excluded.access_token,
			access_token_expiry = excluded.access_token_expiry,
			active = 1,
			updated_at = excluded.updated_at`,
		account.ID, account.UserID, string(account.Provider), account.Email, account.RefreshToken,
		account.AccessToken, utcPtr(account.AccessTokenExpiry), now, now,
	)
	if err != nil {
		return fmt.Errorf("saving account %s: %w", account.Email, err)
	}

	var stored model.Account
	err = s.db.GetContext(ctx, &stored,
		"SELECT * FROM accounts WHERE provider = ? AND email = ?",
		string(account.Provider), account.Email)
	if err != nil {
		return fmt.Errorf("reloading account %s: %w", account.Email, err)
	}
	*account = stored
	return nil
}

// GetAccount retrieves an account by id.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := s.db.GetContext(ctx, &account, "SELECT * FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("store.GetAccount", "account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return &account, nil
}

// ListActiveAccounts returns every active account, oldest first.
func (s *SQLiteStore) ListActiveAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := s.db.SelectContext(ctx, &accounts,
		"SELECT * FROM accounts WHERE active = 1 ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing active accounts: %w", err)
	}
	return accounts, nil
}

// UpdateTokens stores a refreshed access credential and its expiry in one
// statement. A non-nil sealedRefresh replaces the stored refresh credential.
func (s *SQLiteStore) UpdateTokens(
	ctx context.Context,
	id string,
	sealedAccess string,
	expiry time.Time,
	sealedRefresh *string,
) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET
			access_token = ?,
			access_token_expiry = ?,
			refresh_token = COALESCE(?, refresh_token),
			updated_at = ?
		WHERE id = ?`,
		sealedAccess, expiry.UTC(), sealedRefresh, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating tokens for account %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("store.UpdateTokens", "account", id)
	}
	return nil
}

// DeactivateAccount soft-deletes an account. Its messages are kept.
func (s *SQLiteStore) DeactivateAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET active = 0, access_token = NULL, access_token_expiry = NULL, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivating account %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("store.DeactivateAccount", "account", id)
	}
	return nil
}

// AdvanceWatermark sets the last successful sync time of an account.
func (s *SQLiteStore) AdvanceWatermark(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET last_synced_at = ?, updated_at = ? WHERE id = ?",
		at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("advancing watermark for account %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("store.AdvanceWatermark", "account", id)
	}
	return nil
}

// DeleteAccount removes an account and, by cascade, its messages.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("store.DeleteAccount", "account", id)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
