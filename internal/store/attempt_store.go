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

// CreateAttempt records the start of an unsubscribe attempt as pending.
func (s *SQLiteStore) CreateAttempt(ctx context.Context, attempt *model.UnsubscribeAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	attempt.Status = model.AttemptPending

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unsubscribe_attempts (id, message_id, status, method, attempted_at)
		VALUES (?, ?, ?, ?, ?)`,
		attempt.ID, attempt.MessageID, string(attempt.Status), string(attempt.Method),
		attempt.AttemptedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating unsubscribe attempt for message %s: %w", attempt.MessageID, err)
	}
	return nil
}

// CompleteAttempt writes the terminal state of an attempt.
func (s *SQLiteStore) CompleteAttempt(ctx context.Context, attempt *model.UnsubscribeAttempt) error {
	if attempt.CompletedAt == nil {
		now := time.Now().UTC()
		attempt.CompletedAt = &now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE unsubscribe_attempts SET
			status = ?, method = ?, error = ?, error_kind = ?, evidence = ?, artifacts = ?, completed_at = ?
		WHERE id = ?`,
		string(attempt.Status), string(attempt.Method), attempt.Error, attempt.ErrorKind,
		attempt.Evidence, attempt.Artifacts, attempt.CompletedAt.UTC(), attempt.ID,
	)
	if err != nil {
		return fmt.Errorf("completing unsubscribe attempt %s: %w", attempt.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("store.CompleteAttempt", "unsubscribe attempt", attempt.ID)
	}
	return nil
}

// LatestAttempt returns the most recent attempt for a message.
func (s *SQLiteStore) LatestAttempt(ctx context.Context, messageID string) (*model.UnsubscribeAttempt, error) {
	var attempt model.UnsubscribeAttempt
	err := s.db.GetContext(ctx, &attempt, `
		SELECT * FROM unsubscribe_attempts
		WHERE message_id = ?
		ORDER BY attempted_at DESC, rowid DESC
		LIMIT 1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("store.LatestAttempt", "unsubscribe attempt for message", messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest attempt for message %s: %w", messageID, err)
	}
	return &attempt, nil
}

// AttemptsForMessage returns every attempt for a message, newest first.
func (s *SQLiteStore) AttemptsForMessage(ctx context.Context, messageID string) ([]model.UnsubscribeAttempt, error) {
	var attempts []model.UnsubscribeAttempt
	err := s.db.SelectContext(ctx, &attempts, `
		SELECT * FROM unsubscribe_attempts
		WHERE message_id = ?
		ORDER BY attempted_at DESC, rowid DESC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("listing attempts for message %s: %w", messageID, err)
	}
	return attempts, nil
}
