package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsweep/internal/model"
)

// existenceBatchSize bounds the number of placeholders in one IN clause.
const existenceBatchSize = 500

// ExistingExternalIDs reports which of the given external ids are already
// stored for the account. Provider ids are only unique within a mailbox.
// It issues one query per existenceBatchSize ids.
func (s *SQLiteStore) ExistingExternalIDs(ctx context.Context, accountID string, externalIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(externalIDs))

	for start := 0; start < len(externalIDs); start += existenceBatchSize {
		end := min(start+existenceBatchSize, len(externalIDs))

		query, args, err := sqlx.In(
			"SELECT external_id FROM messages WHERE account_id = ? AND external_id IN (?)",
			accountID, externalIDs[start:end],
		)
		if err != nil {
			return nil, fmt.Errorf("building existence query: %w", err)
		}

		var found []string
		if err := s.db.SelectContext(ctx, &found, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("checking existing messages: %w", err)
		}
		for _, id := range found {
			existing[id] = true
		}
	}

	return existing, nil
}

// InsertMessage stores a new message. A message whose external id is
// already stored for the same account is left untouched and ErrDuplicate
// is returned.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *model.Message) error {
	if msg.ExternalID == "" {
		return fmt.Errorf("message external id must not be empty")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.UnsubscribeMethod == "" {
		msg.UnsubscribeMethod = model.UnsubscribeNone
	}
	msg.CreatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, account_id, external_id, subject, sender, body, truncated,
			received_at, unsubscribe_target, unsubscribe_method, archived,
			category_id, summary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, external_id) DO NOTHING`,
		msg.ID, msg.AccountID, msg.ExternalID, msg.Subject, msg.Sender, msg.Body,
		boolToInt(msg.Truncated), msg.ReceivedAt.UTC(), msg.UnsubscribeTarget,
		string(msg.UnsubscribeMethod), boolToInt(msg.Archived),
		msg.CategoryID, msg.Summary, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", msg.ExternalID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("inserting message %s: %w", msg.ExternalID, ErrDuplicate)
	}
	return nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := s.db.GetContext(ctx, &msg, "SELECT * FROM messages WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("store.GetMessage", "message", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return &msg, nil
}

// GetMessages retrieves messages matching filter, newest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error) {
	var conditions []string
	var args []interface{}

	if filter.AccountID != nil {
		conditions = append(conditions, "account_id = ?")
		args = append(args, *filter.AccountID)
	}
	if filter.CategoryID != nil {
		conditions = append(conditions, "category_id = ?")
		args = append(args, *filter.CategoryID)
	}

	query := "SELECT * FROM messages"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY received_at DESC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var msgs []model.Message
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return msgs, nil
}

// MarkArchived records that the message was archived at the provider.
func (s *SQLiteStore) MarkArchived(ctx context.Context, id string) error {
	return s.updateMessage(ctx, "store.MarkArchived", id, "archived = 1")
}

// SetCategory assigns (or clears, with nil) the category of a message.
func (s *SQLiteStore) SetCategory(ctx context.Context, id string, categoryID *string) error {
	return s.updateMessage(ctx, "store.SetCategory", id, "category_id = ?", categoryID)
}

// DeleteMessage removes a message and, by cascade, its unsubscribe attempts.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("store.DeleteMessage", "message", id)
	}
	return nil
}

func (s *SQLiteStore) updateMessage(ctx context.Context, op, id, set string, args ...interface{}) error {
	args = append(args, id)
	result, err := s.db.ExecContext(ctx, "UPDATE messages SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating message %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound(op, "message", id)
	}
	return nil
}
