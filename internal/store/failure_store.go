package store

import (
	"context"
	"fmt"
	"time"
)

// RecordIngestFailure counts one more failed attempt to ingest a message
// and returns the total so far.
func (s *SQLiteStore) RecordIngestFailure(ctx context.Context, accountID, externalID, reason string) (int, error) {
	var attempts int
	err := s.db.GetContext(ctx, &attempts, `
		INSERT INTO ingest_failures (account_id, external_id, attempts, last_error, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(account_id, external_id) DO UPDATE SET
			attempts = attempts + 1,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
		RETURNING attempts`,
		accountID, externalID, reason, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("recording ingest failure for %s: %w", externalID, err)
	}
	return attempts, nil
}
