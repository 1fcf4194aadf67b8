package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedAccount stores an active gmail account with the given sealed refresh
// token and optional watermark.
func SeedAccount(t *testing.T, s store.AccountStore, email, sealedRefresh string, watermark *time.Time) *model.Account {
	t.Helper()

	account := &model.Account{
		UserID:       "user-1",
		Provider:     model.ProviderGmail,
		Email:        email,
		RefreshToken: sealedRefresh,
	}
	if err := s.SaveAccount(context.Background(), account); err != nil {
		t.Fatalf("seeding account: %v", err)
	}
	if watermark != nil {
		if err := s.AdvanceWatermark(context.Background(), account.ID, *watermark); err != nil {
			t.Fatalf("seeding watermark: %v", err)
		}
		account.LastSyncedAt = watermark
	}
	return account
}
