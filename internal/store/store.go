package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailsweep/internal/model"
)

// ErrDuplicate is returned by InsertMessage when a message with the same
// external id already exists.
var ErrDuplicate = errors.New("duplicate external id")

// MessageFilter controls filtering and pagination for message queries.
type MessageFilter struct {
	AccountID  *string
	CategoryID *string
	Limit      int
	Offset     int
}

// AccountStore persists mailbox accounts and their credentials. Token
// columns hold sealed values only.
type AccountStore interface {
	SaveAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListActiveAccounts(ctx context.Context) ([]model.Account, error)
	UpdateTokens(ctx context.Context, id string, sealedAccess string, expiry time.Time, sealedRefresh *string) error
	DeactivateAccount(ctx context.Context, id string) error
	AdvanceWatermark(ctx context.Context, id string, at time.Time) error
	DeleteAccount(ctx context.Context, id string) error
}

// MessageStore persists normalized messages.
type MessageStore interface {
	ExistingExternalIDs(ctx context.Context, accountID string, externalIDs []string) (map[string]bool, error)
	InsertMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	GetMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error)
	MarkArchived(ctx context.Context, id string) error
	SetCategory(ctx context.Context, id string, categoryID *string) error
	DeleteMessage(ctx context.Context, id string) error
	RecordIngestFailure(ctx context.Context, accountID, externalID, reason string) (int, error)
}

// CategoryStore reads the user-owned classification labels.
type CategoryStore interface {
	CreateCategory(ctx context.Context, category *model.Category) error
	CategoriesForUser(ctx context.Context, userID string) ([]model.Category, error)
}

// AttemptStore records unsubscribe executions.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, attempt *model.UnsubscribeAttempt) error
	CompleteAttempt(ctx context.Context, attempt *model.UnsubscribeAttempt) error
	LatestAttempt(ctx context.Context, messageID string) (*model.UnsubscribeAttempt, error)
	AttemptsForMessage(ctx context.Context, messageID string) ([]model.UnsubscribeAttempt, error)
}

// Store is the full persistence interface.
type Store interface {
	AccountStore
	MessageStore
	CategoryStore
	AttemptStore

	Close() error
}
