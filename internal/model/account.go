package model

import "time"

// ProviderKind identifies which mailbox API an account is connected through.
type ProviderKind string

const (
	ProviderGmail ProviderKind = "gmail"
	ProviderIMAP  ProviderKind = "imap"
)

// Account is one external mailbox credential set. A user may hold several.
type Account struct {
	// ID is the internal unique identifier for this account.
	ID string `json:"id" db:"id"`

	// UserID is the owner of the account.
	UserID string `json:"user_id" db:"user_id"`

	// Provider is the mailbox API this account talks to.
	Provider ProviderKind `json:"provider" db:"provider"`

	// Email is the mailbox address, used for display and IMAP login.
	Email string `json:"email" db:"email"`

	// RefreshToken is the sealed long-lived refresh credential. It is
	// never stored or logged in plaintext.
	RefreshToken string `json:"-" db:"refresh_token"`

	// AccessToken is the sealed short-lived access credential, if any.
	AccessToken *string `json:"-" db:"access_token"`

	// AccessTokenExpiry is when AccessToken stops being valid.
	AccessTokenExpiry *time.Time `json:"access_token_expiry,omitempty" db:"access_token_expiry"`

	// Active is false once the account has been deactivated.
	Active bool `json:"active" db:"active"`

	// LastSyncedAt is the watermark of the last successful sync.
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AccessTokenValid reports whether the stored access credential can be
// used at now without a refresh.
func (a *Account) AccessTokenValid(now time.Time) bool {
	if a.AccessToken == nil || *a.AccessToken == "" || a.AccessTokenExpiry == nil {
		return false
	}
	return a.AccessTokenExpiry.After(now)
}
