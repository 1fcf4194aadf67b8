package source

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailsweep/internal/model"
)

// ErrRevoked marks a refresh failure caused by the provider rejecting the
// refresh credential itself (revoked or expired grant).
var ErrRevoked = errors.New("refresh credential revoked")

// Header is a single message header in provider order.
type Header struct {
	Name  string
	Value string
}

// Part is one node of a provider-native MIME tree. Data holds the
// base64url-encoded payload of leaf parts.
type Part struct {
	MimeType string
	Headers  []Header
	Data     string
	Parts    []Part
}

// RawMessage is a message as returned by a provider, before normalization.
type RawMessage struct {
	ID           string
	InternalDate time.Time
	Payload      *Part
}

// Source is the mailbox operations surface of one connected account.
// Message ids are the provider-assigned external ids.
type Source interface {
	// List returns ids of inbox messages received at or after since.
	List(ctx context.Context, since time.Time) ([]string, error)

	// Get retrieves the full message.
	Get(ctx context.Context, id string) (*RawMessage, error)

	// Archive removes the message from the inbox without deleting it.
	Archive(ctx context.Context, id string) error

	// Trash moves the message to the trash.
	Trash(ctx context.Context, id string) error

	// Modify adds and removes labels (or flags) on the message.
	Modify(ctx context.Context, id string, add, remove []string) error
}

// Token is an OAuth credential pair as returned by a provider.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Provider connects accounts of one provider kind.
type Provider interface {
	// Refresh exchanges a refresh credential for a new access credential.
	// RefreshToken in the result is empty unless the provider rotated it.
	Refresh(ctx context.Context, refreshToken string) (*Token, error)

	// Open returns a Source for account authenticated with accessToken.
	Open(ctx context.Context, account *model.Account, accessToken string) (Source, error)
}

// Authorizer is implemented by providers that support the OAuth2
// authorization-code flow for connecting new accounts.
type Authorizer interface {
	AuthURL(state string) string

	// Exchange trades an authorization code for tokens and reports the
	// mailbox address they belong to.
	Exchange(ctx context.Context, code string) (*Token, string, error)
}
