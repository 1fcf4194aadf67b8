package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/queue"
)

var refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mailsweep_token_refreshes_total",
	Help: "Access token refreshes by provider and outcome",
}, []string{"provider", "outcome"})

// AccountStore is the account persistence the client factory needs.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	SaveAccount(ctx context.Context, account *model.Account) error
	UpdateTokens(ctx context.Context, id string, sealedAccess string, expiry time.Time, sealedRefresh *string) error
	DeactivateAccount(ctx context.Context, id string) error
}

// Sealer encrypts credentials at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Unseal(opaque string) (string, error)
}

// Clients hands out ready-to-use Sources for stored accounts, refreshing
// access credentials when they have expired. Every provider call made
// through a returned Source goes through the shared queue.
type Clients struct {
	accounts    AccountStore
	vault       Sealer
	providers   map[model.ProviderKind]Provider
	queue       *queue.Queue
	callTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// ClientsOption customizes a Clients.
type ClientsOption func(*Clients)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ClientsOption {
	return func(c *Clients) { c.now = now }
}

// WithCallTimeout bounds each individual provider call.
func WithCallTimeout(d time.Duration) ClientsOption {
	return func(c *Clients) { c.callTimeout = d }
}

// NewClients creates a client factory.
func NewClients(
	accounts AccountStore,
	vault Sealer,
	providers map[model.ProviderKind]Provider,
	q *queue.Queue,
	logger zerolog.Logger,
	opts ...ClientsOption,
) *Clients {
	c := &Clients{
		accounts:  accounts,
		vault:     vault,
		providers: providers,
		queue:     q,
		now:       time.Now,
		logger:    logger.With().Str("component", "provider_client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetClient returns a Source for the account that is valid for the
// duration of the caller's work. An absent or expired access credential
// is refreshed and persisted before the Source is returned.
func (c *Clients) GetClient(ctx context.Context, accountID string) (Source, error) {
	const op = "source.GetClient"

	account, err := c.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, apperr.New(apperr.KindAccountInactive, op,
			fmt.Sprintf("account %s is deactivated", account.Email))
	}

	provider, ok := c.providers[account.Provider]
	if !ok {
		return nil, apperr.New(apperr.KindConfig, op,
			fmt.Sprintf("no provider configured for %q", account.Provider))
	}

	var accessToken string
	if account.AccessTokenValid(c.now()) {
		accessToken, err = c.vault.Unseal(*account.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("unsealing access token for account %s: %w", account.ID, err)
		}
	} else {
		accessToken, err = c.refresh(ctx, provider, account)
		if err != nil {
			return nil, err
		}
	}

	src, err := provider.Open(ctx, account, accessToken)
	if err != nil {
		return nil, fmt.Errorf("opening %s mailbox %s: %w", account.Provider, account.Email, err)
	}

	return NewQueued(src, c.queue, string(account.Provider), c.callTimeout), nil
}

// refresh obtains a new access credential and persists it, sealed, in a
// single update before returning it.
func (c *Clients) refresh(ctx context.Context, provider Provider, account *model.Account) (string, error) {
	const op = "source.refresh"
	logger := c.logger.With().Str("account_id", account.ID).Logger()

	refreshToken, err := c.vault.Unseal(account.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("unsealing refresh token for account %s: %w", account.ID, err)
	}

	token, err := queue.Value(ctx, c.queue, "provider.refresh", queue.Read,
		func(ctx context.Context) (*Token, error) {
			return provider.Refresh(ctx, refreshToken)
		})
	if err != nil {
		refreshesTotal.WithLabelValues(string(account.Provider), "failed").Inc()

		if errors.Is(err, ErrRevoked) {
			logger.Warn().Err(err).Msg("refresh credential revoked, deactivating account")
			if derr := c.accounts.DeactivateAccount(ctx, account.ID); derr != nil {
				logger.Error().Err(derr).Msg("failed to deactivate account")
			}
		}
		if apperr.Is(err, apperr.KindAuth) {
			return "", err
		}
		return "", apperr.Wrap(apperr.KindAuth, op, "could not refresh access token", err)
	}

	sealedAccess, err := c.vault.Seal(token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("sealing access token: %w", err)
	}

	var sealedRefresh *string
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		sealed, err := c.vault.Seal(token.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("sealing rotated refresh token: %w", err)
		}
		sealedRefresh = &sealed
	}

	if err := c.accounts.UpdateTokens(ctx, account.ID, sealedAccess, token.Expiry, sealedRefresh); err != nil {
		return "", fmt.Errorf("persisting refreshed token: %w", err)
	}

	refreshesTotal.WithLabelValues(string(account.Provider), "ok").Inc()
	logger.Debug().
		Time("expiry", token.Expiry).
		Bool("rotated", sealedRefresh != nil).
		Msg("access token refreshed")

	return token.AccessToken, nil
}

// AuthURL returns the consent URL for connecting a new account of kind.
func (c *Clients) AuthURL(kind model.ProviderKind, state string) (string, error) {
	authorizer, err := c.authorizer(kind)
	if err != nil {
		return "", err
	}
	return authorizer.AuthURL(state), nil
}

// Connect completes the authorization-code flow and stores the account
// with its credentials sealed. Reconnecting an existing mailbox replaces
// its credentials and reactivates it.
func (c *Clients) Connect(ctx context.Context, kind model.ProviderKind, userID, code string) (*model.Account, error) {
	const op = "source.Connect"

	authorizer, err := c.authorizer(kind)
	if err != nil {
		return nil, err
	}

	token, email, err := authorizer.Exchange(ctx, code)
	if err != nil {
		if apperr.Is(err, apperr.KindAuth) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindAuth, op, "authorization code exchange failed", err)
	}
	if token.RefreshToken == "" {
		return nil, apperr.New(apperr.KindAuth, op, "provider did not return a refresh token")
	}

	sealedRefresh, err := c.vault.Seal(token.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("sealing refresh token: %w", err)
	}
	sealedAccess, err := c.vault.Seal(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("sealing access token: %w", err)
	}
	expiry := token.Expiry

	account := &model.Account{
		UserID:            userID,
		Provider:          kind,
		Email:             email,
		RefreshToken:      sealedRefresh,
		AccessToken:       &sealedAccess,
		AccessTokenExpiry: &expiry,
	}
	if err := c.accounts.SaveAccount(ctx, account); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("account_id", account.ID).
		Str("provider", string(kind)).
		Msg("account connected")

	return account, nil
}

func (c *Clients) authorizer(kind model.ProviderKind) (Authorizer, error) {
	provider, ok := c.providers[kind]
	if !ok {
		return nil, apperr.New(apperr.KindConfig, "source.authorizer",
			fmt.Sprintf("no provider configured for %q", kind))
	}
	authorizer, ok := provider.(Authorizer)
	if !ok {
		return nil, apperr.New(apperr.KindConfig, "source.authorizer",
			fmt.Sprintf("provider %q does not support authorization", kind))
	}
	return authorizer, nil
}
