// Package gmail connects accounts through the Gmail REST API.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/source"
)

const (
	userID     = "me"
	inboxLabel = "INBOX"
	pageSize   = 500

	// maxPartDepth caps MIME tree conversion.
	maxPartDepth = 32
)

// Provider implements source.Provider and source.Authorizer for Gmail.
type Provider struct {
	oauth      *oauth2.Config
	endpoint   string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

var (
	_ source.Provider   = (*Provider)(nil)
	_ source.Authorizer = (*Provider)(nil)
)

// Option customizes a Provider.
type Option func(*Provider)

// WithAPIEndpoint points the Gmail client at a different base URL.
func WithAPIEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithOAuthEndpoint replaces the Google OAuth2 endpoints.
func WithOAuthEndpoint(endpoint oauth2.Endpoint) Option {
	return func(p *Provider) { p.oauth.Endpoint = endpoint }
}

// WithHTTPClient sets the base HTTP client for API and token calls.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.httpClient = client }
}

// New creates a Gmail provider from the OAuth client settings in cfg.
func New(cfg model.ProviderConfig, logger zerolog.Logger, opts ...Option) *Provider {
	logger = logger.With().Str("component", "gmail").Logger()

	p := &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				gmail.GmailReadonlyScope,
				gmail.GmailModifyScope,
			},
			Endpoint: google.Endpoint,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// Only server-side trouble counts against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !apperr.IsTransient(wrapError("gmail", err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return p
}

func (p *Provider) withHTTPClient(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// Refresh exchanges refreshToken for a new access token.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*source.Token, error) {
	ts := p.oauth.TokenSource(p.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, source.WrapTokenError("gmail.Refresh", err)
	}

	out := &source.Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}
	if tok.RefreshToken != refreshToken {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}

// AuthURL returns the consent page URL. Offline access with forced
// consent makes Google return a refresh token on every exchange.
func (p *Provider) AuthURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and looks up the
// mailbox address they grant access to.
func (p *Provider) Exchange(ctx context.Context, code string) (*source.Token, string, error) {
	tok, err := p.oauth.Exchange(p.withHTTPClient(ctx), code)
	if err != nil {
		return nil, "", source.WrapTokenError("gmail.Exchange", err)
	}

	svc, err := p.service(ctx, tok.AccessToken)
	if err != nil {
		return nil, "", err
	}

	var profile *gmail.Profile
	_, err = p.cb.Execute(func() (interface{}, error) {
		var err error
		profile, err = svc.Users.GetProfile(userID).Context(ctx).Do()
		return nil, err
	})
	if err != nil {
		return nil, "", wrapError("gmail.Exchange", err)
	}

	return &source.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, profile.EmailAddress, nil
}

// Open returns a Source for the account's mailbox.
func (p *Provider) Open(ctx context.Context, _ *model.Account, accessToken string) (source.Source, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return &mailbox{svc: svc, cb: p.cb}, nil
}

func (p *Provider) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	client := oauth2.NewClient(p.withHTTPClient(context.Background()), ts)

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "gmail.service", "creating gmail client", err)
	}
	return svc, nil
}

// mailbox is one account's view of the Gmail API.
type mailbox struct {
	svc *gmail.Service
	cb  *gobreaker.CircuitBreaker
}

func (m *mailbox) execute(op string, fn func() error) error {
	_, err := m.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return wrapError(op, err)
}

func (m *mailbox) List(ctx context.Context, since time.Time) ([]string, error) {
	query := fmt.Sprintf("after:%d", since.Unix())

	var ids []string
	pageToken := ""
	for {
		call := m.svc.Users.Messages.List(userID).
			LabelIds(inboxLabel).
			Q(query).
			MaxResults(pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		err := m.execute("gmail.List", func() error {
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}

		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

func (m *mailbox) Get(ctx context.Context, id string) (*source.RawMessage, error) {
	var msg *gmail.Message
	err := m.execute("gmail.Get", func() error {
		var err error
		msg, err = m.svc.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return toRawMessage(msg), nil
}

func (m *mailbox) Archive(ctx context.Context, id string) error {
	return m.Modify(ctx, id, nil, []string{inboxLabel})
}

func (m *mailbox) Trash(ctx context.Context, id string) error {
	return m.execute("gmail.Trash", func() error {
		_, err := m.svc.Users.Messages.Trash(userID, id).Context(ctx).Do()
		return err
	})
}

func (m *mailbox) Modify(ctx context.Context, id string, add, remove []string) error {
	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}
	return m.execute("gmail.Modify", func() error {
		_, err := m.svc.Users.Messages.Modify(userID, id, req).Context(ctx).Do()
		return err
	})
}

// toRawMessage converts the API representation into the provider-neutral
// MIME tree.
func toRawMessage(msg *gmail.Message) *source.RawMessage {
	raw := &source.RawMessage{
		ID:           msg.Id,
		InternalDate: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload != nil {
		part := convertPart(msg.Payload, 0)
		raw.Payload = &part
	}
	return raw
}

func convertPart(p *gmail.MessagePart, depth int) source.Part {
	part := source.Part{MimeType: p.MimeType}

	for _, h := range p.Headers {
		if h == nil {
			continue
		}
		part.Headers = append(part.Headers, source.Header{Name: h.Name, Value: h.Value})
	}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	if depth >= maxPartDepth {
		return part
	}
	for _, child := range p.Parts {
		if child == nil {
			continue
		}
		part.Parts = append(part.Parts, convertPart(child, depth+1))
	}
	return part
}

// wrapError maps Gmail API failures onto the application error kinds.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if _, ok := err.(*apperr.Error); ok {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Wrap(apperr.KindTransient, op, "gmail circuit open", err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return apperr.Wrap(apperr.KindAuth, op, "access token rejected", err)
		case apiErr.Code == http.StatusForbidden && isRateLimit(apiErr):
			return apperr.Wrap(apperr.KindTransient, op, "rate limit exceeded", err)
		case apiErr.Code == http.StatusForbidden:
			return apperr.Wrap(apperr.KindAuth, op, "access denied", err)
		case apiErr.Code == http.StatusNotFound:
			return apperr.Wrap(apperr.KindNotFound, op, "message not found", err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return apperr.Wrap(apperr.KindTransient, op, "gmail unavailable", err)
		default:
			return apperr.Wrap(apperr.KindFormat, op, "gmail rejected the request", err)
		}
	}

	return apperr.Wrap(apperr.KindTransient, op, "gmail request failed", err)
}

func isRateLimit(apiErr *googleapi.Error) bool {
	if strings.Contains(strings.ToLower(apiErr.Message), "rate limit") {
		return true
	}
	for _, item := range apiErr.Errors {
		if strings.Contains(item.Reason, "rateLimitExceeded") {
			return true
		}
	}
	return false
}
