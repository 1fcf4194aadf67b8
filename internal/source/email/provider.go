// Package email connects accounts through IMAP with OAuth2 bearer tokens.
package email

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/source"
)

// Provider implements source.Provider and source.Authorizer for IMAP
// servers that accept OAUTHBEARER.
type Provider struct {
	host       string
	port       int
	oauth      *oauth2.Config
	httpClient *http.Client
}

var (
	_ source.Provider   = (*Provider)(nil)
	_ source.Authorizer = (*Provider)(nil)
)

// NewProvider creates an IMAP provider from cfg. httpClient may be nil.
func NewProvider(cfg model.ProviderConfig, httpClient *http.Client) *Provider {
	scopes := strings.Fields(strings.ReplaceAll(cfg.Scopes, ",", " "))
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "offline_access"}
	}

	return &Provider{
		host: cfg.IMAPHost,
		port: cfg.IMAPPort,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		httpClient: httpClient,
	}
}

func (p *Provider) withHTTPClient(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// Refresh exchanges refreshToken at the configured token endpoint.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*source.Token, error) {
	tok, err := p.oauth.TokenSource(p.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, source.WrapTokenError("imap.Refresh", err)
	}

	out := &source.Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}
	if tok.RefreshToken != refreshToken {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}

// AuthURL returns the consent page URL with offline access requested.
func (p *Provider) AuthURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades code for tokens. The mailbox address is taken from the
// id_token returned alongside them.
func (p *Provider) Exchange(ctx context.Context, code string) (*source.Token, string, error) {
	tok, err := p.oauth.Exchange(p.withHTTPClient(ctx), code)
	if err != nil {
		return nil, "", source.WrapTokenError("imap.Exchange", err)
	}

	email, err := source.EmailFromIDToken(tok)
	if err != nil {
		return nil, "", err
	}

	return &source.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, email, nil
}

// Open returns an IMAP client logging in as the account's address.
func (p *Provider) Open(_ context.Context, account *model.Account, accessToken string) (source.Source, error) {
	return NewIMAPClient(p.host, p.port, account.Email, accessToken), nil
}
