package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/source"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(model.ProviderConfig{
		Kind:         "gmail",
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
	}, zerolog.Nop(),
		WithAPIEndpoint(srv.URL+"/"),
		WithOAuthEndpoint(oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}),
		WithHTTPClient(srv.Client()),
	)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.PostForm.Get("refresh_token") {
		case "good":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token": "fresh-access",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "rotating":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token":  "fresh-access",
				"refresh_token": "rotated",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case "flaky":
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "backend_error"})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		}
	})
	p := newTestProvider(t, mux)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		tok, err := p.Refresh(ctx, "good")
		require.NoError(t, err)
		assert.Equal(t, "fresh-access", tok.AccessToken)
		assert.Empty(t, tok.RefreshToken)
		assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
	})

	t.Run("rotation", func(t *testing.T) {
		tok, err := p.Refresh(ctx, "rotating")
		require.NoError(t, err)
		assert.Equal(t, "rotated", tok.RefreshToken)
	})

	t.Run("revoked", func(t *testing.T) {
		_, err := p.Refresh(ctx, "revoked")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindAuth))
		assert.ErrorIs(t, err, source.ErrRevoked)
	})

	t.Run("server error is transient", func(t *testing.T) {
		_, err := p.Refresh(ctx, "flaky")
		require.Error(t, err)
		assert.True(t, apperr.IsTransient(err))
	})
}

func TestListFollowsPages(t *testing.T) {
	var queries []string
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		queries = append(queries, r.URL.Query().Get("q"))
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"messages":      []map[string]string{{"id": "m1"}, {"id": "m2"}},
				"nextPageToken": "p2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"messages": []map[string]string{{"id": "m3"}},
		})
	})
	p := newTestProvider(t, mux)

	src, err := p.Open(context.Background(), &model.Account{}, "access")
	require.NoError(t, err)

	since := time.Unix(1714557600, 0)
	ids, err := src.List(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
	assert.Equal(t, []string{"after:1714557600", "after:1714557600"}, queries)
}

func TestGetConvertsPayload(t *testing.T) {
	html := base64.URLEncoding.EncodeToString([]byte("<p>hi</p>"))
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "full", r.URL.Query().Get("format"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":           "m1",
			"internalDate": "1714557600000",
			"payload": map[string]interface{}{
				"mimeType": "multipart/alternative",
				"headers": []map[string]string{
					{"name": "Subject", "value": "Hello"},
				},
				"parts": []map[string]interface{}{
					{"mimeType": "text/html", "body": map[string]string{"data": html}},
				},
			},
		})
	})
	p := newTestProvider(t, mux)

	src, err := p.Open(context.Background(), &model.Account{}, "access")
	require.NoError(t, err)

	msg, err := src.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.True(t, time.Unix(1714557600, 0).Equal(msg.InternalDate))
	require.NotNil(t, msg.Payload)
	assert.Equal(t, []source.Header{{Name: "Subject", Value: "Hello"}}, msg.Payload.Headers)
	require.Len(t, msg.Payload.Parts, 1)
	assert.Equal(t, "text/html", msg.Payload.Parts[0].MimeType)
	assert.Equal(t, html, msg.Payload.Parts[0].Data)
}

func TestArchiveRemovesInboxLabel(t *testing.T) {
	var body map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/m1/modify", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, map[string]string{"id": "m1"})
	})
	p := newTestProvider(t, mux)

	src, err := p.Open(context.Background(), &model.Account{}, "access")
	require.NoError(t, err)
	require.NoError(t, src.Archive(context.Background(), "m1"))
	assert.Equal(t, []string{"INBOX"}, body["removeLabelIds"])
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind apperr.Kind
	}{
		{"unauthorized", &googleapi.Error{Code: 401}, apperr.KindAuth},
		{"forbidden", &googleapi.Error{Code: 403, Message: "Insufficient Permission"}, apperr.KindAuth},
		{"forbidden rate limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, apperr.KindTransient},
		{"not found", &googleapi.Error{Code: 404}, apperr.KindNotFound},
		{"too many requests", &googleapi.Error{Code: 429}, apperr.KindTransient},
		{"server error", &googleapi.Error{Code: 503}, apperr.KindTransient},
		{"bad request", &googleapi.Error{Code: 400}, apperr.KindFormat},
		{"network", errors.New("connection reset"), apperr.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, apperr.KindOf(wrapError("op", tt.err)))
		})
	}

	assert.ErrorIs(t, wrapError("op", context.Canceled), context.Canceled)
	assert.Nil(t, wrapError("op", nil))
}

func TestAuthURLRequestsOfflineAccess(t *testing.T) {
	p := New(model.ProviderConfig{ClientID: "client", RedirectURL: "http://localhost/cb"}, zerolog.Nop())
	u := p.AuthURL("state-1")
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "state=state-1")
	assert.Contains(t, u, "prompt=consent")
}
