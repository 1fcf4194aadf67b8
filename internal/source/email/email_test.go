package email

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/source"
)

func TestIDRoundTrip(t *testing.T) {
	id := formatID(1700000000, imap.UID(42))
	assert.Equal(t, "imap:1700000000:42", id)

	validity, uid, err := parseID(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(1700000000), validity)
	assert.Equal(t, imap.UID(42), uid)
}

func TestParseIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "42", "imap:", "imap:1", "imap:x:1", "imap:1:0", "gmail:1:2"} {
		_, _, err := parseID(id)
		assert.True(t, apperr.Is(err, apperr.KindFormat), id)
	}
}

const multipartMessage = "From: News <news@example.com>\r\n" +
	"Subject: =?utf-8?q?Caf=C3=A9_weekly?=\r\n" +
	"List-Unsubscribe: <https://example.com/u?id=1>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=b1\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"plain body\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"PHA+aHRtbCBib2R5PC9wPg==\r\n" +
	"--b1--\r\n"

func TestParseMIME(t *testing.T) {
	part := parseMIME([]byte(multipartMessage))
	require.NotNil(t, part)

	assert.Equal(t, "multipart/alternative", part.MimeType)
	assert.Contains(t, part.Headers, source.Header{Name: "Subject", Value: "Café weekly"})
	require.Len(t, part.Parts, 2)

	assert.Equal(t, "text/plain", part.Parts[0].MimeType)
	html := part.Parts[1]
	assert.Equal(t, "text/html", html.MimeType)

	decoded, err := base64.URLEncoding.DecodeString(html.Data)
	require.NoError(t, err)
	assert.Equal(t, "<p>html body</p>", string(decoded))
}

func TestParseMIMEEmpty(t *testing.T) {
	assert.Nil(t, parseMIME(nil))
}

func TestParseMIMESinglePart(t *testing.T) {
	part := parseMIME([]byte("Subject: hi\r\n\r\njust text"))
	require.NotNil(t, part)
	assert.Equal(t, "text/plain", part.MimeType)
	decoded, err := base64.URLEncoding.DecodeString(part.Data)
	require.NoError(t, err)
	assert.Equal(t, "just text", string(decoded))
}

func TestExchangeReadsEmailFromIDToken(t *testing.T) {
	claims, _ := json.Marshal(map[string]string{"email": "me@example.org"})
	idToken := "e30." + base64.RawURLEncoding.EncodeToString(claims) + ".sig"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at",
			"refresh_token": "rt",
			"id_token":      idToken,
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	p := NewProvider(model.ProviderConfig{
		Kind:     "imap",
		IMAPHost: "imap.example.org",
		IMAPPort: 993,
		AuthURL:  srv.URL + "/auth",
		TokenURL: srv.URL + "/token",
	}, srv.Client())

	tok, email, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "me@example.org", email)
	assert.Equal(t, "rt", tok.RefreshToken)

	assert.True(t, strings.HasPrefix(p.AuthURL("s"), srv.URL+"/auth"))
}
