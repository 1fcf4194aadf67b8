package request

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsweep/internal/apperr"
)

func TestDecodeBulkUnsubscribe(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"messageIds": ["a", "b"]}`, true},
		{"empty list", `{"messageIds": []}`, false},
		{"missing list", `{}`, false},
		{"blank id", `{"messageIds": ["a", ""]}`, false},
		{"unknown field", `{"messageIds": ["a"], "force": true}`, false},
		{"not json", `messageIds=a`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/unsubscribe/bulk", strings.NewReader(tt.body))

			var req BulkUnsubscribe
			err := Decode(r, &req)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			assert.True(t, apperr.Is(err, apperr.KindFormat))
		})
	}
}

func TestDecodeOAuthCallback(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/oauth/callback", strings.NewReader(`{"provider": "outlook", "userId": "u", "code": "c"}`))

	var req OAuthCallback
	assert.Error(t, Decode(r, &req))
}
