package normalize

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/source"
)

func enc(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestHeaderIsCaseInsensitiveFirstMatch(t *testing.T) {
	headers := []source.Header{
		{Name: "subject", Value: "first"},
		{Name: "SUBJECT", Value: "second"},
	}
	assert.Equal(t, "first", Header(headers, "Subject"))
	assert.Equal(t, "", Header(headers, "From"))
}

func TestBodyPrefersHTML(t *testing.T) {
	root := &source.Part{
		MimeType: "multipart/alternative",
		Parts: []source.Part{
			{MimeType: "text/plain", Data: enc("plain")},
			{MimeType: "text/html", Data: enc("<b>html</b>")},
		},
	}
	body, mimeType := Body(root)
	assert.Equal(t, "<b>html</b>", body)
	assert.Equal(t, "text/html", mimeType)
}

func TestBodyFallsBackToPlain(t *testing.T) {
	root := &source.Part{
		MimeType: "multipart/alternative",
		Parts: []source.Part{
			{MimeType: "text/html"},
			{MimeType: "text/plain", Data: enc("plain")},
		},
	}
	body, _ := Body(root)
	assert.Equal(t, "plain", body)
}

func TestBodySearchesNestedParts(t *testing.T) {
	root := &source.Part{
		MimeType: "multipart/mixed",
		Parts: []source.Part{
			{
				MimeType: "multipart/related",
				Parts: []source.Part{
					{
						MimeType: "multipart/alternative",
						Parts: []source.Part{
							{MimeType: "text/plain", Data: enc("deep plain")},
							{MimeType: "text/html", Data: enc("deep html")},
						},
					},
				},
			},
			{MimeType: "application/pdf", Data: enc("%PDF")},
		},
	}
	body, _ := Body(root)
	assert.Equal(t, "deep html", body)
}

func TestBodyFirstNonEmptyWhenNoTextParts(t *testing.T) {
	root := &source.Part{
		MimeType: "multipart/mixed",
		Parts: []source.Part{
			{MimeType: "application/octet-stream"},
			{MimeType: "application/json", Data: enc(`{"a":1}`)},
			{MimeType: "application/xml", Data: enc("<a/>")},
		},
	}
	body, mimeType := Body(root)
	assert.Equal(t, `{"a":1}`, body)
	assert.Equal(t, "application/json", mimeType)
}

func TestBodyDepthIsCapped(t *testing.T) {
	leaf := source.Part{MimeType: "application/octet-stream", Data: enc("too deep")}
	for i := 0; i < MaxDepth+5; i++ {
		leaf = source.Part{MimeType: "multipart/mixed", Parts: []source.Part{leaf}}
	}
	body, _ := Body(&leaf)
	assert.Empty(t, body)
}

func TestBodyAcceptsUnpaddedAndStandardBase64(t *testing.T) {
	unpadded := base64.RawURLEncoding.EncodeToString([]byte("hi?>"))
	body, _ := Body(&source.Part{MimeType: "text/plain", Data: unpadded})
	assert.Equal(t, "hi?>", body)

	std := base64.StdEncoding.EncodeToString([]byte("??>>"))
	body, _ = Body(&source.Part{MimeType: "text/plain", Data: std})
	assert.Equal(t, "??>>", body)
}

func TestNormalizeMalformedPayloadYieldsEmptyBody(t *testing.T) {
	tests := []struct {
		name string
		raw  *source.RawMessage
	}{
		{"nil message", nil},
		{"nil payload", &source.RawMessage{ID: "x"}},
		{"undecodable data", &source.RawMessage{ID: "x", Payload: &source.Part{MimeType: "text/plain", Data: "!!!not base64!!!"}}},
		{"empty multipart", &source.RawMessage{ID: "x", Payload: &source.Part{MimeType: "multipart/mixed"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize(tt.raw)
			assert.Empty(t, res.Message.Body)
			assert.False(t, res.Message.Truncated)
			assert.Equal(t, model.UnsubscribeNone, res.Message.UnsubscribeMethod)
		})
	}
}

func TestNormalizeTruncation(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		wantLen   int
		truncated bool
	}{
		{"oversized", 60000, model.MaxBodyBytes, true},
		{"small", 1000, 1000, false},
		{"exactly at cap", model.MaxBodyBytes, model.MaxBodyBytes, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Repeat("a", tt.size)
			raw := &source.RawMessage{ID: "m", Payload: &source.Part{MimeType: "text/plain", Data: enc(body)}}

			first := Normalize(raw)
			assert.Len(t, first.Message.Body, tt.wantLen)
			assert.Equal(t, tt.truncated, first.Message.Truncated)
			if !tt.truncated {
				assert.Equal(t, body, first.Message.Body)
			}

			second := Normalize(raw)
			assert.Equal(t, first.Message.Truncated, second.Message.Truncated)
			assert.Equal(t, first.Message.Body, second.Message.Body)
		})
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 10) // 20 bytes
	out, truncated := Truncate(s, 5)
	assert.True(t, truncated)
	assert.Equal(t, "éé", out)
}

func TestNormalizeExtractsFields(t *testing.T) {
	received := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	raw := &source.RawMessage{
		ID:           "ext-1",
		InternalDate: received,
		Payload: &source.Part{
			MimeType: "multipart/alternative",
			Headers: []source.Header{
				{Name: "From", Value: "Shop <deals@shop.example>"},
				{Name: "Subject", Value: "50% off"},
				{Name: "list-unsubscribe", Value: "<mailto:u@shop.example>, <https://shop.example/u>"},
				{Name: "List-Unsubscribe-Post", Value: "List-Unsubscribe=One-Click"},
			},
			Parts: []source.Part{
				{MimeType: "text/html", Data: enc("<p>deal</p>")},
			},
		},
	}

	res := Normalize(raw)
	require.Equal(t, "ext-1", res.Message.ExternalID)
	assert.Equal(t, "50% off", res.Message.Subject)
	assert.Equal(t, "Shop <deals@shop.example>", res.Message.Sender)
	assert.Equal(t, "<p>deal</p>", res.Message.Body)
	assert.True(t, res.HTML)
	assert.Equal(t, received, res.Message.ReceivedAt)
	assert.Equal(t, "<mailto:u@shop.example>, <https://shop.example/u>", res.ListUnsubscribe)
	assert.Equal(t, "List-Unsubscribe=One-Click", res.ListUnsubscribePost)
}

func TestNormalizeFallsBackToDateHeader(t *testing.T) {
	raw := &source.RawMessage{
		ID: "ext-2",
		Payload: &source.Part{
			MimeType: "text/plain",
			Headers:  []source.Header{{Name: "Date", Value: "Wed, 01 May 2024 09:30:00 +0200"}},
			Data:     enc("x"),
		},
	}
	res := Normalize(raw)
	assert.Equal(t, time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC), res.Message.ReceivedAt)
}
