// Package normalize turns provider-native messages into canonical records.
package normalize

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/source"
)

// MaxDepth bounds how deep the part tree is searched for a body.
const MaxDepth = 16

// Result is a normalized message plus the raw headers the unsubscribe
// detector needs.
type Result struct {
	Message model.Message

	// ListUnsubscribe is the raw List-Unsubscribe header, if any.
	ListUnsubscribe string

	// ListUnsubscribePost is the RFC 8058 one-click marker, if any.
	ListUnsubscribePost string

	// HTML reports whether Message.Body came from a text/html part.
	HTML bool
}

// Normalize decodes raw into a Message. It never fails: a missing or
// malformed payload yields an empty body.
func Normalize(raw *source.RawMessage) Result {
	var res Result
	if raw == nil {
		res.Message.UnsubscribeMethod = model.UnsubscribeNone
		return res
	}

	res.Message.ExternalID = raw.ID
	res.Message.UnsubscribeMethod = model.UnsubscribeNone

	var headers []source.Header
	if raw.Payload != nil {
		headers = raw.Payload.Headers
	}

	res.Message.Subject = Header(headers, "Subject")
	res.Message.Sender = Header(headers, "From")
	res.ListUnsubscribe = Header(headers, "List-Unsubscribe")
	res.ListUnsubscribePost = Header(headers, "List-Unsubscribe-Post")
	res.Message.ReceivedAt = receivedAt(raw, headers)

	body, mimeType := Body(raw.Payload)
	res.HTML = strings.EqualFold(mimeType, "text/html")
	res.Message.Body, res.Message.Truncated = Truncate(body, model.MaxBodyBytes)

	return res
}

// Header returns the value of the first header named name, compared
// case-insensitively, or "".
func Header(headers []source.Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

type frame struct {
	part  *source.Part
	depth int
}

// Body finds the message body with a depth-first search over the part
// tree. A part carrying data is used directly. Otherwise its text/html
// child wins over its text/plain child, and failing both the first
// non-empty descendant in document order is used. The MIME type of the
// chosen part is returned alongside the decoded text.
func Body(root *source.Part) (string, string) {
	if root == nil {
		return "", ""
	}

	stack := []frame{{part: root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		p := top.part

		if text := decode(p.Data); text != "" {
			return text, p.MimeType
		}

		for _, preferred := range []string{"text/html", "text/plain"} {
			for i := range p.Parts {
				child := &p.Parts[i]
				if !strings.EqualFold(child.MimeType, preferred) {
					continue
				}
				if text := decode(child.Data); text != "" {
					return text, child.MimeType
				}
			}
		}

		if top.depth >= MaxDepth {
			continue
		}
		for i := len(p.Parts) - 1; i >= 0; i-- {
			stack = append(stack, frame{part: &p.Parts[i], depth: top.depth + 1})
		}
	}

	return "", ""
}

// decode reads a base64url payload, tolerating missing padding and the
// standard alphabet. Undecodable input yields "".
func decode(data string) string {
	if data == "" {
		return ""
	}
	trimmed := strings.TrimRight(strings.TrimSpace(data), "=")

	if b, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return string(b)
	}
	if b, err := base64.RawStdEncoding.DecodeString(trimmed); err == nil {
		return string(b)
	}
	return ""
}

// Truncate cuts s to at most limit bytes without splitting a UTF-8
// sequence and reports whether anything was removed.
func Truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && cut > limit-utf8.UTFMax && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

func receivedAt(raw *source.RawMessage, headers []source.Header) time.Time {
	if !raw.InternalDate.IsZero() {
		return raw.InternalDate.UTC()
	}
	if date := Header(headers, "Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
