package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/nhle/mailsweep/internal/source"
)

const (
	// maxPartDepth caps multipart nesting.
	maxPartDepth = 32

	// maxPartBytes bounds how much of a single leaf part is read.
	maxPartBytes = 10 << 20
)

// parseMIME parses a raw RFC 5322 message into the provider-neutral part
// tree. Leaf payloads are decoded from their transfer encoding and
// re-encoded as base64url. A message that cannot be parsed at all yields
// nil.
func parseMIME(raw []byte) *source.Part {
	if len(raw) == 0 {
		return nil
	}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil
	}

	part := entityToPart(entity, 0)
	return &part
}

func entityToPart(e *message.Entity, depth int) source.Part {
	mediaType, _, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	part := source.Part{
		MimeType: mediaType,
		Headers:  headersOf(e.Header),
	}

	mr := e.MultipartReader()
	if mr == nil {
		body, _ := io.ReadAll(io.LimitReader(e.Body, maxPartBytes))
		if len(body) > 0 {
			part.Data = base64.URLEncoding.EncodeToString(body)
		}
		return part
	}
	defer mr.Close()

	if depth >= maxPartDepth {
		return part
	}

	for {
		child, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			break
		}
		if child == nil {
			break
		}
		part.Parts = append(part.Parts, entityToPart(child, depth+1))
	}
	return part
}

func headersOf(h message.Header) []source.Header {
	var headers []source.Header
	fields := h.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		headers = append(headers, source.Header{Name: fields.Key(), Value: value})
	}
	return headers
}
