package unsubscribe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jaytaylor/html2text"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/queue"
)

// userAgent is sent by both tiers.
const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// maxTier1Body bounds how much of a response is scanned.
const maxTier1Body = 1 << 20

// Tier1 makes the direct unsubscribe request.
type Tier1 interface {
	Attempt(ctx context.Context, target string) Tier1Result
}

// HTTPTier1 issues a single GET through the shared queue and looks for a
// confirmation phrase in the response.
type HTTPTier1 struct {
	client  *http.Client
	queue   *queue.Queue
	timeout time.Duration
}

// NewHTTPTier1 creates a Tier1. client may be nil.
func NewHTTPTier1(client *http.Client, q *queue.Queue, timeout time.Duration) *HTTPTier1 {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTier1{client: client, queue: q, timeout: timeout}
}

func (t *HTTPTier1) Attempt(ctx context.Context, target string) Tier1Result {
	var status int
	var body []byte

	err := t.queue.Do(ctx, "unsubscribe.tier1", queue.Once, func(ctx context.Context) error {
		if t.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.timeout)
			defer cancel()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return apperr.Wrap(apperr.KindFormat, "unsubscribe.tier1", "building request", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := t.client.Do(req)
		if err != nil {
			return apperr.Wrap(apperr.KindTransient, "unsubscribe.tier1", "request failed", err)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxTier1Body))
		if err != nil {
			return apperr.Wrap(apperr.KindTransient, "unsubscribe.tier1", "reading response", err)
		}
		return nil
	})
	if err != nil {
		return Tier1Result{Outcome: Tier1NetworkError, Err: err}
	}

	if status < 200 || status > 299 {
		return Tier1Result{
			Outcome: Tier1HTTPError,
			Status:  status,
			Err:     fmt.Errorf("unsubscribe endpoint returned HTTP %d", status),
		}
	}
	if matchesAny(confirmationPatterns, visibleText(string(body))) {
		return Tier1Result{Outcome: Tier1Confirmed, Status: status}
	}
	return Tier1Result{Outcome: Tier1Inconclusive, Status: status}
}

// visibleText renders an HTML response to the text a reader would see.
// Markup that cannot be parsed is scanned as is.
func visibleText(body string) string {
	text, err := html2text.FromString(body, html2text.Options{TextOnly: true})
	if err != nil {
		return body
	}
	return text
}
