package unsubscribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsweep/internal/model"
)

func TestDetectHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"http preferred over earlier mailto", "<mailto:u@list.example>, <https://list.example/u?id=1>", "https://list.example/u?id=1", true},
		{"first http wins", "<https://a.example/u>, <https://b.example/u>", "https://a.example/u", true},
		{"mailto only", "<mailto:leave@list.example?subject=unsubscribe>", "mailto:leave@list.example?subject=unsubscribe", true},
		{"whitespace inside brackets", "< https://a.example/u >", "https://a.example/u", true},
		{"no brackets", "https://a.example/u", "", false},
		{"empty", "", "", false},
		{"unsupported scheme", "<ftp://a.example/u>", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := DetectHeader(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, d.Target)
			if ok {
				assert.Equal(t, model.UnsubscribeHeader, d.Method)
			}
		})
	}
}

func TestDetectPrefersHeader(t *testing.T) {
	body := `<a href="https://body.example/unsubscribe">Unsubscribe</a>`

	d := Detect(body, "<https://header.example/u>")
	assert.Equal(t, "https://header.example/u", d.Target)
	assert.Equal(t, model.UnsubscribeHeader, d.Method)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestDetectMalformedHeaderFallsThroughToBody(t *testing.T) {
	body := `<html><body>
		<p>Big sale this week. <a href="https://shop.example/sale">Shop now</a></p>
		<footer><a href="https://shop.example/prefs?u=42">Unsubscribe</a></footer>
	</body></html>`

	d := Detect(body, "not a uri list")
	assert.Equal(t, "https://shop.example/prefs?u=42", d.Target)
	assert.Equal(t, model.UnsubscribeLink, d.Method)
	assert.InDelta(t, 6.0/11.0, d.Confidence, 1e-9)
}

func TestDetectNone(t *testing.T) {
	d := Detect(`<p>Hello <a href="https://example.com/">there</a></p>`, "")
	assert.Equal(t, None, d)
	assert.Empty(t, d.Target)
	assert.Equal(t, model.UnsubscribeNone, d.Method)

	assert.Equal(t, None, Detect("", ""))
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want int
	}{
		{"href only", Candidate{Href: "https://x.example/unsubscribe"}, 3},
		{"text only", Candidate{Href: "https://x.example/l/1", Text: "Opt out"}, 5},
		{"attr only", Candidate{Href: "https://x.example/l/1", Attrs: "unsubscribe-link "}, 2},
		{"all signals in footer", Candidate{Href: "https://x.example/unsubscribe", Text: "Unsubscribe", Attrs: "unsubscribe", InFooter: true}, 11},
		{"footer alone", Candidate{Href: "https://x.example/about", Text: "About", InFooter: true}, 1},
		{"mailto never scores", Candidate{Href: "mailto:u@x.example", Text: "Unsubscribe"}, 0},
		{"relative href never scores", Candidate{Href: "/unsubscribe", Text: "Unsubscribe"}, 0},
		{"javascript never scores", Candidate{Href: "javascript:unsubscribe()", Text: "Unsubscribe"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.c))
		})
	}
}

func TestBestTiesGoToFirst(t *testing.T) {
	candidates := []Candidate{
		{Href: "https://x.example/a", Text: "Opt out"},
		{Href: "https://x.example/b", Text: "Unsubscribe"},
		{Href: "https://x.example/unsubscribe"},
	}
	best, score, ok := Best(candidates)
	require.True(t, ok)
	assert.Equal(t, "https://x.example/a", best.Href)
	assert.Equal(t, 5, score)
}

func TestBestIgnoresFooterOnlyLinks(t *testing.T) {
	candidates := []Candidate{
		{Href: "https://x.example/privacy", Text: "Privacy", InFooter: true},
		{Href: "https://x.example/about", Text: "About", InFooter: true},
	}
	_, _, ok := Best(candidates)
	assert.False(t, ok)

	candidates = append(candidates, Candidate{Href: "https://x.example/l/9", Text: "Opt out"})
	best, score, ok := Best(candidates)
	require.True(t, ok)
	assert.Equal(t, "https://x.example/l/9", best.Href)
	assert.Equal(t, 5, score)

	d := Detect(`<div class="footer"><a href="https://x.example/privacy">Privacy</a></div>`, "")
	assert.Equal(t, model.UnsubscribeNone, d.Method)
}

func TestBestHighestWins(t *testing.T) {
	body := `
		<a href="https://x.example/unsubscribe">here</a>
		<a class="unsub" href="https://x.example/l/2">Unsubscribe from this list</a>
		<div class="email-footer"><a href="https://x.example/l/3" style="color:grey">Unsubscribe</a></div>`

	best, score, ok := Best(ExtractCandidates(body))
	require.True(t, ok)
	assert.Equal(t, "https://x.example/l/3", best.Href)
	assert.Equal(t, 6, score)
}

func TestExtractCandidates(t *testing.T) {
	body := `<div id="footer"><p>
		<a href=" https://x.example/1 " class="btn"><img alt="Unsubscribe"></a>
	</p></div>
	<a href="https://x.example/2">  Manage
		preferences </a>`

	got := ExtractCandidates(body)
	require.Len(t, got, 2)

	assert.Equal(t, "https://x.example/1", got[0].Href)
	assert.Equal(t, "Unsubscribe", got[0].Text)
	assert.True(t, got[0].InFooter)
	assert.Contains(t, got[0].Attrs, "btn")

	assert.Equal(t, "Manage preferences", got[1].Text)
	assert.False(t, got[1].InFooter)
}
