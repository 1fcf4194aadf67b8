// Package unsubscribe finds unsubscribe targets in messages and executes
// them.
package unsubscribe

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nhle/mailsweep/internal/model"
)

// Score weights for body-tier candidates.
const (
	weightHref   = 3
	weightText   = 5
	weightAttr   = 2
	weightFooter = 1

	maxScore = weightHref + weightText + weightAttr + weightFooter
)

// Detection is the chosen unsubscribe target of a message.
type Detection struct {
	Target string
	Method model.UnsubscribeMethod

	// Confidence ranks detections from different tiers, from 0 to 1.
	Confidence float64
}

// None is the detection for a message without a target.
var None = Detection{Method: model.UnsubscribeNone}

// Candidate is an anchor element found in an HTML body.
type Candidate struct {
	Href     string
	Text     string
	Attrs    string
	InFooter bool
}

// Detect picks the unsubscribe target of a message. The List-Unsubscribe
// header wins when it carries a usable URI; otherwise the body links are
// scored.
func Detect(body, listUnsubscribe string) Detection {
	if d, ok := DetectHeader(listUnsubscribe); ok {
		return d
	}
	return DetectBody(body)
}

var headerURIPattern = regexp.MustCompile(`<([^<>]+)>`)

// DetectHeader reads an RFC 2369 List-Unsubscribe value. An HTTP(S) URI
// is preferred over a mailto URI regardless of order.
func DetectHeader(value string) (Detection, bool) {
	var mailto string
	for _, m := range headerURIPattern.FindAllStringSubmatch(value, -1) {
		uri := strings.TrimSpace(m[1])
		switch {
		case isHTTP(uri):
			return Detection{Target: uri, Method: model.UnsubscribeHeader, Confidence: 1}, true
		case mailto == "" && isMailto(uri):
			mailto = uri
		}
	}
	if mailto != "" {
		return Detection{Target: mailto, Method: model.UnsubscribeHeader, Confidence: 0.5}, true
	}
	return Detection{}, false
}

// DetectBody scores the anchors of an HTML body and returns the best one.
func DetectBody(body string) Detection {
	best, score, ok := Best(ExtractCandidates(body))
	if !ok {
		return None
	}
	return Detection{
		Target:     best.Href,
		Method:     model.UnsubscribeLink,
		Confidence: float64(score) / maxScore,
	}
}

// Score adds up the weight of every signal a candidate shows. Candidates
// without an absolute HTTP(S) href score zero.
func Score(c Candidate) int {
	if !isHTTP(c.Href) {
		return 0
	}

	score := 0
	if matchesAny(unsubscribePatterns, c.Href) {
		score += weightHref
	}
	if matchesAny(unsubscribePatterns, c.Text) {
		score += weightText
	}
	if matchesAny(unsubscribePatterns, c.Attrs) {
		score += weightAttr
	}
	if c.InFooter {
		score += weightFooter
	}
	return score
}

// qualifies reports whether c carries unsubscribe wording in its href,
// text or attributes. A footer position alone never qualifies a link.
func qualifies(c Candidate) bool {
	return isHTTP(c.Href) &&
		(matchesAny(unsubscribePatterns, c.Href) ||
			matchesAny(unsubscribePatterns, c.Text) ||
			matchesAny(unsubscribePatterns, c.Attrs))
}

// Best returns the highest scoring qualifying candidate. Ties go to the
// earliest candidate. ok is false when no candidate qualifies.
func Best(candidates []Candidate) (Candidate, int, bool) {
	type scored struct {
		c     Candidate
		score int
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if qualifies(c) {
			ranked = append(ranked, scored{c: c, score: Score(c)})
		}
	}
	if len(ranked) == 0 {
		return Candidate{}, 0, false
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked[0].c, ranked[0].score, true
}

// ExtractCandidates lists the anchors of an HTML document in document
// order.
func ExtractCandidates(body string) []Candidate {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var candidates []Candidate

	type frame struct {
		node     *html.Node
		inFooter bool
	}
	stack := []frame{{node: doc}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := top.node

		inFooter := top.inFooter || isFooter(n)

		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			candidates = append(candidates, Candidate{
				Href:     strings.TrimSpace(attr(n, "href")),
				Text:     collapse(textOf(n)),
				Attrs:    attr(n, "class") + " " + attr(n, "style"),
				InFooter: inFooter,
			})
			continue
		}

		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, frame{node: c, inFooter: inFooter})
		}
	}

	return candidates
}

var footerPattern = regexp.MustCompile(`(?i)footer`)

func isFooter(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if n.DataAtom == atom.Footer || strings.EqualFold(attr(n, "role"), "contentinfo") {
		return true
	}
	return footerPattern.MatchString(attr(n, "class")) || footerPattern.MatchString(attr(n, "id"))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// textOf concatenates the text under n, including image alt text.
func textOf(n *html.Node) string {
	var sb strings.Builder
	stack := []*html.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case cur.Type == html.TextNode:
			sb.WriteString(cur.Data)
			sb.WriteByte(' ')
		case cur.Type == html.ElementNode && cur.DataAtom == atom.Img:
			sb.WriteString(attr(cur, "alt"))
			sb.WriteByte(' ')
		}
		for c := cur.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func isMailto(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "mailto" && u.Opaque != ""
}
