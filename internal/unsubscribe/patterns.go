package unsubscribe

import "regexp"

// unsubscribePatterns match unsubscribe-style wording in hrefs, link text,
// attributes and clickable elements. Order is significant: it is the
// order in which the browser tier looks for something to click.
var unsubscribePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)unsubscribe`),
	regexp.MustCompile(`(?i)opt[\s_-]?out`),
	regexp.MustCompile(`(?i)cancel[\s_-]?(my[\s_-]?)?subscription`),
	regexp.MustCompile(`(?i)\bremove\b`),
	regexp.MustCompile(`(?i)\bstop\b`),
	regexp.MustCompile(`(?i)(email|subscription|mailing)[\s_-]?preferences`),
}

// confirmationPatterns recognize a page that confirms the unsubscribe.
var confirmationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunsubscribed\b`),
	regexp.MustCompile(`(?i)successfully\s+(been\s+)?removed`),
	regexp.MustCompile(`(?i)preferences\s+(have\s+been\s+|were\s+)?(updated|saved)`),
	regexp.MustCompile(`(?i)(you|you've|you\s+have)\s+(been\s+|now\s+been\s+)?(removed|opted\s+out)`),
	regexp.MustCompile(`(?i)(will\s+)?no\s+longer\s+(receive|get)`),
	regexp.MustCompile(`(?i)subscription\s+(has\s+been\s+)?cancell?ed`),
	regexp.MustCompile(`(?i)removed\s+from\s+(our|the|this)\s+(mailing\s+)?list`),
}

// blockerPatterns recognize pages that need a human.
var blockerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(re|h)?captcha`),
	regexp.MustCompile(`(?i)i'?m\s+not\s+a\s+robot`),
	regexp.MustCompile(`(?i)verify\s+(that\s+)?you\s+are\s+(a\s+)?human`),
	regexp.MustCompile(`(?i)checking\s+your\s+browser`),
	regexp.MustCompile(`(?i)(please\s+)?(log|sign)\s+in\s+to\s+(continue|manage|your)`),
	regexp.MustCompile(`(?i)login\s+required`),
	regexp.MustCompile(`(?i)verification\s+code`),
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	return firstMatch(patterns, s) != ""
}

// firstMatch returns the text matched by the first matching pattern.
func firstMatch(patterns []*regexp.Regexp, s string) string {
	if s == "" {
		return ""
	}
	for _, p := range patterns {
		if m := p.FindString(s); m != "" {
			return m
		}
	}
	return ""
}
