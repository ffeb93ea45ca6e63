package service

import (
	"regexp"
	"strings"
)

var (
	scriptBlockRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	iframeBlockRe  = regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe\s*>`)
	handlerAttrRe  = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	strayTagRe     = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	javascriptURL  = regexp.MustCompile(`(?i)javascript\s*:`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// SanitizeBody removes markup that could execute in a viewer and normalises blank lines.
// Plain text, including angle brackets that do not form a tag, is left untouched.
func SanitizeBody(body string) string {
	out := strings.ReplaceAll(body, "\r\n", "\n")
	if strings.Contains(out, "<") {
		out = scriptBlockRe.ReplaceAllString(out, "")
		out = iframeBlockRe.ReplaceAllString(out, "")
		// unterminated tags keep their text, so drop handlers before the tag pass
		out = handlerAttrRe.ReplaceAllString(out, "")
		out = strayTagRe.ReplaceAllString(out, "")
	}
	out = javascriptURL.ReplaceAllString(out, "")
	out = excessNewlines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
