package util

import (
	"strings"
	"unicode"
)

const defaultSnippetRunes = 420

// DisplaySnippet renders extracted text for log lines and CLI output: controls
// are dropped, glued camel-case words are split, whitespace collapses, and
// the result is cut to maxRunes with a trailing ellipsis.
func DisplaySnippet(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultSnippetRunes
	}
	var b strings.Builder
	var prev rune
	for _, r := range SanitizeText(s) {
		if unicode.IsSpace(r) {
			r = ' '
		} else if !unicode.IsPrint(r) || !(unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsPunct(r)) {
			continue
		}
		if r == ' ' && (prev == ' ' || prev == 0) {
			continue
		}
		if unicode.IsLower(prev) && unicode.IsUpper(r) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	out := []rune(strings.TrimSpace(b.String()))
	if len(out) <= maxRunes {
		return string(out)
	}
	return strings.TrimSpace(string(out[:maxRunes])) + "..."
}
