package util

import "strings"

// SanitizeText drops NUL and other C0 controls except tab, CR and LF.
// Postgres text columns reject NUL, which some PDF extractors emit.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case r == '\n', r == '\r', r == '\t':
			return r
		case r < 0x20:
			return -1
		default:
			return r
		}
	}, s))
}
