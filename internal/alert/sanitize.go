package alert

import (
	"strings"
	"unicode"
)

const (
	maxShortLen = 255
	maxLongLen  = 4000
)

// sanitizeShort cleans single-line fields such as ids, paths and titles.
func sanitizeShort(s string) string {
	return sanitize(s, maxShortLen, false)
}

// sanitizeLong cleans free text, keeping newlines and tabs.
func sanitizeLong(s string) string {
	return sanitize(s, maxLongLen, true)
}

func sanitize(s string, limit int, multiline bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == unicode.ReplacementChar {
			continue
		}
		if unicode.IsControl(r) {
			if multiline && (r == '\n' || r == '\t') {
				b.WriteRune(r)
				continue
			}
			if r == '\n' || r == '\r' || r == '\t' {
				b.WriteRune(' ')
			}
			continue
		}
		b.WriteRune(r)
	}
	return truncateRunes(strings.TrimSpace(b.String()), limit)
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return s
}
