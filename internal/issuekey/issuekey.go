// Package issuekey holds the tracker issue-key grammar shared by story
// extraction, EPIC resolution and project selection.
package issuekey

import (
	"regexp"
	"strings"
)

// Pattern is the key grammar without anchors: an uppercase-led alphanumeric
// token, optional interior uppercase-led segments, and a numeric suffix.
const Pattern = `[A-Z][A-Z0-9]*(?:-[A-Z][A-Z0-9]*)*-[0-9]+`

var keyRe = regexp.MustCompile(`^` + Pattern + `$`)

// Valid reports whether s is exactly one issue key.
func Valid(s string) bool {
	return keyRe.MatchString(s)
}

// Project returns the project prefix of a key, everything before the final
// numeric suffix, or "" if key is not valid.
func Project(key string) string {
	if !Valid(key) {
		return ""
	}
	return key[:strings.LastIndexByte(key, '-')]
}
