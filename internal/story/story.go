// Package story finds the user story a change belongs to by scanning pull
// request descriptions and commit messages for tracker issue keys.
package story

import (
	"regexp"

	"github.com/linnemanlabs/warden/internal/issuekey"
)

// Resolved is a story key found in PR text. Once Verified against the tracker
// it is authoritative for the rest of a message's processing.
type Resolved struct {
	Key      string `json:"key"`
	Verified bool   `json:"verified"`
}

var (
	labeledRe   = regexp.MustCompile(`\b(?i:user\s+story|jira|story|issue)\s*:\s*\[?(` + issuekey.Pattern + `)\b`)
	bracketedRe = regexp.MustCompile(`\[(` + issuekey.Pattern + `)\]`)
	bareRe      = regexp.MustCompile(`\b(` + issuekey.Pattern + `)\b`)
)

// surface forms in precedence order
var forms = []*regexp.Regexp{labeledRe, bracketedRe, bareRe}

// denylist holds protocol, encoding and standards prefixes that match the
// key grammar but are never tracker projects, e.g. HTTP-200, UTF-8, SHA-256,
// CVE-2024, X-509, ES-2015. Short names like PR or GH are valid project keys
// and stay out.
var denylist = map[string]struct{}{
	"HTTP": {}, "UTF": {}, "SHA": {}, "MD": {}, "ISO": {}, "RFC": {},
	"TLS": {}, "SSL": {}, "CVE": {}, "CWE": {}, "GHSA": {}, "AES": {},
	"RSA": {}, "ECDSA": {}, "IPV": {}, "TCP": {}, "UDP": {}, "PEP": {},
	"JSR": {}, "ES": {}, "X": {},
}

// FindStory returns the first acceptable key in the PR description, falling
// back to the commit messages in the order given (callers pass newest first).
// It returns "" when nothing survives filtering.
func FindStory(description string, commits []string) string {
	if c := Candidates(description); len(c) > 0 {
		return c[0]
	}
	for _, msg := range commits {
		if c := Candidates(msg); len(c) > 0 {
			return c[0]
		}
	}
	return ""
}

// Candidates returns the distinct acceptable keys in text, labeled forms
// first, then bracketed, then bare occurrences.
func Candidates(text string) []string {
	if text == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, re := range forms {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			key := m[1]
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if denied(key) {
				continue
			}
			out = append(out, key)
		}
	}
	return out
}

func denied(key string) bool {
	_, ok := denylist[issuekey.Project(key)]
	return ok
}
