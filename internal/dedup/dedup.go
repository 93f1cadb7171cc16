// Package dedup derives the identity label that marks the tracker issue for
// one alert and looks up previously created issues by it.
package dedup

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/tracker"
)

// IdentityLabel returns "{repo}-{type}-{number}" with whitespace replaced by
// hyphens, since tracker labels cannot contain spaces.
func IdentityLabel(repoShort string, t alert.Type, number int64) string {
	raw := repoShort + "-" + string(t) + "-" + strconv.FormatInt(number, 10)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '-'
		}
		return r
	}, raw)
}

// Finder searches the tracker for an issue carrying an identity label.
type Finder struct {
	search tracker.Searcher
	logger log.Logger
}

// NewFinder returns a Finder.
func NewFinder(s tracker.Searcher, logger log.Logger) *Finder {
	return &Finder{search: s, logger: logger}
}

// FindExisting returns the key of an issue labeled with both the alert's
// identity label and marker. A failed search is logged and reported as not
// found so issue creation is never blocked on it.
func (f *Finder) FindExisting(ctx context.Context, al *alert.Normalized, repoShort, marker string) (string, bool) {
	labels := []string{IdentityLabel(repoShort, al.Type, al.Number)}
	if marker != "" {
		labels = append(labels, marker)
	}

	keys, err := f.search.SearchByLabels(ctx, labels, 1)
	if err != nil {
		f.logger.Warn(ctx, "dedup search failed, treating as new", "labels", labels, "error", err)
		return "", false
	}
	if len(keys) == 0 {
		return "", false
	}
	return keys[0], true
}

// Claimer atomically reserves an identity so concurrent workers handling the
// same alert do not both create an issue.
type Claimer interface {
	// Claim reports whether this caller won the identity. Errors mean the
	// claim state is unknown.
	Claim(ctx context.Context, tenantID, label string) (bool, error)
	// Release drops a claim after a failed write so a retry can proceed.
	Release(ctx context.Context, tenantID, label string) error
}
