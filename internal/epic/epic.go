// Package epic walks a tracker issue's parent chain to find an ancestor of
// an accepted type, such as an Epic, to anchor a security issue to.
package epic

import (
	"context"
	"slices"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/issuekey"
	"github.com/linnemanlabs/warden/internal/tracker"
)

// MaxDepth bounds the parent walk. Keys reached at this depth are returned
// without being read.
const MaxDepth = 5

// Resolver resolves issue keys against a tracker.
type Resolver struct {
	reader tracker.Reader
	logger log.Logger
}

// NewResolver returns a Resolver reading through r.
func NewResolver(r tracker.Reader, logger log.Logger) *Resolver {
	return &Resolver{reader: r, logger: logger}
}

// Resolve returns the first key in the chain starting at key whose type is in
// accepted. Walking stops, returning the current key, when traversal is
// disabled, the issue has no parent, the key is malformed, the parent was
// already visited, the depth bound is reached, or a read fails. Resolve
// never fails.
func (r *Resolver) Resolve(ctx context.Context, key string, accepted []string, traverse bool) string {
	cur := key
	seen := make(map[string]struct{}, MaxDepth)
	for depth := 0; depth < MaxDepth; depth++ {
		seen[cur] = struct{}{}
		if !issuekey.Valid(cur) {
			return cur
		}

		is, err := r.reader.GetIssue(ctx, cur)
		if err != nil {
			r.logger.Warn(ctx, "epic resolution read failed", "key", cur, "depth", depth, "error", err)
			return cur
		}

		if typeAccepted(is.Type, accepted) {
			return cur
		}
		if !traverse || is.ParentKey == "" {
			return cur
		}
		if _, loop := seen[is.ParentKey]; loop {
			r.logger.Warn(ctx, "epic resolution cycle", "start", key, "key", cur, "parent", is.ParentKey)
			return cur
		}
		cur = is.ParentKey
	}
	r.logger.Warn(ctx, "epic resolution depth limit reached", "start", key, "key", cur, "max_depth", MaxDepth)
	return cur
}

func typeAccepted(t string, accepted []string) bool {
	return slices.ContainsFunc(accepted, func(a string) bool { return strings.EqualFold(a, t) })
}
