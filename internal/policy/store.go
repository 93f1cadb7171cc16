package policy

import "context"

// Store is the per-tenant configuration store. Load returns the tenant's
// document, or DefaultDocument when none exists. Errors are reserved for
// store failures.
type Store interface {
	Load(ctx context.Context, tenantID string) (*Document, error)
}
