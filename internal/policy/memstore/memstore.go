// Package memstore provides an in-memory implementation of policy.Store.
package memstore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/warden/internal/policy"
)

// Store holds tenant policy documents in memory. Suitable for dev/testing
// and single-tenant installs configured from a file.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*policy.Document // tenant ID -> document
}

// New initializes an empty Store.
func New() *Store {
	return &Store{docs: make(map[string]*policy.Document)}
}

// fileFormat is the on-disk layout of a policy seed file.
type fileFormat struct {
	Tenants []policy.Document `yaml:"tenants"`
}

// LoadFile reads a YAML policy file into a new Store. Tenant defaults in the
// file are layered over the built-in defaults, so a file only needs to name
// what it changes.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator configuration
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Store from YAML policy file contents.
func Parse(data []byte) (*Store, error) {
	var raw struct {
		Tenants []yaml.Node `yaml:"tenants"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	s := New()
	for i := range raw.Tenants {
		var id struct {
			TenantID string `yaml:"tenant_id"`
		}
		if err := raw.Tenants[i].Decode(&id); err != nil {
			return nil, fmt.Errorf("tenant %d: %w", i, err)
		}
		if id.TenantID == "" {
			return nil, fmt.Errorf("tenant %d: tenant_id is required", i)
		}

		// decode over the built-in defaults so omitted fields keep them
		doc := policy.DefaultDocument(id.TenantID)
		if err := raw.Tenants[i].Decode(doc); err != nil {
			return nil, fmt.Errorf("tenant %q: %w", id.TenantID, err)
		}
		doc.Defaults.TenantID = id.TenantID
		s.Put(doc)
	}
	return s, nil
}

// Load returns a copy of the tenant's document, or the built-in defaults.
func (s *Store) Load(_ context.Context, tenantID string) (*policy.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[tenantID]
	if !ok {
		return policy.DefaultDocument(tenantID), nil
	}
	cp := *d
	return &cp, nil
}

// Put stores a copy of the document.
func (s *Store) Put(d *policy.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.docs[d.TenantID] = &cp
}
