// Package secrets resolves credential references held in tenant policy.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound is returned when a reference resolves to nothing.
var ErrNotFound = errors.New("secret not found")

// Store resolves a credential reference to its value.
type Store interface {
	Get(ctx context.Context, ref string) (string, error)
}

// Env resolves "env:NAME" references from the process environment.
type Env struct {
	lookup func(string) (string, bool)
}

// NewEnv returns an Env reading os.LookupEnv.
func NewEnv() *Env {
	return &Env{lookup: os.LookupEnv}
}

// NewMap returns an Env resolving names from m instead of the environment.
func NewMap(m map[string]string) *Env {
	return &Env{lookup: func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}}
}

// Get implements Store.
func (e *Env) Get(_ context.Context, ref string) (string, error) {
	scheme, name, ok := strings.Cut(ref, ":")
	if !ok || scheme != "env" || name == "" {
		return "", fmt.Errorf("unsupported secret reference %q", ref)
	}
	v, ok := e.lookup(name)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}
