package epic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/tracker"
)

type mockReader struct {
	mu     sync.Mutex
	issues map[string]*tracker.Issue
	errs   map[string]error
	reads  []string
}

func (m *mockReader) GetIssue(_ context.Context, key string) (*tracker.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, key)
	if err := m.errs[key]; err != nil {
		return nil, err
	}
	is, ok := m.issues[key]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	return is, nil
}

func chain() *mockReader {
	return &mockReader{issues: map[string]*tracker.Issue{
		"AUTH-100": {Key: "AUTH-100", Type: "Story", ParentKey: "AUTH-50"},
		"AUTH-50":  {Key: "AUTH-50", Type: "Feature", ParentKey: "AUTH-10"},
		"AUTH-10":  {Key: "AUTH-10", Type: "Epic"},
		"LONE-1":   {Key: "LONE-1", Type: "Task"},
	}}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		key      string
		accepted []string
		traverse bool
		want     string
	}{
		{"walks to epic", "AUTH-100", []string{"Epic"}, true, "AUTH-10"},
		{"already accepted", "AUTH-10", []string{"Epic"}, true, "AUTH-10"},
		{"accepted mid chain", "AUTH-100", []string{"feature"}, true, "AUTH-50"},
		{"traversal disabled", "AUTH-100", []string{"Epic"}, false, "AUTH-100"},
		{"leaf without parent", "LONE-1", []string{"Epic"}, true, "LONE-1"},
		{"invalid key", "not-a-key", []string{"Epic"}, true, "not-a-key"},
		{"missing issue", "GONE-1", []string{"Epic"}, true, "GONE-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewResolver(chain(), log.Nop())
			if got := r.Resolve(context.Background(), tt.key, tt.accepted, tt.traverse); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestResolve_InvalidKeyMakesNoReads(t *testing.T) {
	t.Parallel()

	m := chain()
	NewResolver(m, log.Nop()).Resolve(context.Background(), "lower-1", []string{"Epic"}, true)
	if len(m.reads) != 0 {
		t.Errorf("reads = %v, want none", m.reads)
	}
}

func TestResolve_CycleTerminates(t *testing.T) {
	t.Parallel()

	m := &mockReader{issues: map[string]*tracker.Issue{
		"CYC-1": {Key: "CYC-1", Type: "Story", ParentKey: "CYC-2"},
		"CYC-2": {Key: "CYC-2", Type: "Story", ParentKey: "CYC-1"},
	}}
	got := NewResolver(m, log.Nop()).Resolve(context.Background(), "CYC-1", []string{"Epic"}, true)

	// each key in the loop is read once
	if len(m.reads) != 2 {
		t.Errorf("reads = %v, want 2", m.reads)
	}
	if got != "CYC-2" {
		t.Errorf("Resolve = %q, want CYC-2", got)
	}
}

func TestResolve_SelfParentStopsAfterOneRead(t *testing.T) {
	t.Parallel()

	m := &mockReader{issues: map[string]*tracker.Issue{
		"SELF-1": {Key: "SELF-1", Type: "Story", ParentKey: "SELF-1"},
	}}
	got := NewResolver(m, log.Nop()).Resolve(context.Background(), "SELF-1", []string{"Epic"}, true)

	if len(m.reads) != 1 || got != "SELF-1" {
		t.Errorf("Resolve = %q after reads %v, want SELF-1 after one read", got, m.reads)
	}
}

func TestResolve_ReadErrorReturnsCurrentKey(t *testing.T) {
	t.Parallel()

	m := chain()
	m.errs = map[string]error{"AUTH-50": errors.New("connection reset")}

	got := NewResolver(m, log.Nop()).Resolve(context.Background(), "AUTH-100", []string{"Epic"}, true)
	if got != "AUTH-50" {
		t.Errorf("Resolve = %q, want AUTH-50", got)
	}
}
