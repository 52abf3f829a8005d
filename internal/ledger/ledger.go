// Package ledger provides a claim store used to suppress duplicate side
// effects when several orchestrator runs race on the same record. The tracker
// annotations remain the source of truth; a ledger only narrows the window.
package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Ledger records one-shot claims on keys.
type Ledger interface {
	// Claim returns true when the caller is the first to claim key.
	Claim(ctx context.Context, key, owner string) (bool, error)
	// Release drops a claim so a later run may retry.
	Release(ctx context.Context, key string) error
	Close() error
}

// DispatchKey identifies one dispatch of a record revision.
func DispatchKey(repo, fingerprint string) string {
	return fmt.Sprintf("dispatch:%s:%s", repo, fingerprint)
}

// MergeKey identifies the completion of a merged change request.
func MergeKey(repo string, pr int) string {
	return fmt.Sprintf("merge:%s:%d", repo, pr)
}

// Nop accepts every claim.
type Nop struct{}

func (Nop) Claim(context.Context, string, string) (bool, error) { return true, nil }
func (Nop) Release(context.Context, string) error { return nil }
func (Nop) Close() error { return nil }

// Memory is an in-process ledger.
type Memory struct {
	mu     sync.Mutex
	claims map[string]string
}

// NewMemory creates an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{claims: make(map[string]string)}
}

func (m *Memory) Claim(_ context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[key]; ok {
		return false, nil
	}
	m.claims[key] = owner
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}

func (m *Memory) Close() error { return nil }

// Owner returns the owner of a claim.
func (m *Memory) Owner(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.claims[key]
	return owner, ok
}
