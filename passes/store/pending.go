package store

import (
	"context"
	"strings"
	"sync"
)

// PendingTable holds in-flight flows in process memory. Its contents do not
// survive a restart; every driver embeds one.
type PendingTable struct {
	mu      sync.RWMutex
	entries map[string]Pending
}

// NewPendingTable returns an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[string]Pending)}
}

func (t *PendingTable) Pending(_ context.Context, identity string) (Pending, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pending, ok := t.entries[identity]
	return pending, ok, nil
}

func (t *PendingTable) SetPending(_ context.Context, pending Pending) error {
	if strings.TrimSpace(pending.Identity) == "" {
		return ErrIdentityRequired
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[pending.Identity] = pending
	return nil
}

func (t *PendingTable) ClearPending(_ context.Context, identity string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, identity)
	return nil
}
