package store

import (
	"context"
	"strings"
	"sync"
)

// Memory is a process-local Store used by tests and dry runs.
type Memory struct {
	*PendingTable

	mu          sync.Mutex
	lastID      uint64
	submissions []Submission
	index       map[string]int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{PendingTable: NewPendingTable(), index: make(map[string]int)}
}

func (m *Memory) Counter(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastID, nil
}

func (m *Memory) IncrementCounter(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastID++
	return m.lastID, nil
}

func (m *Memory) Submission(_ context.Context, identity string) (Submission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.index[identity]
	if !ok {
		return Submission{}, false, nil
	}
	return m.submissions[idx], true, nil
}

func (m *Memory) AppendSubmission(_ context.Context, sub Submission) error {
	if strings.TrimSpace(sub.Identity) == "" {
		return ErrIdentityRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[sub.Identity]; ok {
		return ErrDuplicateSubmission
	}
	m.index[sub.Identity] = len(m.submissions)
	m.submissions = append(m.submissions, sub)
	return nil
}

func (m *Memory) Submissions(context.Context) ([]Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Submission, len(m.submissions))
	copy(out, m.submissions)
	return out, nil
}

func (m *Memory) Close() error { return nil }
