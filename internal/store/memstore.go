package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pitchside-ai/pitchside/internal/conversation"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store for tests and single-process dev mode.
// Safe for concurrent use.
type MemStore struct {
	mu   sync.RWMutex
	recs map[string]conversation.Record
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{recs: make(map[string]conversation.Record)}
}

// Archive implements [conversation.Archiver]. Re-archiving a session id is
// rejected; archived records are never updated.
func (m *MemStore) Archive(_ context.Context, rec conversation.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.SessionID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, rec.SessionID)
	}
	m.recs[rec.SessionID] = rec
	return nil
}

// ListSessions implements [Store].
func (m *MemStore) ListSessions(_ context.Context, userID string, window Window) ([]conversation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []conversation.Record
	for _, rec := range m.recs {
		if rec.UserID != userID {
			continue
		}
		if !window.Contains(rec.EndedAt) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.Before(out[j].EndedAt) })
	return out, nil
}

// Len returns the number of archived sessions.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}
