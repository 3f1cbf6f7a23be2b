package checkpoint

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. It is the fallback of
// last resort: always healthy, but snapshots do not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]*Checkpoint // append order = write order
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]*Checkpoint)}
}

// Name implements Store.
func (m *MemoryStore) Name() string { return "memory" }

// Put implements Store with last-writer-wins semantics.
func (m *MemoryStore) Put(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	cps := m.sessions[cp.SessionID]
	for i, existing := range cps {
		if existing.CheckpointID == cp.CheckpointID {
			// Replace in place, then move to the tail so the latest
			// write is also the latest checkpoint.
			cps = append(append(cps[:i:i], cps[i+1:]...), cp)
			m.sessions[cp.SessionID] = cps
			return nil
		}
	}
	m.sessions[cp.SessionID] = append(cps, cp)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, sessionID, checkpointID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	cps := m.sessions[sessionID]
	if len(cps) == 0 {
		return nil, ErrNotFound
	}
	if checkpointID == "" {
		return cloneCheckpoint(cps[len(cps)-1]), nil
	}
	for i := len(cps) - 1; i >= 0; i-- {
		if cps[i].CheckpointID == checkpointID {
			return cloneCheckpoint(cps[i]), nil
		}
	}
	return nil, ErrNotFound
}

// cloneCheckpoint detaches a stored checkpoint so callers cannot mutate
// the store's copy. Durable backends hand out fresh values already.
func cloneCheckpoint(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.State = append([]byte(nil), cp.State...)
	if cp.Metadata != nil {
		out.Metadata = make(map[string]string, len(cp.Metadata))
		for k, v := range cp.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, sessionID string, limit int) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	var out []Summary
	appendSession := func(cps []*Checkpoint) {
		for i := len(cps) - 1; i >= 0; i-- {
			cp := cps[i]
			out = append(out, Summary{
				SessionID:    cp.SessionID,
				CheckpointID: cp.CheckpointID,
				CreatedAt:    cp.CreatedAt,
				Size:         len(cp.State),
			})
		}
	}

	if sessionID != "" {
		appendSession(m.sessions[sessionID])
	} else {
		for _, cps := range m.sessions {
			appendSession(cps)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, sessionID, checkpointID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}

	cps, ok := m.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if checkpointID == "" {
		delete(m.sessions, sessionID)
		return len(cps) > 0, nil
	}
	for i, cp := range cps {
		if cp.CheckpointID == checkpointID {
			m.sessions[sessionID] = append(cps[:i:i], cps[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Healthy implements Store; the in-memory store is healthy until closed.
func (m *MemoryStore) Healthy(_ context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = make(map[string][]*Checkpoint)
	return nil
}
