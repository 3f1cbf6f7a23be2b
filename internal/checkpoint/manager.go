package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spectrad/internal/metrics"
	"github.com/fyrsmithlabs/spectrad/internal/state"
)

// Manager fronts a prioritized list of checkpoint stores with sticky
// selection and transparent failover. It is safe for concurrent use by
// multiple sessions; the underlying stores pool their own connections.
type Manager struct {
	stores  []Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	probeOnce sync.Once

	mu       sync.Mutex
	active   int
	degraded bool
}

// NewManager creates a manager over stores in priority order. A MemoryStore
// is appended automatically when the list does not already end in one, so
// there is always a fallback of last resort.
func NewManager(logger *zap.Logger, m *metrics.Metrics, stores ...Store) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	hasMemory := false
	for _, s := range stores {
		if _, ok := s.(*MemoryStore); ok {
			hasMemory = true
		}
	}
	if !hasMemory {
		stores = append(stores, NewMemoryStore())
	}
	return &Manager{stores: stores, logger: logger, metrics: m}
}

// probe selects the first healthy backend. Called once per process on
// first use; HealthCheck re-runs it on demand.
func (m *Manager) probe(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.stores {
		if s.Healthy(ctx) {
			m.active = i
			m.degraded = false
			m.logger.Info("checkpoint backend selected",
				zap.String("backend", s.Name()),
				zap.Int("priority", i))
			return
		}
		m.logger.Warn("checkpoint backend unhealthy, trying next",
			zap.String("backend", s.Name()))
	}
	// Nothing healthy, keep the last store (memory) as the target; the
	// write path reports ErrPersistence if even that fails.
	m.active = len(m.stores) - 1
	m.degraded = true
}

// Active returns the currently selected backend, probing on first use.
func (m *Manager) Active(ctx context.Context) Store {
	m.probeOnce.Do(func() { m.probe(ctx) })
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores[m.active]
}

// ActiveName returns the name of the currently selected backend.
func (m *Manager) ActiveName(ctx context.Context) string {
	return m.Active(ctx).Name()
}

// Degraded reports whether the manager has fallen back from its initially
// selected backend.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// HealthCheck re-probes the full priority list and returns the name of the
// newly selected backend. This is the only path that can promote back to a
// recovered higher-priority store.
func (m *Manager) HealthCheck(ctx context.Context) string {
	m.probeOnce.Do(func() {})
	m.probe(ctx)
	return m.ActiveName(ctx)
}

// Save snapshots a workflow state for the session. The write walks the
// priority list starting at the active backend; a failed write demotes the
// backend and flags subsequent checkpoints degraded. Only when every
// backend, including memory, rejects the write does Save return an error.
func (m *Manager) Save(ctx context.Context, sessionID string, st *state.WorkflowState, meta map[string]string) (*Checkpoint, error) {
	m.probeOnce.Do(func() { m.probe(ctx) })

	blob, coerced, err := encodeState(st)
	if err != nil {
		return nil, err
	}

	cp := &Checkpoint{
		SessionID:    sessionID,
		CheckpointID: uuid.NewString(),
		State:        blob,
		Metadata:     make(map[string]string, len(meta)+3),
		CreatedAt:    time.Now(),
	}
	for k, v := range meta {
		cp.Metadata[k] = v
	}
	if len(coerced) > 0 {
		cp.Metadata[MetaCoercedFields] = strings.Join(coerced, ",")
		m.logger.Warn("non-serializable state fragments coerced to string",
			zap.String("session_id", sessionID),
			zap.Strings("fields", coerced))
	}

	m.mu.Lock()
	start := m.active
	alreadyDegraded := m.degraded
	m.mu.Unlock()

	var errs []error
	for i := start; i < len(m.stores); i++ {
		store := m.stores[i]
		cp.Metadata[MetaBackend] = store.Name()
		if alreadyDegraded || i > start {
			cp.Metadata[MetaDegraded] = "true"
		}

		if err := store.Put(ctx, cp); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
			m.metrics.ObserveCheckpointSave(store.Name(), "error")
			m.logger.Warn("checkpoint write failed, failing over",
				zap.String("backend", store.Name()),
				zap.String("session_id", sessionID),
				zap.Error(err))
			continue
		}

		m.metrics.ObserveCheckpointSave(store.Name(), "ok")
		if i > start {
			m.mu.Lock()
			m.active = i
			m.degraded = true
			m.mu.Unlock()
			m.metrics.ObserveFailover()
			m.logger.Warn("checkpoint backend demoted",
				zap.String("backend", store.Name()),
				zap.String("session_id", sessionID))
		}
		return cp, nil
	}

	m.metrics.ObserveCheckpointFailure()
	return nil, fmt.Errorf("%w: %s", ErrPersistence, errors.Join(errs...))
}

// Load reads a checkpoint and decodes its workflow state. An empty
// checkpointID selects the latest snapshot for the session.
func (m *Manager) Load(ctx context.Context, sessionID, checkpointID string) (*state.WorkflowState, *Checkpoint, error) {
	m.probeOnce.Do(func() { m.probe(ctx) })

	m.mu.Lock()
	start := m.active
	m.mu.Unlock()

	var errs []error
	for i := start; i < len(m.stores); i++ {
		cp, err := m.stores[i].Get(ctx, sessionID, checkpointID)
		if errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.stores[i].Name(), err))
			continue
		}
		st, err := decodeState(cp.State)
		if err != nil {
			return nil, nil, err
		}
		return st, cp, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrPersistence, errors.Join(errs...))
}

// List delegates to the active backend.
func (m *Manager) List(ctx context.Context, sessionID string, limit int) ([]Summary, error) {
	return m.Active(ctx).List(ctx, sessionID, limit)
}

// Delete delegates to the active backend.
func (m *Manager) Delete(ctx context.Context, sessionID, checkpointID string) (bool, error) {
	return m.Active(ctx).Delete(ctx, sessionID, checkpointID)
}

// Close closes every configured store.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
