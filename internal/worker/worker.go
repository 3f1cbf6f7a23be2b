// Package worker defines the execution roles that carry out plan steps.
// Workers are registered statically in a Set before the workflow starts;
// the routing stage resolves a step's declared role to a worker, falling
// back to the generalist when the role is unknown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/spectrad/internal/state"
)

// Built-in role names. Plans reference roles by these strings.
const (
	RoleConsultant  = "consultant"
	RoleDataAnalyst = "data_analyst"
	RoleExpert      = "expert"
	RoleToolRunner  = "tool_runner"
	RoleGeneralist  = "generalist"
)

var (
	ErrNoPlan        = errors.New("worker: state has no task plan")
	ErrNoCurrentStep = errors.New("worker: plan has no current step")
	ErrDuplicateRole = errors.New("worker: role already registered")
	ErrNoFallback    = errors.New("worker: no generalist registered for fallback")
)

// Worker executes the current plan step against the workflow state.
// Capability failures are captured in execution records, not returned;
// Execute errors only on structural problems such as a missing plan.
type Worker interface {
	Role() string
	Execute(ctx context.Context, st *state.WorkflowState) error
}

// Set is an ordered, read-mostly collection of workers keyed by role.
// Registration happens at startup; resolution is concurrency-safe.
type Set struct {
	mu      sync.RWMutex
	workers map[string]Worker
	order   []string
}

// NewSet returns an empty worker set.
func NewSet() *Set {
	return &Set{workers: make(map[string]Worker)}
}

// Register adds a worker. Roles are unique; re-registering is an error.
func (s *Set) Register(w Worker) error {
	if w == nil || w.Role() == "" {
		return errors.New("worker: nil worker or empty role")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[w.Role()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRole, w.Role())
	}
	s.workers[w.Role()] = w
	s.order = append(s.order, w.Role())
	return nil
}

// Resolve returns the worker for a role. Unknown roles resolve to the
// generalist; the second return reports whether the match was exact.
func (s *Set) Resolve(role string) (Worker, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.workers[role]; ok {
		return w, true, nil
	}
	if w, ok := s.workers[RoleGeneralist]; ok {
		return w, false, nil
	}
	return nil, false, fmt.Errorf("%w (role %q)", ErrNoFallback, role)
}

// Roles lists registered roles in registration order.
func (s *Set) Roles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
