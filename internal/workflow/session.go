package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/spectrad/internal/checkpoint"
	"github.com/fyrsmithlabs/spectrad/internal/state"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusEnded   Status = "end"
	StatusAborted Status = "abort"
	StatusFailed  Status = "failed"
)

// Session binds a workflow state to its identity and the backend that
// persisted it last.
type Session struct {
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	State     *state.WorkflowState `json:"state"`
	Status    Status               `json:"status"`
	Backend   string               `json:"backend,omitempty"`
}

// NewSession creates a session around an initial user request.
func (e *Engine) NewSession(request string) *Session {
	st := state.NewFromRequest(request)
	id := uuid.NewString()
	st.SetMeta(metaSessionID, id)
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		State:     st,
		Status:    StatusRunning,
	}
}

// RunSession advances the session to a terminal state and refreshes its
// status and backend fields.
func (e *Engine) RunSession(ctx context.Context, s *Session) error {
	final, err := e.Run(ctx, s.State)
	s.State = final
	s.Status = statusOf(final)
	s.Backend = e.checkpoints.ActiveName(ctx)
	return err
}

// ResumeSession restores a session from its latest checkpoint. The run
// loop picks up at the stage recorded in the state's metadata.
func (e *Engine) ResumeSession(ctx context.Context, sessionID string) (*Session, error) {
	st, cp, err := e.checkpoints.Load(ctx, sessionID, "")
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        sessionID,
		CreatedAt: cp.CreatedAt,
		State:     st,
		Status:    statusOf(st),
		Backend:   cp.Metadata[checkpoint.MetaBackend],
	}, nil
}
