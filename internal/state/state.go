package state

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single entry in the conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// FileInfo describes an uploaded file referenced by the workflow.
type FileInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// ExecStatus is the outcome of a single capability invocation.
type ExecStatus string

const (
	ExecSuccess ExecStatus = "success"
	ExecFailed  ExecStatus = "failed"
)

// ExecutionRecord is an audit entry for one capability invocation.
// Records are strictly appended in invocation order and never mutated.
type ExecutionRecord struct {
	StepID     string         `json:"step_id,omitempty"`
	Capability string         `json:"capability"`
	Params     map[string]any `json:"params,omitempty"`
	Status     ExecStatus     `json:"status"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Timestamp  time.Time      `json:"timestamp"`
}

// WorkflowState is the mutable state carried through every stage.
//
// The zero value is not usable directly; call New or Normalize first.
type WorkflowState struct {
	// Messages is the ordered, append-only conversation history.
	Messages []Message `json:"messages"`

	// Files indexes uploaded files by file id.
	Files map[string]FileInfo `json:"files"`

	// Plan is the current task plan, nil until planning has run.
	Plan *TaskPlan `json:"current_plan,omitempty"`

	// Executions is the append-only capability invocation audit trail.
	Executions []ExecutionRecord `json:"executions"`

	// Meta holds arbitrary nested analysis metadata.
	Meta map[string]any `json:"meta"`

	// LastRoute is the most recent routing decision, empty before routing.
	LastRoute string `json:"last_route"`
}

// New returns an empty state satisfying the required-fields invariant.
func New() *WorkflowState {
	s := &WorkflowState{}
	s.Normalize()
	return s
}

// NewFromRequest returns a state seeded with one user message.
func NewFromRequest(request string) *WorkflowState {
	s := New()
	s.AddMessage(RoleUser, request)
	return s
}

// Normalize reinstates typed empty defaults for every required field.
// It is idempotent and safe to call on a partially populated state, such
// as one deserialized from an older checkpoint.
func (s *WorkflowState) Normalize() {
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if s.Files == nil {
		s.Files = make(map[string]FileInfo)
	}
	if s.Executions == nil {
		s.Executions = []ExecutionRecord{}
	}
	if s.Meta == nil {
		s.Meta = make(map[string]any)
	}
}

// AddMessage appends a message to the conversation history.
func (s *WorkflowState) AddMessage(role Role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// RecordExecution appends an execution record to the audit trail.
func (s *WorkflowState) RecordExecution(rec ExecutionRecord) {
	s.Executions = append(s.Executions, rec)
}

// LastUserMessage returns the content of the most recent user message.
func (s *WorkflowState) LastUserMessage() (string, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content, true
		}
	}
	return "", false
}

// LastAssistantMessage returns the content of the most recent assistant message.
func (s *WorkflowState) LastAssistantMessage() (string, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content, true
		}
	}
	return "", false
}

// SuccessRecord returns the first successful execution record for a step,
// if one exists. Used to skip re-invocation on checkpoint replay.
func (s *WorkflowState) SuccessRecord(stepID string) (*ExecutionRecord, bool) {
	if stepID == "" {
		return nil, false
	}
	for i := range s.Executions {
		if s.Executions[i].StepID == stepID && s.Executions[i].Status == ExecSuccess {
			return &s.Executions[i], true
		}
	}
	return nil, false
}

// RecentExecutions returns up to n most recent execution records, oldest first.
func (s *WorkflowState) RecentExecutions(n int) []ExecutionRecord {
	if n <= 0 || len(s.Executions) == 0 {
		return nil
	}
	if n > len(s.Executions) {
		n = len(s.Executions)
	}
	return s.Executions[len(s.Executions)-n:]
}

// SetMeta stores a metadata value under key.
func (s *WorkflowState) SetMeta(key string, value any) {
	if s.Meta == nil {
		s.Meta = make(map[string]any)
	}
	s.Meta[key] = value
}

// MetaString returns the metadata value for key as a string.
func (s *WorkflowState) MetaString(key string) (string, bool) {
	v, ok := s.Meta[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// MetaBool reports whether the metadata value for key is boolean true.
func (s *WorkflowState) MetaBool(key string) bool {
	v, ok := s.Meta[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// ConversationWindow joins the most recent n message contents into one
// newline-separated string for scoring and similarity lookups.
func (s *WorkflowState) ConversationWindow(n int) string {
	if n <= 0 || len(s.Messages) == 0 {
		return ""
	}
	if n > len(s.Messages) {
		n = len(s.Messages)
	}
	var b strings.Builder
	for _, m := range s.Messages[len(s.Messages)-n:] {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
