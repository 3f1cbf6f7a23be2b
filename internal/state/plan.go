package state

import (
	"github.com/google/uuid"
)

// TaskType classifies a task plan by the kind of work it requires.
type TaskType string

const (
	TaskConsultation   TaskType = "consultation"
	TaskDataAnalysis   TaskType = "data_analysis"
	TaskExpertAnalysis TaskType = "expert_analysis"
	TaskMultiStep      TaskType = "multi_step"
	TaskToolExecution  TaskType = "tool_execution"
)

// Priority orders plans by urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PlanStatus tracks task plan progress.
type PlanStatus string

const (
	PlanNotStarted PlanStatus = "not_started"
	PlanInProgress PlanStatus = "in_progress"
	PlanDone       PlanStatus = "done"
	PlanFailed     PlanStatus = "failed"
)

// Step is one unit of work inside a task plan, immutable once created.
type Step struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	Role           string   `json:"role"`
	Capabilities   []string `json:"capabilities,omitempty"`
	ExpectedOutput string   `json:"expected_output,omitempty"`
}

// TaskPlan is an ordered set of steps produced by the planner and consumed
// by the routing and supervision stages.
type TaskPlan struct {
	ID                string     `json:"id"`
	Type              TaskType   `json:"type"`
	Priority          Priority   `json:"priority"`
	Steps             []Step     `json:"steps"`
	RequiredSubgraphs []string   `json:"required_subgraphs,omitempty"`
	Status            PlanStatus `json:"status"`
	Cursor            int        `json:"cursor"`
}

// NewTaskPlan creates a plan in the not_started state.
func NewTaskPlan(taskType TaskType, priority Priority, steps []Step) *TaskPlan {
	return &TaskPlan{
		ID:       uuid.NewString(),
		Type:     taskType,
		Priority: priority,
		Steps:    steps,
		Status:   PlanNotStarted,
	}
}

// NewStep creates a step with a generated id.
func NewStep(description, role string, capabilities []string, expected string) Step {
	return Step{
		ID:             uuid.NewString(),
		Description:    description,
		Role:           role,
		Capabilities:   capabilities,
		ExpectedOutput: expected,
	}
}

// CurrentStep returns the step at the cursor, if the plan has work left.
func (p *TaskPlan) CurrentStep() (Step, bool) {
	if p == nil || p.Cursor < 0 || p.Cursor >= len(p.Steps) {
		return Step{}, false
	}
	return p.Steps[p.Cursor], true
}

// Advance moves the cursor past the current step and updates the plan
// status. It is a no-op on a finished plan.
func (p *TaskPlan) Advance() {
	if p == nil || p.Cursor >= len(p.Steps) {
		return
	}
	p.Cursor++
	if p.Cursor >= len(p.Steps) {
		p.Status = PlanDone
	} else {
		p.Status = PlanInProgress
	}
}

// Remaining returns the number of steps at or after the cursor.
func (p *TaskPlan) Remaining() int {
	if p == nil || p.Cursor >= len(p.Steps) {
		return 0
	}
	return len(p.Steps) - p.Cursor
}

// Fail marks the plan failed without moving the cursor.
func (p *TaskPlan) Fail() {
	if p != nil {
		p.Status = PlanFailed
	}
}
