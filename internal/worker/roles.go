package worker

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spectrad/internal/capability"
	"github.com/fyrsmithlabs/spectrad/internal/state"
	"github.com/fyrsmithlabs/spectrad/internal/tracker"
)

// stepWorker is the shared execution model for the built-in roles. It
// invokes the current step's declared capabilities in order, falling back
// to the role's default capability when the step declares none. The plan
// cursor advances only when every invocation succeeded, so a failed step
// stays current for the critic to act on.
type stepWorker struct {
	role       string
	defaultCap string
	tracker    *tracker.Tracker
	logger     *zap.Logger
}

func newStepWorker(role, defaultCap string, tr *tracker.Tracker, logger *zap.Logger) *stepWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &stepWorker{role: role, defaultCap: defaultCap, tracker: tr, logger: logger}
}

// NewConsultant answers knowledge questions via catalog lookups.
func NewConsultant(tr *tracker.Tracker, logger *zap.Logger) Worker {
	return newStepWorker(RoleConsultant, capability.NameKnowledgeLookup, tr, logger)
}

// NewDataAnalyst runs spectrum classification work.
func NewDataAnalyst(tr *tracker.Tracker, logger *zap.Logger) Worker {
	return newStepWorker(RoleDataAnalyst, capability.NameIsotopeClassify, tr, logger)
}

// NewExpert composes analysis reports.
func NewExpert(tr *tracker.Tracker, logger *zap.Logger) Worker {
	return newStepWorker(RoleExpert, capability.NameComposeReport, tr, logger)
}

// NewToolRunner drives rendering and other side-effecting tools.
func NewToolRunner(tr *tracker.Tracker, logger *zap.Logger) Worker {
	return newStepWorker(RoleToolRunner, capability.NameRenderChart, tr, logger)
}

// NewGeneralist is the fallback for steps whose role no worker claims.
func NewGeneralist(tr *tracker.Tracker, logger *zap.Logger) Worker {
	return newStepWorker(RoleGeneralist, capability.NameKnowledgeLookup, tr, logger)
}

// RegisterBuiltins fills a set with the standard roles.
func RegisterBuiltins(s *Set, tr *tracker.Tracker, logger *zap.Logger) error {
	for _, w := range []Worker{
		NewConsultant(tr, logger),
		NewDataAnalyst(tr, logger),
		NewExpert(tr, logger),
		NewToolRunner(tr, logger),
		NewGeneralist(tr, logger),
	} {
		if err := s.Register(w); err != nil {
			return err
		}
	}
	return nil
}

func (w *stepWorker) Role() string { return w.role }

func (w *stepWorker) Execute(ctx context.Context, st *state.WorkflowState) error {
	if st.Plan == nil {
		return ErrNoPlan
	}
	step, ok := st.Plan.CurrentStep()
	if !ok {
		return ErrNoCurrentStep
	}

	names := step.Capabilities
	if len(names) == 0 {
		names = []string{w.defaultCap}
	}
	params := stepParams(st, step)

	failed := 0
	for i, name := range names {
		sub := step
		if len(names) > 1 {
			// Distinct replay keys per capability within one step.
			sub.ID = fmt.Sprintf("%s#%d", step.ID, i)
		}
		rec := w.tracker.InvokeStep(ctx, sub, name, params, st)
		if rec.Status == state.ExecFailed {
			failed++
		}
	}

	if failed == 0 {
		st.Plan.Advance()
	}
	w.logger.Debug("step executed",
		zap.String("role", w.role),
		zap.String("step_id", step.ID),
		zap.Int("capabilities", len(names)),
		zap.Int("failed", failed))
	return nil
}

// stepParams builds the invocation parameters for a step: the step
// description as the query, plus the first uploaded file when one exists.
// File keys are sorted so repeated runs pick the same file.
func stepParams(st *state.WorkflowState, step state.Step) map[string]any {
	params := map[string]any{"query": step.Description}
	if len(st.Files) > 0 {
		keys := make([]string, 0, len(st.Files))
		for k := range st.Files {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		params["file_id"] = keys[0]
	}
	return params
}
