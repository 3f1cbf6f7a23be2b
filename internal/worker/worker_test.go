package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spectrad/internal/capability"
	"github.com/fyrsmithlabs/spectrad/internal/state"
	"github.com/fyrsmithlabs/spectrad/internal/tracker"
)

func testTracker(t *testing.T, extra ...*capability.Capability) *tracker.Tracker {
	t.Helper()
	reg := capability.NewRegistry()
	require.NoError(t, capability.RegisterBuiltins(reg))
	for _, c := range extra {
		require.NoError(t, reg.Register(c))
	}
	return tracker.New(reg, zap.NewNop(), tracker.DefaultRetryPolicy())
}

func planWithStep(step state.Step) *state.TaskPlan {
	return state.NewTaskPlan(state.TaskDataAnalysis, state.PriorityMedium, []state.Step{step})
}

func TestSetResolve(t *testing.T) {
	s := NewSet()
	tr := testTracker(t)
	require.NoError(t, RegisterBuiltins(s, tr, zap.NewNop()))

	w, exact, err := s.Resolve(RoleDataAnalyst)
	require.NoError(t, err)
	assert.True(t, exact)
	assert.Equal(t, RoleDataAnalyst, w.Role())

	w, exact, err = s.Resolve("quantum_sommelier")
	require.NoError(t, err)
	assert.False(t, exact)
	assert.Equal(t, RoleGeneralist, w.Role())

	assert.Equal(t, []string{
		RoleConsultant, RoleDataAnalyst, RoleExpert, RoleToolRunner, RoleGeneralist,
	}, s.Roles())
}

func TestSetResolveNoFallback(t *testing.T) {
	s := NewSet()
	tr := testTracker(t)
	require.NoError(t, s.Register(NewExpert(tr, nil)))

	_, _, err := s.Resolve("unknown")
	assert.ErrorIs(t, err, ErrNoFallback)
}

func TestSetRegisterDuplicate(t *testing.T) {
	s := NewSet()
	tr := testTracker(t)
	require.NoError(t, s.Register(NewExpert(tr, nil)))
	assert.ErrorIs(t, s.Register(NewExpert(tr, nil)), ErrDuplicateRole)
}

func TestExecuteAdvancesOnSuccess(t *testing.T) {
	tr := testTracker(t)
	w := NewDataAnalyst(tr, zap.NewNop())

	st := state.NewFromRequest("classify the peaks")
	step := state.NewStep("classify the peaks", RoleDataAnalyst,
		[]string{capability.NameIsotopeClassify}, "isotope list")
	st.Plan = planWithStep(step)

	require.NoError(t, w.Execute(context.Background(), st))
	assert.Equal(t, 0, st.Plan.Remaining())
	assert.Equal(t, state.PlanDone, st.Plan.Status)
	require.Len(t, st.Executions, 1)
	assert.Equal(t, state.ExecSuccess, st.Executions[0].Status)
	assert.Equal(t, step.ID, st.Executions[0].StepID)
}

func TestExecuteUsesDefaultCapability(t *testing.T) {
	tr := testTracker(t)
	w := NewConsultant(tr, zap.NewNop())

	st := state.NewFromRequest("what is the half-life of Cs-137")
	st.Plan = planWithStep(state.NewStep("what is the half-life of Cs-137",
		RoleConsultant, nil, "an answer"))

	require.NoError(t, w.Execute(context.Background(), st))
	require.Len(t, st.Executions, 1)
	assert.Equal(t, capability.NameKnowledgeLookup, st.Executions[0].Capability)
}

func TestExecuteFailureKeepsCursor(t *testing.T) {
	boom := &capability.Capability{
		Name:        "always_fails",
		Type:        capability.TypeTool,
		Description: "test-only failing capability",
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	}
	tr := testTracker(t, boom)
	w := NewToolRunner(tr, zap.NewNop())

	st := state.NewFromRequest("render the chart")
	step := state.NewStep("render the chart", RoleToolRunner, []string{"always_fails"}, "")
	st.Plan = planWithStep(step)

	require.NoError(t, w.Execute(context.Background(), st))
	assert.Equal(t, 1, st.Plan.Remaining())
	require.Len(t, st.Executions, 1)
	assert.Equal(t, state.ExecFailed, st.Executions[0].Status)
}

func TestExecuteMultiCapabilityStep(t *testing.T) {
	tr := testTracker(t)
	w := NewExpert(tr, zap.NewNop())

	st := state.NewFromRequest("classify then report")
	step := state.NewStep("classify then report", RoleExpert,
		[]string{capability.NameIsotopeClassify, capability.NameComposeReport}, "")
	st.Plan = planWithStep(step)

	require.NoError(t, w.Execute(context.Background(), st))
	require.Len(t, st.Executions, 2)
	assert.NotEqual(t, st.Executions[0].StepID, st.Executions[1].StepID)
	assert.Equal(t, 0, st.Plan.Remaining())
}

func TestExecuteStructuralErrors(t *testing.T) {
	tr := testTracker(t)
	w := NewGeneralist(tr, zap.NewNop())

	st := state.NewFromRequest("hello")
	assert.ErrorIs(t, w.Execute(context.Background(), st), ErrNoPlan)

	st.Plan = planWithStep(state.NewStep("done already", RoleGeneralist, nil, ""))
	st.Plan.Advance()
	assert.ErrorIs(t, w.Execute(context.Background(), st), ErrNoCurrentStep)
}

func TestStepParamsPicksFirstFileDeterministically(t *testing.T) {
	st := state.NewFromRequest("parse my spectrum")
	st.Files["zz-late"] = state.FileInfo{}
	st.Files["aa-early"] = state.FileInfo{}

	params := stepParams(st, state.NewStep("parse", RoleDataAnalyst, nil, ""))
	assert.Equal(t, "aa-early", params["file_id"])
	assert.Equal(t, "parse", params["query"])
}
