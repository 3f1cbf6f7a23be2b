package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spectrad/internal/capability"
	"github.com/fyrsmithlabs/spectrad/internal/checkpoint"
	"github.com/fyrsmithlabs/spectrad/internal/critic"
	"github.com/fyrsmithlabs/spectrad/internal/history"
	"github.com/fyrsmithlabs/spectrad/internal/reasoning"
	"github.com/fyrsmithlabs/spectrad/internal/state"
	"github.com/fyrsmithlabs/spectrad/internal/tracker"
	"github.com/fyrsmithlabs/spectrad/internal/worker"
)

type stubAnalyzer struct {
	analysis *reasoning.Analysis
	err      error
}

func (a *stubAnalyzer) Analyze(context.Context, string, []state.Message) (*reasoning.Analysis, error) {
	return a.analysis, a.err
}

func (a *stubAnalyzer) Score(context.Context, string) (float64, string, error) {
	return 0, "", reasoning.ErrScoreUnavailable
}

func newTestEngine(t *testing.T, analyzer reasoning.Analyzer, extra ...*capability.Capability) *Engine {
	t.Helper()
	reg := capability.NewRegistry()
	require.NoError(t, capability.RegisterBuiltins(reg))
	for _, c := range extra {
		require.NoError(t, reg.Register(c))
	}
	tr := tracker.New(reg, zap.NewNop(), tracker.DefaultRetryPolicy())
	ws := worker.NewSet()
	require.NoError(t, worker.RegisterBuiltins(ws, tr, zap.NewNop()))
	cr, err := critic.New(critic.Config{}, reg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	mgr := checkpoint.NewManager(zap.NewNop(), nil)

	eng, err := NewEngine(Options{}, Deps{
		Checkpoints: mgr,
		Critic:      cr,
		Workers:     ws,
		Analyzer:    analyzer,
		Catalog:     reg,
		History:     history.NewIndex(0),
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	return eng
}

func assistantMessages(st *state.WorkflowState) []string {
	var out []string
	for _, m := range st.Messages {
		if m.Role == state.RoleAssistant {
			out = append(out, m.Content)
		}
	}
	return out
}

func TestRunGreetingRespondsDirectly(t *testing.T) {
	eng := newTestEngine(t, reasoning.NewOffline())

	final, err := eng.Run(context.Background(), state.NewFromRequest("你好"))
	require.NoError(t, err)

	assert.Equal(t, StatusEnded, statusOf(final))
	assert.Empty(t, final.Executions)
	replies := assistantMessages(final)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "光谱")
	assert.Nil(t, final.Plan)
}

func TestRunIdempotentOnTerminalState(t *testing.T) {
	eng := newTestEngine(t, reasoning.NewOffline())

	final, err := eng.Run(context.Background(), state.NewFromRequest("hello"))
	require.NoError(t, err)
	require.Equal(t, StatusEnded, statusOf(final))

	messages := len(final.Messages)
	again, err := eng.Run(context.Background(), final)
	require.NoError(t, err)
	assert.Same(t, final, again)
	assert.Len(t, again.Messages, messages)
	assert.Empty(t, again.Executions)
}

func TestRunMultiStepAnalysisCompletes(t *testing.T) {
	analyzer := &stubAnalyzer{analysis: &reasoning.Analysis{
		TaskType: state.TaskDataAnalysis,
		Priority: state.PriorityHigh,
		Tasks: []reasoning.TaskSpec{
			{
				Description:  "classify the dominant peaks",
				Role:         worker.RoleDataAnalyst,
				Capabilities: []string{capability.NameIsotopeClassify},
			},
			{
				Description:  "look up half-life data",
				Role:         worker.RoleConsultant,
				Capabilities: []string{capability.NameKnowledgeLookup},
			},
		},
	}}
	eng := newTestEngine(t, analyzer)

	final, err := eng.Run(context.Background(), state.NewFromRequest("classify the spectrum and explain it"))
	require.NoError(t, err)

	assert.Equal(t, StatusEnded, statusOf(final))
	require.NotNil(t, final.Plan)
	assert.Equal(t, state.PlanDone, final.Plan.Status)
	require.Len(t, final.Executions, 2)
	for _, rec := range final.Executions {
		assert.Equal(t, state.ExecSuccess, rec.Status)
	}

	replies := assistantMessages(final)
	require.NotEmpty(t, replies)
	assert.Contains(t, replies[len(replies)-1], "Analysis complete")
}

func TestRunFailingCapabilityReachesCriticAndTerminates(t *testing.T) {
	boom := &capability.Capability{
		Name:        "always_fails",
		Type:        capability.TypeTool,
		Description: "test-only failing capability",
		Params:      []capability.Param{{Name: "query", Type: "string", Required: true}},
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("detector offline")
		},
	}
	analyzer := &stubAnalyzer{analysis: &reasoning.Analysis{
		TaskType: state.TaskToolExecution,
		Priority: state.PriorityMedium,
		Tasks: []reasoning.TaskSpec{{
			Description:  "render the decay chart",
			Role:         worker.RoleToolRunner,
			Capabilities: []string{"always_fails"},
		}},
	}}
	eng := newTestEngine(t, analyzer, boom)

	final, err := eng.Run(context.Background(), state.NewFromRequest("draw the decay chart"))
	require.NoError(t, err)

	// The session terminates instead of looping or crashing.
	assert.Contains(t, []Status{StatusAborted, StatusEnded}, statusOf(final))

	failed := 0
	for _, rec := range final.Executions {
		if rec.Status == state.ExecFailed {
			failed++
		}
	}
	assert.Greater(t, failed, 0)

	verdict, ok := final.Meta["last_verdict"].(*critic.Verdict)
	require.True(t, ok, "critic verdict recorded in state")
	assert.NotEmpty(t, verdict.Issues)
	assert.Contains(t, []critic.Decision{critic.DecisionReplan, critic.DecisionInterrupt}, verdict.Decision)
}

func TestRunUnknownRoleFallsBackToGeneralist(t *testing.T) {
	analyzer := &stubAnalyzer{analysis: &reasoning.Analysis{
		TaskType: state.TaskConsultation,
		Priority: state.PriorityLow,
		Tasks: []reasoning.TaskSpec{{
			Description: "answer the question",
			Role:        "quantum_sommelier",
		}},
	}}
	eng := newTestEngine(t, analyzer)

	final, err := eng.Run(context.Background(), state.NewFromRequest("what is the half-life of Cs-137"))
	require.NoError(t, err)

	assert.Equal(t, StatusEnded, statusOf(final))
	require.NotEmpty(t, final.Executions)
	assert.Equal(t, capability.NameKnowledgeLookup, final.Executions[0].Capability)
}

func TestRunAnalyzerFailureUsesFallbackAnalysis(t *testing.T) {
	eng := newTestEngine(t, &stubAnalyzer{err: errors.New("reasoning service down")})

	final, err := eng.Run(context.Background(), state.NewFromRequest("explain these gamma lines"))
	require.NoError(t, err)

	assert.Equal(t, StatusEnded, statusOf(final))
	require.NotNil(t, final.Plan)
	assert.Equal(t, state.TaskConsultation, final.Plan.Type)
	require.NotEmpty(t, final.Executions)
	assert.Equal(t, capability.NameKnowledgeLookup, final.Executions[0].Capability)
}

func TestAnnotateStageFailure(t *testing.T) {
	eng := newTestEngine(t, reasoning.NewOffline())
	st := state.NewFromRequest("anything")

	next := eng.annotateStageFailure(StageRoute, errors.New("router blew up"), st)
	assert.Equal(t, StageCritic, next)

	require.Len(t, st.Executions, 1)
	assert.Equal(t, state.ExecFailed, st.Executions[0].Status)
	assert.Equal(t, critic.StageRecordPrefix+StageRoute, st.Executions[0].Capability)
	last := st.Messages[len(st.Messages)-1]
	assert.Equal(t, state.RoleSystem, last.Role)
	assert.Contains(t, last.Content, "router blew up")

	// A broken critic stage cannot review itself; it aborts.
	assert.Equal(t, StageAbort, eng.annotateStageFailure(StageCritic, errors.New("no reviewer"), st))
}

func TestSessionLifecycleAndResume(t *testing.T) {
	eng := newTestEngine(t, reasoning.NewOffline())

	s := eng.NewSession("hello")
	require.Equal(t, StatusRunning, s.Status)
	require.NoError(t, eng.RunSession(context.Background(), s))
	assert.Equal(t, StatusEnded, s.Status)
	assert.Equal(t, "memory", s.Backend)

	resumed, err := eng.ResumeSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, resumed.Status)
	assert.Len(t, resumed.State.Messages, len(s.State.Messages))
}
