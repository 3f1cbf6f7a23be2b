package workflow

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spectrad/internal/capability"
	"github.com/fyrsmithlabs/spectrad/internal/critic"
	"github.com/fyrsmithlabs/spectrad/internal/reasoning"
	"github.com/fyrsmithlabs/spectrad/internal/state"
	"github.com/fyrsmithlabs/spectrad/internal/worker"
)

// Metadata keys the engine writes into workflow state. They survive
// checkpointing, so resumed sessions pick up where they left off.
const (
	metaSessionID      = "session_id"
	metaStage          = "current_stage"
	metaStatus         = "workflow_status"
	metaDirectKind     = "direct_kind"
	metaDirectResponse = "direct_response"
	metaInterrupted    = "interrupted"
	metaCriticDecision = "critic_decision"
	metaPlanIterations = "plan_iterations"
	metaReplanRequest  = "replan_requested"
	metaSuperviseNext  = "supervise_next"
)

const directGreeting = "greeting"

// maxStepAttempts bounds re-execution of one failing step before the
// supervisor escalates to a replan.
const maxStepAttempts = 2

type stageFunc func(ctx context.Context, st *state.WorkflowState) error

// routerFunc computes the next stage name from post-stage state. Routers
// never error; out-of-contract values resolve through the graph's default
// and fallback rules.
type routerFunc func(st *state.WorkflowState) string

// run holds per-invocation scratch shared by stage closures. Anything a
// resumed session needs must also live in state metadata; scratch only
// saves repeated work inside one Run call.
type run struct {
	e        *Engine
	analysis *reasoning.Analysis
	verdict  *critic.Verdict
}

func (r *run) stages() map[string]stageFunc {
	m := map[string]stageFunc{
		StageAnalyze:   r.analyzeStage,
		StagePlan:      r.planStage,
		StageRoute:     r.routeStage,
		StageCritic:    r.criticStage,
		StageSupervise: r.superviseStage,
		StageRespond:   r.respondStage,
		StageEnd:       r.endStage,
		StageAbort:     r.abortStage,
	}
	for _, role := range r.e.workers.Roles() {
		m[role] = r.workerStage(role)
	}
	return m
}

func (r *run) routers() map[string]routerFunc {
	m := map[string]routerFunc{
		StageAnalyze:   r.analyzeRouter,
		StagePlan:      r.planRouter,
		StageRoute:     r.routeRouter,
		StageCritic:    r.criticRouter,
		StageSupervise: r.superviseRouter,
		StageRespond:   func(*state.WorkflowState) string { return StageEnd },
	}
	for _, role := range r.e.workers.Roles() {
		m[role] = func(*state.WorkflowState) string { return StageCritic }
	}
	return m
}

// analyzeStage classifies the request. Greetings and identity questions
// are detected by a quick lexical check and skip the reasoning round-trip
// entirely; everything else goes through the analyzer, degrading to the
// fallback analysis on any failure.
func (r *run) analyzeStage(ctx context.Context, st *state.WorkflowState) error {
	query, ok := st.LastUserMessage()
	if !ok {
		st.SetMeta(metaDirectKind, directGreeting)
		return nil
	}
	if kind := classifyDirect(query); kind != "" {
		st.SetMeta(metaDirectKind, kind)
		r.e.logger.Debug("direct classification", zap.String("kind", kind))
		return nil
	}

	analysis, err := r.e.analyzer.Analyze(ctx, query, st.Messages)
	if err != nil || analysis == nil {
		r.e.logger.Warn("analysis failed, using fallback", zap.Error(err))
		analysis = reasoning.FallbackAnalysis(query)
	}
	r.analysis = analysis
	if analysis.Direct != "" && len(analysis.Tasks) == 0 {
		st.SetMeta(metaDirectResponse, analysis.Direct)
	}
	return nil
}

func (r *run) analyzeRouter(st *state.WorkflowState) string {
	if kind, _ := st.MetaString(metaDirectKind); kind != "" {
		return StageRespond
	}
	if resp, _ := st.MetaString(metaDirectResponse); resp != "" {
		return StageRespond
	}
	return StagePlan
}

// planStage turns the analysis into a task plan. Re-entry (replan) runs a
// fresh analysis so failure annotations in the conversation influence the
// new plan.
func (r *run) planStage(ctx context.Context, st *state.WorkflowState) error {
	st.SetMeta(metaPlanIterations, metaInt(st, metaPlanIterations)+1)

	analysis := r.analysis
	if analysis == nil || st.MetaBool(metaReplanRequest) {
		st.SetMeta(metaReplanRequest, false)
		query, _ := st.LastUserMessage()
		a, err := r.e.analyzer.Analyze(ctx, query, st.Messages)
		if err != nil || a == nil {
			a = reasoning.FallbackAnalysis(query)
		}
		analysis = a
		r.analysis = a
	}

	if analysis.Direct != "" && len(analysis.Tasks) == 0 {
		st.SetMeta(metaDirectResponse, analysis.Direct)
		st.Plan = nil
		return nil
	}

	steps := make([]state.Step, 0, len(analysis.Tasks))
	for _, t := range analysis.Tasks {
		steps = append(steps, state.NewStep(t.Description, t.Role, t.Capabilities, t.ExpectedOutput))
	}
	st.Plan = state.NewTaskPlan(analysis.TaskType, analysis.Priority, steps)
	r.e.logger.Info("plan created",
		zap.String("task_type", string(analysis.TaskType)),
		zap.Int("steps", len(steps)),
		zap.Int("iteration", metaInt(st, metaPlanIterations)))
	return nil
}

func (r *run) planRouter(st *state.WorkflowState) string {
	if metaInt(st, metaPlanIterations) > r.e.opts.MaxPlanIterations {
		return StageAbort
	}
	if st.Plan == nil || len(st.Plan.Steps) == 0 {
		return StageRespond
	}
	return StageRoute
}

// routeStage picks the worker role for the current step. The decision is
// recorded in state so the router and later audits can see it.
func (r *run) routeStage(_ context.Context, st *state.WorkflowState) error {
	step, ok := st.Plan.CurrentStep()
	if !ok {
		return nil
	}
	role := r.roleFor(step, st.Plan.Type)
	st.SetMeta("route_target", role)
	return nil
}

func (r *run) routeRouter(st *state.WorkflowState) string {
	if st.Plan == nil {
		return StageRespond
	}
	if _, ok := st.Plan.CurrentStep(); !ok {
		return StageRespond
	}
	role, _ := st.MetaString("route_target")
	return role
}

// roleFor resolves a step to a worker role: the step's declared role wins;
// otherwise the first declared capability's type decides; otherwise the
// plan's task type. Declared order breaks ties, never arbitrary selection.
func (r *run) roleFor(step state.Step, taskType state.TaskType) string {
	if step.Role != "" {
		return step.Role
	}
	for _, name := range step.Capabilities {
		if c, ok := r.e.catalog.Get(name); ok {
			switch c.Type {
			case capability.TypeTool, capability.TypeVisualization:
				return worker.RoleToolRunner
			case capability.TypeAnalysis, capability.TypeDataProcessing:
				return worker.RoleDataAnalyst
			case capability.TypeTask:
				return worker.RoleExpert
			}
		}
	}
	switch taskType {
	case state.TaskConsultation:
		return worker.RoleConsultant
	case state.TaskDataAnalysis:
		return worker.RoleDataAnalyst
	case state.TaskExpertAnalysis:
		return worker.RoleExpert
	case state.TaskToolExecution:
		return worker.RoleToolRunner
	default:
		return worker.RoleGeneralist
	}
}

// workerStage executes the current step with the named role's worker.
func (r *run) workerStage(role string) stageFunc {
	return func(ctx context.Context, st *state.WorkflowState) error {
		w, exact, err := r.e.workers.Resolve(role)
		if err != nil {
			return err
		}
		if !exact {
			r.e.logger.Warn("role not registered, using fallback worker",
				zap.String("role", role),
				zap.String("fallback", w.Role()))
		}
		return w.Execute(ctx, st)
	}
}

// criticStage reviews the latest execution window. An interrupt decision
// is advisory: it annotates the state and continues through supervise.
func (r *run) criticStage(ctx context.Context, st *state.WorkflowState) error {
	v := r.e.critic.Review(ctx, st)
	r.verdict = v
	st.SetMeta(metaCriticDecision, string(v.Decision))
	st.SetMeta("last_verdict", v)
	switch v.Decision {
	case critic.DecisionInterrupt:
		st.SetMeta(metaInterrupted, true)
	case critic.DecisionReplan:
		// Force a fresh analysis; the failure annotations in the
		// conversation should shape the next plan.
		st.SetMeta(metaReplanRequest, true)
	}
	r.e.metrics.ObserveCriticDecision(string(v.Decision))
	r.e.logger.Info("critic verdict",
		zap.String("decision", string(v.Decision)),
		zap.Float64("score", v.Score),
		zap.Strings("issues", v.Issues))
	return nil
}

func (r *run) criticRouter(st *state.WorkflowState) string {
	decision, _ := st.MetaString(metaCriticDecision)
	switch critic.Decision(decision) {
	case critic.DecisionReplan:
		return StagePlan
	case critic.DecisionAbort:
		return StageAbort
	default:
		return StageSupervise
	}
}

// superviseStage drives the remaining plan steps. One step that keeps
// failing escalates to a replan instead of looping forever; the bounded
// plan iteration count then terminates the session if replanning cannot
// make progress either.
func (r *run) superviseStage(ctx context.Context, st *state.WorkflowState) error {
	next := StageRespond

	switch {
	case st.MetaBool(metaReplanRequest):
		next = StagePlan
	case st.Plan != nil && st.Plan.Remaining() > 0:
		step, _ := st.Plan.CurrentStep()
		if failedAttempts(st, step.ID) >= maxStepAttempts {
			st.SetMeta(metaReplanRequest, true)
			next = StagePlan
			break
		}
		role := r.roleFor(step, st.Plan.Type)
		w, _, err := r.e.workers.Resolve(role)
		if err != nil {
			return err
		}
		if err := w.Execute(ctx, st); err != nil {
			return err
		}
		switch {
		case lastStepFailed(st, step.ID):
			next = StageCritic
		case st.Plan.Remaining() > 0:
			next = StageSupervise
		default:
			next = StageCritic
		}
	}

	st.SetMeta(metaSuperviseNext, next)
	return nil
}

func (r *run) superviseRouter(st *state.WorkflowState) string {
	next, _ := st.MetaString(metaSuperviseNext)
	return next
}

// respondStage composes the final assistant message: a canned reply for
// direct classifications, the analyzer's direct response when it produced
// one, or a summary of the executed plan.
func (r *run) respondStage(_ context.Context, st *state.WorkflowState) error {
	var content string
	query, _ := st.LastUserMessage()
	switch {
	case hasMeta(st, metaDirectKind):
		content = greetingReply(query)
	case hasMeta(st, metaDirectResponse):
		content, _ = st.MetaString(metaDirectResponse)
	default:
		content = summarize(st)
	}
	st.AddMessage(state.RoleAssistant, content)
	return nil
}

func (r *run) endStage(_ context.Context, st *state.WorkflowState) error {
	st.SetMeta(metaStatus, string(StatusEnded))
	r.recordOutcome(st, r.verdict == nil || r.verdict.Passed)
	return nil
}

func (r *run) abortStage(_ context.Context, st *state.WorkflowState) error {
	st.SetMeta(metaStatus, string(StatusAborted))
	reason := "quality and safety review could not approve the session"
	if r.verdict != nil && r.verdict.Reasoning != "" {
		reason = r.verdict.Reasoning
	}
	st.AddMessage(state.RoleSystem, "session aborted: "+reason)
	if st.Plan != nil {
		st.Plan.Fail()
	}
	r.recordOutcome(st, false)
	return nil
}

// recordOutcome feeds the session result into the historical case index
// so later critic reviews see real success-rate evidence.
func (r *run) recordOutcome(st *state.WorkflowState, succeeded bool) {
	if r.e.history == nil {
		return
	}
	query, ok := st.LastUserMessage()
	if !ok {
		return
	}
	taskType := state.TaskConsultation
	if st.Plan != nil {
		taskType = st.Plan.Type
	}
	r.e.history.Record(query, taskType, succeeded)
}

// classifyDirect spots greeting and identity inputs that deserve an
// immediate reply without planning or review.
func classifyDirect(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	greetings := []string{
		"hi", "hello", "hey", "你好", "您好", "哈喽",
		"good morning", "good afternoon", "good evening",
	}
	for _, g := range greetings {
		if q == g || strings.TrimRight(q, "!！。.?") == g {
			return directGreeting
		}
	}
	identity := []string{"who are you", "你是谁", "what can you do", "你能做什么", "introduce yourself"}
	for _, p := range identity {
		if strings.Contains(q, p) {
			return "identity"
		}
	}
	return ""
}

func greetingReply(query string) string {
	if containsHan(query) {
		return "你好！我是光谱分析助手，可以帮你识别核素、解析谱图数据并生成分析报告。告诉我你的分析需求即可开始。"
	}
	return "Hello! I am a spectrum analysis assistant. I can classify isotopes, parse spectrum data, and compose analysis reports. Tell me what you need analyzed to get started."
}

func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// summarize renders a closing report over the executed plan.
func summarize(st *state.WorkflowState) string {
	if len(st.Executions) == 0 {
		return "I was unable to run any analysis steps for this request. Please rephrase or provide more detail."
	}
	succeeded := 0
	var b strings.Builder
	for _, rec := range st.Executions {
		if rec.Status == state.ExecSuccess {
			succeeded++
			fmt.Fprintf(&b, "- %s: %s\n", rec.Capability, truncate(rec.Result, 200))
		} else {
			fmt.Fprintf(&b, "- %s: failed (%s)\n", rec.Capability, rec.Error)
		}
	}
	header := fmt.Sprintf("Analysis complete: %d of %d steps succeeded.\n", succeeded, len(st.Executions))
	return header + b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so multibyte text stays valid.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

func hasMeta(st *state.WorkflowState, key string) bool {
	v, ok := st.MetaString(key)
	return ok && v != ""
}

// metaInt reads an integer metadata value, tolerating the float64 form
// JSON decoding produces after a checkpoint round-trip.
func metaInt(st *state.WorkflowState, key string) int {
	v, ok := st.Meta[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// failedAttempts counts failed execution records for a step, including
// sub-step records of multi-capability steps.
func failedAttempts(st *state.WorkflowState, stepID string) int {
	n := 0
	for _, rec := range st.Executions {
		if strings.HasPrefix(rec.StepID, stepID) && rec.Status == state.ExecFailed {
			n++
		}
	}
	return n
}

// lastStepFailed reports whether the most recent record for the step is a
// failure.
func lastStepFailed(st *state.WorkflowState, stepID string) bool {
	for i := len(st.Executions) - 1; i >= 0; i-- {
		if strings.HasPrefix(st.Executions[i].StepID, stepID) {
			return st.Executions[i].Status == state.ExecFailed
		}
	}
	return false
}
