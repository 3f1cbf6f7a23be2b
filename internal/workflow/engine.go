// Package workflow implements the directed-graph orchestration engine:
// a request is analyzed, decomposed into a task plan, routed to worker
// roles, reviewed by the critic, and supervised through a bounded
// continue/replan/interrupt/abort loop. State is checkpointed after every
// stage so a session can resume after a crash.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spectrad/internal/capability"
	"github.com/fyrsmithlabs/spectrad/internal/checkpoint"
	"github.com/fyrsmithlabs/spectrad/internal/critic"
	"github.com/fyrsmithlabs/spectrad/internal/history"
	"github.com/fyrsmithlabs/spectrad/internal/metrics"
	"github.com/fyrsmithlabs/spectrad/internal/reasoning"
	"github.com/fyrsmithlabs/spectrad/internal/state"
	"github.com/fyrsmithlabs/spectrad/internal/worker"
)

// ErrMaxIterations reports that the stage loop hit its safety bound
// before reaching a terminal stage.
var ErrMaxIterations = errors.New("workflow: max stage iterations exceeded")

// Options bound the engine's loops.
type Options struct {
	// MaxIterations caps stage transitions per Run call.
	MaxIterations int `koanf:"max_iterations"`

	// MaxPlanIterations caps how often a session may be replanned.
	MaxPlanIterations int `koanf:"max_plan_iterations"`
}

// DefaultOptions returns the shipped loop bounds.
func DefaultOptions() Options {
	return Options{MaxIterations: 64, MaxPlanIterations: 3}
}

// Deps are the collaborators the engine orchestrates. Checkpoints,
// critic, workers, analyzer, and catalog are required; history, metrics,
// events, and logger are optional.
type Deps struct {
	Checkpoints *checkpoint.Manager
	Critic      *critic.Critic
	Workers     *worker.Set
	Analyzer    reasoning.Analyzer
	Catalog     *capability.Registry
	History     *history.Index
	Metrics     *metrics.Metrics
	Events      EventFunc
	Logger      *zap.Logger
}

// Engine runs workflow sessions over a fixed stage graph.
type Engine struct {
	graph       *Graph
	checkpoints *checkpoint.Manager
	critic      *critic.Critic
	workers     *worker.Set
	analyzer    reasoning.Analyzer
	catalog     *capability.Registry
	history     *history.Index
	metrics     *metrics.Metrics
	events      EventFunc
	logger      *zap.Logger
	opts        Options
}

// NewEngine builds and validates the stage graph over the registered
// worker roles.
func NewEngine(opts Options, deps Deps) (*Engine, error) {
	switch {
	case deps.Checkpoints == nil:
		return nil, errors.New("workflow: checkpoint manager is required")
	case deps.Critic == nil:
		return nil, errors.New("workflow: critic is required")
	case deps.Workers == nil:
		return nil, errors.New("workflow: worker set is required")
	case deps.Analyzer == nil:
		return nil, errors.New("workflow: analyzer is required")
	case deps.Catalog == nil:
		return nil, errors.New("workflow: capability catalog is required")
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	if opts.MaxPlanIterations <= 0 {
		opts.MaxPlanIterations = DefaultOptions().MaxPlanIterations
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	graph, err := buildGraph(deps.Workers.Roles())
	if err != nil {
		return nil, err
	}

	return &Engine{
		graph:       graph,
		checkpoints: deps.Checkpoints,
		critic:      deps.Critic,
		workers:     deps.Workers,
		analyzer:    deps.Analyzer,
		catalog:     deps.Catalog,
		history:     deps.History,
		metrics:     deps.Metrics,
		events:      deps.Events,
		logger:      deps.Logger,
		opts:        opts,
	}, nil
}

// buildGraph declares the stage topology. Worker stages are named after
// roles; route may target any role plus the respond shortcut, and the
// generalist stage doubles as the graph's fallback node for role targets
// that were never registered.
func buildGraph(roles []string) (*Graph, error) {
	workerNodes := append([]string{}, roles...)
	if !contains(workerNodes, worker.RoleGeneralist) {
		workerNodes = append(workerNodes, worker.RoleGeneralist)
	}
	routeEdges := append(append([]string{}, workerNodes...), StageRespond)

	nodes := []Node{
		{Name: StageAnalyze, Edges: []string{StagePlan, StageRespond}, Default: StagePlan},
		{Name: StagePlan, Edges: []string{StageRoute, StageRespond, StageAbort}, Default: StageRoute},
		{Name: StageRoute, Edges: routeEdges, Default: worker.RoleGeneralist},
		{Name: StageCritic, Edges: []string{StageSupervise, StagePlan, StageAbort}, Default: StageSupervise},
		{Name: StageSupervise, Edges: []string{StageSupervise, StageCritic, StagePlan, StageRespond, StageEnd}, Default: StageRespond},
		{Name: StageRespond, Edges: []string{StageEnd}, Default: StageEnd},
		{Name: StageEnd, Terminal: true},
		{Name: StageAbort, Terminal: true},
	}
	for _, role := range workerNodes {
		nodes = append(nodes, Node{Name: role, Edges: []string{StageCritic}, Default: StageCritic})
	}
	return NewGraph(StageAnalyze, worker.RoleGeneralist, nodes)
}

// Run advances the state through the graph until a terminal stage. It is
// idempotent over already-terminal states. Stage errors never escape:
// they become state annotations reviewed by the critic. Only total
// persistence failure and the iteration guard propagate as errors.
func (e *Engine) Run(ctx context.Context, st *state.WorkflowState) (*state.WorkflowState, error) {
	if st == nil {
		st = state.New()
	}
	st.Normalize()
	if isTerminal(st) {
		return st, nil
	}

	sessionID, ok := st.MetaString(metaSessionID)
	if !ok || sessionID == "" {
		sessionID = uuid.NewString()
		st.SetMeta(metaSessionID, sessionID)
	}

	r := &run{e: e}
	stages := r.stages()
	routers := r.routers()

	current := e.graph.Entry()
	if resume, ok := st.MetaString(metaStage); ok {
		if _, exists := e.graph.Node(resume); exists {
			current = resume
		}
	}

	for i := 0; i < e.opts.MaxIterations; i++ {
		node, ok := e.graph.Node(current)
		if !ok {
			return st, fmt.Errorf("%w: %s", ErrUnknownStage, current)
		}

		e.emit(EventStageStarted, current, "")
		start := time.Now()
		var stageErr error
		if fn := stages[current]; fn != nil {
			stageErr = fn(ctx, st)
		}
		outcome := "ok"
		if stageErr != nil {
			outcome = "error"
		}
		e.metrics.ObserveStage(current, outcome, time.Since(start))

		if node.Terminal {
			e.emit(EventStageCompleted, current, string(statusOf(st)))
			if err := e.saveCheckpoint(ctx, sessionID, current, st); err != nil {
				return st, err
			}
			return st, nil
		}

		var next string
		if stageErr != nil {
			next = e.annotateStageFailure(current, stageErr, st)
		} else {
			e.emit(EventStageCompleted, current, "")
			target := node.Default
			if router := routers[current]; router != nil {
				target = router(st)
			}
			next = e.graph.Next(node, target)
			e.metrics.ObserveRoute(current, next)
			e.emit(EventRouteDecided, current, next)
		}

		st.LastRoute = next
		st.SetMeta(metaStage, next)
		if err := e.saveCheckpoint(ctx, sessionID, current, st); err != nil {
			return st, err
		}
		current = next
	}

	st.SetMeta(metaStatus, string(StatusFailed))
	return st, ErrMaxIterations
}

// annotateStageFailure converts a stage error into a visible diagnostic
// and routes to the critic, or to abort when the critic itself failed.
func (e *Engine) annotateStageFailure(stage string, stageErr error, st *state.WorkflowState) string {
	e.logger.Error("stage failed", zap.String("stage", stage), zap.Error(stageErr))
	e.emit(EventError, stage, stageErr.Error())
	st.AddMessage(state.RoleSystem, fmt.Sprintf("stage %s failed: %v", stage, stageErr))
	st.RecordExecution(state.ExecutionRecord{
		Capability: critic.StageRecordPrefix + stage,
		Status:     state.ExecFailed,
		Error:      stageErr.Error(),
		Timestamp:  time.Now(),
	})
	if stage == StageCritic {
		return StageAbort
	}
	return StageCritic
}

// saveCheckpoint snapshots the state. Persistence problems are absorbed
// by the manager's failover; an error here means every backend including
// memory failed, which is terminal for the session.
func (e *Engine) saveCheckpoint(ctx context.Context, sessionID, stage string, st *state.WorkflowState) error {
	_, err := e.checkpoints.Save(ctx, sessionID, st, map[string]string{"stage": stage})
	if err != nil {
		e.logger.Error("checkpoint unrecoverable", zap.String("stage", stage), zap.Error(err))
		e.emit(EventError, stage, "checkpoint failed: "+err.Error())
		return fmt.Errorf("workflow: checkpointing failed at stage %s: %w", stage, err)
	}
	return nil
}

func isTerminal(st *state.WorkflowState) bool {
	s := statusOf(st)
	return s == StatusEnded || s == StatusAborted
}

func statusOf(st *state.WorkflowState) Status {
	v, _ := st.MetaString(metaStatus)
	switch Status(v) {
	case StatusEnded, StatusAborted, StatusFailed:
		return Status(v)
	default:
		return StatusRunning
	}
}
