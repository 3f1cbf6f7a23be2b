// Package tracker wraps capability invocations with execution bookkeeping:
// timing, success/failure capture, serializable result coercion, and an
// optional bounded retry envelope for retry-safe capabilities.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spectrad/internal/capability"
	"github.com/fyrsmithlabs/spectrad/internal/state"
)

// RetryPolicy bounds automatic retries. Disabled by default; even when
// enabled it applies only to capabilities marked retry-safe.
type RetryPolicy struct {
	Enabled         bool          `koanf:"enabled"`
	MaxAttempts     int           `koanf:"max_attempts"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
	Multiplier      float64       `koanf:"multiplier"`
}

// DefaultRetryPolicy returns the disabled-by-default envelope with sane
// bounds for when a deployment switches it on.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:         false,
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// Tracker invokes capabilities and produces execution records.
type Tracker struct {
	registry *capability.Registry
	logger   *zap.Logger
	retry    RetryPolicy
}

// New creates a tracker over the capability registry.
func New(registry *capability.Registry, logger *zap.Logger, retry RetryPolicy) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{registry: registry, logger: logger, retry: retry}
}

// Invoke executes the named capability and returns the execution record.
// Invocation failures never propagate as errors; they are captured in the
// record's status and error fields so the workflow can surface them to the
// critic instead of crashing.
func (t *Tracker) Invoke(ctx context.Context, name string, params map[string]any) state.ExecutionRecord {
	rec := state.ExecutionRecord{
		Capability: name,
		Params:     params,
		Timestamp:  time.Now(),
	}

	start := time.Now()
	defer func() { rec.Duration = time.Since(start) }()

	c, ok := t.registry.Get(name)
	if !ok {
		rec.Status = state.ExecFailed
		rec.Error = fmt.Sprintf("unknown capability: %s", name)
		return rec
	}
	if err := t.registry.ValidateCall(name, params); err != nil {
		rec.Status = state.ExecFailed
		rec.Error = err.Error()
		return rec
	}

	result, err := t.run(ctx, c, params)
	if err != nil {
		rec.Status = state.ExecFailed
		rec.Error = err.Error()
		t.logger.Warn("capability invocation failed",
			zap.String("capability", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return rec
	}

	rec.Status = state.ExecSuccess
	rec.Result = coerceResult(result)
	t.logger.Debug("capability invoked",
		zap.String("capability", name),
		zap.Duration("duration", time.Since(start)))
	return rec
}

// InvokeStep invokes the capability for a plan step and appends the record
// to the state. When the state already holds a success record for the step
// (a session replayed from a checkpoint), the prior record is returned and
// the capability is not re-invoked, keeping side effects at most once.
func (t *Tracker) InvokeStep(ctx context.Context, step state.Step, name string, params map[string]any, st *state.WorkflowState) state.ExecutionRecord {
	if prior, ok := st.SuccessRecord(step.ID); ok {
		t.logger.Info("skipping re-invocation, success record exists",
			zap.String("step_id", step.ID),
			zap.String("capability", prior.Capability))
		return *prior
	}

	rec := t.Invoke(ctx, name, params)
	rec.StepID = step.ID
	st.RecordExecution(rec)
	return rec
}

// run executes the handler, applying the retry envelope when allowed.
func (t *Tracker) run(ctx context.Context, c *capability.Capability, params map[string]any) (any, error) {
	if !t.retry.Enabled || !c.RetrySafe || t.retry.MaxAttempts <= 1 {
		return c.Handler(ctx, params)
	}

	var result any
	op := func() error {
		var err error
		result, err = c.Handler(ctx, params)
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = t.retry.InitialInterval
	expo.MaxInterval = t.retry.MaxInterval
	expo.Multiplier = t.retry.Multiplier

	b := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(t.retry.MaxAttempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return result, nil
}

// coerceResult renders a capability result as a serializable string.
// JSON-marshalable values keep their JSON form; everything else falls back
// to the fmt string representation.
func coerceResult(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	}
	if blob, err := json.Marshal(v); err == nil {
		return string(blob)
	}
	return fmt.Sprint(v)
}
