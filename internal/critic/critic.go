// Package critic reviews the latest execution window of a workflow and
// turns quality and safety signals into a control-flow decision.
//
// Four checks run per review. Safety and capability legality are hard
// gates: a safety violation forces abort and a legality violation forces
// replan, regardless of any score. Content quality, reasoning, and
// historical-case evidence combine into a weighted score that selects
// continue, replan, or interrupt. Weights and thresholds are deployment
// tuning, not protocol; they load from configuration.
package critic

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spectrad/internal/capability"
	"github.com/fyrsmithlabs/spectrad/internal/history"
	"github.com/fyrsmithlabs/spectrad/internal/state"
)

// Decision is the critic's next-action verdict.
type Decision string

const (
	DecisionContinue  Decision = "continue"
	DecisionReplan    Decision = "replan"
	DecisionInterrupt Decision = "interrupt"
	DecisionAbort     Decision = "abort"
)

// Level grades verdict severity.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// neutralScore substitutes for reasoning and historical sub-scores when
// their sources are unavailable; unavailability is never a hard failure.
const neutralScore = 0.7

// StageRecordPrefix marks execution records the engine synthesizes for
// stage failures. They carry no capability invocation, so the legality
// and parameter checks skip them; quality scoring still counts them as
// failures.
const StageRecordPrefix = "stage:"

// Verdict is the review result. The JSON shape is a stable contract
// consumed by UIs and log pipelines; field names must not change.
type Verdict struct {
	Passed          bool     `json:"passed"`
	Level           Level    `json:"level"`
	Score           float64  `json:"score"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
	Decision        Decision `json:"next_action"`
	Reasoning       string   `json:"reasoning"`
}

// Config tunes the critic. Zero values are replaced by DefaultConfig
// values at construction.
type Config struct {
	// Sub-score weights; they should sum to 1.
	QualityWeight   float64 `koanf:"quality_weight"`
	ReasoningWeight float64 `koanf:"reasoning_weight"`
	HistoryWeight   float64 `koanf:"history_weight"`

	// ReplanThreshold is the score below which the decision is replan.
	ReplanThreshold float64 `koanf:"replan_threshold"`

	// PassThreshold is the score at or above which the decision is continue.
	PassThreshold float64 `koanf:"pass_threshold"`

	// HistoryConfidence is the historical score below which evidence
	// counts as weak inside the replan..pass band.
	HistoryConfidence float64 `koanf:"history_confidence"`

	// DeniedCapabilities are operation names the safety gate rejects.
	DeniedCapabilities []string `koanf:"denied_capabilities"`

	// DeniedPathPatterns are regexes matched against string parameters.
	DeniedPathPatterns []string `koanf:"denied_path_patterns"`

	// MaxResultBytes and MaxExecutionTime bound one invocation.
	MaxResultBytes   int           `koanf:"max_result_bytes"`
	MaxExecutionTime time.Duration `koanf:"max_execution_time"`

	// Content quality bounds.
	MinContentLength   int      `koanf:"min_content_length"`
	MaxContentLength   int      `koanf:"max_content_length"`
	BannedPlaceholders []string `koanf:"banned_placeholders"`

	// WindowSize is how many recent execution records are reviewed.
	WindowSize int `koanf:"window_size"`
}

// DefaultConfig returns the shipped tuning.
func DefaultConfig() Config {
	return Config{
		QualityWeight:     0.3,
		ReasoningWeight:   0.4,
		HistoryWeight:     0.3,
		ReplanThreshold:   0.3,
		PassThreshold:     0.6,
		HistoryConfidence: 0.8,
		DeniedCapabilities: []string{
			"shell_exec",
			"raw_sql",
			"delete_all",
		},
		DeniedPathPatterns: []string{
			`(^|[/\\])\.\.([/\\]|$)`,
			`^/etc/`,
			`^/proc/`,
			`(?i)\.ssh[/\\]`,
		},
		MaxResultBytes:   1 << 20,
		MaxExecutionTime: 5 * time.Minute,
		MinContentLength: 2,
		MaxContentLength: 1 << 16,
		BannedPlaceholders: []string{
			"TODO",
			"PLACEHOLDER",
			"lorem ipsum",
			"<insert",
		},
		WindowSize: 10,
	}
}

// Scorer rates an execution window; *reasoning.Client satisfies it.
type Scorer interface {
	Score(ctx context.Context, window string) (float64, string, error)
}

// Cases provides historical similarity evidence; *history.Index satisfies it.
type Cases interface {
	Lookup(query string) history.Evidence
}

// Critic is a stateless evaluator over workflow state. Construct once and
// share; Review never mutates the state it reads.
type Critic struct {
	cfg      Config
	registry *capability.Registry
	scorer   Scorer
	cases    Cases
	logger   *zap.Logger

	pathPatterns []*regexp.Regexp
}

// New creates a critic. scorer and cases may be nil; the corresponding
// sub-scores then default to neutral.
func New(cfg Config, registry *capability.Registry, scorer Scorer, cases Cases, logger *zap.Logger) (*Critic, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	applyDefaults(&cfg)

	patterns := make([]*regexp.Regexp, 0, len(cfg.DeniedPathPatterns))
	for _, p := range cfg.DeniedPathPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("critic: invalid denied path pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &Critic{
		cfg:          cfg,
		registry:     registry,
		scorer:       scorer,
		cases:        cases,
		logger:       logger,
		pathPatterns: patterns,
	}, nil
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.QualityWeight == 0 && cfg.ReasoningWeight == 0 && cfg.HistoryWeight == 0 {
		cfg.QualityWeight = def.QualityWeight
		cfg.ReasoningWeight = def.ReasoningWeight
		cfg.HistoryWeight = def.HistoryWeight
	}
	if cfg.ReplanThreshold == 0 {
		cfg.ReplanThreshold = def.ReplanThreshold
	}
	if cfg.PassThreshold == 0 {
		cfg.PassThreshold = def.PassThreshold
	}
	if cfg.HistoryConfidence == 0 {
		cfg.HistoryConfidence = def.HistoryConfidence
	}
	if cfg.MaxResultBytes == 0 {
		cfg.MaxResultBytes = def.MaxResultBytes
	}
	if cfg.MaxExecutionTime == 0 {
		cfg.MaxExecutionTime = def.MaxExecutionTime
	}
	if cfg.MinContentLength == 0 {
		cfg.MinContentLength = def.MinContentLength
	}
	if cfg.MaxContentLength == 0 {
		cfg.MaxContentLength = def.MaxContentLength
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.DeniedCapabilities == nil {
		cfg.DeniedCapabilities = def.DeniedCapabilities
	}
	if cfg.DeniedPathPatterns == nil {
		cfg.DeniedPathPatterns = def.DeniedPathPatterns
	}
	if cfg.BannedPlaceholders == nil {
		cfg.BannedPlaceholders = def.BannedPlaceholders
	}
}

// Review evaluates the latest execution window and produces a verdict.
func (c *Critic) Review(ctx context.Context, st *state.WorkflowState) *Verdict {
	window := st.RecentExecutions(c.cfg.WindowSize)

	if issues := c.safetyCheck(window); len(issues) > 0 {
		return &Verdict{
			Passed:          false,
			Level:           LevelCritical,
			Score:           0,
			Issues:          issues,
			Recommendations: []string{"abort the session; a denied operation was attempted"},
			Decision:        DecisionAbort,
			Reasoning:       "safety gate: " + strings.Join(issues, "; "),
		}
	}

	if issues := c.legalityCheck(window); len(issues) > 0 {
		return &Verdict{
			Passed:          false,
			Level:           LevelError,
			Score:           0,
			Issues:          issues,
			Recommendations: []string{"replan with capabilities registered in the catalog"},
			Decision:        DecisionReplan,
			Reasoning:       "legality gate: " + strings.Join(issues, "; "),
		}
	}

	quality, issues, recs := c.qualityCheck(st, window)
	reasoningScore, reasoningText := c.reasoningScore(ctx, st)
	historyScore, historyStrong := c.historyScore(st)

	score := c.cfg.QualityWeight*quality +
		c.cfg.ReasoningWeight*reasoningScore +
		c.cfg.HistoryWeight*historyScore

	var decision Decision
	switch {
	case score < c.cfg.ReplanThreshold:
		decision = DecisionReplan
	case score < c.cfg.PassThreshold:
		if historyStrong {
			decision = DecisionReplan
		} else {
			decision = DecisionInterrupt
		}
	default:
		decision = DecisionContinue
	}

	reasoning := fmt.Sprintf(
		"quality=%.2f reasoning=%.2f historical=%.2f combined=%.2f; %s",
		quality, reasoningScore, historyScore, score, reasoningText)

	v := &Verdict{
		Passed:          decision == DecisionContinue,
		Level:           levelFor(decision),
		Score:           score,
		Issues:          issues,
		Recommendations: recs,
		Decision:        decision,
		Reasoning:       reasoning,
	}
	c.logger.Debug("critic verdict",
		zap.String("decision", string(v.Decision)),
		zap.Float64("score", v.Score),
		zap.Int("issues", len(v.Issues)))
	return v
}

func levelFor(d Decision) Level {
	switch d {
	case DecisionContinue:
		return LevelInfo
	case DecisionInterrupt:
		return LevelWarning
	case DecisionReplan:
		return LevelError
	default:
		return LevelCritical
	}
}

// safetyCheck scans the window against the deny lists and budgets.
func (c *Critic) safetyCheck(window []state.ExecutionRecord) []string {
	var issues []string
	for _, rec := range window {
		for _, denied := range c.cfg.DeniedCapabilities {
			if rec.Capability == denied {
				issues = append(issues, fmt.Sprintf("denied operation invoked: %s", rec.Capability))
			}
		}
		for key, val := range rec.Params {
			str, ok := val.(string)
			if !ok {
				continue
			}
			for _, re := range c.pathPatterns {
				if re.MatchString(str) {
					issues = append(issues, fmt.Sprintf("denied path in %s.%s: %s", rec.Capability, key, str))
				}
			}
		}
		if len(rec.Result) > c.cfg.MaxResultBytes {
			issues = append(issues, fmt.Sprintf("result of %s exceeds size budget (%d bytes)", rec.Capability, len(rec.Result)))
		}
		if rec.Duration > c.cfg.MaxExecutionTime {
			issues = append(issues, fmt.Sprintf("%s exceeded time budget (%s)", rec.Capability, rec.Duration))
		}
	}
	return issues
}

// legalityCheck verifies every invoked capability resolves in the registry
// with its required parameters present.
func (c *Critic) legalityCheck(window []state.ExecutionRecord) []string {
	if c.registry == nil {
		return nil
	}
	var issues []string
	for _, rec := range window {
		if strings.HasPrefix(rec.Capability, StageRecordPrefix) {
			continue
		}
		if err := c.registry.ValidateCall(rec.Capability, rec.Params); err != nil {
			issues = append(issues, err.Error())
		}
	}
	return issues
}

// qualityCheck scores recent messages and results, returning the score in
// [0,1] plus human-readable issues and recommendations.
func (c *Critic) qualityCheck(st *state.WorkflowState, window []state.ExecutionRecord) (float64, []string, []string) {
	issues := []string{}
	recs := []string{}
	score := 1.0

	failed := 0
	for _, rec := range window {
		if rec.Status == state.ExecFailed {
			failed++
			issues = append(issues, fmt.Sprintf("capability %s failed: %s", rec.Capability, rec.Error))
		}
		if rec.Status == state.ExecSuccess {
			if bad, why := c.contentIssue(rec.Result); bad {
				score -= 0.2
				issues = append(issues, fmt.Sprintf("result of %s: %s", rec.Capability, why))
			}
		}
	}
	if failed > 0 {
		// Failures dominate the quality signal so the combined score
		// lands below the pass threshold even with neutral sub-scores.
		score = min(score, 0.2)
		recs = append(recs, "retry the failed step or replan around the failing capability")
	}

	if msg, ok := st.LastAssistantMessage(); ok {
		if bad, why := c.contentIssue(msg); bad {
			score -= 0.2
			issues = append(issues, "assistant message: "+why)
		}
	}

	if score < 0 {
		score = 0
	}
	return score, issues, recs
}

// contentIssue validates one piece of produced content.
func (c *Critic) contentIssue(content string) (bool, string) {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < c.cfg.MinContentLength {
		return true, "content shorter than minimum length"
	}
	if len(trimmed) > c.cfg.MaxContentLength {
		return true, "content exceeds maximum length"
	}
	lower := strings.ToLower(trimmed)
	for _, banned := range c.cfg.BannedPlaceholders {
		if strings.Contains(lower, strings.ToLower(banned)) {
			return true, fmt.Sprintf("contains banned placeholder %q", banned)
		}
	}
	// Structured-looking output must actually parse.
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if !gjson.Valid(trimmed) {
			return true, "structured output does not parse"
		}
	}
	return false, ""
}

// reasoningScore asks the scorer for a quality rating, defaulting to
// neutral when the scorer is missing or unavailable.
func (c *Critic) reasoningScore(ctx context.Context, st *state.WorkflowState) (float64, string) {
	if c.scorer == nil {
		return neutralScore, "reasoning scorer not configured"
	}
	window := st.ConversationWindow(6)
	score, text, err := c.scorer.Score(ctx, window)
	if err != nil {
		c.logger.Debug("reasoning score unavailable", zap.Error(err))
		return neutralScore, "reasoning score unavailable"
	}
	return score, text
}

// historyScore derives a success-rate score from similar prior cases.
func (c *Critic) historyScore(st *state.WorkflowState) (float64, bool) {
	if c.cases == nil {
		return neutralScore, false
	}
	query, ok := st.LastUserMessage()
	if !ok {
		return neutralScore, false
	}
	ev := c.cases.Lookup(query)
	if ev.Matches == 0 {
		return neutralScore, false
	}
	strong := ev.Strong && ev.Score >= c.cfg.HistoryConfidence
	return ev.Score, strong
}
