// Package reasoning consumes an opaque reasoning capability: it turns
// unstructured request text into a structured analysis (task breakdown,
// priority) and scores execution windows for the critic. Responses come
// back as free text; parsing is tolerant of markdown fences and trailing
// commas, and a deterministic fallback analysis applies when structured
// parsing fails.
package reasoning

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/spectrad/internal/state"
)

// ErrScoreUnavailable indicates the analyzer cannot score the window; the
// critic substitutes its neutral default instead of failing the review.
var ErrScoreUnavailable = errors.New("reasoning score unavailable")

// TaskSpec describes one planned unit of work extracted from an analysis.
type TaskSpec struct {
	Description    string   `json:"description"`
	Role           string   `json:"role"`
	Capabilities   []string `json:"capabilities,omitempty"`
	ExpectedOutput string   `json:"expected_output,omitempty"`
}

// Analysis is the structured result of analyzing a request.
type Analysis struct {
	TaskType  state.TaskType `json:"task_type"`
	Priority  state.Priority `json:"priority"`
	Tasks     []TaskSpec     `json:"tasks,omitempty"`
	Direct    string         `json:"direct_response,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`

	// Fallback marks analyses produced by the fallback contract rather
	// than structured reasoning output.
	Fallback bool `json:"fallback,omitempty"`
}

// Analyzer is the reasoning capability boundary. Implementations must
// never fail hard on malformed model output; they degrade to the fallback
// contract instead.
type Analyzer interface {
	// Analyze produces a structured analysis of the latest request.
	Analyze(ctx context.Context, query string, history []state.Message) (*Analysis, error)

	// Score rates an execution window in [0,1] with free-text reasoning.
	Score(ctx context.Context, window string) (float64, string, error)
}

// FallbackAnalysis is the defined fallback when structured parsing fails:
// a single-step consultation handled by the consultant role.
func FallbackAnalysis(query string) *Analysis {
	return &Analysis{
		TaskType: state.TaskConsultation,
		Priority: state.PriorityMedium,
		Tasks: []TaskSpec{{
			Description:    query,
			Role:           "consultant",
			Capabilities:   []string{"knowledge_lookup"},
			ExpectedOutput: "answer to the user's question",
		}},
		Reasoning: "structured analysis unavailable, defaulting to consultation",
		Fallback:  true,
	}
}
