package reasoning

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/spectrad/internal/state"
)

// Offline is a deterministic keyword-driven Analyzer used when no
// reasoning endpoint is configured. It keeps the workflow runnable end to
// end without network access; scoring reports itself unavailable so the
// critic applies its neutral default.
type Offline struct{}

// NewOffline creates the offline analyzer.
func NewOffline() *Offline { return &Offline{} }

type offlineRule struct {
	keywords []string
	taskType state.TaskType
	priority state.Priority
	tasks    []TaskSpec
}

var offlineRules = []offlineRule{
	{
		keywords: []string{"classify", "isotope", "nuclide", "识别", "核素"},
		taskType: state.TaskDataAnalysis,
		priority: state.PriorityHigh,
		tasks: []TaskSpec{
			{
				Description:    "parse and classify the spectrum",
				Role:           "data_analyst",
				Capabilities:   []string{"isotope_classify"},
				ExpectedOutput: "isotope classification table",
			},
			{
				Description:    "render the classification chart",
				Role:           "data_analyst",
				Capabilities:   []string{"render_chart"},
				ExpectedOutput: "spectrum chart with labeled peaks",
			},
		},
	},
	{
		keywords: []string{"report", "summarize", "报告"},
		taskType: state.TaskExpertAnalysis,
		priority: state.PriorityMedium,
		tasks: []TaskSpec{
			{
				Description:    "compose the analysis report",
				Role:           "expert",
				Capabilities:   []string{"compose_report"},
				ExpectedOutput: "report section text",
			},
		},
	},
	{
		keywords: []string{"chart", "plot", "draw", "图"},
		taskType: state.TaskToolExecution,
		priority: state.PriorityMedium,
		tasks: []TaskSpec{
			{
				Description:    "render the requested chart",
				Role:           "tool_runner",
				Capabilities:   []string{"render_chart"},
				ExpectedOutput: "rendered chart",
			},
		},
	},
}

// Analyze implements Analyzer.
func (o *Offline) Analyze(_ context.Context, query string, _ []state.Message) (*Analysis, error) {
	lower := strings.ToLower(query)
	for _, rule := range offlineRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return &Analysis{
					TaskType:  rule.taskType,
					Priority:  rule.priority,
					Tasks:     rule.tasks,
					Reasoning: "offline keyword classification matched " + kw,
				}, nil
			}
		}
	}
	return FallbackAnalysis(query), nil
}

// Score implements Analyzer; the offline analyzer has no scoring model.
func (o *Offline) Score(_ context.Context, _ string) (float64, string, error) {
	return 0, "", ErrScoreUnavailable
}
