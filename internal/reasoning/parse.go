package reasoning

import (
	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/spectrad/internal/state"
)

var validTaskTypes = map[state.TaskType]bool{
	state.TaskConsultation:   true,
	state.TaskDataAnalysis:   true,
	state.TaskExpertAnalysis: true,
	state.TaskMultiStep:      true,
	state.TaskToolExecution:  true,
}

var validPriorities = map[state.Priority]bool{
	state.PriorityLow:    true,
	state.PriorityMedium: true,
	state.PriorityHigh:   true,
	state.PriorityUrgent: true,
}

// ParseAnalysis decodes model output into an Analysis. Invalid or
// unparsable output yields the fallback analysis for the query, never an
// error: the workflow must keep moving on malformed reasoning output.
func ParseAnalysis(content, query string) *Analysis {
	raw := ExtractJSON(content)
	if raw == "" {
		return FallbackAnalysis(query)
	}

	doc := gjson.Parse(raw)

	taskType := state.TaskType(doc.Get("task_type").String())
	if !validTaskTypes[taskType] {
		return FallbackAnalysis(query)
	}

	priority := state.Priority(doc.Get("priority").String())
	if !validPriorities[priority] {
		priority = state.PriorityMedium
	}

	analysis := &Analysis{
		TaskType:  taskType,
		Priority:  priority,
		Direct:    doc.Get("direct_response").String(),
		Reasoning: doc.Get("reasoning").String(),
	}

	doc.Get("tasks").ForEach(func(_, task gjson.Result) bool {
		spec := TaskSpec{
			Description:    task.Get("description").String(),
			Role:           task.Get("role").String(),
			ExpectedOutput: task.Get("expected_output").String(),
		}
		task.Get("capabilities").ForEach(func(_, c gjson.Result) bool {
			spec.Capabilities = append(spec.Capabilities, c.String())
			return true
		})
		if spec.Description != "" {
			analysis.Tasks = append(analysis.Tasks, spec)
		}
		return true
	})

	if len(analysis.Tasks) == 0 && analysis.Direct == "" {
		return FallbackAnalysis(query)
	}
	return analysis
}
