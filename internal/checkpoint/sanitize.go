package checkpoint

import (
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/spectrad/internal/state"
)

// encodeState serializes a workflow state snapshot. Non-serializable
// fragments must not abort the checkpoint: offending metadata values and
// execution parameters are coerced to their string form, and the affected
// keys are reported so the Manager can annotate the snapshot.
func encodeState(st *state.WorkflowState) ([]byte, []string, error) {
	if blob, err := json.Marshal(st); err == nil {
		return blob, nil, nil
	}

	var coerced []string
	clone := *st
	clone.Meta = sanitizeMap(st.Meta, "meta", &coerced)
	if len(st.Executions) > 0 {
		clone.Executions = make([]state.ExecutionRecord, len(st.Executions))
		copy(clone.Executions, st.Executions)
		for i := range clone.Executions {
			prefix := fmt.Sprintf("executions[%d].params", i)
			clone.Executions[i].Params = sanitizeMap(clone.Executions[i].Params, prefix, &coerced)
		}
	}

	blob, err := json.Marshal(&clone)
	if err != nil {
		return nil, coerced, fmt.Errorf("state not serializable after sanitization: %w", err)
	}
	return blob, coerced, nil
}

// sanitizeMap replaces values that fail to marshal with their string form.
func sanitizeMap(m map[string]any, prefix string, coerced *[]string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, err := json.Marshal(v); err != nil {
			out[k] = fmt.Sprint(v)
			*coerced = append(*coerced, prefix+"."+k)
			continue
		}
		out[k] = v
	}
	return out
}

// decodeState deserializes a snapshot and reinstates the required-fields
// invariant, so states written by older versions load cleanly.
func decodeState(blob []byte) (*state.WorkflowState, error) {
	var st state.WorkflowState
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint state: %w", err)
	}
	st.Normalize()
	return &st, nil
}
