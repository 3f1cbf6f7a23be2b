package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/spectrad/internal/state"
	"github.com/fyrsmithlabs/spectrad/internal/workflow"
)

func TestReadRequest(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "argument", args: []string{"classify this"}, want: "classify this"},
		{name: "stdin", args: nil, stdin: "  你好\n", want: "你好"},
		{name: "dash reads stdin", args: []string{"-"}, stdin: "from stdin", want: "from stdin"},
		{name: "empty", args: nil, stdin: "   \n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.SetIn(strings.NewReader(tt.stdin))
			got, err := readRequest(cmd, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintOutcome(t *testing.T) {
	st := state.NewFromRequest("classify")
	st.AddMessage(state.RoleAssistant, "Cs-137 detected.")
	st.RecordExecution(state.ExecutionRecord{
		Capability: "render_chart",
		Status:     state.ExecFailed,
		Error:      "renderer crashed",
	})
	s := &workflow.Session{
		ID:        "abc-123",
		CreatedAt: time.Now(),
		State:     st,
		Status:    workflow.StatusEnded,
		Backend:   "sqlite",
	}

	var buf bytes.Buffer
	printOutcome(&buf, s)
	out := buf.String()
	assert.Contains(t, out, "abc-123")
	assert.Contains(t, out, "status:   end")
	assert.Contains(t, out, "Cs-137 detected.")
	assert.Contains(t, out, "failed step: render_chart")
}
