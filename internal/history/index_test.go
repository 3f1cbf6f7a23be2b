package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/spectrad/internal/state"
)

func TestLookupEmptyIndex(t *testing.T) {
	ix := NewIndex(0)

	ev := ix.Lookup("classify isotopes")
	assert.Zero(t, ev.Matches)
	assert.False(t, ev.Strong)
	assert.Zero(t, ev.Score)
}

func TestLookupSuccessRate(t *testing.T) {
	ix := NewIndex(0)
	ix.Record("classify isotopes in sample", state.TaskDataAnalysis, true)
	ix.Record("classify isotopes in spectrum", state.TaskDataAnalysis, true)
	ix.Record("classify isotopes again", state.TaskDataAnalysis, false)

	ev := ix.Lookup("classify isotopes")
	assert.Equal(t, 3, ev.Matches)
	assert.True(t, ev.Strong)
	assert.InDelta(t, 2.0/3.0, ev.Score, 0.001)
}

func TestLookupWeakEvidence(t *testing.T) {
	ix := NewIndex(0)
	ix.Record("classify isotopes", state.TaskDataAnalysis, true)

	ev := ix.Lookup("classify isotopes")
	assert.Equal(t, 1, ev.Matches)
	assert.False(t, ev.Strong, "a single match is weak evidence")
	assert.Equal(t, 1.0, ev.Score)
}

func TestLookupNoMatch(t *testing.T) {
	ix := NewIndex(0)
	ix.Record("render the spectrum chart", state.TaskDataAnalysis, true)

	ev := ix.Lookup("zzzz qqqq")
	assert.Zero(t, ev.Matches)
}

func TestIndexBound(t *testing.T) {
	ix := NewIndex(10)
	for i := 0; i < 25; i++ {
		ix.Record(fmt.Sprintf("query %d", i), state.TaskConsultation, true)
	}
	assert.Equal(t, 10, ix.Len())
}
