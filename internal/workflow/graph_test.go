package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraphValidation(t *testing.T) {
	base := []Node{
		{Name: "a", Edges: []string{"b"}, Default: "b"},
		{Name: "b", Terminal: true},
	}

	tests := []struct {
		name     string
		entry    string
		fallback string
		nodes    []Node
		wantErr  bool
	}{
		{name: "valid", entry: "a", fallback: "b", nodes: base},
		{name: "missing entry", entry: "zz", fallback: "b", nodes: base, wantErr: true},
		{name: "missing fallback", entry: "a", fallback: "zz", nodes: base, wantErr: true},
		{
			name: "default outside edge list", entry: "a", fallback: "b", wantErr: true,
			nodes: []Node{
				{Name: "a", Edges: []string{"b"}, Default: "c"},
				{Name: "b", Terminal: true},
			},
		},
		{
			name: "terminal with edges", entry: "a", fallback: "b", wantErr: true,
			nodes: []Node{
				{Name: "a", Edges: []string{"b"}, Default: "b"},
				{Name: "b", Terminal: true, Edges: []string{"a"}},
			},
		},
		{
			name: "duplicate node", entry: "a", fallback: "b", wantErr: true,
			nodes: append(base, Node{Name: "a", Edges: []string{"b"}, Default: "b"}),
		},
		{
			name: "no default edge", entry: "a", fallback: "b", wantErr: true,
			nodes: []Node{
				{Name: "a", Edges: []string{"b"}},
				{Name: "b", Terminal: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.entry, tt.fallback, tt.nodes)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadTopology)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGraphNext(t *testing.T) {
	g, err := NewGraph("a", "fallback", []Node{
		{Name: "a", Edges: []string{"b", "optional"}, Default: "b"},
		{Name: "b", Terminal: true},
		{Name: "fallback", Terminal: true},
	})
	require.NoError(t, err)

	a, ok := g.Node("a")
	require.True(t, ok)

	// Allowed edge to a live node passes through.
	assert.Equal(t, "b", g.Next(a, "b"))

	// Out-of-contract router value falls back to the default edge.
	assert.Equal(t, "b", g.Next(a, "never-declared"))

	// Declared edge whose node was never registered substitutes the
	// fallback node instead of failing the workflow.
	assert.Equal(t, "fallback", g.Next(a, "optional"))
}

func TestBuildGraphCoversRoles(t *testing.T) {
	roles := []string{"consultant", "data_analyst", "generalist"}
	g, err := buildGraph(roles)
	require.NoError(t, err)

	assert.Equal(t, StageAnalyze, g.Entry())
	for _, role := range roles {
		n, ok := g.Node(role)
		require.True(t, ok, role)
		assert.Equal(t, StageCritic, n.Default)
	}

	route, ok := g.Node(StageRoute)
	require.True(t, ok)
	assert.Contains(t, route.Edges, StageRespond)
	assert.Contains(t, route.Edges, "generalist")
}
