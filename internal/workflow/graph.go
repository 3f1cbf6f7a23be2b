package workflow

import (
	"errors"
	"fmt"
)

// Stage names of the built-in topology. Worker stages are named after
// their roles and added per registered worker.
const (
	StageAnalyze   = "analyze"
	StagePlan      = "plan"
	StageRoute     = "route"
	StageCritic    = "critic"
	StageSupervise = "supervise"
	StageRespond   = "respond"
	StageEnd       = "end"
	StageAbort     = "abort"
)

var (
	ErrUnknownStage = errors.New("workflow: unknown stage")
	ErrBadTopology  = errors.New("workflow: invalid graph topology")
)

// Node is one stage in the graph: its outgoing edge allow-list and the
// default edge taken when a router produces an out-of-contract value.
// Terminal nodes have no edges.
type Node struct {
	Name     string
	Edges    []string
	Default  string
	Terminal bool
}

// Graph is the static stage topology. Behavior lives in the engine; the
// graph only validates and resolves transitions. Edge targets may name
// optional nodes that were never registered; resolution substitutes the
// declared fallback node for those at runtime.
type Graph struct {
	entry    string
	fallback string
	nodes    map[string]Node
}

// NewGraph validates and builds a topology. The entry and fallback nodes
// must exist, every default edge must be in its node's allow-list, and
// terminal nodes must not declare edges.
func NewGraph(entry, fallback string, nodes []Node) (*Graph, error) {
	g := &Graph{entry: entry, fallback: fallback, nodes: make(map[string]Node, len(nodes))}
	for _, n := range nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("%w: node with empty name", ErrBadTopology)
		}
		if _, dup := g.nodes[n.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate node %q", ErrBadTopology, n.Name)
		}
		if n.Terminal && len(n.Edges) > 0 {
			return nil, fmt.Errorf("%w: terminal node %q declares edges", ErrBadTopology, n.Name)
		}
		if !n.Terminal {
			if n.Default == "" {
				return nil, fmt.Errorf("%w: node %q has no default edge", ErrBadTopology, n.Name)
			}
			if !contains(n.Edges, n.Default) {
				return nil, fmt.Errorf("%w: node %q default %q not in edge list", ErrBadTopology, n.Name, n.Default)
			}
		}
		g.nodes[n.Name] = n
	}
	if _, ok := g.nodes[entry]; !ok {
		return nil, fmt.Errorf("%w: entry node %q not declared", ErrBadTopology, entry)
	}
	if _, ok := g.nodes[fallback]; !ok {
		return nil, fmt.Errorf("%w: fallback node %q not declared", ErrBadTopology, fallback)
	}
	return g, nil
}

// Entry returns the entry stage name.
func (g *Graph) Entry() string { return g.entry }

// Node looks up a node by name.
func (g *Graph) Node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Next resolves a router's computed target from a node. Targets outside
// the node's allow-list fall back to the declared default edge; targets
// that name no live node substitute the graph's fallback node.
func (g *Graph) Next(from Node, target string) string {
	if !contains(from.Edges, target) {
		target = from.Default
	}
	if _, ok := g.nodes[target]; !ok {
		return g.fallback
	}
	return target
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
