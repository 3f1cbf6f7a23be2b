// Package capability manages the catalog of named operations workers may
// invoke. Capabilities declare a parameter contract used by the router for
// role matching and by the critic's legality gate.
//
// The registry is populated once at startup and read-only afterwards; all
// lookups are safe for concurrent use.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
)

// Errors for registry operations.
var (
	ErrNotFound     = errors.New("capability not found")
	ErrDuplicate    = errors.New("capability already registered")
	ErrInvalidName  = errors.New("capability name must be non-empty")
	ErrNilHandler   = errors.New("capability handler is required")
	ErrMissingParam = errors.New("required parameter missing")
)

// Type classifies a capability by the kind of operation it performs.
type Type string

const (
	TypeTool           Type = "tool"
	TypeTask           Type = "task"
	TypeSubgraph       Type = "subgraph"
	TypeAnalysis       Type = "analysis"
	TypeVisualization  Type = "visualization"
	TypeDataProcessing Type = "data_processing"
)

// Param declares one parameter of a capability's contract.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Handler executes a capability invocation. The returned value must be
// representable as text; callers coerce rich values to their string form.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Capability is a named, registered operation with a parameter contract.
type Capability struct {
	Name        string   `json:"name"`
	Type        Type     `json:"type"`
	Description string   `json:"description"`
	Examples    []string `json:"examples,omitempty"`
	Params      []Param  `json:"params,omitempty"`

	// RetrySafe marks the capability as idempotent; only retry-safe
	// capabilities are ever retried automatically.
	RetrySafe bool `json:"retry_safe"`

	Handler Handler `json:"-"`
}

// RequiredParams returns the names of all required parameters.
func (c *Capability) RequiredParams() []string {
	var names []string
	for _, p := range c.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Registry is the capability catalog. Register during startup, then share
// freely; Get, Search, and AllByType take only a read lock.
type Registry struct {
	mu    sync.RWMutex
	caps  map[string]*Capability
	order []string // registration order, for deterministic listings
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*Capability)}
}

// Register adds a capability to the catalog.
func (r *Registry) Register(c *Capability) error {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return ErrInvalidName
	}
	if c.Handler == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, c.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, c.Name)
	}
	r.caps[c.Name] = c
	r.order = append(r.order, c.Name)
	return nil
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Names returns all capability names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// AllByType returns capabilities of the given type in registration order.
func (r *Registry) AllByType(t Type) []*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Capability
	for _, name := range r.order {
		if c := r.caps[name]; c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// Search performs a fuzzy text search over capability names, descriptions,
// and examples, returning matches ranked best first.
func (r *Registry) Search(query string) []*Capability {
	if strings.TrimSpace(query) == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	src := make(searchCorpus, 0, len(r.order))
	for _, name := range r.order {
		c := r.caps[name]
		src = append(src, searchEntry{
			cap:  c,
			text: strings.Join(append([]string{c.Name, c.Description}, c.Examples...), " "),
		})
	}

	matches := fuzzy.FindFrom(query, src)
	out := make([]*Capability, 0, len(matches))
	for _, m := range matches {
		out = append(out, src[m.Index].cap)
	}
	return out
}

// ValidateCall checks that name resolves to a registered capability and
// that every required parameter is present in params. Used by the critic's
// legality gate and by the task tracker before invocation.
func (r *Registry) ValidateCall(name string, params map[string]any) error {
	c, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	for _, p := range c.Params {
		if !p.Required {
			continue
		}
		if _, present := params[p.Name]; !present {
			return fmt.Errorf("%w: %s.%s", ErrMissingParam, name, p.Name)
		}
	}
	return nil
}

type searchEntry struct {
	cap  *Capability
	text string
}

type searchCorpus []searchEntry

func (s searchCorpus) String(i int) string { return s[i].text }
func (s searchCorpus) Len() int            { return len(s) }
