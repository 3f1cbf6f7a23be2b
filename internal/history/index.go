// Package history keeps a bounded in-memory index of prior workflow cases
// and derives a success-rate score for requests similar to the one under
// review. The critic treats sparse matches as weak evidence.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"github.com/fyrsmithlabs/spectrad/internal/state"
)

// Case is one recorded workflow outcome.
type Case struct {
	ID         string         `json:"id"`
	Query      string         `json:"query"`
	TaskType   state.TaskType `json:"task_type"`
	Succeeded  bool           `json:"succeeded"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Evidence is the similarity lookup result.
type Evidence struct {
	// Score is the success rate of matched cases, in [0,1].
	Score float64

	// Matches is how many prior cases matched the query.
	Matches int

	// Strong reports whether enough similar cases matched for the score
	// to count as solid historical evidence.
	Strong bool
}

const defaultMaxCases = 512

// minStrongMatches is the match count below which evidence is weak.
const minStrongMatches = 3

// Index is a bounded, concurrency-safe case store.
type Index struct {
	mu    sync.RWMutex
	cases []Case
	max   int
}

// NewIndex creates an index bounded to maxCases entries; zero or negative
// uses the default bound. Oldest cases are evicted first.
func NewIndex(maxCases int) *Index {
	if maxCases <= 0 {
		maxCases = defaultMaxCases
	}
	return &Index{max: maxCases}
}

// Record stores a case outcome.
func (ix *Index) Record(query string, taskType state.TaskType, succeeded bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.cases = append(ix.cases, Case{
		ID:         uuid.NewString(),
		Query:      query,
		TaskType:   taskType,
		Succeeded:  succeeded,
		RecordedAt: time.Now(),
	})
	if len(ix.cases) > ix.max {
		ix.cases = ix.cases[len(ix.cases)-ix.max:]
	}
}

// Len returns the number of stored cases.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.cases)
}

// Lookup scores query against prior cases. With no matches it returns
// zero-valued evidence; callers fall back to a neutral score.
func (ix *Index) Lookup(query string) Evidence {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if query == "" || len(ix.cases) == 0 {
		return Evidence{}
	}

	matches := fuzzy.FindFrom(query, caseCorpus(ix.cases))
	if len(matches) == 0 {
		return Evidence{}
	}

	succeeded := 0
	for _, m := range matches {
		if ix.cases[m.Index].Succeeded {
			succeeded++
		}
	}

	return Evidence{
		Score:   float64(succeeded) / float64(len(matches)),
		Matches: len(matches),
		Strong:  len(matches) >= minStrongMatches,
	}
}

type caseCorpus []Case

func (c caseCorpus) String(i int) string { return c[i].Query }
func (c caseCorpus) Len() int            { return len(c) }
