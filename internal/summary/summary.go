// Package summary computes bounded roll-ups of a value's transitive
// dependencies so policy checks stay cheap on every external call. The fast
// path is a cache hit for the current graph version; the explain path
// reconstructs a redacted witness and only runs when a decision is not
// Allow.
package summary

import (
	"sort"

	"github.com/ppiankov/flowguard/internal/graph"
	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/model"
)

// Budgets bounds a single summarization traversal. Budget checks run in a
// fixed, documented order each expansion: closure steps first, then distinct
// values, then parents-per-value. Exceeding any budget truncates the
// summary, which forces fail-closed handling downstream.
type Budgets struct {
	MaxValues          int `yaml:"max_values"`
	MaxParentsPerValue int `yaml:"max_parents_per_value"`
	MaxClosureSteps    int `yaml:"max_closure_steps"`
	MaxWitnessDepth    int `yaml:"max_witness_depth"`
}

// DefaultBudgets returns the limits used when a policy document does not
// override them.
func DefaultBudgets() Budgets {
	return Budgets{
		MaxValues:          100000,
		MaxParentsPerValue: 64,
		MaxClosureSteps:    10000,
		MaxWitnessDepth:    32,
	}
}

// Summarizer produces dependency summaries over one execution's graph.
// The cache holds summaries for the graph version last observed; when the
// version advances every entry is stale, so the whole map is dropped rather
// than left to accumulate dead entries across the execution's lifetime.
type Summarizer struct {
	g       *graph.Graph
	budgets Budgets
	version uint64
	cache   map[model.ID]model.DependencySummary
}

// New creates a summarizer for a graph with the given budgets.
func New(g *graph.Graph, budgets Budgets) *Summarizer {
	return &Summarizer{
		g:       g,
		budgets: budgets,
		version: g.Version(),
		cache:   make(map[model.ID]model.DependencySummary),
	}
}

// Budgets returns the configured traversal budgets.
func (s *Summarizer) Budgets() Budgets { return s.budgets }

// Summarize rolls up the transitive dependencies of a value: integrity
// joined most-restrictive-wins, confidentiality and authority unioned, and
// distinct origins counted. On budget overflow the summary is marked
// truncated with integrity forced to the most restrictive value. Errors are
// internal-consistency failures only.
func (s *Summarizer) Summarize(id model.ID) (model.DependencySummary, error) {
	if v := s.g.Version(); v != s.version {
		s.version = v
		clear(s.cache)
	}
	if cached, ok := s.cache[id]; ok {
		return cached, nil
	}

	root, err := s.g.Value(id)
	if err != nil {
		return model.DependencySummary{}, err
	}

	out := model.DependencySummary{
		Value:     id,
		Integrity: root.Integrity,
		Conf:      root.Conf.Clone(),
	}
	authSet := make(map[string]bool)
	for _, a := range root.Authority {
		authSet[a] = true
	}

	visited := map[model.ID]bool{id: true}
	queue := []model.ID{id}
	steps := 0
	origins := 0
	if len(root.Parents) == 0 {
		origins = 1
	}

	for len(queue) > 0 && !out.Truncated {
		cur := queue[0]
		queue = queue[1:]

		// Budget order: steps, then values, then parents.
		steps++
		if steps > s.budgets.MaxClosureSteps {
			out.Truncated = true
			break
		}

		v, err := s.g.Value(cur)
		if err != nil {
			return model.DependencySummary{}, err
		}

		// Verified values are provenance boundaries: the verifier attested
		// them with their conf and authority state sealed in at verification
		// time, so the ancestry behind them does not re-taint the summary.
		if v.Integrity.IsVerified() {
			if len(v.Parents) > 0 {
				origins++
			}
			continue
		}

		expanded := 0
		for _, p := range v.Parents {
			if visited[p] {
				continue
			}
			if len(visited) >= s.budgets.MaxValues {
				out.Truncated = true
				break
			}
			expanded++
			if expanded > s.budgets.MaxParentsPerValue {
				out.Truncated = true
				break
			}

			pv, err := s.g.Value(p)
			if err != nil {
				return model.DependencySummary{}, err
			}
			visited[p] = true
			queue = append(queue, p)

			out.Integrity = label.JoinIntegrity(out.Integrity, pv.Integrity)
			out.Conf = out.Conf.Union(pv.Conf)
			for _, a := range pv.Authority {
				authSet[a] = true
			}
			if len(pv.Parents) == 0 {
				origins++
			}
		}
	}

	if out.Truncated {
		// Unknown-top: anything unreached could carry any label.
		out.Integrity = label.Untrusted()
	}
	out.Origins = origins

	out.Authority = make([]string, 0, len(authSet))
	for a := range authSet {
		out.Authority = append(out.Authority, a)
	}
	sort.Strings(out.Authority)

	s.cache[id] = out
	return out, nil
}
