package summary

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ppiankov/flowguard/internal/model"
)

// Witness is a redacted, bounded dependency path justifying a deny or
// confirm decision. It carries value identifiers and label names only,
// never raw untrusted text or secret payloads.
type Witness struct {
	Path      []model.ID `json:"path"`
	Labels    []string   `json:"labels"`
	Truncated bool       `json:"truncated"`
}

// Hash returns "sha256:<hex>" over the witness's canonical rendering, for
// audit linkage without exposing the path itself.
func (w Witness) Hash() string {
	var b strings.Builder
	for i, id := range w.Path {
		fmt.Fprintf(&b, "%d=%s;", id, w.Labels[i])
	}
	if w.Truncated {
		b.WriteString("truncated")
	}
	h := sha256.Sum256([]byte(b.String()))
	return "sha256:" + hex.EncodeToString(h[:])
}

// Explain reconstructs a bounded dependency path from a value to its
// nearest ancestor matching pred. This is the slow path: it re-walks the
// graph and is only invoked for non-Allow decisions. The path is capped at
// the witness-depth budget; deeper blame is reported truncated.
func (s *Summarizer) Explain(id model.ID, pred func(*model.Tagged) bool) (Witness, error) {
	root, err := s.g.Value(id)
	if err != nil {
		return Witness{}, err
	}

	if pred(root) {
		return s.witnessFor([]model.ID{id})
	}

	// Breadth-first with predecessor tracking so the reconstructed path is
	// a shortest dependency chain.
	prev := map[model.ID]model.ID{}
	depth := map[model.ID]int{id: 0}
	queue := []model.ID{id}
	steps := 0

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		steps++
		if steps > s.budgets.MaxClosureSteps {
			return Witness{Truncated: true}, nil
		}
		if depth[cur] >= s.budgets.MaxWitnessDepth {
			continue
		}

		v, err := s.g.Value(cur)
		if err != nil {
			return Witness{}, err
		}
		for _, p := range v.Parents {
			if _, seen := depth[p]; seen {
				continue
			}
			prev[p] = cur
			depth[p] = depth[cur] + 1

			pv, err := s.g.Value(p)
			if err != nil {
				return Witness{}, err
			}
			if pred(pv) {
				path := []model.ID{p}
				for at := cur; ; at = prev[at] {
					path = append(path, at)
					if at == id {
						break
					}
				}
				// Reverse: witness reads from the checked value down to
				// the blamed ancestor.
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return s.witnessFor(path)
			}
			queue = append(queue, p)
		}
	}

	// No matching ancestor within budget: report only the checked value.
	w, err := s.witnessFor([]model.ID{id})
	if err != nil {
		return Witness{}, err
	}
	w.Truncated = true
	return w, nil
}

func (s *Summarizer) witnessFor(path []model.ID) (Witness, error) {
	w := Witness{Path: path, Labels: make([]string, len(path))}
	for i, id := range path {
		v, err := s.g.Value(id)
		if err != nil {
			return Witness{}, err
		}
		w.Labels[i] = v.Integrity.String()
	}
	return w, nil
}
