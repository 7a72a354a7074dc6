package authority

import (
	"fmt"
	"sort"
)

// Arena holds tokens indexed by identifier. Delegation lineage lives in the
// Parent field, so a child only ever references an already-stored parent;
// the lineage relation is acyclic by construction and carries no owning
// pointers.
type Arena struct {
	tokens map[string]*Token
}

// NewArena returns an empty token arena.
func NewArena() *Arena {
	return &Arena{tokens: make(map[string]*Token)}
}

// Add stores a token. Identifiers are unique; re-adding is a host bug.
func (a *Arena) Add(t *Token) error {
	if _, exists := a.tokens[t.ID]; exists {
		return fmt.Errorf("authority: token %q already stored", t.ID)
	}
	if t.Parent != "" {
		if _, ok := a.tokens[t.Parent]; !ok {
			return fmt.Errorf("authority: token %q references unknown parent %q", t.ID, t.Parent)
		}
	}
	a.tokens[t.ID] = t
	return nil
}

// Get returns a token by identifier.
func (a *Arena) Get(id string) (*Token, bool) {
	t, ok := a.tokens[id]
	return t, ok
}

// Lineage returns the delegation chain from a token up to its root mint,
// starting with the token itself.
func (a *Arena) Lineage(id string) ([]*Token, error) {
	var chain []*Token
	for id != "" {
		t, ok := a.tokens[id]
		if !ok {
			return nil, fmt.Errorf("authority: lineage broken at %q", id)
		}
		chain = append(chain, t)
		id = t.Parent
	}
	return chain, nil
}

// All returns every stored token, sorted by identifier.
func (a *Arena) All() []*Token {
	out := make([]*Token, 0, len(a.tokens))
	for _, t := range a.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
