// Package snapshot serializes and restores execution state for
// suspension/resumption. A snapshot carries graph tag state, the control
// stack and counters, and the authority token set; restore always re-runs
// boundary validation against the current revocation index, so synchronizing
// with revocations is explicit rather than implicit.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/flowguard/internal/authority"
	"github.com/ppiankov/flowguard/internal/execution"
	"github.com/ppiankov/flowguard/internal/graph"
)

// TokenState is a serialized authority token.
type TokenState struct {
	ID         string   `json:"id"`
	Issuer     string   `json:"issuer"`
	Subject    string   `json:"subject"`
	Capability string   `json:"capability"`
	Scope      []string `json:"scope"`
	IssuedAt   uint64   `json:"issued_at"`
	ExpiresAt  uint64   `json:"expires_at"`
	Parent     string   `json:"parent,omitempty"`
}

// State is a point-in-time capture of one execution.
type State struct {
	ExecutionID string       `json:"execution_id"`
	CapturedAt  string       `json:"captured_at"`
	PolicyHash  string       `json:"policy_hash,omitempty"`
	Graph       graph.State  `json:"graph"`
	Tokens      []TokenState `json:"tokens,omitempty"`
}

// Capture serializes an execution for suspension.
func Capture(e *execution.Execution, policyHash string) State {
	st := State{
		ExecutionID: e.ID(),
		CapturedAt:  time.Now().UTC().Format(time.RFC3339),
		PolicyHash:  policyHash,
		Graph:       e.Graph().Export(),
	}
	for _, t := range e.Tokens() {
		st.Tokens = append(st.Tokens, TokenState{
			ID:         t.ID,
			Issuer:     t.Issuer,
			Subject:    t.Subject,
			Capability: t.Capability,
			Scope:      t.Scope.Resources(),
			IssuedAt:   uint64(t.IssuedAt),
			ExpiresAt:  uint64(t.ExpiresAt),
			Parent:     t.Parent,
		})
	}
	return st
}

// Restore rebuilds an execution from a snapshot. Token revalidation on
// restore is mandatory: the returned validation lists tokens stripped
// because they were revoked or expired while suspended.
func Restore(st State, cfg execution.Config) (*execution.Execution, authority.BoundaryValidation, error) {
	g, err := graph.Restore(st.Graph)
	if err != nil {
		return nil, authority.BoundaryValidation{}, fmt.Errorf("snapshot: restore graph: %w", err)
	}

	tokens := make([]*authority.Token, 0, len(st.Tokens))
	for _, ts := range st.Tokens {
		scope, err := authority.NewScope(ts.Scope...)
		if err != nil {
			return nil, authority.BoundaryValidation{}, fmt.Errorf("snapshot: token %q: %w", ts.ID, err)
		}
		tokens = append(tokens, &authority.Token{
			ID:         ts.ID,
			Issuer:     ts.Issuer,
			Subject:    ts.Subject,
			Capability: ts.Capability,
			Scope:      scope,
			IssuedAt:   authority.Timestamp(ts.IssuedAt),
			ExpiresAt:  authority.Timestamp(ts.ExpiresAt),
			Parent:     ts.Parent,
		})
	}

	e, validation := execution.Resume(cfg, st.ExecutionID, g, tokens)
	return e, validation, nil
}

// Encode renders a snapshot as indented JSON.
func Encode(st State) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot from JSON.
func Decode(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return st, nil
}
