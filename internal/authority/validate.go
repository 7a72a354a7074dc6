package authority

import "sync"

// InvalidReason records why a token was stripped during validation.
type InvalidReason string

const (
	ReasonRevoked     InvalidReason = "revoked"
	ReasonExpired     InvalidReason = "expired"
	ReasonPreIssuance InvalidReason = "pre-issuance"
)

// InvalidToken describes a token stripped at a validation boundary.
type InvalidToken struct {
	ID     string
	Reason InvalidReason
}

// BoundaryValidation partitions a token set at an evaluation timestamp.
// Invalid tokens are silently excluded from the authority available to a
// policy decision, never treated as present-but-degraded.
type BoundaryValidation struct {
	Effective []*Token
	Invalid   []InvalidToken
}

// RevocationIndex is the host-owned record of revoked token identifiers.
// It is the only shared mutable resource in the engine: reads may come from
// many execution contexts concurrently while revocations are serialized.
// Thread it explicitly into every validation call; it is never a process
// singleton, and validation results are never cached across timestamps.
type RevocationIndex struct {
	mu      sync.RWMutex
	revoked map[string]bool
}

// NewRevocationIndex returns an empty index.
func NewRevocationIndex() *RevocationIndex {
	return &RevocationIndex{revoked: make(map[string]bool)}
}

// Revoke marks a token identifier revoked. Idempotent.
func (r *RevocationIndex) Revoke(tokenID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[tokenID] = true
}

// IsRevoked reports whether a token identifier has been revoked.
func (r *RevocationIndex) IsRevoked(tokenID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revoked[tokenID]
}

// ValidateAtBoundary partitions tokens into effective and invalid sets at
// an evaluation timestamp. Checks run revoked first, then expired, then
// pre-issuance, matching delegation's fail-closed ordering.
func ValidateAtBoundary(tokens []*Token, idx *RevocationIndex, at Timestamp) BoundaryValidation {
	var out BoundaryValidation
	for _, t := range tokens {
		switch {
		case idx.IsRevoked(t.ID):
			out.Invalid = append(out.Invalid, InvalidToken{ID: t.ID, Reason: ReasonRevoked})
		case t.ExpiredAt(at):
			out.Invalid = append(out.Invalid, InvalidToken{ID: t.ID, Reason: ReasonExpired})
		case t.PreIssuanceAt(at):
			out.Invalid = append(out.Invalid, InvalidToken{ID: t.ID, Reason: ReasonPreIssuance})
		default:
			out.Effective = append(out.Effective, t)
		}
	}
	return out
}

// RevalidateOnRestore re-runs boundary validation after a snapshot restore.
// Tokens valid before suspension but revoked or expired since are stripped,
// never optimistically retained. Revalidation on restore is mandatory.
func RevalidateOnRestore(tokens []*Token, idx *RevocationIndex, restoreTime Timestamp) BoundaryValidation {
	return ValidateAtBoundary(tokens, idx, restoreTime)
}
