// Package authority implements the capability-token lifecycle: minting,
// strict delegation, revocation, and boundary validation. Tokens are never
// mutated; revocation and expiry are external facts checked against a
// host-owned index at validation time.
package authority

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Lifecycle-contract violations. These are recoverable, typed errors:
// callers branch on the specific kind with errors.Is.
var (
	ErrEmptyField                        = errors.New("authority: required field is empty")
	ErrUntrustedMinter                   = errors.New("authority: issuer is not trusted to mint tokens")
	ErrInvalidTokenLifetime              = errors.New("authority: issued_at must be before expires_at")
	ErrInvalidParentToken                = errors.New("authority: parent token cannot be delegated")
	ErrDelegationBeforeParentIssuance    = errors.New("authority: delegation precedes parent issuance")
	ErrDelegationScopeNotStrictSubset    = errors.New("authority: delegated scope must strictly narrow parent scope")
	ErrDelegationLifetimeNotStrictSubset = errors.New("authority: delegated expiry must strictly precede parent expiry")
)

// Timestamp is a monotonic lifecycle timestamp in the runtime clock domain.
type Timestamp uint64

// IssuerTrust classifies the minting issuer.
type IssuerTrust int

const (
	// UntrustedIssuer is any non-host minting source. Mints are rejected.
	UntrustedIssuer IssuerTrust = iota
	// HostTrusted is the host-side minting authority.
	HostTrusted
)

// Scope is the set of resource identifiers a token permits.
type Scope map[string]bool

// NewScope builds a scope, rejecting empty sets: a token that permits
// nothing is a configuration bug, not a useful credential.
func NewScope(resources ...string) (Scope, error) {
	if len(resources) == 0 {
		return nil, fmt.Errorf("%w: scope", ErrEmptyField)
	}
	s := make(Scope, len(resources))
	for _, r := range resources {
		if strings.TrimSpace(r) == "" {
			return nil, fmt.Errorf("%w: scope_resource", ErrEmptyField)
		}
		s[r] = true
	}
	return s, nil
}

// Contains reports whether the scope permits a resource.
func (s Scope) Contains(resource string) bool { return s[resource] }

// StrictSubsetOf reports whether s narrows parent: subset and not equal.
// Equal scope is rejected in delegation, not just wider scope.
func (s Scope) StrictSubsetOf(parent Scope) bool {
	if len(s) >= len(parent) {
		return false
	}
	for r := range s {
		if !parent[r] {
			return false
		}
	}
	return true
}

// Resources returns the sorted resource list.
func (s Scope) Resources() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Token is a host-minted capability credential. Immutable after creation;
// Parent carries delegation lineage by identifier, never by pointer.
type Token struct {
	ID         string
	Issuer     string
	Subject    string
	Capability string
	Scope      Scope
	IssuedAt   Timestamp
	ExpiresAt  Timestamp
	Parent     string
}

// MintRequest carries the parameters for minting a root token.
type MintRequest struct {
	ID          string
	Issuer      string
	IssuerTrust IssuerTrust
	Subject     string
	Capability  string
	Scope       Scope
	IssuedAt    Timestamp
	ExpiresAt   Timestamp
}

// DelegationRequest carries the parameters for delegating from a parent.
type DelegationRequest struct {
	ID          string
	DelegatedBy string
	Subject     string
	Scope       Scope
	DelegatedAt Timestamp
	ExpiresAt   Timestamp
}

// Mint creates a root authority token. Only host-trusted issuers may mint;
// untrusted issuers are rejected fail-closed. The token has no parent.
func Mint(req MintRequest) (*Token, error) {
	if err := requireFields(map[string]string{
		"token_id":   req.ID,
		"issuer":     req.Issuer,
		"subject":    req.Subject,
		"capability": req.Capability,
	}); err != nil {
		return nil, err
	}
	if len(req.Scope) == 0 {
		return nil, fmt.Errorf("%w: scope", ErrEmptyField)
	}
	if err := validateLifetime(req.IssuedAt, req.ExpiresAt); err != nil {
		return nil, err
	}
	if req.IssuerTrust != HostTrusted {
		return nil, fmt.Errorf("%w: %q", ErrUntrustedMinter, req.Issuer)
	}

	return &Token{
		ID:         req.ID,
		Issuer:     req.Issuer,
		Subject:    req.Subject,
		Capability: req.Capability,
		Scope:      req.Scope,
		IssuedAt:   req.IssuedAt,
		ExpiresAt:  req.ExpiresAt,
	}, nil
}

// Delegate derives a narrower token from parent. Invalid parents fail
// closed before the request itself is inspected: a revoked or expired
// parent is rejected regardless of whether the request is well-formed.
// Scope must strictly narrow and expiry must strictly precede the parent's.
// The child inherits the parent's capability and records lineage.
func Delegate(parent *Token, req DelegationRequest, idx *RevocationIndex) (*Token, error) {
	if idx.IsRevoked(parent.ID) {
		return nil, fmt.Errorf("%w: %q is revoked", ErrInvalidParentToken, parent.ID)
	}
	if parent.ExpiredAt(req.DelegatedAt) {
		return nil, fmt.Errorf("%w: %q is expired", ErrInvalidParentToken, parent.ID)
	}
	if req.DelegatedAt < parent.IssuedAt {
		return nil, fmt.Errorf("%w: delegated_at %d before parent issued_at %d",
			ErrDelegationBeforeParentIssuance, req.DelegatedAt, parent.IssuedAt)
	}

	if err := requireFields(map[string]string{
		"token_id":     req.ID,
		"delegated_by": req.DelegatedBy,
		"subject":      req.Subject,
	}); err != nil {
		return nil, err
	}
	if err := validateLifetime(req.DelegatedAt, req.ExpiresAt); err != nil {
		return nil, err
	}
	if !req.Scope.StrictSubsetOf(parent.Scope) {
		return nil, ErrDelegationScopeNotStrictSubset
	}
	if req.ExpiresAt >= parent.ExpiresAt {
		return nil, fmt.Errorf("%w: delegated expiry %d, parent expiry %d",
			ErrDelegationLifetimeNotStrictSubset, req.ExpiresAt, parent.ExpiresAt)
	}

	return &Token{
		ID:         req.ID,
		Issuer:     req.DelegatedBy,
		Subject:    req.Subject,
		Capability: parent.Capability,
		Scope:      req.Scope,
		IssuedAt:   req.DelegatedAt,
		ExpiresAt:  req.ExpiresAt,
		Parent:     parent.ID,
	}, nil
}

// ExpiredAt reports expiry at an evaluation time. The boundary is
// inclusive: a token expiring at t is expired at t.
func (t *Token) ExpiredAt(at Timestamp) bool { return at >= t.ExpiresAt }

// PreIssuanceAt reports whether the evaluation time precedes issuance.
func (t *Token) PreIssuanceAt(at Timestamp) bool { return at < t.IssuedAt }

// Grants reports whether the token authorizes subject to exercise
// capability on resource. All three must match.
func (t *Token) Grants(subject, capability, resource string) bool {
	return t.Subject == subject && t.Capability == capability && t.Scope.Contains(resource)
}

func requireFields(fields map[string]string) error {
	// Deterministic check order for stable error messages.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(fields[name]) == "" {
			return fmt.Errorf("%w: %s", ErrEmptyField, name)
		}
	}
	return nil
}

func validateLifetime(issuedAt, expiresAt Timestamp) error {
	if expiresAt <= issuedAt {
		return fmt.Errorf("%w: issued_at %d, expires_at %d", ErrInvalidTokenLifetime, issuedAt, expiresAt)
	}
	return nil
}
