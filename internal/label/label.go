package label

import (
	"fmt"
	"sort"
	"strings"
)

// integrityLevel orders trust classes. Lower is less trusted.
type integrityLevel int

const (
	levelUntrusted integrityLevel = iota
	levelTrusted
	levelVerified
)

// Integrity classifies the trust of a value's origin and transformation
// history. The zero value is Untrusted. A Verified integrity can only be
// produced by a successful verifier invocation through Registry.Verify;
// there is no other constructor.
type Integrity struct {
	level integrityLevel
	kind  string
}

// Untrusted returns the least-trusted integrity. This is the default for
// anything derived from external tool output.
func Untrusted() Integrity {
	return Integrity{level: levelUntrusted}
}

// Trusted returns the integrity of host- or user-originated data.
func Trusted() Integrity {
	return Integrity{level: levelTrusted}
}

// IsUntrusted reports whether this is the untrusted class.
func (i Integrity) IsUntrusted() bool { return i.level == levelUntrusted }

// IsTrusted reports whether this is the trusted (but not verified) class.
func (i Integrity) IsTrusted() bool { return i.level == levelTrusted }

// IsVerified reports whether this integrity was produced by a verifier.
func (i Integrity) IsVerified() bool { return i.level == levelVerified }

// VerifiedKind returns the verification kind, or "" if not verified.
func (i Integrity) VerifiedKind() string {
	if i.level != levelVerified {
		return ""
	}
	return i.kind
}

// String renders the integrity as "untrusted", "trusted", or "verified:<kind>".
func (i Integrity) String() string {
	switch i.level {
	case levelVerified:
		return "verified:" + i.kind
	case levelTrusted:
		return "trusted"
	default:
		return "untrusted"
	}
}

// JoinIntegrity combines two integrities, most-restrictive wins.
// Untrusted dominates everything. Two verified integrities of different
// kinds join to Trusted: the combination no longer carries either proof.
func JoinIntegrity(a, b Integrity) Integrity {
	if a.level < b.level {
		return a
	}
	if b.level < a.level {
		return b
	}
	if a.level == levelVerified && a.kind != b.kind {
		return Trusted()
	}
	return a
}

// Requirement is a declarative integrity constraint from a tool signature,
// e.g. "Trusted" or "Verified(email_address)".
type Requirement struct {
	verified bool
	kind     string
}

// ParseRequirement parses a requirement string from a policy document.
// Accepted forms: "Trusted", "Verified(<kind>)".
func ParseRequirement(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	if s == "Trusted" {
		return Requirement{}, nil
	}
	if strings.HasPrefix(s, "Verified(") && strings.HasSuffix(s, ")") {
		kind := s[len("Verified(") : len(s)-1]
		if kind == "" {
			return Requirement{}, fmt.Errorf("label: empty verification kind in requirement %q", s)
		}
		return Requirement{verified: true, kind: kind}, nil
	}
	return Requirement{}, fmt.Errorf("label: unrecognized integrity requirement %q", s)
}

// SatisfiedBy reports whether an integrity meets this requirement.
// A Verified(kind) requirement is met only by that exact kind; Trusted is
// met by Trusted or any Verified integrity.
func (r Requirement) SatisfiedBy(i Integrity) bool {
	if r.verified {
		return i.IsVerified() && i.VerifiedKind() == r.kind
	}
	return !i.IsUntrusted()
}

// String renders the requirement in policy-document form.
func (r Requirement) String() string {
	if r.verified {
		return "Verified(" + r.kind + ")"
	}
	return "Trusted"
}

// ConfSet is a confidentiality label set: an unordered set of sensitivity
// tags (secret classes, personal-data classes). Sets only grow through
// propagation.
type ConfSet map[string]bool

// NewConfSet builds a set from tags.
func NewConfSet(tags ...string) ConfSet {
	cs := make(ConfSet, len(tags))
	for _, t := range tags {
		cs[t] = true
	}
	return cs
}

// Contains reports whether the set carries a tag.
func (cs ConfSet) Contains(tag string) bool { return cs[tag] }

// Union returns a new set containing the tags of both sets.
func (cs ConfSet) Union(other ConfSet) ConfSet {
	out := make(ConfSet, len(cs)+len(other))
	for t := range cs {
		out[t] = true
	}
	for t := range other {
		out[t] = true
	}
	return out
}

// Clone returns an independent copy of the set.
func (cs ConfSet) Clone() ConfSet {
	out := make(ConfSet, len(cs))
	for t := range cs {
		out[t] = true
	}
	return out
}

// SupersetOf reports whether every tag of other is present in cs.
func (cs ConfSet) SupersetOf(other ConfSet) bool {
	for t := range other {
		if !cs[t] {
			return false
		}
	}
	return true
}

// Tags returns the sorted tag list, for deterministic serialization.
func (cs ConfSet) Tags() []string {
	out := make([]string, 0, len(cs))
	for t := range cs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
