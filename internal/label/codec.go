package label

import (
	"fmt"
	"strings"
)

// EncodeIntegrity renders an integrity for snapshot serialization. The
// format matches String().
func EncodeIntegrity(i Integrity) string {
	return i.String()
}

// DecodeIntegrity parses an encoded integrity from untrusted input. Verified
// encodings are refused here: a Verified label names a proof, and proofs are
// only produced by Registry.Verify or re-materialized by the host restore
// path (DecodeStoredIntegrity). Accepting "verified:<kind>" from arbitrary
// strings would make the label forgeable.
func DecodeIntegrity(s string) (Integrity, error) {
	switch {
	case s == "untrusted":
		return Untrusted(), nil
	case s == "trusted":
		return Trusted(), nil
	case strings.HasPrefix(s, "verified:"):
		return Integrity{}, fmt.Errorf("label: verified integrity %q cannot be decoded from input; it is only produced by a verifier", s)
	default:
		return Integrity{}, fmt.Errorf("label: unrecognized integrity encoding %q", s)
	}
}

// DecodeStoredIntegrity parses a snapshot-encoded integrity, including
// Verified kinds. This is a host-only restore path: snapshots are produced
// and consumed by the host, so decoded Verified labels re-materialize proofs
// the host itself recorded. It must never be fed agent-supplied strings;
// graph creation independently rejects verified labels arriving outside
// verifier adoption.
func DecodeStoredIntegrity(s string) (Integrity, error) {
	if strings.HasPrefix(s, "verified:") {
		kind := strings.TrimPrefix(s, "verified:")
		if kind == "" {
			return Integrity{}, fmt.Errorf("label: empty verified kind in %q", s)
		}
		return Integrity{level: levelVerified, kind: kind}, nil
	}
	return DecodeIntegrity(s)
}
