package label

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownVerifier is returned when no verifier is registered for a kind.
var ErrUnknownVerifier = errors.New("label: unknown verifier kind")

// ErrVerifierRejected wraps a verifier's rejection of a value.
var ErrVerifierRejected = errors.New("label: verifier rejected value")

// VerifyFunc inspects a value's content and existing labels and returns nil
// if the value qualifies for the verifier's kind. Verifiers must be
// deterministic and side-effect-free; they see only the tags the value
// already carries, never the dependency graph.
type VerifyFunc func(content any, integrity Integrity, conf ConfSet) error

// Registry holds host-registered verifiers. Registration happens once at
// host startup; agent-authored code never registers verifiers. A successful
// Verify call is the only way to obtain a Verified integrity.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[string]VerifyFunc
}

// NewRegistry returns an empty verifier registry.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[string]VerifyFunc)}
}

// Register installs a verifier for a kind. Re-registering a kind is a host
// configuration bug and is rejected.
func (r *Registry) Register(kind string, fn VerifyFunc) error {
	if kind == "" {
		return fmt.Errorf("label: verifier kind must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("label: verifier %q must not be nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.verifiers[kind]; exists {
		return fmt.Errorf("label: verifier %q already registered", kind)
	}
	r.verifiers[kind] = fn
	return nil
}

// Kinds returns the registered verifier kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.verifiers))
	for k := range r.verifiers {
		out = append(out, k)
	}
	return out
}

// Verify runs the verifier for kind against a value's content and existing
// labels. On success it returns the Verified(kind) integrity; on failure the
// value's integrity is unchanged and the typed error explains why.
func (r *Registry) Verify(kind string, content any, integrity Integrity, conf ConfSet) (Integrity, error) {
	r.mu.RLock()
	fn, ok := r.verifiers[kind]
	r.mu.RUnlock()

	if !ok {
		return integrity, fmt.Errorf("%w: %q", ErrUnknownVerifier, kind)
	}

	if err := fn(content, integrity, conf); err != nil {
		return integrity, fmt.Errorf("%w: kind %q: %v", ErrVerifierRejected, kind, err)
	}

	return Integrity{level: levelVerified, kind: kind}, nil
}
