package model

import "github.com/ppiankov/flowguard/internal/label"

// ID identifies a tracked value. IDs are process-unique and monotonically
// increasing within one execution; 0 is never a valid ID.
type ID uint64

// Tagged is the shadow of one runtime value: provenance and trust metadata
// only, never the payload. The host owns the actual value; the engine tracks
// its labels and edges. A Tagged is immutable after creation: dependency
// identifiers always refer to previously created values, so the dependency
// relation is acyclic by construction.
type Tagged struct {
	ID        ID
	Integrity label.Integrity
	Conf      label.ConfSet
	// Authority lists capability-token identifiers carried by this value.
	// Rare: authority is normally supplied at the call site, not by data.
	Authority []string
	// Parents is the ordered list of direct dependency identifiers.
	Parents []ID
}

// ContainerID identifies a mutable container. Aliases share the identity,
// not a live reference; each mutation appends a version to a linear chain.
type ContainerID uint64

// ContextSummary is the ambient control-flow state threaded through
// execution: the join of all currently active control conditions plus
// effect counters used for side-channel-aware checks.
type ContextSummary struct {
	Integrity   label.Integrity
	Conf        label.ConfSet
	ControlDeps []ID
	EffectCount int
	// EffectsByTool counts effect occurrences per tool identifier.
	EffectsByTool map[string]int
	// Truncated is set when any control condition's transitive summary
	// exceeded traversal budgets. Like an argument truncation, it must
	// never lead to Allow.
	Truncated bool
}

// DependencySummary is a bounded roll-up of a value's transitive
// dependencies: joined integrity (most-restrictive wins), joined
// confidentiality and authority sets, distinct-origin count, and a
// truncation flag. A truncated summary must never lead to Allow.
type DependencySummary struct {
	Value     ID
	Integrity label.Integrity
	Conf      label.ConfSet
	Authority []string
	Origins   int
	Truncated bool
}
