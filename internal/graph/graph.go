// Package graph builds the value dependency graph as the interpreter
// executes. It owns value creation, edge recording, the control-context
// stack, and mutable-container version chains for one execution. A graph is
// single-threaded by design: concurrent executions each own a separate
// graph and never share state.
package graph

import (
	"errors"
	"fmt"

	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/model"
)

// MaxDirectParents bounds the direct dependency list of a single value.
// Exceeding it indicates a host-integration defect, not adversarial input:
// interpreters produce operations with small, fixed arity.
const MaxDirectParents = 1024

// Internal-consistency failures. These are fatal for the current execution
// step: they indicate a host-integration bug and must abort rather than
// degrade into an approximate answer.
var (
	ErrStaleValue       = errors.New("graph: stale value identifier")
	ErrControlUnderflow = errors.New("graph: control stack underflow")
	ErrUnknownContainer = errors.New("graph: unknown container identity")
	ErrTooManyParents   = errors.New("graph: direct parent list exceeds bound")
	ErrCycle            = errors.New("graph: dependency cycle detected")
)

// ErrVerifiedIntegrity rejects creation of a value carrying a Verified label
// outside verifier adoption. Verified integrity names a proof; only
// AdoptVerified, reached through a successful verifier run, may record one.
var ErrVerifiedIntegrity = errors.New("graph: verified integrity requires verifier adoption")

// Mode selects how much provenance propagates to new values.
type Mode int

const (
	// ModeNormal propagates data dependencies only.
	ModeNormal Mode = iota
	// ModeStrict additionally propagates every dependency on the active
	// control-context stack, closing the channel where a secret decides
	// whether (or how many times) an effect happens without ever being
	// copied into an argument.
	ModeStrict
)

// String renders the mode for logs and snapshots.
func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "normal"
}

type containerChain struct {
	versions []model.ID
}

// Graph is the per-execution dependency graph and propagation engine.
type Graph struct {
	mode          Mode
	values        map[model.ID]*model.Tagged
	nextID        model.ID
	version       uint64
	controlStack  []model.ID
	containers    map[model.ContainerID]*containerChain
	nextContainer model.ContainerID
	effectCount   int
	effectsByTool map[string]int
}

// New creates an empty graph in the given propagation mode.
func New(mode Mode) *Graph {
	return &Graph{
		mode:          mode,
		values:        make(map[model.ID]*model.Tagged),
		containers:    make(map[model.ContainerID]*containerChain),
		effectsByTool: make(map[string]int),
	}
}

// Mode returns the propagation mode fixed at construction.
func (g *Graph) Mode() Mode { return g.mode }

// Version returns the edge-set version, bumped on every value creation.
// Summary caches key on it so stale entries can never hit.
func (g *Graph) Version() uint64 { return g.version }

// Len returns the number of tracked values.
func (g *Graph) Len() int { return len(g.values) }

// CreateValue records a newly produced runtime value with its intrinsic
// labels and direct data dependencies. The payload itself never enters the
// graph; only its shadow does. Cost is O(len(parents)). In strict mode the
// active control-context identifiers are appended as extra dependencies.
// A Verified integrity is rejected here: it can only enter through
// AdoptVerified. Unresolvable parents are a fatal consistency error.
func (g *Graph) CreateValue(integrity label.Integrity, conf label.ConfSet, authority []string, parents []model.ID) (*model.Tagged, error) {
	if integrity.IsVerified() {
		return nil, ErrVerifiedIntegrity
	}
	return g.create(integrity, conf, authority, parents)
}

func (g *Graph) create(integrity label.Integrity, conf label.ConfSet, authority []string, parents []model.ID) (*model.Tagged, error) {
	deps, err := g.resolveParents(parents)
	if err != nil {
		return nil, err
	}

	g.nextID++
	v := &model.Tagged{
		ID:        g.nextID,
		Integrity: integrity,
		Conf:      conf.Clone(),
		Authority: append([]string(nil), authority...),
		Parents:   deps,
	}
	g.values[v.ID] = v
	g.version++
	return v, nil
}

// AdoptVerified records a new value carrying a verifier-produced integrity.
// The caller supplies the sealed confidentiality and authority state, which
// must already cover the source's full transitive closure: summarization
// treats verified values as provenance boundaries and does not traverse past
// them, so whatever is sealed here is all that flows onward. The parent edge
// to the source is kept for witness reconstruction only.
func (g *Graph) AdoptVerified(source model.ID, verified label.Integrity, conf label.ConfSet, authority []string) (*model.Tagged, error) {
	if _, err := g.Value(source); err != nil {
		return nil, err
	}
	return g.create(verified, conf, authority, []model.ID{source})
}

// Value looks up a tracked value. A missing identifier is fatal.
func (g *Graph) Value(id model.ID) (*model.Tagged, error) {
	v, ok := g.values[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrStaleValue, id)
	}
	return v, nil
}

// EnterControl pushes a condition value onto the control-context stack when
// execution enters a conditional or loop body guarded by it.
func (g *Graph) EnterControl(condition model.ID) error {
	if _, err := g.Value(condition); err != nil {
		return err
	}
	g.controlStack = append(g.controlStack, condition)
	return nil
}

// ExitControl pops the control-context stack when execution leaves a
// guarded body. Popping an empty stack is a host-integration bug.
func (g *Graph) ExitControl() error {
	if len(g.controlStack) == 0 {
		return ErrControlUnderflow
	}
	g.controlStack = g.controlStack[:len(g.controlStack)-1]
	return nil
}

// ControlDepth returns the number of active control conditions.
func (g *Graph) ControlDepth() int { return len(g.controlStack) }

// RecordEffect counts an effect occurrence for side-channel-aware context
// checks.
func (g *Graph) RecordEffect(tool string) {
	g.effectCount++
	g.effectsByTool[tool]++
}

// Context returns the ambient execution-context summary: the join of the
// active control conditions' intrinsic labels plus effect counters. The
// execution layer deepens the integrity and confidentiality with each
// condition's transitive summary before any policy check, so a condition
// derived from tainted data denies even when its intrinsic label is clean.
func (g *Graph) Context() (model.ContextSummary, error) {
	cs := model.ContextSummary{
		Integrity:     label.Trusted(),
		Conf:          label.NewConfSet(),
		ControlDeps:   append([]model.ID(nil), g.controlStack...),
		EffectCount:   g.effectCount,
		EffectsByTool: make(map[string]int, len(g.effectsByTool)),
	}
	for tool, n := range g.effectsByTool {
		cs.EffectsByTool[tool] = n
	}

	for _, id := range g.controlStack {
		v, err := g.Value(id)
		if err != nil {
			return model.ContextSummary{}, err
		}
		cs.Integrity = label.JoinIntegrity(cs.Integrity, v.Integrity)
		cs.Conf = cs.Conf.Union(v.Conf)
	}
	return cs, nil
}

func (g *Graph) resolveParents(parents []model.ID) ([]model.ID, error) {
	var deps []model.ID
	seen := make(map[model.ID]bool, len(parents))

	appendDep := func(id model.ID) error {
		if seen[id] {
			return nil
		}
		if _, ok := g.values[id]; !ok {
			return fmt.Errorf("%w: %d", ErrStaleValue, id)
		}
		seen[id] = true
		deps = append(deps, id)
		return nil
	}

	for _, id := range parents {
		if err := appendDep(id); err != nil {
			return nil, err
		}
	}
	if g.mode == ModeStrict {
		for _, id := range g.controlStack {
			if err := appendDep(id); err != nil {
				return nil, err
			}
		}
	}

	if len(deps) > MaxDirectParents {
		return nil, fmt.Errorf("%w: %d parents", ErrTooManyParents, len(deps))
	}
	return deps, nil
}
