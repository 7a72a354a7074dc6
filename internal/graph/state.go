package graph

import (
	"fmt"
	"sort"

	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/model"
)

// ValueState is the serialized tag state of one value. Content is not
// serialized: snapshots carry provenance metadata only, never payloads.
type ValueState struct {
	ID        uint64   `json:"id"`
	Integrity string   `json:"integrity"`
	Conf      []string `json:"conf,omitempty"`
	Authority []string `json:"authority,omitempty"`
	Parents   []uint64 `json:"parents,omitempty"`
}

// ContainerState is one container's linear version chain.
type ContainerState struct {
	ID       uint64   `json:"id"`
	Versions []uint64 `json:"versions"`
}

// State is a point-in-time serialization of graph state, the control stack,
// and the effect counters.
type State struct {
	Mode          string           `json:"mode"`
	NextID        uint64           `json:"next_id"`
	Version       uint64           `json:"version"`
	Values        []ValueState     `json:"values"`
	ControlStack  []uint64         `json:"control_stack,omitempty"`
	Containers    []ContainerState `json:"containers,omitempty"`
	NextContainer uint64           `json:"next_container"`
	EffectCount   int              `json:"effect_count"`
	EffectsByTool map[string]int   `json:"effects_by_tool,omitempty"`
}

// Export serializes the graph for suspension.
func (g *Graph) Export() State {
	st := State{
		Mode:          g.mode.String(),
		NextID:        uint64(g.nextID),
		Version:       g.version,
		NextContainer: uint64(g.nextContainer),
		EffectCount:   g.effectCount,
		EffectsByTool: make(map[string]int, len(g.effectsByTool)),
	}
	for tool, n := range g.effectsByTool {
		st.EffectsByTool[tool] = n
	}
	for _, id := range g.controlStack {
		st.ControlStack = append(st.ControlStack, uint64(id))
	}

	ids := make([]uint64, 0, len(g.values))
	for id := range g.values {
		ids = append(ids, uint64(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		v := g.values[model.ID(id)]
		vs := ValueState{
			ID:        id,
			Integrity: label.EncodeIntegrity(v.Integrity),
			Conf:      v.Conf.Tags(),
			Authority: append([]string(nil), v.Authority...),
		}
		for _, p := range v.Parents {
			vs.Parents = append(vs.Parents, uint64(p))
		}
		st.Values = append(st.Values, vs)
	}

	cids := make([]uint64, 0, len(g.containers))
	for cid := range g.containers {
		cids = append(cids, uint64(cid))
	}
	sort.Slice(cids, func(i, j int) bool { return cids[i] < cids[j] })
	for _, cid := range cids {
		cs := ContainerState{ID: cid}
		for _, v := range g.containers[model.ContainerID(cid)].versions {
			cs.Versions = append(cs.Versions, uint64(v))
		}
		st.Containers = append(st.Containers, cs)
	}

	return st
}

// Restore rebuilds a graph from serialized state. Structural invariants are
// re-checked: a value referencing a parent at or above its own identifier
// is a cycle, which only a corrupted snapshot can produce, and is fatal.
func Restore(st State) (*Graph, error) {
	mode := ModeNormal
	if st.Mode == "strict" {
		mode = ModeStrict
	} else if st.Mode != "normal" {
		return nil, fmt.Errorf("graph: unknown propagation mode %q", st.Mode)
	}

	g := New(mode)
	g.nextID = model.ID(st.NextID)
	g.version = st.Version
	g.nextContainer = model.ContainerID(st.NextContainer)
	g.effectCount = st.EffectCount
	for tool, n := range st.EffectsByTool {
		g.effectsByTool[tool] = n
	}

	for _, vs := range st.Values {
		integrity, err := label.DecodeStoredIntegrity(vs.Integrity)
		if err != nil {
			return nil, fmt.Errorf("graph: value %d: %w", vs.ID, err)
		}
		v := &model.Tagged{
			ID:        model.ID(vs.ID),
			Integrity: integrity,
			Conf:      label.NewConfSet(vs.Conf...),
			Authority: append([]string(nil), vs.Authority...),
		}
		for _, p := range vs.Parents {
			if p >= vs.ID {
				return nil, fmt.Errorf("%w: value %d references parent %d", ErrCycle, vs.ID, p)
			}
			if _, ok := g.values[model.ID(p)]; !ok {
				return nil, fmt.Errorf("%w: value %d references parent %d", ErrStaleValue, vs.ID, p)
			}
			v.Parents = append(v.Parents, model.ID(p))
		}
		g.values[v.ID] = v
	}

	for _, id := range st.ControlStack {
		if _, ok := g.values[model.ID(id)]; !ok {
			return nil, fmt.Errorf("%w: control stack references %d", ErrStaleValue, id)
		}
		g.controlStack = append(g.controlStack, model.ID(id))
	}

	for _, cs := range st.Containers {
		if len(cs.Versions) == 0 {
			return nil, fmt.Errorf("graph: container %d has empty version chain", cs.ID)
		}
		chain := &containerChain{}
		for _, v := range cs.Versions {
			if _, ok := g.values[model.ID(v)]; !ok {
				return nil, fmt.Errorf("%w: container %d references %d", ErrStaleValue, cs.ID, v)
			}
			chain.versions = append(chain.versions, model.ID(v))
		}
		g.containers[model.ContainerID(cs.ID)] = chain
	}

	return g, nil
}
