package graph

import (
	"fmt"

	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/model"
)

// NewContainer registers a mutable container whose initial tag state is the
// given already-tracked value. The container's version chain starts there.
func (g *Graph) NewContainer(initial model.ID) (model.ContainerID, error) {
	if _, err := g.Value(initial); err != nil {
		return 0, err
	}
	g.nextContainer++
	g.containers[g.nextContainer] = &containerChain{versions: []model.ID{initial}}
	return g.nextContainer, nil
}

// MutateContainer appends a new version to the container's linear chain.
// The new version depends on the previous version and the mutation's inputs,
// so the chain never branches and the graph stays acyclic under heavy
// mutation. Returns the value representing the new version.
func (g *Graph) MutateContainer(cid model.ContainerID, integrity label.Integrity, conf label.ConfSet, inputs []model.ID) (*model.Tagged, error) {
	chain, ok := g.containers[cid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownContainer, cid)
	}

	prev := chain.versions[len(chain.versions)-1]
	parents := append([]model.ID{prev}, inputs...)
	v, err := g.CreateValue(integrity, conf, nil, parents)
	if err != nil {
		return nil, err
	}
	chain.versions = append(chain.versions, v.ID)
	return v, nil
}

// ReadContainer records a read of the container's current version and
// returns a fresh value depending on that version. Aliases of the same
// container observe whichever version is current at their read time.
func (g *Graph) ReadContainer(cid model.ContainerID) (*model.Tagged, error) {
	chain, ok := g.containers[cid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownContainer, cid)
	}

	cur, err := g.Value(chain.versions[len(chain.versions)-1])
	if err != nil {
		return nil, err
	}
	// A read of a verified current version must keep the verified label, so
	// it goes through the adoption path with the version's sealed state.
	if cur.Integrity.IsVerified() {
		return g.create(cur.Integrity, cur.Conf, cur.Authority, []model.ID{cur.ID})
	}
	return g.CreateValue(cur.Integrity, cur.Conf, nil, []model.ID{cur.ID})
}

// ContainerVersion returns the container's current version value identifier.
func (g *Graph) ContainerVersion(cid model.ContainerID) (model.ID, error) {
	chain, ok := g.containers[cid]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownContainer, cid)
	}
	return chain.versions[len(chain.versions)-1], nil
}

// ContainerChain returns the container's full version chain, oldest first.
// Used by snapshots.
func (g *Graph) ContainerChain(cid model.ContainerID) ([]model.ID, error) {
	chain, ok := g.containers[cid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownContainer, cid)
	}
	return append([]model.ID(nil), chain.versions...), nil
}
