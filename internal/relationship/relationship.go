// Package relationship implements the relationship index (spec §4.7):
// forward edges live on the source entity's own event stream; backward and
// fuzzy edges are materialized here, in a per-instance arena keyed by the
// composite tuple (fromNs, fromId, predicate, toNs, toId) per spec.md §9's
// "Cyclic relationship graphs" design note — never an owning pointer
// between entities.
//
// Grounded on the teacher's internal/deps package, which indexes
// forward/backward dependency edges between issues the same way this
// package indexes forward/backward entity relations.
package relationship

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/parquedb/parquedb/internal/types"
)

// ErrReferenceNotFound is returned by Link when the target entity does not
// exist and autoCreate was not requested (spec §4.7, §7).
var ErrReferenceNotFound = errors.New("relationship: reference not found")

// EntityCreator is the capability relationship.Index needs to materialize
// an auto-create stub; the entity engine implements it, and the import
// runs index -> types only, so relationship never imports internal/entity
// (avoiding the entity <-> relationship import cycle a direct dependency
// would create).
type EntityCreator interface {
	CreateStub(ctx context.Context, ns, id, typ string) (*types.Entity, error)
	Exists(ctx context.Context, id types.EntityId) (bool, error)
}

// LinkOptions controls Link's target-resolution and edge semantics.
type LinkOptions struct {
	AutoCreate bool
	Mode       types.Mode
	TargetType string // used only when AutoCreate creates a stub
}

// GetOptions controls GetRelated's scan.
type GetOptions struct {
	Direction types.Direction
}

// Index materializes backward/fuzzy relationship edges for O(1) reverse
// scans (spec §4.7). The zero value is not usable; use New.
type Index struct {
	mu      sync.RWMutex
	creator EntityCreator

	// forward/backward key the same edge set from each endpoint so
	// GetRelated can scan in either direction without a table scan.
	forward  map[string][]types.RelationshipEdge // key: fromNs/fromId/predicate
	backward map[string][]types.RelationshipEdge // key: toNs/toId/predicate
}

// New returns an empty Index. creator may be nil if autoCreate is never
// used by the caller.
func New(creator EntityCreator) *Index {
	return &Index{
		creator:  creator,
		forward:  make(map[string][]types.RelationshipEdge),
		backward: make(map[string][]types.RelationshipEdge),
	}
}

// SetCreator binds the auto-create capability after construction, for the
// common case where the creator (the entity engine) itself depends on this
// Index and so cannot be built before it.
func (idx *Index) SetCreator(creator EntityCreator) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.creator = creator
}

func forwardKey(ns string, id types.EntityId, predicate string) string {
	return ns + "/" + string(id) + "/" + predicate
}

func backwardKey(ns string, id types.EntityId, predicate string) string {
	return ns + "/" + string(id) + "/" + predicate
}

// Link creates a relationship edge from -> to under predicate (spec §4.7).
// Idempotent: linking the same tuple twice is a no-op. When the target
// doesn't exist, AutoCreate=false rejects with ErrReferenceNotFound;
// AutoCreate=true materializes a stub via the injected EntityCreator,
// exactly when to is a bare id (no directive-bearing object is modeled at
// this layer — the command path resolves object-vs-id before calling Link).
func (idx *Index) Link(ctx context.Context, from types.EntityId, predicate string, to types.EntityId, opts LinkOptions) (types.RelationshipEdge, error) {
	if idx.creator != nil {
		exists, err := idx.creator.Exists(ctx, to)
		if err != nil {
			return types.RelationshipEdge{}, fmt.Errorf("relationship: check target %s: %w", to, err)
		}
		if !exists {
			if !opts.AutoCreate {
				return types.RelationshipEdge{}, fmt.Errorf("relationship: link %s -%s-> %s: %w", from, predicate, to, ErrReferenceNotFound)
			}
			if _, err := idx.creator.CreateStub(ctx, to.Namespace(), to.Local(), opts.TargetType); err != nil {
				return types.RelationshipEdge{}, fmt.Errorf("relationship: auto-create stub %s: %w", to, err)
			}
		}
	}

	mode := opts.Mode
	if mode == "" {
		mode = types.ModeExact
	}
	edge := types.RelationshipEdge{
		FromNs: from.Namespace(), FromID: from,
		Predicate: predicate,
		ToNs:      to.Namespace(), ToID: to,
		Direction: types.DirectionForward,
		Mode:      mode,
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	fk := forwardKey(edge.FromNs, from, predicate)
	for _, e := range idx.forward[fk] {
		if e.Key() == edge.Key() {
			return e, nil // idempotent
		}
	}
	edge.Order = len(idx.forward[fk])
	idx.forward[fk] = append(idx.forward[fk], edge)

	bk := backwardKey(edge.ToNs, to, predicate)
	idx.backward[bk] = append(idx.backward[bk], edge)

	return edge, nil
}

// Unlink removes a relationship edge, idempotently (unlinking a
// non-existent edge is not an error).
func (idx *Index) Unlink(from types.EntityId, predicate string, to types.EntityId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	fk := forwardKey(from.Namespace(), from, predicate)
	idx.forward[fk] = removeEdge(idx.forward[fk], from, to)

	bk := backwardKey(to.Namespace(), to, predicate)
	idx.backward[bk] = removeEdge(idx.backward[bk], from, to)
}

func removeEdge(edges []types.RelationshipEdge, from, to types.EntityId) []types.RelationshipEdge {
	out := edges[:0]
	for _, e := range edges {
		if e.FromID == from && e.ToID == to {
			continue
		}
		out = append(out, e)
	}
	return out
}

// GetRelated returns the edges for (ns, id, predicate) in the requested
// direction, preserving insertion order for array relations (spec §4.7).
func (idx *Index) GetRelated(ns string, id types.EntityId, predicate string, opts GetOptions) []types.RelationshipEdge {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var edges []types.RelationshipEdge
	if opts.Direction == types.DirectionBackward {
		edges = idx.backward[backwardKey(ns, id, predicate)]
	} else {
		edges = idx.forward[forwardKey(ns, id, predicate)]
	}
	out := make([]types.RelationshipEdge, len(edges))
	copy(out, edges)
	return out
}

// DeleteSource hard-deletes every outgoing edge from id (spec §4.7:
// "Deleting a source hard-deletes its outgoing edges").
func (idx *Index) DeleteSource(ns string, id types.EntityId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for fk, edges := range idx.forward {
		var remaining []types.RelationshipEdge
		for _, e := range edges {
			if e.FromNs == ns && e.FromID == id {
				bk := backwardKey(e.ToNs, e.ToID, e.Predicate)
				idx.backward[bk] = removeEdge(idx.backward[bk], e.FromID, e.ToID)
				continue
			}
			remaining = append(remaining, e)
		}
		if len(remaining) == 0 {
			delete(idx.forward, fk)
		} else {
			idx.forward[fk] = remaining
		}
	}
}

// AllEdges returns every forward edge sourced from ns, the snapshot the
// compactor (C11) folds into the canonical `rels.parquet` (spec §6). Since
// Index already holds the authoritative live edge set in memory (the same
// reason entity.Engine.NamespaceIDs serves as C6's scan base), this is a
// direct read of that arena rather than a WAL replay.
func (idx *Index) AllEdges(ns string) []types.RelationshipEdge {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []types.RelationshipEdge
	for fk, edges := range idx.forward {
		if !strings.HasPrefix(fk, ns+"/") {
			continue
		}
		out = append(out, edges...)
	}
	return out
}

// DeleteTarget leaves dangling edges in place (spec §4.7: "deleting a
// target leaves dangling edges returning null on hydration; the engine
// does not cascade"). This is a documentation no-op kept so callers have an
// explicit hook to call rather than silently doing nothing.
func (idx *Index) DeleteTarget(_ string, _ types.EntityId) {}
