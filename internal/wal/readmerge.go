package wal

import (
	"context"
	"fmt"

	"github.com/parquedb/parquedb/internal/types"
)

// ReadOptions controls GetEntityFromEvents' reconstruction (spec §4.4,
// §4.6 "asOf").
type ReadOptions struct {
	// AsOfSeq, when non-zero, bounds reconstruction to rows with
	// seq ≤ AsOfSeq (time-travel, spec.md §9 Open Question (b)).
	AsOfSeq uint64
	// IncludeDeleted, when false (the default), causes a soft-deleted
	// entity's state to read back as not-found.
	IncludeDeleted bool
}

const unboundedSeq = ^uint64(0)

// GetEntityFromEvents reconstructs (ns, id)'s state by folding, in order,
// the newest applicable snapshot, pending row-groups, WAL batches, and the
// in-memory buffer (spec §4.4, "Read-merge"). A nil return with a nil error
// means the entity does not exist or is soft-deleted and IncludeDeleted was
// not requested.
func (s *Store) GetEntityFromEvents(ctx context.Context, ns string, id types.EntityId, opts ReadOptions) (*types.Document, error) {
	asOf := opts.AsOfSeq
	if asOf == 0 {
		asOf = unboundedSeq
	}
	target := types.EntityTarget(id)

	var state *types.Document
	var startSeq uint64
	replayed := 0

	if s.snapshots != nil {
		snap, ok, err := s.snapshots.GetLatestSnapshot(ctx, ns, id, asOf)
		if err != nil {
			return nil, fmt.Errorf("wal: read-merge %s/%s: snapshot: %w", ns, id, err)
		}
		if ok {
			state = snap.State
			startSeq = snap.Seq
		}
	}

	for _, rg := range s.PendingRowGroups(ns) {
		if rg.LastSeq <= startSeq || rg.FirstSeq > asOf {
			continue
		}
		data, _, err := s.blobs.Read(ctx, rg.Path)
		if err != nil {
			return nil, fmt.Errorf("wal: read-merge %s/%s: pending row-group %s: %w", ns, id, rg.Path, err)
		}
		rows, err := decodePendingRowGroup(data)
		if err != nil {
			return nil, fmt.Errorf("wal: read-merge %s/%s: decode %s: %w", ns, id, rg.Path, err)
		}
		if doc, ok := rows[string(id)]; ok {
			state = doc
			replayed++
		}
	}

	for _, b := range s.Batches(ns) {
		if b.LastSeq <= startSeq || b.FirstSeq > asOf {
			continue
		}
		data, _, err := s.blobs.Read(ctx, b.Path)
		if err != nil {
			return nil, fmt.Errorf("wal: read-merge %s/%s: batch %s: %w", ns, id, b.Path, err)
		}
		events, err := decodeEventBatch(data)
		if err != nil {
			return nil, fmt.Errorf("wal: read-merge %s/%s: decode %s: %w", ns, id, b.Path, err)
		}
		// A batch straddling startSeq (the snapshot's cutoff) is only
		// partly covered; events are appended one per seq increment, so
		// the i-th event's seq is b.FirstSeq+i, letting the already-
		// snapshotted prefix be skipped instead of replayed over state
		// a second time.
		for i, ev := range events {
			if b.FirstSeq+uint64(i) <= startSeq {
				continue
			}
			if b.FirstSeq+uint64(i) > asOf {
				break
			}
			if applied, matched := applyIfMatches(state, ev, id, target); matched {
				state = applied
				replayed++
			}
		}
	}

	s.mu.Lock()
	buf := s.buffers[ns]
	var bufEvents []*types.Event
	var bufFirstSeq uint64
	currentSeq := s.seqs[ns]
	if buf != nil {
		bufEvents = append(bufEvents, buf.events...)
		bufFirstSeq = buf.firstSeq
	}
	s.mu.Unlock()
	if asOf < currentSeq {
		currentSeq = asOf
	}

	for i, ev := range bufEvents {
		if bufFirstSeq+uint64(i) > asOf {
			break
		}
		if applied, matched := applyIfMatches(state, ev, id, target); matched {
			state = applied
			replayed++
		}
	}

	if !opts.IncludeDeleted && isDeleted(state) {
		state = nil
	}

	if s.snapshots != nil && state != nil {
		if err := s.snapshots.CreateIfDue(ctx, ns, id, startSeq, currentSeq, replayed, state); err != nil {
			return nil, fmt.Errorf("wal: read-merge %s/%s: snapshot checkpoint: %w", ns, id, err)
		}
	}

	return state, nil
}

func isDeleted(state *types.Document) bool {
	if state == nil {
		return true
	}
	v, ok := state.Get("deletedAt")
	return ok && !v.IsNull()
}

// applyIfMatches applies ev to state if ev addresses id (directly or, for a
// BULK_* op, via entityIds), returning the new state and true. Otherwise
// returns (state, false) unchanged.
func applyIfMatches(state *types.Document, ev *types.Event, id types.EntityId, target string) (*types.Document, bool) {
	if ev.Op.IsBulk() {
		image, ok := bulkImage(ev, id)
		if !ok {
			return state, false
		}
		if ev.Op == types.OpBulkDelete {
			return nil, true
		}
		if ev.Op == types.OpBulkCreate || state == nil {
			return image, true
		}
		return state.Merge(image), true
	}

	if ev.Target != target {
		return state, false
	}
	switch ev.Op {
	case types.OpCreate:
		return ev.After.Clone(), true
	case types.OpUpdate:
		if state == nil {
			return ev.After.Clone(), true
		}
		return state.Merge(ev.After), true
	case types.OpDelete:
		if ev.After != nil {
			if state == nil {
				return ev.After.Clone(), true
			}
			return state.Merge(ev.After), true
		}
		return nil, true
	default:
		return state, false
	}
}

// bulkImage extracts entityIds[i]'s post-image from a BULK_* event's
// after.entities array (spec §4.6, "Bulk ops"). ok is false if id is not a
// member of the bulk operation.
func bulkImage(ev *types.Event, id types.EntityId) (*types.Document, bool) {
	idx := -1
	for i, eid := range ev.EntityIDs {
		if eid == string(id) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	if ev.After == nil {
		return nil, true
	}
	entitiesVal, ok := ev.After.Get("entities")
	if !ok || entitiesVal.Kind() != types.KindList {
		return nil, true
	}
	list := entitiesVal.List()
	if idx >= len(list) || list[idx].IsNull() {
		return nil, true
	}
	return list[idx].Map(), true
}
