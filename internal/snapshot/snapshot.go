// Package snapshot implements the non-authoritative per-entity checkpoint
// store (spec §4.5): a snapshot short-circuits reconstruction so a reader
// doesn't have to replay every event since an entity's creation. Snapshots
// may be purged freely; doing so only degrades read latency, never
// correctness, since the event log remains the source of truth.
package snapshot

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"

	"github.com/parquedb/parquedb/internal/blobstore"
	"github.com/parquedb/parquedb/internal/types"
)

// ReplayThreshold is the number of replayed events at or above which
// CreateIfDue writes a new checkpoint (spec §4.5: "if the number of
// replayed events ≥ 50 and no snapshot exists at or above the start
// sequence, write one").
const ReplayThreshold = 50

// Store persists SnapshotRecords to a blob store under
// snapshots/<ns>/<entityId>/<seq>.bin (spec §6) and keeps an in-memory
// index of the latest seq known per entity, since a blob store's List is
// too slow to drive per-read lookups.
type Store struct {
	mu      sync.RWMutex
	blobs   blobstore.Store
	latest  map[string]uint64 // "ns/id" -> highest seq written
}

// New returns a Store backed by blobs.
func New(blobs blobstore.Store) *Store {
	return &Store{blobs: blobs, latest: make(map[string]uint64)}
}

func blobPath(ns string, id types.EntityId, seq uint64) string {
	return path.Join("snapshots", ns, string(id), fmt.Sprintf("%020d.bin", seq))
}

// wireSnapshot is the gob-encoded on-disk shape: a plain
// map[string]interface{} rather than *types.Document, so gob never needs to
// know about Document's unexported fields (spec §9 "Dynamic-typed
// documents": the wire form crosses through ToNativeMap/FromNative, never a
// native struct).
type wireSnapshot struct {
	Namespace string
	EntityID  string
	Seq       uint64
	Tombstone bool
	State     map[string]interface{}
}

// CreateSnapshot writes one checkpoint row for (ns, entityId) at seq
// (spec §4.5). A nil state records a tombstone.
func (s *Store) CreateSnapshot(ctx context.Context, rec types.SnapshotRecord) error {
	w := wireSnapshot{
		Namespace: rec.Namespace,
		EntityID:  string(rec.EntityID),
		Seq:       rec.Seq,
	}
	if rec.State == nil {
		w.Tombstone = true
	} else {
		w.State = rec.State.ToNativeMap()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return fmt.Errorf("snapshot: encode %s/%s@%d: %w", rec.Namespace, rec.EntityID, rec.Seq, err)
	}

	p := blobPath(rec.Namespace, rec.EntityID, rec.Seq)
	if _, err := s.blobs.WriteFileAtomic(ctx, p, buf.Bytes(), blobstore.WriteOptions{ContentType: "application/octet-stream"}); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", p, err)
	}

	s.mu.Lock()
	key := rec.Namespace + "/" + string(rec.EntityID)
	if rec.Seq > s.latest[key] {
		s.latest[key] = rec.Seq
	}
	s.mu.Unlock()
	return nil
}

// GetLatestSnapshot returns the most recent checkpoint for (ns, id) with
// seq ≤ asOfSeq (spec §4.5). ok is false if no such checkpoint exists.
func (s *Store) GetLatestSnapshot(ctx context.Context, ns string, id types.EntityId, asOfSeq uint64) (types.SnapshotRecord, bool, error) {
	seq, ok := s.candidateSeq(ctx, ns, id, asOfSeq)
	if !ok {
		return types.SnapshotRecord{}, false, nil
	}

	p := blobPath(ns, id, seq)
	data, _, err := s.blobs.Read(ctx, p)
	if blobstore.IsNotFound(err) {
		return types.SnapshotRecord{}, false, nil
	}
	if err != nil {
		return types.SnapshotRecord{}, false, fmt.Errorf("snapshot: read %s: %w", p, err)
	}

	var w wireSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return types.SnapshotRecord{}, false, fmt.Errorf("snapshot: decode %s: %w", p, err)
	}

	rec := types.SnapshotRecord{Namespace: w.Namespace, EntityID: types.EntityId(w.EntityID), Seq: w.Seq}
	if !w.Tombstone {
		doc := types.DocumentFromNativeMap(w.State)
		rec.State = &doc
	}
	return rec, true, nil
}

// candidateSeq finds the highest known seq ≤ asOfSeq for (ns, id). It
// consults the in-memory index first (the common case: asking for the
// instance's own just-written checkpoint or the unconstrained latest), and
// falls back to a blob listing for asOf queries the index cannot answer
// (a seq cap below the most recent write, or a cold-started instance).
func (s *Store) candidateSeq(ctx context.Context, ns string, id types.EntityId, asOfSeq uint64) (uint64, bool) {
	key := ns + "/" + string(id)

	s.mu.RLock()
	cached, have := s.latest[key]
	s.mu.RUnlock()
	if have && cached <= asOfSeq {
		return cached, true
	}

	prefix := path.Join("snapshots", ns, string(id)) + "/"
	res, err := s.blobs.List(ctx, prefix, blobstore.ListOptions{})
	if err != nil {
		return 0, false
	}
	var seqs []uint64
	for _, e := range res.Entries {
		name := path.Base(e.Path)
		n, _, found := cutSuffix(name, ".bin")
		if !found {
			continue
		}
		v, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			continue
		}
		if v <= asOfSeq {
			seqs = append(seqs, v)
		}
	}
	if len(seqs) == 0 {
		return 0, false
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })
	return seqs[0], true
}

func cutSuffix(s, suffix string) (before string, after string, found bool) {
	if len(s) < len(suffix) || s[len(s)-len(suffix):] != suffix {
		return s, "", false
	}
	return s[:len(s)-len(suffix)], suffix, true
}

// CreateIfDue writes a checkpoint when replayedEvents crosses
// ReplayThreshold and no snapshot already exists at or above startSeq
// (spec §4.5).
func (s *Store) CreateIfDue(ctx context.Context, ns string, id types.EntityId, startSeq, currentSeq uint64, replayedEvents int, state *types.Document) error {
	if replayedEvents < ReplayThreshold {
		return nil
	}
	if rec, ok, _ := s.GetLatestSnapshot(ctx, ns, id, ^uint64(0)); ok && rec.Seq >= startSeq {
		return nil
	}
	return s.CreateSnapshot(ctx, types.SnapshotRecord{Namespace: ns, EntityID: id, Seq: currentSeq, State: state})
}
