package wal

import (
	"context"
	"testing"

	"github.com/parquedb/parquedb/internal/blobstore/memory"
	"github.com/parquedb/parquedb/internal/idgen"
	"github.com/parquedb/parquedb/internal/snapshot"
	"github.com/parquedb/parquedb/internal/types"
)

func newTestStore(cfg Config) *Store {
	blobs := memory.New()
	return New(cfg, blobs, snapshot.New(blobs), idgen.NewGenerator(), nil)
}

func createEvent(id types.EntityId, title string) *types.Event {
	doc := types.NewDocument()
	doc.Set("$id", types.String(string(id)))
	doc.Set("title", types.String(title))
	return &types.Event{Op: types.OpCreate, Target: types.EntityTarget(id), After: doc, Actor: "system/anonymous"}
}

func TestAppendAssignsContiguousSeq(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(DefaultConfig())
	id := types.EntityId("issues/1")

	seq1, err := s.Append(ctx, "issues", createEvent(id, "a"))
	if err != nil {
		t.Fatal(err)
	}
	seq2, err := s.Append(ctx, "issues", createEvent(id, "b"))
	if err != nil {
		t.Fatal(err)
	}
	if seq1 != 1 || seq2 != 2 {
		t.Fatalf("got seq1=%d seq2=%d, want 1,2", seq1, seq2)
	}
}

func TestAutoFlushOnCount(t *testing.T) {
	ctx := context.Background()
	cfg := Config{MaxBufferEvents: 3, MaxBufferBytes: 1 << 30}
	s := newTestStore(cfg)
	id := types.EntityId("issues/1")

	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, "issues", createEvent(id, "x")); err != nil {
			t.Fatal(err)
		}
	}

	batches := s.Batches("issues")
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1 after hitting MaxBufferEvents", len(batches))
	}
	if batches[0].FirstSeq != 1 || batches[0].LastSeq != 3 {
		t.Fatalf("got firstSeq=%d lastSeq=%d, want 1,3", batches[0].FirstSeq, batches[0].LastSeq)
	}
}

func TestFlushAllDrainsEveryNamespace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(DefaultConfig())
	if _, err := s.Append(ctx, "issues", createEvent("issues/1", "a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, "comments", createEvent("comments/1", "b")); err != nil {
		t.Fatal(err)
	}
	if err := s.FlushAll(ctx); err != nil {
		t.Fatal(err)
	}
	if len(s.Batches("issues")) != 1 || len(s.Batches("comments")) != 1 {
		t.Fatalf("expected one flushed batch per namespace, got issues=%d comments=%d", len(s.Batches("issues")), len(s.Batches("comments")))
	}
}

func TestGetEntityFromEventsAfterFlush(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(DefaultConfig())
	id := types.EntityId("issues/1")

	if _, err := s.Append(ctx, "issues", createEvent(id, "hello")); err != nil {
		t.Fatal(err)
	}
	if err := s.FlushAll(ctx); err != nil {
		t.Fatal(err)
	}

	state, err := s.GetEntityFromEvents(ctx, "issues", id, ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if state == nil {
		t.Fatal("expected reconstructed state, got nil")
	}
	v, ok := state.Get("title")
	if !ok || v.String() != "hello" {
		t.Fatalf("got title=%v ok=%v", v, ok)
	}
}

func TestGetEntityFromEventsAppliesUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(DefaultConfig())
	id := types.EntityId("issues/1")

	if _, err := s.Append(ctx, "issues", createEvent(id, "v1")); err != nil {
		t.Fatal(err)
	}

	updateDoc := types.NewDocument()
	updateDoc.Set("title", types.String("v2"))
	if _, err := s.Append(ctx, "issues", &types.Event{Op: types.OpUpdate, Target: types.EntityTarget(id), After: updateDoc, Actor: "system/anonymous"}); err != nil {
		t.Fatal(err)
	}

	state, err := s.GetEntityFromEvents(ctx, "issues", id, ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := state.Get("title")
	if v.String() != "v2" {
		t.Fatalf("got title=%v, want v2", v)
	}

	if _, err := s.Append(ctx, "issues", &types.Event{Op: types.OpDelete, Target: types.EntityTarget(id), Actor: "system/anonymous"}); err != nil {
		t.Fatal(err)
	}
	state, err = s.GetEntityFromEvents(ctx, "issues", id, ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if state != nil {
		t.Fatalf("expected nil state after hard delete, got %v", state)
	}
}

func TestBulkCreateReconstructsEachEntity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(DefaultConfig())

	ids := []string{"issues/1", "issues/2", "issues/3"}
	entities := make([]types.Value, len(ids))
	for i, id := range ids {
		d := types.NewDocument()
		d.Set("$id", types.String(id))
		d.Set("title", types.String(id))
		entities[i] = types.Map(d)
	}
	after := types.NewDocument()
	after.Set("entities", types.List(entities))

	firstSeq, lastSeq := s.ReserveSeqRange("issues", uint64(len(ids)))
	states := make([]*types.Document, len(ids))
	for i := range ids {
		states[i] = entities[i].Map()
	}
	if _, err := s.WritePendingRowGroup(ctx, "issues", ids, states, firstSeq, lastSeq); err != nil {
		t.Fatal(err)
	}

	for _, id := range ids {
		state, err := s.GetEntityFromEvents(ctx, "issues", types.EntityId(id), ReadOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if state == nil {
			t.Fatalf("expected state for %s", id)
		}
		v, _ := state.Get("title")
		if v.String() != id {
			t.Fatalf("got title=%v, want %s", v, id)
		}
	}
}

func TestDeleteWalBatchesRemovesFlushedBlobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(DefaultConfig())
	if _, err := s.Append(ctx, "issues", createEvent("issues/1", "a")); err != nil {
		t.Fatal(err)
	}
	if err := s.FlushAll(ctx); err != nil {
		t.Fatal(err)
	}
	batches := s.Batches("issues")
	if len(batches) != 1 {
		t.Fatalf("got %d batches", len(batches))
	}
	if err := s.DeleteWalBatches(ctx, "issues", batches[0].LastSeq); err != nil {
		t.Fatal(err)
	}
	if len(s.Batches("issues")) != 0 {
		t.Fatal("expected batch index to be empty after DeleteWalBatches")
	}
}
