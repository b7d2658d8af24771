package snapshot

import (
	"context"
	"testing"

	"github.com/parquedb/parquedb/internal/blobstore/memory"
	"github.com/parquedb/parquedb/internal/types"
)

func TestCreateAndGetLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New())

	doc := types.NewDocument()
	doc.Set("title", types.String("v1"))
	if err := s.CreateSnapshot(ctx, types.SnapshotRecord{Namespace: "issues", EntityID: "issues/1", Seq: 5, State: doc}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetLatestSnapshot(ctx, "issues", "issues/1", 100)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
	if got.Seq != 5 {
		t.Fatalf("got seq=%d, want 5", got.Seq)
	}
	v, ok := got.State.Get("title")
	if !ok || v.String() != "v1" {
		t.Fatalf("got title=%v ok=%v", v, ok)
	}
}

func TestGetLatestSnapshotRespectsAsOfSeq(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New())

	doc1 := types.NewDocument()
	doc1.Set("v", types.Int(1))
	doc2 := types.NewDocument()
	doc2.Set("v", types.Int(2))

	if err := s.CreateSnapshot(ctx, types.SnapshotRecord{Namespace: "ns", EntityID: "ns/a", Seq: 10, State: doc1}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSnapshot(ctx, types.SnapshotRecord{Namespace: "ns", EntityID: "ns/a", Seq: 20, State: doc2}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetLatestSnapshot(ctx, "ns", "ns/a", 15)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.Seq != 10 {
		t.Fatalf("got seq=%d, want 10 (the snapshot at or below 15)", got.Seq)
	}
}

func TestGetLatestSnapshotMissingReturnsFalse(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New())
	_, ok, err := s.GetLatestSnapshot(ctx, "ns", "ns/missing", 100)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for an entity with no snapshot")
	}
}

func TestCreateSnapshotTombstone(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New())
	if err := s.CreateSnapshot(ctx, types.SnapshotRecord{Namespace: "ns", EntityID: "ns/a", Seq: 1, State: nil}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetLatestSnapshot(ctx, "ns", "ns/a", 10)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.State != nil {
		t.Fatalf("expected nil state for a tombstone snapshot, got %v", got.State)
	}
}

func TestCreateIfDueSkipsBelowThreshold(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New())
	if err := s.CreateIfDue(ctx, "ns", "ns/a", 0, 10, 10, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetLatestSnapshot(ctx, "ns", "ns/a", 100); ok {
		t.Fatal("expected no snapshot written below ReplayThreshold")
	}
}

func TestCreateIfDueWritesAtThreshold(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New())
	doc := types.NewDocument()
	doc.Set("v", types.Int(1))
	if err := s.CreateIfDue(ctx, "ns", "ns/a", 0, 60, ReplayThreshold, doc); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetLatestSnapshot(ctx, "ns", "ns/a", 100)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.Seq != 60 {
		t.Fatalf("got seq=%d, want 60", got.Seq)
	}
}
