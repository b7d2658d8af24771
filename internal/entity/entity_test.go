package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/parquedb/parquedb/internal/blobstore/memory"
	"github.com/parquedb/parquedb/internal/command"
	"github.com/parquedb/parquedb/internal/event"
	"github.com/parquedb/parquedb/internal/idgen"
	"github.com/parquedb/parquedb/internal/relationship"
	"github.com/parquedb/parquedb/internal/snapshot"
	"github.com/parquedb/parquedb/internal/wal"
)

func newTestEngine() *Engine {
	blobs := memory.New()
	snaps := snapshot.New(blobs)
	gen := idgen.NewGenerator()
	w := wal.New(wal.DefaultConfig(), blobs, snaps, gen, nil)
	evLog := event.New(event.DefaultConfig(), gen)
	idx := relationship.New(nil)
	eng := New(w, evLog, idx, gen, nil)
	idx.SetCreator(eng)
	return eng
}

func TestNewWithCacheSizeRejectsNothingBelowDefault(t *testing.T) {
	blobs := memory.New()
	snaps := snapshot.New(blobs)
	gen := idgen.NewGenerator()
	w := wal.New(wal.DefaultConfig(), blobs, snaps, gen, nil)
	evLog := event.New(event.DefaultConfig(), gen)
	idx := relationship.New(nil)

	eng := NewWithCacheSize(w, evLog, idx, gen, nil, 3)
	idx.SetCreator(eng)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := eng.Create(ctx, "issues", map[string]interface{}{"$type": "Issue"}, CreateOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if eng.cache.Len() > 3 {
		t.Fatalf("got cache len=%d, want <= 3", eng.cache.Len())
	}
}

func TestCreateAssignsAuditFieldsAndVersion(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()

	ent, err := eng.Create(ctx, "issues", map[string]interface{}{"$type": "Issue", "title": "bug"}, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if ent.Version != 1 {
		t.Fatalf("got version=%d, want 1", ent.Version)
	}
	if ent.CreatedBy != "system/anonymous" || ent.UpdatedBy != "system/anonymous" {
		t.Fatalf("got createdBy=%s updatedBy=%s", ent.CreatedBy, ent.UpdatedBy)
	}
	v, ok := ent.Fields.Get("title")
	if !ok || v.String() != "bug" {
		t.Fatalf("got title=%v ok=%v", v, ok)
	}
}

func TestCreateWithExplicitIDRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()

	if _, err := eng.Create(ctx, "issues", map[string]interface{}{"$id": "issues/1"}, CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	_, err := eng.Create(ctx, "issues", map[string]interface{}{"$id": "issues/1"}, CreateOptions{})
	if !errors.Is(err, command.ErrAlreadyExists) {
		t.Fatalf("got err=%v, want ErrAlreadyExists", err)
	}
}

func TestGetReturnsNilForMissingEntity(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	ent, err := eng.Get(ctx, "issues", "issues/missing", GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if ent != nil {
		t.Fatalf("got %+v, want nil", ent)
	}
}

func TestUpdateAppliesSetAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	ent, err := eng.Create(ctx, "issues", map[string]interface{}{"$id": "issues/1", "title": "v1"}, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := eng.Update(ctx, "issues", ent.ID, map[string]interface{}{
		"$set": map[string]interface{}{"title": "v2"},
	}, UpdateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 2 {
		t.Fatalf("got version=%d, want 2", updated.Version)
	}
	v, _ := updated.Fields.Get("title")
	if v.String() != "v2" {
		t.Fatalf("got title=%v, want v2", v)
	}

	fetched, err := eng.Get(ctx, "issues", ent.ID, GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	v2, _ := fetched.Fields.Get("title")
	if v2.String() != "v2" {
		t.Fatalf("got title=%v after re-fetch, want v2", v2)
	}
}

func TestUpdateRejectsVersionConflict(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	ent, err := eng.Create(ctx, "issues", map[string]interface{}{"$id": "issues/1"}, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	wrong := uint64(99)
	_, err = eng.Update(ctx, "issues", ent.ID, map[string]interface{}{"$set": map[string]interface{}{"title": "x"}}, UpdateOptions{ExpectedVersion: &wrong})
	if !errors.Is(err, command.ErrVersionConflict) {
		t.Fatalf("got err=%v, want ErrVersionConflict", err)
	}
}

func TestUpdateMissingEntityReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	_, err := eng.Update(ctx, "issues", "issues/missing", map[string]interface{}{"$set": map[string]interface{}{"title": "x"}}, UpdateOptions{})
	if !errors.Is(err, command.ErrNotFound) {
		t.Fatalf("got err=%v, want ErrNotFound", err)
	}
}

func TestSoftDeleteHidesFromDefaultGetButKeepsVersion(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	ent, err := eng.Create(ctx, "issues", map[string]interface{}{"$id": "issues/1"}, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Delete(ctx, "issues", ent.ID, DeleteOptions{}); err != nil {
		t.Fatal(err)
	}

	got, err := eng.Get(ctx, "issues", ent.ID, GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected soft-deleted entity hidden by default, got %+v", got)
	}

	withDeleted, err := eng.Get(ctx, "issues", ent.ID, GetOptions{IncludeDeleted: true})
	if err != nil {
		t.Fatal(err)
	}
	if withDeleted == nil || !withDeleted.IsDeleted() {
		t.Fatalf("expected includeDeleted to surface the tombstone, got %+v", withDeleted)
	}
	if withDeleted.Version != 2 {
		t.Fatalf("got version=%d, want 2 after soft-delete", withDeleted.Version)
	}
}

func TestHardDeleteRemovesEntityEntirely(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	ent, err := eng.Create(ctx, "issues", map[string]interface{}{"$id": "issues/1"}, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Delete(ctx, "issues", ent.ID, DeleteOptions{Hard: true}); err != nil {
		t.Fatal(err)
	}
	got, err := eng.Get(ctx, "issues", ent.ID, GetOptions{IncludeDeleted: true})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected hard-deleted entity gone entirely, got %+v", got)
	}
}

func TestUpdateWithLinkCreatesForwardAndBackwardEdges(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	post, err := eng.Create(ctx, "posts", map[string]interface{}{"$id": "posts/1"}, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	tag, err := eng.Create(ctx, "tags", map[string]interface{}{"$id": "tags/tech"}, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = eng.Update(ctx, "posts", post.ID, map[string]interface{}{
		"$link": map[string]interface{}{"hasTag": string(tag.ID)},
	}, UpdateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	related := eng.relationships.GetRelated("posts", post.ID, "hasTag", relationship.GetOptions{})
	if len(related) != 1 || related[0].ToID != tag.ID {
		t.Fatalf("got %+v", related)
	}
}

func TestUpdateWithLinkAutoCreatesStub(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	post, err := eng.Create(ctx, "posts", map[string]interface{}{"$id": "posts/1"}, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = eng.Update(ctx, "posts", post.ID, map[string]interface{}{
		"$link": map[string]interface{}{"hasTag": map[string]interface{}{"$id": "tags/new", "$type": "Tag"}},
	}, UpdateOptions{AutoCreate: true})
	if err != nil {
		t.Fatal(err)
	}

	stub, err := eng.Get(ctx, "tags", "tags/new", GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if stub == nil || stub.Type != "Tag" {
		t.Fatalf("expected auto-created stub, got %+v", stub)
	}
}

func TestUpdateWithLinkRejectsMissingTargetWithoutAutoCreate(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	post, err := eng.Create(ctx, "posts", map[string]interface{}{"$id": "posts/1"}, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = eng.Update(ctx, "posts", post.ID, map[string]interface{}{
		"$link": map[string]interface{}{"hasTag": "tags/missing"},
	}, UpdateOptions{})
	if !errors.Is(err, command.ErrReferenceNotFound) {
		t.Fatalf("got err=%v, want ErrReferenceNotFound", err)
	}
}

func TestHardDeleteCascadesRelationshipEdges(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	post, err := eng.Create(ctx, "posts", map[string]interface{}{"$id": "posts/1"}, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Create(ctx, "tags", map[string]interface{}{"$id": "tags/tech"}, CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Update(ctx, "posts", post.ID, map[string]interface{}{
		"$link": map[string]interface{}{"hasTag": "tags/tech"},
	}, UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := eng.Delete(ctx, "posts", post.ID, DeleteOptions{Hard: true}); err != nil {
		t.Fatal(err)
	}
	if got := eng.relationships.GetRelated("posts", post.ID, "hasTag", relationship.GetOptions{}); len(got) != 0 {
		t.Fatalf("expected cascaded edges removed, got %d", len(got))
	}
}
