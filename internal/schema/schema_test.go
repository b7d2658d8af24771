package schema

import (
	"context"
	"testing"

	"github.com/parquedb/parquedb/internal/blobstore/memory"
)

func TestLoadMissingManifestIsEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()

	m, err := Load(ctx, blobs)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 0 {
		t.Fatalf("got %d records, want 0", len(m))
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()

	m := Manifest{
		"tags": Record{IDField: "name", IDDirective: "slug(name)"},
	}
	if err := Save(ctx, blobs, m); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(ctx, blobs)
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := loaded.Get("tags")
	if !ok {
		t.Fatal("expected a record for 'tags'")
	}
	if rec.IDField != "name" || rec.IDDirective != "slug(name)" {
		t.Fatalf("got %+v", rec)
	}
	if _, ok := loaded.Get("issues"); ok {
		t.Fatal("expected no record for unregistered namespace 'issues'")
	}
}
