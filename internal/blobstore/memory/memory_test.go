package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/parquedb/parquedb/internal/blobstore"
)

func TestWriteConditionalCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.WriteConditional(ctx, "k", []byte("v1"), nil, blobstore.WriteOptions{}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := s.WriteConditional(ctx, "k", []byte("v2"), nil, blobstore.WriteOptions{})
	if !blobstore.IsAlreadyExists(err) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestWriteConditionalCAS(t *testing.T) {
	ctx := context.Background()
	s := New()

	stat, err := s.Write(ctx, "k", []byte("v1"), blobstore.WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	wrongTag := "bogus"
	_, err = s.WriteConditional(ctx, "k", []byte("v2"), &wrongTag, blobstore.WriteOptions{})
	if !blobstore.IsETagMismatch(err) {
		t.Fatalf("expected ETagMismatch, got %v", err)
	}

	if _, err := s.WriteConditional(ctx, "k", []byte("v2"), &stat.ETag, blobstore.WriteOptions{}); err != nil {
		t.Fatalf("CAS with correct tag: %v", err)
	}

	data, _, err := s.Read(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v2" {
		t.Errorf("got %q, want v2", data)
	}
}

// TestConcurrentExclusiveCreate is the testable property S3/invariant 4:
// N concurrent writers with the same (nil) expected tag produce exactly one
// success.
func TestConcurrentExclusiveCreate(t *testing.T) {
	ctx := context.Background()
	s := New()

	const n = 20
	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.WriteConditional(ctx, "k", []byte("v"), nil, blobstore.WriteOptions{})
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 success, got %d", count)
	}
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, p := range []string{"ns/a", "ns/b", "ns/c", "other/d"} {
		if _, err := s.Write(ctx, p, []byte("x"), blobstore.WriteOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := s.List(ctx, "ns/", blobstore.ListOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(res.Entries))
	}
	if res.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	res2, err := s.List(ctx, "ns/", blobstore.ListOptions{Limit: 2, Cursor: res.NextCursor})
	if err != nil {
		t.Fatal(err)
	}
	if len(res2.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(res2.Entries))
	}
}

func TestDeleteMissingIsNotError(t *testing.T) {
	s := New()
	if err := s.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("deleting missing path should not error: %v", err)
	}
}

func TestInvalidPathRejected(t *testing.T) {
	s := New()
	_, err := s.Write(context.Background(), "../escape", []byte("x"), blobstore.WriteOptions{})
	if err != blobstore.ErrInvalidPath {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}
