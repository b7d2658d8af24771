// Package blobstore defines the byte-addressable blob storage contract
// (spec §4.1, §6 "Storage-backend contract") and its conditional-write
// protocol. Concrete backends live in sibling packages (local, memory,
// s3blob, gcsblob, azureblob); the engine depends only on the Store
// interface defined here.
package blobstore

import (
	"context"
	"time"
)

// Stat describes a stored object's metadata (spec §6).
type Stat struct {
	Size  int64
	MTime time.Time
	ETag  string
}

// ListOptions controls List's cursor pagination and metadata inclusion.
type ListOptions struct {
	Cursor       string
	Limit        int
	WithMetadata bool
}

// ListEntry is one object returned by List. Stat is populated only if
// WithMetadata was requested.
type ListEntry struct {
	Path string
	Stat Stat
}

// ListResult is a page of List results plus a cursor for the next page.
// NextCursor is empty when there are no further pages.
type ListResult struct {
	Entries    []ListEntry
	NextCursor string
}

// TagMode selects how WriteConditional computes the returned ETag
// (spec §4.1, "Tags").
type TagMode int

const (
	// TagTimeTagged derives a hash-timestamp tag, suited to mutable objects.
	TagTimeTagged TagMode = iota
	// TagDeterministic derives a hash-size tag, stable across instances,
	// suited to content-addressed artifacts and dedupe.
	TagDeterministic
)

// WriteOptions controls a Write/WriteConditional/WriteFileAtomic call.
type WriteOptions struct {
	ContentType string
	Metadata    map[string]string
	TagMode     TagMode
}

// Store is the byte-addressable blob storage contract every backend
// implements (spec §4.1, §6).
type Store interface {
	// Read returns the object's bytes and current Stat.
	Read(ctx context.Context, path string) ([]byte, Stat, error)

	// Write unconditionally creates or overwrites path.
	Write(ctx context.Context, path string, data []byte, opts WriteOptions) (Stat, error)

	// WriteConditional implements the compare-and-swap protocol (spec §4.1):
	// expectedETag == nil means create-if-absent (fails with
	// ErrAlreadyExists if anything exists at path); a non-nil expectedETag
	// means compare-and-swap (fails with ErrETagMismatch if the current
	// object's tag differs). The underlying primitive must be atomic; this
	// method must never be implemented as stat-then-write.
	WriteConditional(ctx context.Context, path string, data []byte, expectedETag *string, opts WriteOptions) (Stat, error)

	// Exists reports whether an object is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns metadata for path without reading its body.
	Stat(ctx context.Context, path string) (Stat, error)

	// Delete removes the object at path. Deleting a missing path is not an
	// error.
	Delete(ctx context.Context, path string) error

	// List enumerates objects under prefix, in lexical path order, honoring
	// cursor pagination.
	List(ctx context.Context, prefix string, opts ListOptions) (ListResult, error)

	// WriteFileAtomic writes data such that concurrent readers never observe
	// a partial object (write-to-temp-then-publish, however the backend
	// implements "publish").
	WriteFileAtomic(ctx context.Context, path string, data []byte, opts WriteOptions) (Stat, error)
}

// ExclusiveCreate is sugar for the nil-expectedETag create-if-absent case,
// equivalent to the spec's `ifNoneMatch: "*"` alias.
func ExclusiveCreate(ctx context.Context, s Store, path string, data []byte, opts WriteOptions) (Stat, error) {
	return s.WriteConditional(ctx, path, data, nil, opts)
}
