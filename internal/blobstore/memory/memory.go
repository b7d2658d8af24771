// Package memory provides a process-local blobstore.Store backed by a
// mutex-guarded map, grounded on the teacher's mutex-guarded backing store
// shape (internal/storage/ephemeral/store.go in the reference corpus).
// It is the default backend for tests and for ephemeral, single-process
// instances.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquedb/parquedb/internal/blobstore"
	"github.com/parquedb/parquedb/internal/pathutil"
)

type object struct {
	data []byte
	stat blobstore.Stat
}

// Store is an in-memory blobstore.Store. The zero value is not usable; use
// New.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	clock   func() time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		objects: make(map[string]object),
		clock:   time.Now,
	}
}

func clean(path string) (string, error) {
	p := pathutil.NormalizeFilePath(path)
	if !pathutil.IsSafe(p) || p == "" {
		return "", blobstore.ErrInvalidPath
	}
	return p, nil
}

func (s *Store) Read(_ context.Context, path string) ([]byte, blobstore.Stat, error) {
	p, err := clean(path)
	if err != nil {
		return nil, blobstore.Stat{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[p]
	if !ok {
		return nil, blobstore.Stat{}, &blobstore.OpError{Op: "read", Path: p, Err: blobstore.ErrNotFound}
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, obj.stat, nil
}

func (s *Store) Write(_ context.Context, path string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	p, err := clean(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(p, data, opts)
}

func (s *Store) writeLocked(p string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	now := s.clock()
	stat := blobstore.Stat{
		Size:  int64(len(data)),
		MTime: now,
		ETag:  blobstore.ComputeTag(data, opts.TagMode, now),
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[p] = object{data: buf, stat: stat}
	return stat, nil
}

func (s *Store) WriteConditional(_ context.Context, path string, data []byte, expectedETag *string, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	p, err := clean(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.objects[p]
	if expectedETag == nil {
		if exists {
			return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: p, Err: blobstore.ErrAlreadyExists}
		}
	} else {
		if !exists {
			return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: p, ExpectedETag: expectedETag, Err: blobstore.ErrETagMismatch}
		}
		if existing.stat.ETag != *expectedETag {
			return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: p, ExpectedETag: expectedETag, ActualETag: existing.stat.ETag, Err: blobstore.ErrETagMismatch}
		}
	}
	return s.writeLocked(p, data, opts)
}

func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	p, err := clean(path)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[p]
	return ok, nil
}

func (s *Store) Stat(_ context.Context, path string) (blobstore.Stat, error) {
	p, err := clean(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[p]
	if !ok {
		return blobstore.Stat{}, &blobstore.OpError{Op: "stat", Path: p, Err: blobstore.ErrNotFound}
	}
	return obj.stat, nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	p, err := clean(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, p)
	return nil
}

func (s *Store) List(_ context.Context, prefix string, opts blobstore.ListOptions) (blobstore.ListResult, error) {
	norm := pathutil.NormalizeFilePath(prefix)
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.objects))
	for p := range s.objects {
		if norm == "" || strings.HasPrefix(p, norm) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	start := 0
	if opts.Cursor != "" {
		for i, p := range paths {
			if p > opts.Cursor {
				start = i
				break
			}
			start = i + 1
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = len(paths)
	}

	result := blobstore.ListResult{}
	end := start + limit
	if end > len(paths) {
		end = len(paths)
	}
	for _, p := range paths[start:end] {
		entry := blobstore.ListEntry{Path: p}
		if opts.WithMetadata {
			entry.Stat = s.objects[p].stat
		}
		result.Entries = append(result.Entries, entry)
	}
	if end < len(paths) {
		result.NextCursor = paths[end-1]
	}
	return result, nil
}

func (s *Store) WriteFileAtomic(ctx context.Context, path string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	// Mutations under s.mu are already atomic with respect to readers; there
	// is no partial-write window to hide.
	return s.Write(ctx, path, data, opts)
}

var _ blobstore.Store = (*Store)(nil)
