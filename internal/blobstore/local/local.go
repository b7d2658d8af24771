// Package local provides a blobstore.Store backed by the host filesystem,
// grounded on the teacher's lockfile-guarded local writes (internal/lockfile
// in the reference corpus) and its local storage provider
// (internal/storage/local_provider.go).
package local

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/parquedb/parquedb/internal/blobstore"
	"github.com/parquedb/parquedb/internal/pathutil"
)

// Store is a filesystem-backed blobstore.Store rooted at a directory. The
// zero value is not usable; use New.
type Store struct {
	root  string
	clock func() time.Time
}

// New returns a Store rooted at root. The directory is created if absent.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: abs, clock: time.Now}, nil
}

func (s *Store) resolve(path string) (string, error) {
	p := pathutil.NormalizeFilePath(path)
	if !pathutil.IsSafe(p) || p == "" {
		return "", blobstore.ErrInvalidPath
	}
	return filepath.Join(s.root, filepath.FromSlash(p)), nil
}

// lockPath returns the path to the advisory lock file guarding CAS
// operations on full, a sibling of full rather than full itself so that
// flock never contends with a reader's plain os.Open.
func lockPath(full string) string {
	return full + ".lock"
}

func (s *Store) Read(_ context.Context, path string) ([]byte, blobstore.Stat, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, blobstore.Stat{}, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blobstore.Stat{}, &blobstore.OpError{Op: "read", Path: path, Err: blobstore.ErrNotFound}
		}
		return nil, blobstore.Stat{}, &blobstore.OpError{Op: "read", Path: path, Err: err}
	}
	fi, err := os.Stat(full)
	if err != nil {
		return nil, blobstore.Stat{}, &blobstore.OpError{Op: "read", Path: path, Err: err}
	}
	return data, statFromFileInfo(data, fi, blobstore.TagTimeTagged), nil
}

func statFromFileInfo(data []byte, fi fs.FileInfo, mode blobstore.TagMode) blobstore.Stat {
	return blobstore.Stat{
		Size:  fi.Size(),
		MTime: fi.ModTime(),
		ETag:  blobstore.ComputeTag(data, mode, fi.ModTime()),
	}
}

func (s *Store) Write(_ context.Context, path string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	full, err := s.resolve(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return blobstore.Stat{}, &blobstore.OpError{Op: "write", Path: path, Err: err}
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return blobstore.Stat{}, &blobstore.OpError{Op: "write", Path: path, Err: err}
	}
	return s.statAfterWrite(path, full, data, opts)
}

func (s *Store) statAfterWrite(path, full string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	fi, err := os.Stat(full)
	if err != nil {
		return blobstore.Stat{}, &blobstore.OpError{Op: "write", Path: path, Err: err}
	}
	return statFromFileInfo(data, fi, opts.TagMode), nil
}

// WriteConditional implements the CAS protocol with an flock-guarded
// critical section: the advisory lock serializes concurrent writers on this
// path within the process and across processes on POSIX filesystems, and
// O_EXCL gives the create-if-absent case a kernel-enforced atomic check
// even without the lock.
func (s *Store) WriteConditional(_ context.Context, path string, data []byte, expectedETag *string, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	full, err := s.resolve(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: err}
	}

	if expectedETag == nil {
		return s.createIfAbsent(path, full, data, opts)
	}

	lock := flock.New(lockPath(full))
	if err := lock.Lock(); err != nil {
		return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: err}
	}
	defer lock.Unlock()

	existing, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, ExpectedETag: expectedETag, Err: blobstore.ErrETagMismatch}
		}
		return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: err}
	}
	oldData, err := os.ReadFile(full)
	if err != nil {
		return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: err}
	}
	actual := blobstore.ComputeTag(oldData, opts.TagMode, existing.ModTime())
	if actual != *expectedETag {
		return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, ExpectedETag: expectedETag, ActualETag: actual, Err: blobstore.ErrETagMismatch}
	}
	return s.writeAtomicLocked(path, full, data, opts)
}

func (s *Store) createIfAbsent(path, full string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	lock := flock.New(lockPath(full))
	if err := lock.Lock(); err != nil {
		return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: err}
	}
	defer lock.Unlock()

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: blobstore.ErrAlreadyExists}
		}
		return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: err}
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		os.Remove(full)
		return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: werr}
	}
	if cerr != nil {
		return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: cerr}
	}
	return s.statAfterWrite(path, full, data, opts)
}

// writeAtomicLocked writes data to a temp file in full's directory and
// renames it into place, assuming the caller already holds the CAS lock.
func (s *Store) writeAtomicLocked(path, full string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return blobstore.Stat{}, &blobstore.OpError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return blobstore.Stat{}, &blobstore.OpError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return blobstore.Stat{}, &blobstore.OpError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return blobstore.Stat{}, &blobstore.OpError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return blobstore.Stat{}, &blobstore.OpError{Op: "write", Path: path, Err: err}
	}
	return s.statAfterWrite(path, full, data, opts)
}

func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &blobstore.OpError{Op: "exists", Path: path, Err: err}
}

func (s *Store) Stat(_ context.Context, path string) (blobstore.Stat, error) {
	full, err := s.resolve(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return blobstore.Stat{}, &blobstore.OpError{Op: "stat", Path: path, Err: blobstore.ErrNotFound}
		}
		return blobstore.Stat{}, &blobstore.OpError{Op: "stat", Path: path, Err: err}
	}
	fi, err := os.Stat(full)
	if err != nil {
		return blobstore.Stat{}, &blobstore.OpError{Op: "stat", Path: path, Err: err}
	}
	return statFromFileInfo(data, fi, blobstore.TagTimeTagged), nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return &blobstore.OpError{Op: "delete", Path: path, Err: err}
	}
	os.Remove(lockPath(full))
	return nil
}

func (s *Store) List(_ context.Context, prefix string, opts blobstore.ListOptions) (blobstore.ListResult, error) {
	norm := pathutil.NormalizeFilePath(prefix)
	base := filepath.Join(s.root, filepath.FromSlash(norm))

	var paths []string
	walkRoot := base
	if norm == "" {
		walkRoot = s.root
	}
	err := filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".lock") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if norm == "" || strings.HasPrefix(rel, norm) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return blobstore.ListResult{}, &blobstore.OpError{Op: "list", Path: prefix, Err: err}
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
	end := start + limit
	if end > len(paths) {
		end = len(paths)
	}

	result := blobstore.ListResult{}
	for _, p := range paths[start:end] {
		entry := blobstore.ListEntry{Path: p}
		if opts.WithMetadata {
			if st, err := s.Stat(context.Background(), p); err == nil {
				entry.Stat = st
			}
		}
		result.Entries = append(result.Entries, entry)
	}
	if end < len(paths) {
		result.NextCursor = paths[end-1]
	}
	return result, nil
}

func (s *Store) WriteFileAtomic(_ context.Context, path string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	full, err := s.resolve(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return blobstore.Stat{}, &blobstore.OpError{Op: "writeFileAtomic", Path: path, Err: err}
	}
	return s.writeAtomicLocked(path, full, data, opts)
}

var _ blobstore.Store = (*Store)(nil)
