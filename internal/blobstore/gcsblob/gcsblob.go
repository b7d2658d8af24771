// Package gcsblob provides a blobstore.Store backed by Google Cloud
// Storage, grounded on the teacher's pluggable storage provider shape
// (internal/storage/provider.go in the reference corpus).
package gcsblob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/parquedb/parquedb/internal/blobstore"
	"github.com/parquedb/parquedb/internal/pathutil"
)

// Store is a blobstore.Store backed by a GCS bucket. The zero value is not
// usable; use New.
type Store struct {
	bucket *storage.BucketHandle
	prefix string
}

// New returns a Store for objects under bucketName, using client for all
// bucket access. prefix, if non-empty, is prepended to every object name.
func New(client *storage.Client, bucketName, prefix string) *Store {
	return &Store{bucket: client.Bucket(bucketName), prefix: pathutil.NormalizePrefix(prefix)}
}

func (s *Store) objectName(path string) (string, error) {
	p := pathutil.NormalizeFilePath(path)
	if !pathutil.IsSafe(p) || p == "" {
		return "", blobstore.ErrInvalidPath
	}
	return pathutil.ApplyPrefix(s.prefix, p), nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}

func (s *Store) Read(ctx context.Context, path string) ([]byte, blobstore.Stat, error) {
	name, err := s.objectName(path)
	if err != nil {
		return nil, blobstore.Stat{}, err
	}
	rc, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, blobstore.Stat{}, &blobstore.OpError{Op: "read", Path: path, Err: blobstore.ErrNotFound}
		}
		return nil, blobstore.Stat{}, &blobstore.OpError{Op: "read", Path: path, Err: err}
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, blobstore.Stat{}, &blobstore.OpError{Op: "read", Path: path, Err: err}
	}
	return data, blobstore.Stat{
		Size:  rc.Attrs.Size,
		MTime: rc.Attrs.LastModified,
		ETag:  rc.Attrs.Etag,
	}, nil
}

func (s *Store) Write(ctx context.Context, path string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	name, err := s.objectName(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	return s.write(ctx, s.bucket.Object(name), data, opts)
}

func (s *Store) write(ctx context.Context, obj *storage.ObjectHandle, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	w := obj.NewWriter(ctx)
	if opts.ContentType != "" {
		w.ContentType = opts.ContentType
	}
	if len(opts.Metadata) > 0 {
		w.Metadata = opts.Metadata
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return blobstore.Stat{}, err
	}
	if err := w.Close(); err != nil {
		return blobstore.Stat{}, err
	}
	return blobstore.Stat{Size: w.Attrs().Size, MTime: w.Attrs().Updated, ETag: w.Attrs().Etag}, nil
}

// WriteConditional uses GCS generation preconditions (spec §4.1): a nil
// expectedETag maps to Conditions{DoesNotExist: true}, and a non-nil tag
// (the object's generation number as a decimal string) maps to
// Conditions{GenerationMatch: ...}.
func (s *Store) WriteConditional(ctx context.Context, path string, data []byte, expectedETag *string, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	name, err := s.objectName(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	obj := s.bucket.Object(name)
	if expectedETag == nil {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else {
		gen, perr := strconv.ParseInt(*expectedETag, 10, 64)
		if perr != nil {
			return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, ExpectedETag: expectedETag, Err: blobstore.ErrETagMismatch}
		}
		obj = obj.If(storage.Conditions{GenerationMatch: gen})
	}

	st, err := s.write(ctx, obj, data, opts)
	if err != nil {
		if isPreconditionFailed(err) {
			if expectedETag == nil {
				return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: blobstore.ErrAlreadyExists}
			}
			return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, ExpectedETag: expectedETag, Err: blobstore.ErrETagMismatch}
		}
		return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: err}
	}
	return st, nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	name, err := s.objectName(path)
	if err != nil {
		return false, err
	}
	_, err = s.bucket.Object(name).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, &blobstore.OpError{Op: "exists", Path: path, Err: err}
	}
	return true, nil
}

func (s *Store) Stat(ctx context.Context, path string) (blobstore.Stat, error) {
	name, err := s.objectName(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	attrs, err := s.bucket.Object(name).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return blobstore.Stat{}, &blobstore.OpError{Op: "stat", Path: path, Err: blobstore.ErrNotFound}
		}
		return blobstore.Stat{}, &blobstore.OpError{Op: "stat", Path: path, Err: err}
	}
	return blobstore.Stat{Size: attrs.Size, MTime: attrs.Updated, ETag: attrs.Etag}, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	name, err := s.objectName(path)
	if err != nil {
		return err
	}
	err = s.bucket.Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return &blobstore.OpError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string, opts blobstore.ListOptions) (blobstore.ListResult, error) {
	full := s.prefix
	if prefix != "" {
		name, err := s.objectName(prefix)
		if err != nil {
			return blobstore.ListResult{}, err
		}
		full = name
	}

	it := s.bucket.Objects(ctx, &storage.Query{Prefix: full, StartOffset: opts.Cursor})
	result := blobstore.ListResult{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return blobstore.ListResult{}, &blobstore.OpError{Op: "list", Path: prefix, Err: err}
		}
		entry := blobstore.ListEntry{Path: pathutil.StripPrefix(s.prefix, attrs.Name)}
		if opts.WithMetadata {
			entry.Stat = blobstore.Stat{Size: attrs.Size, MTime: attrs.Updated, ETag: attrs.Etag}
		}
		result.Entries = append(result.Entries, entry)
		if opts.Limit > 0 && len(result.Entries) >= opts.Limit {
			result.NextCursor = entry.Path
			break
		}
	}
	return result, nil
}

// WriteFileAtomic is Write: GCS uploads are not visible to readers until the
// upload is finalized by Writer.Close.
func (s *Store) WriteFileAtomic(ctx context.Context, path string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	return s.Write(ctx, path, data, opts)
}

var _ blobstore.Store = (*Store)(nil)
