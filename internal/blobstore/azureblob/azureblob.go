// Package azureblob provides a blobstore.Store backed by Azure Blob
// Storage, grounded on the teacher's pluggable storage provider shape
// (internal/storage/provider.go in the reference corpus).
package azureblob

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"github.com/parquedb/parquedb/internal/blobstore"
	"github.com/parquedb/parquedb/internal/pathutil"
)

// Store is a blobstore.Store backed by an Azure Blob Storage container.
// The zero value is not usable; use New.
type Store struct {
	container *container.Client
	prefix    string
}

// New returns a Store for blobs in the container served by client.
// prefix, if non-empty, is prepended to every blob name.
func New(client *service.Client, containerName, prefix string) *Store {
	return &Store{container: client.NewContainerClient(containerName), prefix: pathutil.NormalizePrefix(prefix)}
}

func (s *Store) blobName(path string) (string, error) {
	p := pathutil.NormalizeFilePath(path)
	if !pathutil.IsSafe(p) || p == "" {
		return "", blobstore.ErrInvalidPath
	}
	return pathutil.ApplyPrefix(s.prefix, p), nil
}

func (s *Store) Read(ctx context.Context, path string) ([]byte, blobstore.Stat, error) {
	name, err := s.blobName(path)
	if err != nil {
		return nil, blobstore.Stat{}, err
	}
	bc := s.container.NewBlobClient(name)
	resp, err := bc.DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, blobstore.Stat{}, &blobstore.OpError{Op: "read", Path: path, Err: blobstore.ErrNotFound}
		}
		return nil, blobstore.Stat{}, &blobstore.OpError{Op: "read", Path: path, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, blobstore.Stat{}, &blobstore.OpError{Op: "read", Path: path, Err: err}
	}
	st := blobstore.Stat{Size: int64(len(data))}
	if resp.LastModified != nil {
		st.MTime = *resp.LastModified
	}
	if resp.ETag != nil {
		st.ETag = strings.Trim(string(*resp.ETag), `"`)
	}
	return data, st, nil
}

func (s *Store) Write(ctx context.Context, path string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	name, err := s.blobName(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	return s.upload(ctx, path, name, data, opts, nil)
}

// upload issues UploadBuffer, applying the access.Conditions spec describes
// (IfNoneMatch "*" for create-if-absent, IfMatch <etag> for CAS) when cond
// is non-nil.
func (s *Store) upload(ctx context.Context, path, name string, data []byte, opts blobstore.WriteOptions, cond *blob.AccessConditions) (blobstore.Stat, error) {
	bc := s.container.NewBlockBlobClient(name)
	uploadOpts := &azblob.UploadBufferOptions{}
	if opts.ContentType != "" {
		ct := opts.ContentType
		uploadOpts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &ct}
	}
	if len(opts.Metadata) > 0 {
		md := make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			val := v
			md[k] = &val
		}
		uploadOpts.Metadata = md
	}
	if cond != nil {
		uploadOpts.AccessConditions = cond
	}

	resp, err := bc.UploadBuffer(ctx, data, uploadOpts)
	if err != nil {
		if bloberror.HasCode(err, bloberror.ConditionNotMet) || bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
			if cond != nil && cond.ModifiedAccessConditions != nil && cond.ModifiedAccessConditions.IfNoneMatch != nil {
				return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: blobstore.ErrAlreadyExists}
			}
			return blobstore.Stat{}, &blobstore.OpError{Op: "writeConditional", Path: path, Err: blobstore.ErrETagMismatch}
		}
		return blobstore.Stat{}, &blobstore.OpError{Op: "write", Path: path, Err: err}
	}
	st := blobstore.Stat{Size: int64(len(data))}
	if resp.LastModified != nil {
		st.MTime = *resp.LastModified
	}
	if resp.ETag != nil {
		st.ETag = strings.Trim(string(*resp.ETag), `"`)
	}
	return st, nil
}

func (s *Store) WriteConditional(ctx context.Context, path string, data []byte, expectedETag *string, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	name, err := s.blobName(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	star := "*"
	cond := &blob.AccessConditions{ModifiedAccessConditions: &blob.ModifiedAccessConditions{}}
	if expectedETag == nil {
		cond.ModifiedAccessConditions.IfNoneMatch = (*azcore.ETag)(&star)
	} else {
		tag := azcore.ETag(*expectedETag)
		cond.ModifiedAccessConditions.IfMatch = &tag
	}
	st, err := s.upload(ctx, path, name, data, opts, cond)
	if err != nil {
		var opErr *blobstore.OpError
		if errors.As(err, &opErr) && errors.Is(opErr.Err, blobstore.ErrETagMismatch) {
			opErr.ExpectedETag = expectedETag
		}
		return blobstore.Stat{}, err
	}
	return st, nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	name, err := s.blobName(path)
	if err != nil {
		return false, err
	}
	_, err = s.container.NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, &blobstore.OpError{Op: "exists", Path: path, Err: err}
	}
	return true, nil
}

func (s *Store) Stat(ctx context.Context, path string) (blobstore.Stat, error) {
	name, err := s.blobName(path)
	if err != nil {
		return blobstore.Stat{}, err
	}
	props, err := s.container.NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return blobstore.Stat{}, &blobstore.OpError{Op: "stat", Path: path, Err: blobstore.ErrNotFound}
		}
		return blobstore.Stat{}, &blobstore.OpError{Op: "stat", Path: path, Err: err}
	}
	st := blobstore.Stat{}
	if props.ContentLength != nil {
		st.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		st.MTime = *props.LastModified
	}
	if props.ETag != nil {
		st.ETag = strings.Trim(string(*props.ETag), `"`)
	}
	return st, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	name, err := s.blobName(path)
	if err != nil {
		return err
	}
	_, err = s.container.NewBlobClient(name).Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return &blobstore.OpError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string, opts blobstore.ListOptions) (blobstore.ListResult, error) {
	full := s.prefix
	if prefix != "" {
		name, err := s.blobName(prefix)
		if err != nil {
			return blobstore.ListResult{}, err
		}
		full = name
	}

	marker := &opts.Cursor
	if opts.Cursor == "" {
		marker = nil
	}
	pager := s.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: &full,
		Marker: marker,
	})

	result := blobstore.ListResult{}
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return blobstore.ListResult{}, &blobstore.OpError{Op: "list", Path: prefix, Err: err}
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			entry := blobstore.ListEntry{Path: pathutil.StripPrefix(s.prefix, *item.Name)}
			if opts.WithMetadata && item.Properties != nil {
				if item.Properties.ContentLength != nil {
					entry.Stat.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					entry.Stat.MTime = *item.Properties.LastModified
				}
				if item.Properties.ETag != nil {
					entry.Stat.ETag = strings.Trim(string(*item.Properties.ETag), `"`)
				}
			}
			result.Entries = append(result.Entries, entry)
			if opts.Limit > 0 && len(result.Entries) >= opts.Limit {
				result.NextCursor = entry.Path
				return result, nil
			}
		}
	}
	return result, nil
}

// WriteFileAtomic is Write: UploadBuffer publishes the blob in full; there
// is no partial-object window for readers to observe.
func (s *Store) WriteFileAtomic(ctx context.Context, path string, data []byte, opts blobstore.WriteOptions) (blobstore.Stat, error) {
	return s.Write(ctx, path, data, opts)
}

var _ blobstore.Store = (*Store)(nil)
