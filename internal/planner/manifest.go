// Package planner implements the query planner (C10, spec §4.10): for a
// filter, decide whether a $text/$vector clause can drive the scan through
// a registered capability index before falling back to a full scan that
// internal/filter's evaluator filters in memory.
//
// Grounded on the teacher's internal/query/evaluator.go, whose
// canUseFilterOnly split decides index-vs-predicate the same way.
package planner

import (
	"context"
	"encoding/json"
	"path"

	"github.com/parquedb/parquedb/internal/blobstore"
)

// FieldIndex names one field an external index covers (SPEC_FULL.md §10
// supplemented feature 2: "meta/indexes.json... named in spec.md §6 but
// never given a shape"). Kind is an implementation-defined label (e.g. the
// index's algorithm); the planner only consults which list a field is in.
type FieldIndex struct {
	Field string `json:"field"`
	Kind  string `json:"kind"`
}

// Manifest is the decoded form of meta/indexes.json.
type Manifest struct {
	FTS    []FieldIndex `json:"fts"`
	Vector []FieldIndex `json:"vector"`
}

// HasFTS reports whether field has a registered full-text index entry.
func (m *Manifest) HasFTS(field string) bool { return hasField(m.FTS, field) }

// HasVector reports whether field has a registered vector index entry.
func (m *Manifest) HasVector(field string) bool { return hasField(m.Vector, field) }

func hasField(indexes []FieldIndex, field string) bool {
	for _, fi := range indexes {
		if fi.Field == field {
			return true
		}
	}
	return false
}

func manifestPath() string { return path.Join("meta", "indexes.json") }

// LoadManifest reads meta/indexes.json. A missing manifest is not an error:
// it means no field has a capability index yet, so every filter falls back
// to a scan.
func LoadManifest(ctx context.Context, blobs blobstore.Store) (*Manifest, error) {
	data, _, err := blobs.Read(ctx, manifestPath())
	if blobstore.IsNotFound(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveManifest writes m to meta/indexes.json.
func SaveManifest(ctx context.Context, blobs blobstore.Store, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = blobs.WriteFileAtomic(ctx, manifestPath(), data, blobstore.WriteOptions{ContentType: "application/json"})
	return err
}
