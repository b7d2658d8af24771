// Package schema implements the schema manifest (SPEC_FULL.md §10
// supplemented feature 3): a per-namespace record of which field an entity
// type's id is derived from and the opaque directive string an external
// schema parser produced for it. ParqueDB's own engine never parses a
// schema language (spec.md §1 scopes that out); this manifest only records
// the parser's output so C7's auto-create path and external tooling have
// somewhere durable to read it from.
//
// Grounded on the teacher's internal/config/local_config.go (typed struct
// round-tripped through JSON/TOML, same shape this package gives a single
// JSON sidecar).
package schema

import (
	"context"
	"encoding/json"
	"path"

	"github.com/parquedb/parquedb/internal/blobstore"
)

// Record is one namespace's id-derivation metadata (spec.md §4.7: "`$id`
// derived from the target type's `$id` directive").
type Record struct {
	IDField     string `json:"idField"`
	IDDirective string `json:"idDirective"`
}

// Manifest maps namespace -> Record, the decoded form of meta/schema.json.
type Manifest map[string]Record

func manifestPath() string { return path.Join("meta", "schema.json") }

// Load reads meta/schema.json. A missing manifest yields an empty Manifest,
// not an error: a namespace with no registered schema simply has no
// directive-derived auto-create behavior available.
func Load(ctx context.Context, blobs blobstore.Store) (Manifest, error) {
	data, _, err := blobs.Read(ctx, manifestPath())
	if blobstore.IsNotFound(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes m to meta/schema.json.
func Save(ctx context.Context, blobs blobstore.Store, m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = blobs.WriteFileAtomic(ctx, manifestPath(), data, blobstore.WriteOptions{ContentType: "application/json"})
	return err
}

// Get returns ns's record and whether one is registered.
func (m Manifest) Get(ns string) (Record, bool) {
	r, ok := m[ns]
	return r, ok
}
