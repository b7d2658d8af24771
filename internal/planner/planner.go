package planner

import (
	"context"
	"log/slog"

	"github.com/parquedb/parquedb/internal/dblog"
	"github.com/parquedb/parquedb/internal/types"
)

// FullTextIndex matches internal/filter.FullTextIndex; redeclared here so
// this package doesn't need to import internal/filter just for the
// interface shape (the dependency runs planner -> types only, the same
// direction relationship takes on entity, per DESIGN.md's C7 entry).
type FullTextIndex interface {
	Search(ctx context.Context, ns, field, query string) ([]types.EntityId, error)
}

// VectorIndex matches internal/filter.VectorIndex.
type VectorIndex interface {
	Near(ctx context.Context, ns, field string, vector []float32, k int) ([]types.EntityId, error)
}

// Plan is the planner's output for one filter (spec §4.10). A nil
// CandidateIDs means "no index could drive this filter; scan every known id
// and apply the full predicate". A non-nil CandidateIDs means the listed
// ids are the only ones that can match; the residual predicate (the filter
// itself, since Matches treats $text/$vector as always-true) must still be
// applied to each candidate's hydrated document.
type Plan struct {
	CandidateIDs []types.EntityId
	UsedIndex    bool
}

// Planner selects a scan strategy for a filter, routing $text/$vector
// clauses to registered capability indexes when the metadata manifest says
// one covers the referenced field (spec §4.10).
type Planner struct {
	manifest *Manifest
	fts      map[string]FullTextIndex
	vector   map[string]VectorIndex
	log      *slog.Logger
}

// New returns a Planner consulting manifest to decide index eligibility.
func New(manifest *Manifest, log *slog.Logger) *Planner {
	if manifest == nil {
		manifest = &Manifest{}
	}
	return &Planner{
		manifest: manifest,
		fts:      make(map[string]FullTextIndex),
		vector:   make(map[string]VectorIndex),
		log:      dblog.Component(log, "planner"),
	}
}

func indexKey(ns, field string) string { return ns + "/" + field }

// RegisterFullText binds idx as the FTS provider for ns/field.
func (p *Planner) RegisterFullText(ns, field string, idx FullTextIndex) {
	p.fts[indexKey(ns, field)] = idx
}

// RegisterVector binds idx as the vector provider for ns/field.
func (p *Planner) RegisterVector(ns, field string, idx VectorIndex) {
	p.vector[indexKey(ns, field)] = idx
}

// textClause is the shape a `$text` filter clause takes: {field, search}.
type textClause struct {
	Field  string
	Search string
}

// vectorClause is the shape a `$vector` filter clause takes:
// {field, near, k}.
type vectorClause struct {
	Field string
	Near  []float32
	K     int
}

func parseTextClause(v types.Value) (textClause, bool) {
	if v.Kind() != types.KindMap {
		return textClause{}, false
	}
	m := v.Map()
	fieldVal, hasField := m.Get("field")
	searchVal, hasSearch := m.Get("search")
	if !hasField || !hasSearch {
		return textClause{}, false
	}
	return textClause{Field: fieldVal.String(), Search: searchVal.String()}, true
}

func parseVectorClause(v types.Value) (vectorClause, bool) {
	if v.Kind() != types.KindMap {
		return vectorClause{}, false
	}
	m := v.Map()
	fieldVal, hasField := m.Get("field")
	nearVal, hasNear := m.Get("near")
	if !hasField || !hasNear || nearVal.Kind() != types.KindList {
		return vectorClause{}, false
	}
	near := make([]float32, 0, len(nearVal.List()))
	for _, el := range nearVal.List() {
		f, _ := el.AsFloat64()
		near = append(near, float32(f))
	}
	k := 10
	if kVal, ok := m.Get("k"); ok {
		k = int(kVal.Int())
	}
	return vectorClause{Field: fieldVal.String(), Near: near, K: k}, true
}

// Plan inspects f for a `$text` or `$vector` clause matching a field the
// manifest lists an index for, and routes to that index's provider if one
// is registered (spec §4.10: "if F contains $text and an FTS index exists
// on a matching field, drive from FTS... otherwise scan"). $text is tried
// before $vector; a filter combining both picks whichever clause resolves
// to a registered provider first, since spec.md leaves the tie-break
// unspecified and only one capability index is expected to exist on a
// single filter in practice.
func (p *Planner) Plan(ctx context.Context, ns string, f *types.Document) (*Plan, error) {
	if f == nil {
		return &Plan{}, nil
	}

	if tv, ok := f.Get("$text"); ok {
		if tc, ok := parseTextClause(tv); ok && p.manifest.HasFTS(tc.Field) {
			if idx, ok := p.fts[indexKey(ns, tc.Field)]; ok {
				ids, err := idx.Search(ctx, ns, tc.Field, tc.Search)
				if err != nil {
					return nil, err
				}
				return &Plan{CandidateIDs: ids, UsedIndex: true}, nil
			}
		}
	}

	if vv, ok := f.Get("$vector"); ok {
		if vc, ok := parseVectorClause(vv); ok && p.manifest.HasVector(vc.Field) {
			if idx, ok := p.vector[indexKey(ns, vc.Field)]; ok {
				ids, err := idx.Near(ctx, ns, vc.Field, vc.Near, vc.K)
				if err != nil {
					return nil, err
				}
				return &Plan{CandidateIDs: ids, UsedIndex: true}, nil
			}
		}
	}

	return &Plan{}, nil
}
