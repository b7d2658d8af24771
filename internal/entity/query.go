package entity

import (
	"context"
	"sort"

	"github.com/parquedb/parquedb/internal/filter"
	"github.com/parquedb/parquedb/internal/types"
)

// FindOptions controls Find's scan, filter, sort, and pagination (spec §4.8).
type FindOptions struct {
	GetOptions
	Filter *types.Document
	Sort   []filter.Stage // optional $sort/$limit/$skip stages, applied after filtering
	After  string         // cursor: resume strictly after this $id under the scan's stable order
	Limit  int
}

// Find scans every known id in ns, applies opts.Filter, and returns matches
// in ascending $id order (the engine's stable default ordering) unless
// opts.Sort overrides it, honoring opts.After for cursor pagination (spec
// §4.8).
func (e *Engine) Find(ctx context.Context, ns string, opts FindOptions) ([]*types.Entity, error) {
	docs, err := e.scanDocs(ctx, ns, opts.GetOptions, opts.Filter)
	if err != nil {
		return nil, err
	}
	sortByID(docs)
	docs = filter.ResumeAfter(docs, opts.After)
	if len(opts.Sort) > 0 {
		docs, err = filter.Run(docs, opts.Sort)
		if err != nil {
			return nil, err
		}
	}
	if opts.Limit > 0 && opts.Limit < len(docs) {
		docs = docs[:opts.Limit]
	}
	out := make([]*types.Entity, len(docs))
	for i, d := range docs {
		out[i] = types.EntityFromDocument(d)
	}
	return out, nil
}

// FindOne returns the first match in ascending $id order, or nil.
func (e *Engine) FindOne(ctx context.Context, ns string, f *types.Document, opts GetOptions) (*types.Entity, error) {
	results, err := e.Find(ctx, ns, FindOptions{GetOptions: opts, Filter: f, Limit: 1})
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

// Count returns the number of entities in ns matching f.
func (e *Engine) Count(ctx context.Context, ns string, f *types.Document, opts GetOptions) (int, error) {
	docs, err := e.scanDocs(ctx, ns, opts, f)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Aggregate runs a pipeline (spec §4.8) over every matching document in ns.
// Candidate scoping: the pipeline always starts from every known id in ns;
// narrow it with a leading $match stage the same way a real query planner
// (C10) would push a predicate down before the rest of the pipeline runs.
func (e *Engine) Aggregate(ctx context.Context, ns string, opts GetOptions, stages []filter.Stage) ([]*types.Document, error) {
	docs, err := e.scanDocs(ctx, ns, opts, nil)
	if err != nil {
		return nil, err
	}
	sortByID(docs)
	return filter.Run(docs, stages)
}

func (e *Engine) scanDocs(ctx context.Context, ns string, opts GetOptions, f *types.Document) ([]*types.Document, error) {
	ids := e.NamespaceIDs(ns)
	if e.planner != nil {
		plan, err := e.planner.Plan(ctx, ns, f)
		if err != nil {
			return nil, err
		}
		if plan.UsedIndex {
			ids = plan.CandidateIDs
		}
	}

	var out []*types.Document
	for _, id := range ids {
		ent, err := e.get(ctx, ns, id, opts)
		if err != nil {
			return nil, err
		}
		if ent == nil {
			continue
		}
		doc := ent.ToDocument()
		ok, err := filter.Matches(doc, f)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func sortByID(docs []*types.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		vi, _ := docs[i].Get("$id")
		vj, _ := docs[j].Get("$id")
		return vi.String() < vj.String()
	})
}
