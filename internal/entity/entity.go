// Package entity implements the Entity Engine (spec §4.6): create, update,
// delete, and read operations over the reconstructed document model, backed
// by the WAL/pending read-merge (C4) and the relationship index (C7).
//
// Grounded on the teacher's storage-layer shape (internal/storage/sqlite's
// CRUD methods wrapping a reconstruction/cache layer) generalized from a
// fixed issue schema to the dynamic document model, with the LRU cache
// swapped in for github.com/hashicorp/golang-lru/v2 per spec.md §4.6
// ("An LRU of reconstructed entities sized ≈1000 entries").
package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/parquedb/parquedb/internal/command"
	"github.com/parquedb/parquedb/internal/dblog"
	"github.com/parquedb/parquedb/internal/event"
	"github.com/parquedb/parquedb/internal/idgen"
	"github.com/parquedb/parquedb/internal/planner"
	"github.com/parquedb/parquedb/internal/relationship"
	"github.com/parquedb/parquedb/internal/types"
	"github.com/parquedb/parquedb/internal/wal"
)

// cacheSize matches spec §4.6's stated "≈1000 entries".
const cacheSize = 1000

// CreateOptions controls Create.
type CreateOptions struct {
	Actor types.EntityId
}

// UpdateOptions controls Update.
type UpdateOptions struct {
	Actor           types.EntityId
	ExpectedVersion *uint64
	// AutoCreate governs every $link operator in this call's patch (spec
	// §4.7): when the link target does not exist, create it as a stub
	// instead of failing with ReferenceNotFound.
	AutoCreate bool
}

// DeleteOptions controls Delete.
type DeleteOptions struct {
	Actor           types.EntityId
	ExpectedVersion *uint64
	Hard            bool
}

// GetOptions controls Get/Find/Count/Exists (spec §4.6: "defaults exclude
// soft-deleted unless includeDeleted").
type GetOptions struct {
	IncludeDeleted bool
	AsOfSeq        uint64
}

// Engine is the entity read/write surface. The zero value is not usable;
// use New.
//
// writeMu serializes only the read-check-append sequence each write method
// performs against a single id — it is never held while calling into the
// relationship index, since Index.Link/Unlink may call back into this
// Engine's own EntityCreator methods (Exists/CreateStub) and Go's mutex is
// not reentrant. Cross-id concurrency and the lru.Cache's own internal lock
// are otherwise independent of writeMu.
type Engine struct {
	writeMu sync.Mutex

	cache         *lru.Cache[types.EntityId, *types.Entity]
	wal           *wal.Store
	events        *event.Log
	relationships *relationship.Index
	gen           *idgen.Generator
	clock         func() time.Time
	log           *slog.Logger

	// planner is consulted by Find/Count/Aggregate to narrow the candidate
	// id set via a $text/$vector capability index before falling back to a
	// full namespace scan (spec §4.10). Nil means no index is wired; every
	// query scans.
	planner *planner.Planner

	knownMu sync.Mutex
	// known tracks, per namespace, every id created or updated through this
	// engine and not hard-deleted since (Delete with Hard removes it), the
	// scan base for
	// Find/Count/Aggregate (spec §4.8 delegates evaluation, not discovery;
	// this engine is the thing that must produce the candidate id set).
	known map[string]map[types.EntityId]bool
}

// New wires an Engine from its collaborators, sized at the spec's default
// ≈1000-entry cache. Equivalent to NewWithCacheSize(..., cacheSize).
func New(w *wal.Store, events *event.Log, idx *relationship.Index, gen *idgen.Generator, log *slog.Logger) *Engine {
	return NewWithCacheSize(w, events, idx, gen, log, cacheSize)
}

// NewWithCacheSize wires an Engine from its collaborators with an
// explicitly sized reconstruction cache — the knob a host reads from
// dbcfg.Config.EntityCacheSize. The returned Engine implements
// relationship.EntityCreator; bind it to idx via idx.SetCreator once
// constructed, since idx typically must exist before Engine does.
func NewWithCacheSize(w *wal.Store, events *event.Log, idx *relationship.Index, gen *idgen.Generator, log *slog.Logger, entries int) *Engine {
	cache, err := lru.New[types.EntityId, *types.Entity](entries)
	if err != nil {
		// Only returns an error for a non-positive size; callers are
		// expected to validate via dbcfg.Config.Validate first.
		panic(fmt.Sprintf("entity: lru.New: %v", err))
	}
	return &Engine{
		cache:         cache,
		wal:           w,
		events:        events,
		relationships: idx,
		gen:           gen,
		clock:         time.Now,
		log:           dblog.Component(log, "entity"),
		known:         make(map[string]map[types.EntityId]bool),
	}
}

func (e *Engine) remember(ns string, id types.EntityId) {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()
	if e.known[ns] == nil {
		e.known[ns] = make(map[types.EntityId]bool)
	}
	e.known[ns][id] = true
}

func (e *Engine) forget(ns string, id types.EntityId) {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()
	delete(e.known[ns], id)
}

func resolveActor(actor types.EntityId) types.EntityId {
	if actor == "" {
		return types.SystemAnonymousActor
	}
	return actor
}

// Create assigns $id (if data does not already carry one), audit fields,
// and version=1, emits CREATE, and caches the result (spec §4.6).
func (e *Engine) Create(ctx context.Context, ns string, data map[string]interface{}, opts CreateOptions) (*types.Entity, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.create(ctx, ns, data, opts.Actor, "")
}

// CreateStub implements relationship.EntityCreator: a minimal entity with
// only its type and audit fields populated (spec §4.7). Callers reach this
// from inside Index.Link, which this package's own Update/Delete never call
// while holding writeMu (see Engine's doc comment), so taking writeMu here
// is always safe.
func (e *Engine) CreateStub(ctx context.Context, ns, id, typ string) (*types.Entity, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	entityID := types.EntityId(ns + "/" + id)
	if existing, err := e.get(ctx, ns, entityID, GetOptions{IncludeDeleted: true}); err == nil && existing != nil {
		return existing, nil // idempotent: resolves to the existing entity (spec §4.7)
	}

	return e.create(ctx, ns, map[string]interface{}{"$id": string(entityID), "$type": typ}, "", id)
}

func (e *Engine) create(ctx context.Context, ns string, data map[string]interface{}, actor types.EntityId, forcedLocal string) (*types.Entity, error) {
	if err := types.ValidateNamespace(ns); err != nil {
		return nil, command.Wrap(command.KindValidationError, "invalid namespace", err)
	}

	local := forcedLocal
	if idVal, ok := data["$id"]; ok {
		if s, ok := idVal.(string); ok && s != "" {
			id := types.EntityId(s)
			if id.Namespace() == ns {
				local = id.Local()
			} else if id.Local() != "" {
				local = string(id) // caller passed a bare local id, not "ns/local"
			}
		}
	}
	if local == "" {
		local, _ = e.gen.NextEventID(ns)
	}
	id, err := types.NewEntityId(ns, local)
	if err != nil {
		return nil, command.Wrap(command.KindValidationError, "invalid entity id", err)
	}

	if existing, err := e.get(ctx, ns, id, GetOptions{IncludeDeleted: true}); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, command.New(command.KindAlreadyExists, fmt.Sprintf("entity %s already exists", id)).WithContext(ns, string(id), "")
	}

	now := e.clock()
	actor = resolveActor(actor)

	typeName, _ := data["$type"].(string)
	name, _ := data["name"].(string)

	ent := &types.Entity{
		ID:        id,
		Type:      typeName,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: actor,
		UpdatedBy: actor,
		Version:   1,
		Fields:    types.NewDocument(),
	}
	for k, v := range data {
		if k == "$id" || k == "$type" || k == "name" {
			continue
		}
		ent.Fields.Set(k, types.FromNative(v))
	}

	doc := ent.ToDocument()
	ev := &types.Event{Op: types.OpCreate, Target: types.EntityTarget(id), After: doc, Actor: actor}
	if _, err := e.wal.Append(ctx, ns, ev); err != nil {
		return nil, command.Wrap(command.KindBackendError, "append create event", err)
	}
	e.events.Append(ns, *ev)

	e.cache.Add(id, ent)
	e.remember(ns, id)
	e.log.Info("entity created", slog.String("ns", ns), slog.String("id", string(id)))
	return ent.Clone(), nil
}

// Get reconstructs and returns the entity, or nil if it does not exist (or
// is soft-deleted and opts.IncludeDeleted is false).
func (e *Engine) Get(ctx context.Context, ns string, id types.EntityId, opts GetOptions) (*types.Entity, error) {
	return e.get(ctx, ns, id, opts)
}

func (e *Engine) get(ctx context.Context, ns string, id types.EntityId, opts GetOptions) (*types.Entity, error) {
	if opts.AsOfSeq == 0 {
		if cached, ok := e.cache.Get(id); ok {
			if cached.IsDeleted() && !opts.IncludeDeleted {
				return nil, nil
			}
			return cached.Clone(), nil
		}
	}

	doc, err := e.wal.GetEntityFromEvents(ctx, ns, id, wal.ReadOptions{AsOfSeq: opts.AsOfSeq, IncludeDeleted: opts.IncludeDeleted})
	if err != nil {
		return nil, command.Wrap(command.KindBackendError, "reconstruct entity", err)
	}
	if doc == nil {
		return nil, nil
	}
	ent := types.EntityFromDocument(doc)
	if opts.AsOfSeq == 0 {
		e.cache.Add(id, ent)
	}
	return ent.Clone(), nil
}

// Exists implements relationship.EntityCreator and is also the engine's own
// existence check (spec §4.6 "exists").
func (e *Engine) Exists(ctx context.Context, id types.EntityId) (bool, error) {
	ent, err := e.get(ctx, id.Namespace(), id, GetOptions{})
	return ent != nil, err
}

// Update validates and applies patch operators against the current state,
// enforcing OCC when opts.ExpectedVersion is set, and emits UPDATE with
// before/after (spec §4.6).
func (e *Engine) Update(ctx context.Context, ns string, id types.EntityId, patch map[string]interface{}, opts UpdateOptions) (*types.Entity, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	current, err := e.get(ctx, ns, id, GetOptions{})
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, command.New(command.KindNotFound, fmt.Sprintf("entity %s not found", id)).WithContext(ns, string(id), "")
	}
	if opts.ExpectedVersion != nil && *opts.ExpectedVersion != current.Version {
		return nil, command.New(command.KindVersionConflict,
			fmt.Sprintf("expected version %d, current version %d", *opts.ExpectedVersion, current.Version)).WithContext(ns, string(id), "")
	}

	patchDoc := types.DocumentFromNativeMap(patch)
	before := current.ToDocument()
	newDoc, links, unlinks, err := Apply(before.Clone(), &patchDoc)
	if err != nil {
		return nil, err
	}

	actor := resolveActor(opts.Actor)
	now := e.clock()

	// Cache invalidation precedes the append so a concurrent read on this
	// instance cannot observe a stale cache hit past the point of write
	// (spec §4.6, "invalidate first, then append").
	e.cache.Remove(id)

	// Link/unlink side effects run with writeMu released: Index.Link may
	// call back into e.Exists/e.CreateStub, and Go's mutex is not
	// reentrant. The version check above already established OCC for this
	// call; link/unlink do not themselves read-then-write current.Version.
	e.writeMu.Unlock()
	linkErr := e.applyLinks(ctx, ns, id, actor, links, unlinks, opts.AutoCreate)
	e.writeMu.Lock()
	if linkErr != nil {
		return nil, linkErr
	}

	newDoc.Set("updatedAt", types.Time(now))
	newDoc.Set("updatedBy", types.Ref(actor))
	newDoc.Set("version", types.Int(int64(current.Version+1)))

	ev := &types.Event{Op: types.OpUpdate, Target: types.EntityTarget(id), Before: before, After: newDoc, Actor: actor}
	if _, err := e.wal.Append(ctx, ns, ev); err != nil {
		return nil, command.Wrap(command.KindBackendError, "append update event", err)
	}
	e.events.Append(ns, *ev)

	updated := types.EntityFromDocument(newDoc)
	e.cache.Add(id, updated)
	e.remember(ns, id)
	return updated.Clone(), nil
}

func (e *Engine) applyLinks(ctx context.Context, ns string, id types.EntityId, actor types.EntityId, links []LinkRequest, unlinks []UnlinkRequest, autoCreateDefault bool) error {
	for _, l := range links {
		if e.relationships == nil {
			return command.New(command.KindInvalidUpdate, "$link used with no relationship index bound")
		}
		autoCreate := l.AutoCreate || autoCreateDefault
		edge, err := e.relationships.Link(ctx, id, l.Predicate, l.Target, relationship.LinkOptions{AutoCreate: autoCreate, TargetType: l.TargetType})
		if err != nil {
			return command.Wrap(command.KindReferenceNotFound, fmt.Sprintf("$link %s -> %s", l.Predicate, l.Target), err).WithContext(ns, string(id), l.Predicate)
		}
		linkEv := &types.Event{Op: types.OpCreate, Target: types.RelationshipTarget(edge.FromID, edge.Predicate, edge.ToID), Actor: actor}
		if _, err := e.wal.Append(ctx, ns, linkEv); err != nil {
			return command.Wrap(command.KindBackendError, "append link event", err)
		}
		e.events.Append(ns, *linkEv)
	}
	for _, u := range unlinks {
		if e.relationships == nil {
			return command.New(command.KindInvalidUpdate, "$unlink used with no relationship index bound")
		}
		e.relationships.Unlink(id, u.Predicate, u.Target)
		unlinkEv := &types.Event{Op: types.OpDelete, Target: types.RelationshipTarget(id, u.Predicate, u.Target), Actor: actor}
		if _, err := e.wal.Append(ctx, ns, unlinkEv); err != nil {
			return command.Wrap(command.KindBackendError, "append unlink event", err)
		}
		e.events.Append(ns, *unlinkEv)
	}
	return nil
}

// Delete soft-deletes (sets deletedAt/deletedBy, increments version) or, if
// opts.Hard, emits DELETE with after=null and cascades the relationship
// index (spec §4.6).
func (e *Engine) Delete(ctx context.Context, ns string, id types.EntityId, opts DeleteOptions) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	current, err := e.get(ctx, ns, id, GetOptions{})
	if err != nil {
		return err
	}
	if current == nil {
		return command.New(command.KindNotFound, fmt.Sprintf("entity %s not found", id)).WithContext(ns, string(id), "")
	}
	if opts.ExpectedVersion != nil && *opts.ExpectedVersion != current.Version {
		return command.New(command.KindVersionConflict,
			fmt.Sprintf("expected version %d, current version %d", *opts.ExpectedVersion, current.Version)).WithContext(ns, string(id), "")
	}

	actor := resolveActor(opts.Actor)
	now := e.clock()
	before := current.ToDocument()

	e.cache.Remove(id)

	if opts.Hard {
		ev := &types.Event{Op: types.OpDelete, Target: types.EntityTarget(id), Before: before, Actor: actor}
		if _, err := e.wal.Append(ctx, ns, ev); err != nil {
			return command.Wrap(command.KindBackendError, "append delete event", err)
		}
		e.events.Append(ns, *ev)
		if e.relationships != nil {
			e.writeMu.Unlock()
			e.relationships.DeleteSource(ns, id)
			e.writeMu.Lock()
		}
		e.forget(ns, id)
		e.log.Info("entity hard-deleted", slog.String("ns", ns), slog.String("id", string(id)))
		return nil
	}

	after := before.Clone()
	after.Set("deletedAt", types.Time(now))
	after.Set("deletedBy", types.Ref(actor))
	after.Set("updatedAt", types.Time(now))
	after.Set("updatedBy", types.Ref(actor))
	after.Set("version", types.Int(int64(current.Version+1)))

	ev := &types.Event{Op: types.OpDelete, Target: types.EntityTarget(id), Before: before, After: after, Actor: actor}
	if _, err := e.wal.Append(ctx, ns, ev); err != nil {
		return command.Wrap(command.KindBackendError, "append soft-delete event", err)
	}
	e.events.Append(ns, *ev)
	e.log.Info("entity soft-deleted", slog.String("ns", ns), slog.String("id", string(id)))
	return nil
}

// NeedsVacuum reports whether ns has flushed WAL batches or pending
// row-groups not yet folded by compaction (events still only in the
// in-memory buffer do not count), so a host can schedule compaction (C11) only when
// useful instead of polling on a fixed timer (spec.md §10 supplemented
// feature).
func (e *Engine) NeedsVacuum(ns string) bool {
	return e.wal.NeedsVacuum(ns)
}

// SetPlanner binds the query planner (C10) a host has built from the
// capability indexes it registers. Queries issued before SetPlanner is
// called simply scan, same as if it were never set.
func (e *Engine) SetPlanner(p *planner.Planner) {
	e.planner = p
}

// NamespaceIDs returns every id this instance has created or updated in ns
// and not hard-deleted since, the candidate set Find/Count/Aggregate scan (spec §4.8 delegates
// filtering, not discovery, to this engine).
func (e *Engine) NamespaceIDs(ns string) []types.EntityId {
	e.knownMu.Lock()
	defer e.knownMu.Unlock()
	out := make([]types.EntityId, 0, len(e.known[ns]))
	for id := range e.known[ns] {
		out = append(out, id)
	}
	return out
}
