// Package event implements the append-only Event Log (spec §4.3): a
// single-writer-per-instance in-memory buffer with rotation and archival,
// grounded on the teacher's append-only event table shape
// (internal/storage/dolt/events.go's GetAllEventsSince ascending-id scan
// and internal/eventbus/bus.go's mutex-guarded register/dispatch structure
// in the reference corpus), generalized from a SQL-backed issue-event feed
// to an in-process log keyed by the ParqueDB event model.
package event

import (
	"sort"
	"sync"
	"time"

	"github.com/parquedb/parquedb/internal/dbcfg"
	"github.com/parquedb/parquedb/internal/idgen"
	"github.com/parquedb/parquedb/internal/types"
)

// Config holds the Log's defaultable tuning knobs (spec §4.3).
type Config struct {
	MaxEvents         int
	MaxAge            time.Duration
	ArchiveOnRotation bool
	MaxArchivedEvents int

	// CompressionThreshold is the encoded event size, in bytes, above which
	// Append marks a stored event Compressed (spec §4.3 "Compression").
	CompressionThreshold int
}

// DefaultConfig matches spec §4.3's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxEvents:            10_000,
		MaxAge:               7 * 24 * time.Hour,
		ArchiveOnRotation:    false,
		MaxArchivedEvents:    50_000,
		CompressionThreshold: 64 * 1024,
	}
}

// ConfigFromDBConfig overlays cfg.CompressionThreshold onto DefaultConfig,
// the knob a host reads from its loaded dbcfg.Config; the rotation/archival
// fields stay at their spec-stated defaults since dbcfg has no equivalent
// settings for them.
func ConfigFromDBConfig(cfg dbcfg.Config) Config {
	c := DefaultConfig()
	c.CompressionThreshold = cfg.CompressionThreshold
	return c
}

// RotationResult summarizes one rotation pass (spec §4.3 "Rotation").
type RotationResult struct {
	ArchivedCount    int
	DroppedCount     int
	PrunedCount      int
	OldestEventTs    *int64
	NewestArchivedTs *int64
}

// Log is an append-only, single-writer-per-instance event buffer. The zero
// value is not usable; use New.
type Log struct {
	mu      sync.Mutex
	cfg     Config
	gen     *idgen.Generator
	clock   func() time.Time
	events  []*types.Event
	archive []*types.Event
}

// New returns an empty Log using cfg and gen for id assignment.
func New(cfg Config, gen *idgen.Generator) *Log {
	return &Log{cfg: cfg, gen: gen, clock: time.Now}
}

// Append assigns ev a monotonic id and ts, sets its Compressed flag if its
// encoded size exceeds cfg.CompressionThreshold (the stored copy itself is
// not compressed; MarshalCompressed does that), stores it, runs rotation,
// and returns the stored event (a copy safe for the caller to retain).
func (l *Log) Append(ns string, ev types.Event) *types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, _ := l.gen.NextEventID(ns)
	ev.ID = id
	ev.Ts = l.clock().UnixMilli()
	ev.Compressed = EncodedSize(ev) > l.cfg.CompressionThreshold

	stored := ev
	l.events = append(l.events, &stored)
	l.rotateLocked()
	return &stored
}

// GetEvents returns, sorted by id, every stored event whose target
// addresses entityID (spec §4.3).
func (l *Log) GetEvents(entityID types.EntityId) []*types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*types.Event
	for _, ev := range l.events {
		if ev.MatchesEntity(entityID) {
			out = append(out, ev)
		}
	}
	sortByID(out)
	return out
}

// GetEventsByNamespace returns every stored event whose target is in ns,
// sorted by id.
func (l *Log) GetEventsByNamespace(ns string) []*types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*types.Event
	for _, ev := range l.events {
		if types.TargetNamespace(ev.Target) == ns {
			out = append(out, ev)
		}
	}
	sortByID(out)
	return out
}

// GetEventsByOp returns every stored event with the given Op, sorted by id.
func (l *Log) GetEventsByOp(op types.Op) []*types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*types.Event
	for _, ev := range l.events {
		if ev.Op == op {
			out = append(out, ev)
		}
	}
	sortByID(out)
	return out
}

// GetEventsByTimeRange returns every stored event with ts in the half-open
// range [from, to), sorted by id (spec §4.3).
func (l *Log) GetEventsByTimeRange(from, to int64) []*types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*types.Event
	for _, ev := range l.events {
		if ev.Ts >= from && ev.Ts < to {
			out = append(out, ev)
		}
	}
	sortByID(out)
	return out
}

// Archived returns the current archive contents, sorted by ts ascending.
func (l *Log) Archived() []*types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*types.Event, len(l.archive))
	copy(out, l.archive)
	return out
}

// ArchiveEvents forces a rotation pass outside the normal append path
// (spec §4.3: "Invoked on each append and on archiveEvents(options)").
func (l *Log) ArchiveEvents() RotationResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

func sortByID(evs []*types.Event) {
	sort.Slice(evs, func(i, j int) bool { return evs[i].ID < evs[j].ID })
}

// rotateLocked implements spec §4.3's three-step rotation algorithm.
// Caller must hold l.mu.
func (l *Log) rotateLocked() RotationResult {
	now := l.clock()
	cutoff := now.Add(-l.cfg.MaxAge).UnixMilli()

	overflowCount := 0
	if len(l.events) > l.cfg.MaxEvents {
		overflowCount = len(l.events) - l.cfg.MaxEvents
	}

	keepFrom := 0
	for keepFrom < len(l.events) && (keepFrom < overflowCount || l.events[keepFrom].Ts < cutoff) {
		keepFrom++
	}

	var result RotationResult
	if keepFrom > 0 {
		overflow := l.events[:keepFrom]
		if len(overflow) > 0 {
			ts := overflow[0].Ts
			result.OldestEventTs = &ts
		}
		if l.cfg.ArchiveOnRotation {
			l.archive = append(l.archive, overflow...)
			sort.Slice(l.archive, func(i, j int) bool { return l.archive[i].Ts < l.archive[j].Ts })
			result.ArchivedCount = len(overflow)
		} else {
			result.DroppedCount = len(overflow)
		}
		l.events = append([]*types.Event{}, l.events[keepFrom:]...)
	}

	if len(l.archive) > l.cfg.MaxArchivedEvents {
		pruned := len(l.archive) - l.cfg.MaxArchivedEvents
		l.archive = l.archive[pruned:]
		result.PrunedCount = pruned
	}
	if len(l.archive) > 0 {
		ts := l.archive[len(l.archive)-1].Ts
		result.NewestArchivedTs = &ts
	}
	return result
}
