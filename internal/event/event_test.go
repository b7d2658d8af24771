package event

import (
	"testing"
	"time"

	"github.com/parquedb/parquedb/internal/dbcfg"
	"github.com/parquedb/parquedb/internal/idgen"
	"github.com/parquedb/parquedb/internal/types"
)

func newTestLog(cfg Config) *Log {
	return New(cfg, idgen.NewGenerator())
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	l := newTestLog(DefaultConfig())
	id := types.EntityId("issues/1")

	ev1 := l.Append("issues", types.Event{Op: types.OpCreate, Target: types.EntityTarget(id), Actor: "system/anonymous"})
	ev2 := l.Append("issues", types.Event{Op: types.OpUpdate, Target: types.EntityTarget(id), Actor: "system/anonymous"})

	if ev1.ID >= ev2.ID {
		t.Fatalf("expected ev1.ID < ev2.ID, got %q >= %q", ev1.ID, ev2.ID)
	}
}

func TestGetEventsFiltersByEntity(t *testing.T) {
	l := newTestLog(DefaultConfig())
	a := types.EntityId("issues/a")
	b := types.EntityId("issues/b")

	l.Append("issues", types.Event{Op: types.OpCreate, Target: types.EntityTarget(a), Actor: "system/anonymous"})
	l.Append("issues", types.Event{Op: types.OpCreate, Target: types.EntityTarget(b), Actor: "system/anonymous"})
	l.Append("issues", types.Event{Op: types.OpUpdate, Target: types.EntityTarget(a), Actor: "system/anonymous"})

	got := l.GetEvents(a)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].ID >= got[1].ID {
		t.Fatal("expected events sorted by id")
	}
}

func TestGetEventsByNamespaceAndOp(t *testing.T) {
	l := newTestLog(DefaultConfig())
	a := types.EntityId("issues/a")
	c := types.EntityId("comments/c")

	l.Append("issues", types.Event{Op: types.OpCreate, Target: types.EntityTarget(a), Actor: "system/anonymous"})
	l.Append("comments", types.Event{Op: types.OpCreate, Target: types.EntityTarget(c), Actor: "system/anonymous"})
	l.Append("issues", types.Event{Op: types.OpDelete, Target: types.EntityTarget(a), Actor: "system/anonymous"})

	if got := l.GetEventsByNamespace("issues"); len(got) != 2 {
		t.Fatalf("got %d events for issues ns, want 2", len(got))
	}
	if got := l.GetEventsByOp(types.OpDelete); len(got) != 1 {
		t.Fatalf("got %d delete events, want 1", len(got))
	}
}

func TestGetEventsByTimeRangeIsHalfOpen(t *testing.T) {
	l := newTestLog(DefaultConfig())
	fixed := time.UnixMilli(1_700_000_000_000)
	l.clock = func() time.Time { return fixed }

	a := types.EntityId("issues/a")
	l.Append("issues", types.Event{Op: types.OpCreate, Target: types.EntityTarget(a), Actor: "system/anonymous"})

	ts := fixed.UnixMilli()
	if got := l.GetEventsByTimeRange(ts, ts+1); len(got) != 1 {
		t.Fatalf("got %d events in [ts, ts+1), want 1", len(got))
	}
	if got := l.GetEventsByTimeRange(ts+1, ts+2); len(got) != 0 {
		t.Fatalf("got %d events in [ts+1, ts+2), want 0", len(got))
	}
}

func TestRotationDropsOverflowByDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEvents = 2
	l := newTestLog(cfg)
	a := types.EntityId("issues/a")

	for i := 0; i < 5; i++ {
		l.Append("issues", types.Event{Op: types.OpUpdate, Target: types.EntityTarget(a), Actor: "system/anonymous"})
	}

	got := l.GetEventsByNamespace("issues")
	if len(got) != cfg.MaxEvents {
		t.Fatalf("got %d live events, want %d after rotation", len(got), cfg.MaxEvents)
	}
}

func TestRotationArchivesWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEvents = 2
	cfg.ArchiveOnRotation = true
	l := newTestLog(cfg)
	a := types.EntityId("issues/a")

	for i := 0; i < 5; i++ {
		l.Append("issues", types.Event{Op: types.OpUpdate, Target: types.EntityTarget(a), Actor: "system/anonymous"})
	}

	if len(l.Archived()) != 3 {
		t.Fatalf("got %d archived events, want 3", len(l.Archived()))
	}
}

func TestArchivePruning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEvents = 1
	cfg.ArchiveOnRotation = true
	cfg.MaxArchivedEvents = 2
	l := newTestLog(cfg)
	a := types.EntityId("issues/a")

	for i := 0; i < 6; i++ {
		l.Append("issues", types.Event{Op: types.OpUpdate, Target: types.EntityTarget(a), Actor: "system/anonymous"})
	}

	if len(l.Archived()) != cfg.MaxArchivedEvents {
		t.Fatalf("got %d archived events, want capped at %d", len(l.Archived()), cfg.MaxArchivedEvents)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	doc := types.NewDocument()
	doc.Set("title", types.String("hello"))
	after := *doc

	ev := &types.Event{
		ID:     "abc123",
		Ts:     1700000000000,
		Op:     types.OpCreate,
		Target: "issues:1",
		After:  &after,
		Actor:  "system/anonymous",
	}

	data, err := Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != ev.ID || got.Op != ev.Op || got.Target != ev.Target {
		t.Fatalf("got %+v, want %+v", got, ev)
	}
	v, ok := got.After.Get("title")
	if !ok || v.String() != "hello" {
		t.Fatalf("got after.title=%v ok=%v, want hello/true", v, ok)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	doc := types.NewDocument()
	doc.Set("a", types.Int(1))
	doc.Set("b", types.Int(2))
	after := *doc

	ev := &types.Event{ID: "x", Op: types.OpCreate, Target: "ns:1", After: &after, Actor: "system/anonymous"}

	d1, err := Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	if string(d1) != string(d2) {
		t.Fatalf("expected deterministic encoding, got %q then %q", d1, d2)
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog, repeated: the quick brown fox jumps over the lazy dog")
	compressed := Compress(original)
	if len(compressed) == 0 {
		t.Fatal("expected non-empty compressed output")
	}
	decompressed, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(decompressed) != string(original) {
		t.Fatalf("got %q, want %q", decompressed, original)
	}
}

func TestMarshalCompressedRoundTrip(t *testing.T) {
	doc := types.NewDocument()
	doc.Set("body", types.String("large payload"))
	after := *doc
	ev := &types.Event{ID: "x", Op: types.OpCreate, Target: "ns:1", After: &after, Actor: "a/b", Compressed: true}

	data, err := MarshalCompressed(ev)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalCompressed(data, true)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := got.After.Get("body")
	if !ok || v.String() != "large payload" {
		t.Fatalf("got %v, %v", v, ok)
	}
}

func TestEncodedSizeOfSmallEventStaysUnderCompressionThreshold(t *testing.T) {
	small := types.Event{ID: "x", Op: types.OpCreate, Target: "ns:1", Actor: "a/b"}
	if EncodedSize(small) > DefaultConfig().CompressionThreshold {
		t.Fatal("expected a tiny event to stay under the default compression threshold")
	}
}

func TestConfigFromDBConfigOverlaysCompressionThreshold(t *testing.T) {
	dbc := dbcfg.Defaults()
	dbc.CompressionThreshold = 42

	cfg := ConfigFromDBConfig(dbc)
	if cfg.CompressionThreshold != 42 {
		t.Fatalf("got CompressionThreshold=%d, want 42", cfg.CompressionThreshold)
	}
	if cfg.MaxEvents != DefaultConfig().MaxEvents {
		t.Fatalf("expected rotation defaults to stay unchanged, got MaxEvents=%d", cfg.MaxEvents)
	}
}
