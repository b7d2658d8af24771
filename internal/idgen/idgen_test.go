package idgen

import (
	"sort"
	"testing"
	"time"
)

func TestEncodeBase36RoundTripsWidth(t *testing.T) {
	got := EncodeBase36([]byte{0, 0, 0, 1}, 6)
	if len(got) != 6 {
		t.Fatalf("got length %d, want 6", len(got))
	}
}

func TestNextEventIDMonotonicWithinMillisecond(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	g := NewGenerator()
	g.clock = func() time.Time { return fixed }

	var ids []string
	for i := 0; i < 50; i++ {
		id, seq := g.NextEventID("ns")
		if int(seq) != i {
			t.Fatalf("seq %d: got %d, want %d", i, seq, i)
		}
		ids = append(ids, id)
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("ids not lexicographically sorted: %v", ids)
	}
}

func TestNextEventIDAdvancesAcrossMilliseconds(t *testing.T) {
	ms := int64(1_700_000_000_000)
	g := NewGenerator()
	g.clock = func() time.Time {
		t := time.UnixMilli(ms)
		ms++
		return t
	}

	first, _ := g.NextEventID("ns")
	second, _ := g.NextEventID("ns")
	if first >= second {
		t.Fatalf("expected %q < %q", first, second)
	}
}

func TestNextEventIDNamespacesAreIndependent(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	g := NewGenerator()
	g.clock = func() time.Time { return fixed }

	_, seqA0 := g.NextEventID("a")
	_, seqB0 := g.NextEventID("b")
	_, seqA1 := g.NextEventID("a")

	if seqA0 != 0 || seqB0 != 0 {
		t.Fatalf("expected both namespaces to start at seq 0, got a=%d b=%d", seqA0, seqB0)
	}
	if seqA1 != 1 {
		t.Fatalf("expected namespace a's second id to be seq 1, got %d", seqA1)
	}
}

func TestContentHashStableAndDistinguishesBoundary(t *testing.T) {
	a := ContentHash("ab", "c")
	b := ContentHash("a", "bc")
	if a == b {
		t.Fatal("expected length-prefixed hashing to distinguish part boundaries")
	}
	if ContentHash("x", "y") != ContentHash("x", "y") {
		t.Fatal("expected ContentHash to be deterministic")
	}
}
