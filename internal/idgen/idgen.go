// Package idgen generates the monotonic, ULID-like identifiers events and
// entities need (spec §3, "Event": "id: string (monotonic within a
// namespace, ULID-like ordering preserved)"), and the content hashes the
// snapshot and columnar-file paths use as stable names. Adapted from the
// teacher's base36 hash-ID encoder (internal/idgen/hash.go in the reference
// corpus), generalized from a fixed "prefix-hash" issue ID shape to a
// fixed-width, lexicographically sortable timestamp+sequence shape.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// tsWidth base36 digits hold a millisecond timestamp for about 3200 years
// past the epoch; seqWidth digits hold sequence numbers up to 36^6-1 per
// millisecond per namespace. The generator does not wait for the clock: a
// larger sequence keeps only its low seqWidth digits, and ordering is lost.
const (
	tsWidth  = 9
	seqWidth = 6
)

// EncodeBase36 converts data to a base36 string of exactly length
// characters, left-padding with zeros or truncating to the least
// significant digits as needed.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var b strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		b.WriteByte(chars[i])
	}
	str := b.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

func encodeUint64(n uint64, width int) string {
	return EncodeBase36(big.NewInt(0).SetUint64(n).Bytes(), width)
}

// Generator produces monotonic event IDs, one independent sequence per
// namespace. The zero value is not usable; use NewGenerator.
type Generator struct {
	mu    sync.Mutex
	clock func() time.Time
	last  map[string]int64  // last millisecond timestamp issued per namespace
	seq   map[string]uint64 // sequence counter within last[ns]
}

// NewGenerator returns a Generator using wall-clock time.
func NewGenerator() *Generator {
	return &Generator{
		clock: time.Now,
		last:  make(map[string]int64),
		seq:   make(map[string]uint64),
	}
}

// NextEventID returns the next monotonic id for ns and the sequence number
// it encodes (the WAL batch and pending row-group first_seq/last_seq
// fields, spec §3). IDs for the same namespace sort lexicographically in
// the order they were issued, even across millisecond boundaries, as long
// as fewer than 36^seqWidth ids are requested within a single millisecond.
func (g *Generator) NextEventID(ns string) (string, uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock().UnixMilli()
	if now <= g.last[ns] {
		now = g.last[ns]
		g.seq[ns]++
	} else {
		g.last[ns] = now
		g.seq[ns] = 0
	}
	seq := g.seq[ns]

	id := fmt.Sprintf("%s%s", encodeUint64(uint64(now), tsWidth), encodeUint64(seq, seqWidth))
	return id, seq
}

// ContentHash returns a stable hex-encoded sha256 digest of parts, joined
// by a separator that cannot appear inside a single part's own bytes
// (length-prefixed), for naming content-addressed canonical columnar files
// and snapshot blobs.
func ContentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s;", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
