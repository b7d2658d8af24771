package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeTag derives an object's ETag from its content under the requested
// TagMode (spec §4.1, "Tags").
//
// TagTimeTagged ("hash-timestamp") mixes the content hash with the current
// time, suiting mutable objects where two writes of identical bytes at
// different times should still be distinguishable.
//
// TagDeterministic ("hash-size") derives only from content + length, stable
// across instances and processes — suited to content-addressed artifacts
// and dedupe, where two writers producing the same bytes should agree on
// the tag without coordinating.
func ComputeTag(data []byte, mode TagMode, now time.Time) string {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	switch mode {
	case TagDeterministic:
		return fmt.Sprintf("%s-%d", hash[:32], len(data))
	default:
		return fmt.Sprintf("%s-%d", hash[:32], now.UnixNano())
	}
}
