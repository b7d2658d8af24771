package event

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/parquedb/parquedb/internal/types"
)

// wireEvent is Event's deterministic on-the-wire shape: fields in a fixed
// order and Before/After passed through types.Document.ToNativeMap so two
// encodes of an equal Event always produce byte-identical output (spec
// §4.3 "Serialization must be deterministic given the same input").
type wireEvent struct {
	ID         string                 `json:"id"`
	Ts         int64                  `json:"ts"`
	Op         types.Op               `json:"op"`
	Target     string                 `json:"target"`
	Before     map[string]interface{} `json:"before,omitempty"`
	After      map[string]interface{} `json:"after,omitempty"`
	EntityIDs  []string               `json:"entityIds,omitempty"`
	Actor      string                 `json:"actor"`
	Compressed bool                   `json:"compressed"`
}

// Marshal deterministically encodes ev to JSON (spec §4.3).
func Marshal(ev *types.Event) ([]byte, error) {
	w := wireEvent{
		ID:         ev.ID,
		Ts:         ev.Ts,
		Op:         ev.Op,
		Target:     ev.Target,
		EntityIDs:  ev.EntityIDs,
		Actor:      string(ev.Actor),
		Compressed: ev.Compressed,
	}
	if ev.Before != nil {
		w.Before = ev.Before.ToNativeMap()
	}
	if ev.After != nil {
		w.After = ev.After.ToNativeMap()
	}
	return json.Marshal(w)
}

// Unmarshal decodes an event previously produced by Marshal.
func Unmarshal(data []byte) (*types.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("event: unmarshal: %w", err)
	}
	ev := &types.Event{
		ID:         w.ID,
		Ts:         w.Ts,
		Op:         w.Op,
		Target:     w.Target,
		EntityIDs:  w.EntityIDs,
		Actor:      types.EntityId(w.Actor),
		Compressed: w.Compressed,
	}
	if w.Before != nil {
		doc := types.DocumentFromNativeMap(w.Before)
		ev.Before = &doc
	}
	if w.After != nil {
		doc := types.DocumentFromNativeMap(w.After)
		ev.After = &doc
	}
	return ev, nil
}

// EncodedSize returns the length of ev's deterministic JSON encoding,
// used to decide whether an event exceeds the compression threshold. A
// marshal failure (which should not happen for well-formed events) reports
// a 0 size, so the event is stored uncompressed rather than dropped.
func EncodedSize(ev types.Event) int {
	data, err := Marshal(&ev)
	if err != nil {
		return 0
	}
	return len(data)
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil)
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// Compress zstd-compresses data, used for an event's Before/After payload
// once it crosses Config.CompressionThreshold (spec §4.3).
func Compress(data []byte) []byte {
	return getEncoder().EncodeAll(data, make([]byte, 0, len(data)))
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := getDecoder().DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("event: decompress: %w", err)
	}
	return out, nil
}

// MarshalCompressed encodes ev and, if Compressed is set, compresses the
// result — the on-disk representation the WAL/snapshot layers persist.
func MarshalCompressed(ev *types.Event) ([]byte, error) {
	data, err := Marshal(ev)
	if err != nil {
		return nil, err
	}
	if ev.Compressed {
		return Compress(data), nil
	}
	return data, nil
}

// UnmarshalCompressed reverses MarshalCompressed: compressed indicates
// whether data is zstd-compressed (read from the stored event's own
// Compressed flag or envelope metadata).
func UnmarshalCompressed(data []byte, compressed bool) (*types.Event, error) {
	if compressed {
		raw, err := Decompress(data)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return Unmarshal(data)
}
