package wal

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/buffer"
	parquetgo "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/parquedb/parquedb/internal/types"
)

// eventRow is the columnar row shape for a WAL batch blob (spec §6, "Event
// schema (persisted)": id, ts, op, target, before_json, after_json,
// entity_ids_json, actor, compressed).
type eventRow struct {
	ID            string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Ts            int64  `parquet:"name=ts, type=INT64"`
	Op            string `parquet:"name=op, type=BYTE_ARRAY, convertedtype=UTF8"`
	Target        string `parquet:"name=target, type=BYTE_ARRAY, convertedtype=UTF8"`
	BeforeJSON    string `parquet:"name=before_json, type=BYTE_ARRAY, convertedtype=UTF8"`
	AfterJSON     string `parquet:"name=after_json, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntityIDsJSON string `parquet:"name=entity_ids_json, type=BYTE_ARRAY, convertedtype=UTF8"`
	Actor         string `parquet:"name=actor, type=BYTE_ARRAY, convertedtype=UTF8"`
	Compressed    bool   `parquet:"name=compressed, type=BOOLEAN"`
}

func eventToRow(ev *types.Event) (eventRow, error) {
	before, after, entityIDs := "", "", "[]"
	if ev.Before != nil {
		b, err := jsonOf(ev.Before)
		if err != nil {
			return eventRow{}, err
		}
		before = b
	}
	if ev.After != nil {
		a, err := jsonOf(ev.After)
		if err != nil {
			return eventRow{}, err
		}
		after = a
	}
	if len(ev.EntityIDs) > 0 {
		ids, err := jsonOfStrings(ev.EntityIDs)
		if err != nil {
			return eventRow{}, err
		}
		entityIDs = ids
	}
	return eventRow{
		ID:            ev.ID,
		Ts:            ev.Ts,
		Op:            string(ev.Op),
		Target:        ev.Target,
		BeforeJSON:    before,
		AfterJSON:     after,
		EntityIDsJSON: entityIDs,
		Actor:         string(ev.Actor),
		Compressed:    ev.Compressed,
	}, nil
}

func rowToEvent(r eventRow) (*types.Event, error) {
	ev := &types.Event{
		ID:         r.ID,
		Ts:         r.Ts,
		Op:         types.Op(r.Op),
		Target:     r.Target,
		Actor:      types.EntityId(r.Actor),
		Compressed: r.Compressed,
	}
	if r.BeforeJSON != "" {
		doc, err := documentOf(r.BeforeJSON)
		if err != nil {
			return nil, err
		}
		ev.Before = doc
	}
	if r.AfterJSON != "" {
		doc, err := documentOf(r.AfterJSON)
		if err != nil {
			return nil, err
		}
		ev.After = doc
	}
	if r.EntityIDsJSON != "" && r.EntityIDsJSON != "[]" {
		ids, err := stringsOf(r.EntityIDsJSON)
		if err != nil {
			return nil, err
		}
		ev.EntityIDs = ids
	}
	return ev, nil
}

// encodeEventBatch writes events to a parquet file in memory and returns
// its bytes, PAR1-delimited per spec.md §6.
func encodeEventBatch(events []*types.Event) ([]byte, error) {
	fw := buffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(eventRow), 1)
	if err != nil {
		return nil, fmt.Errorf("wal: new parquet writer: %w", err)
	}
	pw.CompressionType = parquetgo.CompressionCodec_SNAPPY

	for _, ev := range events {
		row, err := eventToRow(ev)
		if err != nil {
			return nil, fmt.Errorf("wal: encode row for event %s: %w", ev.ID, err)
		}
		if err := pw.Write(row); err != nil {
			return nil, fmt.Errorf("wal: write row for event %s: %w", ev.ID, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("wal: write stop: %w", err)
	}
	return fw.Bytes(), nil
}

// decodeEventBatch reverses encodeEventBatch.
func decodeEventBatch(data []byte) ([]*types.Event, error) {
	fr := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(fr, new(eventRow), 1)
	if err != nil {
		return nil, fmt.Errorf("wal: new parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]eventRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("wal: read rows: %w", err)
		}
	}

	out := make([]*types.Event, 0, n)
	for _, r := range rows {
		ev, err := rowToEvent(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// pendingRow is a pending row-group's per-entity post-image (spec §4.4,
// "Pending row-groups"): id plus the entity's fields as JSON, or an empty
// DocJSON for a deleted entity.
type pendingRow struct {
	ID      string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	DocJSON string `parquet:"name=doc_json, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// encodePendingRowGroup writes one row per (id, state) pair, where a nil
// state (a deleted entity within a BULK_DELETE) is encoded as an empty
// DocJSON.
func encodePendingRowGroup(ids []string, states []*types.Document) ([]byte, error) {
	if len(ids) != len(states) {
		return nil, fmt.Errorf("wal: encodePendingRowGroup: %d ids but %d states", len(ids), len(states))
	}
	fw := buffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(pendingRow), 1)
	if err != nil {
		return nil, fmt.Errorf("wal: new parquet writer: %w", err)
	}
	pw.CompressionType = parquetgo.CompressionCodec_SNAPPY

	for i, id := range ids {
		row := pendingRow{ID: id}
		if states[i] != nil {
			doc, err := jsonOf(states[i])
			if err != nil {
				return nil, err
			}
			row.DocJSON = doc
		}
		if err := pw.Write(row); err != nil {
			return nil, fmt.Errorf("wal: write pending row for %s: %w", id, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("wal: write stop: %w", err)
	}
	return fw.Bytes(), nil
}

// EncodeCanonicalTable writes one row per (id, state) pair using the same
// id/doc_json row shape as a pending row-group (spec §6 defines no distinct
// schema for `data.parquet`/`rels.parquet`, so the compactor's canonical
// snapshot reuses this table's shape rather than inventing a second one). A
// nil state marks a tombstone that has not yet been fully forgotten.
func EncodeCanonicalTable(ids []string, states []*types.Document) ([]byte, error) {
	return encodePendingRowGroup(ids, states)
}

// DecodeCanonicalTable reverses EncodeCanonicalTable.
func DecodeCanonicalTable(data []byte) (map[string]*types.Document, error) {
	return decodePendingRowGroup(data)
}

// decodePendingRowGroup reverses encodePendingRowGroup.
func decodePendingRowGroup(data []byte) (map[string]*types.Document, error) {
	fr := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(fr, new(pendingRow), 1)
	if err != nil {
		return nil, fmt.Errorf("wal: new parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]pendingRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("wal: read pending rows: %w", err)
		}
	}

	out := make(map[string]*types.Document, n)
	for _, r := range rows {
		if r.DocJSON == "" {
			out[r.ID] = nil
			continue
		}
		doc, err := documentOf(r.DocJSON)
		if err != nil {
			return nil, err
		}
		out[r.ID] = doc
	}
	return out, nil
}
