package vacuum

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/buffer"
	parquetgo "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/parquedb/parquedb/internal/types"
	"github.com/parquedb/parquedb/internal/wal"
)

// relEdgeRow is the columnar row shape for the canonical `rels.parquet`
// table (spec §6). No distinct schema is mandated by spec, so this mirrors
// RelationshipEdge's fields directly, the same way the canonical entity
// table reuses the pending row-group's id/doc_json shape.
type relEdgeRow struct {
	FromNs    string `parquet:"name=from_ns, type=BYTE_ARRAY, convertedtype=UTF8"`
	FromID    string `parquet:"name=from_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Predicate string `parquet:"name=predicate, type=BYTE_ARRAY, convertedtype=UTF8"`
	ToNs      string `parquet:"name=to_ns, type=BYTE_ARRAY, convertedtype=UTF8"`
	ToID      string `parquet:"name=to_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Direction string `parquet:"name=direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mode      string `parquet:"name=mode, type=BYTE_ARRAY, convertedtype=UTF8"`
	Order     int32  `parquet:"name=order_idx, type=INT32"`
}

// encodeRelationshipEdges writes edges to a parquet file in memory
// (spec §6, `<ns>/rels.parquet`).
func encodeRelationshipEdges(edges []types.RelationshipEdge) ([]byte, error) {
	fw := buffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(relEdgeRow), 1)
	if err != nil {
		return nil, fmt.Errorf("vacuum: new parquet writer: %w", err)
	}
	pw.CompressionType = parquetgo.CompressionCodec_SNAPPY

	for _, e := range edges {
		row := relEdgeRow{
			FromNs:    e.FromNs,
			FromID:    string(e.FromID),
			Predicate: e.Predicate,
			ToNs:      e.ToNs,
			ToID:      string(e.ToID),
			Direction: string(e.Direction),
			Mode:      string(e.Mode),
			Order:     int32(e.Order),
		}
		if err := pw.Write(row); err != nil {
			return nil, fmt.Errorf("vacuum: write edge row %s: %w", e.Key(), err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("vacuum: write stop: %w", err)
	}
	return fw.Bytes(), nil
}

// decodeRelationshipEdges reverses encodeRelationshipEdges.
func decodeRelationshipEdges(data []byte) ([]types.RelationshipEdge, error) {
	fr := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(fr, new(relEdgeRow), 1)
	if err != nil {
		return nil, fmt.Errorf("vacuum: new parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]relEdgeRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("vacuum: read edge rows: %w", err)
		}
	}

	out := make([]types.RelationshipEdge, 0, n)
	for _, r := range rows {
		out = append(out, types.RelationshipEdge{
			FromNs:    r.FromNs,
			FromID:    types.EntityId(r.FromID),
			Predicate: r.Predicate,
			ToNs:      r.ToNs,
			ToID:      types.EntityId(r.ToID),
			Direction: types.Direction(r.Direction),
			Mode:      types.Mode(r.Mode),
			Order:     int(r.Order),
		})
	}
	return out, nil
}

// encodeCanonicalStates delegates to wal's canonical table codec (spec §6).
func encodeCanonicalStates(states map[string]*types.Document) ([]byte, error) {
	ids := make([]string, 0, len(states))
	docs := make([]*types.Document, 0, len(states))
	for id, doc := range states {
		ids = append(ids, id)
		docs = append(docs, doc)
	}
	return wal.EncodeCanonicalTable(ids, docs)
}

// decodeCanonicalTable delegates to wal's canonical table codec (spec §6).
func decodeCanonicalTable(data []byte) (map[string]*types.Document, error) {
	return wal.DecodeCanonicalTable(data)
}
