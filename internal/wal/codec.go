package wal

import (
	"encoding/json"
	"fmt"

	"github.com/parquedb/parquedb/internal/types"
)

// jsonOf and documentOf convert a Document to/from its JSON column
// representation inside a parquet row (spec §6, "before_json"/"after_json"
// columns), going through ToNativeMap/FromNative at the boundary per
// SPEC_FULL.md §3's dynamic-document-model note.
func jsonOf(doc *types.Document) (string, error) {
	data, err := json.Marshal(doc.ToNativeMap())
	if err != nil {
		return "", fmt.Errorf("wal: marshal document: %w", err)
	}
	return string(data), nil
}

func documentOf(s string) (*types.Document, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("wal: unmarshal document: %w", err)
	}
	doc := types.DocumentFromNativeMap(m)
	return &doc, nil
}

func jsonOfStrings(ss []string) (string, error) {
	data, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("wal: marshal entity ids: %w", err)
	}
	return string(data), nil
}

func stringsOf(s string) ([]string, error) {
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil, fmt.Errorf("wal: unmarshal entity ids: %w", err)
	}
	return ss, nil
}
