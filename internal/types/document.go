package types

import "strings"

// Document is an ordered map of field name to Value. Key order is preserved
// (via a parallel slice) so that serialization is deterministic given the
// same logical input — required by the event log's compression and hashing
// (spec §4.3).
type Document struct {
	keys   []string
	fields map[string]Value
}

// NewDocument returns an empty Document.
func NewDocument() *Document {
	return &Document{fields: make(map[string]Value)}
}

// Set assigns a field, appending to the key order on first insertion.
func (d *Document) Set(key string, v Value) {
	if _, exists := d.fields[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.fields[key] = v
}

// Unset removes a field entirely.
func (d *Document) Unset(key string) {
	if _, exists := d.fields[key]; !exists {
		return
	}
	delete(d.fields, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Get returns the field value and whether it was present.
func (d *Document) Get(key string) (Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Keys returns field names in insertion order.
func (d *Document) Keys() []string {
	return d.keys
}

// Clone returns a deep-enough copy: top-level structure is copied, nested
// documents are cloned recursively so mutation of the copy never touches the
// original (required for patch application against cached state, §4.6).
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := NewDocument()
	for _, k := range d.keys {
		out.Set(k, cloneValue(d.fields[k]))
	}
	return out
}

func cloneValue(v Value) Value {
	switch v.Kind() {
	case KindMap:
		return Map(v.Map().Clone())
	case KindList:
		out := make([]Value, len(v.List()))
		for i, e := range v.List() {
			out[i] = cloneValue(e)
		}
		return List(out)
	default:
		return v
	}
}

// Merge overlays src onto d, field by field (shallow merge — matches
// MongoDB-style $set/UPDATE semantics where nested documents are replaced,
// not recursively merged, unless accessed via dot-notation paths which the
// patch operators resolve before calling Merge).
func (d *Document) Merge(src *Document) *Document {
	out := d.Clone()
	if src == nil {
		return out
	}
	for _, k := range src.keys {
		out.Set(k, src.fields[k])
	}
	return out
}

// ToNativeMap converts the Document to a map[string]interface{} for JSON
// encoding at the external boundary.
func (d *Document) ToNativeMap() map[string]interface{} {
	if d == nil {
		return nil
	}
	out := make(map[string]interface{}, len(d.keys))
	for _, k := range d.keys {
		out[k] = ToNative(d.fields[k])
	}
	return out
}

// DocumentFromNativeMap converts a map[string]interface{} (as decoded from
// JSON at an external boundary) into a Document. Key order follows Go's
// randomized map iteration, not the original JSON source order.
func DocumentFromNativeMap(m map[string]interface{}) Document {
	d := NewDocument()
	for k, v := range m {
		d.Set(k, FromNative(v))
	}
	return *d
}

// GetPath resolves dot-notation paths including array indices, e.g.
// "tags.0" or "author.name" (spec §4.8).
func (d *Document) GetPath(path string) (Value, bool) {
	if d == nil {
		return Null(), false
	}
	parts := strings.Split(path, ".")
	var cur Value = Map(d)
	for _, part := range parts {
		switch cur.Kind() {
		case KindMap:
			v, ok := cur.Map().Get(part)
			if !ok {
				return Null(), false
			}
			cur = v
		case KindList:
			idx, ok := parseIndex(part)
			if !ok || idx < 0 || idx >= len(cur.List()) {
				return Null(), false
			}
			cur = cur.List()[idx]
		default:
			return Null(), false
		}
	}
	return cur, true
}

// SetPath assigns a dot-notation path, creating intermediate maps as needed.
func (d *Document) SetPath(path string, v Value) {
	parts := strings.Split(path, ".")
	cur := d
	for i, part := range parts {
		if i == len(parts)-1 {
			cur.Set(part, v)
			return
		}
		next, ok := cur.Get(part)
		if !ok || next.Kind() != KindMap {
			next = Map(NewDocument())
			cur.Set(part, next)
		}
		cur = next.Map()
	}
}

// UnsetPath removes a dot-notation path if present.
func (d *Document) UnsetPath(path string) {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		d.Unset(path)
		return
	}
	parent, ok := d.GetPath(strings.Join(parts[:len(parts)-1], "."))
	if !ok || parent.Kind() != KindMap {
		return
	}
	parent.Map().Unset(parts[len(parts)-1])
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
