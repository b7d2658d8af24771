// Package types defines the document and entity data model shared by every
// ParqueDB component: the dynamic field value variant, the entity envelope,
// the event record, and entity identifiers.
package types

import (
	"fmt"
	"sort"
	"time"
)

// Kind identifies the concrete type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTime
	KindList
	KindMap
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the scalar, composite, and reference types a
// document field may hold. The engine never stores a raw interface{} as the
// on-disk representation; every field is converted to a Value at the command
// path boundary.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte
	t     time.Time
	list  []Value
	m     *Document
	ref   EntityId
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(v bool) Value          { return Value{kind: KindBool, b: v} }
func Int(v int64) Value          { return Value{kind: KindInt, i: v} }
func Float(v float64) Value      { return Value{kind: KindFloat, f: v} }
func String(v string) Value      { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value       { return Value{kind: KindBytes, bytes: v} }
func Time(v time.Time) Value     { return Value{kind: KindTime, t: v} }
func List(v []Value) Value       { return Value{kind: KindList, list: v} }
func Map(v *Document) Value      { return Value{kind: KindMap, m: v} }
func Ref(id EntityId) Value      { return Value{kind: KindRef, ref: id} }

func (v Value) Kind() Kind        { return v.kind }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) Bool() bool        { return v.b }
func (v Value) Int() int64        { return v.i }
func (v Value) Float() float64    { return v.f }
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindRef:
		return string(v.ref)
	default:
		return v.s
	}
}
func (v Value) Bytes() []byte     { return v.bytes }
func (v Value) TimeVal() time.Time { return v.t }
func (v Value) List() []Value     { return v.list }
func (v Value) Map() *Document    { return v.m }
func (v Value) RefID() EntityId   { return v.ref }

// AsFloat64 coerces numeric kinds (and millisecond timestamps) to a float64
// for comparison purposes; non-numeric kinds return (0, false).
func (v Value) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindTime:
		return float64(v.t.UnixMilli()), true
	default:
		return 0, false
	}
}

// Equal reports whether two values are deeply equal.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		// Allow numeric cross-kind equality (int vs float).
		af, aok := a.AsFloat64()
		bf, bok := b.AsFloat64()
		if aok && bok {
			return af == bf
		}
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindBytes:
		return string(a.bytes) == string(b.bytes)
	case KindTime:
		return a.t.Equal(b.t)
	case KindRef:
		return a.ref == b.ref
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if a.m == nil || b.m == nil {
			return a.m == b.m
		}
		if len(a.m.keys) != len(b.m.keys) {
			return false
		}
		for _, k := range a.m.keys {
			bv, ok := b.m.Get(k)
			if !ok || !Equal(a.m.fields[k], bv) {
				return false
			}
		}
		return true
	}
	return false
}

// FromNative converts an arbitrary Go value (as decoded from JSON or
// produced by a caller) into a Value. This is the single conversion point at
// the command-path boundary (C9); nothing downstream touches interface{}.
func FromNative(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float64:
		return Float(x)
	case float32:
		return Float(float64(x))
	case string:
		return String(x)
	case []byte:
		return Bytes(x)
	case time.Time:
		return Time(x)
	case EntityId:
		return Ref(x)
	case []interface{}:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = FromNative(e)
		}
		return List(out)
	case []Value:
		return List(x)
	case *Document:
		return Map(x)
	case map[string]interface{}:
		doc := NewDocument()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			doc.Set(k, FromNative(x[k]))
		}
		return Map(doc)
	default:
		return String(fmt.Sprintf("%v", x))
	}
}

// ToNative converts a Value back to a plain Go value, for JSON encoding at
// the external boundary (wire responses, parquet before/after columns).
func ToNative(v Value) interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.bytes
	case KindTime:
		return v.t
	case KindRef:
		return string(v.ref)
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, e := range v.list {
			out[i] = ToNative(e)
		}
		return out
	case KindMap:
		return v.m.ToNativeMap()
	default:
		return nil
	}
}
