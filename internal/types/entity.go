package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// EntityId is a stable string "ns/local" (spec §3).
type EntityId string

var nsPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

var reservedNamespaces = map[string]bool{
	"system": true, "admin": true, "root": true, "null": true,
	"undefined": true, "true": true, "false": true, "internal": true,
	"__proto__": true, "constructor": true, "prototype": true,
	"config": true, "settings": true, "metadata": true,
	"_internal": true, "_system": true,
}

// NewEntityId builds and validates an EntityId from a namespace and local id.
func NewEntityId(ns, local string) (EntityId, error) {
	if err := ValidateNamespace(ns); err != nil {
		return "", err
	}
	if local == "" {
		return "", fmt.Errorf("entity id: local id must not be empty")
	}
	return EntityId(ns + "/" + local), nil
}

// ValidateNamespace checks a namespace against spec §3's character class and
// reserved-word rules (case-insensitive on exact match only).
func ValidateNamespace(ns string) error {
	if !nsPattern.MatchString(ns) {
		return fmt.Errorf("invalid namespace %q: must match [A-Za-z0-9][A-Za-z0-9_-]{0,127}", ns)
	}
	if reservedNamespaces[strings.ToLower(ns)] {
		return fmt.Errorf("invalid namespace %q: reserved name", ns)
	}
	return nil
}

// Namespace returns the "ns" portion of the id.
func (id EntityId) Namespace() string {
	ns, _, _ := strings.Cut(string(id), "/")
	return ns
}

// Local returns the "local" portion of the id.
func (id EntityId) Local() string {
	_, local, _ := strings.Cut(string(id), "/")
	return local
}

// Valid reports whether id has the "ns/local" shape with a valid namespace.
func (id EntityId) Valid() bool {
	ns, local, found := strings.Cut(string(id), "/")
	if !found || local == "" {
		return false
	}
	return ValidateNamespace(ns) == nil
}

// Entity is the conceptual document reconstructed from events (spec §3).
type Entity struct {
	ID        EntityId
	Type      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy EntityId
	UpdatedBy EntityId
	Version   uint64
	DeletedAt *time.Time
	DeletedBy EntityId

	// Fields holds every user-defined field, excluding the system fields
	// above which are promoted to struct members for convenient access.
	Fields *Document
}

// SystemAnonymousActor is the default actor when none is supplied (spec §4.6).
const SystemAnonymousActor EntityId = "system/anonymous"

// IsDeleted reports whether the entity carries a soft-delete tombstone.
func (e *Entity) IsDeleted() bool {
	return e != nil && e.DeletedAt != nil
}

// ToDocument flattens system fields and user fields into one Document, the
// shape persisted as an event's before/after image and the WAL/pending
// columnar payload.
func (e *Entity) ToDocument() *Document {
	doc := NewDocument()
	doc.Set("$id", String(string(e.ID)))
	doc.Set("$type", String(e.Type))
	doc.Set("name", String(e.Name))
	doc.Set("createdAt", Time(e.CreatedAt))
	doc.Set("updatedAt", Time(e.UpdatedAt))
	doc.Set("createdBy", Ref(e.CreatedBy))
	doc.Set("updatedBy", Ref(e.UpdatedBy))
	doc.Set("version", Int(int64(e.Version)))
	if e.DeletedAt != nil {
		doc.Set("deletedAt", Time(*e.DeletedAt))
		doc.Set("deletedBy", Ref(e.DeletedBy))
	}
	if e.Fields != nil {
		for _, k := range e.Fields.Keys() {
			v, _ := e.Fields.Get(k)
			doc.Set(k, v)
		}
	}
	return doc
}

// systemFieldNames are excluded from Entity.Fields when building an Entity
// back out of a persisted Document.
var systemFieldNames = map[string]bool{
	"$id": true, "$type": true, "name": true, "createdAt": true,
	"updatedAt": true, "createdBy": true, "updatedBy": true,
	"version": true, "deletedAt": true, "deletedBy": true,
}

// EntityFromDocument reconstructs an Entity from a persisted Document (the
// inverse of ToDocument). Missing system fields leave the corresponding
// struct field at its zero value.
func EntityFromDocument(doc *Document) *Entity {
	if doc == nil {
		return nil
	}
	e := &Entity{Fields: NewDocument()}
	if v, ok := doc.Get("$id"); ok {
		e.ID = EntityId(v.String())
	}
	if v, ok := doc.Get("$type"); ok {
		e.Type = v.String()
	}
	if v, ok := doc.Get("name"); ok {
		e.Name = v.String()
	}
	if v, ok := doc.Get("createdAt"); ok {
		e.CreatedAt = v.TimeVal()
	}
	if v, ok := doc.Get("updatedAt"); ok {
		e.UpdatedAt = v.TimeVal()
	}
	if v, ok := doc.Get("createdBy"); ok {
		e.CreatedBy = v.RefID()
		if e.CreatedBy == "" && v.Kind() == KindString {
			e.CreatedBy = EntityId(v.String())
		}
	}
	if v, ok := doc.Get("updatedBy"); ok {
		e.UpdatedBy = v.RefID()
		if e.UpdatedBy == "" && v.Kind() == KindString {
			e.UpdatedBy = EntityId(v.String())
		}
	}
	if v, ok := doc.Get("version"); ok {
		e.Version = uint64(v.Int())
	}
	if v, ok := doc.Get("deletedAt"); ok && !v.IsNull() {
		t := v.TimeVal()
		e.DeletedAt = &t
	}
	if v, ok := doc.Get("deletedBy"); ok {
		e.DeletedBy = EntityId(v.String())
	}
	for _, k := range doc.Keys() {
		if systemFieldNames[k] {
			continue
		}
		v, _ := doc.Get(k)
		e.Fields.Set(k, v)
	}
	return e
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Fields = e.Fields.Clone()
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}
