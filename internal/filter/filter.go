// Package filter implements the predicate grammar and aggregation pipeline
// stages (spec §4.8): MongoDB-style comparison/logical operators over the
// dynamic document model, plus capability interfaces C10 routes $text/
// $vector clauses through.
//
// Grounded on the teacher's internal/query package: lexer.go/parser.go
// build a predicate AST from a query string, evaluator.go walks it against
// a typed record. This package skips the string-lexing stage (ParqueDB's
// filters arrive as already-structured documents, spec.md §4.8) and keeps
// the AST-walking evaluator shape.
package filter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/parquedb/parquedb/internal/command"
	"github.com/parquedb/parquedb/internal/types"
)

// FullTextIndex is the capability boundary C10 routes $text.$search clauses
// through (spec §4.8, SPEC_FULL.md §4.8). The evaluator ships no
// implementation.
type FullTextIndex interface {
	Search(ctx context.Context, ns, field, query string) ([]types.EntityId, error)
}

// VectorIndex is the capability boundary C10 routes $vector clauses
// through.
type VectorIndex interface {
	Near(ctx context.Context, ns, field string, vector []float32, k int) ([]types.EntityId, error)
}

// Matches evaluates filter (a Document of field:predicate or $and/$or/$nor/
// $not clauses) against doc (spec §4.8). $text and $vector clauses are
// treated as always-true here: C10 is responsible for having already
// narrowed the candidate set via the capability indexes before calling
// Matches with the residual predicate.
func Matches(doc *types.Document, filter *types.Document) (bool, error) {
	if filter == nil || len(filter.Keys()) == 0 {
		return true, nil
	}
	for _, key := range filter.Keys() {
		v, _ := filter.Get(key)
		ok, err := matchClause(doc, key, v)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchClause(doc *types.Document, key string, clause types.Value) (bool, error) {
	switch key {
	case "$and":
		return matchAll(doc, clause, true)
	case "$or":
		return matchAny(doc, clause)
	case "$nor":
		ok, err := matchAny(doc, clause)
		return !ok, err
	case "$not":
		if clause.Kind() != types.KindMap {
			return false, command.New(command.KindInvalidFilter, "$not requires an object argument")
		}
		ok, err := Matches(doc, clause.Map())
		return !ok, err
	case "$text", "$vector":
		return true, nil
	default:
		if strings.HasPrefix(key, "$") {
			return false, command.New(command.KindInvalidFilter, fmt.Sprintf("unknown filter operator %q", key))
		}
		fieldVal, exists := doc.GetPath(key)
		return evalPredicate(fieldVal, exists, clause)
	}
}

func matchAll(doc *types.Document, clauseList types.Value, and bool) (bool, error) {
	if clauseList.Kind() != types.KindList {
		return false, command.New(command.KindInvalidFilter, "$and/$or/$nor requires an array of filter objects")
	}
	for _, c := range clauseList.List() {
		if c.Kind() != types.KindMap {
			return false, command.New(command.KindInvalidFilter, "$and/$or/$nor elements must be filter objects")
		}
		ok, err := Matches(doc, c.Map())
		if err != nil {
			return false, err
		}
		if and && !ok {
			return false, nil
		}
		if !and && ok {
			return true, nil
		}
	}
	return and, nil
}

func matchAny(doc *types.Document, clauseList types.Value) (bool, error) {
	return matchAll(doc, clauseList, false)
}

// evalPredicate evaluates one field's predicate, which is either a bare
// value (implicit $eq) or an object of comparison operators.
func evalPredicate(fieldVal types.Value, exists bool, predicate types.Value) (bool, error) {
	if predicate.Kind() != types.KindMap {
		if !exists {
			return predicate.IsNull(), nil
		}
		return valuesEqual(fieldVal, predicate), nil
	}

	opsDoc := predicate.Map()
	isOperatorObject := false
	for _, k := range opsDoc.Keys() {
		if strings.HasPrefix(k, "$") {
			isOperatorObject = true
			break
		}
	}
	if !isOperatorObject {
		// A nested document compared for deep equality (implicit $eq).
		if !exists {
			return false, nil
		}
		return valuesEqual(fieldVal, predicate), nil
	}

	for _, op := range opsDoc.Keys() {
		argVal, _ := opsDoc.Get(op)
		ok, err := evalOperator(op, fieldVal, exists, argVal, opsDoc)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalOperator(op string, fieldVal types.Value, exists bool, arg types.Value, siblings *types.Document) (bool, error) {
	switch op {
	case "$options":
		return true, nil // consumed alongside $regex
	case "$eq":
		return exists && valuesEqual(fieldVal, arg), nil
	case "$ne":
		return !exists || !valuesEqual(fieldVal, arg), nil
	case "$gt":
		return compareNumeric(fieldVal, exists, arg, func(a, b float64) bool { return a > b })
	case "$gte":
		return compareNumeric(fieldVal, exists, arg, func(a, b float64) bool { return a >= b })
	case "$lt":
		return compareNumeric(fieldVal, exists, arg, func(a, b float64) bool { return a < b })
	case "$lte":
		return compareNumeric(fieldVal, exists, arg, func(a, b float64) bool { return a <= b })
	case "$in":
		return inList(fieldVal, exists, arg), nil
	case "$nin":
		return !inList(fieldVal, exists, arg), nil
	case "$exists":
		return exists == arg.Bool(), nil
	case "$size":
		return exists && fieldVal.Kind() == types.KindList && int64(len(fieldVal.List())) == arg.Int(), nil
	case "$regex":
		return evalRegex(fieldVal, exists, arg, siblings)
	default:
		return false, command.New(command.KindInvalidFilter, fmt.Sprintf("unknown filter operator %q", op))
	}
}

func valuesEqual(a, b types.Value) bool {
	return types.Equal(a, b)
}

// compareNumeric coerces both sides with AsFloat64 (which also handles
// KindTime as millisecond timestamps, spec §4.8: "Date comparisons coerce
// to millisecond integers").
func compareNumeric(fieldVal types.Value, exists bool, arg types.Value, cmp func(a, b float64) bool) (bool, error) {
	if !exists {
		return false, nil
	}
	fv, ok1 := fieldVal.AsFloat64()
	av, ok2 := arg.AsFloat64()
	if !ok1 || !ok2 {
		return false, nil
	}
	return cmp(fv, av), nil
}

func inList(fieldVal types.Value, exists bool, arg types.Value) bool {
	if !exists || arg.Kind() != types.KindList {
		return false
	}
	for _, v := range arg.List() {
		if valuesEqual(fieldVal, v) {
			return true
		}
	}
	return false
}

// evalRegex compiles pattern (optionally with $options flags) and matches
// it against fieldVal's string value; non-string fields evaluate to false
// (spec §4.8: "$regex on a non-string field evaluates to false").
func evalRegex(fieldVal types.Value, exists bool, arg types.Value, siblings *types.Document) (bool, error) {
	if !exists || fieldVal.Kind() != types.KindString {
		return false, nil
	}
	pattern := arg.String()
	if opts, ok := siblings.Get("$options"); ok && opts.String() != "" {
		pattern = "(?" + opts.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, command.Wrap(command.KindInvalidFilter, fmt.Sprintf("invalid $regex pattern %q", arg.String()), err)
	}
	return re.MatchString(fieldVal.String()), nil
}
