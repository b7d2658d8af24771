package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/parquedb/parquedb/internal/command"
	"github.com/parquedb/parquedb/internal/types"
)

// Stage is one aggregation pipeline stage (spec §4.8): a pure function over
// the sequence of documents produced by the previous stage.
type Stage struct {
	Op   string
	Args types.Value
}

// Run evaluates stages left to right against input, matching spec §4.8's
// "pipelines evaluate left to right; stages are pure functions on the
// sequence of documents".
func Run(input []*types.Document, stages []Stage) ([]*types.Document, error) {
	docs := input
	var err error
	for _, st := range stages {
		docs, err = runStage(docs, st)
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func runStage(docs []*types.Document, st Stage) ([]*types.Document, error) {
	switch st.Op {
	case "$match":
		if st.Args.Kind() != types.KindMap {
			return nil, command.New(command.KindInvalidFilter, "$match requires a filter object")
		}
		var out []*types.Document
		for _, d := range docs {
			ok, err := Matches(d, st.Args.Map())
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, d)
			}
		}
		return out, nil
	case "$sort":
		return sortStage(docs, st.Args)
	case "$limit":
		n := int(st.Args.Int())
		if n < len(docs) {
			return docs[:n], nil
		}
		return docs, nil
	case "$skip":
		n := int(st.Args.Int())
		if n >= len(docs) {
			return nil, nil
		}
		return docs[n:], nil
	case "$project":
		return projectStage(docs, st.Args)
	case "$addFields", "$set":
		return addFieldsStage(docs, st.Args)
	case "$unset":
		return unsetStage(docs, st.Args)
	case "$unwind":
		return unwindStage(docs, st.Args)
	case "$group":
		return groupStage(docs, st.Args)
	case "$count":
		field := st.Args.String()
		if field == "" {
			field = "count"
		}
		out := types.NewDocument()
		out.Set(field, types.Int(int64(len(docs))))
		return []*types.Document{out}, nil
	case "$lookup":
		return nil, command.New(command.KindInvalidFilter, "$lookup requires a foreign document provider; use Lookup directly")
	default:
		return nil, command.New(command.KindInvalidFilter, fmt.Sprintf("unknown pipeline stage %q", st.Op))
	}
}

func sortDirection(v types.Value) int {
	switch v.Kind() {
	case types.KindString:
		if v.String() == "desc" {
			return -1
		}
		return 1
	default:
		if v.Int() < 0 {
			return -1
		}
		return 1
	}
}

func sortStage(docs []*types.Document, args types.Value) ([]*types.Document, error) {
	if args.Kind() != types.KindMap {
		return nil, command.New(command.KindInvalidFilter, "$sort requires an object of field:direction pairs")
	}
	spec := args.Map()
	out := append([]*types.Document{}, docs...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, field := range spec.Keys() {
			dirVal, _ := spec.Get(field)
			dir := sortDirection(dirVal)
			vi, _ := out[i].GetPath(field)
			vj, _ := out[j].GetPath(field)
			if cmp := compareValues(vi, vj); cmp != 0 {
				return dir > 0 && cmp < 0 || dir < 0 && cmp > 0
			}
		}
		// Stable cursor resumption keys off $id under the stable sort
		// (spec §4.8: "re-scanning resumes strictly after that id").
		idi, _ := out[i].Get("$id")
		idj, _ := out[j].Get("$id")
		return idi.String() < idj.String()
	})
	return out, nil
}

func compareValues(a, b types.Value) int {
	if af, ok := a.AsFloat64(); ok {
		if bf, ok := b.AsFloat64(); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := a.String(), b.String()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// ResumeAfter filters sorted docs to those strictly after cursor's $id
// under the same stable sort (spec §4.8 cursor pagination).
func ResumeAfter(docs []*types.Document, cursorID string) []*types.Document {
	if cursorID == "" {
		return docs
	}
	for i, d := range docs {
		id, _ := d.Get("$id")
		if id.String() == cursorID {
			return docs[i+1:]
		}
	}
	return docs
}

// alwaysIncluded fields appear in every projection regardless of
// include/exclude rules (spec §4.8: "Projections always include $id, $type,
// name").
var alwaysIncluded = []string{"$id", "$type", "name"}

func projectStage(docs []*types.Document, args types.Value) ([]*types.Document, error) {
	if args.Kind() != types.KindMap {
		return nil, command.New(command.KindInvalidFilter, "$project requires an object")
	}
	spec := args.Map()
	exclude := false
	hasRule := false
	for _, k := range spec.Keys() {
		v, _ := spec.Get(k)
		if v.Kind() == types.KindInt || v.Kind() == types.KindBool {
			hasRule = true
			if v.Int() == 0 || (v.Kind() == types.KindBool && !v.Bool()) {
				exclude = true
			}
		}
	}

	out := make([]*types.Document, len(docs))
	for i, d := range docs {
		nd := types.NewDocument()
		for _, f := range alwaysIncluded {
			if v, ok := d.Get(f); ok {
				nd.Set(f, v)
			}
		}
		if !hasRule {
			out[i] = nd
			continue
		}
		if exclude {
			cp := d.Clone()
			for _, k := range spec.Keys() {
				cp.UnsetPath(k)
			}
			for _, f := range alwaysIncluded {
				if v, ok := d.Get(f); ok {
					cp.Set(f, v)
				}
			}
			out[i] = cp
			continue
		}
		for _, k := range spec.Keys() {
			v, _ := spec.Get(k)
			switch v.Kind() {
			case types.KindInt, types.KindBool:
				if fv, ok := d.GetPath(k); ok {
					nd.SetPath(k, fv)
				}
			default:
				nd.SetPath(k, v) // computed projection: the literal value is the expression result
			}
		}
		out[i] = nd
	}
	return out, nil
}

func addFieldsStage(docs []*types.Document, args types.Value) ([]*types.Document, error) {
	if args.Kind() != types.KindMap {
		return nil, command.New(command.KindInvalidFilter, "$addFields/$set requires an object")
	}
	spec := args.Map()
	out := make([]*types.Document, len(docs))
	for i, d := range docs {
		cp := d.Clone()
		for _, k := range spec.Keys() {
			v, _ := spec.Get(k)
			cp.SetPath(k, v)
		}
		out[i] = cp
	}
	return out, nil
}

func unsetStage(docs []*types.Document, args types.Value) ([]*types.Document, error) {
	var fields []string
	switch args.Kind() {
	case types.KindString:
		fields = []string{args.String()}
	case types.KindList:
		for _, v := range args.List() {
			fields = append(fields, v.String())
		}
	default:
		return nil, command.New(command.KindInvalidFilter, "$unset requires a field name or array of field names")
	}
	out := make([]*types.Document, len(docs))
	for i, d := range docs {
		cp := d.Clone()
		for _, f := range fields {
			cp.UnsetPath(f)
		}
		out[i] = cp
	}
	return out, nil
}

// unwindArgs configures $unwind (spec §4.8).
type unwindArgs struct {
	path                     string
	preserveNullAndEmptyArray bool
}

func parseUnwindArgs(args types.Value) unwindArgs {
	if args.Kind() == types.KindString {
		return unwindArgs{path: strings.TrimPrefix(args.String(), "$")}
	}
	doc := args.Map()
	path, _ := doc.Get("path")
	preserve, _ := doc.Get("preserveNullAndEmptyArrays")
	return unwindArgs{path: strings.TrimPrefix(path.String(), "$"), preserveNullAndEmptyArray: preserve.Bool()}
}

func unwindStage(docs []*types.Document, args types.Value) ([]*types.Document, error) {
	ua := parseUnwindArgs(args)
	var out []*types.Document
	for _, d := range docs {
		v, ok := d.GetPath(ua.path)
		if !ok || v.Kind() != types.KindList || len(v.List()) == 0 {
			if ua.preserveNullAndEmptyArray {
				cp := d.Clone()
				cp.SetPath(ua.path, types.Null())
				out = append(out, cp)
			}
			continue
		}
		for _, elem := range v.List() {
			cp := d.Clone()
			cp.SetPath(ua.path, elem)
			out = append(out, cp)
		}
	}
	return out, nil
}

// Lookup implements $lookup (spec §4.8): a left-outer join against a
// foreign document set, since the pipeline stages themselves have no
// access to another namespace's documents.
func Lookup(docs []*types.Document, foreign []*types.Document, localField, foreignField, as string) []*types.Document {
	index := make(map[string][]*types.Document)
	for _, f := range foreign {
		v, ok := f.GetPath(foreignField)
		if !ok {
			continue
		}
		key := v.String()
		index[key] = append(index[key], f)
	}

	out := make([]*types.Document, len(docs))
	for i, d := range docs {
		cp := d.Clone()
		v, ok := d.GetPath(localField)
		var matches []types.Value
		if ok {
			for _, m := range index[v.String()] {
				matches = append(matches, types.Map(m))
			}
		}
		cp.Set(as, types.List(matches))
		out[i] = cp
	}
	return out
}

func groupStage(docs []*types.Document, args types.Value) ([]*types.Document, error) {
	if args.Kind() != types.KindMap {
		return nil, command.New(command.KindInvalidFilter, "$group requires an object with an _id expression")
	}
	spec := args.Map()
	idExpr, hasID := spec.Get("_id")
	if !hasID {
		return nil, command.New(command.KindInvalidFilter, "$group requires an _id field")
	}

	type bucket struct {
		key     types.Value
		docs    []*types.Document
		accOrd  []string
		pushAcc map[string][]types.Value
	}
	order := []string{}
	buckets := make(map[string]*bucket)

	for _, d := range docs {
		key := evalGroupExpr(d, idExpr)
		k := fmt.Sprintf("%v", types.ToNative(key))
		b, ok := buckets[k]
		if !ok {
			b = &bucket{key: key, pushAcc: make(map[string][]types.Value)}
			buckets[k] = b
			order = append(order, k)
		}
		b.docs = append(b.docs, d)
	}

	out := make([]*types.Document, 0, len(order))
	for _, k := range order {
		b := buckets[k]
		result := types.NewDocument()
		result.Set("_id", b.key)
		for _, field := range spec.Keys() {
			if field == "_id" {
				continue
			}
			accExpr, _ := spec.Get(field)
			v, err := runAccumulator(b.docs, accExpr)
			if err != nil {
				return nil, err
			}
			result.Set(field, v)
		}
		out = append(out, result)
	}
	return out, nil
}

func evalGroupExpr(d *types.Document, expr types.Value) types.Value {
	if expr.Kind() == types.KindString && strings.HasPrefix(expr.String(), "$") {
		v, _ := d.GetPath(strings.TrimPrefix(expr.String(), "$"))
		return v
	}
	return expr
}

func runAccumulator(docs []*types.Document, accExpr types.Value) (types.Value, error) {
	if accExpr.Kind() != types.KindMap || len(accExpr.Map().Keys()) != 1 {
		return types.Null(), command.New(command.KindInvalidFilter, "$group field accumulator must be a single-operator object")
	}
	op := accExpr.Map().Keys()[0]
	argExpr, _ := accExpr.Map().Get(op)

	values := make([]types.Value, 0, len(docs))
	for _, d := range docs {
		values = append(values, evalGroupExpr(d, argExpr))
	}

	switch op {
	case "$sum":
		sum := 0.0
		isFloat := false
		for _, v := range values {
			f, ok := v.AsFloat64()
			if !ok {
				continue
			}
			if v.Kind() == types.KindFloat {
				isFloat = true
			}
			sum += f
		}
		if isFloat {
			return types.Float(sum), nil
		}
		return types.Int(int64(sum)), nil
	case "$avg":
		sum, n := 0.0, 0
		for _, v := range values {
			if f, ok := v.AsFloat64(); ok {
				sum += f
				n++
			}
		}
		if n == 0 {
			return types.Float(0), nil
		}
		return types.Float(sum / float64(n)), nil
	case "$min":
		return extremum(values, -1), nil
	case "$max":
		return extremum(values, 1), nil
	case "$push":
		return types.List(values), nil
	case "$addToSet":
		var uniq []types.Value
		for _, v := range values {
			dup := false
			for _, u := range uniq {
				if types.Equal(u, v) {
					dup = true
					break
				}
			}
			if !dup {
				uniq = append(uniq, v)
			}
		}
		return types.List(uniq), nil
	case "$first":
		if len(values) == 0 {
			return types.Null(), nil
		}
		return values[0], nil
	case "$last":
		if len(values) == 0 {
			return types.Null(), nil
		}
		return values[len(values)-1], nil
	default:
		return types.Null(), command.New(command.KindInvalidFilter, fmt.Sprintf("unknown $group accumulator %q", op))
	}
}

func extremum(values []types.Value, sign int) types.Value {
	var best types.Value
	set := false
	for _, v := range values {
		if !set {
			best = v
			set = true
			continue
		}
		if sign*compareValues(v, best) > 0 {
			best = v
		}
	}
	if !set {
		return types.Null()
	}
	return best
}
