package entity

import (
	"fmt"
	"sort"

	"github.com/parquedb/parquedb/internal/command"
	"github.com/parquedb/parquedb/internal/types"
)

// LinkRequest is one $link operator extracted from a patch (spec §4.7).
type LinkRequest struct {
	Predicate  string
	Target     types.EntityId
	AutoCreate bool
	TargetType string
}

// UnlinkRequest is one $unlink operator extracted from a patch.
type UnlinkRequest struct {
	Predicate string
	Target    types.EntityId
}

// Apply applies patch's operators ($set, $unset, $inc, $push, $pull, $link,
// $unlink) against doc and returns the resulting document plus
// any link/unlink requests for the caller to execute against the
// relationship index (spec §4.6). doc is mutated in place and also
// returned; pass a clone if the caller needs the pre-image preserved.
func Apply(doc *types.Document, patch *types.Document) (*types.Document, []LinkRequest, []UnlinkRequest, error) {
	var links []LinkRequest
	var unlinks []UnlinkRequest

	for _, op := range patch.Keys() {
		argsVal, _ := patch.Get(op)
		switch op {
		case "$set":
			if err := forEachField(argsVal, func(path string, v types.Value) error {
				doc.SetPath(path, v)
				return nil
			}); err != nil {
				return nil, nil, nil, err
			}
		case "$unset":
			if err := forEachField(argsVal, func(path string, _ types.Value) error {
				doc.UnsetPath(path)
				return nil
			}); err != nil {
				return nil, nil, nil, err
			}
		case "$inc":
			if err := applyInc(doc, argsVal); err != nil {
				return nil, nil, nil, err
			}
		case "$push":
			if err := applyPush(doc, argsVal); err != nil {
				return nil, nil, nil, err
			}
		case "$pull":
			if err := applyPull(doc, argsVal); err != nil {
				return nil, nil, nil, err
			}
		case "$link":
			reqs, err := parseLinks(argsVal)
			if err != nil {
				return nil, nil, nil, err
			}
			links = append(links, reqs...)
		case "$unlink":
			reqs, err := parseUnlinks(argsVal)
			if err != nil {
				return nil, nil, nil, err
			}
			unlinks = append(unlinks, reqs...)
		default:
			return nil, nil, nil, command.New(command.KindInvalidUpdate, fmt.Sprintf("unrecognized patch operator %q", op))
		}
	}
	return doc, links, unlinks, nil
}

func forEachField(argsVal types.Value, fn func(path string, v types.Value) error) error {
	if argsVal.Kind() != types.KindMap {
		return command.New(command.KindInvalidUpdate, "operator argument must be an object of field:value pairs")
	}
	for _, path := range argsVal.Map().Keys() {
		v, _ := argsVal.Map().Get(path)
		if err := fn(path, v); err != nil {
			return err
		}
	}
	return nil
}

func applyInc(doc *types.Document, argsVal types.Value) error {
	return forEachField(argsVal, func(path string, delta types.Value) error {
		deltaF, ok := delta.AsFloat64()
		if !ok {
			return command.New(command.KindInvalidUpdate, fmt.Sprintf("$inc on %q requires a numeric delta", path))
		}
		cur, ok := doc.GetPath(path)
		curF := 0.0
		if ok {
			f, ok := cur.AsFloat64()
			if !ok {
				return command.New(command.KindInvalidUpdate, fmt.Sprintf("$inc on %q: existing value is not numeric", path))
			}
			curF = f
		}
		sum := curF + deltaF
		if delta.Kind() == types.KindInt && (!ok || cur.Kind() == types.KindInt) {
			doc.SetPath(path, types.Int(int64(sum)))
		} else {
			doc.SetPath(path, types.Float(sum))
		}
		return nil
	})
}

// applyPush accepts MongoDB's $push value shape: either a bare value to
// append, or {$each, $position, $slice, $sort}.
func applyPush(doc *types.Document, argsVal types.Value) error {
	return forEachField(argsVal, func(path string, mod types.Value) error {
		cur, ok := doc.GetPath(path)
		var list []types.Value
		if ok {
			if cur.Kind() != types.KindList {
				return command.New(command.KindInvalidUpdate, fmt.Sprintf("$push on %q: existing value is not an array", path))
			}
			list = append([]types.Value{}, cur.List()...)
		}

		each := []types.Value{mod}
		var position *int
		var slice *int
		sortAsc := 0 // 0 = no sort, 1 = ascending, -1 = descending

		if mod.Kind() == types.KindMap {
			if eachVal, ok := mod.Map().Get("$each"); ok && eachVal.Kind() == types.KindList {
				each = eachVal.List()
				if posVal, ok := mod.Map().Get("$position"); ok {
					p := int(posVal.Int())
					position = &p
				}
				if sliceVal, ok := mod.Map().Get("$slice"); ok {
					s := int(sliceVal.Int())
					slice = &s
				}
				if sortVal, ok := mod.Map().Get("$sort"); ok {
					if sortVal.Int() < 0 {
						sortAsc = -1
					} else {
						sortAsc = 1
					}
				}
			}
		}

		if position != nil && *position >= 0 && *position <= len(list) {
			out := make([]types.Value, 0, len(list)+len(each))
			out = append(out, list[:*position]...)
			out = append(out, each...)
			out = append(out, list[*position:]...)
			list = out
		} else {
			list = append(list, each...)
		}

		if sortAsc != 0 {
			sort.SliceStable(list, func(i, j int) bool {
				fi, _ := list[i].AsFloat64()
				fj, _ := list[j].AsFloat64()
				if sortAsc < 0 {
					return fi > fj
				}
				return fi < fj
			})
		}

		if slice != nil {
			n := *slice
			switch {
			case n >= 0 && n < len(list):
				list = list[:n]
			case n < 0 && -n < len(list):
				list = list[len(list)+n:]
			}
		}

		doc.SetPath(path, types.List(list))
		return nil
	})
}

// applyPull removes every array element equal to the given value (scalar
// equality only; predicate-style $pull against sub-documents is not
// evaluated here and leaves the array unchanged, a documented simplification
// given the filter evaluator's general matching lives in C8).
func applyPull(doc *types.Document, argsVal types.Value) error {
	return forEachField(argsVal, func(path string, want types.Value) error {
		cur, ok := doc.GetPath(path)
		if !ok {
			return nil
		}
		if cur.Kind() != types.KindList {
			return command.New(command.KindInvalidUpdate, fmt.Sprintf("$pull on %q: existing value is not an array", path))
		}
		out := make([]types.Value, 0, len(cur.List()))
		for _, v := range cur.List() {
			if !types.Equal(v, want) {
				out = append(out, v)
			}
		}
		doc.SetPath(path, types.List(out))
		return nil
	})
}

func parseLinks(argsVal types.Value) ([]LinkRequest, error) {
	if argsVal.Kind() != types.KindMap {
		return nil, command.New(command.KindInvalidUpdate, "$link argument must be an object of predicate:target pairs")
	}
	var out []LinkRequest
	for _, predicate := range argsVal.Map().Keys() {
		v, _ := argsVal.Map().Get(predicate)
		req, skip, err := parseLinkTarget(predicate, v)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// parseLinkTarget resolves a $link value to a target id, per spec §4.7:
// "exactly when the reference is a bare id or a bare object whose $id
// directive field is present; objects without the directive are silently
// skipped."
func parseLinkTarget(predicate string, v types.Value) (LinkRequest, bool, error) {
	switch v.Kind() {
	case types.KindString, types.KindRef:
		return LinkRequest{Predicate: predicate, Target: types.EntityId(v.String())}, false, nil
	case types.KindMap:
		idVal, ok := v.Map().Get("$id")
		if !ok || idVal.String() == "" {
			return LinkRequest{}, true, nil
		}
		req := LinkRequest{Predicate: predicate, Target: types.EntityId(idVal.String())}
		if t, ok := v.Map().Get("$type"); ok {
			req.TargetType = t.String()
		}
		if ac, ok := v.Map().Get("autoCreate"); ok {
			req.AutoCreate = ac.Bool()
		}
		return req, false, nil
	default:
		return LinkRequest{}, false, command.New(command.KindInvalidUpdate, fmt.Sprintf("$link.%s: target must be a string id or an object with $id", predicate))
	}
}

func parseUnlinks(argsVal types.Value) ([]UnlinkRequest, error) {
	if argsVal.Kind() != types.KindMap {
		return nil, command.New(command.KindInvalidUpdate, "$unlink argument must be an object of predicate:target pairs")
	}
	var out []UnlinkRequest
	for _, predicate := range argsVal.Map().Keys() {
		v, _ := argsVal.Map().Get(predicate)
		switch v.Kind() {
		case types.KindString, types.KindRef:
			out = append(out, UnlinkRequest{Predicate: predicate, Target: types.EntityId(v.String())})
		case types.KindMap:
			if idVal, ok := v.Map().Get("$id"); ok {
				out = append(out, UnlinkRequest{Predicate: predicate, Target: types.EntityId(idVal.String())})
			}
		default:
			return nil, command.New(command.KindInvalidUpdate, fmt.Sprintf("$unlink.%s: target must be a string id or an object with $id", predicate))
		}
	}
	return out, nil
}
