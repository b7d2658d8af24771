package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parquedb/parquedb/internal/command"
	"github.com/parquedb/parquedb/internal/types"
)

func doc(m map[string]interface{}) *types.Document {
	d := types.DocumentFromNativeMap(m)
	return &d
}

func TestMatchesBareValueImplicitEq(t *testing.T) {
	d := doc(map[string]interface{}{"title": "bug"})
	f := doc(map[string]interface{}{"title": "bug"})
	ok, err := Matches(d, f)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestMatchesComparisonOperators(t *testing.T) {
	d := doc(map[string]interface{}{"views": int64(10)})
	cases := []struct {
		op   string
		arg  interface{}
		want bool
	}{
		{"$gt", int64(5), true},
		{"$gt", int64(10), false},
		{"$gte", int64(10), true},
		{"$lt", int64(20), true},
		{"$lte", int64(10), true},
		{"$ne", int64(1), true},
		{"$eq", int64(10), true},
	}
	for _, c := range cases {
		f := doc(map[string]interface{}{"views": map[string]interface{}{c.op: c.arg}})
		ok, err := Matches(d, f)
		assert.NoError(t, err, c.op)
		assert.Equal(t, c.want, ok, c.op)
	}
}

func TestMatchesInNin(t *testing.T) {
	d := doc(map[string]interface{}{"status": "open"})
	f := doc(map[string]interface{}{"status": map[string]interface{}{"$in": []interface{}{"open", "closed"}}})
	ok, err := Matches(d, f)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
	f2 := doc(map[string]interface{}{"status": map[string]interface{}{"$nin": []interface{}{"closed"}}})
	ok2, err := Matches(d, f2)
	if err != nil || !ok2 {
		t.Fatalf("got ok=%v err=%v", ok2, err)
	}
}

func TestMatchesExists(t *testing.T) {
	d := doc(map[string]interface{}{"title": "bug"})
	f := doc(map[string]interface{}{"missing": map[string]interface{}{"$exists": false}})
	ok, err := Matches(d, f)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestMatchesSize(t *testing.T) {
	d := doc(map[string]interface{}{"tags": []interface{}{"a", "b"}})
	f := doc(map[string]interface{}{"tags": map[string]interface{}{"$size": int64(2)}})
	ok, err := Matches(d, f)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestMatchesRegexWithOptions(t *testing.T) {
	d := doc(map[string]interface{}{"title": "Bug Report"})
	f := doc(map[string]interface{}{"title": map[string]interface{}{"$regex": "^bug", "$options": "i"}})
	ok, err := Matches(d, f)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestMatchesRegexOnNonStringFieldIsFalse(t *testing.T) {
	d := doc(map[string]interface{}{"views": int64(10)})
	f := doc(map[string]interface{}{"views": map[string]interface{}{"$regex": "1"}})
	ok, err := Matches(d, f)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected regex on non-string field to not match")
	}
}

func TestMatchesAndOrNot(t *testing.T) {
	d := doc(map[string]interface{}{"status": "open", "views": int64(3)})

	and := doc(map[string]interface{}{"$and": []interface{}{
		map[string]interface{}{"status": "open"},
		map[string]interface{}{"views": map[string]interface{}{"$gt": int64(1)}},
	}})
	ok, err := Matches(d, and)
	if err != nil || !ok {
		t.Fatalf("$and: got ok=%v err=%v", ok, err)
	}

	or := doc(map[string]interface{}{"$or": []interface{}{
		map[string]interface{}{"status": "closed"},
		map[string]interface{}{"views": map[string]interface{}{"$gt": int64(1)}},
	}})
	ok2, err := Matches(d, or)
	if err != nil || !ok2 {
		t.Fatalf("$or: got ok=%v err=%v", ok2, err)
	}

	not := doc(map[string]interface{}{"$not": map[string]interface{}{"status": "closed"}})
	ok3, err := Matches(d, not)
	if err != nil || !ok3 {
		t.Fatalf("$not: got ok=%v err=%v", ok3, err)
	}

	nor := doc(map[string]interface{}{"$nor": []interface{}{
		map[string]interface{}{"status": "closed"},
	}})
	ok4, err := Matches(d, nor)
	if err != nil || !ok4 {
		t.Fatalf("$nor: got ok=%v err=%v", ok4, err)
	}
}

func TestMatchesUnknownOperatorIsInvalidFilter(t *testing.T) {
	d := doc(map[string]interface{}{"views": int64(1)})
	f := doc(map[string]interface{}{"views": map[string]interface{}{"$bogus": int64(1)}})
	_, err := Matches(d, f)
	if !errors.Is(err, command.ErrInvalidFilter) {
		t.Fatalf("got err=%v, want ErrInvalidFilter", err)
	}
}

func TestMatchesTextAndVectorClausesAlwaysTrue(t *testing.T) {
	d := doc(map[string]interface{}{})
	f := doc(map[string]interface{}{"$text": map[string]interface{}{"search": "anything"}})
	ok, err := Matches(d, f)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func valOf(d *types.Document, key string) interface{} {
	v, _ := d.Get(key)
	return types.ToNative(v)
}

func TestPipelineMatchSortLimitSkip(t *testing.T) {
	docs := []*types.Document{
		doc(map[string]interface{}{"$id": "a", "views": int64(5)}),
		doc(map[string]interface{}{"$id": "b", "views": int64(1)}),
		doc(map[string]interface{}{"$id": "c", "views": int64(10)}),
	}
	out, err := Run(docs, []Stage{
		{Op: "$match", Args: types.Map(doc(map[string]interface{}{"views": map[string]interface{}{"$gte": int64(1)}}))},
		{Op: "$sort", Args: types.Map(doc(map[string]interface{}{"views": int64(-1)}))},
		{Op: "$skip", Args: types.Int(1)},
		{Op: "$limit", Args: types.Int(1)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || valOf(out[0], "$id") != "a" {
		t.Fatalf("got %+v", out)
	}
}

func TestPipelineProjectIncludeAlwaysKeepsIDTypeName(t *testing.T) {
	docs := []*types.Document{
		doc(map[string]interface{}{"$id": "a", "$type": "Issue", "name": "n", "title": "t", "views": int64(1)}),
	}
	out, err := Run(docs, []Stage{
		{Op: "$project", Args: types.Map(doc(map[string]interface{}{"title": int64(1)}))},
	})
	if err != nil {
		t.Fatal(err)
	}
	if valOf(out[0], "$id") != "a" || valOf(out[0], "title") != "t" {
		t.Fatalf("got %+v", out[0])
	}
	if _, ok := out[0].Get("views"); ok {
		t.Fatalf("expected views excluded from inclusion projection")
	}
}

func TestPipelineGroupWithSumAndPush(t *testing.T) {
	docs := []*types.Document{
		doc(map[string]interface{}{"status": "open", "views": int64(3)}),
		doc(map[string]interface{}{"status": "open", "views": int64(5)}),
		doc(map[string]interface{}{"status": "closed", "views": int64(1)}),
	}
	out, err := Run(docs, []Stage{
		{Op: "$group", Args: types.Map(doc(map[string]interface{}{
			"_id":   "$status",
			"total": map[string]interface{}{"$sum": "$views"},
		}))},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d groups, want 2", len(out))
	}
	totals := map[string]int64{}
	for _, g := range out {
		id, _ := g.Get("_id")
		total, _ := g.Get("total")
		totals[id.String()] = total.Int()
	}
	if totals["open"] != 8 || totals["closed"] != 1 {
		t.Fatalf("got %+v", totals)
	}
}

func TestPipelineUnwindPreservesNullOption(t *testing.T) {
	docs := []*types.Document{
		doc(map[string]interface{}{"$id": "a", "tags": []interface{}{"x", "y"}}),
		doc(map[string]interface{}{"$id": "b", "tags": []interface{}{}}),
	}
	out, err := Run(docs, []Stage{
		{Op: "$unwind", Args: types.Map(doc(map[string]interface{}{
			"path":                       "$tags",
			"preserveNullAndEmptyArrays": true,
		}))},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d docs, want 3", len(out))
	}
}

func TestPipelineCount(t *testing.T) {
	docs := []*types.Document{doc(map[string]interface{}{}), doc(map[string]interface{}{})}
	out, err := Run(docs, []Stage{{Op: "$count", Args: types.String("total")}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || valOf(out[0], "total") != int64(2) {
		t.Fatalf("got %+v", out)
	}
}

func TestLookupLeftOuterJoin(t *testing.T) {
	docs := []*types.Document{doc(map[string]interface{}{"$id": "posts/1", "authorId": "users/1"})}
	foreign := []*types.Document{doc(map[string]interface{}{"$id": "users/1", "name": "alice"})}
	out := Lookup(docs, foreign, "authorId", "$id", "author")
	v, _ := out[0].Get("author")
	if len(v.List()) != 1 {
		t.Fatalf("got %+v", v)
	}
}

func TestResumeAfterCursor(t *testing.T) {
	docs := []*types.Document{
		doc(map[string]interface{}{"$id": "a"}),
		doc(map[string]interface{}{"$id": "b"}),
		doc(map[string]interface{}{"$id": "c"}),
	}
	out := ResumeAfter(docs, "b")
	if len(out) != 1 || valOf(out[0], "$id") != "c" {
		t.Fatalf("got %+v", out)
	}
}
