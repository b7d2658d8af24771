package entity

import (
	"errors"
	"testing"

	"github.com/parquedb/parquedb/internal/command"
	"github.com/parquedb/parquedb/internal/types"
)

func docFrom(m map[string]interface{}) *types.Document {
	d := types.DocumentFromNativeMap(m)
	return &d
}

func TestApplySet(t *testing.T) {
	doc := docFrom(map[string]interface{}{"title": "v1", "author": map[string]interface{}{"name": "a"}})
	patch := docFrom(map[string]interface{}{"$set": map[string]interface{}{"title": "v2", "author.name": "b"}})

	out, _, _, err := Apply(doc, patch)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := out.Get("title")
	if v.String() != "v2" {
		t.Fatalf("got title=%v", v)
	}
	name, _ := out.GetPath("author.name")
	if name.String() != "b" {
		t.Fatalf("got author.name=%v", name)
	}
}

func TestApplyUnset(t *testing.T) {
	doc := docFrom(map[string]interface{}{"title": "v1", "draft": true})
	patch := docFrom(map[string]interface{}{"$unset": map[string]interface{}{"draft": ""}})

	out, _, _, err := Apply(doc, patch)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.Get("draft"); ok {
		t.Fatal("expected draft unset")
	}
}

func TestApplyIncOnMissingFieldDefaultsToZero(t *testing.T) {
	doc := docFrom(map[string]interface{}{})
	patch := docFrom(map[string]interface{}{"$inc": map[string]interface{}{"views": int64(5)}})

	out, _, _, err := Apply(doc, patch)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := out.Get("views")
	if v.Int() != 5 {
		t.Fatalf("got views=%v", v)
	}
}

func TestApplyIncOnExistingValue(t *testing.T) {
	doc := docFrom(map[string]interface{}{"views": int64(10)})
	patch := docFrom(map[string]interface{}{"$inc": map[string]interface{}{"views": int64(-3)}})

	out, _, _, err := Apply(doc, patch)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := out.Get("views")
	if v.Int() != 7 {
		t.Fatalf("got views=%v, want 7", v)
	}
}

func TestApplyPushAppendsToArray(t *testing.T) {
	doc := docFrom(map[string]interface{}{"tags": []interface{}{"a"}})
	patch := docFrom(map[string]interface{}{"$push": map[string]interface{}{"tags": "b"}})

	out, _, _, err := Apply(doc, patch)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := out.Get("tags")
	if len(v.List()) != 2 || v.List()[1].String() != "b" {
		t.Fatalf("got tags=%v", v.List())
	}
}

func TestApplyPushEachWithSliceAndSort(t *testing.T) {
	doc := docFrom(map[string]interface{}{"scores": []interface{}{int64(3), int64(1)}})
	patch := docFrom(map[string]interface{}{"$push": map[string]interface{}{
		"scores": map[string]interface{}{
			"$each":  []interface{}{int64(5), int64(2)},
			"$sort":  int64(1),
			"$slice": int64(3),
		},
	}})

	out, _, _, err := Apply(doc, patch)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := out.Get("scores")
	got := make([]int64, len(v.List()))
	for i, e := range v.List() {
		got[i] = e.Int()
	}
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestApplyPullRemovesMatchingElements(t *testing.T) {
	doc := docFrom(map[string]interface{}{"tags": []interface{}{"a", "b", "a"}})
	patch := docFrom(map[string]interface{}{"$pull": map[string]interface{}{"tags": "a"}})

	out, _, _, err := Apply(doc, patch)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := out.Get("tags")
	if len(v.List()) != 1 || v.List()[0].String() != "b" {
		t.Fatalf("got tags=%v", v.List())
	}
}

func TestApplyLinkBareIDExtractsRequest(t *testing.T) {
	doc := docFrom(map[string]interface{}{})
	patch := docFrom(map[string]interface{}{"$link": map[string]interface{}{"hasTag": "tags/tech"}})

	_, links, _, err := Apply(doc, patch)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].Predicate != "hasTag" || links[0].Target != "tags/tech" {
		t.Fatalf("got %+v", links)
	}
}

func TestApplyLinkObjectWithoutDirectiveIsSkipped(t *testing.T) {
	doc := docFrom(map[string]interface{}{})
	patch := docFrom(map[string]interface{}{"$link": map[string]interface{}{"hasTag": map[string]interface{}{"name": "tech"}}})

	_, links, _, err := Apply(doc, patch)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 0 {
		t.Fatalf("expected object without $id to be skipped, got %+v", links)
	}
}

func TestApplyUnlinkExtractsRequest(t *testing.T) {
	doc := docFrom(map[string]interface{}{})
	patch := docFrom(map[string]interface{}{"$unlink": map[string]interface{}{"hasTag": "tags/tech"}})

	_, _, unlinks, err := Apply(doc, patch)
	if err != nil {
		t.Fatal(err)
	}
	if len(unlinks) != 1 || unlinks[0].Target != "tags/tech" {
		t.Fatalf("got %+v", unlinks)
	}
}

func TestApplyUnknownOperatorIsInvalidUpdate(t *testing.T) {
	doc := docFrom(map[string]interface{}{})
	patch := docFrom(map[string]interface{}{"$foo": map[string]interface{}{"x": 1}})

	_, _, _, err := Apply(doc, patch)
	if !errors.Is(err, command.ErrInvalidUpdate) {
		t.Fatalf("got err=%v, want ErrInvalidUpdate", err)
	}
}
