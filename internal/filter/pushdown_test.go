package filter_test

import (
	"testing"

	"github.com/parquedb/parquedb/internal/filter"
)

func Test_AnalyzeForPushdown_Splits_Typed_Range_From_Regex(t *testing.T) {
	t.Parallel()

	f := filter.Filter{
		"age":  map[string]any{"$gte": 18, "$lt": 65},
		"name": map[string]any{"$regex": "^J"},
	}

	typed := map[string]bool{"age": true, "name": true}

	res := filter.AnalyzeForPushdown(f, typed)

	if len(res.PushdownPredicates) != 2 {
		t.Fatalf("len(PushdownPredicates) = %d, want 2", len(res.PushdownPredicates))
	}

	if !res.CanPushdown {
		t.Fatalf("CanPushdown = false, want true")
	}

	if _, ok := res.RemainingFilter["name"]; !ok {
		t.Fatalf("RemainingFilter missing name clause: %+v", res.RemainingFilter)
	}

	if _, ok := res.RemainingFilter["age"]; ok {
		t.Fatalf("RemainingFilter should not contain fully-pushed age clause: %+v", res.RemainingFilter)
	}
}

func Test_AnalyzeForPushdown_Never_Pushes_Or_Not_Nor(t *testing.T) {
	t.Parallel()

	f := filter.Filter{
		"$or": []filter.Filter{{"a": 1}, {"b": 2}},
	}

	res := filter.AnalyzeForPushdown(f, map[string]bool{"a": true, "b": true})

	if res.CanPushdown {
		t.Fatalf("CanPushdown = true, want false for a bare $or")
	}

	if _, ok := res.RemainingFilter["$or"]; !ok {
		t.Fatalf("expected $or kept verbatim in remaining filter")
	}
}

func Test_AnalyzeForPushdown_Null_Value_Never_Pushed(t *testing.T) {
	t.Parallel()

	f := filter.Filter{"deletedAt": nil}

	res := filter.AnalyzeForPushdown(f, map[string]bool{"deletedAt": true})

	if res.CanPushdown {
		t.Fatalf("CanPushdown = true, want false for a null comparison")
	}
}

func Test_AnalyzeForPushdown_Dotted_Path_Never_Pushed(t *testing.T) {
	t.Parallel()

	f := filter.Filter{"address.city": "NYC"}

	res := filter.AnalyzeForPushdown(f, map[string]bool{"address.city": true})

	if res.CanPushdown {
		t.Fatalf("CanPushdown = true, want false for dotted path")
	}
}

func Test_PredicatesToQueryFilter_Roundtrips_Pushable_Subset(t *testing.T) {
	t.Parallel()

	f := filter.Filter{"age": map[string]any{"$gte": 18}}
	typed := map[string]bool{"age": true}

	preds := filter.FilterToPredicates(f, typed)
	back := filter.PredicatesToQueryFilter(preds)

	ops, ok := back["age"].(map[string]any)
	if !ok {
		t.Fatalf("back[age] = %#v, want operator map", back["age"])
	}

	if ops["$gte"] != 18 {
		t.Fatalf("back[age][$gte] = %v, want 18", ops["$gte"])
	}
}

func Test_Match_Evaluates_And_Or_Not(t *testing.T) {
	t.Parallel()

	doc := map[string]any{"age": 30, "name": "Jane"}

	f := filter.Filter{
		"$and": []filter.Filter{
			{"age": map[string]any{"$gte": 18}},
			{"name": map[string]any{"$startsWith": "J"}},
		},
	}

	if !filter.Match(doc, f) {
		t.Fatalf("expected doc to match $and filter")
	}

	orF := filter.Filter{
		"$or": []filter.Filter{
			{"age": map[string]any{"$lt": 10}},
			{"name": "Jane"},
		},
	}

	if !filter.Match(doc, orF) {
		t.Fatalf("expected doc to match $or filter")
	}

	notF := filter.Filter{"$not": filter.Filter{"age": map[string]any{"$lt": 10}}}

	if !filter.Match(doc, notF) {
		t.Fatalf("expected doc to match $not filter")
	}
}
