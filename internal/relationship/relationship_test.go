package relationship_test

import (
	"testing"

	"github.com/parquedb/parquedb/internal/relationship"
)

func Test_Index_Add_Then_GetRelated(t *testing.T) {
	t.Parallel()

	idx := relationship.NewIndex()
	idx.Add("posts", "p1", "author", "posts", []relationship.Ref{{Ns: "users", ID: "u1"}})

	related := idx.GetRelated("users", "u1", "posts")
	if len(related) != 1 || related[0] != "posts/p1" {
		t.Fatalf("related = %v, want [posts/p1]", related)
	}
}

func Test_Index_Remove_Clears_Reverse_Entry(t *testing.T) {
	t.Parallel()

	idx := relationship.NewIndex()
	ref := []relationship.Ref{{Ns: "users", ID: "u1"}}

	idx.Add("posts", "p1", "author", "posts", ref)
	idx.Remove("posts", "p1", "posts", ref)

	related := idx.GetRelated("users", "u1", "posts")
	if len(related) != 0 {
		t.Fatalf("related = %v, want empty after remove", related)
	}
}

func Test_ExtractLinks_Handles_Scalar_And_Array_Forms(t *testing.T) {
	t.Parallel()

	schema := relationship.LinkSchema{Field: "author", InverseName: "posts", TargetNs: "users"}

	single := relationship.ExtractLinks(map[string]any{"author": "u1"}, schema)
	if len(single) != 1 || single[0] != (relationship.Ref{Ns: "users", ID: "u1"}) {
		t.Fatalf("single = %v, want [users/u1]", single)
	}

	multi := relationship.ExtractLinks(map[string]any{"author": []any{"u1", "users/u2"}}, schema)
	if len(multi) != 2 || multi[1] != (relationship.Ref{Ns: "users", ID: "u2"}) {
		t.Fatalf("multi = %v, want [users/u1 users/u2]", multi)
	}
}
