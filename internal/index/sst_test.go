package index_test

import (
	"testing"

	"github.com/parquedb/parquedb/internal/index"
)

func Test_SST_Range_Returns_Keys_In_Bounds(t *testing.T) {
	t.Parallel()

	s := index.NewSST(index.SSTOptions{Name: "score"})

	for i, k := range []int{5, 1, 9, 3, 7} {
		if err := s.Insert(index.Key{k}, index.Posting{DocID: docIDFor(i)}); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}

	got := s.Range(index.Key{3}, index.Key{7})
	if len(got) != 3 {
		t.Fatalf("range [3,7] = %d postings, want 3", len(got))
	}
}

func Test_SST_Point_Lookup(t *testing.T) {
	t.Parallel()

	s := index.NewSST(index.SSTOptions{Name: "age"})

	if err := s.Insert(index.Key{42}, index.Posting{DocID: "d1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got := s.Lookup(index.Key{42})
	if len(got) != 1 || got[0].DocID != "d1" {
		t.Fatalf("lookup = %v, want one posting for d1", got)
	}

	if got := s.Lookup(index.Key{99}); len(got) != 0 {
		t.Fatalf("lookup for missing key = %v, want empty", got)
	}
}

func Test_SST_Unique_Rejects_Duplicate(t *testing.T) {
	t.Parallel()

	s := index.NewSST(index.SSTOptions{Name: "slug", Unique: true})

	if err := s.Insert(index.Key{"a"}, index.Posting{DocID: "d1"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	if err := s.Insert(index.Key{"a"}, index.Posting{DocID: "d2"}); err == nil {
		t.Fatalf("expected unique constraint violation")
	}
}

func Test_SST_Maintains_Sort_Order_After_Inserts(t *testing.T) {
	t.Parallel()

	s := index.NewSST(index.SSTOptions{Name: "ordinal"})

	for _, k := range []int{3, 1, 4, 1, 5, 9, 2, 6} {
		_ = s.Insert(index.Key{k}, index.Posting{DocID: docIDFor(k)})
	}

	full := s.Range(nil, nil)
	if len(full) != 8 {
		t.Fatalf("full range scan = %d postings, want 8", len(full))
	}

	for i := 1; i < len(full); i++ {
		if full[i-1].DocID > full[i].DocID {
			t.Fatalf("full range scan out of key order at %d: %v", i, full)
		}
	}
}

func docIDFor(i int) string {
	return string(rune('a' + i))
}
