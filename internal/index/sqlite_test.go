package index_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/parquedb/parquedb/internal/index"
)

func Test_SST_SaveSST_Then_LoadSST_Round_Trips_Postings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := index.OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer store.Close()

	s := index.NewSST(index.SSTOptions{Name: "score"})

	for _, k := range []int{5, 1, 9, 3} {
		if err := s.Insert(index.Key{k}, index.Posting{DocID: "d"}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if err := s.SaveSST(ctx, store, "score"); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := index.NewSST(index.SSTOptions{Name: "score"})
	if err := reloaded.LoadSST(ctx, store, "score"); err != nil {
		t.Fatalf("load: %v", err)
	}

	got := reloaded.Range(index.Key{3}, index.Key{9})
	if len(got) != 3 {
		t.Fatalf("range after reload = %d postings, want 3", len(got))
	}

	if got := reloaded.Lookup(index.Key{1}); len(got) != 1 {
		t.Fatalf("lookup after reload = %v, want one posting", got)
	}
}
