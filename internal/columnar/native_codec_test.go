package columnar_test

import (
	"context"
	"testing"

	"github.com/parquedb/parquedb/internal/columnar"
)

func Test_NativeCodec_RoundTrips_Rows(t *testing.T) {
	t.Parallel()

	codec := columnar.NewNativeCodec()
	rows := []columnar.Row{
		{"id": "a", "ts": int64(100), "name": "alice"},
		{"id": "b", "ts": int64(200), "name": "bob"},
	}

	data, _, err := codec.Encode(context.Background(), rows)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := codec.Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(got) != len(rows) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(rows))
	}

	if got[0]["name"] != "alice" || got[1]["name"] != "bob" {
		t.Fatalf("got = %#v, want name order preserved", got)
	}
}

func Test_NativeCodec_StatsOf_Computes_MinMax(t *testing.T) {
	t.Parallel()

	codec := columnar.NewNativeCodec()
	rows := []columnar.Row{
		{"ts": int64(50)},
		{"ts": int64(10)},
		{"ts": int64(90)},
	}

	data, _, err := codec.Encode(context.Background(), rows)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	stats, err := codec.StatsOf(context.Background(), data)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.MinTS != 10 {
		t.Fatalf("MinTS = %d, want 10", stats.MinTS)
	}

	if stats.MaxTS != 90 {
		t.Fatalf("MaxTS = %d, want 90", stats.MaxTS)
	}

	if stats.NumRows != 3 {
		t.Fatalf("NumRows = %d, want 3", stats.NumRows)
	}
}

func Test_NativeCodec_DecodeFiltered_Skips_NonMatching_RowGroups(t *testing.T) {
	t.Parallel()

	codec := &columnar.NativeCodec{RowsPerGroup: 1}
	rows := []columnar.Row{
		{"ts": int64(10)},
		{"ts": int64(500)},
	}

	data, _, err := codec.Encode(context.Background(), rows)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := codec.DecodeFiltered(context.Background(), data, []columnar.Predicate{
		{Column: "ts", Op: columnar.OpGte, Value: int64(400)},
	})
	if err != nil {
		t.Fatalf("decode filtered: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}

	if got[0]["ts"] != int64(500) {
		t.Fatalf("got[0][ts] = %v, want 500", got[0]["ts"])
	}
}

func Test_RowGroupMatches_Eq_Out_Of_Range_Is_Skippable(t *testing.T) {
	t.Parallel()

	rg := columnar.RowGroupStats{
		NumRows: 10,
		Columns: map[string]columnar.ColumnStats{
			"age": {Min: 18, Max: 30},
		},
	}

	preds := []columnar.Predicate{{Column: "age", Op: columnar.OpEq, Value: 99}}

	if columnar.RowGroupMatches(rg, preds) {
		t.Fatalf("expected row group to be skippable for out-of-range equality")
	}

	preds = []columnar.Predicate{{Column: "age", Op: columnar.OpEq, Value: 25}}

	if !columnar.RowGroupMatches(rg, preds) {
		t.Fatalf("expected row group to match for in-range equality")
	}
}
