package columnar_test

import (
	"context"
	"testing"

	"github.com/parquedb/parquedb/internal/columnar"
)

func Test_ParquetCodec_RoundTrips_Event_Rows(t *testing.T) {
	t.Parallel()

	codec := columnar.NewParquetCodec()
	rows := []columnar.Row{
		{
			"id":     "01HZZZ",
			"ts":     int64(1000),
			"op":     "create",
			"target": "orders/1",
			"actor":  "svc-checkout",
			"after":  map[string]any{"status": "pending"},
		},
		{
			"id":     "01HZZZ2",
			"ts":     int64(2000),
			"op":     "update",
			"target": "orders/1",
			"actor":  "svc-checkout",
			"before": map[string]any{"status": "pending"},
			"after":  map[string]any{"status": "paid"},
		},
	}

	data, stats, err := codec.Encode(context.Background(), rows)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if stats.MinTS != 1000 || stats.MaxTS != 2000 {
		t.Fatalf("stats = %+v, want MinTS=1000 MaxTS=2000", stats)
	}

	got, err := codec.Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(got) != len(rows) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(rows))
	}

	if got[0]["target"] != "orders/1" || got[1]["op"] != "update" {
		t.Fatalf("got = %#v, unexpected field values", got)
	}
}

func Test_ParquetCodec_StatsOf_Reports_Column_Bounds(t *testing.T) {
	t.Parallel()

	codec := columnar.NewParquetCodec()
	rows := []columnar.Row{
		{"id": "a", "ts": int64(5), "op": "create", "target": "t/1", "actor": "x"},
		{"id": "b", "ts": int64(15), "op": "create", "target": "t/2", "actor": "x"},
	}

	data, _, err := codec.Encode(context.Background(), rows)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	stats, err := codec.StatsOf(context.Background(), data)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.NumRows != 2 {
		t.Fatalf("NumRows = %d, want 2", stats.NumRows)
	}
}
