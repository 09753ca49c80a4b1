package streaming_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/internal/entitystore"
	"github.com/parquedb/parquedb/internal/eventlog"
	"github.com/parquedb/parquedb/internal/streaming"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

type noopSink struct{}

func (noopSink) Append(context.Context, eventlog.Event) error { return nil }

func newBackend() entitystore.EntityBackend {
	store := objectstore.NewMemory()

	return entitystore.NewNativeBackend(store, columnar.NewNativeCodec(), noopSink{}, false)
}

func mustTarget(t *testing.T, entityID string) string {
	t.Helper()

	target, err := eventlog.TargetFromEntityID(entityID)
	if err != nil {
		t.Fatalf("target: %v", err)
	}

	return target
}

func createEvent(t *testing.T, id string, ts int64, body map[string]any) eventlog.Event {
	t.Helper()

	after, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	return eventlog.Event{
		ID:     id,
		TS:     ts,
		Op:     eventlog.OpCreate,
		Target: mustTarget(t, "orders/"+id),
		After:  after,
	}
}

func Test_TumblingWindow_Count_Aggregates_Per_Bucket(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newBackend()
	engine := streaming.NewEngine(backend, objectstore.NewMemory(), columnar.NewNativeCodec(), func() int64 { return 0 })

	view := engine.RegisterView(streaming.Definition{
		Name:   "orders_per_minute",
		Source: streaming.Source{Collection: "orders"},
		Window: streaming.Window{Kind: streaming.WindowTumbling, SizeMs: 60_000},
		Transform: streaming.Transform{
			Builtin: streaming.AggCount,
		},
	}, streaming.PersistOptions{})

	events := []eventlog.Event{
		createEvent(t, "e1", 1_000, map[string]any{"total": 10.0}),
		createEvent(t, "e2", 2_000, map[string]any{"total": 20.0}),
		createEvent(t, "e3", 61_000, map[string]any{"total": 5.0}),
	}

	if err := view.Ingest(ctx, events); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	first, err := backend.Get(ctx, "orders_per_minute", "0-60000-", false)
	if err != nil {
		t.Fatalf("get first window: %v", err)
	}

	if first.Body["count"] != int64(2) {
		t.Fatalf("first window count = %v, want 2", first.Body["count"])
	}

	second, err := backend.Get(ctx, "orders_per_minute", "60000-120000-", false)
	if err != nil {
		t.Fatalf("get second window: %v", err)
	}

	if second.Body["count"] != int64(1) {
		t.Fatalf("second window count = %v, want 1", second.Body["count"])
	}
}

func Test_GroupBy_Sum_Aggregates_Per_Group_Within_Global_Window(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newBackend()
	engine := streaming.NewEngine(backend, objectstore.NewMemory(), columnar.NewNativeCodec(), func() int64 { return 0 })

	view := engine.RegisterView(streaming.Definition{
		Name:   "revenue_by_region",
		Source: streaming.Source{Collection: "orders"},
		Transform: streaming.Transform{
			Builtin: streaming.AggSum,
			Field:   "total",
			GroupBy: "region",
		},
	}, streaming.PersistOptions{})

	events := []eventlog.Event{
		createEvent(t, "e1", 100, map[string]any{"total": 10.0, "region": "eu"}),
		createEvent(t, "e2", 200, map[string]any{"total": 15.0, "region": "eu"}),
		createEvent(t, "e3", 300, map[string]any{"total": 7.0, "region": "us"}),
	}

	if err := view.Ingest(ctx, events); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	euID := "0-9223372036854775807-eu"

	eu, err := backend.Get(ctx, "revenue_by_region", euID, false)
	if err != nil {
		t.Fatalf("get eu group: %v", err)
	}

	if eu.Body["value"] != 25.0 {
		t.Fatalf("eu sum = %v, want 25", eu.Body["value"])
	}

	us, err := backend.Get(ctx, "revenue_by_region", "0-9223372036854775807-us", false)
	if err != nil {
		t.Fatalf("get us group: %v", err)
	}

	if us.Body["value"] != 7.0 {
		t.Fatalf("us sum = %v, want 7", us.Body["value"])
	}
}

func Test_Source_Filter_Excludes_Non_Matching_Events(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newBackend()
	engine := streaming.NewEngine(backend, objectstore.NewMemory(), columnar.NewNativeCodec(), func() int64 { return 0 })

	view := engine.RegisterView(streaming.Definition{
		Name:   "big_orders",
		Source: streaming.Source{Collection: "orders", Filter: map[string]any{"total": map[string]any{"$gte": 10.0}}},
		Transform: streaming.Transform{
			Builtin: streaming.AggCount,
		},
	}, streaming.PersistOptions{})

	events := []eventlog.Event{
		createEvent(t, "e1", 100, map[string]any{"total": 5.0}),
		createEvent(t, "e2", 200, map[string]any{"total": 12.0}),
	}

	if err := view.Ingest(ctx, events); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	global, err := backend.Get(ctx, "big_orders", "0-9223372036854775807-", false)
	if err != nil {
		t.Fatalf("get global window: %v", err)
	}

	if global.Body["count"] != int64(1) {
		t.Fatalf("count = %v, want 1 (only the $gte:10 order)", global.Body["count"])
	}
}

func Test_LateEvent_Dropped_By_Default_Policy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newBackend()
	engine := streaming.NewEngine(backend, objectstore.NewMemory(), columnar.NewNativeCodec(), func() int64 { return 0 })

	view := engine.RegisterView(streaming.Definition{
		Name:      "counts",
		Source:    streaming.Source{Collection: "orders"},
		Transform: streaming.Transform{Builtin: streaming.AggCount},
		Watermark: streaming.Watermark{MaxLatenessMs: 100},
	}, streaming.PersistOptions{})

	if err := view.Ingest(ctx, []eventlog.Event{createEvent(t, "e1", 10_000, map[string]any{})}); err != nil {
		t.Fatalf("ingest on-time event: %v", err)
	}

	// Arrives far behind the watermark established by e1 (10_000 - 100 = 9_900 cutoff).
	if err := view.Ingest(ctx, []eventlog.Event{createEvent(t, "e2", 1_000, map[string]any{})}); err != nil {
		t.Fatalf("ingest late event: %v", err)
	}

	global, err := backend.Get(ctx, "counts", "0-9223372036854775807-", false)
	if err != nil {
		t.Fatalf("get global window: %v", err)
	}

	if global.Body["count"] != int64(1) {
		t.Fatalf("count = %v, want 1 (late event should have been dropped)", global.Body["count"])
	}
}

func Test_SessionWindow_Groups_Events_Within_Gap_And_Splits_Beyond_It(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newBackend()
	engine := streaming.NewEngine(backend, objectstore.NewMemory(), columnar.NewNativeCodec(), func() int64 { return 0 })

	view := engine.RegisterView(streaming.Definition{
		Name:      "sessions",
		Source:    streaming.Source{Collection: "orders"},
		Window:    streaming.Window{Kind: streaming.WindowSession, GapMs: 1_000},
		Transform: streaming.Transform{Builtin: streaming.AggCount},
	}, streaming.PersistOptions{})

	events := []eventlog.Event{
		createEvent(t, "e1", 0, map[string]any{}),
		createEvent(t, "e2", 500, map[string]any{}),
		createEvent(t, "e3", 5_000, map[string]any{}), // gap > 1000ms since e2, new session
	}

	if err := view.Ingest(ctx, events); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	firstSession, err := backend.Get(ctx, "sessions", "0-500-", false)
	if err != nil {
		t.Fatalf("get first session: %v", err)
	}

	if firstSession.Body["count"] != int64(2) {
		t.Fatalf("first session count = %v, want 2", firstSession.Body["count"])
	}

	secondSession, err := backend.Get(ctx, "sessions", "5000-5000-", false)
	if err != nil {
		t.Fatalf("get second session: %v", err)
	}

	if secondSession.Body["count"] != int64(1) {
		t.Fatalf("second session count = %v, want 1", secondSession.Body["count"])
	}
}

func Test_Flush_Persists_Buffered_Rows_And_Stop_Flushes_Remainder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newBackend()
	store := objectstore.NewMemory()
	codec := columnar.NewNativeCodec()
	engine := streaming.NewEngine(backend, store, codec, func() int64 { return 123_456_000 })

	view := engine.RegisterView(streaming.Definition{
		Name:      "errors",
		Source:    streaming.Source{Collection: "orders"},
		Transform: streaming.Transform{Builtin: streaming.AggCount},
	}, streaming.PersistOptions{Enabled: true, FlushThreshold: 1000, DatasetPrefix: "views/errors"})

	if err := view.Ingest(ctx, []eventlog.Event{createEvent(t, "e1", 0, map[string]any{})}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := view.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	page, err := store.List(ctx, "views/errors", "")
	if err != nil {
		t.Fatalf("list dataset: %v", err)
	}

	if len(page.Entries) != 1 {
		t.Fatalf("expected exactly one persisted dataset file, got %d", len(page.Entries))
	}
}
