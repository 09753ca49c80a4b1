package retention_test

import (
	"context"
	"testing"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/internal/entitystore"
	"github.com/parquedb/parquedb/internal/eventlog"
	"github.com/parquedb/parquedb/internal/retention"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

type noopSink struct{}

func (noopSink) Append(context.Context, eventlog.Event) error { return nil }

func newBackend() entitystore.EntityBackend {
	store := objectstore.NewMemory()

	return entitystore.NewNativeBackend(store, columnar.NewNativeCodec(), noopSink{}, false)
}

func seedMetric(t *testing.T, backend entitystore.EntityBackend, id string, granularity string, ts int64) {
	t.Helper()

	ctx := context.Background()

	_, err := backend.Create(ctx, "metrics", map[string]any{
		"granularity": granularity,
		"timestamp":   ts,
	}, entitystore.CreateOptions{ID: id})
	if err != nil {
		t.Fatalf("seed metric %s: %v", id, err)
	}
}

func Test_Cleanup_Deletes_Records_Older_Than_Granularity_TTL(t *testing.T) {
	t.Parallel()

	backend := newBackend()

	seedMetric(t, backend, "old-hourly", "hourly", 1000)
	seedMetric(t, backend, "new-hourly", "hourly", 1_000_000)

	now := int64(2_000_000)

	mgr := retention.New(backend, retention.Config{
		Collection: "metrics",
		Policies: map[string]retention.Policy{
			"hourly": {MaxAgeMs: 500_000}, // cutoff = now - 500000 = 1,500,000
		},
	}, func() int64 { return now })

	result, err := mgr.Cleanup(context.Background(), nil)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if result.DeletedCount != 1 {
		t.Fatalf("deleted count = %d, want 1", result.DeletedCount)
	}

	if result.ByGranularity["hourly"] != 1 {
		t.Fatalf("byGranularity[hourly] = %d, want 1", result.ByGranularity["hourly"])
	}

	if _, err := backend.Get(context.Background(), "metrics", "old-hourly", false); err == nil {
		t.Fatalf("expected old-hourly to be deleted")
	}

	if _, err := backend.Get(context.Background(), "metrics", "new-hourly", false); err != nil {
		t.Fatalf("new-hourly should survive cleanup: %v", err)
	}
}

func Test_CleanupBefore_Deletes_Across_Granularities_With_Fixed_Cutoff(t *testing.T) {
	t.Parallel()

	backend := newBackend()

	seedMetric(t, backend, "h1", "hourly", 100)
	seedMetric(t, backend, "d1", "daily", 200)
	seedMetric(t, backend, "d2", "daily", 9_999_999)

	mgr := retention.New(backend, retention.Config{
		Collection: "metrics",
		Policies: map[string]retention.Policy{
			"hourly": {MaxAgeMs: 0},
			"daily":  {MaxAgeMs: 0},
		},
	}, func() int64 { return 0 })

	result, err := mgr.CleanupBefore(context.Background(), 500, nil)
	if err != nil {
		t.Fatalf("cleanup before: %v", err)
	}

	if result.DeletedCount != 2 {
		t.Fatalf("deleted count = %d, want 2 (h1, d1)", result.DeletedCount)
	}

	if _, err := backend.Get(context.Background(), "metrics", "d2", false); err != nil {
		t.Fatalf("d2 should survive (timestamp after cutoff): %v", err)
	}
}

func Test_GetRetentionStats_Reports_Totals_And_Eligible_Count(t *testing.T) {
	t.Parallel()

	backend := newBackend()

	seedMetric(t, backend, "m1", "daily", 10)
	seedMetric(t, backend, "m2", "daily", 20)

	mgr := retention.New(backend, retention.Config{
		Collection: "metrics",
		Policies: map[string]retention.Policy{
			"daily": {MaxAgeMs: 5},
		},
	}, func() int64 { return 30 })

	stats, err := mgr.GetRetentionStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	daily := stats["daily"]
	if daily.Total != 2 {
		t.Fatalf("daily total = %d, want 2", daily.Total)
	}

	if daily.EligibleForDeletion != 2 {
		t.Fatalf("daily eligible = %d, want 2", daily.EligibleForDeletion)
	}

	if daily.OldestTimestamp != 10 {
		t.Fatalf("daily oldest = %d, want 10", daily.OldestTimestamp)
	}
}

func Test_Schedule_Trigger_Runs_Cleanup_Immediately(t *testing.T) {
	t.Parallel()

	backend := newBackend()
	seedMetric(t, backend, "old", "hourly", 0)

	mgr := retention.New(backend, retention.Config{
		Collection: "metrics",
		Policies:   map[string]retention.Policy{"hourly": {MaxAgeMs: 0}},
	}, func() int64 { return 1000 })

	done := make(chan retention.Result, 1)

	sched := mgr.ScheduleCleanup(context.Background(), retention.ScheduleOptions{
		IntervalMs: 60_000,
		OnComplete: func(r retention.Result, err error) {
			if err == nil {
				done <- r
			}
		},
	})
	defer sched.Stop()

	sched.Trigger(context.Background())

	r := <-done
	if r.DeletedCount != 1 {
		t.Fatalf("triggered cleanup deleted = %d, want 1", r.DeletedCount)
	}

	if !sched.IsRunning() {
		t.Fatalf("schedule should be running before Stop")
	}

	sched.Stop()

	if sched.IsRunning() {
		t.Fatalf("schedule should not be running after Stop")
	}
}
