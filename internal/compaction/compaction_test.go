package compaction_test

import (
	"context"
	"testing"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/internal/compaction"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

func seedFile(t *testing.T, ctx context.Context, store objectstore.ObjectStore, codec columnar.Codec, path string, rows []columnar.Row) {
	t.Helper()

	data, _, err := codec.Encode(ctx, rows)
	if err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}

	if err := store.WriteAtomic(ctx, path, data); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func Test_Trigger_Forms_Job_When_Enough_Candidate_Files(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objectstore.NewMemory()
	codec := columnar.NewNativeCodec()

	seedFile(t, ctx, store, codec, "data/events/part-1.parquet", []columnar.Row{{"id": "a"}})
	seedFile(t, ctx, store, codec, "data/events/part-2.parquet", []columnar.Row{{"id": "b"}})

	sched := compaction.New(store, codec, compaction.Config{MinFiles: 2}, func() int64 { return 100 })

	result, err := sched.Trigger(ctx, "events")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if result.NothingToDo {
		t.Fatalf("expected a job to be created")
	}

	if len(result.JobsCreated) != 1 {
		t.Fatalf("jobs created = %d, want 1", len(result.JobsCreated))
	}

	job := result.JobsCreated[0]
	if job.Status != compaction.StatusPending {
		t.Fatalf("job status = %s, want pending", job.Status)
	}

	if len(job.Files) != 2 {
		t.Fatalf("job files = %d, want 2", len(job.Files))
	}
}

func Test_Trigger_Reports_Nothing_To_Do_Below_MinFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objectstore.NewMemory()
	codec := columnar.NewNativeCodec()

	seedFile(t, ctx, store, codec, "data/events/part-1.parquet", []columnar.Row{{"id": "a"}})

	sched := compaction.New(store, codec, compaction.Config{MinFiles: 4}, func() int64 { return 100 })

	result, err := sched.Trigger(ctx, "events")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if !result.NothingToDo {
		t.Fatalf("expected nothing to do below minFiles")
	}
}

func Test_Trigger_Excludes_Already_Compacted_Outputs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objectstore.NewMemory()
	codec := columnar.NewNativeCodec()

	seedFile(t, ctx, store, codec, "data/events/part-1.parquet", []columnar.Row{{"id": "a"}})
	seedFile(t, ctx, store, codec, "data/events/compacted-50.parquet", []columnar.Row{{"id": "z"}})

	sched := compaction.New(store, codec, compaction.Config{MinFiles: 1}, func() int64 { return 100 })

	result, err := sched.Trigger(ctx, "events")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if len(result.JobsCreated) != 1 || len(result.JobsCreated[0].Files) != 1 {
		t.Fatalf("expected exactly the non-compacted file as the sole candidate, got %+v", result.JobsCreated)
	}

	if result.JobsCreated[0].Files[0] != "data/events/part-1.parquet" {
		t.Fatalf("unexpected candidate file: %s", result.JobsCreated[0].Files[0])
	}
}

func Test_RunJob_Merges_Files_Preserving_Every_Row_And_Removes_Originals(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objectstore.NewMemory()
	codec := columnar.NewNativeCodec()

	seedFile(t, ctx, store, codec, "data/events/part-1.parquet", []columnar.Row{{"id": "a"}, {"id": "b"}})
	seedFile(t, ctx, store, codec, "data/events/part-2.parquet", []columnar.Row{{"id": "c"}})

	sched := compaction.New(store, codec, compaction.Config{MinFiles: 2}, func() int64 { return 500 })

	trigger, err := sched.Trigger(ctx, "events")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	job := trigger.JobsCreated[0]

	if err := sched.RunJob(ctx, job.ID); err != nil {
		t.Fatalf("run job: %v", err)
	}

	status, err := sched.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if status.Counts[compaction.StatusCompleted] != 1 {
		t.Fatalf("completed jobs = %d, want 1", status.Counts[compaction.StatusCompleted])
	}

	for _, f := range job.Files {
		if exists, _ := store.Exists(ctx, f); exists {
			t.Fatalf("input file %s should have been deleted", f)
		}
	}

	outPath := "data/events/compacted-500.parquet"

	data, err := store.Read(ctx, outPath)
	if err != nil {
		t.Fatalf("read compacted output: %v", err)
	}

	rows, err := codec.Decode(ctx, data)
	if err != nil {
		t.Fatalf("decode compacted output: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("merged row count = %d, want 3 (every input row preserved)", len(rows))
	}

	if _, err := store.Read(ctx, "data/events/compacted-500.metadata.json"); err != nil {
		t.Fatalf("expected a metadata snapshot alongside the compacted output: %v", err)
	}
}

func Test_Retry_Resets_Failed_Job_To_Pending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objectstore.NewMemory()
	codec := columnar.NewNativeCodec()

	seedFile(t, ctx, store, codec, "data/events/part-1.parquet", []columnar.Row{{"id": "a"}})
	seedFile(t, ctx, store, codec, "data/events/part-2.parquet", []columnar.Row{{"id": "b"}})

	sched := compaction.New(store, codec, compaction.Config{MinFiles: 2}, func() int64 { return 700 })

	trigger, err := sched.Trigger(ctx, "events")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	jobID := trigger.JobsCreated[0].ID

	if err := sched.Retry(ctx, jobID); err == nil {
		t.Fatalf("expected retry to reject a non-failed job")
	}

	// Delete one input file out from under the job so the run fails.
	if err := store.Delete(ctx, trigger.JobsCreated[0].Files[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := sched.RunJob(ctx, jobID); err == nil {
		t.Fatalf("expected run job to fail with a missing input file")
	}

	status, err := sched.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if status.Counts[compaction.StatusFailed] != 1 {
		t.Fatalf("failed jobs = %d, want 1", status.Counts[compaction.StatusFailed])
	}

	if err := sched.Retry(ctx, jobID); err != nil {
		t.Fatalf("retry: %v", err)
	}

	status, err = sched.Status(ctx)
	if err != nil {
		t.Fatalf("status after retry: %v", err)
	}

	if status.Counts[compaction.StatusPending] != 1 {
		t.Fatalf("pending jobs after retry = %d, want 1", status.Counts[compaction.StatusPending])
	}
}

func Test_Cleanup_Lists_Orphans_And_Only_Deletes_With_Force(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objectstore.NewMemory()
	codec := columnar.NewNativeCodec()

	seedFile(t, ctx, store, codec, "data/events/part-1.parquet", []columnar.Row{{"id": "a"}})

	if err := store.Write(ctx, "data/events/stray.tmp", []byte("x")); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	if err := store.Write(ctx, "data/events/broken.partial.parquet", []byte("x")); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	sched := compaction.New(store, codec, compaction.Config{}, func() int64 { return 900 })

	report, err := sched.Cleanup(ctx, false)
	if err != nil {
		t.Fatalf("cleanup report: %v", err)
	}

	if len(report.Orphans) != 2 || report.Deleted {
		t.Fatalf("report = %+v, want 2 orphans reported and not deleted", report)
	}

	if exists, _ := store.Exists(ctx, "data/events/stray.tmp"); !exists {
		t.Fatalf("orphan should survive a non-forced cleanup")
	}

	forced, err := sched.Cleanup(ctx, true)
	if err != nil {
		t.Fatalf("forced cleanup: %v", err)
	}

	if !forced.Deleted {
		t.Fatalf("expected forced cleanup to delete")
	}

	if exists, _ := store.Exists(ctx, "data/events/stray.tmp"); exists {
		t.Fatalf("orphan should be deleted after forced cleanup")
	}

	if exists, _ := store.Exists(ctx, "data/events/part-1.parquet"); !exists {
		t.Fatalf("non-orphan data file should survive cleanup")
	}
}
