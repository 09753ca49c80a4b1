// Package compaction batches many small columnar data files into fewer
// larger ones while preserving event/row identity (spec.md §4.8).
//
// It operates directly against [objectstore.ObjectStore] and
// [columnar.Codec] rather than [entitystore.EntityBackend]: a namespace's
// current layout may hold its live data in a single fixed path, but
// compaction's job bookkeeping, orphan cleanup, and merge logic are all
// meaningful against any directory of `*.parquet` files a layout or a
// bulk import might leave behind.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/internal/domainerr"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

// JobStatus is a compaction job's lifecycle state (spec.md §4.8).
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job is one compaction unit: a window of input files within a namespace.
type Job struct {
	ID          string    `json:"id"`
	Namespace   string    `json:"namespace"`
	WindowStart int64     `json:"windowStart"`
	WindowEnd   int64     `json:"windowEnd"`
	Files       []string  `json:"files"`
	Status      JobStatus `json:"status"`
	CreatedAt   int64     `json:"createdAt"`
	Error       string    `json:"error,omitempty"`
}

type jobState struct {
	Jobs []*Job `json:"jobs"`
}

// StatePath is the well-known state file relative to the object store
// root (spec.md §4.8, §4.11 layout listing).
const StatePath = ".compaction-state.json"

// Config tunes when a namespace has enough candidate files to trigger a
// job (spec.md §6 "Compaction scheduler: {minFiles, maxFiles, targetSize,
// windowMs}").
type Config struct {
	MinFiles   int
	MaxFiles   int
	TargetSize int64
	WindowMs   int64
}

func (c Config) withDefaults() Config {
	if c.MinFiles <= 0 {
		c.MinFiles = 4
	}

	if c.MaxFiles <= 0 {
		c.MaxFiles = 32
	}

	return c
}

// Scheduler manages compaction jobs over an [objectstore.ObjectStore],
// merging files with codec.
type Scheduler struct {
	store objectstore.ObjectStore
	codec columnar.Codec
	cfg   Config
	clock func() int64

	mu sync.Mutex
}

// New returns a Scheduler over store, encoding/decoding files with codec.
func New(store objectstore.ObjectStore, codec columnar.Codec, cfg Config, clock func() int64) *Scheduler {
	return &Scheduler{store: store, codec: codec, cfg: cfg.withDefaults(), clock: clock}
}

func (s *Scheduler) loadState(ctx context.Context) (jobState, error) {
	data, err := s.store.Read(ctx, StatePath)
	if objectstore.IsNotFound(err) {
		return jobState{}, nil
	}

	if err != nil {
		return jobState{}, fmt.Errorf("compaction: load state: %w", err)
	}

	var st jobState
	if err := json.Unmarshal(data, &st); err != nil {
		return jobState{}, fmt.Errorf("compaction: decode state: %w", err)
	}

	return st, nil
}

func (s *Scheduler) saveState(ctx context.Context, st jobState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("compaction: encode state: %w", err)
	}

	if err := s.store.WriteAtomic(ctx, StatePath, data); err != nil {
		return fmt.Errorf("compaction: save state: %w", err)
	}

	return nil
}

// Summary is the "status" operation's response.
type Summary struct {
	Counts map[JobStatus]int
	Recent []*Job
}

// Status summarizes job counts by state and the most recently created jobs.
func (s *Scheduler) Status(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadState(ctx)
	if err != nil {
		return Summary{}, err
	}

	counts := map[JobStatus]int{}
	for _, j := range st.Jobs {
		counts[j.Status]++
	}

	recent := append([]*Job(nil), st.Jobs...)
	sort.Slice(recent, func(i, j int) bool { return recent[i].CreatedAt > recent[j].CreatedAt })

	if len(recent) > 20 {
		recent = recent[:20]
	}

	return Summary{Counts: counts, Recent: recent}, nil
}

// TriggerResult reports what [Scheduler.Trigger] found and scheduled.
type TriggerResult struct {
	JobsCreated []*Job
	NothingToDo bool
}

// Trigger scans data/<ns>/*.parquet (or every namespace under data/ when
// ns == ""), excluding already-compacted outputs, and forms one job per
// namespace with enough candidate files.
func (s *Scheduler) Trigger(ctx context.Context, ns string) (TriggerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadState(ctx)
	if err != nil {
		return TriggerResult{}, err
	}

	namespaces := []string{ns}
	if ns == "" {
		namespaces, err = s.listNamespaces(ctx)
		if err != nil {
			return TriggerResult{}, err
		}
	}

	var created []*Job

	now := s.clock()

	for _, namespace := range namespaces {
		files, err := s.candidateFiles(ctx, namespace)
		if err != nil {
			return TriggerResult{}, err
		}

		if len(files) < s.cfg.MinFiles {
			continue
		}

		if len(files) > s.cfg.MaxFiles {
			files = files[:s.cfg.MaxFiles]
		}

		job := &Job{
			ID:        fmt.Sprintf("job-%d-%s", now, namespace),
			Namespace: namespace,
			Files:     files,
			Status:    StatusPending,
			CreatedAt: now,
		}

		st.Jobs = append(st.Jobs, job)
		created = append(created, job)
	}

	if len(created) == 0 {
		return TriggerResult{NothingToDo: true}, nil
	}

	if err := s.saveState(ctx, st); err != nil {
		return TriggerResult{}, err
	}

	return TriggerResult{JobsCreated: created}, nil
}

func (s *Scheduler) listNamespaces(ctx context.Context) ([]string, error) {
	page, err := s.store.List(ctx, "data/", "")
	if err != nil {
		return nil, fmt.Errorf("compaction: list namespaces: %w", err)
	}

	seen := map[string]bool{}

	var out []string

	for _, e := range page.Entries {
		rest := strings.TrimPrefix(e.Path, "data/")

		parts := strings.SplitN(rest, "/", 2)
		if len(parts) < 2 || parts[0] == "" {
			continue
		}

		if !seen[parts[0]] {
			seen[parts[0]] = true

			out = append(out, parts[0])
		}
	}

	sort.Strings(out)

	return out, nil
}

// candidateFiles lists data/<ns>/*.parquet paths eligible for compaction:
// real parquet files that are not themselves a prior compaction output.
func (s *Scheduler) candidateFiles(ctx context.Context, ns string) ([]string, error) {
	prefix := "data/" + ns + "/"

	var files []string

	token := ""

	for {
		page, err := s.store.List(ctx, prefix, token)
		if err != nil {
			return nil, fmt.Errorf("compaction: list %s: %w", prefix, err)
		}

		for _, e := range page.Entries {
			name := path.Base(e.Path)
			if !strings.HasSuffix(name, ".parquet") {
				continue
			}

			if strings.HasPrefix(name, "compacted-") {
				continue
			}

			files = append(files, e.Path)
		}

		if page.NextToken == "" {
			break
		}

		token = page.NextToken
	}

	sort.Strings(files)

	return files, nil
}

// Retry flips a failed job back to pending and clears its error
// (spec.md §4.8 "retry requires the current state to be failed").
func (s *Scheduler) Retry(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadState(ctx)
	if err != nil {
		return err
	}

	job := findJob(st.Jobs, jobID)
	if job == nil {
		return &domainerr.Error{Kind: domainerr.ErrNotFound, ID: jobID}
	}

	if job.Status != StatusFailed {
		return &domainerr.Error{Kind: domainerr.ErrValidation, ID: jobID, Err: fmt.Errorf("job is %s, not failed", job.Status)}
	}

	job.Status = StatusPending
	job.Error = ""

	return s.saveState(ctx, st)
}

func findJob(jobs []*Job, id string) *Job {
	for _, j := range jobs {
		if j.ID == id {
			return j
		}
	}

	return nil
}

// RunJob executes a pending job: reads its input files, merges rows,
// writes a compacted output and metadata snapshot, then deletes the
// originals. Event/row identity is preserved - every distinct row id read
// is present exactly once in the output; a row repeating an id already
// seen is dropped, and rows without an id are all kept (spec.md §4.8,
// invariant 8).
func (s *Scheduler) RunJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	st, err := s.loadState(ctx)
	if err != nil {
		s.mu.Unlock()

		return err
	}

	job := findJob(st.Jobs, jobID)
	if job == nil {
		s.mu.Unlock()

		return &domainerr.Error{Kind: domainerr.ErrNotFound, ID: jobID}
	}

	if job.Status != StatusPending {
		err := &domainerr.Error{Kind: domainerr.ErrValidation, ID: jobID, Err: fmt.Errorf("job is %s, not pending", job.Status)}
		s.mu.Unlock()

		return err
	}

	job.Status = StatusProcessing

	if err := s.saveState(ctx, st); err != nil {
		s.mu.Unlock()

		return err
	}

	s.mu.Unlock()

	mergeErr := s.runJobLocked(ctx, job)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err = s.loadState(ctx)
	if err != nil {
		return err
	}

	job = findJob(st.Jobs, jobID)
	if job == nil {
		return &domainerr.Error{Kind: domainerr.ErrNotFound, ID: jobID}
	}

	if mergeErr != nil {
		job.Status = StatusFailed
		job.Error = mergeErr.Error()
	} else {
		job.Status = StatusCompleted
		job.Error = ""
	}

	if err := s.saveState(ctx, st); err != nil {
		return err
	}

	return mergeErr
}

func (s *Scheduler) runJobLocked(ctx context.Context, job *Job) error {
	var rows []columnar.Row

	seen := map[string]bool{}

	for _, file := range job.Files {
		data, err := s.store.Read(ctx, file)
		if err != nil {
			return fmt.Errorf("compaction: read %s: %w", file, err)
		}

		decoded, err := s.codec.Decode(ctx, data)
		if err != nil {
			return fmt.Errorf("compaction: decode %s: %w", file, err)
		}

		for _, r := range decoded {
			if idVal, ok := r["id"]; ok && idVal != nil {
				id := fmt.Sprintf("%v", idVal)
				if seen[id] {
					continue
				}

				seen[id] = true
			}

			rows = append(rows, r)
		}
	}

	now := s.clock()

	encoded, _, err := s.codec.Encode(ctx, rows)
	if err != nil {
		return fmt.Errorf("compaction: encode merged rows: %w", err)
	}

	outPath := fmt.Sprintf("data/%s/compacted-%d.parquet", job.Namespace, now)

	if err := s.store.WriteAtomic(ctx, outPath, encoded); err != nil {
		return fmt.Errorf("compaction: write %s: %w", outPath, err)
	}

	if err := s.writeMetadataSnapshot(ctx, job, outPath, now); err != nil {
		return err
	}

	for _, file := range job.Files {
		if err := s.store.Delete(ctx, file); err != nil && !objectstore.IsNotFound(err) {
			return fmt.Errorf("compaction: delete %s: %w", file, err)
		}
	}

	return nil
}

type compactionSnapshot struct {
	Operation  string   `json:"operation"`
	Namespace  string   `json:"namespace"`
	InputFiles []string `json:"inputFiles"`
	OutputFile string   `json:"outputFile"`
	CreatedAt  int64    `json:"createdAt"`
}

func (s *Scheduler) writeMetadataSnapshot(ctx context.Context, job *Job, outPath string, now int64) error {
	snap := compactionSnapshot{
		Operation:  "overwrite",
		Namespace:  job.Namespace,
		InputFiles: job.Files,
		OutputFile: outPath,
		CreatedAt:  now,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("compaction: encode snapshot: %w", err)
	}

	snapPath := fmt.Sprintf("data/%s/compacted-%d.metadata.json", job.Namespace, now)

	if err := s.store.WriteAtomic(ctx, snapPath, data); err != nil {
		return fmt.Errorf("compaction: write snapshot %s: %w", snapPath, err)
	}

	return nil
}

// CleanupResult is the "cleanup" operation's response.
type CleanupResult struct {
	Orphans []string
	Deleted bool
}

// Cleanup lists orphan *.tmp and *.partial.parquet files under data/,
// deleting them only when force is true (spec.md §4.8 "cleanup [--force]").
func (s *Scheduler) Cleanup(ctx context.Context, force bool) (CleanupResult, error) {
	var orphans []string

	token := ""

	for {
		page, err := s.store.List(ctx, "data/", token)
		if err != nil {
			return CleanupResult{}, fmt.Errorf("compaction: list for cleanup: %w", err)
		}

		for _, e := range page.Entries {
			name := path.Base(e.Path)
			if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".partial.parquet") {
				orphans = append(orphans, e.Path)
			}
		}

		if page.NextToken == "" {
			break
		}

		token = page.NextToken
	}

	if !force {
		return CleanupResult{Orphans: orphans}, nil
	}

	for _, o := range orphans {
		if err := s.store.Delete(ctx, o); err != nil && !objectstore.IsNotFound(err) {
			return CleanupResult{}, fmt.Errorf("compaction: delete orphan %s: %w", o, err)
		}
	}

	return CleanupResult{Orphans: orphans, Deleted: true}, nil
}
