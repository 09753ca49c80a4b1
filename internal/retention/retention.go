// Package retention enforces per-granularity time-to-live cleanup over a
// target collection (spec.md §4.9).
package retention

import (
	"context"
	"fmt"

	"github.com/parquedb/parquedb/internal/entitystore"
	"github.com/parquedb/parquedb/internal/filter"
)

// knownGranularities are the explicit policy buckets spec.md §4.9 names;
// any granularity value not among these falls under the "default" policy.
var knownGranularities = []string{"hourly", "daily", "monthly"}

// Policy is one granularity's time-to-live.
type Policy struct {
	MaxAgeMs int64
}

// Config configures a [Manager].
type Config struct {
	Collection       string
	TimestampField   string // default "timestamp"
	GranularityField string // default "granularity"
	Policies         map[string]Policy // "hourly"|"daily"|"monthly"|"default"
	BatchSize        int               // default 500
}

func (c Config) withDefaults() Config {
	if c.TimestampField == "" {
		c.TimestampField = "timestamp"
	}

	if c.GranularityField == "" {
		c.GranularityField = "granularity"
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}

	return c
}

// Manager runs retention sweeps over one collection.
type Manager struct {
	backend entitystore.EntityBackend
	cfg     Config
	clock   func() int64
}

// New returns a retention Manager over backend.
func New(backend entitystore.EntityBackend, cfg Config, clock func() int64) *Manager {
	return &Manager{backend: backend, cfg: cfg.withDefaults(), clock: clock}
}

// Progress reports sweep progress (spec.md §4.9 "{phase, percentage,
// processed, total}").
type Progress struct {
	Phase      string
	Percentage int
	Processed  int
	Total      int
}

// Result summarizes a completed sweep (spec.md §4.9 "cleanup(progressCb?)").
type Result struct {
	Success       bool
	DeletedCount  int
	ByGranularity map[string]int
	DurationMs    int64
}

// Cleanup deletes records older than their granularity's configured TTL,
// reporting progress through progressCb if non-nil.
func (m *Manager) Cleanup(ctx context.Context, progressCb func(Progress)) (Result, error) {
	now := m.clock()

	return m.sweep(ctx, func(granularity string) int64 {
		policy, ok := m.cfg.Policies[granularity]
		if !ok {
			return 0
		}

		return now - policy.MaxAgeMs
	}, progressCb)
}

// CleanupBefore deletes records across every configured granularity whose
// timestamp is before cutoff (spec.md §4.9 "cleanupBefore(cutoff)").
func (m *Manager) CleanupBefore(ctx context.Context, cutoff int64, progressCb func(Progress)) (Result, error) {
	return m.sweep(ctx, func(string) int64 { return cutoff }, progressCb)
}

func (m *Manager) sweep(ctx context.Context, cutoffFor func(granularity string) int64, progressCb func(Progress)) (Result, error) {
	start := m.clock()

	result := Result{ByGranularity: map[string]int{}}

	granularities := append([]string(nil), knownGranularities...)
	if _, ok := m.cfg.Policies["default"]; ok {
		granularities = append(granularities, "default")
	}

	for i, g := range granularities {
		if _, ok := m.cfg.Policies[g]; !ok {
			continue
		}

		cutoff := cutoffFor(g)

		deleted, err := m.deleteGranularity(ctx, g, cutoff, progressCb, i, len(granularities))
		if err != nil {
			return result, fmt.Errorf("retention: cleanup %s: %w", g, err)
		}

		result.ByGranularity[g] = deleted
		result.DeletedCount += deleted
	}

	if progressCb != nil {
		progressCb(Progress{Phase: "complete", Percentage: 100, Processed: result.DeletedCount, Total: result.DeletedCount})
	}

	result.Success = true
	result.DurationMs = m.clock() - start

	return result, nil
}

func (m *Manager) deleteGranularity(ctx context.Context, granularity string, cutoff int64, progressCb func(Progress), step, totalSteps int) (int, error) {
	f := m.granularityFilter(granularity, cutoff)

	deleted := 0

	for {
		batch, err := m.backend.Find(ctx, m.cfg.Collection, entitystore.FindOptions{Filter: f, Limit: m.cfg.BatchSize})
		if err != nil {
			return deleted, err
		}

		if len(batch) == 0 {
			break
		}

		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}

		if err := m.backend.BulkDelete(ctx, m.cfg.Collection, ids, entitystore.DeleteOptions{Hard: true}); err != nil {
			return deleted, err
		}

		deleted += len(ids)

		if progressCb != nil {
			pct := (step * 100) / max(totalSteps, 1)
			progressCb(Progress{Phase: "deleting:" + granularity, Percentage: pct, Processed: deleted, Total: deleted})
		}

		if len(batch) < m.cfg.BatchSize {
			break
		}
	}

	return deleted, nil
}

func (m *Manager) granularityFilter(granularity string, cutoff int64) filter.Filter {
	base := filter.Filter{m.cfg.TimestampField: map[string]any{string(filter.OpLt): cutoff}}

	if granularity == "default" {
		known := make([]any, len(knownGranularities))
		for i, g := range knownGranularities {
			known[i] = g
		}

		base[m.cfg.GranularityField] = map[string]any{string(filter.OpNin): known}

		return base
	}

	base[m.cfg.GranularityField] = granularity

	return base
}

// Stats is one granularity's population snapshot (spec.md §4.9
// "getRetentionStats()").
type Stats struct {
	Total               int
	EligibleForDeletion int
	OldestTimestamp     int64
}

// GetRetentionStats reports per-granularity totals, the count currently
// eligible for deletion under today's policies, and the oldest timestamp
// observed.
func (m *Manager) GetRetentionStats(ctx context.Context) (map[string]Stats, error) {
	now := m.clock()

	granularities := append([]string(nil), knownGranularities...)
	if _, ok := m.cfg.Policies["default"]; ok {
		granularities = append(granularities, "default")
	}

	out := map[string]Stats{}

	for _, g := range granularities {
		all, err := m.backend.Find(ctx, m.cfg.Collection, entitystore.FindOptions{
			Filter: m.granularityFilter(g, 1<<62),
		})
		if err != nil {
			return nil, fmt.Errorf("retention: stats %s: %w", g, err)
		}

		stats := Stats{Total: len(all)}

		if policy, ok := m.cfg.Policies[g]; ok {
			cutoff := now - policy.MaxAgeMs

			for _, e := range all {
				ts := timestampOf(e, m.cfg.TimestampField)

				if ts < cutoff {
					stats.EligibleForDeletion++
				}

				if stats.OldestTimestamp == 0 || ts < stats.OldestTimestamp {
					stats.OldestTimestamp = ts
				}
			}
		}

		out[g] = stats
	}

	return out, nil
}

func timestampOf(e entitystore.Entity, field string) int64 {
	v, ok := e.Body[field]
	if !ok {
		return 0
	}

	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
