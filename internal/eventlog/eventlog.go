package eventlog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

// EventLog is the read/query surface over a [Writer]'s buffered events and
// its flushed columnar batches (spec.md §4.2).
type EventLog struct {
	writer *Writer
	source *BatchEventSource
}

// NewEventLog pairs writer with a [BatchEventSource] reading the same
// store/codec for historical batches.
func NewEventLog(writer *Writer, store objectstore.ObjectStore, codec columnar.Codec) *EventLog {
	return &EventLog{writer: writer, source: NewBatchEventSource(store, codec)}
}

// Append delegates to the writer.
func (l *EventLog) Append(ctx context.Context, e Event) error {
	return l.writer.Append(ctx, e)
}

// AppendMany delegates to the writer.
func (l *EventLog) AppendMany(ctx context.Context, events []Event) error {
	return l.writer.AppendMany(ctx, events)
}

// GetEvents returns every event for entityID (in "ns/id" form), optionally
// bounded by [minTS, maxTS] (0 means unbounded on that side).
func (l *EventLog) GetEvents(ctx context.Context, entityID string, minTS, maxTS int64) ([]Event, error) {
	target, err := TargetFromEntityID(entityID)
	if err != nil {
		return nil, err
	}

	events, err := l.source.Scan(ctx, minTS, maxTS)
	if err != nil {
		return nil, err
	}

	out := events[:0:0]

	for _, e := range events {
		if e.Target == target {
			out = append(out, e)
		}
	}

	return out, nil
}

// GetEventsInRange returns every event with ts in [minTS, maxTS].
func (l *EventLog) GetEventsInRange(ctx context.Context, minTS, maxTS int64) ([]Event, error) {
	return l.source.Scan(ctx, minTS, maxTS)
}

// GetEventsByOp returns every event of the given op across all time.
func (l *EventLog) GetEventsByOp(ctx context.Context, op Op) ([]Event, error) {
	events, err := l.source.Scan(ctx, 0, 0)
	if err != nil {
		return nil, err
	}

	out := events[:0:0]

	for _, e := range events {
		if e.Op == op {
			out = append(out, e)
		}
	}

	return out, nil
}

// GetHistory returns entityID's events in replay order, ready for
// [replay.Forward]/[replay.Backward].
func (l *EventLog) GetHistory(ctx context.Context, entityID string) ([]Event, error) {
	events, err := l.GetEvents(ctx, entityID, 0, 0)
	if err != nil {
		return nil, err
	}

	SortEvents(events)

	return events, nil
}

// BatchEventSource reads flushed columnar batches in (ts, id) order,
// using each batch's (minTS, maxTS) file stats to skip files outside the
// requested range (spec.md §4.2).
type BatchEventSource struct {
	store objectstore.ObjectStore
	codec columnar.Codec
}

// NewBatchEventSource returns a source reading batch files under "events/"
// in store.
func NewBatchEventSource(store objectstore.ObjectStore, codec columnar.Codec) *BatchEventSource {
	return &BatchEventSource{store: store, codec: codec}
}

// Scan reads every event in [minTS, maxTS] (0, 0 means unbounded) across
// all batch files, skipping files whose stats cannot overlap the range.
func (s *BatchEventSource) Scan(ctx context.Context, minTS, maxTS int64) ([]Event, error) {
	paths, err := s.listBatchPaths(ctx)
	if err != nil {
		return nil, err
	}

	var all []Event

	for _, path := range paths {
		data, err := s.store.Read(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("eventlog: read batch %s: %w", path, err)
		}

		stats, err := s.codec.StatsOf(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("eventlog: stats for batch %s: %w", path, err)
		}

		if !batchCanMatch(stats, minTS, maxTS) {
			continue
		}

		rows, err := s.codec.Decode(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("eventlog: decode batch %s: %w", path, err)
		}

		for _, r := range rows {
			e, err := rowToEvent(r)
			if err != nil {
				return nil, err
			}

			if withinRange(e.TS, minTS, maxTS) {
				all = append(all, e)
			}
		}
	}

	SortEvents(all)

	return all, nil
}

func batchCanMatch(stats columnar.FileStats, minTS, maxTS int64) bool {
	if maxTS != 0 && stats.MinTS > maxTS {
		return false
	}

	if minTS != 0 && stats.MaxTS < minTS {
		return false
	}

	return true
}

func withinRange(ts, minTS, maxTS int64) bool {
	if minTS != 0 && ts < minTS {
		return false
	}

	if maxTS != 0 && ts > maxTS {
		return false
	}

	return true
}

func (s *BatchEventSource) listBatchPaths(ctx context.Context) ([]string, error) {
	var paths []string

	token := ""

	for {
		page, err := s.store.List(ctx, "events/", token)
		if err != nil {
			return nil, err
		}

		for _, entry := range page.Entries {
			if strings.HasSuffix(entry.Path, ".parquet") {
				paths = append(paths, entry.Path)
			}
		}

		if page.NextToken == "" {
			break
		}

		token = page.NextToken
	}

	sort.Strings(paths)

	return paths, nil
}
