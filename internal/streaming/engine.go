package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/internal/entitystore"
	"github.com/parquedb/parquedb/internal/eventlog"
	"github.com/parquedb/parquedb/internal/filter"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

// Engine hosts running [View]s, wiring each one's output to an
// [entitystore.EntityBackend] collection and, optionally, a
// time-partitioned Parquet dataset under an [objectstore.ObjectStore].
type Engine struct {
	backend entitystore.EntityBackend
	store   objectstore.ObjectStore
	codec   columnar.Codec
	clock   func() int64
}

// NewEngine returns an Engine writing view output into backend and, when
// persistence is enabled on a view, encoding buffered rows with codec
// into store.
func NewEngine(backend entitystore.EntityBackend, store objectstore.ObjectStore, codec columnar.Codec, clock func() int64) *Engine {
	if clock == nil {
		clock = func() int64 { return time.Now().UnixMilli() }
	}

	return &Engine{backend: backend, store: store, codec: codec, clock: clock}
}

// PersistOptions configures a view's time-partitioned dataset output
// (spec.md §4.10 "optionally persist to a Parquet dataset"). Zero value
// disables persistence.
type PersistOptions struct {
	Enabled        bool
	FlushThreshold int // rows buffered before an automatic flush
	DatasetPrefix  string
}

// View is one running materialized view.
type View struct {
	engine  *Engine
	def     Definition
	persist PersistOptions

	mu       sync.Mutex
	windows  map[windowKey]map[string]*aggState
	sessions map[string][]sessionSpan // groupKey -> open sessions
	seen     []string                 // bounded recent event-id ring, dedup guard
	seenSet  map[string]bool
	watermarkMs int64
	buffer   []columnar.Row
}

type sessionSpan struct {
	start, end int64
	agg        *aggState
}

const seenCap = 4096

// RegisterView starts a new view. Call [View.Ingest] with each flushed
// batch (directly, or via [View.OnFlush] against a live
// [eventlog.Writer]) to feed it events.
func (e *Engine) RegisterView(def Definition, persist PersistOptions) *View {
	def = def.withDefaults()

	return &View{
		engine:   e,
		def:      def,
		persist:  persist,
		windows:  map[windowKey]map[string]*aggState{},
		sessions: map[string][]sessionSpan{},
		seenSet:  map[string]bool{},
	}
}

// OnFlush returns a [eventlog.FlushHandler] suitable for
// [eventlog.Writer.OnFlush], feeding every flushed batch into v.
func (v *View) OnFlush() eventlog.FlushHandler {
	return func(ctx context.Context, batch eventlog.FlushedBatch) {
		_ = v.Ingest(ctx, batch.Events)
	}
}

// Ingest processes one deduplicated, time-ordered batch of events
// (spec.md §4.10 "MV handlers that receive deduplicated, time-ordered
// event batches").
func (v *View) Ingest(ctx context.Context, events []eventlog.Event) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	ordered := append([]eventlog.Event(nil), events...)
	eventlog.SortEvents(ordered)

	for _, ev := range ordered {
		if v.markSeen(ev.ID) {
			continue
		}

		if !v.matches(ev) {
			continue
		}

		if ev.TS > v.watermarkMs {
			v.watermarkMs = ev.TS
		}

		late := v.watermarkMs-v.def.Watermark.MaxLatenessMs > ev.TS

		if late {
			switch v.def.Watermark.LateEventPolicy {
			case LateEventDrop:
				continue
			case LateEventSideOutput:
				if err := v.writeSideOutput(ctx, ev); err != nil {
					return err
				}

				continue
			}
			// LateEventUpdate falls through to normal processing below.
		}

		if err := v.apply(ctx, ev); err != nil {
			return err
		}
	}

	return nil
}

// markSeen reports whether id has already been processed by this view,
// recording it if not. The ring is bounded: ParqueDB never re-delivers a
// flushed batch, so this only guards against a caller replaying history
// into an already-running view.
func (v *View) markSeen(id string) bool {
	if v.seenSet[id] {
		return true
	}

	v.seenSet[id] = true
	v.seen = append(v.seen, id)

	if len(v.seen) > seenCap {
		drop := v.seen[0]
		v.seen = v.seen[1:]
		delete(v.seenSet, drop)
	}

	return false
}

func (v *View) matches(ev eventlog.Event) bool {
	if !v.def.Source.acceptsOp(ev.Op) {
		return false
	}

	ns, _, err := splitTarget(ev.Target)
	if err != nil || ns != v.def.Source.Collection {
		return false
	}

	if v.def.Source.Filter == nil {
		return true
	}

	doc, ok := decodeDoc(ev.After)
	if !ok {
		doc, ok = decodeDoc(ev.Before)
		if !ok {
			return false
		}
	}

	return filter.Match(doc, v.def.Source.Filter)
}

func splitTarget(target string) (ns, id string, err error) {
	idx := strings.IndexByte(target, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("streaming: malformed target %q", target)
	}

	return target[:idx], target[idx+1:], nil
}

func decodeDoc(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}

	return doc, true
}

func (v *View) apply(ctx context.Context, ev eventlog.Event) error {
	doc, _ := decodeDoc(ev.After)
	if doc == nil {
		doc, _ = decodeDoc(ev.Before)
	}

	groupKey := ""
	if v.def.Transform.GroupBy != "" && doc != nil {
		groupKey = fmt.Sprintf("%v", doc[v.def.Transform.GroupBy])
	}

	if v.def.Window.Kind == WindowSession {
		return v.applySession(ctx, ev, doc, groupKey)
	}

	for _, key := range windowBounds(v.def.Window, ev.TS) {
		groups, ok := v.windows[key]
		if !ok {
			groups = map[string]*aggState{}
			v.windows[key] = groups
		}

		agg, ok := groups[groupKey]
		if !ok {
			agg = &aggState{}
			groups[groupKey] = agg
		}

		v.observe(agg, doc)

		if err := v.emit(ctx, key, groupKey, agg); err != nil {
			return err
		}
	}

	return nil
}

func (v *View) applySession(ctx context.Context, ev eventlog.Event, doc map[string]any, groupKey string) error {
	spans := v.sessions[groupKey]

	for i := range spans {
		if ev.TS-spans[i].end <= v.def.Window.GapMs && ev.TS >= spans[i].start {
			spans[i].end = ev.TS
			v.observe(spans[i].agg, doc)

			return v.emit(ctx, windowKey{start: spans[i].start, end: spans[i].end}, groupKey, spans[i].agg)
		}
	}

	span := sessionSpan{start: ev.TS, end: ev.TS, agg: &aggState{}}
	v.observe(span.agg, doc)
	v.sessions[groupKey] = append(spans, span)

	return v.emit(ctx, windowKey{start: span.start, end: span.end}, groupKey, span.agg)
}

func (v *View) observe(agg *aggState, doc map[string]any) {
	if v.def.Transform.Builtin == "" || v.def.Transform.Builtin == AggCount {
		agg.observe(0)

		return
	}

	val := 0.0
	if doc != nil {
		if n, ok := numeric(doc[v.def.Transform.Field]); ok {
			val = n
		}
	}

	agg.observe(val)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func (v *View) emit(ctx context.Context, key windowKey, groupKey string, agg *aggState) error {
	row := columnar.Row{
		"windowStart": key.start,
		"windowEnd":   key.end,
		"group":       groupKey,
		"value":       agg.value(v.def.Transform.Builtin),
		"count":       agg.count,
	}

	id := fmt.Sprintf("%d-%d-%s", key.start, key.end, groupKey)

	if err := v.upsert(ctx, id, row); err != nil {
		return err
	}

	if v.persist.Enabled {
		v.buffer = append(v.buffer, row)

		threshold := v.persist.FlushThreshold
		if threshold <= 0 {
			threshold = 100
		}

		if len(v.buffer) >= threshold {
			return v.flushLocked(ctx)
		}
	}

	return nil
}

func (v *View) upsert(ctx context.Context, id string, row columnar.Row) error {
	body := map[string]any(row)

	if _, err := v.engine.backend.Get(ctx, v.def.Output.Collection, id, false); err == nil {
		ops := make([]entitystore.UpdateOp, 0, len(body))
		for k, val := range body {
			ops = append(ops, entitystore.UpdateOp{Kind: entitystore.OpSet, Field: k, Value: val})
		}

		_, err := v.engine.backend.Update(ctx, v.def.Output.Collection, id, ops, entitystore.UpdateOptions{})

		return err
	}

	_, err := v.engine.backend.Create(ctx, v.def.Output.Collection, body, entitystore.CreateOptions{ID: id})

	return err
}

func (v *View) writeSideOutput(ctx context.Context, ev eventlog.Event) error {
	collection := v.def.Watermark.SideOutputCollection
	if collection == "" {
		collection = v.def.Output.Collection + "_late"
	}

	_, err := v.engine.backend.Create(ctx, collection, map[string]any{
		"eventId": ev.ID,
		"ts":      ev.TS,
		"target":  ev.Target,
	}, entitystore.CreateOptions{})

	return err
}

// Flush persists any buffered rows to the view's time-partitioned
// Parquet dataset now, regardless of threshold.
func (v *View) Flush(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.flushLocked(ctx)
}

func (v *View) flushLocked(ctx context.Context) error {
	if len(v.buffer) == 0 {
		return nil
	}

	now := v.engine.clock()

	data, _, err := v.engine.codec.Encode(ctx, v.buffer)
	if err != nil {
		return fmt.Errorf("streaming: encode buffer: %w", err)
	}

	path := datasetPath(v.persist.DatasetPrefix, now)

	if err := v.engine.store.WriteAtomic(ctx, path, data); err != nil {
		// On write failure the buffer is restored (spec.md §4.10) - it is
		// already intact since we have not cleared it yet.
		return fmt.Errorf("streaming: write dataset %s: %w", path, err)
	}

	v.buffer = nil

	return nil
}

func datasetPath(prefix string, ms int64) string {
	t := time.UnixMilli(ms).UTC()

	if prefix == "" {
		prefix = "views"
	}

	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/hour=%02d/errors-%d.parquet",
		prefix, t.Year(), t.Month(), t.Day(), t.Hour(), ms)
}

// Stop flushes any remaining buffered data (spec.md §4.10 "stop flushes
// remaining data").
func (v *View) Stop(ctx context.Context) error {
	return v.Flush(ctx)
}
