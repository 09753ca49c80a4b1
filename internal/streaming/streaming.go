// Package streaming implements windowed materialized views over the
// event stream (spec.md §4.10, summarized).
//
// A [View] subscribes to a [eventlog.Writer]'s flushed batches (the same
// subscription surface internal/compaction and internal/retention have
// no equivalent of - the event log is the one place in ParqueDB that
// already delivers "what just changed" as a first-class callback), buckets
// matching events into windows, maintains aggregate state per window/group,
// and upserts the result into an output collection.
package streaming

import (
	"context"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/internal/eventlog"
	"github.com/parquedb/parquedb/internal/filter"
)

// WindowKind selects how events are bucketed before aggregation.
type WindowKind string

const (
	WindowGlobal   WindowKind = "global"
	WindowTumbling WindowKind = "tumbling"
	WindowSliding  WindowKind = "sliding"
	WindowSession  WindowKind = "session"
)

// Window configures the windowing strategy (spec.md §4.10).
type Window struct {
	Kind    WindowKind
	SizeMs  int64 // Tumbling, Sliding
	SlideMs int64 // Sliding
	GapMs   int64 // Session
}

func (w Window) withDefaults() Window {
	if w.Kind == "" {
		w.Kind = WindowGlobal
	}

	return w
}

// LateEventPolicy decides what happens to an event arriving after the
// watermark has already advanced past its window.
type LateEventPolicy string

const (
	LateEventDrop       LateEventPolicy = "drop"
	LateEventUpdate     LateEventPolicy = "update"
	LateEventSideOutput LateEventPolicy = "sideOutput"
)

// Watermark bounds how late an event may arrive before LateEventPolicy
// applies.
type Watermark struct {
	MaxLatenessMs        int64
	LateEventPolicy      LateEventPolicy
	SideOutputCollection string
}

func (w Watermark) withDefaults() Watermark {
	if w.LateEventPolicy == "" {
		w.LateEventPolicy = LateEventDrop
	}

	return w
}

// Source selects which events feed a view.
type Source struct {
	Collection    string
	Filter        filter.Filter
	EventTypes    []eventlog.Op
	StartPosition string // "latest" | "earliest"; recorded, not replayed by Engine
}

func (s Source) withDefaults() Source {
	if len(s.EventTypes) == 0 {
		s.EventTypes = []eventlog.Op{eventlog.OpCreate, eventlog.OpUpdate, eventlog.OpDelete}
	}

	if s.StartPosition == "" {
		s.StartPosition = "latest"
	}

	return s
}

func (s Source) acceptsOp(op eventlog.Op) bool {
	for _, t := range s.EventTypes {
		if t == op {
			return true
		}
	}

	return false
}

// BuiltinAgg is one of the built-in aggregation functions a [Transform]
// may use instead of a custom pipeline.
type BuiltinAgg string

const (
	AggCount BuiltinAgg = "count"
	AggSum   BuiltinAgg = "sum"
	AggAvg   BuiltinAgg = "avg"
	AggMin   BuiltinAgg = "min"
	AggMax   BuiltinAgg = "max"
)

// Pipeline is a custom transform over one window's ordered events,
// producing the output rows a view should upsert.
type Pipeline func(ctx context.Context, events []eventlog.Event) ([]columnar.Row, error)

// Transform describes how a window's events become output rows: a builtin
// aggregation over Field, grouped by GroupBy (empty GroupBy aggregates the
// whole window into one row). [Engine] evaluates only Builtin; a Pipeline
// set here is stored with the definition but never invoked.
type Transform struct {
	Pipeline Pipeline
	Builtin  BuiltinAgg
	Field    string
	GroupBy  string
}

// SinkMode selects how output rows are written.
type SinkMode string

const (
	SinkUpsert SinkMode = "upsert"
)

// Sink is a view's output collection.
type Sink struct {
	Collection string
	Mode       SinkMode
}

// Definition is a materialized view's complete configuration
// (spec.md §4.10).
type Definition struct {
	Name      string
	Source    Source
	Window    Window
	Transform Transform
	Output    Sink
	Watermark Watermark
}

func (d Definition) withDefaults() Definition {
	d.Source = d.Source.withDefaults()
	d.Window = d.Window.withDefaults()
	d.Watermark = d.Watermark.withDefaults()

	if d.Output.Collection == "" {
		d.Output.Collection = d.Name
	}

	if d.Output.Mode == "" {
		d.Output.Mode = SinkUpsert
	}

	return d
}
