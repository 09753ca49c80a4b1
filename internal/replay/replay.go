// Package replay folds the event stream to entity state (spec.md §4.3).
//
// Three strategies share one merge rule: forward from nothing, backward
// from a known current state, and snapshot-accelerated forward from the
// nearest prior snapshot. All three must agree bit-for-bit (spec.md §8
// property 2), so forwardFrom (with [merge]) and [Backward] are the only
// places state is actually touched.
package replay

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/parquedb/parquedb/internal/eventlog"
)

// Doc is a decoded entity body, keyed by field name. A present key with a
// nil value is an explicit JSON null; an absent key is "never set" -
// these are distinct per spec.md §3.
type Doc map[string]any

// unsetMarkerKey is this package's wire convention for a field removed by
// an $unset operator: distinct from explicit null. The entity backend
// (internal/entitystore), which expands $set/$unset/$inc into an event's
// `after` body (spec.md §4.4, §4.7), emits this shape for every removed
// field; nothing else in the system produces or consumes it.
const unsetMarkerKey = "$$unset"

func isUnsetMarker(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}

	marker, ok := m[unsetMarkerKey]

	return ok && marker == true
}

// Result is the outcome of a replay pass.
type Result struct {
	Existed        bool
	State          Doc
	EventsReplayed int
	SnapshotUsedAt int64
	SnapshotsUsed  int
}

// Snapshot is a point-in-time materialization of an entity, used to
// short-circuit replay (spec.md §3 "Snapshot", §4.3 snapshot-accelerated
// replay).
type Snapshot struct {
	ID             string
	Ns             string
	EntityID       string
	SequenceNumber int64
	CreatedAt      int64
	State          Doc
	Compressed     bool
}

func decodeBody(raw json.RawMessage) (Doc, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var d Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("replay: decode event body: %w", err)
	}

	return d, nil
}

// merge deep-merges patch atop base, honoring the unset marker. base may
// be nil (first write). Neither argument is mutated.
func merge(base, patch Doc) Doc {
	out := make(Doc, len(base)+len(patch))

	for k, v := range base {
		out[k] = v
	}

	for k, v := range patch {
		if isUnsetMarker(v) {
			delete(out, k)
			continue
		}

		if nested, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				out[k] = merge(Doc(existing), Doc(nested))
				continue
			}
		}

		out[k] = v
	}

	return out
}

// Forward folds events (assumed already sorted into (ts, id) order, or
// sorted here defensively) onto an initial state of nil, per spec.md
// §4.3's forward-replay rule.
func Forward(events []eventlog.Event) (Result, error) {
	return forwardFrom(nil, events)
}

func forwardFrom(state Doc, events []eventlog.Event) (Result, error) {
	sorted := append([]eventlog.Event(nil), events...)
	eventlog.SortEvents(sorted)

	existed := state != nil
	replayed := 0

	for _, e := range sorted {
		after, err := decodeBody(e.After)
		if err != nil {
			return Result{}, err
		}

		switch e.Op {
		case eventlog.OpCreate:
			state = after
			existed = true
		case eventlog.OpUpdate:
			state = merge(state, after)
			existed = true
		case eventlog.OpDelete:
			state = nil
			existed = false
		}

		replayed++
	}

	return Result{Existed: existed, State: state, EventsReplayed: replayed}, nil
}

// Backward inverts events in (at, currentTs] applied in reverse order,
// starting from currentState. Chosen by the caller when it processes
// fewer events than a full forward replay would (spec.md §4.3).
func Backward(currentState Doc, events []eventlog.Event) (Result, error) {
	sorted := append([]eventlog.Event(nil), events...)
	eventlog.SortEvents(sorted)

	state := currentState
	existed := state != nil
	replayed := 0

	for i := len(sorted) - 1; i >= 0; i-- {
		e := sorted[i]

		before, err := decodeBody(e.Before)
		if err != nil {
			return Result{}, err
		}

		switch e.Op {
		case eventlog.OpCreate:
			state = nil
			existed = false
		case eventlog.OpUpdate:
			state = before
			existed = true
		case eventlog.OpDelete:
			state = before
			existed = true
		}

		replayed++
	}

	return Result{Existed: existed, State: state, EventsReplayed: replayed}, nil
}

// SnapshotAccelerated picks the latest snapshot with SequenceNumber <= at
// and replays events in (snapshot, at] forward atop it. If snapshots is
// empty, it degrades to [Forward] over events.
func SnapshotAccelerated(snapshots []Snapshot, events []eventlog.Event, at int64) (Result, error) {
	var best *Snapshot

	for i := range snapshots {
		s := &snapshots[i]
		if s.SequenceNumber > at {
			continue
		}

		if best == nil || s.SequenceNumber > best.SequenceNumber {
			best = s
		}
	}

	if best == nil {
		res, err := Forward(eventsUpTo(events, at))
		if err != nil {
			return Result{}, err
		}

		return res, nil
	}

	tail := eventsInRange(events, best.SequenceNumber, at)

	res, err := forwardFrom(cloneDoc(best.State), tail)
	if err != nil {
		return Result{}, err
	}

	res.SnapshotUsedAt = best.SequenceNumber
	res.SnapshotsUsed = 1

	return res, nil
}

func cloneDoc(d Doc) Doc {
	if d == nil {
		return nil
	}

	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = v
	}

	return out
}

func eventsUpTo(events []eventlog.Event, at int64) []eventlog.Event {
	var out []eventlog.Event

	for _, e := range events {
		if e.TS <= at {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return eventlog.Less(out[i], out[j]) })

	return out
}

func eventsInRange(events []eventlog.Event, after, at int64) []eventlog.Event {
	var out []eventlog.Event

	for _, e := range events {
		if e.TS > after && e.TS <= at {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return eventlog.Less(out[i], out[j]) })

	return out
}
