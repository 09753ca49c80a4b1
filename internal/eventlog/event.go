// Package eventlog implements the append-only event record of every
// mutation (spec.md §4.2), its WAL-backed durability, and the columnar
// batch files it flushes into.
package eventlog

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Op is the mutation kind recorded by an [Event].
type Op uint8

const (
	OpCreate Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "CREATE"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders Op using its canonical string form.
func (o Op) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON parses Op from its canonical string form.
func (o *Op) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "CREATE":
		*o = OpCreate
	case "UPDATE":
		*o = OpUpdate
	case "DELETE":
		*o = OpDelete
	default:
		return fmt.Errorf("eventlog: unknown op %q", s)
	}

	return nil
}

// Event is an immutable record of a single entity mutation.
//
// Target is always in "ns:id" wire form - never "ns/id" (the entity-id
// form). This is a tested invariant (spec.md §3, §8 property 6); callers
// constructing Events must go through [TargetFromEntityID].
type Event struct {
	ID     string          `json:"id"`
	TS     int64           `json:"ts"`
	Op     Op              `json:"op"`
	Target string          `json:"target"`
	Actor  string          `json:"actor,omitempty"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

// NewID returns a new lexicographically sortable event id for ts (millis
// since epoch). ULIDs encode the timestamp in their high bits so ids
// naturally sort by (ts, random) - exactly the spec.md §3 tiebreak rule.
func NewID(ts int64) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)

	id, err := ulid.New(ulid.Timestamp(msToTime(ts)), entropy)
	if err != nil {
		return "", fmt.Errorf("eventlog: new id: %w", err)
	}

	return id.String(), nil
}

// TargetFromEntityID converts an entity id in "ns/id" form to the wire
// "ns:id" form used by [Event.Target]. Returns an error if id is not in
// the expected "ns/id" shape, enforcing the format-discipline invariant
// at the boundary rather than downstream.
func TargetFromEntityID(entityID string) (string, error) {
	ns, local, ok := strings.Cut(entityID, "/")
	if !ok || ns == "" || local == "" {
		return "", fmt.Errorf("eventlog: invalid entity id %q: want ns/id", entityID)
	}

	return ns + ":" + local, nil
}

// EntityIDFromTarget converts an event target in "ns:id" wire form back to
// the canonical "ns/id" entity-id form.
func EntityIDFromTarget(target string) (string, error) {
	ns, local, ok := strings.Cut(target, ":")
	if !ok || ns == "" || local == "" {
		return "", fmt.Errorf("eventlog: invalid target %q: want ns:id", target)
	}

	return ns + "/" + local, nil
}

// Less implements the (ts, id) total order used for replay and scanning
// (spec.md §3: "events sort stably by (ts, id) with id as lexicographic
// tiebreak").
func Less(a, b Event) bool {
	if a.TS != b.TS {
		return a.TS < b.TS
	}

	return a.ID < b.ID
}

// SortEvents sorts events in place by the (ts, id) total order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool { return Less(events[i], events[j]) })
}
