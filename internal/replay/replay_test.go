package replay_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/parquedb/parquedb/internal/eventlog"
	"github.com/parquedb/parquedb/internal/replay"
)

func rawObj(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	return b
}

func Test_Forward_Replays_Create_Update_To_Latest_State(t *testing.T) {
	t.Parallel()

	events := []eventlog.Event{
		{ID: "1", TS: 1000, Op: eventlog.OpCreate, Target: "posts:p1", After: rawObj(t, map[string]any{"title": "V1"})},
		{ID: "2", TS: 2000, Op: eventlog.OpUpdate, Target: "posts:p1", After: rawObj(t, map[string]any{"title": "V2"})},
		{ID: "3", TS: 3000, Op: eventlog.OpUpdate, Target: "posts:p1", After: rawObj(t, map[string]any{"title": "V3"})},
	}

	res, err := replay.Forward(events)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if !res.Existed {
		t.Fatalf("existed = false, want true")
	}

	if res.State["title"] != "V3" {
		t.Fatalf("title = %v, want V3", res.State["title"])
	}

	if res.EventsReplayed != 3 {
		t.Fatalf("EventsReplayed = %d, want 3", res.EventsReplayed)
	}
}

func Test_Forward_Query_At_Intermediate_Timestamp(t *testing.T) {
	t.Parallel()

	all := []eventlog.Event{
		{ID: "1", TS: 1000, Op: eventlog.OpCreate, Target: "posts:p1", After: rawObj(t, map[string]any{"title": "V1"})},
		{ID: "2", TS: 2000, Op: eventlog.OpUpdate, Target: "posts:p1", After: rawObj(t, map[string]any{"title": "V2"})},
		{ID: "3", TS: 3000, Op: eventlog.OpUpdate, Target: "posts:p1", After: rawObj(t, map[string]any{"title": "V3"})},
	}

	var upTo2500 []eventlog.Event

	for _, e := range all {
		if e.TS <= 2500 {
			upTo2500 = append(upTo2500, e)
		}
	}

	res, err := replay.Forward(upTo2500)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if res.State["title"] != "V2" {
		t.Fatalf("title at t=2500 = %v, want V2", res.State["title"])
	}
}

func Test_Forward_Delete_Clears_State(t *testing.T) {
	t.Parallel()

	events := []eventlog.Event{
		{ID: "1", TS: 1000, Op: eventlog.OpCreate, Target: "posts:p1", After: rawObj(t, map[string]any{"title": "V1"})},
		{ID: "2", TS: 2000, Op: eventlog.OpDelete, Target: "posts:p1", Before: rawObj(t, map[string]any{"title": "V1"})},
	}

	res, err := replay.Forward(events)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if res.Existed {
		t.Fatalf("existed = true, want false after delete")
	}

	if res.State != nil {
		t.Fatalf("state = %v, want nil", res.State)
	}
}

func Test_Backward_Restores_Prior_State(t *testing.T) {
	t.Parallel()

	events := []eventlog.Event{
		{ID: "1", TS: 1000, Op: eventlog.OpCreate, Target: "posts:p1", After: rawObj(t, map[string]any{"title": "V1"})},
		{ID: "2", TS: 2000, Op: eventlog.OpUpdate, Target: "posts:p1", Before: rawObj(t, map[string]any{"title": "V1"}), After: rawObj(t, map[string]any{"title": "V2"})},
	}

	current := replay.Doc{"title": "V2"}

	res, err := replay.Backward(current, events[1:])
	if err != nil {
		t.Fatalf("backward: %v", err)
	}

	if res.State["title"] != "V1" {
		t.Fatalf("title = %v, want V1", res.State["title"])
	}
}

func Test_SnapshotAccelerated_Matches_Full_Forward_Replay(t *testing.T) {
	t.Parallel()

	var events []eventlog.Event

	events = append(events, eventlog.Event{
		ID: "e0", TS: 0, Op: eventlog.OpCreate, Target: "posts:p1",
		After: rawObj(t, map[string]any{"counter": float64(0)}),
	})

	for i := 1; i <= 50; i++ {
		events = append(events, eventlog.Event{
			ID: idFor(i), TS: int64(i * 100), Op: eventlog.OpUpdate, Target: "posts:p1",
			After: rawObj(t, map[string]any{"counter": float64(i)}),
		})
	}

	full, err := replay.Forward(events)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	snapAt := events[25].TS

	snapRes, err := replay.Forward(eventsUpTo(events, snapAt))
	if err != nil {
		t.Fatalf("forward to snapshot point: %v", err)
	}

	snapshots := []replay.Snapshot{
		{SequenceNumber: snapAt, State: snapRes.State},
	}

	accel, err := replay.SnapshotAccelerated(snapshots, events, events[len(events)-1].TS)
	if err != nil {
		t.Fatalf("snapshot accelerated: %v", err)
	}

	if accel.SnapshotUsedAt != snapAt {
		t.Fatalf("SnapshotUsedAt = %d, want %d", accel.SnapshotUsedAt, snapAt)
	}

	if accel.State["counter"] != full.State["counter"] {
		t.Fatalf("accelerated state = %v, want %v", accel.State, full.State)
	}
}

func eventsUpTo(events []eventlog.Event, at int64) []eventlog.Event {
	var out []eventlog.Event

	for _, e := range events {
		if e.TS <= at {
			out = append(out, e)
		}
	}

	return out
}

func idFor(i int) string {
	// Zero-padded so lexicographic order matches numeric order, mirroring
	// how real ULIDs sort for events minted at increasing timestamps.
	return fmt.Sprintf("e%03d", i)
}
