package eventlog

import (
	"encoding/json"

	"github.com/parquedb/parquedb/internal/columnar"
)

// eventToRow flattens an Event into a columnar.Row for batch encoding.
// Before/After are kept as raw JSON strings since [columnar.Codec]
// implementations need not understand nested document shapes.
func eventToRow(e Event) columnar.Row {
	row := columnar.Row{
		"id":     e.ID,
		"ts":     e.TS,
		"op":     e.Op.String(),
		"target": e.Target,
		"actor":  e.Actor,
	}

	if len(e.Before) > 0 {
		row["before"] = string(e.Before)
	}

	if len(e.After) > 0 {
		row["after"] = string(e.After)
	}

	return row
}

// rowToEvent reverses [eventToRow].
func rowToEvent(r columnar.Row) (Event, error) {
	var e Event

	if v, ok := r["id"].(string); ok {
		e.ID = v
	}

	if v, ok := r["ts"].(int64); ok {
		e.TS = v
	}

	if v, ok := r["target"].(string); ok {
		e.Target = v
	}

	if v, ok := r["actor"].(string); ok {
		e.Actor = v
	}

	if v, ok := r["op"].(string); ok {
		if err := json.Unmarshal([]byte(`"`+v+`"`), &e.Op); err != nil {
			return Event{}, err
		}
	}

	if v, ok := r["before"].(string); ok && v != "" {
		e.Before = json.RawMessage(v)
	}

	if v, ok := r["after"].(string); ok && v != "" {
		e.After = json.RawMessage(v)
	}

	return e, nil
}
