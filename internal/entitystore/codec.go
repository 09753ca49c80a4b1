package entitystore

import "github.com/parquedb/parquedb/internal/columnar"

// entityToRow flattens an [Entity] into a [columnar.Row]: metadata fields
// at the top level alongside the body's fields, with body fields taking
// the "$body." prefix so a column named e.g. "version" in a user
// document can never collide with the entity's own version column.
func entityToRow(e Entity) columnar.Row {
	row := columnar.Row{
		"ns":        e.Ns,
		"id":        e.ID,
		"$type":     e.Type,
		"version":   e.Version,
		"createdAt": e.CreatedAt,
		"updatedAt": e.UpdatedAt,
		"createdBy": e.CreatedBy,
		"updatedBy": e.UpdatedBy,
		"deletedAt": e.DeletedAt,
		"deletedBy": e.DeletedBy,
	}

	for k, v := range e.Body {
		row["$body."+k] = v
	}

	return row
}

func rowToEntity(r columnar.Row) Entity {
	e := Entity{
		Ns:   stringOf(r["ns"]),
		ID:   stringOf(r["id"]),
		Type: stringOf(r["$type"]),
		Body: replayDoc{},
	}

	e.Version = int64Of(r["version"])
	e.CreatedAt = int64Of(r["createdAt"])
	e.UpdatedAt = int64Of(r["updatedAt"])
	e.CreatedBy = stringOf(r["createdBy"])
	e.UpdatedBy = stringOf(r["updatedBy"])
	e.DeletedAt = int64Of(r["deletedAt"])
	e.DeletedBy = stringOf(r["deletedBy"])

	for k, v := range r {
		if body, ok := stripBodyPrefix(k); ok {
			e.Body[body] = v
		}
	}

	return e
}

func stripBodyPrefix(k string) (string, bool) {
	const prefix = "$body."
	if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
		return "", false
	}

	return k[len(prefix):], true
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func int64Of(v any) int64 {
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
