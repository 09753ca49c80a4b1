package columnar

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
)

// NativeCodec is the concrete [Codec] used when no real Parquet library is
// wired in for a given deployment.
//
// spec.md §1 explicitly treats Parquet byte-encoding as an external
// black box ("assumed to offer row-group stats + predicate eval"), and
// parquet-go/parquet-go's generic writer path requires either a static
// Go struct or column types known ahead of time; ParqueDB entity bodies
// are open-keyed, heterogeneous documents (spec.md §3) whose shape is not
// known until a row is written, so driving the real encoder would need
// per-namespace generated structs this package does not have. NativeCodec
// keeps the exact [Codec] contract (row groups, column statistics,
// pushdown-evaluable predicates) so a real parquet-go-backed
// implementation is a drop-in replacement once a namespace's schema is
// pinned; until then rows are gob-encoded in fixed-size row-group
// batches with the same statistics bookkeeping a real encoder would
// produce.
type NativeCodec struct {
	// RowsPerGroup caps rows per row group; governs how coarse pushdown
	// skip decisions are (smaller groups skip more precisely, cost more
	// per-group overhead).
	RowsPerGroup int
}

func init() {
	// Nested objects and arrays inside a Row are stored as interface
	// values; gob can only encode those once their concrete types are
	// registered.
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// NewNativeCodec returns a [NativeCodec] with a sensible default row-group
// size.
func NewNativeCodec() *NativeCodec {
	return &NativeCodec{RowsPerGroup: 10000}
}

type fileEnvelope struct {
	RowGroups []rowGroupEnvelope
}

type rowGroupEnvelope struct {
	Rows  []Row
	Stats RowGroupStats
}

func (c *NativeCodec) groupSize() int {
	if c.RowsPerGroup <= 0 {
		return 10000
	}

	return c.RowsPerGroup
}

func (c *NativeCodec) Encode(_ context.Context, rows []Row) ([]byte, FileStats, error) {
	env := fileEnvelope{}
	stats := FileStats{NumRows: int64(len(rows))}

	size := c.groupSize()

	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}

		chunk := rows[start:end]
		acc := rowGroupAccumulator{columns: map[string]*colAcc{}}

		for _, r := range chunk {
			acc.observe(r)

			if ts, ok := asInt64(r["ts"]); ok {
				if stats.MinTS == 0 || ts < stats.MinTS {
					stats.MinTS = ts
				}
				if ts > stats.MaxTS {
					stats.MaxTS = ts
				}
			}
		}

		rgStats := acc.finish(int64(len(chunk)))
		env.RowGroups = append(env.RowGroups, rowGroupEnvelope{Rows: chunk, Stats: rgStats})
		stats.RowGroups = append(stats.RowGroups, rgStats)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, FileStats{}, fmt.Errorf("columnar: encode: %w", err)
	}

	return buf.Bytes(), stats, nil
}

func (c *NativeCodec) decodeEnvelope(data []byte) (fileEnvelope, error) {
	var env fileEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return fileEnvelope{}, fmt.Errorf("columnar: decode: %w", err)
	}

	return env, nil
}

func (c *NativeCodec) Decode(_ context.Context, data []byte) ([]Row, error) {
	env, err := c.decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, rg := range env.RowGroups {
		rows = append(rows, rg.Rows...)
	}

	return rows, nil
}

func (c *NativeCodec) DecodeFiltered(_ context.Context, data []byte, preds []Predicate) ([]Row, error) {
	env, err := c.decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, rg := range env.RowGroups {
		if !RowGroupMatches(rg.Stats, preds) {
			continue
		}

		rows = append(rows, rg.Rows...)
	}

	return rows, nil
}

func (c *NativeCodec) StatsOf(_ context.Context, data []byte) (FileStats, error) {
	env, err := c.decodeEnvelope(data)
	if err != nil {
		return FileStats{}, err
	}

	stats := FileStats{}

	for _, rg := range env.RowGroups {
		stats.NumRows += rg.Stats.NumRows
		stats.RowGroups = append(stats.RowGroups, rg.Stats)

		if ts, ok := rg.Stats.Columns["ts"]; ok {
			if minTS, ok := asInt64(ts.Min); ok && (stats.MinTS == 0 || minTS < stats.MinTS) {
				stats.MinTS = minTS
			}

			if maxTS, ok := asInt64(ts.Max); ok && maxTS > stats.MaxTS {
				stats.MaxTS = maxTS
			}
		}
	}

	return stats, nil
}

var _ Codec = (*NativeCodec)(nil)
