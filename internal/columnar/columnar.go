// Package columnar sits behind the black-box [Codec] contract spec.md
// treats as an external collaborator (§1: "Concrete Parquet byte-encoding:
// treated as a black-box ColumnarCodec (decode/encode + predicate
// evaluation over statistics)"). Nothing upstream of this package should
// care which concrete encoding backs a namespace's files, only that rows
// round-trip and row-group statistics support pushdown.
//
// Two implementations live here: [NativeCodec], gob-based, for open-keyed
// documents (see its doc comment for why it does not drive
// github.com/parquet-go/parquet-go directly), and [ParquetCodec], backed by
// parquet-go, for rows with the fixed event-envelope shape.
package columnar

import (
	"context"
)

// ColumnStats summarizes one column's values within a row group, enough
// to evaluate pushdown predicates without decoding rows (spec.md §4.6).
type ColumnStats struct {
	Min      any
	Max      any
	NullCont bool // whether any null/undefined value is present
}

// RowGroupStats is the per-row-group statistics block produced by Encode
// and consumed by predicate evaluation.
type RowGroupStats struct {
	NumRows int64
	Columns map[string]ColumnStats
}

// FileStats summarizes an entire encoded file: its own min/max (e.g. ts)
// plus per-row-group detail, letting scan planners skip whole files.
type FileStats struct {
	MinTS     int64
	MaxTS     int64
	NumRows   int64
	RowGroups []RowGroupStats
}

// PredicateOp is a column-level comparison pushable against [ColumnStats].
type PredicateOp uint8

const (
	OpEq PredicateOp = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
)

// Predicate is one column-level condition evaluated against row-group
// statistics during a scan.
type Predicate struct {
	Column string
	Op     PredicateOp
	Value  any
	Values []any // used when Op == OpIn
}

// Row is a single decoded record, keyed by column name. Nested documents
// are represented as nested map[string]any, matching the open-keyed
// document body model (spec.md §3).
type Row map[string]any

// Codec is the black-box contract: encode rows to a columnar file's bytes,
// decode them back, and evaluate pushdown predicates against row-group
// statistics without a full decode.
type Codec interface {
	// Encode serializes rows into a columnar file body and returns the
	// computed statistics alongside the bytes.
	Encode(ctx context.Context, rows []Row) ([]byte, FileStats, error)

	// Decode returns every row in a columnar file body, in storage order.
	Decode(ctx context.Context, data []byte) ([]Row, error)

	// DecodeFiltered returns only rows whose row group cannot be proven
	// to miss every predicate, decoding exactly those row groups.
	// Residual (non-columnar-evaluable) filtering is the caller's job.
	DecodeFiltered(ctx context.Context, data []byte, preds []Predicate) ([]Row, error)

	// StatsOf inspects a file's bytes without decoding the row payloads.
	StatsOf(ctx context.Context, data []byte) (FileStats, error)
}

// RowGroupMatches reports whether a row group's statistics cannot rule
// out every row matching all of preds (conservative: false positives are
// fine, false negatives are not - a skipped row group must truly contain
// no matching rows).
func RowGroupMatches(rg RowGroupStats, preds []Predicate) bool {
	for _, p := range preds {
		stats, ok := rg.Columns[p.Column]
		if !ok {
			// Unknown column: can't prove a miss, must scan.
			continue
		}

		if !predicateCanMatch(p, stats) {
			return false
		}
	}

	return true
}

func predicateCanMatch(p Predicate, stats ColumnStats) bool {
	switch p.Op {
	case OpEq:
		return compareRange(p.Value, stats.Min, stats.Max)
	case OpGt:
		return compareLess(stats.Max, p.Value) == false
	case OpGte:
		return compareLess(stats.Max, p.Value) == false || compareEqual(stats.Max, p.Value)
	case OpLt:
		return compareLess(p.Value, stats.Min) == false
	case OpLte:
		return compareLess(p.Value, stats.Min) == false || compareEqual(stats.Min, p.Value)
	case OpIn:
		for _, v := range p.Values {
			if compareRange(v, stats.Min, stats.Max) {
				return true
			}
		}

		return false
	case OpNe:
		// Only provably-missable when min==max==value; otherwise assume match.
		return !(compareEqual(stats.Min, stats.Max) && compareEqual(stats.Min, p.Value))
	default:
		return true
	}
}
