package filter

import (
	"github.com/parquedb/parquedb/internal/columnar"
)

// PushdownResult is the output of [AnalyzeForPushdown] (spec.md §4.6 API
// surface).
type PushdownResult struct {
	PushdownPredicates []columnar.Predicate
	PushdownColumns    []string
	RemainingFilter    Filter
	CanPushdown        bool
}

func columnarOp(op Op) (columnar.PredicateOp, bool) {
	switch op {
	case OpEq:
		return columnar.OpEq, true
	case OpNe:
		return columnar.OpNe, true
	case OpGt:
		return columnar.OpGt, true
	case OpGte:
		return columnar.OpGte, true
	case OpLt:
		return columnar.OpLt, true
	case OpLte:
		return columnar.OpLte, true
	case OpIn:
		return columnar.OpIn, true
	default:
		return 0, false
	}
}

// FilterToPredicates extracts every column-level predicate pushable
// against typedColumns from filter, ignoring logical combinators (spec.md
// §4.6 API surface: "filterToPredicates").
func FilterToPredicates(f Filter, typedColumns map[string]bool) []columnar.Predicate {
	res := AnalyzeForPushdown(f, typedColumns)
	return res.PushdownPredicates
}

// PredicatesToQueryFilter reconstructs a [Filter] equivalent to a set of
// predicates, the inverse of [FilterToPredicates] restricted to the
// pushable subset (spec.md §8 property 5).
func PredicatesToQueryFilter(preds []columnar.Predicate) Filter {
	byColumn := map[string]map[string]any{}

	for _, p := range preds {
		ops, ok := byColumn[p.Column]
		if !ok {
			ops = map[string]any{}
			byColumn[p.Column] = ops
		}

		switch p.Op {
		case columnar.OpEq:
			ops["$eq"] = p.Value
		case columnar.OpNe:
			ops["$ne"] = p.Value
		case columnar.OpGt:
			ops["$gt"] = p.Value
		case columnar.OpGte:
			ops["$gte"] = p.Value
		case columnar.OpLt:
			ops["$lt"] = p.Value
		case columnar.OpLte:
			ops["$lte"] = p.Value
		case columnar.OpIn:
			ops["$in"] = p.Values
		}
	}

	out := Filter{}

	for col, ops := range byColumn {
		// A lone implicit-equality predicate round-trips as a bare scalar,
		// matching the shape FilterToPredicates would have been given.
		if len(ops) == 1 {
			if v, ok := ops["$eq"]; ok {
				out[col] = v
				continue
			}
		}

		out[col] = ops
	}

	return out
}

// AnalyzeForPushdown splits f into pushable column predicates and a
// residual filter applied row-by-row, per the rules in spec.md §4.6.
func AnalyzeForPushdown(f Filter, typedColumns map[string]bool) PushdownResult {
	var preds []columnar.Predicate

	remaining := Filter{}
	colSet := map[string]bool{}

	for field, cond := range f {
		switch Op(field) {
		case OpAnd:
			preds, remaining = analyzeAnd(cond, typedColumns, preds, remaining, colSet)
			continue
		case OpOr, OpNot, OpNor:
			remaining[field] = cond
			continue
		}

		if isDotted(field) || !typedColumns[field] {
			remaining[field] = cond
			continue
		}

		fieldPreds, residual, ok := analyzeField(field, cond)
		if ok {
			preds = append(preds, fieldPreds...)
			colSet[field] = true
		}

		if residual != nil {
			remaining[field] = residual
		}
	}

	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}

	return PushdownResult{
		PushdownPredicates: preds,
		PushdownColumns:    cols,
		RemainingFilter:    remaining,
		CanPushdown:        len(preds) > 0,
	}
}

func analyzeAnd(cond any, typedColumns map[string]bool, preds []columnar.Predicate, remaining Filter, colSet map[string]bool) ([]columnar.Predicate, Filter) {
	clauses, ok := cond.([]Filter)
	if !ok {
		remaining[string(OpAnd)] = cond
		return preds, remaining
	}

	var residualClauses []Filter

	for _, clause := range clauses {
		sub := AnalyzeForPushdown(clause, typedColumns)
		preds = append(preds, sub.PushdownPredicates...)

		for _, c := range sub.PushdownColumns {
			colSet[c] = true
		}

		if len(sub.RemainingFilter) > 0 {
			residualClauses = append(residualClauses, sub.RemainingFilter)
		}
	}

	if len(residualClauses) > 0 {
		remaining[string(OpAnd)] = residualClauses
	}

	return preds, remaining
}

// analyzeField returns the pushable predicates for a single field's
// condition plus whatever part of that condition could not be pushed.
func analyzeField(field string, cond any) ([]columnar.Predicate, any, bool) {
	ops, isMap := cond.(map[string]any)
	if !isMap {
		if cond == nil {
			// spec.md §4.6: "null values never pushed."
			return nil, cond, false
		}

		return []columnar.Predicate{{Column: field, Op: columnar.OpEq, Value: cond}}, nil, true
	}

	var preds []columnar.Predicate

	residual := map[string]any{}

	for k, v := range ops {
		op := Op(k)

		if neverPushed[op] {
			residual[k] = v
			continue
		}

		if v == nil {
			residual[k] = v
			continue
		}

		cop, ok := columnarOp(op)
		if !ok {
			residual[k] = v
			continue
		}

		p := columnar.Predicate{Column: field, Op: cop, Value: v}

		if op == OpIn || op == OpNin {
			if values, ok := v.([]any); ok {
				p.Values = values
			}

			if op == OpNin {
				residual[k] = v
				continue
			}
		}

		preds = append(preds, p)
	}

	if len(residual) == 0 {
		return preds, nil, len(preds) > 0
	}

	return preds, residual, len(preds) > 0
}

// ExtractNonPushableFilter returns only the portion of f that cannot be
// pushed down, equivalent to AnalyzeForPushdown(f, typedColumns).RemainingFilter.
func ExtractNonPushableFilter(f Filter, typedColumns map[string]bool) Filter {
	return AnalyzeForPushdown(f, typedColumns).RemainingFilter
}

// CanFullyPushdown reports whether f has no residual filter once typed
// columns are known.
func CanFullyPushdown(f Filter, typedColumns map[string]bool) bool {
	return len(AnalyzeForPushdown(f, typedColumns).RemainingFilter) == 0
}

// HasPushableConditions reports whether any part of f can be pushed down.
func HasPushableConditions(f Filter, typedColumns map[string]bool) bool {
	return AnalyzeForPushdown(f, typedColumns).CanPushdown
}
