// Package filter implements MongoDB-style document filters and the
// pushdown split that separates column-level, statistics-evaluable
// conditions from everything that must be applied row-by-row (spec.md
// §4.6).
package filter

// Filter is a document filter: field name -> either a scalar (implicit
// equality) or an operator map (e.g. {"$gte": 18}), plus the logical
// combinators "$and", "$or", "$not", "$nor" whose values are
// []Filter/Filter respectively.
type Filter map[string]any

// Op is one comparison or logical operator recognized by this package.
type Op string

const (
	OpEq         Op = "$eq"
	OpNe         Op = "$ne"
	OpGt         Op = "$gt"
	OpGte        Op = "$gte"
	OpLt         Op = "$lt"
	OpLte        Op = "$lte"
	OpIn         Op = "$in"
	OpNin        Op = "$nin"
	OpAnd        Op = "$and"
	OpOr         Op = "$or"
	OpNot        Op = "$not"
	OpNor        Op = "$nor"
	OpText       Op = "$text"
	OpVector     Op = "$vector"
	OpGeo        Op = "$geo"
	OpRegex      Op = "$regex"
	OpStartsWith Op = "$startsWith"
	OpAll        Op = "$all"
	OpElemMatch  Op = "$elemMatch"
)

// pushableComparisons are evaluable against columnar row-group
// statistics (spec.md §4.6 rule 1).
var pushableComparisons = map[Op]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true,
	OpLt: true, OpLte: true, OpIn: true,
}

// neverPushed operators are always kept verbatim in the remaining filter
// (spec.md §4.6 rule: "$or, $not, $nor, $text, $vector, $geo, $regex,
// $startsWith, $all, $elemMatch, $nin - never pushed").
var neverPushed = map[Op]bool{
	OpOr: true, OpNot: true, OpNor: true, OpText: true, OpVector: true,
	OpGeo: true, OpRegex: true, OpStartsWith: true, OpAll: true,
	OpElemMatch: true, OpNin: true,
}

func isDotted(field string) bool {
	for _, r := range field {
		if r == '.' {
			return true
		}
	}

	return false
}
