package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Match reports whether doc satisfies f, evaluating every operator this
// package knows about (including the ones [AnalyzeForPushdown] never
// pushes down - $or/$not/$nor/$regex/$startsWith/$all/$elemMatch - since
// those must still be evaluated somewhere).
func Match(doc map[string]any, f Filter) bool {
	for field, cond := range f {
		switch Op(field) {
		case OpAnd:
			if !matchAll(doc, cond) {
				return false
			}

			continue
		case OpOr:
			if !matchAny(doc, cond) {
				return false
			}

			continue
		case OpNor:
			if matchAny(doc, cond) {
				return false
			}

			continue
		case OpNot:
			if sub, ok := cond.(Filter); ok && Match(doc, sub) {
				return false
			}

			continue
		}

		if !matchField(fieldValue(doc, field), cond) {
			return false
		}
	}

	return true
}

func matchAll(doc map[string]any, cond any) bool {
	clauses, ok := cond.([]Filter)
	if !ok {
		return true
	}

	for _, c := range clauses {
		if !Match(doc, c) {
			return false
		}
	}

	return true
}

func matchAny(doc map[string]any, cond any) bool {
	clauses, ok := cond.([]Filter)
	if !ok {
		return false
	}

	for _, c := range clauses {
		if Match(doc, c) {
			return true
		}
	}

	return false
}

// fieldValue resolves dot-notation paths ("a.b.c") against nested maps.
func fieldValue(doc map[string]any, field string) any {
	parts := strings.Split(field, ".")

	var cur any = doc

	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}

		cur = m[p]
	}

	return cur
}

func matchField(value any, cond any) bool {
	ops, isMap := cond.(map[string]any)
	if !isMap {
		return equalValue(value, cond)
	}

	for k, v := range ops {
		if !matchOp(value, Op(k), v) {
			return false
		}
	}

	return true
}

func matchOp(value any, op Op, arg any) bool {
	switch op {
	case OpEq:
		return equalValue(value, arg)
	case OpNe:
		return !equalValue(value, arg)
	case OpGt:
		return compareNumOrString(value, arg) > 0
	case OpGte:
		return compareNumOrString(value, arg) >= 0
	case OpLt:
		return compareNumOrString(value, arg) < 0
	case OpLte:
		return compareNumOrString(value, arg) <= 0
	case OpIn:
		return containsAny(value, arg)
	case OpNin:
		return !containsAny(value, arg)
	case OpStartsWith:
		s, _ := value.(string)
		prefix, _ := arg.(string)

		return strings.HasPrefix(s, prefix)
	case OpRegex:
		pattern, _ := arg.(string)

		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}

		s, _ := value.(string)

		return re.MatchString(s)
	case OpAll:
		return matchAllElements(value, arg)
	case OpElemMatch:
		return matchElem(value, arg)
	default:
		// $text / $vector / $geo are resolved by dedicated index lookups
		// upstream (spec.md §4.5); by the time a document reaches this
		// evaluator those clauses have already selected it.
		return true
	}
}

func matchAllElements(value, arg any) bool {
	arr, ok := value.([]any)
	if !ok {
		return false
	}

	want, ok := arg.([]any)
	if !ok {
		return false
	}

	for _, w := range want {
		found := false

		for _, a := range arr {
			if equalValue(a, w) {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

func matchElem(value, arg any) bool {
	arr, ok := value.([]any)
	if !ok {
		return false
	}

	sub, ok := arg.(Filter)
	if !ok {
		return false
	}

	for _, el := range arr {
		m, ok := el.(map[string]any)
		if ok && Match(m, sub) {
			return true
		}
	}

	return false
}

func containsAny(value, arg any) bool {
	list, ok := arg.([]any)
	if !ok {
		return false
	}

	for _, v := range list {
		if equalValue(value, v) {
			return true
		}
	}

	return false
}

func equalValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b) && sameKindClass(a, b)
}

// sameKindClass avoids numeric-vs-string false positives from fmt.Sprint
// (e.g. value 5 matching condition "5").
func sameKindClass(a, b any) bool {
	return kindClass(a) == kindClass(b)
}

func kindClass(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int32, int64, float32, float64:
		return "number"
	default:
		return "other"
	}
}

func compareNumOrString(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)

	if aok && bok {
		return strings.Compare(as, bs)
	}

	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
