package columnar

import "time"

// normalize coerces comparable scalar kinds (ints, floats, time.Time,
// strings) onto a common representation so Min/Max comparisons work
// regardless of which concrete numeric type a column statistic was
// computed with.
func normalize(v any) (float64, string, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), "", true
	case int64:
		return float64(n), "", true
	case int32:
		return float64(n), "", true
	case float64:
		return n, "", true
	case float32:
		return float64(n), "", true
	case time.Time:
		return float64(n.UnixMilli()), "", true
	case string:
		return 0, n, false
	case bool:
		if n {
			return 1, "", true
		}

		return 0, "", true
	default:
		return 0, "", true
	}
}

// CompareLess reports whether a sorts before b under the cross-type scalar
// ordering columnar statistics use. Exported so other packages needing the
// same ordering (e.g. the SST index's range queries) don't duplicate it.
func CompareLess(a, b any) bool {
	if a == nil || b == nil {
		return false
	}

	an, as, aNum := normalize(a)
	bn, bs, bNum := normalize(b)

	if aNum && bNum {
		return an < bn
	}

	return as < bs
}

// CompareEqual reports whether a and b are equal under the same ordering
// as [CompareLess].
func CompareEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}

	an, as, aNum := normalize(a)
	bn, bs, bNum := normalize(b)

	if aNum && bNum {
		return an == bn
	}

	return as == bs
}

func compareLess(a, b any) bool { return CompareLess(a, b) }

func compareEqual(a, b any) bool { return CompareEqual(a, b) }

// compareRange reports whether v could fall within [min, max] inclusive.
func compareRange(v, min, max any) bool {
	if min == nil || max == nil {
		return true
	}

	return !compareLess(v, min) && !compareLess(max, v)
}
