// Package index implements four index families of spec.md §4.5: Hash
// (point), SST (point + range), FTS (BM25 full text), and Vector (nearest
// neighbor by exhaustive scan). No Geo index is built. Hash and SST share
// an insert/remove/lookup/buildFromArray/getStats shape; SST, FTS and
// Vector can be saved and loaded, Hash cannot.
package index

import "github.com/parquedb/parquedb/internal/domainerr"

// Posting locates one document's physical position, mirroring the
// columnar layout a lookup needs to short-circuit a full scan.
type Posting struct {
	DocID     string
	RowGroup  int
	RowOffset int
}

// Key is a composite index key: one element per path component
// (spec.md §4.5 "Composite keys: array of path components").
type Key []any

// Stats summarizes one index's population.
type Stats struct {
	Entries    int
	UniqueKeys int
}

func isNullish(v any) bool {
	return v == nil
}

// checkUniqueConflict returns a [domainerr.Error] if key is already present
// under a unique, non-sparse (or sparse-but-non-null) constraint.
func checkUniqueConflict(indexName string, key Key, existing []Posting, excludeDocID string, sparse bool) error {
	if sparse && keyIsNullish(key) {
		return nil
	}

	for _, p := range existing {
		if p.DocID != excludeDocID {
			return domainerr.UniqueConstraint(indexName, key)
		}
	}

	return nil
}

func keyIsNullish(key Key) bool {
	for _, k := range key {
		if isNullish(k) {
			return true
		}
	}

	return false
}
