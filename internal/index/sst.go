package index

import (
	"sort"
	"sync"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/internal/domainerr"
)

// sstEntry is one sorted-string-table row: key plus its postings.
type sstEntry struct {
	key      Key
	postings []Posting
}

// SST is a point + range index over a single sortable key type
// (spec.md §4.5 "SST supports point + range").
type SST struct {
	name   string
	unique bool
	sparse bool

	mu      sync.RWMutex
	entries []sstEntry // kept sorted by key
}

// SSTOptions configures an [SST] index.
type SSTOptions struct {
	Name   string
	Unique bool
	Sparse bool
}

// NewSST returns an empty SST index.
func NewSST(opts SSTOptions) *SST {
	return &SST{name: opts.Name, unique: opts.Unique, sparse: opts.Sparse}
}

func (s *SST) find(key Key) (int, bool) {
	idx := sort.Search(len(s.entries), func(i int) bool {
		less := compareKeyParts(s.entries[i].key, key)

		return !less
	})

	if idx < len(s.entries) && keysEqual(s.entries[idx].key, key) {
		return idx, true
	}

	return idx, false
}

// compareKeyParts compares two composite keys element-wise, returning
// true if a < b, using the same cross-type scalar ordering the columnar
// predicate layer uses so index and storage agree on ordering.
func compareKeyParts(a, b Key) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	for i := 0; i < n; i++ {
		if columnar.CompareLess(a[i], b[i]) {
			return true
		}

		if columnar.CompareLess(b[i], a[i]) {
			return false
		}
	}

	return len(a) < len(b)
}

func keysEqual(a, b Key) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !columnar.CompareEqual(a[i], b[i]) {
			return false
		}
	}

	return true
}

// CheckUnique mirrors [Hash.CheckUnique] for SST indexes.
func (s *SST) CheckUnique(key Key, excludeDocID string) error {
	if !s.unique {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, found := s.find(key)
	if !found {
		return nil
	}

	return checkUniqueConflict(s.name, key, s.entries[idx].postings, excludeDocID, s.sparse)
}

// Insert adds a posting under key, keeping entries sorted.
func (s *SST) Insert(key Key, p Posting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, found := s.find(key)
	if found {
		if s.unique && !(s.sparse && keyIsNullish(key)) && len(s.entries[idx].postings) > 0 {
			return domainerr.UniqueConstraint(s.name, key)
		}

		s.entries[idx].postings = append(s.entries[idx].postings, p)

		return nil
	}

	entry := sstEntry{key: key, postings: []Posting{p}}
	s.entries = append(s.entries, sstEntry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = entry

	return nil
}

// Remove drops docID's posting under key.
func (s *SST) Remove(key Key, docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, found := s.find(key)
	if !found {
		return
	}

	postings := s.entries[idx].postings
	for i, p := range postings {
		if p.DocID == docID {
			s.entries[idx].postings = append(postings[:i], postings[i+1:]...)
			break
		}
	}

	if len(s.entries[idx].postings) == 0 {
		s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	}
}

// Lookup returns every posting under key.
func (s *SST) Lookup(key Key) []Posting {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, found := s.find(key)
	if !found {
		return nil
	}

	return append([]Posting(nil), s.entries[idx].postings...)
}

// Range returns every posting whose key lies in [from, to] (inclusive on
// both ends when non-nil; either bound may be nil to mean unbounded).
func (s *SST) Range(from, to Key) []Posting {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Posting

	for _, e := range s.entries {
		if from != nil {
			if less := compareKeyParts(e.key, from); less {
				continue
			}
		}

		if to != nil {
			if less := compareKeyParts(to, e.key); less {
				continue
			}
		}

		out = append(out, e.postings...)
	}

	return out
}

// BuildFromArray rebuilds the index atomically from items.
func (s *SST) BuildFromArray(items []struct {
	Key Key
	P   Posting
}) error {
	fresh := &SST{name: s.name, unique: s.unique, sparse: s.sparse}

	for _, it := range items {
		if err := fresh.Insert(it.Key, it.P); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.entries = fresh.entries
	s.mu.Unlock()

	return nil
}

// GetStats reports the index's current population.
func (s *SST) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := 0
	for _, e := range s.entries {
		entries += len(e.postings)
	}

	return Stats{Entries: entries, UniqueKeys: len(s.entries)}
}
