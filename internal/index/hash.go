package index

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/parquedb/parquedb/internal/domainerr"
)

// HashOptions configures a [Hash] index (spec.md §4.5).
type HashOptions struct {
	Name   string
	Unique bool
	Sparse bool // exempts null/undefined keys from the uniqueness constraint
}

// Hash is a point-lookup index supporting composite keys and an optional
// unique constraint (spec.md §4.5). Postings live entirely in memory: Hash
// has no save/load, and nothing in this module rebuilds it from the entity
// backend, so its contents last only as long as the value itself.
type Hash struct {
	opts HashOptions

	mu       sync.RWMutex
	postings map[string][]Posting // canonical key encoding -> postings
}

// NewHash returns an empty hash index.
func NewHash(opts HashOptions) (*Hash, error) {
	return &Hash{opts: opts, postings: map[string][]Posting{}}, nil
}

func canonicalKey(key Key) string {
	b, _ := json.Marshal([]any(key))

	return string(b)
}

// CheckUnique is the pre-flight uniqueness check (spec.md §4.5
// "checkUnique(value, excludeDocId?)").
func (h *Hash) CheckUnique(key Key, excludeDocID string) error {
	if !h.opts.Unique {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	return checkUniqueConflict(h.opts.Name, key, h.postings[canonicalKey(key)], excludeDocID, h.opts.Sparse)
}

// Insert adds one posting under key, enforcing the unique constraint when
// configured.
func (h *Hash) Insert(key Key, p Posting) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ck := canonicalKey(key)

	if h.opts.Unique && !(h.opts.Sparse && keyIsNullish(key)) {
		if existing := h.postings[ck]; len(existing) > 0 {
			return domainerr.UniqueConstraint(h.opts.Name, key)
		}
	}

	h.postings[ck] = append(h.postings[ck], p)

	return nil
}

// Remove drops the posting for docID under key.
func (h *Hash) Remove(key Key, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ck := canonicalKey(key)

	postings := h.postings[ck]
	for i, p := range postings {
		if p.DocID == docID {
			h.postings[ck] = append(postings[:i], postings[i+1:]...)
			break
		}
	}

	if len(h.postings[ck]) == 0 {
		delete(h.postings, ck)
	}
}

// Lookup returns every posting recorded under key.
func (h *Hash) Lookup(key Key) []Posting {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append([]Posting(nil), h.postings[canonicalKey(key)]...)
}

// BuildFromArray rebuilds the index from items, failing atomically on the
// first duplicate under a unique constraint — no half-indexed state is
// left behind (spec.md §4.5).
func (h *Hash) BuildFromArray(items []struct {
	Key Key
	P   Posting
}) error {
	fresh := map[string][]Posting{}

	for _, it := range items {
		ck := canonicalKey(it.Key)

		if h.opts.Unique && !(h.opts.Sparse && keyIsNullish(it.Key)) {
			if len(fresh[ck]) > 0 {
				return domainerr.UniqueConstraint(h.opts.Name, it.Key)
			}
		}

		fresh[ck] = append(fresh[ck], it.P)
	}

	h.mu.Lock()
	h.postings = fresh
	h.mu.Unlock()

	return nil
}

// GetStats reports the index's current population.
func (h *Hash) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := 0
	for _, ps := range h.postings {
		entries += len(ps)
	}

	return Stats{Entries: entries, UniqueKeys: len(h.postings)}
}

// Close is a no-op: [Hash] holds no resources of its own. It exists so
// callers can treat every index type in this package uniformly.
func (h *Hash) Close() error {
	return nil
}

// sortedKeys returns m's keys in ascending order. No caller in this
// package uses it; SST's save/load path sorts its entries itself.
func sortedKeys(m map[string][]Posting) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
