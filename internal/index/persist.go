package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

// ftsSnapshot is FTS's on-disk form: postings and doc-field tokens are
// irregular nested maps rather than fixed-size records or relational
// rows, so plain JSON over the object store (the same round trip
// internal/config uses for parquedb.json) fits better here than a SQL
// table.
type ftsSnapshot struct {
	Opts      FTSOptions                            `json:"opts"`
	DocCount  int                                   `json:"docCount"`
	NextDoc   uint32                                `json:"nextDoc"`
	DocIDs    map[string]uint32                     `json:"docIds"`
	Postings  map[string]map[string]map[string][]int `json:"postings"` // term -> docId -> field -> positions
	DocFields map[string]map[string][]string         `json:"docFields"`
}

// Save persists the full index state to path.
func (f *FTS) Save(ctx context.Context, store objectstore.ObjectStore, path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := ftsSnapshot{
		Opts:      f.opts,
		DocCount:  f.docCount,
		NextDoc:   f.nextDoc,
		DocIDs:    f.docIDs,
		Postings:  map[string]map[string]map[string][]int{},
		DocFields: f.docFields,
	}

	for term, byDoc := range f.postings {
		out := map[string]map[string][]int{}

		for docID, byField := range byDoc {
			fields := map[string][]int{}

			for field, p := range byField {
				fields[field] = p.positions
			}

			out[docID] = fields
		}

		snap.Postings[term] = out
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("index: encode fts snapshot: %w", err)
	}

	if err := store.WriteAtomic(ctx, path, data); err != nil {
		return fmt.Errorf("index: write fts snapshot %s: %w", path, err)
	}

	return nil
}

// Load replaces the index's contents with the snapshot at path.
func (f *FTS) Load(ctx context.Context, store objectstore.ObjectStore, path string) error {
	data, err := store.Read(ctx, path)
	if err != nil {
		return fmt.Errorf("index: read fts snapshot %s: %w", path, err)
	}

	var snap ftsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("index: decode fts snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.opts = snap.Opts.withDefaults()
	f.docCount = snap.DocCount
	f.nextDoc = snap.NextDoc
	f.docIDs = snap.DocIDs
	f.docFields = snap.DocFields

	if f.docIDs == nil {
		f.docIDs = map[string]uint32{}
	}

	if f.docFields == nil {
		f.docFields = map[string]map[string][]string{}
	}

	f.docNames = map[uint32]string{}
	for docID, num := range f.docIDs {
		f.docNames[num] = docID
	}

	f.postings = map[string]map[string]map[string]*ftsPosting{}
	f.termDocs = map[string]*roaring.Bitmap{}

	for term, byDoc := range snap.Postings {
		postingsByDoc := map[string]map[string]*ftsPosting{}

		for docID, byField := range byDoc {
			fields := map[string]*ftsPosting{}

			for field, positions := range byField {
				fields[field] = &ftsPosting{positions: positions}
			}

			postingsByDoc[docID] = fields

			if num, ok := f.docIDs[docID]; ok {
				bm, ok := f.termDocs[term]
				if !ok {
					bm = roaring.New()
					f.termDocs[term] = bm
				}

				bm.Add(num)
			}
		}

		f.postings[term] = postingsByDoc
	}

	return nil
}

// vectorSnapshot is Vector's on-disk form.
type vectorSnapshot struct {
	Entries map[string][]float32 `json:"entries"`
	PQ      *pqSnapshot          `json:"pq,omitempty"`
}

type pqSnapshot struct {
	NumSubquantizers int           `json:"numSubquantizers"`
	NumCentroids     int           `json:"numCentroids"`
	Dim              int           `json:"dim"`
	Codebooks        [][][]float32 `json:"codebooks"`
}

// Save persists every cached vector (and, if trained, the product
// quantizer's codebooks) to path.
func (v *Vector) Save(ctx context.Context, store objectstore.ObjectStore, path string) error {
	v.mu.Lock()

	snap := vectorSnapshot{Entries: map[string][]float32{}}

	for _, id := range v.cache.Keys() {
		if vec, ok := v.cache.Peek(id); ok {
			snap.Entries[id] = vec
		}
	}

	if v.pq != nil {
		snap.PQ = &pqSnapshot{
			NumSubquantizers: v.pq.numSubquantizers,
			NumCentroids:     v.pq.numCentroids,
			Dim:              v.pq.dim,
			Codebooks:        v.pq.codebooks,
		}
	}

	v.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("index: encode vector snapshot: %w", err)
	}

	if err := store.WriteAtomic(ctx, path, data); err != nil {
		return fmt.Errorf("index: write vector snapshot %s: %w", path, err)
	}

	return nil
}

// Load replaces the index's cached vectors (and trained quantizer, if
// any) with the snapshot at path.
func (v *Vector) Load(ctx context.Context, store objectstore.ObjectStore, path string) error {
	data, err := store.Read(ctx, path)
	if err != nil {
		return fmt.Errorf("index: read vector snapshot %s: %w", path, err)
	}

	var snap vectorSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("index: decode vector snapshot: %w", err)
	}

	v.mu.Lock()

	v.cache.Purge()
	v.cachedSize = 0
	v.totalSize = 0

	v.mu.Unlock()

	for id, vec := range snap.Entries {
		v.Insert(id, vec)
	}

	if snap.PQ != nil {
		v.mu.Lock()
		v.pq = &productQuantizer{
			numSubquantizers: snap.PQ.NumSubquantizers,
			numCentroids:     snap.PQ.NumCentroids,
			dim:              snap.PQ.Dim,
			codebooks:        snap.PQ.Codebooks,
		}
		v.mu.Unlock()
	}

	return nil
}
