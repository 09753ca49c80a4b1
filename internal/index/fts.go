package index

import (
	"html"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/RoaringBitmap/roaring"
	"github.com/kljensen/snowball/english"
)

// FTSOptions configures a full-text index (spec.md §4.5).
type FTSOptions struct {
	Language      string // only "en" is stemmed; other values skip stemming
	MinWordLength int
}

func (o FTSOptions) withDefaults() FTSOptions {
	if o.MinWordLength <= 0 {
		o.MinWordLength = 2
	}

	if o.Language == "" {
		o.Language = "en"
	}

	return o
}

// ftsPosting is one (docId, field) occurrence list for a term.
type ftsPosting struct {
	positions []int
}

// FTS is a BM25-scored full-text index with field-scoped term positions
// (spec.md §4.5: "a phrase query evaluates adjacency only within a single
// (doc, field) pair").
type FTS struct {
	opts FTSOptions

	mu        sync.RWMutex
	postings  map[string]map[string]map[string]*ftsPosting // term -> docId -> field -> postings
	docFields map[string]map[string][]string                // docId -> field -> tokens, kept for length/snippets
	docCount  int

	// termDocs holds each term's candidate document set as a roaring
	// bitmap over an internal integer doc registry, giving cheap
	// intersection for conjunctive lookups without re-walking postings.
	termDocs map[string]*roaring.Bitmap
	docIDs   map[string]uint32
	docNames map[uint32]string
	nextDoc  uint32
}

// NewFTS returns an empty full-text index.
func NewFTS(opts FTSOptions) *FTS {
	return &FTS{
		opts:      opts.withDefaults(),
		postings:  map[string]map[string]map[string]*ftsPosting{},
		docFields: map[string]map[string][]string{},
		termDocs:  map[string]*roaring.Bitmap{},
		docIDs:    map[string]uint32{},
		docNames:  map[uint32]string{},
	}
}

func (f *FTS) docNum(docID string) uint32 {
	if n, ok := f.docIDs[docID]; ok {
		return n
	}

	n := f.nextDoc
	f.nextDoc++
	f.docIDs[docID] = n
	f.docNames[n] = docID

	return n
}

// IntersectTerms returns the document ids containing every one of terms,
// via roaring-bitmap intersection over the per-term candidate sets. Terms
// are lowercased and stemmed the same way [FTS.GetDocumentFrequency] does.
func (f *FTS) IntersectTerms(terms []string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(terms) == 0 {
		return nil
	}

	normalize := func(t string) string {
		if f.opts.Language == "en" {
			return stemEnglish(strings.ToLower(t))
		}

		return t
	}

	bm, ok := f.termDocs[normalize(terms[0])]
	if !ok {
		return nil
	}

	result := bm.Clone()

	for _, t := range terms[1:] {
		next, ok := f.termDocs[normalize(t)]
		if !ok {
			return nil
		}

		result.And(next)
	}

	ids := result.ToArray()
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		out = append(out, f.docNames[id])
	}

	sort.Strings(out)

	return out
}

// Tokenize lowercases, strips punctuation, splits on whitespace, stems
// (English Porter-style suffix stripping when Language is "en"), and
// drops tokens shorter than MinWordLength (spec.md §4.5).
func (f *FTS) Tokenize(text string) []string {
	lower := strings.ToLower(text)

	var b strings.Builder

	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())

	out := make([]string, 0, len(fields))

	for _, w := range fields {
		if len(w) < f.opts.MinWordLength {
			continue
		}

		if f.opts.Language == "en" {
			w = stemEnglish(w)
		}

		out = append(out, w)
	}

	return out
}

// stemEnglish applies the Porter stemming algorithm (spec.md §4.5
// "English Porter stemmer for en").
func stemEnglish(w string) string {
	return english.Stem(w, false)
}

// Index tokenizes and indexes body[field] for every field given.
func (f *FTS) Index(docID string, fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.docFields[docID]; !exists {
		f.docCount++
	}

	f.docFields[docID] = map[string][]string{}

	for field, text := range fields {
		tokens := f.Tokenize(text)
		f.docFields[docID][field] = tokens

		for pos, term := range tokens {
			byDoc, ok := f.postings[term]
			if !ok {
				byDoc = map[string]map[string]*ftsPosting{}
				f.postings[term] = byDoc
			}

			byField, ok := byDoc[docID]
			if !ok {
				byField = map[string]*ftsPosting{}
				byDoc[docID] = byField
			}

			bm, ok := f.termDocs[term]
			if !ok {
				bm = roaring.New()
				f.termDocs[term] = bm
			}

			bm.Add(f.docNum(docID))

			p, ok := byField[field]
			if !ok {
				p = &ftsPosting{}
				byField[field] = p
			}

			p.positions = append(p.positions, pos)
		}
	}
}

// Remove drops every posting recorded for docID.
func (f *FTS) Remove(docID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.docFields[docID]; !ok {
		return
	}

	delete(f.docFields, docID)
	f.docCount--

	if num, ok := f.docIDs[docID]; ok {
		delete(f.docIDs, docID)
		delete(f.docNames, num)

		for term, bm := range f.termDocs {
			bm.Remove(num)

			if bm.IsEmpty() {
				delete(f.termDocs, term)
			}
		}
	}

	for term, byDoc := range f.postings {
		delete(byDoc, docID)

		if len(byDoc) == 0 {
			delete(f.postings, term)
		}
	}
}

// GetDocumentFrequency returns the number of documents containing term
// (spec.md §4.5).
func (f *FTS) GetDocumentFrequency(term string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.opts.Language == "en" {
		term = stemEnglish(strings.ToLower(term))
	}

	bm, ok := f.termDocs[term]
	if !ok {
		return 0
	}

	return int(bm.GetCardinality())
}

// ScoredDoc is one BM25-scored search result.
type ScoredDoc struct {
	DocID string
	Score float64
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Search scores every document containing any query term via BM25.
func (f *FTS) Search(query string) []ScoredDoc {
	f.mu.RLock()
	defer f.mu.RUnlock()

	terms := f.Tokenize(query)
	scores := map[string]float64{}

	avgDocLen := f.averageDocLength()

	for _, term := range terms {
		byDoc, ok := f.postings[term]
		if !ok {
			continue
		}

		idf := math.Log(1 + (float64(f.docCount)-float64(len(byDoc))+0.5)/(float64(len(byDoc))+0.5))

		for docID, byField := range byDoc {
			tf := 0
			for _, p := range byField {
				tf += len(p.positions)
			}

			docLen := f.docLength(docID)
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*docLen/avgDocLen)
			scores[docID] += idf * (float64(tf) * (bm25K1 + 1) / denom)
		}
	}

	out := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		out = append(out, ScoredDoc{DocID: docID, Score: score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	return out
}

func (f *FTS) docLength(docID string) float64 {
	total := 0
	for _, tokens := range f.docFields[docID] {
		total += len(tokens)
	}

	return float64(total)
}

func (f *FTS) averageDocLength() float64 {
	if f.docCount == 0 {
		return 1
	}

	total := 0.0
	for docID := range f.docFields {
		total += f.docLength(docID)
	}

	return total / float64(f.docCount)
}

// SearchPhrase returns documents where query's tokens appear in order and
// contiguous within at least one indexed field — the caller does not name
// which field, matching a phrase found in any single one of them (a
// document with "brown" at the end of its title and "fox" at the start of
// its body does not match; one with "brown fox" in either field does).
func (f *FTS) SearchPhrase(query string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	terms := f.Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	first, ok := f.postings[terms[0]]
	if !ok {
		return nil
	}

	var matches []string

	for docID, byField := range first {
		for field := range byField {
			if f.matchesPhraseInField(docID, field, terms) {
				matches = append(matches, docID)
				break
			}
		}
	}

	sort.Strings(matches)

	return matches
}

// SearchPhraseInField is [FTS.SearchPhrase] restricted to one named field,
// for callers that already know which field a phrase should live in and
// want to rule out an accidental match elsewhere.
func (f *FTS) SearchPhraseInField(query, field string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	terms := f.Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	first, ok := f.postings[terms[0]]
	if !ok {
		return nil
	}

	var matches []string

	for docID := range first {
		if f.matchesPhraseInField(docID, field, terms) {
			matches = append(matches, docID)
		}
	}

	sort.Strings(matches)

	return matches
}

func (f *FTS) matchesPhraseInField(docID, field string, terms []string) bool {
	firstField, ok := f.postings[terms[0]][docID]
	if !ok {
		return false
	}

	starts, ok := firstField[field]
	if !ok {
		return false
	}

	for _, start := range starts.positions {
		if f.phraseContinuesFrom(docID, field, terms, start) {
			return true
		}
	}

	return false
}

func (f *FTS) phraseContinuesFrom(docID, field string, terms []string, start int) bool {
	for i := 1; i < len(terms); i++ {
		byDoc, ok := f.postings[terms[i]]
		if !ok {
			return false
		}

		byField, ok := byDoc[docID]
		if !ok {
			return false
		}

		fieldPostings, ok := byField[field]
		if !ok {
			return false
		}

		if !containsInt(fieldPostings.positions, start+i) {
			return false
		}
	}

	return true
}

func containsInt(haystack []int, v int) bool {
	for _, h := range haystack {
		if h == v {
			return true
		}
	}

	return false
}

// HighlightOptions configures [AddHighlights].
type HighlightOptions struct {
	PreTag    string
	PostTag   string
	MaxLength int
}

func (o HighlightOptions) withDefaults() HighlightOptions {
	if o.PreTag == "" {
		o.PreTag = "<mark>"
	}

	if o.PostTag == "" {
		o.PostTag = "</mark>"
	}

	if o.MaxLength <= 0 {
		o.MaxLength = 160
	}

	return o
}

// AddHighlights wraps each whitespace-separated word of text that holds a
// query term (compared after tokenizing and stemming both sides) with
// opts' tags and returns a snippet centered on the first match, escaping
// any HTML already present in text (spec.md §4.5). docID and field are
// not consulted; the caller passes the text to highlight.
func (f *FTS) AddHighlights(docID, field, text, query string, opts HighlightOptions) string {
	opts = opts.withDefaults()

	stems := map[string]bool{}
	for _, t := range f.Tokenize(query) {
		stems[t] = true
	}

	escaped := html.EscapeString(text)
	words := strings.Fields(escaped)

	firstMatch := -1

	var highlighted []string

	for i, w := range words {
		matched := false

		for _, tok := range f.Tokenize(html.UnescapeString(w)) {
			if stems[tok] {
				matched = true
				break
			}
		}

		if matched {
			if firstMatch == -1 {
				firstMatch = i
			}

			highlighted = append(highlighted, opts.PreTag+w+opts.PostTag)
		} else {
			highlighted = append(highlighted, w)
		}
	}

	if firstMatch == -1 {
		return truncate(escaped, opts.MaxLength)
	}

	return centeredSnippet(highlighted, firstMatch, opts.MaxLength)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	return s[:maxLen]
}

func centeredSnippet(words []string, center, maxLen int) string {
	snippet := strings.Join(words, " ")
	if len(snippet) <= maxLen {
		return snippet
	}

	before := strings.Join(words[:center], " ")
	window := maxLen / 2

	start := 0
	if len(before) > window {
		start = len(before) - window
	}

	end := start + maxLen
	if end > len(snippet) {
		end = len(snippet)
	}

	prefix := ""
	if start > 0 {
		prefix = "..."
	}

	suffix := ""
	if end < len(snippet) {
		suffix = "..."
	}

	return prefix + snippet[start:end] + suffix
}
