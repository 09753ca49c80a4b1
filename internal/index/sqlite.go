package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// SQLiteStore backs SST persistence with a SQLite postings table, one row
// per (index, key, docId). Grounded on the same open/pragma/schema shape as
// the ticket tracker's secondary index (PRAGMA journal_mode=WAL,
// synchronous=FULL for durability, mmap/cache tuned for read-heavy lookup),
// generalized from ticket-specific columns to a generic key/posting pair any
// index family can save/load through.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the SQLite file at path and
// applies the same durability pragmas the ticket tracker's secondary index
// uses.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("index: sqlite store path is empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("index: open sqlite: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("index: ping sqlite: %w", err)
	}

	if err := applySQLitePragmas(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	if err := createPostingsSchema(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func applySQLitePragmas(ctx context.Context, db *sql.DB) error {
	statements := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA cache_size = -20000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index: apply pragma %q: %w", stmt, err)
		}
	}

	return nil
}

func createPostingsSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS postings (
			index_name TEXT NOT NULL,
			key_json   TEXT NOT NULL,
			doc_id     TEXT NOT NULL,
			row_group  INTEGER NOT NULL,
			row_offset INTEGER NOT NULL,
			PRIMARY KEY (index_name, key_json, doc_id)
		) WITHOUT ROWID`,
		"CREATE INDEX IF NOT EXISTS idx_postings_index_key ON postings(index_name, key_json)",
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index: apply schema statement %q: %w", stmt, err)
		}
	}

	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSST atomically replaces name's postings with s.entries' current
// contents (spec.md §4.5 "save()").
func (s *SST) SaveSST(ctx context.Context, store *SQLiteStore, name string) error {
	s.mu.RLock()
	entries := append([]sstEntry(nil), s.entries...)
	s.mu.RUnlock()

	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin save txn: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM postings WHERE index_name = ?", name); err != nil {
		return fmt.Errorf("index: clear postings for %s: %w", name, err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO postings (index_name, key_json, doc_id, row_group, row_offset)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare insert: %w", err)
	}

	defer func() { _ = insert.Close() }()

	for _, e := range entries {
		keyJSON, err := json.Marshal([]any(e.key))
		if err != nil {
			return fmt.Errorf("index: encode key for %s: %w", name, err)
		}

		for _, p := range e.postings {
			if _, err := insert.ExecContext(ctx, name, string(keyJSON), p.DocID, p.RowGroup, p.RowOffset); err != nil {
				return fmt.Errorf("index: insert posting for %s: %w", name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit save txn: %w", err)
	}

	committed = true

	return nil
}

// LoadSST rebuilds the index's in-memory entries from name's persisted
// postings, then sorts them with the same key comparator Insert uses so
// the sorted-entries invariant holds (spec.md §4.5 "load()").
func (s *SST) LoadSST(ctx context.Context, store *SQLiteStore, name string) error {
	rows, err := store.db.QueryContext(ctx, `
		SELECT key_json, doc_id, row_group, row_offset
		FROM postings
		WHERE index_name = ?`, name)
	if err != nil {
		return fmt.Errorf("index: query postings for %s: %w", name, err)
	}
	defer rows.Close()

	byKey := map[string]*sstEntry{}
	order := make([]string, 0)

	for rows.Next() {
		var (
			keyJSON string
			p       Posting
		)

		if err := rows.Scan(&keyJSON, &p.DocID, &p.RowGroup, &p.RowOffset); err != nil {
			return fmt.Errorf("index: scan posting for %s: %w", name, err)
		}

		entry, ok := byKey[keyJSON]
		if !ok {
			var key Key
			if err := json.Unmarshal([]byte(keyJSON), &key); err != nil {
				return fmt.Errorf("index: decode key for %s: %w", name, err)
			}

			entry = &sstEntry{key: key}
			byKey[keyJSON] = entry
			order = append(order, keyJSON)
		}

		entry.postings = append(entry.postings, p)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("index: iterate postings for %s: %w", name, err)
	}

	fresh := make([]sstEntry, 0, len(order))
	for _, k := range order {
		fresh = append(fresh, *byKey[k])
	}

	sort.Slice(fresh, func(i, j int) bool { return compareKeyParts(fresh[i].key, fresh[j].key) })

	s.mu.Lock()
	s.entries = fresh
	s.mu.Unlock()

	return nil
}
