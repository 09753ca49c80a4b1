// Package parquedb is the library façade: [Open] wires an object store,
// event log, entity backend, indexes, transaction manager, and background
// maintenance (compaction, retention) into one [DB], mirroring the
// teacher's pkg/mddb.Open[T Document] constructor.
package parquedb

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/internal/compaction"
	"github.com/parquedb/parquedb/internal/config"
	"github.com/parquedb/parquedb/internal/entitystore"
	"github.com/parquedb/parquedb/internal/eventlog"
	"github.com/parquedb/parquedb/internal/index"
	"github.com/parquedb/parquedb/internal/relationship"
	"github.com/parquedb/parquedb/internal/retention"
	"github.com/parquedb/parquedb/internal/streaming"
	"github.com/parquedb/parquedb/internal/txn"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

// DB is an open ParqueDB database. Obtain one with [Open]; call
// [NewCollection] against it to get typed access to a namespace.
type DB struct {
	dir string
	cfg config.Config
	log zerolog.Logger

	store   objectstore.ObjectStore
	writer  *eventlog.Writer
	events  *eventlog.EventLog
	backend entitystore.EntityBackend
	relIdx  *relationship.Index
	links   []relationship.LinkSchema

	compaction *compaction.Scheduler
	streaming  *streaming.Engine

	mu        sync.Mutex
	retention map[string]*retention.Manager
	fts       map[string]*index.FTS
	vectors   map[string]*index.Vector

	closed bool
}

// Open loads dir/parquedb.json (or applies defaults if absent), brings up
// the object store it names, and wires every subsystem on top of it.
//
// dir need not exist yet for a "local" storage.type database: the local
// object store creates it when Open constructs the store.
func Open(ctx context.Context, dir string, opts ...Option) (*DB, error) {
	if dir == "" {
		return nil, &Error{Kind: ErrValidation, Err: fmt.Errorf("dir must not be empty")}
	}

	oc := defaultOpenConfig()
	for _, opt := range opts {
		opt(&oc)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, wrapErr(err, "", dir)
	}

	store, err := openStore(dir, cfg, oc)
	if err != nil {
		return nil, wrapErr(err, "", dir)
	}

	codec := columnar.NewNativeCodec()

	writer := eventlog.NewWriter(store, codec, eventlog.WriterOptions{
		MaxBufferSize:   cfg.EventWriter.MaxBufferSize,
		MaxBufferBytes:  int64(cfg.EventWriter.MaxBufferBytes),
		FlushIntervalMs: int64(cfg.EventWriter.FlushIntervalMs),
	}, nil)

	events := eventlog.NewEventLog(writer, store, codec)

	var backend entitystore.EntityBackend
	if oc.iceberg != "" {
		backend = entitystore.NewIcebergBackend(store, codec, events, false, oc.iceberg)
	} else {
		backend = entitystore.NewNativeBackend(store, codec, events, false)
	}

	relIdx := relationship.NewIndex()

	compactionSched := compaction.New(store, codec, compaction.Config{
		MinFiles:   cfg.Compaction.MinFiles,
		MaxFiles:   cfg.Compaction.MaxFiles,
		TargetSize: cfg.Compaction.TargetSize,
		WindowMs:   int64(cfg.Compaction.WindowMs),
	}, nil)

	db := &DB{
		dir:        dir,
		cfg:        cfg,
		log:        oc.log,
		store:      store,
		writer:     writer,
		events:     events,
		backend:    backend,
		relIdx:     relIdx,
		links:      oc.links,
		compaction: compactionSched,
		streaming:  streaming.NewEngine(backend, store, codec, nil),
		retention:  map[string]*retention.Manager{},
		fts:        map[string]*index.FTS{},
		vectors:    map[string]*index.Vector{},
	}

	if cfg.EventWriter.FlushIntervalMs > 0 {
		writer.StartTimer(ctx)
	}

	db.log.Debug().Str("dir", dir).Str("storage", cfg.Storage.Type).Msg("parquedb: opened")

	return db, nil
}

func openStore(dir string, cfg config.Config, oc openConfig) (objectstore.ObjectStore, error) {
	switch cfg.Storage.Type {
	case "remote":
		return objectstore.NewRemote(cfg.Storage.BaseURL, oc.httpClient, oc.log)
	default:
		return objectstore.NewLocal(dir, oc.log)
	}
}

// Config returns the resolved configuration the database was opened with.
func (db *DB) Config() config.Config { return db.cfg }

// ObjectStore exposes the underlying object store, for callers that need
// direct access (e.g. inspecting raw dataset files written by streaming
// views).
func (db *DB) ObjectStore() objectstore.ObjectStore { return db.store }

// Backend exposes the underlying entity backend directly, for callers
// that need operations [Collection] does not surface (schema inspection,
// cross-namespace stats).
func (db *DB) Backend() entitystore.EntityBackend { return db.backend }

// EventLog exposes the event log directly (time-travel reads, replay).
func (db *DB) EventLog() *eventlog.EventLog { return db.events }

// Writer exposes the buffering event writer for callers that want to
// subscribe directly via [eventlog.Writer.OnFlush] (e.g. wiring their own
// materialized views alongside [streaming.Engine.RegisterView]).
func (db *DB) Writer() *eventlog.Writer { return db.writer }

// Streaming exposes the streaming engine so callers can register
// materialized views (spec.md §4.10).
func (db *DB) Streaming() *streaming.Engine { return db.streaming }

// Compaction exposes the compaction scheduler (spec.md §4.8).
func (db *DB) Compaction() *compaction.Scheduler { return db.compaction }

// Retention returns the retention manager for collection, creating one
// from cfg the first time it is requested.
func (db *DB) Retention(collection string, cfg retention.Config) *retention.Manager {
	db.mu.Lock()
	defer db.mu.Unlock()

	if m, ok := db.retention[collection]; ok {
		return m
	}

	cfg.Collection = collection
	m := retention.New(db.backend, cfg, nil)
	db.retention[collection] = m

	return m
}

// FTS returns the full-text index named name, loading it from the object
// store if a snapshot exists, creating an empty one otherwise.
func (db *DB) FTS(ctx context.Context, name string) (*index.FTS, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if f, ok := db.fts[name]; ok {
		return f, nil
	}

	f := index.NewFTS(index.FTSOptions{
		Language:      db.cfg.FTS.Language,
		MinWordLength: db.cfg.FTS.MinWordLength,
	})

	path := ftsPath(name)
	if err := f.Load(ctx, db.store, path); err != nil && !objectstore.IsNotFound(err) {
		return nil, wrapErr(err, name, path)
	}

	db.fts[name] = f

	return f, nil
}

// Vector returns the vector index named name, loading it from the object
// store if a snapshot exists, creating an empty one otherwise.
func (db *DB) Vector(ctx context.Context, name string) (*index.Vector, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if v, ok := db.vectors[name]; ok {
		return v, nil
	}

	v := index.NewVector(index.VectorOptions{
		M:              db.cfg.VectorIndex.M,
		EfConstruction: db.cfg.VectorIndex.EfConstruction,
		Metric:         index.Metric(db.cfg.VectorIndex.Metric),
		MaxNodes:       db.cfg.VectorIndex.MaxNodes,
		MaxBytes:       db.cfg.VectorIndex.MaxBytes,
	})

	path := vectorPath(name)
	if err := v.Load(ctx, db.store, path); err != nil && !objectstore.IsNotFound(err) {
		return nil, wrapErr(err, name, path)
	}

	db.vectors[name] = v

	return v, nil
}

// newTxn returns a fresh, single-use [txn.Manager]. Collection methods
// each get their own so that one finalized (committed or rolled back)
// manager never blocks a later, unrelated call — only [DB.Transact]
// deliberately shares one manager across several operations.
func (db *DB) newTxn() *txn.Manager {
	return txn.New(db.backend, db.relIdx, db.links)
}

// Transact runs fn against a single [txn.Manager]: every [Tx] operation
// issued inside fn applies immediately and stays staged until fn returns.
// A nil return commits; any other return rolls every staged operation
// back before propagating the error (spec.md §4.7).
func (db *DB) Transact(ctx context.Context, fn func(tx *Tx) error) error {
	m := db.newTxn()
	tx := &Tx{mgr: m}

	if err := fn(tx); err != nil {
		if rbErr := m.Rollback(ctx); rbErr != nil {
			return wrapErr(rbErr, "", "")
		}

		return err
	}

	if err := m.Commit(ctx); err != nil {
		return wrapErr(err, "", "")
	}

	return nil
}

func ftsPath(name string) string    { return "indexes/" + name + ".fts.json" }
func vectorPath(name string) string { return "indexes/" + name + ".vector.json" }

// Close flushes the event writer, persists any opened FTS/vector index
// snapshots, and releases background timers. A closed DB must not be
// used again.
func (db *DB) Close(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return &Error{Kind: ErrClosed}
	}

	db.closed = true

	db.writer.StopTimer()

	if err := db.writer.Flush(ctx); err != nil {
		return wrapErr(err, "", db.dir)
	}

	for name, f := range db.fts {
		if err := f.Save(ctx, db.store, ftsPath(name)); err != nil {
			return wrapErr(err, name, ftsPath(name))
		}
	}

	for name, v := range db.vectors {
		if err := v.Save(ctx, db.store, vectorPath(name)); err != nil {
			return wrapErr(err, name, vectorPath(name))
		}
	}

	if err := db.writer.Close(ctx); err != nil {
		return wrapErr(err, "", db.dir)
	}

	db.log.Debug().Str("dir", db.dir).Msg("parquedb: closed")

	return nil
}
