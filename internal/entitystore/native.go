package entitystore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/internal/domainerr"
	"github.com/parquedb/parquedb/internal/eventlog"
	"github.com/parquedb/parquedb/internal/filter"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

// NativeBackend is the flat data/<ns>/<file>.parquet layout (spec.md
// §4.4 "Native"). Each namespace's live table - every entity, including
// soft-deleted ones - round-trips through a single current data file that
// every persist rewrites whole. This package never writes several small
// files per namespace; merging such files into fewer is
// [internal/compaction]'s job (see DESIGN.md).
type NativeBackend struct {
	store    objectstore.ObjectStore
	codec    columnar.Codec
	events   EventSink
	readOnly bool
	layout   layout
	kind     string

	mu     sync.RWMutex
	tables map[string]*nativeTable
}

type nativeTable struct {
	entities map[string]Entity // local id -> entity, includes soft-deleted
}

// NewNativeBackend constructs a [NativeBackend] over store, using codec
// to encode each namespace's current file and events to record mutations.
func NewNativeBackend(store objectstore.ObjectStore, codec columnar.Codec, events EventSink, readOnly bool) *NativeBackend {
	return &NativeBackend{
		store:    store,
		codec:    codec,
		events:   events,
		readOnly: readOnly,
		layout:   nativeLayout{},
		kind:     "native",
		tables:   map[string]*nativeTable{},
	}
}

// NewIcebergBackend constructs an [EntityBackend] using the Iceberg-style
// warehouse layout (spec.md §4.4): every persist also appends a metadata
// snapshot and advances warehouse/<db>/<ns>/metadata/version-hint.txt.
func NewIcebergBackend(store objectstore.ObjectStore, codec columnar.Codec, events EventSink, readOnly bool, db string) *NativeBackend {
	return &NativeBackend{
		store:    store,
		codec:    codec,
		events:   events,
		readOnly: readOnly,
		layout:   icebergLayout{db: db},
		kind:     "iceberg",
		tables:   map[string]*nativeTable{},
	}
}

func (b *NativeBackend) Type() string                  { return b.kind }
func (b *NativeBackend) SupportsTimeTravel() bool      { return true }
func (b *NativeBackend) SupportsSchemaEvolution() bool { return true }
func (b *NativeBackend) ReadOnly() bool                { return b.readOnly }

func dataPath(ns string) string {
	return fmt.Sprintf("data/%s/current.parquet", ns)
}

func (b *NativeBackend) loadTable(ctx context.Context, ns string) (*nativeTable, error) {
	b.mu.RLock()
	t, ok := b.tables[ns]
	b.mu.RUnlock()

	if ok {
		return t, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.tables[ns]; ok {
		return t, nil
	}

	t = &nativeTable{entities: map[string]Entity{}}

	data, err := b.store.Read(ctx, b.layout.DataPath(ns))
	if err != nil {
		if objectstore.IsNotFound(err) {
			b.tables[ns] = t
			return t, nil
		}

		return nil, fmt.Errorf("entitystore: load namespace %s: %w", ns, err)
	}

	rows, err := b.codec.Decode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("entitystore: decode namespace %s: %w", ns, err)
	}

	for _, r := range rows {
		e := rowToEntity(r)
		t.entities[e.ID] = e
	}

	b.tables[ns] = t

	return t, nil
}

// persist re-encodes the whole table and atomically replaces the
// namespace's current data file. Must be called with b.mu held.
func (b *NativeBackend) persist(ctx context.Context, ns string, t *nativeTable) error {
	rows := make([]columnar.Row, 0, len(t.entities))

	ids := make([]string, 0, len(t.entities))
	for id := range t.entities {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		rows = append(rows, entityToRow(t.entities[id]))
	}

	data, _, err := b.codec.Encode(ctx, rows)
	if err != nil {
		return fmt.Errorf("entitystore: encode namespace %s: %w", ns, err)
	}

	if err := b.store.WriteAtomic(ctx, b.layout.DataPath(ns), data); err != nil {
		return fmt.Errorf("entitystore: persist namespace %s: %w", ns, err)
	}

	if err := b.layout.AfterPersist(ctx, b.store, ns, data, "overwrite"); err != nil {
		return fmt.Errorf("entitystore: after-persist namespace %s: %w", ns, err)
	}

	return nil
}

func (b *NativeBackend) appendEvent(ctx context.Context, ns, id string, op eventlog.Op, actor string, ts int64, before, after replayDoc) error {
	target, err := eventlog.TargetFromEntityID(ns + "/" + id)
	if err != nil {
		return err
	}

	eid, err := eventlog.NewID(ts)
	if err != nil {
		return err
	}

	e := eventlog.Event{ID: eid, TS: ts, Op: op, Target: target, Actor: actor}

	if before != nil {
		e.Before = mustMarshal(before)
	}

	if after != nil {
		e.After = mustMarshal(after)
	}

	return b.events.Append(ctx, e)
}

func (b *NativeBackend) Create(ctx context.Context, ns string, body replayDoc, opts CreateOptions) (Entity, error) {
	if b.readOnly {
		return Entity{}, domainerr.ReadOnly("Create")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.loadTableLocked(ctx, ns)
	if err != nil {
		return Entity{}, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	if _, exists := t.entities[id]; exists {
		return Entity{}, domainerr.AlreadyExists(ns, id)
	}

	ts := opts.Ts
	if ts == 0 {
		ts = nowMillis()
	}

	e := Entity{
		Ns: ns, ID: id, Version: 1,
		CreatedAt: ts, UpdatedAt: ts,
		CreatedBy: opts.Actor, UpdatedBy: opts.Actor,
		Body: cloneDoc(body),
	}

	if err := b.appendEvent(ctx, ns, id, eventlog.OpCreate, opts.Actor, ts, nil, withMeta(e)); err != nil {
		return Entity{}, err
	}

	t.entities[id] = e

	if err := b.persist(ctx, ns, t); err != nil {
		return Entity{}, err
	}

	return e, nil
}

// loadTableLocked is [loadTable] for callers already holding b.mu.
func (b *NativeBackend) loadTableLocked(ctx context.Context, ns string) (*nativeTable, error) {
	if t, ok := b.tables[ns]; ok {
		return t, nil
	}

	b.mu.Unlock()
	t, err := b.loadTable(ctx, ns)
	b.mu.Lock()

	return t, err
}

func (b *NativeBackend) BulkCreate(ctx context.Context, ns string, bodies []replayDoc, opts CreateOptions) ([]Entity, error) {
	out := make([]Entity, 0, len(bodies))

	for _, body := range bodies {
		perItem := opts
		perItem.ID = "" // bulk create always generates ids, per spec.md §4.4 "create" semantics

		e, err := b.Create(ctx, ns, body, perItem)
		if err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	return out, nil
}

func (b *NativeBackend) Get(ctx context.Context, ns, id string, includeDeleted bool) (Entity, error) {
	t, err := b.loadTable(ctx, ns)
	if err != nil {
		return Entity{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := t.entities[id]
	if !ok || (!includeDeleted && e.IsDeleted()) {
		return Entity{}, domainerr.NotFound(ns, id)
	}

	return e, nil
}

func (b *NativeBackend) GetByPrefix(ctx context.Context, ns, prefix string) (Entity, error) {
	t, err := b.loadTable(ctx, ns)
	if err != nil {
		return Entity{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(t.entities))
	for id := range t.entities {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			return t.entities[id], nil
		}
	}

	return Entity{}, domainerr.NotFound(ns, prefix)
}

func (b *NativeBackend) Find(ctx context.Context, ns string, opts FindOptions) ([]Entity, error) {
	t, err := b.loadTable(ctx, ns)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(t.entities))
	for id := range t.entities {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	var out []Entity

	skipped := 0

	for _, id := range ids {
		e := t.entities[id]

		if e.IsDeleted() && !opts.IncludeDeleted {
			continue
		}

		if opts.Filter != nil && !filter.Match(entityDocView(e), opts.Filter) {
			continue
		}

		if opts.Offset > 0 && skipped < opts.Offset {
			skipped++
			continue
		}

		out = append(out, e)

		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}

	return out, nil
}

// entityDocView exposes metadata fields alongside the body for filter
// evaluation without mutating the entity's own Body map.
func entityDocView(e Entity) map[string]any {
	view := make(map[string]any, len(e.Body)+4)
	for k, v := range e.Body {
		view[k] = v
	}

	view["$id"] = e.ID
	view["$type"] = e.Type
	view["version"] = e.Version
	view["deletedAt"] = e.DeletedAt

	return view
}

func (b *NativeBackend) Update(ctx context.Context, ns, id string, ops []UpdateOp, opts UpdateOptions) (Entity, error) {
	if b.readOnly {
		return Entity{}, domainerr.ReadOnly("Update")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.loadTableLocked(ctx, ns)
	if err != nil {
		return Entity{}, err
	}

	cur, ok := t.entities[id]
	if !ok {
		return Entity{}, domainerr.NotFound(ns, id)
	}

	if opts.ExpectedVersion != 0 && opts.ExpectedVersion != cur.Version {
		return Entity{}, domainerr.VersionMismatch(ns, id, opts.ExpectedVersion, cur.Version)
	}

	before := cloneDoc(cur.Body)

	ts := opts.Ts
	if ts == 0 {
		ts = nowMillis()
	}

	next := cur
	next.Body = applyOps(cloneDoc(cur.Body), ops)
	next.Version = cur.Version + 1
	next.UpdatedAt = ts
	next.UpdatedBy = opts.Actor

	delta := diffBody(before, next.Body)

	if err := b.appendEvent(ctx, ns, id, eventlog.OpUpdate, opts.Actor, ts, withMeta(cur), delta); err != nil {
		return Entity{}, err
	}

	t.entities[id] = next

	if err := b.persist(ctx, ns, t); err != nil {
		return Entity{}, err
	}

	return next, nil
}

func (b *NativeBackend) BulkUpdate(ctx context.Context, ns string, ids []string, ops []UpdateOp, opts UpdateOptions) ([]Entity, error) {
	out := make([]Entity, 0, len(ids))

	for _, id := range ids {
		e, err := b.Update(ctx, ns, id, ops, opts)
		if err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	return out, nil
}

func (b *NativeBackend) Delete(ctx context.Context, ns, id string, opts DeleteOptions) error {
	if b.readOnly {
		return domainerr.ReadOnly("Delete")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.loadTableLocked(ctx, ns)
	if err != nil {
		return err
	}

	cur, ok := t.entities[id]
	if !ok {
		return domainerr.NotFound(ns, id)
	}

	if opts.ExpectedVersion != 0 && opts.ExpectedVersion != cur.Version {
		return domainerr.VersionMismatch(ns, id, opts.ExpectedVersion, cur.Version)
	}

	ts := opts.Ts
	if ts == 0 {
		ts = nowMillis()
	}

	if opts.Hard {
		if err := b.appendEvent(ctx, ns, id, eventlog.OpDelete, opts.Actor, ts, withMeta(cur), nil); err != nil {
			return err
		}

		delete(t.entities, id)

		return b.persist(ctx, ns, t)
	}

	next := cur
	next.Version = cur.Version + 1
	next.DeletedAt = ts
	next.DeletedBy = opts.Actor
	next.UpdatedAt = ts
	next.UpdatedBy = opts.Actor

	if err := b.appendEvent(ctx, ns, id, eventlog.OpUpdate, opts.Actor, ts, withMeta(cur), replayDoc{"deletedAt": ts, "deletedBy": opts.Actor}); err != nil {
		return err
	}

	t.entities[id] = next

	return b.persist(ctx, ns, t)
}

func (b *NativeBackend) BulkDelete(ctx context.Context, ns string, ids []string, opts DeleteOptions) error {
	for _, id := range ids {
		if err := b.Delete(ctx, ns, id, opts); err != nil {
			return err
		}
	}

	return nil
}

func (b *NativeBackend) Restore(ctx context.Context, ns, id string) (Entity, error) {
	if b.readOnly {
		return Entity{}, domainerr.ReadOnly("Restore")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.loadTableLocked(ctx, ns)
	if err != nil {
		return Entity{}, err
	}

	cur, ok := t.entities[id]
	if !ok || !cur.IsDeleted() {
		return Entity{}, domainerr.NotFound(ns, id)
	}

	ts := nowMillis()
	next := cur
	next.Version = cur.Version + 1
	next.DeletedAt = 0
	next.DeletedBy = ""
	next.UpdatedAt = ts

	if err := b.appendEvent(ctx, ns, id, eventlog.OpUpdate, "", ts, withMeta(cur), replayDoc{"deletedAt": map[string]any{"$$unset": true}}); err != nil {
		return Entity{}, err
	}

	t.entities[id] = next

	if err := b.persist(ctx, ns, t); err != nil {
		return Entity{}, err
	}

	return next, nil
}

func (b *NativeBackend) GetSchema(ctx context.Context, ns string) (Schema, error) {
	t, err := b.loadTable(ctx, ns)
	if err != nil {
		return Schema{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	fields := map[string]string{}

	for _, e := range t.entities {
		for k, v := range e.Body {
			fields[k] = inferType(v)
		}
	}

	return Schema{Ns: ns, Fields: fields}, nil
}

func (b *NativeBackend) ListNamespaces(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}

	var out []string

	token := ""

	for {
		page, err := b.store.List(ctx, "data/", token)
		if err != nil {
			return nil, fmt.Errorf("entitystore: list namespaces: %w", err)
		}

		for _, entry := range page.Entries {
			ns := trimDataPrefix(entry.Path)
			if ns != "" && !seen[ns] {
				seen[ns] = true
				out = append(out, ns)
			}
		}

		if page.NextToken == "" {
			break
		}

		token = page.NextToken
	}

	sort.Strings(out)

	return out, nil
}

func trimDataPrefix(prefix string) string {
	const want = "data/"
	if len(prefix) <= len(want) {
		return ""
	}

	rest := prefix[len(want):]

	for i, r := range rest {
		if r == '/' {
			return rest[:i]
		}
	}

	return rest
}

func (b *NativeBackend) Stats(ctx context.Context, ns string) (Stats, error) {
	t, err := b.loadTable(ctx, ns)
	if err != nil {
		return Stats{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{Ns: ns, FileCount: 1}

	for _, e := range t.entities {
		if e.IsDeleted() {
			s.DeletedCount++
		} else {
			s.LiveCount++
		}
	}

	return s, nil
}

func inferType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, int, int64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return "unknown"
	}
}

func cloneDoc(d replayDoc) replayDoc {
	if d == nil {
		return replayDoc{}
	}

	out := make(replayDoc, len(d))
	for k, v := range d {
		out[k] = v
	}

	return out
}

func withMeta(e Entity) replayDoc {
	d := cloneDoc(e.Body)
	d["$type"] = e.Type
	d["version"] = e.Version
	d["createdAt"] = e.CreatedAt
	d["updatedAt"] = e.UpdatedAt
	d["createdBy"] = e.CreatedBy
	d["updatedBy"] = e.UpdatedBy

	if e.DeletedAt != 0 {
		d["deletedAt"] = e.DeletedAt
		d["deletedBy"] = e.DeletedBy
	}

	return d
}

// diffBody returns only the fields that changed between before and
// after, using the unset marker for fields present in before but absent
// from after (see internal/replay's merge convention).
func diffBody(before, after replayDoc) replayDoc {
	delta := replayDoc{}

	for k, v := range after {
		if bv, ok := before[k]; !ok || !equalAny(bv, v) {
			delta[k] = v
		}
	}

	for k := range before {
		if _, ok := after[k]; !ok {
			delta[k] = map[string]any{"$$unset": true}
		}
	}

	return delta
}

func equalAny(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func applyOps(body replayDoc, ops []UpdateOp) replayDoc {
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			body[op.Field] = op.Value
		case OpUnset:
			delete(body, op.Field)
		case OpInc:
			body[op.Field] = incValue(body[op.Field], op.Value)
		case OpLink:
			body[op.Field] = op.Value
		case OpUnlink:
			delete(body, op.Field)
		}
	}

	return body
}

func incValue(cur, delta any) any {
	toFloat := func(v any) float64 {
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int:
			return float64(n)
		case int32:
			return float64(n)
		case int64:
			return float64(n)
		default:
			return 0
		}
	}

	return toFloat(cur) + toFloat(delta)
}

func mustMarshal(d replayDoc) []byte {
	b, err := json.Marshal(d)
	if err != nil {
		// The body is always built from decoded JSON or caller-supplied
		// plain values; a marshal failure here means a non-JSON-safe
		// value (e.g. a channel) was placed in an entity body, which is
		// a programmer error the caller must fix, not a runtime error
		// this layer can recover from.
		panic(fmt.Sprintf("entitystore: marshal event body: %v", err))
	}

	return b
}

var _ EntityBackend = (*NativeBackend)(nil)
