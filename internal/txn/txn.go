// Package txn implements the TransactionManager (spec.md §4.7): a staged
// sequence of entity operations that commit atomically against an
// [entitystore.EntityBackend] and a [relationship.Index], or roll back
// leaving no observable effect.
package txn

import (
	"context"
	"fmt"

	"github.com/parquedb/parquedb/internal/entitystore"
	"github.com/parquedb/parquedb/internal/relationship"
)

// stageKind identifies which entity operation a stage performed, for
// rollback dispatch.
type stageKind uint8

const (
	stageCreate stageKind = iota
	stageUpdate
	stageDelete
)

// stage is one applied operation kept around for compensating rollback,
// per spec.md §4.7 "(op, args, inverse) triples".
type stage struct {
	kind stageKind
	ns   string
	id   string

	// preImage is the entity state before this stage applied, used to
	// restore it on rollback. For stageCreate it is the zero Entity.
	preImage entitystore.Entity
	existed  bool

	// preLinks/postLinks are the forward links extracted from the entity
	// body before and after this stage, needed to repair the reverse index
	// symmetrically with the entity state.
	preLinks  []relationship.Ref
	postLinks []relationship.Ref
	inverse   string
}

// LinkSchema is re-exported so callers don't need to import relationship
// directly just to stage link-bearing operations.
type LinkSchema = relationship.LinkSchema

// Manager stages operations against one backend/index pair and commits or
// rolls them back as a unit. It is not safe for concurrent use by more
// than one goroutine, matching the single-writer model of spec.md §5.
type Manager struct {
	backend entitystore.EntityBackend
	index   *relationship.Index
	links   []LinkSchema // forward-link schemas consulted to derive reverse-index deltas

	stages     []stage
	committed  bool
	rolledBack bool
}

// New returns a transaction manager staging operations against backend and
// repairing index as links dictates.
func New(backend entitystore.EntityBackend, index *relationship.Index, links []LinkSchema) *Manager {
	return &Manager{backend: backend, index: index, links: links}
}

func (m *Manager) linkSchemasFor(ns string) []LinkSchema {
	var out []LinkSchema

	for _, l := range m.links {
		if l.TargetNs == "" {
			continue
		}

		out = append(out, l)
	}

	_ = ns // every schema is checked per-entity body, not per source ns

	return out
}

func (m *Manager) extractLinks(ns string, body map[string]any) []relationship.Ref {
	var refs []relationship.Ref

	for _, schema := range m.linkSchemasFor(ns) {
		refs = append(refs, relationship.ExtractLinks(body, schema)...)
	}

	return refs
}

func (m *Manager) inverseNames() []string {
	names := make([]string, 0, len(m.links))
	for _, l := range m.links {
		names = append(names, l.InverseName)
	}

	return names
}

// indexAdd adds reverse-index entries for body's forward links grouped by
// inverse name, deriving each target's inverse from the schema whose Field
// produced it, and returns every ref it added.
func (m *Manager) indexAdd(ns, id string, body map[string]any) []relationship.Ref {
	var all []relationship.Ref

	for _, schema := range m.linkSchemasFor(ns) {
		refs := relationship.ExtractLinks(body, schema)
		if len(refs) == 0 {
			continue
		}

		m.index.Add(ns, id, schema.Field, schema.InverseName, refs)
		all = append(all, refs...)
	}

	return all
}

func (m *Manager) indexRemove(ns, id string, body map[string]any) {
	for _, schema := range m.linkSchemasFor(ns) {
		refs := relationship.ExtractLinks(body, schema)
		if len(refs) == 0 {
			continue
		}

		m.index.Remove(ns, id, schema.InverseName, refs)
	}
}

// Create stages a CREATE, applying it immediately to the backend (spec.md
// §4.7: operations participate in the same views as outside-transaction
// writes, just flagged pending until Commit publishes them — here the
// publish step is the reverse-index update, which only happens after the
// backend write succeeds).
func (m *Manager) Create(ctx context.Context, ns string, body map[string]any, opts entitystore.CreateOptions) (entitystore.Entity, error) {
	if m.committed || m.rolledBack {
		return entitystore.Entity{}, fmt.Errorf("txn: manager already finalized")
	}

	created, err := m.backend.Create(ctx, ns, body, opts)
	if err != nil {
		return entitystore.Entity{}, err
	}

	postLinks := m.indexAdd(ns, created.ID, created.Body)

	m.stages = append(m.stages, stage{
		kind:      stageCreate,
		ns:        ns,
		id:        created.ID,
		existed:   false,
		postLinks: postLinks,
	})

	return created, nil
}

// Update stages an UPDATE, applying it immediately and repairing the
// reverse index for any $link/$unlink-affected fields.
func (m *Manager) Update(ctx context.Context, ns, id string, ops []entitystore.UpdateOp, opts entitystore.UpdateOptions) (entitystore.Entity, error) {
	if m.committed || m.rolledBack {
		return entitystore.Entity{}, fmt.Errorf("txn: manager already finalized")
	}

	before, err := m.backend.Get(ctx, ns, id, true)
	if err != nil {
		return entitystore.Entity{}, err
	}

	preLinks := m.extractLinks(ns, before.Body)

	updated, err := m.backend.Update(ctx, ns, id, ops, opts)
	if err != nil {
		return entitystore.Entity{}, err
	}

	m.indexRemove(ns, id, before.Body)
	postLinks := m.indexAdd(ns, id, updated.Body)

	m.stages = append(m.stages, stage{
		kind:      stageUpdate,
		ns:        ns,
		id:        id,
		preImage:  before,
		existed:   true,
		preLinks:  preLinks,
		postLinks: postLinks,
	})

	return updated, nil
}

// Delete stages a DELETE, applying it immediately and dropping the reverse
// entries induced by the deleted entity's forward links.
func (m *Manager) Delete(ctx context.Context, ns, id string, opts entitystore.DeleteOptions) error {
	if m.committed || m.rolledBack {
		return fmt.Errorf("txn: manager already finalized")
	}

	before, err := m.backend.Get(ctx, ns, id, false)
	if err != nil {
		return err
	}

	preLinks := m.extractLinks(ns, before.Body)

	if err := m.backend.Delete(ctx, ns, id, opts); err != nil {
		return err
	}

	m.indexRemove(ns, id, before.Body)

	m.stages = append(m.stages, stage{
		kind:     stageDelete,
		ns:       ns,
		id:       id,
		preImage: before,
		existed:  true,
		preLinks: preLinks,
	})

	return nil
}

// Commit finalizes the transaction. Every staged operation has already
// been applied to the backend and index as it was issued, so Commit's
// only remaining job is to mark the manager closed to further staging —
// there is nothing left to flush, matching spec.md §4.7's "failures
// before the publish step leave no observable effect" (the publish step,
// here, is each stage's own backend write + index update, already done).
func (m *Manager) Commit(_ context.Context) error {
	if m.rolledBack {
		return fmt.Errorf("txn: already rolled back")
	}

	m.committed = true

	return nil
}

// Rollback undoes every staged operation in reverse order (spec.md §4.7
// "mixed sequences roll back in reverse stage order"), restoring entity
// state and repairing the reverse index to match.
func (m *Manager) Rollback(ctx context.Context) error {
	if m.committed {
		return fmt.Errorf("txn: already committed")
	}

	if m.rolledBack {
		return nil
	}

	for i := len(m.stages) - 1; i >= 0; i-- {
		if err := m.undoStage(ctx, m.stages[i]); err != nil {
			return fmt.Errorf("txn: rollback stage %d: %w", i, err)
		}
	}

	m.rolledBack = true

	return nil
}

func (m *Manager) undoStage(ctx context.Context, s stage) error {
	switch s.kind {
	case stageCreate:
		m.removeLinksFor(s.ns, s.id, s.postLinks)

		return m.backend.Delete(ctx, s.ns, s.id, entitystore.DeleteOptions{Hard: true})

	case stageUpdate:
		m.removeLinksFor(s.ns, s.id, s.postLinks)
		m.reinstateLinksFor(s.ns, s.id, s.preLinks)

		return m.restoreBody(ctx, s.ns, s.id, s.preImage)

	case stageDelete:
		m.reinstateLinksFor(s.ns, s.id, s.preLinks)

		return m.restoreBody(ctx, s.ns, s.id, s.preImage)

	default:
		return fmt.Errorf("txn: unknown stage kind %d", s.kind)
	}
}

// removeLinksFor drops reverse entries for refs under every inverse name
// known to this manager's link schemas; the schema is recovered by
// inverse name since refs alone don't carry it.
func (m *Manager) removeLinksFor(ns, id string, refs []relationship.Ref) {
	if len(refs) == 0 {
		return
	}

	for _, name := range m.inverseNames() {
		m.index.Remove(ns, id, name, refs)
	}
}

func (m *Manager) reinstateLinksFor(ns, id string, refs []relationship.Ref) {
	if len(refs) == 0 {
		return
	}

	for _, name := range m.inverseNames() {
		m.index.Add(ns, id, "", name, refs)
	}
}

// restoreBody overwrites the current entity with its pre-image via a
// full-replace update, used to undo both UPDATE and DELETE stages.
func (m *Manager) restoreBody(ctx context.Context, ns, id string, preImage entitystore.Entity) error {
	current, err := m.backend.Get(ctx, ns, id, true)
	if err != nil {
		return err
	}

	if current.IsDeleted() && !preImage.IsDeleted() {
		if _, err := m.backend.Restore(ctx, ns, id); err != nil {
			return err
		}
	}

	ops := replaceOps(current.Body, preImage.Body)

	_, err = m.backend.Update(ctx, ns, id, ops, entitystore.UpdateOptions{})

	return err
}

// replaceOps builds an UpdateOp list that turns from into to: every field
// present in to is $set, every field present in from but missing from to
// is $unset, approximating a full-document replace.
func replaceOps(from, to map[string]any) []entitystore.UpdateOp {
	ops := make([]entitystore.UpdateOp, 0, len(from)+len(to))

	for k, v := range to {
		ops = append(ops, entitystore.UpdateOp{Kind: entitystore.OpSet, Field: k, Value: v})
	}

	for k := range from {
		if _, ok := to[k]; !ok {
			ops = append(ops, entitystore.UpdateOp{Kind: entitystore.OpUnset, Field: k})
		}
	}

	return ops
}
