package entitystore

import (
	"context"

	"github.com/parquedb/parquedb/internal/filter"
)

// UpdateOpKind is one field-level mutation within an [Update] call
// (spec.md §4.4 "Update operator semantics").
type UpdateOpKind uint8

const (
	OpSet UpdateOpKind = iota
	OpUnset
	OpInc
	OpLink
	OpUnlink
)

// UpdateOp is one operator applied atomically as part of an update.
type UpdateOp struct {
	Kind  UpdateOpKind
	Field string
	Value any // numeric delta for OpInc, link target(s) for OpLink/OpUnlink
}

// CreateOptions configures a create/bulkCreate call.
type CreateOptions struct {
	ID    string // caller-supplied local id; empty generates one
	Actor string
	Ts    int64 // defaults to now if zero
}

// UpdateOptions configures an update/bulkUpdate call.
type UpdateOptions struct {
	ExpectedVersion int64 // 0 means "no check"
	Actor           string
	Ts              int64
}

// DeleteOptions configures a delete/bulkDelete call.
type DeleteOptions struct {
	ExpectedVersion int64
	Hard            bool
	Actor           string
	Ts              int64
}

// FindOptions configures a find query.
type FindOptions struct {
	Filter         filter.Filter
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// EntityBackend is the capability set both on-disk layouts implement
// (spec.md §4.4).
type EntityBackend interface {
	Type() string
	SupportsTimeTravel() bool
	SupportsSchemaEvolution() bool
	ReadOnly() bool

	Create(ctx context.Context, ns string, body replayDoc, opts CreateOptions) (Entity, error)
	BulkCreate(ctx context.Context, ns string, bodies []replayDoc, opts CreateOptions) ([]Entity, error)
	Get(ctx context.Context, ns, id string, includeDeleted bool) (Entity, error)
	Find(ctx context.Context, ns string, opts FindOptions) ([]Entity, error)
	Update(ctx context.Context, ns, id string, ops []UpdateOp, opts UpdateOptions) (Entity, error)
	BulkUpdate(ctx context.Context, ns string, ids []string, ops []UpdateOp, opts UpdateOptions) ([]Entity, error)
	Delete(ctx context.Context, ns, id string, opts DeleteOptions) error
	BulkDelete(ctx context.Context, ns string, ids []string, opts DeleteOptions) error
	Restore(ctx context.Context, ns, id string) (Entity, error)
	GetByPrefix(ctx context.Context, ns, prefix string) (Entity, error)

	GetSchema(ctx context.Context, ns string) (Schema, error)
	ListNamespaces(ctx context.Context) ([]string, error)
	Stats(ctx context.Context, ns string) (Stats, error)
}

// Schema is a minimal per-namespace schema descriptor. Field types are
// inferred from observed documents; evolution only ever widens (a new
// field is simply added), matching spec.md §4.4's capability flag
// rather than a constraining DDL.
type Schema struct {
	Ns     string
	Fields map[string]string // field name -> inferred type tag
}

// replayDoc is an alias avoiding an import cycle spelled out in full:
// entitystore depends on replay.Doc for entity bodies.
type replayDoc = map[string]any
