package parquedb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parquedb/parquedb/internal/entitystore"
	"github.com/parquedb/parquedb/internal/filter"
)

// Record wraps a caller's document type with the entity metadata every
// namespace carries regardless of T (spec.md §4.3 "every entity has an
// id, version, and created/updated timestamps").
type Record[T any] struct {
	ID        string
	Version   int64
	CreatedAt int64
	UpdatedAt int64
	Data      T
}

// Collection is typed access to one namespace. Get one with the
// [NewCollection] free function against an open [DB].
//
// Go does not allow a generic method on DB (NewCollection[T](db, name) is a
// free function, not db.Collection[T](name)), the same constraint that
// keeps the teacher's own Open[T Document] a free function rather than a
// method on some non-generic connection type.
type Collection[T any] struct {
	db   *DB
	name string
}

// NewCollection returns typed access to namespace name against db.
func NewCollection[T any](db *DB, name string) *Collection[T] {
	return &Collection[T]{db: db, name: name}
}

func toBody[T any](v T) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &Error{Kind: ErrValidation, Err: fmt.Errorf("marshal document: %w", err)}
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, &Error{Kind: ErrValidation, Err: fmt.Errorf("document must encode to a JSON object: %w", err)}
	}

	return body, nil
}

func fromEntity[T any](e entitystore.Entity) (Record[T], error) {
	data, err := json.Marshal(map[string]any(e.Body))
	if err != nil {
		return Record[T]{}, &Error{Kind: ErrValidation, Err: fmt.Errorf("marshal stored body: %w", err)}
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return Record[T]{}, &Error{Kind: ErrValidation, Err: fmt.Errorf("unmarshal into %T: %w", v, err)}
	}

	return Record[T]{
		ID:        e.ID,
		Version:   e.Version,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		Data:      v,
	}, nil
}

// CreateOptions mirrors [entitystore.CreateOptions] without requiring
// callers to import the internal package.
type CreateOptions struct {
	ID    string
	Actor string
}

// Create inserts v as a new entity, running it through the link-extraction
// stage of the transaction manager so any [WithLinkSchema] registered for
// this namespace is maintained.
func (c *Collection[T]) Create(ctx context.Context, v T, opts CreateOptions) (Record[T], error) {
	body, err := toBody(v)
	if err != nil {
		return Record[T]{}, err
	}

	e, err := c.db.newTxn().Create(ctx, c.name, body, entitystore.CreateOptions{ID: opts.ID, Actor: opts.Actor})
	if err != nil {
		return Record[T]{}, wrapErr(err, c.name, opts.ID)
	}

	return fromEntity[T](e)
}

// Get fetches one entity by id. includeDeleted also returns soft-deleted
// entities (for callers implementing their own undelete flow on top of
// [Collection.Restore]).
func (c *Collection[T]) Get(ctx context.Context, id string, includeDeleted bool) (Record[T], error) {
	e, err := c.db.backend.Get(ctx, c.name, id, includeDeleted)
	if err != nil {
		return Record[T]{}, wrapErr(err, c.name, id)
	}

	return fromEntity[T](e)
}

// FindOptions mirrors [entitystore.FindOptions].
type FindOptions struct {
	Filter         filter.Filter
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// Find returns every entity in the namespace matching opts.Filter.
func (c *Collection[T]) Find(ctx context.Context, opts FindOptions) ([]Record[T], error) {
	entities, err := c.db.backend.Find(ctx, c.name, entitystore.FindOptions{
		Filter:         opts.Filter,
		IncludeDeleted: opts.IncludeDeleted,
		Limit:          opts.Limit,
		Offset:         opts.Offset,
	})
	if err != nil {
		return nil, wrapErr(err, c.name, "")
	}

	out := make([]Record[T], 0, len(entities))

	for _, e := range entities {
		r, err := fromEntity[T](e)
		if err != nil {
			return nil, err
		}

		out = append(out, r)
	}

	return out, nil
}

// UpdateOptions mirrors [entitystore.UpdateOptions].
type UpdateOptions struct {
	ExpectedVersion int64
	Actor           string
}

// Update applies ops to the entity id, maintaining links the same way
// [Collection.Create] does.
func (c *Collection[T]) Update(ctx context.Context, id string, ops []entitystore.UpdateOp, opts UpdateOptions) (Record[T], error) {
	e, err := c.db.newTxn().Update(ctx, c.name, id, ops, entitystore.UpdateOptions{
		ExpectedVersion: opts.ExpectedVersion,
		Actor:           opts.Actor,
	})
	if err != nil {
		return Record[T]{}, wrapErr(err, c.name, id)
	}

	return fromEntity[T](e)
}

// DeleteOptions mirrors [entitystore.DeleteOptions].
type DeleteOptions struct {
	ExpectedVersion int64
	Hard            bool
	Actor           string
}

// Delete removes the entity id, soft by default (Hard for permanent
// removal). Reverse-link bookkeeping happens the same as on Update.
func (c *Collection[T]) Delete(ctx context.Context, id string, opts DeleteOptions) error {
	err := c.db.newTxn().Delete(ctx, c.name, id, entitystore.DeleteOptions{
		ExpectedVersion: opts.ExpectedVersion,
		Hard:            opts.Hard,
		Actor:           opts.Actor,
	})
	if err != nil {
		return wrapErr(err, c.name, id)
	}

	return nil
}

// Restore undoes a soft delete.
func (c *Collection[T]) Restore(ctx context.Context, id string) (Record[T], error) {
	e, err := c.db.backend.Restore(ctx, c.name, id)
	if err != nil {
		return Record[T]{}, wrapErr(err, c.name, id)
	}

	return fromEntity[T](e)
}

// Stats returns namespace-level statistics (spec.md §4.4).
func (c *Collection[T]) Stats(ctx context.Context) (entitystore.Stats, error) {
	s, err := c.db.backend.Stats(ctx, c.name)
	if err != nil {
		return entitystore.Stats{}, wrapErr(err, c.name, "")
	}

	return s, nil
}
