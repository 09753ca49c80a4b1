package parquedb

import (
	"context"

	"github.com/parquedb/parquedb/internal/entitystore"
	"github.com/parquedb/parquedb/internal/txn"
)

// Tx is the in-flight handle passed to a [DB.Transact] callback. Use the
// free functions [TxCreate], [TxUpdate], and [TxDelete] against it — Go
// has no generic methods, the same reason [Collection] is built the way
// it is.
type Tx struct {
	mgr *txn.Manager
}

// TxCreate stages a create within tx.
func TxCreate[T any](ctx context.Context, tx *Tx, ns string, v T, opts CreateOptions) (Record[T], error) {
	body, err := toBody(v)
	if err != nil {
		return Record[T]{}, err
	}

	e, err := tx.mgr.Create(ctx, ns, body, entitystore.CreateOptions{ID: opts.ID, Actor: opts.Actor})
	if err != nil {
		return Record[T]{}, wrapErr(err, ns, opts.ID)
	}

	return fromEntity[T](e)
}

// TxUpdate stages an update within tx.
func TxUpdate[T any](ctx context.Context, tx *Tx, ns, id string, ops []entitystore.UpdateOp, opts UpdateOptions) (Record[T], error) {
	e, err := tx.mgr.Update(ctx, ns, id, ops, entitystore.UpdateOptions{
		ExpectedVersion: opts.ExpectedVersion,
		Actor:           opts.Actor,
	})
	if err != nil {
		return Record[T]{}, wrapErr(err, ns, id)
	}

	return fromEntity[T](e)
}

// TxDelete stages a delete within tx.
func TxDelete(ctx context.Context, tx *Tx, ns, id string, opts DeleteOptions) error {
	err := tx.mgr.Delete(ctx, ns, id, entitystore.DeleteOptions{
		ExpectedVersion: opts.ExpectedVersion,
		Hard:            opts.Hard,
		Actor:           opts.Actor,
	})
	if err != nil {
		return wrapErr(err, ns, id)
	}

	return nil
}
