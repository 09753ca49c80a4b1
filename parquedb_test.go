package parquedb_test

import (
	"context"
	"testing"

	"github.com/parquedb/parquedb"
	"github.com/parquedb/parquedb/internal/entitystore"
	"github.com/parquedb/parquedb/internal/filter"
)

type order struct {
	Total  float64 `json:"total"`
	Region string  `json:"region"`
}

func Test_Open_Collection_Create_Get_Find_Update_Delete_Roundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	db, err := parquedb.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close(ctx)

	orders := parquedb.NewCollection[order](db, "orders")

	created, err := orders.Create(ctx, order{Total: 42, Region: "eu"}, parquedb.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if created.Version != 1 {
		t.Fatalf("version = %d, want 1", created.Version)
	}

	got, err := orders.Get(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Data.Total != 42 || got.Data.Region != "eu" {
		t.Fatalf("get data = %+v, want Total=42 Region=eu", got.Data)
	}

	found, err := orders.Find(ctx, parquedb.FindOptions{Filter: filter.Filter{"region": "eu"}})
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	if len(found) != 1 || found[0].ID != created.ID {
		t.Fatalf("find = %+v, want one match on %q", found, created.ID)
	}

	updated, err := orders.Update(ctx, created.ID, []entitystore.UpdateOp{
		{Kind: entitystore.OpSet, Field: "total", Value: 100.0},
	}, parquedb.UpdateOptions{ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.Data.Total != 100 {
		t.Fatalf("updated total = %v, want 100", updated.Data.Total)
	}

	if err := orders.Delete(ctx, created.ID, parquedb.DeleteOptions{}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := orders.Get(ctx, created.ID, false); !parquedb.IsNotFound(err) {
		t.Fatalf("get after delete err = %v, want IsNotFound", err)
	}

	restored, err := orders.Restore(ctx, created.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.Data.Total != 100 {
		t.Fatalf("restored total = %v, want 100", restored.Data.Total)
	}
}

func Test_Transact_Rolls_Back_Every_Stage_On_Error(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	db, err := parquedb.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close(ctx)

	err = db.Transact(ctx, func(tx *parquedb.Tx) error {
		if _, err := parquedb.TxCreate[order](ctx, tx, "orders", order{Total: 1}, parquedb.CreateOptions{ID: "o1"}); err != nil {
			return err
		}

		if _, err := parquedb.TxCreate[order](ctx, tx, "orders", order{Total: 2}, parquedb.CreateOptions{ID: "o2"}); err != nil {
			return err
		}

		return context.DeadlineExceeded
	})
	if err == nil {
		t.Fatalf("expected Transact to propagate the callback's error")
	}

	orders := parquedb.NewCollection[order](db, "orders")

	if _, err := orders.Get(ctx, "o1", false); !parquedb.IsNotFound(err) {
		t.Fatalf("o1 get err = %v, want IsNotFound after rollback", err)
	}

	if _, err := orders.Get(ctx, "o2", false); !parquedb.IsNotFound(err) {
		t.Fatalf("o2 get err = %v, want IsNotFound after rollback", err)
	}
}

func Test_FTS_And_Vector_Indexes_Persist_Across_Close_And_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	db, err := parquedb.Open(ctx, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	fts, err := db.FTS(ctx, "docs")
	if err != nil {
		t.Fatalf("fts: %v", err)
	}

	fts.Index("d1", map[string]string{"body": "a quick search engine"})

	vec, err := db.Vector(ctx, "embeddings")
	if err != nil {
		t.Fatalf("vector: %v", err)
	}

	vec.Insert("d1", []float32{1, 0, 0})

	if err := db.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := parquedb.Open(ctx, dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close(ctx)

	reloadedFTS, err := reopened.FTS(ctx, "docs")
	if err != nil {
		t.Fatalf("reloaded fts: %v", err)
	}

	if results := reloadedFTS.Search("quick engine"); len(results) != 1 || results[0].DocID != "d1" {
		t.Fatalf("search after reopen = %+v, want [d1]", results)
	}

	reloadedVec, err := reopened.Vector(ctx, "embeddings")
	if err != nil {
		t.Fatalf("reloaded vector: %v", err)
	}

	if results := reloadedVec.Search([]float32{1, 0, 0}, 1); len(results) != 1 || results[0].ID != "d1" {
		t.Fatalf("vector search after reopen = %+v, want nearest to be d1", results)
	}
}
