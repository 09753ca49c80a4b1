package entitystore_test

import (
	"context"
	"testing"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/internal/entitystore"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

func Test_IcebergBackend_Persist_Advances_Version_Hint(t *testing.T) {
	t.Parallel()

	store := objectstore.NewMemory()
	sink := &recordingSink{}
	backend := entitystore.NewIcebergBackend(store, columnar.NewNativeCodec(), sink, false, "mydb")

	ctx := context.Background()

	if _, err := backend.Create(ctx, "orders", map[string]any{"status": "pending"}, entitystore.CreateOptions{ID: "o1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	hint, err := store.Read(ctx, "warehouse/mydb/orders/metadata/version-hint.txt")
	if err != nil {
		t.Fatalf("read version-hint: %v", err)
	}

	if string(hint) != "1" {
		t.Fatalf("version-hint = %q, want \"1\"", string(hint))
	}

	if _, err := backend.Update(ctx, "orders", "o1", []entitystore.UpdateOp{
		{Kind: entitystore.OpSet, Field: "status", Value: "paid"},
	}, entitystore.UpdateOptions{}); err != nil {
		t.Fatalf("update: %v", err)
	}

	hint, err = store.Read(ctx, "warehouse/mydb/orders/metadata/version-hint.txt")
	if err != nil {
		t.Fatalf("read version-hint after update: %v", err)
	}

	if string(hint) != "2" {
		t.Fatalf("version-hint = %q, want \"2\"", string(hint))
	}

	if _, err := store.Read(ctx, "warehouse/mydb/orders/metadata/2.metadata.json"); err != nil {
		t.Fatalf("expected metadata snapshot for generation 2: %v", err)
	}

	if backend.Type() != "iceberg" {
		t.Fatalf("Type() = %q, want iceberg", backend.Type())
	}
}
