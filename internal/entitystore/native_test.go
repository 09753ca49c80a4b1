package entitystore_test

import (
	"context"
	"testing"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/internal/entitystore"
	"github.com/parquedb/parquedb/internal/eventlog"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

type recordingSink struct {
	events []eventlog.Event
}

func (s *recordingSink) Append(_ context.Context, e eventlog.Event) error {
	s.events = append(s.events, e)
	return nil
}

func newTestBackend() (*entitystore.NativeBackend, *recordingSink) {
	sink := &recordingSink{}
	store := objectstore.NewMemory()
	backend := entitystore.NewNativeBackend(store, columnar.NewNativeCodec(), sink, false)

	return backend, sink
}

func Test_NativeBackend_Create_Then_Get_Roundtrips(t *testing.T) {
	t.Parallel()

	backend, sink := newTestBackend()
	ctx := context.Background()

	created, err := backend.Create(ctx, "posts", map[string]any{"title": "V1"}, entitystore.CreateOptions{Ts: 1000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if created.Version != 1 {
		t.Fatalf("version = %d, want 1", created.Version)
	}

	got, err := backend.Get(ctx, "posts", created.ID, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Body["title"] != "V1" {
		t.Fatalf("title = %v, want V1", got.Body["title"])
	}

	if len(sink.events) != 1 || sink.events[0].Op != eventlog.OpCreate {
		t.Fatalf("events = %+v, want one CREATE event", sink.events)
	}

	if sink.events[0].Target != "posts:"+created.ID {
		t.Fatalf("target = %q, want %q", sink.events[0].Target, "posts:"+created.ID)
	}
}

func Test_NativeBackend_Update_Increments_Version_And_Appends_Event(t *testing.T) {
	t.Parallel()

	backend, sink := newTestBackend()
	ctx := context.Background()

	created, err := backend.Create(ctx, "posts", map[string]any{"title": "V1"}, entitystore.CreateOptions{ID: "p1", Ts: 1000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := backend.Update(ctx, "posts", "p1", []entitystore.UpdateOp{
		{Kind: entitystore.OpSet, Field: "title", Value: "V2"},
	}, entitystore.UpdateOptions{Ts: 2000})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.Version != created.Version+1 {
		t.Fatalf("version = %d, want %d", updated.Version, created.Version+1)
	}

	if updated.Body["title"] != "V2" {
		t.Fatalf("title = %v, want V2", updated.Body["title"])
	}

	if len(sink.events) != 2 || sink.events[1].Op != eventlog.OpUpdate {
		t.Fatalf("events = %+v, want CREATE then UPDATE", sink.events)
	}
}

func Test_NativeBackend_Update_VersionMismatch_Aborts(t *testing.T) {
	t.Parallel()

	backend, _ := newTestBackend()
	ctx := context.Background()

	_, err := backend.Create(ctx, "posts", map[string]any{"title": "V1"}, entitystore.CreateOptions{ID: "p1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = backend.Update(ctx, "posts", "p1", []entitystore.UpdateOp{
		{Kind: entitystore.OpSet, Field: "title", Value: "V2"},
	}, entitystore.UpdateOptions{ExpectedVersion: 99})
	if err == nil {
		t.Fatalf("expected version mismatch error")
	}
}

func Test_NativeBackend_SoftDelete_Hides_From_Default_Find(t *testing.T) {
	t.Parallel()

	backend, _ := newTestBackend()
	ctx := context.Background()

	_, err := backend.Create(ctx, "posts", map[string]any{"title": "V1"}, entitystore.CreateOptions{ID: "p1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := backend.Delete(ctx, "posts", "p1", entitystore.DeleteOptions{}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err = backend.Get(ctx, "posts", "p1", false)
	if err == nil {
		t.Fatalf("expected not-found for soft-deleted entity without includeDeleted")
	}

	got, err := backend.Get(ctx, "posts", "p1", true)
	if err != nil {
		t.Fatalf("get with includeDeleted: %v", err)
	}

	if !got.IsDeleted() {
		t.Fatalf("expected entity to be marked deleted")
	}

	restored, err := backend.Restore(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.IsDeleted() {
		t.Fatalf("expected restored entity to not be deleted")
	}
}

func Test_NativeBackend_ReadOnly_Rejects_Mutations(t *testing.T) {
	t.Parallel()

	store := objectstore.NewMemory()
	sink := &recordingSink{}
	backend := entitystore.NewNativeBackend(store, columnar.NewNativeCodec(), sink, true)

	_, err := backend.Create(context.Background(), "posts", map[string]any{"title": "V1"}, entitystore.CreateOptions{})
	if err == nil {
		t.Fatalf("expected ReadOnly error")
	}
}
