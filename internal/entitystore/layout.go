package entitystore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/parquedb/parquedb/pkg/objectstore"
)

// layout abstracts the on-disk path scheme and post-persist bookkeeping
// that differ between [NativeBackend]'s two coexisting layouts (spec.md
// §4.4): flat Native files versus Iceberg-style metadata snapshots.
type layout interface {
	DataPath(ns string) string
	AfterPersist(ctx context.Context, store objectstore.ObjectStore, ns string, data []byte, op string) error
}

// nativeLayout is data/<ns>/current.parquet with no extra bookkeeping.
type nativeLayout struct{}

func (nativeLayout) DataPath(ns string) string { return dataPath(ns) }

func (nativeLayout) AfterPersist(context.Context, objectstore.ObjectStore, string, []byte, string) error {
	return nil
}

// icebergLayout is warehouse/<db>/<ns>/data/*.parquet plus a metadata
// snapshot chain and version-hint pointer (spec.md §4.4 "Iceberg-style",
// §3 "Manifest").
type icebergLayout struct {
	db string
}

func (l icebergLayout) dataDir(ns string) string {
	return fmt.Sprintf("warehouse/%s/%s/data", l.db, ns)
}

func (l icebergLayout) metadataDir(ns string) string {
	return fmt.Sprintf("warehouse/%s/%s/metadata", l.db, ns)
}

func (l icebergLayout) versionHintPath(ns string) string {
	return l.metadataDir(ns) + "/version-hint.txt"
}

func (l icebergLayout) DataPath(ns string) string {
	return l.dataDir(ns) + "/data.parquet"
}

// icebergSnapshot is the <generation>.metadata.json written after each
// persist: the operation, the namespace's single data file, and that
// file's byte size. No content hash is recorded, and RecordCount is
// always written as zero.
type icebergSnapshot struct {
	Generation  int64  `json:"generation"`
	Operation   string `json:"operation"` // append | overwrite | delete
	DataFile    string `json:"dataFile"`
	ByteSize    int64  `json:"byteSize"`
	RecordCount int    `json:"recordCount"`
	CreatedAt   int64  `json:"createdAt"`
}

func (l icebergLayout) AfterPersist(ctx context.Context, store objectstore.ObjectStore, ns string, data []byte, op string) error {
	gen, err := l.nextGeneration(ctx, store, ns)
	if err != nil {
		return err
	}

	snap := icebergSnapshot{
		Generation: gen,
		Operation:  op,
		DataFile:   l.DataPath(ns),
		ByteSize:   int64(len(data)),
		CreatedAt:  nowMillis(),
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("entitystore: marshal iceberg snapshot: %w", err)
	}

	metaPath := fmt.Sprintf("%s/%d.metadata.json", l.metadataDir(ns), gen)

	if err := store.WriteAtomic(ctx, metaPath, body); err != nil {
		return fmt.Errorf("entitystore: write iceberg metadata: %w", err)
	}

	return l.advanceVersionHint(ctx, store, ns, gen)
}

func (l icebergLayout) nextGeneration(ctx context.Context, store objectstore.ObjectStore, ns string) (int64, error) {
	cur, err := l.currentGeneration(ctx, store, ns)
	if err != nil {
		return 0, err
	}

	return cur + 1, nil
}

func (l icebergLayout) currentGeneration(ctx context.Context, store objectstore.ObjectStore, ns string) (int64, error) {
	data, err := store.Read(ctx, l.versionHintPath(ns))
	if err != nil {
		if objectstore.IsNotFound(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("entitystore: read version-hint: %w", err)
	}

	gen, parseErr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("entitystore: parse version-hint: %w", parseErr)
	}

	return gen, nil
}

// advanceVersionHint updates the pointer with a single compare-and-swap
// against the object's current ETag (spec.md §3 Manifest). A write that
// loses to a concurrent writer is returned as an error; it is not retried.
func (l icebergLayout) advanceVersionHint(ctx context.Context, store objectstore.ObjectStore, ns string, gen int64) error {
	path := l.versionHintPath(ns)

	stat, statErr := store.Stat(ctx, path)

	etag := ""
	if statErr == nil {
		etag = stat.ETag
	}

	_, err := store.WriteConditional(ctx, path, []byte(strconv.FormatInt(gen, 10)), etag)
	if err != nil {
		return fmt.Errorf("entitystore: advance version-hint: %w", err)
	}

	return nil
}
