// Package entitystore implements the two coexisting on-disk entity
// layouts spec.md §4.4 requires behind one [EntityBackend] contract:
// Native (flat data/<ns>/*.parquet) and Iceberg-style (warehouse
// metadata + version-hint). Both sit atop an [objectstore.ObjectStore]
// and log every mutation through [eventlog].
package entitystore

import (
	"time"

	"github.com/parquedb/parquedb/internal/replay"
)

// Entity is one document: fixed metadata fields plus an open body, per
// spec.md §3 "Entity".
type Entity struct {
	Ns        string
	ID        string // local id, not "ns/id"
	Type      string // $type schema tag
	Version   int64
	CreatedAt int64
	UpdatedAt int64
	CreatedBy string
	UpdatedBy string
	DeletedAt int64 // 0 means not deleted
	DeletedBy string
	Body      replay.Doc
}

// EntityID returns the canonical "ns/id" form.
func (e Entity) EntityID() string {
	return e.Ns + "/" + e.ID
}

// IsDeleted reports whether the entity is soft-deleted.
func (e Entity) IsDeleted() bool {
	return e.DeletedAt != 0
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Stats summarizes one namespace's entity population.
type Stats struct {
	Ns           string
	LiveCount    int64
	DeletedCount int64
	FileCount    int64
}
