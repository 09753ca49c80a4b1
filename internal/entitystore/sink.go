package entitystore

import (
	"context"

	"github.com/parquedb/parquedb/internal/eventlog"
)

// EventSink is the event-log dependency entity backends write through.
// It is satisfied by an [eventlog.Writer]-backed adapter wired in by the
// top-level facade; kept as a narrow interface here so this package
// never has to know about buffering, flush thresholds, or WAL framing.
type EventSink interface {
	Append(ctx context.Context, e eventlog.Event) error
}
