package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parquedb/parquedb/internal/columnar"
	"github.com/parquedb/parquedb/pkg/objectstore"
)

// WriterOptions configures flush triggering (spec.md §4.2).
type WriterOptions struct {
	MaxBufferSize   int   // flush once buffered events reach this count
	MaxBufferBytes  int64 // flush once estimated buffered bytes reach this
	FlushIntervalMs int64 // periodic flush interval; 0 disables the timer
	JournalPath     string
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.MaxBufferSize <= 0 {
		o.MaxBufferSize = 1000
	}

	if o.MaxBufferBytes <= 0 {
		o.MaxBufferBytes = 4 << 20
	}

	if o.JournalPath == "" {
		o.JournalPath = "events/.journal"
	}

	return o
}

// FlushHandler observes a just-flushed batch. Handlers registered via
// [Writer.OnFlush] run in parallel with each other (spec.md §4.2).
type FlushHandler func(ctx context.Context, batch FlushedBatch)

// FlushedBatch describes one flushed columnar batch.
type FlushedBatch struct {
	Path   string
	Events []Event
	Stats  columnar.FileStats
}

// Writer buffers events in memory (and, for crash safety, a journal file)
// and flushes them into time-partitioned columnar batch files
// (spec.md §4.2).
type Writer struct {
	store objectstore.ObjectStore
	codec columnar.Codec
	opts  WriterOptions
	clock func() int64

	mu           sync.Mutex
	buffer       []Event
	bufferBytes  int64
	flushing     sync.Mutex
	handlers     []FlushHandler
	totalWritten int64
	totalFlushes int64
	lastFlushAt  int64
	stopTimer    chan struct{}
	timerRunning bool
}

// NewWriter returns a Writer flushing batches of store using codec for the
// columnar encoding. clock defaults to the wall clock if nil.
func NewWriter(store objectstore.ObjectStore, codec columnar.Codec, opts WriterOptions, clock func() int64) *Writer {
	if clock == nil {
		clock = func() int64 { return time.Now().UnixMilli() }
	}

	return &Writer{
		store: store,
		codec: codec,
		opts:  opts.withDefaults(),
		clock: clock,
	}
}

// OnFlush registers a handler invoked (in parallel with any others) after
// every successful flush.
func (w *Writer) OnFlush(h FlushHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers = append(w.handlers, h)
}

// Append buffers e, journaling it for crash safety, and triggers a flush
// if a size/byte threshold is crossed.
func (w *Writer) Append(ctx context.Context, e Event) error {
	return w.AppendMany(ctx, []Event{e})
}

// AppendMany buffers events as a batch (spec.md §4.2 "appendMany").
func (w *Writer) AppendMany(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	w.mu.Lock()

	w.buffer = append(w.buffer, events...)
	for _, e := range events {
		w.bufferBytes += estimateEventBytes(e)
	}

	shouldFlush := len(w.buffer) >= w.opts.MaxBufferSize || w.bufferBytes >= w.opts.MaxBufferBytes

	w.mu.Unlock()

	if err := w.journalAppend(ctx); err != nil {
		return err
	}

	if shouldFlush {
		return w.Flush(ctx)
	}

	return nil
}

func (w *Writer) journalAppend(ctx context.Context) error {
	w.mu.Lock()
	snapshot := append([]Event(nil), w.buffer...)
	w.mu.Unlock()

	j := newJournal()

	data, err := j.encode(snapshot)
	if err != nil {
		return err
	}

	return w.store.Write(ctx, w.opts.JournalPath, data)
}

// Flush writes the buffered events as a columnar batch file and notifies
// handlers. Concurrent flushes serialize: a flush that arrives while
// another is in progress waits, then observes an empty buffer and returns
// immediately (spec.md §4.2).
func (w *Writer) Flush(ctx context.Context) error {
	w.flushing.Lock()
	defer w.flushing.Unlock()

	w.mu.Lock()
	pending := w.buffer
	w.buffer = nil
	w.bufferBytes = 0
	w.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	path, stats, err := w.writeBatch(ctx, pending)
	if err != nil {
		// Restore the buffer so no events are lost (spec.md §4.2).
		w.mu.Lock()
		w.buffer = append(pending, w.buffer...)
		for _, e := range pending {
			w.bufferBytes += estimateEventBytes(e)
		}
		w.mu.Unlock()

		return fmt.Errorf("eventlog: flush: %w", err)
	}

	w.mu.Lock()
	w.totalWritten += int64(len(pending))
	w.totalFlushes++
	w.lastFlushAt = w.clock()
	handlers := append([]FlushHandler(nil), w.handlers...)
	w.mu.Unlock()

	w.notify(ctx, FlushedBatch{Path: path, Events: pending, Stats: stats}, handlers)

	return w.store.Write(ctx, w.opts.JournalPath, nil)
}

func (w *Writer) notify(ctx context.Context, batch FlushedBatch, handlers []FlushHandler) {
	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup

	for _, h := range handlers {
		wg.Add(1)

		go func(h FlushHandler) {
			defer wg.Done()
			h(ctx, batch)
		}(h)
	}

	wg.Wait()
}

func (w *Writer) writeBatch(ctx context.Context, events []Event) (string, columnar.FileStats, error) {
	SortEvents(events)

	rows := make([]columnar.Row, len(events))
	for i, e := range events {
		rows[i] = eventToRow(e)
	}

	data, stats, err := w.codec.Encode(ctx, rows)
	if err != nil {
		return "", columnar.FileStats{}, err
	}

	minTS, maxTS := batchSpan(events)
	path := batchPath(minTS, maxTS)

	if err := w.store.WriteAtomic(ctx, path, data); err != nil {
		return "", columnar.FileStats{}, err
	}

	return path, stats, nil
}

// Close flushes any remaining buffered events.
func (w *Writer) Close(ctx context.Context) error {
	w.StopTimer()

	return w.Flush(ctx)
}

// StartTimer begins a periodic flush loop honoring FlushIntervalMs. Safe
// to call only once; a zero interval is a no-op.
func (w *Writer) StartTimer(ctx context.Context) {
	if w.opts.FlushIntervalMs <= 0 {
		return
	}

	w.mu.Lock()
	if w.timerRunning {
		w.mu.Unlock()
		return
	}

	w.timerRunning = true
	w.stopTimer = make(chan struct{})
	stop := w.stopTimer
	w.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Duration(w.opts.FlushIntervalMs) * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = w.Flush(ctx)
			}
		}
	}()
}

// StopTimer stops the periodic flush loop started by StartTimer, if any.
func (w *Writer) StopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.timerRunning {
		return
	}

	close(w.stopTimer)
	w.timerRunning = false
}

// Stats reports writer counters (spec.md §4.2: totalEventsWritten,
// totalFlushes, lastFlushAt).
type Stats struct {
	TotalEventsWritten int64
	TotalFlushes       int64
	LastFlushAt        int64
}

func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Stats{TotalEventsWritten: w.totalWritten, TotalFlushes: w.totalFlushes, LastFlushAt: w.lastFlushAt}
}

func estimateEventBytes(e Event) int64 {
	return int64(len(e.ID) + len(e.Target) + len(e.Actor) + len(e.Before) + len(e.After) + 32)
}

func batchSpan(events []Event) (int64, int64) {
	if len(events) == 0 {
		return 0, 0
	}

	minTS, maxTS := events[0].TS, events[0].TS

	for _, e := range events[1:] {
		if e.TS < minTS {
			minTS = e.TS
		}

		if e.TS > maxTS {
			maxTS = e.TS
		}
	}

	return minTS, maxTS
}

// batchPath renders the hourly partition path for a batch spanning
// [minTS, maxTS] (spec.md §4.2: "events/<year>/<month>/<day>/<hour>/batch-<ts>.parquet").
func batchPath(minTS, _ int64) string {
	t := msToTime(minTS).UTC()

	return fmt.Sprintf("events/%04d/%02d/%02d/%02d/batch-%d.parquet",
		t.Year(), t.Month(), t.Day(), t.Hour(), minTS)
}
