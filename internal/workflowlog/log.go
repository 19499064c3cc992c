// Package workflowlog is the append-only structured log of ticket processing.
// Entries are sealed with a content hash, buffered in memory, and flushed in
// batches to a Sink.
package workflowlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/madoguchi/internal/integrity"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/telemetry"
)

// maxBufferCapacity bounds buffered entries. Record applies backpressure
// beyond it.
const maxBufferCapacity = 100_000

// Log buffers entries and flushes them to the sink when the buffer reaches
// maxSize or every flushInterval.
type Log struct {
	sink          Sink
	logger        *slog.Logger
	maxSize       int
	flushInterval time.Duration
	now           func() time.Time

	mu      sync.Mutex
	pending []model.WorkflowLogEntry

	flushMu sync.Mutex // serializes flushes so batches reach the sink in order

	dropped atomic.Int64

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context
}

// New creates a Log. Call Start to run the background flush, or rely on
// Flush and Query flushing synchronously.
func New(sink Sink, logger *slog.Logger, maxSize int, flushInterval time.Duration) *Log {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = 100 * time.Millisecond
	}
	return &Log{
		sink:          sink,
		logger:        logger,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		now:           time.Now,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start begins the background flush loop and registers buffer gauges.
// Call Drain to stop.
func (l *Log) Start(ctx context.Context) {
	l.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	go l.flushLoop(loopCtx)
}

// Record seals e (id, timestamp, content hash) and buffers it. The returned
// entry is exactly what will be stored.
func (l *Log) Record(e model.WorkflowLogEntry) (model.WorkflowLogEntry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	// Postgres keeps microseconds; hash what will be read back.
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	if e.Severity == "" {
		e.Severity = model.SeverityInfo
	}
	payload, err := normalizePayload(e.Payload)
	if err != nil {
		return model.WorkflowLogEntry{}, err
	}
	e.Payload = payload
	e.ContentHash = integrity.ComputeEntryHash(e)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) >= maxBufferCapacity {
		return model.WorkflowLogEntry{}, fmt.Errorf("workflowlog: buffer at capacity (%d entries), try again later", len(l.pending))
	}
	l.pending = append(l.pending, e)
	if len(l.pending) >= l.maxSize {
		select {
		case l.flushCh <- struct{}{}:
		default:
		}
	}
	return e, nil
}

// Flush writes every buffered entry to the sink now.
func (l *Log) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return nil
	}
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	start := time.Now()
	if err := l.sink.Append(ctx, batch); err != nil {
		l.mu.Lock()
		if len(l.pending)+len(batch) <= maxBufferCapacity {
			l.pending = append(batch, l.pending...)
		} else {
			l.dropped.Add(int64(len(batch)))
			l.logger.Error("workflowlog: dropping entries, buffer at capacity after flush failure", "dropped", len(batch))
		}
		l.mu.Unlock()
		return fmt.Errorf("workflowlog: flush: %w", err)
	}
	l.logger.Debug("workflowlog: batch flushed",
		"batch_size", len(batch),
		"flush_duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Query flushes pending entries, then reads from the sink, so a caller
// always sees its own writes.
func (l *Log) Query(ctx context.Context, f model.LogFilter) ([]model.WorkflowLogEntry, error) {
	if err := l.Flush(ctx); err != nil {
		return nil, err
	}
	entries, err := l.sink.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("workflowlog: query: %w", err)
	}
	return entries, nil
}

// TicketSummary aggregates every entry of ticketID and verifies each entry's
// content hash.
func (l *Log) TicketSummary(ctx context.Context, ticketID string) (model.TicketLogSummary, error) {
	entries, err := l.Query(ctx, model.LogFilter{TicketID: ticketID})
	if err != nil {
		return model.TicketLogSummary{}, err
	}
	return Summarize(ticketID, entries), nil
}

// Summarize builds the summary of one ticket's entries, in log order.
func Summarize(ticketID string, entries []model.WorkflowLogEntry) model.TicketLogSummary {
	s := model.TicketLogSummary{
		TicketID:     ticketID,
		TotalEntries: len(entries),
		ByType:       make(map[model.EntryType]int),
		Stages:       []model.Stage{},
	}
	seen := make(map[model.Stage]bool)
	for i, e := range entries {
		s.ByType[e.Type]++
		if e.Type == model.EntryError {
			s.Errors++
		}
		if !seen[e.Stage] {
			seen[e.Stage] = true
			s.Stages = append(s.Stages, e.Stage)
		}
		if !integrity.VerifyEntryHash(e) {
			s.Tampered++
		}
		ts := entries[i].CreatedAt
		if s.FirstEntry == nil || ts.Before(*s.FirstEntry) {
			s.FirstEntry = &ts
		}
		if s.LastEntry == nil || ts.After(*s.LastEntry) {
			s.LastEntry = &ts
		}
	}
	s.TrailRoot = integrity.TrailRoot(entries)
	return s
}

// normalizePayload round-trips p through JSON so the hashed payload is the
// one any sink will read back.
func normalizePayload(p map[string]any) (map[string]any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("workflowlog: encode payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("workflowlog: decode payload: %w", err)
	}
	return out, nil
}

func (l *Log) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx := l.drainCtx
			if drainCtx == nil {
				var cancel context.CancelFunc
				drainCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
			}
			if err := l.Flush(drainCtx); err != nil {
				l.logger.Error("workflowlog: final flush failed", "error", err, "pending", l.Len())
			}
			close(l.done)
			return
		case <-ticker.C:
			l.flushLogged(ctx)
		case <-l.flushCh:
			l.flushLogged(ctx)
		}
	}
}

func (l *Log) flushLogged(ctx context.Context) {
	if err := l.Flush(ctx); err != nil {
		l.logger.Error("workflowlog: flush failed", "error", err)
	}
}

// Drain stops the flush loop after a final flush bounded by ctx.
func (l *Log) Drain(ctx context.Context) {
	l.drainCtx = ctx
	if l.cancelLoop == nil {
		if err := l.Flush(ctx); err != nil {
			l.logger.Error("workflowlog: final flush failed", "error", err)
		}
		return
	}
	l.cancelLoop()
	select {
	case <-l.done:
	case <-ctx.Done():
		l.logger.Warn("workflowlog: drain timed out waiting for flush loop")
	}
}

// Len returns the number of buffered entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Dropped returns the number of entries lost after flush failures at full
// capacity. Nonzero means data loss.
func (l *Log) Dropped() int64 { return l.dropped.Load() }

func (l *Log) registerMetrics() {
	meter := telemetry.Meter(telemetry.ScopeWorkflowLog)

	_, _ = meter.Int64ObservableGauge("madoguchi.workflowlog.depth",
		metric.WithDescription("Entries waiting in the workflow log buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(l.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("madoguchi.workflowlog.dropped_total",
		metric.WithDescription("Entries dropped after flush failures at capacity"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(l.Dropped())
			return nil
		}),
	)
}
