package workflowlog

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// Sink durably stores workflow log entries. Append must be atomic per call:
// either every entry of the batch is stored or none is.
type Sink interface {
	Append(ctx context.Context, entries []model.WorkflowLogEntry) error
	Query(ctx context.Context, f model.LogFilter) ([]model.WorkflowLogEntry, error)
}

// MemorySink keeps entries in process. It backs tests and deployments with no
// configured log storage.
type MemorySink struct {
	mu      sync.RWMutex
	entries []model.WorkflowLogEntry
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Append(_ context.Context, entries []model.WorkflowLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *MemorySink) Query(_ context.Context, f model.LogFilter) ([]model.WorkflowLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterEntries(m.entries, f), nil
}

// Len returns the number of stored entries.
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// MirrorSink stores entries in a primary sink and copies them to a secondary
// one. Queries are answered by the primary. A failed copy is logged and does
// not fail the append.
type MirrorSink struct {
	Sink
	mirror Sink
	logger *slog.Logger
}

// NewMirrorSink wraps primary.
func NewMirrorSink(primary, mirror Sink, logger *slog.Logger) *MirrorSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MirrorSink{Sink: primary, mirror: mirror, logger: logger}
}

func (m *MirrorSink) Append(ctx context.Context, entries []model.WorkflowLogEntry) error {
	if err := m.Sink.Append(ctx, entries); err != nil {
		return err
	}
	if err := m.mirror.Append(ctx, entries); err != nil {
		m.logger.Warn("workflowlog: mirror append failed", "entries", len(entries), "error", err)
	}
	return nil
}

// filterEntries applies f to entries and returns matches ordered by creation
// time, capped at f.Limit when set. Input order breaks ties.
func filterEntries(entries []model.WorkflowLogEntry, f model.LogFilter) []model.WorkflowLogEntry {
	out := make([]model.WorkflowLogEntry, 0)
	for _, e := range entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
