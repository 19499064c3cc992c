package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

// Broker fans workflow log entries out to SSE subscribers. It sees entries
// when the log flushes them to its sink, so Sink must wrap the sink the log
// writes to.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]model.LogFilter
}

// NewBroker returns a Broker with no subscribers.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{logger: logger, subscribers: make(map[chan []byte]model.LogFilter)}
}

// Sink returns a sink that appends to inner and then broadcasts what was
// appended. Entries that inner rejects are not broadcast.
func (b *Broker) Sink(inner workflowlog.Sink) workflowlog.Sink {
	return &broadcastSink{Sink: inner, broker: b}
}

type broadcastSink struct {
	workflowlog.Sink
	broker *Broker
}

func (s *broadcastSink) Append(ctx context.Context, entries []model.WorkflowLogEntry) error {
	if err := s.Sink.Append(ctx, entries); err != nil {
		return err
	}
	s.broker.Publish(entries)
	return nil
}

// Subscribe returns a channel of SSE-formatted events for entries matching
// f. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(f model.LogFilter) chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subscribers[ch] = f
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish sends entries to every subscriber whose filter matches. A
// subscriber with a full buffer misses the event.
func (b *Broker) Publish(entries []model.WorkflowLogEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.subscribers) == 0 {
		return
	}
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			b.logger.Warn("broker: encode entry", "log_id", e.ID, "error", err)
			continue
		}
		event := formatSSE(string(e.Type), data)
		for ch, f := range b.subscribers {
			if !f.Matches(e) {
				continue
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// formatSSE frames one Server-Sent Events message.
func formatSSE(eventType string, data []byte) []byte {
	out := make([]byte, 0, len(eventType)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, eventType...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	return append(out, "\n\n"...)
}
