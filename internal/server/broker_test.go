package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
)

func entry(ticketID string, typ model.EntryType) model.WorkflowLogEntry {
	return model.WorkflowLogEntry{
		ID:        uuid.New(),
		TicketID:  ticketID,
		Stage:     model.StageRouting,
		Type:      typ,
		Severity:  model.SeverityInfo,
		Message:   "test",
		CreatedAt: time.Now().UTC(),
	}
}

func receive(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case got := <-ch:
		return string(got)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func assertNoEvent(t *testing.T, ch chan []byte) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected event %q", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker(testLogger())
	all := broker.Subscribe(model.LogFilter{})
	onlyA := broker.Subscribe(model.LogFilter{TicketID: "A"})
	defer broker.Unsubscribe(all)

	broker.Publish([]model.WorkflowLogEntry{entry("A", model.EntryRouting)})
	assert.True(t, strings.HasPrefix(receive(t, all), "event: routing\ndata: {"))
	assert.Contains(t, receive(t, onlyA), `"ticket_id":"A"`)

	broker.Publish([]model.WorkflowLogEntry{entry("B", model.EntryDecision)})
	assert.Contains(t, receive(t, all), `"ticket_id":"B"`)
	assertNoEvent(t, onlyA)

	broker.Unsubscribe(onlyA)
	broker.Publish([]model.WorkflowLogEntry{entry("A", model.EntryError)})
	assert.Contains(t, receive(t, all), "event: error")
	_, open := <-onlyA
	assert.False(t, open, "unsubscribed channel is closed")
}

func TestBrokerSlowSubscriberDropsEvents(t *testing.T) {
	broker := NewBroker(testLogger())
	ch := broker.Subscribe(model.LogFilter{})
	defer broker.Unsubscribe(ch)

	batch := make([]model.WorkflowLogEntry, 100)
	for i := range batch {
		batch[i] = entry("A", model.EntryTransition)
	}
	broker.Publish(batch)
	assert.Len(t, ch, cap(ch))
}

type failingSink struct{ workflowlog.Sink }

func (failingSink) Append(context.Context, []model.WorkflowLogEntry) error {
	return errors.New("disk full")
}

func TestBrokerSink(t *testing.T) {
	broker := NewBroker(testLogger())
	ch := broker.Subscribe(model.LogFilter{})
	defer broker.Unsubscribe(ch)

	mem := workflowlog.NewMemorySink()
	sink := broker.Sink(mem)
	require.NoError(t, sink.Append(context.Background(), []model.WorkflowLogEntry{entry("A", model.EntryRouting)}))
	assert.Equal(t, 1, mem.Len())
	assert.Contains(t, receive(t, ch), `"ticket_id":"A"`)

	got, err := sink.Query(context.Background(), model.LogFilter{TicketID: "A"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	failing := broker.Sink(failingSink{mem})
	assert.Error(t, failing.Append(context.Background(), []model.WorkflowLogEntry{entry("C", model.EntryRouting)}))
	assertNoEvent(t, ch)
}

func TestFormatSSE(t *testing.T) {
	assert.Equal(t, "event: decision\ndata: {\"x\":1}\n\n", string(formatSSE("decision", []byte(`{"x":1}`))))
}
