package mcp

import (
	"sync"
	"time"
)

// submissionTracker remembers which ticket ids each operator submitted
// recently, so a client retrying submit_ticket gets the first outcome back
// rather than a second run that would double any refund or cancellation.
// It is per process.
type submissionTracker struct {
	mu     sync.Mutex
	seen   map[submissionKey]time.Time
	window time.Duration
	now    func() time.Time
}

type submissionKey struct {
	operatorID string
	ticketID   string
}

func newSubmissionTracker(window time.Duration) *submissionTracker {
	return &submissionTracker{
		seen:   make(map[submissionKey]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Record notes a submission.
func (t *submissionTracker) Record(operatorID, ticketID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[submissionKey{operatorID, ticketID}] = t.now()
	if len(t.seen) > 1000 {
		t.purgeStale()
	}
}

// Seen reports whether the operator submitted ticketID within the window.
func (t *submissionTracker) Seen(operatorID, ticketID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := submissionKey{operatorID, ticketID}
	ts, ok := t.seen[k]
	if !ok {
		return false
	}
	if t.now().Sub(ts) > t.window {
		delete(t.seen, k)
		return false
	}
	return true
}

// purgeStale must be called with mu held.
func (t *submissionTracker) purgeStale() {
	now := t.now()
	for k, ts := range t.seen {
		if now.Sub(ts) > t.window {
			delete(t.seen, k)
		}
	}
}
