package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/ashita-ai/madoguchi/internal/knowledge"
	"github.com/ashita-ai/madoguchi/internal/model"
	"github.com/ashita-ai/madoguchi/internal/routing"
)

// OutcomeStore persists ticket outcomes. Saving an outcome for a ticket id
// that already has one replaces it. GetOutcome reports a missing ticket with
// model.ErrNotFound. ListOutcomes returns the most recently completed first.
type OutcomeStore interface {
	SaveOutcome(ctx context.Context, o model.TicketOutcome) error
	GetOutcome(ctx context.Context, ticketID string) (model.TicketOutcome, error)
	ListOutcomes(ctx context.Context, limit int) ([]model.TicketOutcome, error)
}

// MemoryOutcomeStore keeps outcomes in process.
type MemoryOutcomeStore struct {
	mu       sync.RWMutex
	outcomes map[string]model.TicketOutcome
}

// NewMemoryOutcomeStore returns an empty MemoryOutcomeStore.
func NewMemoryOutcomeStore() *MemoryOutcomeStore {
	return &MemoryOutcomeStore{outcomes: make(map[string]model.TicketOutcome)}
}

func (m *MemoryOutcomeStore) SaveOutcome(_ context.Context, o model.TicketOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[o.TicketID] = o
	return nil
}

func (m *MemoryOutcomeStore) GetOutcome(_ context.Context, ticketID string) (model.TicketOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outcomes[ticketID]
	if !ok {
		return model.TicketOutcome{}, model.ErrNotFound
	}
	return o, nil
}

func (m *MemoryOutcomeStore) ListOutcomes(_ context.Context, limit int) ([]model.TicketOutcome, error) {
	m.mu.RLock()
	out := make([]model.TicketOutcome, 0, len(m.outcomes))
	for _, o := range m.outcomes {
		out = append(out, o)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.After(out[j].CompletedAt)
		}
		return out[i].TicketID < out[j].TicketID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Statistics aggregates routing decisions and retrievals across outcomes.
func Statistics(outcomes []model.TicketOutcome) model.StatsResponse {
	retrievals := make([]model.RetrievalResult, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Retrieval != nil {
			retrievals = append(retrievals, *o.Retrieval)
		}
	}
	return model.StatsResponse{
		Routing:   routing.Statistics(outcomes),
		Retrieval: knowledge.Statistics(retrievals),
	}
}
