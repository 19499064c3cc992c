package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// LongTermBackend persists long-term records. GetLongTerm returns (nil, nil)
// when no record exists.
type LongTermBackend interface {
	PutLongTerm(ctx context.Context, rec model.LongTermRecord) error
	GetLongTerm(ctx context.Context, userID, key string) (*model.LongTermRecord, error)
	ListLongTerm(ctx context.Context, userID string) ([]model.LongTermRecord, error)
}

// MapBackend keeps long-term records in process. Used when no database is
// configured, and in tests.
type MapBackend struct {
	mu      sync.RWMutex
	records map[string]map[string]model.LongTermRecord
}

// NewMapBackend returns an empty MapBackend.
func NewMapBackend() *MapBackend {
	return &MapBackend{records: make(map[string]map[string]model.LongTermRecord)}
}

func (b *MapBackend) PutLongTerm(_ context.Context, rec model.LongTermRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.records[rec.UserID]
	if !ok {
		user = make(map[string]model.LongTermRecord)
		b.records[rec.UserID] = user
	}
	rec.Value = append([]byte(nil), rec.Value...)
	user[rec.Key] = rec
	return nil
}

func (b *MapBackend) GetLongTerm(_ context.Context, userID, key string) (*model.LongTermRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[userID][key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (b *MapBackend) ListLongTerm(_ context.Context, userID string) ([]model.LongTermRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.LongTermRecord, 0, len(b.records[userID]))
	for _, rec := range b.records[userID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
