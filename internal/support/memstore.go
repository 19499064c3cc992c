package support

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// maxOperations bounds the in-memory audit log.
const maxOperations = 10_000

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu            sync.Mutex
	accounts      map[string]model.Account // by user id
	subscriptions map[string]model.Subscription
	reservations  map[string]model.Reservation
	refunds       []model.Refund
	operations    []model.OperationResult
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[string]model.Account),
		subscriptions: make(map[string]model.Subscription),
		reservations:  make(map[string]model.Reservation),
	}
}

// Seed is the on-disk shape of customer fixtures.
type Seed struct {
	Accounts      []model.Account      `yaml:"accounts"`
	Subscriptions []model.Subscription `yaml:"subscriptions"`
	Reservations  []model.Reservation  `yaml:"reservations"`
}

type seedFile struct {
	Accounts []struct {
		UserID   string `yaml:"user_id"`
		Email    string `yaml:"email"`
		FullName string `yaml:"full_name"`
		Tier     string `yaml:"tier"`
		Blocked  bool   `yaml:"blocked"`
	} `yaml:"accounts"`
	Subscriptions []struct {
		ID           string `yaml:"subscription_id"`
		UserID       string `yaml:"user_id"`
		Plan         string `yaml:"plan_type"`
		Status       string `yaml:"status"`
		MonthlyQuota int    `yaml:"monthly_quota"`
	} `yaml:"subscriptions"`
	Reservations []struct {
		ID     string `yaml:"reservation_id"`
		UserID string `yaml:"user_id"`
		Status string `yaml:"status"`
	} `yaml:"reservations"`
}

// LoadSeed reads customer fixtures from a YAML file. Timestamps are set to
// now.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return Seed{}, fmt.Errorf("support: read seed: %w", err)
	}
	return ParseSeed(data, time.Now().UTC())
}

// ParseSeed decodes YAML fixtures.
func ParseSeed(data []byte, now time.Time) (Seed, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Seed{}, fmt.Errorf("support: parse seed: %w", err)
	}
	var s Seed
	for i, a := range f.Accounts {
		if a.UserID == "" {
			return Seed{}, fmt.Errorf("support: seed account %d: user_id is required", i)
		}
		tier := a.Tier
		if tier == "" {
			tier = "standard"
		}
		s.Accounts = append(s.Accounts, model.Account{
			UserID: a.UserID, Email: a.Email, FullName: a.FullName,
			Tier: tier, Blocked: a.Blocked, CreatedAt: now,
		})
	}
	for _, sub := range f.Subscriptions {
		status := sub.Status
		if status == "" {
			status = "active"
		}
		s.Subscriptions = append(s.Subscriptions, model.Subscription{
			ID: sub.ID, UserID: sub.UserID, Plan: sub.Plan, Status: status,
			MonthlyQuota: sub.MonthlyQuota, StartedAt: now,
		})
	}
	for _, r := range f.Reservations {
		s.Reservations = append(s.Reservations, model.Reservation{
			ID: r.ID, UserID: r.UserID, Status: r.Status, CreatedAt: now,
		})
	}
	return s, nil
}

// Load adds the seed to the store, replacing entities with the same id.
func (m *MemoryStore) Load(s Seed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range s.Accounts {
		m.accounts[a.UserID] = a
	}
	for _, sub := range s.Subscriptions {
		m.subscriptions[sub.ID] = sub
	}
	for _, r := range s.Reservations {
		m.reservations[r.ID] = r
	}
}

func (m *MemoryStore) FindAccount(_ context.Context, identifier string, byEmail bool) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !byEmail {
		if a, ok := m.accounts[identifier]; ok {
			return a, nil
		}
		return model.Account{}, model.ErrNotFound
	}
	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, identifier) {
			return a, nil
		}
	}
	return model.Account{}, model.ErrNotFound
}

func (m *MemoryStore) ListSubscriptions(_ context.Context, userID string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, s := range m.subscriptions {
		if s.UserID == userID && s.Status == "active" {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListReservations(_ context.Context, userID string, limit int) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Reservation{}
	for _, r := range m.reservations {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, userID, subscriptionID string) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[subscriptionID]
	if !ok || s.UserID != userID {
		return model.Subscription{}, model.ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) SaveSubscription(_ context.Context, sub model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.ID] = sub
	return nil
}

func (m *MemoryStore) RefundReservation(_ context.Context, refund model.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[refund.ReservationID]
	if !ok || r.UserID != refund.UserID {
		return model.ErrNotFound
	}
	if !r.Refundable() {
		return model.ErrNotRefundable
	}
	r.Status = model.ReservationRefunded
	m.reservations[r.ID] = r
	m.refunds = append(m.refunds, refund)
	return nil
}

// Refunds returns every processed refund in order.
func (m *MemoryStore) Refunds() []model.Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Refund(nil), m.refunds...)
}

func (m *MemoryStore) RecordOperation(_ context.Context, op model.OperationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = append(m.operations, op)
	if len(m.operations) > maxOperations {
		m.operations = m.operations[len(m.operations)-maxOperations:]
	}
	return nil
}

func (m *MemoryStore) ListOperations(_ context.Context, limit int) ([]model.OperationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.operations)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.OperationResult, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.operations[i])
	}
	return out, nil
}
