package store

import (
	"context"
	"sort"
	"sync"

	"paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/internal/trading"
)

// MemoryStore is an in-process Store for tests and throwaway sessions.
type MemoryStore struct {
	mu          sync.RWMutex
	values      map[string][]byte
	trades      map[string]models.TradeLog
	settlements map[string]trading.SettlementResult
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:      make(map[string][]byte),
		trades:      make(map[string]models.TradeLog),
		settlements: make(map[string]trading.SettlementResult),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, errors.Wrapf(errors.ErrDataNotFound, "key %q", key)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) ArchiveTrade(_ context.Context, t models.TradeLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trades[t.ID]; !ok {
		m.trades[t.ID] = t
	}
	return nil
}

func (m *MemoryStore) ArchivedTrades(_ context.Context, filter TradeFilter) ([]models.TradeLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.TradeLog
	for _, t := range m.trades {
		if filter.Matches(&t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) LogSettlement(_ context.Context, res trading.SettlementResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements[res.Date] = res
	return nil
}

func (m *MemoryStore) Settlements(_ context.Context, limit int) ([]trading.SettlementResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]trading.SettlementResult, 0, len(m.settlements))
	for _, r := range m.settlements {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
