package store

import (
	"context"
	"encoding/json"
	"fmt"

	"paper-trader/internal/errors"
	"paper-trader/internal/trading"
)

// DefaultSnapshotKey is the key the engine state is stored under.
const DefaultSnapshotKey = "paper-trading-storage"

// SnapshotStore saves and loads the engine state as one JSON document.
type SnapshotStore struct {
	kv  KV
	key string
}

// NewSnapshotStore creates a snapshot store over kv. An empty key uses
// DefaultSnapshotKey.
func NewSnapshotStore(kv KV, key string) *SnapshotStore {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SnapshotStore{kv: kv, key: key}
}

// Save writes the state.
func (s *SnapshotStore) Save(ctx context.Context, state trading.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return s.kv.Put(ctx, s.key, data)
}

// Load reads the state. It reports false when nothing has been saved.
func (s *SnapshotStore) Load(ctx context.Context) (trading.State, bool, error) {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, errors.ErrDataNotFound) {
		return trading.State{}, false, nil
	}
	if err != nil {
		return trading.State{}, false, err
	}

	var state trading.State
	if err := json.Unmarshal(data, &state); err != nil {
		return trading.State{}, false, fmt.Errorf("%w: corrupt snapshot: %v", errors.ErrDatabaseError, err)
	}
	return state, true, nil
}

// Clear removes the saved state.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key)
}
