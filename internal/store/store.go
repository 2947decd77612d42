// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"paper-trader/internal/models"
	"paper-trader/internal/trading"
)

// KV is the key-value persistence port the engine snapshot is saved to.
// Get returns errors.ErrDataNotFound for a missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Journal archives trades and settlement runs outside the snapshot, so
// history survives an account reset.
type Journal interface {
	ArchiveTrade(ctx context.Context, trade models.TradeLog) error
	ArchivedTrades(ctx context.Context, filter TradeFilter) ([]models.TradeLog, error)
	LogSettlement(ctx context.Context, res trading.SettlementResult) error
	Settlements(ctx context.Context, limit int) ([]trading.SettlementResult, error)
}

// Store is a full persistence backend.
type Store interface {
	KV
	Journal
}

// TradeFilter represents filters for querying archived trades.
type TradeFilter struct {
	Symbol    string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// Matches reports whether t passes the filter. Limit is not applied.
func (f TradeFilter) Matches(t *models.TradeLog) bool {
	if f.Symbol != "" && t.Symbol != f.Symbol {
		return false
	}
	if !f.StartDate.IsZero() && t.Timestamp.Before(f.StartDate) {
		return false
	}
	if !f.EndDate.IsZero() && t.Timestamp.After(f.EndDate) {
		return false
	}
	return true
}
