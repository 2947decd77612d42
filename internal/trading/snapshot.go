package trading

import (
	"paper-trader/internal/errors"
	"paper-trader/internal/models"
)

// State is the persisted form of the engine.
type State struct {
	Account            models.AccountSummary `json:"account"`
	Orders             []models.Order        `json:"orders"`
	Positions          []models.Position     `json:"positions"`
	TradeHistory       []models.TradeLog     `json:"tradeHistory"`
	DailyStats         []models.DailyStat    `json:"dailyStats"`
	Watchlist          []models.WatchItem    `json:"watchlist"`
	LastSettlementDate string                `json:"lastSettlementDate"`
}

// Snapshot returns a deep copy of the engine state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders := make([]models.Order, len(e.orders))
	for i, o := range e.orders {
		orders[i] = *o
		if o.ExecutedAt != nil {
			t := *o.ExecutedAt
			orders[i].ExecutedAt = &t
		}
	}

	return State{
		Account:            e.account,
		Orders:             orders,
		Positions:          e.positionsLocked(),
		TradeHistory:       append([]models.TradeLog(nil), e.trades...),
		DailyStats:         append([]models.DailyStat(nil), e.dailyStats...),
		Watchlist:          append([]models.WatchItem(nil), e.watchlist...),
		LastSettlementDate: e.lastSettlement,
	}
}

// Restore replaces the engine state with s. Duplicate order ids or
// positions are rejected and leave the engine unchanged.
func (e *Engine) Restore(s State) error {
	orderIndex := make(map[string]*models.Order, len(s.Orders))
	orders := make([]*models.Order, 0, len(s.Orders))
	for i := range s.Orders {
		o := s.Orders[i]
		if _, dup := orderIndex[o.ID]; dup || o.ID == "" {
			return errors.Wrapf(errors.ErrDatabaseError, "restore: bad order id %q", o.ID)
		}
		orders = append(orders, &o)
		orderIndex[o.ID] = &o
	}

	positionIndex := make(map[string]*models.Position, len(s.Positions))
	positions := make([]*models.Position, 0, len(s.Positions))
	for i := range s.Positions {
		p := s.Positions[i]
		if _, dup := positionIndex[p.SecurityID]; dup {
			return errors.Wrapf(errors.ErrDatabaseError, "restore: duplicate position %q", p.SecurityID)
		}
		positions = append(positions, &p)
		positionIndex[p.SecurityID] = &p
	}

	e.begin()
	defer e.commit()

	e.account = s.Account
	e.orders = orders
	e.orderIndex = orderIndex
	e.positions = positions
	e.positionIndex = positionIndex
	e.trades = append([]models.TradeLog(nil), s.TradeHistory...)
	e.dailyStats = append([]models.DailyStat(nil), s.DailyStats...)
	e.watchlist = append([]models.WatchItem(nil), s.Watchlist...)
	e.quotes = make(map[string]float64)
	e.lastSettlement = s.LastSettlementDate
	if e.lastSettlement == "" {
		e.lastSettlement = InitialSettlementDate
	}
	return nil
}
