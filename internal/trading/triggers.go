package trading

import (
	"paper-trader/internal/models"
)

// TriggerFill reports whether an open order fires at ltp and the price
// it fills at.
//
// LIMIT buys fill at the limit once ltp is at or below it, sells once
// ltp is at or above it. Stops trigger on the opposite crossing; SL-M
// fills at ltp, SL fills at its limit only if the limit is reachable at
// ltp, otherwise it stays open.
func TriggerFill(o *models.Order, ltp float64) (float64, bool) {
	if o.Status != models.OrderStatusOpen || !finitePositive(ltp) {
		return 0, false
	}
	buy := o.Side == models.OrderSideBuy

	switch o.Type {
	case models.OrderTypeLimit:
		if (buy && ltp <= o.Price) || (!buy && ltp >= o.Price) {
			return o.Price, true
		}

	case models.OrderTypeStopLossM:
		if (buy && ltp >= o.TriggerPrice) || (!buy && ltp <= o.TriggerPrice) {
			return ltp, true
		}

	case models.OrderTypeStopLoss:
		triggered := (buy && ltp >= o.TriggerPrice) || (!buy && ltp <= o.TriggerPrice)
		if !triggered {
			return 0, false
		}
		if (buy && ltp <= o.Price) || (!buy && ltp >= o.Price) {
			return o.Price, true
		}
	}
	return 0, false
}

// OnTick applies a single last-traded price.
func (e *Engine) OnTick(securityID string, ltp float64) {
	e.OnPriceUpdates([]models.PriceUpdate{{
		Type:       models.PacketTicker,
		SecurityID: securityID,
		Fields:     models.FieldLTP,
		LTP:        ltp,
	}})
}

// OnPriceUpdates applies a batch of decoded feed updates in order: the
// quote cache and watchlist are refreshed, positions are marked to
// market and open orders on the security are evaluated in creation
// order.
func (e *Engine) OnPriceUpdates(updates []models.PriceUpdate) {
	if len(updates) == 0 {
		return
	}
	e.begin()
	defer e.commit()

	for i := range updates {
		u := &updates[i]
		e.updateWatchItemLocked(u)

		if !u.Has(models.FieldLTP) || !finitePositive(u.LTP) {
			continue
		}
		e.quotes[u.SecurityID] = u.LTP

		if pos, ok := e.positionIndex[u.SecurityID]; ok {
			pos.LTP = u.LTP
			if pos.IsOpen() {
				markToMarket(pos)
			}
		}

		e.evaluateTriggersLocked(u.SecurityID, u.LTP)
	}
}

func (e *Engine) evaluateTriggersLocked(securityID string, ltp float64) {
	// Collected first so fills cannot disturb the walk.
	var candidates []*models.Order
	for _, o := range e.orders {
		if o.SecurityID == securityID && o.Status == models.OrderStatusOpen {
			candidates = append(candidates, o)
		}
	}
	for _, o := range candidates {
		if fill, ok := TriggerFill(o, ltp); ok {
			e.logger.Info().
				Str("order_id", o.ID).
				Str("type", string(o.Type)).
				Float64("ltp", ltp).
				Float64("fill", fill).
				Msg("Order triggered")
			e.executeLocked(o, fill)
		}
	}
}
