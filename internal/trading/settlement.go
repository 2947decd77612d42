package trading

import (
	"time"

	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

// InitialSettlementDate is the last settlement date of a new account.
const InitialSettlementDate = "1970-01-01"

// SettlementResult summarises one settlement run.
type SettlementResult struct {
	Date             string  `json:"date"`
	TradesSettled    int     `json:"tradesSettled"`
	Charges          float64 `json:"charges"`
	PositionsRemoved int     `json:"positionsRemoved"`
	MarginReleased   float64 `json:"marginReleased"`
}

// RunSettlement performs the end-of-day job at most once per IST
// calendar day and not before the cutoff hour. It deducts the charges of
// every unsettled trade dated before today and drops flat and intraday
// positions. It reports false when nothing ran.
func (e *Engine) RunSettlement(now time.Time) (SettlementResult, bool) {
	e.begin()
	defer e.commit()

	ist := now.In(utils.IndiaLocation)
	today := utils.TradingDate(now)
	if e.lastSettlement == today || ist.Hour() < e.cfg.SettlementCutoffHour {
		return SettlementResult{}, false
	}

	res := SettlementResult{Date: today}

	for i := range e.trades {
		t := &e.trades[i]
		if t.Settled || utils.TradingDate(t.Timestamp) >= today {
			continue
		}
		res.Charges += t.Charges
		res.TradesSettled++
		t.Settled = true
	}
	e.account.TotalCapital -= res.Charges

	kept := e.positions[:0]
	for _, p := range e.positions {
		if p.IsOpen() && p.Product != models.ProductMIS {
			kept = append(kept, p)
			continue
		}
		if p.MarginUsed > 0 {
			res.MarginReleased += p.MarginUsed
			e.account.UsedMargin -= p.MarginUsed
		}
		delete(e.positionIndex, p.SecurityID)
		res.PositionsRemoved++
	}
	for i := len(kept); i < len(e.positions); i++ {
		e.positions[i] = nil
	}
	e.positions = kept
	e.lastSettlement = today

	e.logger.Info().
		Str("date", today).
		Int("trades", res.TradesSettled).
		Float64("charges", res.Charges).
		Int("positions_removed", res.PositionsRemoved).
		Msg("Settlement complete")

	rc := res
	e.emit(Event{Type: EventSettled, Settlement: &rc})
	return res, true
}
