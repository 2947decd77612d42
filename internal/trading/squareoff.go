package trading

import (
	"time"

	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

// SquareOffWindow holds the IST clock minutes during which open intraday
// positions are closed automatically.
type SquareOffWindow struct {
	EquityFrom    int // NSE/BSE, inclusive
	EquityUntil   int // NSE/BSE, exclusive
	CommodityFrom int // MCX, inclusive, until midnight
}

// DefaultSquareOffWindow returns 15:15-16:00 for equity venues and 23:15
// for MCX.
func DefaultSquareOffWindow() SquareOffWindow {
	return SquareOffWindow{
		EquityFrom:    15*60 + 15,
		EquityUntil:   16 * 60,
		CommodityFrom: 23*60 + 15,
	}
}

// Due reports whether a position on exchange should be squared off at
// clock minute m.
func (w SquareOffWindow) Due(exchange models.Exchange, m int) bool {
	if exchange == models.MCX {
		return m >= w.CommodityFrom
	}
	return m >= w.EquityFrom && m < w.EquityUntil
}

// SquareOffIntraday closes every open MIS position whose venue is inside
// its square-off window at now. It returns the closing orders.
func (e *Engine) SquareOffIntraday(now time.Time) []models.Order {
	e.begin()
	defer e.commit()

	m := utils.ClockMinutes(now)

	var due []string
	for _, p := range e.positions {
		if p.Product != models.ProductMIS || !p.IsOpen() {
			continue
		}
		exchange := p.Exchange
		if exchange == "" {
			exchange = p.Segment.Exchange()
		}
		if e.cfg.SquareOff.Due(exchange, m) {
			due = append(due, p.SecurityID)
		}
	}

	var out []models.Order
	for _, id := range due {
		o, err := e.closeLocked(id)
		if err != nil {
			e.logger.Error().Err(err).Str("security_id", id).Msg("Auto square-off failed")
			continue
		}
		e.logger.Info().
			Str("order_id", o.ID).
			Str("symbol", o.Symbol).
			Msg("Auto square-off")
		out = append(out, *o)
	}
	return out
}
