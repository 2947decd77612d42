package trading

import (
	"math"

	"paper-trader/internal/errors"
	"paper-trader/internal/logging"
	"paper-trader/internal/models"
)

// executeLocked fills an order in full at price and applies it to the
// ledger.
func (e *Engine) executeLocked(o *models.Order, price float64) {
	now := e.clock()
	o.Status = models.OrderStatusExecuted
	o.FilledQty = o.Quantity
	o.AvgFillPrice = price
	o.ExecutedAt = &now

	log := logging.WithSymbol(logging.WithOrderID(e.logger, o.ID), o.Symbol)
	logging.LogOrder(log, o.ID, o.Symbol, string(o.Side), string(o.Status))

	e.applyFillLocked(o, price)
	e.emitOrder(o)
}

// applyFillLocked applies an executed order to the position in its
// security: open, add at a weighted average, reduce with realized P&L
// and proportional margin release, or flip.
func (e *Engine) applyFillLocked(o *models.Order, fill float64) {
	units := e.classifier.Units(o.Instrument(), o.Quantity)
	lot := o.LotSize
	if lot <= 0 {
		lot = 1
	}
	signed := units
	if o.Side == models.OrderSideSell {
		signed = -units
	}

	logging.LogFill(e.logger, o.Symbol, string(o.Side), units, fill)

	pos, ok := e.positionIndex[o.SecurityID]
	if !ok {
		pos = &models.Position{
			SecurityID:     o.SecurityID,
			Symbol:         o.Symbol,
			Exchange:       o.Exchange,
			Segment:        o.Segment,
			InstrumentType: o.InstrumentType,
			Product:        o.Product,
			LotSize:        lot,
		}
		e.positions = append(e.positions, pos)
		e.positionIndex[o.SecurityID] = pos
	}

	old := pos.NetQuantity
	if o.Side == models.OrderSideBuy {
		pos.BuyQty += units
	} else {
		pos.SellQty += units
	}

	switch {
	case math.Abs(old) <= Epsilon:
		// Fresh or previously flat: the order's product applies.
		pos.Product = o.Product
		pos.LotSize = lot
		setAverage(pos, o.Side, fill)
		pos.NetQuantity = signed
		pos.MarginUsed += o.MarginBlocked

	case (old > 0) == (signed > 0):
		addAverage(pos, o.Side, math.Abs(old), units, fill)
		pos.NetQuantity = old + signed
		pos.MarginUsed += o.MarginBlocked

	default:
		closed := math.Min(units, math.Abs(old))
		e.closeSliceLocked(pos, closed, fill)

		pos.NetQuantity = old + signed
		if units-closed > Epsilon {
			// Flip: the residual opens at the fill price.
			setAverage(pos, o.Side, fill)
			pos.MarginUsed = o.MarginBlocked
		} else {
			pos.MarginUsed += o.MarginBlocked
		}
	}

	if math.Abs(pos.NetQuantity) < Epsilon {
		pos.NetQuantity = 0
		e.account.UsedMargin -= pos.MarginUsed
		pos.MarginUsed = 0
		pos.LTP = fill
		pos.UnrealizedPnL = 0
		pos.TotalPnL = pos.RealizedPnL
		e.emit(Event{Type: EventPositionChanged})
		return
	}

	if ltp, ok := e.quotes[pos.SecurityID]; ok && ltp > 0 {
		pos.LTP = ltp
	} else {
		pos.LTP = fill
	}
	markToMarket(pos)
	e.emit(Event{Type: EventPositionChanged})
}

// closeSliceLocked realizes P&L on closed units of pos, releases the
// matching share of its margin and records a trade.
func (e *Engine) closeSliceLocked(pos *models.Position, closed, fill float64) {
	old := pos.NetQuantity
	lot := pos.LotSize
	if lot <= 0 {
		lot = 1
	}

	t := models.TradeLog{
		ID:             e.newID("TRD"),
		SecurityID:     pos.SecurityID,
		Symbol:         pos.Symbol,
		Exchange:       pos.Exchange,
		Segment:        pos.Segment,
		InstrumentType: pos.InstrumentType,
		Product:        pos.Product,
		Quantity:       closed / float64(lot),
		LotSize:        lot,
		Timestamp:      e.clock(),
	}

	var pnl float64
	if old > 0 {
		pnl = (fill - pos.AvgBuyPrice) * closed
		t.Type = models.LongClose
		t.BuyPrice = pos.AvgBuyPrice
		t.SellPrice = fill
	} else {
		pnl = (pos.AvgSellPrice - fill) * closed
		t.Type = models.ShortClose
		t.BuyPrice = fill
		t.SellPrice = pos.AvgSellPrice
	}

	released := pos.MarginUsed * closed / math.Abs(old)
	pos.MarginUsed -= released
	e.account.UsedMargin -= released

	pos.RealizedPnL += pnl
	e.account.TotalCapital += pnl

	t.RealizedPnL = pnl
	t.Charges = TradeCharges(e.classifier.Classify(pos.Instrument()), &t).Total
	t.NetPnL = pnl - t.Charges
	e.trades = append(e.trades, t)
	e.recordDailyStatLocked(t)

	logging.LogTrade(e.logger, t.Symbol, string(t.Type), t.Quantity, pnl)
	tc := t
	e.emit(Event{Type: EventTradeLogged, Trade: &tc})
}

func (e *Engine) recordDailyStatLocked(t models.TradeLog) {
	date := e.today()
	for i := range e.dailyStats {
		if e.dailyStats[i].Date == date {
			e.dailyStats[i].RealizedPnL += t.RealizedPnL
			e.dailyStats[i].TradeCount++
			return
		}
	}
	e.dailyStats = append(e.dailyStats, models.DailyStat{
		Date:        date,
		RealizedPnL: t.RealizedPnL,
		TradeCount:  1,
	})
}

func setAverage(pos *models.Position, side models.OrderSide, price float64) {
	if side == models.OrderSideBuy {
		pos.AvgBuyPrice = price
	} else {
		pos.AvgSellPrice = price
	}
}

func addAverage(pos *models.Position, side models.OrderSide, held, added, price float64) {
	total := held + added
	if total <= 0 {
		return
	}
	if side == models.OrderSideBuy {
		pos.AvgBuyPrice = (pos.AvgBuyPrice*held + price*added) / total
	} else {
		pos.AvgSellPrice = (pos.AvgSellPrice*held + price*added) / total
	}
}

// markToMarket recomputes unrealized and total P&L from the position's LTP.
func markToMarket(pos *models.Position) {
	switch {
	case pos.NetQuantity > 0:
		pos.UnrealizedPnL = (pos.LTP - pos.AvgBuyPrice) * pos.NetQuantity
	case pos.NetQuantity < 0:
		pos.UnrealizedPnL = (pos.AvgSellPrice - pos.LTP) * -pos.NetQuantity
	default:
		pos.UnrealizedPnL = 0
	}
	pos.TotalPnL = pos.RealizedPnL + pos.UnrealizedPnL
}

// ClosePosition squares off a position with an opposite MARKET order for
// its whole net quantity.
func (e *Engine) ClosePosition(securityID string) (*models.Order, error) {
	e.begin()
	defer e.commit()

	o, err := e.closeLocked(securityID)
	if err != nil {
		return nil, err
	}
	c := *o
	return &c, nil
}

func (e *Engine) closeLocked(securityID string) (*models.Order, error) {
	pos, ok := e.positionIndex[securityID]
	if !ok || !pos.IsOpen() {
		return nil, errors.NewOrderError("", securityID, "close", "no open position", errors.ErrPositionNotFound)
	}

	side := models.OrderSideSell
	if pos.NetQuantity < 0 {
		side = models.OrderSideBuy
	}

	qty := math.Abs(pos.NetQuantity)
	if e.classifier.Classify(pos.Instrument()).IsDerivative() && pos.LotSize > 0 {
		qty /= float64(pos.LotSize)
	}

	price := pos.LTP
	if ltp, ok := e.quotes[securityID]; ok && ltp > 0 {
		price = ltp
	}

	return e.placeLocked(OrderRequest{
		Instrument: pos.Instrument(),
		Side:       side,
		Type:       models.OrderTypeMarket,
		Product:    pos.Product,
		Quantity:   int(math.Round(qty)),
		Price:      price,
	})
}

// ConvertPosition changes the product type of an open position.
func (e *Engine) ConvertPosition(securityID string, product models.ProductType) error {
	e.begin()
	defer e.commit()

	if !validProduct(product) {
		return errors.NewValidationError("productType", product, "must be MIS, CNC or NRML")
	}
	pos, ok := e.positionIndex[securityID]
	if !ok || !pos.IsOpen() {
		return errors.NewOrderError("", securityID, "convert", "no open position", errors.ErrPositionNotFound)
	}
	if pos.Product == product {
		return nil
	}

	e.logger.Info().
		Str("symbol", pos.Symbol).
		Str("from", string(pos.Product)).
		Str("to", string(product)).
		Msg("Position converted")
	pos.Product = product
	e.emit(Event{Type: EventPositionChanged})
	return nil
}
