package trading

import (
	"math"

	"paper-trader/internal/errors"
	"paper-trader/internal/logging"
	"paper-trader/internal/models"
)

// RejectInsufficientMargin is the rejection reason when margin is short.
const RejectInsufficientMargin = "Insufficient margin"

// OrderRequest is a request to place one order. Quantity is in lots for
// derivatives and shares for equity. For MARKET orders Price is the
// caller's reference price, used when no quote is cached.
type OrderRequest struct {
	Instrument   models.Instrument  `json:"instrument"`
	Side         models.OrderSide   `json:"side"`
	Type         models.OrderType   `json:"orderType"`
	Product      models.ProductType `json:"productType"`
	Quantity     int                `json:"quantity"`
	Price        float64            `json:"price"`
	TriggerPrice float64            `json:"triggerPrice,omitempty"`
}

// ModifyRequest changes an open order. Zero fields are left unchanged.
type ModifyRequest struct {
	Quantity     int     `json:"quantity,omitempty"`
	Price        float64 `json:"price,omitempty"`
	TriggerPrice float64 `json:"triggerPrice,omitempty"`
}

func validSide(s models.OrderSide) bool {
	return s == models.OrderSideBuy || s == models.OrderSideSell
}

func validProduct(p models.ProductType) bool {
	switch p {
	case models.ProductMIS, models.ProductCNC, models.ProductNRML:
		return true
	}
	return false
}

// MaxOrderUnits caps the units of a single order.
const MaxOrderUnits = 1e8

func checkPrice(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return errors.NewValidationError(field, v, "must be a positive finite number")
	}
	return nil
}

// validate checks a request and returns the price used for margin: the
// execution estimate for MARKET, the limit for LIMIT/SL and the trigger
// for SL-M.
func (e *Engine) validateLocked(req OrderRequest) (float64, error) {
	inst := req.Instrument
	if inst.SecurityID == "" {
		return 0, errors.NewValidationError("securityId", inst.SecurityID, "is required")
	}
	if inst.LotSize < 0 {
		return 0, errors.NewValidationError("lotSize", inst.LotSize, "must be positive")
	}
	if req.Quantity <= 0 {
		return 0, errors.NewValidationError("quantity", req.Quantity, "must be positive")
	}
	if units := e.classifier.Units(inst, req.Quantity); units > MaxOrderUnits {
		return 0, errors.NewValidationError("quantity", req.Quantity, "exceeds the per-order limit")
	}
	if !validSide(req.Side) {
		return 0, errors.NewValidationError("side", req.Side, "must be BUY or SELL")
	}
	if !validProduct(req.Product) {
		return 0, errors.NewValidationError("productType", req.Product, "must be MIS, CNC or NRML")
	}

	switch req.Type {
	case models.OrderTypeMarket:
		if ltp, ok := e.quotes[inst.SecurityID]; ok && ltp > 0 {
			return ltp, nil
		}
		return req.Price, checkPrice("price", req.Price)
	case models.OrderTypeLimit:
		return req.Price, checkPrice("price", req.Price)
	case models.OrderTypeStopLoss:
		if err := checkPrice("price", req.Price); err != nil {
			return 0, err
		}
		return req.Price, checkPrice("triggerPrice", req.TriggerPrice)
	case models.OrderTypeStopLossM:
		return req.TriggerPrice, checkPrice("triggerPrice", req.TriggerPrice)
	}
	return 0, errors.NewValidationError("orderType", req.Type, "unknown order type")
}

// PlaceOrder validates, margins and records an order. MARKET orders
// execute immediately; the others rest OPEN until a tick triggers them.
// A margin shortfall records a REJECTED order and returns it without
// error. Invalid requests return a *errors.ValidationError and record
// nothing.
func (e *Engine) PlaceOrder(req OrderRequest) (*models.Order, error) {
	e.begin()
	defer e.commit()

	o, err := e.placeLocked(req)
	if err != nil {
		return nil, err
	}
	c := *o
	return &c, nil
}

func (e *Engine) placeLocked(req OrderRequest) (*models.Order, error) {
	marginPrice, err := e.validateLocked(req)
	if err != nil {
		return nil, err
	}

	inst := req.Instrument
	now := e.clock()
	o := &models.Order{
		ID:             e.newID("ORD"),
		SecurityID:     inst.SecurityID,
		Symbol:         inst.Symbol,
		Exchange:       inst.Exchange,
		Segment:        inst.Segment,
		InstrumentType: inst.InstrumentType,
		LotSize:        e.classifier.LotSize(inst),
		Side:           req.Side,
		Type:           req.Type,
		Product:        req.Product,
		Quantity:       req.Quantity,
		Price:          req.Price,
		TriggerPrice:   req.TriggerPrice,
		Status:         models.OrderStatusPending,
		CreatedAt:      now,
	}
	if o.Exchange == "" {
		o.Exchange = inst.Segment.Exchange()
	}

	m := e.margin.Compute(MarginRequest{
		Instrument: o.Instrument(),
		Side:       o.Side,
		Product:    o.Product,
		Quantity:   o.Quantity,
		Price:      marginPrice,
	}, e.positionIndex[o.SecurityID], e.openPositionsLocked())
	o.Hedged = m.Hedged

	e.orders = append(e.orders, o)
	e.orderIndex[o.ID] = o

	log := logging.WithOrderID(e.logger, o.ID)

	if e.account.TotalCapital-e.account.UsedMargin < m.Required {
		o.Status = models.OrderStatusRejected
		o.RejectionReason = RejectInsufficientMargin
		log.Warn().
			Str("symbol", o.Symbol).
			Float64("required", m.Required).
			Float64("available", e.account.TotalCapital-e.account.UsedMargin).
			Msg("Order rejected")
		e.emitOrder(o)
		return o, nil
	}

	o.MarginBlocked = m.Required
	e.account.UsedMargin += m.Required

	if o.Type == models.OrderTypeMarket {
		e.executeLocked(o, marginPrice)
	} else {
		o.Status = models.OrderStatusOpen
		logging.LogOrder(log, o.ID, o.Symbol, string(o.Side), string(o.Status))
		e.emitOrder(o)
	}
	return o, nil
}

// CancelOrder cancels a pending or open order and releases its margin.
// Cancelling a terminal order is a no-op.
func (e *Engine) CancelOrder(id string) error {
	e.begin()
	defer e.commit()

	o, ok := e.orderIndex[id]
	if !ok {
		return errors.NewOrderError(id, "", "cancel", "unknown order", errors.ErrOrderNotFound)
	}
	if o.Status.IsTerminal() {
		return nil
	}

	e.account.UsedMargin -= o.MarginBlocked
	o.MarginBlocked = 0
	o.Status = models.OrderStatusCancelled
	logging.LogOrder(e.logger, o.ID, o.Symbol, string(o.Side), string(o.Status))
	e.emitOrder(o)
	return nil
}

// ModifyOrder changes the quantity, price or trigger of an open order and
// re-margins it. If the new margin does not fit, the order is left as it
// was and ErrInsufficientFunds is returned. Terminal orders are ignored.
func (e *Engine) ModifyOrder(id string, mod ModifyRequest) error {
	e.begin()
	defer e.commit()

	o, ok := e.orderIndex[id]
	if !ok {
		return errors.NewOrderError(id, "", "modify", "unknown order", errors.ErrOrderNotFound)
	}
	if o.Status != models.OrderStatusOpen {
		return nil
	}

	req := OrderRequest{
		Instrument:   o.Instrument(),
		Side:         o.Side,
		Type:         o.Type,
		Product:      o.Product,
		Quantity:     o.Quantity,
		Price:        o.Price,
		TriggerPrice: o.TriggerPrice,
	}
	if mod.Quantity != 0 {
		req.Quantity = mod.Quantity
	}
	if mod.Price != 0 {
		req.Price = mod.Price
	}
	if mod.TriggerPrice != 0 {
		req.TriggerPrice = mod.TriggerPrice
	}

	marginPrice, err := e.validateLocked(req)
	if err != nil {
		return err
	}
	m := e.margin.Compute(MarginRequest{
		Instrument: req.Instrument,
		Side:       req.Side,
		Product:    req.Product,
		Quantity:   req.Quantity,
		Price:      marginPrice,
	}, e.positionIndex[o.SecurityID], e.openPositionsLocked())

	available := e.account.TotalCapital - e.account.UsedMargin + o.MarginBlocked
	if available < m.Required {
		return errors.NewOrderError(o.ID, o.Symbol, "modify", RejectInsufficientMargin, errors.ErrInsufficientFunds)
	}

	e.account.UsedMargin += m.Required - o.MarginBlocked
	o.MarginBlocked = m.Required
	o.Hedged = m.Hedged
	o.Quantity = req.Quantity
	o.Price = req.Price
	o.TriggerPrice = req.TriggerPrice

	e.logger.Info().
		Str("order_id", o.ID).
		Int("quantity", o.Quantity).
		Float64("price", o.Price).
		Float64("trigger", o.TriggerPrice).
		Msg("Order modified")
	e.emitOrder(o)
	return nil
}

// OpenOrders returns the orders still waiting for a trigger.
func (e *Engine) OpenOrders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Order
	for _, o := range e.orders {
		if o.Status == models.OrderStatusOpen {
			out = append(out, *o)
		}
	}
	return out
}

// EstimateMargin returns the margin a request would block now, without
// placing it.
func (e *Engine) EstimateMargin(req OrderRequest) (MarginResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimateLocked(req)
}

func (e *Engine) estimateLocked(req OrderRequest) (MarginResult, error) {
	price, err := e.validateLocked(req)
	if err != nil {
		return MarginResult{}, err
	}
	return e.margin.Compute(MarginRequest{
		Instrument: req.Instrument,
		Side:       req.Side,
		Product:    req.Product,
		Quantity:   req.Quantity,
		Price:      price,
	}, e.positionIndex[req.Instrument.SecurityID], e.openPositionsLocked()), nil
}

// EstimateLegCharges itemises the charges for the leg a request would
// create at its reference price.
func (e *Engine) EstimateLegCharges(req OrderRequest) (ChargeBreakdown, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, err := e.validateLocked(req)
	if err != nil {
		return ChargeBreakdown{}, err
	}
	cls := e.classifier.Classify(req.Instrument)
	units := e.classifier.Units(req.Instrument, req.Quantity)
	return LegCharges(cls, req.Product, req.Side, price, units), nil
}

func (e *Engine) openPositionsLocked() []models.Position {
	var out []models.Position
	for _, p := range e.positions {
		if p.IsOpen() {
			out = append(out, *p)
		}
	}
	return out
}
