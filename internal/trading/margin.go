// Package trading implements the paper trading engine: margin, charges,
// the order state machine, the position ledger and daily settlement.
package trading

import (
	"math"
	"strings"

	"paper-trader/internal/broker"
	"paper-trader/internal/models"
)

// Epsilon is the quantity under which a position counts as flat.
const Epsilon = 1e-3

// Margin rates and per-lot amounts.
const (
	equityMarginRate      = 0.20
	indexFutureMarginRate = 0.12
	stockFutureMarginRate = 0.18
	fallbackMarginRate    = 0.20

	defaultOptionSellPerLot  = 200000
	hedgedIndexOptionPerLot  = 50000
	hedgedStockOptionPerLot  = 70000
	defaultMCXOptionPerLot   = 150000
	hedgedMCXOptionReduction = 0.25
	defaultMCXFutureRate     = 0.15
)

var optionSellPerLot = map[string]float64{
	"NIFTY":     140000,
	"BANKNIFTY": 240000,
	"FINNIFTY":  100000,
}

type rootRate struct {
	match []string
	value float64
}

// Matched in order against the underlying, first hit wins.
var mcxFutureRates = []rootRate{
	{[]string{"CRUDE"}, 0.20},
	{[]string{"NATURALGAS"}, 0.25},
	{[]string{"GOLD"}, 0.14},
	{[]string{"SILVER"}, 0.18},
	{[]string{"COPPER"}, 0.18},
	{[]string{"ZINC", "ALU"}, 0.16},
}

var mcxOptionSellPerLot = []rootRate{
	{[]string{"CRUDE"}, 100000},
	{[]string{"NATURALGAS"}, 150000},
	{[]string{"GOLD"}, 150000},
	{[]string{"SILVER"}, 200000},
	{[]string{"COPPER", "ZINC"}, 120000},
}

func lookupRootRate(table []rootRate, root string, fallback float64) float64 {
	for _, r := range table {
		for _, m := range r.match {
			if strings.Contains(root, m) {
				return r.value
			}
		}
	}
	return fallback
}

// MarginRequest is an order intent to be margined.
type MarginRequest struct {
	Instrument models.Instrument
	Side       models.OrderSide
	Product    models.ProductType
	Quantity   int // lots for derivatives, shares for equity
	Price      float64
}

// MarginResult is the margin needed for the net new exposure of an order.
type MarginResult struct {
	Required      float64
	Hedged        bool
	Class         broker.InstrumentClass
	LotSize       int
	Units         float64 // actual units of the order
	NewUnits      float64 // units that add exposure after netting
	ReducingUnits float64 // units that close the existing position
}

// MarginCalculator computes required margin from the fixed rule tables.
type MarginCalculator struct {
	classifier *broker.Classifier
}

// NewMarginCalculator creates a margin calculator.
func NewMarginCalculator(classifier *broker.Classifier) *MarginCalculator {
	if classifier == nil {
		classifier = broker.NewClassifier(nil)
	}
	return &MarginCalculator{classifier: classifier}
}

// Compute returns the margin for req given the current position in the
// same security (nil if none) and the open positions used for hedge
// detection. Invalid quantities or prices yield a zero result.
func (m *MarginCalculator) Compute(req MarginRequest, existing *models.Position, open []models.Position) MarginResult {
	cls := m.classifier.Classify(req.Instrument)
	lot := m.classifier.LotSize(req.Instrument)
	res := MarginResult{Class: cls, LotSize: lot}

	if req.Quantity <= 0 || !finitePositive(req.Price) {
		return res
	}

	units := m.classifier.Units(req.Instrument, req.Quantity)
	res.Units = units
	res.NewUnits, res.ReducingUnits = netUnits(units, req.Side, existing)
	if res.NewUnits == 0 {
		return res
	}

	notional := req.Price * res.NewUnits
	lots := res.NewUnits / float64(lot)
	root := broker.RootSymbol(req.Instrument.Symbol)
	buy := req.Side == models.OrderSideBuy

	switch cls {
	case broker.ClassEquity:
		if !buy && req.Product == models.ProductCNC {
			res.Required = 0
		} else {
			res.Required = notional * equityMarginRate
		}

	case broker.ClassIndexFuture:
		res.Required = notional * indexFutureMarginRate

	case broker.ClassStockFuture:
		res.Required = notional * stockFutureMarginRate

	case broker.ClassIndexOption, broker.ClassStockOption:
		if buy {
			res.Required = notional
			break
		}
		res.Hedged = m.hasHedge(req.Instrument, open)
		if res.Hedged {
			perLot := float64(hedgedStockOptionPerLot)
			if cls == broker.ClassIndexOption || m.classifier.IsIndexUnderlying(req.Instrument) {
				perLot = hedgedIndexOptionPerLot
			}
			res.Required = lots * perLot
		} else {
			perLot, ok := optionSellPerLot[root]
			if !ok {
				perLot = defaultOptionSellPerLot
			}
			res.Required = lots * perLot
		}

	case broker.ClassCommodityFuture:
		res.Required = notional * lookupRootRate(mcxFutureRates, root, defaultMCXFutureRate)

	case broker.ClassCommodityOption:
		if buy {
			res.Required = notional
			break
		}
		perLot := lookupRootRate(mcxOptionSellPerLot, root, defaultMCXOptionPerLot)
		res.Hedged = m.hasHedge(req.Instrument, open)
		if res.Hedged {
			perLot *= hedgedMCXOptionReduction
		}
		res.Required = lots * perLot

	default:
		res.Required = notional * fallbackMarginRate
	}

	if !finite(res.Required) || res.Required < 0 {
		res.Required = 0
	}
	return res
}

// netUnits splits an order into units that reduce an opposite-sign
// position and units that open new exposure.
func netUnits(units float64, side models.OrderSide, existing *models.Position) (newUnits, reducing float64) {
	if existing == nil || math.Abs(existing.NetQuantity) <= Epsilon {
		return units, 0
	}
	q := existing.NetQuantity
	switch {
	case q > 0 && side == models.OrderSideSell:
		reducing = math.Min(units, q)
	case q < 0 && side == models.OrderSideBuy:
		reducing = math.Min(units, -q)
	default:
		return units, 0
	}
	return units - reducing, reducing
}

// hasHedge reports whether a long option on the same underlying and
// derivatives venue is held. Only open positions count.
func (m *MarginCalculator) hasHedge(inst models.Instrument, open []models.Position) bool {
	root := broker.RootSymbol(inst.Symbol)
	commodity := inst.Segment == models.SegmentMCXComm
	for i := range open {
		p := &open[i]
		if p.NetQuantity <= Epsilon || p.SecurityID == inst.SecurityID {
			continue
		}
		if !p.Segment.IsDerivative() || (p.Segment == models.SegmentMCXComm) != commodity {
			continue
		}
		if broker.RootSymbol(p.Symbol) != root {
			continue
		}
		if m.classifier.Classify(p.Instrument()).IsOption() {
			return true
		}
	}
	return false
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finitePositive(v float64) bool {
	return finite(v) && v > 0
}
