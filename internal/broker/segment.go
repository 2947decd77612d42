package broker

import (
	"sort"
	"strings"

	"paper-trader/internal/models"
)

// InstrumentClass is the asset class that selects margin and charge rules.
type InstrumentClass int

const (
	ClassUnknown InstrumentClass = iota
	ClassEquity
	ClassIndex // spot index, not tradable
	ClassIndexFuture
	ClassStockFuture
	ClassIndexOption
	ClassStockOption
	ClassCommodityFuture
	ClassCommodityOption
	ClassCurrency
)

var classNames = map[InstrumentClass]string{
	ClassUnknown:         "unknown",
	ClassEquity:          "equity",
	ClassIndex:           "index",
	ClassIndexFuture:     "index_future",
	ClassStockFuture:     "stock_future",
	ClassIndexOption:     "index_option",
	ClassStockOption:     "stock_option",
	ClassCommodityFuture: "commodity_future",
	ClassCommodityOption: "commodity_option",
	ClassCurrency:        "currency",
}

func (c InstrumentClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// IsOption reports whether the class is an options contract.
func (c InstrumentClass) IsOption() bool {
	return c == ClassIndexOption || c == ClassStockOption || c == ClassCommodityOption
}

// IsFuture reports whether the class is a futures contract.
func (c InstrumentClass) IsFuture() bool {
	return c == ClassIndexFuture || c == ClassStockFuture || c == ClassCommodityFuture
}

// IsCommodity reports whether the class trades on the commodity venue.
func (c InstrumentClass) IsCommodity() bool {
	return c == ClassCommodityFuture || c == ClassCommodityOption
}

// IsDerivative reports whether quantities are expressed in lots.
func (c InstrumentClass) IsDerivative() bool {
	return c.IsOption() || c.IsFuture() || c == ClassCurrency
}

// IndexRoots are the underlyings treated as indices for F&O margin.
var IndexRoots = map[string]bool{
	"NIFTY":      true,
	"BANKNIFTY":  true,
	"FINNIFTY":   true,
	"MIDCPNIFTY": true,
	"SENSEX":     true,
	"BANKEX":     true,
}

// Exchange instrument type codes from the broker's instrument master.
var instrumentTypeClasses = map[string]InstrumentClass{
	"EQUITY": ClassEquity,
	"INDEX":  ClassIndex,
	"FUTIDX": ClassIndexFuture,
	"FUTSTK": ClassStockFuture,
	"OPTIDX": ClassIndexOption,
	"OPTSTK": ClassStockOption,
	"FUTCOM": ClassCommodityFuture,
	"OPTFUT": ClassCommodityOption,
	"OPTCOM": ClassCommodityOption,
	"FUTCUR": ClassCurrency,
	"OPTCUR": ClassCurrency,
}

// Default contract sizes by underlying.
var defaultLotSizes = map[string]int{
	"NIFTY":      65,
	"BANKNIFTY":  30,
	"FINNIFTY":   40,
	"MIDCPNIFTY": 75,
	"SENSEX":     10,
	"BANKEX":     15,
	"CRUDEOIL":   100,
	"NATURALGAS": 1250,
	"GOLD":       100,
	"GOLDM":      10,
	"SILVER":     30,
	"SILVERM":    5,
	"COPPER":     1000,
	"ZINC":       5000,
	"LEAD":       5000,
	"ALUMINIUM":  5000,
	"NICKEL":     250,
}

// Classifier maps instrument descriptors to asset classes and lot sizes.
type Classifier struct {
	lotSizes map[string]int
	lotKeys  []string // lotSizes keys, longest first
}

// NewClassifier creates a classifier with the default lot-size table.
// Entries in overrides replace or extend the defaults.
func NewClassifier(overrides map[string]int) *Classifier {
	sizes := make(map[string]int, len(defaultLotSizes)+len(overrides))
	for k, v := range defaultLotSizes {
		sizes[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			sizes[strings.ToUpper(k)] = v
		}
	}

	keys := make([]string, 0, len(sizes))
	for k := range sizes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	return &Classifier{lotSizes: sizes, lotKeys: keys}
}

// RootSymbol returns the underlying of a trading symbol, e.g.
// "NIFTY 25 JAN 24000 CALL" and "NIFTY-Jan2025-24000-CE" both give NIFTY.
func RootSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexAny(s, " -"); i >= 0 {
		s = s[:i]
	}
	return s
}

// Classify returns the asset class of an instrument. The instrument type
// code wins when present; otherwise the segment and symbol decide.
func (c *Classifier) Classify(inst models.Instrument) InstrumentClass {
	if cls, ok := instrumentTypeClasses[strings.ToUpper(inst.InstrumentType)]; ok {
		return cls
	}

	switch inst.Segment {
	case models.SegmentNSEEquity, models.SegmentBSEEquity:
		return ClassEquity
	case models.SegmentIndex:
		return ClassIndex
	case models.SegmentNSECurrency, models.SegmentBSECurrency:
		return ClassCurrency
	case models.SegmentNSEFNO, models.SegmentBSEFNO:
		index := IndexRoots[RootSymbol(inst.Symbol)]
		if isFutureSymbol(inst.Symbol) {
			if index {
				return ClassIndexFuture
			}
			return ClassStockFuture
		}
		if index {
			return ClassIndexOption
		}
		return ClassStockOption
	case models.SegmentMCXComm:
		if isOptionSymbol(inst.Symbol) {
			return ClassCommodityOption
		}
		return ClassCommodityFuture
	}
	return ClassUnknown
}

// IsIndexUnderlying reports whether the instrument's root is an index.
func (c *Classifier) IsIndexUnderlying(inst models.Instrument) bool {
	return IndexRoots[RootSymbol(inst.Symbol)]
}

// LotSize returns the contract size for an instrument. An explicit lot
// size on the descriptor wins; equity is always 1; unknown derivatives
// fall back to 1.
func (c *Classifier) LotSize(inst models.Instrument) int {
	cls := c.Classify(inst)
	if cls == ClassEquity || cls == ClassIndex {
		return 1
	}
	if inst.LotSize > 0 {
		return inst.LotSize
	}
	sym := strings.ToUpper(inst.Symbol)
	for _, key := range c.lotKeys {
		if strings.Contains(sym, key) {
			return c.lotSizes[key]
		}
	}
	return 1
}

// Units converts an order quantity to actual units. The product is taken
// in float64 so huge lot counts cannot wrap.
func (c *Classifier) Units(inst models.Instrument, quantity int) float64 {
	if !c.Classify(inst).IsDerivative() {
		return float64(quantity)
	}
	return float64(quantity) * float64(c.LotSize(inst))
}

func isFutureSymbol(symbol string) bool {
	s := strings.ToUpper(symbol)
	return strings.HasSuffix(s, "FUT") || strings.Contains(s, "-FUT") || strings.Contains(s, " FUT")
}

func isOptionSymbol(symbol string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range []string{"CE", "PE", "CALL", "PUT"} {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
