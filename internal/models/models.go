// Package models provides domain models for the paper trading engine.
package models

import "time"

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	MCX Exchange = "MCX"
)

// Segment is the broker's exchange segment identifier.
type Segment string

const (
	SegmentIndex       Segment = "IDX_I"
	SegmentNSEEquity   Segment = "NSE_EQ"
	SegmentNSEFNO      Segment = "NSE_FNO"
	SegmentNSECurrency Segment = "NSE_CURRENCY"
	SegmentBSEEquity   Segment = "BSE_EQ"
	SegmentMCXComm     Segment = "MCX_COMM"
	SegmentBSECurrency Segment = "BSE_CURRENCY"
	SegmentBSEFNO      Segment = "BSE_FNO"
)

// Numeric segment codes used on the binary feed.
var segmentCodes = map[Segment]uint8{
	SegmentIndex:       0,
	SegmentNSEEquity:   1,
	SegmentNSEFNO:      2,
	SegmentNSECurrency: 3,
	SegmentBSEEquity:   4,
	SegmentMCXComm:     5,
	SegmentBSECurrency: 7,
	SegmentBSEFNO:      8,
}

// SegmentFromCode maps a feed segment byte to its Segment. Unknown codes
// yield an empty Segment.
func SegmentFromCode(code uint8) Segment {
	for seg, c := range segmentCodes {
		if c == code {
			return seg
		}
	}
	return ""
}

// Code returns the feed byte for the segment.
func (s Segment) Code() (uint8, bool) {
	c, ok := segmentCodes[s]
	return c, ok
}

// Exchange returns the venue the segment trades on.
func (s Segment) Exchange() Exchange {
	switch s {
	case SegmentBSEEquity, SegmentBSEFNO, SegmentBSECurrency:
		return BSE
	case SegmentMCXComm:
		return MCX
	default:
		return NSE
	}
}

// IsDerivative reports whether the segment carries futures or options.
func (s Segment) IsDerivative() bool {
	switch s {
	case SegmentNSEFNO, SegmentBSEFNO, SegmentMCXComm:
		return true
	}
	return false
}

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLoss  OrderType = "SL"
	OrderTypeStopLossM OrderType = "SL-M"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductCNC  ProductType = "CNC"  // Delivery
	ProductNRML ProductType = "NRML" // F&O carry forward
)

// Instrument is the descriptor the engine needs for a tradable security.
type Instrument struct {
	SecurityID     string   `json:"securityId"`
	Symbol         string   `json:"symbol"`
	Exchange       Exchange `json:"exchange"`
	Segment        Segment  `json:"segment"`
	LotSize        int      `json:"lotSize,omitempty"`
	InstrumentType string   `json:"instrumentType,omitempty"` // FUTIDX, OPTSTK, ...
}

// Quote is the minimal price snapshot supplied with an order request.
type Quote struct {
	SecurityID string    `json:"securityId"`
	LTP        float64   `json:"ltp"`
	Timestamp  time.Time `json:"timestamp"`
}

// AccountSummary is the running balance of the paper account.
type AccountSummary struct {
	TotalCapital         float64 `json:"totalCapital"`
	UsedMargin           float64 `json:"usedMargin"`
	AvailableMargin      float64 `json:"availableMargin"`
	RealizedPnL          float64 `json:"realizedPnl"`
	UnrealizedPnL        float64 `json:"unrealizedPnl"`
	TotalPnL             float64 `json:"totalPnl"`
	MarginUtilizationPct float64 `json:"marginUtilization"`
}

// WatchItem is a watched instrument with its latest market data.
type WatchItem struct {
	Instrument
	LTP           float64 `json:"ltp"`
	PrevClose     float64 `json:"prevClose,omitempty"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Open          float64 `json:"open,omitempty"`
	High          float64 `json:"high,omitempty"`
	Low           float64 `json:"low,omitempty"`
	Volume        int64   `json:"volume,omitempty"`
}
