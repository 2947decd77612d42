package models

import "time"

// CloseType tells which side of a position a trade slice closed.
type CloseType string

const (
	LongClose  CloseType = "LONG_CLOSE"
	ShortClose CloseType = "SHORT_CLOSE"
)

// TradeLog is an immutable record of a realized slice of a position.
// Quantity is in lots (shares for equity).
type TradeLog struct {
	ID             string      `json:"id"`
	SecurityID     string      `json:"securityId"`
	Symbol         string      `json:"symbol"`
	Exchange       Exchange    `json:"exchange"`
	Segment        Segment     `json:"segment"`
	InstrumentType string      `json:"instrumentType,omitempty"`
	Product        ProductType `json:"productType"`
	Quantity       float64     `json:"quantity"`
	LotSize        int         `json:"lotSize"`
	BuyPrice       float64     `json:"buyPrice"`
	SellPrice      float64     `json:"sellPrice"`
	RealizedPnL    float64     `json:"realizedPnl"`
	Charges        float64     `json:"charges"`
	NetPnL         float64     `json:"netPnl"`
	Timestamp      time.Time   `json:"timestamp"`
	Type           CloseType   `json:"type"`
	Settled        bool        `json:"settled"`
}

// Units returns the traded quantity in actual units.
func (t *TradeLog) Units() float64 {
	lot := t.LotSize
	if lot <= 0 {
		lot = 1
	}
	return t.Quantity * float64(lot)
}

// DailyStat aggregates realized trades for one IST calendar day.
type DailyStat struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	RealizedPnL float64 `json:"realizedPnl"`
	TradeCount  int     `json:"tradeCount"`
}
