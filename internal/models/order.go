package models

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusExecuted  OrderStatus = "EXECUTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusExecuted, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Order represents a paper order. Quantity is in lots for derivatives and
// shares for equity.
type Order struct {
	ID              string      `json:"orderId"`
	SecurityID      string      `json:"securityId"`
	Symbol          string      `json:"symbol"`
	Exchange        Exchange    `json:"exchange"`
	Segment         Segment     `json:"segment"`
	InstrumentType  string      `json:"instrumentType,omitempty"`
	LotSize         int         `json:"lotSize"`
	Side            OrderSide   `json:"side"`
	Type            OrderType   `json:"orderType"`
	Product         ProductType `json:"productType"`
	Quantity        int         `json:"quantity"`
	Price           float64     `json:"price"`
	TriggerPrice    float64     `json:"triggerPrice,omitempty"`
	Status          OrderStatus `json:"status"`
	FilledQty       int         `json:"filledQty"`
	AvgFillPrice    float64     `json:"avgPrice"`
	MarginBlocked   float64     `json:"marginBlocked"`
	Hedged          bool        `json:"hedged,omitempty"`
	CreatedAt       time.Time   `json:"timestamp"`
	ExecutedAt      *time.Time  `json:"executedAt,omitempty"`
	RejectionReason string      `json:"rejectionReason,omitempty"`
}

// Instrument returns the descriptor the order was placed against.
func (o *Order) Instrument() Instrument {
	return Instrument{
		SecurityID:     o.SecurityID,
		Symbol:         o.Symbol,
		Exchange:       o.Exchange,
		Segment:        o.Segment,
		LotSize:        o.LotSize,
		InstrumentType: o.InstrumentType,
	}
}

// Position is the net holding in one security. Quantities are in actual
// units (lots multiplied by lot size for derivatives).
type Position struct {
	SecurityID     string      `json:"securityId"`
	Symbol         string      `json:"symbol"`
	Exchange       Exchange    `json:"exchange"`
	Segment        Segment     `json:"segment"`
	InstrumentType string      `json:"instrumentType,omitempty"`
	Product        ProductType `json:"productType"`
	NetQuantity    float64     `json:"quantity"`
	BuyQty         float64     `json:"buyQty"`
	SellQty        float64     `json:"sellQty"`
	AvgBuyPrice    float64     `json:"avgBuyPrice"`
	AvgSellPrice   float64     `json:"avgSellPrice"`
	LTP            float64     `json:"ltp"`
	RealizedPnL    float64     `json:"realizedPnl"`
	UnrealizedPnL  float64     `json:"unrealizedPnl"`
	TotalPnL       float64     `json:"totalPnl"`
	LotSize        int         `json:"lotSize"`
	MarginUsed     float64     `json:"marginUsed"`
}

// IsOpen reports whether the position still carries quantity.
func (p *Position) IsOpen() bool {
	return p.NetQuantity != 0
}

// Instrument returns the descriptor of the position's security.
func (p *Position) Instrument() Instrument {
	return Instrument{
		SecurityID:     p.SecurityID,
		Symbol:         p.Symbol,
		Exchange:       p.Exchange,
		Segment:        p.Segment,
		LotSize:        p.LotSize,
		InstrumentType: p.InstrumentType,
	}
}
