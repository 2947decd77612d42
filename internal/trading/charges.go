package trading

import (
	"paper-trader/internal/broker"
	"paper-trader/internal/models"
)

// Statutory and broker rates applied per leg.
const (
	brokeragePerLeg = 20.0

	sttDelivery   = 0.001
	sttIntraday   = 0.00025
	sttFutures    = 0.0002
	sttOptions    = 0.001
	exchEquity    = 0.0000325
	exchFutures   = 0.00002
	exchOptions   = 0.00053
	exchCommodity = 0.000026
	sebiRate      = 0.000001
	stampDelivery = 0.00015
	stampIntraday = 0.00003
	stampOptions  = 0.00003
	stampFutures  = 0.00002
	gstRate       = 0.18
)

// ChargeBreakdown itemises the costs of one or more legs.
type ChargeBreakdown struct {
	Brokerage   float64 `json:"brokerage"`
	STT         float64 `json:"stt"`
	ExchangeTxn float64 `json:"exchangeTxn"`
	SEBI        float64 `json:"sebi"`
	StampDuty   float64 `json:"stampDuty"`
	GST         float64 `json:"gst"`
	Total       float64 `json:"total"`
}

// Add returns the sum of two breakdowns.
func (c ChargeBreakdown) Add(o ChargeBreakdown) ChargeBreakdown {
	return ChargeBreakdown{
		Brokerage:   c.Brokerage + o.Brokerage,
		STT:         c.STT + o.STT,
		ExchangeTxn: c.ExchangeTxn + o.ExchangeTxn,
		SEBI:        c.SEBI + o.SEBI,
		StampDuty:   c.StampDuty + o.StampDuty,
		GST:         c.GST + o.GST,
		Total:       c.Total + o.Total,
	}
}

// LegCharges computes the charges for a single buy or sell leg of
// units at price. Non-positive inputs cost nothing.
func LegCharges(class broker.InstrumentClass, product models.ProductType, side models.OrderSide, price, units float64) ChargeBreakdown {
	if !finitePositive(price) || !finitePositive(units) {
		return ChargeBreakdown{}
	}

	turnover := price * units
	buy := side == models.OrderSideBuy
	equity := class == broker.ClassEquity
	delivery := equity && product == models.ProductCNC

	var c ChargeBreakdown

	if !delivery {
		c.Brokerage = brokeragePerLeg
	}

	switch {
	case delivery:
		c.STT = turnover * sttDelivery
	case equity:
		if !buy {
			c.STT = turnover * sttIntraday
		}
	case class.IsFuture():
		if !buy {
			c.STT = turnover * sttFutures
		}
	case class.IsOption():
		if !buy {
			c.STT = turnover * sttOptions
		}
	}

	switch {
	case class.IsCommodity():
		c.ExchangeTxn = turnover * exchCommodity
	case equity:
		c.ExchangeTxn = turnover * exchEquity
	case class.IsOption():
		c.ExchangeTxn = turnover * exchOptions
	default:
		c.ExchangeTxn = turnover * exchFutures
	}

	c.SEBI = turnover * sebiRate

	if buy {
		switch {
		case delivery:
			c.StampDuty = turnover * stampDelivery
		case equity:
			c.StampDuty = turnover * stampIntraday
		case class.IsOption():
			c.StampDuty = turnover * stampOptions
		default:
			c.StampDuty = turnover * stampFutures
		}
	}

	c.GST = (c.Brokerage + c.ExchangeTxn + c.SEBI) * gstRate
	c.Total = c.Brokerage + c.STT + c.ExchangeTxn + c.SEBI + c.StampDuty + c.GST
	return c
}

// TradeCharges returns the combined buy and sell leg charges of a trade.
func TradeCharges(class broker.InstrumentClass, t *models.TradeLog) ChargeBreakdown {
	units := t.Units()
	buy := LegCharges(class, t.Product, models.OrderSideBuy, t.BuyPrice, units)
	sell := LegCharges(class, t.Product, models.OrderSideSell, t.SellPrice, units)
	return buy.Add(sell)
}
