// Package broker provides the broker REST collaborator and the instrument
// classifier used by the paper engine.
package broker

import (
	"context"
)

// Broker defines the read-only broker operations the simulator consumes.
// Orders never reach the real broker.
type Broker interface {
	// Session
	GetProfile(ctx context.Context) (*Profile, error)
	ValidateSession(ctx context.Context) bool

	// Account
	GetFunds(ctx context.Context) (*FundLimit, error)

	// Options
	GetOptionChainExpiry(ctx context.Context, underlying UnderlyingRef) ([]string, error)
	GetOptionChain(ctx context.Context, underlying UnderlyingRef, expiry string) (*OptionChain, error)
}

// Credentials identifies the broker account.
type Credentials struct {
	ClientID    string
	AccessToken string
}

// Profile is the broker's view of the logged-in client.
type Profile struct {
	ClientID      string `json:"dhanClientId"`
	TokenValidity string `json:"tokenValidity"`
	ActiveSegment string `json:"activeSegment"`
	DDPI          string `json:"ddpi"`
	MTF           string `json:"mtf"`
	DataPlan      string `json:"dataPlan"`
	DataValidity  string `json:"dataValidity"`
}

// FundLimit mirrors the broker's fund limits response.
type FundLimit struct {
	ClientID            string  `json:"dhanClientId"`
	AvailableBalance    float64 `json:"availabelBalance"` // sic, upstream field name
	SODLimit            float64 `json:"sodLimit"`
	CollateralAmount    float64 `json:"collateralAmount"`
	ReceivableAmount    float64 `json:"receiveableAmount"`
	UtilizedAmount      float64 `json:"utilizedAmount"`
	BlockedPayoutAmount float64 `json:"blockedPayoutAmount"`
	WithdrawableBalance float64 `json:"withdrawableBalance"`
}

// UnderlyingRef identifies an option chain underlying.
type UnderlyingRef struct {
	SecurityID int    `json:"UnderlyingScrip"`
	Segment    string `json:"UnderlyingSeg"`
}

// OptionGreeks holds per-contract greeks.
type OptionGreeks struct {
	Delta float64 `json:"delta"`
	Theta float64 `json:"theta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
}

// OptionQuote is one side (call or put) of an option chain strike.
type OptionQuote struct {
	LastPrice         float64      `json:"last_price"`
	OI                int64        `json:"oi"`
	Volume            int64        `json:"volume"`
	ImpliedVolatility float64      `json:"implied_volatility"`
	PreviousClose     float64      `json:"previous_close_price"`
	PreviousOI        int64        `json:"previous_oi"`
	PreviousVolume    int64        `json:"previous_volume"`
	TopAskPrice       float64      `json:"top_ask_price"`
	TopAskQuantity    int64        `json:"top_ask_quantity"`
	TopBidPrice       float64      `json:"top_bid_price"`
	TopBidQuantity    int64        `json:"top_bid_quantity"`
	Greeks            OptionGreeks `json:"greeks"`
}

// OptionStrike holds the call and put quotes at a strike.
type OptionStrike struct {
	Call *OptionQuote `json:"ce,omitempty"`
	Put  *OptionQuote `json:"pe,omitempty"`
}

// OptionChain is an option chain snapshot keyed by strike string.
type OptionChain struct {
	LastPrice float64                 `json:"last_price"`
	Strikes   map[string]OptionStrike `json:"oc"`
}
