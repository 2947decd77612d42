package trading

import (
	"paper-trader/internal/models"
)

// BasketEstimate is the margin a basket would need.
type BasketEstimate struct {
	Items         []MarginResult `json:"items"`
	TotalRequired float64        `json:"totalRequired"`
	Available     float64        `json:"available"`
	Sufficient    bool           `json:"sufficient"`
}

// EstimateBasket margins every item against the current positions only;
// items do not net or hedge against each other.
func (e *Engine) EstimateBasket(items []OrderRequest) (BasketEstimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	est := BasketEstimate{Items: make([]MarginResult, 0, len(items))}
	for _, item := range items {
		m, err := e.estimateLocked(item)
		if err != nil {
			return BasketEstimate{}, err
		}
		est.Items = append(est.Items, m)
		est.TotalRequired += m.Required
	}
	est.Available = e.account.TotalCapital - e.account.UsedMargin
	est.Sufficient = est.Available >= est.TotalRequired
	return est, nil
}

// PlaceBasket places items sequentially in one transaction and returns
// every resulting order, rejected ones included. It stops at the first
// invalid item and returns the orders placed before it.
func (e *Engine) PlaceBasket(items []OrderRequest) ([]models.Order, error) {
	e.begin()
	defer e.commit()

	out := make([]models.Order, 0, len(items))
	for _, item := range items {
		o, err := e.placeLocked(item)
		if err != nil {
			return out, err
		}
		out = append(out, *o)
	}
	return out, nil
}
