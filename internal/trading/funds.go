package trading

import (
	"paper-trader/internal/errors"
)

// AddFunds credits the account.
func (e *Engine) AddFunds(amount float64) error {
	if !finitePositive(amount) {
		return errors.NewValidationError("amount", amount, "must be a positive finite number")
	}

	e.begin()
	defer e.commit()

	e.account.TotalCapital += amount
	e.logger.Info().Float64("amount", amount).Float64("capital", e.account.TotalCapital).Msg("Funds added")
	e.emit(Event{Type: EventFundsChanged})
	return nil
}

// Reset wipes orders, positions, trades, stats and the watchlist and
// restores the account to capital. A non-positive capital uses the
// configured initial capital. The last settlement date is kept.
func (e *Engine) Reset(capital float64) {
	if !finitePositive(capital) {
		capital = e.cfg.InitialCapital
	}

	e.begin()
	defer e.commit()

	e.resetLocked(capital)
	e.logger.Warn().Float64("capital", capital).Msg("Account reset")
	e.emit(Event{Type: EventReset})
}
