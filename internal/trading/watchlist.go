package trading

import (
	"paper-trader/internal/errors"
	"paper-trader/internal/models"
)

// Watchlist returns the watched instruments with their latest data.
func (e *Engine) Watchlist() []models.WatchItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.WatchItem(nil), e.watchlist...)
}

// AddToWatchlist starts watching an instrument. It reports false if it
// is already watched.
func (e *Engine) AddToWatchlist(inst models.Instrument) (bool, error) {
	if inst.SecurityID == "" {
		return false, errors.NewValidationError("securityId", inst.SecurityID, "is required")
	}

	e.begin()
	defer e.commit()

	for _, w := range e.watchlist {
		if w.SecurityID == inst.SecurityID && w.Segment == inst.Segment {
			return false, nil
		}
	}
	if inst.Exchange == "" {
		inst.Exchange = inst.Segment.Exchange()
	}
	item := models.WatchItem{Instrument: inst}
	if ltp, ok := e.quotes[inst.SecurityID]; ok {
		item.LTP = ltp
	}
	e.watchlist = append(e.watchlist, item)
	e.emit(Event{Type: EventWatchlist})
	return true, nil
}

// RemoveFromWatchlist stops watching a security. It reports whether an
// item was removed.
func (e *Engine) RemoveFromWatchlist(securityID string) bool {
	e.begin()
	defer e.commit()

	for i, w := range e.watchlist {
		if w.SecurityID == securityID {
			e.watchlist = append(e.watchlist[:i], e.watchlist[i+1:]...)
			e.emit(Event{Type: EventWatchlist})
			return true
		}
	}
	return false
}

func (e *Engine) updateWatchItemLocked(u *models.PriceUpdate) {
	for i := range e.watchlist {
		w := &e.watchlist[i]
		if w.SecurityID != u.SecurityID {
			continue
		}
		if u.Segment != "" && w.Segment != "" && u.Segment != w.Segment {
			continue
		}

		if u.Has(models.FieldPrevClose) && finitePositive(u.PrevClose) {
			w.PrevClose = u.PrevClose
		}
		if u.Has(models.FieldOpen) {
			w.Open = u.Open
		}
		if u.Has(models.FieldHigh) {
			w.High = u.High
		}
		if u.Has(models.FieldLow) {
			w.Low = u.Low
		}
		if u.Has(models.FieldVolume) {
			w.Volume = u.Volume
		}
		if u.Has(models.FieldLTP) && finitePositive(u.LTP) {
			w.LTP = u.LTP
		}
		refreshChange(w)
	}
}

// refreshChange recomputes change against the previous close, falling
// back to the LTP when no close is known.
func refreshChange(w *models.WatchItem) {
	if w.LTP <= 0 {
		return
	}
	prev := w.PrevClose
	if prev <= 0 {
		prev = w.LTP
	}
	w.Change = w.LTP - prev
	w.ChangePercent = 0
	if prev > 0 {
		w.ChangePercent = w.Change / prev * 100
	}
}
