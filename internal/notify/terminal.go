// Package notify turns engine events into terminal notifications for a
// live session.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"paper-trader/internal/models"
	"paper-trader/internal/trading"
)

// Kind classifies a notification.
type Kind int

const (
	KindFill Kind = iota
	KindRejected
	KindTrade
	KindSettlement
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindFill:
		return "fill"
	case KindRejected:
		return "rejected"
	case KindTrade:
		return "trade"
	case KindSettlement:
		return "settlement"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Notification is one terminal message.
type Notification struct {
	Kind      Kind
	Symbol    string
	Message   string
	Amount    float64 // P&L or charges, when relevant
	Priority  int     // Higher = more important
	Timestamp time.Time
}

// Handler receives notifications on the notifier goroutine.
type Handler func(n Notification)

// TerminalNotifier queues notifications and delivers them to handlers off
// the caller's goroutine. When the buffer is full the oldest entry is
// dropped.
type TerminalNotifier struct {
	notifications chan Notification
	bell          io.Writer

	mu       sync.RWMutex
	handlers []Handler
	enabled  bool
}

// NewTerminalNotifier creates a notifier with the given buffer size.
func NewTerminalNotifier(bufferSize int) *TerminalNotifier {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &TerminalNotifier{
		notifications: make(chan Notification, bufferSize),
		enabled:       true,
	}
}

// SetBell rings the terminal bell on w for priority notifications. Nil
// disables it.
func (tn *TerminalNotifier) SetBell(w io.Writer) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bell = w
}

// SetEnabled enables or disables the notifier.
func (tn *TerminalNotifier) SetEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.enabled = enabled
}

// AddHandler adds a notification handler.
func (tn *TerminalNotifier) AddHandler(h Handler) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.handlers = append(tn.handlers, h)
}

// Notify queues a notification.
func (tn *TerminalNotifier) Notify(n Notification) {
	tn.mu.RLock()
	enabled := tn.enabled
	tn.mu.RUnlock()
	if !enabled {
		return
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	for {
		select {
		case tn.notifications <- n:
			return
		default:
		}
		select {
		case <-tn.notifications:
		default:
		}
	}
}

// Start delivers queued notifications until ctx is done.
func (tn *TerminalNotifier) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-tn.notifications:
				tn.deliver(n)
			}
		}
	}()
}

func (tn *TerminalNotifier) deliver(n Notification) {
	tn.mu.RLock()
	handlers := tn.handlers
	bell := tn.bell
	tn.mu.RUnlock()

	if bell != nil && n.Priority > 0 {
		fmt.Fprint(bell, "\a")
	}
	for _, h := range handlers {
		h(n)
	}
}

// HandleEvent converts an engine event to a notification. It is meant to
// be registered with Engine.Subscribe.
func (tn *TerminalNotifier) HandleEvent(ev trading.Event) {
	if n, ok := FromEvent(ev); ok {
		tn.Notify(n)
	}
}

// FromEvent builds the notification for an engine event. Events that are
// not worth a message return false.
func FromEvent(ev trading.Event) (Notification, bool) {
	switch ev.Type {
	case trading.EventOrderUpdated:
		o := ev.Order
		if o == nil {
			return Notification{}, false
		}
		switch o.Status {
		case models.OrderStatusExecuted:
			return Notification{
				Kind:      KindFill,
				Symbol:    o.Symbol,
				Message:   fmt.Sprintf("%s %d %s @ %.2f (%s)", o.Side, o.FilledQty, o.Symbol, o.AvgFillPrice, o.Type),
				Priority:  1,
				Timestamp: ev.At,
			}, true
		case models.OrderStatusRejected:
			return Notification{
				Kind:      KindRejected,
				Symbol:    o.Symbol,
				Message:   fmt.Sprintf("%s %s rejected: %s", o.Side, o.Symbol, o.RejectionReason),
				Priority:  2,
				Timestamp: ev.At,
			}, true
		}

	case trading.EventTradeLogged:
		t := ev.Trade
		if t == nil {
			return Notification{}, false
		}
		return Notification{
			Kind:      KindTrade,
			Symbol:    t.Symbol,
			Message:   fmt.Sprintf("%s closed %g (%s), P&L %+.2f", t.Symbol, t.Quantity, t.Type, t.RealizedPnL),
			Amount:    t.RealizedPnL,
			Priority:  1,
			Timestamp: ev.At,
		}, true

	case trading.EventSettled:
		s := ev.Settlement
		if s == nil {
			return Notification{}, false
		}
		return Notification{
			Kind: KindSettlement,
			Message: fmt.Sprintf("Settled %s: %d trades, charges %.2f, %d positions removed",
				s.Date, s.TradesSettled, s.Charges, s.PositionsRemoved),
			Amount:    -s.Charges,
			Timestamp: ev.At,
		}, true
	}
	return Notification{}, false
}
