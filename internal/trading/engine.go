package trading

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paper-trader/internal/broker"
	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

// DefaultInitialCapital is the opening balance of a fresh account.
const DefaultInitialCapital = 500000.0

// DefaultSettlementCutoffHour is the IST hour before which settlement
// does not run.
const DefaultSettlementCutoffHour = 6

// EventType identifies an engine event.
type EventType string

const (
	EventOrderUpdated    EventType = "order_updated"
	EventTradeLogged     EventType = "trade_logged"
	EventSettled         EventType = "settled"
	EventFundsChanged    EventType = "funds_changed"
	EventPositionChanged EventType = "position_changed"
	EventWatchlist       EventType = "watchlist_changed"
	EventReset           EventType = "reset"
)

// Event is emitted after an engine transaction commits.
type Event struct {
	Type       EventType
	At         time.Time
	Order      *models.Order
	Trade      *models.TradeLog
	Settlement *SettlementResult
}

// Listener receives engine events. Listeners run outside the engine lock
// and may call back into the engine.
type Listener func(Event)

// Config configures an engine.
type Config struct {
	InitialCapital       float64
	SettlementCutoffHour int
	SquareOff            SquareOffWindow
	Classifier           *broker.Classifier
	Clock                func() time.Time
	IDGenerator          func(prefix string) string
	Logger               zerolog.Logger
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		InitialCapital:       DefaultInitialCapital,
		SettlementCutoffHour: DefaultSettlementCutoffHour,
		SquareOff:            DefaultSquareOffWindow(),
		Logger:               zerolog.Nop(),
	}
}

// Engine owns all account state. Every exported method is one
// transaction under a single mutex.
type Engine struct {
	mu sync.Mutex

	cfg        Config
	classifier *broker.Classifier
	margin     *MarginCalculator
	clock      func() time.Time
	newID      func(prefix string) string
	logger     zerolog.Logger

	account        models.AccountSummary
	orders         []*models.Order
	orderIndex     map[string]*models.Order
	positions      []*models.Position
	positionIndex  map[string]*models.Position
	trades         []models.TradeLog
	dailyStats     []models.DailyStat
	watchlist      []models.WatchItem
	quotes         map[string]float64
	lastSettlement string

	listeners []Listener
	pending   []Event
}

// NewEngine creates an engine with a fresh account.
func NewEngine(cfg Config) *Engine {
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = DefaultInitialCapital
	}
	if cfg.SettlementCutoffHour < 0 || cfg.SettlementCutoffHour > 23 {
		cfg.SettlementCutoffHour = DefaultSettlementCutoffHour
	}
	if cfg.SquareOff == (SquareOffWindow{}) {
		cfg.SquareOff = DefaultSquareOffWindow()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = broker.NewClassifier(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = func(prefix string) string {
			return prefix + "-" + uuid.NewString()
		}
	}

	e := &Engine{
		cfg:        cfg,
		classifier: cfg.Classifier,
		margin:     NewMarginCalculator(cfg.Classifier),
		clock:      cfg.Clock,
		newID:      cfg.IDGenerator,
		logger:     cfg.Logger.With().Str("component", "engine").Logger(),
	}
	e.resetLocked(cfg.InitialCapital)
	e.lastSettlement = InitialSettlementDate
	return e
}

// Subscribe registers a listener for engine events.
func (e *Engine) Subscribe(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// Classifier returns the instrument classifier used by the engine.
func (e *Engine) Classifier() *broker.Classifier {
	return e.classifier
}

// begin locks the engine. commit must follow.
func (e *Engine) begin() {
	e.mu.Lock()
}

// commit refreshes the summary, releases the lock and dispatches the
// events queued during the transaction.
func (e *Engine) commit() {
	e.refreshSummaryLocked()
	events := e.pending
	e.pending = nil
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()

	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

func (e *Engine) emit(ev Event) {
	ev.At = e.clock()
	e.pending = append(e.pending, ev)
}

func (e *Engine) emitOrder(o *models.Order) {
	c := *o
	e.emit(Event{Type: EventOrderUpdated, Order: &c})
}

func (e *Engine) resetLocked(capital float64) {
	e.account = models.AccountSummary{
		TotalCapital:    capital,
		AvailableMargin: capital,
	}
	e.orders = nil
	e.orderIndex = make(map[string]*models.Order)
	e.positions = nil
	e.positionIndex = make(map[string]*models.Position)
	e.trades = nil
	e.dailyStats = nil
	e.watchlist = nil
	e.quotes = make(map[string]float64)
}

// refreshSummaryLocked derives the P&L fields and available margin. The
// capital and used margin are running balances and are never recomputed.
func (e *Engine) refreshSummaryLocked() {
	var realized, unrealized float64
	for _, p := range e.positions {
		realized += p.RealizedPnL
		unrealized += p.UnrealizedPnL
	}
	if e.account.UsedMargin < Epsilon {
		e.account.UsedMargin = 0
	}
	a := &e.account
	a.RealizedPnL = realized
	a.UnrealizedPnL = unrealized
	a.TotalPnL = realized + unrealized
	a.AvailableMargin = a.TotalCapital - a.UsedMargin
	a.MarginUtilizationPct = 0
	if a.TotalCapital > 0 {
		a.MarginUtilizationPct = a.UsedMargin / a.TotalCapital * 100
	}
}

// Account returns the current account summary.
func (e *Engine) Account() models.AccountSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account
}

// Orders returns every order in creation order.
func (e *Engine) Orders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Order, len(e.orders))
	for i, o := range e.orders {
		out[i] = *o
	}
	return out
}

// Order returns one order by id.
func (e *Engine) Order(id string) (models.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orderIndex[id]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

// Positions returns every position in the order it was opened.
func (e *Engine) Positions() []models.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionsLocked()
}

func (e *Engine) positionsLocked() []models.Position {
	out := make([]models.Position, len(e.positions))
	for i, p := range e.positions {
		out[i] = *p
	}
	return out
}

// Position returns the position in one security.
func (e *Engine) Position(securityID string) (models.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positionIndex[securityID]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// Trades returns the trade history, oldest first.
func (e *Engine) Trades() []models.TradeLog {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.TradeLog(nil), e.trades...)
}

// DailyStats returns the per-day realized statistics, oldest first.
func (e *Engine) DailyStats() []models.DailyStat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.DailyStat(nil), e.dailyStats...)
}

// LastSettlementDate returns the IST date of the last settlement run.
func (e *Engine) LastSettlementDate() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSettlement
}

// LastPrice returns the cached LTP of a security.
func (e *Engine) LastPrice(securityID string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ltp, ok := e.quotes[securityID]
	return ltp, ok
}

// FeedInstruments returns the instruments the feed should follow: the
// watchlist, open positions and open orders, without duplicates.
func (e *Engine) FeedInstruments() []models.Instrument {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool)
	var out []models.Instrument
	add := func(inst models.Instrument) {
		key := string(inst.Segment) + ":" + inst.SecurityID
		if inst.SecurityID == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, inst)
	}
	for _, w := range e.watchlist {
		add(w.Instrument)
	}
	for _, p := range e.positions {
		if p.IsOpen() {
			add(p.Instrument())
		}
	}
	for _, o := range e.orders {
		if o.Status == models.OrderStatusOpen {
			add(o.Instrument())
		}
	}
	return out
}

func (e *Engine) today() string {
	return utils.TradingDate(e.clock())
}
