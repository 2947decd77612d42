package feed

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"paper-trader/internal/errors"
	"paper-trader/internal/logging"
	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

// DefaultURL is the live market feed endpoint.
const DefaultURL = "wss://api-feed.dhan.co"

// CloseInvalidToken is the close code the feed sends for a rejected token.
const CloseInvalidToken = 4001

// Mode is the subscription request code.
type Mode int

const (
	RequestUnsubscribe Mode = 12
	ModeTicker         Mode = 15
	ModeQuote          Mode = 17
	ModeFull           Mode = 21
)

// ParseMode maps a config name to a subscription mode.
func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "ticker":
		return ModeTicker
	case "full":
		return ModeFull
	default:
		return ModeQuote
	}
}

// ConnState is the lifecycle state of the feed connection.
type ConnState string

const (
	StateDisconnected ConnState = "DISCONNECTED"
	StateConnecting   ConnState = "CONNECTING"
	StateConnected    ConnState = "CONNECTED"
	StateFailed       ConnState = "ERROR"
)

// Instrument identifies one feed subscription.
type Instrument struct {
	Segment    models.Segment
	SecurityID string
}

func (i Instrument) key() string {
	return string(i.Segment) + ":" + i.SecurityID
}

// Conn is the subset of a websocket connection the ticker uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens feed connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Timer is a cancellable scheduled task.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer
}

// Dial implements Dialer.
func (d GorillaDialer) Dial(ctx context.Context, target string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config holds configuration for the ticker.
type Config struct {
	URL         string
	ClientID    string
	AccessToken string
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BatchSize   int
	Mode        Mode
	Dialer      Dialer
	Scheduler   Scheduler
	Logger      zerolog.Logger
}

type subscription struct {
	inst Instrument
	mode Mode
}

// Ticker owns a single feed connection and the set of desired
// subscriptions, replaying them after every (re)connect.
type Ticker struct {
	cfg    Config
	dialer Dialer
	sched  Scheduler
	logger zerolog.Logger

	// Handlers
	onUpdates    func([]models.PriceUpdate)
	onError      func(error)
	onConnect    func()
	onDisconnect func(code int, reason string)

	// State
	ctx        context.Context
	conn       Conn
	gen        uint64
	state      ConnState
	manual     bool
	attempts   int
	retryTimer Timer
	lastErr    error
	desired    map[string]subscription
	order      []string

	mu      sync.Mutex
	writeMu sync.Mutex // serialises websocket writes
}

// NewTicker creates a new feed ticker.
func NewTicker(cfg Config) *Ticker {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > 100 {
		cfg.BatchSize = 100
	}
	if cfg.Mode == 0 {
		cfg.Mode = ModeQuote
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = GorillaDialer{}
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = wallScheduler{}
	}

	return &Ticker{
		cfg:     cfg,
		dialer:  dialer,
		sched:   sched,
		logger:  logging.WithComponent(cfg.Logger, "feed"),
		ctx:     context.Background(),
		state:   StateDisconnected,
		desired: make(map[string]subscription),
	}
}

// FeedURL builds the authenticated feed URL.
func (t *Ticker) FeedURL() string {
	q := url.Values{}
	q.Set("version", "2")
	q.Set("token", strings.TrimSpace(t.cfg.AccessToken))
	q.Set("clientId", strings.TrimSpace(t.cfg.ClientID))
	q.Set("authType", "2")
	return t.cfg.URL + "?" + q.Encode()
}

// Connect opens the feed connection. A manual connect cancels any pending
// retry and resets the attempt counter. If the dial fails the error is
// returned and a reconnect is scheduled.
func (t *Ticker) Connect(ctx context.Context) error {
	if strings.TrimSpace(t.cfg.ClientID) == "" || strings.TrimSpace(t.cfg.AccessToken) == "" {
		return errors.Wrap(errors.ErrConfigInvalid, "feed credentials missing")
	}

	t.mu.Lock()
	if t.state == StateConnected || t.state == StateConnecting {
		t.mu.Unlock()
		return nil
	}
	t.manual = false
	t.attempts = 0
	t.lastErr = nil
	t.stopRetryLocked()
	t.ctx = ctx
	t.mu.Unlock()

	return t.dial(ctx)
}

func (t *Ticker) dial(ctx context.Context) error {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.state = StateConnecting
	t.mu.Unlock()

	conn, err := t.dialer.Dial(ctx, t.FeedURL())
	if err != nil {
		t.logger.Warn().Err(err).Msg("Feed dial failed")
		t.handleClose(gen, websocket.CloseAbnormalClosure, err.Error())
		return errors.Wrap(errors.ErrConnectionFailed, err.Error())
	}

	t.mu.Lock()
	if gen != t.gen || t.manual {
		t.mu.Unlock()
		conn.Close()
		return nil
	}
	t.conn = conn
	t.state = StateConnected
	t.attempts = 0
	subs := t.snapshotLocked()
	onConnect := t.onConnect
	t.mu.Unlock()

	t.logger.Info().Int("subscriptions", len(subs)).Msg("Feed connected")

	if err := t.send(conn, subs); err != nil {
		t.logger.Error().Err(err).Msg("Resubscribe failed")
	}
	if onConnect != nil {
		onConnect()
	}

	go t.readLoop(conn, gen)
	return nil
}

// Disconnect closes the connection, clears every desired subscription and
// cancels any pending reconnect.
func (t *Ticker) Disconnect() error {
	t.mu.Lock()
	t.manual = true
	t.gen++
	t.stopRetryLocked()
	t.desired = make(map[string]subscription)
	t.order = nil
	conn := t.conn
	t.conn = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()

	return conn.Close()
}

// Subscribe adds instruments to the desired set and, when connected,
// sends the subscription immediately. Duplicates are ignored; a repeated
// instrument takes the new mode.
func (t *Ticker) Subscribe(instruments []Instrument, mode Mode) error {
	if mode == 0 {
		mode = t.cfg.Mode
	}

	t.mu.Lock()
	var added []subscription
	for _, inst := range instruments {
		if inst.SecurityID == "" || inst.Segment == "" {
			continue
		}
		k := inst.key()
		if _, ok := t.desired[k]; !ok {
			t.order = append(t.order, k)
		}
		sub := subscription{inst: inst, mode: mode}
		t.desired[k] = sub
		added = append(added, sub)
	}
	conn := t.conn
	t.mu.Unlock()

	if conn == nil || len(added) == 0 {
		return nil
	}
	return t.send(conn, added)
}

// Unsubscribe removes instruments from the desired set.
func (t *Ticker) Unsubscribe(instruments []Instrument) error {
	t.mu.Lock()
	var removed []subscription
	for _, inst := range instruments {
		k := inst.key()
		if _, ok := t.desired[k]; !ok {
			continue
		}
		delete(t.desired, k)
		removed = append(removed, subscription{inst: inst, mode: RequestUnsubscribe})
	}
	if len(removed) > 0 {
		kept := t.order[:0]
		for _, k := range t.order {
			if _, ok := t.desired[k]; ok {
				kept = append(kept, k)
			}
		}
		t.order = kept
	}
	conn := t.conn
	t.mu.Unlock()

	if conn == nil || len(removed) == 0 {
		return nil
	}
	return t.send(conn, removed)
}

// Subscriptions returns the desired instruments in insertion order.
func (t *Ticker) Subscriptions() []Instrument {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Instrument, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.desired[k].inst)
	}
	return out
}

// State returns the connection state.
func (t *Ticker) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the terminal error after a fatal close or exhausted retries.
func (t *Ticker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// OnUpdates sets the handler for decoded price updates.
func (t *Ticker) OnUpdates(handler func([]models.PriceUpdate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdates = handler
}

// OnError sets the error handler.
func (t *Ticker) OnError(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = handler
}

// OnConnect sets the connect handler.
func (t *Ticker) OnConnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = handler
}

// OnDisconnect sets the disconnect handler.
func (t *Ticker) OnDisconnect(handler func(code int, reason string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = handler
}

func (t *Ticker) readLoop(conn Conn, gen uint64) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseAbnormalClosure, err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code, reason = ce.Code, ce.Text
			}
			t.handleClose(gen, code, reason)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			updates := Decode(data)
			if len(updates) == 0 {
				continue
			}
			t.mu.Lock()
			handler := t.onUpdates
			t.mu.Unlock()
			if handler != nil {
				handler(updates)
			}
		case websocket.TextMessage:
			t.logger.Debug().Str("frame", string(data)).Msg("Text frame ignored")
		}
	}
}

func (t *Ticker) handleClose(gen uint64, code int, reason string) {
	t.mu.Lock()
	if gen != t.gen || t.manual {
		t.mu.Unlock()
		return
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.state = StateDisconnected
	onDisconnect := t.onDisconnect
	onError := t.onError

	var fatal error
	if code == CloseInvalidToken {
		fatal = errors.NewFeedError(code, "invalid token, reconnect broker", errors.ErrInvalidCredentials)
	} else {
		fatal = t.scheduleRetryLocked(gen)
	}
	if fatal != nil {
		t.state = StateFailed
		t.lastErr = fatal
	}
	t.mu.Unlock()

	t.logger.Warn().Int("code", code).Str("reason", reason).Msg("Feed closed")

	if onDisconnect != nil {
		onDisconnect(code, reason)
	}
	if fatal != nil && onError != nil {
		onError(fatal)
	}
}

// scheduleRetryLocked arms the next reconnect or reports exhaustion.
func (t *Ticker) scheduleRetryLocked(gen uint64) error {
	if t.attempts >= t.cfg.MaxRetries {
		return errors.NewFeedError(websocket.CloseAbnormalClosure, "giving up", errors.ErrRetriesExhausted)
	}
	t.attempts++
	delay := utils.CalculateBackoff(t.attempts-1, t.cfg.BaseDelay, t.cfg.MaxDelay, 2)
	t.logger.Info().
		Int("attempt", t.attempts).
		Int("max_attempts", t.cfg.MaxRetries).
		Dur("delay", delay).
		Msg("Scheduling feed reconnect")

	t.stopRetryLocked()
	t.retryTimer = t.sched.AfterFunc(delay, func() {
		t.mu.Lock()
		stale := gen != t.gen || t.manual
		ctx := t.ctx
		t.retryTimer = nil
		t.mu.Unlock()
		if stale || ctx.Err() != nil {
			return
		}
		_ = t.dial(ctx)
	})
	return nil
}

func (t *Ticker) stopRetryLocked() {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
}

func (t *Ticker) snapshotLocked() []subscription {
	out := make([]subscription, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.desired[k])
	}
	return out
}

type wireInstrument struct {
	ExchangeSegment string `json:"ExchangeSegment"`
	SecurityID      string `json:"SecurityId"`
}

type wireRequest struct {
	RequestCode     int              `json:"RequestCode"`
	InstrumentCount int              `json:"InstrumentCount"`
	InstrumentList  []wireInstrument `json:"InstrumentList"`
}

// BuildRequests groups subscriptions by request code and splits each group
// into batches of at most batchSize instruments.
func BuildRequests(code Mode, instruments []Instrument, batchSize int) [][]byte {
	if batchSize <= 0 {
		batchSize = 100
	}
	var out [][]byte
	for i := 0; i < len(instruments); i += batchSize {
		end := i + batchSize
		if end > len(instruments) {
			end = len(instruments)
		}
		req := wireRequest{RequestCode: int(code), InstrumentCount: end - i}
		for _, inst := range instruments[i:end] {
			req.InstrumentList = append(req.InstrumentList, wireInstrument{
				ExchangeSegment: string(inst.Segment),
				SecurityID:      inst.SecurityID,
			})
		}
		payload, err := json.Marshal(req)
		if err != nil {
			continue
		}
		out = append(out, payload)
	}
	return out
}

func (t *Ticker) send(conn Conn, subs []subscription) error {
	var modes []Mode
	grouped := make(map[Mode][]Instrument)
	for _, s := range subs {
		if _, ok := grouped[s.mode]; !ok {
			modes = append(modes, s.mode)
		}
		grouped[s.mode] = append(grouped[s.mode], s.inst)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for _, mode := range modes {
		for _, payload := range BuildRequests(mode, grouped[mode], t.cfg.BatchSize) {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return errors.Wrap(err, "failed to send subscription")
			}
		}
	}
	return nil
}
