package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"paper-trader/internal/errors"
	"paper-trader/internal/models"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (ft *fakeTimer) Stop() bool {
	was := !ft.stopped
	ft.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
	armed  chan struct{}
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: make(chan struct{}, 64)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	ft := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, ft)
	s.mu.Unlock()
	s.armed <- struct{}{}
	return ft
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, ft := range s.timers {
		out = append(out, ft.delay)
	}
	return out
}

// fireLast runs the most recently armed timer as if it had expired.
func (s *fakeScheduler) fireLast() {
	s.mu.Lock()
	ft := s.timers[len(s.timers)-1]
	s.mu.Unlock()
	ft.fn()
}

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	reads  chan readResult
	closed bool
}

type readResult struct {
	msgType int
	data    []byte
	err     error
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	r, ok := <-c.reads
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	return r.msgType, r.data, r.err
}

func (c *fakeConn) WriteMessage(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msgType == websocket.TextMessage {
		c.writes = append(c.writes, data)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func (c *fakeConn) requests(t *testing.T) []wireRequest {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wireRequest, 0, len(c.writes))
	for _, w := range c.writes {
		var req wireRequest
		if err := json.Unmarshal(w, &req); err != nil {
			t.Fatalf("bad request json: %v", err)
		}
		out = append(out, req)
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	dials int
	urls  []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestTicker(d Dialer, s Scheduler, retries int) *Ticker {
	return NewTicker(Config{
		ClientID:    "1000001",
		AccessToken: "token",
		MaxRetries:  retries,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Dialer:      d,
		Scheduler:   s,
	})
}

func instruments(n int) []Instrument {
	out := make([]Instrument, n)
	for i := range out {
		out[i] = Instrument{Segment: models.SegmentNSEFNO, SecurityID: fmt.Sprintf("%d", 40000+i)}
	}
	return out
}

func waitArmed(t *testing.T, s *fakeScheduler) {
	t.Helper()
	select {
	case <-s.armed:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect was not scheduled")
	}
}

func TestFeedURL(t *testing.T) {
	tk := newTestTicker(&fakeDialer{}, newFakeScheduler(), 5)
	u := tk.FeedURL()
	for _, want := range []string{"wss://api-feed.dhan.co?", "version=2", "token=token", "clientId=1000001", "authType=2"} {
		if !strings.Contains(u, want) {
			t.Errorf("url %q missing %q", u, want)
		}
	}
}

func TestConnectReplaysSubscriptionsInBatches(t *testing.T) {
	d := &fakeDialer{}
	tk := newTestTicker(d, newFakeScheduler(), 5)

	if err := tk.Subscribe(instruments(250), ModeQuote); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Duplicates are not added twice.
	if err := tk.Subscribe(instruments(10), ModeQuote); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := len(tk.Subscriptions()); got != 250 {
		t.Fatalf("expected 250 desired subscriptions, got %d", got)
	}

	if err := tk.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tk.Disconnect()

	reqs := d.conns[0].requests(t)
	if len(reqs) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(reqs))
	}
	counts := []int{reqs[0].InstrumentCount, reqs[1].InstrumentCount, reqs[2].InstrumentCount}
	if counts[0] != 100 || counts[1] != 100 || counts[2] != 50 {
		t.Errorf("unexpected batch sizes %v", counts)
	}
	for _, r := range reqs {
		if r.RequestCode != int(ModeQuote) || len(r.InstrumentList) != r.InstrumentCount {
			t.Errorf("malformed request %+v", r)
		}
		if r.InstrumentList[0].ExchangeSegment != "NSE_FNO" {
			t.Errorf("segment = %s", r.InstrumentList[0].ExchangeSegment)
		}
	}
	if tk.State() != StateConnected {
		t.Errorf("state = %s", tk.State())
	}
}

func TestSubscribeWhileConnectedSendsImmediately(t *testing.T) {
	d := &fakeDialer{}
	tk := newTestTicker(d, newFakeScheduler(), 5)
	if err := tk.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tk.Disconnect()

	if err := tk.Subscribe(instruments(3), ModeFull); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := tk.Unsubscribe(instruments(1)); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	reqs := d.conns[0].requests(t)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].RequestCode != int(ModeFull) || reqs[0].InstrumentCount != 3 {
		t.Errorf("unexpected subscribe %+v", reqs[0])
	}
	if reqs[1].RequestCode != int(RequestUnsubscribe) || reqs[1].InstrumentCount != 1 {
		t.Errorf("unexpected unsubscribe %+v", reqs[1])
	}
	if got := len(tk.Subscriptions()); got != 2 {
		t.Errorf("expected 2 remaining subscriptions, got %d", got)
	}
}

func TestBinaryFramesReachHandler(t *testing.T) {
	d := &fakeDialer{}
	tk := newTestTicker(d, newFakeScheduler(), 5)

	got := make(chan []models.PriceUpdate, 1)
	tk.OnUpdates(func(u []models.PriceUpdate) { got <- u })

	if err := tk.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tk.Disconnect()

	frame := packet(models.PacketTicker, 8, 1, 500)
	putF32(frame, 8, 42)
	d.conns[0].reads <- readResult{msgType: websocket.TextMessage, data: []byte("ping")}
	d.conns[0].reads <- readResult{msgType: websocket.BinaryMessage, data: frame}

	select {
	case updates := <-got:
		if len(updates) != 1 || updates[0].SecurityID != "500" || updates[0].LTP != 42 {
			t.Errorf("unexpected updates %+v", updates)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no updates delivered")
	}
}

func TestAbnormalCloseReconnectsAndResubscribes(t *testing.T) {
	d := &fakeDialer{}
	s := newFakeScheduler()
	tk := newTestTicker(d, s, 5)

	if err := tk.Subscribe(instruments(2), ModeQuote); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := tk.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tk.Disconnect()

	d.conns[0].reads <- readResult{err: &websocket.CloseError{Code: websocket.CloseAbnormalClosure}}
	waitArmed(t, s)

	if delays := s.delays(); len(delays) != 1 || delays[0] != time.Second {
		t.Fatalf("unexpected delays %v", delays)
	}

	s.fireLast()
	if d.dialCount() != 2 {
		t.Fatalf("expected a second dial, got %d", d.dialCount())
	}
	reqs := d.conns[1].requests(t)
	if len(reqs) != 1 || reqs[0].InstrumentCount != 2 {
		t.Errorf("expected resubscribe of 2 instruments, got %+v", reqs)
	}
}

func TestInvalidTokenCloseIsFatal(t *testing.T) {
	d := &fakeDialer{}
	s := newFakeScheduler()
	tk := newTestTicker(d, s, 5)

	errCh := make(chan error, 1)
	tk.OnError(func(err error) { errCh <- err })

	if err := tk.Subscribe(instruments(4), ModeQuote); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := tk.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	d.conns[0].reads <- readResult{err: &websocket.CloseError{Code: CloseInvalidToken, Text: "invalid token"}}

	select {
	case err := <-errCh:
		if !errors.Is(err, errors.ErrInvalidCredentials) {
			t.Errorf("expected invalid credentials, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fatal close was not surfaced")
	}

	if n := len(s.delays()); n != 0 {
		t.Errorf("expected no retries, got %d", n)
	}
	if tk.State() != StateFailed {
		t.Errorf("state = %s", tk.State())
	}
	if got := len(tk.Subscriptions()); got != 4 {
		t.Errorf("subscriptions must be kept, got %d", got)
	}
}

func TestManualDisconnectCancelsRetryAndClears(t *testing.T) {
	d := &fakeDialer{err: fmt.Errorf("refused")}
	s := newFakeScheduler()
	tk := newTestTicker(d, s, 5)

	if err := tk.Subscribe(instruments(3), ModeQuote); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := tk.Connect(context.Background()); !errors.Is(err, errors.ErrConnectionFailed) {
		t.Fatalf("expected connection failure, got %v", err)
	}
	if len(s.delays()) != 1 {
		t.Fatalf("expected a pending retry")
	}

	if err := tk.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if !s.timers[0].stopped {
		t.Error("pending retry timer was not stopped")
	}
	if got := len(tk.Subscriptions()); got != 0 {
		t.Errorf("expected cleared subscriptions, got %d", got)
	}

	// A timer that fires anyway must not dial.
	s.fireLast()
	if d.dialCount() != 1 {
		t.Errorf("stale retry dialled: %d dials", d.dialCount())
	}
}

func TestConnectRequiresCredentials(t *testing.T) {
	tk := NewTicker(Config{Dialer: &fakeDialer{}, Scheduler: newFakeScheduler()})
	if err := tk.Connect(context.Background()); !errors.Is(err, errors.ErrConfigInvalid) {
		t.Errorf("expected config error, got %v", err)
	}
}

// Property: N consecutive failed connects produce strictly increasing,
// capped delays and stop after the configured attempt limit.
func TestProperty_ReconnectBackoff(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("backoff doubles up to the cap and is bounded", prop.ForAll(
		func(retries int, baseMs int) bool {
			d := &fakeDialer{err: fmt.Errorf("refused")}
			s := newFakeScheduler()
			maxDelay := 30 * time.Second
			tk := NewTicker(Config{
				ClientID:    "c",
				AccessToken: "t",
				MaxRetries:  retries,
				BaseDelay:   time.Duration(baseMs) * time.Millisecond,
				MaxDelay:    maxDelay,
				Dialer:      d,
				Scheduler:   s,
			})

			var fatal error
			tk.OnError(func(err error) { fatal = err })

			_ = tk.Connect(context.Background())
			for i := 0; i < retries+3; i++ {
				if len(s.delays()) <= i {
					break
				}
				s.fireLast()
			}

			delays := s.delays()
			if len(delays) != retries {
				return false
			}
			for i := 1; i < len(delays); i++ {
				if delays[i] > maxDelay {
					return false
				}
				if delays[i-1] < maxDelay && delays[i] <= delays[i-1] {
					return false
				}
			}
			return errors.Is(fatal, errors.ErrRetriesExhausted) && d.dialCount() == retries+1
		},
		gen.IntRange(1, 8),
		gen.IntRange(100, 5000),
	))

	properties.TestingRun(t)
}
