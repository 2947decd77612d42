// Package runner drives a paper trading session: it feeds live prices into
// the engine, schedules square-off and settlement, and persists state.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"paper-trader/internal/feed"
	"paper-trader/internal/logging"
	"paper-trader/internal/models"
	"paper-trader/internal/store"
	"paper-trader/internal/trading"
	"paper-trader/pkg/utils"
)

// Feed is the part of the market feed the runner drives.
type Feed interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(instruments []feed.Instrument, mode feed.Mode) error
	Unsubscribe(instruments []feed.Instrument) error
	Subscriptions() []feed.Instrument
	OnUpdates(handler func([]models.PriceUpdate))
	OnError(handler func(error))
}

// Config holds the session schedule.
type Config struct {
	SquareOffEnabled   bool
	SquareOffSchedule  string
	SettlementSchedule string
	FlushSchedule      string
	Mode               feed.Mode
	// SaveRetry bounds snapshot writes, which can hit a locked database
	// while a one-shot command is writing.
	SaveRetry          utils.RetryConfig
	Clock              func() time.Time
	Logger             zerolog.Logger
}

func defaultSaveRetry() utils.RetryConfig {
	return utils.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2,
	}
}

// DefaultConfig returns the default schedule.
func DefaultConfig() Config {
	return Config{
		SquareOffEnabled:   true,
		SquareOffSchedule:  "@every 30s",
		SettlementSchedule: "0 */5 * * * *",
		FlushSchedule:      "@every 5s",
		Mode:               feed.ModeQuote,
		SaveRetry:          defaultSaveRetry(),
		Logger:             zerolog.Nop(),
	}
}

// Runner owns the session lifecycle around one engine.
type Runner struct {
	engine    *trading.Engine
	feed      Feed
	store     store.Store
	snapshots *store.SnapshotStore
	cfg       Config
	cron      *cron.Cron
	clock     func() time.Time
	logger    zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	dirty    bool
	started  bool
	attached bool
	syncMu   sync.Mutex
}

// New creates a runner. The feed may be nil for an offline session and
// the store may be nil for an unpersisted one.
func New(engine *trading.Engine, f Feed, st store.Store, snapshotKey string, cfg Config) *Runner {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	if cfg.FlushSchedule == "" {
		cfg.FlushSchedule = "@every 5s"
	}
	if cfg.SaveRetry.MaxAttempts <= 0 {
		cfg.SaveRetry = defaultSaveRetry()
	}

	r := &Runner{
		engine:  engine,
		feed:    f,
		store:   st,
		cfg:     cfg,
		cron:    cron.New(cron.WithSeconds()),
		clock:   clock,
		logger:  logging.WithComponent(cfg.Logger, "runner"),
		baseCtx: context.Background(),
	}
	if st != nil {
		r.snapshots = store.NewSnapshotStore(st, snapshotKey)
	}
	return r
}

// Add registers a cron job that runs with the session context.
func (r *Runner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		job(r.baseCtx)
	})
}

// Restore loads the saved snapshot into the engine. It reports false when
// nothing was saved.
func (r *Runner) Restore(ctx context.Context) (bool, error) {
	if r.snapshots == nil {
		return false, nil
	}
	state, ok, err := r.snapshots.Load(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := r.engine.Restore(state); err != nil {
		return false, err
	}
	r.logger.Info().
		Int("orders", len(state.Orders)).
		Int("positions", len(state.Positions)).
		Str("last_settlement", state.LastSettlementDate).
		Msg("Session restored")
	return true, nil
}

// Attach subscribes the runner to engine events so trades are archived
// and the snapshot is marked for saving. Start attaches on its own; a
// one-shot command attaches and then calls Flush.
func (r *Runner) Attach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached {
		return
	}
	r.attached = true
	r.engine.Subscribe(r.handleEvent)
}

// Start registers the jobs, runs a catch-up settlement, connects the feed
// and starts the scheduler. It returns once the session is running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.baseCtx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.Attach()

	if r.cfg.SquareOffEnabled {
		if _, err := r.Add(r.cfg.SquareOffSchedule, r.SquareOff); err != nil {
			return err
		}
	}
	if _, err := r.Add(r.cfg.SettlementSchedule, r.Settle); err != nil {
		return err
	}
	if r.snapshots != nil {
		if _, err := r.Add(r.cfg.FlushSchedule, func(ctx context.Context) {
			if err := r.Flush(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Snapshot flush failed")
			}
		}); err != nil {
			return err
		}
	}

	r.Settle(r.baseCtx)

	if r.feed != nil {
		r.feed.OnUpdates(r.handleUpdates)
		r.feed.OnError(func(err error) {
			r.logger.Error().Err(err).Msg("Feed stopped")
		})
		if err := r.SyncSubscriptions(); err != nil {
			r.logger.Warn().Err(err).Msg("Initial subscription failed")
		}
		if err := r.feed.Connect(r.baseCtx); err != nil {
			// The ticker keeps retrying on its own schedule.
			r.logger.Warn().Err(err).Msg("Feed connect failed")
		}
	}

	r.cron.Start()
	r.logger.Info().Msg("Session started")
	return nil
}

// Stop stops the scheduler, waits for running jobs, disconnects the feed
// and writes a final snapshot.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()

	if r.feed != nil {
		if err := r.feed.Disconnect(); err != nil {
			r.logger.Warn().Err(err).Msg("Feed disconnect failed")
		}
	}

	err := r.save(context.Background())
	if r.cancel != nil {
		r.cancel()
	}
	r.logger.Info().Msg("Session stopped")
	return err
}

// SquareOff closes intraday positions that are due.
func (r *Runner) SquareOff(_ context.Context) {
	closed := r.engine.SquareOffIntraday(r.clock())
	if len(closed) > 0 {
		r.logger.Info().Int("orders", len(closed)).Msg("Intraday positions squared off")
	}
}

// Settle runs the daily settlement when it is due.
func (r *Runner) Settle(ctx context.Context) {
	if _, ran := r.engine.RunSettlement(r.clock()); !ran {
		return
	}
	if err := r.save(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Snapshot save after settlement failed")
	}
}

// Flush saves the snapshot if anything changed since the last save.
func (r *Runner) Flush(ctx context.Context) error {
	r.mu.Lock()
	dirty := r.dirty
	r.mu.Unlock()
	if !dirty {
		return nil
	}
	return r.save(ctx)
}

func (r *Runner) save(ctx context.Context) error {
	if r.snapshots == nil {
		return nil
	}
	r.mu.Lock()
	r.dirty = false
	r.mu.Unlock()

	state := r.engine.Snapshot()
	err := utils.Retry(ctx, r.cfg.SaveRetry, func() error {
		return r.snapshots.Save(ctx, state)
	})
	if err != nil {
		r.markDirty()
		return err
	}
	return nil
}

func (r *Runner) markDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

// SyncSubscriptions aligns the feed with the instruments the engine
// follows.
func (r *Runner) SyncSubscriptions() error {
	if r.feed == nil {
		return nil
	}
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	var wanted []feed.Instrument
	want := make(map[feed.Instrument]bool)
	for _, inst := range r.engine.FeedInstruments() {
		fi := feed.Instrument{Segment: inst.Segment, SecurityID: inst.SecurityID}
		want[fi] = true
		wanted = append(wanted, fi)
	}

	have := make(map[feed.Instrument]bool)
	var drop []feed.Instrument
	for _, fi := range r.feed.Subscriptions() {
		have[fi] = true
		if !want[fi] {
			drop = append(drop, fi)
		}
	}
	var add []feed.Instrument
	for _, fi := range wanted {
		if !have[fi] {
			add = append(add, fi)
		}
	}

	if len(drop) > 0 {
		if err := r.feed.Unsubscribe(drop); err != nil {
			return err
		}
	}
	if len(add) > 0 {
		r.logger.Debug().Int("added", len(add)).Int("removed", len(drop)).Msg("Subscriptions updated")
		return r.feed.Subscribe(add, r.cfg.Mode)
	}
	return nil
}

func (r *Runner) handleUpdates(updates []models.PriceUpdate) {
	r.engine.OnPriceUpdates(updates)
	r.markDirty()
}

func (r *Runner) handleEvent(ev trading.Event) {
	r.markDirty()
	ctx := r.baseCtx

	switch ev.Type {
	case trading.EventTradeLogged:
		if r.store != nil && ev.Trade != nil {
			if err := r.store.ArchiveTrade(ctx, *ev.Trade); err != nil {
				r.logger.Error().Err(err).Str("trade_id", ev.Trade.ID).Msg("Trade archive failed")
			}
		}
	case trading.EventSettled:
		if r.store != nil && ev.Settlement != nil {
			if err := r.store.LogSettlement(ctx, *ev.Settlement); err != nil {
				r.logger.Error().Err(err).Str("date", ev.Settlement.Date).Msg("Settlement log failed")
			}
		}
	}

	switch ev.Type {
	case trading.EventOrderUpdated, trading.EventPositionChanged, trading.EventWatchlist, trading.EventReset, trading.EventSettled:
		if err := r.SyncSubscriptions(); err != nil {
			r.logger.Warn().Err(err).Msg("Subscription sync failed")
		}
	}
}
