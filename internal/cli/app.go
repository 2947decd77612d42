package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"paper-trader/internal/broker"
	"paper-trader/internal/config"
	"paper-trader/internal/errors"
	"paper-trader/internal/feed"
	"paper-trader/internal/logging"
	"paper-trader/internal/runner"
	"paper-trader/internal/store"
	"paper-trader/internal/trading"
)

// load reads the configuration and sets up logging.
func (app *App) load(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	app.Config = cfg

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Console = cfg.Logging.Console
	logCfg.File = cfg.Logging.File
	logCfg.FilePath = cfg.Logging.FilePath
	app.Logger = logging.NewLoggerWithConfig(logCfg)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		app.Logger = app.Logger.Level(zerolog.DebugLevel)
	}
	return nil
}

func (app *App) engineConfig() (trading.Config, error) {
	cfg := trading.DefaultConfig()
	cfg.InitialCapital = app.Config.Account.InitialCapital
	cfg.SettlementCutoffHour = app.Config.Settlement.CutoffHour
	cfg.Classifier = broker.NewClassifier(app.Config.Account.LotSizes)
	cfg.Logger = app.Logger

	from, until, mcx, err := app.Config.SquareOff.Minutes()
	if err != nil {
		return cfg, err
	}
	cfg.SquareOff = trading.SquareOffWindow{EquityFrom: from, EquityUntil: until, CommodityFrom: mcx}
	return cfg, nil
}

func (app *App) runnerConfig() runner.Config {
	cfg := runner.DefaultConfig()
	cfg.SquareOffEnabled = app.Config.SquareOff.Enabled
	cfg.SquareOffSchedule = app.Config.SquareOff.Schedule
	cfg.SettlementSchedule = app.Config.Settlement.Schedule
	cfg.Mode = feed.ParseMode(app.Config.Feed.Mode)
	cfg.Logger = app.Logger
	return cfg
}

// openEngine opens the store, restores the saved account and runs any
// settlement that is due. f may be nil for one-shot commands.
func (app *App) openEngine(ctx context.Context, f runner.Feed) error {
	if app.Engine != nil {
		return nil
	}

	ecfg, err := app.engineConfig()
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(app.Config.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	engine := trading.NewEngine(ecfg)
	r := runner.New(engine, f, st, app.Config.Store.SnapshotKey, app.runnerConfig())
	if _, err := r.Restore(ctx); err != nil {
		st.Close()
		return fmt.Errorf("restoring account: %w", err)
	}
	r.Attach()
	r.Settle(ctx)

	app.Engine = engine
	app.Store = st
	app.Runner = r
	return nil
}

// close persists pending changes and releases the store.
func (app *App) close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	if app.Runner != nil {
		err = app.Runner.Flush(ctx)
		app.Runner = nil
	}
	if app.Store != nil {
		if cerr := app.Store.Close(); err == nil {
			err = cerr
		}
		app.Store = nil
	}
	return err
}

// broker returns the Dhan REST client, building it on first use.
func (app *App) broker() (broker.Broker, error) {
	if app.Broker != nil {
		return app.Broker, nil
	}
	creds := app.Config.Credentials
	if !creds.HasDhan() {
		return nil, errors.Wrapf(errors.ErrInvalidCredentials,
			"set client_id and access_token in %s", config.CredentialsPath(app.Config.Dir))
	}
	app.Broker = broker.NewDhanClient(broker.DhanConfig{
		BaseURL:     app.Config.Broker.BaseURL,
		ClientID:    creds.Dhan.ClientID,
		AccessToken: creds.Dhan.AccessToken,
		Timeout:     app.Config.Broker.Timeout,
		Logger:      app.Logger,
	})
	return app.Broker, nil
}

// engine opens the engine for a one-shot command.
func (app *App) engine(cmd *cobra.Command) (*trading.Engine, error) {
	if err := app.openEngine(cmd.Context(), nil); err != nil {
		return nil, err
	}
	return app.Engine, nil
}
