// Package cli provides the command-line interface for the paper trader.
package cli

import (
	"context"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"paper-trader/internal/broker"
	"paper-trader/internal/config"
	"paper-trader/internal/runner"
	"paper-trader/internal/store"
	"paper-trader/internal/trading"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-01-15"
)

// App holds the application dependencies. The engine, store and runner
// are opened lazily by the commands that need them.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Engine *trading.Engine
	Store  store.Store
	Runner *runner.Runner
	Broker broker.Broker
}

// Execute runs the CLI with args. The store is flushed and closed even
// when the command fails.
func Execute(args []string, stdout, stderr io.Writer) error {
	app := &App{Logger: zerolog.Nop()}
	rootCmd := NewRootCmd(app)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(context.Background())
	if cerr := app.close(context.Background()); err == nil {
		err = cerr
	}
	return err
}

// NewRootCmd creates the root command for the CLI around app.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Paper trading simulator for Indian markets",
		Long: `Paper Trader simulates a single brokerage account on NSE, BSE and MCX.

Orders never reach an exchange. Fills, margin, charges and settlement are
computed locally from the Dhan live market feed, and the account is kept in
a local SQLite database between runs.

Use 'trader run' to start a live session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/paper-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addOrderCommands(rootCmd, app)
	addPositionCommands(rootCmd, app)
	addAccountCommands(rootCmd, app)
	addWatchCommands(rootCmd, app)
	addBrokerCommands(rootCmd, app)
	rootCmd.AddCommand(newRunCmd(app))

	return rootCmd
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Paper Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View the active configuration and where it is read from.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			paths := map[string]string{
				"dir":         app.Config.Dir,
				"config":      config.ConfigPath(app.Config.Dir),
				"credentials": config.CredentialsPath(app.Config.Dir),
				"store":       app.Config.Store.Path,
			}
			if output.IsJSON() {
				return output.JSON(paths)
			}
			output.Println(paths["dir"])
			output.Dim("  config:      %s", paths["config"])
			output.Dim("  credentials: %s", paths["credentials"])
			output.Dim("  store:       %s", paths["store"])
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Account")
	output.Printf("  Initial Capital:  %s\n", FormatIndianCurrency(cfg.Account.InitialCapital))
	if len(cfg.Account.LotSizes) > 0 {
		output.Printf("  Lot Overrides:    %v\n", cfg.Account.LotSizes)
	}
	output.Println()

	output.Bold("Feed")
	output.Printf("  URL:              %s\n", cfg.Feed.URL)
	output.Printf("  Mode:             %s\n", cfg.Feed.Mode)
	output.Printf("  Retries:          %d (%s to %s)\n", cfg.Feed.MaxRetries, cfg.Feed.BaseDelay, cfg.Feed.MaxDelay)
	output.Printf("  Batch Size:       %d\n", cfg.Feed.BatchSize)
	output.Println()

	output.Bold("Schedule")
	output.Printf("  Settlement:       after %02d:00 IST, checked %q\n", cfg.Settlement.CutoffHour, cfg.Settlement.Schedule)
	if cfg.SquareOff.Enabled {
		output.Printf("  Square-off:       %s-%s equity, %s MCX, checked %q\n",
			cfg.SquareOff.EquityAt, cfg.SquareOff.EquityUntil, cfg.SquareOff.CommodityAt, cfg.SquareOff.Schedule)
	} else {
		output.Printf("  Square-off:       disabled\n")
	}
	output.Println()

	output.Bold("Credentials")
	if cfg.Credentials.HasDhan() {
		output.Printf("  Dhan:             client %s\n", cfg.Credentials.Dhan.ClientID)
	} else {
		output.Printf("  Dhan:             %s\n", output.Yellow("not configured"))
	}
}
