package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"paper-trader/internal/config"
	"paper-trader/internal/errors"
	"paper-trader/internal/feed"
	"paper-trader/internal/logging"
	"paper-trader/internal/notify"
	"paper-trader/pkg/utils"
)

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a live paper trading session",
		Long: `Connect to the Dhan market feed and keep the paper account live.

Open orders fill as prices arrive, intraday positions are squared off at
the configured times and settlement runs once a day. Watched instruments
and every instrument with an open order or position are subscribed.
Stop with Ctrl+C; the account is saved on exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			creds := app.Config.Credentials
			if !creds.HasDhan() {
				return errors.Wrapf(errors.ErrInvalidCredentials,
					"the live feed needs client_id and access_token in %s", config.CredentialsPath(app.Config.Dir))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fc := app.Config.Feed
			ticker := feed.NewTicker(feed.Config{
				URL:         fc.URL,
				ClientID:    creds.Dhan.ClientID,
				AccessToken: creds.Dhan.AccessToken,
				MaxRetries:  fc.MaxRetries,
				BaseDelay:   fc.BaseDelay,
				MaxDelay:    fc.MaxDelay,
				BatchSize:   fc.BatchSize,
				Mode:        feed.ParseMode(fc.Mode),
				Logger:      logging.WithComponent(app.Logger, "feed"),
			})
			ticker.OnConnect(func() {
				if !output.IsJSON() {
					output.Info("Feed connected")
				}
			})
			ticker.OnDisconnect(func(code int, reason string) {
				if !output.IsJSON() {
					output.Warning("Feed closed (%d) %s", code, reason)
				}
			})

			if err := app.openEngine(ctx, ticker); err != nil {
				return err
			}

			if !output.IsJSON() {
				notifier := notify.NewTerminalNotifier(100)
				if bell, _ := cmd.Flags().GetBool("bell"); bell {
					notifier.SetBell(os.Stderr)
				}
				notifier.AddHandler(func(n notify.Notification) { printNotification(output, n) })
				notifier.Start(ctx)
				app.Engine.Subscribe(notifier.HandleEvent)
			}
			if err := app.Runner.Start(ctx); err != nil {
				return err
			}

			if !output.IsJSON() {
				output.Success("Session running, press Ctrl+C to stop")
				if now := time.Now(); !utils.IsEquitySessionOpen(now) && !utils.IsCommoditySessionOpen(now) {
					output.Warning("Markets are closed, orders rest until the feed sends prices")
				}
			}

			every, _ := cmd.Flags().GetDuration("status-every")
			waitForShutdown(ctx, every, func() {
				_ = showAccount(output, app.Engine.Account())
			})

			if !output.IsJSON() {
				output.Info("Stopping session")
			}
			return app.Runner.Stop()
		},
	}
	cmd.Flags().Duration("status-every", 0, "Print the account summary at this interval (0 to disable)")
	cmd.Flags().Bool("bell", false, "Ring the terminal bell on fills and rejections")
	return cmd
}

// waitForShutdown blocks until ctx is done, calling status every interval
// when interval is positive.
func waitForShutdown(ctx context.Context, interval time.Duration, status func()) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			status()
		}
	}
}

func printNotification(output *Output, n notify.Notification) {
	stamp := output.paint(color.New(color.Faint), FormatDateTime(n.Timestamp))
	switch n.Kind {
	case notify.KindFill:
		output.Printf("%s %s %s\n", stamp, output.Green("FILL"), n.Message)
	case notify.KindRejected:
		output.Printf("%s %s %s\n", stamp, output.Red("REJECTED"), n.Message)
	case notify.KindTrade:
		output.Printf("%s %s %s\n", stamp, output.Yellow("TRADE"), n.Message)
	default:
		output.Printf("%s %s\n", stamp, n.Message)
	}
}
