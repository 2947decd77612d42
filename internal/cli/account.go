package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/internal/store"
	"paper-trader/pkg/utils"
)

// addAccountCommands adds funds, history and settlement commands.
func addAccountCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newFundsCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newStatsCmd(app))
	rootCmd.AddCommand(newSettleCmd(app))
	rootCmd.AddCommand(newResetCmd(app))
}

func newFundsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "funds",
		Short: "Show the account summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}
			return showAccount(output, engine.Account())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <amount>",
		Short: "Add funds to the paper account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			amount, err := strconv.ParseFloat(strings.ReplaceAll(args[0], ",", ""), 64)
			if err != nil {
				return errors.NewValidationError("amount", args[0], "not a number")
			}
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}
			if err := engine.AddFunds(amount); err != nil {
				return err
			}
			if !output.IsJSON() {
				output.Success("Added %s", FormatIndianCurrency(amount))
			}
			return showAccount(output, engine.Account())
		},
	})

	return cmd
}

func showAccount(output *Output, a models.AccountSummary) error {
	if output.IsJSON() {
		return output.JSON(a)
	}
	output.Bold("Account")
	output.Printf("  Total Capital:  %s\n", FormatIndianCurrency(a.TotalCapital))
	output.Printf("  Used Margin:    %s (%.1f%%)\n", FormatIndianCurrency(a.UsedMargin), a.MarginUtilizationPct)
	output.Printf("  Available:      %s\n", FormatIndianCurrency(a.AvailableMargin))
	output.Printf("  Realized P&L:   %s\n", output.FormatPnL(a.RealizedPnL))
	output.Printf("  Unrealized P&L: %s\n", output.FormatPnL(a.UnrealizedPnL))
	output.Printf("  Total P&L:      %s\n", output.FormatPnL(a.TotalPnL))
	return nil
}

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show realized trades",
		Long: `Show realized trades of the current account. With --archive the trade
journal is queried instead, which keeps trades across account resets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}

			filter, err := tradeFilterFromFlags(cmd)
			if err != nil {
				return err
			}

			var trades []models.TradeLog
			if archive, _ := cmd.Flags().GetBool("archive"); archive {
				if trades, err = app.Store.ArchivedTrades(cmd.Context(), filter); err != nil {
					return err
				}
			} else {
				all := engine.Trades()
				for i := len(all) - 1; i >= 0; i-- {
					if filter.Matches(&all[i]) {
						trades = append(trades, all[i])
					}
					if filter.Limit > 0 && len(trades) == filter.Limit {
						break
					}
				}
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No trades")
				return nil
			}

			table := NewTable(output, "TIME", "SYMBOL", "TYPE", "QTY", "BUY", "SELL", "GROSS", "CHARGES", "NET", "SETTLED")
			for _, t := range trades {
				settled := ""
				if t.Settled {
					settled = "yes"
				}
				table.AddRow(
					FormatDateTime(t.Timestamp),
					t.Symbol,
					string(t.Type),
					FormatQuantity(t.Quantity),
					FormatPrice(t.BuyPrice),
					FormatPrice(t.SellPrice),
					output.FormatPnL(t.RealizedPnL),
					FormatIndianCurrency(t.Charges),
					output.FormatPnL(t.NetPnL),
					settled,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringP("symbol", "s", "", "Filter by symbol")
	cmd.Flags().String("from", "", "Start date (YYYY-MM-DD, IST)")
	cmd.Flags().String("to", "", "End date (YYYY-MM-DD, IST, inclusive)")
	cmd.Flags().IntP("limit", "l", 50, "Maximum trades to show (0 for all)")
	cmd.Flags().Bool("archive", false, "Query the trade journal")
	return cmd
}

func tradeFilterFromFlags(cmd *cobra.Command) (store.TradeFilter, error) {
	symbol, _ := cmd.Flags().GetString("symbol")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := store.TradeFilter{Symbol: strings.ToUpper(symbol), Limit: limit}
	if from != "" {
		t, err := time.ParseInLocation(utils.DateLayout, from, utils.IndiaLocation)
		if err != nil {
			return filter, errors.NewValidationError("from", from, "expected YYYY-MM-DD")
		}
		filter.StartDate = t
	}
	if to != "" {
		t, err := time.ParseInLocation(utils.DateLayout, to, utils.IndiaLocation)
		if err != nil {
			return filter, errors.NewValidationError("to", to, "expected YYYY-MM-DD")
		}
		filter.EndDate = t.Add(24*time.Hour - time.Nanosecond)
	}
	return filter, nil
}

func newStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show daily realized P&L",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}

			stats := engine.DailyStats()
			if output.IsJSON() {
				return output.JSON(stats)
			}
			if len(stats) == 0 {
				output.Dim("No trading days yet")
				return nil
			}

			table := NewTable(output, "DATE", "TRADES", "REALIZED")
			var total float64
			var trades int
			for _, s := range stats {
				table.AddRow(s.Date, strconv.Itoa(s.TradeCount), output.FormatPnL(s.RealizedPnL))
				total += s.RealizedPnL
				trades += s.TradeCount
			}
			table.Render()
			output.Println()
			output.Printf("  %d trades over %d days, %s\n", trades, len(stats), output.FormatPnL(total))
			return nil
		},
	}
}

func newSettleCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Run settlement if due and show the settlement history",
		Long: `Settlement runs once per IST day after the configured cutoff hour. It
deducts the charges of earlier trades and removes flat and intraday
positions. Every command runs it when due; this one also lists past runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := app.Store.Settlements(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"lastSettlementDate": engine.LastSettlementDate(),
					"history":            runs,
				})
			}

			output.Printf("Last settlement: %s\n", engine.LastSettlementDate())
			if len(runs) == 0 {
				return nil
			}
			output.Println()
			table := NewTable(output, "DATE", "TRADES", "CHARGES", "POSITIONS", "MARGIN RELEASED")
			for _, r := range runs {
				table.AddRow(r.Date, strconv.Itoa(r.TradesSettled), FormatIndianCurrency(r.Charges),
					strconv.Itoa(r.PositionsRemoved), FormatIndianCurrency(r.MarginReleased))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntP("limit", "l", 10, "Settlement runs to show")
	return cmd
}

func newResetCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the paper account",
		Long:  "Wipe orders, positions, trades and the watchlist. The trade journal is kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				output.Warning("This wipes the paper account. Re-run with --yes to confirm.")
				return nil
			}

			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}
			capital, _ := cmd.Flags().GetFloat64("capital")
			engine.Reset(capital)

			if !output.IsJSON() {
				output.Success("Account reset")
			}
			return showAccount(output, engine.Account())
		},
	}
	cmd.Flags().Float64("capital", 0, "Opening capital (default: configured initial capital)")
	cmd.Flags().Bool("yes", false, "Confirm the reset")
	return cmd
}
