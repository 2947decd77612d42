package cli

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"paper-trader/internal/broker"
	"paper-trader/internal/errors"
)

// addBrokerCommands adds commands backed by the Dhan REST API.
func addBrokerCommands(rootCmd *cobra.Command, app *App) {
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Broker credentials",
	}
	auth.AddCommand(newAuthValidateCmd(app))
	rootCmd.AddCommand(auth)

	chain := &cobra.Command{
		Use:   "option-chain",
		Short: "Option chain lookups",
	}
	chain.PersistentFlags().StringP("segment", "e", "IDX_I", "Underlying segment (IDX_I, NSE_EQ, NSE_FNO, MCX_COMM)")
	chain.AddCommand(newExpiriesCmd(app))
	chain.AddCommand(newChainShowCmd(app))
	rootCmd.AddCommand(chain)
}

func newAuthValidateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configured access token against the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			b, err := app.broker()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			profile, err := b.GetProfile(ctx)
			if err != nil {
				return err
			}
			funds, err := b.GetFunds(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"profile": profile, "funds": funds})
			}
			output.Success("Session valid for client %s", profile.ClientID)
			output.Printf("  Token valid until: %s\n", profile.TokenValidity)
			output.Printf("  Segments:          %s\n", profile.ActiveSegment)
			output.Printf("  Data plan:         %s (%s)\n", profile.DataPlan, profile.DataValidity)
			output.Printf("  Live balance:      %s\n", FormatIndianCurrency(funds.AvailableBalance))
			return nil
		},
	}
}

func underlyingFromArgs(cmd *cobra.Command, arg string) (broker.UnderlyingRef, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return broker.UnderlyingRef{}, errors.NewValidationError("underlying", arg, "security id must be numeric")
	}
	seg, _ := cmd.Flags().GetString("segment")
	return broker.UnderlyingRef{SecurityID: id, Segment: strings.ToUpper(seg)}, nil
}

func newExpiriesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "expiries <underlying-security-id>",
		Short:   "List option expiries of an underlying",
		Example: "  trader option-chain expiries 13         # NIFTY\n  trader option-chain expiries 25         # BANKNIFTY",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ref, err := underlyingFromArgs(cmd, args[0])
			if err != nil {
				return err
			}
			b, err := app.broker()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			expiries, err := b.GetOptionChainExpiry(ctx, ref)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(expiries)
			}
			for _, e := range expiries {
				output.Println(e)
			}
			return nil
		},
	}
}

func newChainShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <underlying-security-id> <expiry>",
		Short: "Show the option chain around the money",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ref, err := underlyingFromArgs(cmd, args[0])
			if err != nil {
				return err
			}
			b, err := app.broker()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			chain, err := b.GetOptionChain(ctx, ref, args[1])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(chain)
			}

			strikes, _ := cmd.Flags().GetInt("strikes")
			keys := nearestStrikes(chain, strikes)

			output.Bold("Underlying %s", FormatPrice(chain.LastPrice))
			table := NewTable(output, "CE OI", "CE IV", "CE LTP", "STRIKE", "PE LTP", "PE IV", "PE OI")
			for _, k := range keys {
				s := chain.Strikes[k]
				row := []string{"", "", "", k, "", "", ""}
				if s.Call != nil {
					row[0] = FormatQuantity(float64(s.Call.OI))
					row[1] = FormatPrice(s.Call.ImpliedVolatility)
					row[2] = FormatPrice(s.Call.LastPrice)
				}
				if s.Put != nil {
					row[4] = FormatPrice(s.Put.LastPrice)
					row[5] = FormatPrice(s.Put.ImpliedVolatility)
					row[6] = FormatQuantity(float64(s.Put.OI))
				}
				table.AddRow(row...)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("strikes", 10, "Strikes to show on each side of the money")
	return cmd
}

// nearestStrikes returns up to n strikes either side of the underlying
// price, ascending.
func nearestStrikes(chain *broker.OptionChain, n int) []string {
	type strike struct {
		key   string
		value float64
	}
	all := make([]strike, 0, len(chain.Strikes))
	for k := range chain.Strikes {
		v, err := strconv.ParseFloat(k, 64)
		if err != nil {
			continue
		}
		all = append(all, strike{k, v})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].value < all[j].value })

	atm := sort.Search(len(all), func(i int) bool { return all[i].value >= chain.LastPrice })
	lo, hi := max(atm-n, 0), min(atm+n, len(all))

	out := make([]string, 0, hi-lo)
	for _, s := range all[lo:hi] {
		out = append(out, s.key)
	}
	return out
}
