package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"paper-trader/internal/models"
)

// addPositionCommands adds position commands.
func addPositionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPositionsCmd(app))

	cmd := &cobra.Command{
		Use:   "position",
		Short: "Close or convert a position",
	}
	cmd.AddCommand(newPositionCloseCmd(app))
	cmd.AddCommand(newPositionConvertCmd(app))
	rootCmd.AddCommand(cmd)
}

func newPositionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}

			all, _ := cmd.Flags().GetBool("all")
			var positions []models.Position
			for _, p := range engine.Positions() {
				if all || p.IsOpen() {
					positions = append(positions, p)
				}
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Dim("No open positions")
				return nil
			}

			table := NewTable(output, "SECURITY", "SYMBOL", "PRODUCT", "QTY", "AVG", "LTP", "MARGIN", "REALIZED", "UNREALIZED")
			var total float64
			for _, p := range positions {
				avg := p.AvgBuyPrice
				if p.NetQuantity < 0 {
					avg = p.AvgSellPrice
				}
				table.AddRow(
					p.SecurityID,
					p.Symbol,
					string(p.Product),
					FormatQuantity(p.NetQuantity),
					FormatPrice(avg),
					FormatPrice(p.LTP),
					FormatIndianCurrency(p.MarginUsed),
					output.FormatPnL(p.RealizedPnL),
					output.FormatPnL(p.UnrealizedPnL),
				)
				total += p.TotalPnL
			}
			table.Render()
			output.Println()
			output.Printf("  Total P&L: %s\n", output.FormatPnL(total))
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Include flat positions")
	return cmd
}

func newPositionCloseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "close <security-id>",
		Short: "Close a position at market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}
			order, err := engine.ClosePosition(args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(order)
			}
			showOrder(output, order)
			return nil
		},
	}
}

func newPositionConvertCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "convert <security-id> <MIS|CNC|NRML>",
		Short: "Change the product type of a position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}
			product := models.ProductType(strings.ToUpper(args[1]))
			if err := engine.ConvertPosition(args[0], product); err != nil {
				return err
			}
			p, _ := engine.Position(args[0])
			if output.IsJSON() {
				return output.JSON(p)
			}
			output.Success("%s converted to %s", p.Symbol, p.Product)
			return nil
		},
	}
}
