package cli

import (
	"github.com/spf13/cobra"
)

// addWatchCommands adds watchlist commands.
func addWatchCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the watchlist",
		Long:  "Watched instruments are subscribed on the live feed during 'trader run'.",
	}

	add := &cobra.Command{
		Use:   "add <security-id>",
		Short: "Add an instrument to the watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			inst, err := instrumentFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}
			added, err := engine.AddToWatchlist(inst)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"added": added})
			}
			if added {
				output.Success("Watching %s", inst.Symbol)
			} else {
				output.Dim("%s is already on the watchlist", inst.Symbol)
			}
			return nil
		},
	}
	addInstrumentFlags(add)
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <security-id>",
		Short: "Remove an instrument from the watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}
			removed := engine.RemoveFromWatchlist(args[0])
			if output.IsJSON() {
				return output.JSON(map[string]bool{"removed": removed})
			}
			if removed {
				output.Success("Removed %s", args[0])
			} else {
				output.Dim("%s is not on the watchlist", args[0])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the watchlist with last known prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}
			items := engine.Watchlist()
			if output.IsJSON() {
				return output.JSON(items)
			}
			if len(items) == 0 {
				output.Dim("Watchlist is empty")
				return nil
			}
			table := NewTable(output, "SECURITY", "SYMBOL", "SEGMENT", "LTP", "CHANGE", "CHANGE %")
			for _, w := range items {
				table.AddRow(w.SecurityID, w.Symbol, string(w.Segment), FormatPrice(w.LTP),
					output.FormatPnL(w.Change), output.FormatPercent(w.ChangePercent))
			}
			table.Render()
			return nil
		},
	})

	rootCmd.AddCommand(cmd)
}
