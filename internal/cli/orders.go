package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/internal/trading"
)

// addOrderCommands adds order and basket commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place and manage paper orders",
	}
	cmd.AddCommand(newOrderPlaceCmd(app))
	cmd.AddCommand(newOrderCancelCmd(app))
	cmd.AddCommand(newOrderModifyCmd(app))
	cmd.AddCommand(newOrderListCmd(app))
	rootCmd.AddCommand(cmd)
	rootCmd.AddCommand(newBasketCmd(app))
}

func addInstrumentFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("symbol", "s", "", "Trading symbol (default: the security id)")
	cmd.Flags().StringP("segment", "e", string(models.SegmentNSEEquity), "Exchange segment (NSE_EQ, NSE_FNO, BSE_EQ, BSE_FNO, MCX_COMM, ...)")
	cmd.Flags().Int("lot-size", 0, "Lot size override for derivatives")
	cmd.Flags().String("instrument-type", "", "Instrument type (FUTIDX, OPTIDX, FUTSTK, OPTSTK, FUTCOM, OPTFUT)")
}

func instrumentFromFlags(cmd *cobra.Command, securityID string) (models.Instrument, error) {
	symbol, _ := cmd.Flags().GetString("symbol")
	segment, _ := cmd.Flags().GetString("segment")
	lotSize, _ := cmd.Flags().GetInt("lot-size")
	instType, _ := cmd.Flags().GetString("instrument-type")

	seg := models.Segment(strings.ToUpper(segment))
	if _, ok := seg.Code(); !ok {
		return models.Instrument{}, errors.NewValidationError("segment", segment, "unknown exchange segment")
	}
	if symbol == "" {
		symbol = securityID
	}
	return models.Instrument{
		SecurityID:     securityID,
		Symbol:         strings.ToUpper(symbol),
		Exchange:       seg.Exchange(),
		Segment:        seg,
		LotSize:        lotSize,
		InstrumentType: strings.ToUpper(instType),
	}, nil
}

func parseSide(s string) (models.OrderSide, error) {
	switch side := models.OrderSide(strings.ToUpper(s)); side {
	case models.OrderSideBuy, models.OrderSideSell:
		return side, nil
	}
	return "", errors.NewValidationError("side", s, "must be BUY or SELL")
}

func parseQuantity(s string) (int, error) {
	qty, err := strconv.Atoi(s)
	if err != nil || qty <= 0 {
		return 0, errors.NewValidationError("quantity", s, "must be a positive whole number")
	}
	return qty, nil
}

func newOrderPlaceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "place <BUY|SELL> <security-id> <quantity>",
		Short: "Place a paper order",
		Long: `Place a paper order. Quantity is in lots for derivatives and in shares
for equity.

MARKET orders fill at the last feed price, or at --price when no price
has been seen yet. LIMIT, SL and SL-M orders rest until the feed crosses
their price.`,
		Example: `  trader order place BUY 2885 10 --symbol RELIANCE --price 2950
  trader order place SELL 43210 1 -e NSE_FNO --symbol "NIFTY 23 JAN 23500 CALL" --instrument-type OPTIDX --type LIMIT --price 120
  trader order place BUY 440001 1 -e MCX_COMM --symbol CRUDEOIL --instrument-type FUTCOM --type SL-M --trigger 6450 --product NRML`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			req, err := orderRequestFromArgs(cmd, args)
			if err != nil {
				return err
			}

			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}

			if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
				return showEstimate(output, engine, req)
			}

			order, err := engine.PlaceOrder(req)
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

	addInstrumentFlags(cmd)
	cmd.Flags().StringP("type", "t", string(models.OrderTypeMarket), "Order type (MARKET, LIMIT, SL, SL-M)")
	cmd.Flags().String("product", string(models.ProductMIS), "Product type (MIS, CNC, NRML)")
	cmd.Flags().Float64P("price", "p", 0, "Limit price, or reference price for MARKET")
	cmd.Flags().Float64("trigger", 0, "Trigger price for SL and SL-M")
	cmd.Flags().Bool("dry-run", false, "Show margin and charges without placing")

	return cmd
}

func orderRequestFromArgs(cmd *cobra.Command, args []string) (trading.OrderRequest, error) {
	side, err := parseSide(args[0])
	if err != nil {
		return trading.OrderRequest{}, err
	}
	qty, err := parseQuantity(args[2])
	if err != nil {
		return trading.OrderRequest{}, err
	}
	inst, err := instrumentFromFlags(cmd, args[1])
	if err != nil {
		return trading.OrderRequest{}, err
	}

	orderType, _ := cmd.Flags().GetString("type")
	product, _ := cmd.Flags().GetString("product")
	price, _ := cmd.Flags().GetFloat64("price")
	trigger, _ := cmd.Flags().GetFloat64("trigger")

	return trading.OrderRequest{
		Instrument:   inst,
		Side:         side,
		Type:         models.OrderType(strings.ToUpper(orderType)),
		Product:      models.ProductType(strings.ToUpper(product)),
		Quantity:     qty,
		Price:        price,
		TriggerPrice: trigger,
	}, nil
}

func showEstimate(output *Output, engine *trading.Engine, req trading.OrderRequest) error {
	margin, err := engine.EstimateMargin(req)
	if err != nil {
		return err
	}
	charges, err := engine.EstimateLegCharges(req)
	if err != nil {
		return err
	}
	account := engine.Account()

	if output.IsJSON() {
		return output.JSON(map[string]interface{}{
			"margin":    margin,
			"charges":   charges,
			"available": account.AvailableMargin,
		})
	}

	output.Bold("Order Estimate")
	output.Printf("  Class:      %s (lot %d)\n", margin.Class, margin.LotSize)
	output.Printf("  Margin:     %s", FormatIndianCurrency(margin.Required))
	if margin.Hedged {
		output.Printf(" %s", output.Green("(hedged)"))
	}
	output.Println()
	output.Printf("  Available:  %s\n", FormatIndianCurrency(account.AvailableMargin))
	output.Printf("  Charges:    %s (brokerage %s, STT %s, GST %s)\n",
		FormatIndianCurrency(charges.Total), FormatIndianCurrency(charges.Brokerage),
		FormatIndianCurrency(charges.STT), FormatIndianCurrency(charges.GST))
	if margin.Required > account.AvailableMargin {
		output.Warning("Insufficient margin: short by %s", FormatIndianCurrency(margin.Required-account.AvailableMargin))
	}
	return nil
}

func showOrder(output *Output, o *models.Order) {
	switch o.Status {
	case models.OrderStatusRejected:
		output.Error("Order %s rejected: %s", o.ID, o.RejectionReason)
	case models.OrderStatusExecuted:
		output.Success("Order %s executed at %s", o.ID, FormatPrice(o.AvgFillPrice))
	default:
		output.Info("Order %s is %s", o.ID, o.Status)
	}
	output.Printf("  %s %s x%d %s %s\n", output.Side(string(o.Side)), o.Symbol, o.Quantity, o.Type, o.Product)
	if o.MarginBlocked > 0 {
		output.Printf("  Margin blocked: %s\n", FormatIndianCurrency(o.MarginBlocked))
	}
}

func newOrderCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}
			if err := engine.CancelOrder(args[0]); err != nil {
				return err
			}
			o, _ := engine.Order(args[0])
			if output.IsJSON() {
				return output.JSON(o)
			}
			output.Success("Order %s is %s", o.ID, o.Status)
			return nil
		},
	}
}

func newOrderModifyCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modify <order-id>",
		Short: "Modify an open order",
		Long:  "Change quantity, price or trigger of an open order. Margin is re-blocked for the new values.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			qty, _ := cmd.Flags().GetInt("quantity")
			price, _ := cmd.Flags().GetFloat64("price")
			trigger, _ := cmd.Flags().GetFloat64("trigger")
			if qty == 0 && price == 0 && trigger == 0 {
				return errors.NewValidationError("modify", "", "nothing to change")
			}

			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}
			if err := engine.ModifyOrder(args[0], trading.ModifyRequest{Quantity: qty, Price: price, TriggerPrice: trigger}); err != nil {
				return err
			}

			o, _ := engine.Order(args[0])
			if output.IsJSON() {
				return output.JSON(o)
			}
			output.Success("Order %s modified", o.ID)
			output.Printf("  Qty %d  Price %s  Trigger %s  Margin %s\n",
				o.Quantity, FormatPrice(o.Price), FormatPrice(o.TriggerPrice), FormatIndianCurrency(o.MarginBlocked))
			return nil
		},
	}

	cmd.Flags().Int("quantity", 0, "New quantity")
	cmd.Flags().Float64("price", 0, "New limit price")
	cmd.Flags().Float64("trigger", 0, "New trigger price")
	return cmd
}

func newOrderListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}

			orders := engine.Orders()
			if open, _ := cmd.Flags().GetBool("open"); open {
				orders = engine.OpenOrders()
			}

			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Dim("No orders")
				return nil
			}

			table := NewTable(output, "ID", "TIME", "SYMBOL", "SIDE", "TYPE", "PRODUCT", "QTY", "PRICE", "TRIGGER", "AVG", "STATUS")
			for _, o := range orders {
				table.AddRow(
					o.ID,
					FormatDateTime(o.CreatedAt),
					o.Symbol,
					output.Side(string(o.Side)),
					string(o.Type),
					string(o.Product),
					strconv.Itoa(o.Quantity),
					FormatPrice(o.Price),
					FormatPrice(o.TriggerPrice),
					FormatPrice(o.AvgFillPrice),
					output.Status(string(o.Status)),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Bool("open", false, "Only open orders")
	return cmd
}

func newBasketCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "basket <file.json>",
		Short: "Estimate or place a basket of orders",
		Long: `Read a JSON array of order requests and show the total margin it needs.
With --place the orders are placed in file order.

Each item looks like:
  {"instrument": {"securityId": "2885", "symbol": "RELIANCE", "segment": "NSE_EQ"},
   "side": "BUY", "orderType": "LIMIT", "productType": "MIS", "quantity": 10, "price": 2950}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			items, err := readBasket(args[0])
			if err != nil {
				return err
			}

			engine, err := app.engine(cmd)
			if err != nil {
				return err
			}

			if place, _ := cmd.Flags().GetBool("place"); place {
				placed, err := engine.PlaceBasket(items)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(placed)
				}
				for i := range placed {
					showOrder(output, &placed[i])
				}
				return nil
			}

			est, err := engine.EstimateBasket(items)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(est)
			}

			table := NewTable(output, "#", "SYMBOL", "SIDE", "QTY", "CLASS", "MARGIN")
			for i, m := range est.Items {
				table.AddRow(strconv.Itoa(i+1), items[i].Instrument.Symbol, output.Side(string(items[i].Side)),
					strconv.Itoa(items[i].Quantity), m.Class.String(), FormatIndianCurrency(m.Required))
			}
			table.Render()
			output.Println()
			output.Printf("  Required:  %s\n", FormatIndianCurrency(est.TotalRequired))
			output.Printf("  Available: %s\n", FormatIndianCurrency(est.Available))
			if est.Sufficient {
				output.Success("Sufficient margin")
			} else {
				output.Warning("Insufficient margin")
			}
			return nil
		},
	}
	cmd.Flags().Bool("place", false, "Place the orders")
	return cmd
}

func readBasket(path string) ([]trading.OrderRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []trading.OrderRequest
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing basket %s: %w", path, err)
	}
	for i := range items {
		inst := &items[i].Instrument
		if inst.Segment == "" {
			inst.Segment = models.SegmentNSEEquity
		}
		if inst.Exchange == "" {
			inst.Exchange = inst.Segment.Exchange()
		}
		if inst.Symbol == "" {
			inst.Symbol = inst.SecurityID
		}
	}
	return items, nil
}
