package trading

import (
	"fmt"
	"math"
	"testing"
	"time"

	"paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

var (
	niftyCall = models.Instrument{
		SecurityID:     "43210",
		Symbol:         "NIFTY 30 JAN 24000 CALL",
		Exchange:       models.NSE,
		Segment:        models.SegmentNSEFNO,
		LotSize:        50,
		InstrumentType: "OPTIDX",
	}
	reliance = models.Instrument{
		SecurityID: "2885",
		Symbol:     "RELIANCE",
		Exchange:   models.NSE,
		Segment:    models.SegmentNSEEquity,
	}
	crudeFut = models.Instrument{
		SecurityID:     "440001",
		Symbol:         "CRUDEOIL 19 FEB FUT",
		Exchange:       models.MCX,
		Segment:        models.SegmentMCXComm,
		LotSize:        100,
		InstrumentType: "FUTCOM",
	}
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Set(day, hour, minute int) {
	c.now = time.Date(2025, time.January, day, hour, minute, 0, 0, utils.IndiaLocation)
}

func newTestEngine(capital float64) (*Engine, *testClock) {
	clock := &testClock{}
	clock.Set(15, 10, 0)

	seq := 0
	cfg := DefaultConfig()
	cfg.InitialCapital = capital
	cfg.Clock = clock.Now
	cfg.IDGenerator = func(prefix string) string {
		seq++
		return fmt.Sprintf("%s-%d", prefix, seq)
	}
	return NewEngine(cfg), clock
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func market(inst models.Instrument, side models.OrderSide, product models.ProductType, qty int, price float64) OrderRequest {
	return OrderRequest{
		Instrument: inst,
		Side:       side,
		Type:       models.OrderTypeMarket,
		Product:    product,
		Quantity:   qty,
		Price:      price,
	}
}

func mustPlace(t *testing.T, e *Engine, req OrderRequest) *models.Order {
	t.Helper()
	o, err := e.PlaceOrder(req)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return o
}

func TestOptionRoundTripScenario(t *testing.T) {
	e, _ := newTestEngine(500000)

	buy := mustPlace(t, e, market(niftyCall, models.OrderSideBuy, models.ProductNRML, 1, 100))
	if buy.Status != models.OrderStatusExecuted {
		t.Fatalf("expected buy to execute, got %s", buy.Status)
	}
	if !approx(buy.MarginBlocked, 5000) {
		t.Errorf("margin blocked = %v, want 5000", buy.MarginBlocked)
	}
	if acct := e.Account(); !approx(acct.AvailableMargin, 495000) {
		t.Errorf("available = %v, want 495000", acct.AvailableMargin)
	}

	sell := mustPlace(t, e, market(niftyCall, models.OrderSideSell, models.ProductNRML, 1, 120))
	if sell.Status != models.OrderStatusExecuted || sell.MarginBlocked != 0 {
		t.Fatalf("unexpected sell: %+v", sell)
	}

	pos, ok := e.Position(niftyCall.SecurityID)
	if !ok {
		t.Fatal("position missing before settlement")
	}
	if pos.NetQuantity != 0 || pos.MarginUsed != 0 {
		t.Errorf("position not flat: %+v", pos)
	}
	if !approx(pos.RealizedPnL, 1000) {
		t.Errorf("realized = %v, want 1000", pos.RealizedPnL)
	}

	trades := e.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.Type != models.LongClose || tr.Quantity != 1 || tr.LotSize != 50 {
		t.Errorf("unexpected trade: %+v", tr)
	}
	if tr.Charges <= 0 || !approx(tr.NetPnL, 1000-tr.Charges) {
		t.Errorf("net pnl = %v, charges = %v", tr.NetPnL, tr.Charges)
	}

	acct := e.Account()
	if acct.UsedMargin != 0 {
		t.Errorf("used margin = %v, want 0", acct.UsedMargin)
	}
	if !approx(acct.TotalCapital, 501000) {
		t.Errorf("capital = %v, want 501000 before settlement", acct.TotalCapital)
	}
}

func TestStopLossMarketFillsAtGappedPrice(t *testing.T) {
	e, _ := newTestEngine(500000)
	mustPlace(t, e, market(niftyCall, models.OrderSideBuy, models.ProductNRML, 1, 100))

	sl := mustPlace(t, e, OrderRequest{
		Instrument:   niftyCall,
		Side:         models.OrderSideSell,
		Type:         models.OrderTypeStopLossM,
		Product:      models.ProductNRML,
		Quantity:     1,
		TriggerPrice: 95,
	})
	if sl.Status != models.OrderStatusOpen {
		t.Fatalf("expected SL-M to rest, got %s", sl.Status)
	}

	e.OnTick(niftyCall.SecurityID, 96)
	if o, _ := e.Order(sl.ID); o.Status != models.OrderStatusOpen {
		t.Fatalf("SL-M fired above trigger: %s", o.Status)
	}

	e.OnTick(niftyCall.SecurityID, 94)
	o, _ := e.Order(sl.ID)
	if o.Status != models.OrderStatusExecuted {
		t.Fatalf("expected execution, got %s", o.Status)
	}
	if o.AvgFillPrice != 94 {
		t.Errorf("fill = %v, want 94", o.AvgFillPrice)
	}
	if pos, _ := e.Position(niftyCall.SecurityID); !approx(pos.RealizedPnL, -300) {
		t.Errorf("realized = %v, want -300", pos.RealizedPnL)
	}
}

func TestStopLossLimitStaysOpenWhenGapped(t *testing.T) {
	e, _ := newTestEngine(500000)
	sl := mustPlace(t, e, OrderRequest{
		Instrument:   reliance,
		Side:         models.OrderSideBuy,
		Type:         models.OrderTypeStopLoss,
		Product:      models.ProductMIS,
		Quantity:     10,
		Price:        106,
		TriggerPrice: 105,
	})

	e.OnTick(reliance.SecurityID, 110)
	if o, _ := e.Order(sl.ID); o.Status != models.OrderStatusOpen {
		t.Fatalf("gapped SL must stay open, got %s", o.Status)
	}

	e.OnTick(reliance.SecurityID, 105.5)
	o, _ := e.Order(sl.ID)
	if o.Status != models.OrderStatusExecuted || o.AvgFillPrice != 106 {
		t.Fatalf("expected fill at limit 106, got %s @ %v", o.Status, o.AvgFillPrice)
	}
}

func TestLimitOrderFillsAtLimit(t *testing.T) {
	e, _ := newTestEngine(500000)
	lim := mustPlace(t, e, OrderRequest{
		Instrument: reliance,
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeLimit,
		Product:    models.ProductMIS,
		Quantity:   10,
		Price:      100,
	})
	if !approx(lim.MarginBlocked, 200) {
		t.Errorf("margin = %v, want 200", lim.MarginBlocked)
	}

	e.OnTick(reliance.SecurityID, 101)
	if o, _ := e.Order(lim.ID); o.Status != models.OrderStatusOpen {
		t.Fatalf("limit fired above limit")
	}
	e.OnTick(reliance.SecurityID, 98)
	o, _ := e.Order(lim.ID)
	if o.Status != models.OrderStatusExecuted || o.AvgFillPrice != 100 {
		t.Fatalf("expected fill at 100, got %s @ %v", o.Status, o.AvgFillPrice)
	}

	pos, _ := e.Position(reliance.SecurityID)
	if pos.LTP != 98 || !approx(pos.UnrealizedPnL, -20) {
		t.Errorf("expected mark at 98, got ltp=%v unrealized=%v", pos.LTP, pos.UnrealizedPnL)
	}
	if acct := e.Account(); !approx(acct.UsedMargin, 200) {
		t.Errorf("used margin = %v, want 200", acct.UsedMargin)
	}
}

func TestMarketOrderUsesCachedQuote(t *testing.T) {
	e, _ := newTestEngine(500000)
	e.OnTick(reliance.SecurityID, 250)

	o := mustPlace(t, e, market(reliance, models.OrderSideBuy, models.ProductCNC, 4, 1))
	if o.AvgFillPrice != 250 {
		t.Errorf("fill = %v, want cached ltp 250", o.AvgFillPrice)
	}
	if !approx(o.MarginBlocked, 200) {
		t.Errorf("margin = %v, want 200", o.MarginBlocked)
	}
}

func TestInsufficientMarginRejects(t *testing.T) {
	e, _ := newTestEngine(500000)

	o := mustPlace(t, e, market(niftyCall, models.OrderSideSell, models.ProductNRML, 5, 100))
	if o.Status != models.OrderStatusRejected || o.RejectionReason != RejectInsufficientMargin {
		t.Fatalf("expected rejection, got %+v", o)
	}
	if o.MarginBlocked != 0 {
		t.Errorf("rejected order blocked margin %v", o.MarginBlocked)
	}
	if acct := e.Account(); acct.UsedMargin != 0 || acct.AvailableMargin != 500000 {
		t.Errorf("account changed: %+v", acct)
	}
	if len(e.Orders()) != 1 {
		t.Errorf("rejected order must be recorded")
	}
	if _, ok := e.Position(niftyCall.SecurityID); ok {
		t.Error("rejected order opened a position")
	}
}

func TestInvalidOrdersAreNotRecorded(t *testing.T) {
	e, _ := newTestEngine(500000)

	cases := []OrderRequest{
		market(reliance, models.OrderSideBuy, models.ProductMIS, 0, 100),
		market(reliance, models.OrderSideBuy, models.ProductMIS, 1, -5),
		market(reliance, models.OrderSideBuy, models.ProductMIS, 1, math.NaN()),
		market(reliance, "HOLD", models.ProductMIS, 1, 100),
		{Instrument: reliance, Side: models.OrderSideBuy, Type: models.OrderTypeStopLoss, Product: models.ProductMIS, Quantity: 1, Price: 100},
		{Instrument: reliance, Side: models.OrderSideBuy, Type: "ICEBERG", Product: models.ProductMIS, Quantity: 1, Price: 100},
	}
	for i, req := range cases {
		_, err := e.PlaceOrder(req)
		if !errors.Is(err, errors.ErrInvalidOrder) {
			t.Errorf("case %d: expected ErrInvalidOrder, got %v", i, err)
		}
	}
	if n := len(e.Orders()); n != 0 {
		t.Errorf("expected no recorded orders, got %d", n)
	}
}

func TestOversizedQuantityRejected(t *testing.T) {
	e, _ := newTestEngine(500000)

	huge := math.MaxInt64/50 + 1
	if _, err := e.PlaceOrder(market(niftyCall, models.OrderSideBuy, models.ProductNRML, huge, 100)); !errors.Is(err, errors.ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder for %d lots, got %v", huge, err)
	}
	if _, ok := e.Position(niftyCall.SecurityID); ok {
		t.Error("oversized order opened a position")
	}
	if acct := e.Account(); acct.UsedMargin != 0 {
		t.Errorf("used = %v, want 0", acct.UsedMargin)
	}

	o := mustPlace(t, e, OrderRequest{
		Instrument: niftyCall,
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeLimit,
		Product:    models.ProductNRML,
		Quantity:   1,
		Price:      90,
	})
	if err := e.ModifyOrder(o.ID, ModifyRequest{Quantity: huge}); !errors.Is(err, errors.ErrInvalidOrder) {
		t.Fatalf("modify: expected ErrInvalidOrder, got %v", err)
	}
	if got, _ := e.Order(o.ID); got.Quantity != 1 {
		t.Errorf("quantity changed by rejected modify: %d", got.Quantity)
	}
}

// A resting order keeps the margin computed when it was placed, even if
// the position it offset is closed before it fills.
func TestRestingOrderKeepsPlacementMargin(t *testing.T) {
	e, _ := newTestEngine(500000)
	mustPlace(t, e, market(niftyCall, models.OrderSideBuy, models.ProductNRML, 1, 100))

	limit := mustPlace(t, e, OrderRequest{
		Instrument: niftyCall,
		Side:       models.OrderSideSell,
		Type:       models.OrderTypeLimit,
		Product:    models.ProductNRML,
		Quantity:   1,
		Price:      130,
	})
	if limit.MarginBlocked != 0 {
		t.Fatalf("offsetting limit blocked %v, want 0", limit.MarginBlocked)
	}
	mustPlace(t, e, market(niftyCall, models.OrderSideSell, models.ProductNRML, 1, 120))

	e.OnTick(niftyCall.SecurityID, 131)
	got, _ := e.Order(limit.ID)
	if got.Status != models.OrderStatusExecuted || got.MarginBlocked != 0 {
		t.Fatalf("limit = %+v, want executed with no margin", got)
	}
	pos, _ := e.Position(niftyCall.SecurityID)
	if !approx(pos.NetQuantity, -50) || pos.MarginUsed != 0 {
		t.Errorf("position net=%v margin=%v", pos.NetQuantity, pos.MarginUsed)
	}
}

func TestCancelReleasesMargin(t *testing.T) {
	e, _ := newTestEngine(500000)
	o := mustPlace(t, e, OrderRequest{
		Instrument: reliance,
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeLimit,
		Product:    models.ProductMIS,
		Quantity:   100,
		Price:      100,
	})
	if acct := e.Account(); !approx(acct.UsedMargin, 2000) {
		t.Fatalf("used = %v, want 2000", acct.UsedMargin)
	}

	if err := e.CancelOrder(o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if acct := e.Account(); acct.UsedMargin != 0 {
		t.Errorf("used = %v after cancel", acct.UsedMargin)
	}
	if err := e.CancelOrder(o.ID); err != nil {
		t.Errorf("cancel of terminal order should be silent, got %v", err)
	}
	if err := e.CancelOrder("nope"); !errors.Is(err, errors.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}

	got, _ := e.Order(o.ID)
	if got.Status != models.OrderStatusCancelled {
		t.Errorf("status = %s", got.Status)
	}
	e.OnTick(reliance.SecurityID, 90)
	if got, _ := e.Order(o.ID); got.Status != models.OrderStatusCancelled {
		t.Error("cancelled order must not execute")
	}
}

func TestModifyOrderRemargins(t *testing.T) {
	e, _ := newTestEngine(500000)
	o := mustPlace(t, e, OrderRequest{
		Instrument: reliance,
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeLimit,
		Product:    models.ProductMIS,
		Quantity:   100,
		Price:      100,
	})

	if err := e.ModifyOrder(o.ID, ModifyRequest{Price: 200}); err != nil {
		t.Fatalf("modify: %v", err)
	}
	got, _ := e.Order(o.ID)
	if got.Price != 200 || !approx(got.MarginBlocked, 4000) {
		t.Errorf("unexpected order after modify: %+v", got)
	}
	if acct := e.Account(); !approx(acct.UsedMargin, 4000) {
		t.Errorf("used = %v, want 4000", acct.UsedMargin)
	}

	err := e.ModifyOrder(o.ID, ModifyRequest{Quantity: 1000000})
	if !errors.Is(err, errors.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	got, _ = e.Order(o.ID)
	if got.Quantity != 100 || !approx(got.MarginBlocked, 4000) {
		t.Errorf("order changed by failed modify: %+v", got)
	}
}

func TestWeightedAverageAndFlip(t *testing.T) {
	e, _ := newTestEngine(10000000)

	mustPlace(t, e, market(reliance, models.OrderSideSell, models.ProductMIS, 10, 100))
	mustPlace(t, e, market(reliance, models.OrderSideSell, models.ProductMIS, 30, 120))
	pos, _ := e.Position(reliance.SecurityID)
	if pos.NetQuantity != -40 || !approx(pos.AvgSellPrice, 115) {
		t.Fatalf("unexpected short: %+v", pos)
	}
	if !approx(pos.MarginUsed, 200+720) {
		t.Errorf("margin used = %v", pos.MarginUsed)
	}

	flip := mustPlace(t, e, market(reliance, models.OrderSideBuy, models.ProductMIS, 50, 110))
	if !approx(flip.MarginBlocked, 110*10*0.2) {
		t.Errorf("flip margin = %v, want only the excess", flip.MarginBlocked)
	}
	pos, _ = e.Position(reliance.SecurityID)
	if pos.NetQuantity != 10 || pos.AvgBuyPrice != 110 {
		t.Errorf("unexpected flipped position: %+v", pos)
	}
	if !approx(pos.RealizedPnL, (115-110)*40) {
		t.Errorf("realized = %v, want 200", pos.RealizedPnL)
	}
	if !approx(pos.MarginUsed, flip.MarginBlocked) {
		t.Errorf("flip margin used = %v", pos.MarginUsed)
	}
	if acct := e.Account(); !approx(acct.UsedMargin, flip.MarginBlocked) {
		t.Errorf("account used = %v", acct.UsedMargin)
	}

	trades := e.Trades()
	if len(trades) != 1 || trades[0].Type != models.ShortClose || trades[0].Quantity != 40 {
		t.Errorf("unexpected trades: %+v", trades)
	}
}

func TestPartialCloseReleasesProportionalMargin(t *testing.T) {
	e, _ := newTestEngine(10000000)
	mustPlace(t, e, market(crudeFut, models.OrderSideBuy, models.ProductNRML, 4, 6000))
	pos, _ := e.Position(crudeFut.SecurityID)
	full := pos.MarginUsed
	if !approx(full, 6000*400*0.20) {
		t.Fatalf("margin used = %v", full)
	}

	mustPlace(t, e, market(crudeFut, models.OrderSideSell, models.ProductNRML, 1, 6100))
	pos, _ = e.Position(crudeFut.SecurityID)
	if pos.NetQuantity != 300 || !approx(pos.MarginUsed, full*0.75) {
		t.Errorf("unexpected position: %+v", pos)
	}
	if !approx(pos.RealizedPnL, 100*100) {
		t.Errorf("realized = %v", pos.RealizedPnL)
	}
	if acct := e.Account(); !approx(acct.UsedMargin, full*0.75) {
		t.Errorf("account used = %v", acct.UsedMargin)
	}
}

func TestClosePositionAndConvert(t *testing.T) {
	e, _ := newTestEngine(500000)
	mustPlace(t, e, market(niftyCall, models.OrderSideBuy, models.ProductMIS, 2, 100))

	if err := e.ConvertPosition(niftyCall.SecurityID, models.ProductNRML); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if pos, _ := e.Position(niftyCall.SecurityID); pos.Product != models.ProductNRML {
		t.Errorf("product = %s", pos.Product)
	}

	e.OnTick(niftyCall.SecurityID, 110)
	o, err := e.ClosePosition(niftyCall.SecurityID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if o.Side != models.OrderSideSell || o.Quantity != 2 || o.AvgFillPrice != 110 {
		t.Errorf("unexpected close order: %+v", o)
	}
	if pos, _ := e.Position(niftyCall.SecurityID); pos.IsOpen() {
		t.Errorf("position still open: %+v", pos)
	}

	if _, err := e.ClosePosition(niftyCall.SecurityID); !errors.Is(err, errors.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestSquareOffIntraday(t *testing.T) {
	e, clock := newTestEngine(10000000)
	mustPlace(t, e, market(reliance, models.OrderSideBuy, models.ProductMIS, 10, 100))
	mustPlace(t, e, market(crudeFut, models.OrderSideSell, models.ProductMIS, 1, 6000))
	carry := models.Instrument{SecurityID: "1333", Symbol: "HDFCBANK", Segment: models.SegmentNSEEquity, Exchange: models.NSE}
	mustPlace(t, e, market(carry, models.OrderSideBuy, models.ProductCNC, 5, 1600))

	clock.Set(15, 14, 0)
	if out := e.SquareOffIntraday(clock.Now()); len(out) != 0 {
		t.Fatalf("square-off ran early: %+v", out)
	}

	clock.Set(15, 15, 20)
	out := e.SquareOffIntraday(clock.Now())
	if len(out) != 1 || out[0].SecurityID != reliance.SecurityID {
		t.Fatalf("expected only the NSE MIS position closed, got %+v", out)
	}
	if pos, _ := e.Position(reliance.SecurityID); pos.IsOpen() {
		t.Error("equity MIS still open")
	}

	clock.Set(15, 23, 20)
	out = e.SquareOffIntraday(clock.Now())
	if len(out) != 1 || out[0].SecurityID != crudeFut.SecurityID || out[0].Side != models.OrderSideBuy {
		t.Fatalf("expected MCX short closed, got %+v", out)
	}
	if pos, _ := e.Position(carry.SecurityID); !pos.IsOpen() {
		t.Error("CNC position must not be squared off")
	}
}

func TestSettlement(t *testing.T) {
	e, clock := newTestEngine(1000000)

	mustPlace(t, e, market(reliance, models.OrderSideBuy, models.ProductMIS, 10, 100))
	mustPlace(t, e, market(reliance, models.OrderSideSell, models.ProductMIS, 10, 110))
	mustPlace(t, e, market(niftyCall, models.OrderSideBuy, models.ProductMIS, 1, 100))
	mustPlace(t, e, market(crudeFut, models.OrderSideBuy, models.ProductNRML, 1, 6000))

	charges := e.Trades()[0].Charges
	before := e.Account()

	clock.Set(16, 5, 0)
	if _, ran := e.RunSettlement(clock.Now()); ran {
		t.Fatal("settlement ran before cutoff")
	}

	clock.Set(16, 7, 0)
	res, ran := e.RunSettlement(clock.Now())
	if !ran {
		t.Fatal("settlement did not run")
	}
	if res.TradesSettled != 1 || !approx(res.Charges, charges) {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.PositionsRemoved != 2 || !approx(res.MarginReleased, 5000) {
		t.Errorf("unexpected removal: %+v", res)
	}

	acct := e.Account()
	if !approx(acct.TotalCapital, before.TotalCapital-charges) {
		t.Errorf("capital = %v, want %v", acct.TotalCapital, before.TotalCapital-charges)
	}
	if !approx(acct.UsedMargin, before.UsedMargin-5000) {
		t.Errorf("used = %v", acct.UsedMargin)
	}
	if positions := e.Positions(); len(positions) != 1 || positions[0].SecurityID != crudeFut.SecurityID {
		t.Errorf("unexpected remaining positions: %+v", positions)
	}
	if !e.Trades()[0].Settled {
		t.Error("trade not marked settled")
	}
	if e.LastSettlementDate() != "2025-01-16" {
		t.Errorf("last settlement = %s", e.LastSettlementDate())
	}

	clock.Set(16, 9, 0)
	if _, ran := e.RunSettlement(clock.Now()); ran {
		t.Error("settlement ran twice on one day")
	}
}

func TestSettlementSkipsTodaysTrades(t *testing.T) {
	e, clock := newTestEngine(1000000)
	clock.Set(16, 9, 30)
	mustPlace(t, e, market(reliance, models.OrderSideBuy, models.ProductCNC, 10, 100))
	mustPlace(t, e, market(reliance, models.OrderSideSell, models.ProductCNC, 10, 105))

	res, ran := e.RunSettlement(clock.Now())
	if !ran || res.TradesSettled != 0 || res.Charges != 0 {
		t.Fatalf("unexpected result: %+v ran=%v", res, ran)
	}

	clock.Set(20, 8, 0)
	res, _ = e.RunSettlement(clock.Now())
	if res.TradesSettled != 1 {
		t.Errorf("trade from an earlier day not settled after a gap: %+v", res)
	}
}

func TestBasketEstimateAndPlace(t *testing.T) {
	e, _ := newTestEngine(500000)
	items := []OrderRequest{
		market(reliance, models.OrderSideBuy, models.ProductMIS, 10, 100),
		market(niftyCall, models.OrderSideBuy, models.ProductNRML, 1, 100),
	}

	est, err := e.EstimateBasket(items)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !approx(est.TotalRequired, 200+5000) || !est.Sufficient || len(est.Items) != 2 {
		t.Errorf("unexpected estimate: %+v", est)
	}

	orders, err := e.PlaceBasket(items)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(orders) != 2 || orders[0].Status != models.OrderStatusExecuted || orders[1].Status != models.OrderStatusExecuted {
		t.Errorf("unexpected orders: %+v", orders)
	}

	bad := append(items, market(reliance, models.OrderSideBuy, models.ProductMIS, 0, 100))
	if _, err := e.EstimateBasket(bad); !errors.Is(err, errors.ErrInvalidOrder) {
		t.Errorf("expected invalid basket, got %v", err)
	}
}

func TestFundsAndReset(t *testing.T) {
	e, _ := newTestEngine(500000)
	if err := e.AddFunds(-1); !errors.Is(err, errors.ErrInvalidOrder) {
		t.Errorf("expected validation error, got %v", err)
	}
	if err := e.AddFunds(25000); err != nil {
		t.Fatalf("add funds: %v", err)
	}
	if acct := e.Account(); acct.TotalCapital != 525000 || acct.AvailableMargin != 525000 {
		t.Errorf("unexpected account: %+v", acct)
	}

	mustPlace(t, e, market(reliance, models.OrderSideBuy, models.ProductMIS, 10, 100))
	e.Reset(0)
	if acct := e.Account(); acct.TotalCapital != 500000 || acct.UsedMargin != 0 {
		t.Errorf("reset account: %+v", acct)
	}
	if len(e.Orders()) != 0 || len(e.Positions()) != 0 || len(e.Trades()) != 0 {
		t.Error("reset left history behind")
	}
}

func TestWatchlistUpdates(t *testing.T) {
	e, _ := newTestEngine(500000)
	added, err := e.AddToWatchlist(reliance)
	if err != nil || !added {
		t.Fatalf("add: %v %v", added, err)
	}
	if again, _ := e.AddToWatchlist(reliance); again {
		t.Error("duplicate add reported true")
	}

	e.OnPriceUpdates([]models.PriceUpdate{
		{Type: models.PacketPrevClose, SecurityID: reliance.SecurityID, Segment: models.SegmentNSEEquity, Fields: models.FieldPrevClose, PrevClose: 200},
		{Type: models.PacketQuote, SecurityID: reliance.SecurityID, Segment: models.SegmentNSEEquity,
			Fields: models.FieldLTP | models.FieldVolume | models.FieldHigh, LTP: 210, Volume: 1000, High: 212},
	})

	w := e.Watchlist()
	if len(w) != 1 {
		t.Fatalf("watchlist = %+v", w)
	}
	if w[0].LTP != 210 || w[0].Change != 10 || !approx(w[0].ChangePercent, 5) || w[0].Volume != 1000 || w[0].High != 212 {
		t.Errorf("unexpected item: %+v", w[0])
	}

	if got := e.FeedInstruments(); len(got) != 1 || got[0].SecurityID != reliance.SecurityID {
		t.Errorf("feed instruments = %+v", got)
	}
	if !e.RemoveFromWatchlist(reliance.SecurityID) || len(e.Watchlist()) != 0 {
		t.Error("remove failed")
	}
}

func TestSnapshotRestore(t *testing.T) {
	e, _ := newTestEngine(500000)
	mustPlace(t, e, market(reliance, models.OrderSideBuy, models.ProductCNC, 10, 100))
	mustPlace(t, e, OrderRequest{
		Instrument: reliance, Side: models.OrderSideSell, Type: models.OrderTypeLimit,
		Product: models.ProductCNC, Quantity: 10, Price: 120,
	})
	mustPlace(t, e, market(niftyCall, models.OrderSideBuy, models.ProductNRML, 1, 100))
	mustPlace(t, e, market(niftyCall, models.OrderSideSell, models.ProductNRML, 1, 90))
	state := e.Snapshot()

	restored, _ := newTestEngine(1)
	if err := restored.Restore(state); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Account() != e.Account() {
		t.Errorf("account differs: %+v vs %+v", restored.Account(), e.Account())
	}
	if len(restored.Orders()) != 4 || len(restored.Positions()) != 2 || len(restored.Trades()) != 1 {
		t.Error("history not restored")
	}

	restored.OnTick(reliance.SecurityID, 121)
	if pos, _ := restored.Position(reliance.SecurityID); pos.IsOpen() {
		t.Errorf("restored open order did not execute: %+v", pos)
	}

	state.Orders = append(state.Orders, state.Orders[0])
	if err := restored.Restore(state); err == nil {
		t.Error("expected duplicate order id to fail")
	}
}

func TestListenersRunOutsideLock(t *testing.T) {
	e, _ := newTestEngine(500000)
	var types []EventType
	e.Subscribe(func(ev Event) {
		types = append(types, ev.Type)
		_ = e.Account()
	})

	mustPlace(t, e, market(reliance, models.OrderSideBuy, models.ProductMIS, 1, 100))
	mustPlace(t, e, market(reliance, models.OrderSideSell, models.ProductMIS, 1, 101))

	var sawTrade bool
	for _, ty := range types {
		if ty == EventTradeLogged {
			sawTrade = true
		}
	}
	if !sawTrade || len(types) < 4 {
		t.Errorf("unexpected events: %v", types)
	}
}
