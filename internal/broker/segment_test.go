package broker

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"paper-trader/internal/models"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name string
		inst models.Instrument
		want InstrumentClass
	}{
		{"nse equity", models.Instrument{Symbol: "INFY", Segment: models.SegmentNSEEquity}, ClassEquity},
		{"bse equity", models.Instrument{Symbol: "TCS", Segment: models.SegmentBSEEquity}, ClassEquity},
		{"spot index", models.Instrument{Symbol: "NIFTY", Segment: models.SegmentIndex}, ClassIndex},
		{"index option", models.Instrument{Symbol: "NIFTY 25 JAN 24000 CALL", Segment: models.SegmentNSEFNO}, ClassIndexOption},
		{"index future", models.Instrument{Symbol: "BANKNIFTY-Jan2025-FUT", Segment: models.SegmentNSEFNO}, ClassIndexFuture},
		{"stock future", models.Instrument{Symbol: "RELIANCE-Jan2025-FUT", Segment: models.SegmentNSEFNO}, ClassStockFuture},
		{"stock option", models.Instrument{Symbol: "RELIANCE-Jan2025-1300-CE", Segment: models.SegmentNSEFNO}, ClassStockOption},
		{"commodity future", models.Instrument{Symbol: "CRUDEOIL-Jan2025-FUT", Segment: models.SegmentMCXComm}, ClassCommodityFuture},
		{"commodity option", models.Instrument{Symbol: "CRUDEOIL-Jan2025-6000-PE", Segment: models.SegmentMCXComm}, ClassCommodityOption},
		{"currency", models.Instrument{Symbol: "USDINR", Segment: models.SegmentNSECurrency}, ClassCurrency},
		{"type code wins", models.Instrument{Symbol: "NIFTY", Segment: models.SegmentNSEFNO, InstrumentType: "futidx"}, ClassIndexFuture},
		{"unknown segment", models.Instrument{Symbol: "X", Segment: "OTC"}, ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.inst); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLotSize(t *testing.T) {
	c := NewClassifier(map[string]int{"nifty": 75, "BAD": 0})

	tests := []struct {
		name string
		inst models.Instrument
		want int
	}{
		{"equity is always one", models.Instrument{Symbol: "INFY", Segment: models.SegmentNSEEquity, LotSize: 50}, 1},
		{"explicit lot size", models.Instrument{Symbol: "NIFTY-FUT", Segment: models.SegmentNSEFNO, LotSize: 25}, 25},
		{"override", models.Instrument{Symbol: "NIFTY 25 JAN 24000 CALL", Segment: models.SegmentNSEFNO}, 75},
		{"longest key first", models.Instrument{Symbol: "BANKNIFTY 25 JAN 50000 PUT", Segment: models.SegmentNSEFNO}, 30},
		{"mini contract", models.Instrument{Symbol: "GOLDM-FEB2025-FUT", Segment: models.SegmentMCXComm}, 10},
		{"unknown derivative", models.Instrument{Symbol: "XYZ-FUT", Segment: models.SegmentNSEFNO}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.LotSize(tt.inst); got != tt.want {
				t.Errorf("LotSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRootSymbol(t *testing.T) {
	for in, want := range map[string]string{
		"NIFTY 25 JAN 24000 CALL": "NIFTY",
		"nifty-Jan2025-24000-CE":  "NIFTY",
		" INFY ":                  "INFY",
	} {
		if got := RootSymbol(in); got != want {
			t.Errorf("RootSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnitsDoNotWrap(t *testing.T) {
	c := NewClassifier(nil)
	inst := models.Instrument{Symbol: "NIFTY 25 JAN 24000 CALL", Segment: models.SegmentNSEFNO, LotSize: 50}

	qty := math.MaxInt64/50 + 1
	if got := c.Units(inst, qty); got <= 0 || got < float64(math.MaxInt64) {
		t.Errorf("Units(%d lots) = %v, want above MaxInt64", qty, got)
	}
}

// Property: derivative quantities are lots, so units are quantity times
// the lot size; anything else trades one unit per share.
func TestProperty_UnitsFollowLotSize(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	c := NewClassifier(nil)

	instruments := []models.Instrument{
		{Symbol: "INFY", Segment: models.SegmentNSEEquity},
		{Symbol: "NIFTY 25 JAN 24000 CALL", Segment: models.SegmentNSEFNO},
		{Symbol: "CRUDEOIL-Jan2025-FUT", Segment: models.SegmentMCXComm},
		{Symbol: "RELIANCE-Jan2025-FUT", Segment: models.SegmentNSEFNO, LotSize: 500},
	}

	properties.Property("units equal quantity times lot size", prop.ForAll(
		func(idx, qty int) bool {
			inst := instruments[idx]
			units := c.Units(inst, qty)
			if c.Classify(inst).IsDerivative() {
				return units == float64(qty)*float64(c.LotSize(inst))
			}
			return units == float64(qty)
		},
		gen.IntRange(0, len(instruments)-1),
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}
