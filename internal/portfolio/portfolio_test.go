package portfolio

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-core/internal/events"
	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func fill(symbol string, side types.OrderSide, qty, price float64, at time.Time) types.Fill {
	return types.Fill{Symbol: symbol, Side: side, Quantity: d(qty), Price: d(price), Timestamp: at}
}

func TestOpeningFillFromFlatSetsCostBasis(t *testing.T) {
	p := New(nil, d(10000))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.onFill(fill("AAA", types.OrderSideBuy, 10, 100, at))

	if !p.Position("AAA").Equal(d(10)) {
		t.Fatalf("expected position 10, got %s", p.Position("AAA"))
	}
	pos := p.positions["AAA"]
	if !pos.CostBasis.Equal(d(100)) {
		t.Fatalf("expected cost basis 100, got %s", pos.CostBasis)
	}
	wantCash := d(10000).Sub(d(1000))
	if !p.Cash().Equal(wantCash) {
		t.Fatalf("expected cash %s, got %s", wantCash, p.Cash())
	}
	if len(p.Trades()) != 0 {
		t.Fatalf("expected no trade recorded on an opening fill, got %d", len(p.Trades()))
	}
}

func TestAddingToSameSideUpdatesWeightedAverageCostBasis(t *testing.T) {
	p := New(nil, d(100000))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.onFill(fill("AAA", types.OrderSideBuy, 10, 100, at))
	p.onFill(fill("AAA", types.OrderSideBuy, 10, 110, at.Add(time.Hour)))

	pos := p.positions["AAA"]
	// (10*100 + 10*110) / 20 = 105
	if !pos.CostBasis.Equal(d(105)) {
		t.Fatalf("expected weighted average cost basis 105, got %s", pos.CostBasis)
	}
	if !pos.Quantity.Equal(d(20)) {
		t.Fatalf("expected quantity 20, got %s", pos.Quantity)
	}
}

func TestReducingWithoutCrossingZeroRecordsTrade(t *testing.T) {
	p := New(nil, d(100000))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.onFill(fill("AAA", types.OrderSideBuy, 10, 100, at))
	p.onFill(fill("AAA", types.OrderSideSell, 4, 110, at.Add(time.Hour)))

	if !p.Position("AAA").Equal(d(6)) {
		t.Fatalf("expected remaining position 6, got %s", p.Position("AAA"))
	}
	if len(p.Trades()) != 1 {
		t.Fatalf("expected one trade recorded, got %d", len(p.Trades()))
	}
	tr := p.Trades()[0]
	wantPnL := d(4).Mul(d(110).Sub(d(100)))
	if !tr.RealizedPnL.Equal(wantPnL) {
		t.Fatalf("expected realized P&L %s, got %s", wantPnL, tr.RealizedPnL)
	}
	if tr.EntrySide != types.OrderSideBuy {
		t.Fatalf("expected entry side buy, got %s", tr.EntrySide)
	}
	pos := p.positions["AAA"]
	if !pos.CostBasis.Equal(d(100)) {
		t.Fatalf("expected cost basis to remain 100 after a partial close, got %s", pos.CostBasis)
	}
}

func TestClosingExactlyToFlatRetainsZeroPosition(t *testing.T) {
	p := New(nil, d(100000))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.onFill(fill("AAA", types.OrderSideBuy, 10, 100, at))
	p.onFill(fill("AAA", types.OrderSideSell, 10, 110, at.Add(time.Hour)))

	if !p.Position("AAA").IsZero() {
		t.Fatalf("expected a flat position, got %s", p.Position("AAA"))
	}
	if _, ok := p.positions["AAA"]; !ok {
		t.Fatal("expected the zero-quantity position to be retained, not deleted")
	}
	if len(p.Trades()) != 1 {
		t.Fatalf("expected one trade recorded, got %d", len(p.Trades()))
	}
}

func TestCrossingThroughZeroSplitsIntoCloseAndOpen(t *testing.T) {
	p := New(nil, d(100000))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.onFill(fill("AAA", types.OrderSideBuy, 10, 100, at))
	p.onFill(fill("AAA", types.OrderSideSell, 15, 110, at.Add(time.Hour)))

	if !p.Position("AAA").Equal(d(-5)) {
		t.Fatalf("expected a new short position of -5, got %s", p.Position("AAA"))
	}
	if len(p.Trades()) != 1 {
		t.Fatalf("expected one closing trade recorded for the long leg, got %d", len(p.Trades()))
	}
	tr := p.Trades()[0]
	wantPnL := d(10).Mul(d(110).Sub(d(100)))
	if !tr.RealizedPnL.Equal(wantPnL) {
		t.Fatalf("expected the closing leg's P&L on 10 shares, got %s want %s", tr.RealizedPnL, wantPnL)
	}
	pos := p.positions["AAA"]
	if !pos.CostBasis.Equal(d(110)) {
		t.Fatalf("expected the new short leg's cost basis to be the fill price 110, got %s", pos.CostBasis)
	}
}

func TestMarkToMarketUpdatesEquityCurve(t *testing.T) {
	p := New(nil, d(10000))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.onFill(fill("AAA", types.OrderSideBuy, 10, 100, at))

	p.onMarkToMarket(at.Add(time.Hour), map[string]types.Bar{
		"AAA": {Symbol: "AAA", Close: d(120)},
	})

	eq := p.EquityCurve()
	last := eq[len(eq)-1]
	wantEquity := d(10000).Sub(d(1000)).Add(d(1200)) // cash after buy + market value at 120/share
	if !last.TotalEquity.Equal(wantEquity) {
		t.Fatalf("expected total equity %s, got %s", wantEquity, last.TotalEquity)
	}
	if p.Err() != nil {
		t.Fatalf("expected no invariant violation, got %v", p.Err())
	}
}

func TestBacktestEndEmitsClosingOrderForOpenPosition(t *testing.T) {
	bus := events.New(nil)
	p := New(nil, d(10000))
	p.Attach(bus, 0)

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.Emit(&events.FillEvent{Fill: fill("AAA", types.OrderSideBuy, 10, 100, at)})

	var orders []types.Order
	bus.Register(events.KindOrder, 0, func(e events.Event) {
		orders = append(orders, e.(*events.OrderEvent).Order)
	})

	bus.Emit(&events.BacktestEndEvent{At: at.Add(time.Hour)})

	if len(orders) != 1 {
		t.Fatalf("expected one synthetic closing order, got %d", len(orders))
	}
	if orders[0].Side != types.OrderSideSell || !orders[0].Quantity.Equal(d(10)) {
		t.Fatalf("expected a sell-10 closing order, got %+v", orders[0])
	}
}

// TestFillCarriesRuleAndStrategyIDOntoTrade guards against regressing to a
// side channel keyed by a separately dispatched Order event: the broker
// copies RuleID/StrategyID from the order it fills directly onto the Fill,
// so the portfolio can record them on the resulting Trade with no
// dependency on handler registration order.
func TestFillCarriesRuleAndStrategyIDOntoTrade(t *testing.T) {
	p := New(nil, d(100000))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.onFill(fill("AAA", types.OrderSideBuy, 10, 100, at))

	closing := fill("AAA", types.OrderSideSell, 10, 110, at.Add(time.Hour))
	closing.RuleID = "rule-1"
	closing.StrategyID = "ma_crossover"
	p.onFill(closing)

	if len(p.Trades()) != 1 {
		t.Fatalf("expected one trade recorded, got %d", len(p.Trades()))
	}
	tr := p.Trades()[0]
	if tr.RuleID != "rule-1" {
		t.Fatalf("expected trade RuleID %q, got %q", "rule-1", tr.RuleID)
	}
	if tr.StrategyID != "ma_crossover" {
		t.Fatalf("expected trade StrategyID %q, got %q", "ma_crossover", tr.StrategyID)
	}
}

// TestFillNestedWithinOrderDispatchStillCarriesRuleID reproduces the
// Coordinator's real wiring: a higher-priority handler reacts to the Order
// event by nested-emitting the matching Fill before Portfolio's own
// lower-priority handlers ever run, the way Broker fills a market order
// same-bar. The Fill must already carry RuleID/StrategyID for the trade to
// be attributed correctly, since Portfolio never sees the Order event.
func TestFillNestedWithinOrderDispatchStillCarriesRuleID(t *testing.T) {
	bus := events.New(nil)
	p := New(nil, d(100000))
	p.Attach(bus, 10) // lowest priority, like the real coordinator wiring

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.onFill(fill("AAA", types.OrderSideBuy, 10, 100, at))

	bus.Register(events.KindOrder, 20, func(e events.Event) {
		oe := e.(*events.OrderEvent)
		bus.Emit(&events.FillEvent{Fill: types.Fill{
			OrderID:    oe.Order.ID,
			Symbol:     oe.Order.Symbol,
			Side:       oe.Order.Side,
			Quantity:   oe.Order.Quantity,
			Price:      d(110),
			Timestamp:  at.Add(time.Hour),
			RuleID:     oe.Order.RuleID,
			StrategyID: oe.Order.StrategyID,
		}})
	})

	bus.Emit(&events.OrderEvent{Order: types.Order{
		ID: "o1", Symbol: "AAA", Side: types.OrderSideSell, Quantity: d(10),
		RuleID: "rule-1", StrategyID: "ma_crossover",
	}})

	if len(p.Trades()) != 1 {
		t.Fatalf("expected one trade recorded from the nested fill, got %d", len(p.Trades()))
	}
	tr := p.Trades()[0]
	if tr.RuleID != "rule-1" || tr.StrategyID != "ma_crossover" {
		t.Fatalf("expected the trade to carry the order's RuleID/StrategyID, got %+v", tr)
	}
}

func TestResetRestoresInitialCapital(t *testing.T) {
	p := New(nil, d(10000))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.onFill(fill("AAA", types.OrderSideBuy, 10, 100, at))

	p.Reset()

	if !p.Cash().Equal(d(10000)) {
		t.Fatalf("expected cash reset to initial capital, got %s", p.Cash())
	}
	if !p.Position("AAA").IsZero() {
		t.Fatalf("expected positions cleared after Reset, got %s", p.Position("AAA"))
	}
	if len(p.Trades()) != 0 {
		t.Fatal("expected trades cleared after Reset")
	}
	if len(p.EquityCurve()) != 0 {
		t.Fatal("expected equity curve cleared after Reset")
	}
}
