package execution

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-core/internal/events"
	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

type fakeMarket struct {
	bars map[string]types.Bar
}

func (m *fakeMarket) CurrentBar(symbol string) (types.Bar, bool) {
	b, ok := m.bars[symbol]
	return b, ok
}

func collectFills(bus *events.Bus) *[]types.Fill {
	fills := &[]types.Fill{}
	bus.Register(events.KindFill, 0, func(e events.Event) {
		*fills = append(*fills, e.(*events.FillEvent).Fill)
	})
	return fills
}

func TestBrokerFillsMarketOrderAtBarClose(t *testing.T) {
	bus := events.New(nil)
	fills := collectFills(bus)
	market := &fakeMarket{bars: map[string]types.Bar{
		"AAA": {Symbol: "AAA", Timestamp: time.Now(), Close: decimal.NewFromInt(100)},
	}}
	b := NewBroker(nil, types.BrokerSection{CommissionType: types.CommissionPercentage, CommissionRate: decimal.NewFromFloat(0.001)}, market)
	b.Attach(bus, 0)

	bus.Emit(&events.OrderEvent{Order: types.Order{ID: "o1", Symbol: "AAA", Side: types.OrderSideBuy, Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(10)}})

	if len(*fills) != 1 {
		t.Fatalf("expected one fill, got %d", len(*fills))
	}
	f := (*fills)[0]
	if !f.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected fill at the bar close of 100, got %s", f.Price)
	}
	wantCommission := decimal.NewFromInt(10).Mul(decimal.NewFromInt(100)).Mul(decimal.NewFromFloat(0.001))
	if !f.Commission.Equal(wantCommission) {
		t.Fatalf("expected commission %s, got %s", wantCommission, f.Commission)
	}
}

func TestBrokerAppliesPercentageSlippageAgainstTheTrader(t *testing.T) {
	bus := events.New(nil)
	fills := collectFills(bus)
	market := &fakeMarket{bars: map[string]types.Bar{
		"AAA": {Symbol: "AAA", Timestamp: time.Now(), Close: decimal.NewFromInt(100)},
	}}
	b := NewBroker(nil, types.BrokerSection{SlippageType: types.SlippagePercentage, SlippageAmount: decimal.NewFromFloat(0.01)}, market)
	b.Attach(bus, 0)

	bus.Emit(&events.OrderEvent{Order: types.Order{ID: "buy", Symbol: "AAA", Side: types.OrderSideBuy, Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1)}})
	bus.Emit(&events.OrderEvent{Order: types.Order{ID: "sell", Symbol: "AAA", Side: types.OrderSideSell, Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1)}})

	if len(*fills) != 2 {
		t.Fatalf("expected two fills, got %d", len(*fills))
	}
	buyFill, sellFill := (*fills)[0], (*fills)[1]
	if !buyFill.Price.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("expected the buy to pay slippage-up to 101, got %s", buyFill.Price)
	}
	if !sellFill.Price.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected the sell to receive slippage-down to 99, got %s", sellFill.Price)
	}
}

func TestBrokerQueuesOrderWithoutACurrentBar(t *testing.T) {
	bus := events.New(nil)
	fills := collectFills(bus)
	market := &fakeMarket{bars: map[string]types.Bar{}}
	b := NewBroker(nil, types.BrokerSection{}, market)
	b.Attach(bus, 0)

	bus.Emit(&events.OrderEvent{Order: types.Order{ID: "o1", Symbol: "AAA", Side: types.OrderSideBuy, Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1)}})
	if len(*fills) != 0 {
		t.Fatalf("expected no fill before any bar has been observed, got %d", len(*fills))
	}

	bus.Emit(&events.BarEvent{Bar: types.Bar{Symbol: "AAA", Timestamp: time.Now(), Close: decimal.NewFromInt(50)}})
	if len(*fills) != 1 {
		t.Fatalf("expected the queued order to fill on the next bar, got %d", len(*fills))
	}
}

func TestBrokerFillDelayBarsQueuesUntilElapsed(t *testing.T) {
	bus := events.New(nil)
	fills := collectFills(bus)
	market := &fakeMarket{bars: map[string]types.Bar{
		"AAA": {Symbol: "AAA", Timestamp: time.Now(), Close: decimal.NewFromInt(100)},
	}}
	b := NewBroker(nil, types.BrokerSection{FillDelayBars: 2}, market)
	b.Attach(bus, 0)

	bus.Emit(&events.OrderEvent{Order: types.Order{ID: "o1", Symbol: "AAA", Side: types.OrderSideBuy, Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1)}})
	if len(*fills) != 0 {
		t.Fatalf("expected the order to be delayed, got %d fills immediately", len(*fills))
	}

	bus.Emit(&events.BarEvent{Bar: types.Bar{Symbol: "AAA", Timestamp: time.Now(), Close: decimal.NewFromInt(101)}})
	if len(*fills) != 0 {
		t.Fatalf("expected one bar of delay to not yet satisfy a 2-bar delay, got %d fills", len(*fills))
	}

	bus.Emit(&events.BarEvent{Bar: types.Bar{Symbol: "AAA", Timestamp: time.Now(), Close: decimal.NewFromInt(102)}})
	if len(*fills) != 1 {
		t.Fatalf("expected the order to fill after 2 bars of delay, got %d fills", len(*fills))
	}
}

func TestBrokerLimitOrderWaitsForPriceCross(t *testing.T) {
	bus := events.New(nil)
	fills := collectFills(bus)
	market := &fakeMarket{bars: map[string]types.Bar{
		"AAA": {Symbol: "AAA", Timestamp: time.Now(), Open: decimal.NewFromInt(100), High: decimal.NewFromInt(101), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(100)},
	}}
	b := NewBroker(nil, types.BrokerSection{}, market)
	b.Attach(bus, 0)

	bus.Emit(&events.OrderEvent{Order: types.Order{ID: "o1", Symbol: "AAA", Side: types.OrderSideBuy, Type: types.OrderTypeLimit, LimitPrice: decimal.NewFromInt(95), Quantity: decimal.NewFromInt(1)}})
	if len(*fills) != 0 {
		t.Fatalf("expected the limit order not to cross this bar's low of 99, got %d fills", len(*fills))
	}

	bus.Emit(&events.BarEvent{Bar: types.Bar{Symbol: "AAA", Timestamp: time.Now(), Open: decimal.NewFromInt(96), High: decimal.NewFromInt(97), Low: decimal.NewFromInt(94), Close: decimal.NewFromInt(95)}})
	if len(*fills) != 1 {
		t.Fatalf("expected the limit order to fill once the bar's low reaches the limit price, got %d fills", len(*fills))
	}
}

func TestBrokerResetClearsPendingOrders(t *testing.T) {
	bus := events.New(nil)
	fills := collectFills(bus)
	market := &fakeMarket{bars: map[string]types.Bar{}}
	b := NewBroker(nil, types.BrokerSection{}, market)
	b.Attach(bus, 0)

	bus.Emit(&events.OrderEvent{Order: types.Order{ID: "o1", Symbol: "AAA", Side: types.OrderSideBuy, Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1)}})
	b.Reset()
	bus.Emit(&events.BarEvent{Bar: types.Bar{Symbol: "AAA", Timestamp: time.Now(), Close: decimal.NewFromInt(50)}})

	if len(*fills) != 0 {
		t.Fatalf("expected Reset to drop the pending order, got %d fills", len(*fills))
	}
}
