package execution

import (
	"math/rand"

	"github.com/atlas-desktop/backtest-core/internal/events"
	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketView is the slice of the data handler the broker needs to price a
// fill against the bar that was active when the order arrived.
type MarketView interface {
	CurrentBar(symbol string) (types.Bar, bool)
}

type pendingOrder struct {
	order      types.Order
	barsWaited int
}

// Broker simulates order execution against the replayed bar stream with
// configurable slippage, commission, and fill delay.
type Broker struct {
	logger *zap.Logger
	cfg    types.BrokerSection
	market MarketView
	rng    *rand.Rand // nil unless cfg.Seed is set; slippage is otherwise a pure function

	pending map[string][]*pendingOrder
}

// NewBroker constructs a Broker for cfg, reading current bars from market.
func NewBroker(logger *zap.Logger, cfg types.BrokerSection, market MarketView) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broker{logger: logger, cfg: cfg, market: market, pending: make(map[string][]*pendingOrder)}
	if cfg.Seed != nil {
		b.rng = rand.New(rand.NewSource(*cfg.Seed))
	}
	return b
}

// Attach registers the broker's Order and Bar handlers on bus at priority.
func (b *Broker) Attach(bus *events.Bus, priority int) {
	bus.Register(events.KindOrder, priority, func(e events.Event) {
		oe, ok := e.(*events.OrderEvent)
		if !ok {
			return
		}
		b.onOrder(bus, oe.Order)
	})
	bus.Register(events.KindBar, priority, func(e events.Event) {
		be, ok := e.(*events.BarEvent)
		if !ok {
			return
		}
		b.onBar(bus, be.Bar)
	})
}

func (b *Broker) onOrder(bus *events.Bus, order types.Order) {
	bar, ok := b.market.CurrentBar(order.Symbol)
	if !ok {
		b.enqueue(order)
		return
	}
	if b.cfg.FillDelayBars > 0 {
		b.enqueue(order)
		return
	}
	if !b.tryFill(bus, order, bar) {
		b.enqueue(order)
	}
}

func (b *Broker) onBar(bus *events.Bus, bar types.Bar) {
	list := b.pending[bar.Symbol]
	if len(list) == 0 {
		return
	}
	remaining := list[:0]
	for _, p := range list {
		p.barsWaited++
		if p.barsWaited >= b.cfg.FillDelayBars && b.tryFill(bus, p.order, bar) {
			continue
		}
		remaining = append(remaining, p)
	}
	b.pending[bar.Symbol] = remaining
}

func (b *Broker) enqueue(order types.Order) {
	b.pending[order.Symbol] = append(b.pending[order.Symbol], &pendingOrder{order: order})
}

// tryFill attempts to execute order against bar, emitting a Fill event and
// returning true on success.
func (b *Broker) tryFill(bus *events.Bus, order types.Order, bar types.Bar) bool {
	var price decimal.Decimal
	switch order.Type {
	case types.OrderTypeMarket:
		price = bar.Close
	case types.OrderTypeLimit:
		crossed, p := limitCross(order, bar)
		if !crossed {
			return false
		}
		price = p
	case types.OrderTypeStop:
		crossed, p := stopCross(order, bar)
		if !crossed {
			return false
		}
		price = p
	default:
		return false
	}

	price = b.applySlippage(price, order.Side)
	commission := b.commission(price, order.Quantity)

	bus.Emit(&events.FillEvent{Fill: types.Fill{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      price,
		Commission: commission,
		Timestamp:  bar.Timestamp,
		RuleID:     order.RuleID,
		StrategyID: order.StrategyID,
	}})
	return true
}

func limitCross(order types.Order, bar types.Bar) (bool, decimal.Decimal) {
	if order.Side == types.OrderSideBuy {
		if bar.Low.LessThanOrEqual(order.LimitPrice) {
			return true, decimal.Min(order.LimitPrice, bar.Open)
		}
		return false, decimal.Zero
	}
	if bar.High.GreaterThanOrEqual(order.LimitPrice) {
		return true, decimal.Max(order.LimitPrice, bar.Open)
	}
	return false, decimal.Zero
}

func stopCross(order types.Order, bar types.Bar) (bool, decimal.Decimal) {
	if order.Side == types.OrderSideBuy {
		if bar.High.GreaterThanOrEqual(order.StopPrice) {
			return true, order.StopPrice
		}
		return false, decimal.Zero
	}
	if bar.Low.LessThanOrEqual(order.StopPrice) {
		return true, order.StopPrice
	}
	return false, decimal.Zero
}

// applySlippage adjusts base against order side: a buy pays more, a sell
// receives less. Without a seed the adjustment is a pure function of
// configuration; with one, it is scaled by a deterministic seeded draw so
// repeated runs with the same seed and bar stream are byte-identical.
func (b *Broker) applySlippage(base decimal.Decimal, side types.OrderSide) decimal.Decimal {
	amount := b.cfg.SlippageAmount
	scale := decimal.NewFromInt(1)
	if b.rng != nil {
		scale = decimal.NewFromFloat(0.5 + b.rng.Float64())
	}

	var fraction decimal.Decimal
	switch b.cfg.SlippageType {
	case types.SlippageFixed:
		fraction = amount.Div(decimal.NewFromInt(10000)) // amount is basis points
	default: // percentage
		fraction = amount
	}
	fraction = fraction.Mul(scale)

	adjustment := base.Mul(fraction)
	if side == types.OrderSideBuy {
		return base.Add(adjustment)
	}
	return base.Sub(adjustment)
}

func (b *Broker) commission(price, qty decimal.Decimal) decimal.Decimal {
	switch b.cfg.CommissionType {
	case types.CommissionPerShare:
		return qty.Mul(b.cfg.CommissionRate)
	default: // percentage
		return qty.Mul(price).Mul(b.cfg.CommissionRate)
	}
}

// Reset clears any orders still waiting on a delayed or unmet limit/stop
// condition.
func (b *Broker) Reset() {
	b.pending = make(map[string][]*pendingOrder)
	if b.cfg.Seed != nil {
		b.rng = rand.New(rand.NewSource(*b.cfg.Seed))
	}
}
