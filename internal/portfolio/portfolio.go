// Package portfolio is the single source of truth for positions, cash,
// realized P&L, the equity curve, and the trade ledger.
package portfolio

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/backtest-core/internal/events"
	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var tolerance = decimal.NewFromFloat(1e-6)

// Portfolio owns positions, cash, trades, and the equity curve for one
// backtest run.
type Portfolio struct {
	logger *zap.Logger

	initialCapital  decimal.Decimal
	cash            decimal.Decimal
	positions       map[string]*types.Position
	trades          []types.Trade
	equityCurve     []types.EquityCurvePoint
	peakEquity      decimal.Decimal
	// totalCommission sums the commissions not already deducted from a
	// position's RealizedPnL (opening fills and opening legs).
	totalCommission decimal.Decimal

	invariantErr error
}

// New constructs a Portfolio starting at initialCapital.
func New(logger *zap.Logger, initialCapital decimal.Decimal) *Portfolio {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Portfolio{
		logger:         logger,
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*types.Position),
		peakEquity:     initialCapital,
	}
}

// Attach registers the portfolio's Fill, MarkToMarket, and BacktestEnd
// handlers on bus at priority, the lowest priority in the dispatch chain
// since the portfolio is the final collaborator for every event it
// consumes. RuleID/StrategyID reach the portfolio on the Fill itself
// (Broker copies them from the order it filled) rather than through a
// side channel keyed by an Order event this priority would see too late:
// Broker's own Order handler runs before Portfolio's and nested-emits the
// matching Fill the instant a market order fills same-bar.
func (p *Portfolio) Attach(bus *events.Bus, priority int) {
	bus.Register(events.KindFill, priority, func(e events.Event) {
		fe, ok := e.(*events.FillEvent)
		if !ok {
			return
		}
		p.onFill(fe.Fill)
	})
	bus.Register(events.KindMarkToMarket, priority, func(e events.Event) {
		me, ok := e.(*events.MarkToMarketEvent)
		if !ok {
			return
		}
		p.onMarkToMarket(me.At, me.Prices)
	})
	bus.Register(events.KindBacktestEnd, priority, func(e events.Event) {
		be, ok := e.(*events.BacktestEndEvent)
		if !ok {
			return
		}
		p.onBacktestEnd(bus, be.At)
	})
}

func (p *Portfolio) positionFor(symbol string) *types.Position {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &types.Position{Symbol: symbol}
		p.positions[symbol] = pos
	}
	return pos
}

func (p *Portfolio) onFill(fill types.Fill) {
	pos := p.positionFor(fill.Symbol)

	dq := fill.Quantity
	if fill.Side == types.OrderSideSell {
		dq = dq.Neg()
	}
	q0 := pos.Quantity
	q1 := q0.Add(dq)

	p.cash = p.cash.Sub(dq.Mul(fill.Price)).Sub(fill.Commission)
	pos.LastPrice = fill.Price

	switch {
	case q0.IsZero() || sameSign(q0, dq):
		p.totalCommission = p.totalCommission.Add(fill.Commission)
		if q1.IsZero() {
			// fully closed via an exact offset of equal magnitude; cost basis
			// is meaningless on a flat position, leave it as-is.
		} else {
			pos.CostBasis = q0.Mul(pos.CostBasis).Add(dq.Mul(fill.Price)).Div(q1)
		}
		if q0.IsZero() {
			pos.OpenedAt = fill.Timestamp
		}
		pos.Quantity = q1

	case dq.Abs().LessThanOrEqual(q0.Abs()):
		closedQty := dq.Abs()
		pnl := closedQty.Mul(fill.Price.Sub(pos.CostBasis)).Mul(decimal.NewFromInt(int64(signOf(q0)))).Sub(fill.Commission)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.Quantity = q1
		p.appendTrade(pos, fill, entrySideFor(q0), closedQty, fill.Price, fill.Timestamp, pnl)

	default:
		closingQty := q0.Abs()
		openingQty := dq.Abs().Sub(closingQty)
		closingCommission := fill.Commission.Mul(closingQty).Div(dq.Abs())
		openingCommission := fill.Commission.Sub(closingCommission)
		// the opening leg's commission is not part of the new cost basis
		// (fill.Price); it is tracked in totalCommission like any opening fill's.
		p.totalCommission = p.totalCommission.Add(openingCommission)

		pnl := closingQty.Mul(fill.Price.Sub(pos.CostBasis)).Mul(decimal.NewFromInt(int64(signOf(q0)))).Sub(closingCommission)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		p.appendTrade(pos, fill, entrySideFor(q0), closingQty, fill.Price, fill.Timestamp, pnl)

		pos.CostBasis = fill.Price
		pos.Quantity = q1
		pos.OpenedAt = fill.Timestamp
		_ = openingQty
	}

	p.markEquity(fill.Timestamp)
	p.checkInvariants()
}

func (p *Portfolio) appendTrade(pos *types.Position, fill types.Fill, entrySide types.OrderSide, qty, exitPrice decimal.Decimal, exitTime time.Time, pnl decimal.Decimal) {
	p.trades = append(p.trades, types.Trade{
		Symbol:      pos.Symbol,
		EntrySide:   entrySide,
		EntryTime:   pos.OpenedAt,
		EntryPrice:  pos.CostBasis,
		ExitTime:    exitTime,
		ExitPrice:   exitPrice,
		Quantity:    qty,
		RealizedPnL: pnl,
		RuleID:      fill.RuleID,
		StrategyID:  fill.StrategyID,
	})
}

func (p *Portfolio) onMarkToMarket(at time.Time, prices map[string]types.Bar) {
	for symbol, bar := range prices {
		if pos, ok := p.positions[symbol]; ok {
			pos.LastPrice = bar.Close
		}
	}
	p.markEquity(at)
	p.checkInvariants()
}

func (p *Portfolio) onBacktestEnd(bus *events.Bus, at time.Time) {
	for symbol, pos := range p.positions {
		if pos.Quantity.IsZero() {
			continue
		}
		side := types.OrderSideSell
		if pos.Quantity.LessThan(decimal.Zero) {
			side = types.OrderSideBuy
		}
		order := types.Order{
			Symbol:    symbol,
			Side:      side,
			Type:      types.OrderTypeMarket,
			Quantity:  pos.Quantity.Abs(),
			RuleID:    fmt.Sprintf("backtest_end_%s", symbol),
			CreatedAt: at,
			UpdatedAt: at,
			Status:    types.OrderStatusCreated,
		}
		bus.Emit(&events.OrderEvent{Order: order})
	}
	p.markEquity(at)
	p.checkInvariants()
}

func (p *Portfolio) markEquity(at time.Time) {
	mv := decimal.Zero
	for _, pos := range p.positions {
		mv = mv.Add(pos.Quantity.Mul(pos.LastPrice))
	}
	equity := p.cash.Add(mv)
	if equity.GreaterThan(p.peakEquity) {
		p.peakEquity = equity
	}
	drawdown := decimal.Zero
	if p.peakEquity.GreaterThan(decimal.Zero) {
		drawdown = p.peakEquity.Sub(equity).Div(p.peakEquity)
	}
	p.equityCurve = append(p.equityCurve, types.EquityCurvePoint{
		Timestamp:            at,
		Cash:                 p.cash,
		PositionsMarketValue: mv,
		TotalEquity:          equity,
		DrawdownFromPeak:     drawdown,
	})
}

// checkInvariants verifies the cash reconciliation identity from the
// portfolio's own bookkeeping; a violation is recorded for the coordinator
// to observe via Err and abort the run.
func (p *Portfolio) checkInvariants() {
	sumRealized := decimal.Zero
	sumUnrealized := decimal.Zero
	sumMV := decimal.Zero
	for _, pos := range p.positions {
		sumRealized = sumRealized.Add(pos.RealizedPnL)
		sumUnrealized = sumUnrealized.Add(pos.Quantity.Mul(pos.LastPrice.Sub(pos.CostBasis)))
		sumMV = sumMV.Add(pos.Quantity.Mul(pos.LastPrice))
	}

	lhs := p.cash.Add(sumMV)
	rhs := p.initialCapital.Add(sumRealized).Sub(p.totalCommission).Add(sumUnrealized)
	diff := lhs.Sub(rhs).Abs()
	tol := tolerance.Mul(p.initialCapital.Abs())
	if tol.IsZero() {
		tol = tolerance
	}
	if diff.GreaterThan(tol) {
		p.invariantErr = fmt.Errorf("portfolio: cash reconciliation violated: lhs=%s rhs=%s diff=%s", lhs, rhs, diff)
		p.logger.Error("portfolio invariant violation", zap.String("diff", diff.String()))
	}
}

// Err returns the last recorded invariant violation, if any.
func (p *Portfolio) Err() error { return p.invariantErr }

// Position returns the signed quantity currently held for symbol, zero if
// none.
func (p *Portfolio) Position(symbol string) decimal.Decimal {
	if pos, ok := p.positions[symbol]; ok {
		return pos.Quantity
	}
	return decimal.Zero
}

// Equity returns the most recently recorded total equity, or the initial
// capital before any MarkToMarket/Fill has been observed.
func (p *Portfolio) Equity() decimal.Decimal {
	if len(p.equityCurve) == 0 {
		return p.initialCapital
	}
	return p.equityCurve[len(p.equityCurve)-1].TotalEquity
}

// OpenPositionsCount returns the number of symbols currently holding a
// non-zero quantity.
func (p *Portfolio) OpenPositionsCount() int {
	count := 0
	for _, pos := range p.positions {
		if !pos.Quantity.IsZero() {
			count++
		}
	}
	return count
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// Trades returns the trade ledger accumulated so far.
func (p *Portfolio) Trades() []types.Trade { return p.trades }

// EquityCurve returns the equity curve accumulated so far.
func (p *Portfolio) EquityCurve() []types.EquityCurvePoint { return p.equityCurve }

// Positions returns a snapshot of every tracked position, including
// zero-quantity ones retained for their realized P&L.
func (p *Portfolio) Positions() map[string]types.Position {
	out := make(map[string]types.Position, len(p.positions))
	for symbol, pos := range p.positions {
		out[symbol] = *pos
	}
	return out
}

// Reset restores the portfolio to its just-constructed state at
// initialCapital.
func (p *Portfolio) Reset() {
	p.cash = p.initialCapital
	p.positions = make(map[string]*types.Position)
	p.trades = nil
	p.equityCurve = nil
	p.peakEquity = p.initialCapital
	p.totalCommission = decimal.Zero
	p.invariantErr = nil
}

func sameSign(a, b decimal.Decimal) bool { return signOf(a) == signOf(b) }

func signOf(d decimal.Decimal) int {
	if d.GreaterThan(decimal.Zero) {
		return 1
	}
	if d.LessThan(decimal.Zero) {
		return -1
	}
	return 0
}

func entrySideFor(q0 decimal.Decimal) types.OrderSide {
	if q0.GreaterThan(decimal.Zero) {
		return types.OrderSideBuy
	}
	return types.OrderSideSell
}
