// Package risk implements the signal-grouping risk manager: it deduplicates
// repeated same-direction signals into groups and converts direction
// changes into a close-then-open order sequence sized by a pluggable
// position sizing policy.
package risk

import (
	"fmt"

	"github.com/atlas-desktop/backtest-core/internal/events"
	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PortfolioView is the read-only slice of the portfolio the risk manager
// needs to size and gate orders. The Portfolio type satisfies it.
type PortfolioView interface {
	Position(symbol string) decimal.Decimal
	Equity() decimal.Decimal
	OpenPositionsCount() int
}

// Manager is the signal-grouping risk manager described above.
type Manager struct {
	logger    *zap.Logger
	portfolio PortfolioView
	sizing    SizingPolicy

	maxOpenPositions      int
	enforceSinglePosition bool

	groups map[string]*types.SignalGroup
}

// New constructs a Manager. maxOpenPositions <= 0 means unlimited.
func New(logger *zap.Logger, portfolio PortfolioView, sizing SizingPolicy, maxOpenPositions int, enforceSinglePosition bool) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:                logger,
		portfolio:             portfolio,
		sizing:                sizing,
		maxOpenPositions:      maxOpenPositions,
		enforceSinglePosition: enforceSinglePosition,
		groups:                make(map[string]*types.SignalGroup),
	}
}

// Attach registers the manager's signal handler on bus at priority.
func (m *Manager) Attach(bus *events.Bus, priority int) events.Token {
	return bus.Register(events.KindSignal, priority, func(e events.Event) {
		se, ok := e.(*events.SignalEvent)
		if !ok {
			return
		}
		m.onSignal(bus, se.Signal)
	})
}

// Reset clears all per-symbol directions, counters, and processed rule IDs.
func (m *Manager) Reset() {
	m.groups = make(map[string]*types.SignalGroup)
}

func (m *Manager) groupFor(symbol string) *types.SignalGroup {
	g, ok := m.groups[symbol]
	if !ok {
		g = &types.SignalGroup{Symbol: symbol, ProcessedRuleIDs: make(map[string]struct{})}
		m.groups[symbol] = g
	}
	return g
}

func (m *Manager) onSignal(bus *events.Bus, sig types.Signal) {
	g := m.groupFor(sig.Symbol)

	if sig.Direction == g.CurrentDirection || sig.Direction == types.DirectionNeutral {
		return
	}

	g.GroupCounter++
	g.CurrentDirection = sig.Direction
	side := directionSide(sig.Direction)
	ruleID := fmt.Sprintf("%s_%s_%s_group_%d", sig.StrategyID, sig.Symbol, sideName(side), g.GroupCounter)

	currentQty := m.portfolio.Position(sig.Symbol)
	if !currentQty.IsZero() && sign(currentQty) != int(sig.Direction) {
		closeOrder := types.Order{
			Symbol:    sig.Symbol,
			Side:      oppositeSide(currentQty),
			Type:      types.OrderTypeMarket,
			Quantity:  currentQty.Abs(),
			RuleID:     ruleID + "_close",
			ParentID:   ruleID,
			StrategyID: sig.StrategyID,
			CreatedAt:  sig.Timestamp,
			UpdatedAt: sig.Timestamp,
			Status:    types.OrderStatusCreated,
		}
		bus.Emit(&events.OrderEvent{Order: closeOrder})
	}

	qty := m.sizing.Size(m.portfolio.Equity(), sig.Price)
	if qty.LessThanOrEqual(decimal.Zero) {
		m.logger.Warn("sizing policy produced non-positive quantity", zap.String("symbol", sig.Symbol))
		return
	}

	postCloseQty := m.portfolio.Position(sig.Symbol)
	if m.enforceSinglePosition && !postCloseQty.IsZero() {
		return
	}
	if postCloseQty.IsZero() && m.maxOpenPositions > 0 && m.portfolio.OpenPositionsCount() >= m.maxOpenPositions {
		return
	}

	openOrder := types.Order{
		Symbol:    sig.Symbol,
		Side:      side,
		Type:      types.OrderTypeMarket,
		Quantity:   qty,
		RuleID:     ruleID,
		StrategyID: sig.StrategyID,
		CreatedAt:  sig.Timestamp,
		UpdatedAt: sig.Timestamp,
		Status:    types.OrderStatusCreated,
	}
	bus.Emit(&events.OrderEvent{Order: openOrder})
}

func directionSide(d types.Direction) types.OrderSide {
	if d == types.DirectionLong {
		return types.OrderSideBuy
	}
	return types.OrderSideSell
}

func sideName(s types.OrderSide) string {
	if s == types.OrderSideBuy {
		return "BUY"
	}
	return "SELL"
}

func oppositeSide(currentQty decimal.Decimal) types.OrderSide {
	if currentQty.GreaterThan(decimal.Zero) {
		return types.OrderSideSell
	}
	return types.OrderSideBuy
}

func sign(d decimal.Decimal) int {
	if d.GreaterThan(decimal.Zero) {
		return 1
	}
	if d.LessThan(decimal.Zero) {
		return -1
	}
	return 0
}
