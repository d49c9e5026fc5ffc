// Package execution implements the order lifecycle manager and the
// simulated broker that fills orders against the replayed bar stream.
package execution

import (
	"fmt"
	"sort"

	"github.com/atlas-desktop/backtest-core/internal/events"
	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderManager intercepts Order events, assigns an ID if one is absent,
// tracks every order through its status lifecycle as Fill events arrive,
// and emits an OrderStatus event on every transition.
type OrderManager struct {
	logger *zap.Logger

	orders map[string]*types.Order
	active map[string][]*types.Order // symbol -> active orders, oldest first
}

// New constructs an empty OrderManager.
func New(logger *zap.Logger) *OrderManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderManager{
		logger: logger,
		orders: make(map[string]*types.Order),
		active: make(map[string][]*types.Order),
	}
}

// Attach registers the manager's Order and Fill handlers on bus at priority.
func (m *OrderManager) Attach(bus *events.Bus, priority int) {
	bus.Register(events.KindOrder, priority, func(e events.Event) {
		oe, ok := e.(*events.OrderEvent)
		if !ok {
			return
		}
		m.onOrder(bus, oe)
	})
	bus.Register(events.KindFill, priority, func(e events.Event) {
		fe, ok := e.(*events.FillEvent)
		if !ok {
			return
		}
		m.onFill(bus, fe.Fill)
	})
}

func (m *OrderManager) onOrder(bus *events.Bus, e *events.OrderEvent) {
	if e.Order.ID == "" {
		e.Order.ID = uuid.New().String()
	}
	e.Order.Status = types.OrderStatusPending
	if e.Order.UpdatedAt.IsZero() {
		e.Order.UpdatedAt = e.Order.CreatedAt
	}

	ord := e.Order
	m.orders[ord.ID] = &ord
	m.active[ord.Symbol] = append(m.active[ord.Symbol], &ord)

	bus.Emit(&events.OrderStatusEvent{Order: ord, At: ord.CreatedAt, Status: ord.Status})
}

func (m *OrderManager) onFill(bus *events.Bus, fill types.Fill) {
	ord := m.orders[fill.OrderID]
	if ord == nil {
		ord = m.matchBySymbolSide(fill.Symbol, fill.Side)
	}
	if ord == nil {
		m.logger.Warn("unmatched fill", zap.String("order_id", fill.OrderID), zap.String("symbol", fill.Symbol))
		return
	}

	totalQty := ord.FilledQuantity.Add(fill.Quantity)
	if ord.FilledQuantity.IsZero() {
		ord.AvgFillPrice = fill.Price
	} else {
		ord.AvgFillPrice = ord.AvgFillPrice.Mul(ord.FilledQuantity).Add(fill.Price.Mul(fill.Quantity)).Div(totalQty)
	}
	ord.FilledQuantity = totalQty
	ord.UpdatedAt = fill.Timestamp

	if ord.FilledQuantity.GreaterThanOrEqual(ord.Quantity) {
		ord.Status = types.OrderStatusFilled
		m.deactivate(ord)
	} else {
		ord.Status = types.OrderStatusPartial
	}

	bus.Emit(&events.OrderStatusEvent{Order: *ord, At: fill.Timestamp, Status: ord.Status})
}

func (m *OrderManager) matchBySymbolSide(symbol string, side types.OrderSide) *types.Order {
	for _, ord := range m.active[symbol] {
		if ord.Side == side {
			return ord
		}
	}
	return nil
}

func (m *OrderManager) deactivate(target *types.Order) {
	list := m.active[target.Symbol]
	out := list[:0]
	for _, ord := range list {
		if ord.ID != target.ID {
			out = append(out, ord)
		}
	}
	m.active[target.Symbol] = out
}

// Cancel cancels order_id if it is in a cancelable state (CREATED, PENDING,
// PARTIAL).
func (m *OrderManager) Cancel(bus *events.Bus, orderID string, at types.Signal) error {
	ord := m.orders[orderID]
	if ord == nil {
		return fmt.Errorf("execution: unknown order %q", orderID)
	}
	switch ord.Status {
	case types.OrderStatusCreated, types.OrderStatusPending, types.OrderStatusPartial:
	default:
		return fmt.Errorf("execution: order %q is not cancelable in status %q", orderID, ord.Status)
	}
	ord.Status = types.OrderStatusCanceled
	ord.UpdatedAt = at.Timestamp
	m.deactivate(ord)
	bus.Emit(&events.OrderStatusEvent{Order: *ord, At: at.Timestamp, Status: ord.Status})
	return nil
}

// ActiveOrders returns the currently active orders for symbol, or for every
// symbol if symbol is empty.
func (m *OrderManager) ActiveOrders(symbol string) []types.Order {
	var out []types.Order
	if symbol != "" {
		for _, ord := range m.active[symbol] {
			out = append(out, *ord)
		}
		return out
	}
	for _, list := range m.active {
		for _, ord := range list {
			out = append(out, *ord)
		}
	}
	return out
}

// History returns every known order for symbol (or all symbols if empty),
// most recently updated first, capped at limit (0 means unlimited).
func (m *OrderManager) History(symbol string, limit int) []types.Order {
	var out []types.Order
	for _, ord := range m.orders {
		if symbol != "" && ord.Symbol != symbol {
			continue
		}
		out = append(out, *ord)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Reset clears all tracked orders, restoring the manager to its
// just-constructed state.
func (m *OrderManager) Reset() {
	m.orders = make(map[string]*types.Order)
	m.active = make(map[string][]*types.Order)
}
