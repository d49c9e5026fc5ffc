package events

import (
	"time"

	"github.com/atlas-desktop/backtest-core/pkg/types"
)

// Kind identifies the variant of an Event.
type Kind string

const (
	KindBar          Kind = "bar"
	KindMarkToMarket Kind = "mark_to_market"
	KindSignal       Kind = "signal"
	KindOrder        Kind = "order"
	KindFill         Kind = "fill"
	KindOrderStatus  Kind = "order_status"
	KindBacktestEnd  Kind = "backtest_end"
)

// Event is the common contract every event variant satisfies. Concrete
// variants are always used as pointers so Consume can mark them in place.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
	DedupKey() (key string, has bool)
	Consumed() bool
	Consume()
}

// Base is embedded by every concrete event and implements the bookkeeping
// half of the Event contract (consumption only; Kind/Timestamp/DedupKey
// are provided by the embedding type since they vary by variant).
type Base struct {
	consumed bool
}

func (b *Base) Consumed() bool { return b.consumed }
func (b *Base) Consume()       { b.consumed = true }

// BarEvent carries one replayed OHLCV bar.
type BarEvent struct {
	Base
	Bar types.Bar
}

func (e *BarEvent) Kind() Kind                     { return KindBar }
func (e *BarEvent) Timestamp() time.Time           { return e.Bar.Timestamp }
func (e *BarEvent) DedupKey() (string, bool)       { return "", false }

// MarkToMarketEvent carries the latest observed price per symbol at a tick.
type MarkToMarketEvent struct {
	Base
	At     time.Time
	Prices map[string]types.Bar // symbol -> bar whose close is the mark price
}

func (e *MarkToMarketEvent) Kind() Kind               { return KindMarkToMarket }
func (e *MarkToMarketEvent) Timestamp() time.Time     { return e.At }
func (e *MarkToMarketEvent) DedupKey() (string, bool) { return "", false }

// SignalEvent carries a strategy's directional intent.
type SignalEvent struct {
	Base
	Signal types.Signal
}

func (e *SignalEvent) Kind() Kind           { return KindSignal }
func (e *SignalEvent) Timestamp() time.Time { return e.Signal.Timestamp }
func (e *SignalEvent) DedupKey() (string, bool) {
	if e.Signal.RuleID == "" {
		return "", false
	}
	return e.Signal.RuleID, true
}

// OrderEvent carries an order the risk manager emitted for the broker/order
// manager to process.
type OrderEvent struct {
	Base
	Order types.Order
}

func (e *OrderEvent) Kind() Kind           { return KindOrder }
func (e *OrderEvent) Timestamp() time.Time { return e.Order.CreatedAt }
func (e *OrderEvent) DedupKey() (string, bool) {
	if e.Order.RuleID != "" {
		return e.Order.RuleID, true
	}
	if e.Order.ID != "" {
		return e.Order.ID, true
	}
	return "", false
}

// FillEvent carries a realized execution.
type FillEvent struct {
	Base
	Fill types.Fill
}

func (e *FillEvent) Kind() Kind           { return KindFill }
func (e *FillEvent) Timestamp() time.Time { return e.Fill.Timestamp }
func (e *FillEvent) DedupKey() (string, bool) {
	if e.Fill.OrderID == "" {
		return "", false
	}
	return e.Fill.OrderID, true
}

// OrderStatusEvent announces a status transition for an order.
type OrderStatusEvent struct {
	Base
	Order  types.Order
	At     time.Time
	Status types.OrderStatus
}

func (e *OrderStatusEvent) Kind() Kind               { return KindOrderStatus }
func (e *OrderStatusEvent) Timestamp() time.Time     { return e.At }
func (e *OrderStatusEvent) DedupKey() (string, bool) { return "", false }

// BacktestEndEvent is the terminal event the coordinator emits to force the
// portfolio to close out open positions at the last observed price.
type BacktestEndEvent struct {
	Base
	At time.Time
}

func (e *BacktestEndEvent) Kind() Kind               { return KindBacktestEnd }
func (e *BacktestEndEvent) Timestamp() time.Time     { return e.At }
func (e *BacktestEndEvent) DedupKey() (string, bool) { return "", false }
