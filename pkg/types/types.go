// Package types provides shared type definitions for the backtesting core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is a signed trading intent: -1 short/sell, 0 neutral, +1 long/buy.
type Direction int

const (
	DirectionShort   Direction = -1
	DirectionNeutral Direction = 0
	DirectionLong    Direction = 1
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus represents the lifecycle stage of an order. Transitions are
// monotonic: CREATED -> PENDING -> PARTIAL* -> FILLED/CANCELED/REJECTED/EXPIRED.
type OrderStatus string

const (
	OrderStatusCreated  OrderStatus = "created"
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusExpired  OrderStatus = "expired"
)

// Timeframe tags the resampling period a Bar was produced at.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Bar is one OHLCV record for one symbol at one timestamp. Immutable once emitted.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timeframe Timeframe       `json:"timeframe"`
}

// Signal is a directional intent produced by a strategy. RuleID is assigned
// by the risk manager, never by the strategy itself.
type Signal struct {
	Symbol      string          `json:"symbol"`
	Direction   Direction       `json:"direction"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
	StrategyID  string          `json:"strategyId,omitempty"`
	RuleID      string          `json:"ruleId,omitempty"`
}

// Order is a trading order moving through the lifecycle above.
type Order struct {
	ID               string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Side             OrderSide       `json:"side"`
	Type             OrderType       `json:"type"`
	Quantity         decimal.Decimal `json:"quantity"`
	LimitPrice       decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice        decimal.Decimal `json:"stopPrice,omitempty"`
	Status           OrderStatus     `json:"status"`
	FilledQuantity   decimal.Decimal `json:"filledQuantity"`
	AvgFillPrice     decimal.Decimal `json:"avgFillPrice"`
	RuleID           string          `json:"ruleId,omitempty"`
	ParentID         string          `json:"parentId,omitempty"`
	StrategyID       string          `json:"strategyId,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	BarsSinceCreated int             `json:"-"`
}

// Fill is a realized execution of an order at a specific price and quantity.
type Fill struct {
	OrderID    string          `json:"orderId"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Timestamp  time.Time       `json:"timestamp"`
	RuleID     string          `json:"ruleId,omitempty"`
	StrategyID string          `json:"strategyId,omitempty"`
}

// Position is the per-symbol aggregate the Portfolio owns. It is created
// lazily on first non-zero fill and is never destroyed: a zero-quantity
// position retains its accumulated realized P&L.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	CostBasis   decimal.Decimal `json:"costBasis"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	LastPrice   decimal.Decimal `json:"lastPrice"`
	OpenedAt    time.Time       `json:"openedAt"`
}

// Trade is a closed (fully or partially) round-trip with realized P&L.
type Trade struct {
	Symbol     string          `json:"symbol"`
	EntrySide  OrderSide       `json:"entrySide"`
	EntryTime  time.Time       `json:"entryTime"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitTime   time.Time       `json:"exitTime"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	Quantity   decimal.Decimal `json:"quantity"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	RuleID     string          `json:"ruleId,omitempty"`
	StrategyID string          `json:"strategyId,omitempty"`
}

// EquityCurvePoint is appended on each MarkToMarket tick and on each fill.
type EquityCurvePoint struct {
	Timestamp           time.Time       `json:"timestamp"`
	Cash                decimal.Decimal `json:"cash"`
	PositionsMarketValue decimal.Decimal `json:"positionsMarketValue"`
	TotalEquity         decimal.Decimal `json:"totalEquity"`
	DrawdownFromPeak    decimal.Decimal `json:"drawdownFromPeak"`
}

// SignalGroup is the risk manager's per-symbol grouping state.
type SignalGroup struct {
	Symbol           string
	CurrentDirection Direction
	GroupCounter     int
	ProcessedRuleIDs map[string]struct{}
}
