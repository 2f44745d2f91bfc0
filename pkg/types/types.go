// Package types provides shared type definitions for the trading engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the reducing side for this side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Verdict is the discrete trading decision for one closed candle.
type Verdict string

const (
	VerdictBuy  Verdict = "BUY"
	VerdictSell Verdict = "SELL"
	VerdictHold Verdict = "HOLD"
)

// Regime classifies current market behavior.
type Regime string

const (
	RegimeTrending Regime = "TRENDING"
	RegimeRanging  Regime = "RANGING"
)

// Candle represents a single OHLCV bar. The most recent candle of a series
// may be updated in place until its period closes; closed candles are
// immutable.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Signal is the scored verdict for one closed candle. Score is computed only
// from candles at or before the last closed candle.
type Signal struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Score     decimal.Decimal `json:"score"`
	Verdict   Verdict         `json:"verdict"`
	Regime    Regime          `json:"regime"`
	Reasons   []string        `json:"reasons,omitempty"`
}

// PositionStatus tracks the lifecycle of a position.
type PositionStatus string

const (
	PositionOpening         PositionStatus = "OPENING"
	PositionOpen            PositionStatus = "OPEN"
	PositionPartiallyClosed PositionStatus = "PARTIALLY_CLOSED"
	PositionClosed          PositionStatus = "CLOSED"
)

// CloseReason records what caused a position (or part of it) to close.
type CloseReason string

const (
	CloseReasonStopLoss     CloseReason = "STOP_LOSS"
	CloseReasonTakeProfit   CloseReason = "TAKE_PROFIT"
	CloseReasonExternalFlat CloseReason = "EXTERNAL_FLAT"
	CloseReasonManual       CloseReason = "MANUAL"
)

// TakeProfitTarget is one rung of a partial take-profit ladder. A limit order
// may fill in several executions; FilledQty accumulates them up to Quantity.
type TakeProfitTarget struct {
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	FilledQty decimal.Decimal `json:"filledQty"`
	LinkID    string          `json:"linkId"`
	Filled    bool            `json:"filled"`
}

// OrderRole identifies the purpose of an order within a position.
type OrderRole string

const (
	OrderRoleEntry      OrderRole = "ENTRY"
	OrderRoleStop       OrderRole = "STOP"
	OrderRoleTakeProfit OrderRole = "TAKE_PROFIT"
)

// OrderState tracks a tracked order's progress at the venue.
type OrderState string

const (
	OrderStatePending   OrderState = "pending"
	OrderStateOpen      OrderState = "open"
	OrderStatePartial   OrderState = "partial"
	OrderStateFilled    OrderState = "filled"
	OrderStateCancelled OrderState = "cancelled"
	OrderStateRejected  OrderState = "rejected"
	OrderStateUnknown   OrderState = "unknown"
)

// Order is an order owned by exactly one position. LinkID is the correlation
// key used to match venue executions back to the position.
type Order struct {
	LinkID       string          `json:"linkId"`
	Role         OrderRole       `json:"role"`
	Side         Side            `json:"side"`
	RequestedQty decimal.Decimal `json:"requestedQty"`
	FilledQty    decimal.Decimal `json:"filledQty"`
	Price        decimal.Decimal `json:"price,omitempty"`
	TriggerPrice decimal.Decimal `json:"triggerPrice,omitempty"`
	State        OrderState      `json:"state"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Position is one tracked position for a symbol.
type Position struct {
	ID                 string             `json:"id"`
	Symbol             string             `json:"symbol"`
	Side               Side               `json:"side"`
	EntryPrice         decimal.Decimal    `json:"entryPrice"`
	Quantity           decimal.Decimal    `json:"quantity"`
	InitialQuantity    decimal.Decimal    `json:"initialQuantity"`
	StopLoss           decimal.Decimal    `json:"stopLoss"`
	InitialStopLoss    decimal.Decimal    `json:"initialStopLoss"`
	TakeProfitTargets  []TakeProfitTarget `json:"takeProfitTargets"`
	Status             PositionStatus     `json:"status"`
	OpenedAt           time.Time          `json:"openedAt"`
	ClosedAt           *time.Time         `json:"closedAt,omitempty"`
	AddsCount          int                `json:"addsCount"`
	BestFavorablePrice decimal.Decimal    `json:"bestFavorablePrice"`
	ATRAtEntry         decimal.Decimal    `json:"atrAtEntry"`
	LinkPrefix         string             `json:"linkPrefix"`
	CloseReason        CloseReason        `json:"closeReason,omitempty"`
	UnreconciledPnL    bool               `json:"unreconciledPnl,omitempty"`
	Synthetic          bool               `json:"synthetic,omitempty"`
}

// IsOpen reports whether the position still holds quantity at the venue.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen || p.Status == PositionPartiallyClosed
}

// Trade is an immutable record of a (partial or full) position exit.
type Trade struct {
	PositionID string          `json:"positionId"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	ExitQty    decimal.Decimal `json:"exitQty"`
	PnL        decimal.Decimal `json:"pnl"`
	ClosedBy   CloseReason     `json:"closedBy"`
	ClosedAt   time.Time       `json:"closedAt"`
	// Unpriced marks trades recorded without a venue exit price, e.g. a
	// position found flat at the venue. PnL is zero and excluded from
	// expectancy statistics.
	Unpriced bool `json:"unpriced,omitempty"`
}

// Fill is a single execution reported by the venue. ExecID is the venue's
// unique execution identifier, used to tell a replayed fill from a second
// partial execution of the same order.
type Fill struct {
	ExecID    string          `json:"execId"`
	LinkID    string          `json:"linkId"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// TopOfBook is a best bid/ask snapshot.
type TopOfBook struct {
	BestBid decimal.Decimal `json:"bestBid"`
	BestAsk decimal.Decimal `json:"bestAsk"`
	BidQty  decimal.Decimal `json:"bidQty"`
	AskQty  decimal.Decimal `json:"askQty"`
}

// SpreadBps returns the bid/ask spread in basis points of the mid price.
func (t TopOfBook) SpreadBps() decimal.Decimal {
	mid := t.BestBid.Add(t.BestAsk).Div(decimal.NewFromInt(2))
	if mid.IsZero() {
		return decimal.Zero
	}
	return t.BestAsk.Sub(t.BestBid).Div(mid).Mul(decimal.NewFromInt(10000))
}

// Imbalance returns (bidQty-askQty)/(bidQty+askQty) in [-1, 1].
func (t TopOfBook) Imbalance() float64 {
	total := t.BidQty.Add(t.AskQty)
	if total.IsZero() {
		return 0
	}
	v, _ := t.BidQty.Sub(t.AskQty).Div(total).Float64()
	return v
}

// PositionSnapshot is the venue's view of an open position.
type PositionSnapshot struct {
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
}

// OrderAck is the venue's acknowledgement of a submitted order.
type OrderAck struct {
	OrderID string     `json:"orderId"`
	LinkID  string     `json:"linkId"`
	State   OrderState `json:"state"`
}
