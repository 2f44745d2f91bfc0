// Package venue defines the capability contract the engine requires from a
// trading venue. Transport, authentication and wire formats live behind these
// interfaces; the engine only depends on the capabilities.
package venue

import (
	"context"

	"github.com/quantex-labs/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// OrderKind is the venue order type requested by the engine.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
	OrderKindStop   OrderKind = "stop"
)

// OrderRequest describes one order submission.
type OrderRequest struct {
	Symbol       string
	Side         types.Side
	Kind         OrderKind
	Quantity     decimal.Decimal
	Price        decimal.Decimal // limit price, zero for market/stop
	TriggerPrice decimal.Decimal // stop trigger, zero otherwise
	ReduceOnly   bool
	LinkID       string
}

// MarketData provides read access to market state.
type MarketData interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
	GetTopOfBook(ctx context.Context, symbol string) (types.TopOfBook, error)
}

// Account provides read access to account state.
type Account interface {
	GetOpenPositions(ctx context.Context, symbol string) ([]types.PositionSnapshot, error)
	GetEquity(ctx context.Context, currency string) (decimal.Decimal, error)
	GetFills(ctx context.Context, symbol string, since int64) ([]types.Fill, error)
}

// OrderGateway submits and cancels orders.
type OrderGateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (types.OrderAck, error)
	CancelOrder(ctx context.Context, symbol, linkID string) error
}

// Venue is the full capability set the engine consumes.
type Venue interface {
	MarketData
	Account
	OrderGateway
}

// InstrumentRules describes the venue's rounding constraints for a symbol.
type InstrumentRules struct {
	QtyStep  decimal.Decimal
	TickSize decimal.Decimal
}

// RoundQtyDown rounds a quantity down to the instrument's quantity step.
func (r InstrumentRules) RoundQtyDown(qty decimal.Decimal) decimal.Decimal {
	if r.QtyStep.IsZero() {
		return qty
	}
	steps := qty.Div(r.QtyStep).Floor()
	return steps.Mul(r.QtyStep)
}

// RoundPrice rounds a price to the instrument's tick size, toward zero.
func (r InstrumentRules) RoundPrice(price decimal.Decimal) decimal.Decimal {
	if r.TickSize.IsZero() {
		return price
	}
	ticks := price.Div(r.TickSize).Floor()
	return ticks.Mul(r.TickSize)
}
