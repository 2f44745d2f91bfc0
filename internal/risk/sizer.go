// Package risk converts a verdict into an order plan: quantity from
// conviction-scaled risk, an ATR stop with an unfavorable buffer, and a
// laddered take-profit schedule. It also enforces the account guardrails.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/internal/ledger"
	"github.com/quantex-labs/trading-engine/internal/venue"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

// ErrNoOrder is returned when no valid order can be constructed for the
// inputs, e.g. a zero stop distance or a quantity that rounds to zero.
var ErrNoOrder = errors.New("risk: no valid order")

// ErrGuardrail is returned while a guardrail keeps new entries blocked.
var ErrGuardrail = errors.New("risk: guardrail engaged")

// Rung defines one take-profit ladder step.
type Rung struct {
	ATRMult float64 `mapstructure:"atr_mult"`
	SizePct float64 `mapstructure:"size_pct"`
}

// Config holds the sizing constants.
type Config struct {
	// RiskPct is the equity fraction risked per trade at full conviction.
	RiskPct float64 `mapstructure:"risk_pct"`
	// StopMultiple scales ATR into the stop distance.
	StopMultiple float64 `mapstructure:"stop_multiple"`
	// StopBufferTicks pads the stop in the unfavorable direction so venue
	// noise does not re-trigger it immediately.
	StopBufferTicks int `mapstructure:"stop_buffer_ticks"`
	// MaxPositionPct caps position value as a fraction of equity.
	MaxPositionPct float64 `mapstructure:"max_position_pct"`
	// Ladder sizes must sum to at most 1.
	Ladder []Rung `mapstructure:"ladder"`
	// AdaptiveExits scales ladder distances by the rolling reward:risk.
	AdaptiveExits bool `mapstructure:"adaptive_exits"`
	// MaxDailyLossPct and MaxDrawdownPct block new entries when breached.
	MaxDailyLossPct float64 `mapstructure:"max_daily_loss_pct"`
	MaxDrawdownPct  float64 `mapstructure:"max_drawdown_pct"`
}

// DefaultConfig returns the standard sizing constants.
func DefaultConfig() Config {
	return Config{
		RiskPct:         0.01,
		StopMultiple:    1.5,
		StopBufferTicks: 5,
		MaxPositionPct:  0.10,
		Ladder: []Rung{
			{ATRMult: 1.0, SizePct: 0.4},
			{ATRMult: 1.5, SizePct: 0.4},
			{ATRMult: 2.0, SizePct: 0.2},
		},
		AdaptiveExits:   true,
		MaxDailyLossPct: 0.03,
		MaxDrawdownPct:  0.10,
	}
}

// Validate rejects ladder definitions whose sizes exceed the position.
func (c Config) Validate() error {
	total := 0.0
	for _, r := range c.Ladder {
		if r.SizePct <= 0 || r.ATRMult <= 0 {
			return fmt.Errorf("risk: invalid ladder rung %+v", r)
		}
		total += r.SizePct
	}
	if total > 1.0+1e-9 {
		return fmt.Errorf("risk: ladder sizes sum to %.4f, must be <= 1", total)
	}
	return nil
}

// Request is one sizing request for an accepted verdict.
type Request struct {
	Side       types.Side
	Price      decimal.Decimal
	ATR        decimal.Decimal
	Equity     decimal.Decimal
	Conviction float64 // in [0.5, 1.0]
	Rules      venue.InstrumentRules
	Stats      ledger.Stats
}

// Plan is the sized order: entry quantity, protective stop and the
// take-profit ladder. Quantities are rounded to the venue step.
type Plan struct {
	Quantity decimal.Decimal
	StopLoss decimal.Decimal
	Targets  []types.TakeProfitTarget
	// StopDistance is kept for trailing-stop recomputation.
	StopDistance decimal.Decimal
}

// Sizer builds order plans.
type Sizer struct {
	logger *zap.Logger
	config Config
}

// NewSizer creates a sizer.
func NewSizer(logger *zap.Logger, config Config) *Sizer {
	if config.RiskPct == 0 {
		config = DefaultConfig()
	}
	return &Sizer{logger: logger.Named("risk"), config: config}
}

// CheckGuardrails returns ErrGuardrail when the daily loss or drawdown limit
// is breached relative to equity. Open positions keep being managed; only new
// entries are blocked.
func (s *Sizer) CheckGuardrails(stats ledger.Stats, equity decimal.Decimal) error {
	if equity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: non-positive equity", ErrGuardrail)
	}
	dailyLimit := equity.Mul(decimal.NewFromFloat(s.config.MaxDailyLossPct)).Neg()
	if stats.DailyPnL.LessThan(dailyLimit) {
		return fmt.Errorf("%w: daily loss %s beyond %s", ErrGuardrail, stats.DailyPnL, dailyLimit)
	}
	ddLimit := equity.Mul(decimal.NewFromFloat(s.config.MaxDrawdownPct))
	if stats.MaxDrawdown.GreaterThan(ddLimit) {
		return fmt.Errorf("%w: drawdown %s beyond %s", ErrGuardrail, stats.MaxDrawdown, ddLimit)
	}
	return nil
}

// Size builds the order plan for one accepted verdict.
func (s *Sizer) Size(req Request) (Plan, error) {
	stopDistance := req.ATR.Mul(decimal.NewFromFloat(s.config.StopMultiple))
	if stopDistance.LessThanOrEqual(decimal.Zero) || req.Price.LessThanOrEqual(decimal.Zero) {
		return Plan{}, ErrNoOrder
	}

	conviction := req.Conviction
	if conviction < 0.5 {
		conviction = 0.5
	} else if conviction > 1.0 {
		conviction = 1.0
	}

	riskAmount := req.Equity.
		Mul(decimal.NewFromFloat(s.config.RiskPct)).
		Mul(decimal.NewFromFloat(conviction))
	qty := riskAmount.Div(stopDistance).Div(req.Price)

	// Cap by maximum position value before step rounding.
	maxValue := req.Equity.Mul(decimal.NewFromFloat(s.config.MaxPositionPct))
	if qty.Mul(req.Price).GreaterThan(maxValue) {
		qty = maxValue.Div(req.Price)
	}
	qty = req.Rules.RoundQtyDown(qty)
	if qty.LessThanOrEqual(decimal.Zero) {
		return Plan{}, ErrNoOrder
	}

	plan := Plan{
		Quantity:     qty,
		StopDistance: stopDistance,
		StopLoss:     s.stopPrice(req.Side, req.Price, stopDistance, req.Rules),
		Targets:      s.ladder(req, qty),
	}

	s.logger.Debug("sized order",
		zap.String("side", string(req.Side)),
		zap.String("qty", qty.String()),
		zap.String("stop", plan.StopLoss.String()),
		zap.Int("targets", len(plan.Targets)),
		zap.Float64("conviction", conviction))
	return plan, nil
}

// StopPrice computes the protective stop for an entry at price: stop distance
// plus a tick buffer, both in the unfavorable direction.
func (s *Sizer) stopPrice(side types.Side, price, stopDistance decimal.Decimal, rules venue.InstrumentRules) decimal.Decimal {
	buffer := rules.TickSize.Mul(decimal.NewFromInt(int64(s.config.StopBufferTicks)))
	if side == types.SideBuy {
		return rules.RoundPrice(price.Sub(stopDistance).Sub(buffer))
	}
	return rules.RoundPrice(price.Add(stopDistance).Add(buffer))
}

// ladder builds the take-profit targets. Each rung's quantity is rounded to
// the step; the running total never exceeds the position quantity.
func (s *Sizer) ladder(req Request, qty decimal.Decimal) []types.TakeProfitTarget {
	multScale := 1.0
	if s.config.AdaptiveExits && req.Stats.AvgWinLoss > 0 {
		// Stretch targets when recent winners have been running further than
		// losers, shrink them when they have not.
		multScale = clipf(req.Stats.AvgWinLoss, 0.8, 1.5)
	}

	targets := make([]types.TakeProfitTarget, 0, len(s.config.Ladder))
	remaining := qty
	for i, rung := range s.config.Ladder {
		size := req.Rules.RoundQtyDown(qty.Mul(decimal.NewFromFloat(rung.SizePct)))
		if size.GreaterThan(remaining) {
			size = remaining
		}
		if size.LessThanOrEqual(decimal.Zero) {
			continue
		}
		dist := req.ATR.Mul(decimal.NewFromFloat(rung.ATRMult * multScale))
		price := req.Price.Add(dist)
		if req.Side == types.SideSell {
			price = req.Price.Sub(dist)
		}
		targets = append(targets, types.TakeProfitTarget{
			Name:     fmt.Sprintf("tp%d", i+1),
			Price:    req.Rules.RoundPrice(price),
			Quantity: size,
		})
		remaining = remaining.Sub(size)
	}
	return targets
}

func clipf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
