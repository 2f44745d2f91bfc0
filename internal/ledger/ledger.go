// Package ledger records closed trades and derives the rolling performance
// statistics the scorer and sizer consume: expectancy, win rate, drawdown and
// daily PnL.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/pkg/types"
)

// Config bounds the rolling statistics.
type Config struct {
	// WindowSize is the number of recent trades used for expectancy.
	WindowSize int `mapstructure:"window_size"`
	// MinTrades is the number of priced trades required before expectancy is
	// reported at all.
	MinTrades int `mapstructure:"min_trades"`
	// FeeBps and SlipBps are the per-side cost assumptions subtracted from
	// expectancy, in basis points.
	FeeBps  float64 `mapstructure:"fee_bps"`
	SlipBps float64 `mapstructure:"slip_bps"`
}

// DefaultConfig returns the standard cost and window assumptions.
func DefaultConfig() Config {
	return Config{
		WindowSize: 30,
		MinTrades:  10,
		FeeBps:     2.0,
		SlipBps:    2.0,
	}
}

// Stats is a point-in-time view of the rolling performance numbers.
type Stats struct {
	Trades       int             `json:"trades"`
	Wins         int             `json:"wins"`
	WinRate      float64         `json:"winRate"`
	Expectancy   float64         `json:"expectancy"` // net return per trade, cost-adjusted
	ExpectancyOK bool            `json:"expectancyOk"`
	RealizedPnL  decimal.Decimal `json:"realizedPnl"`
	DailyPnL     decimal.Decimal `json:"dailyPnl"`
	MaxDrawdown  decimal.Decimal `json:"maxDrawdown"`
	AvgWinLoss   float64         `json:"avgWinLoss"` // rolling reward:risk, used by adaptive exits
}

// Ledger is the append-only trade record. Trades are immutable once recorded.
type Ledger struct {
	logger *zap.Logger
	config Config

	mu       sync.RWMutex
	trades   []types.Trade
	realized decimal.Decimal
	peak     decimal.Decimal
	maxDD    decimal.Decimal
	dailyPnL decimal.Decimal
	dailyDay time.Time
}

// NewLedger creates an empty ledger.
func NewLedger(logger *zap.Logger, config Config) *Ledger {
	if config.WindowSize == 0 {
		config = DefaultConfig()
	}
	return &Ledger{
		logger: logger.Named("ledger"),
		config: config,
	}
}

// Record appends one closed trade and updates the running statistics.
// Unpriced trades are kept for the audit trail but contribute nothing to PnL
// or expectancy.
func (l *Ledger) Record(trade types.Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.trades = append(l.trades, trade)
	if trade.Unpriced {
		l.logger.Warn("unpriced trade recorded",
			zap.String("positionId", trade.PositionID),
			zap.String("closedBy", string(trade.ClosedBy)))
		return
	}

	l.realized = l.realized.Add(trade.PnL)
	l.rollDay(trade.ClosedAt)
	l.dailyPnL = l.dailyPnL.Add(trade.PnL)

	if l.realized.GreaterThan(l.peak) {
		l.peak = l.realized
	}
	dd := l.peak.Sub(l.realized)
	if dd.GreaterThan(l.maxDD) {
		l.maxDD = dd
	}

	l.logger.Info("trade recorded",
		zap.String("positionId", trade.PositionID),
		zap.String("symbol", trade.Symbol),
		zap.String("pnl", trade.PnL.String()),
		zap.String("closedBy", string(trade.ClosedBy)))
}

func (l *Ledger) rollDay(at time.Time) {
	day := at.UTC().Truncate(24 * time.Hour)
	if !day.Equal(l.dailyDay) {
		l.dailyDay = day
		l.dailyPnL = decimal.Zero
	}
}

// Trades returns a copy of all recorded trades.
func (l *Ledger) Trades() []types.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]types.Trade(nil), l.trades...)
}

// Stats returns the current rolling statistics over the configured window.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		RealizedPnL: l.realized,
		DailyPnL:    l.dailyPnL,
		MaxDrawdown: l.maxDD,
	}
	// dailyDay only advances when a trade is recorded; a day with no trades
	// reports zero, not the last traded day's figure.
	if !time.Now().UTC().Truncate(24 * time.Hour).Equal(l.dailyDay) {
		stats.DailyPnL = decimal.Zero
	}

	window := l.pricedWindow()
	stats.Trades = len(window)
	if len(window) == 0 {
		return stats
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, t := range window {
		ret := tradeReturn(t)
		if ret > 0 {
			wins++
			winSum += ret
		} else {
			losses++
			lossSum += -ret
		}
	}
	stats.Wins = wins
	stats.WinRate = float64(wins) / float64(len(window))

	avgWin, avgLoss := 0.0, 0.0
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}
	if avgLoss > 0 {
		stats.AvgWinLoss = avgWin / avgLoss
	}

	if len(window) >= l.config.MinTrades {
		// Round-trip cost: fee and slippage on both legs.
		cost := 2 * (l.config.FeeBps + l.config.SlipBps) / 10000
		stats.Expectancy = stats.WinRate*avgWin - (1-stats.WinRate)*avgLoss - cost
		stats.ExpectancyOK = true
	}
	return stats
}

func (l *Ledger) pricedWindow() []types.Trade {
	var window []types.Trade
	for i := len(l.trades) - 1; i >= 0 && len(window) < l.config.WindowSize; i-- {
		if !l.trades[i].Unpriced {
			window = append(window, l.trades[i])
		}
	}
	return window
}

// tradeReturn is the trade's fractional return on the notional at entry.
func tradeReturn(t types.Trade) float64 {
	notional := t.EntryPrice.Mul(t.ExitQty)
	if notional.IsZero() {
		return 0
	}
	v, _ := t.PnL.Div(notional).Float64()
	return v
}
