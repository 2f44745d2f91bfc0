package ledger_test

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/internal/ledger"
	"github.com/quantex-labs/trading-engine/internal/risk"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

func pricedTrade(at time.Time, pnl float64) types.Trade {
	return types.Trade{
		PositionID: "pos-1",
		Symbol:     "BTCUSDT",
		Side:       types.SideBuy,
		EntryPrice: decimal.NewFromInt(100),
		ExitQty:    decimal.NewFromInt(1),
		PnL:        decimal.NewFromFloat(pnl),
		ClosedBy:   types.CloseReasonTakeProfit,
		ClosedAt:   at,
	}
}

func TestExpectancyRequiresMinimumSample(t *testing.T) {
	l := ledger.NewLedger(zap.NewNop(), ledger.DefaultConfig())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 9; i++ {
		l.Record(pricedTrade(at, 2))
	}
	if stats := l.Stats(); stats.ExpectancyOK {
		t.Fatal("expectancy must not be reported under the minimum sample")
	}

	l.Record(pricedTrade(at, 2))
	stats := l.Stats()
	if !stats.ExpectancyOK {
		t.Fatal("expectancy must be reported at the minimum sample")
	}
	// Ten wins of 2 on 100 notional: gross 0.02, minus the round-trip cost
	// of 2*(2+2) bps.
	want := 0.02 - 0.0008
	if math.Abs(stats.Expectancy-want) > 1e-9 {
		t.Fatalf("expected expectancy %v, got %v", want, stats.Expectancy)
	}
}

func TestWinRateAndRewardRisk(t *testing.T) {
	l := ledger.NewLedger(zap.NewNop(), ledger.DefaultConfig())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 3 wins of +3 and 1 loss of -2: win rate 0.75, reward:risk 1.5.
	for i := 0; i < 3; i++ {
		l.Record(pricedTrade(at, 3))
	}
	l.Record(pricedTrade(at, -2))

	stats := l.Stats()
	if stats.Trades != 4 || stats.Wins != 3 {
		t.Fatalf("expected 3/4 wins, got %d/%d", stats.Wins, stats.Trades)
	}
	if stats.WinRate != 0.75 {
		t.Fatalf("expected win rate 0.75, got %v", stats.WinRate)
	}
	if math.Abs(stats.AvgWinLoss-1.5) > 1e-9 {
		t.Fatalf("expected reward:risk 1.5, got %v", stats.AvgWinLoss)
	}
	if !stats.RealizedPnL.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected realized 7, got %s", stats.RealizedPnL)
	}
}

func TestUnpricedTradesAreExcludedFromStatistics(t *testing.T) {
	l := ledger.NewLedger(zap.NewNop(), ledger.DefaultConfig())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	l.Record(pricedTrade(at, 5))
	unpriced := types.Trade{
		PositionID: "pos-2",
		Symbol:     "BTCUSDT",
		ClosedBy:   types.CloseReasonExternalFlat,
		ClosedAt:   at,
		Unpriced:   true,
	}
	l.Record(unpriced)

	stats := l.Stats()
	if stats.Trades != 1 {
		t.Fatalf("unpriced trade leaked into the window: %d trades", stats.Trades)
	}
	if !stats.RealizedPnL.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unpriced trade changed realized PnL: %s", stats.RealizedPnL)
	}
	// The audit trail still keeps it.
	if got := len(l.Trades()); got != 2 {
		t.Fatalf("expected 2 recorded trades, got %d", got)
	}
}

func TestDailyPnLRollsOverAtMidnightUTC(t *testing.T) {
	l := ledger.NewLedger(zap.NewNop(), ledger.DefaultConfig())
	yesterday := time.Now().UTC().Add(-48 * time.Hour)

	l.Record(pricedTrade(time.Now(), -50))
	if stats := l.Stats(); !stats.DailyPnL.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("expected daily -50, got %s", stats.DailyPnL)
	}

	l.Record(pricedTrade(yesterday, 0))
	// The last recorded trade belongs to a past day; today has no trades on
	// record, so the daily figure is zero even without a new trade to roll
	// the day over.
	stats := l.Stats()
	if !stats.DailyPnL.IsZero() {
		t.Fatalf("a day with no trades must report zero daily PnL, got %s", stats.DailyPnL)
	}

	l.Record(pricedTrade(time.Now(), 10))
	stats = l.Stats()
	if !stats.DailyPnL.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("daily PnL must reset at the UTC day boundary, got %s", stats.DailyPnL)
	}
	if !stats.RealizedPnL.Equal(decimal.NewFromInt(-40)) {
		t.Fatalf("realized PnL must carry across days, got %s", stats.RealizedPnL)
	}
}

func TestStaleDailyLossDoesNotOutliveItsDay(t *testing.T) {
	l := ledger.NewLedger(zap.NewNop(), ledger.DefaultConfig())
	yesterday := time.Now().UTC().Add(-48 * time.Hour)

	// Yesterday's loss breached the daily limit; with no trade recorded
	// today, today's daily PnL is zero and the guardrail releases.
	l.Record(pricedTrade(yesterday, -400))
	stats := l.Stats()
	if !stats.DailyPnL.IsZero() {
		t.Fatalf("yesterday's loss leaked into today: %s", stats.DailyPnL)
	}

	s := risk.NewSizer(zap.NewNop(), risk.DefaultConfig())
	if err := s.CheckGuardrails(stats, decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("yesterday's loss must not block today's entries: %v", err)
	}
}

func TestMaxDrawdownTracksPeakToTrough(t *testing.T) {
	l := ledger.NewLedger(zap.NewNop(), ledger.DefaultConfig())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	l.Record(pricedTrade(at, 100)) // peak 100
	l.Record(pricedTrade(at, -60)) // trough 40
	l.Record(pricedTrade(at, 80))  // new peak 120
	l.Record(pricedTrade(at, -30)) // trough 90

	stats := l.Stats()
	if !stats.MaxDrawdown.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected max drawdown 60, got %s", stats.MaxDrawdown)
	}
}
