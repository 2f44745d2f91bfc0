package position_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/internal/position"
	"github.com/quantex-labs/trading-engine/internal/risk"
	"github.com/quantex-labs/trading-engine/internal/venue"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

type tradeLog struct {
	mu     sync.Mutex
	trades []types.Trade
}

func (r *tradeLog) Record(t types.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
}

func (r *tradeLog) all() []types.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Trade(nil), r.trades...)
}

func newTestManager(cfg position.Config) (*position.Manager, *venue.PaperVenue, *tradeLog) {
	pv := venue.NewPaperVenue(zap.NewNop(), decimal.NewFromInt(10000))
	retrier := venue.NewRetrier(zap.NewNop(), venue.RetryConfig{
		MaxAttempts:    2,
		InitialDelay:   time.Millisecond,
		MaxDelay:       time.Millisecond,
		CallsPerSecond: 1000,
		Burst:          100,
	})
	rules := venue.InstrumentRules{
		QtyStep:  decimal.NewFromFloat(0.001),
		TickSize: decimal.NewFromFloat(0.1),
	}
	rec := &tradeLog{}
	m := position.NewManager(zap.NewNop(), cfg, pv, retrier, rules, rec)
	return m, pv, rec
}

func testPlan() risk.Plan {
	return risk.Plan{
		Quantity:     decimal.NewFromInt(1),
		StopLoss:     decimal.NewFromFloat(96.5),
		StopDistance: decimal.NewFromFloat(3.0),
		Targets: []types.TakeProfitTarget{
			{Name: "tp1", Price: decimal.NewFromInt(102), Quantity: decimal.NewFromFloat(0.4)},
			{Name: "tp2", Price: decimal.NewFromInt(103), Quantity: decimal.NewFromFloat(0.4)},
			{Name: "tp3", Price: decimal.NewFromInt(104), Quantity: decimal.NewFromFloat(0.2)},
		},
	}
}

func openTestPosition(t *testing.T, m *position.Manager) *types.Position {
	t.Helper()
	pos, err := m.Open(context.Background(), "BTCUSDT", types.SideBuy,
		decimal.NewFromInt(100), decimal.NewFromFloat(2.0), testPlan())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return pos
}

func TestOpenSubmitsLinkedOrders(t *testing.T) {
	m, pv, _ := newTestManager(position.DefaultConfig())
	pos := openTestPosition(t, m)

	orders := pv.SubmittedOrders()
	entry, ok := orders[pos.LinkPrefix+"_entry"]
	if !ok || entry.Kind != venue.OrderKindMarket {
		t.Fatalf("missing market entry order: %+v", orders)
	}
	stop, ok := orders[pos.LinkPrefix+"_sl"]
	if !ok || stop.Kind != venue.OrderKindStop || !stop.ReduceOnly {
		t.Fatalf("missing reduce-only stop order: %+v", orders)
	}
	if !stop.TriggerPrice.Equal(decimal.NewFromFloat(96.5)) {
		t.Fatalf("stop trigger: expected 96.5, got %s", stop.TriggerPrice)
	}
	for _, name := range []string{"_tp1", "_tp2", "_tp3"} {
		tp, ok := orders[pos.LinkPrefix+name]
		if !ok || tp.Kind != venue.OrderKindLimit || !tp.ReduceOnly {
			t.Fatalf("missing reduce-only limit %s: %+v", name, orders)
		}
		if tp.Side != types.SideSell {
			t.Fatalf("%s must reduce a long with a sell, got %s", name, tp.Side)
		}
	}
	if pos.Status != types.PositionOpen {
		t.Fatalf("expected OPEN, got %s", pos.Status)
	}
}

func TestMaxOpenPositionsEnforced(t *testing.T) {
	m, _, _ := newTestManager(position.DefaultConfig())
	openTestPosition(t, m)
	if _, err := m.Open(context.Background(), "BTCUSDT", types.SideBuy,
		decimal.NewFromInt(100), decimal.NewFromFloat(2.0), testPlan()); err == nil {
		t.Fatal("second position must be rejected at the limit")
	}
}

func TestTakeProfitFillMigratesStopToBreakeven(t *testing.T) {
	m, pv, rec := newTestManager(position.DefaultConfig())
	pos := openTestPosition(t, m)

	fill := types.Fill{
		LinkID:   pos.LinkPrefix + "_tp1",
		Side:     types.SideSell,
		Price:    decimal.NewFromInt(102),
		Quantity: decimal.NewFromFloat(0.4),
	}
	if err := m.OnTakeProfitFill(context.Background(), pos.ID, fill); err != nil {
		t.Fatalf("OnTakeProfitFill: %v", err)
	}

	got, _ := m.Get(pos.ID)
	if got.Status != types.PositionPartiallyClosed {
		t.Fatalf("expected PARTIALLY_CLOSED, got %s", got.Status)
	}
	if !got.Quantity.Equal(decimal.NewFromFloat(0.6)) {
		t.Fatalf("expected remaining 0.6, got %s", got.Quantity)
	}
	// Breakeven offset: max(ATR*0.10=0.2, entry*0.001=0.1) above entry.
	if !got.StopLoss.Equal(decimal.NewFromFloat(100.2)) {
		t.Fatalf("expected breakeven stop 100.2, got %s", got.StopLoss)
	}

	orders := pv.SubmittedOrders()
	if _, still := orders[pos.LinkPrefix+"_sl"]; still {
		t.Fatal("original stop must be cancelled before breakeven migration")
	}
	be, ok := orders[pos.LinkPrefix+"_sl_be"]
	if !ok || !be.TriggerPrice.Equal(decimal.NewFromFloat(100.2)) {
		t.Fatalf("missing breakeven stop at 100.2: %+v", orders)
	}

	trades := rec.all()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if !trades[0].PnL.Equal(decimal.NewFromFloat(0.8)) {
		t.Fatalf("expected PnL 0.8, got %s", trades[0].PnL)
	}

	// Replaying the same fill must change nothing.
	if err := m.OnTakeProfitFill(context.Background(), pos.ID, fill); err != nil {
		t.Fatalf("fill replay: %v", err)
	}
	got, _ = m.Get(pos.ID)
	if !got.Quantity.Equal(decimal.NewFromFloat(0.6)) || len(rec.all()) != 1 {
		t.Fatal("fill replay must be a no-op")
	}
}

func TestPartialTakeProfitFillsAccumulate(t *testing.T) {
	m, pv, rec := newTestManager(position.DefaultConfig())
	pos := openTestPosition(t, m)
	ctx := context.Background()

	// The 0.4 tp1 limit order fills in two 0.2 executions.
	first := types.Fill{
		ExecID:   "e1",
		LinkID:   pos.LinkPrefix + "_tp1",
		Side:     types.SideSell,
		Price:    decimal.NewFromInt(102),
		Quantity: decimal.NewFromFloat(0.2),
	}
	if err := m.OnTakeProfitFill(ctx, pos.ID, first); err != nil {
		t.Fatalf("first partial fill: %v", err)
	}
	got, _ := m.Get(pos.ID)
	if !got.Quantity.Equal(decimal.NewFromFloat(0.8)) {
		t.Fatalf("expected remaining 0.8 after first partial, got %s", got.Quantity)
	}
	// The target is not complete yet: the stop stays where it was.
	if _, still := pv.SubmittedOrders()[pos.LinkPrefix+"_sl"]; !still {
		t.Fatal("stop migrated before the target completed")
	}

	second := first
	second.ExecID = "e2"
	if err := m.OnTakeProfitFill(ctx, pos.ID, second); err != nil {
		t.Fatalf("second partial fill: %v", err)
	}
	got, _ = m.Get(pos.ID)
	if !got.Quantity.Equal(decimal.NewFromFloat(0.6)) {
		t.Fatalf("expected remaining 0.6 after both partials, got %s", got.Quantity)
	}
	if len(rec.all()) != 2 {
		t.Fatalf("expected one trade per execution, got %d", len(rec.all()))
	}
	// The completed target migrates the stop to breakeven.
	orders := pv.SubmittedOrders()
	if _, still := orders[pos.LinkPrefix+"_sl"]; still {
		t.Fatal("original stop must be cancelled once the target completes")
	}
	if be, ok := orders[pos.LinkPrefix+"_sl_be"]; !ok || !be.TriggerPrice.Equal(decimal.NewFromFloat(100.2)) {
		t.Fatalf("missing breakeven stop at 100.2: %+v", orders)
	}

	// Redelivery of an applied execution is a no-op.
	if err := m.OnTakeProfitFill(ctx, pos.ID, second); err != nil {
		t.Fatalf("redelivered execution: %v", err)
	}
	// A fresh execution against the exhausted target is absorbed too.
	third := first
	third.ExecID = "e3"
	if err := m.OnTakeProfitFill(ctx, pos.ID, third); err != nil {
		t.Fatalf("fill on exhausted target: %v", err)
	}
	got, _ = m.Get(pos.ID)
	if !got.Quantity.Equal(decimal.NewFromFloat(0.6)) || len(rec.all()) != 2 {
		t.Fatal("exhausted target must not reduce the position again")
	}
}

func TestCanOpenHonorsConfiguredLimit(t *testing.T) {
	cfg := position.DefaultConfig()
	cfg.MaxOpenPositions = 2
	m, _, _ := newTestManager(cfg)

	if !m.CanOpen("BTCUSDT") {
		t.Fatal("empty book must allow an open")
	}
	openTestPosition(t, m)
	if !m.CanOpen("BTCUSDT") {
		t.Fatal("one open position under a limit of two must allow another")
	}
	openTestPosition(t, m)
	if m.CanOpen("BTCUSDT") {
		t.Fatal("limit reached, CanOpen must refuse")
	}
}

func TestTrailingStopRatchetsOnly(t *testing.T) {
	cfg := position.DefaultConfig()
	cfg.PyramidEnabled = false
	m, pv, _ := newTestManager(cfg)
	pos := openTestPosition(t, m)
	ctx := context.Background()
	atr := decimal.NewFromFloat(2.0)

	// Best price 105 trails the stop to 105 - 3.0.
	m.OnBar(ctx, "BTCUSDT", decimal.NewFromInt(105), atr)
	got, _ := m.Get(pos.ID)
	if !got.StopLoss.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("expected trailed stop 102, got %s", got.StopLoss)
	}

	// A pullback must not loosen the stop.
	m.OnBar(ctx, "BTCUSDT", decimal.NewFromInt(101), atr)
	got, _ = m.Get(pos.ID)
	if !got.StopLoss.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("stop loosened on pullback: %s", got.StopLoss)
	}

	// A new high ratchets again.
	m.OnBar(ctx, "BTCUSDT", decimal.NewFromInt(110), atr)
	got, _ = m.Get(pos.ID)
	if !got.StopLoss.Equal(decimal.NewFromInt(107)) {
		t.Fatalf("expected trailed stop 107, got %s", got.StopLoss)
	}

	stop, ok := pv.SubmittedOrders()[pos.LinkPrefix+"_sl"]
	if !ok || !stop.TriggerPrice.Equal(decimal.NewFromInt(107)) {
		t.Fatalf("venue stop not replaced at 107: %+v", stop)
	}
}

func TestPyramidingAddsToWinner(t *testing.T) {
	m, pv, _ := newTestManager(position.DefaultConfig())
	pos := openTestPosition(t, m)
	ctx := context.Background()
	atr := decimal.NewFromFloat(2.0)

	// First step: 0.7 * ATR = 1.4 beyond entry.
	m.OnBar(ctx, "BTCUSDT", decimal.NewFromInt(102), atr)
	got, _ := m.Get(pos.ID)
	if got.AddsCount != 1 {
		t.Fatalf("expected 1 add, got %d", got.AddsCount)
	}
	if !got.Quantity.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("expected qty 1.5 after add, got %s", got.Quantity)
	}
	// Weighted entry: (100*1 + 102*0.5) / 1.5
	if got.EntryPrice.Sub(decimal.NewFromFloat(100.6667)).Abs().GreaterThan(decimal.NewFromFloat(0.001)) {
		t.Fatalf("expected avg entry ~100.667, got %s", got.EntryPrice)
	}
	if _, ok := pv.SubmittedOrders()[pos.LinkPrefix+"_add1"]; !ok {
		t.Fatal("missing add1 order")
	}

	// Same price again: the next step is 2 * 0.7 * ATR from the new average,
	// not reached yet.
	m.OnBar(ctx, "BTCUSDT", decimal.NewFromInt(102), atr)
	got, _ = m.Get(pos.ID)
	if got.AddsCount != 1 {
		t.Fatalf("add repeated without a fresh advance: %d", got.AddsCount)
	}

	// Second step reached, then the add budget is exhausted.
	m.OnBar(ctx, "BTCUSDT", decimal.NewFromInt(105), atr)
	m.OnBar(ctx, "BTCUSDT", decimal.NewFromInt(120), atr)
	got, _ = m.Get(pos.ID)
	if got.AddsCount != 2 {
		t.Fatalf("expected 2 adds, got %d", got.AddsCount)
	}
	if !got.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected qty 2 after both adds, got %s", got.Quantity)
	}
}

func TestStopFillClosesRemainder(t *testing.T) {
	m, _, rec := newTestManager(position.DefaultConfig())
	pos := openTestPosition(t, m)

	err := m.OnStopFill(pos.ID, types.Fill{
		LinkID: pos.LinkPrefix + "_sl",
		Price:  decimal.NewFromFloat(96.5),
	})
	if err != nil {
		t.Fatalf("OnStopFill: %v", err)
	}

	got, _ := m.Get(pos.ID)
	if got.Status != types.PositionClosed || got.CloseReason != types.CloseReasonStopLoss {
		t.Fatalf("expected CLOSED by stop, got %s/%s", got.Status, got.CloseReason)
	}
	trades := rec.all()
	if len(trades) != 1 || !trades[0].PnL.Equal(decimal.NewFromFloat(-3.5)) {
		t.Fatalf("expected one losing trade of -3.5, got %+v", trades)
	}
	if n := len(m.OpenPositions("BTCUSDT")); n != 0 {
		t.Fatalf("closed position still listed open: %d", n)
	}
}

func TestCloseExternalRecordsUnpricedTrade(t *testing.T) {
	m, _, rec := newTestManager(position.DefaultConfig())
	pos := openTestPosition(t, m)

	if err := m.CloseExternal(pos.ID); err != nil {
		t.Fatalf("CloseExternal: %v", err)
	}
	got, _ := m.Get(pos.ID)
	if got.Status != types.PositionClosed || got.CloseReason != types.CloseReasonExternalFlat {
		t.Fatalf("expected CLOSED by EXTERNAL_FLAT, got %s/%s", got.Status, got.CloseReason)
	}
	if !got.UnreconciledPnL {
		t.Fatal("externally closed position must be flagged for reconciliation")
	}
	trades := rec.all()
	if len(trades) != 1 || !trades[0].Unpriced {
		t.Fatalf("expected one unpriced trade, got %+v", trades)
	}
	if !trades[0].PnL.IsZero() {
		t.Fatalf("unpriced trade must not fabricate PnL: %s", trades[0].PnL)
	}
}

func TestAdoptTracksVenuePosition(t *testing.T) {
	m, _, _ := newTestManager(position.DefaultConfig())

	pos := m.Adopt(types.PositionSnapshot{
		Symbol:   "BTCUSDT",
		Side:     types.SideSell,
		Quantity: decimal.NewFromFloat(0.5),
		AvgPrice: decimal.NewFromInt(100),
	})
	if !pos.Synthetic {
		t.Fatal("adopted position must be marked synthetic")
	}
	if pos.LinkPrefix[:3] != "hb_" {
		t.Fatalf("adopted link prefix must carry the hb_ marker, got %s", pos.LinkPrefix)
	}
	if !m.NetQuantity("BTCUSDT").Equal(decimal.NewFromFloat(-0.5)) {
		t.Fatalf("expected net -0.5, got %s", m.NetQuantity("BTCUSDT"))
	}
}

func TestFindByLinkResolvesRoles(t *testing.T) {
	m, _, _ := newTestManager(position.DefaultConfig())
	pos := openTestPosition(t, m)

	cases := map[string]types.OrderRole{
		pos.LinkPrefix + "_entry": types.OrderRoleEntry,
		pos.LinkPrefix + "_add1":  types.OrderRoleEntry,
		pos.LinkPrefix + "_sl":    types.OrderRoleStop,
		pos.LinkPrefix + "_sl_be": types.OrderRoleStop,
		pos.LinkPrefix + "_tp2":   types.OrderRoleTakeProfit,
	}
	for link, want := range cases {
		found, role, ok := m.FindByLink(link)
		if !ok || role != want || found.ID != pos.ID {
			t.Errorf("FindByLink(%s): got role %s ok=%v", link, role, ok)
		}
	}
	if _, _, ok := m.FindByLink("deadbeef_sl"); ok {
		t.Error("unknown prefix must not resolve")
	}
}
