// Package position owns all tracked positions for the engine. The Manager is
// the single writer of position state: the evaluation loop, the fill sync and
// the heartbeat all mutate positions through it, serialized by one mutex, so
// every position's transitions are totally ordered.
package position

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/internal/risk"
	"github.com/quantex-labs/trading-engine/internal/venue"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

// Config holds the lifecycle constants.
type Config struct {
	MaxOpenPositions int `mapstructure:"max_open_positions"`
	// TrailATRMult is the trailing stop distance from the best favorable
	// price, in ATRs.
	TrailATRMult float64 `mapstructure:"trail_atr_mult"`
	// Breakeven migration after the first take-profit fill.
	BreakevenEnabled bool `mapstructure:"breakeven_enabled"`
	// BreakevenATRMult and BreakevenLockInPct define the offset from entry;
	// the larger of the two (in price terms) is used.
	BreakevenATRMult   float64 `mapstructure:"breakeven_atr_mult"`
	BreakevenLockInPct float64 `mapstructure:"breakeven_lock_in_pct"`
	// Pyramiding adds while the position runs favorably.
	PyramidEnabled bool    `mapstructure:"pyramid_enabled"`
	PyramidStepATR float64 `mapstructure:"pyramid_step_atr"`
	PyramidMaxAdds int     `mapstructure:"pyramid_max_adds"`
	PyramidAddPct  float64 `mapstructure:"pyramid_add_pct"`
}

// DefaultConfig returns the standard lifecycle constants.
func DefaultConfig() Config {
	return Config{
		MaxOpenPositions:   1,
		TrailATRMult:       1.5,
		BreakevenEnabled:   true,
		BreakevenATRMult:   0.10,
		BreakevenLockInPct: 0.001,
		PyramidEnabled:     true,
		PyramidStepATR:     0.7,
		PyramidMaxAdds:     2,
		PyramidAddPct:      0.5,
	}
}

// TradeRecorder receives the immutable trade emitted on every full or partial
// close. The performance ledger implements it.
type TradeRecorder interface {
	Record(types.Trade)
}

// Manager is the position store and state machine.
type Manager struct {
	logger   *zap.Logger
	config   Config
	gateway  venue.OrderGateway
	retrier  *venue.Retrier
	rules    venue.InstrumentRules
	recorder TradeRecorder

	mu        sync.Mutex
	positions map[string]*types.Position
	seenFills map[string]struct{}
	hooks     []func(types.Position)
}

// NewManager creates a position manager.
func NewManager(logger *zap.Logger, config Config, gateway venue.OrderGateway, retrier *venue.Retrier, rules venue.InstrumentRules, recorder TradeRecorder) *Manager {
	if config.MaxOpenPositions == 0 {
		config = DefaultConfig()
	}
	return &Manager{
		logger:    logger.Named("position"),
		config:    config,
		gateway:   gateway,
		retrier:   retrier,
		rules:     rules,
		recorder:  recorder,
		positions: make(map[string]*types.Position),
		seenFills: make(map[string]struct{}),
	}
}

// OnChange registers a hook invoked with a copy of a position after every
// state change. Hooks run under the store lock and must not block.
func (m *Manager) OnChange(fn func(types.Position)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *Manager) notify(p *types.Position) {
	for _, fn := range m.hooks {
		fn(*p)
	}
}

// Open creates a position from a sized plan: market entry, then protective
// stop and take-profit ladder. If the entry is not confirmed the position is
// not tracked; a failed stop or target submission keeps the position with the
// orders that did succeed, and the next reconciliation pass resolves the gap.
func (m *Manager) Open(ctx context.Context, symbol string, side types.Side, price decimal.Decimal, atr decimal.Decimal, plan risk.Plan) (*types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openCountLocked(symbol) >= m.config.MaxOpenPositions {
		return nil, fmt.Errorf("position: max open positions reached for %s", symbol)
	}

	id := uuid.New().String()
	prefix := strings.Split(id, "-")[0]
	pos := &types.Position{
		ID:                 id,
		Symbol:             symbol,
		Side:               side,
		EntryPrice:         price,
		Quantity:           plan.Quantity,
		InitialQuantity:    plan.Quantity,
		StopLoss:           plan.StopLoss,
		InitialStopLoss:    plan.StopLoss,
		Status:             types.PositionOpening,
		OpenedAt:           time.Now(),
		BestFavorablePrice: price,
		ATRAtEntry:         atr,
		LinkPrefix:         prefix,
	}

	if err := m.submit(ctx, venue.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Kind:     venue.OrderKindMarket,
		Quantity: plan.Quantity,
		LinkID:   prefix + "_entry",
	}); err != nil {
		return nil, fmt.Errorf("position: entry rejected: %w", err)
	}
	pos.Status = types.PositionOpen
	m.positions[id] = pos

	if err := m.placeStopLocked(ctx, pos, plan.StopLoss, "_sl"); err != nil {
		m.logger.Error("stop placement failed, position unprotected until reconciliation",
			zap.String("positionId", id), zap.Error(err))
	}
	for i := range plan.Targets {
		t := plan.Targets[i]
		t.LinkID = fmt.Sprintf("%s_%s", prefix, t.Name)
		if err := m.submit(ctx, venue.OrderRequest{
			Symbol:     symbol,
			Side:       side.Opposite(),
			Kind:       venue.OrderKindLimit,
			Quantity:   t.Quantity,
			Price:      t.Price,
			ReduceOnly: true,
			LinkID:     t.LinkID,
		}); err != nil {
			m.logger.Error("take-profit placement failed",
				zap.String("linkId", t.LinkID), zap.Error(err))
			// Target stays in the plan without a venue order; the next
			// evaluation pass may re-place it.
			t.LinkID = ""
		}
		pos.TakeProfitTargets = append(pos.TakeProfitTargets, t)
	}

	m.logger.Info("position opened",
		zap.String("positionId", id),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("entry", price.String()),
		zap.String("qty", plan.Quantity.String()),
		zap.String("stop", plan.StopLoss.String()))
	m.notify(pos)
	return pos, nil
}

// OnBar updates every open position for the symbol against the latest closed
// candle: ratchets the trailing stop and checks the pyramiding step.
func (m *Manager) OnBar(ctx context.Context, symbol string, price decimal.Decimal, atr decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pos := range m.positions {
		if pos.Symbol != symbol || !pos.IsOpen() {
			continue
		}
		m.updateBestPriceLocked(pos, price)
		m.trailLocked(ctx, pos, atr)
		m.pyramidLocked(ctx, pos, price, atr)
	}
}

func (m *Manager) updateBestPriceLocked(pos *types.Position, price decimal.Decimal) {
	if pos.Side == types.SideBuy && price.GreaterThan(pos.BestFavorablePrice) {
		pos.BestFavorablePrice = price
	}
	if pos.Side == types.SideSell && price.LessThan(pos.BestFavorablePrice) {
		pos.BestFavorablePrice = price
	}
}

// trailLocked recomputes the trailing stop from the best favorable price and
// moves the venue stop only when the new level is strictly more favorable.
func (m *Manager) trailLocked(ctx context.Context, pos *types.Position, atr decimal.Decimal) {
	if atr.LessThanOrEqual(decimal.Zero) {
		return
	}
	dist := atr.Mul(decimal.NewFromFloat(m.config.TrailATRMult))
	var candidate decimal.Decimal
	if pos.Side == types.SideBuy {
		candidate = m.rules.RoundPrice(pos.BestFavorablePrice.Sub(dist))
		if candidate.LessThanOrEqual(pos.StopLoss) {
			return
		}
	} else {
		candidate = m.rules.RoundPrice(pos.BestFavorablePrice.Add(dist))
		if candidate.GreaterThanOrEqual(pos.StopLoss) {
			return
		}
	}
	if err := m.replaceStopLocked(ctx, pos, candidate, "_sl"); err != nil {
		m.logger.Warn("trailing stop move failed", zap.String("positionId", pos.ID), zap.Error(err))
		return
	}
	m.logger.Info("trailing stop ratcheted",
		zap.String("positionId", pos.ID),
		zap.String("stop", candidate.String()))
	m.notify(pos)
}

// pyramidLocked adds to a winner once price has advanced a full step beyond
// the last add level.
func (m *Manager) pyramidLocked(ctx context.Context, pos *types.Position, price, atr decimal.Decimal) {
	if !m.config.PyramidEnabled || pos.AddsCount >= m.config.PyramidMaxAdds ||
		pos.Status != types.PositionOpen || atr.LessThanOrEqual(decimal.Zero) {
		return
	}
	step := atr.
		Mul(decimal.NewFromFloat(m.config.PyramidStepATR)).
		Mul(decimal.NewFromInt(int64(pos.AddsCount + 1)))

	var advanced bool
	if pos.Side == types.SideBuy {
		advanced = price.Sub(pos.EntryPrice).GreaterThanOrEqual(step)
	} else {
		advanced = pos.EntryPrice.Sub(price).GreaterThanOrEqual(step)
	}
	if !advanced {
		return
	}

	addQty := m.rules.RoundQtyDown(pos.InitialQuantity.Mul(decimal.NewFromFloat(m.config.PyramidAddPct)))
	if addQty.LessThanOrEqual(decimal.Zero) {
		return
	}
	linkID := fmt.Sprintf("%s_add%d", pos.LinkPrefix, pos.AddsCount+1)
	if err := m.submit(ctx, venue.OrderRequest{
		Symbol:   pos.Symbol,
		Side:     pos.Side,
		Kind:     venue.OrderKindMarket,
		Quantity: addQty,
		LinkID:   linkID,
	}); err != nil {
		m.logger.Warn("pyramid add rejected", zap.String("positionId", pos.ID), zap.Error(err))
		return
	}

	oldValue := pos.EntryPrice.Mul(pos.Quantity)
	addValue := price.Mul(addQty)
	pos.Quantity = pos.Quantity.Add(addQty)
	pos.EntryPrice = oldValue.Add(addValue).Div(pos.Quantity)
	pos.AddsCount++

	m.logger.Info("pyramid add filled",
		zap.String("positionId", pos.ID),
		zap.Int("adds", pos.AddsCount),
		zap.String("addQty", addQty.String()),
		zap.String("avgEntry", pos.EntryPrice.String()))
	m.notify(pos)
}

// OnTakeProfitFill applies one execution matched to a take-profit link:
// reduces the position by the execution quantity, emits the partial trade and,
// once the first target is completely filled, migrates the stop to breakeven.
// A target can fill across several executions; each distinct execution is
// applied once and replays are no-ops.
func (m *Manager) OnTakeProfitFill(ctx context.Context, positionID string, fill types.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return fmt.Errorf("position: %s unknown", positionID)
	}
	if _, dup := m.seenFills[fillKey(fill)]; dup {
		return nil // already applied, fill replay is a no-op
	}
	if !pos.IsOpen() {
		return fmt.Errorf("position: %s not open", positionID)
	}

	var target *types.TakeProfitTarget
	for i := range pos.TakeProfitTargets {
		if pos.TakeProfitTargets[i].LinkID == fill.LinkID {
			target = &pos.TakeProfitTargets[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("position: no target for link %s", fill.LinkID)
	}

	remaining := target.Quantity.Sub(target.FilledQty)
	if remaining.LessThanOrEqual(decimal.Zero) {
		m.seenFills[fillKey(fill)] = struct{}{}
		return nil
	}
	qty := fill.Quantity
	if qty.GreaterThan(remaining) {
		qty = remaining
	}
	target.FilledQty = target.FilledQty.Add(qty)
	target.Filled = target.FilledQty.GreaterThanOrEqual(target.Quantity)
	m.seenFills[fillKey(fill)] = struct{}{}

	m.reduceLocked(pos, qty, fill.Price, types.CloseReasonTakeProfit)
	if pos.Status == types.PositionClosed {
		return nil
	}

	if m.config.BreakevenEnabled && target.Name == "tp1" && target.Filled {
		m.breakevenLocked(ctx, pos)
	}
	m.notify(pos)
	return nil
}

// fillKey identifies one execution for replay dedup. Venues that omit an
// execution ID fall back to link and timestamp identity.
func fillKey(fill types.Fill) string {
	if fill.ExecID != "" {
		return fill.ExecID
	}
	return fmt.Sprintf("%s@%d", fill.LinkID, fill.Timestamp.UnixNano())
}

// breakevenLocked moves the stop to entry plus a small favorable offset, the
// larger of an ATR fraction and a lock-in percentage. The stop only moves if
// the new level improves on the current one.
func (m *Manager) breakevenLocked(ctx context.Context, pos *types.Position) {
	atrOffset := pos.ATRAtEntry.Mul(decimal.NewFromFloat(m.config.BreakevenATRMult))
	pctOffset := pos.EntryPrice.Mul(decimal.NewFromFloat(m.config.BreakevenLockInPct))
	offset := decimal.Max(atrOffset, pctOffset)

	var candidate decimal.Decimal
	if pos.Side == types.SideBuy {
		candidate = m.rules.RoundPrice(pos.EntryPrice.Add(offset))
		if candidate.LessThanOrEqual(pos.StopLoss) {
			return
		}
	} else {
		candidate = m.rules.RoundPrice(pos.EntryPrice.Sub(offset))
		if candidate.GreaterThanOrEqual(pos.StopLoss) {
			return
		}
	}
	if err := m.replaceStopLocked(ctx, pos, candidate, "_sl_be"); err != nil {
		m.logger.Warn("breakeven migration failed", zap.String("positionId", pos.ID), zap.Error(err))
		return
	}
	m.logger.Info("stop migrated to breakeven",
		zap.String("positionId", pos.ID),
		zap.String("stop", candidate.String()))
}

// OnStopFill applies a stop fill: the remaining quantity is closed. Replays
// of an applied execution are no-ops.
func (m *Manager) OnStopFill(positionID string, fill types.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return fmt.Errorf("position: %s unknown", positionID)
	}
	if _, dup := m.seenFills[fillKey(fill)]; dup {
		return nil
	}
	if !pos.IsOpen() {
		return fmt.Errorf("position: %s not open", positionID)
	}
	m.seenFills[fillKey(fill)] = struct{}{}
	m.reduceLocked(pos, pos.Quantity, fill.Price, types.CloseReasonStopLoss)
	m.notify(pos)
	return nil
}

// CloseExternal marks a position CLOSED because the venue reports flat. No
// exit price is fabricated; the trade is recorded unpriced and the position
// flagged for manual PnL reconciliation.
func (m *Manager) CloseExternal(positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok || !pos.IsOpen() {
		return fmt.Errorf("position: %s not open", positionID)
	}
	now := time.Now()
	pos.Status = types.PositionClosed
	pos.ClosedAt = &now
	pos.CloseReason = types.CloseReasonExternalFlat
	pos.UnreconciledPnL = true

	m.recorder.Record(types.Trade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitQty:    pos.Quantity,
		ClosedBy:   types.CloseReasonExternalFlat,
		ClosedAt:   now,
		Unpriced:   true,
	})
	pos.Quantity = decimal.Zero

	m.logger.Warn("position closed externally, pnl unreconciled",
		zap.String("positionId", pos.ID))
	m.notify(pos)
	return nil
}

// Adopt registers a position synthesized from a venue snapshot, so an
// untracked venue position comes under management.
func (m *Manager) Adopt(snap types.PositionSnapshot) *types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	pos := &types.Position{
		ID:                 id,
		Symbol:             snap.Symbol,
		Side:               snap.Side,
		EntryPrice:         snap.AvgPrice,
		Quantity:           snap.Quantity,
		InitialQuantity:    snap.Quantity,
		Status:             types.PositionOpen,
		OpenedAt:           time.Now(),
		BestFavorablePrice: snap.AvgPrice,
		LinkPrefix:         "hb_" + strings.Split(id, "-")[0],
		Synthetic:          true,
	}
	m.positions[id] = pos
	m.logger.Warn("adopted venue position",
		zap.String("positionId", id),
		zap.String("symbol", snap.Symbol),
		zap.String("qty", snap.Quantity.String()))
	m.notify(pos)
	return pos
}

// reduceLocked removes qty at price, emits the trade and closes the position
// when quantity reaches zero.
func (m *Manager) reduceLocked(pos *types.Position, qty, price decimal.Decimal, reason types.CloseReason) {
	if qty.GreaterThan(pos.Quantity) {
		qty = pos.Quantity
	}
	pnl := price.Sub(pos.EntryPrice).Mul(qty)
	if pos.Side == types.SideSell {
		pnl = pos.EntryPrice.Sub(price).Mul(qty)
	}
	now := time.Now()
	m.recorder.Record(types.Trade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		ExitQty:    qty,
		PnL:        pnl,
		ClosedBy:   reason,
		ClosedAt:   now,
	})

	pos.Quantity = pos.Quantity.Sub(qty)
	if pos.Quantity.LessThanOrEqual(decimal.Zero) {
		pos.Quantity = decimal.Zero
		pos.Status = types.PositionClosed
		pos.ClosedAt = &now
		pos.CloseReason = reason
		m.logger.Info("position closed",
			zap.String("positionId", pos.ID),
			zap.String("reason", string(reason)),
			zap.String("pnl", pnl.String()))
	} else {
		pos.Status = types.PositionPartiallyClosed
		m.logger.Info("position partially closed",
			zap.String("positionId", pos.ID),
			zap.String("exitQty", qty.String()),
			zap.String("remaining", pos.Quantity.String()))
	}
}

// placeStopLocked submits the protective stop order under the given link
// suffix and records the new stop level on success.
func (m *Manager) placeStopLocked(ctx context.Context, pos *types.Position, stop decimal.Decimal, suffix string) error {
	if err := m.submit(ctx, venue.OrderRequest{
		Symbol:       pos.Symbol,
		Side:         pos.Side.Opposite(),
		Kind:         venue.OrderKindStop,
		Quantity:     pos.Quantity,
		TriggerPrice: stop,
		ReduceOnly:   true,
		LinkID:       pos.LinkPrefix + suffix,
	}); err != nil {
		return err
	}
	pos.StopLoss = stop
	return nil
}

// replaceStopLocked cancels the active stop and places a replacement. If the
// new placement fails the position keeps its previous stop level recorded;
// the venue-side gap is healed by reconciliation.
func (m *Manager) replaceStopLocked(ctx context.Context, pos *types.Position, stop decimal.Decimal, suffix string) error {
	for _, old := range []string{"_sl", "_sl_be"} {
		if err := m.gateway.CancelOrder(ctx, pos.Symbol, pos.LinkPrefix+old); err != nil {
			m.logger.Debug("stop cancel skipped", zap.String("linkId", pos.LinkPrefix+old), zap.Error(err))
		}
	}
	return m.placeStopLocked(ctx, pos, stop, suffix)
}

func (m *Manager) submit(ctx context.Context, req venue.OrderRequest) error {
	return m.retrier.Do(ctx, "submit_order", func(ctx context.Context) error {
		_, err := m.gateway.SubmitOrder(ctx, req)
		return err
	})
}

func (m *Manager) openCountLocked(symbol string) int {
	n := 0
	for _, p := range m.positions {
		if p.Symbol == symbol && p.IsOpen() {
			n++
		}
	}
	return n
}

// Open positions and lookup accessors. All return copies.

// CanOpen reports whether another position may be opened for symbol under the
// configured limit.
func (m *Manager) CanOpen(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCountLocked(symbol) < m.config.MaxOpenPositions
}

// OpenPositions returns the open positions for symbol.
func (m *Manager) OpenPositions(symbol string) []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Position
	for _, p := range m.positions {
		if p.Symbol == symbol && p.IsOpen() {
			out = append(out, *p)
		}
	}
	return out
}

// All returns every tracked position, open or closed.
func (m *Manager) All() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// Get returns a copy of one position.
func (m *Manager) Get(id string) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// FindByLink resolves an order link ID to its owning position and role using
// the link prefix and suffix conventions.
func (m *Manager) FindByLink(linkID string) (types.Position, types.OrderRole, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if !strings.HasPrefix(linkID, p.LinkPrefix+"_") {
			continue
		}
		suffix := strings.TrimPrefix(linkID, p.LinkPrefix+"_")
		switch {
		case suffix == "entry" || strings.HasPrefix(suffix, "add"):
			return *p, types.OrderRoleEntry, true
		case suffix == "sl" || suffix == "sl_be":
			return *p, types.OrderRoleStop, true
		case strings.HasPrefix(suffix, "tp"):
			return *p, types.OrderRoleTakeProfit, true
		}
	}
	return types.Position{}, "", false
}

// NetQuantity returns the signed net open quantity for symbol, buys positive.
func (m *Manager) NetQuantity(symbol string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	net := decimal.Zero
	for _, p := range m.positions {
		if p.Symbol != symbol || !p.IsOpen() {
			continue
		}
		if p.Side == types.SideBuy {
			net = net.Add(p.Quantity)
		} else {
			net = net.Sub(p.Quantity)
		}
	}
	return net
}
