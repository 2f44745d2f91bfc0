// Package engine runs the evaluation loop: fetch candles, advance the
// indicator pipeline on each newly closed bar, classify the regime, score the
// confluence, size and open positions, and manage the ones already open. One
// engine owns one symbol.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/internal/indicator"
	"github.com/quantex-labs/trading-engine/internal/ledger"
	"github.com/quantex-labs/trading-engine/internal/position"
	"github.com/quantex-labs/trading-engine/internal/regime"
	"github.com/quantex-labs/trading-engine/internal/risk"
	"github.com/quantex-labs/trading-engine/internal/scorer"
	"github.com/quantex-labs/trading-engine/internal/telemetry"
	"github.com/quantex-labs/trading-engine/internal/venue"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

// Config holds the loop settings.
type Config struct {
	Symbol   string
	Interval string
	// HigherTimeframes are confirming intervals whose trend direction feeds
	// the scorer.
	HigherTimeframes []string
	CandleLimit      int
	// PollInterval is how often the loop polls for a newly closed candle.
	PollInterval   time.Duration
	EquityCurrency string
	IndicatorConf  indicator.Config
}

// DefaultConfig returns the standard loop settings.
func DefaultConfig() Config {
	return Config{
		Symbol:           "BTCUSDT",
		Interval:         "5m",
		HigherTimeframes: []string{"1h", "4h"},
		CandleLimit:      300,
		PollInterval:     10 * time.Second,
		EquityCurrency:   "USDT",
		IndicatorConf:    indicator.DefaultConfig(),
	}
}

// feeder pairs a candle series with a pipeline so every closed candle is fed
// exactly once. Replays of the still-forming candle advance nothing, which
// makes evaluation idempotent per closed bar.
type feeder struct {
	series *types.CandleSeries
	pipe   *indicator.Pipeline
	snap   indicator.Snapshot
	warmed bool
}

func newFeeder(logger *zap.Logger, conf indicator.Config, maxLen int) *feeder {
	return &feeder{
		series: types.NewCandleSeries(maxLen),
		pipe:   indicator.NewPipeline(logger, conf),
	}
}

// apply folds a fetched batch into the series. It reports whether at least
// one candle closed since the previous call.
func (f *feeder) apply(candles []types.Candle) (indicator.Snapshot, bool) {
	newBar := false
	for _, c := range candles {
		if closed := f.series.Update(c); closed {
			justClosed, ok := f.series.LastClosed()
			if !ok {
				continue
			}
			f.snap = f.pipe.OnClosedCandle(justClosed)
			f.warmed = true
			newBar = true
		}
	}
	return f.snap, newBar && f.warmed
}

// Engine is the per-symbol evaluation loop.
type Engine struct {
	logger  *zap.Logger
	config  Config
	venue   venue.Venue
	retrier *venue.Retrier

	feeder     *feeder
	htfFeeders map[string]*feeder

	detector *regime.Detector
	scorer   *scorer.Scorer
	sizer    *risk.Sizer
	manager  *position.Manager
	ledger   *ledger.Ledger
	metrics  *telemetry.Metrics
	rules    venue.InstrumentRules

	onSignal func(types.Signal)

	mu         sync.RWMutex
	lastSignal types.Signal
	hasSignal  bool
}

// NewEngine wires the evaluation loop.
func NewEngine(logger *zap.Logger, config Config, v venue.Venue, retrier *venue.Retrier, detector *regime.Detector, sc *scorer.Scorer, sizer *risk.Sizer, manager *position.Manager, ldg *ledger.Ledger, metrics *telemetry.Metrics, rules venue.InstrumentRules) *Engine {
	if config.Symbol == "" {
		config = DefaultConfig()
	}
	e := &Engine{
		logger:     logger.Named("engine"),
		config:     config,
		venue:      v,
		retrier:    retrier,
		feeder:     newFeeder(logger, config.IndicatorConf, config.CandleLimit+1),
		htfFeeders: make(map[string]*feeder),
		detector:   detector,
		scorer:     sc,
		sizer:      sizer,
		manager:    manager,
		ledger:     ldg,
		metrics:    metrics,
		rules:      rules,
	}
	for _, tf := range config.HigherTimeframes {
		e.htfFeeders[tf] = newFeeder(logger, config.IndicatorConf, config.CandleLimit+1)
	}
	return e
}

// OnSignal registers a hook invoked with every emitted signal.
func (e *Engine) OnSignal(fn func(types.Signal)) {
	e.onSignal = fn
}

// LastSignal returns the most recent signal.
func (e *Engine) LastSignal() (types.Signal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSignal, e.hasSignal
}

// Run polls for new closed candles until the context is cancelled. Failures
// degrade to skipping the cycle; nothing here terminates the process.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine started",
		zap.String("symbol", e.config.Symbol),
		zap.String("interval", e.config.Interval),
		zap.Duration("poll", e.config.PollInterval))

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return
		case <-ticker.C:
			if err := e.cycle(ctx); err != nil {
				e.metrics.VenueErrors.Inc()
				e.logger.Warn("evaluation cycle failed", zap.Error(err))
			}
		}
	}
}

// cycle fetches market data and evaluates when a candle has closed.
func (e *Engine) cycle(ctx context.Context) error {
	var candles []types.Candle
	err := e.retrier.Do(ctx, "get_candles", func(ctx context.Context) error {
		var err error
		candles, err = e.venue.GetCandles(ctx, e.config.Symbol, e.config.Interval, e.config.CandleLimit)
		return err
	})
	if err != nil {
		return err
	}

	snap, newBar := e.feeder.apply(candles)
	if !newBar {
		return nil
	}
	e.updateHigherTimeframes(ctx)
	e.evaluate(ctx, snap)
	return nil
}

func (e *Engine) updateHigherTimeframes(ctx context.Context) {
	for tf, f := range e.htfFeeders {
		candles, err := e.venue.GetCandles(ctx, e.config.Symbol, tf, e.config.CandleLimit)
		if err != nil {
			e.logger.Debug("higher timeframe fetch failed",
				zap.String("interval", tf), zap.Error(err))
			continue
		}
		f.apply(candles)
	}
}

// evaluate runs the decision chain for one closed candle.
func (e *Engine) evaluate(ctx context.Context, snap indicator.Snapshot) {
	e.metrics.Evaluations.Inc()

	marketRegime := e.detector.Classify(snap)
	stats := e.ledger.Stats()

	inputs := scorer.Inputs{
		Symbol:   e.config.Symbol,
		Snapshot: snap,
		Regime:   marketRegime,
		Stats:    stats,
		Now:      time.Now(),
	}
	if book, err := e.venue.GetTopOfBook(ctx, e.config.Symbol); err == nil {
		inputs.Book = &book
	}
	for _, f := range e.htfFeeders {
		if f.snap.TrendDir.OK {
			inputs.HigherTimeframes = append(inputs.HigherTimeframes, int(f.snap.TrendDir.Value))
		}
	}

	outcome := e.scorer.Evaluate(inputs)
	e.publishSignal(outcome)

	price := decimal.NewFromFloat(snap.Close)
	atr := decimal.Zero
	if snap.ATR.OK {
		atr = decimal.NewFromFloat(snap.ATR.Value)
	}

	// Manage open positions on every closed bar regardless of verdict.
	e.manager.OnBar(ctx, e.config.Symbol, price, atr)
	e.metrics.OpenPositions.Set(float64(len(e.manager.OpenPositions(e.config.Symbol))))
	e.metrics.RealizedPnL.Set(stats.RealizedPnL.InexactFloat64())
	e.metrics.DailyPnL.Set(stats.DailyPnL.InexactFloat64())

	if outcome.Signal.Verdict == types.VerdictHold {
		return
	}
	e.tryOpen(ctx, outcome, price, atr, stats)
}

func (e *Engine) publishSignal(outcome scorer.Outcome) {
	e.mu.Lock()
	e.lastSignal = outcome.Signal
	e.hasSignal = true
	e.mu.Unlock()

	e.metrics.Signals.WithLabelValues(string(outcome.Signal.Verdict)).Inc()
	e.metrics.Score.Set(outcome.RawScore)
	e.metrics.Threshold.Set(outcome.Threshold)
	if e.onSignal != nil {
		e.onSignal(outcome.Signal)
	}
}

// tryOpen sizes and opens a position for an acted verdict. Guardrails and
// sizing failures skip the entry; the next cycle re-evaluates.
func (e *Engine) tryOpen(ctx context.Context, outcome scorer.Outcome, price, atr decimal.Decimal, stats ledger.Stats) {
	if !e.manager.CanOpen(e.config.Symbol) {
		return
	}

	var equity decimal.Decimal
	err := e.retrier.Do(ctx, "get_equity", func(ctx context.Context) error {
		var err error
		equity, err = e.venue.GetEquity(ctx, e.config.EquityCurrency)
		return err
	})
	if err != nil {
		e.metrics.VenueErrors.Inc()
		e.logger.Warn("equity fetch failed, entry skipped", zap.Error(err))
		return
	}

	if err := e.sizer.CheckGuardrails(stats, equity); err != nil {
		e.logger.Warn("entry blocked by guardrail", zap.Error(err))
		return
	}

	side := types.SideBuy
	if outcome.Signal.Verdict == types.VerdictSell {
		side = types.SideSell
	}
	plan, err := e.sizer.Size(risk.Request{
		Side:       side,
		Price:      price,
		ATR:        atr,
		Equity:     equity,
		Conviction: outcome.Conviction,
		Rules:      e.rules,
		Stats:      stats,
	})
	if err != nil {
		if !errors.Is(err, risk.ErrNoOrder) {
			e.logger.Warn("sizing failed", zap.Error(err))
		}
		return
	}

	if _, err := e.manager.Open(ctx, e.config.Symbol, side, price, atr, plan); err != nil {
		e.metrics.VenueErrors.Inc()
		e.logger.Error("position open failed", zap.Error(err))
	}
}
