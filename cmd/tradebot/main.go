// Package main provides the entry point for the confluence trading engine:
// one symbol, an indicator pipeline over closed candles, a regime-aware
// confluence scorer, risk-based sizing and a reconciled position lifecycle.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantex-labs/trading-engine/internal/api"
	"github.com/quantex-labs/trading-engine/internal/config"
	"github.com/quantex-labs/trading-engine/internal/engine"
	"github.com/quantex-labs/trading-engine/internal/ledger"
	"github.com/quantex-labs/trading-engine/internal/position"
	"github.com/quantex-labs/trading-engine/internal/reconcile"
	"github.com/quantex-labs/trading-engine/internal/regime"
	"github.com/quantex-labs/trading-engine/internal/risk"
	"github.com/quantex-labs/trading-engine/internal/scorer"
	"github.com/quantex-labs/trading-engine/internal/telemetry"
	"github.com/quantex-labs/trading-engine/internal/venue"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting trading engine",
		zap.String("symbol", cfg.Symbol),
		zap.String("interval", cfg.Interval),
		zap.Bool("dryRun", cfg.DryRun),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := telemetry.NewMetrics()
	rules := cfg.Rules()
	retrier := venue.NewRetrier(logger, cfg.Retry)

	// The wire-level venue client is pluggable; the dry-run venue simulates
	// fills locally.
	var tradingVenue venue.Venue
	if cfg.DryRun {
		tradingVenue = venue.NewPaperVenue(logger, decimal.NewFromInt(10000))
	} else {
		logger.Fatal("no live venue adapter configured, run with dry_run: true")
	}

	hub := api.NewHub(logger)
	go hub.Run()

	ldg := ledger.NewLedger(logger, cfg.Ledger)
	recorder := &tradeFanout{ledger: ldg, hub: hub, metrics: metrics}
	manager := position.NewManager(logger, cfg.Position, tradingVenue, retrier, rules, recorder)
	detector := regime.NewDetector(logger, cfg.Regime)
	sc := scorer.NewScorer(logger, cfg.Scorer)
	sizer := risk.NewSizer(logger, cfg.Risk)

	eng := engine.NewEngine(logger, engine.Config{
		Symbol:           cfg.Symbol,
		Interval:         cfg.Interval,
		HigherTimeframes: cfg.HigherTimeframes,
		CandleLimit:      cfg.CandleLimit,
		PollInterval:     10 * time.Second,
		EquityCurrency:   cfg.EquityCurrency,
		IndicatorConf:    cfg.Indicators,
	}, tradingVenue, retrier, detector, sc, sizer, manager, ldg, metrics, rules)

	recon := reconcile.NewService(logger, cfg.Reconcile, cfg.Symbol, tradingVenue, manager)
	recon.OnDrift(func(local, reported decimal.Decimal) {
		metrics.ReconcileDrift.Inc()
	})

	eng.OnSignal(func(signal types.Signal) {
		hub.PublishSignal(signal)
	})
	manager.OnChange(func(pos types.Position) {
		hub.PublishPosition(pos)
	})

	server := api.NewServer(logger, cfg.API, cfg.Symbol, hub, manager, ldg, metrics, eng)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	if err := recon.Start(ctx); err != nil {
		logger.Fatal("reconciliation start failed", zap.Error(err))
	}
	go eng.Run(ctx)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	recon.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("api shutdown error", zap.Error(err))
	}
	logger.Info("goodbye")
}

// tradeFanout records each closed trade in the ledger and mirrors it to the
// websocket stream and metrics.
type tradeFanout struct {
	ledger  *ledger.Ledger
	hub     *api.Hub
	metrics *telemetry.Metrics
}

func (t *tradeFanout) Record(trade types.Trade) {
	t.ledger.Record(trade)
	t.hub.PublishTrade(trade)
	t.metrics.TradesClosed.WithLabelValues(string(trade.ClosedBy)).Inc()
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
