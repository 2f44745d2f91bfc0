// Package reconcile keeps local position state consistent with the venue.
// Two independent schedules run against the position store: a fill sync that
// correlates executions back to positions by order link ID, and a heartbeat
// that diffs net quantity against the venue's reported truth and heals drift.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/internal/position"
	"github.com/quantex-labs/trading-engine/internal/venue"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

// Config holds the reconciliation schedules and tolerances.
type Config struct {
	// FillSyncSchedule and HeartbeatSchedule are cron specs, e.g. "@every 15s".
	FillSyncSchedule  string `mapstructure:"fill_sync_schedule"`
	HeartbeatSchedule string `mapstructure:"heartbeat_schedule"`
	// QtyTolerance is the absolute quantity difference treated as rounding
	// noise rather than drift.
	QtyTolerance float64 `mapstructure:"qty_tolerance"`
}

// DefaultConfig returns the standard cadence.
func DefaultConfig() Config {
	return Config{
		FillSyncSchedule:  "@every 15s",
		HeartbeatSchedule: "@every 30s",
		QtyTolerance:      0.0001,
	}
}

// Service runs the reconciliation schedules.
type Service struct {
	logger  *zap.Logger
	config  Config
	symbol  string
	account venue.Account
	manager *position.Manager
	cron    *cron.Cron

	onDrift func(local, reported decimal.Decimal)

	fillWatermark int64 // unix millis of the newest processed fill
}

// NewService creates a reconciliation service for one symbol.
func NewService(logger *zap.Logger, config Config, symbol string, account venue.Account, manager *position.Manager) *Service {
	if config.FillSyncSchedule == "" {
		config = DefaultConfig()
	}
	return &Service{
		logger:        logger.Named("reconcile"),
		config:        config,
		symbol:        symbol,
		account:       account,
		manager:       manager,
		cron:          cron.New(),
		fillWatermark: time.Now().UnixMilli(),
	}
}

// OnDrift registers a callback invoked when the heartbeat detects a quantity
// mismatch beyond tolerance.
func (s *Service) OnDrift(fn func(local, reported decimal.Decimal)) {
	s.onDrift = fn
}

// Start registers both schedules and starts the cron runner.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.config.FillSyncSchedule, func() {
		if err := s.SyncFills(ctx); err != nil {
			s.logger.Warn("fill sync failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.config.HeartbeatSchedule, func() {
		if err := s.Heartbeat(ctx); err != nil {
			s.logger.Warn("heartbeat failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("reconciliation started",
		zap.String("fillSync", s.config.FillSyncSchedule),
		zap.String("heartbeat", s.config.HeartbeatSchedule))
	return nil
}

// Stop halts the schedules and waits for running jobs.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// SyncFills pulls executions since the watermark and applies them to their
// owning positions. Entry fills are applied synchronously at submission time
// and skipped here; stop and take-profit fills drive lifecycle transitions.
// The watermark advances only past fills that were applied or deliberately
// skipped, so a fill whose dispatch fails is redelivered on the next pass.
func (s *Service) SyncFills(ctx context.Context) error {
	fills, err := s.account.GetFills(ctx, s.symbol, s.fillWatermark)
	if err != nil {
		return err
	}
	for _, fill := range fills {
		pos, role, ok := s.manager.FindByLink(fill.LinkID)
		if ok {
			switch role {
			case types.OrderRoleTakeProfit:
				if err := s.manager.OnTakeProfitFill(ctx, pos.ID, fill); err != nil {
					return fmt.Errorf("reconcile: apply fill %s: %w", fill.LinkID, err)
				}
			case types.OrderRoleStop:
				if err := s.manager.OnStopFill(pos.ID, fill); err != nil {
					return fmt.Errorf("reconcile: apply fill %s: %w", fill.LinkID, err)
				}
			}
		} else {
			s.logger.Debug("fill without owning position",
				zap.String("linkId", fill.LinkID))
		}
		if ts := fill.Timestamp.UnixMilli(); ts >= s.fillWatermark {
			s.fillWatermark = ts + 1
		}
	}
	return nil
}

// Heartbeat diffs the venue's open quantity against local state:
//   - venue flat while a local position is open: close it EXTERNAL_FLAT with
//     the PnL flagged unreconciled, never a fabricated exit price
//   - venue position with no local record: adopt a synthetic position
//   - both present but quantities differ beyond tolerance: alert only, local
//     quantity is never overwritten without a corroborating fill
func (s *Service) Heartbeat(ctx context.Context) error {
	snaps, err := s.account.GetOpenPositions(ctx, s.symbol)
	if err != nil {
		return err
	}

	reported := decimal.Zero
	for _, snap := range snaps {
		if snap.Side == types.SideBuy {
			reported = reported.Add(snap.Quantity)
		} else {
			reported = reported.Sub(snap.Quantity)
		}
	}
	local := s.manager.NetQuantity(s.symbol)

	switch {
	case reported.IsZero() && !local.IsZero():
		for _, pos := range s.manager.OpenPositions(s.symbol) {
			if err := s.manager.CloseExternal(pos.ID); err != nil {
				s.logger.Warn("external-flat close failed",
					zap.String("positionId", pos.ID), zap.Error(err))
			}
		}
	case !reported.IsZero() && local.IsZero():
		for _, snap := range snaps {
			s.manager.Adopt(snap)
		}
	case reported.Sub(local).Abs().GreaterThan(decimal.NewFromFloat(s.config.QtyTolerance)):
		s.logger.Warn("position quantity drift",
			zap.String("local", local.String()),
			zap.String("reported", reported.String()))
		if s.onDrift != nil {
			s.onDrift(local, reported)
		}
	}
	return nil
}
