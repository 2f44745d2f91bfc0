package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/internal/ledger"
	"github.com/quantex-labs/trading-engine/internal/position"
	"github.com/quantex-labs/trading-engine/internal/telemetry"
	"github.com/quantex-labs/trading-engine/internal/venue"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

type staticStatus struct {
	signal types.Signal
	ok     bool
}

func (s staticStatus) LastSignal() (types.Signal, bool) { return s.signal, s.ok }

func newTestServer(status StatusProvider) (*Server, *ledger.Ledger) {
	logger := zap.NewNop()
	pv := venue.NewPaperVenue(logger, decimal.NewFromInt(10000))
	retrier := venue.NewRetrier(logger, venue.RetryConfig{
		MaxAttempts:    1,
		CallsPerSecond: 1000,
		Burst:          100,
	})
	ldg := ledger.NewLedger(logger, ledger.DefaultConfig())
	manager := position.NewManager(logger, position.DefaultConfig(), pv, retrier,
		venue.InstrumentRules{}, ldg)

	hub := NewHub(logger)
	go hub.Run()
	return NewServer(logger, DefaultConfig(), "BTCUSDT", hub, manager, ldg,
		telemetry.NewMetrics(), status), ldg
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(staticStatus{})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestStatusEndpointIncludesLastSignal(t *testing.T) {
	signal := types.Signal{
		Symbol:    "BTCUSDT",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Verdict:   types.VerdictBuy,
		Regime:    types.RegimeTrending,
	}
	s, _ := newTestServer(staticStatus{signal: signal, ok: true})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/status", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Symbol        string       `json:"symbol"`
		OpenPositions int          `json:"openPositions"`
		LastSignal    types.Signal `json:"lastSignal"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Symbol != "BTCUSDT" || body.OpenPositions != 0 {
		t.Fatalf("unexpected status body: %+v", body)
	}
	if body.LastSignal.Verdict != types.VerdictBuy {
		t.Fatalf("expected last signal BUY, got %s", body.LastSignal.Verdict)
	}
}

func TestTradesEndpointReturnsLedger(t *testing.T) {
	s, ldg := newTestServer(staticStatus{})
	ldg.Record(types.Trade{
		PositionID: "pos-1",
		Symbol:     "BTCUSDT",
		Side:       types.SideBuy,
		EntryPrice: decimal.NewFromInt(100),
		ExitPrice:  decimal.NewFromInt(102),
		ExitQty:    decimal.NewFromInt(1),
		PnL:        decimal.NewFromInt(2),
		ClosedBy:   types.CloseReasonTakeProfit,
		ClosedAt:   time.Now(),
	})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/trades", nil))
	var trades []types.Trade
	if err := json.NewDecoder(rec.Body).Decode(&trades); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(trades) != 1 || trades[0].PositionID != "pos-1" {
		t.Fatalf("unexpected trades: %+v", trades)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, _ := newTestServer(staticStatus{})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats ledger.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Trades != 0 || stats.ExpectancyOK {
		t.Fatalf("unexpected empty stats: %+v", stats)
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	s, _ := newTestServer(staticStatus{})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
