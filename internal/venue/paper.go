package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantex-labs/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperVenue is an in-memory venue used for dry runs and tests. Orders are
// acknowledged immediately; market orders fill at the scripted mark price.
type PaperVenue struct {
	logger *zap.Logger

	mu        sync.Mutex
	candles   []types.Candle
	book      types.TopOfBook
	equity    decimal.Decimal
	mark      decimal.Decimal
	positions []types.PositionSnapshot
	fills     []types.Fill
	orders    map[string]OrderRequest
	seq       int
}

// NewPaperVenue creates a paper venue with the given starting equity.
func NewPaperVenue(logger *zap.Logger, equity decimal.Decimal) *PaperVenue {
	return &PaperVenue{
		logger: logger.Named("paper-venue"),
		equity: equity,
		orders: make(map[string]OrderRequest),
	}
}

// SetCandles replaces the scripted candle history.
func (p *PaperVenue) SetCandles(candles []types.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles = candles
	if len(candles) > 0 {
		p.mark = candles[len(candles)-1].Close
	}
}

// SetTopOfBook replaces the scripted book snapshot.
func (p *PaperVenue) SetTopOfBook(book types.TopOfBook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.book = book
}

// SetPositions replaces the venue-reported positions.
func (p *PaperVenue) SetPositions(positions []types.PositionSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions = positions
}

// AddFill appends a scripted execution.
func (p *PaperVenue) AddFill(fill types.Fill) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills = append(p.fills, fill)
}

// SubmittedOrders returns all orders submitted so far, keyed by link ID.
func (p *PaperVenue) SubmittedOrders() map[string]OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]OrderRequest, len(p.orders))
	for k, v := range p.orders {
		out[k] = v
	}
	return out
}

func (p *PaperVenue) GetCandles(_ context.Context, _, _ string, limit int) ([]types.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.candles) == 0 {
		return nil, ErrUnavailable
	}
	if limit > 0 && len(p.candles) > limit {
		return append([]types.Candle(nil), p.candles[len(p.candles)-limit:]...), nil
	}
	return append([]types.Candle(nil), p.candles...), nil
}

func (p *PaperVenue) GetTopOfBook(_ context.Context, _ string) (types.TopOfBook, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book, nil
}

func (p *PaperVenue) GetOpenPositions(_ context.Context, _ string) ([]types.PositionSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.PositionSnapshot(nil), p.positions...), nil
}

func (p *PaperVenue) GetEquity(_ context.Context, _ string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equity, nil
}

func (p *PaperVenue) GetFills(_ context.Context, _ string, since int64) ([]types.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.Fill
	for _, f := range p.fills {
		if f.Timestamp.UnixMilli() >= since {
			out = append(out, f)
		}
	}
	return out, nil
}

func (p *PaperVenue) SubmitOrder(_ context.Context, req OrderRequest) (types.OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return types.OrderAck{}, Fatal(fmt.Errorf("non-positive quantity %s", req.Quantity))
	}
	if _, dup := p.orders[req.LinkID]; dup {
		return types.OrderAck{}, Fatal(fmt.Errorf("duplicate link id %s", req.LinkID))
	}
	p.seq++
	p.orders[req.LinkID] = req

	ack := types.OrderAck{
		OrderID: fmt.Sprintf("paper-%d", p.seq),
		LinkID:  req.LinkID,
		State:   types.OrderStateOpen,
	}
	if req.Kind == OrderKindMarket {
		ack.State = types.OrderStateFilled
		p.fills = append(p.fills, types.Fill{
			ExecID:    fmt.Sprintf("paper-exec-%d", p.seq),
			LinkID:    req.LinkID,
			Side:      req.Side,
			Price:     p.mark,
			Quantity:  req.Quantity,
			Timestamp: time.Now(),
		})
	}
	p.logger.Debug("paper order accepted",
		zap.String("linkId", req.LinkID),
		zap.String("kind", string(req.Kind)),
		zap.String("qty", req.Quantity.String()))
	return ack, nil
}

func (p *PaperVenue) CancelOrder(_ context.Context, _, linkID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.orders, linkID)
	return nil
}
