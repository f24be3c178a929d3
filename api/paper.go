package api

import (
	"context"
	"fmt"
	"math"
	"sync"

	"trendrider/logging"
	"trendrider/models"
)

// MarketFeed is the market-data half of the exchange.
type MarketFeed interface {
	GetCandles(ctx context.Context, market, interval string, count int) ([]models.Candle, error)
	GetOrderBookImbalance(ctx context.Context, market string, depth int) (models.BookImbalance, error)
}

// PaperExchange simulates execution against live market data. Orders fill at
// the last close seen; protective orders rest without triggering, so exits
// come from the coordinator's own stop and target checks.
type PaperExchange struct {
	feed   MarketFeed
	logger logging.LoggerInterface

	mu       sync.Mutex
	equity   float64
	mark     float64
	position models.ExchangePosition
	orders   map[string]models.ExecutionResult
	seq      int
}

// NewPaperExchange creates a paper account holding equity.
func NewPaperExchange(feed MarketFeed, equity float64, logger logging.LoggerInterface) *PaperExchange {
	return &PaperExchange{
		feed:   feed,
		logger: logger,
		equity: equity,
		orders: make(map[string]models.ExecutionResult),
	}
}

// GetCandles delegates to the live feed and marks the account at the last close.
func (p *PaperExchange) GetCandles(ctx context.Context, market, interval string, count int) ([]models.Candle, error) {
	candles, err := p.feed.GetCandles(ctx, market, interval, count)
	if err != nil {
		return nil, err
	}
	if n := len(candles); n > 0 {
		p.SetMark(candles[n-1].Close)
	}
	return candles, nil
}

// GetOrderBookImbalance delegates to the live feed.
func (p *PaperExchange) GetOrderBookImbalance(ctx context.Context, market string, depth int) (models.BookImbalance, error) {
	return p.feed.GetOrderBookImbalance(ctx, market, depth)
}

// GetEquity returns the simulated balance including realized PnL.
func (p *PaperExchange) GetEquity(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equity, nil
}

// SetMark sets the fill price for subsequent orders.
func (p *PaperExchange) SetMark(price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mark = price
}

// PlaceOrder fills req immediately. A repeated ClientID returns the first
// result without filling again.
func (p *PaperExchange) PlaceOrder(_ context.Context, req models.ExecutionRequest) (models.ExecutionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if res, ok := p.orders[req.ClientID]; ok && req.ClientID != "" {
		return res, nil
	}
	p.seq++
	id := fmt.Sprintf("paper-%d", p.seq)

	var res models.ExecutionResult
	switch req.Type {
	case models.ExecEntry:
		res = p.fillEntry(req, id)
	case models.ExecClose:
		res = p.fillClose(req, id)
	case models.ExecStop, models.ExecTarget:
		res = models.ExecutionResult{Status: models.StatusPending, ExchangeOrderID: id}
	case models.ExecCancel:
		res = models.ExecutionResult{Status: models.StatusFilled, ExchangeOrderID: req.OrderID}
	default:
		res = models.ExecutionResult{Status: models.StatusRejected, Message: "unknown order type"}
	}
	if p.logger != nil {
		p.logger.Info("Paper %s %s %s qty=%.8f -> %s @ %.4f", req.Type, req.Side, req.Market, req.Quantity, res.Status, res.FilledPrice)
	}
	p.orders[req.ClientID] = res
	return res, nil
}

func (p *PaperExchange) price(req models.ExecutionRequest) float64 {
	if p.mark > 0 {
		return p.mark
	}
	return req.Price
}

func (p *PaperExchange) fillEntry(req models.ExecutionRequest, id string) models.ExecutionResult {
	price := p.price(req)
	if price <= 0 || req.Quantity <= 0 {
		return models.ExecutionResult{Status: models.StatusRejected, Message: "no price or quantity"}
	}
	pos := p.position
	if !pos.Flat() && pos.Side != req.Side {
		return models.ExecutionResult{Status: models.StatusRejected, Message: "opposite position open"}
	}
	total := pos.Quantity + req.Quantity
	p.position = models.ExchangePosition{
		Market:   req.Market,
		Side:     req.Side,
		Quantity: total,
		AvgPrice: (pos.AvgPrice*pos.Quantity + price*req.Quantity) / total,
	}
	return models.ExecutionResult{Status: models.StatusFilled, FilledPrice: price, FilledQuantity: req.Quantity, ExchangeOrderID: id}
}

func (p *PaperExchange) fillClose(req models.ExecutionRequest, id string) models.ExecutionResult {
	pos := p.position
	if pos.Flat() || pos.Side != req.Side {
		return models.ExecutionResult{Status: models.StatusRejected, Message: "reduce-only order without position"}
	}
	price := p.price(req)
	if price <= 0 {
		price = pos.AvgPrice
	}
	qty := math.Min(req.Quantity, pos.Quantity)
	pnl := (price - pos.AvgPrice) * qty
	if pos.Side == models.Short {
		pnl = -pnl
	}
	p.equity += pnl
	p.position.Quantity -= qty
	if p.position.Quantity <= 1e-12 {
		p.position = models.ExchangePosition{Market: req.Market}
	}
	return models.ExecutionResult{Status: models.StatusFilled, FilledPrice: price, FilledQuantity: qty, ExchangeOrderID: id}
}

// CancelOrder always succeeds.
func (p *PaperExchange) CancelOrder(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error) {
	req.Type = models.ExecCancel
	return p.PlaceOrder(ctx, req)
}

// QueryPosition returns the simulated position.
func (p *PaperExchange) QueryPosition(_ context.Context, market string) (models.ExchangePosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.position
	pos.Market = market
	return pos, nil
}
