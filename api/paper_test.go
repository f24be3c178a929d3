package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendrider/models"
)

type staticFeed struct {
	candles []models.Candle
	book    models.BookImbalance
}

func (f staticFeed) GetCandles(context.Context, string, string, int) ([]models.Candle, error) {
	return f.candles, nil
}

func (f staticFeed) GetOrderBookImbalance(context.Context, string, int) (models.BookImbalance, error) {
	return f.book, nil
}

func TestPaperExchangeRoundTrip(t *testing.T) {
	ctx := context.Background()
	feed := staticFeed{candles: []models.Candle{{Close: 99}, {Close: 100}}, book: models.BookImbalance{BidVolume: 3, AskVolume: 1}}
	p := NewPaperExchange(feed, 1000, nil)

	_, err := p.GetCandles(ctx, "BTCUSDT", "1", 2)
	require.NoError(t, err)
	book, err := p.GetOrderBookImbalance(ctx, "BTCUSDT", 5)
	require.NoError(t, err)
	assert.Equal(t, 3.0, book.BidVolume)

	entry := models.ExecutionRequest{ClientID: "e1", Type: models.ExecEntry, Market: "BTCUSDT", Side: models.Long, Quantity: 2}
	res, err := p.PlaceOrder(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, res.Status)
	assert.Equal(t, 100.0, res.FilledPrice)

	again, err := p.PlaceOrder(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, res, again, "a repeated client id must not fill twice")

	pos, err := p.QueryPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, models.Long, pos.Side)
	assert.Equal(t, 2.0, pos.Quantity)

	stop, err := p.PlaceOrder(ctx, models.ExecutionRequest{ClientID: "s1", Type: models.ExecStop, Market: "BTCUSDT", Side: models.Long, Price: 97})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stop.Status)
	assert.NotEmpty(t, stop.ExchangeOrderID)

	p.SetMark(105)
	closed, err := p.PlaceOrder(ctx, models.ExecutionRequest{ClientID: "c1", Type: models.ExecClose, Market: "BTCUSDT", Side: models.Long, Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, 2.0, closed.FilledQuantity)

	pos, _ = p.QueryPosition(ctx, "BTCUSDT")
	assert.True(t, pos.Flat())
	equity, _ := p.GetEquity(ctx)
	assert.InDelta(t, 1010.0, equity, 1e-9)
}

func TestPaperExchangeRejectsCloseWithoutPosition(t *testing.T) {
	p := NewPaperExchange(staticFeed{}, 1000, nil)
	p.SetMark(100)

	res, err := p.PlaceOrder(context.Background(), models.ExecutionRequest{ClientID: "c1", Type: models.ExecClose, Market: "BTCUSDT", Side: models.Short, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Status)
}

func TestPaperExchangeShortPnL(t *testing.T) {
	ctx := context.Background()
	p := NewPaperExchange(staticFeed{}, 1000, nil)
	p.SetMark(100)
	_, err := p.PlaceOrder(ctx, models.ExecutionRequest{ClientID: "e1", Type: models.ExecEntry, Market: "BTCUSDT", Side: models.Short, Quantity: 1})
	require.NoError(t, err)

	p.SetMark(110)
	_, err = p.PlaceOrder(ctx, models.ExecutionRequest{ClientID: "c1", Type: models.ExecClose, Market: "BTCUSDT", Side: models.Short, Quantity: 1})
	require.NoError(t, err)

	equity, _ := p.GetEquity(ctx)
	assert.InDelta(t, 990.0, equity, 1e-9)
}
