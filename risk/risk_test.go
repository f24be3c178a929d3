package risk

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendrider/models"
)

func testParams() models.RiskParameters {
	return models.RiskParameters{
		RiskFraction:     0.01,
		StopMultiplier:   1.5,
		TargetMultiplier: 3,
		MaxPositions:     1,
		MinRewardRisk:    1.5,
	}
}

func newTestManager(t *testing.T, mutate func(*models.RiskParameters)) *Manager {
	t.Helper()
	p := testParams()
	if mutate != nil {
		mutate(&p)
	}
	m, err := NewManager(p, models.InstrumentInfo{MinQty: 0.01, QtyStep: 0.01, TickSize: 0.01})
	require.NoError(t, err)
	return m
}

func longSignal() models.Signal { return models.Signal{Direction: models.Long} }

func TestPlanFractionalRisk(t *testing.T) {
	m := newTestManager(t, nil)

	plan, err := m.Plan(longSignal(), 10000, 100, 2, 0)
	require.NoError(t, err)

	assert.Equal(t, models.Long, plan.Side)
	assert.InDelta(t, 97.0, plan.StopPrice, 1e-9)
	assert.InDelta(t, 106.0, plan.TargetPrice, 1e-9)
	assert.Equal(t, 33.33, plan.Quantity)
	assert.InDelta(t, 100.0, plan.RiskAmount, 1e-9)
	assert.InDelta(t, 100.0, plan.Quantity*(plan.EntryPrice-plan.StopPrice), 0.03)
	assert.InDelta(t, 2.0, RewardRisk(plan.EntryPrice, plan.StopPrice, plan.TargetPrice), 1e-9)
}

func TestPlanShortMirrorsLong(t *testing.T) {
	m := newTestManager(t, nil)

	plan, err := m.Plan(models.Signal{Direction: models.Short}, 10000, 100, 2, 0)
	require.NoError(t, err)

	assert.InDelta(t, 103.0, plan.StopPrice, 1e-9)
	assert.InDelta(t, 94.0, plan.TargetPrice, 1e-9)
	assert.Equal(t, 33.33, plan.Quantity)
}

func TestPlanRejections(t *testing.T) {
	m := newTestManager(t, nil)

	tests := []struct {
		name    string
		sig     models.Signal
		equity  float64
		entry   float64
		atr     float64
		open    int
		wantErr error
	}{
		{"no direction", models.Signal{Direction: models.None}, 10000, 100, 2, 0, models.ErrInvalidRiskParameters},
		{"zero atr", longSignal(), 10000, 100, 0, 0, models.ErrInvalidRiskParameters},
		{"negative equity", longSignal(), -5, 100, 2, 0, models.ErrInvalidRiskParameters},
		{"zero entry", longSignal(), 10000, 0, 2, 0, models.ErrInvalidRiskParameters},
		{"stop below zero", longSignal(), 10000, 2, 2, 0, models.ErrInvalidRiskParameters},
		{"position already open", longSignal(), 10000, 100, 2, 1, models.ErrRiskLimitExceeded},
		{"quantity rounds to zero", longSignal(), 0.2, 100, 2, 0, models.ErrRiskLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Plan(tt.sig, tt.equity, tt.entry, tt.atr, tt.open)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPlanNotionalCap(t *testing.T) {
	m := newTestManager(t, func(p *models.RiskParameters) { p.MaxNotionalFraction = 0.05 })

	plan, err := m.Plan(longSignal(), 10000, 100, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, plan.Quantity)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.RiskParameters)
		ok     bool
	}{
		{"defaults", func(*models.RiskParameters) {}, true},
		{"zero fraction", func(p *models.RiskParameters) { p.RiskFraction = 0 }, false},
		{"fraction too large", func(p *models.RiskParameters) { p.RiskFraction = 0.2 }, false},
		{"zero stop multiplier", func(p *models.RiskParameters) { p.StopMultiplier = 0 }, false},
		{"negative target multiplier", func(p *models.RiskParameters) { p.TargetMultiplier = -1 }, false},
		{"no positions", func(p *models.RiskParameters) { p.MaxPositions = 0 }, false},
		{"poor reward risk", func(p *models.RiskParameters) { p.TargetMultiplier = 1.5 }, false},
		{"reward risk check disabled", func(p *models.RiskParameters) { p.TargetMultiplier = 1.5; p.MinRewardRisk = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			err := Validate(p)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, models.ErrInvalidRiskParameters)
		})
	}
	assert.NoError(t, Validate(DefaultParameters()))
}

func TestTrailingStopOnlyRatchets(t *testing.T) {
	m := newTestManager(t, nil)
	pos := models.Position{Side: models.Long, EntryPrice: 100, StopPrice: 97, InitialStop: 97}

	stop, ok := m.TrailingStop(pos, 110, 2, 30)
	require.True(t, ok)
	assert.InDelta(t, 107.0, stop, 1e-9)

	pos.StopPrice = stop
	_, ok = m.TrailingStop(pos, 108, 2, 30)
	assert.False(t, ok, "a pullback must not move the stop back")
}

func TestTrailingStopShort(t *testing.T) {
	m := newTestManager(t, nil)
	pos := models.Position{Side: models.Short, EntryPrice: 100, StopPrice: 103}

	stop, ok := m.TrailingStop(pos, 90, 2, 30)
	require.True(t, ok)
	assert.InDelta(t, 93.0, stop, 1e-9)

	_, ok = m.TrailingStop(models.Position{Side: models.Short, StopPrice: 93}, 92, 2, 30)
	assert.False(t, ok)
}

func TestTrailingStopADXScaling(t *testing.T) {
	m := newTestManager(t, func(p *models.RiskParameters) { p.TrailADXScaling = true })
	pos := models.Position{Side: models.Long, EntryPrice: 100, StopPrice: 90}

	stop, ok := m.TrailingStop(pos, 110, 2, 45)
	require.True(t, ok)
	assert.InDelta(t, 110-1.5*2*1.2, stop, 1e-9)
}

func TestTrailingStopMonotonicUnderRandomPrices(t *testing.T) {
	m := newTestManager(t, nil)
	rng := rand.New(rand.NewSource(42))
	pos := models.Position{Side: models.Long, EntryPrice: 100, StopPrice: 97, InitialStop: 97}

	price := 100.0
	for i := 0; i < 5000; i++ {
		price += rng.NormFloat64()
		if price < 1 {
			price = 1
		}
		prev := pos.StopPrice
		if stop, ok := m.TrailingStop(pos, price, 1+rng.Float64()*3, 10+rng.Float64()*40); ok {
			pos.StopPrice = stop
		}
		require.GreaterOrEqual(t, pos.StopPrice, prev)
	}
}

func TestSummarize(t *testing.T) {
	outcomes := []models.TradeOutcome{
		{PnL: 200},
		{PnL: -100},
		{PnL: -50},
		{PnL: 300},
	}
	perf := Summarize(outcomes)

	assert.Equal(t, 4, perf.Trades)
	assert.Equal(t, 2, perf.Wins)
	assert.Equal(t, 2, perf.Losses)
	assert.InDelta(t, 0.5, perf.WinRate, 1e-9)
	assert.InDelta(t, 500.0/150.0, perf.ProfitFactor, 1e-9)
	assert.InDelta(t, 350.0, perf.TotalPnL, 1e-9)
	assert.InDelta(t, 150.0, perf.MaxDrawdown, 1e-9)

	empty := Summarize(nil)
	assert.Zero(t, empty.Trades)
	assert.Zero(t, empty.ProfitFactor)
}
