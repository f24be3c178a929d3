package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendrider/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func makeCandles(n int, closeAt func(i int) float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		c := closeAt(i)
		open := t0.Add(time.Duration(i) * time.Minute)
		out[i] = models.Candle{
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100 + float64(i%7)*10,
			OpenTime:  open,
			CloseTime: open.Add(time.Minute - time.Millisecond),
		}
	}
	return out
}

func wave(i int) float64 {
	return 100 + 10*math.Sin(float64(i)/5) + float64(i)*0.1
}

func smallPeriods() Periods {
	return Periods{EMA: 5, MACDFast: 3, MACDSlow: 6, MACDSignal: 3, RSI: 4, ATR: 4, ADX: 3, Volume: 4}
}

func TestSMA(t *testing.T) {
	data := []float64{10, 20, 30, 40, 50}
	if got := SMA(data); got != 30.0 {
		t.Errorf("Expected %.1f, got %.2f", 30.0, got)
	}
	if got := SMA(nil); got != 0 {
		t.Errorf("Expected 0 for empty slice, got %.2f", got)
	}
	if got := SMAWithPeriod(data, 2); got != 45.0 {
		t.Errorf("Expected 45 for last two values, got %.2f", got)
	}
}

func TestEMASeededWithSimpleAverage(t *testing.T) {
	got := EMA([]float64{1, 2, 3, 4, 5}, 3)

	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 2.0, got[2], 1e-12)
	assert.InDelta(t, 3.0, got[3], 1e-12)
	assert.InDelta(t, 4.0, got[4], 1e-12)
}

func TestMACDSignalStartsAfterSlowWindow(t *testing.T) {
	values := []float64{1, 2, 4, 7, 11, 16, 22}
	line, sig, hist := MACD(values, 2, 3, 2)

	assert.True(t, math.IsNaN(line[1]))
	assert.False(t, math.IsNaN(line[2]))
	assert.True(t, math.IsNaN(sig[2]))
	assert.False(t, math.IsNaN(sig[3]))
	for i := 3; i < len(values); i++ {
		assert.InDelta(t, line[i]-sig[i], hist[i], 1e-12)
	}
}

func TestRSIWilderSmoothing(t *testing.T) {
	got := RSI([]float64{1, 2, 1, 2, 1}, 2)

	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 50.0, got[2], 1e-9)
	assert.InDelta(t, 75.0, got[3], 1e-9)
	assert.InDelta(t, 37.5, got[4], 1e-9)
}

func TestRSIIsHundredWithoutLosses(t *testing.T) {
	got := RSI([]float64{1, 2, 3, 4, 5, 6}, 3)
	for i := 3; i < len(got); i++ {
		assert.Equal(t, 100.0, got[i])
	}
}

func TestATRConstantRange(t *testing.T) {
	candles := makeCandles(10, func(int) float64 { return 50 })
	atr := ATR(candles, 3)

	assert.True(t, math.IsNaN(atr[2]))
	for i := 3; i < len(atr); i++ {
		assert.InDelta(t, 2.0, atr[i], 1e-12)
	}
}

func TestTrueRangeUsesPreviousClose(t *testing.T) {
	candles := []models.Candle{
		{High: 11, Low: 9, Close: 10},
		{High: 15, Low: 14, Close: 14.5},
	}
	tr := TrueRange(candles)
	assert.True(t, math.IsNaN(tr[0]))
	assert.Equal(t, 5.0, tr[1])
}

func TestADXNeedsDoubleWarmup(t *testing.T) {
	candles := makeCandles(12, func(i int) float64 { return 10 + float64(i) })
	adx := ADX(candles, 3)

	for i := 0; i < 5; i++ {
		assert.True(t, math.IsNaN(adx[i]), "index %d should be undefined", i)
	}
	for i := 5; i < len(adx); i++ {
		assert.InDelta(t, 100.0, adx[i], 1e-9, "steady uptrend is fully directional")
	}
}

func TestVolumeRatio(t *testing.T) {
	got := VolumeRatio([]float64{1, 1, 1, 4}, 2)
	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, 1.0, got[1])
	assert.Equal(t, 1.0, got[2])
	assert.InDelta(t, 1.6, got[3], 1e-12)

	zero := VolumeRatio([]float64{0, 0, 0}, 2)
	assert.Equal(t, 0.0, zero[2])
}

func TestPeriodsWarmup(t *testing.T) {
	p := DefaultPeriods()
	require.NoError(t, p.Validate())
	assert.Equal(t, 200, p.Warmup())

	p.EMA = 10
	assert.Equal(t, 34, p.Warmup())

	assert.Equal(t, 8, smallPeriods().Warmup())
}

func TestPeriodsValidate(t *testing.T) {
	p := smallPeriods()
	p.RSI = 0
	assert.Error(t, p.Validate())

	p = smallPeriods()
	p.MACDFast = p.MACDSlow
	assert.Error(t, p.Validate())
}

func TestComputeInsufficientData(t *testing.T) {
	p := smallPeriods()
	_, err := Compute(makeCandles(p.Warmup()-1, wave), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

func TestComputeADXWindowDrivesWarmup(t *testing.T) {
	p := smallPeriods()
	p.ADX = 10
	_, err := Compute(makeCandles(19, wave), p)
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	snaps, err := Compute(makeCandles(20, wave), p)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
	assert.False(t, math.IsNaN(snaps[0].ADX))
}

func TestComputeRejectsUnorderedCandles(t *testing.T) {
	candles := makeCandles(20, wave)
	candles[10].CloseTime = candles[9].CloseTime

	_, err := Compute(candles, smallPeriods())
	assert.ErrorIs(t, err, ErrUnorderedCandles)
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
	assert.NotErrorIs(t, err, models.ErrInsufficientData)
}

func TestComputeSnapshotAlignment(t *testing.T) {
	p := smallPeriods()
	candles := makeCandles(40, wave)

	snaps, err := Compute(candles, p)
	require.NoError(t, err)
	require.Len(t, snaps, len(candles)-p.Warmup()+1)

	first := candles[p.Warmup()-1]
	assert.Equal(t, first.CloseTime, snaps[0].Time)
	assert.Equal(t, first.Close, snaps[0].Close)
	assert.Equal(t, candles[len(candles)-1].CloseTime, snaps[len(snaps)-1].Time)

	for _, s := range snaps {
		for _, v := range []float64{s.EMA, s.MACDLine, s.MACDSignal, s.MACDHistogram, s.RSI, s.ATR, s.ADX, s.VolumeRatio} {
			assert.False(t, math.IsNaN(v))
		}
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	candles := makeCandles(400, wave)

	a, err := Compute(candles, DefaultPeriods())
	require.NoError(t, err)
	b, err := Compute(candles, DefaultPeriods())
	require.NoError(t, err)

	assert.Equal(t, a, b)

	latest, err := Latest(candles, DefaultPeriods())
	require.NoError(t, err)
	assert.Equal(t, a[len(a)-1], latest)
}
