package indicators

import (
	"fmt"
	"math"

	"trendrider/internal/constants"
	"trendrider/models"
)

// ErrUnorderedCandles is returned when the window is not strictly increasing
// by close time.
var ErrUnorderedCandles = fmt.Errorf("candles not ordered by close time: %w", models.ErrDataUnavailable)

// Periods configures every indicator window.
type Periods struct {
	EMA        int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	RSI        int
	ATR        int
	ADX        int
	Volume     int
}

// DefaultPeriods returns the stock trend-following windows.
func DefaultPeriods() Periods {
	return Periods{
		EMA:        constants.DefaultEMAPeriod,
		MACDFast:   constants.DefaultMACDFast,
		MACDSlow:   constants.DefaultMACDSlow,
		MACDSignal: constants.DefaultMACDSignal,
		RSI:        constants.DefaultRSIPeriod,
		ATR:        constants.DefaultATRPeriod,
		ADX:        constants.DefaultADXPeriod,
		Volume:     constants.DefaultVolumePeriod,
	}
}

// Validate checks that every window is usable.
func (p Periods) Validate() error {
	named := []struct {
		name string
		v    int
	}{
		{"ema", p.EMA}, {"macd_fast", p.MACDFast}, {"macd_slow", p.MACDSlow},
		{"macd_signal", p.MACDSignal}, {"rsi", p.RSI}, {"atr", p.ATR},
		{"adx", p.ADX}, {"volume", p.Volume},
	}
	for _, n := range named {
		if n.v <= 0 {
			return fmt.Errorf("indicator period %s must be positive, got %d", n.name, n.v)
		}
	}
	if p.MACDFast >= p.MACDSlow {
		return fmt.Errorf("macd fast period %d must be below slow period %d", p.MACDFast, p.MACDSlow)
	}
	return nil
}

// Warmup returns the number of candles needed before the first snapshot.
// ADX needs two full smoothing windows, RSI and ATR need one extra candle for
// the first delta.
func (p Periods) Warmup() int {
	return max(
		p.EMA,
		p.MACDSlow+p.MACDSignal-1,
		p.RSI+1,
		p.ATR+1,
		2*p.ADX,
		p.Volume,
	)
}

// SMA calculates Simple Moving Average
func SMA(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// SMAWithPeriod calculates Simple Moving Average over the last period values
func SMAWithPeriod(data []float64, period int) float64 {
	if len(data) < period || period <= 0 {
		return 0
	}
	return SMA(data[len(data)-period:])
}

// smoother is a recursive average seeded with the simple mean of its first
// period inputs. alpha is the weight of each new input after the seed.
type smoother struct {
	period int
	alpha  float64
	count  int
	sum    float64
	value  float64
}

func newEMASmoother(period int) *smoother {
	return &smoother{period: period, alpha: 2.0 / float64(period+1)}
}

// Wilder smoothing: value = (prev*(n-1) + x) / n.
func newWilderSmoother(period int) *smoother {
	return &smoother{period: period, alpha: 1.0 / float64(period)}
}

// add folds x into the accumulator and reports whether the value is seeded.
func (s *smoother) add(x float64) (float64, bool) {
	if s.count < s.period {
		s.sum += x
		s.count++
		if s.count < s.period {
			return math.NaN(), false
		}
		s.value = s.sum / float64(s.period)
		return s.value, true
	}
	s.value = x*s.alpha + s.value*(1-s.alpha)
	return s.value, true
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// EMA returns the exponential moving average aligned with values. Entries
// before the seed are NaN.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	s := newEMASmoother(period)
	for i, v := range values {
		if ema, ok := s.add(v); ok {
			out[i] = ema
		}
	}
	return out
}

// MACD returns the MACD line, its signal line and the histogram.
func MACD(values []float64, fast, slow, signal int) (line, sig, hist []float64) {
	line = nanSeries(len(values))
	sig = nanSeries(len(values))
	hist = nanSeries(len(values))
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return line, sig, hist
	}

	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	s := newEMASmoother(signal)
	for i := range values {
		if math.IsNaN(fastEMA[i]) || math.IsNaN(slowEMA[i]) {
			continue
		}
		line[i] = fastEMA[i] - slowEMA[i]
		if v, ok := s.add(line[i]); ok {
			sig[i] = v
			hist[i] = line[i] - v
		}
	}
	return line, sig, hist
}

// RSI calculates Relative Strength Index with Wilder smoothing. It is 100
// when the average loss is exactly zero.
func RSI(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 {
		return out
	}
	gains := newWilderSmoother(period)
	losses := newWilderSmoother(period)
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta >= 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain, ok := gains.add(gain)
		avgLoss, _ := losses.add(loss)
		if !ok {
			continue
		}
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// TrueRange returns the true range of each candle from index 1.
func TrueRange(candles []models.Candle) []float64 {
	out := nanSeries(len(candles))
	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		closePrev := candles[i-1].Close
		out[i] = math.Max(
			high-low,
			math.Max(
				math.Abs(high-closePrev),
				math.Abs(low-closePrev),
			),
		)
	}
	return out
}

// ATR calculates Average True Range with Wilder smoothing.
func ATR(candles []models.Candle, period int) []float64 {
	out := nanSeries(len(candles))
	if period <= 0 {
		return out
	}
	tr := TrueRange(candles)
	s := newWilderSmoother(period)
	for i := 1; i < len(candles); i++ {
		if v, ok := s.add(tr[i]); ok {
			out[i] = v
		}
	}
	return out
}

// ADX calculates the Average Directional Index. Directional movement and true
// range are Wilder-smoothed into +DI/-DI, and DX is smoothed once more, so the
// first value appears at index 2*period-1.
func ADX(candles []models.Candle, period int) []float64 {
	out := nanSeries(len(candles))
	if period <= 0 {
		return out
	}
	tr := TrueRange(candles)
	trS := newWilderSmoother(period)
	plusS := newWilderSmoother(period)
	minusS := newWilderSmoother(period)
	adxS := newWilderSmoother(period)

	for i := 1; i < len(candles); i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low
		plusDM, minusDM := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}

		smTR, ok := trS.add(tr[i])
		smPlus, _ := plusS.add(plusDM)
		smMinus, _ := minusS.add(minusDM)
		if !ok {
			continue
		}

		var plusDI, minusDI float64
		if smTR > 0 {
			plusDI = 100 * smPlus / smTR
			minusDI = 100 * smMinus / smTR
		}
		dx := 0.0
		if sum := plusDI + minusDI; sum > 0 {
			dx = 100 * math.Abs(plusDI-minusDI) / sum
		}
		if v, ok := adxS.add(dx); ok {
			out[i] = v
		}
	}
	return out
}

// VolumeRatio divides each volume by the simple average of the trailing
// period volumes, current one included. The ratio is 0 when that average is 0.
func VolumeRatio(volumes []float64, period int) []float64 {
	out := nanSeries(len(volumes))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(volumes); i++ {
		avg := SMAWithPeriod(volumes[:i+1], period)
		if avg == 0 {
			out[i] = 0
			continue
		}
		out[i] = volumes[i] / avg
	}
	return out
}

// Compute returns one snapshot per candle from the first candle where every
// indicator is defined. Earlier candles yield nothing.
func Compute(candles []models.Candle, p Periods) ([]models.IndicatorSnapshot, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	need := p.Warmup()
	if len(candles) < need {
		return nil, fmt.Errorf("%w: have %d candles, need %d", models.ErrInsufficientData, len(candles), need)
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].CloseTime.After(candles[i-1].CloseTime) {
			return nil, fmt.Errorf("%w at index %d", ErrUnorderedCandles, i)
		}
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	ema := EMA(closes, p.EMA)
	line, sig, hist := MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	rsi := RSI(closes, p.RSI)
	atr := ATR(candles, p.ATR)
	adx := ADX(candles, p.ADX)
	vr := VolumeRatio(volumes, p.Volume)

	out := make([]models.IndicatorSnapshot, 0, len(candles)-need+1)
	for i := need - 1; i < len(candles); i++ {
		out = append(out, models.IndicatorSnapshot{
			Time:          candles[i].CloseTime,
			Close:         closes[i],
			EMA:           ema[i],
			MACDLine:      line[i],
			MACDSignal:    sig[i],
			MACDHistogram: hist[i],
			RSI:           rsi[i],
			ATR:           atr[i],
			ADX:           adx[i],
			VolumeRatio:   vr[i],
		})
	}
	return out, nil
}

// Latest computes the snapshots and returns the most recent one.
func Latest(candles []models.Candle, p Periods) (models.IndicatorSnapshot, error) {
	snaps, err := Compute(candles, p)
	if err != nil {
		return models.IndicatorSnapshot{}, err
	}
	return snaps[len(snaps)-1], nil
}
