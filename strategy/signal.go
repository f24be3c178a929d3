package strategy

import (
	"fmt"

	"trendrider/internal/constants"
	"trendrider/models"
)

// Thresholds configures the entry and exit criteria.
type Thresholds struct {
	RSIOverbought    float64
	RSIOversold      float64
	VolumeMultiplier float64
	MinADX           float64
	// ExitADX closes a position when trend strength falls below it. Zero
	// disables the weak-trend exit.
	ExitADX float64
}

// DefaultThresholds returns the stock criteria.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIOverbought:    constants.DefaultRSIOverbought,
		RSIOversold:      constants.DefaultRSIOversold,
		VolumeMultiplier: constants.DefaultVolumeMultiplier,
		MinADX:           constants.DefaultMinADX,
		ExitADX:          constants.DefaultExitADX,
	}
}

// Aggregator turns one indicator snapshot and the book imbalance into a
// direction. It keeps no state between calls.
type Aggregator struct {
	th Thresholds
}

// NewAggregator creates an aggregator with the given thresholds.
func NewAggregator(th Thresholds) *Aggregator {
	return &Aggregator{th: th}
}

type check struct {
	criterion models.Criterion
	ok        bool
	reason    string
}

func (a *Aggregator) longChecks(s models.IndicatorSnapshot, price float64, book models.BookImbalance) []check {
	return []check{
		{models.CriterionTrend, price > s.EMA, fmt.Sprintf("price %.4f above EMA %.4f", price, s.EMA)},
		{models.CriterionMomentum, s.MACDHistogram > 0, fmt.Sprintf("MACD histogram %.4f positive", s.MACDHistogram)},
		{models.CriterionRSI, s.RSI < a.th.RSIOverbought, fmt.Sprintf("RSI %.2f below %.0f", s.RSI, a.th.RSIOverbought)},
		{models.CriterionVolume, s.VolumeRatio > a.th.VolumeMultiplier, fmt.Sprintf("volume ratio %.2f above %.2f", s.VolumeRatio, a.th.VolumeMultiplier)},
		{models.CriterionStrength, s.ADX > a.th.MinADX, fmt.Sprintf("ADX %.2f above %.0f", s.ADX, a.th.MinADX)},
		{models.CriterionBookFlow, book.BidVolume > book.AskVolume, fmt.Sprintf("bids %.4f over asks %.4f", book.BidVolume, book.AskVolume)},
	}
}

func (a *Aggregator) shortChecks(s models.IndicatorSnapshot, price float64, book models.BookImbalance) []check {
	return []check{
		{models.CriterionTrend, price < s.EMA, fmt.Sprintf("price %.4f below EMA %.4f", price, s.EMA)},
		{models.CriterionMomentum, s.MACDHistogram < 0, fmt.Sprintf("MACD histogram %.4f negative", s.MACDHistogram)},
		{models.CriterionRSI, s.RSI > a.th.RSIOversold, fmt.Sprintf("RSI %.2f above %.0f", s.RSI, a.th.RSIOversold)},
		{models.CriterionVolume, s.VolumeRatio > a.th.VolumeMultiplier, fmt.Sprintf("volume ratio %.2f above %.2f", s.VolumeRatio, a.th.VolumeMultiplier)},
		{models.CriterionStrength, s.ADX > a.th.MinADX, fmt.Sprintf("ADX %.2f above %.0f", s.ADX, a.th.MinADX)},
		{models.CriterionBookFlow, book.AskVolume > book.BidVolume, fmt.Sprintf("asks %.4f over bids %.4f", book.AskVolume, book.BidVolume)},
	}
}

func satisfied(checks []check) ([]models.Criterion, []string) {
	var crit []models.Criterion
	var reasons []string
	for _, c := range checks {
		if c.ok {
			crit = append(crit, c.criterion)
			reasons = append(reasons, c.reason)
		}
	}
	return crit, reasons
}

// Evaluate applies the conjunctive policy: every long criterion gives LONG,
// every short criterion gives SHORT, anything else gives NONE. A NONE signal
// still carries the confirmations of the closer side.
func (a *Aggregator) Evaluate(s models.IndicatorSnapshot, price float64, book models.BookImbalance) models.Signal {
	longCrit, longReasons := satisfied(a.longChecks(s, price, book))
	shortCrit, shortReasons := satisfied(a.shortChecks(s, price, book))

	sig := models.Signal{
		Direction: models.None,
		Total:     models.CriterionCount,
		Price:     price,
		Time:      s.Time,
	}
	switch {
	case len(longCrit) == models.CriterionCount:
		sig.Direction = models.Long
		sig.Confirmations, sig.Reasons = longCrit, longReasons
	case len(shortCrit) == models.CriterionCount:
		sig.Direction = models.Short
		sig.Confirmations, sig.Reasons = shortCrit, shortReasons
	case len(shortCrit) > len(longCrit):
		sig.Confirmations, sig.Reasons = shortCrit, shortReasons
	default:
		sig.Confirmations, sig.Reasons = longCrit, longReasons
	}
	return sig
}

// ExitReason reports a strategy exit for an open position: a trend reversal
// against the side, or a trend too weak to hold.
func (a *Aggregator) ExitReason(s models.IndicatorSnapshot, price float64, side models.Direction) (string, bool) {
	switch side {
	case models.Long:
		if price < s.EMA && s.MACDHistogram < 0 && s.RSI > a.th.RSIOverbought {
			return "trend reversal (bearish)", true
		}
	case models.Short:
		if price > s.EMA && s.MACDHistogram > 0 && s.RSI < a.th.RSIOversold {
			return "trend reversal (bullish)", true
		}
	}
	if a.th.ExitADX > 0 && s.ADX < a.th.ExitADX {
		return fmt.Sprintf("weak trend (ADX %.2f < %.0f)", s.ADX, a.th.ExitADX), true
	}
	return "", false
}
