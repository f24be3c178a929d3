package risk

import (
	"math"

	"trendrider/models"
)

// Summarize computes win rate, profit factor and max drawdown over outcomes
// in the order given.
func Summarize(outcomes []models.TradeOutcome) models.Performance {
	var perf models.Performance
	var grossWin, grossLoss, equity, peak float64

	for _, o := range outcomes {
		perf.Trades++
		perf.TotalPnL += o.PnL
		if o.PnL > 0 {
			perf.Wins++
			grossWin += o.PnL
		} else if o.PnL < 0 {
			perf.Losses++
			grossLoss += -o.PnL
		}

		equity += o.PnL
		if equity > peak {
			peak = equity
		}
		perf.MaxDrawdown = math.Max(perf.MaxDrawdown, peak-equity)
	}

	if perf.Trades > 0 {
		perf.WinRate = float64(perf.Wins) / float64(perf.Trades)
	}
	// ProfitFactor stays 0 when there are no losing trades.
	if grossLoss > 0 {
		perf.ProfitFactor = grossWin / grossLoss
	}
	return perf
}
