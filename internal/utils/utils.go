package utils

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"trendrider/internal/constants"
	"trendrider/models"
)

// stepDecimals returns the number of decimals implied by a tick or lot step.
func stepDecimals(step float64) int32 {
	if step <= 0 {
		return 0
	}
	return -decimal.NewFromFloat(step).Exponent()
}

// FloorToStep rounds a quantity down to a multiple of the lot step.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	d := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Floor().Mul(s).Float64()
	return f
}

// FormatPrice rounds a price to the specified tick size
func FormatPrice(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	d := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tickSize)
	f, _ := d.Div(t).Round(0).Mul(t).Float64()
	return f
}

// FormatPriceToString formats a price to string with tick size precision
func FormatPriceToString(price, tickSize float64) string {
	if tickSize <= 0 {
		return strconv.FormatFloat(price, 'f', -1, 64)
	}
	return decimal.NewFromFloat(FormatPrice(price, tickSize)).StringFixed(stepDecimals(tickSize))
}

// FormatQuantityToString formats a quantity to string with step size precision
func FormatQuantityToString(qty, stepSize float64) string {
	if stepSize <= 0 {
		return strconv.FormatFloat(qty, 'f', -1, 64)
	}
	return decimal.NewFromFloat(FloorToStep(qty, stepSize)).StringFixed(stepDecimals(stepSize))
}

// NormalizeSide maps exchange and local side names to a direction.
func NormalizeSide(side string) models.Direction {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "BUY", "LONG":
		return models.Long
	case "SELL", "SHORT":
		return models.Short
	default:
		return models.None
	}
}

// OrderSide returns the exchange order side that opens a position in d.
func OrderSide(d models.Direction) string {
	if d == models.Short {
		return constants.Sell
	}
	return constants.Buy
}

// CloseSide returns the exchange order side that reduces a position in d.
func CloseSide(d models.Direction) string {
	if d == models.Short {
		return constants.Buy
	}
	return constants.Sell
}
