package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trendrider/models"
)

func TestFloorToStep(t *testing.T) {
	assert.Equal(t, 33.33, FloorToStep(100.0/3.0, 0.01))
	assert.Equal(t, 0.005, FloorToStep(0.0059, 0.001))
	assert.Equal(t, 2.0, FloorToStep(2.9, 1))
	assert.Equal(t, 1.2345, FloorToStep(1.2345, 0))
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, 100.5, FormatPrice(100.49, 0.1))
	assert.Equal(t, "100.50", FormatPriceToString(100.499, 0.01))
	assert.Equal(t, "97", FormatPriceToString(97, 1))
}

func TestFormatQuantityToString(t *testing.T) {
	assert.Equal(t, "0.005", FormatQuantityToString(0.0054, 0.001))
	assert.Equal(t, "33.33", FormatQuantityToString(33.3333, 0.01))
	assert.Equal(t, "2", FormatQuantityToString(2, 1))
}

func TestNormalizeSide(t *testing.T) {
	assert.Equal(t, models.Long, NormalizeSide("Buy"))
	assert.Equal(t, models.Short, NormalizeSide("SELL"))
	assert.Equal(t, models.None, NormalizeSide(""))
	assert.Equal(t, "Sell", CloseSide(models.Long))
	assert.Equal(t, "Sell", OrderSide(models.Short))
}
