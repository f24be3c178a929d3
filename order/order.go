package order

import (
	"strconv"

	"github.com/google/uuid"

	"trendrider/models"
)

// NewClientID returns a fresh idempotency key for an exchange order.
func NewClientID() string {
	return uuid.NewString()
}

// NewEntry builds the market order that opens a plan.
func NewEntry(market string, plan models.PositionPlan) models.ExecutionRequest {
	return models.ExecutionRequest{
		ClientID: NewClientID(),
		Type:     models.ExecEntry,
		Market:   market,
		Side:     plan.Side,
		Quantity: plan.Quantity,
		Price:    plan.EntryPrice,
	}
}

// NewClose builds the reduce-only order that closes qty of a position.
func NewClose(pos models.Position, qty float64) models.ExecutionRequest {
	return models.ExecutionRequest{
		ClientID: NewClientID(),
		Type:     models.ExecClose,
		Market:   pos.Market,
		Side:     pos.Side,
		Quantity: qty,
	}
}

// NewStop builds the protective stop for a position at price.
func NewStop(pos models.Position, price float64) models.ExecutionRequest {
	return models.ExecutionRequest{
		ClientID: NewClientID(),
		Type:     models.ExecStop,
		Market:   pos.Market,
		Side:     pos.Side,
		Quantity: pos.Quantity,
		Price:    price,
	}
}

// NewTarget builds the take-profit order for a position.
func NewTarget(pos models.Position) models.ExecutionRequest {
	return models.ExecutionRequest{
		ClientID: NewClientID(),
		Type:     models.ExecTarget,
		Market:   pos.Market,
		Side:     pos.Side,
		Quantity: pos.Quantity,
		Price:    pos.TargetPrice,
	}
}

// NewCancel builds a cancel for a resting exchange order.
func NewCancel(market, orderID string) models.ExecutionRequest {
	return models.ExecutionRequest{
		ClientID: NewClientID(),
		Type:     models.ExecCancel,
		Market:   market,
		OrderID:  orderID,
	}
}

// WithClientID reuses an existing idempotency key, for retries of the same
// logical order.
func WithClientID(req models.ExecutionRequest, id string) models.ExecutionRequest {
	req.ClientID = id
	return req
}

// FormatQty formats quantity according to instrument step
func FormatQty(qty, step float64) string {
	dec := 0
	tempStep := step
	for tempStep > 0 && tempStep < 1 {
		tempStep *= 10
		dec++
	}
	return strconv.FormatFloat(qty, 'f', dec, 64)
}
