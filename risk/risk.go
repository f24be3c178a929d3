package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"trendrider/internal/constants"
	"trendrider/internal/utils"
	"trendrider/models"
)

// Manager owns every money-at-risk calculation: stop, target, quantity and
// the trailing stop candidate.
type Manager struct {
	params models.RiskParameters
	instr  models.InstrumentInfo
}

// DefaultParameters returns the stock fractional-risk configuration.
func DefaultParameters() models.RiskParameters {
	return models.RiskParameters{
		RiskFraction:     constants.DefaultRiskFraction,
		StopMultiplier:   constants.DefaultSLAtrMultiplier,
		TargetMultiplier: constants.DefaultTPAtrMultiplier,
		MaxPositions:     1,
		MinRewardRisk:    constants.DefaultMinRewardRisk,
	}
}

// Validate checks the risk parameters against the hard limits.
func Validate(p models.RiskParameters) error {
	switch {
	case p.RiskFraction <= 0 || p.RiskFraction > constants.MaxRiskFraction:
		return fmt.Errorf("%w: risk fraction %.4f outside (0, %.2f]", models.ErrInvalidRiskParameters, p.RiskFraction, constants.MaxRiskFraction)
	case p.StopMultiplier <= 0:
		return fmt.Errorf("%w: stop multiplier must be positive", models.ErrInvalidRiskParameters)
	case p.TargetMultiplier <= 0:
		return fmt.Errorf("%w: target multiplier must be positive", models.ErrInvalidRiskParameters)
	case p.MaxPositions < 1:
		return fmt.Errorf("%w: max positions must be at least 1", models.ErrInvalidRiskParameters)
	case p.MaxNotionalFraction < 0:
		return fmt.Errorf("%w: max notional fraction must not be negative", models.ErrInvalidRiskParameters)
	}
	if p.MinRewardRisk > 0 {
		if rr := p.TargetMultiplier / p.StopMultiplier; rr < p.MinRewardRisk {
			return fmt.Errorf("%w: reward:risk %.2f below minimum %.2f", models.ErrInvalidRiskParameters, rr, p.MinRewardRisk)
		}
	}
	return nil
}

// NewManager validates params and binds them to the instrument's lot and tick
// constraints.
func NewManager(params models.RiskParameters, instr models.InstrumentInfo) (*Manager, error) {
	if err := Validate(params); err != nil {
		return nil, err
	}
	if instr.QtyStep < 0 || instr.MinQty < 0 || instr.TickSize < 0 {
		return nil, fmt.Errorf("%w: negative instrument constraint %+v", models.ErrInvalidRiskParameters, instr)
	}
	return &Manager{params: params, instr: instr}, nil
}

// Parameters returns the bound risk parameters.
func (m *Manager) Parameters() models.RiskParameters {
	return m.params
}

// Plan sizes an entry so that a stop-out loses equity*RiskFraction, rounded
// down to the lot step.
func (m *Manager) Plan(sig models.Signal, equity, entry, atr float64, openPositions int) (models.PositionPlan, error) {
	if sig.Direction != models.Long && sig.Direction != models.Short {
		return models.PositionPlan{}, fmt.Errorf("%w: no direction to plan", models.ErrInvalidRiskParameters)
	}
	if openPositions >= m.params.MaxPositions {
		return models.PositionPlan{}, fmt.Errorf("%w: %d of %d positions open", models.ErrRiskLimitExceeded, openPositions, m.params.MaxPositions)
	}
	if !(equity > 0) || !(entry > 0) || !(atr > 0) {
		return models.PositionPlan{}, fmt.Errorf("%w: equity=%.4f entry=%.4f atr=%.4f", models.ErrInvalidRiskParameters, equity, entry, atr)
	}

	stopDistance := atr * m.params.StopMultiplier
	targetDistance := atr * m.params.TargetMultiplier

	var stop, target float64
	if sig.Direction == models.Long {
		stop = utils.FormatPrice(entry-stopDistance, m.instr.TickSize)
		target = utils.FormatPrice(entry+targetDistance, m.instr.TickSize)
	} else {
		stop = utils.FormatPrice(entry+stopDistance, m.instr.TickSize)
		target = utils.FormatPrice(entry-targetDistance, m.instr.TickSize)
	}
	if stop <= 0 || target <= 0 {
		return models.PositionPlan{}, fmt.Errorf("%w: stop %.4f or target %.4f not positive", models.ErrInvalidRiskParameters, stop, target)
	}
	effective := math.Abs(entry - stop)
	if effective == 0 {
		return models.PositionPlan{}, fmt.Errorf("%w: stop distance collapsed to zero", models.ErrInvalidRiskParameters)
	}

	riskCapital := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(m.params.RiskFraction))
	raw, _ := riskCapital.Div(decimal.NewFromFloat(effective)).Float64()
	if m.params.MaxNotionalFraction > 0 {
		if capQty := equity * m.params.MaxNotionalFraction / entry; raw > capQty {
			raw = capQty
		}
	}
	qty := utils.FloorToStep(raw, m.instr.QtyStep)
	if qty <= 0 || qty < m.instr.MinQty {
		return models.PositionPlan{}, fmt.Errorf("%w: quantity %.8f below minimum %.8f", models.ErrRiskLimitExceeded, qty, m.instr.MinQty)
	}
	if m.instr.MinNotional > 0 && qty*entry < m.instr.MinNotional {
		return models.PositionPlan{}, fmt.Errorf("%w: notional %.4f below minimum %.4f", models.ErrRiskLimitExceeded, qty*entry, m.instr.MinNotional)
	}

	riskAmount, _ := riskCapital.Float64()
	return models.PositionPlan{
		Side:        sig.Direction,
		EntryPrice:  entry,
		StopPrice:   stop,
		TargetPrice: target,
		Quantity:    qty,
		RiskAmount:  riskAmount,
	}, nil
}

// TrailingStop returns a new stop for pos at price when it is strictly more
// favorable than the current one. The distance is StopMultiplier*atr, widened
// with trend strength when ADX scaling is enabled.
func (m *Manager) TrailingStop(pos models.Position, price, atr, adx float64) (float64, bool) {
	if !(atr > 0) || !(price > 0) {
		return pos.StopPrice, false
	}
	factor := 1.0
	if m.params.TrailADXScaling {
		factor = 1 + (adx-constants.ADXScalingBase)/100
		if factor < 0.5 {
			factor = 0.5
		}
	}
	distance := m.params.StopMultiplier * atr * factor

	switch pos.Side {
	case models.Long:
		candidate := utils.FormatPrice(price-distance, m.instr.TickSize)
		if candidate > pos.StopPrice && candidate < price {
			return candidate, true
		}
	case models.Short:
		candidate := utils.FormatPrice(price+distance, m.instr.TickSize)
		if candidate < pos.StopPrice && candidate > price {
			return candidate, true
		}
	}
	return pos.StopPrice, false
}

// RewardRisk returns target distance over stop distance, 0 when the stop
// distance is zero.
func RewardRisk(entry, stop, target float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(target-entry) / risk
}
