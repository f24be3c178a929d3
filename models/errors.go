package models

import "errors"

var (
	// ErrInsufficientData means the candle window is too short for the
	// configured periods. The cycle is skipped.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDataUnavailable means the market data feed failed. The cycle is skipped.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrInvalidRiskParameters means the risk configuration or inputs cannot
	// produce a plan.
	ErrInvalidRiskParameters = errors.New("invalid risk parameters")
	// ErrRiskLimitExceeded means a plan would breach a risk limit.
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")
	// ErrExecutionRejected means the exchange refused the order.
	ErrExecutionRejected = errors.New("execution rejected")
	// ErrExecutionTransient is a network or timeout failure on an order call.
	// It is the only error retried automatically.
	ErrExecutionTransient = errors.New("transient execution error")
	// ErrStateInconsistency means local position state disagrees with the
	// exchange.
	ErrStateInconsistency = errors.New("state inconsistency")
)
