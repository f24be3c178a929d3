package models

import (
	"sync"
	"sync/atomic"
	"time"
)

// InstrumentInfo holds instrument metadata
type InstrumentInfo struct {
	MinNotional float64
	MinQty      float64
	QtyStep     float64
	TickSize    float64
}

// Candle is a closed OHLCV bar.
type Candle struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	OpenTime  time.Time
	CloseTime time.Time
}

// IndicatorSnapshot holds the indicator values computed for one closed candle.
type IndicatorSnapshot struct {
	Time          time.Time `json:"time"`
	Close         float64   `json:"close"`
	EMA           float64   `json:"ema"`
	MACDLine      float64   `json:"macdLine"`
	MACDSignal    float64   `json:"macdSignal"`
	MACDHistogram float64   `json:"macdHist"`
	RSI           float64   `json:"rsi"`
	ATR           float64   `json:"atr"`
	ADX           float64   `json:"adx"`
	VolumeRatio   float64   `json:"volumeRatio"`
}

// BookImbalance is the summed size of the top levels of each book side.
type BookImbalance struct {
	BidVolume float64 `json:"bidVolume"`
	AskVolume float64 `json:"askVolume"`
}

// Ratio returns the bid share of the visible book, 0.5 when the book is empty.
func (b BookImbalance) Ratio() float64 {
	total := b.BidVolume + b.AskVolume
	if total <= 0 {
		return 0.5
	}
	return b.BidVolume / total
}

// Direction of a signal or position
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	None  Direction = "NONE"
)

// Opposite returns the reverse direction. None stays None.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return None
	}
}

// Criterion names one entry confirmation.
type Criterion string

const (
	CriterionTrend    Criterion = "trend"
	CriterionMomentum Criterion = "momentum"
	CriterionRSI      Criterion = "rsi"
	CriterionVolume   Criterion = "volume"
	CriterionStrength Criterion = "adx"
	CriterionBookFlow Criterion = "orderbook"
)

// CriterionCount is the number of criteria checked per direction.
const CriterionCount = 6

// Signal is the aggregated decision for one cycle.
type Signal struct {
	Direction     Direction
	Confirmations []Criterion
	Total         int
	Reasons       []string
	Price         float64
	Time          time.Time
}

// Confidence is the share of satisfied criteria.
func (s Signal) Confidence() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(len(s.Confirmations)) / float64(s.Total)
}

// Has reports whether the criterion was satisfied.
func (s Signal) Has(c Criterion) bool {
	for _, v := range s.Confirmations {
		if v == c {
			return true
		}
	}
	return false
}

// RiskParameters is the immutable money-at-risk configuration.
type RiskParameters struct {
	RiskFraction        float64
	StopMultiplier      float64
	TargetMultiplier    float64
	MaxPositions        int
	MinRewardRisk       float64
	MaxNotionalFraction float64
	TrailADXScaling     bool
}

// PositionPlan is the sizing decision for one entry.
type PositionPlan struct {
	Side        Direction
	EntryPrice  float64
	StopPrice   float64
	TargetPrice float64
	Quantity    float64
	RiskAmount  float64
}

// PositionState is a lifecycle state of the coordinator.
type PositionState string

const (
	StateFlat     PositionState = "FLAT"
	StateEntering PositionState = "ENTERING"
	StateOpen     PositionState = "OPEN"
	StateTrailing PositionState = "TRAILING"
	StateExiting  PositionState = "EXITING"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitStop          ExitReason = "STOP"
	ExitTarget        ExitReason = "TARGET"
	ExitSignal        ExitReason = "SIGNAL"
	ExitUnprotected   ExitReason = "UNPROTECTED"
	ExitExchange      ExitReason = "EXCHANGE"
	ExitInconsistency ExitReason = "INCONSISTENCY"
)

// Position is the single live trade owned by the coordinator.
type Position struct {
	ID            string
	Market        string
	Side          Direction
	EntryPrice    float64
	StopPrice     float64
	InitialStop   float64
	TargetPrice   float64
	Quantity      float64
	EntryQuantity float64
	State         PositionState
	OpenedAt      time.Time
	EntryOrderID  string
	StopOrderID   string
	TargetOrderID string
	RealizedPnL   float64
	ExitReason    ExitReason
}

// RiskPerUnit is the distance between entry and the initial stop.
func (p Position) RiskPerUnit() float64 {
	d := p.EntryPrice - p.InitialStop
	if d < 0 {
		return -d
	}
	return d
}

// Excursion returns the favorable price move from entry, negative when underwater.
func (p Position) Excursion(price float64) float64 {
	if p.Side == Short {
		return p.EntryPrice - price
	}
	return price - p.EntryPrice
}

// ExecutionType is the kind of order requested from the exchange.
type ExecutionType string

const (
	ExecEntry  ExecutionType = "ENTRY"
	ExecStop   ExecutionType = "STOP"
	ExecTarget ExecutionType = "TARGET"
	ExecClose  ExecutionType = "CLOSE"
	ExecCancel ExecutionType = "CANCEL"
)

// ExecutionRequest is sent to the execution collaborator.
type ExecutionRequest struct {
	ClientID string
	Type     ExecutionType
	Market   string
	Side     Direction
	Quantity float64
	Price    float64
	OrderID  string
}

// ExecutionStatus is the outcome class of an execution call.
type ExecutionStatus string

const (
	StatusFilled   ExecutionStatus = "FILLED"
	StatusPartial  ExecutionStatus = "PARTIAL"
	StatusRejected ExecutionStatus = "REJECTED"
	StatusPending  ExecutionStatus = "PENDING"
	StatusError    ExecutionStatus = "ERROR"
)

// ExecutionResult is returned by the execution collaborator.
type ExecutionResult struct {
	Status          ExecutionStatus
	FilledPrice     float64
	FilledQuantity  float64
	ExchangeOrderID string
	Message         string
}

// ExchangePosition is the exchange-side view of the market position.
type ExchangePosition struct {
	Market   string
	Side     Direction
	Quantity float64
	AvgPrice float64
}

// Flat reports whether the exchange holds nothing.
func (e ExchangePosition) Flat() bool {
	return e.Quantity <= 0
}

// PositionSnapshot holds the persisted fields of a position and doubles as
// the status view.
type PositionSnapshot struct {
	ID            string        `json:"id"`
	Market        string        `json:"market"`
	Side          Direction     `json:"side"`
	State         PositionState `json:"state"`
	Quantity      float64       `json:"quantity"`
	EntryQuantity float64       `json:"entryQuantity"`
	EntryPrice    float64       `json:"entryPrice"`
	StopPrice     float64       `json:"stopPrice"`
	InitialStop   float64       `json:"initialStop"`
	TargetPrice   float64       `json:"targetPrice"`
	EntryOrderID  string        `json:"entryOrderId,omitempty"`
	StopOrderID   string        `json:"stopOrderId,omitempty"`
	TargetOrderID string        `json:"targetOrderId,omitempty"`
	RealizedPnL   float64       `json:"realizedPnl"`
	ExitReason    ExitReason    `json:"exitReason,omitempty"`
	OpenedAt      time.Time     `json:"openedAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Snapshot captures the position for persistence.
func (p Position) Snapshot(at time.Time) PositionSnapshot {
	return PositionSnapshot{
		ID:            p.ID,
		Market:        p.Market,
		Side:          p.Side,
		State:         p.State,
		Quantity:      p.Quantity,
		EntryQuantity: p.EntryQuantity,
		EntryPrice:    p.EntryPrice,
		StopPrice:     p.StopPrice,
		InitialStop:   p.InitialStop,
		TargetPrice:   p.TargetPrice,
		EntryOrderID:  p.EntryOrderID,
		StopOrderID:   p.StopOrderID,
		TargetOrderID: p.TargetOrderID,
		RealizedPnL:   p.RealizedPnL,
		ExitReason:    p.ExitReason,
		OpenedAt:      p.OpenedAt,
		UpdatedAt:     at,
	}
}

// Position rebuilds a position from its snapshot.
func (s PositionSnapshot) Position() Position {
	return Position{
		ID:            s.ID,
		Market:        s.Market,
		Side:          s.Side,
		EntryPrice:    s.EntryPrice,
		StopPrice:     s.StopPrice,
		InitialStop:   s.InitialStop,
		TargetPrice:   s.TargetPrice,
		Quantity:      s.Quantity,
		EntryQuantity: s.EntryQuantity,
		State:         s.State,
		OpenedAt:      s.OpenedAt,
		EntryOrderID:  s.EntryOrderID,
		StopOrderID:   s.StopOrderID,
		TargetOrderID: s.TargetOrderID,
		RealizedPnL:   s.RealizedPnL,
		ExitReason:    s.ExitReason,
	}
}

// TradeOutcome is the realized result of a closed position.
type TradeOutcome struct {
	PositionID string     `json:"positionId"`
	Market     string     `json:"market"`
	Side       Direction  `json:"side"`
	EntryPrice float64    `json:"entryPrice"`
	ExitPrice  float64    `json:"exitPrice"`
	Quantity   float64    `json:"quantity"`
	PnL        float64    `json:"pnl"`
	Reason     ExitReason `json:"reason"`
	OpenedAt   time.Time  `json:"openedAt"`
	ClosedAt   time.Time  `json:"closedAt"`
}

// Performance summarizes a series of trade outcomes.
type Performance struct {
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"winRate"`
	ProfitFactor float64 `json:"profitFactor"`
	TotalPnL     float64 `json:"totalPnl"`
	MaxDrawdown  float64 `json:"maxDrawdown"`
}

// Event is a notification kind.
type Event string

const (
	EventStarted        Event = "started"
	EventStopped        Event = "stopped"
	EventEntryFilled    Event = "entry_filled"
	EventEntryFailed    Event = "entry_failed"
	EventStopMoved      Event = "stop_moved"
	EventPositionClosed Event = "position_closed"
	EventResumed        Event = "resumed"
	EventInconsistency  Event = "inconsistency"
	EventRiskAlert      Event = "risk_alert"
	EventError          Event = "error"
)

// SignalSnapshot holds the latest evaluated signal for status reporting.
type SignalSnapshot struct {
	Direction  Direction `json:"direction"`
	Contribs   []string  `json:"contribs,omitempty"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons,omitempty"`
	Price      float64   `json:"price"`
	Book       float64   `json:"bookRatio"`
	Time       time.Time `json:"time"`
}

// State is the status board shared between the trading loop and the status
// server.
type State struct {
	CycleSeq atomic.Uint64

	// Status snapshots for external reporting
	StatusLock     sync.RWMutex
	LastSignal     SignalSnapshot
	LastIndicators IndicatorSnapshot
	LastPosition   PositionSnapshot
	PositionState  PositionState
	LastError      string
	LastCycleAt    time.Time
}
