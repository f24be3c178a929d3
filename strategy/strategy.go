package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"trendrider/indicators"
	"trendrider/logging"
	"trendrider/models"
	"trendrider/position"
	"trendrider/risk"
)

const suspendTimeout = 15 * time.Second

// MarketData is the market-facing side of the exchange used by the trading
// loop.
type MarketData interface {
	GetCandles(ctx context.Context, market, interval string, count int) ([]models.Candle, error)
	GetOrderBookImbalance(ctx context.Context, market string, depth int) (models.BookImbalance, error)
	GetEquity(ctx context.Context) (float64, error)
}

// Settings configures one trading loop.
type Settings struct {
	Market       string
	Interval     string
	CandleLimit  int
	BookDepth    int
	PollInterval time.Duration
	Periods      indicators.Periods
}

// Trader runs the decision cycle for a single market: candles, indicators,
// signal, sizing and the position lifecycle.
type Trader struct {
	Settings    Settings
	Market      MarketData
	Aggregator  *Aggregator
	Risk        *risk.Manager
	Coordinator *position.Coordinator
	State       *models.State
	Notifier    position.Notifier
	Logger      logging.LoggerInterface
}

// NewTrader wires a trader. A nil state allocates a private status board.
func NewTrader(settings Settings, market MarketData, agg *Aggregator, rm *risk.Manager, coord *position.Coordinator, state *models.State, logger logging.LoggerInterface) *Trader {
	if state == nil {
		state = &models.State{}
	}
	if logger == nil {
		logger = logging.NewWriterLogger(io.Discard, logging.ERROR)
	}
	return &Trader{
		Settings:    settings,
		Market:      market,
		Aggregator:  agg,
		Risk:        rm,
		Coordinator: coord,
		State:       state,
		Logger:      logger,
	}
}

// WithNotifier sets the receiver of risk alerts and cycle errors.
func (t *Trader) WithNotifier(n position.Notifier) *Trader {
	t.Notifier = n
	return t
}

// Run resumes any persisted position, then runs one cycle per poll interval
// until ctx is done. On exit the live position is persisted, never closed.
func (t *Trader) Run(ctx context.Context) error {
	t.Logger.Info("Starting trader for %s interval=%s poll=%s", t.Settings.Market, t.Settings.Interval, t.Settings.PollInterval)
	if err := t.Coordinator.Resume(ctx); err != nil {
		t.Logger.Error("Resume failed for %s: %v", t.Settings.Market, err)
		t.notify(models.EventError, map[string]any{"market": t.Settings.Market, "stage": "resume", "error": err.Error()})
	}
	t.publish(nil, nil)
	t.notify(models.EventStarted, map[string]any{"market": t.Settings.Market, "state": t.Coordinator.State()})

	poll := t.Settings.PollInterval
	if poll <= 0 {
		poll = time.Minute
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	t.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return t.shutdown(ctx)
		case <-ticker.C:
			t.cycle(ctx)
		}
	}
}

func (t *Trader) shutdown(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), suspendTimeout)
	defer cancel()
	t.Logger.Info("Stopping trader for %s in state %s", t.Settings.Market, t.Coordinator.State())
	err := t.Coordinator.Suspend(sctx)
	if err != nil {
		t.Logger.Error("Failed to persist %s position on shutdown: %v", t.Settings.Market, err)
	}
	t.notify(models.EventStopped, map[string]any{"market": t.Settings.Market, "state": t.Coordinator.State()})
	return err
}

// cycle runs RunCycle and logs its error by class. Nothing here stops the loop.
func (t *Trader) cycle(ctx context.Context) {
	err := t.RunCycle(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}
	switch {
	case errors.Is(err, models.ErrInsufficientData):
		t.Logger.Debug("Cycle skipped: %v", err)
	case errors.Is(err, models.ErrDataUnavailable):
		t.Logger.Warning("Market data unavailable, skipping cycle: %v", err)
	case errors.Is(err, models.ErrInvalidRiskParameters), errors.Is(err, models.ErrRiskLimitExceeded):
		t.Logger.Warning("Entry aborted by risk checks: %v", err)
	case errors.Is(err, models.ErrStateInconsistency):
		t.Logger.Error("Position state inconsistency: %v", err)
	case errors.Is(err, models.ErrExecutionRejected):
		t.Logger.Warning("Execution rejected: %v", err)
	default:
		t.Logger.Error("Cycle failed: %v", err)
		t.notify(models.EventError, map[string]any{"market": t.Settings.Market, "error": err.Error()})
	}
}

// RunCycle performs one decision cycle. Callers must not run cycles
// concurrently.
func (t *Trader) RunCycle(ctx context.Context) error {
	seq := t.State.CycleSeq.Add(1)
	market := t.Settings.Market

	candles, err := t.Market.GetCandles(ctx, market, t.Settings.Interval, t.Settings.CandleLimit)
	if err != nil {
		t.recordError(err)
		return fmt.Errorf("candles for %s: %w", market, err)
	}
	snaps, err := indicators.Compute(candles, t.Settings.Periods)
	if err != nil {
		t.recordError(err)
		return fmt.Errorf("indicators for %s: %w", market, err)
	}
	snap := snaps[len(snaps)-1]
	price := snap.Close
	t.publish(&snap, nil)

	t.Logger.Debug("Cycle %d %s - Close %.4f EMA %.4f MACD %.4f/%.4f hist %.4f RSI %.2f ATR %.4f ADX %.2f Vol %.2f",
		seq, market, price, snap.EMA, snap.MACDLine, snap.MACDSignal, snap.MACDHistogram, snap.RSI, snap.ATR, snap.ADX, snap.VolumeRatio)

	if t.Coordinator.State() != models.StateFlat {
		err := t.manage(ctx, price, snap)
		t.publish(nil, nil)
		return err
	}

	book, err := t.Market.GetOrderBookImbalance(ctx, market, t.Settings.BookDepth)
	if err != nil {
		t.recordError(err)
		return fmt.Errorf("order book for %s: %w", market, err)
	}
	sig := t.Aggregator.Evaluate(snap, price, book)
	t.publish(nil, &signalView{sig: sig, book: book})
	if sig.Direction == models.None {
		t.Logger.Debug("No signal on %s: %d/%d confirmations", market, len(sig.Confirmations), sig.Total)
		return nil
	}
	t.Logger.Info("Signal %s on %s @ %.4f: %s", sig.Direction, market, price, strings.Join(sig.Reasons, "; "))

	equity, err := t.Market.GetEquity(ctx)
	if err != nil {
		t.recordError(err)
		return fmt.Errorf("equity: %w", err)
	}
	plan, err := t.Risk.Plan(sig, equity, price, snap.ATR, t.Coordinator.OpenPositions())
	if err != nil {
		t.recordError(err)
		t.notify(models.EventRiskAlert, map[string]any{"market": market, "side": sig.Direction, "error": err.Error()})
		return fmt.Errorf("plan %s entry: %w", sig.Direction, err)
	}
	t.Logger.Info("Plan %s %s: qty=%.8f stop=%.4f target=%.4f risk=%.2f equity=%.2f",
		plan.Side, market, plan.Quantity, plan.StopPrice, plan.TargetPrice, plan.RiskAmount, equity)

	err = t.Coordinator.Enter(ctx, plan)
	t.publish(nil, nil)
	if err != nil {
		t.recordError(err)
		return fmt.Errorf("enter %s: %w", plan.Side, err)
	}
	return nil
}

// manage drives a live position: protective checks first, then the strategy
// exit.
func (t *Trader) manage(ctx context.Context, price float64, snap models.IndicatorSnapshot) error {
	if err := t.Coordinator.OnMarket(ctx, price, snap); err != nil {
		t.recordError(err)
		return fmt.Errorf("manage %s: %w", t.Settings.Market, err)
	}
	switch t.Coordinator.State() {
	case models.StateOpen, models.StateTrailing:
	default:
		return nil
	}
	pos, _ := t.Coordinator.Position()
	reason, ok := t.Aggregator.ExitReason(snap, price, pos.Side)
	if !ok {
		return nil
	}
	t.Logger.Info("Strategy exit on %s %s: %s", pos.Side, t.Settings.Market, reason)
	if err := t.Coordinator.Exit(ctx, models.ExitSignal, price); err != nil {
		t.recordError(err)
		return fmt.Errorf("signal exit: %w", err)
	}
	return nil
}

type signalView struct {
	sig  models.Signal
	book models.BookImbalance
}

// publish copies the latest cycle view onto the status board.
func (t *Trader) publish(snap *models.IndicatorSnapshot, sv *signalView) {
	pos, ok := t.Coordinator.Position()
	t.State.StatusLock.Lock()
	defer t.State.StatusLock.Unlock()
	if snap != nil {
		t.State.LastIndicators = *snap
		t.State.LastCycleAt = time.Now()
		t.State.LastError = ""
	}
	if sv != nil {
		contribs := make([]string, 0, len(sv.sig.Confirmations))
		for _, c := range sv.sig.Confirmations {
			contribs = append(contribs, string(c))
		}
		t.State.LastSignal = models.SignalSnapshot{
			Direction:  sv.sig.Direction,
			Contribs:   contribs,
			Confidence: sv.sig.Confidence(),
			Reasons:    sv.sig.Reasons,
			Price:      sv.sig.Price,
			Book:       sv.book.Ratio(),
			Time:       sv.sig.Time,
		}
	}
	t.State.PositionState = t.Coordinator.State()
	if ok {
		t.State.LastPosition = pos.Snapshot(time.Now())
	} else {
		t.State.LastPosition = models.PositionSnapshot{Market: t.Settings.Market, State: models.StateFlat}
	}
}

func (t *Trader) recordError(err error) {
	t.State.StatusLock.Lock()
	t.State.LastError = err.Error()
	t.State.StatusLock.Unlock()
}

func (t *Trader) notify(event models.Event, details map[string]any) {
	if t.Notifier != nil {
		t.Notifier.Notify(event, details)
	}
}
