package position

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"

	"trendrider/logging"
	"trendrider/models"
	"trendrider/order"
)

const (
	qtyEpsilon       = 1e-9
	maxExitRounds    = 10
	reconcileTimeout = 10 * time.Second
)

// Executor places and queries orders on the exchange. Implementations must be
// idempotent for a repeated ClientID.
type Executor interface {
	PlaceOrder(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error)
	CancelOrder(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error)
	QueryPosition(ctx context.Context, market string) (models.ExchangePosition, error)
}

// Store persists the open position across restarts and records closed trades.
// LoadPosition returns nil, nil when nothing is stored.
type Store interface {
	SavePosition(ctx context.Context, snap models.PositionSnapshot) error
	LoadPosition(ctx context.Context, market string) (*models.PositionSnapshot, error)
	ClearPosition(ctx context.Context, market string) error
	RecordOutcome(ctx context.Context, outcome models.TradeOutcome) error
}

// Notifier receives lifecycle events. Notify must not block.
type Notifier interface {
	Notify(event models.Event, details map[string]any)
}

// Trailer proposes a more favorable stop for an open position.
type Trailer interface {
	TrailingStop(pos models.Position, price, atr, adx float64) (float64, bool)
}

// Options configures trailing and retries.
type Options struct {
	Trailing bool
	// TrailActivationR is the favorable excursion, in multiples of the initial
	// risk per unit, before the stop starts to trail.
	TrailActivationR float64
	Retry            order.RetryPolicy
}

// Coordinator owns the single position of one market and drives it through
// FLAT, ENTERING, OPEN, TRAILING and EXITING. It is not safe for concurrent
// use; the trading loop serializes every call.
type Coordinator struct {
	market   string
	executor Executor
	trailer  Trailer
	store    Store
	notifier Notifier
	opts     Options
	logger   logging.LoggerInterface
	now      func() time.Time

	state     models.PositionState
	pos       *models.Position
	lastPrice float64
}

// NewCoordinator creates a FLAT coordinator for market.
func NewCoordinator(market string, executor Executor, trailer Trailer, opts Options, logger logging.LoggerInterface) *Coordinator {
	if logger == nil {
		logger = logging.NewWriterLogger(io.Discard, logging.ERROR)
	}
	return &Coordinator{
		market:   market,
		executor: executor,
		trailer:  trailer,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		state:    models.StateFlat,
	}
}

// WithStore sets the persistence backend.
func (c *Coordinator) WithStore(s Store) *Coordinator {
	c.store = s
	return c
}

// WithNotifier sets the event sink.
func (c *Coordinator) WithNotifier(n Notifier) *Coordinator {
	c.notifier = n
	return c
}

// WithClock replaces the wall clock.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() models.PositionState {
	return c.state
}

// Position returns a copy of the live position.
func (c *Coordinator) Position() (models.Position, bool) {
	if c.pos == nil {
		return models.Position{}, false
	}
	return *c.pos, true
}

// OpenPositions returns 1 while a position exists, else 0.
func (c *Coordinator) OpenPositions() int {
	if c.state == models.StateFlat {
		return 0
	}
	return 1
}

// Enter opens a position for plan. It is only accepted from FLAT.
func (c *Coordinator) Enter(ctx context.Context, plan models.PositionPlan) error {
	if c.state != models.StateFlat {
		return fmt.Errorf("%w: %s already %s", models.ErrRiskLimitExceeded, c.market, c.state)
	}
	if plan.Side != models.Long && plan.Side != models.Short {
		return fmt.Errorf("%w: plan has no side", models.ErrInvalidRiskParameters)
	}
	if !(plan.Quantity > 0) {
		return fmt.Errorf("%w: plan quantity %.8f", models.ErrInvalidRiskParameters, plan.Quantity)
	}

	c.setState(models.StateEntering)
	c.logger.Info("Entering %s %s: qty=%.8f entry=%.4f stop=%.4f target=%.4f",
		plan.Side, c.market, plan.Quantity, plan.EntryPrice, plan.StopPrice, plan.TargetPrice)

	ex, err := c.executor.QueryPosition(ctx, c.market)
	if err != nil {
		c.setState(models.StateFlat)
		return fmt.Errorf("reconcile before entry: %w", asTransient(err))
	}
	if !ex.Flat() {
		return c.inconsistency(ctx, fmt.Sprintf("exchange holds %s %.8f while local state is FLAT", ex.Side, ex.Quantity))
	}

	req := order.NewEntry(c.market, plan)
	var fill models.ExecutionResult
	err = c.opts.Retry.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			if ex, qerr := c.executor.QueryPosition(ctx, c.market); qerr == nil && !ex.Flat() && ex.Side == plan.Side {
				c.logger.Warning("Entry %s already visible on exchange after retry; adopting %.8f @ %.4f", req.ClientID, ex.Quantity, ex.AvgPrice)
				fill = adoptFill(ex)
				return nil
			}
		}
		res, perr := c.executor.PlaceOrder(ctx, req)
		if perr != nil {
			c.logger.Warning("Entry attempt %d for %s failed: %v", attempt, c.market, perr)
			return asTransient(perr)
		}
		switch res.Status {
		case models.StatusFilled, models.StatusPartial:
			if res.FilledQuantity <= 0 && res.Status == models.StatusPartial {
				return fmt.Errorf("%w: partial entry without quantity", models.ErrExecutionTransient)
			}
			fill = res
			return nil
		case models.StatusRejected:
			return fmt.Errorf("%w: %s", models.ErrExecutionRejected, res.Message)
		default:
			c.logger.Warning("Entry attempt %d for %s returned %s: %s", attempt, c.market, res.Status, res.Message)
			return fmt.Errorf("%w: entry %s: %s", models.ErrExecutionTransient, res.Status, res.Message)
		}
	})
	if err != nil {
		if errors.Is(err, models.ErrExecutionRejected) {
			c.setState(models.StateFlat)
			c.logger.Warning("Entry for %s rejected: %v", c.market, err)
			c.notify(models.EventEntryFailed, map[string]any{"market": c.market, "side": plan.Side, "error": err.Error()})
			return err
		}
		adopted, ok, ferr := c.finalEntryCheck(ctx, plan, err)
		if !ok {
			return ferr
		}
		fill = adopted
	}

	return c.opened(ctx, plan, req.ClientID, fill)
}

// finalEntryCheck runs after retries are exhausted. The exchange may hold a
// fill the responses never confirmed.
func (c *Coordinator) finalEntryCheck(ctx context.Context, plan models.PositionPlan, cause error) (models.ExecutionResult, bool, error) {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
	defer cancel()

	if !errors.Is(cause, models.ErrExecutionTransient) {
		cause = fmt.Errorf("%w: %w", models.ErrExecutionTransient, cause)
	}
	ex, qerr := c.executor.QueryPosition(qctx, c.market)
	switch {
	case qerr != nil:
		c.logger.Error("Entry for %s failed and exchange state is unknown: %v (query: %v)", c.market, cause, qerr)
	case !ex.Flat() && ex.Side == plan.Side:
		c.logger.Warning("Entry retries exhausted but exchange holds %s %.8f; adopting", ex.Side, ex.Quantity)
		return adoptFill(ex), true, nil
	case !ex.Flat():
		return models.ExecutionResult{}, false, c.inconsistency(ctx, fmt.Sprintf("exchange holds %s %.8f after failed %s entry", ex.Side, ex.Quantity, plan.Side))
	}
	c.setState(models.StateFlat)
	c.notify(models.EventEntryFailed, map[string]any{"market": c.market, "side": plan.Side, "error": cause.Error()})
	return models.ExecutionResult{}, false, fmt.Errorf("entry %s: %w", c.market, cause)
}

func adoptFill(ex models.ExchangePosition) models.ExecutionResult {
	return models.ExecutionResult{
		Status:         models.StatusFilled,
		FilledPrice:    ex.AvgPrice,
		FilledQuantity: ex.Quantity,
	}
}

// opened turns a confirmed entry fill into a protected position.
func (c *Coordinator) opened(ctx context.Context, plan models.PositionPlan, clientID string, fill models.ExecutionResult) error {
	qty := fill.FilledQuantity
	if qty <= 0 || qty > plan.Quantity {
		qty = plan.Quantity
	}
	price := fill.FilledPrice
	if price <= 0 {
		price = plan.EntryPrice
	}
	entryID := fill.ExchangeOrderID
	if entryID == "" {
		entryID = clientID
	}

	c.pos = &models.Position{
		ID:            uuid.NewString(),
		Market:        c.market,
		Side:          plan.Side,
		EntryPrice:    price,
		StopPrice:     plan.StopPrice,
		InitialStop:   plan.StopPrice,
		TargetPrice:   plan.TargetPrice,
		Quantity:      qty,
		EntryQuantity: qty,
		State:         models.StateEntering,
		OpenedAt:      c.now(),
		EntryOrderID:  entryID,
	}
	c.lastPrice = price
	c.logger.Info("Entry filled for %s: %s %.8f @ %.4f", c.market, plan.Side, qty, price)

	if err := c.armStop(ctx, plan.StopPrice); err != nil {
		if c.pos == nil {
			return err
		}
		c.logger.Error("Failed to arm stop for %s at %.4f: %v; closing unprotected position", c.market, plan.StopPrice, err)
		c.notify(models.EventRiskAlert, map[string]any{"market": c.market, "reason": "stop not armed", "error": err.Error()})
		return errors.Join(fmt.Errorf("arm stop: %w", err), c.Exit(ctx, models.ExitUnprotected, price))
	}
	if plan.TargetPrice > 0 {
		if err := c.armTarget(ctx); err != nil {
			if c.pos == nil {
				return err
			}
			c.logger.Warning("Failed to arm target for %s at %.4f: %v; relying on local target check", c.market, plan.TargetPrice, err)
		}
	}

	c.setState(models.StateOpen)
	c.persist(ctx)
	c.notify(models.EventEntryFilled, map[string]any{
		"market":   c.market,
		"side":     c.pos.Side,
		"quantity": c.pos.Quantity,
		"entry":    c.pos.EntryPrice,
		"stop":     c.pos.StopPrice,
		"target":   c.pos.TargetPrice,
	})
	return nil
}

// arm places a protective order with retries. Every retry reconciles with the
// exchange first.
func (c *Coordinator) arm(ctx context.Context, build func() models.ExecutionRequest) (models.ExecutionResult, error) {
	id := order.NewClientID()
	var res models.ExecutionResult
	err := c.opts.Retry.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			if err := c.Reconcile(ctx); err != nil {
				return err
			}
		}
		req := order.WithClientID(build(), id)
		r, err := c.executor.PlaceOrder(ctx, req)
		if err != nil {
			return asTransient(err)
		}
		switch r.Status {
		case models.StatusPending, models.StatusFilled:
			res = r
			return nil
		case models.StatusRejected:
			return fmt.Errorf("%w: %s %s", models.ErrExecutionRejected, req.Type, r.Message)
		default:
			return fmt.Errorf("%w: %s %s: %s", models.ErrExecutionTransient, req.Type, r.Status, r.Message)
		}
	})
	return res, err
}

func (c *Coordinator) armStop(ctx context.Context, price float64) error {
	res, err := c.arm(ctx, func() models.ExecutionRequest { return order.NewStop(*c.pos, price) })
	if err != nil {
		return err
	}
	if id := res.ExchangeOrderID; id != "" {
		if old := c.pos.StopOrderID; old != "" && old != id {
			c.cancel(ctx, old)
		}
		c.pos.StopOrderID = id
	}
	c.pos.StopPrice = price
	return nil
}

func (c *Coordinator) armTarget(ctx context.Context) error {
	res, err := c.arm(ctx, func() models.ExecutionRequest { return order.NewTarget(*c.pos) })
	if err != nil {
		return err
	}
	if res.ExchangeOrderID != "" {
		c.pos.TargetOrderID = res.ExchangeOrderID
	}
	return nil
}

func (c *Coordinator) cancel(ctx context.Context, orderID string) {
	res, err := c.executor.CancelOrder(ctx, order.NewCancel(c.market, orderID))
	if err != nil {
		c.logger.Debug("Cancel of %s on %s failed: %v", orderID, c.market, err)
		return
	}
	c.logger.Debug("Cancel of %s on %s: %s", orderID, c.market, res.Status)
}

// OnMarket feeds the latest price and indicators to an open position. It
// books protective fills reported by the exchange, fires stop and target
// exits, ratchets the trailing stop and continues an unfinished exit. A
// non-positive price never triggers an exit.
func (c *Coordinator) OnMarket(ctx context.Context, price float64, snap models.IndicatorSnapshot) error {
	if price > 0 {
		c.lastPrice = price
	}
	switch c.state {
	case models.StateFlat, models.StateEntering:
		return nil
	case models.StateExiting:
		return c.runExit(ctx, price)
	}

	if done, err := c.checkExchange(ctx, price); done || err != nil {
		return err
	}
	if price <= 0 {
		c.logger.Warning("Ignoring non-positive price %.4f for %s", price, c.market)
		return nil
	}

	pos := c.pos
	switch {
	case stopHit(pos, price):
		c.logger.Info("Stop hit on %s: price %.4f stop %.4f", c.market, price, pos.StopPrice)
		return c.Exit(ctx, models.ExitStop, price)
	case targetHit(pos, price):
		c.logger.Info("Target hit on %s: price %.4f target %.4f", c.market, price, pos.TargetPrice)
		return c.Exit(ctx, models.ExitTarget, price)
	}

	if c.opts.Trailing && c.trailer != nil {
		return c.trail(ctx, price, snap)
	}
	return nil
}

// checkExchange compares the open position with the exchange. A flat
// exchange means a resting stop or target filled; done reports that the
// position was booked and closed. A failed query leaves the local checks to
// run.
func (c *Coordinator) checkExchange(ctx context.Context, price float64) (done bool, err error) {
	ex, err := c.executor.QueryPosition(ctx, c.market)
	if err != nil {
		c.logger.Warning("Position query for %s failed, using local levels: %v", c.market, err)
		return false, nil
	}
	if !ex.Flat() {
		err := c.applyExchange(ctx, ex)
		return c.pos == nil, err
	}
	c.pos.ExitReason = protectiveReason(c.pos, c.referencePrice(price))
	c.setState(models.StateExiting)
	c.logger.Info("Exchange flat for %s; protective %s order filled", c.market, c.pos.ExitReason)
	return true, c.finish(ctx, c.referencePrice(price))
}

// protectiveReason infers which resting order filled from the level nearest
// to price.
func protectiveReason(pos *models.Position, price float64) models.ExitReason {
	switch {
	case pos.TargetPrice <= 0:
		return models.ExitStop
	case pos.StopPrice <= 0:
		return models.ExitTarget
	}
	if math.Abs(price-pos.TargetPrice) < math.Abs(price-pos.StopPrice) {
		return models.ExitTarget
	}
	return models.ExitStop
}

func stopHit(pos *models.Position, price float64) bool {
	if pos.StopPrice <= 0 {
		return false
	}
	if pos.Side == models.Short {
		return price >= pos.StopPrice
	}
	return price <= pos.StopPrice
}

func targetHit(pos *models.Position, price float64) bool {
	if pos.TargetPrice <= 0 {
		return false
	}
	if pos.Side == models.Short {
		return price <= pos.TargetPrice
	}
	return price >= pos.TargetPrice
}

func improves(pos *models.Position, stop float64) bool {
	if pos.Side == models.Short {
		return stop < pos.StopPrice
	}
	return stop > pos.StopPrice
}

func (c *Coordinator) trail(ctx context.Context, price float64, snap models.IndicatorSnapshot) error {
	pos := c.pos
	risk := pos.RiskPerUnit()
	excursion := pos.Excursion(price)
	if risk <= 0 || excursion <= 0 || excursion < c.opts.TrailActivationR*risk {
		return nil
	}
	candidate, ok := c.trailer.TrailingStop(*pos, price, snap.ATR, snap.ADX)
	if !ok || !improves(pos, candidate) {
		return nil
	}

	prev := pos.StopPrice
	if err := c.armStop(ctx, candidate); err != nil {
		if c.pos == nil {
			return err
		}
		c.logger.Warning("Failed to move stop on %s to %.4f, keeping %.4f: %v", c.market, candidate, prev, err)
		return fmt.Errorf("move stop: %w", err)
	}

	c.setState(models.StateTrailing)
	c.persist(ctx)
	c.logger.Info("Trailing stop on %s moved %.4f -> %.4f (price %.4f)", c.market, prev, candidate, price)
	c.notify(models.EventStopMoved, map[string]any{"market": c.market, "from": prev, "to": candidate, "price": price})
	return nil
}

// Exit closes the live position for reason. A position already EXITING keeps
// its original reason.
func (c *Coordinator) Exit(ctx context.Context, reason models.ExitReason, price float64) error {
	if price > 0 {
		c.lastPrice = price
	}
	if price <= 0 && (c.state == models.StateOpen || c.state == models.StateTrailing) {
		c.logger.Warning("Ignoring %s exit of %s at non-positive price %.4f", reason, c.market, price)
		return nil
	}
	switch c.state {
	case models.StateFlat:
		return nil
	case models.StateExiting:
		if c.pos.ExitReason == "" {
			c.pos.ExitReason = reason
		}
	default:
		c.pos.ExitReason = reason
		c.setState(models.StateExiting)
		c.persist(ctx)
		c.logger.Info("Exiting %s %s: reason=%s price=%.4f", c.pos.Side, c.market, reason, price)
	}
	return c.runExit(ctx, price)
}

func (c *Coordinator) runExit(ctx context.Context, price float64) error {
	for round := 0; round < maxExitRounds; round++ {
		ex, err := c.executor.QueryPosition(ctx, c.market)
		if err != nil {
			return fmt.Errorf("reconcile before close: %w", asTransient(err))
		}
		if ex.Flat() {
			c.logger.Info("Exchange already flat for %s; protective order filled", c.market)
			return c.finish(ctx, c.referencePrice(price))
		}
		if err := c.applyExchange(ctx, ex); err != nil {
			return err
		}

		res, flat, err := c.close(ctx)
		if err != nil {
			c.logger.Error("Close of %s failed, staying EXITING: %v", c.market, err)
			c.notify(models.EventError, map[string]any{"market": c.market, "stage": "close", "error": err.Error()})
			return fmt.Errorf("close %s: %w", c.market, err)
		}
		if flat {
			return c.finish(ctx, c.referencePrice(price))
		}

		fillPrice := res.FilledPrice
		if fillPrice <= 0 {
			fillPrice = c.referencePrice(price)
		}
		filled := res.FilledQuantity
		if filled <= 0 || filled > c.pos.Quantity {
			filled = c.pos.Quantity
		}
		c.book(filled, fillPrice)
		if c.pos.Quantity <= qtyEpsilon {
			return c.finish(ctx, fillPrice)
		}
		c.logger.Info("Partial close on %s: %.8f @ %.4f, %.8f remaining", c.market, filled, fillPrice, c.pos.Quantity)
		c.persist(ctx)
	}
	return fmt.Errorf("%w: close of %s still incomplete after %d rounds", models.ErrExecutionTransient, c.market, maxExitRounds)
}

// close sends one reduce-only CLOSE for the remaining quantity. flat reports
// that a retry found the exchange already flat.
func (c *Coordinator) close(ctx context.Context) (res models.ExecutionResult, flat bool, err error) {
	id := order.NewClientID()
	err = c.opts.Retry.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			if ex, qerr := c.executor.QueryPosition(ctx, c.market); qerr == nil && ex.Flat() {
				flat = true
				return nil
			}
		}
		r, perr := c.executor.PlaceOrder(ctx, order.WithClientID(order.NewClose(*c.pos, c.pos.Quantity), id))
		if perr != nil {
			return asTransient(perr)
		}
		switch r.Status {
		case models.StatusFilled, models.StatusPartial:
			if r.Status == models.StatusPartial && r.FilledQuantity <= 0 {
				return fmt.Errorf("%w: partial close without quantity", models.ErrExecutionTransient)
			}
			res = r
			return nil
		case models.StatusRejected:
			return fmt.Errorf("%w: close %s", models.ErrExecutionRejected, r.Message)
		default:
			return fmt.Errorf("%w: close %s: %s", models.ErrExecutionTransient, r.Status, r.Message)
		}
	})
	return res, flat, err
}

// book realizes qty of the position at price.
func (c *Coordinator) book(qty, price float64) {
	pos := c.pos
	pnl := (price - pos.EntryPrice) * qty
	if pos.Side == models.Short {
		pnl = -pnl
	}
	pos.RealizedPnL += pnl
	pos.Quantity -= qty
	if pos.Quantity < qtyEpsilon {
		pos.Quantity = 0
	}
}

// referencePrice is the best estimate of where an unobserved fill happened.
func (c *Coordinator) referencePrice(price float64) float64 {
	pos := c.pos
	switch {
	case pos.ExitReason == models.ExitStop && pos.StopPrice > 0:
		return pos.StopPrice
	case pos.ExitReason == models.ExitTarget && pos.TargetPrice > 0:
		return pos.TargetPrice
	case price > 0:
		return price
	case c.lastPrice > 0:
		return c.lastPrice
	}
	return pos.EntryPrice
}

func (c *Coordinator) finish(ctx context.Context, price float64) error {
	pos := c.pos
	if pos.Quantity > 0 {
		c.book(pos.Quantity, price)
	}

	exitPrice := price
	if pos.EntryQuantity > 0 {
		avg := pos.RealizedPnL / pos.EntryQuantity
		if pos.Side == models.Short {
			avg = -avg
		}
		exitPrice = pos.EntryPrice + avg
	}
	outcome := models.TradeOutcome{
		PositionID: pos.ID,
		Market:     pos.Market,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.EntryQuantity,
		PnL:        pos.RealizedPnL,
		Reason:     pos.ExitReason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   c.now(),
	}

	for _, id := range []string{pos.StopOrderID, pos.TargetOrderID} {
		if id != "" {
			c.cancel(ctx, id)
		}
	}
	if c.store != nil {
		if err := c.store.RecordOutcome(ctx, outcome); err != nil {
			c.logger.Error("Failed to record outcome of %s: %v", pos.ID, err)
		}
	}
	c.pos = nil
	c.setState(models.StateFlat)
	c.clearStore(ctx)

	c.logger.Info("Position %s on %s closed: reason=%s pnl=%.4f", outcome.PositionID, c.market, outcome.Reason, outcome.PnL)
	c.notify(models.EventPositionClosed, map[string]any{
		"market": c.market,
		"side":   outcome.Side,
		"reason": outcome.Reason,
		"entry":  outcome.EntryPrice,
		"exit":   outcome.ExitPrice,
		"pnl":    outcome.PnL,
	})
	return nil
}

// Reconcile checks the local position against the exchange. An exchange that
// is flat, on the other side or larger forces FLAT with
// models.ErrStateInconsistency; a smaller exchange quantity is a confirmed
// partial exit.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	if c.pos == nil {
		return nil
	}
	ex, err := c.executor.QueryPosition(ctx, c.market)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", c.market, asTransient(err))
	}
	if ex.Flat() {
		return c.inconsistency(ctx, fmt.Sprintf("exchange reports no position while local state is %s", c.state))
	}
	return c.applyExchange(ctx, ex)
}

func (c *Coordinator) applyExchange(ctx context.Context, ex models.ExchangePosition) error {
	pos := c.pos
	switch {
	case ex.Side != pos.Side:
		return c.inconsistency(ctx, fmt.Sprintf("exchange side %s differs from local %s", ex.Side, pos.Side))
	case ex.Quantity > pos.Quantity+qtyEpsilon:
		return c.inconsistency(ctx, fmt.Sprintf("exchange quantity %.8f exceeds local %.8f", ex.Quantity, pos.Quantity))
	case ex.Quantity < pos.Quantity-qtyEpsilon:
		c.logger.Warning("Exchange holds %.8f of local %.8f on %s; reducing", ex.Quantity, pos.Quantity, c.market)
		c.book(pos.Quantity-ex.Quantity, c.referencePrice(c.lastPrice))
		c.persist(ctx)
	}
	return nil
}

func (c *Coordinator) inconsistency(ctx context.Context, detail string) error {
	c.logger.Error("State inconsistency on %s: %s; forcing FLAT", c.market, detail)
	c.notify(models.EventInconsistency, map[string]any{"market": c.market, "state": c.state, "detail": detail})
	c.pos = nil
	c.setState(models.StateFlat)
	c.clearStore(ctx)
	return fmt.Errorf("%w: %s", models.ErrStateInconsistency, detail)
}

// Suspend persists the live position for a later Resume. It never closes it.
func (c *Coordinator) Suspend(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if c.pos == nil {
		return c.store.ClearPosition(ctx, c.market)
	}
	c.logger.Info("Suspending %s position %s in state %s", c.market, c.pos.ID, c.state)
	return c.store.SavePosition(ctx, c.pos.Snapshot(c.now()))
}

// Resume restores a persisted position and reconciles it with the exchange.
func (c *Coordinator) Resume(ctx context.Context) error {
	if c.store == nil || c.state != models.StateFlat {
		return nil
	}
	snap, err := c.store.LoadPosition(ctx, c.market)
	if err != nil {
		return fmt.Errorf("load position %s: %w", c.market, err)
	}
	if snap == nil {
		return nil
	}

	pos := snap.Position()
	switch pos.State {
	case models.StateOpen, models.StateTrailing, models.StateExiting:
	default:
		pos.State = models.StateOpen
	}
	if pos.EntryQuantity <= 0 {
		pos.EntryQuantity = pos.Quantity
	}
	if pos.InitialStop <= 0 {
		pos.InitialStop = pos.StopPrice
	}
	c.pos = &pos
	c.state = pos.State

	ex, err := c.executor.QueryPosition(ctx, c.market)
	if err != nil {
		c.logger.Warning("Resumed %s position %s without reconciliation: %v", c.market, pos.ID, err)
		c.notify(models.EventResumed, map[string]any{"market": c.market, "state": c.state, "reconciled": false})
		return nil
	}
	if ex.Flat() {
		c.logger.Warning("Stored %s position %s is gone from the exchange; discarding", c.market, pos.ID)
		c.pos = nil
		c.setState(models.StateFlat)
		c.clearStore(ctx)
		c.notify(models.EventResumed, map[string]any{"market": c.market, "state": c.state, "discarded": pos.ID})
		return nil
	}
	if err := c.applyExchange(ctx, ex); err != nil {
		return err
	}
	c.persist(ctx)
	c.logger.Info("Resumed %s %s position %s: qty=%.8f stop=%.4f target=%.4f state=%s",
		pos.Side, c.market, pos.ID, c.pos.Quantity, c.pos.StopPrice, c.pos.TargetPrice, c.state)
	c.notify(models.EventResumed, map[string]any{"market": c.market, "state": c.state, "side": pos.Side, "quantity": c.pos.Quantity})
	return nil
}

func (c *Coordinator) setState(s models.PositionState) {
	c.state = s
	if c.pos != nil {
		c.pos.State = s
	}
}

func (c *Coordinator) persist(ctx context.Context) {
	if c.store == nil || c.pos == nil {
		return
	}
	if err := c.store.SavePosition(ctx, c.pos.Snapshot(c.now())); err != nil {
		c.logger.Error("Failed to persist %s position: %v", c.market, err)
	}
}

func (c *Coordinator) clearStore(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.ClearPosition(ctx, c.market); err != nil {
		c.logger.Error("Failed to clear stored %s position: %v", c.market, err)
	}
}

func (c *Coordinator) notify(event models.Event, details map[string]any) {
	if c.notifier != nil {
		c.notifier.Notify(event, details)
	}
}

// asTransient classifies a transport error for the retry policy.
func asTransient(err error) error {
	if errors.Is(err, models.ErrExecutionTransient) || errors.Is(err, models.ErrExecutionRejected) ||
		errors.Is(err, models.ErrStateInconsistency) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrExecutionTransient, err)
}
