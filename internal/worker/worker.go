// Package worker runs the per-instance reconciliation loop: observe the
// account's standing buy orders, compare each against the live competing
// orders, and replace any whose price is no longer optimal.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"dmarket_sync/internal/alert"
	"dmarket_sync/internal/core"
	"dmarket_sync/internal/recorder"
	apperrors "dmarket_sync/pkg/errors"
	"dmarket_sync/pkg/retry"
	"dmarket_sync/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Status is the lifecycle state of a worker.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// stopWait bounds how long Stop blocks for the loop to acknowledge
// cancellation.
const stopWait = time.Second

// The pause between deleting a target and recreating it is randomized so
// recreates do not land in a recognizable rhythm.
const (
	createDelayBase   = time.Second
	createDelayJitter = 1500 * time.Millisecond
)

var (
	priceStep  = decimal.RequireFromString("0.01")
	defaultMax = decimal.RequireFromString("1.5")
)

// Worker reconciles one instance's buy orders on a fixed interval. Start and
// Stop are safe for concurrent use; at most one loop runs at a time.
type Worker struct {
	instanceID string
	cfg        core.InstanceConfig
	market     core.IMarketplace
	rules      core.IRuleStore
	items      core.IItemSink
	history    recorder.Recorder
	alerts     *alert.Manager
	logger     core.ILogger

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}

	// repricing stays off until one full cycle has observed the account
	// without errors
	observed atomic.Bool

	retryPolicy retry.Policy
	delayFn     func(ctx context.Context, d time.Duration) error

	tracer           trace.Tracer
	cyclesCounter    metric.Int64Counter
	repricedCounter  metric.Int64Counter
	exhaustedCounter metric.Int64Counter
}

// New builds a worker for one instance.
func New(instanceID string, cfg core.InstanceConfig, market core.IMarketplace,
	rules core.IRuleStore, items core.IItemSink, history recorder.Recorder,
	alerts *alert.Manager, logger core.ILogger) *Worker {

	meter := telemetry.GetMeter("reconciliation-worker")
	cycles, _ := meter.Int64Counter(telemetry.MetricCyclesTotal,
		metric.WithDescription("Completed reconciliation cycles"))
	repriced, _ := meter.Int64Counter(telemetry.MetricTargetsRepricedTotal,
		metric.WithDescription("Targets recreated at a freshly computed price"))
	exhausted, _ := meter.Int64Counter(telemetry.MetricRetriesExhaustedTotal,
		metric.WithDescription("Operations abandoned after the retry budget was spent"))

	return &Worker{
		instanceID:  instanceID,
		cfg:         cfg,
		market:      market,
		rules:       rules,
		items:       items,
		history:     history,
		alerts:      alerts,
		logger:      logger.WithField("instance", instanceID),
		status:      StatusIdle,
		retryPolicy: retry.DefaultPolicy,
		delayFn:     sleepCtx,

		tracer:           telemetry.GetTracer("reconciliation-worker"),
		cyclesCounter:    cycles,
		repricedCounter:  repriced,
		exhaustedCounter: exhausted,
	}
}

// Start launches the reconciliation loop. Returns ErrWorkerRunning if the
// loop is already live.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusIdle {
		return fmt.Errorf("%w: instance %s", apperrors.ErrWorkerRunning, w.instanceID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.status = StatusRunning
	// every (re)start begins with a fresh observation pass
	w.observed.Store(false)

	go w.run(ctx, w.done)

	w.logger.Info("Worker started", "interval_seconds", w.interval().Seconds())
	return nil
}

// Stop cancels the loop and waits briefly for it to exit. A loop stuck in a
// slow request keeps winding down in the background after Stop returns.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusRunning {
		return
	}
	w.status = StatusStopping
	w.cancel()

	select {
	case <-w.done:
	case <-time.After(stopWait):
		w.logger.Warn("Worker did not stop within the grace period")
	}
	w.status = StatusIdle
	w.logger.Info("Worker stopped")
}

// Status returns the worker's lifecycle state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) interval() time.Duration {
	if w.cfg.CheckInterval <= 0 {
		return 960 * time.Second
	}
	return time.Duration(w.cfg.CheckInterval) * time.Second
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := w.runCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("Reconciliation cycle failed", "error", err)
			w.alerts.Alert(ctx, "Reconciliation cycle failed", err.Error(), alert.Error,
				map[string]string{"instance": w.instanceID})
		}

		if err := w.delayFn(ctx, w.interval()); err != nil {
			return
		}
	}
}

// runCycle performs one reconciliation pass. The first error-free pass only
// observes the account; repricing starts on the next one.
func (w *Worker) runCycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	logger := w.logger.WithField("cycle", cycleID)

	ctx, span := w.tracer.Start(ctx, "reconciliation-cycle",
		trace.WithAttributes(attribute.String("instance", w.instanceID)))
	defer span.End()

	var targets []core.Target
	err := retry.Do(ctx, w.retryPolicy, isTransient, func() error {
		var listErr error
		targets, listErr = w.market.ListActiveTargets(ctx)
		return listErr
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrRetriesExhausted) {
			w.exhaustedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "list")))
		}
		return fmt.Errorf("failed to list active targets: %w", err)
	}

	titles := make([]string, 0, len(targets))
	for _, t := range targets {
		titles = append(titles, t.Title)
	}
	w.items.Report(w.instanceID, titles)

	if !w.observed.Load() {
		w.observed.Store(true)
		logger.Info("Initial observation complete, repricing starts next cycle",
			"targets", len(targets))
		return nil
	}

	logger.Info("Reconciling targets", "count", len(targets))
	for _, target := range targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.reconcileTarget(ctx, cycleID, logger, target)
	}

	w.cyclesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("instance", w.instanceID)))
	return nil
}

// reconcileTarget replaces one standing order: take it down first so it does
// not show up in the competing book, price against what remains, then put it
// back. The order is always recreated after a successful delete, even when
// the price comes out unchanged.
func (w *Worker) reconcileTarget(ctx context.Context, cycleID string, logger core.ILogger, target core.Target) {
	logger = logger.WithField("title", target.Title)

	if target.ID == "" {
		logger.Warn("Target has no ID, cannot replace it")
		w.record(cycleID, target, recorder.ActionKept, target.Price, decimal.Zero, 0, "missing target id")
		return
	}

	bounds := w.rules.Resolve(target.Title, target.Attributes)
	if bounds.Unbounded {
		// cap repricing at 1.5x the current price until an operator
		// reviews the generated rule
		max := target.Price.Mul(defaultMax).Round(2)
		if _, err := w.rules.EnsureDefault(target.Title, target.Attributes, max, decimal.Zero); err != nil {
			logger.Error("Failed to store default rule", "error", err)
		} else {
			logger.Info("No rule matched, stored default", "max", max.String())
		}
		bounds = core.PriceBounds{Min: decimal.Zero, Max: max}
	}

	err := retry.Do(ctx, w.retryPolicy, isTransient, func() error {
		return w.market.DeleteTarget(ctx, target.ID)
	})
	if err != nil {
		// without a confirmed delete a create would double the exposure
		logger.Error("Failed to delete target, skipping recreation", "error", err)
		w.noteExhausted(ctx, "delete", err)
		w.record(cycleID, target, recorder.ActionDeleteError, target.Price, decimal.Zero, 0, err.Error())
		return
	}

	// the order is off the book now, so every path below ends in a create
	// attempt, price change or not
	optimal := target.Price
	top := decimal.Zero
	relevant := 0
	orders, err := w.market.FetchCompetingOrders(ctx, target.Title)
	if err != nil {
		logger.Error("Failed to fetch competing orders, recreating at current price", "error", err)
	} else if top, relevant = topCompetingPrice(target, orders); relevant > 0 {
		optimal = top.Add(priceStep).Round(2)
	} else {
		logger.Debug("No comparable competing orders, recreating at current price")
	}
	optimal = clampPrice(optimal, bounds)

	if err := w.delayFn(ctx, createDelay()); err != nil {
		logger.Warn("Interrupted before recreating target", "error", err)
		w.record(cycleID, target, recorder.ActionCreateError, optimal, top, relevant, err.Error())
		return
	}

	amount := target.Amount
	if amount == "" {
		amount = "1"
	}
	err = retry.Do(ctx, w.retryPolicy, isTransient, func() error {
		return w.market.CreateTarget(ctx, core.CreateTargetRequest{
			Title:      target.Title,
			Amount:     amount,
			Price:      optimal,
			Attributes: target.RawAttributes,
		})
	})
	if err != nil {
		logger.Error("Failed to recreate target", "price", optimal.String(), "error", err)
		w.noteExhausted(ctx, "create", err)
		w.record(cycleID, target, recorder.ActionCreateError, optimal, top, relevant, err.Error())
		return
	}

	logger.Info("Repriced target",
		"old_price", target.Price.String(), "new_price", optimal.String(), "top_competing", top.String())
	w.repricedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("instance", w.instanceID)))
	w.record(cycleID, target, recorder.ActionRepriced, optimal, top, relevant, "")
}

func createDelay() time.Duration {
	return createDelayBase + time.Duration(rand.Int63n(int64(createDelayJitter)))
}

func (w *Worker) record(cycleID string, target core.Target, action recorder.Action,
	newPrice, top decimal.Decimal, orderCount int, detail string) {
	w.history.Record(recorder.ReconciliationRecord{
		CycleID:      cycleID,
		InstanceID:   w.instanceID,
		Title:        target.Title,
		Action:       action,
		OldPrice:     target.Price,
		NewPrice:     newPrice,
		TopCompeting: top,
		OrderCount:   orderCount,
		Detail:       detail,
		At:           time.Now(),
	})
}

func (w *Worker) noteExhausted(ctx context.Context, op string, err error) {
	if errors.Is(err, apperrors.ErrRetriesExhausted) {
		w.exhaustedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

// topCompetingPrice returns the highest price among orders whose attributes
// satisfy the target's, and how many such orders exist.
func topCompetingPrice(target core.Target, orders []core.CompetingOrder) (decimal.Decimal, int) {
	top := decimal.Zero
	count := 0
	for _, order := range orders {
		if !target.Attributes.Matches(order.Attributes) {
			continue
		}
		count++
		if order.Price.GreaterThan(top) {
			top = order.Price
		}
	}
	return top, count
}

// clampPrice applies the bounds, minimum first so an impossible rule
// (min above max) still resolves to the maximum.
func clampPrice(price decimal.Decimal, bounds core.PriceBounds) decimal.Decimal {
	if price.LessThan(bounds.Min) {
		price = bounds.Min
	}
	if price.GreaterThan(bounds.Max) {
		price = bounds.Max
	}
	return price
}

// isTransient reports whether a listing failure is worth retrying: transport
// errors and server-side failures are, client-side rejections are not.
func isTransient(err error) bool {
	var reqErr *apperrors.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status == 0 || reqErr.Status >= 500
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
