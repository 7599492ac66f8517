package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jchen042/tradedesk/internal/gateway"
	pkgerrors "github.com/jchen042/tradedesk/pkg/errors"
	"github.com/jchen042/tradedesk/pkg/metrics"
	"github.com/jchen042/tradedesk/pkg/models"
)

const defaultMaxParallelism = 5

// StatusNotifier receives the optimistic local "status changed" signal for
// an order whose cancel call returned success, before reconciliation
// confirms it.
type StatusNotifier func(order models.Order)

// BatchCancelExecutor cancels sets of orders with bounded parallelism.
// Per-order failures are isolated into outcomes; the batch call itself
// never fails. A timed-out cancel is reported as failed locally, but the
// post-batch refresh and the push stream remain authoritative for what the
// gateway actually did.
type BatchCancelExecutor struct {
	gw             gateway.Client
	gate           *RefreshGate
	agg            *Aggregator
	perCallTimeout time.Duration
	settleDelay    time.Duration
	maxParallelism int
	logger         *zap.Logger

	mu     sync.RWMutex
	notify StatusNotifier
}

// NewBatchCancelExecutor creates an executor. gate may be nil to disable
// post-batch reconciliation (tests).
func NewBatchCancelExecutor(gw gateway.Client, gate *RefreshGate, agg *Aggregator, perCallTimeout, settleDelay time.Duration, maxParallelism int, logger *zap.Logger) *BatchCancelExecutor {
	if perCallTimeout <= 0 {
		perCallTimeout = 3 * time.Second
	}
	if maxParallelism <= 0 {
		maxParallelism = defaultMaxParallelism
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchCancelExecutor{
		gw:             gw,
		gate:           gate,
		agg:            agg,
		perCallTimeout: perCallTimeout,
		settleDelay:    settleDelay,
		maxParallelism: maxParallelism,
		logger:         logger,
	}
}

// SetStatusNotifier registers the optimistic status-changed callback.
func (e *BatchCancelExecutor) SetStatusNotifier(fn StatusNotifier) {
	e.mu.Lock()
	e.notify = fn
	e.mu.Unlock()
}

// CancelBatch cancels the given orders with at most maxParallelism calls in
// flight. maxParallelism <= 0 uses the executor default. When autoRefresh
// is set, exactly one reconciliation refresh runs after all tasks settle,
// followed by a short settle delay for the push channel to corroborate.
//
// The result is always well formed: SuccessCount+FailCount == len(orders),
// even when every order fails.
func (e *BatchCancelExecutor) CancelBatch(ctx context.Context, batch []models.Order, maxParallelism int, autoRefresh bool) models.BatchCancelResult {
	started := time.Now()
	defer func() {
		metrics.BatchCancelDuration.Observe(time.Since(started).Seconds())
	}()

	if maxParallelism <= 0 {
		maxParallelism = e.maxParallelism
	}

	outcomes := make([]models.CancelOutcome, len(batch))
	var eg errgroup.Group
	eg.SetLimit(maxParallelism)

	for i, order := range batch {
		i, order := i, order
		eg.Go(func() error {
			outcomes[i] = e.cancelOne(ctx, order)
			return nil
		})
	}
	eg.Wait()

	result := models.BatchCancelResult{
		Total:    len(batch),
		Outcomes: outcomes,
	}
	for _, oc := range outcomes {
		if oc.Success {
			result.SuccessCount++
		} else {
			result.FailCount++
		}
	}

	e.logger.Info("batch cancel settled",
		zap.Int("total", result.Total),
		zap.Int("success", result.SuccessCount),
		zap.Int("failed", result.FailCount),
	)

	if autoRefresh && e.gate != nil && len(batch) > 0 {
		// One refresh per batch, never one per order.
		e.gate.Refresh(ctx)
		if e.settleDelay > 0 {
			select {
			case <-time.After(e.settleDelay):
			case <-ctx.Done():
			}
		}
	}
	return result
}

// cancelOne runs a single cancel task. Panics and errors stay inside the
// returned outcome; a failing task never aborts or blocks its siblings.
func (e *BatchCancelExecutor) cancelOne(ctx context.Context, order models.Order) (oc models.CancelOutcome) {
	oc = models.CancelOutcome{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		ContractCode: order.ContractCode,
	}
	defer func() {
		if r := recover(); r != nil {
			oc.Success = false
			oc.Message = fmt.Sprintf("cancel task panic: %v", r)
			e.logger.Error("cancel task panicked",
				zap.String("order_number", order.OrderNumber),
				zap.Any("panic", r),
			)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, e.perCallTimeout)
	defer cancel()

	err := e.gw.CancelOrder(callCtx, order)
	switch {
	case err == nil:
		oc.Success = true
		metrics.UpstreamCalls.WithLabelValues("cancel", "ok").Inc()
		e.notifyStatusChanged(order)
	case callCtx.Err() == context.DeadlineExceeded:
		// Local giveup; the upstream cancel may still have landed.
		oc.Message = pkgerrors.Wrap(pkgerrors.KindUpstreamTimeout, err, "cancel timed out").Error()
		metrics.UpstreamCalls.WithLabelValues("cancel", "timeout").Inc()
		e.logger.Warn("cancel timed out, pending reconciliation",
			zap.String("order_number", order.OrderNumber),
		)
	default:
		oc.Message = err.Error()
		metrics.UpstreamCalls.WithLabelValues("cancel", "error").Inc()
		e.logger.Warn("cancel rejected",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
	}
	return oc
}

func (e *BatchCancelExecutor) notifyStatusChanged(order models.Order) {
	e.mu.RLock()
	fn := e.notify
	e.mu.RUnlock()
	if fn != nil {
		fn(order)
	}
}

// CancelAllForContract queries cancel targets for one contract (optionally
// one side) off a force-refreshed snapshot and cancels them as one batch.
func (e *BatchCancelExecutor) CancelAllForContract(ctx context.Context, code, sideFilter string) (models.BatchCancelResult, error) {
	if code == "" {
		return models.BatchCancelResult{}, pkgerrors.New(pkgerrors.KindValidation, "contract code is required")
	}
	res, err := e.agg.UnifiedQuery(ctx, code, sideFilter, true)
	if err != nil {
		return models.BatchCancelResult{}, err
	}
	return e.CancelBatch(ctx, res.Cancellable, 0, true), nil
}

// CancelAll cancels every cancelable order across all contracts.
func (e *BatchCancelExecutor) CancelAll(ctx context.Context) (models.BatchCancelResult, error) {
	res, err := e.agg.UnifiedQuery(ctx, "", "", true)
	if err != nil {
		return models.BatchCancelResult{}, err
	}
	return e.CancelBatch(ctx, res.Cancellable, 0, true), nil
}
