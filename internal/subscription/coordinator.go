package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jchen042/tradedesk/internal/gateway"
	pkgerrors "github.com/jchen042/tradedesk/pkg/errors"
	"github.com/jchen042/tradedesk/pkg/metrics"
	"github.com/jchen042/tradedesk/pkg/models"
)

// Coordinator owns the check-then-act subscribe/unsubscribe protocol.
//
// Deciding "new upstream feed vs join existing" takes a registry query
// followed by a gateway call followed by a registry mutation. Two such
// sequences racing on the same key could double-subscribe upstream or drop
// a feed another window still needs, so every flow runs under one mutex.
type Coordinator struct {
	mu          sync.Mutex
	registry    *Registry
	gw          gateway.Client
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewCoordinator creates a coordinator over the given registry and gateway.
func NewCoordinator(registry *Registry, gw gateway.Client, callTimeout time.Duration, logger *zap.Logger) *Coordinator {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		registry:    registry,
		gw:          gw,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Registry exposes the underlying registry for read-side collaborators
// (event fan-out).
func (c *Coordinator) Registry() *Registry { return c.registry }

// SubscribeWindow subscribes a window to one feed. The upstream Subscribe
// call fires only when no other window already holds the feed.
func (c *Coordinator) SubscribeWindow(ctx context.Context, windowID uuid.UUID, contract models.Contract, quoteType models.QuoteType, lotFlag bool) error {
	if contract.ActualCode == "" {
		return pkgerrors.New(pkgerrors.KindValidation, "contract code is required")
	}
	if !quoteType.Valid() {
		return pkgerrors.Newf(pkgerrors.KindValidation, "unknown quote type %q", quoteType)
	}
	key := models.SubscriptionKey{ActualCode: contract.ActualCode, QuoteType: quoteType, LotFlag: lotFlag}.Normalize()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry.IsWindowSubscribed(windowID, key) {
		return pkgerrors.Newf(pkgerrors.KindDuplicateSubscription, "window %s already subscribed to %s", windowID, key)
	}

	if !c.registry.IsKeySubscribedByAnyWindow(key) {
		if err := c.callGateway(ctx, "subscribe", func(callCtx context.Context) error {
			return c.gw.Subscribe(callCtx, contract, quoteType, lotFlag)
		}); err != nil {
			return err
		}
		c.logger.Info("upstream feed opened", zap.String("key", key.String()))
	}

	c.registry.AddSubscription(windowID, key, contract)
	return nil
}

// UnsubscribeWindow removes a window's record for one feed. The upstream
// Unsubscribe call fires only when no other window still holds the feed.
func (c *Coordinator) UnsubscribeWindow(ctx context.Context, windowID uuid.UUID, code string, quoteType models.QuoteType, lotFlag bool) error {
	if code == "" {
		return pkgerrors.New(pkgerrors.KindValidation, "contract code is required")
	}
	key := models.SubscriptionKey{ActualCode: code, QuoteType: quoteType, LotFlag: lotFlag}.Normalize()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.registry.IsWindowSubscribed(windowID, key) {
		return pkgerrors.Newf(pkgerrors.KindNotSubscribed, "window %s holds no subscription for %s", windowID, key)
	}

	lastHolder := !c.registry.HasOtherWindowSubscriptions(key, windowID)
	c.registry.RemoveSubscription(windowID, key)

	if !lastHolder {
		return nil
	}

	// The local record is gone either way; an upstream failure here leaves
	// a feed the gateway may still stream, which the caller can retry.
	if err := c.callGateway(ctx, "unsubscribe", func(callCtx context.Context) error {
		return c.gw.Unsubscribe(callCtx, key.ActualCode, quoteType, lotFlag)
	}); err != nil {
		return err
	}
	c.logger.Info("upstream feed closed", zap.String("key", key.String()))
	return nil
}

// TeardownWindow cascades removal of every record the window holds,
// closing each upstream feed the window was the last subscriber of.
func (c *Coordinator) TeardownWindow(ctx context.Context, windowID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.registry.GetWindowSubscriptions(windowID)
	orphaned := c.registry.CleanupWindow(windowID)
	if len(records) == 0 {
		return nil
	}

	var firstErr error
	for _, key := range orphaned {
		key := key
		if err := c.callGateway(ctx, "unsubscribe", func(callCtx context.Context) error {
			return c.gw.Unsubscribe(callCtx, key.ActualCode, key.QuoteType, key.LotFlag)
		}); err != nil {
			c.logger.Error("teardown unsubscribe failed",
				zap.String("key", key.String()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.logger.Info("window torn down",
		zap.String("window", windowID.String()),
		zap.Int("records", len(records)),
		zap.Int("feeds_closed", len(orphaned)),
	)
	return firstErr
}

// UnsubscribeAll closes every distinct upstream feed and clears the
// registry. Used on client shutdown.
func (c *Coordinator) UnsubscribeAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, rec := range c.registry.GetAllUniqueSubscriptions() {
		rec := rec
		if err := c.callGateway(ctx, "unsubscribe", func(callCtx context.Context) error {
			return c.gw.Unsubscribe(callCtx, rec.Key.ActualCode, rec.Key.QuoteType, rec.Key.LotFlag)
		}); err != nil {
			c.logger.Error("shutdown unsubscribe failed",
				zap.String("key", rec.Key.String()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	// Drop all records regardless of upstream outcome; local state must not
	// outlive the session.
	c.registry.Reset()
	return firstErr
}

// callGateway runs one blocking upstream call under the coordinator's
// timeout and classifies the failure.
func (c *Coordinator) callGateway(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	err := fn(callCtx)
	switch {
	case err == nil:
		metrics.UpstreamCalls.WithLabelValues(op, "ok").Inc()
		return nil
	case callCtx.Err() == context.DeadlineExceeded:
		metrics.UpstreamCalls.WithLabelValues(op, "timeout").Inc()
		return pkgerrors.Wrap(pkgerrors.KindUpstreamTimeout, err, op+" timed out")
	default:
		metrics.UpstreamCalls.WithLabelValues(op, "error").Inc()
		return pkgerrors.Wrap(pkgerrors.KindUpstreamRejection, err, op+" rejected")
	}
}
