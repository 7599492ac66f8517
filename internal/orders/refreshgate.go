package orders

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jchen042/tradedesk/internal/gateway"
	"github.com/jchen042/tradedesk/pkg/metrics"
)

// RefreshOutcome reports what one Refresh call did. A skipped call is a
// success: the refresh already in flight covers the caller.
type RefreshOutcome struct {
	Performed bool `json:"performed"`
	Accounts  int  `json:"accounts"`
	Failed    int  `json:"failed"`
}

// RefreshGate debounces the expensive "pull fresh status from the gateway"
// call behind a single-slot lock. At most one refresh runs system-wide;
// a caller that cannot take the slot within acquireWait proceeds with the
// data it already has instead of queueing. Rapid redundant triggers (a
// double-clicked refresh button) must never stack up.
type RefreshGate struct {
	gw             gateway.Client
	slot           chan struct{}
	acquireWait    time.Duration
	accountTimeout time.Duration
	logger         *zap.Logger
}

// NewRefreshGate creates a gate with the given acquire wait and per-account
// call timeout.
func NewRefreshGate(gw gateway.Client, acquireWait, accountTimeout time.Duration, logger *zap.Logger) *RefreshGate {
	if acquireWait <= 0 {
		acquireWait = 100 * time.Millisecond
	}
	if accountTimeout <= 0 {
		accountTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &RefreshGate{
		gw:             gw,
		slot:           make(chan struct{}, 1),
		acquireWait:    acquireWait,
		accountTimeout: accountTimeout,
		logger:         logger,
	}
	g.slot <- struct{}{}
	return g
}

// Refresh pulls fresh account status, one parallel sub-call per trading
// account. A single account's failure is logged and counted but never fails
// the refresh; partial success is acceptable and reported.
func (g *RefreshGate) Refresh(ctx context.Context) RefreshOutcome {
	timer := time.NewTimer(g.acquireWait)
	defer timer.Stop()

	select {
	case <-g.slot:
		// acquired
	case <-timer.C:
		metrics.RefreshSkipped.Inc()
		g.logger.Debug("refresh skipped, another in flight")
		return RefreshOutcome{Performed: false}
	case <-ctx.Done():
		return RefreshOutcome{Performed: false}
	}
	defer func() { g.slot <- struct{}{} }()

	listCtx, listCancel := context.WithTimeout(ctx, g.accountTimeout)
	accounts, err := g.gw.Accounts(listCtx)
	listCancel()
	if err != nil {
		g.logger.Warn("refresh could not list accounts", zap.Error(err))
		return RefreshOutcome{Performed: true, Failed: 1}
	}

	var failed atomic.Int64
	var eg errgroup.Group
	for _, account := range accounts {
		account := account
		eg.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, g.accountTimeout)
			defer cancel()
			if err := g.gw.RefreshAccountStatus(callCtx, account); err != nil {
				failed.Add(1)
				metrics.UpstreamCalls.WithLabelValues("refresh_account", "error").Inc()
				g.logger.Warn("account refresh failed",
					zap.String("account", account),
					zap.Error(err),
				)
				return nil
			}
			metrics.UpstreamCalls.WithLabelValues("refresh_account", "ok").Inc()
			return nil
		})
	}
	eg.Wait()

	metrics.RefreshPerformed.Inc()
	outcome := RefreshOutcome{
		Performed: true,
		Accounts:  len(accounts),
		Failed:    int(failed.Load()),
	}
	g.logger.Debug("refresh completed",
		zap.Int("accounts", outcome.Accounts),
		zap.Int("failed", outcome.Failed),
	)
	return outcome
}
