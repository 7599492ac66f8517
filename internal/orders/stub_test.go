package orders

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jchen042/tradedesk/internal/gateway"
	"github.com/jchen042/tradedesk/pkg/models"
)

// stubGateway gives the orders tests full control over the live-order list
// (including duplicates the map-backed simulator cannot hold) and over
// per-order cancel behavior.
type stubGateway struct {
	orders   []models.Order
	listErr  error
	accounts []string

	listDelay     time.Duration
	accountsDelay time.Duration
	refreshDelay  time.Duration
	refreshCalls  atomic.Int64
	listCalls     atomic.Int64
	cancelCalls   atomic.Int64

	cancelFn func(ctx context.Context, o models.Order) error
}

var _ gateway.Client = (*stubGateway)(nil)

func (s *stubGateway) Subscribe(ctx context.Context, contract models.Contract, quoteType models.QuoteType, lotFlag bool) error {
	return nil
}

func (s *stubGateway) Unsubscribe(ctx context.Context, code string, quoteType models.QuoteType, lotFlag bool) error {
	return nil
}

func (s *stubGateway) ListLiveOrders(ctx context.Context) ([]models.Order, error) {
	s.listCalls.Add(1)
	if s.listDelay > 0 {
		select {
		case <-time.After(s.listDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.Order, len(s.orders))
	copy(out, s.orders)
	return out, nil
}

func (s *stubGateway) CancelOrder(ctx context.Context, order models.Order) error {
	s.cancelCalls.Add(1)
	if s.cancelFn != nil {
		return s.cancelFn(ctx, order)
	}
	return nil
}

func (s *stubGateway) RefreshAccountStatus(ctx context.Context, account string) error {
	s.refreshCalls.Add(1)
	if s.refreshDelay > 0 {
		select {
		case <-time.After(s.refreshDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *stubGateway) Accounts(ctx context.Context) ([]string, error) {
	if s.accountsDelay > 0 {
		select {
		case <-time.After(s.accountsDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(s.accounts) == 0 {
		return []string{"ACC-1"}, nil
	}
	return s.accounts, nil
}
