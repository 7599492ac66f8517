package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jchen042/tradedesk/pkg/models"
)

// Sim is an in-memory gateway used for paper-trading mode and as the test
// double. It keeps the same blocking/timeout semantics as a real session:
// calls respect their context and cancels are acknowledged over the push
// channel like the real gateway would.
type Sim struct {
	mu       sync.Mutex
	orders   map[string]models.Order // keyed by order number
	accounts []string
	subs     map[string]int // active upstream feeds, keyed by key string

	push chan RawPushEvent

	// Fault injection for tests and drills.
	SubscribeErr   error
	UnsubscribeErr error
	CancelErr      map[string]error // per order number
	CancelDelay    time.Duration
	RefreshDelay   time.Duration
	ListErr        error

	subscribeCalls   atomic.Int64
	unsubscribeCalls atomic.Int64
	cancelCalls      atomic.Int64
	refreshCalls     atomic.Int64
	listCalls        atomic.Int64
}

var _ Client = (*Sim)(nil)

// NewSim creates a simulator with the given trading accounts.
func NewSim(accounts ...string) *Sim {
	if len(accounts) == 0 {
		accounts = []string{"SIM-001"}
	}
	return &Sim{
		orders:    make(map[string]models.Order),
		accounts:  accounts,
		subs:      make(map[string]int),
		push:      make(chan RawPushEvent, 256),
		CancelErr: make(map[string]error),
	}
}

// Push exposes the simulated push channel.
func (s *Sim) Push() <-chan RawPushEvent { return s.push }

// SeedOrders loads live orders into the simulated book.
func (s *Sim) SeedOrders(orders ...models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		s.orders[o.OrderNumber] = o
	}
}

// EmitRaw injects a raw frame onto the push channel, dropping when full the
// way a saturated socket reader would.
func (s *Sim) EmitRaw(ev RawPushEvent) {
	select {
	case s.push <- ev:
	default:
	}
}

func (s *Sim) Subscribe(ctx context.Context, contract models.Contract, quoteType models.QuoteType, lotFlag bool) error {
	s.subscribeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.SubscribeErr != nil {
		return s.SubscribeErr
	}
	key := feedKey(contract.ActualCode, quoteType, lotFlag)
	s.mu.Lock()
	s.subs[key]++
	s.mu.Unlock()
	return nil
}

func (s *Sim) Unsubscribe(ctx context.Context, code string, quoteType models.QuoteType, lotFlag bool) error {
	s.unsubscribeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.UnsubscribeErr != nil {
		return s.UnsubscribeErr
	}
	key := feedKey(code, quoteType, lotFlag)
	s.mu.Lock()
	if s.subs[key] > 0 {
		s.subs[key]--
		if s.subs[key] == 0 {
			delete(s.subs, key)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Sim) ListLiveOrders(ctx context.Context) ([]models.Order, error) {
	s.listCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out, nil
}

func (s *Sim) CancelOrder(ctx context.Context, order models.Order) error {
	s.cancelCalls.Add(1)
	if s.CancelDelay > 0 {
		select {
		case <-time.After(s.CancelDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := s.CancelErr[order.OrderNumber]; ok {
		return err
	}
	s.mu.Lock()
	o, ok := s.orders[order.OrderNumber]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("order %s not found", order.OrderNumber)
	}
	o.Status = models.OrderStatusCancelled
	s.orders[o.OrderNumber] = o
	s.mu.Unlock()

	// Acknowledge asynchronously, like the real push channel.
	s.EmitRaw(RawPushEvent{
		Tag: TagOrderAck,
		Fields: map[string]any{
			"operation": map[string]any{"op_type": "C", "op_code": "00", "op_msg": ""},
			"order":     map[string]any{"ord_no": o.OrderNumber, "action": o.Side, "price": o.Price.String(), "qty": o.Quantity.String()},
			"status":    map[string]any{"status": o.Status},
			"contract":  map[string]any{"code": o.ContractCode},
			"account":   map[string]any{"account": o.Account},
		},
	})
	return nil
}

func (s *Sim) RefreshAccountStatus(ctx context.Context, account string) error {
	s.refreshCalls.Add(1)
	if s.RefreshDelay > 0 {
		select {
		case <-time.After(s.RefreshDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (s *Sim) Accounts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]string, len(s.accounts))
	copy(out, s.accounts)
	return out, nil
}

// ActiveFeeds returns the distinct upstream feeds currently open, for
// asserting refcount behavior.
func (s *Sim) ActiveFeeds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for k := range s.subs {
		out = append(out, k)
	}
	return out
}

func (s *Sim) SubscribeCalls() int64   { return s.subscribeCalls.Load() }
func (s *Sim) UnsubscribeCalls() int64 { return s.unsubscribeCalls.Load() }
func (s *Sim) CancelCalls() int64      { return s.cancelCalls.Load() }
func (s *Sim) RefreshCalls() int64     { return s.refreshCalls.Load() }
func (s *Sim) ListCalls() int64        { return s.listCalls.Load() }

func feedKey(code string, quoteType models.QuoteType, lotFlag bool) string {
	return fmt.Sprintf("%s/%s/%t", strings.ToUpper(code), quoteType, lotFlag)
}
