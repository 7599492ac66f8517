package orders

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jchen042/tradedesk/pkg/models"
)

func testBatch(n int) []models.Order {
	batch := make([]models.Order, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, models.NewOrderForTest(
			"A00"+string(rune('1'+i)), "TXFR1", models.OrderSideBuy, "100", "1",
			models.OrderStatusSubmitted))
	}
	return batch
}

func newTestExecutor(t *testing.T, gw *stubGateway) *BatchCancelExecutor {
	t.Helper()
	return NewBatchCancelExecutor(gw, nil, NewAggregator(gw, nil, time.Second, zaptest.NewLogger(t)),
		time.Second, 0, 5, zaptest.NewLogger(t))
}

// One task failing mid-batch never aborts its siblings and never raises.
func TestCancelBatchIsolatesFailures(t *testing.T) {
	gw := &stubGateway{}
	gw.cancelFn = func(ctx context.Context, o models.Order) error {
		if o.OrderNumber == "A002" {
			panic("gateway adapter blew up")
		}
		return nil
	}
	exec := newTestExecutor(t, gw)

	result := exec.CancelBatch(context.Background(), testBatch(3), 0, false)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailCount)
	require.Len(t, result.Outcomes, 3)
	assert.False(t, result.Outcomes[1].Success)
	assert.Contains(t, result.Outcomes[1].Message, "panic")
}

// successCount + failCount == N regardless of how individual tasks die.
func TestCancelBatchCompleteness(t *testing.T) {
	gw := &stubGateway{}
	var n atomic.Int64
	gw.cancelFn = func(ctx context.Context, o models.Order) error {
		if n.Add(1)%2 == 0 {
			return assert.AnError
		}
		return nil
	}
	exec := newTestExecutor(t, gw)

	batch := testBatch(7)
	result := exec.CancelBatch(context.Background(), batch, 3, false)

	assert.Equal(t, len(batch), result.Total)
	assert.Equal(t, result.Total, result.SuccessCount+result.FailCount)
	assert.Len(t, result.Outcomes, len(batch))
}

func TestCancelBatchBoundsParallelism(t *testing.T) {
	gw := &stubGateway{}
	var inFlight, peak atomic.Int64
	gw.cancelFn = func(ctx context.Context, o models.Order) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil
	}
	exec := newTestExecutor(t, gw)

	result := exec.CancelBatch(context.Background(), testBatch(9), 2, false)

	assert.Equal(t, 9, result.SuccessCount)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

// A timed-out cancel is a local failure; the outcome says so but the batch
// still settles.
func TestCancelBatchTimeout(t *testing.T) {
	gw := &stubGateway{}
	gw.cancelFn = func(ctx context.Context, o models.Order) error {
		<-ctx.Done()
		return ctx.Err()
	}
	exec := NewBatchCancelExecutor(gw, nil, NewAggregator(gw, nil, time.Second, zaptest.NewLogger(t)),
		30*time.Millisecond, 0, 5, zaptest.NewLogger(t))

	result := exec.CancelBatch(context.Background(), testBatch(2), 0, false)

	assert.Equal(t, 2, result.FailCount)
	for _, oc := range result.Outcomes {
		assert.Contains(t, oc.Message, "timed out")
	}
}

func TestCancelBatchOptimisticNotification(t *testing.T) {
	gw := &stubGateway{}
	gw.cancelFn = func(ctx context.Context, o models.Order) error {
		if o.OrderNumber == "A002" {
			return assert.AnError
		}
		return nil
	}
	exec := newTestExecutor(t, gw)

	var mu sync.Mutex
	var notified []string
	exec.SetStatusNotifier(func(o models.Order) {
		mu.Lock()
		notified = append(notified, o.OrderNumber)
		mu.Unlock()
	})

	exec.CancelBatch(context.Background(), testBatch(3), 0, false)

	mu.Lock()
	defer mu.Unlock()
	// Only successful cancels fire the optimistic status change.
	assert.ElementsMatch(t, []string{"A001", "A003"}, notified)
}

func TestCancelBatchAutoRefreshRunsOnce(t *testing.T) {
	gw := &stubGateway{}
	gate := NewRefreshGate(gw, 50*time.Millisecond, time.Second, zaptest.NewLogger(t))
	exec := NewBatchCancelExecutor(gw, gate, NewAggregator(gw, gate, time.Second, zaptest.NewLogger(t)),
		time.Second, 10*time.Millisecond, 5, zaptest.NewLogger(t))

	exec.CancelBatch(context.Background(), testBatch(4), 0, true)

	// One refresh for the whole batch, not one per order.
	assert.EqualValues(t, 1, gw.refreshCalls.Load())
}

func TestCancelAllForContractQueriesThenCancels(t *testing.T) {
	gw := &stubGateway{orders: []models.Order{
		models.NewOrderForTest("A001", "TXFR1", models.OrderSideBuy, "100", "10", models.OrderStatusSubmitted),
		models.NewOrderForTest("A002", "TXFR1", models.OrderSideSell, "101", "5", models.OrderStatusSubmitted),
		models.NewOrderForTest("A003", "MXFR1", models.OrderSideBuy, "50", "2", models.OrderStatusSubmitted),
		models.NewOrderForTest("A004", "TXFR1", models.OrderSideBuy, "99", "1", models.OrderStatusFilled),
	}}
	gate := NewRefreshGate(gw, 50*time.Millisecond, time.Second, zaptest.NewLogger(t))
	exec := NewBatchCancelExecutor(gw, gate, NewAggregator(gw, gate, time.Second, zaptest.NewLogger(t)),
		time.Second, 0, 5, zaptest.NewLogger(t))

	result, err := exec.CancelAllForContract(context.Background(), "TXFR1", "")
	require.NoError(t, err)

	// Only the cancelable TXFR1 orders are targeted.
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.SuccessCount)
	assert.EqualValues(t, 2, gw.cancelCalls.Load())
}

func TestCancelAllForContractRequiresCode(t *testing.T) {
	exec := newTestExecutor(t, &stubGateway{})
	_, err := exec.CancelAllForContract(context.Background(), "", "")
	require.Error(t, err)
}

func TestCancelBatchEmpty(t *testing.T) {
	gw := &stubGateway{}
	exec := newTestExecutor(t, gw)

	result := exec.CancelBatch(context.Background(), nil, 0, true)

	assert.Equal(t, 0, result.Total)
	assert.EqualValues(t, 0, gw.refreshCalls.Load())
}
