package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

// Two refreshes arriving within the acquire window: exactly one hits the
// gateway; the other returns immediately as a no-op success.
func TestRefreshGateSingleFlight(t *testing.T) {
	gw := &stubGateway{refreshDelay: 300 * time.Millisecond}
	gate := NewRefreshGate(gw, 50*time.Millisecond, time.Second, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	outcomes := make([]RefreshOutcome, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = gate.Refresh(context.Background())
		}()
	}
	wg.Wait()

	performed := 0
	for _, oc := range outcomes {
		if oc.Performed {
			performed++
		}
	}
	assert.Equal(t, 1, performed)
	assert.EqualValues(t, 1, gw.refreshCalls.Load())
}

func TestRefreshGateSequentialCallsBothRun(t *testing.T) {
	gw := &stubGateway{}
	gate := NewRefreshGate(gw, 50*time.Millisecond, time.Second, zaptest.NewLogger(t))

	first := gate.Refresh(context.Background())
	second := gate.Refresh(context.Background())

	assert.True(t, first.Performed)
	assert.True(t, second.Performed)
	assert.EqualValues(t, 2, gw.refreshCalls.Load())
}

// One account failing is reported in the outcome, not as an error, and the
// other accounts still refresh.
func TestRefreshGatePartialFailure(t *testing.T) {
	gw := &stubGateway{
		accounts:     []string{"ACC-1", "ACC-2", "ACC-3"},
		refreshDelay: 200 * time.Millisecond,
	}
	gate := NewRefreshGate(gw, 50*time.Millisecond, 50*time.Millisecond, zaptest.NewLogger(t))

	outcome := gate.Refresh(context.Background())

	assert.True(t, outcome.Performed)
	assert.Equal(t, 3, outcome.Accounts)
	// The per-account timeout (50ms) undercuts the stub delay (200ms), so
	// every sub-call fails, yet the refresh itself completes.
	assert.Equal(t, 3, outcome.Failed)
	assert.EqualValues(t, 3, gw.refreshCalls.Load())
}

// Listing accounts on a stuck gateway bounds at the per-call timeout; the
// refresh reports the failure instead of hanging.
func TestRefreshGateAccountsBoundedByTimeout(t *testing.T) {
	gw := &stubGateway{accountsDelay: 5 * time.Second}
	gate := NewRefreshGate(gw, 50*time.Millisecond, 30*time.Millisecond, zaptest.NewLogger(t))

	started := time.Now()
	outcome := gate.Refresh(context.Background())

	assert.True(t, outcome.Performed)
	assert.Equal(t, 1, outcome.Failed)
	assert.Zero(t, outcome.Accounts)
	assert.Less(t, time.Since(started), time.Second)
}
