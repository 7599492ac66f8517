package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jchen042/tradedesk/pkg/models"
)

func TestSimCancelAcksOverPushChannel(t *testing.T) {
	sim := NewSim("ACC-1")
	order := models.NewOrderForTest("A001", "TXFR1", models.OrderSideBuy, "100", "10", models.OrderStatusSubmitted)
	sim.SeedOrders(order)

	require.NoError(t, sim.CancelOrder(context.Background(), order))

	select {
	case ev := <-sim.Push():
		assert.Equal(t, TagOrderAck, ev.Tag)
	case <-time.After(time.Second):
		t.Fatal("no ack on push channel")
	}

	live, err := sim.ListLiveOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, models.OrderStatusCancelled, live[0].Status)
}

func TestSimCancelUnknownOrder(t *testing.T) {
	sim := NewSim()
	err := sim.CancelOrder(context.Background(), models.Order{OrderNumber: "NOPE"})
	require.Error(t, err)
}

func TestSimCancelHonorsContext(t *testing.T) {
	sim := NewSim()
	sim.CancelDelay = time.Second
	order := models.NewOrderForTest("A001", "TXFR1", models.OrderSideBuy, "100", "10", models.OrderStatusSubmitted)
	sim.SeedOrders(order)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sim.CancelOrder(ctx, order)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimSubscriptionCounters(t *testing.T) {
	sim := NewSim()
	ctx := context.Background()
	contract := models.Contract{ActualCode: "TXFR1"}

	require.NoError(t, sim.Subscribe(ctx, contract, models.QuoteTypeTick, false))
	require.NoError(t, sim.Subscribe(ctx, contract, models.QuoteTypeDepth, false))
	assert.Len(t, sim.ActiveFeeds(), 2)

	require.NoError(t, sim.Unsubscribe(ctx, "TXFR1", models.QuoteTypeTick, false))
	assert.Len(t, sim.ActiveFeeds(), 1)
	assert.EqualValues(t, 2, sim.SubscribeCalls())
	assert.EqualValues(t, 1, sim.UnsubscribeCalls())
}
