package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jchen042/tradedesk/internal/gateway"
	"github.com/jchen042/tradedesk/internal/infrastructure/config"
	"github.com/jchen042/tradedesk/internal/orders"
	"github.com/jchen042/tradedesk/internal/subscription"
	"github.com/jchen042/tradedesk/pkg/models"
)

func newTestServer(t *testing.T) (*Server, *gateway.Sim) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	sim := gateway.NewSim("ACC-1")

	reg := subscription.NewRegistry(logger)
	coord := subscription.NewCoordinator(reg, sim, time.Second, logger)
	gate := orders.NewRefreshGate(sim, 50*time.Millisecond, time.Second, logger)
	agg := orders.NewAggregator(sim, gate, time.Second, logger)
	exec := orders.NewBatchCancelExecutor(sim, gate, agg, time.Second, 0, 5, logger)

	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0, AllowedOrigins: []string{"*"}}
	return New(cfg, coord, agg, exec, logger), sim
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubscribeEndpoint(t *testing.T) {
	srv, sim := newTestServer(t)
	windowID := uuid.New()
	path := fmt.Sprintf("/api/v1/windows/%s/subscriptions", windowID)
	body := map[string]any{"code": "TXFR1", "quote_type": "TICK"}

	rec := doJSON(t, srv.Handler(), http.MethodPost, path, body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, sim.SubscribeCalls())

	// Same window, same key: conflict, no second upstream call.
	rec = doJSON(t, srv.Handler(), http.MethodPost, path, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.EqualValues(t, 1, sim.SubscribeCalls())
}

func TestSubscribeEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	windowID := uuid.New()
	path := fmt.Sprintf("/api/v1/windows/%s/subscriptions", windowID)

	rec := doJSON(t, srv.Handler(), http.MethodPost, path, map[string]any{"quote_type": "TICK"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/windows/not-a-uuid/subscriptions",
		map[string]any{"code": "TXFR1", "quote_type": "TICK"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnsubscribeEndpointNotSubscribed(t *testing.T) {
	srv, _ := newTestServer(t)
	path := fmt.Sprintf("/api/v1/windows/%s/subscriptions", uuid.New())

	rec := doJSON(t, srv.Handler(), http.MethodDelete, path, map[string]any{"code": "TXFR1", "quote_type": "TICK"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnifiedQueryEndpoint(t *testing.T) {
	srv, sim := newTestServer(t)
	sim.SeedOrders(
		models.NewOrderForTest("A001", "TXFR1", models.OrderSideBuy, "100", "10", models.OrderStatusSubmitted),
		models.NewOrderForTest("A002", "TXFR1", models.OrderSideSell, "101", "5", models.OrderStatusSubmitted),
	)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/orders/unified?contract=TXFR1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res orders.UnifiedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Cancellable, 2)
	assert.Equal(t, 2, res.Stats.TotalPendingOrderCount)
}

func TestCancelBatchEndpoint(t *testing.T) {
	srv, sim := newTestServer(t)
	o1 := models.NewOrderForTest("A001", "TXFR1", models.OrderSideBuy, "100", "10", models.OrderStatusSubmitted)
	o2 := models.NewOrderForTest("A002", "TXFR1", models.OrderSideSell, "101", "5", models.OrderStatusSubmitted)
	sim.SeedOrders(o1, o2)
	sim.CancelErr["A002"] = fmt.Errorf("price session closed")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/orders/cancel-batch", map[string]any{
		"orders":       []models.Order{o1, o2},
		"auto_refresh": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.BatchCancelResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailCount)
}

func TestCancelAllEndpoint(t *testing.T) {
	srv, sim := newTestServer(t)
	sim.SeedOrders(
		models.NewOrderForTest("A001", "TXFR1", models.OrderSideBuy, "100", "10", models.OrderStatusSubmitted),
		models.NewOrderForTest("A002", "MXFR1", models.OrderSideSell, "50", "2", models.OrderStatusSubmitted),
	)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/orders/cancel-all", map[string]any{"contract": "TXFR1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.BatchCancelResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.SuccessCount)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
