package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jchen042/tradedesk/internal/gateway"
	"github.com/jchen042/tradedesk/internal/subscription"
	"github.com/jchen042/tradedesk/pkg/metrics"
)

// OrderEventHandler consumes one normalized event. Handlers run on the
// router's goroutine and must return quickly.
type OrderEventHandler func(ev *NormalizedOrderEvent)

// StatsUpdate carries a normalized event plus the windows it resolved to,
// for the display layer's statistics panel. Consumption happens on the
// display-affinity thread; the router only emits.
type StatsUpdate struct {
	Event     *NormalizedOrderEvent
	WindowIDs []uuid.UUID
}

// Router drives each inbound push frame through
// received → classified → normalized → routed → delivered. Events are
// processed at most once, independently; there is no retry state.
type Router struct {
	registry *subscription.Registry
	logger   *zap.Logger

	mu        sync.RWMutex
	global    OrderEventHandler
	perWindow map[uuid.UUID]OrderEventHandler

	stats chan StatsUpdate
}

// NewRouter creates a router resolving windows through the given registry.
// statsBuffer sizes the single-consumer statistics queue.
func NewRouter(registry *subscription.Registry, statsBuffer int, logger *zap.Logger) *Router {
	if statsBuffer <= 0 {
		statsBuffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry:  registry,
		logger:    logger,
		perWindow: make(map[uuid.UUID]OrderEventHandler),
		stats:     make(chan StatsUpdate, statsBuffer),
	}
}

// SetGlobalHandler registers the callback that fires for every delivered
// event regardless of window resolution.
func (r *Router) SetGlobalHandler(fn OrderEventHandler) {
	r.mu.Lock()
	r.global = fn
	r.mu.Unlock()
}

// RegisterWindowHandler registers the per-window callback.
func (r *Router) RegisterWindowHandler(windowID uuid.UUID, fn OrderEventHandler) {
	r.mu.Lock()
	r.perWindow[windowID] = fn
	r.mu.Unlock()
}

// UnregisterWindowHandler drops a window's callback, typically on window
// teardown.
func (r *Router) UnregisterWindowHandler(windowID uuid.UUID) {
	r.mu.Lock()
	delete(r.perWindow, windowID)
	r.mu.Unlock()
}

// StatsUpdates exposes the statistics queue. Exactly one consumer (the
// display-affinity loop) should range over it.
func (r *Router) StatsUpdates() <-chan StatsUpdate { return r.stats }

// Handle processes one raw push frame end to end. Window resolution goes by
// contract code alone: a window subscribed to any quote type for the code
// receives all order and fill events for it.
func (r *Router) Handle(raw gateway.RawPushEvent) {
	ev := Normalize(raw)
	if ev == nil {
		r.logger.Debug("unclassifiable push frame dropped", zap.String("tag", raw.Tag))
		return
	}

	var windowIDs []uuid.UUID
	if ev.ContractCode != "" {
		windowIDs = r.registry.FindWindowsByCode(ev.ContractCode)
	}

	r.mu.RLock()
	global := r.global
	handlers := make([]OrderEventHandler, 0, len(windowIDs))
	for _, id := range windowIDs {
		if fn, ok := r.perWindow[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	r.mu.RUnlock()

	if global != nil {
		global(ev)
	}
	for _, fn := range handlers {
		fn(ev)
	}

	select {
	case r.stats <- StatsUpdate{Event: ev, WindowIDs: windowIDs}:
	default:
		// Display consumer stalled; dropping beats blocking the socket
		// reader.
		metrics.EventsDropped.Inc()
	}

	metrics.EventsRouted.WithLabelValues(string(ev.Kind)).Inc()
	r.logger.Debug("event routed",
		zap.String("kind", string(ev.Kind)),
		zap.String("contract", ev.ContractCode),
		zap.Int("windows", len(windowIDs)),
	)
}
