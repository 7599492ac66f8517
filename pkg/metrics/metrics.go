package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ActiveFeeds tracks how many distinct upstream feeds are currently held open
var ActiveFeeds = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "tradedesk_active_feeds",
		Help: "Number of distinct upstream market-data feeds currently subscribed",
	},
)

// UpstreamCalls counts blocking gateway calls by operation and result
var UpstreamCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradedesk_upstream_calls_total",
		Help: "Total blocking gateway calls by operation and result",
	},
	[]string{"op", "result"},
)

// BatchCancelDuration records end-to-end latency of batch cancellations
var BatchCancelDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tradedesk_batch_cancel_duration_seconds",
		Help:    "End-to-end latency of batch cancel invocations",
		Buckets: prometheus.DefBuckets,
	},
)

// Refresh gate observability
var (
	RefreshPerformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradedesk_refresh_performed_total",
			Help: "Refreshes that acquired the gate and hit the gateway",
		},
	)

	RefreshSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradedesk_refresh_skipped_total",
			Help: "Refreshes skipped because another refresh was in flight",
		},
	)
)

// Event routing counters
var (
	EventsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedesk_events_routed_total",
			Help: "Push events routed to windows, by event kind",
		},
		[]string{"kind"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradedesk_events_dropped_total",
			Help: "Statistics updates dropped because the display consumer stalled",
		},
	)
)

func init() {
	prometheus.MustRegister(ActiveFeeds, UpstreamCalls, BatchCancelDuration)
	prometheus.MustRegister(RefreshPerformed, RefreshSkipped)
	prometheus.MustRegister(EventsRouted, EventsDropped)
}
