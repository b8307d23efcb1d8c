// Package metrics provides Prometheus instrumentation for the transaction monitor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "txmonitor"

var (
	// TransactionsProcessed counts enriched transactions by priority.
	TransactionsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_processed_total",
			Help:      "Total enriched transactions by priority.",
		},
		[]string{"priority"},
	)

	// BlocksProcessed counts new-block events.
	BlocksProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_processed_total",
			Help:      "Total new-block events received from the feed.",
		},
	)

	// ProcessingDuration observes the time spent handling one feed frame.
	ProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_processing_duration_seconds",
			Help:      "Time spent scoring, storing and broadcasting one feed frame.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	// DecodeErrors counts discarded malformed frames.
	DecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_decode_errors_total",
			Help:      "Total malformed feed frames discarded.",
		},
	)

	// FeedReconnects counts reconnect attempts to the upstream feed.
	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Total reconnect attempts to the upstream feed.",
		},
	)

	// FeedState exposes the connector state, one series per state set to 1 when active.
	FeedState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_state",
			Help:      "Current upstream connection state.",
		},
		[]string{"state"},
	)

	// StatsFetches counts external stats fetches by endpoint and outcome.
	StatsFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_fetches_total",
			Help:      "Total external stats fetches by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	// ActiveSubscribers tracks connected websocket subscribers.
	ActiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscribers",
			Help:      "Number of currently connected websocket subscribers.",
		},
	)

	// DroppedMessages counts messages dropped because a queue was full.
	DroppedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Total messages dropped on full queues by sink.",
		},
		[]string{"sink"},
	)
)

func init() {
	prometheus.MustRegister(
		TransactionsProcessed,
		BlocksProcessed,
		ProcessingDuration,
		DecodeErrors,
		FeedReconnects,
		FeedState,
		StatsFetches,
		ActiveSubscribers,
		DroppedMessages,
	)
}

// Handler returns the Prometheus exposition handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetFeedState marks state as the only active connector state
func SetFeedState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		FeedState.WithLabelValues(s).Set(v)
	}
}
