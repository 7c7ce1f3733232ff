// internal/metrics/metrics.go

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_received_total",
			Help: "Total number of socket events received, by type",
		},
		[]string{"type"},
	)

	DirectivesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_directives_sent_total",
			Help: "Total number of socket directives emitted, by type",
		},
		[]string{"type"},
	)

	DirectiveFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_directive_failures_total",
			Help: "Directives that could not be emitted, by type",
		},
		[]string{"type"},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_cache_invalidations_total",
			Help: "Cache invalidations applied, by cache (list or messages)",
		},
		[]string{"cache"},
	)

	RefetchesDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_refetches_discarded_total",
			Help: "Refetch results dropped because a newer generation superseded them",
		},
	)

	SocketConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_socket_connected",
			Help: "1 when the socket connection is up, 0 otherwise",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_socket_reconnects_total",
			Help: "Total number of socket connection attempts after the first",
		},
	)
)
