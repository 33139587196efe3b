package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peerchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .05, .25, 1, 5, 15, 30, 60, 90},
		},
		[]string{"method", "path"},
	)

	// Record store metrics
	RecordUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_record_updates_total",
			Help: "Record updates by type and outcome",
		},
		[]string{"type", "outcome"}, // accepted, mismatch, error
	)

	Polls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_polls_total",
			Help: "Long-poll reads by outcome",
		},
		[]string{"outcome"}, // changed, timeout, mismatch, canceled, error
	)

	PollWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "peerchat_poll_wait_seconds",
			Help:    "Time a long-poll read spent before returning",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 15, 30, 60},
		},
	)

	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peerchat_backend_latency_seconds",
			Help:    "Storage backend operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"backend", "op"},
	)

	// Replication metrics
	PeerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_peer_requests_total",
			Help: "Requests sent to replicas",
		},
		[]string{"op", "outcome"}, // op: store, retrieve
	)

	ReplicatedWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_replicated_writes_total",
			Help: "Fan-out writes by aggregate result",
		},
		[]string{"result"}, // ok, partial
	)

	// Business metrics
	MessagesPlaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_messages_placed_total",
			Help: "Total chat messages placed",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
