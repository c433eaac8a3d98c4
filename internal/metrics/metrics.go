package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_stored_total",
			Help: "Total messages persisted",
		},
		[]string{"type"},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_rejected_total",
			Help: "Total inbound events dropped by validation",
		},
		[]string{"event"},
	)

	ReadReceipts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_read_receipts_total",
			Help: "Total read receipts processed",
		},
		[]string{"path"}, // "topic" or "queue"
	)

	// Delivery metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_deliveries_total",
			Help: "Total deliveries issued by the topic router",
		},
		[]string{"kind"}, // "private", "public", "read_receipt", "queue"
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_delivery_failures_total",
			Help: "Total failed deliveries",
		},
		[]string{"kind"},
	)

	OnlineSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_online_sessions",
			Help: "Current websocket sessions",
		},
	)

	DroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_dropped_frames_total",
			Help: "Total frames dropped because a session queue was full",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_hits_total",
			Help: "Total requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_blocked_requests_total",
			Help: "Total requests from auto-blocked IPs",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"op"},
	)
)
