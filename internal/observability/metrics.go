package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promauto registers against the default registry on package init.
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtb_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mtb_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	HoldResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtb_hold_resolutions_total",
			Help: "Hold checks by terminal state",
		},
		[]string{"state"},
	)

	HoldCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mtb_hold_check_seconds",
			Help:    "Duration of a single hold check-then-release",
			Buckets: prometheus.DefBuckets,
		},
	)

	TimerLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mtb_timer_lag_seconds",
			Help: "Delay between a hold timer's due time and its execution",
		},
	)

	TimerRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtb_timer_retries_total",
			Help: "Hold timers rescheduled after a failed run",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mtb_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtb_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtb_events_consumed_total",
			Help: "Consumed broker events by routing key and result",
		},
		[]string{"key", "result"},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtb_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
