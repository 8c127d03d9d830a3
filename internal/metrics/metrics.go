package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_requests_enqueued_total",
		Help: "Total number of requests placed on a worker queue, labelled by operation.",
	}, []string{"op"})

	RequestsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_requests_dropped_total",
		Help: "Total number of requests rejected due to a full worker queue.",
	}, []string{"op"})

	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_scans_total",
		Help: "Total number of accepted scans, labelled by direction.",
	}, []string{"direction"})

	TokenRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_token_rejections_total",
		Help: "Total number of rejected identity tokens, labelled by form and reason.",
	}, []string{"form", "reason"})

	AnomalousExits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_anomalous_exits_total",
		Help: "Total number of exits recorded without a usable entry.",
	})

	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_registrations_total",
		Help: "Total number of admitted registrations, labelled by resulting status.",
	}, []string{"status"})

	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_rejections_total",
		Help: "Total number of rejected requests, labelled by operation and code.",
	}, []string{"op", "code"})

	WaitlistPromotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_waitlist_promotions_total",
		Help: "Total number of waitlisted registrations promoted to confirmed.",
	})

	RefundsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_refunds_total",
		Help: "Total number of cancellations with a refund decision, labelled by reason.",
	}, []string{"reason"})

	RefundAmount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_refund_amount_minor_units_total",
		Help: "Sum of refunded amounts in minor currency units.",
	})

	LockRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_lock_retries_total",
		Help: "Total number of store transactions retried after a lock timeout, labelled by operation.",
	}, []string{"op"})

	CounterMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_counter_mismatches_total",
		Help: "Total number of reconciliations that found a capacity counter mismatch.",
	})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "turnstile_request_duration_ms",
		Help:    "End-to-end request latency in milliseconds, labelled by operation.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"op"})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "turnstile_queue_utilization_ratio",
		Help: "Current worker queue utilization (0–1).",
	})
)
