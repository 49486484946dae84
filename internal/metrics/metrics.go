package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QuotaDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coach_quota_decisions_total",
			Help: "Quota checks by tracker and outcome.",
		},
		[]string{"tracker", "outcome"},
	)

	PurchasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coach_purchases_total",
			Help: "Settled purchase attempts by result.",
		},
		[]string{"result"},
	)

	BillingConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coach_billing_connected",
			Help: "1 while the billing backend connection is established.",
		},
	)

	SyncStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coach_sync_steps_total",
			Help: "Sync sweep steps by step and outcome.",
		},
		[]string{"step", "outcome"},
	)

	FeedbackRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coach_feedback_requests_total",
			Help: "AI feedback requests by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	FeedbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coach_feedback_duration_seconds",
			Help:    "Latency of AI feedback completions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		QuotaDecisions,
		PurchasesTotal,
		BillingConnectionState,
		SyncStepsTotal,
		FeedbackRequestsTotal,
		FeedbackDuration,
	)
}
