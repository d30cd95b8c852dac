// Package metrics registers the Prometheus collectors for the relayer and
// exposes the scrape handler mounted at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransfersReceived counts accepted submissions by transfer shape.
	TransfersReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "transfers_received_total",
		Help:      "Transfer requests accepted for processing.",
	}, []string{"type"})

	// ScreeningDecisions counts compliance outcomes.
	ScreeningDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "screening_decisions_total",
		Help:      "Compliance screening decisions by outcome and reason.",
	}, []string{"outcome", "reason"})

	// ChainSubmissions counts on-chain submission attempts by result.
	ChainSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "chain_submissions_total",
		Help:      "Transaction submission attempts by result.",
	}, []string{"result"})

	// TransferConfirmations counts transfers reaching a terminal status.
	TransferConfirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "transfer_terminal_total",
		Help:      "Transfers reaching confirmed or failed, by status and source.",
	}, []string{"status", "source"})

	// WebhookEvents counts webhook deliveries by provider and result.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "webhook_events_total",
		Help:      "Webhook events received by provider and result.",
	}, []string{"provider", "result"})

	// WorkerClaims observes the batch sizes the worker pool claims.
	WorkerClaims = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relayer",
		Name:      "worker_claim_batch_size",
		Help:      "Rows claimed per worker poll.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})

	// CrankResurrections counts stale submissions requeued by the crank.
	CrankResurrections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "crank_resurrections_total",
		Help:      "Stale submitted transfers requeued for resubmission.",
	})

	// RiskCacheHits counts risk profile lookups served without provider calls.
	RiskCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Name:      "risk_cache_hits_total",
		Help:      "Risk profile lookups by cache tier.",
	}, []string{"tier"})

	// RequestDuration observes HTTP handler latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relayer",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "code"})
)

// Handler returns the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one HTTP request.
func ObserveRequest(route, code string, start time.Time) {
	RequestDuration.WithLabelValues(route, code).Observe(time.Since(start).Seconds())
}
