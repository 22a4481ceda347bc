package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records reconciliation and retry activity.
type PaymentMetrics struct {
	reconcileDuration *prometheus.HistogramVec
	attempts          *prometheus.CounterVec
	sessionsIssued    prometheus.Counter
	retriesExhausted  prometheus.Counter
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	reconcileDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_reconcile_duration_seconds",
		Help:    "Duration of payment reconciliation runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_retry_attempts_total",
		Help: "Retry attempts recorded, labeled by outcome.",
	}, []string{"outcome"})
	sessionsIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_sessions_issued_total",
		Help: "Fresh checkout sessions issued during reconciliation.",
	})
	retriesExhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_retries_exhausted_total",
		Help: "Retry loops that gave up after the attempt cap.",
	})
	reg.MustRegister(reconcileDuration, attempts, sessionsIssued, retriesExhausted)
	return &PaymentMetrics{
		reconcileDuration: reconcileDuration,
		attempts:          attempts,
		sessionsIssued:    sessionsIssued,
		retriesExhausted:  retriesExhausted,
	}
}

// ObserveReconcile records the duration of a reconciliation run.
func (p *PaymentMetrics) ObserveReconcile(outcome string, duration time.Duration) {
	if p == nil || p.reconcileDuration == nil {
		return
	}
	p.reconcileDuration.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

// IncAttempt increments the retry attempt counter for the outcome.
func (p *PaymentMetrics) IncAttempt(outcome string) {
	if p == nil || p.attempts == nil {
		return
	}
	p.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncSessionIssued increments the issued-session counter.
func (p *PaymentMetrics) IncSessionIssued() {
	if p == nil || p.sessionsIssued == nil {
		return
	}
	p.sessionsIssued.Inc()
}

// IncRetriesExhausted increments the exhausted-retries counter.
func (p *PaymentMetrics) IncRetriesExhausted() {
	if p == nil || p.retriesExhausted == nil {
		return
	}
	p.retriesExhausted.Inc()
}

func normalizeLabel(outcome string) string {
	if outcome == "" {
		return "unknown"
	}
	return outcome
}
