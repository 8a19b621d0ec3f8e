package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeAllowed     = "allowed"
	OutcomeRejected    = "rejected"
	OutcomeNoClientKey = "no_client_key"
	OutcomeStoreError  = "store_error"
)

type Metrics struct {
	Decisions     *prometheus.CounterVec
	StoreDuration prometheus.Histogram
}

// New registers the rate limiter metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_ratelimit_decisions_total",
			Help: "Rate limit decisions by outcome",
		}, []string{"outcome"}),
		StoreDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_ratelimit_store_duration_ms",
			Help:    "Latency of bucket store admissions in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
		}),
	}
}

func (m *Metrics) RecordDecision(outcome string) {
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStore(start time.Time) {
	m.StoreDuration.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}
