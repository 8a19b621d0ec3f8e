package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Admitted prometheus.Counter
	Rejected *prometheus.CounterVec
}

// New registers the admission metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Admitted: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_admission_admitted_total",
			Help: "Requests that passed every admission interceptor",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_admission_rejected_total",
			Help: "Requests rejected by an admission interceptor, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) IncrementAdmitted() {
	m.Admitted.Inc()
}

func (m *Metrics) IncrementRejected(reason string) {
	m.Rejected.WithLabelValues(reason).Inc()
}
