package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mutation labels.
const (
	MutationCreate  = "create"
	MutationUpdate  = "update"
	MutationDelete  = "delete"
	MutationCascade = "cascade"
)

type Metrics struct {
	Mutations       *prometheus.CounterVec
	HistoryEntries  prometheus.Counter
	Notifications   prometheus.Counter
	PublishFailures prometheus.Counter
	CascadeRows     *prometheus.CounterVec
}

// New registers the messaging metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_message_mutations_total",
			Help: "Committed message mutations, by kind",
		}, []string{"kind"}),
		HistoryEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_message_history_entries_total",
			Help: "History entries written for content edits",
		}),
		Notifications: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_notifications_created_total",
			Help: "Notifications created for new messages",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_notification_publish_failures_total",
			Help: "Committed notifications that could not be published",
		}),
		CascadeRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_cascade_rows_deleted_total",
			Help: "Rows removed by account deletion, by table",
		}, []string{"table"}),
	}
}

func (m *Metrics) IncrementMutation(kind string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementHistory() {
	if m == nil {
		return
	}
	m.HistoryEntries.Inc()
}

func (m *Metrics) IncrementNotifications() {
	if m == nil {
		return
	}
	m.Notifications.Inc()
}

func (m *Metrics) IncrementPublishFailures() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

func (m *Metrics) AddCascadeRows(table string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CascadeRows.WithLabelValues(table).Add(float64(n))
}
