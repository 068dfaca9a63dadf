package persist

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records store activity.
type Metrics interface {
	ObserveHydration(name string, duration time.Duration, migrated bool, err error)
	ObservePersist(name string, duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveHydration(string, time.Duration, bool, error) {}
func (noopMetrics) ObservePersist(string, time.Duration, error)         {}

// PrometheusMetrics implements Metrics with prometheus collectors.
type PrometheusMetrics struct {
	hydrations        *prometheus.CounterVec
	hydrationDuration *prometheus.HistogramVec
	migrations        *prometheus.CounterVec
	persists          *prometheus.CounterVec
	persistDuration   *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the store collectors with reg under namespace.
// It panics if the collectors are already registered with reg.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		hydrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hydrations_total",
			Help:      "Hydration runs by storage name and result.",
		}, []string{"name", "result"}),
		hydrationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hydration_duration_seconds",
			Help:      "Duration of hydration runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"}),
		migrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Hydration runs that migrated the stored state.",
		}, []string{"name"}),
		persists: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persists_total",
			Help:      "Writes to storage by storage name and result.",
		}, []string{"name", "result"}),
		persistDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Duration of writes to storage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"}),
	}
}

func (m *PrometheusMetrics) ObserveHydration(name string, duration time.Duration, migrated bool, err error) {
	m.hydrations.WithLabelValues(name, result(err)).Inc()
	m.hydrationDuration.WithLabelValues(name).Observe(duration.Seconds())
	if migrated && err == nil {
		m.migrations.WithLabelValues(name).Inc()
	}
}

func (m *PrometheusMetrics) ObservePersist(name string, duration time.Duration, err error) {
	m.persists.WithLabelValues(name, result(err)).Inc()
	m.persistDuration.WithLabelValues(name).Observe(duration.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
