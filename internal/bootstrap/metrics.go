package bootstrap

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "bookcars"
	subsystem = "db_init"
)

// Metrics represents database initialization metrics.
type Metrics struct {
	Runs                *prometheus.CounterVec
	Duration            prometheus.Histogram
	Ready               prometheus.Gauge
	CollectionsCreated  prometheus.Counter
	IndexesCreated      prometheus.Counter
	TTLUpdates          *prometheus.CounterVec
	TranslationValues   *prometheus.CounterVec
	TranslationFailures prometheus.Counter
}

// NewMetrics creates new initialization metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "runs_total",
				Help:      "Total number of initialization runs.",
			},
			[]string{"result"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "duration_seconds",
				Help:      "Initialization run duration.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
		Ready: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ready",
				Help:      "1 if the last initialization run succeeded.",
			},
		),
		CollectionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "collections_created_total",
				Help:      "Total number of collections created.",
			},
		),
		IndexesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "indexes_created_total",
				Help:      "Total number of declared indexes created.",
			},
		),
		TTLUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ttl_index_updates_total",
				Help:      "Total number of TTL indexes created or replaced.",
			},
			[]string{"collection"},
		),
		TranslationValues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "translation_values_total",
				Help:      "Total number of location values changed by translation reconciliation.",
			},
			[]string{"action"},
		),
		TranslationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "translation_entity_failures_total",
				Help:      "Total number of documents translation reconciliation could not complete.",
			},
		),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Runs.Describe(ch)
	m.Duration.Describe(ch)
	m.Ready.Describe(ch)
	m.CollectionsCreated.Describe(ch)
	m.IndexesCreated.Describe(ch)
	m.TTLUpdates.Describe(ch)
	m.TranslationValues.Describe(ch)
	m.TranslationFailures.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Runs.Collect(ch)
	m.Duration.Collect(ch)
	m.Ready.Collect(ch)
	m.CollectionsCreated.Collect(ch)
	m.IndexesCreated.Collect(ch)
	m.TTLUpdates.Collect(ch)
	m.TranslationValues.Collect(ch)
	m.TranslationFailures.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Metrics)(nil)
)
