// Package metrics provides Prometheus metrics for the court pricer: quote volume,
// failures and latency, model freshness, training runs, and the text extraction and
// WebSocket surfaces of the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the service.
type Metrics struct {
	// Quote metrics
	Predictions        prometheus.Counter     // Total number of quotes served
	PredictionFailures *prometheus.CounterVec // Failed quotes by reason
	PredictionLatency  prometheus.Histogram   // Encode, predict and explain latency
	PredictedPrices    prometheus.Histogram   // Distribution of quoted prices
	ModelAge           prometheus.Gauge       // Age of the active model in seconds

	// Training metrics
	TrainingDuration prometheus.Histogram
	TrainingRows     prometheus.Gauge

	// Server surfaces
	WSConnections      prometheus.Gauge
	Extractions        prometheus.Counter
	ExtractionFailures prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "court_quotes_total",
			Help: "Total number of price quotes served",
		}),
		PredictionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "court_quote_failures_total",
			Help: "Total number of failed quotes by reason",
		}, []string{"reason"}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "court_quote_latency_seconds",
			Help:    "Quote latency in seconds, including the explanation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		PredictedPrices: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "court_quoted_price",
			Help:    "Distribution of quoted prices",
			Buckets: prometheus.LinearBuckets(0, 20, 11),
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "court_model_age_seconds",
			Help: "Age of the active model in seconds",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "court_training_duration_seconds",
			Help:    "Duration of training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		TrainingRows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "court_training_rows",
			Help: "Number of rows the active model was trained on",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "court_ws_connections",
			Help: "Open quote WebSocket connections",
		}),
		Extractions: factory.NewCounter(prometheus.CounterOpts{
			Name: "court_extractions_total",
			Help: "Total number of free-text extraction attempts",
		}),
		ExtractionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "court_extraction_failures_total",
			Help: "Total number of failed free-text extractions",
		}),
	}
}

// ObserveTraining records a finished training run.
func (m *Metrics) ObserveTraining(seconds float64, rows int) {
	m.TrainingDuration.Observe(seconds)
	m.TrainingRows.Set(float64(rows))
}
