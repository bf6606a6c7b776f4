package metrics

// MetricsWrapper adapts Metrics to the method set the predictor and server call.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictionsInc() {
	w.m.Predictions.Inc()
}

func (w *MetricsWrapper) PredictionFailuresInc(reason string) {
	w.m.PredictionFailures.WithLabelValues(reason).Inc()
}

func (w *MetricsWrapper) PredictionLatencyObserve(seconds float64) {
	w.m.PredictionLatency.Observe(seconds)
}

func (w *MetricsWrapper) PredictedPriceObserve(price float64) {
	w.m.PredictedPrices.Observe(price)
}

func (w *MetricsWrapper) ModelAgeSet(seconds float64) {
	w.m.ModelAge.Set(seconds)
}

func (w *MetricsWrapper) WSConnectionsAdd(delta float64) {
	w.m.WSConnections.Add(delta)
}

func (w *MetricsWrapper) ExtractionsInc() {
	w.m.Extractions.Inc()
}

func (w *MetricsWrapper) ExtractionFailuresInc() {
	w.m.ExtractionFailures.Inc()
}
