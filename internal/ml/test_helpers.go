package ml

import "sync"

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu            sync.Mutex
	predictions   int
	failures      map[string]int
	latencySum    float64
	prices        []float64
	modelAge      float64
	wsConnections float64
	extractions   int
	extractFails  int
}

func (m *MockMetrics) PredictionsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
}

func (m *MockMetrics) PredictionFailuresInc(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = make(map[string]int)
	}
	m.failures[reason]++
}

func (m *MockMetrics) PredictionLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
}

func (m *MockMetrics) PredictedPriceObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = append(m.prices, v)
}

func (m *MockMetrics) ModelAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAge = v
}

func (m *MockMetrics) WSConnectionsAdd(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wsConnections += v
}

func (m *MockMetrics) ExtractionsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions++
}

func (m *MockMetrics) ExtractionFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractFails++
}

func (m *MockMetrics) Predictions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predictions
}

func (m *MockMetrics) Failures(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[reason]
}

func (m *MockMetrics) Extractions() (total, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractions, m.extractFails
}

func (m *MockMetrics) WSConnections() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wsConnections
}
