package ai

import (
	"math"
	"sync"
)

// MetricsRecorder accumulates ModelMetrics across calls. Clients embed it
// to satisfy the metrics half of GraphAIClient.
type MetricsRecorder struct {
	mu      sync.Mutex
	metrics ModelMetrics
}

// Record adds m to the running totals.
func (r *MetricsRecorder) Record(m ModelMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics = r.metrics.Add(m)
	r.metrics.TokenPerSecond = float32(math.Round(float64(r.metrics.TokenPerSecond)*100) / 100)
}

// GetMetrics returns the totals since the last reset.
func (r *MetricsRecorder) GetMetrics() ModelMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

func (r *MetricsRecorder) ResetMetrics() {
	r.mu.Lock()
	r.metrics = ModelMetrics{}
	r.mu.Unlock()
}
