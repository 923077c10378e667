package ai

import (
	"sync"
	"testing"
)

func TestMetricsRecorder(t *testing.T) {
	var r MetricsRecorder

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(ModelMetrics{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, DurationMs: 300})
		}()
	}
	wg.Wait()

	m := r.GetMetrics()
	if m.InputTokens != 100 || m.TotalTokens != 150 || m.DurationMs != 3000 {
		t.Fatalf("unexpected totals %+v", m)
	}
	if m.TokenPerSecond != 50 {
		t.Fatalf("expected 50 tokens/s, got %v", m.TokenPerSecond)
	}

	r.ResetMetrics()
	if got := r.GetMetrics(); got != (ModelMetrics{}) {
		t.Fatalf("expected zero metrics after reset, got %+v", got)
	}
}
