package observability

import (
	"sync"
	"testing"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently
// without causing race conditions
func TestNewMetricsConcurrency(t *testing.T) {
	// Number of concurrent goroutines to test with
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	// Start multiple goroutines that all try to create metrics concurrently
	for range numGoroutines {
		go func() {
			defer wg.Done()

			m, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if m == nil {
				t.Error("NewMetrics returned nil")
				return
			}

			// Verify all metric fields are initialized
			if m.registry == nil {
				t.Error("metrics.registry is nil")
			}
			if m.Invoker == nil {
				t.Error("metrics.Invoker is nil")
			}
			if m.Analyzer == nil {
				t.Error("metrics.Analyzer is nil")
			}
			if m.JobQueue == nil {
				t.Error("metrics.JobQueue is nil")
			}
			if m.Delivery == nil {
				t.Error("metrics.Delivery is nil")
			}
		}()
	}

	wg.Wait()
}
