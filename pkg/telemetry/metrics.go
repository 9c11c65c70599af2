package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricCyclesTotal           = "dmarket_sync_cycles_total"
	MetricTargetsRepricedTotal  = "dmarket_sync_targets_repriced_total"
	MetricRetriesExhaustedTotal = "dmarket_sync_retries_exhausted_total"
	MetricWorkersRunning        = "dmarket_sync_workers_running"
)

// MetricsHolder tracks per-instance worker state behind an observable gauge.
// Counters and histograms live with the components that emit them; the gauge
// needs a process-wide home because its callback outlives any one worker.
type MetricsHolder struct {
	WorkersRunning metric.Int64ObservableGauge

	mu             sync.RWMutex
	runningWorkers map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			runningWorkers: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics registers the gauge with the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error
	m.WorkersRunning, err = meter.Int64ObservableGauge(MetricWorkersRunning,
		metric.WithDescription("Worker running state per instance (1=running)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for id, val := range m.runningWorkers {
				obs.Observe(val, metric.WithAttributes(attribute.String("instance", id)))
			}
			return nil
		}))
	return err
}

// SetWorkerRunning records the running state of one instance's worker
func (m *MetricsHolder) SetWorkerRunning(instanceID string, running bool) {
	val := int64(0)
	if running {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runningWorkers[instanceID] = val
}

// ForgetWorker drops an instance from the running-state gauge
func (m *MetricsHolder) ForgetWorker(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runningWorkers, instanceID)
}
