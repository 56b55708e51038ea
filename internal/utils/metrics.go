// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of observed values
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// slot returns the value cell for name in table, creating it under the write lock
func (m *MetricsCollector) slot(table map[string]*int64, name string) *int64 {
	m.mu.RLock()
	value, exists := table[name]
	m.mu.RUnlock()
	if exists {
		return value
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if value, exists = table[name]; !exists {
		value = new(int64)
		table[name] = value
	}
	return value
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

// IncGauge increments a gauge metric
func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

// DecGauge decrements a gauge metric
func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	value, exists := m.gauges[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(value)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	value, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(value)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, value := range m.counters {
		counters[name] = atomic.LoadInt64(value)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, value := range m.gauges {
		gauges[name] = atomic.LoadInt64(value)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, histogram := range m.histograms {
		histogram.mu.Lock()
		histograms[name] = map[string]int64{
			"count": histogram.count,
			"sum":   histogram.sum,
			"min":   histogram.min,
			"max":   histogram.max,
		}
		histogram.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// RunMetrics records pipeline-level metrics
type RunMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewRunMetrics creates a RunMetrics bound to the global collector and logger
func NewRunMetrics() *RunMetrics {
	return &RunMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// NewRunMetricsWith binds RunMetrics to an explicit collector
func NewRunMetricsWith(collector *MetricsCollector, logger *Logger) *RunMetrics {
	return &RunMetrics{metrics: collector, logger: logger}
}

// Collector exposes the underlying collector
func (rm *RunMetrics) Collector() *MetricsCollector {
	return rm.metrics
}

// RecordAPIRequest records metrics for an HTTP request
func (rm *RunMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	rm.metrics.IncrementCounter("api_requests_total")
	rm.metrics.IncrementCounter("api_requests_" + method + "_" + route)
	rm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	rm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())

	rm.logger.Debug("API request completed", map[string]interface{}{
		"route":    route,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// RecordLLMRequest records one call to a generation backend
func (rm *RunMetrics) RecordLLMRequest(provider, model string, tokensUsed int, duration time.Duration) {
	rm.metrics.IncrementCounter("llm_requests_total")
	rm.metrics.IncrementCounter("llm_requests_" + provider)
	rm.metrics.AddCounter("llm_tokens_total", int64(tokensUsed))
	rm.metrics.RecordHistogram("generation_ms", duration.Milliseconds())

	rm.logger.Info("LLM request completed", map[string]interface{}{
		"provider": provider,
		"model":    model,
		"tokens":   tokensUsed,
		"duration": duration.Milliseconds(),
	})
}

// RecordRender records the duration of one render invocation
func (rm *RunMetrics) RecordRender(duration time.Duration) {
	rm.metrics.IncrementCounter("renders_total")
	rm.metrics.RecordHistogram("render_ms", duration.Milliseconds())
}

// RecordRun records the terminal status of a run
func (rm *RunMetrics) RecordRun(status string) {
	rm.metrics.IncrementCounter("runs_total")
	rm.metrics.IncrementCounter("runs_" + status)
}

// RunStarted and RunFinished track in-flight runs
func (rm *RunMetrics) RunStarted() {
	rm.metrics.IncGauge("runs_in_flight")
}

func (rm *RunMetrics) RunFinished() {
	rm.metrics.DecGauge("runs_in_flight")
}

// StartReporting logs a metrics snapshot every interval until ctx is done
func (rm *RunMetrics) StartReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": rm.metrics.GetMetrics(),
				})
			}
		}
	}()
}
