package observability

import "sync"

// Metrics provides counter recording primitives for engine internals.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the engine.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string) {}

// Counter names recorded by the engine.
const (
	MetricFramesReceived    = "venuelink_frames_received_total"
	MetricMessagesRouted    = "venuelink_messages_routed_total"
	MetricDecodeErrors      = "venuelink_decode_errors_total"
	MetricReconnectAttempts = "venuelink_reconnect_attempts_total"
)

// RuntimeMetrics accumulates counters in-memory for periodic export or tests.
type RuntimeMetrics struct {
	mu       sync.Mutex
	counters map[string]float64
}

// NewRuntimeMetrics constructs an empty metrics accumulator.
func NewRuntimeMetrics() *RuntimeMetrics {
	metrics := new(RuntimeMetrics)
	metrics.counters = make(map[string]float64)
	return metrics
}

// IncCounter adds value to the named counter. Labels are folded into the key.
func (m *RuntimeMetrics) IncCounter(name string, value float64, labels map[string]string) {
	key := name
	if v, ok := labels["kind"]; ok {
		key = name + "{kind=" + v + "}"
	}
	m.mu.Lock()
	m.counters[key] += value
	m.mu.Unlock()
}

// Counter returns the accumulated value for the given key.
func (m *RuntimeMetrics) Counter(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}
