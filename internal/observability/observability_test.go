package observability

import (
	"sync"
	"testing"
)

type captureLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureLogger) record(msg string) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...Field) { c.record(msg) }
func (c *captureLogger) Info(msg string, _ ...Field)  { c.record(msg) }
func (c *captureLogger) Error(msg string, _ ...Field) { c.record(msg) }

func TestSetLoggerSwapsGlobal(t *testing.T) {
	capture := &captureLogger{}
	SetLogger(capture)
	defer SetLogger(nil)

	Log().Info("hello", F("k", 1))
	if len(capture.msgs) != 1 || capture.msgs[0] != "hello" {
		t.Fatalf("expected captured message, got %v", capture.msgs)
	}

	SetLogger(nil)
	Log().Info("swallowed")
	if len(capture.msgs) != 1 {
		t.Fatalf("noop fallback must not reach the old logger: %v", capture.msgs)
	}
}

func TestRuntimeMetricsAccumulates(t *testing.T) {
	metrics := NewRuntimeMetrics()
	metrics.IncCounter(MetricFramesReceived, 1, nil)
	metrics.IncCounter(MetricFramesReceived, 2, nil)
	metrics.IncCounter(MetricDecodeErrors, 1, map[string]string{"kind": "router"})

	if got := metrics.Counter(MetricFramesReceived); got != 3 {
		t.Fatalf("frames counter = %v, want 3", got)
	}
	if got := metrics.Counter(MetricDecodeErrors + "{kind=router}"); got != 1 {
		t.Fatalf("labelled counter = %v, want 1", got)
	}
}
