package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/authcore/internal/metrics"
)

// recordingCollector はHTTP関連の記録だけを保持するMetricsCollector。
type recordingCollector struct {
	metrics.Nop
	mu        sync.Mutex
	statuses  []int
	latencies []time.Duration
}

func (c *recordingCollector) RecordHTTPStatus(statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, statusCode)
}

func (c *recordingCollector) RecordRequestLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies = append(c.latencies, d)
}

func TestMetricsMiddleware_RecordsStatusAndLatency(t *testing.T) {
	mc := &recordingCollector{}
	handler := NewMetricsMiddleware(mc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	if len(mc.statuses) != 2 || mc.statuses[0] != http.StatusOK || mc.statuses[1] != http.StatusNotFound {
		t.Errorf("statuses = %v, want [200 404]", mc.statuses)
	}
	if len(mc.latencies) != 2 {
		t.Errorf("latencies recorded = %d, want 2", len(mc.latencies))
	}
	for _, d := range mc.latencies {
		if d < 0 {
			t.Errorf("latency should be non-negative: %v", d)
		}
	}
}
