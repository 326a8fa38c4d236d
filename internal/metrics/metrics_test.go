package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	Requests.Reset()

	RecordRequest("/api/diagnostics", nil)
	RecordRequest("/api/diagnostics", nil)
	RecordRequest("/api/diagnostics", errors.New("boom"))

	if got := testutil.ToFloat64(Requests.WithLabelValues("/api/diagnostics", "ok")); got != 2 {
		t.Errorf("Expected 2 ok requests, got %f", got)
	}
	if got := testutil.ToFloat64(Requests.WithLabelValues("/api/diagnostics", "error")); got != 1 {
		t.Errorf("Expected 1 failed request, got %f", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	StreamConnects.WithLabelValues("telemetry").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "opconsole_stream_connects_total") {
		t.Errorf("Expected stream connects metric in output")
	}
}
