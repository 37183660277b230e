package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveMessage("login", "handled")
	m.ObserveCapture("ADD", "pending")
	m.ObserveDispatch("offscreen-login", "ok", time.Millisecond)
	m.ObserveWorkerCreation()
	m.TabConnected(1)
	m.ObserveHTTP("GET", "/", "200", time.Millisecond)
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ObserveMessage("queue-list", "handled")
	m.ObserveMessage("queue-list", "handled")
	m.ObserveWorkerCreation()

	if got := testutil.ToFloat64(m.Messages.WithLabelValues("queue-list", "handled")); got != 2 {
		t.Fatalf("messages = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.WorkerCreations); got != 1 {
		t.Fatalf("worker creations = %v; want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "myjd_bridge_messages_total") {
		t.Fatalf("metrics output missing myjd_bridge_messages_total")
	}
}

func TestNewUsesPrivateRegistry(t *testing.T) {
	// Two instances must not collide on registration.
	_ = New()
	_ = New()
}
