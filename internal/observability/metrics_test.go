package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest("/admin/login", "GET", 200, 5*time.Millisecond)
	m.RecordRequest("/admin/login", "GET", 200, 5*time.Millisecond)
	m.RecordSessionEvent("session_login")
	m.RecordUpstream("GET", UpstreamCredentialRejected)

	if got := testutil.ToFloat64(m.requestCount.WithLabelValues("GET", "/admin/login", "200")); got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.sessionEvents.WithLabelValues("session_login")); got != 1 {
		t.Fatalf("expected 1 login event, got %v", got)
	}
	if got := testutil.ToFloat64(m.upstreamCalls.WithLabelValues("GET", UpstreamCredentialRejected)); got != 1 {
		t.Fatalf("expected 1 rejected upstream call, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordError("/", "GET", "X")
	m.RecordSessionEvent("x")
	m.RecordUpstream("GET", UpstreamOK)
	m.SetActiveSessions(3)
}
