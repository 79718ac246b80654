package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/banking/balance", "/banking/balance"},
		{"/admin/payroll/runs/run-1/resume", "/admin/payroll"},
	}
	for _, tt := range tests {
		if got := CanonicalPath(tt.in); got != tt.want {
			t.Errorf("CanonicalPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLedgerCounters(t *testing.T) {
	before := testutil.ToFloat64(ledgerOperations.WithLabelValues("transfer", "ok"))
	RecordLedgerOperation("transfer", "ok", time.Millisecond)
	after := testutil.ToFloat64(ledgerOperations.WithLabelValues("transfer", "ok"))
	if after-before != 1 {
		t.Fatalf("transfer counter delta = %v", after-before)
	}

	SetRealtimeConnections(3)
	if got := testutil.ToFloat64(realtimeConnections); got != 3 {
		t.Fatalf("connections gauge = %v", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	RecordPayrollRun("completed")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "service_layer_payroll_runs_total") {
		t.Fatal("payroll run counter missing from exposition")
	}
}

func TestRelayPublishCounter(t *testing.T) {
	before := testutil.ToFloat64(relayPublishes.WithLabelValues("dropped"))
	RecordRelayPublish("dropped")
	if got := testutil.ToFloat64(relayPublishes.WithLabelValues("dropped")) - before; got != 1 {
		t.Fatalf("dropped delta = %v", got)
	}
}
