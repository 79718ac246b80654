package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/impnet/service_layer/internal/app/authz"
	"github.com/impnet/service_layer/internal/config"
	"github.com/impnet/service_layer/internal/logging"
)

func TestRequireUserID(t *testing.T) {
	handler := RequireUserID(okHandler())

	tests := []struct {
		name       string
		ctx        context.Context
		wantStatus int
	}{
		{"with user ID", logging.WithUserID(context.Background(), "user-123"), http.StatusOK},
		{"without user ID", context.Background(), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/banking/balance", nil).WithContext(tt.ctx)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	policy := authz.NewRolePolicy(config.DefaultRoles())
	logger := logging.New("test", "info", "json")
	handler := RequirePermission(policy, authz.PermBankOperations, logger)(okHandler())

	tests := []struct {
		name       string
		user       string
		role       string
		wantStatus int
	}{
		{"bank employee", "u1", "bank_employee", http.StatusOK},
		{"super admin", "u2", "super_admin", http.StatusOK},
		{"citizen", "u3", "citizen", http.StatusForbidden},
		{"anonymous", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.user != "" {
				ctx = logging.WithRole(logging.WithUserID(ctx, tt.user), tt.role)
			}
			req := httptest.NewRequest("POST", "/admin/pay-salaries", nil).WithContext(ctx)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	cors := NewCORSMiddleware([]string{"https://app.example.com/"})
	handler := cors.Handler(okHandler())

	req := httptest.NewRequest("OPTIONS", "/banking/transfer", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest("GET", "/banking/balance", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin was allowed")
	}

	if cors.CheckOrigin(req) {
		t.Error("websocket origin check accepted unlisted origin")
	}
	if !cors.CheckOrigin(httptest.NewRequest("GET", "/ws", nil)) {
		t.Error("websocket origin check rejected request without Origin")
	}
	if !NewCORSMiddleware([]string{"*"}).Allowed("https://anything.test") {
		t.Error("wildcard did not allow origin")
	}
}

func TestRateLimiter(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := NewRateLimiter(1, 2, logger)
	handler := rl.Handler(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/banking/balance", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	// another caller has its own bucket
	req := httptest.NewRequest("GET", "/banking/balance", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("second caller status = %d", rec.Code)
	}

	if removed := rl.Cleanup(time.Now().Add(time.Hour)); removed != 2 {
		t.Errorf("Cleanup removed %d, want 2", removed)
	}
}

func TestTracingAndMetricsMiddleware(t *testing.T) {
	logger := logging.New("test", "info", "json")
	router := mux.NewRouter()
	router.Use(NewTracingMiddleware(logger).Handler, MetricsMiddleware)

	var traceID string
	router.HandleFunc("/banking/balance", func(w http.ResponseWriter, r *http.Request) {
		traceID = logging.GetTraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest("GET", "/banking/balance", nil)
	req.Header.Set(TraceHeader, "trace-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
	if traceID != "trace-1" || rec.Header().Get(TraceHeader) != "trace-1" {
		t.Errorf("trace id = %q header = %q", traceID, rec.Header().Get(TraceHeader))
	}

	req = httptest.NewRequest("GET", "/banking/balance", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Header().Get(TraceHeader) == "" {
		t.Error("trace id not generated")
	}
}
