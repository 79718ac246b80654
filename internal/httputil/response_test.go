package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	svcerrors "github.com/impnet/service_layer/internal/errors"
	"github.com/impnet/service_layer/internal/logging"
)

func TestWriteServiceError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logging.WithTraceID(req.Context(), "trace-1"))
	rec := httptest.NewRecorder()

	WriteServiceError(rec, req, svcerrors.NotFound("account", "a1"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(svcerrors.CodeNotFound) {
		t.Fatalf("code = %q", body.Error.Code)
	}
	if body.Error.TraceID != "trace-1" {
		t.Fatalf("trace id = %q", body.Error.TraceID)
	}
	if body.Error.Details["id"] != "a1" {
		t.Fatalf("details = %v", body.Error.Details)
	}
}

func TestWriteServiceErrorPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), context.Canceled)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"name":"a"}`, true},
		{"empty", ``, false},
		{"unknown field", `{"name":"a","extra":1}`, false},
		{"trailing data", `{"name":"a"}{"name":"b"}`, false},
		{"malformed", `{"name":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			var p payload
			if got := DecodeJSON(rec, req, &p); got != tt.ok {
				t.Fatalf("DecodeJSON = %v, want %v", got, tt.ok)
			}
			if !tt.ok && rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
		})
	}
}

func TestRequireUserID(t *testing.T) {
	rec := httptest.NewRecorder()
	if _, ok := RequireUserID(rec, httptest.NewRequest(http.MethodGet, "/", nil)); ok {
		t.Fatal("expected missing user")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logging.WithUserID(req.Context(), "u1"))
	id, ok := RequireUserID(httptest.NewRecorder(), req)
	if !ok || id != "u1" {
		t.Fatalf("RequireUserID = %q, %v", id, ok)
	}
}
