// Package httputil provides shared helpers for JSON HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	svcerrors "github.com/impnet/service_layer/internal/errors"
	"github.com/impnet/service_layer/internal/logging"
)

// MaxBodyBytes bounds request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes a structured error body.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	body := ErrorBody{Error: ErrorDetail{Code: code, Message: message, Details: details}}
	if r != nil {
		body.Error.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, body)
}

// WriteServiceError writes err, mapping non-service errors to 500.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("internal error", err)
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// WriteError writes a plain error with a status-derived code.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteErrorResponse(w, nil, status, codeForStatus(status), message, nil)
}

func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "unauthorized"
	}
	WriteError(w, http.StatusUnauthorized, message)
}

func Forbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "forbidden"
	}
	WriteError(w, http.StatusForbidden, message)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}

// DecodeJSON decodes the request body into v, rejecting unknown fields and
// trailing data. On failure it writes a 400 and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			BadRequest(w, "request body required")
			return false
		}
		BadRequest(w, fmt.Sprintf("invalid JSON payload: %v", err))
		return false
	}
	if dec.More() {
		BadRequest(w, "unexpected data after JSON payload")
		return false
	}
	return true
}

// RequireUserID returns the authenticated caller or writes a 401.
func RequireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(logging.GetUserID(r.Context()))
	if userID == "" {
		Unauthorized(w, "")
		return "", false
	}
	return userID, true
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(svcerrors.CodeValidation)
	case http.StatusUnauthorized:
		return string(svcerrors.CodeUnauthorized)
	case http.StatusForbidden:
		return string(svcerrors.CodeForbidden)
	case http.StatusNotFound:
		return string(svcerrors.CodeNotFound)
	case http.StatusConflict:
		return string(svcerrors.CodeConflict)
	case http.StatusTooManyRequests:
		return string(svcerrors.CodeRateLimited)
	case http.StatusServiceUnavailable:
		return string(svcerrors.CodeUnavailable)
	default:
		return string(svcerrors.CodeInternal)
	}
}
