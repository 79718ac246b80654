// Package logging provides request-scoped structured logging for the HTTP
// surface: trace ids, caller identity and security events.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

// Context keys populated by the middleware chain.
const (
	TraceIDKey contextKey = "trace_id"
	UserIDKey  contextKey = "user_id"
	RoleKey    contextKey = "role"
)

// Logger is a zap logger bound to a service name.
type Logger struct {
	base    *zap.Logger
	service string
}

// New creates a logger. format is "json" or "console"; level is any zap level
// name and defaults to info.
func New(service, level, format string) *Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "console") || strings.EqualFold(format, "text") {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl)
	return &Logger{
		base:    zap.New(core).With(zap.String("service", service)),
		service: service,
	}
}

// NewWithCore builds a logger on an existing zap core. Used by tests that need
// to observe output.
func NewWithCore(service string, core zapcore.Core) *Logger {
	return &Logger{base: zap.New(core).With(zap.String("service", service)), service: service}
}

// Service returns the service name attached to every entry.
func (l *Logger) Service() string { return l.service }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.base.Sync() }

// WithContext returns an entry carrying the trace, user and role found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Entry {
	fields := make([]zap.Field, 0, 3)
	if v := GetTraceID(ctx); v != "" {
		fields = append(fields, zap.String("trace_id", v))
	}
	if v := GetUserID(ctx); v != "" {
		fields = append(fields, zap.String("user_id", v))
	}
	if v := GetRole(ctx); v != "" {
		fields = append(fields, zap.String("role", v))
	}
	return &Entry{log: l.base.With(fields...)}
}

// LogRequest records a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request completed")
	case status >= 400:
		entry.Warn("request completed")
	default:
		entry.Info("request completed")
	}
}

// LogSecurityEvent records an authentication or authorization event.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithField("security_event", event).WithFields(fields).Warn("security event")
}

// Entry is an accumulating set of fields.
type Entry struct {
	log *zap.Logger
}

// WithError attaches err.
func (e *Entry) WithError(err error) *Entry {
	if err == nil {
		return e
	}
	return &Entry{log: e.log.With(zap.Error(err))}
}

// WithField attaches one field.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{log: e.log.With(zap.Any(key, value))}
}

// WithFields attaches several fields.
func (e *Entry) WithFields(fields map[string]interface{}) *Entry {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return &Entry{log: e.log.With(zf...)}
}

func (e *Entry) Debug(msg string) { e.log.Debug(msg) }
func (e *Entry) Info(msg string)  { e.log.Info(msg) }
func (e *Entry) Warn(msg string)  { e.log.Warn(msg) }
func (e *Entry) Error(msg string) { e.log.Error(msg) }

// NewTraceID returns a fresh trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace id in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace id from ctx or "".
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// WithUserID stores the caller identity in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the caller identity from ctx or "".
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

// WithRole stores the caller role in ctx.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

// GetRole returns the caller role from ctx or "".
func GetRole(ctx context.Context) string {
	return stringValue(ctx, RoleKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
