package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	app "github.com/impnet/service_layer/internal/app"
	"github.com/impnet/service_layer/internal/app/authz"
	"github.com/impnet/service_layer/internal/app/metrics"
	"github.com/impnet/service_layer/internal/app/money"
	"github.com/impnet/service_layer/internal/config"
	"github.com/impnet/service_layer/internal/httputil"
	"github.com/impnet/service_layer/internal/logging"
	"github.com/impnet/service_layer/internal/middleware"
)

// Options configures NewHandler. Nil fields fall back to defaults: the
// built-in role policy, a 200 entry audit log without a sink and no
// WebSocket endpoint.
type Options struct {
	Policy   authz.Policy
	Audit    *AuditLog
	Realtime http.Handler
	Logger   *logging.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app     *app.Application
	policy  authz.Policy
	audit   *AuditLog
	log     *logging.Logger
	codec   money.Codec
	started time.Time
}

// NewHandler returns a router exposing the banking, admin and chat API. It
// expects the auth middleware to have put the caller into the request
// context.
func NewHandler(application *app.Application, opts Options) http.Handler {
	if opts.Policy == nil {
		opts.Policy = authz.NewRolePolicy(config.DefaultRoles())
	}
	if opts.Audit == nil {
		opts.Audit = NewAuditLog(0, nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("httpapi", "info", "json")
	}
	h := &handler{
		app:     application,
		policy:  opts.Policy,
		audit:   opts.Audit,
		log:     opts.Logger,
		codec:   application.Codec,
		started: time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/system/status", middleware.RequireUserID(http.HandlerFunc(h.systemStatus))).Methods(http.MethodGet)
	if opts.Realtime != nil {
		r.Handle("/ws", opts.Realtime).Methods(http.MethodGet)
	}

	banking := r.PathPrefix("/banking").Subrouter()
	banking.Use(middleware.RequireUserID)
	banking.HandleFunc("/accounts", h.openAccount).Methods(http.MethodPost)
	banking.HandleFunc("/balance", h.balance).Methods(http.MethodGet)
	banking.HandleFunc("/transactions", h.transactions).Methods(http.MethodGet)
	banking.HandleFunc("/transfer", h.transfer).Methods(http.MethodPost)
	banking.HandleFunc("/users", h.users).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(h.audit.Middleware, middleware.RequirePermission(h.policy, authz.PermBankOperations, h.log))
	admin.HandleFunc("/set-salary", h.setSalary).Methods(http.MethodPost)
	admin.HandleFunc("/pay-salaries", h.paySalaries).Methods(http.MethodPost)
	admin.HandleFunc("/payroll/runs", h.listRuns).Methods(http.MethodGet)
	admin.HandleFunc("/payroll/runs/{id}", h.getRun).Methods(http.MethodGet)
	admin.HandleFunc("/payroll/runs/{id}/resume", h.resumeRun).Methods(http.MethodPost)
	admin.HandleFunc("/audit", h.auditTrail).Methods(http.MethodGet)
	if catalog, ok := h.policy.(authz.Catalog); ok {
		admin.HandleFunc("/roles", listRoles(catalog)).Methods(http.MethodGet)
	}

	chat := r.PathPrefix("/chat").Subrouter()
	chat.Use(middleware.RequireUserID)
	chat.HandleFunc("/message", h.postMessage).Methods(http.MethodPost)
	chat.HandleFunc("/messages", h.listMessages).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": h.app.Services(),
	})
}

type systemStatus struct {
	Uptime          string   `json:"uptime"`
	Services        []string `json:"services"`
	Connections     int      `json:"connections"`
	PendingEvents   int      `json:"pending_events"`
	RelayBacklog    int      `json:"relay_backlog"`
	Goroutines      int      `json:"goroutines"`
	CPUPercent      float64  `json:"cpu_percent"`
	MemoryUsedPct   float64  `json:"memory_used_percent"`
	MemoryTotal     uint64   `json:"memory_total_bytes"`
	NextPayroll     string   `json:"next_payroll,omitempty"`
	PayrollSchedule bool     `json:"payroll_scheduled"`
}

func (h *handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	status := systemStatus{
		Uptime:        time.Since(h.started).Truncate(time.Second).String(),
		Services:      h.app.Services(),
		Connections:   h.app.Registry.Len(),
		PendingEvents: h.app.Distributor.Pending(),
		RelayBacklog:  h.app.Distributor.RelayBacklog(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if next := h.app.Scheduler.Next(); !next.IsZero() {
		status.NextPayroll = next.UTC().Format(time.RFC3339)
		status.PayrollSchedule = true
	}

	// host stats are best effort; containers without /proc report zeros
	if pct, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(pct) > 0 {
		status.CPUPercent = pct[0]
	} else if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Debug("read cpu stats")
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		status.MemoryUsedPct = vm.UsedPercent
		status.MemoryTotal = vm.Total
	} else {
		h.log.WithContext(r.Context()).WithError(err).Debug("read memory stats")
	}

	httputil.WriteJSON(w, http.StatusOK, status)
}
