package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/impnet/service_layer/internal/app/authz"
	"github.com/impnet/service_layer/internal/app/domain/payroll"
	"github.com/impnet/service_layer/internal/httputil"
	"github.com/impnet/service_layer/internal/middleware"
)

type setSalaryRequest struct {
	AccountID string          `json:"account_id" validate:"required,max=128"`
	Salary    decimal.Decimal `json:"salary" validate:"nonnegative_decimal"`
}

type runView struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	TriggeredBy string     `json:"triggered_by,omitempty"`
	Total       int        `json:"total"`
	Credited    int        `json:"credited"`
	Skipped     int        `json:"skipped"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func newRunView(run payroll.Run) runView {
	view := runView{
		ID:          run.ID,
		Status:      string(run.Status),
		TriggeredBy: run.TriggeredBy,
		Total:       run.Total,
		Credited:    run.Credited,
		Skipped:     run.Skipped,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		view.FinishedAt = &finished
	}
	return view
}

func (h *handler) setSalary(w http.ResponseWriter, r *http.Request) {
	var req setSalaryRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.AccountID = strings.TrimSpace(req.AccountID)
	if err := validateRequest(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	salary, err := h.codec.ToMinor(req.Salary)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	acct, err := h.app.Ledger.SetSalary(r.Context(), req.AccountID, salary)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.accountView(acct))
}

// paySalaries runs payroll synchronously and reports how many accounts were
// credited. A failed run keeps its id in the error details so it can be
// resumed.
func (h *handler) paySalaries(w http.ResponseWriter, r *http.Request) {
	run, err := h.app.Payroll.Run(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeRunError(w, r, run, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"count": run.Credited,
		"run":   newRunView(run),
	})
}

func (h *handler) resumeRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.app.Payroll.Resume(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeRunError(w, r, run, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"count": run.Credited,
		"run":   newRunView(run),
	})
}

func (h *handler) writeRunError(w http.ResponseWriter, r *http.Request, run payroll.Run, err error) {
	se := toServiceError(err)
	if run.ID != "" {
		se = se.WithDetails("run_id", run.ID)
	}
	h.writeError(w, r, se)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.app.Payroll.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newRunView(run))
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	runs, err := h.app.Payroll.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunView(run))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.audit.List(limit))
}

type roleView struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// listRoles reports every configured role with its permissions, sorted by
// role name.
func listRoles(catalog authz.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roles := catalog.Roles()
		out := make([]roleView, 0, len(roles))
		for _, role := range roles {
			out = append(out, roleView{Name: role, Permissions: catalog.Permissions(role)})
		}
		httputil.WriteJSON(w, http.StatusOK, out)
	}
}
