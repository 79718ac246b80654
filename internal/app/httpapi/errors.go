package httpapi

import (
	"errors"
	"net/http"

	"github.com/impnet/service_layer/internal/app/money"
	chatsvc "github.com/impnet/service_layer/internal/app/services/chat"
	"github.com/impnet/service_layer/internal/app/services/ledger"
	"github.com/impnet/service_layer/internal/app/services/payroll"
	svcerrors "github.com/impnet/service_layer/internal/errors"
	"github.com/impnet/service_layer/internal/httputil"
)

// toServiceError maps domain errors onto the HTTP error taxonomy. Errors it
// does not recognise become 500s.
func toServiceError(err error) *svcerrors.ServiceError {
	if se := svcerrors.GetServiceError(err); se != nil {
		return se
	}
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return svcerrors.New(svcerrors.CodeInsufficientBalance, http.StatusBadRequest, "Insufficient balance", err)
	case errors.Is(err, ledger.ErrAccountNotFound):
		return svcerrors.New(svcerrors.CodeAccountNotFound, http.StatusNotFound, "Account not found", err)
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, money.ErrTooPrecise),
		errors.Is(err, money.ErrOutOfRange),
		chatsvc.IsValidationError(err):
		return svcerrors.New(svcerrors.CodeValidation, http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, ledger.ErrConcurrentConflict):
		return svcerrors.New(svcerrors.CodeConcurrentConflict, http.StatusConflict, "Concurrent update, retry the request", err)
	case errors.Is(err, payroll.ErrRunInProgress):
		return svcerrors.New(svcerrors.CodeConflict, http.StatusConflict, "A payroll run is already in progress", err)
	case errors.Is(err, payroll.ErrRunCompleted):
		return svcerrors.New(svcerrors.CodeConflict, http.StatusConflict, "Payroll run already completed", err)
	case errors.Is(err, payroll.ErrRunExists):
		return svcerrors.New(svcerrors.CodeConflict, http.StatusConflict, "Payroll run already recorded", err)
	case errors.Is(err, payroll.ErrRunNotFound):
		return svcerrors.New(svcerrors.CodeNotFound, http.StatusNotFound, "Payroll run not found", err)
	default:
		return svcerrors.Internal("internal error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := toServiceError(err)
	if se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteServiceError(w, r, se)
}
