package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/impnet/service_layer/internal/app/domain/ledger"
	svcerrors "github.com/impnet/service_layer/internal/errors"
	"github.com/impnet/service_layer/internal/httputil"
	"github.com/impnet/service_layer/internal/middleware"
)

type transferRequest struct {
	ToAccount   string          `json:"to_account" validate:"required,max=128"`
	Amount      decimal.Decimal `json:"amount" validate:"positive_decimal"`
	Description string          `json:"description" validate:"max=256"`
}

type transactionView struct {
	ID          string    `json:"id"`
	FromAccount string    `json:"from_account,omitempty"`
	ToAccount   string    `json:"to_account"`
	Amount      string    `json:"amount"`
	AmountMinor int64     `json:"amount_minor"`
	Kind        string    `json:"kind"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type accountView struct {
	AccountID    string    `json:"account_id"`
	OwnerID      string    `json:"owner_id"`
	Balance      string    `json:"balance"`
	BalanceMinor int64     `json:"balance_minor"`
	Salary       string    `json:"salary"`
	Currency     string    `json:"currency,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type balanceView struct {
	AccountID    string `json:"account_id"`
	Balance      string `json:"balance"`
	BalanceMinor int64  `json:"balance_minor"`
	Currency     string `json:"currency,omitempty"`
}

type directoryEntry struct {
	AccountID string `json:"account_id"`
	OwnerID   string `json:"owner_id"`
}

func (h *handler) transactionView(tx ledger.Transaction) transactionView {
	return transactionView{
		ID:          tx.ID,
		FromAccount: tx.FromAccount,
		ToAccount:   tx.ToAccount,
		Amount:      h.codec.Format(tx.Amount),
		AmountMinor: tx.Amount,
		Kind:        string(tx.Kind),
		Description: tx.Description,
		Status:      string(tx.Status),
		CreatedAt:   tx.CreatedAt,
	}
}

func (h *handler) accountView(acct ledger.Account) accountView {
	return accountView{
		AccountID:    acct.ID,
		OwnerID:      acct.OwnerID,
		Balance:      h.codec.Format(acct.Balance),
		BalanceMinor: acct.Balance,
		Salary:       h.codec.Format(acct.Salary),
		Currency:     h.codec.Currency,
		CreatedAt:    acct.CreatedAt,
	}
}

// callerAccount opens the caller's account on first use.
func (h *handler) callerAccount(r *http.Request) (ledger.Account, bool, error) {
	return h.app.Ledger.EnsureAccount(r.Context(), middleware.GetUserID(r.Context()))
}

func (h *handler) openAccount(w http.ResponseWriter, r *http.Request) {
	acct, created, err := h.callerAccount(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, h.accountView(acct))
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	acct, _, err := h.callerAccount(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	balance, err := h.app.Ledger.GetBalance(r.Context(), acct.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balanceView{
		AccountID:    acct.ID,
		Balance:      h.codec.Format(balance),
		BalanceMinor: balance,
		Currency:     h.codec.Currency,
	})
}

func (h *handler) transactions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	acct, _, err := h.callerAccount(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	txs, err := h.app.Ledger.ListTransactions(r.Context(), acct.ID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, h.transactionView(tx))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.ToAccount = strings.TrimSpace(req.ToAccount)
	if err := validateRequest(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := h.codec.ToMinor(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	from, _, err := h.callerAccount(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tx, err := h.app.Ledger.Transfer(r.Context(), from.ID, req.ToAccount, amount, strings.TrimSpace(req.Description))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transaction": h.transactionView(tx)})
}

func (h *handler) users(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserID(r.Context())
	accounts, err := h.app.Ledger.ListAccounts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]directoryEntry, 0, len(accounts))
	for _, acct := range accounts {
		if acct.OwnerID == caller {
			continue
		}
		out = append(out, directoryEntry{AccountID: acct.ID, OwnerID: acct.OwnerID})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// parseLimit reads ?limit=; zero means the server default.
func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, svcerrors.InvalidFormat("limit", "non-negative integer")
	}
	return limit, nil
}
