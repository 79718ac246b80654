package storage

import (
	"context"
	"errors"

	"github.com/impnet/service_layer/internal/app/domain/chat"
	"github.com/impnet/service_layer/internal/app/domain/ledger"
	"github.com/impnet/service_layer/internal/app/domain/payroll"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrVersionConflict is returned when a staged balance write was computed
	// from a stale account version.
	ErrVersionConflict = errors.New("account version conflict")
	// ErrDuplicateKey is returned when a transaction idempotency key was
	// already used.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)

// AccountStore persists ledger accounts. Balances are only written through
// TransactionStore.ApplyEntries.
type AccountStore interface {
	// CreateAccount inserts acct. When opening is non-nil it is recorded in the
	// same commit as the account row.
	CreateAccount(ctx context.Context, acct ledger.Account, opening *ledger.Transaction) (ledger.Account, error)
	GetAccount(ctx context.Context, id string) (ledger.Account, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	ListSalariedAccounts(ctx context.Context) ([]ledger.Account, error)
	SetSalary(ctx context.Context, id string, salary int64) (ledger.Account, error)
}

// TransactionStore is the append-only transaction log.
type TransactionStore interface {
	// ApplyEntries writes every entry and appends tx atomically. It fails with
	// ErrVersionConflict if any account moved past its expected version and
	// with ErrDuplicateKey if tx.IdempotencyKey was already recorded.
	ApplyEntries(ctx context.Context, entries []ledger.Entry, tx ledger.Transaction) (ledger.Transaction, error)
	// ListTransactions returns transactions involving accountID, newest first.
	ListTransactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error)
	GetTransactionByKey(ctx context.Context, key string) (ledger.Transaction, error)
}

// LedgerStore is the persistence required by the ledger engine.
type LedgerStore interface {
	AccountStore
	TransactionStore
}

// PayrollStore persists payroll runs.
type PayrollStore interface {
	CreateRun(ctx context.Context, run payroll.Run) (payroll.Run, error)
	UpdateRun(ctx context.Context, run payroll.Run) (payroll.Run, error)
	GetRun(ctx context.Context, id string) (payroll.Run, error)
	ListRuns(ctx context.Context, limit int) ([]payroll.Run, error)
}

// ChatStore persists chat messages.
type ChatStore interface {
	CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error)
	ListMessages(ctx context.Context, limit int) ([]chat.Message, error)
}
