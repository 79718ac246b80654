// Package ledger moves value between accounts. Every balance change happens
// under per-account locks and is committed together with its transaction
// record, so balances never go negative and transfers conserve the total.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	domain "github.com/impnet/service_layer/internal/app/domain/ledger"
	"github.com/impnet/service_layer/internal/app/metrics"
	"github.com/impnet/service_layer/internal/app/storage"
	"github.com/impnet/service_layer/pkg/logger"
)

const (
	// DefaultStartingGrant is credited to new accounts, in minor units.
	DefaultStartingGrant int64 = 10000
	// DefaultMaxRetries bounds optimistic commit attempts.
	DefaultMaxRetries = 3
	// MaxPageSize caps transaction listings.
	MaxPageSize = 100
)

// Publisher receives committed transactions. It is called while the account
// locks are still held so that notifications leave in commit order; it must
// not block on I/O.
type Publisher interface {
	PublishTransaction(tx domain.Transaction)
}

// Config tunes the engine.
type Config struct {
	StartingGrant int64
	MaxRetries    int
	PageLimit     int
}

// Engine applies transfers and credits.
type Engine struct {
	store     storage.LedgerStore
	locks     *lockTable
	publisher Publisher
	log       *logger.Logger
	cfg       Config
}

// New creates an engine. Zero config values take their defaults.
func New(store storage.LedgerStore, cfg Config, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if cfg.StartingGrant < 0 {
		cfg.StartingGrant = 0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PageLimit <= 0 || cfg.PageLimit > MaxPageSize {
		cfg.PageLimit = MaxPageSize
	}
	return &Engine{
		store: store,
		locks: newLockTable(),
		log:   log,
		cfg:   cfg,
	}
}

// AttachPublisher sets the sink for committed transactions. Call before the
// engine is shared.
func (e *Engine) AttachPublisher(p Publisher) {
	e.publisher = p
}

// EnsureAccount returns the account owned by ownerID, opening it with the
// starting grant on first use. created reports whether this call opened it.
func (e *Engine) EnsureAccount(ctx context.Context, ownerID string) (acct domain.Account, created bool, err error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Account{}, false, fmt.Errorf("%w: owner id required", ErrValidation)
	}

	if existing, err := e.store.GetAccount(ctx, ownerID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Account{}, false, fmt.Errorf("load account %s: %w", ownerID, err)
	}

	release := e.locks.acquire(ownerID)
	defer release()

	var opening *domain.Transaction
	if e.cfg.StartingGrant > 0 {
		opening = &domain.Transaction{
			Amount:         e.cfg.StartingGrant,
			Kind:           domain.KindSystem,
			Description:    "starting grant",
			IdempotencyKey: "grant:" + ownerID,
		}
	}
	acct, err = e.store.CreateAccount(ctx, domain.Account{
		ID:      ownerID,
		OwnerID: ownerID,
		Balance: e.cfg.StartingGrant,
	}, opening)
	switch {
	case err == nil:
		e.log.WithField("account_id", acct.ID).Infof("opened account with grant %d", acct.Balance)
		return acct, true, nil
	case errors.Is(err, storage.ErrAlreadyExists), errors.Is(err, storage.ErrDuplicateKey):
		existing, getErr := e.store.GetAccount(ctx, ownerID)
		if getErr != nil {
			return domain.Account{}, false, fmt.Errorf("load account %s: %w", ownerID, getErr)
		}
		return existing, false, nil
	default:
		return domain.Account{}, false, fmt.Errorf("open account %s: %w", ownerID, err)
	}
}

// GetAccount returns the account with id.
func (e *Engine) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	acct, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return domain.Account{}, mapStoreError(err, id)
	}
	return acct, nil
}

// GetBalance returns the committed balance of id. The store commits balance
// writes atomically, so a read after a successful Transfer observes it.
func (e *Engine) GetBalance(ctx context.Context, id string) (int64, error) {
	acct, err := e.GetAccount(ctx, id)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// ListAccounts returns every account, oldest first.
func (e *Engine) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return e.store.ListAccounts(ctx)
}

// ListSalariedAccounts returns accounts enrolled in payroll.
func (e *Engine) ListSalariedAccounts(ctx context.Context) ([]domain.Account, error) {
	return e.store.ListSalariedAccounts(ctx)
}

// SetSalary enrolls (salary > 0) or unenrolls (salary == 0) an account.
func (e *Engine) SetSalary(ctx context.Context, id string, salary int64) (domain.Account, error) {
	if salary < 0 {
		return domain.Account{}, fmt.Errorf("%w: salary cannot be negative", ErrValidation)
	}
	acct, err := e.store.SetSalary(ctx, id, salary)
	if err != nil {
		return domain.Account{}, mapStoreError(err, id)
	}
	e.log.WithField("account_id", id).Infof("salary set to %d", salary)
	return acct, nil
}

// ListTransactions returns up to limit transactions involving id, newest
// first. limit is clamped to the configured page size.
func (e *Engine) ListTransactions(ctx context.Context, id string, limit int) ([]domain.Transaction, error) {
	if _, err := e.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > e.cfg.PageLimit {
		limit = e.cfg.PageLimit
	}
	return e.store.ListTransactions(ctx, id, limit)
}

// Transfer moves amount from fromID to toID. Debit, credit and the
// transaction record commit together or not at all.
func (e *Engine) Transfer(ctx context.Context, fromID, toID string, amount int64, description string) (tx domain.Transaction, err error) {
	start := time.Now()
	defer func() { metrics.RecordLedgerOperation("transfer", outcome(err), time.Since(start)) }()

	fromID = strings.TrimSpace(fromID)
	toID = strings.TrimSpace(toID)
	switch {
	case fromID == "" || toID == "":
		return domain.Transaction{}, fmt.Errorf("%w: sender and receiver are required", ErrValidation)
	case amount <= 0:
		return domain.Transaction{}, ErrInvalidAmount
	case fromID == toID:
		return domain.Transaction{}, ErrSelfTransfer
	}

	release := e.locks.acquire(fromID, toID)
	defer release()

	return e.commit(ctx, func() ([]domain.Entry, domain.Transaction, error) {
		from, err := e.store.GetAccount(ctx, fromID)
		if err != nil {
			return nil, domain.Transaction{}, mapStoreError(err, fromID)
		}
		to, err := e.store.GetAccount(ctx, toID)
		if err != nil {
			return nil, domain.Transaction{}, mapStoreError(err, toID)
		}
		if from.Balance < amount {
			return nil, domain.Transaction{}, fmt.Errorf("%w: available %d, requested %d", ErrInsufficientBalance, from.Balance, amount)
		}
		if to.Balance > math.MaxInt64-amount {
			return nil, domain.Transaction{}, fmt.Errorf("%w: receiver balance would overflow", ErrValidation)
		}
		entries := []domain.Entry{
			{AccountID: from.ID, ExpectedVersion: from.Version, NewBalance: from.Balance - amount},
			{AccountID: to.ID, ExpectedVersion: to.Version, NewBalance: to.Balance + amount},
		}
		return entries, domain.Transaction{
			FromAccount: from.ID,
			ToAccount:   to.ID,
			Amount:      amount,
			Kind:        domain.KindTransfer,
			Description: strings.TrimSpace(description),
		}, nil
	})
}

// CreditSalary credits amount to accountID from the system authority. A
// non-empty idempotencyKey makes the credit apply at most once; a repeat
// returns the original transaction together with ErrAlreadyApplied.
func (e *Engine) CreditSalary(ctx context.Context, accountID string, amount int64, idempotencyKey string) (tx domain.Transaction, err error) {
	start := time.Now()
	defer func() { metrics.RecordLedgerOperation("salary", outcome(err), time.Since(start)) }()

	if amount <= 0 {
		return domain.Transaction{}, ErrInvalidAmount
	}

	release := e.locks.acquire(accountID)
	defer release()

	if idempotencyKey != "" {
		if existing, err := e.store.GetTransactionByKey(ctx, idempotencyKey); err == nil {
			return existing, ErrAlreadyApplied
		} else if !errors.Is(err, storage.ErrNotFound) {
			return domain.Transaction{}, fmt.Errorf("lookup key %s: %w", idempotencyKey, err)
		}
	}

	tx, err = e.commit(ctx, func() ([]domain.Entry, domain.Transaction, error) {
		acct, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, domain.Transaction{}, mapStoreError(err, accountID)
		}
		if acct.Balance > math.MaxInt64-amount {
			return nil, domain.Transaction{}, fmt.Errorf("%w: balance would overflow", ErrValidation)
		}
		return []domain.Entry{{AccountID: acct.ID, ExpectedVersion: acct.Version, NewBalance: acct.Balance + amount}},
			domain.Transaction{
				ToAccount:      acct.ID,
				Amount:         amount,
				Kind:           domain.KindSalary,
				Description:    "salary",
				IdempotencyKey: idempotencyKey,
			}, nil
	})
	if errors.Is(err, storage.ErrDuplicateKey) {
		existing, getErr := e.store.GetTransactionByKey(ctx, idempotencyKey)
		if getErr != nil {
			return domain.Transaction{}, ErrAlreadyApplied
		}
		return existing, ErrAlreadyApplied
	}
	return tx, err
}

// commit stages entries with build and writes them, rebuilding after a version
// conflict up to MaxRetries times. Callers hold the account locks.
func (e *Engine) commit(ctx context.Context, build func() ([]domain.Entry, domain.Transaction, error)) (domain.Transaction, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Transaction{}, err
		}
		entries, pending, err := build()
		if err != nil {
			return domain.Transaction{}, err
		}

		stored, err := e.store.ApplyEntries(ctx, entries, pending)
		switch {
		case err == nil:
			e.publish(stored)
			return stored, nil
		case errors.Is(err, storage.ErrVersionConflict):
			metrics.RecordVersionConflict()
			if attempt >= e.cfg.MaxRetries {
				e.log.WithError(err).Warnf("giving up after %d attempts", attempt)
				return domain.Transaction{}, fmt.Errorf("%w: %d attempts", ErrConcurrentConflict, attempt)
			}
		case errors.Is(err, storage.ErrNotFound):
			return domain.Transaction{}, fmt.Errorf("%w: %v", ErrAccountNotFound, err)
		case errors.Is(err, storage.ErrDuplicateKey):
			return domain.Transaction{}, err
		default:
			return domain.Transaction{}, fmt.Errorf("commit ledger entries: %w", err)
		}
	}
}

func (e *Engine) publish(tx domain.Transaction) {
	if e.publisher == nil {
		return
	}
	e.publisher.PublishTransaction(tx)
}

func mapStoreError(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrentConflict):
		return "conflict"
	case errors.Is(err, ErrAlreadyApplied):
		return "duplicate"
	default:
		return "error"
	}
}
