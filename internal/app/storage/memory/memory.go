package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/impnet/service_layer/internal/app/domain/chat"
	"github.com/impnet/service_layer/internal/app/domain/ledger"
	"github.com/impnet/service_layer/internal/app/domain/payroll"
	"github.com/impnet/service_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	accounts     map[string]ledger.Account
	transactions []ledger.Transaction
	txByAccount  map[string][]int
	txByKey      map[string]int
	runs         map[string]payroll.Run
	runOrder     []string
	messages     []chat.Message
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.PayrollStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		accounts:    make(map[string]ledger.Account),
		txByAccount: make(map[string][]int),
		txByKey:     make(map[string]int),
		runs:        make(map[string]payroll.Run),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct ledger.Account, opening *ledger.Transaction) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return ledger.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrAlreadyExists)
	}
	if opening != nil && opening.IdempotencyKey != "" {
		if _, dup := s.txByKey[opening.IdempotencyKey]; dup {
			return ledger.Account{}, fmt.Errorf("key %s: %w", opening.IdempotencyKey, storage.ErrDuplicateKey)
		}
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.Version = 1
	s.accounts[acct.ID] = acct

	if opening != nil {
		tx := *opening
		tx.ToAccount = acct.ID
		tx.BalanceAfterTo = acct.Balance
		s.appendLocked(tx, now)
	}
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, acct)
	}
	sortAccounts(result)
	return result, nil
}

func (s *Store) ListSalariedAccounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ledger.Account
	for _, acct := range s.accounts {
		if acct.Salaried() {
			result = append(result, acct)
		}
	}
	sortAccounts(result)
	return result, nil
}

func (s *Store) SetSalary(_ context.Context, id string, salary int64) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	acct.Salary = salary
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[id] = acct
	return acct, nil
}

// TransactionStore implementation ---------------------------------------------

func (s *Store) ApplyEntries(_ context.Context, entries []ledger.Entry, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.IdempotencyKey != "" {
		if _, dup := s.txByKey[tx.IdempotencyKey]; dup {
			return ledger.Transaction{}, fmt.Errorf("key %s: %w", tx.IdempotencyKey, storage.ErrDuplicateKey)
		}
	}
	for _, e := range entries {
		acct, ok := s.accounts[e.AccountID]
		if !ok {
			return ledger.Transaction{}, fmt.Errorf("account %s: %w", e.AccountID, storage.ErrNotFound)
		}
		if acct.Version != e.ExpectedVersion {
			return ledger.Transaction{}, fmt.Errorf("account %s at version %d, expected %d: %w",
				e.AccountID, acct.Version, e.ExpectedVersion, storage.ErrVersionConflict)
		}
	}

	now := time.Now().UTC()
	for _, e := range entries {
		acct := s.accounts[e.AccountID]
		acct.Balance = e.NewBalance
		acct.Version++
		acct.UpdatedAt = now
		s.accounts[e.AccountID] = acct
		if e.AccountID == tx.FromAccount {
			tx.BalanceAfterFrom = e.NewBalance
		}
		if e.AccountID == tx.ToAccount {
			tx.BalanceAfterTo = e.NewBalance
		}
	}
	return s.appendLocked(tx, now), nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.txByAccount[accountID]
	if limit <= 0 || limit > len(idx) {
		limit = len(idx)
	}
	result := make([]ledger.Transaction, 0, limit)
	for i := len(idx) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.transactions[idx[i]])
	}
	return result, nil
}

func (s *Store) GetTransactionByKey(_ context.Context, key string) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.txByKey[key]
	if !ok {
		return ledger.Transaction{}, fmt.Errorf("transaction key %s: %w", key, storage.ErrNotFound)
	}
	return s.transactions[i], nil
}

func (s *Store) appendLocked(tx ledger.Transaction, now time.Time) ledger.Transaction {
	if tx.ID == "" {
		tx.ID = s.nextIDLocked()
	}
	if tx.Status == "" {
		tx.Status = ledger.StatusCompleted
	}
	tx.CreatedAt = now

	pos := len(s.transactions)
	s.transactions = append(s.transactions, tx)
	if tx.FromAccount != "" {
		s.txByAccount[tx.FromAccount] = append(s.txByAccount[tx.FromAccount], pos)
	}
	if tx.ToAccount != "" && tx.ToAccount != tx.FromAccount {
		s.txByAccount[tx.ToAccount] = append(s.txByAccount[tx.ToAccount], pos)
	}
	if tx.IdempotencyKey != "" {
		s.txByKey[tx.IdempotencyKey] = pos
	}
	return tx
}

// PayrollStore implementation -------------------------------------------------

func (s *Store) CreateRun(_ context.Context, run payroll.Run) (payroll.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = "run-" + s.nextIDLocked()
	} else if _, exists := s.runs[run.ID]; exists {
		return payroll.Run{}, fmt.Errorf("payroll run %s: %w", run.ID, storage.ErrAlreadyExists)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	s.runs[run.ID] = run
	s.runOrder = append(s.runOrder, run.ID)
	return run, nil
}

func (s *Store) UpdateRun(_ context.Context, run payroll.Run) (payroll.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.runs[run.ID]
	if !ok {
		return payroll.Run{}, fmt.Errorf("payroll run %s: %w", run.ID, storage.ErrNotFound)
	}
	run.StartedAt = original.StartedAt
	s.runs[run.ID] = run
	return run, nil
}

func (s *Store) GetRun(_ context.Context, id string) (payroll.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return payroll.Run{}, fmt.Errorf("payroll run %s: %w", id, storage.ErrNotFound)
	}
	return run, nil
}

func (s *Store) ListRuns(_ context.Context, limit int) ([]payroll.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.runOrder) {
		limit = len(s.runOrder)
	}
	result := make([]payroll.Run, 0, limit)
	for i := len(s.runOrder) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.runs[s.runOrder[i]])
	}
	return result, nil
}

// ChatStore implementation ----------------------------------------------------

func (s *Store) CreateMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = s.nextIDLocked()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *Store) ListMessages(_ context.Context, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.messages) {
		limit = len(s.messages)
	}
	result := make([]chat.Message, 0, limit)
	for i := len(s.messages) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.messages[i])
	}
	return result, nil
}

func sortAccounts(accts []ledger.Account) {
	sort.Slice(accts, func(i, j int) bool {
		if accts[i].CreatedAt.Equal(accts[j].CreatedAt) {
			return accts[i].ID < accts[j].ID
		}
		return accts[i].CreatedAt.Before(accts[j].CreatedAt)
	})
}
