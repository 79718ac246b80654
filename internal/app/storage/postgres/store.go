package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/impnet/service_layer/internal/app/domain/chat"
	"github.com/impnet/service_layer/internal/app/domain/ledger"
	"github.com/impnet/service_layer/internal/app/domain/payroll"
	"github.com/impnet/service_layer/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.PayrollStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

type accountRow struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Balance   int64     `db:"balance"`
	Salary    int64     `db:"salary"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r accountRow) toDomain() ledger.Account {
	return ledger.Account{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Balance:   r.Balance,
		Salary:    r.Salary,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type transactionRow struct {
	ID               string         `db:"id"`
	FromAccount      sql.NullString `db:"from_account"`
	ToAccount        string         `db:"to_account"`
	Amount           int64          `db:"amount"`
	Kind             string         `db:"kind"`
	Description      string         `db:"description"`
	Status           string         `db:"status"`
	IdempotencyKey   sql.NullString `db:"idempotency_key"`
	BalanceAfterFrom int64          `db:"balance_after_from"`
	BalanceAfterTo   int64          `db:"balance_after_to"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r transactionRow) toDomain() ledger.Transaction {
	return ledger.Transaction{
		ID:               r.ID,
		FromAccount:      r.FromAccount.String,
		ToAccount:        r.ToAccount,
		Amount:           r.Amount,
		Kind:             ledger.Kind(r.Kind),
		Description:      r.Description,
		Status:           ledger.Status(r.Status),
		IdempotencyKey:   r.IdempotencyKey.String,
		BalanceAfterFrom: r.BalanceAfterFrom,
		BalanceAfterTo:   r.BalanceAfterTo,
		CreatedAt:        r.CreatedAt,
	}
}

const accountColumns = `id, owner_id, balance, salary, version, created_at, updated_at`

const transactionColumns = `id, from_account, to_account, amount, kind, description, status,
	idempotency_key, balance_after_from, balance_after_to, created_at`

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account, opening *ledger.Transaction) (ledger.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.Version = 1

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_accounts (id, owner_id, balance, salary, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, acct.ID, acct.OwnerID, acct.Balance, acct.Salary, acct.Version, acct.CreatedAt, acct.UpdatedAt)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("account %s: %w", acct.ID, storage.ErrAlreadyExists)
		}
		if opening == nil {
			return nil
		}
		entry := *opening
		entry.ToAccount = acct.ID
		entry.BalanceAfterTo = acct.Balance
		_, err = insertTransaction(ctx, tx, entry, now)
		return err
	})
	if err != nil {
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
		}
		return ledger.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return s.selectAccounts(ctx, `SELECT `+accountColumns+` FROM ledger_accounts ORDER BY created_at, id`)
}

func (s *Store) ListSalariedAccounts(ctx context.Context) ([]ledger.Account, error) {
	return s.selectAccounts(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE salary > 0 ORDER BY created_at, id`)
}

func (s *Store) SetSalary(ctx context.Context, id string, salary int64) (ledger.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE ledger_accounts
		SET salary = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns, id, salary, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
		}
		return ledger.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) selectAccounts(ctx context.Context, query string) ([]ledger.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	result := make([]ledger.Account, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

// --- TransactionStore -------------------------------------------------------

func (s *Store) ApplyEntries(ctx context.Context, entries []ledger.Entry, txn ledger.Transaction) (ledger.Transaction, error) {
	now := time.Now().UTC()
	var stored ledger.Transaction
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, e := range entries {
			result, err := tx.ExecContext(ctx, `
				UPDATE ledger_accounts
				SET balance = $2, version = version + 1, updated_at = $3
				WHERE id = $1 AND version = $4
			`, e.AccountID, e.NewBalance, now, e.ExpectedVersion)
			if err != nil {
				return err
			}
			if rows, _ := result.RowsAffected(); rows == 0 {
				var exists bool
				if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM ledger_accounts WHERE id = $1)`, e.AccountID); err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("account %s: %w", e.AccountID, storage.ErrNotFound)
				}
				return fmt.Errorf("account %s expected version %d: %w", e.AccountID, e.ExpectedVersion, storage.ErrVersionConflict)
			}
			if e.AccountID == txn.FromAccount {
				txn.BalanceAfterFrom = e.NewBalance
			}
			if e.AccountID == txn.ToAccount {
				txn.BalanceAfterTo = e.NewBalance
			}
		}
		var err error
		stored, err = insertTransaction(ctx, tx, txn, now)
		return err
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return stored, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE from_account = $1 OR to_account = $1
		ORDER BY seq DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	result := make([]ledger.Transaction, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (s *Store) GetTransactionByKey(ctx context.Context, key string) (ledger.Transaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE idempotency_key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Transaction{}, fmt.Errorf("transaction key %s: %w", key, storage.ErrNotFound)
		}
		return ledger.Transaction{}, err
	}
	return row.toDomain(), nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, txn ledger.Transaction, now time.Time) (ledger.Transaction, error) {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.Status == "" {
		txn.Status = ledger.StatusCompleted
	}
	txn.CreatedAt = now

	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, from_account, to_account, amount, kind, description, status,
			idempotency_key, balance_after_from, balance_after_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, txn.ID, nullString(txn.FromAccount), txn.ToAccount, txn.Amount, string(txn.Kind), txn.Description,
		string(txn.Status), nullString(txn.IdempotencyKey), txn.BalanceAfterFrom, txn.BalanceAfterTo, txn.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && txn.IdempotencyKey != "" {
			return ledger.Transaction{}, fmt.Errorf("key %s: %w", txn.IdempotencyKey, storage.ErrDuplicateKey)
		}
		return ledger.Transaction{}, err
	}
	return txn, nil
}

// --- PayrollStore -----------------------------------------------------------

type runRow struct {
	ID          string       `db:"id"`
	Status      string       `db:"status"`
	TriggeredBy string       `db:"triggered_by"`
	Total       int          `db:"total"`
	Credited    int          `db:"credited"`
	Skipped     int          `db:"skipped"`
	Error       string       `db:"error"`
	StartedAt   time.Time    `db:"started_at"`
	FinishedAt  sql.NullTime `db:"finished_at"`
}

func (r runRow) toDomain() payroll.Run {
	return payroll.Run{
		ID:          r.ID,
		Status:      payroll.RunStatus(r.Status),
		TriggeredBy: r.TriggeredBy,
		Total:       r.Total,
		Credited:    r.Credited,
		Skipped:     r.Skipped,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt.Time,
	}
}

const runColumns = `id, status, triggered_by, total, credited, skipped, error, started_at, finished_at`

func (s *Store) CreateRun(ctx context.Context, run payroll.Run) (payroll.Run, error) {
	if run.ID == "" {
		run.ID = "run-" + uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_runs (id, status, triggered_by, total, credited, skipped, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, run.ID, string(run.Status), run.TriggeredBy, run.Total, run.Credited, run.Skipped, run.Error,
		run.StartedAt, nullTime(run.FinishedAt))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return payroll.Run{}, fmt.Errorf("payroll run %s: %w", run.ID, storage.ErrAlreadyExists)
		}
		return payroll.Run{}, err
	}
	return run, nil
}

func (s *Store) UpdateRun(ctx context.Context, run payroll.Run) (payroll.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE payroll_runs
		SET status = $2, total = $3, credited = $4, skipped = $5, error = $6, finished_at = $7
		WHERE id = $1
		RETURNING `+runColumns,
		run.ID, string(run.Status), run.Total, run.Credited, run.Skipped, run.Error, nullTime(run.FinishedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payroll.Run{}, fmt.Errorf("payroll run %s: %w", run.ID, storage.ErrNotFound)
		}
		return payroll.Run{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetRun(ctx context.Context, id string) (payroll.Run, error) {
	var row runRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM payroll_runs WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payroll.Run{}, fmt.Errorf("payroll run %s: %w", id, storage.ErrNotFound)
		}
		return payroll.Run{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]payroll.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+runColumns+` FROM payroll_runs ORDER BY started_at DESC LIMIT $1`, limit); err != nil {
		return nil, err
	}
	result := make([]payroll.Run, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

// --- ChatStore --------------------------------------------------------------

type messageRow struct {
	ID        string    `db:"id"`
	SenderID  string    `db:"sender_id"`
	Body      string    `db:"body"`
	Type      string    `db:"type"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, sender_id, body, type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.SenderID, msg.Body, string(msg.Type), msg.CreatedAt)
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, sender_id, body, type, created_at
		FROM chat_messages
		ORDER BY seq DESC
		LIMIT $1
	`, limit); err != nil {
		return nil, err
	}
	result := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		result = append(result, chat.Message{
			ID:        r.ID,
			SenderID:  r.SenderID,
			Body:      r.Body,
			Type:      chat.MessageType(r.Type),
			CreatedAt: r.CreatedAt,
		})
	}
	return result, nil
}

// --- helpers ----------------------------------------------------------------

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v time.Time) sql.NullTime {
	return sql.NullTime{Time: v, Valid: !v.IsZero()}
}
