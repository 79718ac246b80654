package ledger

import "time"

// Kind classifies a ledger transaction.
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindSalary   Kind = "salary"
	KindSystem   Kind = "system"
)

// Status of a ledger transaction. Transactions are only recorded once they
// have completed, so every stored row carries StatusCompleted.
type Status string

const StatusCompleted Status = "completed"

// Account holds a balance in minor currency units.
type Account struct {
	ID        string
	OwnerID   string
	Balance   int64
	Salary    int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Salaried reports whether the account is enrolled in payroll.
func (a Account) Salaried() bool { return a.Salary > 0 }

// Transaction is an immutable record of a completed movement of value.
// FromAccount is empty for credits issued by the system authority.
type Transaction struct {
	ID               string
	FromAccount      string
	ToAccount        string
	Amount           int64
	Kind             Kind
	Description      string
	Status           Status
	IdempotencyKey   string
	BalanceAfterFrom int64
	BalanceAfterTo   int64
	CreatedAt        time.Time
}

// Involves reports whether accountID is the sender or the receiver.
func (t Transaction) Involves(accountID string) bool {
	return t.FromAccount == accountID || t.ToAccount == accountID
}

// Entry is a single balance write staged by the ledger engine. The write
// succeeds only if the stored account still has ExpectedVersion.
type Entry struct {
	AccountID       string
	ExpectedVersion int64
	NewBalance      int64
}
