package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/impnet/service_layer/internal/app/domain/chat"
	"github.com/impnet/service_layer/internal/app/domain/ledger"
	"github.com/impnet/service_layer/internal/app/domain/payroll"
	"github.com/impnet/service_layer/internal/app/storage"
)

func TestCreateAccountRecordsOpening(t *testing.T) {
	ctx := context.Background()
	store := New()

	acct, err := store.CreateAccount(ctx, ledger.Account{ID: "a", OwnerID: "a", Balance: 10000},
		&ledger.Transaction{Amount: 10000, Kind: ledger.KindSystem, Description: "starting grant"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if acct.Version != 1 {
		t.Fatalf("version = %d, want 1", acct.Version)
	}

	if _, err := store.CreateAccount(ctx, ledger.Account{ID: "a"}, nil); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate create err = %v", err)
	}

	txs, err := store.ListTransactions(ctx, "a", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 1 || txs[0].ToAccount != "a" || txs[0].BalanceAfterTo != 10000 {
		t.Fatalf("unexpected opening tx: %+v", txs)
	}
}

func TestApplyEntriesVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := New()
	mustCreate(t, store, "a", 100)
	mustCreate(t, store, "b", 100)

	tx := ledger.Transaction{FromAccount: "a", ToAccount: "b", Amount: 25, Kind: ledger.KindTransfer}
	entries := []ledger.Entry{
		{AccountID: "a", ExpectedVersion: 1, NewBalance: 75},
		{AccountID: "b", ExpectedVersion: 1, NewBalance: 125},
	}
	got, err := store.ApplyEntries(ctx, entries, tx)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.BalanceAfterFrom != 75 || got.BalanceAfterTo != 125 || got.Status != ledger.StatusCompleted {
		t.Fatalf("unexpected tx: %+v", got)
	}

	// stale versions leave both balances untouched
	if _, err := store.ApplyEntries(ctx, entries, tx); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("stale apply err = %v", err)
	}
	a, _ := store.GetAccount(ctx, "a")
	b, _ := store.GetAccount(ctx, "b")
	if a.Balance != 75 || b.Balance != 125 || a.Version != 2 || b.Version != 2 {
		t.Fatalf("balances changed after conflict: a=%+v b=%+v", a, b)
	}
}

func TestApplyEntriesDuplicateKey(t *testing.T) {
	ctx := context.Background()
	store := New()
	mustCreate(t, store, "a", 0)

	tx := ledger.Transaction{ToAccount: "a", Amount: 5, Kind: ledger.KindSalary, IdempotencyKey: "run-1:a"}
	if _, err := store.ApplyEntries(ctx, []ledger.Entry{{AccountID: "a", ExpectedVersion: 1, NewBalance: 5}}, tx); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err := store.ApplyEntries(ctx, []ledger.Entry{{AccountID: "a", ExpectedVersion: 2, NewBalance: 10}}, tx)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("duplicate apply err = %v", err)
	}
	if got, _ := store.GetTransactionByKey(ctx, "run-1:a"); got.Amount != 5 {
		t.Fatalf("lookup by key = %+v", got)
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := New()
	mustCreate(t, store, "a", 0)

	for i := int64(1); i <= 5; i++ {
		entry := ledger.Entry{AccountID: "a", ExpectedVersion: i, NewBalance: i}
		if _, err := store.ApplyEntries(ctx, []ledger.Entry{entry}, ledger.Transaction{ToAccount: "a", Amount: i, Kind: ledger.KindSystem}); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	txs, err := store.ListTransactions(ctx, "a", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("len = %d", len(txs))
	}
	for i, want := range []int64{5, 4, 3} {
		if txs[i].Amount != want {
			t.Fatalf("txs[%d].Amount = %d, want %d", i, txs[i].Amount, want)
		}
	}
}

func TestSalariedAccounts(t *testing.T) {
	ctx := context.Background()
	store := New()
	mustCreate(t, store, "a", 0)
	mustCreate(t, store, "b", 0)

	if _, err := store.SetSalary(ctx, "b", 500); err != nil {
		t.Fatalf("set salary: %v", err)
	}
	if _, err := store.SetSalary(ctx, "missing", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
	got, _ := store.ListSalariedAccounts(ctx)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("salaried = %+v", got)
	}
}

func TestRunsAndMessages(t *testing.T) {
	ctx := context.Background()
	store := New()

	run, err := store.CreateRun(ctx, payroll.Run{Status: payroll.RunRunning})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	run.Status = payroll.RunCompleted
	if _, err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}
	second, _ := store.CreateRun(ctx, payroll.Run{Status: payroll.RunRunning})
	runs, _ := store.ListRuns(ctx, 10)
	if len(runs) != 2 || runs[0].ID != second.ID || runs[1].Status != payroll.RunCompleted {
		t.Fatalf("runs = %+v", runs)
	}

	for _, body := range []string{"one", "two"} {
		if _, err := store.CreateMessage(ctx, chat.Message{SenderID: "a", Body: body, Type: chat.TypeText}); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	msgs, _ := store.ListMessages(ctx, 1)
	if len(msgs) != 1 || msgs[0].Body != "two" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func mustCreate(t *testing.T, store *Store, id string, balance int64) {
	t.Helper()
	if _, err := store.CreateAccount(context.Background(), ledger.Account{ID: id, OwnerID: id, Balance: balance}, nil); err != nil {
		t.Fatalf("create account %s: %v", id, err)
	}
}
