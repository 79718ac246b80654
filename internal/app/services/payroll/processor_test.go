package payroll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/impnet/service_layer/internal/app/domain/ledger"
	"github.com/impnet/service_layer/internal/app/domain/payroll"
	"github.com/impnet/service_layer/internal/app/services/ledger"
	"github.com/impnet/service_layer/internal/app/storage/memory"
	"github.com/impnet/service_layer/pkg/logger"
)

type fixture struct {
	store  *memory.Store
	engine *ledger.Engine
}

func newFixture(t *testing.T, salaries map[string]int64) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	engine := ledger.New(store, ledger.Config{}, logger.NewDiscard())
	for id, salary := range salaries {
		_, err := store.CreateAccount(ctx, domain.Account{ID: id, OwnerID: id}, nil)
		require.NoError(t, err)
		_, err = engine.SetSalary(ctx, id, salary)
		require.NoError(t, err)
	}
	return fixture{store: store, engine: engine}
}

func (f fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	b, err := f.engine.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

// crashingLedger fails every credit after the first `after` calls.
type crashingLedger struct {
	*ledger.Engine
	mu    sync.Mutex
	after int
	calls int
}

func (c *crashingLedger) CreditSalary(ctx context.Context, accountID string, amount int64, key string) (domain.Transaction, error) {
	c.mu.Lock()
	c.calls++
	crash := c.calls > c.after
	c.mu.Unlock()
	if crash {
		return domain.Transaction{}, errors.New("connection reset")
	}
	return c.Engine.CreditSalary(ctx, accountID, amount, key)
}

func TestRunCreditsSalariedAccounts(t *testing.T) {
	f := newFixture(t, map[string]int64{"a": 1000, "b": 2500, "c": 0})
	p := New(f.engine, f.store, nil, logger.NewDiscard())

	run, err := p.Run(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, payroll.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Total)
	assert.Equal(t, 2, run.Credited)
	assert.Equal(t, 0, run.Skipped)
	assert.False(t, run.FinishedAt.IsZero())

	assert.Equal(t, int64(1000), f.balance(t, "a"))
	assert.Equal(t, int64(2500), f.balance(t, "b"))
	assert.Equal(t, int64(0), f.balance(t, "c"))

	txs, err := f.engine.ListTransactions(context.Background(), "a", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.KindSalary, txs[0].Kind)
	assert.Equal(t, payroll.CreditKey(run.ID, "a"), txs[0].IdempotencyKey)

	// a second run is a new pay period
	second, err := p.Run(context.Background(), "admin")
	require.NoError(t, err)
	assert.NotEqual(t, run.ID, second.ID)
	assert.Equal(t, int64(2000), f.balance(t, "a"))
}

func TestResumeAfterFailureCreditsEachAccountOnce(t *testing.T) {
	salaries := map[string]int64{"a": 100, "b": 200, "c": 300, "d": 400}
	f := newFixture(t, salaries)
	ctx := context.Background()

	crashing := &crashingLedger{Engine: f.engine, after: 2}
	failing := New(crashing, f.store, nil, logger.NewDiscard())

	run, err := failing.Run(ctx, "admin")
	require.Error(t, err)
	assert.Equal(t, payroll.RunFailed, run.Status)
	assert.Contains(t, run.Error, "connection reset")
	assert.Equal(t, 2, run.Credited)

	stored, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.RunFailed, stored.Status)

	healthy := New(f.engine, f.store, nil, logger.NewDiscard())
	resumed, err := healthy.Resume(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, resumed.ID)
	assert.Equal(t, payroll.RunCompleted, resumed.Status)
	assert.Equal(t, 4, resumed.Credited)
	assert.Equal(t, 2, resumed.Skipped)
	assert.Empty(t, resumed.Error)

	for id, salary := range salaries {
		assert.Equal(t, salary, f.balance(t, id), "account %s", id)
	}

	_, err = healthy.Resume(ctx, run.ID)
	require.ErrorIs(t, err, ErrRunCompleted)
}

func TestResumeInterruptedRun(t *testing.T) {
	f := newFixture(t, map[string]int64{"a": 100, "b": 200})
	ctx := context.Background()

	// a process died after crediting "a" and before marking the run finished
	run, err := f.store.CreateRun(ctx, payroll.Run{Status: payroll.RunRunning, TriggeredBy: "admin"})
	require.NoError(t, err)
	_, err = f.engine.CreditSalary(ctx, "a", 100, payroll.CreditKey(run.ID, "a"))
	require.NoError(t, err)

	p := New(f.engine, f.store, nil, logger.NewDiscard())
	resumed, err := p.Resume(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed.Skipped)
	assert.Equal(t, int64(100), f.balance(t, "a"))
	assert.Equal(t, int64(200), f.balance(t, "b"))
}

func TestResumeUnknownRun(t *testing.T) {
	f := newFixture(t, nil)
	p := New(f.engine, f.store, nil, logger.NewDiscard())

	_, err := p.Resume(context.Background(), "run-missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, map[string]int64{"a": 100})
	locker := NewLocalLocker()
	p := New(f.engine, f.store, locker, logger.NewDiscard())

	err := locker.WithLock(context.Background(), lockKey, func(ctx context.Context) error {
		_, err := p.Run(ctx, "admin")
		return err
	})
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, int64(0), f.balance(t, "a"))

	_, err = p.Run(context.Background(), "admin")
	require.NoError(t, err)
}

func TestListRunsNewestFirst(t *testing.T) {
	f := newFixture(t, map[string]int64{"a": 1})
	p := New(f.engine, f.store, nil, logger.NewDiscard())
	ctx := context.Background()

	first, err := p.Run(ctx, "admin")
	require.NoError(t, err)
	second, err := p.Run(ctx, "admin")
	require.NoError(t, err)

	runs, err := p.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)

	got, err := p.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.RunCompleted, got.Status)
}

func TestRunWithIDRejectsRecordedRun(t *testing.T) {
	f := newFixture(t, map[string]int64{"a": 100})
	p := New(f.engine, f.store, nil, logger.NewDiscard())
	ctx := context.Background()

	run, err := p.RunWithID(ctx, "sched-202601010000", "scheduler")
	require.NoError(t, err)
	assert.Equal(t, "sched-202601010000", run.ID)
	assert.Equal(t, payroll.RunCompleted, run.Status)

	_, err = p.RunWithID(ctx, "sched-202601010000", "scheduler")
	require.ErrorIs(t, err, ErrRunExists)
	assert.Equal(t, int64(100), f.balance(t, "a"))
}

func TestScheduledRunIDUsesUTCMinute(t *testing.T) {
	tick := time.Date(2026, 5, 1, 12, 30, 45, 0, time.FixedZone("UTC+2", 2*60*60))
	assert.Equal(t, "sched-202605011030", ScheduledRunID(tick))
}
