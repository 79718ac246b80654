package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerdomain "github.com/impnet/service_layer/internal/app/domain/ledger"
	"github.com/impnet/service_layer/internal/app/money"
	"github.com/impnet/service_layer/internal/app/realtime"
	"github.com/impnet/service_layer/internal/app/services/payroll"
	"github.com/impnet/service_layer/internal/app/storage/memory"
	redisstore "github.com/impnet/service_layer/internal/app/storage/redis"
	"github.com/impnet/service_layer/pkg/logger"
	"github.com/impnet/service_layer/pkg/testutil"
)

func newApp(t *testing.T, opts Options) *Application {
	t.Helper()
	application, err := New(Stores{}, opts, logger.NewDiscard())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })
	return application
}

func TestApplicationWiresLedgerToRealtime(t *testing.T) {
	application := newApp(t, Options{})
	ctx := context.Background()

	assert.Equal(t, []string{"realtime-registry", "realtime-distributor", "payroll-scheduler"}, application.Services())
	assert.Equal(t, money.DefaultScale, application.Codec.Scale)

	_, _, err := application.Ledger.EnsureAccount(ctx, "alice")
	require.NoError(t, err)
	_, _, err = application.Ledger.EnsureAccount(ctx, "bob")
	require.NoError(t, err)

	bob := testutil.NewRecordingChannel("bob-1")
	watcher := testutil.NewRecordingChannel("carol-1")
	application.Registry.Register("bob", bob)
	application.Registry.Register("carol", watcher)

	_, err = application.Ledger.Transfer(ctx, "alice", "bob", 2500, "rent")
	require.NoError(t, err)
	_, err = application.Chat.Post(ctx, "alice", "paid", "text")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(bob.Types()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{realtime.EventTransactionCreated, realtime.EventChatMessage}, bob.Types())
	require.Eventually(t, func() bool { return len(watcher.Types()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{realtime.EventChatMessage}, watcher.Types())
}

func TestApplicationRejectsBadSchedule(t *testing.T) {
	_, err := New(Stores{}, Options{PayrollSchedule: "every tuesday"}, logger.NewDiscard())
	require.Error(t, err)
}

func newRedis(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPayrollLockerReportsRunInProgress(t *testing.T) {
	client := newRedis(t)
	locker := PayrollLocker(redisstore.NewLocker(client, "test:", redisstore.DefaultLockOptions()))

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- locker.WithLock(context.Background(), "payroll:run", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := locker.WithLock(context.Background(), "payroll:run", func(context.Context) error { return nil })
	require.ErrorIs(t, err, payroll.ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestRelayFansOutAcrossInstances(t *testing.T) {
	client := newRedis(t)
	first := newApp(t, Options{Relay: redisstore.NewRelay(client, "events", logger.NewDiscard())})
	second := newApp(t, Options{Relay: redisstore.NewRelay(client, "events", logger.NewDiscard())})
	ctx := context.Background()

	remote := testutil.NewRecordingChannel("bob-remote")
	second.Registry.Register("bob", remote)

	_, _, err := first.Ledger.EnsureAccount(ctx, "alice")
	require.NoError(t, err)
	_, _, err = first.Ledger.EnsureAccount(ctx, "bob")
	require.NoError(t, err)
	_, err = first.Ledger.Transfer(ctx, "alice", "bob", 100, "coffee")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(remote.Types()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{realtime.EventTransactionCreated}, remote.Types())
}

func TestScheduledPayrollAcrossInstancesPaysOnce(t *testing.T) {
	client := newRedis(t)
	store := memory.New()
	stores := Stores{Ledger: store, Payroll: store, Chat: store}
	newInstance := func() *Application {
		locker := PayrollLocker(redisstore.NewLocker(client, "test:", redisstore.DefaultLockOptions()))
		application, err := New(stores, Options{PayrollLocker: locker}, logger.NewDiscard())
		require.NoError(t, err)
		return application
	}
	first, second := newInstance(), newInstance()
	ctx := context.Background()

	_, _, err := first.Ledger.EnsureAccount(ctx, "bob")
	require.NoError(t, err)
	_, err = first.Ledger.SetSalary(ctx, "bob", 1000)
	require.NoError(t, err)
	before, err := first.Ledger.GetBalance(ctx, "bob")
	require.NoError(t, err)

	tick := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	_, err = first.Payroll.RunWithID(ctx, payroll.ScheduledRunID(tick), "scheduler")
	require.NoError(t, err)
	_, err = second.Payroll.RunWithID(ctx, payroll.ScheduledRunID(tick), "scheduler")
	require.ErrorIs(t, err, payroll.ErrRunExists)

	txs, err := second.Ledger.ListTransactions(ctx, "bob", 0)
	require.NoError(t, err)
	salaries := 0
	for _, tx := range txs {
		if tx.Kind == ledgerdomain.KindSalary {
			salaries++
		}
	}
	assert.Equal(t, 1, salaries)

	balance, err := second.Ledger.GetBalance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, before+1000, balance)
}
