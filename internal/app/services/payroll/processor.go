// Package payroll credits every salaried account once per run. Each credit
// carries the key <run-id>:<account-id>, so an interrupted run can be resumed
// without paying anyone twice.
package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/impnet/service_layer/internal/app/domain/ledger"
	"github.com/impnet/service_layer/internal/app/domain/payroll"
	"github.com/impnet/service_layer/internal/app/metrics"
	"github.com/impnet/service_layer/internal/app/services/ledger"
	"github.com/impnet/service_layer/internal/app/storage"
	"github.com/impnet/service_layer/pkg/logger"
)

const (
	lockKey         = "payroll:run"
	checkpointEvery = 25
	defaultRunLimit = 20
)

var (
	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("payroll run not found")
	// ErrRunCompleted is returned when resuming a run that already finished.
	ErrRunCompleted = errors.New("payroll run already completed")
	// ErrRunExists is returned when a run with the requested id was already
	// started, by this instance or another one.
	ErrRunExists = errors.New("payroll run already recorded")
)

// ScheduledRunID names the run for a cron tick. Every instance firing on the
// same tick derives the same id, so only one of them can record the run.
func ScheduledRunID(tick time.Time) string {
	return "sched-" + tick.UTC().Format("200601021504")
}

// Ledger is the subset of the ledger engine payroll needs.
type Ledger interface {
	ListSalariedAccounts(ctx context.Context) ([]domain.Account, error)
	CreditSalary(ctx context.Context, accountID string, amount int64, idempotencyKey string) (domain.Transaction, error)
}

// Processor runs payroll batches.
type Processor struct {
	ledger Ledger
	store  storage.PayrollStore
	locker Locker
	log    *logger.Logger
}

// New creates a processor. A nil locker serializes runs within this process
// only.
func New(l Ledger, store storage.PayrollStore, locker Locker, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.NewDefault("payroll")
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Processor{ledger: l, store: store, locker: locker, log: log}
}

// Run starts a new payroll run and credits every salaried account. The
// returned run's Credited field is the number of credits issued. On a
// mid-batch failure the run is persisted as failed and returned with the
// error; use Resume to finish it.
func (p *Processor) Run(ctx context.Context, triggeredBy string) (payroll.Run, error) {
	return p.RunWithID(ctx, "", triggeredBy)
}

// RunWithID is Run with a caller-chosen run id. An empty id is generated by
// the store. If runID was already recorded nothing is credited and the error
// wraps ErrRunExists.
func (p *Processor) RunWithID(ctx context.Context, runID, triggeredBy string) (payroll.Run, error) {
	runID = strings.TrimSpace(runID)
	var result payroll.Run
	err := p.locker.WithLock(ctx, lockKey, func(ctx context.Context) error {
		run, err := p.store.CreateRun(ctx, payroll.Run{
			ID:          runID,
			Status:      payroll.RunRunning,
			TriggeredBy: strings.TrimSpace(triggeredBy),
			StartedAt:   time.Now().UTC(),
		})
		if err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return fmt.Errorf("%w: %s", ErrRunExists, runID)
			}
			return fmt.Errorf("create payroll run: %w", err)
		}
		p.log.WithField("run_id", run.ID).
			WithField("triggered_by", run.TriggeredBy).
			Info("payroll run started")

		result, err = p.execute(ctx, run)
		return err
	})
	return result, err
}

// Resume finishes a run that was interrupted or failed. Accounts already
// credited under the run are skipped.
func (p *Processor) Resume(ctx context.Context, runID string) (payroll.Run, error) {
	var result payroll.Run
	err := p.locker.WithLock(ctx, lockKey, func(ctx context.Context) error {
		run, err := p.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Finished() {
			result = run
			return fmt.Errorf("%w: %s", ErrRunCompleted, run.ID)
		}

		run.Status = payroll.RunRunning
		run.Error = ""
		run.FinishedAt = time.Time{}
		run.Credited, run.Skipped = 0, 0
		if run, err = p.store.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("reopen payroll run %s: %w", runID, err)
		}
		p.log.WithField("run_id", run.ID).Info("payroll run resumed")

		result, err = p.execute(ctx, run)
		return err
	})
	return result, err
}

// GetRun returns a run by id.
func (p *Processor) GetRun(ctx context.Context, id string) (payroll.Run, error) {
	run, err := p.store.GetRun(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return payroll.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return payroll.Run{}, err
	}
	return run, nil
}

// ListRuns returns recent runs, newest first.
func (p *Processor) ListRuns(ctx context.Context, limit int) ([]payroll.Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	return p.store.ListRuns(ctx, limit)
}

// execute walks the salaried accounts for run. Credited counts every account
// that holds this run's credit once the walk finishes; Skipped counts those
// credited by an earlier pass.
func (p *Processor) execute(ctx context.Context, run payroll.Run) (payroll.Run, error) {
	accounts, err := p.ledger.ListSalariedAccounts(ctx)
	if err != nil {
		return p.fail(ctx, run, fmt.Errorf("list salaried accounts: %w", err))
	}
	run.Total = len(accounts)

	for i, acct := range accounts {
		_, err := p.ledger.CreditSalary(ctx, acct.ID, acct.Salary, payroll.CreditKey(run.ID, acct.ID))
		switch {
		case err == nil:
			run.Credited++
			metrics.RecordPayrollCredit("credited")
		case errors.Is(err, ledger.ErrAlreadyApplied):
			run.Credited++
			run.Skipped++
			metrics.RecordPayrollCredit("skipped")
		default:
			metrics.RecordPayrollCredit("failed")
			return p.fail(ctx, run, fmt.Errorf("credit %s: %w", acct.ID, err))
		}

		if (i+1)%checkpointEvery == 0 {
			if updated, err := p.store.UpdateRun(ctx, run); err != nil {
				p.log.WithError(err).WithField("run_id", run.ID).Warn("payroll checkpoint failed")
			} else {
				run = updated
			}
		}
	}

	run.Status = payroll.RunCompleted
	run.FinishedAt = time.Now().UTC()
	updated, err := p.store.UpdateRun(context.WithoutCancel(ctx), run)
	if err != nil {
		return run, fmt.Errorf("complete payroll run %s: %w", run.ID, err)
	}
	metrics.RecordPayrollRun(string(payroll.RunCompleted))
	p.log.WithField("run_id", run.ID).
		WithField("credited", updated.Credited).
		WithField("skipped", updated.Skipped).
		Info("payroll run completed")
	return updated, nil
}

func (p *Processor) fail(ctx context.Context, run payroll.Run, cause error) (payroll.Run, error) {
	run.Status = payroll.RunFailed
	run.Error = cause.Error()
	run.FinishedAt = time.Now().UTC()
	if updated, err := p.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		p.log.WithError(err).WithField("run_id", run.ID).Error("persist failed payroll run")
	} else {
		run = updated
	}
	metrics.RecordPayrollRun(string(payroll.RunFailed))
	p.log.WithError(cause).WithField("run_id", run.ID).Warn("payroll run failed")
	return run, fmt.Errorf("payroll run %s: %w", run.ID, cause)
}
