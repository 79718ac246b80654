package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/impnet/service_layer/internal/app/system"
	"github.com/impnet/service_layer/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Scheduler triggers payroll runs on a cron schedule.
type Scheduler struct {
	processor *Processor
	schedule  string
	log       *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	cancel  context.CancelFunc
	running bool
}

// NewScheduler validates schedule (standard five-field cron or a descriptor
// such as "@monthly"). An empty schedule yields a scheduler that never fires.
func NewScheduler(processor *Processor, schedule string, log *logger.Logger) (*Scheduler, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, fmt.Errorf("payroll schedule %q: %w", schedule, err)
		}
	}
	if log == nil {
		log = logger.NewDefault("payroll-scheduler")
	}
	return &Scheduler{processor: processor, schedule: schedule, log: log}, nil
}

func (s *Scheduler) Name() string { return "payroll-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.schedule == "" {
		s.log.Info("payroll schedule not configured; scheduler idle")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	var entry cron.EntryID
	entry, err := c.AddFunc(s.schedule, func() {
		// Prev is the activation time of the running job
		tick := c.Entry(entry).Prev
		if tick.IsZero() {
			tick = time.Now().Truncate(time.Minute)
		}
		s.trigger(runCtx, tick)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule payroll: %w", err)
	}
	c.Start()

	s.cron = c
	s.entry = entry
	s.cancel = cancel
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("payroll scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("payroll scheduler stopped")
	return nil
}

// Next returns the next scheduled run, or the zero time when idle.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) trigger(ctx context.Context, tick time.Time) {
	run, err := s.processor.RunWithID(ctx, ScheduledRunID(tick), "scheduler")
	switch {
	case err == nil:
		s.log.WithField("run_id", run.ID).Infof("scheduled payroll credited %d accounts", run.Credited)
	case errors.Is(err, ErrRunInProgress):
		s.log.Info("scheduled payroll skipped: run already in progress")
	case errors.Is(err, ErrRunExists):
		s.log.WithField("run_id", ScheduledRunID(tick)).Info("scheduled payroll skipped: tick already paid")
	default:
		s.log.WithError(err).WithField("run_id", run.ID).Warn("scheduled payroll failed")
	}
}
