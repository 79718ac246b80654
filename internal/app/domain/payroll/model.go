package payroll

import "time"

// RunStatus tracks the progress of a payroll run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is a persisted payroll batch. Its ID prefixes the idempotency key of
// every salary credit it issues.
type Run struct {
	ID          string
	Status      RunStatus
	TriggeredBy string
	Total       int
	Credited    int
	Skipped     int
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Finished reports whether the run reached a terminal status.
func (r Run) Finished() bool {
	return r.Status == RunCompleted
}

// CreditKey returns the idempotency key for crediting accountID in run runID.
func CreditKey(runID, accountID string) string {
	return runID + ":" + accountID
}
