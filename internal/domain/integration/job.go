package integration

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// RunRequest
// ---------------------------------------------------------------------------

// RunRequest asks the orchestrator to import one integration.
// Since and Until override the cursor-derived window when set.
type RunRequest struct {
	JobID         uuid.UUID
	Attempt       int
	IntegrationID uuid.UUID
	Components    []Component
	Since         *time.Time
	Until         *time.Time
	TransformOnly bool
	Trigger       RunTrigger
}

// Mode returns the run mode implied by the request
func (r RunRequest) Mode() RunMode {
	if r.TransformOnly {
		return RunModeTransformOnly
	}
	return RunModeFullImport
}

// ---------------------------------------------------------------------------
// Lane
// ---------------------------------------------------------------------------

// Lane is a scheduler queue. Workers pull from lanes in priority order.
type Lane string

const (
	LaneHigh     Lane = "high"
	LaneNormal   Lane = "normal"
	LanePeriodic Lane = "periodic"
)

// Lanes returns all lanes, highest priority first
func Lanes() []Lane {
	return []Lane{LaneHigh, LaneNormal, LanePeriodic}
}

// IsValid returns true if the lane is valid
func (l Lane) IsValid() bool {
	switch l {
	case LaneHigh, LaneNormal, LanePeriodic:
		return true
	default:
		return false
	}
}

// Priority returns the pull order of the lane; lower is pulled first
func (l Lane) Priority() int {
	switch l {
	case LaneHigh:
		return 0
	case LaneNormal:
		return 1
	default:
		return 2
	}
}

// ---------------------------------------------------------------------------
// JobTicket
// ---------------------------------------------------------------------------

// JobStatus is the queue status of a job ticket
type JobStatus string

const (
	JobStatusQueued          JobStatus = "queued"
	JobStatusRunning         JobStatus = "running"
	JobStatusRetryWait       JobStatus = "retry_wait"
	JobStatusSucceeded       JobStatus = "succeeded"
	JobStatusPartiallyFailed JobStatus = "partially_failed"
	JobStatusFailed          JobStatus = "failed"
	JobStatusCancelled       JobStatus = "cancelled"
)

// IsTerminal returns true once the ticket will not run again
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusPartiallyFailed, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobStatusFromRun maps a terminal run status onto the ticket status
func JobStatusFromRun(s RunStatus) JobStatus {
	switch s {
	case RunStatusSucceeded:
		return JobStatusSucceeded
	case RunStatusPartiallyFailed:
		return JobStatusPartiallyFailed
	case RunStatusCancelled:
		return JobStatusCancelled
	default:
		return JobStatusFailed
	}
}

// JobTicket is a queued unit of orchestration work. Every attempt runs a fresh
// ImportRun; RunID points at the run of the current attempt.
type JobTicket struct {
	ID            uuid.UUID
	ParentID      *uuid.UUID
	Lane          Lane
	RunID         uuid.UUID
	IntegrationID uuid.UUID
	Request       RunRequest
	Attempt       int
	MaxAttempts   int
	NextAttemptAt *time.Time
	Status        JobStatus
	LastError     string
	EnqueuedAt    time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// NewJobTicket creates a queued ticket for a prepared run
func NewJobTicket(lane Lane, run *ImportRun, req RunRequest, maxAttempts int) *JobTicket {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &JobTicket{
		ID:            run.JobID,
		Lane:          lane,
		RunID:         run.ID,
		IntegrationID: run.IntegrationID,
		Request:       req,
		Attempt:       run.Attempt,
		MaxAttempts:   maxAttempts,
		Status:        JobStatusQueued,
		EnqueuedAt:    time.Now(),
	}
}

// Start marks the ticket as running
func (j *JobTicket) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.NextAttemptAt = nil
}

// Complete records the terminal run of the current attempt
func (j *JobTicket) Complete(run *ImportRun) {
	now := time.Now()
	j.Status = JobStatusFromRun(run.Status)
	j.LastError = run.ErrorSummary
	j.FinishedAt = &now
}

// Fail marks the ticket as failed without a run outcome
func (j *JobTicket) Fail(err error) {
	now := time.Now()
	j.Status = JobStatusFailed
	if err != nil {
		j.LastError = err.Error()
	}
	j.FinishedAt = &now
}

// Cancel marks the ticket as cancelled
func (j *JobTicket) Cancel() {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.FinishedAt = &now
}

// CanRetry reports whether another attempt is allowed
func (j *JobTicket) CanRetry() bool {
	return j.Attempt < j.MaxAttempts
}

// ScheduleRetry moves the ticket to retry_wait on a fresh run with exponential backoff:
// base * 2^(attempt-1), capped at ceiling
func (j *JobTicket) ScheduleRetry(next *ImportRun, base, ceiling time.Duration) time.Duration {
	delay := base
	for i := 1; i < j.Attempt && delay < ceiling; i++ {
		delay *= 2
	}
	if ceiling > 0 && delay > ceiling {
		delay = ceiling
	}
	at := time.Now().Add(delay)
	j.Attempt = next.Attempt
	j.RunID = next.ID
	j.Request.Attempt = next.Attempt
	j.Status = JobStatusRetryWait
	j.NextAttemptAt = &at
	j.StartedAt = nil
	j.FinishedAt = nil
	return delay
}

// ReadyAt reports whether the ticket may run at the given instant
func (j *JobTicket) ReadyAt(t time.Time) bool {
	return j.NextAttemptAt == nil || !t.Before(*j.NextAttemptAt)
}
