package integration

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// RunStatus
// ---------------------------------------------------------------------------

// RunStatus represents the lifecycle status of an import run
type RunStatus string

const (
	RunStatusPending         RunStatus = "pending"
	RunStatusRunning         RunStatus = "running"
	RunStatusSucceeded       RunStatus = "succeeded"
	RunStatusPartiallyFailed RunStatus = "partially_failed"
	RunStatusFailed          RunStatus = "failed"
	RunStatusCancelled       RunStatus = "cancelled"
)

// IsValid returns true if the status is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusPartiallyFailed, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once no further transitions are allowed
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusPartiallyFailed, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// RunMode selects whether a run fetches from the vendor
type RunMode string

const (
	RunModeFullImport    RunMode = "full_import"
	RunModeTransformOnly RunMode = "transform_only"
)

// RunTrigger records what started a run
type RunTrigger string

const (
	RunTriggerPeriodic RunTrigger = "periodic"
	RunTriggerManual   RunTrigger = "manual"
	RunTriggerCatchUp  RunTrigger = "catch_up"
	RunTriggerCLI      RunTrigger = "cli"
)

// IsValid returns true if the trigger is valid
func (t RunTrigger) IsValid() bool {
	switch t {
	case RunTriggerPeriodic, RunTriggerManual, RunTriggerCatchUp, RunTriggerCLI:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// ComponentOutcome
// ---------------------------------------------------------------------------

// ComponentStatus is the result of one component within a run.
// A component is partially failed when its page retries ran out; the pages
// staged before the failure are still transformed.
type ComponentStatus string

const (
	ComponentStatusPending         ComponentStatus = "pending"
	ComponentStatusRunning         ComponentStatus = "running"
	ComponentStatusSucceeded       ComponentStatus = "succeeded"
	ComponentStatusPartiallyFailed ComponentStatus = "partially_failed"
	ComponentStatusFailed          ComponentStatus = "failed"
	ComponentStatusCancelled       ComponentStatus = "cancelled"
)

// ComponentOutcome holds the per-component counters and result of a run
type ComponentOutcome struct {
	Component  Component       `json:"component"`
	Status     ComponentStatus `json:"status"`
	Since      time.Time       `json:"since"`
	Until      time.Time       `json:"until"`
	Pages      int             `json:"pages"`
	Fetched    int             `json:"fetched"`
	Staged     int             `json:"staged"`
	Normalized int             `json:"normalized"`
	Deferred   int             `json:"deferred"`
	Skipped    int             `json:"skipped"`
	Warnings   []string        `json:"warnings,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// ---------------------------------------------------------------------------
// ImportRun
// ---------------------------------------------------------------------------

// ImportRun is the ledger entry of one orchestration attempt.
// It is mutated only by the orchestrator and immutable once terminal.
type ImportRun struct {
	ID            uuid.UUID
	JobID         uuid.UUID
	Attempt       int
	IntegrationID uuid.UUID
	Components    []Component
	Since         *time.Time
	Until         *time.Time
	Mode          RunMode
	Trigger       RunTrigger
	Status        RunStatus
	Outcomes      []ComponentOutcome
	ErrorSummary  string
	Retryable     bool
	StartedAt     *time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewImportRun creates a pending run for an integration
func NewImportRun(jobID, integrationID uuid.UUID, components []Component, mode RunMode, trigger RunTrigger) *ImportRun {
	now := time.Now()
	if trigger == "" {
		trigger = RunTriggerManual
	}
	if mode == "" {
		mode = RunModeFullImport
	}
	return &ImportRun{
		ID:            uuid.New(),
		JobID:         jobID,
		Attempt:       1,
		IntegrationID: integrationID,
		Components:    components,
		Mode:          mode,
		Trigger:       trigger,
		Status:        RunStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// WithWindow sets the explicit window override of the run
func (r *ImportRun) WithWindow(since, until *time.Time) *ImportRun {
	r.Since = since
	r.Until = until
	return r
}

// Start marks the run as running
func (r *ImportRun) Start() error {
	if r.Status.IsTerminal() {
		return ErrRunTerminal
	}
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
	r.UpdatedAt = now
	return nil
}

// RecordOutcome replaces or appends the outcome of a component
func (r *ImportRun) RecordOutcome(outcome ComponentOutcome) error {
	if r.Status.IsTerminal() {
		return ErrRunTerminal
	}
	for i := range r.Outcomes {
		if r.Outcomes[i].Component == outcome.Component {
			r.Outcomes[i] = outcome
			r.UpdatedAt = time.Now()
			return nil
		}
	}
	r.Outcomes = append(r.Outcomes, outcome)
	r.UpdatedAt = time.Now()
	return nil
}

// Outcome returns the recorded outcome of a component
func (r *ImportRun) Outcome(component Component) (ComponentOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Component == component {
			return o, true
		}
	}
	return ComponentOutcome{}, false
}

// AggregateStatus derives the run status from its component outcomes:
// succeeded iff all succeeded, failed iff none succeeded, partially_failed otherwise.
func (r *ImportRun) AggregateStatus() RunStatus {
	if len(r.Outcomes) == 0 {
		return RunStatusFailed
	}
	succeeded := 0
	for _, o := range r.Outcomes {
		if o.Status == ComponentStatusSucceeded {
			succeeded++
		}
	}
	switch succeeded {
	case len(r.Outcomes):
		return RunStatusSucceeded
	case 0:
		return RunStatusFailed
	default:
		return RunStatusPartiallyFailed
	}
}

// Finish moves the run to its aggregate terminal status.
// cause is the joined component error, used for the summary and retry classification.
func (r *ImportRun) Finish(cause error) error {
	if r.Status.IsTerminal() {
		return ErrRunTerminal
	}
	r.finish(r.AggregateStatus(), cause)
	return nil
}

// Fail force-marks the run as failed, regardless of component outcomes
func (r *ImportRun) Fail(cause error) error {
	if r.Status.IsTerminal() {
		return ErrRunTerminal
	}
	r.finish(RunStatusFailed, cause)
	return nil
}

// Cancel marks the run as cancelled, keeping outcomes as of the last completed step
func (r *ImportRun) Cancel() error {
	if r.Status.IsTerminal() {
		return ErrRunTerminal
	}
	r.finish(RunStatusCancelled, ErrRunCancelled)
	return nil
}

func (r *ImportRun) finish(status RunStatus, cause error) {
	now := time.Now()
	r.Status = status
	r.FinishedAt = &now
	r.UpdatedAt = now
	if cause != nil {
		r.ErrorSummary = cause.Error()
	}
	// partially failed runs are never retried
	r.Retryable = status == RunStatusFailed && IsRetryable(cause)
}

// Duration returns the wall-clock duration of a started run
func (r *ImportRun) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	return end.Sub(*r.StartedAt)
}

// ---------------------------------------------------------------------------
// Run Ledger query
// ---------------------------------------------------------------------------

// RunFilter selects ledger entries for export
type RunFilter struct {
	IntegrationID *uuid.UUID
	JobID         *uuid.UUID
	Status        RunStatus
	From          *time.Time
	To            *time.Time
	OrderBy       string
	OrderDir      string
	Page          int
	PageSize      int
}

// Normalize applies pagination defaults
func (f *RunFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 500 {
		f.PageSize = 500
	}
}

// Offset returns the row offset of the filter page
func (f RunFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}
