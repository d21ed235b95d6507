package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/ShenlongDev/afp-integration/internal/application/importer"
	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/scheduler"
)

// ---------------------------------------------------------------------------
// Trigger
// ---------------------------------------------------------------------------

// SubmitImportRequest is the body of POST /imports.
// An absent integration_id submits every eligible integration.
type SubmitImportRequest struct {
	IntegrationID *string    `json:"integration_id" binding:"omitempty,uuid"`
	Components    []string   `json:"components" binding:"omitempty,dive,required"`
	Since         *time.Time `json:"since"`
	Until         *time.Time `json:"until"`
	TransformOnly bool       `json:"transform_only"`
	Priority      string     `json:"priority" binding:"omitempty,oneof=high normal periodic"`
}

// ToCommand converts the request into the trigger service command
func (r SubmitImportRequest) ToCommand() (importer.SubmitImportRequest, error) {
	cmd := importer.SubmitImportRequest{
		Since:         r.Since,
		Until:         r.Until,
		TransformOnly: r.TransformOnly,
		Priority:      integration.Lane(r.Priority),
		Trigger:       integration.RunTriggerManual,
	}
	if r.IntegrationID != nil {
		id, err := uuid.Parse(*r.IntegrationID)
		if err != nil {
			return cmd, &integration.ValidationError{Reason: "integration_id is not a valid UUID", Err: err}
		}
		cmd.IntegrationID = &id
	}
	if r.Since != nil && r.Until != nil && !r.Since.Before(*r.Until) {
		return cmd, &integration.ValidationError{Reason: "since must be before until"}
	}
	for _, c := range r.Components {
		cmd.Components = append(cmd.Components, integration.Component(c))
	}
	return cmd, nil
}

// SubmitImportResponse identifies the queued job. Children are set for fan-out submissions.
type SubmitImportResponse struct {
	JobID    string   `json:"job_id"`
	Lane     string   `json:"lane"`
	Children []string `json:"children,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
}

// ToSubmitImportResponse converts a trigger result
func ToSubmitImportResponse(res *importer.SubmitImportResult) SubmitImportResponse {
	return SubmitImportResponse{
		JobID:    res.JobID.String(),
		Lane:     string(res.Lane),
		Children: uuidStrings(res.Children),
		Skipped:  uuidStrings(res.Skipped),
	}
}

// ---------------------------------------------------------------------------
// Queue monitoring
// ---------------------------------------------------------------------------

// JobResponse is the monitoring view of a job ticket
type JobResponse struct {
	ID            string     `json:"id"`
	ParentID      *string    `json:"parent_id,omitempty"`
	Lane          string     `json:"lane"`
	RunID         string     `json:"run_id"`
	IntegrationID string     `json:"integration_id"`
	Components    []string   `json:"components,omitempty"`
	TransformOnly bool       `json:"transform_only"`
	Attempt       int        `json:"attempt"`
	MaxAttempts   int        `json:"max_attempts"`
	Status        string     `json:"status"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// ToJobResponse converts a job ticket
func ToJobResponse(j integration.JobTicket) JobResponse {
	resp := JobResponse{
		ID:            j.ID.String(),
		Lane:          string(j.Lane),
		RunID:         j.RunID.String(),
		IntegrationID: j.IntegrationID.String(),
		TransformOnly: j.Request.TransformOnly,
		Attempt:       j.Attempt,
		MaxAttempts:   j.MaxAttempts,
		Status:        string(j.Status),
		LastError:     j.LastError,
		NextAttemptAt: j.NextAttemptAt,
		EnqueuedAt:    j.EnqueuedAt,
		StartedAt:     j.StartedAt,
		FinishedAt:    j.FinishedAt,
	}
	if j.ParentID != nil {
		parent := j.ParentID.String()
		resp.ParentID = &parent
	}
	for _, c := range j.Request.Components {
		resp.Components = append(resp.Components, c.String())
	}
	return resp
}

// ToJobResponses converts a slice of job tickets
func ToJobResponses(jobs []integration.JobTicket) []JobResponse {
	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, ToJobResponse(j))
	}
	return out
}

// JobDetailResponse is a job, or the parent of a fan-out submission with its child jobs.
// A fan-out parent has no ticket of its own, so Job is nil and Status aggregates the children.
type JobDetailResponse struct {
	ID       string        `json:"id"`
	Status   string        `json:"status"`
	Job      *JobResponse  `json:"job,omitempty"`
	Children []JobResponse `json:"children,omitempty"`
}

// ToJobDetailResponse converts a job and its children
func ToJobDetailResponse(id uuid.UUID, job *integration.JobTicket, children []integration.JobTicket) JobDetailResponse {
	resp := JobDetailResponse{ID: id.String()}
	if len(children) > 0 {
		resp.Children = ToJobResponses(children)
	}
	if job != nil {
		jr := ToJobResponse(*job)
		resp.Job = &jr
		resp.Status = jr.Status
		return resp
	}
	resp.Status = string(aggregateJobStatus(children))
	return resp
}

// aggregateJobStatus folds child statuses the way a run folds component outcomes
func aggregateJobStatus(children []integration.JobTicket) integration.JobStatus {
	if len(children) == 0 {
		return integration.JobStatusQueued
	}
	queued, succeeded := 0, 0
	for _, c := range children {
		switch {
		case !c.Status.IsTerminal():
			if c.Status != integration.JobStatusQueued {
				return integration.JobStatusRunning
			}
			queued++
		case c.Status == integration.JobStatusSucceeded:
			succeeded++
		}
	}
	switch {
	case queued == len(children):
		return integration.JobStatusQueued
	case queued > 0:
		return integration.JobStatusRunning
	case succeeded == len(children):
		return integration.JobStatusSucceeded
	case succeeded == 0:
		return integration.JobStatusFailed
	default:
		return integration.JobStatusPartiallyFailed
	}
}

// LaneResponse is the monitoring view of one scheduler lane
type LaneResponse struct {
	Lane    string `json:"lane"`
	Workers int    `json:"workers"`
	Queued  int    `json:"queued"`
	Running int    `json:"running"`
}

// QueueResponse is the monitoring snapshot of the scheduler
type QueueResponse struct {
	Running bool           `json:"running"`
	TakenAt time.Time      `json:"taken_at"`
	Lanes   []LaneResponse `json:"lanes"`
	Active  []JobResponse  `json:"active"`
	Recent  []JobResponse  `json:"recent"`
}

// ToQueueResponse converts a scheduler snapshot
func ToQueueResponse(s scheduler.Snapshot) QueueResponse {
	resp := QueueResponse{
		Running: s.Running,
		TakenAt: s.TakenAt,
		Lanes:   make([]LaneResponse, 0, len(s.Lanes)),
		Active:  ToJobResponses(s.Active),
		Recent:  ToJobResponses(s.Recent),
	}
	for _, l := range s.Lanes {
		resp.Lanes = append(resp.Lanes, LaneResponse{
			Lane:    string(l.Lane),
			Workers: l.Workers,
			Queued:  l.Queued,
			Running: l.Running,
		})
	}
	return resp
}

// ---------------------------------------------------------------------------
// Run Ledger export
// ---------------------------------------------------------------------------

// RunListRequest holds the query parameters of GET /runs
type RunListRequest struct {
	IntegrationID string     `form:"integration_id" binding:"omitempty,uuid"`
	JobID         string     `form:"job_id" binding:"omitempty,uuid"`
	Status        string     `form:"status" binding:"omitempty,oneof=pending running succeeded partially_failed failed cancelled"`
	From          *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To            *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	OrderBy       string     `form:"order_by" binding:"omitempty,oneof=created_at updated_at started_at finished_at status attempt"`
	OrderDir      string     `form:"order_dir" binding:"omitempty,oneof=asc desc ASC DESC"`
	Page          int        `form:"page" binding:"omitempty,min=1"`
	PageSize      int        `form:"page_size" binding:"omitempty,min=1,max=500"`
}

// ToFilter converts the query into a normalized ledger filter
func (r RunListRequest) ToFilter() (integration.RunFilter, error) {
	filter := integration.RunFilter{
		Status:   integration.RunStatus(r.Status),
		From:     r.From,
		To:       r.To,
		OrderBy:  r.OrderBy,
		OrderDir: r.OrderDir,
		Page:     r.Page,
		PageSize: r.PageSize,
	}
	if r.IntegrationID != "" {
		id, err := uuid.Parse(r.IntegrationID)
		if err != nil {
			return filter, &integration.ValidationError{Reason: "integration_id is not a valid UUID", Err: err}
		}
		filter.IntegrationID = &id
	}
	if r.JobID != "" {
		id, err := uuid.Parse(r.JobID)
		if err != nil {
			return filter, &integration.ValidationError{Reason: "job_id is not a valid UUID", Err: err}
		}
		filter.JobID = &id
	}
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return filter, &integration.ValidationError{Reason: "to must not be before from"}
	}
	filter.Normalize()
	return filter, nil
}

// RunResponse is the ledger export view of an import run
type RunResponse struct {
	ID            string                         `json:"id"`
	JobID         string                         `json:"job_id"`
	Attempt       int                            `json:"attempt"`
	IntegrationID string                         `json:"integration_id"`
	Components    []string                       `json:"components"`
	Since         *time.Time                     `json:"since,omitempty"`
	Until         *time.Time                     `json:"until,omitempty"`
	Mode          string                         `json:"mode"`
	Trigger       string                         `json:"trigger"`
	Status        string                         `json:"status"`
	Outcomes      []integration.ComponentOutcome `json:"outcomes"`
	ErrorSummary  string                         `json:"error_summary,omitempty"`
	Retryable     bool                           `json:"retryable"`
	DurationMS    int64                          `json:"duration_ms"`
	StartedAt     *time.Time                     `json:"started_at,omitempty"`
	FinishedAt    *time.Time                     `json:"finished_at,omitempty"`
	CreatedAt     time.Time                      `json:"created_at"`
	UpdatedAt     time.Time                      `json:"updated_at"`
}

// ToRunResponse converts an import run
func ToRunResponse(r *integration.ImportRun) RunResponse {
	resp := RunResponse{
		ID:            r.ID.String(),
		JobID:         r.JobID.String(),
		Attempt:       r.Attempt,
		IntegrationID: r.IntegrationID.String(),
		Components:    make([]string, 0, len(r.Components)),
		Since:         r.Since,
		Until:         r.Until,
		Mode:          string(r.Mode),
		Trigger:       string(r.Trigger),
		Status:        string(r.Status),
		Outcomes:      r.Outcomes,
		ErrorSummary:  r.ErrorSummary,
		Retryable:     r.Retryable,
		DurationMS:    r.Duration().Milliseconds(),
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if resp.Outcomes == nil {
		resp.Outcomes = []integration.ComponentOutcome{}
	}
	for _, c := range r.Components {
		resp.Components = append(resp.Components, c.String())
	}
	return resp
}

// ToRunResponses converts a page of import runs
func ToRunResponses(runs []integration.ImportRun) []RunResponse {
	out := make([]RunResponse, 0, len(runs))
	for i := range runs {
		out = append(out, ToRunResponse(&runs[i]))
	}
	return out
}

// CancelRunResponse acknowledges a cancellation request
type CancelRunResponse struct {
	RunID  string `json:"run_id"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func uuidStrings(ids []uuid.UUID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
