package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/logger"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/scheduler"
	"github.com/ShenlongDev/afp-integration/internal/interfaces/http/dto"
)

// RunReader reads the run ledger
type RunReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*integration.ImportRun, error)
	List(ctx context.Context, filter integration.RunFilter) ([]integration.ImportRun, int64, error)
}

// Canceller cancels work by id. The scheduler cancels by job id, the
// orchestrator by run id.
type Canceller interface {
	Cancel(ctx context.Context, id uuid.UUID) error
}

// RunHandler serves the run ledger export and run cancellation
type RunHandler struct {
	BaseHandler
	runs         RunReader
	jobs         Canceller
	orchestrator Canceller
}

// NewRunHandler creates a new RunHandler
func NewRunHandler(runs RunReader, jobs, orchestrator Canceller) *RunHandler {
	return &RunHandler{
		runs:         runs,
		jobs:         jobs,
		orchestrator: orchestrator,
	}
}

// List handles GET /runs
func (h *RunHandler) List(c *gin.Context) {
	var req dto.RunListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.HandleBindError(c, err)
		return
	}

	filter, err := req.ToFilter()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	runs, total, err := h.runs.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, dto.ToRunResponses(runs), total, filter.Page, filter.PageSize)
}

// Get handles GET /runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	id, ok := h.runID(c)
	if !ok {
		return
	}

	run, err := h.runs.FindByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToRunResponse(run))
}

// Cancel handles POST /runs/:id/cancel. A queued run is cancelled through its
// job; a running run stops at its next component or page boundary, so the
// response is 202 until the run reaches a terminal status.
func (h *RunHandler) Cancel(c *gin.Context) {
	id, ok := h.runID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	run, err := h.runs.FindByID(ctx, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if run.Status.IsTerminal() {
		h.Conflict(c, "Run already "+string(run.Status))
		return
	}

	err = h.jobs.Cancel(ctx, run.JobID)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		// runs started outside the scheduler, e.g. importctl run
		err = h.orchestrator.Cancel(ctx, run.ID)
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.L(ctx).Info("Run cancellation requested",
		zap.String("run_id", run.ID.String()),
		zap.String("job_id", run.JobID.String()),
	)

	resp := dto.CancelRunResponse{RunID: run.ID.String(), JobID: run.JobID.String(), Status: "cancel_requested"}
	if current, err := h.runs.FindByID(ctx, id); err == nil && current.Status.IsTerminal() {
		resp.Status = string(current.Status)
		h.Success(c, resp)
		return
	}
	h.Accepted(c, resp)
}

func (h *RunHandler) runID(c *gin.Context) (uuid.UUID, bool) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.HandleBindError(c, err)
		return uuid.Nil, false
	}
	return uuid.MustParse(uri.ID), true
}
