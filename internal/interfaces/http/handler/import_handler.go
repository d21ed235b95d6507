package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShenlongDev/afp-integration/internal/application/importer"
	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/logger"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/scheduler"
	"github.com/ShenlongDev/afp-integration/internal/interfaces/http/dto"
)

// ImportSubmitter queues import jobs
type ImportSubmitter interface {
	SubmitImport(ctx context.Context, req importer.SubmitImportRequest) (*importer.SubmitImportResult, error)
}

// QueueReader exposes the read-only view of the scheduler
type QueueReader interface {
	Job(jobID uuid.UUID) (integration.JobTicket, bool)
	Children(parentID uuid.UUID) []integration.JobTicket
	Snapshot() scheduler.Snapshot
}

// ImportHandler serves the import trigger and queue monitoring endpoints
type ImportHandler struct {
	BaseHandler
	submitter ImportSubmitter
	queue     QueueReader
}

// NewImportHandler creates a new ImportHandler
func NewImportHandler(submitter ImportSubmitter, queue QueueReader) *ImportHandler {
	return &ImportHandler{
		submitter: submitter,
		queue:     queue,
	}
}

// Submit handles POST /imports. The job runs asynchronously; callers poll
// GET /imports/jobs/:id with the returned job id.
func (h *ImportHandler) Submit(c *gin.Context) {
	var req dto.SubmitImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleBindError(c, err)
		return
	}

	cmd, err := req.ToCommand()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.submitter.SubmitImport(c.Request.Context(), cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.Set(string(logger.JobIDKey), result.JobID.String())
	logger.L(c.Request.Context()).Info("Import submitted",
		zap.String("job_id", result.JobID.String()),
		zap.String("lane", string(result.Lane)),
		zap.Int("children", len(result.Children)),
		zap.Int("skipped", len(result.Skipped)),
	)
	h.Accepted(c, dto.ToSubmitImportResponse(result))
}

// GetJob handles GET /imports/jobs/:id for single jobs and fan-out parents
func (h *ImportHandler) GetJob(c *gin.Context) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.HandleBindError(c, err)
		return
	}
	id := uuid.MustParse(uri.ID)

	children := h.queue.Children(id)
	job, ok := h.queue.Job(id)
	if !ok && len(children) == 0 {
		h.NotFound(c, "Job not found")
		return
	}

	var jobPtr *integration.JobTicket
	if ok {
		jobPtr = &job
	}
	h.Success(c, dto.ToJobDetailResponse(id, jobPtr, children))
}

// Queue handles GET /queue
func (h *ImportHandler) Queue(c *gin.Context) {
	h.Success(c, dto.ToQueueResponse(h.queue.Snapshot()))
}
