package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/scheduler"
	"github.com/ShenlongDev/afp-integration/internal/interfaces/http/middleware"
)

func setupRunRouter(h *RunHandler) *gin.Engine {
	middleware.SetupValidator()
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/api/v1/runs", h.List)
	r.GET("/api/v1/runs/:id", h.Get)
	r.POST("/api/v1/runs/:id/cancel", h.Cancel)
	return r
}

func newRun(status integration.RunStatus) *integration.ImportRun {
	run := integration.NewImportRun(uuid.New(), uuid.New(), []integration.Component{integration.ComponentAccounts}, integration.RunModeFullImport, integration.RunTriggerManual)
	run.Status = status
	return run
}

func TestRunHandler_List(t *testing.T) {
	integrationID := uuid.New()

	t.Run("filters and paginates", func(t *testing.T) {
		runs := new(MockRunReader)
		runs.On("List", mock.Anything, mock.MatchedBy(func(f integration.RunFilter) bool {
			return f.IntegrationID != nil && *f.IntegrationID == integrationID &&
				f.Status == integration.RunStatusFailed &&
				f.From != nil && f.Page == 2 && f.PageSize == 10
		})).Return([]integration.ImportRun{*newRun(integration.RunStatusFailed)}, int64(11), nil)

		r := setupRunRouter(NewRunHandler(runs, new(MockCanceller), new(MockCanceller)))
		w := get(r, "/api/v1/runs?integration_id="+integrationID.String()+"&status=failed&from=2026-01-01T00:00:00Z&page=2&page_size=10")

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, int64(11), resp.Meta.Total)
		assert.Equal(t, 2, resp.Meta.TotalPages)
		assert.Len(t, resp.Data, 1)
		runs.AssertExpectations(t)
	})

	t.Run("defaults pagination", func(t *testing.T) {
		runs := new(MockRunReader)
		runs.On("List", mock.Anything, mock.MatchedBy(func(f integration.RunFilter) bool {
			return f.Page == 1 && f.PageSize == 20
		})).Return([]integration.ImportRun{}, int64(0), nil)

		w := get(setupRunRouter(NewRunHandler(runs, new(MockCanceller), new(MockCanceller))), "/api/v1/runs")
		assert.Equal(t, http.StatusOK, w.Code)
		runs.AssertExpectations(t)
	})

	t.Run("rejects bad query", func(t *testing.T) {
		tests := []string{
			"/api/v1/runs?integration_id=nope",
			"/api/v1/runs?status=done",
			"/api/v1/runs?page_size=9999",
			"/api/v1/runs?from=yesterday",
			"/api/v1/runs?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z",
		}
		for _, path := range tests {
			runs := new(MockRunReader)
			w := get(setupRunRouter(NewRunHandler(runs, new(MockCanceller), new(MockCanceller))), path)
			assert.Equal(t, http.StatusBadRequest, w.Code, path)
			runs.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
		}
	})
}

func TestRunHandler_Get(t *testing.T) {
	run := newRun(integration.RunStatusSucceeded)

	runs := new(MockRunReader)
	runs.On("FindByID", mock.Anything, run.ID).Return(run, nil)
	missing := uuid.New()
	runs.On("FindByID", mock.Anything, missing).Return(nil, integration.ErrRunNotFound)

	r := setupRunRouter(NewRunHandler(runs, new(MockCanceller), new(MockCanceller)))

	w := get(r, "/api/v1/runs/"+run.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeResponse(t, w).Data.(map[string]any)
	assert.Equal(t, run.ID.String(), data["id"])
	assert.Equal(t, "succeeded", data["status"])

	w = get(r, "/api/v1/runs/"+missing.String())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunHandler_Cancel(t *testing.T) {
	t.Run("terminal run conflicts", func(t *testing.T) {
		run := newRun(integration.RunStatusFailed)
		runs := new(MockRunReader)
		runs.On("FindByID", mock.Anything, run.ID).Return(run, nil)
		jobs := new(MockCanceller)

		w := postJSON(setupRunRouter(NewRunHandler(runs, jobs, new(MockCanceller))), "/api/v1/runs/"+run.ID.String()+"/cancel", nil)

		assert.Equal(t, http.StatusConflict, w.Code)
		jobs.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
	})

	t.Run("queued run is cancelled through its job", func(t *testing.T) {
		run := newRun(integration.RunStatusPending)
		cancelled := *run
		cancelled.Status = integration.RunStatusCancelled

		runs := new(MockRunReader)
		runs.On("FindByID", mock.Anything, run.ID).Return(run, nil).Once()
		runs.On("FindByID", mock.Anything, run.ID).Return(&cancelled, nil).Once()
		jobs := new(MockCanceller)
		jobs.On("Cancel", mock.Anything, run.JobID).Return(nil)
		orchestrator := new(MockCanceller)

		w := postJSON(setupRunRouter(NewRunHandler(runs, jobs, orchestrator)), "/api/v1/runs/"+run.ID.String()+"/cancel", nil)

		require.Equal(t, http.StatusOK, w.Code)
		data := decodeResponse(t, w).Data.(map[string]any)
		assert.Equal(t, "cancelled", data["status"])
		orchestrator.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
	})

	t.Run("running run is accepted", func(t *testing.T) {
		run := newRun(integration.RunStatusRunning)
		runs := new(MockRunReader)
		runs.On("FindByID", mock.Anything, run.ID).Return(run, nil)
		jobs := new(MockCanceller)
		jobs.On("Cancel", mock.Anything, run.JobID).Return(nil)

		w := postJSON(setupRunRouter(NewRunHandler(runs, jobs, new(MockCanceller))), "/api/v1/runs/"+run.ID.String()+"/cancel", nil)

		require.Equal(t, http.StatusAccepted, w.Code)
		data := decodeResponse(t, w).Data.(map[string]any)
		assert.Equal(t, "cancel_requested", data["status"])
	})

	t.Run("falls back to the orchestrator for unscheduled runs", func(t *testing.T) {
		run := newRun(integration.RunStatusRunning)
		runs := new(MockRunReader)
		runs.On("FindByID", mock.Anything, run.ID).Return(run, nil)
		jobs := new(MockCanceller)
		jobs.On("Cancel", mock.Anything, run.JobID).Return(scheduler.ErrJobNotFound)
		orchestrator := new(MockCanceller)
		orchestrator.On("Cancel", mock.Anything, run.ID).Return(nil)

		w := postJSON(setupRunRouter(NewRunHandler(runs, jobs, orchestrator)), "/api/v1/runs/"+run.ID.String()+"/cancel", nil)

		assert.Equal(t, http.StatusAccepted, w.Code)
		orchestrator.AssertExpectations(t)
	})

	t.Run("job finished concurrently", func(t *testing.T) {
		run := newRun(integration.RunStatusRunning)
		runs := new(MockRunReader)
		runs.On("FindByID", mock.Anything, run.ID).Return(run, nil)
		jobs := new(MockCanceller)
		jobs.On("Cancel", mock.Anything, run.JobID).Return(scheduler.ErrJobFinished)

		w := postJSON(setupRunRouter(NewRunHandler(runs, jobs, new(MockCanceller))), "/api/v1/runs/"+run.ID.String()+"/cancel", nil)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
