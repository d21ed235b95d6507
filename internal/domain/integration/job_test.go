package integration

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanes_PriorityOrder(t *testing.T) {
	lanes := Lanes()
	require.Len(t, lanes, 3)
	for i := 1; i < len(lanes); i++ {
		assert.Less(t, lanes[i-1].Priority(), lanes[i].Priority())
	}
	assert.True(t, LaneHigh.IsValid())
	assert.False(t, Lane("urgent").IsValid())
}

func TestRunRequest_Mode(t *testing.T) {
	assert.Equal(t, RunModeFullImport, RunRequest{}.Mode())
	assert.Equal(t, RunModeTransformOnly, RunRequest{TransformOnly: true}.Mode())
}

func TestJobStatusFromRun(t *testing.T) {
	tests := []struct {
		run  RunStatus
		want JobStatus
	}{
		{RunStatusSucceeded, JobStatusSucceeded},
		{RunStatusPartiallyFailed, JobStatusPartiallyFailed},
		{RunStatusFailed, JobStatusFailed},
		{RunStatusCancelled, JobStatusCancelled},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JobStatusFromRun(tt.run), string(tt.run))
		assert.True(t, tt.want.IsTerminal())
	}
	assert.False(t, JobStatusRetryWait.IsTerminal())
}

func TestJobTicket_Lifecycle(t *testing.T) {
	run := NewImportRun(uuid.New(), uuid.New(), nil, "", "")
	ticket := NewJobTicket(LaneNormal, run, RunRequest{JobID: run.JobID, IntegrationID: run.IntegrationID}, 3)

	assert.Equal(t, run.JobID, ticket.ID)
	assert.Equal(t, run.ID, ticket.RunID)
	assert.Equal(t, JobStatusQueued, ticket.Status)
	assert.True(t, ticket.ReadyAt(time.Now()))

	ticket.Start()
	assert.Equal(t, JobStatusRunning, ticket.Status)
	require.NotNil(t, ticket.StartedAt)

	require.NoError(t, run.Start())
	require.NoError(t, run.Fail(&TransientFetchError{Component: ComponentAccounts}))
	ticket.Complete(run)
	assert.Equal(t, JobStatusFailed, ticket.Status)
	assert.Contains(t, ticket.LastError, "transient fetch error")
	assert.True(t, ticket.CanRetry())
}

func TestJobTicket_ScheduleRetryBackoff(t *testing.T) {
	run := NewImportRun(uuid.New(), uuid.New(), nil, "", "")
	ticket := NewJobTicket(LaneNormal, run, RunRequest{}, 4)

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		next := NewImportRun(ticket.ID, ticket.IntegrationID, nil, "", "")
		next.Attempt = ticket.Attempt + 1
		delays = append(delays, ticket.ScheduleRetry(next, time.Minute, 3*time.Minute))

		assert.Equal(t, next.ID, ticket.RunID)
		assert.Equal(t, next.Attempt, ticket.Request.Attempt)
		assert.Equal(t, JobStatusRetryWait, ticket.Status)
		assert.False(t, ticket.ReadyAt(time.Now()))
	}

	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute}, delays)
	assert.Equal(t, 4, ticket.Attempt)
	assert.False(t, ticket.CanRetry())
}

func TestJobTicket_FailAndCancel(t *testing.T) {
	run := NewImportRun(uuid.New(), uuid.New(), nil, "", "")

	failed := NewJobTicket(LaneHigh, run, RunRequest{}, 0)
	assert.Equal(t, 1, failed.MaxAttempts)
	failed.Fail(errors.New("boom"))
	assert.Equal(t, JobStatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.LastError)

	cancelled := NewJobTicket(LaneHigh, run, RunRequest{}, 1)
	cancelled.Cancel()
	assert.Equal(t, JobStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.FinishedAt)
}
