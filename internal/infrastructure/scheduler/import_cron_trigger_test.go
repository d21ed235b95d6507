package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShenlongDev/afp-integration/internal/application/importer"
	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []importer.SubmitImportRequest
	err      error
}

func (f *fakeSubmitter) SubmitImport(_ context.Context, req importer.SubmitImportRequest) (*importer.SubmitImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &importer.SubmitImportResult{JobID: uuid.New(), Lane: req.Priority, Children: []uuid.UUID{uuid.New()}}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func TestImportCronTrigger_FiresOncePerDay(t *testing.T) {
	ctx := context.Background()
	submitter := &fakeSubmitter{}
	cfg := DefaultImportCronTriggerConfig()
	cfg.DailyHour, cfg.DailyMinute = 2, 30
	trigger := NewImportCronTrigger(cfg, submitter, newTestLogger())

	steps := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 6, 10, 2, 29, 0, 0, time.UTC), false},
		{time.Date(2024, 6, 10, 2, 30, 0, 0, time.UTC), true},
		{time.Date(2024, 6, 10, 2, 30, 40, 0, time.UTC), false},
		{time.Date(2024, 6, 10, 14, 30, 0, 0, time.UTC), false},
		{time.Date(2024, 6, 11, 2, 30, 5, 0, time.UTC), true},
	}
	for _, step := range steps {
		at := step.at
		trigger.now = func() time.Time { return at }
		assert.Equal(t, step.want, trigger.checkAndTrigger(ctx), at.String())
	}

	require.Equal(t, 2, submitter.count())
	req := submitter.requests[0]
	assert.Nil(t, req.IntegrationID, "daily import covers every eligible integration")
	assert.Equal(t, integration.RunTriggerPeriodic, req.Trigger)
	assert.Equal(t, integration.LanePeriodic, req.Priority)
	assert.False(t, req.TransformOnly)
}

func TestImportCronTrigger_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*60*60)
	submitter := &fakeSubmitter{}
	cfg := DefaultImportCronTriggerConfig()
	cfg.Location = loc
	trigger := NewImportCronTrigger(cfg, submitter, nil)

	// 02:00 in UTC+8 is 18:00 UTC the previous day
	trigger.now = func() time.Time { return time.Date(2024, 6, 9, 18, 0, 0, 0, time.UTC) }
	assert.True(t, trigger.checkAndTrigger(context.Background()))
}

func TestImportCronTrigger_SubmitFailureIsNotRetriedSameDay(t *testing.T) {
	submitter := &fakeSubmitter{err: errors.New("no integrations")}
	trigger := NewImportCronTrigger(DefaultImportCronTriggerConfig(), submitter, nil)
	trigger.now = func() time.Time { return time.Date(2024, 6, 10, 2, 0, 0, 0, time.UTC) }

	assert.False(t, trigger.checkAndTrigger(context.Background()))
	assert.False(t, trigger.checkAndTrigger(context.Background()))
	assert.Equal(t, 1, submitter.count())
}

func TestImportCronTrigger_RunOnStart(t *testing.T) {
	submitter := &fakeSubmitter{}
	cfg := DefaultImportCronTriggerConfig()
	cfg.RunOnStart = true
	cfg.CheckInterval = time.Hour
	trigger := NewImportCronTrigger(cfg, submitter, newTestLogger())

	require.NoError(t, trigger.Start(context.Background()))
	require.Eventually(t, func() bool { return submitter.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, trigger.Stop(ctx))
	assert.Equal(t, 1, submitter.count())
}
