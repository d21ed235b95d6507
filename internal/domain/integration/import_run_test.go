package integration

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRun() *ImportRun {
	return NewImportRun(uuid.New(), uuid.New(), []Component{ComponentAccounts}, "", "")
}

func TestNewImportRun_Defaults(t *testing.T) {
	run := newTestRun()

	assert.Equal(t, RunStatusPending, run.Status)
	assert.Equal(t, RunModeFullImport, run.Mode)
	assert.Equal(t, RunTriggerManual, run.Trigger)
	assert.Equal(t, 1, run.Attempt)
	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Zero(t, run.Duration())
}

func TestImportRun_AggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []ComponentStatus
		want     RunStatus
	}{
		{"all succeeded", []ComponentStatus{ComponentStatusSucceeded, ComponentStatusSucceeded}, RunStatusSucceeded},
		{"mixed", []ComponentStatus{ComponentStatusSucceeded, ComponentStatusFailed}, RunStatusPartiallyFailed},
		{"all failed", []ComponentStatus{ComponentStatusFailed, ComponentStatusFailed}, RunStatusFailed},
		{"partially failed component is not a success", []ComponentStatus{ComponentStatusSucceeded, ComponentStatusPartiallyFailed}, RunStatusPartiallyFailed},
		{"only partially failed components", []ComponentStatus{ComponentStatusPartiallyFailed}, RunStatusFailed},
		{"none recorded", nil, RunStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := newTestRun()
			require.NoError(t, run.Start())
			for i, s := range tt.statuses {
				require.NoError(t, run.RecordOutcome(ComponentOutcome{Component: Component(rune('a' + i)), Status: s}))
			}
			assert.Equal(t, tt.want, run.AggregateStatus())
		})
	}
}

func TestImportRun_RecordOutcomeReplaces(t *testing.T) {
	run := newTestRun()
	require.NoError(t, run.Start())
	require.NoError(t, run.RecordOutcome(ComponentOutcome{Component: ComponentAccounts, Status: ComponentStatusRunning}))
	require.NoError(t, run.RecordOutcome(ComponentOutcome{Component: ComponentAccounts, Status: ComponentStatusSucceeded, Staged: 4}))

	require.Len(t, run.Outcomes, 1)
	out, ok := run.Outcome(ComponentAccounts)
	require.True(t, ok)
	assert.Equal(t, 4, out.Staged)

	_, ok = run.Outcome(ComponentOrders)
	assert.False(t, ok)
}

func TestImportRun_TerminalIsImmutable(t *testing.T) {
	run := newTestRun()
	require.NoError(t, run.Start())
	require.NoError(t, run.RecordOutcome(ComponentOutcome{Component: ComponentAccounts, Status: ComponentStatusSucceeded}))
	require.NoError(t, run.Finish(nil))

	assert.Equal(t, RunStatusSucceeded, run.Status)
	assert.NotNil(t, run.FinishedAt)
	assert.ErrorIs(t, run.Start(), ErrRunTerminal)
	assert.ErrorIs(t, run.RecordOutcome(ComponentOutcome{Component: ComponentOrders}), ErrRunTerminal)
	assert.ErrorIs(t, run.Finish(nil), ErrRunTerminal)
	assert.ErrorIs(t, run.Fail(nil), ErrRunTerminal)
	assert.ErrorIs(t, run.Cancel(), ErrRunTerminal)
}

func TestImportRun_Retryable(t *testing.T) {
	t.Run("failed with transient error is retryable", func(t *testing.T) {
		run := newTestRun()
		require.NoError(t, run.Start())
		require.NoError(t, run.RecordOutcome(ComponentOutcome{Component: ComponentAccounts, Status: ComponentStatusFailed}))
		require.NoError(t, run.Finish(&TransientFetchError{Component: ComponentAccounts}))

		assert.Equal(t, RunStatusFailed, run.Status)
		assert.True(t, run.Retryable)
		assert.Contains(t, run.ErrorSummary, "transient")
	})

	t.Run("partially failed is not retryable", func(t *testing.T) {
		run := newTestRun()
		require.NoError(t, run.Start())
		require.NoError(t, run.RecordOutcome(ComponentOutcome{Component: ComponentAccounts, Status: ComponentStatusSucceeded}))
		require.NoError(t, run.RecordOutcome(ComponentOutcome{Component: ComponentContacts, Status: ComponentStatusFailed}))
		require.NoError(t, run.Finish(&TransientFetchError{Component: ComponentContacts}))

		assert.Equal(t, RunStatusPartiallyFailed, run.Status)
		assert.False(t, run.Retryable)
	})

	t.Run("budget timeout is not retryable", func(t *testing.T) {
		run := newTestRun()
		require.NoError(t, run.Start())
		require.NoError(t, run.Fail(&TimeoutError{Budget: time.Second}))

		assert.Equal(t, RunStatusFailed, run.Status)
		assert.False(t, run.Retryable)
	})

	t.Run("cancel records cancelled", func(t *testing.T) {
		run := newTestRun()
		require.NoError(t, run.Start())
		require.NoError(t, run.Cancel())

		assert.Equal(t, RunStatusCancelled, run.Status)
		assert.False(t, run.Retryable)
		assert.Greater(t, run.Duration(), time.Duration(-1))
	})
}

func TestRunFilter_Normalize(t *testing.T) {
	f := RunFilter{}
	f.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 20, f.PageSize)
	assert.Equal(t, 0, f.Offset())

	f = RunFilter{Page: 3, PageSize: 1000}
	f.Normalize()
	assert.Equal(t, 500, f.PageSize)
	assert.Equal(t, 1000, f.Offset())
}

func TestNewRawRecord(t *testing.T) {
	fetched := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.New()

	rec := NewRawRecord(id, ComponentOrders, FetchedRecord{VendorID: "o-1", Payload: json.RawMessage(`{"a":1}`)}, fetched)
	assert.Equal(t, fetched, rec.ModifiedAt)
	assert.Len(t, rec.PayloadHash, 64)

	modified := fetched.Add(-time.Hour)
	rec2 := NewRawRecord(id, ComponentOrders, FetchedRecord{VendorID: "o-1", ModifiedAt: &modified, Payload: json.RawMessage(`{"a":1}`)}, fetched)
	assert.Equal(t, modified, rec2.ModifiedAt)
	assert.Equal(t, rec.PayloadHash, rec2.PayloadHash)
}

func TestNormalizedRecord_ComputeHash(t *testing.T) {
	occurred := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	build := func() *NormalizedRecord {
		return &NormalizedRecord{
			EntityType:  "invoice",
			DisplayName: "INV-1",
			Amount:      decimal.NewNullDecimal(decimal.RequireFromString("10.50")),
			Currency:    "USD",
			OccurredAt:  &occurred,
			Attributes:  map[string]any{"b": 2, "a": "x"},
			References:  map[string]Reference{"contact": {Component: ComponentContacts, VendorID: "c-1"}},
		}
	}

	a, b := build(), build()
	b.TransformedAt = time.Now()
	require.NoError(t, a.ComputeHash())
	require.NoError(t, b.ComputeHash())
	assert.Equal(t, a.SourceHash, b.SourceHash)

	c := build()
	c.Amount = decimal.NewNullDecimal(decimal.RequireFromString("10.51"))
	require.NoError(t, c.ComputeHash())
	assert.NotEqual(t, a.SourceHash, c.SourceHash)
}
