package importer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/lock"
)

func outcomeOf(t *testing.T, run *integration.ImportRun, component integration.Component) integration.ComponentOutcome {
	t.Helper()
	for _, o := range run.Outcomes {
		if o.Component == component {
			return o
		}
	}
	t.Fatalf("no outcome for %s", component)
	return integration.ComponentOutcome{}
}

func seedAccountingPages(env *testEnv) {
	env.adapter.setPages(integration.ComponentAccounts,
		[]integration.FetchedRecord{fetched("a-1", `{"AccountID":"a-1","Name":"Cash"}`)},
		[]integration.FetchedRecord{fetched("a-2", `{"AccountID":"a-2","Name":"Sales"}`)},
	)
	env.adapter.setPages(integration.ComponentContacts,
		[]integration.FetchedRecord{fetched("c-1", `{"ContactID":"c-1","Name":"Acme"}`)},
	)
	env.adapter.setPages(integration.ComponentInvoices,
		[]integration.FetchedRecord{fetched("i-1", `{"InvoiceID":"i-1","Total":"10.50","Contact":{"ContactID":"c-1"}}`)},
	)
}

func TestOrchestrator_RunImportSucceeds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	seedAccountingPages(env)

	run, err := env.orch.RunImport(ctx, env.request(
		integration.ComponentAccounts, integration.ComponentContacts, integration.ComponentInvoices))
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusSucceeded, run.Status)
	assert.False(t, run.Retryable)
	require.Len(t, run.Outcomes, 3)

	accounts := outcomeOf(t, run, integration.ComponentAccounts)
	assert.Equal(t, integration.ComponentStatusSucceeded, accounts.Status)
	assert.Equal(t, 2, accounts.Pages)
	assert.Equal(t, 2, accounts.Fetched)
	assert.Equal(t, 2, accounts.Staged)
	assert.Equal(t, 2, accounts.Normalized)

	// invoices run after contacts, so the reference resolves on the first pass
	invoices := outcomeOf(t, run, integration.ComponentInvoices)
	assert.Equal(t, 1, invoices.Normalized)
	assert.Zero(t, invoices.Deferred)

	for _, c := range []integration.Component{integration.ComponentAccounts, integration.ComponentContacts, integration.ComponentInvoices} {
		wm := env.watermark(t, c)
		require.NotNil(t, wm, c)
		assert.True(t, wm.Equal(testClock), c)
	}

	stored, err := env.ledger.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusSucceeded, stored.Status)
	assert.Len(t, stored.Outcomes, 3)
	assert.Empty(t, env.orch.ActiveRuns())
}

func TestOrchestrator_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	seedAccountingPages(env)
	req := env.request(integration.ComponentAccounts, integration.ComponentContacts, integration.ComponentInvoices)

	_, err := env.orch.RunImport(ctx, req)
	require.NoError(t, err)
	env.orch.now = func() time.Time { return testClock.Add(time.Hour) }
	env.transformer.now = env.orch.now
	run, err := env.orch.RunImport(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusSucceeded, run.Status)

	assert.Equal(t, int64(2), env.stagedCount(t, integration.ComponentAccounts))
	assert.Equal(t, int64(2), env.normalizedCount(t, integration.ComponentAccounts))
	assert.Equal(t, int64(1), env.normalizedCount(t, integration.ComponentInvoices))
	wm := env.watermark(t, integration.ComponentAccounts)
	require.NotNil(t, wm)
	assert.True(t, wm.Equal(testClock.Add(time.Hour)))
}

func TestOrchestrator_RetriesTransientPageFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	seedAccountingPages(env)
	env.adapter.failOn(integration.ComponentAccounts, "1",
		&integration.TransientFetchError{Component: integration.ComponentAccounts, StatusCode: 503})
	env.adapter.failOn(integration.ComponentAccounts, "1", context.DeadlineExceeded)

	run, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts))
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusSucceeded, run.Status)

	// first page once, second page after two retries
	assert.Len(t, env.adapter.callsFor(integration.ComponentAccounts), 4)
	assert.Equal(t, int64(2), env.stagedCount(t, integration.ComponentAccounts))
	assert.Equal(t, 2, outcomeOf(t, run, integration.ComponentAccounts).Pages)
}

func TestOrchestrator_ExhaustedRetriesFailComponentOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	seedAccountingPages(env)
	for i := 0; i < 3; i++ {
		env.adapter.failOn(integration.ComponentContacts, "",
			&integration.TransientFetchError{Component: integration.ComponentContacts, StatusCode: 429})
	}
	// staged by an earlier run; the transform still picks it up
	env.stage(t, integration.ComponentContacts, fetched("c-9", `{"ContactID":"c-9","Name":"Earlier"}`))

	run, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts, integration.ComponentContacts))
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusPartiallyFailed, run.Status)
	assert.False(t, run.Retryable)
	assert.Contains(t, run.ErrorSummary, "contacts")

	contacts := outcomeOf(t, run, integration.ComponentContacts)
	assert.Equal(t, integration.ComponentStatusPartiallyFailed, contacts.Status)
	assert.Equal(t, 1, contacts.Normalized)
	assert.Len(t, env.adapter.callsFor(integration.ComponentContacts), 3)
	assert.Nil(t, env.watermark(t, integration.ComponentContacts))
	assert.NotNil(t, env.watermark(t, integration.ComponentAccounts))
}

func TestOrchestrator_ExhaustedRetriesKeepStagedPages(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	seedAccountingPages(env)
	for i := 0; i < 3; i++ {
		env.adapter.failOn(integration.ComponentAccounts, "1",
			&integration.TransientFetchError{Component: integration.ComponentAccounts, StatusCode: 503})
	}

	run, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts))
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusFailed, run.Status)
	assert.True(t, run.Retryable)

	accounts := outcomeOf(t, run, integration.ComponentAccounts)
	assert.Equal(t, integration.ComponentStatusPartiallyFailed, accounts.Status)
	assert.Equal(t, 1, accounts.Staged)
	assert.Equal(t, 1, accounts.Normalized)
	assert.Equal(t, int64(1), env.normalizedCount(t, integration.ComponentAccounts))
	assert.Nil(t, env.watermark(t, integration.ComponentAccounts))
}

func TestOrchestrator_AllComponentsFailedIsRetryable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	for i := 0; i < 3; i++ {
		env.adapter.failOn(integration.ComponentAccounts, "",
			&integration.TransientFetchError{Component: integration.ComponentAccounts})
	}

	run, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts))
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusFailed, run.Status)
	assert.True(t, run.Retryable)
}

func TestOrchestrator_CredentialErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	env.adapter.failOn(integration.ComponentAccounts, "",
		&integration.CredentialError{IntegrationID: env.integ.ID, Reason: "token revoked"})

	run, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts))
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusFailed, run.Status)
	assert.False(t, run.Retryable)
	assert.Len(t, env.adapter.callsFor(integration.ComponentAccounts), 1)
	assert.Nil(t, env.watermark(t, integration.ComponentAccounts))
}

func TestOrchestrator_FailsBeforeStart(t *testing.T) {
	ctx := context.Background()

	t.Run("missing credential", func(t *testing.T) {
		env := newTestEnv(t, integration.VendorKindAccounting)
		integ := env.addIntegration(t, integration.VendorKindAccounting, true, false)
		run, err := env.orch.RunImport(ctx, integration.RunRequest{IntegrationID: integ.ID})
		require.NoError(t, err)
		assert.Equal(t, integration.RunStatusFailed, run.Status)
		assert.False(t, run.Retryable)
		assert.Contains(t, run.ErrorSummary, "credential")
		assert.Empty(t, run.Outcomes)
		assert.Empty(t, env.adapter.calls)
	})

	t.Run("inactive integration", func(t *testing.T) {
		env := newTestEnv(t, integration.VendorKindAccounting)
		integ := env.addIntegration(t, integration.VendorKindAccounting, false, true)
		run, err := env.orch.RunImport(ctx, integration.RunRequest{IntegrationID: integ.ID})
		require.NoError(t, err)
		assert.Equal(t, integration.RunStatusFailed, run.Status)
		assert.Contains(t, run.ErrorSummary, "inactive")
	})

	t.Run("unsupported component", func(t *testing.T) {
		env := newTestEnv(t, integration.VendorKindAccounting)
		run, err := env.orch.RunImport(ctx, env.request(integration.ComponentOrders))
		require.NoError(t, err)
		assert.Equal(t, integration.RunStatusFailed, run.Status)
		assert.False(t, run.Retryable)
		assert.Empty(t, env.adapter.calls)
	})
}

func TestOrchestrator_PrepareValidates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	since, until := testClock, testClock.Add(-time.Hour)

	tests := []struct {
		name string
		req  integration.RunRequest
	}{
		{"missing integration", integration.RunRequest{}},
		{"inverted window", integration.RunRequest{IntegrationID: env.integ.ID, Since: &since, Until: &until}},
		{"unknown trigger", integration.RunRequest{IntegrationID: env.integ.ID, Trigger: "webhook"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orch.Prepare(ctx, tt.req)
			assert.ErrorIs(t, err, integration.ErrValidation)
		})
	}
}

func TestOrchestrator_TransformOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	env.stage(t, integration.ComponentAccounts, fetched("a-1", `{"Name":"Cash"}`))
	env.stage(t, integration.ComponentInvoices,
		fetched("i-1", `{"Total":"5","Contact":{"ContactID":"nobody"}}`),
		fetched("i-2", `{"Total":"6"}`),
	)

	req := env.request(integration.ComponentAccounts, integration.ComponentInvoices)
	req.TransformOnly = true
	run, err := env.orch.RunImport(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusSucceeded, run.Status)
	assert.Equal(t, integration.RunModeTransformOnly, run.Mode)

	invoices := outcomeOf(t, run, integration.ComponentInvoices)
	assert.Equal(t, 1, invoices.Normalized)
	assert.Equal(t, 1, invoices.Deferred)
	assert.Zero(t, invoices.Pages)

	assert.Equal(t, env.stagedCount(t, integration.ComponentInvoices)-1, env.normalizedCount(t, integration.ComponentInvoices))
	assert.Empty(t, env.adapter.calls)
	assert.Nil(t, env.watermark(t, integration.ComponentAccounts))
}

func TestOrchestrator_DefaultWindowFollowsCursor(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)

	run, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts))
	require.NoError(t, err)
	first := outcomeOf(t, run, integration.ComponentAccounts)
	assert.True(t, first.Since.Equal(integration.StartOfDay(testClock)))
	assert.True(t, first.Until.Equal(testClock))

	env.orch.now = func() time.Time { return testClock.Add(2 * time.Hour) }
	run, err = env.orch.RunImport(ctx, env.request(integration.ComponentAccounts))
	require.NoError(t, err)
	second := outcomeOf(t, run, integration.ComponentAccounts)
	assert.True(t, second.Since.Equal(testClock))
	assert.True(t, second.Until.Equal(testClock.Add(2*time.Hour)))

	calls := env.adapter.callsFor(integration.ComponentAccounts)
	require.Len(t, calls, 2)
	assert.True(t, calls[1].Window.Since.Equal(testClock))
}

func TestOrchestrator_ExplicitWindowDoesNotRewindCursor(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	_, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts))
	require.NoError(t, err)

	since, until := testClock.Add(-72*time.Hour), testClock.Add(-48*time.Hour)
	req := env.request(integration.ComponentAccounts)
	req.Since, req.Until, req.Trigger = &since, &until, integration.RunTriggerCatchUp
	run, err := env.orch.RunImport(ctx, req)
	require.NoError(t, err)

	// a catch-up behind the watermark succeeds with a warning
	outcome := outcomeOf(t, run, integration.ComponentAccounts)
	assert.Equal(t, integration.ComponentStatusSucceeded, outcome.Status)
	assert.NotEmpty(t, outcome.Warnings)
	wm := env.watermark(t, integration.ComponentAccounts)
	require.NotNil(t, wm)
	assert.True(t, wm.Equal(testClock))
}

func TestOrchestrator_CancelStopsAtNextBoundary(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	seedAccountingPages(env)

	run, err := env.orch.Prepare(ctx, env.request(integration.ComponentAccounts, integration.ComponentContacts))
	require.NoError(t, err)
	env.adapter.hook = func(_ context.Context, req integration.PageRequest) error {
		if req.PageToken == "" {
			assert.NoError(t, env.orch.Cancel(ctx, run.ID))
		}
		return nil
	}

	run, err = env.orch.Execute(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusCancelled, run.Status)
	assert.False(t, run.Retryable)
	assert.Equal(t, integration.ComponentStatusCancelled, outcomeOf(t, run, integration.ComponentAccounts).Status)
	assert.Equal(t, integration.ComponentStatusCancelled, outcomeOf(t, run, integration.ComponentContacts).Status)

	// the first page was staged, the second never requested
	assert.Len(t, env.adapter.callsFor(integration.ComponentAccounts), 1)
	assert.Empty(t, env.adapter.callsFor(integration.ComponentContacts))
	assert.Equal(t, int64(1), env.stagedCount(t, integration.ComponentAccounts))
	assert.Nil(t, env.watermark(t, integration.ComponentAccounts))

	_, err = env.orch.Execute(ctx, run.ID)
	assert.ErrorIs(t, err, integration.ErrRunTerminal)
}

func TestOrchestrator_CancelPendingRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	run, err := env.orch.Prepare(ctx, env.request())
	require.NoError(t, err)

	require.NoError(t, env.orch.Cancel(ctx, run.ID))
	stored, err := env.ledger.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusCancelled, stored.Status)

	assert.ErrorIs(t, env.orch.Cancel(ctx, run.ID), integration.ErrRunTerminal)
	assert.ErrorIs(t, env.orch.Cancel(ctx, uuid.New()), integration.ErrRunNotFound)
}

func TestOrchestrator_RunBudgetExceeded(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	env.orch.config.RunBudget = 50 * time.Millisecond
	env.adapter.hook = func(ctx context.Context, _ integration.PageRequest) error {
		<-ctx.Done()
		return ctx.Err()
	}

	run, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts, integration.ComponentContacts))
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusFailed, run.Status)
	assert.False(t, run.Retryable)
	assert.Contains(t, run.ErrorSummary, "exceeded budget")
	assert.Empty(t, env.adapter.callsFor(integration.ComponentContacts))

	stored, err := env.ledger.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusFailed, stored.Status)
}

func TestOrchestrator_FetchTimeoutIsRetried(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	env.orch.config.FetchTimeout = 10 * time.Millisecond
	var mu sync.Mutex
	calls := 0
	env.adapter.hook = func(ctx context.Context, _ integration.PageRequest) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	run, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts))
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusSucceeded, run.Status)
	assert.Len(t, env.adapter.callsFor(integration.ComponentAccounts), 2)
}

func TestOrchestrator_SamePairRunsSerialize(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	seedAccountingPages(env)
	env.adapter.hook = func(context.Context, integration.PageRequest) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts))
			if err == nil && run.Status != integration.RunStatusSucceeded {
				err = errors.New(run.ErrorSummary)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	env.adapter.mu.Lock()
	defer env.adapter.mu.Unlock()
	assert.Equal(t, 1, env.adapter.maxInFlight[integration.ComponentAccounts])
}

func TestOrchestrator_LeaseOutlivesItsTTL(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	seedAccountingPages(env)
	env.orch.deps.Leases = lock.NewManager(lock.NewMemoryBackend(), lock.Config{
		TTL:            30 * time.Millisecond,
		AcquireTimeout: 5 * time.Second,
		PollInterval:   time.Millisecond,
		MaxPollDelay:   5 * time.Millisecond,
	}, nil)
	// each run holds the lease for several TTLs
	env.adapter.hook = func(context.Context, integration.PageRequest) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}

	var wg sync.WaitGroup
	runs := make(chan *integration.ImportRun, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts))
			assert.NoError(t, err)
			runs <- run
		}()
	}
	wg.Wait()
	close(runs)
	for run := range runs {
		require.NotNil(t, run)
		assert.Equal(t, integration.RunStatusSucceeded, run.Status, run.ErrorSummary)
	}

	env.adapter.mu.Lock()
	defer env.adapter.mu.Unlock()
	assert.Equal(t, 1, env.adapter.maxInFlight[integration.ComponentAccounts])
}

// expiringBackend never renews, so every held lease is reported lost
type expiringBackend struct {
	*lock.MemoryBackend
}

func (expiringBackend) Extend(context.Context, string, string, time.Duration) (bool, error) {
	return false, nil
}

func TestOrchestrator_LostLeaseFailsComponent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	seedAccountingPages(env)
	env.orch.deps.Leases = lock.NewManager(expiringBackend{lock.NewMemoryBackend()}, lock.Config{
		TTL:            30 * time.Millisecond,
		AcquireTimeout: time.Second,
		PollInterval:   time.Millisecond,
		MaxPollDelay:   5 * time.Millisecond,
	}, nil)
	env.adapter.hook = func(ctx context.Context, _ integration.PageRequest) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}

	run, err := env.orch.RunImport(ctx, env.request(integration.ComponentAccounts))
	require.NoError(t, err)
	accounts := outcomeOf(t, run, integration.ComponentAccounts)
	assert.Equal(t, integration.ComponentStatusFailed, accounts.Status)
	assert.Contains(t, accounts.Error, "lease")
	assert.True(t, run.Retryable)
	assert.Nil(t, env.watermark(t, integration.ComponentAccounts))
}

func TestOrchestrator_DerivedLedgerFollowsJournals(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindAccounting)
	seedAccountingPages(env)
	env.adapter.setPages(integration.ComponentJournals,
		[]integration.FetchedRecord{fetched("j-1", `{"JournalID":"j-1","JournalNumber":1,"JournalLines":[
			{"JournalLineID":"l-1","AccountID":"a-1","NetAmount":10},
			{"JournalLineID":"l-2","AccountID":"a-2","NetAmount":-10}
		]}`)},
	)

	run, err := env.orch.RunImport(ctx, env.request(
		integration.ComponentGeneralLedger, integration.ComponentJournals, integration.ComponentAccounts))
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusSucceeded, run.Status, run.ErrorSummary)

	ledger := outcomeOf(t, run, integration.ComponentGeneralLedger)
	assert.Equal(t, integration.ComponentStatusSucceeded, ledger.Status)
	assert.Equal(t, 2, ledger.Normalized)
	assert.Zero(t, ledger.Pages, "derived components are not fetched")
	assert.Empty(t, env.adapter.callsFor(integration.ComponentGeneralLedger))
	assert.Equal(t, int64(2), env.normalizedCount(t, integration.ComponentGeneralLedger))
	assert.NotNil(t, env.watermark(t, integration.ComponentGeneralLedger))
}

func TestOrchestrator_StageFanOutIsBounded(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, integration.VendorKindERP)
	env.orch.config.ComponentParallelism = 2

	var mu sync.Mutex
	inFlight, peak := 0, 0
	env.adapter.hook = func(context.Context, integration.PageRequest) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	run, err := env.orch.RunImport(ctx, env.request())
	require.NoError(t, err)
	assert.Equal(t, integration.RunStatusSucceeded, run.Status)
	assert.Len(t, run.Outcomes, len(integration.ComponentsFor(integration.VendorKindERP)))
	assert.LessOrEqual(t, peak, 2)
}

func TestRetryDelay(t *testing.T) {
	o := NewOrchestrator(OrchestratorDeps{}, OrchestratorConfig{
		PageRetryBaseDelay: time.Second,
		PageRetryMaxDelay:  5 * time.Second,
	})
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, o.retryDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}
