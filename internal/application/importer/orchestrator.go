package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/logger"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/telemetry"
)

// maxOutcomeWarnings bounds the per-record messages kept on a component outcome
const maxOutcomeWarnings = 20

// ComponentTransformer normalizes the staged records of one component
type ComponentTransformer interface {
	Transform(ctx context.Context, integrationID uuid.UUID, component integration.Component, window integration.Window) (*TransformResult, error)
}

// OrchestratorConfig holds the orchestrator tuning
type OrchestratorConfig struct {
	// ComponentParallelism bounds the components of one stage imported at once
	ComponentParallelism int
	// PageRetryAttempts is how many times a retryable page failure is retried
	PageRetryAttempts  int
	PageRetryBaseDelay time.Duration
	PageRetryMaxDelay  time.Duration
	// FetchTimeout bounds each adapter call
	FetchTimeout time.Duration
	// RunBudget bounds the wall-clock time of a whole run; zero disables it
	RunBudget time.Duration
}

// DefaultOrchestratorConfig returns the default orchestrator tuning
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ComponentParallelism: 3,
		PageRetryAttempts:    3,
		PageRetryBaseDelay:   2 * time.Second,
		PageRetryMaxDelay:    30 * time.Second,
		FetchTimeout:         60 * time.Second,
		RunBudget:            2 * time.Hour,
	}
}

// OrchestratorDeps are the collaborators of an Orchestrator
type OrchestratorDeps struct {
	Integrations integration.IntegrationRepository
	Credentials  integration.CredentialProvider
	Adapters     integration.AdapterRegistry
	Cursors      integration.CursorStore
	Staging      integration.StagingRepository
	Ledger       integration.RunLedger
	Leases       integration.LeaseManager
	Transformer  ComponentTransformer
	Metrics      *telemetry.ImportMetrics
	Logger       *zap.Logger
}

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

// Orchestrator runs imports: per component it fetches the window's pages into
// staging, transforms them and advances the cursor, recording every step on
// the run ledger.
type Orchestrator struct {
	deps   OrchestratorDeps
	config OrchestratorConfig
	logger *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active map[uuid.UUID]*atomic.Bool
}

// NewOrchestrator creates an orchestrator. Zero config values take their defaults.
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	defaults := DefaultOrchestratorConfig()
	if cfg.ComponentParallelism <= 0 {
		cfg.ComponentParallelism = defaults.ComponentParallelism
	}
	if cfg.PageRetryAttempts < 0 {
		cfg.PageRetryAttempts = 0
	}
	if cfg.PageRetryBaseDelay <= 0 {
		cfg.PageRetryBaseDelay = defaults.PageRetryBaseDelay
	}
	if cfg.PageRetryMaxDelay < cfg.PageRetryBaseDelay {
		cfg.PageRetryMaxDelay = cfg.PageRetryBaseDelay
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		deps:   deps,
		config: cfg,
		logger: log,
		now:    time.Now,
		sleep:  sleepContext,
		active: make(map[uuid.UUID]*atomic.Bool),
	}
}

// Prepare validates a request and records its pending run on the ledger
func (o *Orchestrator) Prepare(ctx context.Context, req integration.RunRequest) (*integration.ImportRun, error) {
	if req.IntegrationID == uuid.Nil {
		return nil, &integration.ValidationError{Reason: "integration id is required"}
	}
	if req.Since != nil && req.Until != nil && req.Since.After(*req.Until) {
		return nil, &integration.ValidationError{Reason: "since is after until"}
	}
	if req.Trigger != "" && !req.Trigger.IsValid() {
		return nil, &integration.ValidationError{Reason: fmt.Sprintf("unknown trigger %q", req.Trigger)}
	}
	if req.JobID == uuid.Nil {
		req.JobID = uuid.New()
	}

	run := integration.NewImportRun(req.JobID, req.IntegrationID, req.Components, req.Mode(), req.Trigger).
		WithWindow(utcPtr(req.Since), utcPtr(req.Until))
	if req.Attempt > 1 {
		run.Attempt = req.Attempt
	}
	if err := o.deps.Ledger.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create import run: %w", err)
	}
	return run, nil
}

// RunImport prepares and executes a run synchronously
func (o *Orchestrator) RunImport(ctx context.Context, req integration.RunRequest) (*integration.ImportRun, error) {
	run, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, run.ID)
}

// Cancel requests cooperative cancellation of a run. A running run stops at
// its next component or page boundary; a pending run is cancelled at once.
func (o *Orchestrator) Cancel(ctx context.Context, runID uuid.UUID) error {
	o.mu.Lock()
	flag, running := o.active[runID]
	o.mu.Unlock()
	if running {
		flag.Store(true)
		return nil
	}

	run, err := o.deps.Ledger.FindByID(ctx, runID)
	if err != nil {
		return err
	}
	if err := run.Cancel(); err != nil {
		return err
	}
	return o.deps.Ledger.Update(ctx, run)
}

// Execute runs a pending run to a terminal status. Failures of the run itself
// are recorded on the returned run; the error is reserved for ledger failures
// and runs that cannot execute.
func (o *Orchestrator) Execute(ctx context.Context, runID uuid.UUID) (*integration.ImportRun, error) {
	run, err := o.deps.Ledger.FindByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return run, integration.ErrRunTerminal
	}

	cancelled, err := o.register(runID)
	if err != nil {
		return run, err
	}
	defer o.unregister(runID)

	ctx, log := logger.WithRunID(ctx, o.logger, run.ID.String())
	ctx, log = logger.WithJobID(ctx, log, run.JobID.String())
	ctx, log = logger.WithIntegrationID(ctx, log, run.IntegrationID.String())

	ctx, span := telemetry.StartServiceSpan(ctx, "import", "run")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrRunID, run.ID.String(),
		telemetry.SpanAttrJobID, run.JobID.String(),
		telemetry.SpanAttrIntegrationID, run.IntegrationID.String(),
		telemetry.SpanAttrMode, string(run.Mode),
		telemetry.SpanAttrAttempt, run.Attempt,
	)

	// ledger writes outlive the run budget and caller cancellation
	persistCtx := context.WithoutCancel(ctx)
	runCtx := ctx
	if o.config.RunBudget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.config.RunBudget)
		defer cancel()
	}

	kind, err := o.execute(runCtx, persistCtx, run, cancelled, log)
	if err != nil {
		telemetry.RecordError(span, err)
		return run, err
	}

	o.deps.Metrics.ObserveRun(kind, string(run.Status), run.Duration())
	telemetry.SetAttributes(span,
		telemetry.SpanAttrVendorKind, kind,
		telemetry.SpanAttrStatus, string(run.Status),
	)
	if run.Status == integration.RunStatusSucceeded {
		telemetry.SetOK(span)
	}
	log.Info("Import run finished",
		zap.String("status", string(run.Status)),
		zap.Bool("retryable", run.Retryable),
		zap.Duration("duration", run.Duration()),
		zap.String("error", run.ErrorSummary),
	)
	return run, nil
}

func (o *Orchestrator) execute(ctx, persistCtx context.Context, run *integration.ImportRun, cancelled *atomic.Bool, log *zap.Logger) (string, error) {
	integ, err := o.deps.Integrations.FindByID(ctx, run.IntegrationID)
	if err != nil {
		return "", o.failRun(persistCtx, run, err)
	}
	kind := string(integ.VendorKind)
	if !integ.IsActive {
		return kind, o.failRun(persistCtx, run, fmt.Errorf("%w: %s", integration.ErrIntegrationInactive, integ.ID))
	}
	specs, err := integration.ResolveComponents(integ.VendorKind, run.Components)
	if err != nil {
		return kind, o.failRun(persistCtx, run, err)
	}

	var (
		cred    *integration.Credential
		adapter integration.VendorAdapter
	)
	if run.Mode != integration.RunModeTransformOnly {
		cred, err = o.deps.Credentials.GetCredential(ctx, integ.ID)
		if err == nil && cred.IsExpired(o.now()) {
			err = &integration.CredentialError{IntegrationID: integ.ID, Reason: "credential expired"}
		}
		if err != nil {
			return kind, o.failRun(persistCtx, run, err)
		}
		adapter, err = o.deps.Adapters.Get(integ.VendorKind)
		if err != nil {
			return kind, o.failRun(persistCtx, run, err)
		}
	}

	if err := run.Start(); err != nil {
		return kind, err
	}
	if err := o.deps.Ledger.Update(persistCtx, run); err != nil {
		return kind, fmt.Errorf("update import run: %w", err)
	}

	job := &componentJob{
		run:     run,
		integ:   integ,
		cred:    cred,
		adapter: adapter,
		until:   o.now().UTC(),
		stop:    cancelled,
	}
	log.Info("Import run started",
		zap.String("vendor_kind", kind),
		zap.Int("components", len(specs)),
		zap.Time("until", job.until),
	)

	var (
		errMu sync.Mutex
		errs  []error
	)
	for _, stage := range integration.Stages(specs) {
		if o.stopped(ctx, cancelled) {
			for _, spec := range stage {
				_ = run.RecordOutcome(integration.ComponentOutcome{Component: spec.Name, Status: integration.ComponentStatusCancelled})
			}
			continue
		}

		g := new(errgroup.Group)
		g.SetLimit(o.config.ComponentParallelism)
		for _, spec := range stage {
			g.Go(func() error {
				outcome, err := o.runComponent(ctx, job, spec)
				errMu.Lock()
				defer errMu.Unlock()
				_ = run.RecordOutcome(outcome)
				if err != nil && !errors.Is(err, integration.ErrRunCancelled) {
					errs = append(errs, fmt.Errorf("%s: %w", spec.Name, err))
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := o.deps.Ledger.Update(persistCtx, run); err != nil {
			return kind, fmt.Errorf("update import run: %w", err)
		}
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && !cancelled.Load():
		err = run.Fail(&integration.TimeoutError{Budget: o.config.RunBudget, Elapsed: run.Duration()})
	case cancelled.Load() || ctx.Err() != nil:
		err = run.Cancel()
	default:
		err = run.Finish(errors.Join(errs...))
	}
	if err != nil {
		return kind, err
	}
	if err := o.deps.Ledger.Update(persistCtx, run); err != nil {
		return kind, fmt.Errorf("update import run: %w", err)
	}
	return kind, nil
}

// failRun records a run-level failure that prevented any component from running
func (o *Orchestrator) failRun(ctx context.Context, run *integration.ImportRun, cause error) error {
	if err := run.Fail(cause); err != nil {
		return err
	}
	if err := o.deps.Ledger.Update(ctx, run); err != nil {
		return fmt.Errorf("update import run: %w", err)
	}
	o.logger.Warn("Import run failed before start",
		zap.String("run_id", run.ID.String()),
		zap.String("integration_id", run.IntegrationID.String()),
		zap.Error(cause),
	)
	return nil
}

func (o *Orchestrator) register(runID uuid.UUID) (*atomic.Bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[runID]; ok {
		return nil, fmt.Errorf("import run %s is already executing", runID)
	}
	flag := new(atomic.Bool)
	o.active[runID] = flag
	return flag, nil
}

func (o *Orchestrator) unregister(runID uuid.UUID) {
	o.mu.Lock()
	delete(o.active, runID)
	o.mu.Unlock()
}

// ActiveRuns returns the ids of the runs currently executing
func (o *Orchestrator) ActiveRuns() []uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) stopped(ctx context.Context, cancelled *atomic.Bool) bool {
	return cancelled.Load() || ctx.Err() != nil
}

// ---------------------------------------------------------------------------
// Component pipeline
// ---------------------------------------------------------------------------

// componentJob is the per-run state shared by the component goroutines
type componentJob struct {
	run     *integration.ImportRun
	integ   *integration.Integration
	cred    *integration.Credential
	adapter integration.VendorAdapter
	until   time.Time
	stop    *atomic.Bool
}

// runComponent imports one component under its lease: fetch, transform, then
// advance the cursor when both succeeded. Derived components skip the fetch.
func (o *Orchestrator) runComponent(ctx context.Context, job *componentJob, spec integration.ComponentSpec) (integration.ComponentOutcome, error) {
	component := spec.Name
	started := o.now()
	outcome := integration.ComponentOutcome{
		Component: component,
		Status:    integration.ComponentStatusRunning,
		StartedAt: &started,
	}
	log := logger.FromContext(ctx).With(zap.String("component", string(component)))

	ctx, span := telemetry.StartServiceSpan(ctx, "import", "component",
		telemetry.WithAttribute(telemetry.SpanAttrComponent, string(component)),
	)
	defer span.End()

	finish := func(status integration.ComponentStatus, err error) (integration.ComponentOutcome, error) {
		finished := o.now()
		outcome.Status = status
		outcome.FinishedAt = &finished
		telemetry.SetAttribute(span, telemetry.SpanAttrStatus, string(status))
		if err != nil {
			outcome.Error = err.Error()
			telemetry.RecordError(span, err)
		}
		return outcome, err
	}

	if o.stopped(ctx, job.stop) {
		return finish(integration.ComponentStatusCancelled, integration.ErrRunCancelled)
	}

	lease, err := o.deps.Leases.Acquire(ctx, integration.LeaseKey(job.integ.ID, component))
	if err != nil {
		if o.stopped(ctx, job.stop) {
			return finish(integration.ComponentStatusCancelled, integration.ErrRunCancelled)
		}
		return finish(integration.ComponentStatusFailed, err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release import lease", zap.String("key", lease.Key()), zap.Error(err))
		}
	}()

	// losing the lease stops the pipeline like a cancellation, but fails the component
	ctx, stopWatch := context.WithCancelCause(ctx)
	defer stopWatch(nil)
	go func() {
		select {
		case <-lease.Lost():
			stopWatch(fmt.Errorf("%w: %s", integration.ErrLeaseNotHeld, lease.Key()))
		case <-ctx.Done():
		}
	}()
	interrupted := func() (integration.ComponentOutcome, error) {
		if cause := context.Cause(ctx); errors.Is(cause, integration.ErrLeaseNotHeld) {
			return finish(integration.ComponentStatusFailed, cause)
		}
		return finish(integration.ComponentStatusCancelled, integration.ErrRunCancelled)
	}

	// the cursor is read under the lease so concurrent runs see each other's advance
	window, err := o.componentWindow(ctx, job, spec)
	if err != nil {
		return finish(integration.ComponentStatusFailed, err)
	}
	outcome.Since, outcome.Until = window.Since, window.Until

	var fetchErr error
	if job.run.Mode != integration.RunModeTransformOnly && !spec.Derived {
		fetchErr = o.fetchAll(ctx, job, component, window, &outcome)
		if fetchErr != nil {
			log.Warn("Fetch failed, transforming what was staged", zap.Error(fetchErr))
		}
	}
	if o.stopped(ctx, job.stop) {
		return interrupted()
	}

	// staged rows are stamped with their fetch time, which is after the captured until
	result, err := o.deps.Transformer.Transform(ctx, job.integ.ID, component,
		integration.Window{Since: window.Since, Until: o.now().UTC()})
	if result != nil {
		outcome.Normalized = result.Normalized
		outcome.Deferred = result.Deferred
		outcome.Skipped = result.Skipped
		for i, recErr := range result.Errors {
			if i == maxOutcomeWarnings {
				outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("%d more skipped records", len(result.Errors)-i))
				break
			}
			outcome.Warnings = append(outcome.Warnings, recErr.Error())
		}
		o.deps.Metrics.AddRecords(string(component), telemetry.RecordStageNormalized, result.Normalized)
		o.deps.Metrics.AddRecords(string(component), telemetry.RecordStageDeferred, result.Deferred)
		o.deps.Metrics.AddRecords(string(component), telemetry.RecordStageSkipped, result.Skipped)
	}
	switch {
	case fetchErr != nil && integration.IsRetryable(fetchErr):
		// retries exhausted; pages staged before the failure were still transformed
		return finish(integration.ComponentStatusPartiallyFailed, fetchErr)
	case fetchErr != nil:
		return finish(integration.ComponentStatusFailed, fetchErr)
	case err != nil:
		if o.stopped(ctx, job.stop) {
			return interrupted()
		}
		return finish(integration.ComponentStatusFailed, fmt.Errorf("transform: %w", err))
	}

	if job.run.Mode != integration.RunModeTransformOnly {
		if ctx.Err() != nil {
			return interrupted()
		}
		_, err := o.deps.Cursors.Advance(ctx, job.integ.ID, component, window.Until, "")
		var stale *integration.StaleAdvanceError
		switch {
		case errors.As(err, &stale):
			outcome.Warnings = append(outcome.Warnings, err.Error())
			log.Warn("Cursor not advanced", zap.Error(err))
		case err != nil:
			return finish(integration.ComponentStatusFailed, fmt.Errorf("advance cursor: %w", err))
		}
	}
	return finish(integration.ComponentStatusSucceeded, nil)
}

// componentWindow resolves [since, until]: explicit bounds win, otherwise the
// cursor watermark (or start of today) up to the run's captured until. A
// derived component without a cursor starts from all of its source rows.
func (o *Orchestrator) componentWindow(ctx context.Context, job *componentJob, spec integration.ComponentSpec) (integration.Window, error) {
	component := spec.Name
	w := integration.Window{Until: job.until}
	if job.run.Until != nil {
		w.Until = job.run.Until.UTC()
	}
	if job.run.Since != nil {
		w.Since = job.run.Since.UTC()
	} else {
		cursor, err := o.deps.Cursors.Get(ctx, job.integ.ID, component)
		if err != nil {
			return w, fmt.Errorf("read cursor: %w", err)
		}
		switch {
		case cursor != nil && cursor.Watermark != nil:
			w.Since = cursor.Watermark.UTC()
		case spec.Derived:
			w.Since = derivedEpoch
		default:
			w.Since = integration.StartOfDay(job.until)
		}
	}
	if !w.IsValid() {
		return w, &integration.ValidationError{
			Component: component,
			Reason:    fmt.Sprintf("window %s..%s is empty", w.Since.Format(time.RFC3339), w.Until.Format(time.RFC3339)),
		}
	}
	return w, nil
}

// fetchAll pages through the adapter, staging every page as it arrives
func (o *Orchestrator) fetchAll(ctx context.Context, job *componentJob, component integration.Component, window integration.Window, outcome *integration.ComponentOutcome) error {
	log := logger.FromContext(ctx).With(zap.String("component", string(component)))
	token := ""
	for {
		if o.stopped(ctx, job.stop) {
			return integration.ErrRunCancelled
		}

		page, err := o.fetchPage(ctx, job, integration.PageRequest{Component: component, Window: window, PageToken: token})
		if err != nil {
			return err
		}
		outcome.Pages++
		outcome.Fetched += len(page.Records)

		fetchedAt := o.now()
		batch := make([]*integration.RawRecord, 0, len(page.Records))
		for _, rec := range page.Records {
			if rec.VendorID == "" {
				log.Warn("Dropping record without vendor id", zap.Int("page", outcome.Pages))
				continue
			}
			batch = append(batch, integration.NewRawRecord(job.integ.ID, component, rec, fetchedAt))
		}
		if len(batch) > 0 {
			n, err := o.deps.Staging.UpsertBatch(ctx, batch)
			if err != nil {
				return fmt.Errorf("stage page %d: %w", outcome.Pages, err)
			}
			outcome.Staged += n
			o.deps.Metrics.AddRecords(string(component), telemetry.RecordStageStaged, n)
		}
		o.deps.Metrics.AddRecords(string(component), telemetry.RecordStageFetched, len(page.Records))

		if page.Done || page.NextPageToken == "" {
			return nil
		}
		if page.NextPageToken == token {
			return &integration.ValidationError{Component: component, Reason: "page token did not advance: " + token}
		}
		token = page.NextPageToken
	}
}

// fetchPage calls the adapter under the per-call timeout, retrying retryable
// failures with capped exponential backoff
func (o *Orchestrator) fetchPage(ctx context.Context, job *componentJob, req integration.PageRequest) (*integration.Page, error) {
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.config.FetchTimeout)
		page, err := job.adapter.FetchPage(callCtx, job.cred, req)
		cancel()
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, integration.ErrTransientFetch) {
			err = &integration.TransientFetchError{Component: req.Component, Err: err}
		}
		if !integration.IsRetryable(err) || attempt >= o.config.PageRetryAttempts {
			return nil, err
		}

		delay := o.retryDelay(attempt)
		o.deps.Metrics.IncPageRetry(string(req.Component))
		logger.FromContext(ctx).Warn("Retrying page fetch",
			zap.String("component", string(req.Component)),
			zap.String("page_token", req.PageToken),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// retryDelay returns base * 2^attempt capped at the maximum delay
func (o *Orchestrator) retryDelay(attempt int) time.Duration {
	delay := o.config.PageRetryBaseDelay
	for i := 0; i < attempt && delay < o.config.PageRetryMaxDelay; i++ {
		delay *= 2
	}
	if delay > o.config.PageRetryMaxDelay {
		delay = o.config.PageRetryMaxDelay
	}
	return delay
}

// derivedEpoch is the lower bound of a derived component's first window
var derivedEpoch = time.Unix(0, 0).UTC()

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
