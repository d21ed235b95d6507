package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/logger"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// RunExecutor Interface
// ---------------------------------------------------------------------------

// RunExecutor prepares, executes and cancels import runs
type RunExecutor interface {
	// Prepare records a pending run for the request
	Prepare(ctx context.Context, req integration.RunRequest) (*integration.ImportRun, error)
	// Execute runs a pending run to a terminal status
	Execute(ctx context.Context, runID uuid.UUID) (*integration.ImportRun, error)
	// Cancel requests cooperative cancellation of a run
	Cancel(ctx context.Context, runID uuid.UUID) error
}

// ---------------------------------------------------------------------------
// ImportSchedulerConfig
// ---------------------------------------------------------------------------

// ImportSchedulerConfig holds configuration for the import scheduler
type ImportSchedulerConfig struct {
	// Workers per lane. A worker pulls from lanes in priority order down to its own lane.
	HighWorkers     int
	NormalWorkers   int
	PeriodicWorkers int
	// QueueCapacity bounds the queued tickets of each lane
	QueueCapacity int
	// RetryBaseDelay and RetryMaxDelay bound the exponential backoff of retried jobs
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// HistorySize is the number of finished jobs kept for monitoring
	HistorySize int
	// PollInterval is how often idle workers look for jobs whose retry delay elapsed
	PollInterval time.Duration
}

// DefaultImportSchedulerConfig returns default configuration
func DefaultImportSchedulerConfig() ImportSchedulerConfig {
	return ImportSchedulerConfig{
		HighWorkers:     1,
		NormalWorkers:   3,
		PeriodicWorkers: 1,
		QueueCapacity:   100,
		RetryBaseDelay:  30 * time.Second,
		RetryMaxDelay:   15 * time.Minute,
		HistorySize:     100,
		PollInterval:    time.Second,
	}
}

// Validate validates the configuration
func (c *ImportSchedulerConfig) Validate() error {
	if c.HighWorkers < 0 || c.NormalWorkers < 0 || c.PeriodicWorkers < 0 {
		return ErrInvalidConfig
	}
	if c.HighWorkers+c.NormalWorkers+c.PeriodicWorkers == 0 {
		return ErrInvalidConfig
	}
	if c.QueueCapacity <= 0 {
		return ErrInvalidConfig
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return ErrInvalidConfig
	}
	if c.PollInterval <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

func (c *ImportSchedulerConfig) workers(lane integration.Lane) int {
	switch lane {
	case integration.LaneHigh:
		return c.HighWorkers
	case integration.LaneNormal:
		return c.NormalWorkers
	default:
		return c.PeriodicWorkers
	}
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// LaneSnapshot is the monitoring view of one lane
type LaneSnapshot struct {
	Lane    integration.Lane `json:"lane"`
	Workers int              `json:"workers"`
	Queued  int              `json:"queued"`
	Running int              `json:"running"`
}

// Snapshot is a read-only view of the scheduler
type Snapshot struct {
	Running bool                    `json:"running"`
	TakenAt time.Time               `json:"taken_at"`
	Lanes   []LaneSnapshot          `json:"lanes"`
	Active  []integration.JobTicket `json:"active"`
	Recent  []integration.JobTicket `json:"recent"`
}

// ---------------------------------------------------------------------------
// ImportScheduler
// ---------------------------------------------------------------------------

// ImportScheduler routes import job tickets through priority lanes to a
// bounded worker pool and requeues retryable failures with backoff
type ImportScheduler struct {
	config   ImportSchedulerConfig
	executor RunExecutor
	metrics  *telemetry.ImportMetrics
	logger   *zap.Logger
	now      func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	queues          map[integration.Lane][]*integration.JobTicket
	reserved        map[integration.Lane]int
	running         map[integration.Lane]int
	jobs            map[uuid.UUID]*integration.JobTicket
	cancelRequested map[uuid.UUID]bool
	wake            chan struct{}

	// finished jobs for monitoring, newest first
	history []integration.JobTicket
}

// NewImportScheduler creates a new import scheduler
func NewImportScheduler(config ImportSchedulerConfig, executor RunExecutor, metrics *telemetry.ImportMetrics, logger *zap.Logger) (*ImportScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultImportSchedulerConfig().HistorySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &ImportScheduler{
		config:          config,
		executor:        executor,
		metrics:         metrics,
		logger:          logger,
		now:             time.Now,
		queues:          make(map[integration.Lane][]*integration.JobTicket),
		reserved:        make(map[integration.Lane]int),
		running:         make(map[integration.Lane]int),
		jobs:            make(map[uuid.UUID]*integration.JobTicket),
		cancelRequested: make(map[uuid.UUID]bool),
		wake:            make(chan struct{}),
		history:         make([]integration.JobTicket, 0, config.HistorySize),
	}
	return s, nil
}

// Start starts the lane workers
func (s *ImportScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	workerID := 0
	for _, lane := range integration.Lanes() {
		for i := 0; i < s.config.workers(lane); i++ {
			s.wg.Add(1)
			go s.worker(ctx, lane, workerID)
			workerID++
		}
	}

	s.logger.Info("Import scheduler started",
		zap.Int("high_workers", s.config.HighWorkers),
		zap.Int("normal_workers", s.config.NormalWorkers),
		zap.Int("periodic_workers", s.config.PeriodicWorkers),
		zap.Int("queue_capacity", s.config.QueueCapacity),
	)
	return nil
}

// Stop stops the workers. Running imports are cancelled through their context.
func (s *ImportScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Import scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Import scheduler stop timed out")
		return ctx.Err()
	}
}

// Submit queues a ticket on its lane
func (s *ImportScheduler) Submit(ticket *integration.JobTicket) error {
	if !ticket.Lane.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidLane, ticket.Lane)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	if len(s.queues[ticket.Lane]) >= s.capacityLocked(ticket.Lane) {
		return ErrJobQueueFull
	}

	s.enqueueLocked(ticket)
	s.metrics.IncJob(string(ticket.Lane), string(integration.JobStatusQueued))
	s.logger.Debug("Import job submitted",
		zap.String("job_id", ticket.ID.String()),
		zap.String("run_id", ticket.RunID.String()),
		zap.String("integration_id", ticket.IntegrationID.String()),
		zap.String("lane", string(ticket.Lane)),
	)
	return nil
}

// Reserve makes room on a lane for n more tickets beyond the ones already
// queued. The extra room is given back once the lane drains.
func (s *ImportScheduler) Reserve(lane integration.Lane, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	need := len(s.queues[lane]) + n
	if need <= s.capacityLocked(lane) {
		return
	}
	s.reserved[lane] = need
	s.logger.Info("Import lane capacity raised",
		zap.String("lane", string(lane)),
		zap.Int("capacity", need),
	)
}

func (s *ImportScheduler) capacityLocked(lane integration.Lane) int {
	return max(s.config.QueueCapacity, s.reserved[lane])
}

// enqueueLocked appends the ticket to its lane and wakes idle workers
func (s *ImportScheduler) enqueueLocked(ticket *integration.JobTicket) {
	s.queues[ticket.Lane] = append(s.queues[ticket.Lane], ticket)
	s.jobs[ticket.ID] = ticket
	s.updateGaugesLocked(ticket.Lane)
	close(s.wake)
	s.wake = make(chan struct{})
}

// Cancel cancels a job. A queued job is removed from its lane; a running job
// is asked to stop through the orchestrator's cooperative cancel.
func (s *ImportScheduler) Cancel(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	ticket, ok := s.jobs[jobID]
	if !ok {
		_, finished := s.findHistoryLocked(jobID)
		s.mu.Unlock()
		if finished {
			return ErrJobFinished
		}
		return ErrJobNotFound
	}

	if ticket.Status == integration.JobStatusRunning {
		s.cancelRequested[jobID] = true
		runID := ticket.RunID
		s.mu.Unlock()
		s.logger.Info("Cancelling running import job", zap.String("job_id", jobID.String()))
		return s.executor.Cancel(ctx, runID)
	}

	s.removeQueuedLocked(ticket)
	ticket.Cancel()
	s.finishLocked(ticket)
	runID := ticket.RunID
	s.mu.Unlock()

	s.logger.Info("Cancelled queued import job", zap.String("job_id", jobID.String()))
	if err := s.executor.Cancel(ctx, runID); err != nil && !errors.Is(err, integration.ErrRunTerminal) {
		return err
	}
	return nil
}

func (s *ImportScheduler) removeQueuedLocked(ticket *integration.JobTicket) {
	queue := s.queues[ticket.Lane]
	for i, t := range queue {
		if t.ID == ticket.ID {
			s.queues[ticket.Lane] = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	s.updateGaugesLocked(ticket.Lane)
}

// Job returns a copy of a queued, running or recently finished job
func (s *ImportScheduler) Job(jobID uuid.UUID) (integration.JobTicket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket, ok := s.jobs[jobID]; ok {
		return *ticket, true
	}
	return s.findHistoryLocked(jobID)
}

// Children returns the jobs queued under a fan-out parent id
func (s *ImportScheduler) Children(parentID uuid.UUID) []integration.JobTicket {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []integration.JobTicket
	for _, ticket := range s.jobs {
		if ticket.ParentID != nil && *ticket.ParentID == parentID {
			out = append(out, *ticket)
		}
	}
	for _, ticket := range s.history {
		if ticket.ParentID != nil && *ticket.ParentID == parentID {
			out = append(out, ticket)
		}
	}
	return out
}

// Snapshot returns the per-lane depth, active jobs and recent history
func (s *ImportScheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Running: s.isRunning,
		TakenAt: s.now(),
		Active:  make([]integration.JobTicket, 0, len(s.jobs)),
		Recent:  make([]integration.JobTicket, len(s.history)),
	}
	for _, lane := range integration.Lanes() {
		snap.Lanes = append(snap.Lanes, LaneSnapshot{
			Lane:    lane,
			Workers: s.config.workers(lane),
			Queued:  len(s.queues[lane]),
			Running: s.running[lane],
		})
		for _, ticket := range s.queues[lane] {
			snap.Active = append(snap.Active, *ticket)
		}
	}
	for _, ticket := range s.jobs {
		if ticket.Status == integration.JobStatusRunning {
			snap.Active = append(snap.Active, *ticket)
		}
	}
	copy(snap.Recent, s.history)
	return snap
}

// ---------------------------------------------------------------------------
// Workers
// ---------------------------------------------------------------------------

// worker pulls tickets from its own lane and every higher-priority lane
func (s *ImportScheduler) worker(ctx context.Context, lane integration.Lane, workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Import worker started", zap.Int("worker_id", workerID), zap.String("lane", string(lane)))
	for {
		ticket, wake, wait := s.next(lane)
		if ticket != nil {
			s.processTicket(ctx, ticket, workerID)
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Debug("Import worker stopping", zap.Int("worker_id", workerID))
			return
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// next takes the first ready ticket in priority order. When none is ready it
// returns the wake channel and how long to wait before looking again.
func (s *ImportScheduler) next(workerLane integration.Lane) (*integration.JobTicket, <-chan struct{}, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	wait := s.config.PollInterval
	for _, lane := range integration.Lanes() {
		if lane.Priority() > workerLane.Priority() {
			break
		}
		for i, ticket := range s.queues[lane] {
			if !ticket.ReadyAt(now) {
				if d := ticket.NextAttemptAt.Sub(now); d < wait {
					wait = d
				}
				continue
			}
			s.queues[lane] = append(s.queues[lane][:i:i], s.queues[lane][i+1:]...)
			if len(s.queues[lane]) == 0 {
				delete(s.reserved, lane)
			}
			ticket.Start()
			s.running[lane]++
			s.updateGaugesLocked(lane)
			return ticket, nil, 0
		}
	}
	return nil, s.wake, wait
}

// processTicket executes the ticket's current run and decides between
// completion and a retry on a fresh run
func (s *ImportScheduler) processTicket(ctx context.Context, ticket *integration.JobTicket, workerID int) {
	s.mu.Lock()
	runID, lane, attempt := ticket.RunID, ticket.Lane, ticket.Attempt
	s.mu.Unlock()

	ctx, log := logger.WithJobID(ctx, s.logger, ticket.ID.String())
	log = log.With(zap.Int("worker_id", workerID), zap.String("lane", string(lane)))
	log.Info("Processing import job",
		zap.String("run_id", runID.String()),
		zap.String("integration_id", ticket.IntegrationID.String()),
		zap.Int("attempt", attempt),
	)

	run, err := s.executor.Execute(ctx, runID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[lane]--
	cancelled := s.cancelRequested[ticket.ID]
	delete(s.cancelRequested, ticket.ID)

	switch {
	case err != nil && run != nil && errors.Is(err, integration.ErrRunTerminal):
		// the run was finished elsewhere, e.g. cancelled through the ledger
		ticket.Complete(run)
	case err != nil:
		log.Error("Import job failed to execute", zap.Error(err))
		ticket.Fail(err)
	case run.Status == integration.RunStatusFailed && run.Retryable && ticket.CanRetry() && !cancelled && ctx.Err() == nil:
		if s.scheduleRetryLocked(ctx, ticket, run, log) {
			return
		}
	default:
		ticket.Complete(run)
	}

	s.finishLocked(ticket)
	log.Info("Import job finished",
		zap.String("status", string(ticket.Status)),
		zap.Int("attempt", ticket.Attempt),
		zap.String("error", ticket.LastError),
	)
}

// scheduleRetryLocked prepares the next attempt's run and requeues the ticket.
// It returns false when the retry could not be prepared and the ticket was failed instead.
func (s *ImportScheduler) scheduleRetryLocked(ctx context.Context, ticket *integration.JobTicket, run *integration.ImportRun, log *zap.Logger) bool {
	req := ticket.Request
	req.JobID = ticket.ID
	req.Attempt = ticket.Attempt + 1

	// Prepare only touches the ledger, so holding the lock keeps the ticket
	// invisible to Cancel until it is back on its lane.
	next, err := s.executor.Prepare(context.WithoutCancel(ctx), req)
	if err != nil {
		log.Error("Failed to prepare import retry", zap.Error(err))
		ticket.Complete(run)
		ticket.LastError = fmt.Sprintf("%s; retry not prepared: %v", run.ErrorSummary, err)
		return false
	}

	delay := ticket.ScheduleRetry(next, s.config.RetryBaseDelay, s.config.RetryMaxDelay)
	ticket.LastError = run.ErrorSummary
	s.enqueueLocked(ticket)
	s.metrics.IncJob(string(ticket.Lane), string(integration.JobStatusRetryWait))
	log.Info("Import job scheduled for retry",
		zap.Int("attempt", ticket.Attempt),
		zap.Int("max_attempts", ticket.MaxAttempts),
		zap.Duration("delay", delay),
		zap.String("error", run.ErrorSummary),
	)
	return true
}

// finishLocked moves a terminal ticket to the history
func (s *ImportScheduler) finishLocked(ticket *integration.JobTicket) {
	delete(s.jobs, ticket.ID)
	s.history = append([]integration.JobTicket{*ticket}, s.history...)
	if len(s.history) > s.config.HistorySize {
		s.history = s.history[:s.config.HistorySize]
	}
	s.updateGaugesLocked(ticket.Lane)
	s.metrics.IncJob(string(ticket.Lane), string(ticket.Status))
}

func (s *ImportScheduler) findHistoryLocked(jobID uuid.UUID) (integration.JobTicket, bool) {
	for _, ticket := range s.history {
		if ticket.ID == jobID {
			return ticket, true
		}
	}
	return integration.JobTicket{}, false
}

func (s *ImportScheduler) updateGaugesLocked(lane integration.Lane) {
	s.metrics.SetLaneGauges(string(lane), len(s.queues[lane]), s.running[lane])
}
