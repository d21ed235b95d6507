package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShenlongDev/afp-integration/internal/application/importer"
	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
)

// ImportSubmitter queues import requests
type ImportSubmitter interface {
	SubmitImport(ctx context.Context, req importer.SubmitImportRequest) (*importer.SubmitImportResult, error)
}

// ImportCronTriggerConfig holds configuration for the daily import trigger
type ImportCronTriggerConfig struct {
	// DailyHour and DailyMinute are the time of the daily import (24h, in Location)
	DailyHour   int
	DailyMinute int
	// Location defaults to UTC
	Location *time.Location
	// RunOnStart triggers one import as soon as the trigger starts
	RunOnStart bool
	// CheckInterval is how often to check if it's time to run
	CheckInterval time.Duration
}

// DefaultImportCronTriggerConfig returns default cron trigger configuration
func DefaultImportCronTriggerConfig() ImportCronTriggerConfig {
	return ImportCronTriggerConfig{
		DailyHour:     2, // 2am
		DailyMinute:   0,
		Location:      time.UTC,
		CheckInterval: time.Minute,
	}
}

// ImportCronTrigger enqueues a full import of every eligible integration on
// the periodic lane once a day
type ImportCronTrigger struct {
	config    ImportCronTriggerConfig
	submitter ImportSubmitter
	logger    *zap.Logger
	now       func() time.Time

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	isRunning   bool
	lastRunDate string // Track which date we last ran for
}

// NewImportCronTrigger creates a new daily import trigger
func NewImportCronTrigger(config ImportCronTriggerConfig, submitter ImportSubmitter, logger *zap.Logger) *ImportCronTrigger {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportCronTrigger{
		config:    config,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
	}
}

// Start starts the cron trigger
func (c *ImportCronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Import cron trigger started",
		zap.Int("daily_hour", c.config.DailyHour),
		zap.Int("daily_minute", c.config.DailyMinute),
		zap.Bool("run_on_start", c.config.RunOnStart),
		zap.Duration("check_interval", c.config.CheckInterval),
	)
	return nil
}

// Stop stops the cron trigger
func (c *ImportCronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Import cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ImportCronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	if c.config.RunOnStart {
		c.trigger(ctx, c.now().In(c.config.Location).Format("2006-01-02"), "start")
	}

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAndTrigger(ctx)
		}
	}
}

// checkAndTrigger fires once per day at the configured minute. It reports
// whether an import was submitted.
func (c *ImportCronTrigger) checkAndTrigger(ctx context.Context) bool {
	now := c.now().In(c.config.Location)
	currentDate := now.Format("2006-01-02")

	// Skip if we already ran today
	c.mu.Lock()
	ranToday := c.lastRunDate == currentDate
	c.mu.Unlock()
	if ranToday {
		return false
	}

	if now.Hour() != c.config.DailyHour || now.Minute() != c.config.DailyMinute {
		return false
	}
	return c.trigger(ctx, currentDate, "schedule")
}

func (c *ImportCronTrigger) trigger(ctx context.Context, date, reason string) bool {
	c.mu.Lock()
	c.lastRunDate = date
	c.mu.Unlock()

	res, err := c.submitter.SubmitImport(ctx, importer.SubmitImportRequest{
		Trigger:  integration.RunTriggerPeriodic,
		Priority: integration.LanePeriodic,
	})
	if err != nil {
		c.logger.Error("Failed to submit daily import", zap.String("reason", reason), zap.Error(err))
		return false
	}

	c.logger.Info("Daily import submitted",
		zap.String("reason", reason),
		zap.String("parent_job_id", res.JobID.String()),
		zap.Int("jobs", len(res.Children)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return true
}
