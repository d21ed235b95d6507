package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
)

// ErrNoEligibleIntegrations is returned when a fan-out submission finds no
// active integration with a valid credential
var ErrNoEligibleIntegrations = errors.New("importer: no active integration with valid credentials")

// JobQueue accepts job tickets for asynchronous execution
type JobQueue interface {
	Submit(ticket *integration.JobTicket) error
}

// LaneReserver is implemented by queues that can make room for a whole
// fan-out before it is submitted
type LaneReserver interface {
	Reserve(lane integration.Lane, n int)
}

// RunPreparer records pending runs, and cancels them when they cannot be queued
type RunPreparer interface {
	Prepare(ctx context.Context, req integration.RunRequest) (*integration.ImportRun, error)
	Cancel(ctx context.Context, runID uuid.UUID) error
}

// SubmitImportRequest asks for an import of one integration, or of every
// eligible integration when IntegrationID is nil
type SubmitImportRequest struct {
	IntegrationID *uuid.UUID
	Components    []integration.Component `validate:"dive,required"`
	Since         *time.Time
	Until         *time.Time
	TransformOnly bool
	Priority      integration.Lane       `validate:"omitempty,oneof=high normal periodic"`
	Trigger       integration.RunTrigger `validate:"omitempty,oneof=periodic manual catch_up cli"`
}

// SubmitImportResult identifies the queued work. For a fan-out JobID is the
// parent id shared by the child jobs.
type SubmitImportResult struct {
	JobID    uuid.UUID
	Lane     integration.Lane
	Children []uuid.UUID
	Skipped  []uuid.UUID
}

// ---------------------------------------------------------------------------
// TriggerService
// ---------------------------------------------------------------------------

// TriggerService turns import requests into queued job tickets
type TriggerService struct {
	integrations integration.IntegrationRepository
	credentials  integration.CredentialProvider
	runs         RunPreparer
	queue        JobQueue
	validate     *validator.Validate
	maxAttempts  int
	logger       *zap.Logger
	now          func() time.Time
}

// NewTriggerService creates a trigger service. maxAttempts bounds the attempts of every queued job.
func NewTriggerService(
	integrations integration.IntegrationRepository,
	credentials integration.CredentialProvider,
	runs RunPreparer,
	queue JobQueue,
	maxAttempts int,
	logger *zap.Logger,
) *TriggerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &TriggerService{
		integrations: integrations,
		credentials:  credentials,
		runs:         runs,
		queue:        queue,
		validate:     validator.New(),
		maxAttempts:  maxAttempts,
		logger:       logger,
		now:          time.Now,
	}
}

// SubmitImport validates the request, records a pending run per integration
// and queues its job. It returns as soon as the jobs are queued.
func (s *TriggerService) SubmitImport(ctx context.Context, req SubmitImportRequest) (*SubmitImportResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &integration.ValidationError{Reason: "invalid import request", Err: err}
	}
	if req.Since != nil && req.Until != nil && req.Since.After(*req.Until) {
		return nil, &integration.ValidationError{Reason: "since is after until"}
	}
	if req.Trigger == "" {
		req.Trigger = integration.RunTriggerManual
	}
	lane := laneFor(req)

	if req.IntegrationID != nil {
		jobID, err := s.submitOne(ctx, *req.IntegrationID, req, lane, nil)
		if err != nil {
			return nil, err
		}
		return &SubmitImportResult{JobID: jobID, Lane: lane}, nil
	}
	return s.submitAll(ctx, req, lane)
}

// laneFor picks the queue of a request: periodic runs use the periodic lane,
// single-integration requests the high lane and fan-outs the normal lane
func laneFor(req SubmitImportRequest) integration.Lane {
	switch {
	case req.Priority != "":
		return req.Priority
	case req.Trigger == integration.RunTriggerPeriodic:
		return integration.LanePeriodic
	case req.IntegrationID != nil:
		return integration.LaneHigh
	default:
		return integration.LaneNormal
	}
}

func (s *TriggerService) submitOne(ctx context.Context, integrationID uuid.UUID, req SubmitImportRequest, lane integration.Lane, parentID *uuid.UUID) (uuid.UUID, error) {
	integ, err := s.integrations.FindByID(ctx, integrationID)
	if err != nil {
		return uuid.Nil, err
	}
	if !integ.IsActive {
		return uuid.Nil, fmt.Errorf("%w: %s", integration.ErrIntegrationInactive, integ.ID)
	}
	if _, err := integration.ResolveComponents(integ.VendorKind, req.Components); err != nil {
		return uuid.Nil, err
	}
	return s.enqueue(ctx, integ.ID, req.Components, req, lane, parentID)
}

func (s *TriggerService) submitAll(ctx context.Context, req SubmitImportRequest, lane integration.Lane) (*SubmitImportResult, error) {
	integs, err := s.integrations.FindActive(ctx)
	if err != nil {
		return nil, err
	}

	parentID := uuid.New()
	result := &SubmitImportResult{JobID: parentID, Lane: lane}
	type target struct {
		id         uuid.UUID
		components []integration.Component
	}
	targets := make([]target, 0, len(integs))
	for i := range integs {
		integ := &integs[i]
		components := supportedComponents(integ.VendorKind, req.Components)
		if len(req.Components) > 0 && len(components) == 0 {
			result.Skipped = append(result.Skipped, integ.ID)
			continue
		}
		if err := s.checkCredential(ctx, integ.ID); err != nil {
			s.logger.Info("Skipping integration without valid credentials",
				zap.String("integration_id", integ.ID.String()),
				zap.Error(err),
			)
			result.Skipped = append(result.Skipped, integ.ID)
			continue
		}
		targets = append(targets, target{id: integ.ID, components: components})
	}

	// every eligible integration of a periodic fan-out must fit on the lane
	if r, ok := s.queue.(LaneReserver); ok && lane == integration.LanePeriodic && len(targets) > 0 {
		r.Reserve(lane, len(targets))
	}

	var errs []error
	for _, tgt := range targets {
		jobID, err := s.enqueue(ctx, tgt.id, tgt.components, req, lane, &parentID)
		if err != nil {
			errs = append(errs, fmt.Errorf("integration %s: %w", tgt.id, err))
			continue
		}
		result.Children = append(result.Children, jobID)
	}

	if len(result.Children) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, ErrNoEligibleIntegrations
	}
	if len(errs) > 0 {
		s.logger.Warn("Some integrations could not be queued",
			zap.String("parent_job_id", parentID.String()),
			zap.Error(errors.Join(errs...)),
		)
	}
	s.logger.Info("Queued import fan-out",
		zap.String("parent_job_id", parentID.String()),
		zap.String("lane", string(lane)),
		zap.Int("jobs", len(result.Children)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (s *TriggerService) checkCredential(ctx context.Context, integrationID uuid.UUID) error {
	cred, err := s.credentials.GetCredential(ctx, integrationID)
	if err != nil {
		return err
	}
	if cred.IsExpired(s.now()) {
		return &integration.CredentialError{IntegrationID: integrationID, Reason: "credential expired"}
	}
	return nil
}

func (s *TriggerService) enqueue(ctx context.Context, integrationID uuid.UUID, components []integration.Component, req SubmitImportRequest, lane integration.Lane, parentID *uuid.UUID) (uuid.UUID, error) {
	runReq := integration.RunRequest{
		JobID:         uuid.New(),
		Attempt:       1,
		IntegrationID: integrationID,
		Components:    components,
		Since:         req.Since,
		Until:         req.Until,
		TransformOnly: req.TransformOnly,
		Trigger:       req.Trigger,
	}
	run, err := s.runs.Prepare(ctx, runReq)
	if err != nil {
		return uuid.Nil, err
	}

	ticket := integration.NewJobTicket(lane, run, runReq, s.maxAttempts)
	ticket.ParentID = parentID
	if err := s.queue.Submit(ticket); err != nil {
		if cancelErr := s.runs.Cancel(ctx, run.ID); cancelErr != nil {
			s.logger.Warn("Failed to cancel unqueued run", zap.String("run_id", run.ID.String()), zap.Error(cancelErr))
		}
		return uuid.Nil, err
	}

	s.logger.Debug("Queued import job",
		zap.String("job_id", ticket.ID.String()),
		zap.String("run_id", run.ID.String()),
		zap.String("integration_id", integrationID.String()),
		zap.String("lane", string(lane)),
	)
	return ticket.ID, nil
}

// supportedComponents keeps the requested components the vendor kind supports.
// An empty request stays empty and selects the full default set.
func supportedComponents(kind integration.VendorKind, requested []integration.Component) []integration.Component {
	if len(requested) == 0 {
		return nil
	}
	out := make([]integration.Component, 0, len(requested))
	for _, c := range requested {
		if _, ok := integration.LookupComponent(kind, c); ok {
			out = append(out, c)
		}
	}
	return out
}
