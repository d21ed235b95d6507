package handler

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/ShenlongDev/afp-integration/internal/application/importer"
	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/scheduler"
)

// MockImportSubmitter implements ImportSubmitter for testing
type MockImportSubmitter struct {
	mock.Mock
}

func (m *MockImportSubmitter) SubmitImport(ctx context.Context, req importer.SubmitImportRequest) (*importer.SubmitImportResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*importer.SubmitImportResult), args.Error(1)
}

// MockQueueReader implements QueueReader for testing
type MockQueueReader struct {
	mock.Mock
}

func (m *MockQueueReader) Job(jobID uuid.UUID) (integration.JobTicket, bool) {
	args := m.Called(jobID)
	return args.Get(0).(integration.JobTicket), args.Bool(1)
}

func (m *MockQueueReader) Children(parentID uuid.UUID) []integration.JobTicket {
	args := m.Called(parentID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]integration.JobTicket)
}

func (m *MockQueueReader) Snapshot() scheduler.Snapshot {
	args := m.Called()
	return args.Get(0).(scheduler.Snapshot)
}

// MockRunReader implements RunReader for testing
type MockRunReader struct {
	mock.Mock
}

func (m *MockRunReader) FindByID(ctx context.Context, id uuid.UUID) (*integration.ImportRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.ImportRun), args.Error(1)
}

func (m *MockRunReader) List(ctx context.Context, filter integration.RunFilter) ([]integration.ImportRun, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]integration.ImportRun), args.Get(1).(int64), args.Error(2)
}

// MockCanceller implements Canceller for testing
type MockCanceller struct {
	mock.Mock
}

func (m *MockCanceller) Cancel(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// stubPinger implements Pinger
type stubPinger struct {
	err error
}

func (p stubPinger) Ping() error { return p.err }
