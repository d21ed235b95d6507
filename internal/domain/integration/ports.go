package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Vendor ports
// ---------------------------------------------------------------------------

// VendorAdapter fetches one page of a component from a vendor platform.
// Implementations suspend on rate-limit signals and map vendor failures onto
// CredentialError, TransientFetchError and ValidationError.
type VendorAdapter interface {
	Kind() VendorKind
	FetchPage(ctx context.Context, cred *Credential, req PageRequest) (*Page, error)
}

// AdapterRegistry resolves the adapter of a vendor kind
type AdapterRegistry interface {
	Get(kind VendorKind) (VendorAdapter, error)
}

// CredentialProvider looks up the credential of an integration.
// Missing or expired credentials are reported as *CredentialError.
type CredentialProvider interface {
	GetCredential(ctx context.Context, integrationID uuid.UUID) (*Credential, error)
}

// ---------------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------------

// IntegrationRepository reads integrations
type IntegrationRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Integration, error)
	FindActive(ctx context.Context) ([]Integration, error)
	Save(ctx context.Context, integration *Integration) error
}

// CursorStore persists incremental sync watermarks
type CursorStore interface {
	Get(ctx context.Context, integrationID uuid.UUID, component Component) (*SyncCursor, error)
	// Advance moves the watermark forward; a regression returns *StaleAdvanceError
	Advance(ctx context.Context, integrationID uuid.UUID, component Component, watermark time.Time, pageToken string) (*SyncCursor, error)
}

// StagingRepository stores raw vendor records idempotently
type StagingRepository interface {
	// UpsertBatch inserts or overwrites records keyed on (integration, component, vendor id)
	// and returns the number of rows written
	UpsertBatch(ctx context.Context, records []*RawRecord) (int, error)
	// FindInWindow returns records modified or fetched inside the window
	FindInWindow(ctx context.Context, integrationID uuid.UUID, component Component, window Window) ([]RawRecord, error)
	FindByVendorIDs(ctx context.Context, integrationID uuid.UUID, component Component, vendorIDs []string) ([]RawRecord, error)
	Count(ctx context.Context, integrationID uuid.UUID, component Component) (int64, error)
}

// NormalizedRepository stores transformed records
type NormalizedRepository interface {
	// Upsert writes the record unless a row with the same source hash exists;
	// it reports whether a row was written
	Upsert(ctx context.Context, record *NormalizedRecord) (bool, error)
	Exists(ctx context.Context, integrationID uuid.UUID, component Component, vendorID string) (bool, error)
	// Find returns nil without error when no row exists
	Find(ctx context.Context, integrationID uuid.UUID, component Component, vendorID string) (*NormalizedRecord, error)
	// FindInWindow returns rows transformed inside the window
	FindInWindow(ctx context.Context, integrationID uuid.UUID, component Component, window Window) ([]NormalizedRecord, error)
	Count(ctx context.Context, integrationID uuid.UUID, component Component) (int64, error)
}

// PendingReferenceRepository tracks records deferred on unresolved references
type PendingReferenceRepository interface {
	// Defer records or bumps a deferral and returns the updated attempt count
	Defer(ctx context.Context, ref *PendingReference) (int, error)
	ListByComponent(ctx context.Context, integrationID uuid.UUID, component Component) ([]PendingReference, error)
	Resolve(ctx context.Context, integrationID uuid.UUID, component Component, vendorID string) error
}

// RunLedger is the durable record of import runs
type RunLedger interface {
	Create(ctx context.Context, run *ImportRun) error
	// Update persists a run; writes to a row that is already terminal fail with ErrRunTerminal
	Update(ctx context.Context, run *ImportRun) error
	FindByID(ctx context.Context, id uuid.UUID) (*ImportRun, error)
	List(ctx context.Context, filter RunFilter) ([]ImportRun, int64, error)
}

// ---------------------------------------------------------------------------
// Leases
// ---------------------------------------------------------------------------

// Lease is an exclusive hold on a key. It is renewed while held; Lost is
// closed if a renewal finds that another owner took the key over.
type Lease interface {
	Key() string
	Lost() <-chan struct{}
	Release(ctx context.Context) error
}

// LeaseManager grants exclusive leases, blocking until acquired, the wait
// times out (ErrLeaseTimeout) or the context is done
type LeaseManager interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}
