package models

import (
	"encoding/json"
	"time"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ---------------------------------------------------------------------------
// SyncCursor
// ---------------------------------------------------------------------------

// SyncCursorModel is the versioned watermark row of an (integration, component) pair
type SyncCursorModel struct {
	IntegrationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Component     string    `gorm:"type:varchar(50);primaryKey"`
	Watermark     *time.Time
	PageToken     string    `gorm:"type:varchar(500)"`
	Version       int       `gorm:"not null;default:0"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncCursorModel) TableName() string {
	return "sync_cursors"
}

// ToDomain converts the persistence model to a domain SyncCursor
func (m *SyncCursorModel) ToDomain() *integration.SyncCursor {
	return &integration.SyncCursor{
		IntegrationID: m.IntegrationID,
		Component:     integration.Component(m.Component),
		Watermark:     m.Watermark,
		PageToken:     m.PageToken,
		Version:       m.Version,
		UpdatedAt:     m.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// RawRecord
// ---------------------------------------------------------------------------

// RawRecordModel is a staged vendor payload
type RawRecordModel struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement"`
	IntegrationID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_raw_records_key,priority:1;index:idx_raw_records_window,priority:1"`
	Component     string         `gorm:"type:varchar(50);not null;uniqueIndex:uq_raw_records_key,priority:2;index:idx_raw_records_window,priority:2"`
	VendorID      string         `gorm:"type:varchar(200);not null;uniqueIndex:uq_raw_records_key,priority:3"`
	Payload       datatypes.JSON `gorm:"not null"`
	PayloadHash   string         `gorm:"type:char(64);not null"`
	ModifiedAt    time.Time      `gorm:"not null;index:idx_raw_records_window,priority:3"`
	FetchedAt     time.Time      `gorm:"not null;index:idx_raw_records_fetched"`
}

// TableName returns the table name for GORM
func (RawRecordModel) TableName() string {
	return "raw_records"
}

// ToDomain converts the persistence model to a domain RawRecord
func (m *RawRecordModel) ToDomain() *integration.RawRecord {
	return &integration.RawRecord{
		IntegrationID: m.IntegrationID,
		Component:     integration.Component(m.Component),
		VendorID:      m.VendorID,
		Payload:       json.RawMessage(m.Payload),
		PayloadHash:   m.PayloadHash,
		ModifiedAt:    m.ModifiedAt.UTC(),
		FetchedAt:     m.FetchedAt.UTC(),
	}
}

// RawRecordModelFromDomain creates a new persistence model from a domain RawRecord
func RawRecordModelFromDomain(r *integration.RawRecord) *RawRecordModel {
	return &RawRecordModel{
		IntegrationID: r.IntegrationID,
		Component:     string(r.Component),
		VendorID:      r.VendorID,
		Payload:       datatypes.JSON(r.Payload),
		PayloadHash:   r.PayloadHash,
		ModifiedAt:    r.ModifiedAt.UTC(),
		FetchedAt:     r.FetchedAt.UTC(),
	}
}

// ---------------------------------------------------------------------------
// NormalizedRecord
// ---------------------------------------------------------------------------

// NormalizedRecordModel is a transformed row in the unified schema
type NormalizedRecordModel struct {
	ID            uint64              `gorm:"primaryKey;autoIncrement"`
	IntegrationID uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:uq_normalized_records_key,priority:1;index:idx_normalized_records_transformed,priority:1"`
	Component     string              `gorm:"type:varchar(50);not null;uniqueIndex:uq_normalized_records_key,priority:2;index:idx_normalized_records_transformed,priority:2"`
	VendorID      string              `gorm:"type:varchar(200);not null;uniqueIndex:uq_normalized_records_key,priority:3"`
	EntityType    string              `gorm:"type:varchar(50);not null;index"`
	DisplayName   string              `gorm:"type:varchar(500)"`
	Amount        decimal.NullDecimal `gorm:"type:decimal(20,4)"`
	Currency      string              `gorm:"type:varchar(10)"`
	OccurredAt    *time.Time          `gorm:"index"`
	Attributes    datatypes.JSON
	References    datatypes.JSON `gorm:"column:resolved_refs"`
	SourceHash    string         `gorm:"type:char(64);not null"`
	TransformedAt time.Time      `gorm:"not null;index:idx_normalized_records_transformed,priority:3"`
}

// TableName returns the table name for GORM
func (NormalizedRecordModel) TableName() string {
	return "normalized_records"
}

// ToDomain converts the persistence model to a domain NormalizedRecord
func (m *NormalizedRecordModel) ToDomain() *integration.NormalizedRecord {
	r := &integration.NormalizedRecord{
		IntegrationID: m.IntegrationID,
		Component:     integration.Component(m.Component),
		VendorID:      m.VendorID,
		EntityType:    m.EntityType,
		DisplayName:   m.DisplayName,
		Amount:        m.Amount,
		Currency:      m.Currency,
		OccurredAt:    m.OccurredAt,
		SourceHash:    m.SourceHash,
		TransformedAt: m.TransformedAt,
	}
	if len(m.Attributes) > 0 {
		_ = json.Unmarshal(m.Attributes, &r.Attributes)
	}
	if len(m.References) > 0 {
		_ = json.Unmarshal(m.References, &r.References)
	}
	return r
}

// NormalizedRecordModelFromDomain creates a new persistence model from a domain NormalizedRecord
func NormalizedRecordModelFromDomain(r *integration.NormalizedRecord) (*NormalizedRecordModel, error) {
	m := &NormalizedRecordModel{
		IntegrationID: r.IntegrationID,
		Component:     string(r.Component),
		VendorID:      r.VendorID,
		EntityType:    r.EntityType,
		DisplayName:   r.DisplayName,
		Amount:        r.Amount,
		Currency:      r.Currency,
		OccurredAt:    r.OccurredAt,
		SourceHash:    r.SourceHash,
		TransformedAt: r.TransformedAt,
	}
	attrs, err := json.Marshal(r.Attributes)
	if err != nil {
		return nil, err
	}
	refs, err := json.Marshal(r.References)
	if err != nil {
		return nil, err
	}
	m.Attributes = datatypes.JSON(attrs)
	m.References = datatypes.JSON(refs)
	return m, nil
}

// ---------------------------------------------------------------------------
// PendingReference
// ---------------------------------------------------------------------------

// PendingReferenceModel is a record deferred on an unresolved reference
type PendingReferenceModel struct {
	IntegrationID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Component       string    `gorm:"type:varchar(50);primaryKey"`
	VendorID        string    `gorm:"type:varchar(200);primaryKey"`
	RefComponent    string    `gorm:"type:varchar(50);not null"`
	RefVendorID     string    `gorm:"type:varchar(200);not null"`
	Attempts        int       `gorm:"not null;default:1"`
	LastError       string    `gorm:"type:text"`
	FirstDeferredAt time.Time `gorm:"not null"`
	LastDeferredAt  time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PendingReferenceModel) TableName() string {
	return "pending_references"
}

// ToDomain converts the persistence model to a domain PendingReference
func (m *PendingReferenceModel) ToDomain() *integration.PendingReference {
	return &integration.PendingReference{
		IntegrationID:   m.IntegrationID,
		Component:       integration.Component(m.Component),
		VendorID:        m.VendorID,
		RefComponent:    integration.Component(m.RefComponent),
		RefVendorID:     m.RefVendorID,
		Attempts:        m.Attempts,
		LastError:       m.LastError,
		FirstDeferredAt: m.FirstDeferredAt,
		LastDeferredAt:  m.LastDeferredAt,
	}
}

// ---------------------------------------------------------------------------
// ImportRun
// ---------------------------------------------------------------------------

// ImportRunModel is the Run Ledger row of one orchestration attempt
type ImportRunModel struct {
	ID            uuid.UUID                   `gorm:"type:uuid;primary_key"`
	JobID         uuid.UUID                   `gorm:"type:uuid;not null;index:idx_import_runs_job"`
	Attempt       int                         `gorm:"not null;default:1"`
	IntegrationID uuid.UUID                   `gorm:"type:uuid;not null;index:idx_import_runs_integration,priority:1"`
	Components    datatypes.JSONSlice[string] `gorm:"not null"`
	Since         *time.Time
	Until         *time.Time
	Mode          string `gorm:"type:varchar(20);not null"`
	Trigger       string `gorm:"type:varchar(20);not null"`
	Status        string `gorm:"type:varchar(20);not null;index:idx_import_runs_status"`
	Outcomes      datatypes.JSONType[[]integration.ComponentOutcome]
	ErrorSummary  string `gorm:"type:text"`
	Retryable     bool   `gorm:"not null;default:false"`
	StartedAt     *time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time `gorm:"not null;index:idx_import_runs_integration,priority:2"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ImportRunModel) TableName() string {
	return "import_runs"
}

// ToDomain converts the persistence model to a domain ImportRun
func (m *ImportRunModel) ToDomain() *integration.ImportRun {
	components := make([]integration.Component, len(m.Components))
	for i, c := range m.Components {
		components[i] = integration.Component(c)
	}
	return &integration.ImportRun{
		ID:            m.ID,
		JobID:         m.JobID,
		Attempt:       m.Attempt,
		IntegrationID: m.IntegrationID,
		Components:    components,
		Since:         m.Since,
		Until:         m.Until,
		Mode:          integration.RunMode(m.Mode),
		Trigger:       integration.RunTrigger(m.Trigger),
		Status:        integration.RunStatus(m.Status),
		Outcomes:      m.Outcomes.Data(),
		ErrorSummary:  m.ErrorSummary,
		Retryable:     m.Retryable,
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain ImportRun
func (m *ImportRunModel) FromDomain(r *integration.ImportRun) {
	components := make([]string, len(r.Components))
	for i, c := range r.Components {
		components[i] = string(c)
	}
	outcomes := r.Outcomes
	if outcomes == nil {
		outcomes = []integration.ComponentOutcome{}
	}
	m.ID = r.ID
	m.JobID = r.JobID
	m.Attempt = r.Attempt
	m.IntegrationID = r.IntegrationID
	m.Components = datatypes.NewJSONSlice(components)
	m.Since = r.Since
	m.Until = r.Until
	m.Mode = string(r.Mode)
	m.Trigger = string(r.Trigger)
	m.Status = string(r.Status)
	m.Outcomes = datatypes.NewJSONType(outcomes)
	m.ErrorSummary = r.ErrorSummary
	m.Retryable = r.Retryable
	m.StartedAt = r.StartedAt
	m.FinishedAt = r.FinishedAt
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
}

// ImportRunModelFromDomain creates a new persistence model from a domain ImportRun
func ImportRunModelFromDomain(r *integration.ImportRun) *ImportRunModel {
	m := &ImportRunModel{}
	m.FromDomain(r)
	return m
}

// ---------------------------------------------------------------------------
// Lease
// ---------------------------------------------------------------------------

// LeaseModel is a database-backed exclusive lease
type LeaseModel struct {
	Key        string    `gorm:"column:lease_key;type:varchar(200);primaryKey"`
	Owner      string    `gorm:"type:varchar(64);not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	AcquiredAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (LeaseModel) TableName() string {
	return "import_leases"
}

// ImportModels returns every model owned by the import engine, for AutoMigrate in tests
func ImportModels() []any {
	return []any{
		&IntegrationModel{},
		&CredentialModel{},
		&SyncCursorModel{},
		&RawRecordModel{},
		&NormalizedRecordModel{},
		&PendingReferenceModel{},
		&ImportRunModel{},
		&LeaseModel{},
	}
}
