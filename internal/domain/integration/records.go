package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Window is a closed time range [Since, Until] an import covers
type Window struct {
	Since time.Time
	Until time.Time
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Since) && !t.After(w.Until)
}

// IsValid reports whether the window is well formed
func (w Window) IsValid() bool {
	return !w.Since.IsZero() && !w.Until.IsZero() && !w.Since.After(w.Until)
}

// StartOfDay truncates t to midnight UTC
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// SyncCursor
// ---------------------------------------------------------------------------

// SyncCursor is the incremental sync watermark of one (integration, component) pair.
// Version is bumped on every advance and guards compare-and-swap updates.
type SyncCursor struct {
	IntegrationID uuid.UUID
	Component     Component
	Watermark     *time.Time
	PageToken     string
	Version       int
	UpdatedAt     time.Time
}

// ---------------------------------------------------------------------------
// Fetch contract types
// ---------------------------------------------------------------------------

// PageRequest asks an adapter for one page of a component within a window
type PageRequest struct {
	Component Component
	Window    Window
	PageToken string
}

// FetchedRecord is one vendor record as returned by an adapter
type FetchedRecord struct {
	VendorID   string
	ModifiedAt *time.Time
	Payload    json.RawMessage
}

// Page is one page of fetched records. Done is true when NextPageToken is exhausted.
type Page struct {
	Records       []FetchedRecord
	NextPageToken string
	Done          bool
}

// ---------------------------------------------------------------------------
// RawRecord
// ---------------------------------------------------------------------------

// RawRecord is a staged vendor-shaped record, unique per (integration, component, vendor id)
type RawRecord struct {
	IntegrationID uuid.UUID
	Component     Component
	VendorID      string
	Payload       json.RawMessage
	PayloadHash   string
	ModifiedAt    time.Time
	FetchedAt     time.Time
}

// NewRawRecord stages a fetched record. ModifiedAt falls back to the fetch time
// when the vendor does not expose a modification timestamp.
func NewRawRecord(integrationID uuid.UUID, component Component, rec FetchedRecord, fetchedAt time.Time) *RawRecord {
	modified := fetchedAt
	if rec.ModifiedAt != nil {
		modified = *rec.ModifiedAt
	}
	sum := sha256.Sum256(rec.Payload)
	return &RawRecord{
		IntegrationID: integrationID,
		Component:     component,
		VendorID:      rec.VendorID,
		Payload:       rec.Payload,
		PayloadHash:   hex.EncodeToString(sum[:]),
		ModifiedAt:    modified.UTC(),
		FetchedAt:     fetchedAt.UTC(),
	}
}

// ---------------------------------------------------------------------------
// NormalizedRecord
// ---------------------------------------------------------------------------

// Reference points from a normalized record to a record of another component
type Reference struct {
	Component Component `json:"component"`
	VendorID  string    `json:"vendor_id"`
}

// NormalizedRecord is a domain-schema row derived from staged raw records.
// All fields except TransformedAt are a pure function of the source payloads.
type NormalizedRecord struct {
	IntegrationID uuid.UUID
	Component     Component
	VendorID      string
	EntityType    string
	DisplayName   string
	Amount        decimal.NullDecimal
	Currency      string
	OccurredAt    *time.Time
	Attributes    map[string]any
	References    map[string]Reference
	SourceHash    string
	TransformedAt time.Time
}

type normalizedContent struct {
	EntityType  string               `json:"entity_type"`
	DisplayName string               `json:"display_name"`
	Amount      string               `json:"amount,omitempty"`
	Currency    string               `json:"currency,omitempty"`
	OccurredAt  string               `json:"occurred_at,omitempty"`
	Attributes  map[string]any       `json:"attributes,omitempty"`
	References  map[string]Reference `json:"references,omitempty"`
}

// ComputeHash fills SourceHash with the SHA-256 of the record's canonical content.
// encoding/json sorts map keys, so equal content always hashes equally.
func (r *NormalizedRecord) ComputeHash() error {
	c := normalizedContent{
		EntityType:  r.EntityType,
		DisplayName: r.DisplayName,
		Currency:    r.Currency,
		Attributes:  r.Attributes,
		References:  r.References,
	}
	if r.Amount.Valid {
		c.Amount = r.Amount.Decimal.String()
	}
	if r.OccurredAt != nil {
		c.OccurredAt = r.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	r.SourceHash = hex.EncodeToString(sum[:])
	return nil
}

// ---------------------------------------------------------------------------
// PendingReference
// ---------------------------------------------------------------------------

// PendingReference is a record whose transform was deferred because a
// referenced row did not exist yet. It is retried on every transform pass.
type PendingReference struct {
	IntegrationID   uuid.UUID
	Component       Component
	VendorID        string
	RefComponent    Component
	RefVendorID     string
	Attempts        int
	LastError       string
	FirstDeferredAt time.Time
	LastDeferredAt  time.Time
}
