package models

import (
	"encoding/json"
	"time"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// IntegrationModel is the persistence model for the Integration domain entity.
type IntegrationModel struct {
	ID               uuid.UUID              `gorm:"type:uuid;primary_key"`
	TenantID         uuid.UUID              `gorm:"type:uuid;not null;index:idx_integration_tenant"`
	Name             string                 `gorm:"type:varchar(200);not null"`
	VendorKind       integration.VendorKind `gorm:"type:varchar(20);not null;index:idx_integration_vendor_kind"`
	CredentialHandle string                 `gorm:"type:varchar(200)"`
	IsActive         bool                   `gorm:"not null;default:true;index:idx_integration_active"`
	Settings         datatypes.JSON
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IntegrationModel) TableName() string {
	return "integrations"
}

// ToDomain converts the persistence model to a domain Integration entity.
func (m *IntegrationModel) ToDomain() *integration.Integration {
	i := &integration.Integration{
		ID:               m.ID,
		TenantID:         m.TenantID,
		Name:             m.Name,
		VendorKind:       m.VendorKind,
		CredentialHandle: m.CredentialHandle,
		IsActive:         m.IsActive,
		Settings:         make(map[string]string),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if len(m.Settings) > 0 {
		_ = json.Unmarshal(m.Settings, &i.Settings)
	}
	return i
}

// FromDomain populates the persistence model from a domain Integration entity.
func (m *IntegrationModel) FromDomain(i *integration.Integration) {
	m.ID = i.ID
	m.TenantID = i.TenantID
	m.Name = i.Name
	m.VendorKind = i.VendorKind
	m.CredentialHandle = i.CredentialHandle
	m.IsActive = i.IsActive
	m.CreatedAt = i.CreatedAt
	m.UpdatedAt = i.UpdatedAt

	settings := i.Settings
	if settings == nil {
		settings = map[string]string{}
	}
	if b, err := json.Marshal(settings); err == nil {
		m.Settings = datatypes.JSON(b)
	}
}

// IntegrationModelFromDomain creates a new persistence model from a domain Integration entity.
func IntegrationModelFromDomain(i *integration.Integration) *IntegrationModel {
	m := &IntegrationModel{}
	m.FromDomain(i)
	return m
}

// CredentialModel stores the access token of an integration
type CredentialModel struct {
	IntegrationID uuid.UUID              `gorm:"type:uuid;primary_key"`
	VendorKind    integration.VendorKind `gorm:"type:varchar(20);not null"`
	AccessToken   string                 `gorm:"type:text;not null"`
	TenantHeader  string                 `gorm:"type:varchar(200)"`
	BaseURL       string                 `gorm:"type:varchar(500)"`
	ExpiresAt     *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CredentialModel) TableName() string {
	return "integration_credentials"
}

// ToDomain converts the persistence model to a domain Credential.
func (m *CredentialModel) ToDomain() *integration.Credential {
	return &integration.Credential{
		IntegrationID: m.IntegrationID,
		VendorKind:    m.VendorKind,
		AccessToken:   m.AccessToken,
		TenantHeader:  m.TenantHeader,
		BaseURL:       m.BaseURL,
		ExpiresAt:     m.ExpiresAt,
	}
}

// FromDomain populates the persistence model from a domain Credential.
func (m *CredentialModel) FromDomain(c *integration.Credential) {
	m.IntegrationID = c.IntegrationID
	m.VendorKind = c.VendorKind
	m.AccessToken = c.AccessToken
	m.TenantHeader = c.TenantHeader
	m.BaseURL = c.BaseURL
	m.ExpiresAt = c.ExpiresAt
}
