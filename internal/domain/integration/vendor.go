package integration

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// VendorKind represents the category of upstream platform
// ---------------------------------------------------------------------------

// VendorKind represents the category of upstream platform
type VendorKind string

const (
	// VendorKindAccounting represents the accounting platform (Xero)
	VendorKindAccounting VendorKind = "ACCOUNTING"
	// VendorKindPOS represents the point-of-sale platform (Toast)
	VendorKindPOS VendorKind = "POS"
	// VendorKindERP represents the ERP platform (NetSuite)
	VendorKindERP VendorKind = "ERP"
)

// AllVendorKinds returns every supported vendor kind
func AllVendorKinds() []VendorKind {
	return []VendorKind{VendorKindAccounting, VendorKindPOS, VendorKindERP}
}

// IsValid returns true if the vendor kind is valid
func (k VendorKind) IsValid() bool {
	switch k {
	case VendorKindAccounting, VendorKindPOS, VendorKindERP:
		return true
	default:
		return false
	}
}

// String returns the string representation of VendorKind
func (k VendorKind) String() string {
	return string(k)
}

// DisplayName returns the name of the platform backing the vendor kind
func (k VendorKind) DisplayName() string {
	switch k {
	case VendorKindAccounting:
		return "Xero"
	case VendorKindPOS:
		return "Toast"
	case VendorKindERP:
		return "NetSuite"
	default:
		return string(k)
	}
}

// ---------------------------------------------------------------------------
// Integration
// ---------------------------------------------------------------------------

// Integration is a tenant's connection to one vendor platform.
// Integrations are deactivated on disconnection, never deleted.
type Integration struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Name             string
	VendorKind       VendorKind
	CredentialHandle string
	IsActive         bool
	Settings         map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Setting returns a settings value or the fallback when absent
func (i *Integration) Setting(key, fallback string) string {
	if v, ok := i.Settings[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Deactivate marks the integration as disconnected
func (i *Integration) Deactivate() {
	i.IsActive = false
	i.UpdatedAt = time.Now()
}

// Credential is the resolved credential handle for an integration.
// TenantHeader carries the vendor-side account selector: the Xero tenant id,
// the Toast restaurant GUID or the NetSuite account id.
type Credential struct {
	IntegrationID uuid.UUID
	VendorKind    VendorKind
	AccessToken   string
	TenantHeader  string
	BaseURL       string
	ExpiresAt     *time.Time
}

// IsExpired reports whether the credential is expired at the given instant
func (c *Credential) IsExpired(at time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(at)
}

// ---------------------------------------------------------------------------
// Component catalog
// ---------------------------------------------------------------------------

// Component is a named category of importable data
type Component string

// String returns the string representation of Component
func (c Component) String() string {
	return string(c)
}

const (
	ComponentAccounts          Component = "accounts"
	ComponentContacts          Component = "contacts"
	ComponentInvoices          Component = "invoices"
	ComponentBankTransactions  Component = "bank_transactions"
	ComponentJournals          Component = "journals"
	ComponentBudgets           Component = "budgets"
	ComponentRestaurants       Component = "restaurants"
	ComponentOrders            Component = "orders"
	ComponentSubsidiaries      Component = "subsidiaries"
	ComponentAccountingPeriods Component = "accounting_periods"
	ComponentDepartments       Component = "departments"
	ComponentEntities          Component = "entities"
	ComponentVendors           Component = "vendors"
	ComponentTransactions      Component = "transactions"
	ComponentTransactionLines  Component = "transaction_lines"
	ComponentAccountingLines   Component = "transaction_accounting_lines"
	ComponentBudgetLines       Component = "budget_lines"
	ComponentGeneralLedger     Component = "general_ledger"
)

// ComponentSpec declares a component of a vendor kind and its position in the
// import order. Components of a lower stage are imported before those of a
// higher stage; components sharing a stage are independent of each other.
// A derived component is never fetched: it is built from the normalized rows
// of the components it depends on.
type ComponentSpec struct {
	Name      Component
	Stage     int
	DependsOn []Component
	Derived   bool
}

var componentCatalog = map[VendorKind][]ComponentSpec{
	VendorKindAccounting: {
		{Name: ComponentAccounts, Stage: 0},
		{Name: ComponentContacts, Stage: 1},
		{Name: ComponentInvoices, Stage: 2, DependsOn: []Component{ComponentAccounts, ComponentContacts}},
		{Name: ComponentBankTransactions, Stage: 2, DependsOn: []Component{ComponentAccounts, ComponentContacts}},
		{Name: ComponentJournals, Stage: 3, DependsOn: []Component{ComponentAccounts}},
		{Name: ComponentBudgets, Stage: 3, DependsOn: []Component{ComponentAccounts}},
		{Name: ComponentGeneralLedger, Stage: 4, DependsOn: []Component{ComponentJournals, ComponentAccounts}, Derived: true},
	},
	VendorKindPOS: {
		{Name: ComponentRestaurants, Stage: 0},
		{Name: ComponentOrders, Stage: 1, DependsOn: []Component{ComponentRestaurants}},
	},
	VendorKindERP: {
		{Name: ComponentSubsidiaries, Stage: 0},
		{Name: ComponentAccounts, Stage: 0},
		{Name: ComponentAccountingPeriods, Stage: 0},
		{Name: ComponentDepartments, Stage: 1},
		{Name: ComponentEntities, Stage: 1},
		{Name: ComponentVendors, Stage: 1},
		{Name: ComponentTransactions, Stage: 2, DependsOn: []Component{ComponentSubsidiaries, ComponentAccountingPeriods, ComponentEntities}},
		{Name: ComponentTransactionLines, Stage: 3, DependsOn: []Component{ComponentTransactions, ComponentAccounts, ComponentDepartments}},
		{Name: ComponentAccountingLines, Stage: 3, DependsOn: []Component{ComponentTransactions, ComponentAccounts}},
		{Name: ComponentBudgets, Stage: 3, DependsOn: []Component{ComponentAccounts, ComponentAccountingPeriods}},
		{Name: ComponentBudgetLines, Stage: 4, DependsOn: []Component{ComponentBudgets, ComponentAccounts, ComponentAccountingPeriods, ComponentDepartments}},
		{Name: ComponentGeneralLedger, Stage: 4, DependsOn: []Component{ComponentTransactions, ComponentAccountingLines, ComponentAccounts}, Derived: true},
	},
}

// ComponentsFor returns the full default component set of a vendor kind in import order
func ComponentsFor(kind VendorKind) []ComponentSpec {
	specs := componentCatalog[kind]
	out := make([]ComponentSpec, len(specs))
	copy(out, specs)
	return out
}

// LookupComponent returns the spec of a component for a vendor kind
func LookupComponent(kind VendorKind, name Component) (ComponentSpec, bool) {
	for _, spec := range componentCatalog[kind] {
		if spec.Name == name {
			return spec, true
		}
	}
	return ComponentSpec{}, false
}

// ResolveComponents returns the ordered component specs for a request.
// An empty request selects the full default set for the vendor kind.
func ResolveComponents(kind VendorKind, requested []Component) ([]ComponentSpec, error) {
	if !kind.IsValid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown vendor kind %q", kind)}
	}
	if len(requested) == 0 {
		return ComponentsFor(kind), nil
	}

	seen := make(map[Component]bool, len(requested))
	specs := make([]ComponentSpec, 0, len(requested))
	for _, name := range requested {
		if seen[name] {
			continue
		}
		seen[name] = true
		spec, ok := LookupComponent(kind, name)
		if !ok {
			return nil, &ValidationError{
				Component: name,
				Reason:    fmt.Sprintf("component not supported by %s", kind.DisplayName()),
			}
		}
		specs = append(specs, spec)
	}
	sort.SliceStable(specs, func(i, j int) bool { return specs[i].Stage < specs[j].Stage })
	return specs, nil
}

// Stages groups ordered component specs by stage, lowest stage first
func Stages(specs []ComponentSpec) [][]ComponentSpec {
	var stages [][]ComponentSpec
	for i, spec := range specs {
		if i == 0 || spec.Stage != specs[i-1].Stage {
			stages = append(stages, nil)
		}
		stages[len(stages)-1] = append(stages[len(stages)-1], spec)
	}
	return stages
}

// LeaseKey returns the exclusivity key for an (integration, component) pair
func LeaseKey(integrationID uuid.UUID, component Component) string {
	return fmt.Sprintf("import:%s:%s", integrationID, component)
}
