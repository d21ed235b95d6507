package importer

import (
	"context"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
)

// MapContext carries the integration a record belongs to
type MapContext struct {
	Integration *integration.Integration
}

// MapFunc turns one staged record into its normalized row. The row's
// References must all resolve before it is written. Malformed payloads return
// *integration.ValidationError.
type MapFunc func(mc MapContext, raw *integration.RawRecord) (*integration.NormalizedRecord, error)

type mapperKey struct {
	kind      integration.VendorKind
	component integration.Component
}

// DeriveFunc expands one normalized source row into rows of a derived
// component. Rows it cannot expand return *integration.ValidationError.
type DeriveFunc func(ctx context.Context, lookup RowLookup, src *integration.NormalizedRecord) ([]*integration.NormalizedRecord, error)

// RowLookup reads other normalized rows of the same integration; a missing row is nil
type RowLookup func(ctx context.Context, component integration.Component, vendorID string) (*integration.NormalizedRecord, error)

// Deriver builds a derived component from the rows of its source component
type Deriver struct {
	Source integration.Component
	Derive DeriveFunc
}

// MapperRegistry selects the mapper or deriver of a (vendor kind, component) pair
type MapperRegistry struct {
	mappers  map[mapperKey]MapFunc
	derivers map[mapperKey]Deriver
}

// NewMapperRegistry returns a registry holding the Xero, Toast and NetSuite mappers
func NewMapperRegistry() *MapperRegistry {
	r := &MapperRegistry{mappers: make(map[mapperKey]MapFunc), derivers: make(map[mapperKey]Deriver)}
	registerXeroMappers(r)
	registerToastMappers(r)
	registerNetSuiteMappers(r)
	return r
}

// Register adds or replaces a mapper
func (r *MapperRegistry) Register(kind integration.VendorKind, component integration.Component, fn MapFunc) {
	r.mappers[mapperKey{kind: kind, component: component}] = fn
}

// Get returns the mapper of a pair
func (r *MapperRegistry) Get(kind integration.VendorKind, component integration.Component) (MapFunc, bool) {
	fn, ok := r.mappers[mapperKey{kind: kind, component: component}]
	return fn, ok
}

// RegisterDeriver adds or replaces the deriver of a derived component
func (r *MapperRegistry) RegisterDeriver(kind integration.VendorKind, component, source integration.Component, fn DeriveFunc) {
	r.derivers[mapperKey{kind: kind, component: component}] = Deriver{Source: source, Derive: fn}
}

// Deriver returns the deriver of a derived component
func (r *MapperRegistry) Deriver(kind integration.VendorKind, component integration.Component) (Deriver, bool) {
	d, ok := r.derivers[mapperKey{kind: kind, component: component}]
	return d, ok
}
