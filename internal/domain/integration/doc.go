// Package integration contains the Integration bounded context.
// This context manages imports from external vendor platforms into the analytics store.
//
// Key concepts:
//   - Integration: a tenant's connection to one vendor platform (Accounting, POS, ERP)
//   - Component: a named category of importable data with a declared import order
//   - SyncCursor: the per (integration, component) watermark of the incremental sync
//   - RawRecord / NormalizedRecord: staged vendor payloads and their normalized form
//   - ImportRun: one attempt to import a set of components over a time window
//   - VendorAdapter: port for paginated retrieval from a vendor platform
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
