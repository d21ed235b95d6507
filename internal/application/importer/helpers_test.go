package importer

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/lock"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/persistence"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/persistence/models"
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/vendor"
)

// testClock is the fixed "now" of orchestrator and transformer tests
var testClock = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.ImportModels()...))
	return db
}

// ---------------------------------------------------------------------------
// fakeAdapter serves scripted pages per component. Page N is addressed by
// page token "N"; the first page has an empty token.
// ---------------------------------------------------------------------------

type fakeAdapter struct {
	kind integration.VendorKind

	mu          sync.Mutex
	pages       map[integration.Component][][]integration.FetchedRecord
	failures    map[string][]error
	calls       []integration.PageRequest
	inFlight    map[integration.Component]int
	maxInFlight map[integration.Component]int

	// hook runs before a page is served; a non-nil error is returned as is
	hook func(ctx context.Context, req integration.PageRequest) error
}

func newFakeAdapter(kind integration.VendorKind) *fakeAdapter {
	return &fakeAdapter{
		kind:        kind,
		pages:       make(map[integration.Component][][]integration.FetchedRecord),
		failures:    make(map[string][]error),
		inFlight:    make(map[integration.Component]int),
		maxInFlight: make(map[integration.Component]int),
	}
}

func (f *fakeAdapter) Kind() integration.VendorKind { return f.kind }

func (f *fakeAdapter) setPages(component integration.Component, pages ...[]integration.FetchedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[component] = pages
}

// failOn queues errors returned by the given page before it is served
func (f *fakeAdapter) failOn(component integration.Component, token string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(component) + "#" + token
	f.failures[key] = append(f.failures[key], errs...)
}

func (f *fakeAdapter) FetchPage(ctx context.Context, _ *integration.Credential, req integration.PageRequest) (*integration.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.inFlight[req.Component]++
	if f.inFlight[req.Component] > f.maxInFlight[req.Component] {
		f.maxInFlight[req.Component] = f.inFlight[req.Component]
	}
	key := string(req.Component) + "#" + req.PageToken
	var failure error
	if errs := f.failures[key]; len(errs) > 0 {
		failure, f.failures[key] = errs[0], errs[1:]
	}
	pages := f.pages[req.Component]
	hook := f.hook
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight[req.Component]--
		f.mu.Unlock()
	}()

	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return nil, err
		}
	}
	if failure != nil {
		return nil, failure
	}

	idx := 0
	if req.PageToken != "" {
		idx, _ = strconv.Atoi(req.PageToken)
	}
	if idx >= len(pages) {
		return &integration.Page{Done: true}, nil
	}
	page := &integration.Page{Records: pages[idx], Done: idx+1 >= len(pages)}
	if !page.Done {
		page.NextPageToken = strconv.Itoa(idx + 1)
	}
	return page, nil
}

func (f *fakeAdapter) callsFor(component integration.Component) []integration.PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []integration.PageRequest
	for _, c := range f.calls {
		if c.Component == component {
			out = append(out, c)
		}
	}
	return out
}

func fetched(vendorID, payload string) integration.FetchedRecord {
	return integration.FetchedRecord{VendorID: vendorID, Payload: json.RawMessage(payload)}
}

// ---------------------------------------------------------------------------
// testEnv wires the orchestrator over real repositories on SQLite
// ---------------------------------------------------------------------------

type testEnv struct {
	db           *gorm.DB
	integ        *integration.Integration
	adapter      *fakeAdapter
	integrations *persistence.GormIntegrationRepository
	credentials  *persistence.GormCredentialRepository
	cursors      *persistence.GormCursorRepository
	staging      *persistence.GormStagingRepository
	normalized   *persistence.GormNormalizedRepository
	pending      *persistence.GormPendingReferenceRepository
	ledger       *persistence.GormImportRunRepository
	transformer  *Transformer
	orch         *Orchestrator
}

func newTestEnv(t *testing.T, kind integration.VendorKind) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	env := &testEnv{
		db:           db,
		adapter:      newFakeAdapter(kind),
		integrations: persistence.NewGormIntegrationRepository(db),
		credentials:  persistence.NewGormCredentialRepository(db),
		cursors:      persistence.NewGormCursorRepository(db),
		staging:      persistence.NewGormStagingRepository(db),
		normalized:   persistence.NewGormNormalizedRepository(db),
		pending:      persistence.NewGormPendingReferenceRepository(db),
		ledger:       persistence.NewGormImportRunRepository(db),
	}
	env.integ = env.addIntegration(t, kind, true, true)

	env.transformer = NewTransformer(env.integrations, env.staging, env.normalized, env.pending, nil, 2, nil)
	env.transformer.now = func() time.Time { return testClock }

	leases := lock.NewManager(lock.NewMemoryBackend(), lock.Config{
		TTL:            time.Minute,
		AcquireTimeout: 5 * time.Second,
		PollInterval:   time.Millisecond,
		MaxPollDelay:   5 * time.Millisecond,
	}, nil)

	env.orch = NewOrchestrator(OrchestratorDeps{
		Integrations: env.integrations,
		Credentials:  env.credentials,
		Adapters:     vendor.NewRegistry(env.adapter),
		Cursors:      env.cursors,
		Staging:      env.staging,
		Ledger:       env.ledger,
		Leases:       leases,
		Transformer:  env.transformer,
	}, OrchestratorConfig{
		PageRetryAttempts:  2,
		PageRetryBaseDelay: time.Millisecond,
		PageRetryMaxDelay:  time.Millisecond,
		FetchTimeout:       time.Second,
		RunBudget:          10 * time.Second,
	})
	env.orch.now = func() time.Time { return testClock }
	env.orch.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return env
}

func (e *testEnv) addIntegration(t *testing.T, kind integration.VendorKind, active, withCredential bool) *integration.Integration {
	t.Helper()
	ctx := context.Background()
	integ := &integration.Integration{
		ID:         uuid.New(),
		TenantID:   uuid.New(),
		Name:       kind.DisplayName() + " test",
		VendorKind: kind,
		IsActive:   active,
		Settings:   map[string]string{},
		CreatedAt:  testClock,
		UpdatedAt:  testClock,
	}
	require.NoError(t, e.integrations.Save(ctx, integ))
	if withCredential {
		require.NoError(t, e.credentials.SaveCredential(ctx, &integration.Credential{
			IntegrationID: integ.ID,
			VendorKind:    kind,
			AccessToken:   "token",
			TenantHeader:  "tenant",
		}))
	}
	return integ
}

func (e *testEnv) request(components ...integration.Component) integration.RunRequest {
	return integration.RunRequest{
		IntegrationID: e.integ.ID,
		Components:    components,
		Trigger:       integration.RunTriggerManual,
	}
}

func (e *testEnv) normalizedCount(t *testing.T, component integration.Component) int64 {
	t.Helper()
	n, err := e.normalized.Count(context.Background(), e.integ.ID, component)
	require.NoError(t, err)
	return n
}

func (e *testEnv) stagedCount(t *testing.T, component integration.Component) int64 {
	t.Helper()
	n, err := e.staging.Count(context.Background(), e.integ.ID, component)
	require.NoError(t, err)
	return n
}

func (e *testEnv) watermark(t *testing.T, component integration.Component) *time.Time {
	t.Helper()
	cursor, err := e.cursors.Get(context.Background(), e.integ.ID, component)
	require.NoError(t, err)
	if cursor == nil {
		return nil
	}
	return cursor.Watermark
}

// stage writes raw records directly, as a previous fetch would have
func (e *testEnv) stage(t *testing.T, component integration.Component, recs ...integration.FetchedRecord) {
	t.Helper()
	batch := make([]*integration.RawRecord, 0, len(recs))
	for _, r := range recs {
		batch = append(batch, integration.NewRawRecord(e.integ.ID, component, r, testClock))
	}
	_, err := e.staging.UpsertBatch(context.Background(), batch)
	require.NoError(t, err)
}
