package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawRecord(id uuid.UUID, component integration.Component, vendorID string, payload string, modified time.Time) *integration.RawRecord {
	return integration.NewRawRecord(id, component, integration.FetchedRecord{
		VendorID:   vendorID,
		ModifiedAt: &modified,
		Payload:    json.RawMessage(payload),
	}, modified)
}

func TestGormStagingRepository_UpsertBatch(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("re-fetch overwrites instead of duplicating", func(t *testing.T) {
		repo := NewGormStagingRepository(setupImportTestDB(t))
		id := uuid.New()

		n, err := repo.UpsertBatch(ctx, []*integration.RawRecord{
			rawRecord(id, integration.ComponentAccounts, "a-1", `{"Name":"Cash"}`, day),
			rawRecord(id, integration.ComponentAccounts, "a-2", `{"Name":"Sales"}`, day),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = repo.UpsertBatch(ctx, []*integration.RawRecord{
			rawRecord(id, integration.ComponentAccounts, "a-1", `{"Name":"Cash at bank"}`, day.Add(time.Hour)),
		})
		require.NoError(t, err)

		count, err := repo.Count(ctx, id, integration.ComponentAccounts)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		recs, err := repo.FindByVendorIDs(ctx, id, integration.ComponentAccounts, []string{"a-1"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.JSONEq(t, `{"Name":"Cash at bank"}`, string(recs[0].Payload))
		assert.True(t, recs[0].ModifiedAt.Equal(day.Add(time.Hour)))
	})

	t.Run("duplicates inside one batch collapse", func(t *testing.T) {
		repo := NewGormStagingRepository(setupImportTestDB(t))
		id := uuid.New()

		n, err := repo.UpsertBatch(ctx, []*integration.RawRecord{
			rawRecord(id, integration.ComponentOrders, "o-1", `{"v":1}`, day),
			rawRecord(id, integration.ComponentOrders, "o-1", `{"v":2}`, day),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		recs, err := repo.FindByVendorIDs(ctx, id, integration.ComponentOrders, []string{"o-1"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.JSONEq(t, `{"v":2}`, string(recs[0].Payload))
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		repo := NewGormStagingRepository(setupImportTestDB(t))
		n, err := repo.UpsertBatch(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestGormStagingRepository_FindInWindow(t *testing.T) {
	ctx := context.Background()
	repo := NewGormStagingRepository(setupImportTestDB(t))
	id := uuid.New()
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	// fetched late, modified long before the window
	late := rawRecord(id, integration.ComponentInvoices, "i-0", `{}`, day.AddDate(0, -1, 0))
	late.FetchedAt = day.Add(3 * time.Hour)

	_, err := repo.UpsertBatch(ctx, []*integration.RawRecord{
		late,
		rawRecord(id, integration.ComponentInvoices, "i-3", `{}`, day.Add(-time.Hour)),
		rawRecord(id, integration.ComponentInvoices, "i-2", `{}`, day.Add(2*time.Hour)),
		rawRecord(id, integration.ComponentInvoices, "i-1", `{}`, day.Add(23*time.Hour)),
		rawRecord(id, integration.ComponentContacts, "c-1", `{}`, day.Add(time.Hour)),
		rawRecord(uuid.New(), integration.ComponentInvoices, "i-9", `{}`, day.Add(time.Hour)),
	})
	require.NoError(t, err)

	recs, err := repo.FindInWindow(ctx, id, integration.ComponentInvoices, integration.Window{
		Since: day,
		Until: day.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "i-0", recs[0].VendorID)
	assert.Equal(t, "i-1", recs[1].VendorID)
	assert.Equal(t, "i-2", recs[2].VendorID)

	none, err := repo.FindByVendorIDs(ctx, id, integration.ComponentInvoices, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
