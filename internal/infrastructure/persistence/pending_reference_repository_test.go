package persistence

import (
	"context"
	"testing"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormPendingReferenceRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormPendingReferenceRepository(setupImportTestDB(t))
	id := uuid.New()

	ref := &integration.PendingReference{
		IntegrationID: id,
		Component:     integration.ComponentInvoices,
		VendorID:      "inv-1",
		RefComponent:  integration.ComponentContacts,
		RefVendorID:   "c-1",
		LastError:     "contact c-1 missing",
	}

	attempts, err := repo.Defer(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	attempts, err = repo.Defer(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	other := *ref
	other.VendorID = "inv-0"
	_, err = repo.Defer(ctx, &other)
	require.NoError(t, err)

	list, err := repo.ListByComponent(ctx, id, integration.ComponentInvoices)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "inv-0", list[0].VendorID)
	assert.Equal(t, 2, list[1].Attempts)
	assert.Equal(t, integration.ComponentContacts, list[1].RefComponent)

	require.NoError(t, repo.Resolve(ctx, id, integration.ComponentInvoices, "inv-1"))
	list, err = repo.ListByComponent(ctx, id, integration.ComponentInvoices)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "inv-0", list[0].VendorID)
}
