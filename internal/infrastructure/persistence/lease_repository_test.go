package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormLeaseRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormLeaseRepository(setupImportTestDB(t))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	ok, err := repo.TryAcquire(ctx, "import:x:orders", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TryAcquire(ctx, "import:x:orders", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lease cannot be taken")

	ok, err = repo.TryAcquire(ctx, "import:x:restaurants", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "other keys are independent")

	released, err := repo.Release(ctx, "import:x:orders", "owner-b")
	require.NoError(t, err)
	assert.False(t, released, "only the owner can release")

	now = now.Add(2 * time.Minute)
	ok, err = repo.TryAcquire(ctx, "import:x:orders", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be stolen")

	released, err = repo.Release(ctx, "import:x:orders", "owner-a")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = repo.Release(ctx, "import:x:orders", "owner-b")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestGormLeaseRepository_Extend(t *testing.T) {
	ctx := context.Background()
	repo := NewGormLeaseRepository(setupImportTestDB(t))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	ok, err := repo.TryAcquire(ctx, "import:x:accounts", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(50 * time.Second)
	extended, err := repo.Extend(ctx, "import:x:accounts", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	extended, err = repo.Extend(ctx, "import:x:accounts", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "only the owner can extend")

	// past the original expiry, inside the extended one
	now = now.Add(50 * time.Second)
	ok, err = repo.TryAcquire(ctx, "import:x:accounts", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "extended lease cannot be stolen")
}
