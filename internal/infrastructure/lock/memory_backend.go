package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	owner     string
	expiresAt time.Time
}

// MemoryBackend keeps leases in process memory.
// Leases are not shared across process instances.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryBackend creates an in-memory lease backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// TryAcquire takes the key when it is free or its holder expired
func (b *MemoryBackend) TryAcquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if e, ok := b.entries[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	b.entries[key] = memoryEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// Extend renews the key when owner still holds it
func (b *MemoryBackend) Extend(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok || e.owner != owner {
		return false, nil
	}
	e.expiresAt = b.now().Add(ttl)
	b.entries[key] = e
	return true, nil
}

// Release frees the key when owner still holds it
func (b *MemoryBackend) Release(_ context.Context, key, owner string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok || e.owner != owner {
		return false, nil
	}
	delete(b.entries, key)
	return true, nil
}
