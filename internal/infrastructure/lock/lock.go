// Package lock grants exclusive, expiring leases on string keys.
//
// A Manager blocks until a lease is granted, polling its Backend with a
// capped exponential backoff. Every acquisition carries a fresh owner token
// so that a lease which expired and was taken over by another holder cannot
// be released by the original owner. While held, a lease is renewed every
// third of its TTL; a failed renewal marks it lost.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShenlongDev/afp-integration/internal/domain/integration"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Backend is the storage behind a Manager
type Backend interface {
	// TryAcquire takes the key for owner if it is free or expired
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Extend pushes the expiry of key to now+ttl if owner still holds it
	Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release frees the key if owner still holds it
	Release(ctx context.Context, key, owner string) (bool, error)
}

// Config holds lease timing
type Config struct {
	TTL            time.Duration
	AcquireTimeout time.Duration
	PollInterval   time.Duration
	MaxPollDelay   time.Duration
}

// DefaultConfig returns the default lease timing
func DefaultConfig() Config {
	return Config{
		TTL:            30 * time.Minute,
		AcquireTimeout: 5 * time.Minute,
		PollInterval:   100 * time.Millisecond,
		MaxPollDelay:   5 * time.Second,
	}
}

// Manager implements integration.LeaseManager
type Manager struct {
	backend Backend
	config  Config
	logger  *zap.Logger
}

// NewManager creates a lease manager over a backend
func NewManager(backend Backend, cfg Config, logger *zap.Logger) *Manager {
	defaults := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaults.AcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxPollDelay < cfg.PollInterval {
		cfg.MaxPollDelay = cfg.PollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{backend: backend, config: cfg, logger: logger}
}

// Acquire blocks until the key is leased, the acquire timeout elapses
// (integration.ErrLeaseTimeout) or ctx is done (ctx.Err()).
func (m *Manager) Acquire(ctx context.Context, key string) (integration.Lease, error) {
	owner := uuid.NewString()
	waitCtx, cancel := context.WithTimeout(ctx, m.config.AcquireTimeout)
	defer cancel()

	delay := m.config.PollInterval
	waits := 0
	for {
		ok, err := m.backend.TryAcquire(waitCtx, key, owner, m.config.TTL)
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			if waits > 0 {
				m.logger.Debug("Lease acquired after waiting",
					zap.String("lease_key", key),
					zap.Int("waits", waits),
				)
			}
			return m.hold(key, owner), nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s after %s", integration.ErrLeaseTimeout, key, m.config.AcquireTimeout)
		case <-timer.C:
		}
		waits++
		delay *= 2
		if delay > m.config.MaxPollDelay {
			delay = m.config.MaxPollDelay
		}
	}
}

// hold starts the renewal heartbeat of a granted lease
func (m *Manager) hold(key, owner string) *lease {
	ctx, cancel := context.WithCancel(context.Background())
	l := &lease{
		key:     key,
		owner:   owner,
		backend: m.backend,
		lost:    make(chan struct{}),
		stop:    cancel,
		done:    make(chan struct{}),
	}
	go l.heartbeat(ctx, m.config.TTL, m.logger)
	return l
}

type lease struct {
	key     string
	owner   string
	backend Backend

	lost     chan struct{}
	lostOnce sync.Once
	stop     context.CancelFunc
	done     chan struct{}
}

func (l *lease) Key() string {
	return l.key
}

// Lost is closed when a renewal finds the lease no longer held
func (l *lease) Lost() <-chan struct{} {
	return l.lost
}

func (l *lease) heartbeat(ctx context.Context, ttl time.Duration, log *zap.Logger) {
	defer close(l.done)
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		extendCtx, cancel := context.WithTimeout(ctx, ttl/3)
		held, err := l.backend.Extend(extendCtx, l.key, l.owner, ttl)
		cancel()
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			// the lease may still be valid; retry on the next tick
			log.Warn("Lease renewal failed", zap.String("lease_key", l.key), zap.Error(err))
		case !held:
			log.Warn("Lease lost before release", zap.String("lease_key", l.key))
			l.lostOnce.Do(func() { close(l.lost) })
			return
		}
	}
}

// Release stops the heartbeat and frees the lease. It returns
// integration.ErrLeaseNotHeld when the lease expired and was taken over in
// the meantime.
func (l *lease) Release(ctx context.Context) error {
	l.stop()
	<-l.done

	released, err := l.backend.Release(ctx, l.key, l.owner)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	if !released {
		return fmt.Errorf("%w: %s", integration.ErrLeaseNotHeld, l.key)
	}
	return nil
}

var _ integration.LeaseManager = (*Manager)(nil)
