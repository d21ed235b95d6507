package lock

import (
	"github.com/ShenlongDev/afp-integration/internal/infrastructure/persistence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BackendFactoryOption is a functional option for NewBackend
type BackendFactoryOption func(*backendFactory)

type backendFactory struct {
	redis     *redis.Client
	db        *gorm.DB
	keyPrefix string
	logger    *zap.Logger
}

// WithRedis selects the Redis backend
func WithRedis(client *redis.Client) BackendFactoryOption {
	return func(f *backendFactory) {
		f.redis = client
	}
}

// WithDatabase selects the import_leases table backend when Redis is not configured
func WithDatabase(db *gorm.DB) BackendFactoryOption {
	return func(f *backendFactory) {
		f.db = db
	}
}

// WithKeyPrefix sets the Redis key prefix
func WithKeyPrefix(prefix string) BackendFactoryOption {
	return func(f *backendFactory) {
		f.keyPrefix = prefix
	}
}

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) BackendFactoryOption {
	return func(f *backendFactory) {
		f.logger = logger
	}
}

// NewBackend picks a lease backend: Redis when a client is given, otherwise
// the database, otherwise process memory.
func NewBackend(opts ...BackendFactoryOption) Backend {
	f := &backendFactory{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}

	switch {
	case f.redis != nil:
		f.logger.Info("using Redis lease backend")
		return NewRedisBackend(f.redis, f.keyPrefix)
	case f.db != nil:
		f.logger.Info("using database lease backend")
		return persistence.NewGormLeaseRepository(f.db)
	default:
		f.logger.Warn("no shared lease backend configured, falling back to in-memory leases. " +
			"Concurrent processes will not exclude each other.")
		return NewMemoryBackend()
	}
}
