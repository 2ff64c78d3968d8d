package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
//
// Decision and loan reads are never cached: every decisioning read goes to
// the store. The cache memoizes credit bureau responses and backs exposure
// counters only.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetCreditResult retrieves a memoized credit bureau response.
	GetCreditResult(ctx context.Context, tenantID string, clientID string) (*CreditCheckResult, error)

	// SetCreditResult memoizes a credit bureau response for a short window
	// so repeated assessments of the same client do not hammer the bureau.
	SetCreditResult(ctx context.Context, tenantID string, clientID string, result *CreditCheckResult, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for bureau call budgeting per client.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
