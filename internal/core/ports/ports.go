package ports

import (
	"context"

	"github.com/tidemill/solgate/internal/core/domain"
)

// EndpointRepository defines the interface for the endpoint registry.
type EndpointRepository interface {
	GetAll(ctx context.Context) ([]*domain.Endpoint, error)
	GetByPool(ctx context.Context, pt domain.PoolType) ([]*domain.Endpoint, error)
	GetHealthy(ctx context.Context, pt domain.PoolType) ([]*domain.Endpoint, error)
	Get(ctx context.Context, url string) (*domain.Endpoint, error)
	UpsertFromConfig(ctx context.Context, configs []domain.EndpointConfig) error
}

// EndpointSelector picks the next endpoint for a request and tracks the
// in-flight count it used to decide.
type EndpointSelector interface {
	Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error)
	Name() string
	IncrementConnections(endpoint *domain.Endpoint)
	DecrementConnections(endpoint *domain.Endpoint)
}

// RateLimiter hands out request slots per endpoint URL under a sliding
// window. Acquire blocks until a slot frees or ctx expires.
type RateLimiter interface {
	Acquire(ctx context.Context, url string) error
	TryAcquire(url string) bool
	Configure(url string, limit domain.RateLimitConfig)
	Stats() map[string]RateLimiterStats
}

// RateLimiterStats describes one endpoint's window occupancy.
type RateLimiterStats struct {
	URL         string
	MaxRequests int
	WindowMs    int64
	InWindow    int
	TotalWaits  int64
	TotalWaitMs int64
}
