package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

// StaticEndpointRegistry holds the configured endpoints, partitioned by pool
// type. Endpoints synchronise their own stats, so lookups hand out shared
// pointers rather than copies. Membership changes only through
// UpsertFromConfig; per-pool views are cached until then.
type StaticEndpointRegistry struct {
	endpoints    map[string]*domain.Endpoint
	order        []string
	byPool       map[domain.PoolType][]*domain.Endpoint
	resolveLimit func(string) domain.RateLimitConfig
	limiter      ports.RateLimiter
	logger       logger.StyledLogger
	lastModified time.Time
	mu           sync.RWMutex
}

func NewStaticEndpointRegistry(limiter ports.RateLimiter, resolveLimit func(string) domain.RateLimitConfig, logger logger.StyledLogger) *StaticEndpointRegistry {
	if resolveLimit == nil {
		resolveLimit = func(string) domain.RateLimitConfig { return domain.RateLimitConfig{} }
	}
	return &StaticEndpointRegistry{
		endpoints:    make(map[string]*domain.Endpoint),
		byPool:       make(map[domain.PoolType][]*domain.Endpoint),
		resolveLimit: resolveLimit,
		limiter:      limiter,
		logger:       logger,
	}
}

// UpsertFromConfig registers every endpoint in configs. URLs already present
// keep their accumulated health stats; their config is not reapplied because
// priority and pool membership are fixed for an endpoint's lifetime. The
// endpoint's rate limit budget is resolved here and pushed to the limiter.
func (r *StaticEndpointRegistry) UpsertFromConfig(ctx context.Context, configs []domain.EndpointConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, cfg := range configs {
		if _, exists := r.endpoints[cfg.URL]; exists {
			continue
		}

		limit := r.resolveLimit(cfg.URL)
		if cfg.RateLimit != nil {
			limit = *cfg.RateLimit
		}

		endpoint, err := domain.NewEndpoint(cfg, limit)
		if err != nil {
			return fmt.Errorf("registering endpoint: %w", err)
		}

		r.endpoints[cfg.URL] = endpoint
		r.order = append(r.order, cfg.URL)
		if r.limiter != nil {
			r.limiter.Configure(cfg.URL, limit)
		}
		added++
	}

	if added > 0 {
		r.rebuildPools()
		r.lastModified = time.Now()
		if r.logger != nil {
			r.logger.InfoWithCount("registered endpoints", added)
		}
	}
	return nil
}

// rebuildPools recomputes the per-pool partitions. Caller holds mu. Each
// partition is ordered by priority then URL so selection tie-breaks are
// deterministic.
func (r *StaticEndpointRegistry) rebuildPools() {
	byPool := make(map[domain.PoolType][]*domain.Endpoint)
	for _, url := range r.order {
		endpoint := r.endpoints[url]
		for _, pt := range endpoint.PoolTypes() {
			byPool[pt] = append(byPool[pt], endpoint)
		}
	}
	for _, members := range byPool {
		sort.Slice(members, func(i, j int) bool {
			if members[i].Priority != members[j].Priority {
				return members[i].Priority < members[j].Priority
			}
			return members[i].URL < members[j].URL
		})
	}
	r.byPool = byPool
}

func (r *StaticEndpointRegistry) GetAll(ctx context.Context) ([]*domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoints := make([]*domain.Endpoint, 0, len(r.order))
	for _, url := range r.order {
		endpoints = append(endpoints, r.endpoints[url])
	}
	return endpoints, nil
}

func (r *StaticEndpointRegistry) GetByPool(ctx context.Context, pt domain.PoolType) ([]*domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.byPool[pt]
	out := make([]*domain.Endpoint, len(members))
	copy(out, members)
	return out, nil
}

func (r *StaticEndpointRegistry) GetHealthy(ctx context.Context, pt domain.PoolType) ([]*domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.byPool[pt]
	healthy := make([]*domain.Endpoint, 0, len(members))
	for _, endpoint := range members {
		if endpoint.Healthy() {
			healthy = append(healthy, endpoint)
		}
	}
	return healthy, nil
}

func (r *StaticEndpointRegistry) Get(ctx context.Context, url string) (*domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoint, exists := r.endpoints[url]
	if !exists {
		return nil, fmt.Errorf("endpoint not found: %s", url)
	}
	return endpoint, nil
}

var _ ports.EndpointRepository = (*StaticEndpointRegistry)(nil)
