package services

import (
	"context"
	"fmt"

	"github.com/tidemill/solgate/internal/adapter/balancer"
	"github.com/tidemill/solgate/internal/adapter/health"
	"github.com/tidemill/solgate/internal/adapter/ratelimit"
	"github.com/tidemill/solgate/internal/adapter/registry"
	"github.com/tidemill/solgate/internal/adapter/rpcpool"
	"github.com/tidemill/solgate/internal/config"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/internal/util"
)

// PoolService assembles the RPC execution stack: endpoint registry, rate
// limiter, selector, health prober and the retrying pool executor. Endpoints
// come from config in one of three shapes (structured list, pooled URL list,
// single URL); the websocket URL joins the registry as its own endpoint so
// the supervisor rides the same health bookkeeping.
type PoolService struct {
	config       *config.SolanaConfig
	statsService *StatsService
	logger       logger.StyledLogger

	limiter  *ratelimit.SlidingWindowLimiter
	registry *registry.StaticEndpointRegistry
	selector ports.EndpointSelector
	checker  *health.RPCHealthChecker
	pool     *rpcpool.Pool
}

// NewPoolService creates a new pool service
func NewPoolService(cfg *config.SolanaConfig, styledLogger logger.StyledLogger) *PoolService {
	return &PoolService{
		config: cfg,
		logger: styledLogger,
	}
}

// Name returns the service name
func (s *PoolService) Name() string {
	return "pool"
}

// Start builds the execution stack and begins health probing
func (s *PoolService) Start(ctx context.Context) error {
	collector := s.statsService.GetCollector()

	s.limiter = ratelimit.NewSlidingWindowLimiter(s.logger)
	s.registry = registry.NewStaticEndpointRegistry(s.limiter, ratelimit.LookupProviderLimit, s.logger)

	configs := buildEndpointConfigs(s.config)
	if len(configs) == 0 {
		return fmt.Errorf("%w: no RPC endpoints configured", domain.ErrNoEndpointAvailable)
	}
	if err := s.registry.UpsertFromConfig(ctx, configs); err != nil {
		return fmt.Errorf("failed to load endpoints from config: %w", err)
	}

	selector, err := balancer.NewFactory(s.logger).Create(s.config.Selection)
	if err != nil {
		return fmt.Errorf("failed to create endpoint selector: %w", err)
	}
	s.selector = selector

	s.pool = rpcpool.NewPoolWithPolicy(s.registry, s.selector, s.limiter, collector, s.logger,
		s.config.MaxRetries, s.config.RequestTimeout)

	s.checker = health.NewRPCHealthChecker(s.registry, s.config.HealthCheckInterval(), s.logger)
	if err := s.checker.StartChecking(ctx); err != nil {
		return fmt.Errorf("failed to start health checker: %w", err)
	}

	endpoints, err := s.registry.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, endpoint := range endpoints {
		s.logger.InfoWithEndpoint("endpoint registered", endpoint.URL,
			"priority", endpoint.Priority,
			"pools", fmt.Sprintf("%v", endpoint.PoolTypes()))
	}

	return nil
}

// Stop halts probing and closes the pool
func (s *PoolService) Stop(ctx context.Context) error {
	if s.checker != nil {
		if err := s.checker.StopChecking(ctx); err != nil {
			s.logger.Warn("failed to stop health checker", "error", err.Error())
		}
	}
	if s.pool != nil {
		return s.pool.Close()
	}
	return nil
}

// Dependencies returns service dependencies
func (s *PoolService) Dependencies() []string {
	return []string{"stats"}
}

// SetStatsService sets the stats service dependency
func (s *PoolService) SetStatsService(statsService *StatsService) {
	s.statsService = statsService
}

// GetPool returns the pool executor
func (s *PoolService) GetPool() *rpcpool.Pool {
	if s.pool == nil {
		panic("rpc pool not initialised")
	}
	return s.pool
}

// GetRegistry returns the endpoint registry
func (s *PoolService) GetRegistry() ports.EndpointRepository {
	if s.registry == nil {
		panic("endpoint registry not initialised")
	}
	return s.registry
}

// GetSelector returns the endpoint selector
func (s *PoolService) GetSelector() ports.EndpointSelector {
	if s.selector == nil {
		panic("endpoint selector not initialised")
	}
	return s.selector
}

// buildEndpointConfigs maps the configuration onto registry entries. The
// structured endpoint list wins over the pooled URL list, which wins over
// the single-URL form. A configured websocket URL becomes a websocket-pool
// endpoint unless the structured list already covers that pool; the
// single-URL form derives one from the RPC URL when none is configured.
func buildEndpointConfigs(cfg *config.SolanaConfig) []domain.EndpointConfig {
	var configs []domain.EndpointConfig

	defaultPools := []domain.PoolType{domain.PoolQuery, domain.PoolSubmit}
	wsURL := cfg.WsURL

	switch {
	case len(cfg.Endpoints) > 0:
		for _, ep := range cfg.Endpoints {
			pools := make([]domain.PoolType, 0, len(ep.Pools))
			for _, p := range ep.Pools {
				pools = append(pools, domain.PoolType(p))
			}
			if len(pools) == 0 {
				pools = defaultPools
			}
			var limit *domain.RateLimitConfig
			if ep.RateLimit != nil {
				limit = &domain.RateLimitConfig{
					MaxRequests: ep.RateLimit.MaxRequests,
					Window:      ep.RateLimit.Window(),
				}
			}
			configs = append(configs, domain.EndpointConfig{
				URL:       ep.URL,
				Priority:  ep.Priority,
				Weight:    ep.Weight,
				PoolTypes: pools,
				RateLimit: limit,
			})
		}
	case len(cfg.RPCURLList()) > 0:
		for i, url := range cfg.RPCURLList() {
			configs = append(configs, domain.EndpointConfig{
				URL:       url,
				Priority:  i,
				PoolTypes: defaultPools,
			})
		}
	case cfg.RPCURL != "":
		configs = append(configs, domain.EndpointConfig{
			URL:       cfg.RPCURL,
			PoolTypes: defaultPools,
		})
		if wsURL == "" {
			// Solana convention, the ws endpoint is the RPC URL with
			// the scheme swapped
			if derived := util.HTTPToWsURL(cfg.RPCURL); derived != cfg.RPCURL {
				wsURL = derived
			}
		}
	}

	if wsURL != "" && !coversPool(configs, domain.PoolWebSocket) {
		configs = append(configs, domain.EndpointConfig{
			URL:       wsURL,
			PoolTypes: []domain.PoolType{domain.PoolWebSocket},
		})
	}

	return configs
}

func coversPool(configs []domain.EndpointConfig, pt domain.PoolType) bool {
	for _, cfg := range configs {
		for _, pool := range cfg.PoolTypes {
			if pool == pt {
				return true
			}
		}
	}
	return false
}
