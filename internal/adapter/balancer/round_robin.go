package balancer

import (
	"context"
	"sync/atomic"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/logger"
)

// RoundRobinSelector rotates through healthy endpoints. The counter is shared
// across pools, which is fine: fairness only matters within the healthy set
// presented on each call.
type RoundRobinSelector struct {
	logger  logger.StyledLogger
	counter atomic.Uint64
}

func NewRoundRobinSelector(logger logger.StyledLogger) *RoundRobinSelector {
	return &RoundRobinSelector{logger: logger}
}

func (r *RoundRobinSelector) Name() string {
	return DefaultBalancerRoundRobin
}

func (r *RoundRobinSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, domain.ErrNoEndpointAvailable
	}

	healthy := make([]*domain.Endpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if endpoint.Healthy() {
			healthy = append(healthy, endpoint)
		}
	}

	if len(healthy) == 0 {
		return leastUnhealthy(endpoints, r.logger), nil
	}

	next := r.counter.Add(1) - 1
	return healthy[next%uint64(len(healthy))], nil
}

func (r *RoundRobinSelector) IncrementConnections(endpoint *domain.Endpoint) {
	endpoint.BeginRequest()
}

func (r *RoundRobinSelector) DecrementConnections(endpoint *domain.Endpoint) {
	endpoint.EndRequest()
}
