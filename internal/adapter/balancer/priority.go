package balancer

import (
	"context"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/logger"
)

// PrioritySelector always picks the healthy endpoint with the lowest
// priority value, ignoring live scores. Useful when a deployment wants a
// strict primary/fallback ordering.
type PrioritySelector struct {
	logger logger.StyledLogger
}

func NewPrioritySelector(logger logger.StyledLogger) *PrioritySelector {
	return &PrioritySelector{logger: logger}
}

func (p *PrioritySelector) Name() string {
	return DefaultBalancerPriority
}

func (p *PrioritySelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, domain.ErrNoEndpointAvailable
	}

	var best *domain.Endpoint
	for _, endpoint := range endpoints {
		if !endpoint.Healthy() {
			continue
		}
		if best == nil || prefer(endpoint, best) {
			best = endpoint
		}
	}

	if best == nil {
		return leastUnhealthy(endpoints, p.logger), nil
	}
	return best, nil
}

func (p *PrioritySelector) IncrementConnections(endpoint *domain.Endpoint) {
	endpoint.BeginRequest()
}

func (p *PrioritySelector) DecrementConnections(endpoint *domain.Endpoint) {
	endpoint.EndRequest()
}
