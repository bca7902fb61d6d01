package balancer

import (
	"context"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/logger"
)

// ScoredSelector ranks healthy endpoints by their live score: success and
// error streaks, smoothed latency, in-flight load and request history. Ties
// go to the lower priority value, then the lexically smaller URL so repeated
// selections are deterministic.
type ScoredSelector struct {
	logger logger.StyledLogger
}

func NewScoredSelector(logger logger.StyledLogger) *ScoredSelector {
	return &ScoredSelector{logger: logger}
}

func (s *ScoredSelector) Name() string {
	return DefaultBalancerScored
}

func (s *ScoredSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, domain.ErrNoEndpointAvailable
	}

	var best *domain.Endpoint
	bestScore := 0
	for _, endpoint := range endpoints {
		if !endpoint.Healthy() {
			continue
		}
		score := endpoint.Score()
		if best == nil || score > bestScore || (score == bestScore && prefer(endpoint, best)) {
			best = endpoint
			bestScore = score
		}
	}

	if best == nil {
		return leastUnhealthy(endpoints, s.logger), nil
	}
	return best, nil
}

func (s *ScoredSelector) IncrementConnections(endpoint *domain.Endpoint) {
	endpoint.BeginRequest()
}

func (s *ScoredSelector) DecrementConnections(endpoint *domain.Endpoint) {
	endpoint.EndRequest()
}

// prefer breaks score ties: lower priority value wins, then lexical URL.
func prefer(a, b *domain.Endpoint) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.URL < b.URL
}

// leastUnhealthy picks the least damaged endpoint when nothing is healthy.
// Requests must keep flowing on the chance the pool recovers under us, so
// this logs rather than errors.
func leastUnhealthy(endpoints []*domain.Endpoint, log logger.StyledLogger) *domain.Endpoint {
	best := endpoints[0]
	bestErrors := best.Snapshot().ConsecutiveErrors
	for _, endpoint := range endpoints[1:] {
		errors := endpoint.Snapshot().ConsecutiveErrors
		if errors < bestErrors || (errors == bestErrors && prefer(endpoint, best)) {
			best = endpoint
			bestErrors = errors
		}
	}
	if log != nil {
		log.WarnWithEndpoint("no healthy endpoint, using least-unhealthy", best.URL,
			"consecutive_errors", bestErrors)
	}
	return best
}
