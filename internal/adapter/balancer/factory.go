package balancer

import (
	"fmt"
	"sync"

	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

const DefaultBalancerScored = "scored"
const DefaultBalancerPriority = "priority"
const DefaultBalancerRoundRobin = "round-robin"

type Factory struct {
	creators map[string]func(logger.StyledLogger) ports.EndpointSelector
	logger   logger.StyledLogger
	mu       sync.RWMutex
}

func NewFactory(log logger.StyledLogger) *Factory {
	factory := &Factory{
		creators: make(map[string]func(logger.StyledLogger) ports.EndpointSelector),
		logger:   log,
	}

	factory.Register(DefaultBalancerScored, func(log logger.StyledLogger) ports.EndpointSelector {
		return NewScoredSelector(log)
	})
	factory.Register(DefaultBalancerPriority, func(log logger.StyledLogger) ports.EndpointSelector {
		return NewPrioritySelector(log)
	})
	factory.Register(DefaultBalancerRoundRobin, func(log logger.StyledLogger) ports.EndpointSelector {
		return NewRoundRobinSelector(log)
	})

	return factory
}

func (f *Factory) Register(name string, creator func(logger.StyledLogger) ports.EndpointSelector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[name] = creator
}

// Create builds the named selection strategy, defaulting to scored when
// name is empty.
func (f *Factory) Create(name string) (ports.EndpointSelector, error) {
	if name == "" {
		name = DefaultBalancerScored
	}

	f.mu.RLock()
	creator, exists := f.creators[name]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown selection strategy: %s", name)
	}

	return creator(f.logger), nil
}

func (f *Factory) GetAvailableStrategies() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	strategies := make([]string, 0, len(f.creators))
	for name := range f.creators {
		strategies = append(strategies, name)
	}
	return strategies
}
