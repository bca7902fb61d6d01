package services

import (
	"context"

	"github.com/tidemill/solgate/internal/adapter/stats"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

// StatsService owns the shared stats collector. It starts first because
// nearly everything else records through it.
type StatsService struct {
	collector *stats.Collector
	logger    logger.StyledLogger
}

// NewStatsService creates a new stats service
func NewStatsService(styledLogger logger.StyledLogger) *StatsService {
	return &StatsService{
		logger: styledLogger,
	}
}

// Name returns the service name
func (s *StatsService) Name() string {
	return "stats"
}

// Start initialises the stats collector
func (s *StatsService) Start(ctx context.Context) error {
	s.collector = stats.NewCollector(s.logger)
	return nil
}

// Stop gracefully shuts down the stats collector
func (s *StatsService) Stop(ctx context.Context) error {
	// Lock-free atomic counters need no teardown
	return nil
}

// Dependencies returns service dependencies
func (s *StatsService) Dependencies() []string {
	return []string{}
}

// GetCollector returns the underlying stats collector
func (s *StatsService) GetCollector() ports.StatsCollector {
	if s.collector == nil {
		panic("stats collector not initialised")
	}
	return s.collector
}
