package services

import (
	"context"

	"github.com/tidemill/solgate/internal/adapter/bus"
	"github.com/tidemill/solgate/internal/config"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

// BusService owns the event-bus publisher. With the bus disabled it hands
// out a no-op publisher so downstream services never carry nil checks; the
// event stream is only available on the real connection.
type BusService struct {
	config       *config.BusConfig
	statsService *StatsService
	publisher    ports.EventPublisher
	stream       ports.EventStream
	logger       logger.StyledLogger
}

// NewBusService creates a new bus service
func NewBusService(cfg *config.BusConfig, styledLogger logger.StyledLogger) *BusService {
	return &BusService{
		config: cfg,
		logger: styledLogger,
	}
}

// Name returns the service name
func (s *BusService) Name() string {
	return "bus"
}

// Start connects the publisher
func (s *BusService) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.publisher = bus.NewNoopPublisher()
		s.logger.Info("event bus disabled, events will be dropped")
		return nil
	}

	collector := s.statsService.GetCollector()
	publisher, err := bus.NewNATSPublisher(s.config.URL, collector, s.logger)
	if err != nil {
		return err
	}

	s.publisher = publisher
	s.stream = publisher
	return nil
}

// Stop drains and closes the publisher
func (s *BusService) Stop(ctx context.Context) error {
	if s.publisher != nil {
		s.publisher.Close()
	}
	return nil
}

// Dependencies returns service dependencies
func (s *BusService) Dependencies() []string {
	return []string{"stats"}
}

// SetStatsService sets the stats service dependency
func (s *BusService) SetStatsService(statsService *StatsService) {
	s.statsService = statsService
}

// GetPublisher returns the event publisher
func (s *BusService) GetPublisher() ports.EventPublisher {
	if s.publisher == nil {
		panic("event publisher not initialised")
	}
	return s.publisher
}

// GetStream returns the bus read side, nil when the bus is disabled.
func (s *BusService) GetStream() ports.EventStream {
	return s.stream
}
