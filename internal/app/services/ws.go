package services

import (
	"context"

	"github.com/tidemill/solgate/internal/adapter/ws"
	"github.com/tidemill/solgate/internal/config"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/pkg/eventbus"
)

// WsService runs the websocket supervisor when a websocket endpoint is
// configured. Lifecycle transitions go through an in-process event bus with
// drop-oldest backpressure; one consumer forwards them to the external bus.
// A reconnect storm therefore never blocks the supervisor on a slow
// publisher.
type WsService struct {
	config       *config.SolanaConfig
	poolService  *PoolService
	busService   *BusService
	statsService *StatsService
	logger       logger.StyledLogger

	supervisor *ws.Supervisor
	events     *eventbus.EventBus[domain.ConnectionEvent]
	cancelSub  func()
}

// NewWsService creates a new websocket service
func NewWsService(cfg *config.SolanaConfig, styledLogger logger.StyledLogger) *WsService {
	return &WsService{
		config: cfg,
		logger: styledLogger,
	}
}

// Name returns the service name
func (s *WsService) Name() string {
	return "ws"
}

// Start launches the supervisor and the lifecycle event forwarder
func (s *WsService) Start(ctx context.Context) error {
	repository := s.poolService.GetRegistry()

	endpoints, err := repository.GetByPool(ctx, domain.PoolWebSocket)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		s.logger.Info("no websocket endpoint configured, subscriptions unavailable")
		return nil
	}

	s.events = eventbus.New[domain.ConnectionEvent]()

	publisher := s.busService.GetPublisher()
	ch, cancel := s.events.Subscribe(ctx)
	s.cancelSub = cancel
	go func() {
		for event := range ch {
			publisher.Publish(ctx, domain.EventWsConnection, domain.WsConnectionEvent{
				State:     string(event.Kind),
				URL:       event.URL,
				Attempt:   event.Attempt,
				DelayMs:   event.Delay.Milliseconds(),
				Subs:      event.Subs,
				Reason:    event.Reason,
				Timestamp: event.Occurred,
			})
		}
	}()

	supervisor := ws.NewSupervisorWithPolicy(
		repository,
		s.poolService.GetSelector(),
		s.statsService.GetCollector(),
		s.logger,
		ws.ReconnectPolicy{
			BaseDelay:   s.config.Reconnect.BaseDelay,
			MaxDelay:    s.config.Reconnect.MaxDelay,
			Jitter:      s.config.Reconnect.Jitter,
			MaxAttempts: s.config.Reconnect.MaxAttempts,
		},
	)
	supervisor.OnConnectionEvent(func(event domain.ConnectionEvent) {
		s.events.Publish(event)
	})

	if err := supervisor.Start(ctx); err != nil {
		return err
	}
	s.supervisor = supervisor

	// Health reports count the socket as down until the first dial lands
	s.poolService.GetPool().SetWsStatus(supervisor.Connected)

	return nil
}

// Stop closes the supervisor and drains the forwarder
func (s *WsService) Stop(ctx context.Context) error {
	if s.supervisor != nil {
		if err := s.supervisor.Close(); err != nil {
			s.logger.Warn("failed to close websocket supervisor", "error", err.Error())
		}
	}
	if s.cancelSub != nil {
		s.cancelSub()
	}
	if s.events != nil {
		s.events.Shutdown()
	}
	return nil
}

// Dependencies returns service dependencies
func (s *WsService) Dependencies() []string {
	return []string{"pool", "bus"}
}

// SetPoolService sets the pool service dependency
func (s *WsService) SetPoolService(poolService *PoolService) {
	s.poolService = poolService
}

// SetBusService sets the bus service dependency
func (s *WsService) SetBusService(busService *BusService) {
	s.busService = busService
}

// SetStatsService sets the stats service dependency
func (s *WsService) SetStatsService(statsService *StatsService) {
	s.statsService = statsService
}

// GetSubscriptionService returns the supervisor, nil when no websocket
// endpoint is configured.
func (s *WsService) GetSubscriptionService() ports.SubscriptionService {
	if s.supervisor == nil {
		return nil
	}
	return s.supervisor
}
