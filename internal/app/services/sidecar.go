package services

import (
	"context"
	"fmt"

	"github.com/tidemill/solgate/internal/adapter/sidecar"
	"github.com/tidemill/solgate/internal/config"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/internal/version"
)

// SidecarService hosts the worker-facing surfaces: the unix-socket
// request/response listener and the local websocket multiplexer. Both serve
// the same facade the daemon uses internally, so workers moving between
// linked and sidecar mode see no behavioural difference.
type SidecarService struct {
	config         *config.SidecarConfig
	commitment     string
	gatewayService *GatewayService
	wsService      *WsService
	busService     *BusService
	logger         logger.StyledLogger

	server   *sidecar.Server
	mux      *sidecar.Mux
	wsServer *sidecar.WsServer
}

// NewSidecarService creates a new sidecar service
func NewSidecarService(cfg *config.SidecarConfig, commitment string, styledLogger logger.StyledLogger) *SidecarService {
	return &SidecarService{
		config:     cfg,
		commitment: commitment,
		logger:     styledLogger,
	}
}

// Name returns the service name
func (s *SidecarService) Name() string {
	return "sidecar"
}

// Start brings up the socket listener and the websocket multiplexer
func (s *SidecarService) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("sidecar disabled, workers link the pool directly")
		return nil
	}

	commitment, err := domain.ParseCommitment(s.commitment)
	if err != nil {
		return fmt.Errorf("invalid configuration for solana.commitment: %w", err)
	}

	metrics := sidecar.InitMetrics(version.Name)

	s.server = sidecar.NewServerWithPolicy(
		s.gatewayService.GetSolanaService(),
		s.config.SocketPath,
		s.logger,
		metrics,
		s.config.ClientRPS,
		s.config.ClientBurst,
		s.config.RequestTimeout,
	)
	if err := s.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sidecar socket: %w", err)
	}

	s.mux = sidecar.NewMux(
		s.wsService.GetSubscriptionService(),
		s.busService.GetStream(),
		s.logger,
		metrics,
		commitment,
	)

	s.wsServer = sidecar.NewWsServer(s.mux, s.logger, metrics,
		s.config.WsListenAddr(), s.config.ClientRPS, s.config.ClientBurst)
	if err := s.wsServer.Start(ctx); err != nil {
		// Leave no half-open surface behind
		_ = s.server.Close()
		return fmt.Errorf("failed to start sidecar websocket: %w", err)
	}

	return nil
}

// Stop tears the surfaces down, websocket side first so departing clients
// release their channels before the socket goes away
func (s *SidecarService) Stop(ctx context.Context) error {
	if s.wsServer != nil {
		if err := s.wsServer.Close(); err != nil {
			s.logger.Warn("failed to close sidecar websocket", "error", err.Error())
		}
	}
	if s.mux != nil {
		s.mux.Close()
	}
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Dependencies returns service dependencies
func (s *SidecarService) Dependencies() []string {
	return []string{"gateway", "ws", "bus"}
}

// SetGatewayService sets the gateway service dependency
func (s *SidecarService) SetGatewayService(gatewayService *GatewayService) {
	s.gatewayService = gatewayService
}

// SetWsService sets the websocket service dependency
func (s *SidecarService) SetWsService(wsService *WsService) {
	s.wsService = wsService
}

// SetBusService sets the bus service dependency
func (s *SidecarService) SetBusService(busService *BusService) {
	s.busService = busService
}
