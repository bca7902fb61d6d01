package services

import (
	"context"
	"fmt"

	"github.com/tidemill/solgate/internal/config"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/gateway"
	"github.com/tidemill/solgate/internal/logger"
)

// GatewayService assembles the operation facade over the pool and the
// supervisor. The sidecar serves this same facade over its socket, so both
// in-process callers and sidecar clients observe identical semantics.
type GatewayService struct {
	config      *config.SolanaConfig
	poolService *PoolService
	wsService   *WsService
	logger      logger.StyledLogger

	gateway *gateway.Gateway
}

// NewGatewayService creates a new gateway service
func NewGatewayService(cfg *config.SolanaConfig, styledLogger logger.StyledLogger) *GatewayService {
	return &GatewayService{
		config: cfg,
		logger: styledLogger,
	}
}

// Name returns the service name
func (s *GatewayService) Name() string {
	return "gateway"
}

// Start builds the facade
func (s *GatewayService) Start(ctx context.Context) error {
	commitment, err := domain.ParseCommitment(s.config.Commitment)
	if err != nil {
		return fmt.Errorf("invalid configuration for solana.commitment: %w", err)
	}

	s.gateway = gateway.New(
		s.poolService.GetPool(),
		s.wsService.GetSubscriptionService(),
		s.logger,
		commitment,
	)
	return nil
}

// Stop releases the facade. The pool underneath belongs to the pool
// service, which stops after us.
func (s *GatewayService) Stop(ctx context.Context) error {
	return nil
}

// Dependencies returns service dependencies
func (s *GatewayService) Dependencies() []string {
	return []string{"pool", "ws"}
}

// SetPoolService sets the pool service dependency
func (s *GatewayService) SetPoolService(poolService *PoolService) {
	s.poolService = poolService
}

// SetWsService sets the websocket service dependency
func (s *GatewayService) SetWsService(wsService *WsService) {
	s.wsService = wsService
}

// GetSolanaService returns the facade
func (s *GatewayService) GetSolanaService() ports.SolanaService {
	if s.gateway == nil {
		panic("gateway not initialised")
	}
	return s.gateway
}
