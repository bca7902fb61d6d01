package app

/*
	Solgate Application

	Wires configuration and the managed services together: stats, event
	bus, RPC pool, websocket supervisor, gateway facade, dex aggregation,
	sidecar surfaces, telemetry and the heartbeat. The service manager
	resolves start order from declared dependencies and unwinds in
	reverse on shutdown.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/tidemill/solgate/internal/app/services"
	"github.com/tidemill/solgate/internal/config"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/internal/version"
	"github.com/tidemill/solgate/pkg/profiler"
)

const (
	DefaultShutdownTimeout = 30 * time.Second
	DefaultProfilerAddress = "localhost:6060"
)

// Application owns the configured service graph.
type Application struct {
	config    *config.Config
	logger    logger.StyledLogger
	manager   *services.ServiceManager
	startTime time.Time
}

// New loads configuration and assembles the service graph. Nothing is
// started yet; construction only validates config and registers services.
func New(startTime time.Time, styledLogger logger.StyledLogger) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Filename != "" {
		styledLogger.Info("configuration loaded", "file", cfg.Filename)
	} else {
		styledLogger.Info("configuration loaded from defaults and environment")
	}

	manager := services.NewServiceManager(styledLogger)

	statsSvc := services.NewStatsService(styledLogger)
	busSvc := services.NewBusService(&cfg.Bus, styledLogger)
	poolSvc := services.NewPoolService(&cfg.Solana, styledLogger)
	wsSvc := services.NewWsService(&cfg.Solana, styledLogger)
	gatewaySvc := services.NewGatewayService(&cfg.Solana, styledLogger)
	dexSvc := services.NewDexService(&cfg.Dex, styledLogger)
	sidecarSvc := services.NewSidecarService(&cfg.Sidecar, cfg.Solana.Commitment, styledLogger)
	telemetrySvc := services.NewTelemetryService(&cfg.Telemetry.Metrics, styledLogger)
	heartbeatSvc := services.NewHeartbeatService(&cfg.Engineering, startTime, styledLogger)

	busSvc.SetStatsService(statsSvc)
	poolSvc.SetStatsService(statsSvc)
	wsSvc.SetPoolService(poolSvc)
	wsSvc.SetBusService(busSvc)
	wsSvc.SetStatsService(statsSvc)
	gatewaySvc.SetPoolService(poolSvc)
	gatewaySvc.SetWsService(wsSvc)
	dexSvc.SetStatsService(statsSvc)
	dexSvc.SetBusService(busSvc)
	sidecarSvc.SetGatewayService(gatewaySvc)
	sidecarSvc.SetWsService(wsSvc)
	sidecarSvc.SetBusService(busSvc)
	telemetrySvc.SetGatewayService(gatewaySvc)
	telemetrySvc.SetStatsService(statsSvc)
	heartbeatSvc.SetBusService(busSvc)
	heartbeatSvc.SetStatsService(statsSvc)

	all := []services.ManagedService{
		statsSvc, busSvc, poolSvc, wsSvc, gatewaySvc,
		dexSvc, sidecarSvc, telemetrySvc, heartbeatSvc,
	}
	for _, svc := range all {
		if err := manager.Register(svc); err != nil {
			return nil, err
		}
	}

	return &Application{
		config:    cfg,
		logger:    styledLogger,
		manager:   manager,
		startTime: startTime,
	}, nil
}

// Start brings every service up in dependency order.
func (a *Application) Start(ctx context.Context) error {
	if a.config.Engineering.Profiler {
		profiler.InitialiseProfiler(DefaultProfilerAddress)
		a.logger.Info("profiler listening", "address", DefaultProfilerAddress)
	}

	if err := a.manager.Start(ctx); err != nil {
		return err
	}

	a.logger.Info(fmt.Sprintf("%s started, serving requests...", version.Name),
		"startup_ms", time.Since(a.startTime).Milliseconds())
	return nil
}

// Stop unwinds the service graph in reverse start order.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()

	return a.manager.Stop(shutdownCtx)
}

// ShowNerdStats reports whether the shutdown process report is wanted.
func (a *Application) ShowNerdStats() bool {
	return a.config.Engineering.ShowNerdStats
}
