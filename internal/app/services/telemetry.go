package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidemill/solgate/internal/config"
	"github.com/tidemill/solgate/internal/logger"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// TelemetryService serves the operational HTTP surface: prometheus metrics,
// a liveness probe backed by the live health report, and a status page with
// the stats collector's ledgers.
type TelemetryService struct {
	config         *config.MetricsConfig
	gatewayService *GatewayService
	statsService   *StatsService
	logger         logger.StyledLogger

	server *http.Server
}

// NewTelemetryService creates a new telemetry service
func NewTelemetryService(cfg *config.MetricsConfig, styledLogger logger.StyledLogger) *TelemetryService {
	return &TelemetryService{
		config: cfg,
		logger: styledLogger,
	}
}

// Name returns the service name
func (s *TelemetryService) Name() string {
	return "telemetry"
}

// Start brings the HTTP surface up
func (s *TelemetryService) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("telemetry endpoint disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:              s.config.GetAddress(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("telemetry server error", "error", err.Error())
		}
	}()

	s.logger.InfoWithEndpoint("telemetry listening", s.server.Addr)
	return nil
}

// Stop shuts the HTTP surface down
func (s *TelemetryService) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Dependencies returns service dependencies
func (s *TelemetryService) Dependencies() []string {
	return []string{"gateway", "stats"}
}

// SetGatewayService sets the gateway service dependency
func (s *TelemetryService) SetGatewayService(gatewayService *GatewayService) {
	s.gatewayService = gatewayService
}

// SetStatsService sets the stats service dependency
func (s *TelemetryService) SetStatsService(statsService *StatsService) {
	s.statsService = statsService
}

func (s *TelemetryService) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report, err := s.gatewayService.GetSolanaService().HealthStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !report.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = jsonCodec.NewEncoder(w).Encode(report)
}

func (s *TelemetryService) handleStatus(w http.ResponseWriter, r *http.Request) {
	collector := s.statsService.GetCollector()

	out := map[string]any{
		"summary":   collector.GetSummary(),
		"endpoints": collector.GetEndpointStats(),
		"providers": collector.GetProviderStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = jsonCodec.NewEncoder(w).Encode(out)
}
