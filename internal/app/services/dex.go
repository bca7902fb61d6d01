package services

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidemill/solgate/internal/adapter/dex"
	"github.com/tidemill/solgate/internal/config"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

// DexService builds the quote providers and the aggregator over them.
// Provider construction validates venue config at startup so a bad base URL
// fails the daemon instead of the first quote.
type DexService struct {
	config       *config.DexConfig
	statsService *StatsService
	busService   *BusService
	logger       logger.StyledLogger

	aggregator *dex.Aggregator
}

// NewDexService creates a new dex service
func NewDexService(cfg *config.DexConfig, styledLogger logger.StyledLogger) *DexService {
	return &DexService{
		config: cfg,
		logger: styledLogger,
	}
}

// Name returns the service name
func (s *DexService) Name() string {
	return "dex"
}

// Start constructs the enabled providers and the aggregator
func (s *DexService) Start(ctx context.Context) error {
	specs := make([]dex.ProviderSpec, 0, len(s.config.Providers))
	names := make([]string, 0, len(s.config.Providers))
	for _, p := range s.config.Providers {
		if !p.Enabled {
			continue
		}
		specs = append(specs, dex.ProviderSpec{
			Name:    p.Name,
			BaseURL: p.BaseURL,
			Timeout: p.Timeout,
		})
		names = append(names, p.Name)
	}

	if len(specs) == 0 {
		s.logger.Info("no quote providers enabled, dex aggregation unavailable")
		return nil
	}

	providers, err := dex.BuildProviders(specs, &http.Client{}, s.logger)
	if err != nil {
		return err
	}

	s.aggregator = dex.NewAggregatorWithPolicy(
		providers,
		s.busService.GetPublisher(),
		s.statsService.GetCollector(),
		s.logger,
		s.config.QuoteTimeout,
		s.config.PublishComparisons,
	)

	s.logger.Info("quote providers ready", "providers", strings.Join(names, ", "))
	return nil
}

// Stop releases the aggregator
func (s *DexService) Stop(ctx context.Context) error {
	return nil
}

// Dependencies returns service dependencies
func (s *DexService) Dependencies() []string {
	return []string{"stats", "bus"}
}

// SetStatsService sets the stats service dependency
func (s *DexService) SetStatsService(statsService *StatsService) {
	s.statsService = statsService
}

// SetBusService sets the bus service dependency
func (s *DexService) SetBusService(busService *BusService) {
	s.busService = busService
}

// GetAggregator returns the aggregator, nil when no provider is enabled.
func (s *DexService) GetAggregator() ports.QuoteAggregator {
	if s.aggregator == nil {
		return nil
	}
	return s.aggregator
}
