package services

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tidemill/solgate/internal/config"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/internal/version"
	"github.com/tidemill/solgate/pkg/format"
	"github.com/tidemill/solgate/pkg/nerdstats"
)

const DefaultHeartbeatInterval = 30 * time.Second

// HeartbeatService publishes the daemon's own status heartbeat and writes
// the periodic status log line. Process stats come from gopsutil; a failed
// probe leaves those fields zero rather than skipping the beat.
type HeartbeatService struct {
	busService   *BusService
	statsService *StatsService
	engineering  *config.EngineeringConfig
	logger       logger.StyledLogger

	startTime time.Time
	proc      *process.Process
	interval  time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(engineering *config.EngineeringConfig, startTime time.Time, styledLogger logger.StyledLogger) *HeartbeatService {
	return &HeartbeatService{
		engineering: engineering,
		startTime:   startTime,
		logger:      styledLogger,
		interval:    DefaultHeartbeatInterval,
	}
}

// Name returns the service name
func (s *HeartbeatService) Name() string {
	return "heartbeat"
}

// Start launches the heartbeat loop
func (s *HeartbeatService) Start(ctx context.Context) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.logger.Warn("process stats unavailable", "error", err.Error())
	} else {
		s.proc = proc
		// First call primes the delta so later readings cover one interval
		_, _ = proc.Percent(0)
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx)
	return nil
}

// Stop halts the heartbeat loop
func (s *HeartbeatService) Stop(ctx context.Context) error {
	if s.stopCh == nil {
		return nil
	}
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-ctx.Done():
	}
	return nil
}

// Dependencies returns service dependencies
func (s *HeartbeatService) Dependencies() []string {
	return []string{"bus", "stats"}
}

// SetBusService sets the bus service dependency
func (s *HeartbeatService) SetBusService(busService *BusService) {
	s.busService = busService
}

// SetStatsService sets the stats service dependency
func (s *HeartbeatService) SetStatsService(statsService *StatsService) {
	s.statsService = statsService
}

// SetInterval overrides the heartbeat period, used by tests.
func (s *HeartbeatService) SetInterval(interval time.Duration) {
	if interval > 0 {
		s.interval = interval
	}
}

func (s *HeartbeatService) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.beat(ctx)
		}
	}
}

func (s *HeartbeatService) beat(ctx context.Context) {
	collector := s.statsService.GetCollector()
	summary := collector.GetSummary()

	var failures int64
	for _, ep := range collector.GetEndpointStats() {
		failures += ep.FailedRequests
	}

	event := domain.WorkerStatusEvent{
		Worker:    version.Name,
		State:     "running",
		Processed: uint64(summary.TotalRequests),
		Errors:    uint64(failures),
		Timestamp: time.Now(),
	}

	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
			event.RSSBytes = mem.RSS
		}
		if pct, err := s.proc.Percent(0); err == nil {
			event.CPUPct = pct
		}
	}

	s.busService.GetPublisher().Publish(ctx, domain.EventWorkerStatus, event)

	s.logger.Info("status",
		"requests", summary.TotalRequests,
		"failures", failures,
		"retries", summary.TotalRetries,
		"ws_reconnects", summary.WsReconnects,
		"published", summary.PublishedEvents,
		"dropped", summary.DroppedPublishes,
		"goroutines", runtime.NumGoroutine(),
	)

	if s.engineering.ShowNerdStats {
		stats := nerdstats.Snapshot(s.startTime)
		s.logger.Debug("nerdstats",
			"heap_alloc", format.Bytes(stats.HeapAlloc),
			"heap_inuse", format.Bytes(stats.HeapInuse),
			"num_gc", stats.NumGC,
			"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
			"uptime", format.Duration(stats.Uptime),
		)
	}
}
