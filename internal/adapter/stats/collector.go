package stats

/*
				Solgate Stats Collector - Centralised Stats Collection
	Collector centralises the counters we track across the access layer -
	requests per endpoint, retries, rate limit waits, websocket events, quote
	provider outcomes and bus publishes. Instead of each component doing its
	own thing, everything reports here so the health endpoint and the status
	reporter can see what's happening system-wide.

	Thread-safe for high concurrency since this gets hit on every request.
	Tracked endpoints and providers are both bounded by configuration, so
	there is no TTL eviction here.
*/

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

type Collector struct {
	startedAt time.Time

	logger logger.StyledLogger

	endpoints *xsync.Map[string, *endpointData]
	providers *xsync.Map[string, *providerData]

	totalRequests    atomic.Int64
	totalRetries     atomic.Int64
	rateLimitWaits   atomic.Int64
	rateLimitWaitMs  atomic.Int64
	wsReconnects     atomic.Int64
	wsNotifications  atomic.Int64
	publishedEvents  atomic.Int64
	droppedPublishes atomic.Int64
}

type endpointData struct {
	url                string
	latencies          *ReservoirSampler
	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	totalLatency       atomic.Int64
	minLatency         atomic.Int64
	maxLatency         atomic.Int64
	lastUsed           atomic.Int64
}

type providerData struct {
	name         string
	quotes       atomic.Int64
	failures     atomic.Int64
	totalLatency atomic.Int64
	lastQuote    atomic.Int64
}

func NewCollector(logger logger.StyledLogger) *Collector {
	return &Collector{
		startedAt: time.Now(),
		logger:    logger,
		endpoints: xsync.NewMap[string, *endpointData](),
		providers: xsync.NewMap[string, *providerData](),
	}
}

func (c *Collector) RecordRequest(endpoint *domain.Endpoint, ok bool, latency time.Duration) {
	c.totalRequests.Add(1)
	if endpoint == nil {
		return
	}

	data := c.getOrInitEndpoint(endpoint.URL)
	data.totalRequests.Add(1)
	data.lastUsed.Store(time.Now().UnixNano())

	if ok {
		latencyMs := latency.Milliseconds()
		data.successfulRequests.Add(1)
		data.totalLatency.Add(latencyMs)
		data.latencies.Add(latencyMs)
		updateLatencyBounds(data, latencyMs)
	} else {
		data.failedRequests.Add(1)
	}
}

func (c *Collector) RecordRetry(operation string) {
	c.totalRetries.Add(1)
	if c.logger != nil {
		c.logger.Debug("retrying operation", "operation", operation)
	}
}

func (c *Collector) RecordRateLimitWait(url string, wait time.Duration) {
	c.rateLimitWaits.Add(1)
	c.rateLimitWaitMs.Add(wait.Milliseconds())
}

func (c *Collector) RecordWsEvent(kind string) {
	switch kind {
	case ports.WsEventReconnect:
		c.wsReconnects.Add(1)
	case ports.WsEventNotification:
		c.wsNotifications.Add(1)
	}
}

func (c *Collector) RecordQuote(provider string, ok bool, latency time.Duration) {
	data, _ := c.providers.LoadOrStore(provider, &providerData{name: provider})
	data.quotes.Add(1)
	data.lastQuote.Store(time.Now().UnixMilli())
	if ok {
		data.totalLatency.Add(latency.Milliseconds())
	} else {
		data.failures.Add(1)
	}
}

func (c *Collector) RecordPublish(subject string, ok bool) {
	if ok {
		c.publishedEvents.Add(1)
	} else {
		c.droppedPublishes.Add(1)
	}
}

func (c *Collector) GetEndpointStats() map[string]ports.EndpointRequestStats {
	stats := make(map[string]ports.EndpointRequestStats)

	c.endpoints.Range(func(url string, data *endpointData) bool {
		total := data.totalRequests.Load()
		successful := data.successfulRequests.Load()
		failed := data.failedRequests.Load()

		avgLatency := int64(0)
		if successful > 0 {
			avgLatency = data.totalLatency.Load() / successful
		}

		successRate := 0.0
		if total > 0 {
			successRate = float64(successful) / float64(total) * 100
		}

		minLatency := data.minLatency.Load()
		if minLatency == -1 {
			minLatency = 0
		}

		p50, p95, p99 := data.latencies.GetPercentiles()

		stats[url] = ports.EndpointRequestStats{
			URL:                data.url,
			TotalRequests:      total,
			SuccessfulRequests: successful,
			FailedRequests:     failed,
			AverageLatency:     avgLatency,
			MinLatency:         minLatency,
			MaxLatency:         data.maxLatency.Load(),
			P50Latency:         p50,
			P95Latency:         p95,
			P99Latency:         p99,
			LastUsed:           time.Unix(0, data.lastUsed.Load()),
			SuccessRate:        successRate,
		}
		return true
	})

	return stats
}

func (c *Collector) GetProviderStats() map[string]ports.ProviderStats {
	stats := make(map[string]ports.ProviderStats)

	c.providers.Range(func(name string, data *providerData) bool {
		quotes := data.quotes.Load()
		failures := data.failures.Load()
		successful := quotes - failures

		avgLatency := int64(0)
		if successful > 0 {
			avgLatency = data.totalLatency.Load() / successful
		}

		successRate := 0.0
		if quotes > 0 {
			successRate = float64(successful) / float64(quotes) * 100
		}

		stats[name] = ports.ProviderStats{
			Name:            data.name,
			Quotes:          quotes,
			Failures:        failures,
			AverageLatency:  avgLatency,
			SuccessRate:     successRate,
			LastQuoteMillis: data.lastQuote.Load(),
		}
		return true
	})

	return stats
}

func (c *Collector) GetSummary() ports.SummaryStats {
	now := time.Now()
	return ports.SummaryStats{
		TotalRequests:     c.totalRequests.Load(),
		TotalRetries:      c.totalRetries.Load(),
		RateLimitWaits:    c.rateLimitWaits.Load(),
		RateLimitWaitMs:   c.rateLimitWaitMs.Load(),
		WsReconnects:      c.wsReconnects.Load(),
		WsNotifications:   c.wsNotifications.Load(),
		PublishedEvents:   c.publishedEvents.Load(),
		DroppedPublishes:  c.droppedPublishes.Load(),
		UptimeSeconds:     int64(now.Sub(c.startedAt).Seconds()),
		StartedAtUnixMs:   c.startedAt.UnixMilli(),
		GeneratedAtUnixMs: now.UnixMilli(),
	}
}

func (c *Collector) getOrInitEndpoint(url string) *endpointData {
	if data, ok := c.endpoints.Load(url); ok {
		return data
	}
	fresh := &endpointData{url: url, latencies: NewReservoirSampler(DefaultLatencySampleSize)}
	fresh.minLatency.Store(-1)
	data, _ := c.endpoints.LoadOrStore(url, fresh)
	return data
}

func updateLatencyBounds(data *endpointData, latencyMs int64) {
	for {
		minLatency := data.minLatency.Load()
		if minLatency != -1 && latencyMs >= minLatency {
			break
		}
		if data.minLatency.CompareAndSwap(minLatency, latencyMs) {
			break
		}
	}
	for {
		maxLatency := data.maxLatency.Load()
		if latencyMs <= maxLatency {
			break
		}
		if data.maxLatency.CompareAndSwap(maxLatency, latencyMs) {
			break
		}
	}
}
