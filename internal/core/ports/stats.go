package ports

import (
	"time"

	"github.com/tidemill/solgate/internal/core/domain"
)

// Websocket event kinds accepted by RecordWsEvent.
const (
	WsEventReconnect    = "reconnect"
	WsEventNotification = "notification"
)

// StatsCollector aggregates runtime counters across the access layer.
// Implementations must be safe for concurrent writers on the hot path.
type StatsCollector interface {
	RecordRequest(endpoint *domain.Endpoint, ok bool, latency time.Duration)
	RecordRetry(operation string)
	RecordRateLimitWait(url string, wait time.Duration)
	RecordWsEvent(kind string)
	RecordQuote(provider string, ok bool, latency time.Duration)
	RecordPublish(subject string, ok bool)

	GetEndpointStats() map[string]EndpointRequestStats
	GetProviderStats() map[string]ProviderStats
	GetSummary() SummaryStats
}

// EndpointRequestStats is the per-endpoint request ledger.
type EndpointRequestStats struct {
	URL                string    `json:"url"`
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	AverageLatency     int64     `json:"avg_latency_ms"`
	MinLatency         int64     `json:"min_latency_ms"`
	MaxLatency         int64     `json:"max_latency_ms"`
	P50Latency         int64     `json:"p50_latency_ms"`
	P95Latency         int64     `json:"p95_latency_ms"`
	P99Latency         int64     `json:"p99_latency_ms"`
	LastUsed           time.Time `json:"last_used"`
	SuccessRate        float64   `json:"success_rate_percent"`
}

// ProviderStats is the per-quote-provider ledger.
type ProviderStats struct {
	Name            string  `json:"name"`
	Quotes          int64   `json:"quotes"`
	Failures        int64   `json:"failures"`
	AverageLatency  int64   `json:"avg_latency_ms"`
	SuccessRate     float64 `json:"success_rate_percent"`
	LastQuoteMillis int64   `json:"last_quote_unix_ms"`
}

// SummaryStats is the top-line status block.
type SummaryStats struct {
	TotalRequests     int64 `json:"total_requests"`
	TotalRetries      int64 `json:"total_retries"`
	RateLimitWaits    int64 `json:"rate_limit_waits"`
	RateLimitWaitMs   int64 `json:"rate_limit_wait_ms"`
	WsReconnects      int64 `json:"ws_reconnects"`
	WsNotifications   int64 `json:"ws_notifications"`
	PublishedEvents   int64 `json:"published_events"`
	DroppedPublishes  int64 `json:"dropped_publishes"`
	UptimeSeconds     int64 `json:"uptime_seconds"`
	StartedAtUnixMs   int64 `json:"started_at_unix_ms"`
	GeneratedAtUnixMs int64 `json:"generated_at_unix_ms"`
}
