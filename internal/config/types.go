package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Filename    string            `yaml:"-"`
	Logging     LoggingConfig     `yaml:"logging"`
	Solana      SolanaConfig      `yaml:"solana"`
	Sidecar     SidecarConfig     `yaml:"sidecar"`
	Dex         DexConfig         `yaml:"dex"`
	Bus         BusConfig         `yaml:"bus"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Engineering EngineeringConfig `yaml:"engineering"`
}

// SolanaConfig holds upstream RPC and websocket configuration
type SolanaConfig struct {
	// RPCURL is the single-endpoint form. RPCURLs switches on pooling and
	// takes precedence; it is comma-separated to stay env-friendly.
	RPCURL  string `yaml:"rpc_url"`
	RPCURLs string `yaml:"rpc_urls"`
	WsURL   string `yaml:"ws_url"`

	Commitment string `yaml:"commitment"`

	// Selection names the endpoint selection strategy: scored, priority
	// or round-robin.
	Selection string `yaml:"selection"`

	// Structured endpoint list for deployments that need per-endpoint
	// priorities, pools or rate limits. Overrides RPCURL/RPCURLs when set.
	Endpoints []EndpointConfig `yaml:"endpoints"`

	HealthCheckIntervalMs int64         `yaml:"health_check_interval_ms"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	MaxRetries            int           `yaml:"max_retries"`
	RetryBackoff          time.Duration `yaml:"retry_backoff"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// RPCURLList splits the pooled URL list, trimming empties.
func (s *SolanaConfig) RPCURLList() []string {
	if s.RPCURLs == "" {
		return nil
	}
	parts := strings.Split(s.RPCURLs, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

// HealthCheckInterval converts the millisecond setting into a duration.
func (s *SolanaConfig) HealthCheckInterval() time.Duration {
	if s.HealthCheckIntervalMs <= 0 {
		return 0
	}
	return time.Duration(s.HealthCheckIntervalMs) * time.Millisecond
}

// EndpointConfig holds configuration for one upstream RPC endpoint
type EndpointConfig struct {
	URL       string           `yaml:"url"`
	Priority  int              `yaml:"priority"`
	Weight    int              `yaml:"weight"`
	Pools     []string         `yaml:"pools"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a sliding window request budget
type RateLimitConfig struct {
	MaxRequests int   `yaml:"max_requests"`
	WindowMs    int64 `yaml:"window_ms"`
}

// Window converts the millisecond setting into a duration.
func (r *RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// ReconnectConfig tunes the websocket supervisor backoff
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      time.Duration `yaml:"jitter"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// SidecarConfig holds the local IPC surface configuration
type SidecarConfig struct {
	// Enabled switches worker processes from linking the pool directly to
	// speaking to a shared sidecar over the local socket.
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
	WsURL      string `yaml:"ws_url"`

	ClientRPS   int `yaml:"client_rps"`
	ClientBurst int `yaml:"client_burst"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// WsListenAddr derives the listen address from the ws URL.
func (s *SidecarConfig) WsListenAddr() string {
	addr := s.WsURL
	addr = strings.TrimPrefix(addr, "ws://")
	addr = strings.TrimPrefix(addr, "wss://")
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	return addr
}

// DexConfig holds quote provider configuration
type DexConfig struct {
	Providers    []ProviderConfig `yaml:"providers"`
	QuoteTimeout time.Duration    `yaml:"quote_timeout"`
	// PublishComparisons controls the comparison event after each fan-out.
	PublishComparisons bool `yaml:"publish_comparisons"`
}

// ProviderConfig holds one DEX quote provider
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Enabled bool          `yaml:"enabled"`
}

// BusConfig holds event bus (NATS) configuration
type BusConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	FileOutput bool   `yaml:"file_output"`
	LogDir     string `yaml:"log_dir"`
}

// TelemetryConfig holds metrics configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig exposes Prometheus counters over HTTP
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// GetAddress returns the metrics address in host:port format
func (m *MetricsConfig) GetAddress() string {
	if strings.Contains(m.Address, ":") {
		return m.Address
	}
	return fmt.Sprintf(":%s", m.Address)
}

// EngineeringConfig holds development/debugging configuration
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats"`
	Profiler      bool `yaml:"profiler"`
}
