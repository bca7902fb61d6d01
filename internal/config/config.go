package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tidemill/solgate/internal/core/constants"
)

const (
	DefaultRPCURL = "https://api.mainnet-beta.solana.com"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Solana: SolanaConfig{
			RPCURL:                DefaultRPCURL,
			Commitment:            "confirmed",
			Selection:             "scored",
			HealthCheckIntervalMs: constants.DefaultHealthCheckInterval.Milliseconds(),
			RequestTimeout:        constants.DefaultRequestTimeout,
			MaxRetries:            constants.DefaultMaxRetries,
			RetryBackoff:          constants.DefaultRetryBackoffStep,
			Reconnect: ReconnectConfig{
				BaseDelay:   constants.DefaultWsBaseReconnectDelay,
				MaxDelay:    constants.DefaultWsMaxReconnectDelay,
				Jitter:      constants.DefaultWsReconnectJitter,
				MaxAttempts: constants.DefaultWsMaxReconnectTries,
			},
		},
		Sidecar: SidecarConfig{
			Enabled:        false,
			SocketPath:     constants.DefaultSidecarSocketPath,
			WsURL:          constants.DefaultSidecarWsURL,
			ClientRPS:      constants.DefaultSidecarClientRPS,
			ClientBurst:    constants.DefaultSidecarClientBurst,
			RequestTimeout: constants.DefaultSidecarRequestTimeout,
		},
		Dex: DexConfig{
			Providers: []ProviderConfig{
				{Name: constants.ProviderJupiter, BaseURL: constants.DefaultJupiterBaseURL, Timeout: 10 * time.Second, Enabled: true},
				{Name: constants.ProviderRaydium, BaseURL: constants.DefaultRaydiumBaseURL, Timeout: 10 * time.Second, Enabled: true},
				{Name: constants.ProviderOrca, BaseURL: constants.DefaultOrcaBaseURL, Timeout: 10 * time.Second, Enabled: true},
			},
			QuoteTimeout:       15 * time.Second,
			PublishComparisons: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			URL:            "nats://127.0.0.1:4222",
			Name:           "solgate",
			PublishTimeout: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Theme:  "default",
			LogDir: "./logs",
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Address: "localhost:9091",
			},
		},
		Engineering: EngineeringConfig{
			ShowNerdStats: false,
			Profiler:      false,
		},
	}
}

// pipelineEnvBindings maps config keys onto the variable names the rest of
// the pipeline already exports. These predate this service and are bound
// verbatim, outside the SOLGATE_ prefix.
var pipelineEnvBindings = map[string]string{
	"solana.rpc_url":                  "SOLANA_RPC_URL",
	"solana.rpc_urls":                 "SOLANA_RPC_URLS",
	"solana.ws_url":                   "SOLANA_WS_URL",
	"solana.commitment":               "SOLANA_COMMITMENT",
	"solana.health_check_interval_ms": "SOLANA_RPC_HEALTH_CHECK_INTERVAL",
	"sidecar.enabled":                 "USE_SIDECAR",
	"sidecar.socket_path":             "RPC_SIDECAR_SOCKET",
	"sidecar.ws_url":                  "RPC_SIDECAR_WS_URL",
	"bus.url":                         "NATS_URL",
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("SOLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for key, env := range pipelineEnvBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, check if we have SOLGATE_CONFIG_FILE env var
		if configFile := os.Getenv("SOLGATE_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.Filename = viper.ConfigFileUsed()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	viper.WatchConfig()

	return config, nil
}

// Validate rejects configurations the adapters could not start with.
func (c *Config) Validate() error {
	switch c.Solana.Commitment {
	case "", "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("invalid configuration for solana.commitment=%s: must be processed, confirmed or finalized", c.Solana.Commitment)
	}

	switch c.Solana.Selection {
	case "", "scored", "priority", "round-robin":
	default:
		return fmt.Errorf("invalid configuration for solana.selection=%s: must be scored, priority or round-robin", c.Solana.Selection)
	}

	if c.Solana.RPCURL == "" && c.Solana.RPCURLs == "" && len(c.Solana.Endpoints) == 0 {
		return fmt.Errorf("invalid configuration: no RPC endpoint configured")
	}

	for i := range c.Solana.Endpoints {
		ep := &c.Solana.Endpoints[i]
		if ep.URL == "" {
			return fmt.Errorf("invalid configuration for solana.endpoints[%d]: url is required", i)
		}
		for _, pool := range ep.Pools {
			switch pool {
			case "query", "submit", "websocket", "external":
			default:
				return fmt.Errorf("invalid configuration for solana.endpoints[%d].pools: unknown pool type %q", i, pool)
			}
		}
		if rl := ep.RateLimit; rl != nil {
			if rl.MaxRequests <= 0 || rl.WindowMs <= 0 {
				return fmt.Errorf("invalid configuration for solana.endpoints[%d].rate_limit: max_requests and window_ms must be positive", i)
			}
		}
	}

	if c.Solana.MaxRetries < 1 {
		return fmt.Errorf("invalid configuration for solana.max_retries=%d: must be at least 1", c.Solana.MaxRetries)
	}

	if rc := c.Solana.Reconnect; rc.BaseDelay <= 0 || rc.MaxDelay < rc.BaseDelay {
		return fmt.Errorf("invalid configuration for solana.reconnect: base_delay must be positive and max_delay >= base_delay")
	}

	for i, p := range c.Dex.Providers {
		if p.Name == "" || (p.Enabled && p.BaseURL == "") {
			return fmt.Errorf("invalid configuration for dex.providers[%d]: name and base_url are required", i)
		}
	}

	if c.Sidecar.Enabled && c.Sidecar.SocketPath == "" {
		return fmt.Errorf("invalid configuration for sidecar.socket_path: required when sidecar is enabled")
	}

	return nil
}
