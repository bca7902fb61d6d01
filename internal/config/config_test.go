package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Solana.RPCURL != DefaultRPCURL {
		t.Errorf("Expected rpc url %s, got %s", DefaultRPCURL, cfg.Solana.RPCURL)
	}
	if cfg.Solana.Commitment != "confirmed" {
		t.Errorf("Expected commitment 'confirmed', got %s", cfg.Solana.Commitment)
	}
	if cfg.Solana.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.Solana.MaxRetries)
	}
	if cfg.Solana.HealthCheckInterval() != 30*time.Second {
		t.Errorf("Expected 30s health check interval, got %v", cfg.Solana.HealthCheckInterval())
	}

	if cfg.Sidecar.Enabled {
		t.Error("Expected sidecar disabled by default")
	}
	if cfg.Sidecar.SocketPath != "/tmp/solana-rpc.sock" {
		t.Errorf("Expected default socket path, got %s", cfg.Sidecar.SocketPath)
	}
	if cfg.Sidecar.WsURL != "ws://localhost:3002" {
		t.Errorf("Expected default sidecar ws url, got %s", cfg.Sidecar.WsURL)
	}

	if len(cfg.Dex.Providers) != 3 {
		t.Errorf("Expected 3 default providers, got %d", len(cfg.Dex.Providers))
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected log level 'info', got %s", cfg.Logging.Level)
	}

	if cfg.Engineering.ShowNerdStats != false {
		t.Error("Expected ShowNerdStats to be false by default")
	}
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Solana.RPCURL != DefaultRPCURL {
		t.Errorf("Expected default rpc url %s, got %s", DefaultRPCURL, cfg.Solana.RPCURL)
	}
	if cfg.Bus.URL != "nats://127.0.0.1:4222" {
		t.Errorf("Expected default bus url, got %s", cfg.Bus.URL)
	}
}

func TestLoadConfig_WithPipelineEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"SOLANA_RPC_URL":                   "https://rpc.helius.xyz/?api-key=test",
		"SOLANA_RPC_URLS":                  "https://a.example.com, https://b.example.com,https://c.example.com",
		"SOLANA_WS_URL":                    "wss://rpc.helius.xyz/?api-key=test",
		"SOLANA_COMMITMENT":                "finalized",
		"SOLANA_RPC_HEALTH_CHECK_INTERVAL": "60000",
		"USE_SIDECAR":                      "true",
		"RPC_SIDECAR_SOCKET":               "/run/solgate/rpc.sock",
		"RPC_SIDECAR_WS_URL":               "ws://localhost:4040",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}

	if cfg.Solana.RPCURL != "https://rpc.helius.xyz/?api-key=test" {
		t.Errorf("SOLANA_RPC_URL not applied, got %s", cfg.Solana.RPCURL)
	}
	urls := cfg.Solana.RPCURLList()
	if len(urls) != 3 || urls[1] != "https://b.example.com" {
		t.Errorf("SOLANA_RPC_URLS not split correctly, got %v", urls)
	}
	if cfg.Solana.WsURL != "wss://rpc.helius.xyz/?api-key=test" {
		t.Errorf("SOLANA_WS_URL not applied, got %s", cfg.Solana.WsURL)
	}
	if cfg.Solana.Commitment != "finalized" {
		t.Errorf("SOLANA_COMMITMENT not applied, got %s", cfg.Solana.Commitment)
	}
	if cfg.Solana.HealthCheckInterval() != time.Minute {
		t.Errorf("SOLANA_RPC_HEALTH_CHECK_INTERVAL not applied, got %v", cfg.Solana.HealthCheckInterval())
	}
	if !cfg.Sidecar.Enabled {
		t.Error("USE_SIDECAR not applied")
	}
	if cfg.Sidecar.SocketPath != "/run/solgate/rpc.sock" {
		t.Errorf("RPC_SIDECAR_SOCKET not applied, got %s", cfg.Sidecar.SocketPath)
	}
	if cfg.Sidecar.WsURL != "ws://localhost:4040" {
		t.Errorf("RPC_SIDECAR_WS_URL not applied, got %s", cfg.Sidecar.WsURL)
	}
	if got := cfg.Sidecar.WsListenAddr(); got != "localhost:4040" {
		t.Errorf("WsListenAddr derived %s, expected localhost:4040", got)
	}
}

func TestLoadConfig_WithPrefixedEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"SOLGATE_LOGGING_LEVEL":          "debug",
		"SOLGATE_SOLANA_REQUEST_TIMEOUT": "20s",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Logging.Level)
	}
	if cfg.Solana.RequestTimeout != 20*time.Second {
		t.Errorf("Expected request timeout 20s from env var, got %v", cfg.Solana.RequestTimeout)
	}
}

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{
			name:   "default config is valid",
			modify: func(c *Config) {},
			valid:  true,
		},
		{
			name: "structured endpoints are valid",
			modify: func(c *Config) {
				c.Solana.Endpoints = []EndpointConfig{
					{
						URL:       "https://rpc.helius.xyz",
						Priority:  1,
						Pools:     []string{"query", "submit"},
						RateLimit: &RateLimitConfig{MaxRequests: 50, WindowMs: 1000},
					},
				}
			},
			valid: true,
		},
		{
			name: "unknown commitment rejected",
			modify: func(c *Config) {
				c.Solana.Commitment = "immediate"
			},
			valid: false,
		},
		{
			name: "unknown pool type rejected",
			modify: func(c *Config) {
				c.Solana.Endpoints = []EndpointConfig{
					{URL: "https://rpc.helius.xyz", Pools: []string{"quiery"}},
				}
			},
			valid: false,
		},
		{
			name: "endpoint without url rejected",
			modify: func(c *Config) {
				c.Solana.Endpoints = []EndpointConfig{{Priority: 1}}
			},
			valid: false,
		},
		{
			name: "zero-width rate limit rejected",
			modify: func(c *Config) {
				c.Solana.Endpoints = []EndpointConfig{
					{URL: "https://rpc.helius.xyz", RateLimit: &RateLimitConfig{MaxRequests: 10, WindowMs: 0}},
				}
			},
			valid: false,
		},
		{
			name: "no endpoints anywhere rejected",
			modify: func(c *Config) {
				c.Solana.RPCURL = ""
				c.Solana.RPCURLs = ""
				c.Solana.Endpoints = nil
			},
			valid: false,
		},
		{
			name: "reconnect max below base rejected",
			modify: func(c *Config) {
				c.Solana.Reconnect.BaseDelay = 5 * time.Second
				c.Solana.Reconnect.MaxDelay = time.Second
			},
			valid: false,
		},
		{
			name: "provider without base url rejected",
			modify: func(c *Config) {
				c.Dex.Providers = []ProviderConfig{{Name: "jupiter", Enabled: true}}
			},
			valid: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.valid && err != nil {
				t.Errorf("expected valid config, got %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestRateLimitWindow(t *testing.T) {
	rl := RateLimitConfig{MaxRequests: 50, WindowMs: 1000}
	if rl.Window() != time.Second {
		t.Errorf("expected 1s window, got %v", rl.Window())
	}
}
