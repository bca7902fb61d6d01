package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemill/solgate/internal/config"
	"github.com/tidemill/solgate/internal/core/domain"
)

func TestBuildEndpointConfigs_SingleURLDerivesWebsocket(t *testing.T) {
	cfg := &config.SolanaConfig{RPCURL: "https://api.mainnet-beta.solana.com"}

	configs := buildEndpointConfigs(cfg)

	require.Len(t, configs, 2)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", configs[0].URL)
	assert.Equal(t, []domain.PoolType{domain.PoolQuery, domain.PoolSubmit}, configs[0].PoolTypes)
	assert.Equal(t, "wss://api.mainnet-beta.solana.com", configs[1].URL)
	assert.Equal(t, []domain.PoolType{domain.PoolWebSocket}, configs[1].PoolTypes)
}

func TestBuildEndpointConfigs_LocalValidatorPortBump(t *testing.T) {
	cfg := &config.SolanaConfig{RPCURL: "http://127.0.0.1:8899"}

	configs := buildEndpointConfigs(cfg)

	require.Len(t, configs, 2)
	assert.Equal(t, "ws://127.0.0.1:8900", configs[1].URL)
}

func TestBuildEndpointConfigs_URLListSetsPriorityByPosition(t *testing.T) {
	cfg := &config.SolanaConfig{
		RPCURL:  "https://ignored.example.com",
		RPCURLs: "https://one.example.com, https://two.example.com,,https://three.example.com",
	}

	configs := buildEndpointConfigs(cfg)

	require.Len(t, configs, 3)
	for i, url := range []string{"https://one.example.com", "https://two.example.com", "https://three.example.com"} {
		assert.Equal(t, url, configs[i].URL)
		assert.Equal(t, i, configs[i].Priority)
		assert.Equal(t, []domain.PoolType{domain.PoolQuery, domain.PoolSubmit}, configs[i].PoolTypes)
	}
}

func TestBuildEndpointConfigs_StructuredListWins(t *testing.T) {
	cfg := &config.SolanaConfig{
		RPCURL:  "https://ignored.example.com",
		RPCURLs: "https://also-ignored.example.com",
		Endpoints: []config.EndpointConfig{
			{URL: "https://primary.example.com", Priority: 0, Weight: 3, Pools: []string{"query"}},
			{URL: "https://submit.example.com", Priority: 1, Pools: []string{"submit"}},
		},
	}

	configs := buildEndpointConfigs(cfg)

	require.Len(t, configs, 2)
	assert.Equal(t, "https://primary.example.com", configs[0].URL)
	assert.Equal(t, 3, configs[0].Weight)
	assert.Equal(t, []domain.PoolType{domain.PoolQuery}, configs[0].PoolTypes)
	assert.Equal(t, []domain.PoolType{domain.PoolSubmit}, configs[1].PoolTypes)
}

func TestBuildEndpointConfigs_StructuredEntryDefaultsPools(t *testing.T) {
	cfg := &config.SolanaConfig{
		Endpoints: []config.EndpointConfig{
			{URL: "https://bare.example.com"},
		},
	}

	configs := buildEndpointConfigs(cfg)

	require.Len(t, configs, 1)
	assert.Equal(t, []domain.PoolType{domain.PoolQuery, domain.PoolSubmit}, configs[0].PoolTypes)
}

func TestBuildEndpointConfigs_RateLimitCarriesOver(t *testing.T) {
	cfg := &config.SolanaConfig{
		Endpoints: []config.EndpointConfig{
			{
				URL:       "https://limited.example.com",
				RateLimit: &config.RateLimitConfig{MaxRequests: 40, WindowMs: 10_000},
			},
		},
	}

	configs := buildEndpointConfigs(cfg)

	require.Len(t, configs, 1)
	require.NotNil(t, configs[0].RateLimit)
	assert.Equal(t, 40, configs[0].RateLimit.MaxRequests)
	assert.Equal(t, 10*time.Second, configs[0].RateLimit.Window)
}

func TestBuildEndpointConfigs_WsURLJoinsAsWebsocketEndpoint(t *testing.T) {
	cfg := &config.SolanaConfig{
		RPCURL: "https://rpc.example.com",
		WsURL:  "wss://rpc.example.com",
	}

	configs := buildEndpointConfigs(cfg)

	require.Len(t, configs, 2)
	assert.Equal(t, "wss://rpc.example.com", configs[1].URL)
	assert.Equal(t, []domain.PoolType{domain.PoolWebSocket}, configs[1].PoolTypes)
}

func TestBuildEndpointConfigs_WsURLSkippedWhenPoolCovered(t *testing.T) {
	cfg := &config.SolanaConfig{
		WsURL: "wss://fallback.example.com",
		Endpoints: []config.EndpointConfig{
			{URL: "wss://preferred.example.com", Pools: []string{"websocket"}},
		},
	}

	configs := buildEndpointConfigs(cfg)

	require.Len(t, configs, 1)
	assert.Equal(t, "wss://preferred.example.com", configs[0].URL)
}

func TestBuildEndpointConfigs_EmptyConfig(t *testing.T) {
	assert.Empty(t, buildEndpointConfigs(&config.SolanaConfig{}))
}
