package ratelimit

import (
	"strings"
	"time"

	"github.com/tidemill/solgate/internal/core/constants"
	"github.com/tidemill/solgate/internal/core/domain"
)

// providerCatalogue maps URL substrings to the budgets providers publish for
// their free and entry tiers. First match wins, so more specific hosts sit
// above generic ones. Explicit endpoint config always overrides these.
var providerCatalogue = []struct {
	substring string
	limit     domain.RateLimitConfig
}{
	{"helius", domain.RateLimitConfig{MaxRequests: 50, Window: time.Second}},
	{"quiknode", domain.RateLimitConfig{MaxRequests: 50, Window: time.Second}},
	{"quicknode", domain.RateLimitConfig{MaxRequests: 50, Window: time.Second}},
	{"alchemy", domain.RateLimitConfig{MaxRequests: 40, Window: time.Second}},
	{"triton", domain.RateLimitConfig{MaxRequests: 100, Window: time.Second}},
	{"rpcpool", domain.RateLimitConfig{MaxRequests: 100, Window: time.Second}},
	{"ankr", domain.RateLimitConfig{MaxRequests: 30, Window: time.Second}},
	{"api.devnet.solana.com", domain.RateLimitConfig{MaxRequests: 10, Window: time.Second}},
	{"api.testnet.solana.com", domain.RateLimitConfig{MaxRequests: 10, Window: time.Second}},
	{"api.mainnet-beta.solana.com", domain.RateLimitConfig{MaxRequests: 20, Window: time.Second}},
}

// LookupProviderLimit resolves a rate limit for url from the provider
// catalogue, defaulting to a conservative budget for unknown hosts.
func LookupProviderLimit(url string) domain.RateLimitConfig {
	lowered := strings.ToLower(url)
	for _, entry := range providerCatalogue {
		if strings.Contains(lowered, entry.substring) {
			return entry.limit
		}
	}
	return domain.RateLimitConfig{
		MaxRequests: constants.DefaultUnknownProviderRPS,
		Window:      constants.DefaultRateLimitWindow,
	}
}
