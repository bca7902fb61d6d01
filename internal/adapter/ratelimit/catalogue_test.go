package ratelimit

import (
	"testing"
	"time"
)

func TestLookupProviderLimit(t *testing.T) {
	tests := []struct {
		name            string
		url             string
		wantMaxRequests int
		wantWindow      time.Duration
	}{
		{
			name:            "helius premium tier",
			url:             "https://mainnet.helius-rpc.com/?api-key=abc",
			wantMaxRequests: 50,
			wantWindow:      time.Second,
		},
		{
			name:            "quiknode host",
			url:             "https://cool-name.solana-mainnet.quiknode.pro/token/",
			wantMaxRequests: 50,
			wantWindow:      time.Second,
		},
		{
			name:            "alchemy host",
			url:             "https://solana-mainnet.g.alchemy.com/v2/key",
			wantMaxRequests: 40,
			wantWindow:      time.Second,
		},
		{
			name:            "triton",
			url:             "https://solgate.rpcpool.com",
			wantMaxRequests: 100,
			wantWindow:      time.Second,
		},
		{
			name:            "public mainnet",
			url:             "https://api.mainnet-beta.solana.com",
			wantMaxRequests: 20,
			wantWindow:      time.Second,
		},
		{
			name:            "public devnet",
			url:             "https://api.devnet.solana.com",
			wantMaxRequests: 10,
			wantWindow:      time.Second,
		},
		{
			name:            "case insensitive match",
			url:             "https://mainnet.HELIUS-rpc.com",
			wantMaxRequests: 50,
			wantWindow:      time.Second,
		},
		{
			name:            "unknown provider gets conservative default",
			url:             "https://rpc.sombody-new.example",
			wantMaxRequests: 10,
			wantWindow:      time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit := LookupProviderLimit(tt.url)
			if limit.MaxRequests != tt.wantMaxRequests {
				t.Errorf("MaxRequests = %d, want %d", limit.MaxRequests, tt.wantMaxRequests)
			}
			if limit.Window != tt.wantWindow {
				t.Errorf("Window = %v, want %v", limit.Window, tt.wantWindow)
			}
		})
	}
}
