package constants

import "time"

// Health check constants
const (
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHealthCheckTimeout  = 5 * time.Second

	// Probe method for RPC endpoints. Cheap and universally supported.
	HealthCheckMethod = "getVersion"
)

// Catalogue defaults applied when an endpoint has no explicit rate limit.
const (
	DefaultUnknownProviderRPS = 10
	DefaultRateLimitWindow    = time.Second
)

// Transaction confirmation polling. Confirmation rides on repeated
// getSignatureStatuses calls rather than a websocket subscription so it
// works even when no websocket endpoint is configured.
const (
	DefaultConfirmTimeout      = 30 * time.Second
	DefaultConfirmPollInterval = 500 * time.Millisecond

	// Solana caps getMultipleAccounts at 100 keys per request.
	MaxMultipleAccountsKeys = 100
)
