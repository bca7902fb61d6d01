package constants

import "time"

// Retry and backoff constants
const (
	// Attempts per RPC operation before reporting AllAttemptsFailed
	DefaultMaxRetries = 3

	// Per-attempt deadline for pooled RPC calls
	DefaultRequestTimeout = 10 * time.Second

	// Linear backoff step between attempts (attempt * step)
	DefaultRetryBackoffStep = 100 * time.Millisecond
)
