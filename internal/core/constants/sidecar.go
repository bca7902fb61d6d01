package constants

import "time"

// Sidecar protocol constants
const (
	DefaultSidecarSocketPath = "/tmp/solana-rpc.sock"
	DefaultSidecarWsURL      = "ws://localhost:3002"
	DefaultSidecarWsAddr     = "localhost:3002"

	// Upper bound on a single newline-delimited IPC frame.
	MaxSidecarFrameBytes = 4 << 20

	DefaultSidecarRequestTimeout = 30 * time.Second
	DefaultSidecarWriteTimeout   = 10 * time.Second

	// Worker-side deadline for one IPC round trip, and the redial backoff
	// applied while the sidecar socket is down.
	DefaultSidecarCallTimeout = 10 * time.Second
	DefaultSidecarDialTimeout = 2 * time.Second
	DefaultSidecarRedialBase  = 500 * time.Millisecond
	DefaultSidecarRedialMax   = 10 * time.Second

	// Per-client request budget on the local socket, enforced with a token
	// bucket. Local workers are trusted but a crash loop should not be able
	// to saturate the shared pool.
	DefaultSidecarClientRPS   = 200
	DefaultSidecarClientBurst = 400
)
