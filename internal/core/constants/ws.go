package constants

import "time"

// Websocket supervisor constants
const (
	DefaultWsBaseReconnectDelay = 1 * time.Second
	DefaultWsMaxReconnectDelay  = 30 * time.Second
	DefaultWsReconnectJitter    = 1 * time.Second
	DefaultWsMaxReconnectTries  = 10

	DefaultWsWriteTimeout = 10 * time.Second
	DefaultWsPingPeriod   = 30 * time.Second
	// Pong must arrive within this window or the connection is considered
	// dead and torn down for reconnect.
	DefaultWsPongWait = 75 * time.Second

	DefaultWsSubscribeTimeout = 15 * time.Second
)
