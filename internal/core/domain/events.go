package domain

import "time"

// Bus subjects published by the access layer. Downstream consumers key off
// these names, so they are part of the external contract.
const (
	EventDexComparison = "events.dex-comparison"
	EventWorkerStatus  = "workers.status"
	EventWsConnection  = "events.ws-connection"
)

// EventTypeForSubject maps a bus subject to the type tag carried inside the
// envelope. Unknown subjects reuse the subject itself.
func EventTypeForSubject(subject string) string {
	switch subject {
	case EventDexComparison:
		return "DEX_QUOTE_COMPARISON"
	case EventWorkerStatus:
		return "WORKER_STATUS"
	case EventWsConnection:
		return "WS_CONNECTION"
	default:
		return subject
	}
}

// EventEnvelope wraps every payload published to the bus. Timestamp is
// serialised as RFC 3339; ID is unique within the publishing process.
type EventEnvelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	Data      any       `json:"data"`
}

// QuoteComparisonEvent is published after every aggregation fan-out,
// successful or not, so consumers can track provider quality over time.
type QuoteComparisonEvent struct {
	InputMint    string         `json:"inputMint"`
	OutputMint   string         `json:"outputMint"`
	Amount       string         `json:"amount"`
	BestProvider string         `json:"bestProvider,omitempty"`
	BestQuote    *Quote         `json:"bestQuote,omitempty"`
	Quotes       []QuoteSummary `json:"quotes"`
	Timestamp    time.Time      `json:"timestamp"`
}

// QuoteSummary is the per-provider line inside a comparison event.
type QuoteSummary struct {
	Provider    string  `json:"provider"`
	OutAmount   string  `json:"outAmount,omitempty"`
	PriceImpact float64 `json:"priceImpact,omitempty"`
	LatencyMs   int64   `json:"latencyMs"`
	Error       string  `json:"error,omitempty"`
}

// WorkerStatusEvent is the periodic heartbeat for one worker.
type WorkerStatusEvent struct {
	Worker    string    `json:"worker"`
	State     string    `json:"state"`
	Processed uint64    `json:"processed"`
	Errors    uint64    `json:"errors"`
	RSSBytes  uint64    `json:"rssBytes,omitempty"`
	CPUPct    float64   `json:"cpuPct,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WsConnectionEvent is the published form of a supervisor lifecycle
// transition.
type WsConnectionEvent struct {
	State     string    `json:"state"`
	URL       string    `json:"url,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	DelayMs   int64     `json:"delayMs,omitempty"`
	Subs      int       `json:"subscriptions,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionEventKind enumerates websocket supervisor lifecycle transitions.
type ConnectionEventKind string

const (
	ConnectionUp        ConnectionEventKind = "up"
	ConnectionDown      ConnectionEventKind = "down"
	ConnectionRetrying  ConnectionEventKind = "retrying"
	ConnectionGaveUp    ConnectionEventKind = "gave_up"
	ConnectionResubbing ConnectionEventKind = "resubscribing"
)

// ConnectionEvent is emitted on the internal event bus whenever the
// supervisor changes connection state.
type ConnectionEvent struct {
	Kind     ConnectionEventKind
	URL      string
	Attempt  int
	Delay    time.Duration
	Subs     int
	Reason   string
	Occurred time.Time
}
