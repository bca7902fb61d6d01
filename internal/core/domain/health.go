package domain

import "time"

// EndpointHealth is one endpoint's line in a health report.
type EndpointHealth struct {
	URL                  string    `json:"url"`
	Priority             int       `json:"priority"`
	Pools                []string  `json:"pools"`
	Healthy              bool      `json:"healthy"`
	Score                int       `json:"score"`
	ConsecutiveErrors    int       `json:"consecutiveErrors"`
	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
	TotalRequests        int64     `json:"totalRequests"`
	FailedRequests       int64     `json:"failedRequests"`
	AvgLatencyMs         float64   `json:"avgLatencyMs"`
	ActiveRequests       int       `json:"activeRequests"`
	LastError            string    `json:"lastError,omitempty"`
	LastCheckedAt        time.Time `json:"lastCheckedAt,omitempty"`
}

// PoolHealth summarises one pool type.
type PoolHealth struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
}

// HealthReport is the full status answer served to sidecar clients and the
// status endpoint.
type HealthReport struct {
	Healthy     bool                  `json:"healthy"`
	Pools       map[string]PoolHealth `json:"pools"`
	Endpoints   []EndpointHealth      `json:"endpoints"`
	WsConnected bool                  `json:"wsConnected"`
	GeneratedAt time.Time             `json:"generatedAt"`
}

// Snapshot helpers build report lines from live endpoints.

func NewEndpointHealth(e *Endpoint) EndpointHealth {
	s := e.Snapshot()
	pools := make([]string, 0, len(e.pools))
	for pt := range e.pools {
		pools = append(pools, string(pt))
	}
	return EndpointHealth{
		URL:                  e.URL,
		Priority:             e.Priority,
		Pools:                pools,
		Healthy:              s.Healthy,
		Score:                e.Score(),
		ConsecutiveErrors:    s.ConsecutiveErrors,
		ConsecutiveSuccesses: s.ConsecutiveSuccesses,
		TotalRequests:        s.TotalRequests,
		FailedRequests:       s.FailedRequests,
		AvgLatencyMs:         s.AvgLatencyMs,
		ActiveRequests:       s.ActiveRequests,
		LastError:            s.LastError,
		LastCheckedAt:        s.LastCheckedAt,
	}
}

// LatestBlockhash is the typed result of a blockhash query.
type LatestBlockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}
