package domain

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

const (
	// Health transition thresholds. An endpoint flips unhealthy after
	// DefaultUnhealthyThreshold consecutive errors and recovers after
	// DefaultHealthyThreshold consecutive successes.
	DefaultUnhealthyThreshold = 3
	DefaultHealthyThreshold   = 2

	// Latency smoothing factor for the rolling average.
	latencyEMAAlpha = 0.1
)

// PoolType partitions endpoints by purpose. An endpoint may serve several.
type PoolType string

const (
	PoolQuery     PoolType = "query"
	PoolSubmit    PoolType = "submit"
	PoolWebSocket PoolType = "websocket"
	// PoolExternal marks endpoints that speak a non-RPC API (DEX quote
	// providers). The health checker skips these.
	PoolExternal PoolType = "external"
)

// ParsePoolType validates a configured pool type string.
func ParsePoolType(s string) (PoolType, error) {
	switch PoolType(s) {
	case PoolQuery, PoolSubmit, PoolWebSocket, PoolExternal:
		return PoolType(s), nil
	default:
		return "", fmt.Errorf("unknown pool type %q", s)
	}
}

// RateLimitConfig is the per-endpoint sliding window budget.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

// EndpointConfig is the immutable part of an endpoint, fixed for its lifetime.
type EndpointConfig struct {
	URL       string
	Priority  int // lower is preferred
	Weight    int
	PoolTypes []PoolType
	// RateLimit overrides the provider catalogue defaults when set.
	RateLimit *RateLimitConfig
}

// EndpointStats is a point-in-time copy of an endpoint's mutable health state.
// Stats are only ever mutated through Endpoint methods; readers take snapshots.
type EndpointStats struct {
	Healthy              bool
	ConsecutiveErrors    int
	ConsecutiveSuccesses int
	TotalRequests        int64
	FailedRequests       int64
	AvgLatencyMs         float64
	ActiveRequests       int
	LastError            string
	LastErrorAt          time.Time
	LastCheckedAt        time.Time
}

// Endpoint is a single upstream RPC or websocket address plus its health
// accounting. Construction validates the URL and pool types; the config
// fields never change afterwards.
type Endpoint struct {
	URL       string
	Priority  int
	Weight    int
	RateLimit RateLimitConfig

	pools map[PoolType]struct{}

	unhealthyThreshold int
	healthyThreshold   int

	mu    sync.Mutex
	stats EndpointStats
}

// NewEndpoint builds an endpoint from config. The rate limit must already be
// resolved (catalogue defaults applied) by the caller.
func NewEndpoint(cfg EndpointConfig, limit RateLimitConfig) (*Endpoint, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("endpoint URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", cfg.URL, err)
	}
	if len(cfg.PoolTypes) == 0 {
		return nil, fmt.Errorf("endpoint %s: at least one pool type is required", cfg.URL)
	}
	pools := make(map[PoolType]struct{}, len(cfg.PoolTypes))
	for _, pt := range cfg.PoolTypes {
		if _, err := ParsePoolType(string(pt)); err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", cfg.URL, err)
		}
		pools[pt] = struct{}{}
	}
	weight := cfg.Weight
	if weight <= 0 {
		weight = 1
	}
	return &Endpoint{
		URL:                cfg.URL,
		Priority:           cfg.Priority,
		Weight:             weight,
		RateLimit:          limit,
		pools:              pools,
		unhealthyThreshold: DefaultUnhealthyThreshold,
		healthyThreshold:   DefaultHealthyThreshold,
		stats:              EndpointStats{Healthy: true},
	}, nil
}

// ServesPool reports whether the endpoint belongs to the given pool.
func (e *Endpoint) ServesPool(pt PoolType) bool {
	_, ok := e.pools[pt]
	return ok
}

// PoolTypes returns the endpoint's pool memberships in no particular order.
func (e *Endpoint) PoolTypes() []PoolType {
	out := make([]PoolType, 0, len(e.pools))
	for pt := range e.pools {
		out = append(out, pt)
	}
	return out
}

// BeginRequest bumps the in-flight and total counters before a request is
// issued. Always pair with EndRequest.
func (e *Endpoint) BeginRequest() {
	e.mu.Lock()
	e.stats.ActiveRequests++
	e.stats.TotalRequests++
	e.mu.Unlock()
}

// EndRequest releases the in-flight slot taken by BeginRequest.
func (e *Endpoint) EndRequest() {
	e.mu.Lock()
	if e.stats.ActiveRequests > 0 {
		e.stats.ActiveRequests--
	}
	e.mu.Unlock()
}

// RecordSuccess folds a successful request into the health state: resets the
// error streak, advances the success streak and updates the latency average.
// Returns true when this success transitioned the endpoint back to healthy.
func (e *Endpoint) RecordSuccess(latency time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.ConsecutiveErrors = 0
	e.stats.ConsecutiveSuccesses++

	sample := float64(latency.Milliseconds())
	if e.stats.AvgLatencyMs == 0 {
		e.stats.AvgLatencyMs = sample
	} else {
		e.stats.AvgLatencyMs = e.stats.AvgLatencyMs*(1-latencyEMAAlpha) + sample*latencyEMAAlpha
	}

	if !e.stats.Healthy && e.stats.ConsecutiveSuccesses >= e.healthyThreshold {
		e.stats.Healthy = true
		return true
	}
	return false
}

// RecordFailure folds a failed request into the health state. Returns true
// when this failure transitioned the endpoint to unhealthy.
func (e *Endpoint) RecordFailure(errMsg string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.ConsecutiveSuccesses = 0
	e.stats.ConsecutiveErrors++
	e.stats.FailedRequests++
	e.stats.LastError = errMsg
	e.stats.LastErrorAt = time.Now()

	if e.stats.Healthy && e.stats.ConsecutiveErrors >= e.unhealthyThreshold {
		e.stats.Healthy = false
		return true
	}
	return false
}

// RecordCheck stamps the last health-check time.
func (e *Endpoint) RecordCheck(at time.Time) {
	e.mu.Lock()
	e.stats.LastCheckedAt = at
	e.mu.Unlock()
}

// ResetHealth forces the endpoint back to a clean healthy state. Idempotent.
func (e *Endpoint) ResetHealth() {
	e.mu.Lock()
	e.stats.Healthy = true
	e.stats.ConsecutiveErrors = 0
	e.stats.ConsecutiveSuccesses = 0
	e.stats.LastError = ""
	e.mu.Unlock()
}

// Healthy reports the current healthy flag.
func (e *Endpoint) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.Healthy
}

// Snapshot returns a copy of the mutable stats, safe to read without
// further synchronisation.
func (e *Endpoint) Snapshot() EndpointStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// StatusString renders the health flag for logs and status reports.
func (e *Endpoint) StatusString() string {
	if e.Healthy() {
		return "healthy"
	}
	return "unhealthy"
}

// Score ranks healthy endpoints for selection. Higher is better. Streaks,
// latency and load all contribute; endpoints with a real request history get
// a small confidence bonus.
func (e *Endpoint) Score() int {
	s := e.Snapshot()
	score := 10*s.ConsecutiveSuccesses - 20*s.ConsecutiveErrors
	if lat := 1000 - int(s.AvgLatencyMs); lat > 0 {
		score += lat
	}
	score -= 50 * s.ActiveRequests
	if s.TotalRequests > 100 {
		score += 20
	}
	return score
}
