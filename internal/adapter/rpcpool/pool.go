package rpcpool

/*
	Solgate RPC Pool Adapter - Pooled JSON-RPC Execution

	Pool runs every RPC call through the best endpoint of the requested pool
	type, retrying across endpoints on transient failure. Each attempt takes a
	rate-limit slot, counts against the endpoint's in-flight load and races the
	upstream call against a per-attempt deadline.

	Failures feed straight back into endpoint health, so a node that starts
	misbehaving drops out of selection within a few requests and the health
	checker brings it back once probes succeed again.
*/

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"github.com/tidemill/solgate/internal/core/constants"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/internal/util"
)

type Pool struct {
	repository ports.EndpointRepository
	selector   ports.EndpointSelector
	limiter    ports.RateLimiter
	collector  ports.StatsCollector
	client     *HTTPRPCClient
	logger     logger.StyledLogger

	// wsStatus is bound after wiring once the websocket supervisor exists.
	wsStatus atomic.Pointer[func() bool]

	maxRetries     int
	requestTimeout time.Duration

	closed atomic.Bool
}

func NewPool(
	repository ports.EndpointRepository,
	selector ports.EndpointSelector,
	limiter ports.RateLimiter,
	collector ports.StatsCollector,
	logger logger.StyledLogger,
) *Pool {
	return NewPoolWithPolicy(repository, selector, limiter, collector, logger,
		constants.DefaultMaxRetries, constants.DefaultRequestTimeout)
}

func NewPoolWithPolicy(
	repository ports.EndpointRepository,
	selector ports.EndpointSelector,
	limiter ports.RateLimiter,
	collector ports.StatsCollector,
	logger logger.StyledLogger,
	maxRetries int,
	requestTimeout time.Duration,
) *Pool {
	if maxRetries <= 0 {
		maxRetries = constants.DefaultMaxRetries
	}
	if requestTimeout <= 0 {
		requestTimeout = constants.DefaultRequestTimeout
	}
	return &Pool{
		repository:     repository,
		selector:       selector,
		limiter:        limiter,
		collector:      collector,
		client:         NewHTTPRPCClient(),
		logger:         logger,
		maxRetries:     maxRetries,
		requestTimeout: requestTimeout,
	}
}

// SetWsStatus binds the websocket supervisor's connected probe so health
// reports can include it. Safe to call at any point after construction.
func (p *Pool) SetWsStatus(fn func() bool) {
	if fn != nil {
		p.wsStatus.Store(&fn)
	}
}

// Call executes method against the best endpoint of pt, retrying on another
// endpoint when the failure class allows it. Returns the raw result payload.
func (p *Pool) Call(ctx context.Context, pt domain.PoolType, method string, params any) (json.RawMessage, error) {
	if p.closed.Load() {
		return nil, domain.ErrClosed
	}

	var (
		lastErr error
		tried   []string
	)

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		result, url, err := p.attempt(ctx, pt, method, params)
		if err == nil {
			return result, nil
		}
		if url != "" {
			tried = append(tried, url)
		}
		lastErr = err

		if !domain.IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt == p.maxRetries {
			break
		}

		p.collector.RecordRetry(method)
		backoff := util.CalculateRetryBackoff(attempt, constants.DefaultRetryBackoffStep)
		p.logger.Debug("retrying rpc call", "method", method, "attempt", attempt,
			"backoff_ms", backoff.Milliseconds(), "error", err.Error())

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, domain.NewAllAttemptsFailedError(method, p.maxRetries, tried, lastErr)
}

// attempt runs a single try: select, take a rate-limit slot, call. Returns
// the endpoint URL it settled on even when the call fails, so the retry loop
// can report which endpoints were tried.
func (p *Pool) attempt(ctx context.Context, pt domain.PoolType, method string, params any) (json.RawMessage, string, error) {
	endpoints, err := p.repository.GetByPool(ctx, pt)
	if err != nil {
		return nil, "", err
	}

	endpoint, err := p.selector.Select(ctx, endpoints)
	if err != nil {
		return nil, "", err
	}

	p.selector.IncrementConnections(endpoint)
	defer p.selector.DecrementConnections(endpoint)

	attemptCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	started := time.Now()

	if err := p.limiter.Acquire(attemptCtx, endpoint.URL); err != nil {
		return nil, endpoint.URL, p.failAttempt(ctx, attemptCtx, endpoint, method, time.Since(started), err)
	}
	if waited := time.Since(started); waited > time.Millisecond {
		p.collector.RecordRateLimitWait(endpoint.URL, waited)
	}

	result, err := p.client.Call(attemptCtx, endpoint.URL, method, params)
	elapsed := time.Since(started)
	if err != nil {
		return nil, endpoint.URL, p.failAttempt(ctx, attemptCtx, endpoint, method, elapsed, err)
	}

	if recovered := endpoint.RecordSuccess(elapsed); recovered {
		p.logger.InfoHealthStatus("endpoint recovered", endpoint.URL, true, "method", method)
	}
	p.collector.RecordRequest(endpoint, true, elapsed)
	return result, endpoint.URL, nil
}

// failAttempt folds an attempt failure into endpoint health. A dead caller
// context is surfaced without blaming the endpoint; a per-attempt deadline
// becomes a TimeoutError.
func (p *Pool) failAttempt(ctx, attemptCtx context.Context, endpoint *domain.Endpoint, method string, elapsed time.Duration, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if attemptCtx.Err() == context.DeadlineExceeded {
		err = domain.NewTimeoutError(method, endpoint.URL, elapsed)
	}

	if wentUnhealthy := endpoint.RecordFailure(err.Error()); wentUnhealthy {
		p.logger.WarnWithEndpoint("endpoint went unhealthy", endpoint.URL, "method", method, "error", err.Error())
	}
	p.collector.RecordRequest(endpoint, false, elapsed)
	return err
}

// Report assembles the live health picture across every registered endpoint.
func (p *Pool) Report(ctx context.Context) domain.HealthReport {
	report := domain.HealthReport{
		Pools:       make(map[string]domain.PoolHealth),
		GeneratedAt: time.Now(),
	}
	if fn := p.wsStatus.Load(); fn != nil {
		report.WsConnected = (*fn)()
	}

	endpoints, err := p.repository.GetAll(ctx)
	if err != nil {
		return report
	}

	for _, endpoint := range endpoints {
		report.Endpoints = append(report.Endpoints, domain.NewEndpointHealth(endpoint))
		for _, pt := range endpoint.PoolTypes() {
			ph := report.Pools[string(pt)]
			ph.Total++
			if endpoint.Healthy() {
				ph.Healthy++
			}
			report.Pools[string(pt)] = ph
		}
	}

	sort.Slice(report.Endpoints, func(i, j int) bool {
		return report.Endpoints[i].URL < report.Endpoints[j].URL
	})

	// Healthy means every populated pool still has at least one usable member.
	report.Healthy = len(report.Endpoints) > 0
	for _, ph := range report.Pools {
		if ph.Healthy == 0 {
			report.Healthy = false
			break
		}
	}
	return report
}

// ResetEndpoint forces one endpoint back to healthy with clean counters.
// Idempotent; unknown URLs return the repository's not-found error.
func (p *Pool) ResetEndpoint(ctx context.Context, url string) error {
	endpoint, err := p.repository.Get(ctx, url)
	if err != nil {
		return err
	}
	endpoint.ResetHealth()
	p.logger.InfoHealthStatus("endpoint reset", url, true)
	return nil
}

// ResetAll forces every endpoint back to healthy. Idempotent.
func (p *Pool) ResetAll(ctx context.Context) error {
	endpoints, err := p.repository.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, endpoint := range endpoints {
		endpoint.ResetHealth()
	}
	p.logger.InfoWithCount("endpoints reset", len(endpoints))
	return nil
}

// Close marks the pool closed. In-flight calls finish; new calls fail with
// ErrClosed. Idempotent.
func (p *Pool) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.client.client.CloseIdleConnections()
		p.logger.Info("rpc pool closed")
	}
	return nil
}
