package health

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/tidemill/solgate/internal/core/constants"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

const (
	DefaultProbeWorkers  = 4
	maxProbeResponseSize = 1 << 20
)

// RPCHealthChecker probes RPC endpoints on an interval with a getVersion
// call and feeds the outcome into each endpoint's health accounting. The
// probe counts towards the same consecutive success and error streaks as
// real traffic, so an idle pool still recovers endpoints.
//
// Websocket endpoints are left to the supervisor, which knows whether the
// connection is up. External API endpoints are skipped entirely.
type RPCHealthChecker struct {
	repository ports.EndpointRepository
	client     *http.Client
	logger     logger.StyledLogger

	interval time.Duration
	timeout  time.Duration

	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning atomic.Bool
}

func NewRPCHealthChecker(repository ports.EndpointRepository, interval time.Duration, logger logger.StyledLogger) *RPCHealthChecker {
	if interval <= 0 {
		interval = constants.DefaultHealthCheckInterval
	}
	return &RPCHealthChecker{
		repository: repository,
		client: &http.Client{
			Timeout: constants.DefaultHealthCheckTimeout,
		},
		logger:   logger,
		interval: interval,
		timeout:  constants.DefaultHealthCheckTimeout,
	}
}

func (c *RPCHealthChecker) StartChecking(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning.Load() {
		return nil
	}

	c.stopCh = make(chan struct{})
	c.isRunning.Store(true)

	c.wg.Add(1)
	go c.checkLoop(ctx)

	c.logger.Info("health checker started", "interval", c.interval)
	return nil
}

func (c *RPCHealthChecker) StopChecking(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning.Load() {
		return nil
	}

	close(c.stopCh)
	c.wg.Wait()
	c.isRunning.Store(false)

	c.logger.Info("health checker stopped")
	return nil
}

func (c *RPCHealthChecker) checkLoop(ctx context.Context) {
	defer c.wg.Done()

	// First pass straight away so startup does not wait a full interval
	// for endpoint states to settle.
	c.RunChecks(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.RunChecks(ctx)
		}
	}
}

// RunChecks probes every RPC endpoint once, bounded by a small worker limit.
func (c *RPCHealthChecker) RunChecks(ctx context.Context) {
	endpoints, err := c.repository.GetAll(ctx)
	if err != nil {
		c.logger.Error("health check skipped, repository unavailable", "error", err)
		return
	}

	eg, probeCtx := errgroup.WithContext(ctx)
	eg.SetLimit(DefaultProbeWorkers)

	probed := 0
	for _, endpoint := range endpoints {
		if !probeable(endpoint) {
			continue
		}
		probed++
		eg.Go(func() error {
			c.probe(probeCtx, endpoint)
			return nil
		})
	}
	_ = eg.Wait()

	if probed > 0 {
		c.logger.Debug("health check pass complete", "probed", probed)
	}
}

// probeable reports whether the endpoint answers JSON-RPC over HTTP.
func probeable(endpoint *domain.Endpoint) bool {
	return endpoint.ServesPool(domain.PoolQuery) || endpoint.ServesPool(domain.PoolSubmit)
}

func (c *RPCHealthChecker) probe(ctx context.Context, endpoint *domain.Endpoint) {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	version, err := c.callGetVersion(probeCtx, endpoint.URL)
	latency := time.Since(start)

	endpoint.RecordCheck(time.Now())

	if err != nil {
		if becameUnhealthy := endpoint.RecordFailure(err.Error()); becameUnhealthy {
			c.logger.InfoHealthStatus("endpoint went unhealthy", endpoint.URL, false,
				"error", err, "latency", latency)
		}
		return
	}

	if becameHealthy := endpoint.RecordSuccess(latency); becameHealthy {
		c.logger.InfoHealthStatus("endpoint recovered", endpoint.URL, true,
			"version", version, "latency", latency)
	}
}

// callGetVersion issues the probe request and returns the node version.
func (c *RPCHealthChecker) callGetVersion(ctx context.Context, url string) (string, error) {
	payload := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"%s"}`, constants.HealthCheckMethod)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		return "", fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.NewUpstreamError(url, resp.StatusCode, fmt.Sprintf("probe returned HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeResponseSize))
	if err != nil {
		return "", fmt.Errorf("reading probe response: %w", err)
	}

	if rpcErr := gjson.GetBytes(body, "error"); rpcErr.Exists() {
		return "", domain.NewUpstreamError(url, int(rpcErr.Get("code").Int()), rpcErr.Get("message").String())
	}

	return gjson.GetBytes(body, "result.solana-core").String(), nil
}
