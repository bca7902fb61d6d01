package rpcpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/version"
	"github.com/tidemill/solgate/pkg/pool"
)

const (
	DefaultContentType = "application/json"
	DefaultUserAgent   = "%s-rpc/%s"

	// MaxResponseSize caps RPC response bodies. getMultipleAccounts on
	// large accounts is the biggest thing we expect to read.
	MaxResponseSize = 10 * 1024 * 1024

	DefaultMaxIdleConnections        = 32
	DefaultIdleConnTimeout           = 60 * time.Second
	DefaultMaxIdleConnectionsPerHost = 8
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// HTTPRPCClient speaks JSON-RPC 2.0 over HTTP POST to a single URL at a
// time. Connection reuse across endpoints is handled by the shared
// transport; per-request deadlines come from the caller's context.
type HTTPRPCClient struct {
	client     *http.Client
	bufferPool *pool.Pool[*bytes.Buffer]
	userAgent  string
	nextID     atomic.Uint64
}

func NewHTTPRPCClient() *HTTPRPCClient {
	// 4KB initial capacity fits most RPC results without reallocation
	bufferPool, err := pool.NewLitePool(func() *bytes.Buffer {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	})
	if err != nil {
		// The constructor is static, this cannot fail at runtime
		panic("rpc client: failed to initialise buffer pool")
	}

	return &HTTPRPCClient{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        DefaultMaxIdleConnections,
				IdleConnTimeout:     DefaultIdleConnTimeout,
				MaxIdleConnsPerHost: DefaultMaxIdleConnectionsPerHost,
			},
		},
		bufferPool: bufferPool,
		userAgent:  fmt.Sprintf(DefaultUserAgent, version.Name, version.Version),
	}
}

// Call issues method against url and returns the raw result payload.
// RPC-level errors come back as UpstreamError so the retry loop can
// classify them.
func (c *HTTPRPCClient) Call(ctx context.Context, url, method string, params any) (json.RawMessage, error) {
	request := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	payload, err := jsonCodec.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", DefaultContentType)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.NewUpstreamError(url, resp.StatusCode, "Too many requests")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.NewUpstreamError(url, resp.StatusCode, fmt.Sprintf("HTTP %d from upstream", resp.StatusCode))
	}

	buffer := c.bufferPool.Get()
	defer func() {
		buffer.Reset()
		c.bufferPool.Put(buffer)
	}()

	if _, err := io.Copy(buffer, io.LimitReader(resp.Body, MaxResponseSize)); err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}

	// RawMessage decode copies, nothing aliases the buffer after return
	var response rpcResponse
	if err := jsonCodec.Unmarshal(buffer.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}

	if response.Error != nil {
		return nil, domain.NewUpstreamError(url, response.Error.Code, response.Error.Message)
	}

	return response.Result, nil
}
