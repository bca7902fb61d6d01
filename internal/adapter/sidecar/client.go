/*
Solgate Sidecar Adapter - IPC Client

Worker-side half of the sidecar protocol. Implements the same operation
surface as the direct gateway, but every call rides the local unix socket
so N worker processes share one upstream pool. The client dials lazily,
correlates out-of-order responses by request ID and backs off while the
sidecar is down rather than queueing doomed requests.
*/
package sidecar

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/tidemill/solgate/internal/core/constants"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/internal/util"
)

// Client speaks the sidecar IPC protocol over a unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
	logger     logger.StyledLogger

	pending *xsync.Map[uint64, chan *Response]
	reqSeq  atomic.Uint64
	closed  atomic.Bool

	mu         sync.Mutex
	conn       net.Conn
	writer     *connWriter
	dialFails  int
	nextDialAt time.Time
	lastErr    error
}

// NewClient builds a client for the sidecar at socketPath. The connection
// is established on first use.
func NewClient(socketPath string, timeout time.Duration, styledLogger logger.StyledLogger) *Client {
	if socketPath == "" {
		socketPath = constants.DefaultSidecarSocketPath
	}
	if timeout <= 0 {
		timeout = constants.DefaultSidecarCallTimeout
	}
	return &Client{
		socketPath: socketPath,
		timeout:    timeout,
		logger:     styledLogger,
		pending:    xsync.NewMap[uint64, chan *Response](),
	}
}

// Close tears the connection down and fails every in-flight call.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.writer = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return nil
}

// call runs one request/response exchange. The per-call deadline is the
// shorter of ctx and the configured timeout.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, domain.ErrClosed
	}

	var rawParams json.RawMessage
	if params != nil {
		b, err := jsonCodec.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to serialise %s params: %w", method, err)
		}
		rawParams = b
	}

	id := c.reqSeq.Add(1)
	frame, err := jsonCodec.Marshal(Request{ID: id, Method: method, Params: rawParams})
	if err != nil {
		return nil, fmt.Errorf("failed to serialise %s request: %w", method, err)
	}

	writer, err := c.ensureConn()
	if err != nil {
		return nil, err
	}

	ch := make(chan *Response, 1)
	c.pending.Store(id, ch)
	defer c.pending.Delete(id)

	if err := writer.writeFrame(frame); err != nil {
		return nil, fmt.Errorf("sidecar write failed: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, c.mapError(resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		// The response, if it ever arrives, is discarded by the deferred
		// delete above.
		return nil, domain.NewTimeoutError(method, c.socketPath, c.timeout)
	}
}

// ensureConn hands back the live writer, dialling if necessary. While the
// socket is down calls fail fast until the backoff window passes.
func (c *Client) ensureConn() (*connWriter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.writer, nil
	}
	if !c.nextDialAt.IsZero() && time.Now().Before(c.nextDialAt) {
		return nil, fmt.Errorf("sidecar unavailable: %w", c.lastErr)
	}

	conn, err := net.DialTimeout("unix", c.socketPath, constants.DefaultSidecarDialTimeout)
	if err != nil {
		c.dialFails++
		delay := util.CalculateReconnectDelay(c.dialFails,
			constants.DefaultSidecarRedialBase, constants.DefaultSidecarRedialMax, 0)
		c.nextDialAt = time.Now().Add(delay)
		c.lastErr = err
		return nil, fmt.Errorf("failed to dial sidecar at %s: %w", c.socketPath, err)
	}

	c.dialFails = 0
	c.nextDialAt = time.Time{}
	c.lastErr = nil
	c.conn = conn
	c.writer = &connWriter{conn: conn}
	go c.readLoop(conn)

	c.logger.Debug("connected to sidecar", "socket", c.socketPath)
	return c.writer, nil
}

// readLoop delivers responses to their waiting callers. Responses nobody is
// waiting for (the caller timed out or was cancelled) are discarded.
func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), constants.MaxSidecarFrameBytes)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		// The scanner reuses its buffer; the RawMessage inside the decoded
		// response has to outlive this iteration.
		line := make([]byte, len(raw))
		copy(line, raw)

		var resp Response
		if err := jsonCodec.Unmarshal(line, &resp); err != nil {
			c.logger.Debug("discarding malformed sidecar frame", "error", err.Error())
			continue
		}
		if ch, ok := c.pending.LoadAndDelete(resp.ID); ok {
			ch <- &resp
		}
	}

	c.connBroken(conn, scanner.Err())
}

// connBroken clears the dead connection and fails every pending call so
// nobody waits out a timeout for a response that cannot come.
func (c *Client) connBroken(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.writer = nil
	}
	c.mu.Unlock()
	conn.Close()

	message := "sidecar connection lost"
	if c.closed.Load() {
		message = "sidecar client closed"
	} else if cause != nil {
		message = fmt.Sprintf("sidecar connection lost: %v", cause)
		c.logger.Warn("sidecar connection lost", "error", cause.Error())
	}

	c.pending.Range(func(id uint64, _ chan *Response) bool {
		if ch, ok := c.pending.LoadAndDelete(id); ok {
			ch <- &Response{ID: id, Error: &ResponseError{Code: CodeInternal, Message: message}}
		}
		return true
	})
}

func (c *Client) mapError(respErr *ResponseError) error {
	switch respErr.Code {
	case CodeRateLimited:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, respErr.Message)
	default:
		return respErr
	}
}

// Ping checks sidecar liveness; it does not touch the upstream pool.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, MethodPing, nil)
	return err
}

func (c *Client) HealthStatus(ctx context.Context) (domain.HealthReport, error) {
	result, err := c.call(ctx, MethodGetHealthStatus, nil)
	if err != nil {
		return domain.HealthReport{}, err
	}
	var report domain.HealthReport
	if err := jsonCodec.Unmarshal(result, &report); err != nil {
		return domain.HealthReport{}, fmt.Errorf("malformed health report: %w", err)
	}
	return report, nil
}

func (c *Client) GetAccountInfo(ctx context.Context, pubkey string, commitment domain.Commitment) (json.RawMessage, error) {
	return c.call(ctx, MethodGetAccountInfo, accountParams{Pubkey: pubkey, Commitment: commitment.String()})
}

func (c *Client) GetMultipleAccounts(ctx context.Context, pubkeys []string, commitment domain.Commitment) (json.RawMessage, error) {
	return c.call(ctx, MethodGetMultipleAccounts, multipleAccountsParams{Pubkeys: pubkeys, Commitment: commitment.String()})
}

func (c *Client) GetTransaction(ctx context.Context, signature string) (json.RawMessage, error) {
	return c.call(ctx, MethodGetTransaction, transactionParams{Signature: signature})
}

func (c *Client) GetLatestBlockhash(ctx context.Context, commitment domain.Commitment) (domain.LatestBlockhash, error) {
	result, err := c.call(ctx, MethodGetLatestBlockhash, commitmentParams{Commitment: commitment.String()})
	if err != nil {
		return domain.LatestBlockhash{}, err
	}
	var blockhash domain.LatestBlockhash
	if err := jsonCodec.Unmarshal(result, &blockhash); err != nil {
		return domain.LatestBlockhash{}, fmt.Errorf("malformed blockhash response: %w", err)
	}
	return blockhash, nil
}

func (c *Client) GetBalance(ctx context.Context, pubkey string, commitment domain.Commitment) (uint64, error) {
	result, err := c.call(ctx, MethodGetBalance, accountParams{Pubkey: pubkey, Commitment: commitment.String()})
	if err != nil {
		return 0, err
	}
	var lamports uint64
	if err := jsonCodec.Unmarshal(result, &lamports); err != nil {
		return 0, fmt.Errorf("malformed balance response: %w", err)
	}
	return lamports, nil
}

func (c *Client) GetTokenAccountBalance(ctx context.Context, pubkey string) (json.RawMessage, error) {
	return c.call(ctx, MethodGetTokenAccountBalance, tokenBalanceParams{Pubkey: pubkey})
}

func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner, mint string) (json.RawMessage, error) {
	return c.call(ctx, MethodGetTokenAccountsByOwner, tokenOwnerParams{Owner: owner, Mint: mint})
}

func (c *Client) GetSlot(ctx context.Context, commitment domain.Commitment) (uint64, error) {
	result, err := c.call(ctx, MethodGetSlot, commitmentParams{Commitment: commitment.String()})
	if err != nil {
		return 0, err
	}
	var slot uint64
	if err := jsonCodec.Unmarshal(result, &slot); err != nil {
		return 0, fmt.Errorf("malformed slot response: %w", err)
	}
	return slot, nil
}

func (c *Client) SendRawTransaction(ctx context.Context, txBase64 string, opts ports.SendOptions) (string, error) {
	params := sendTransactionParams{
		Transaction:   txBase64,
		SkipPreflight: opts.SkipPreflight,
		MaxRetries:    opts.MaxRetries,
		Commitment:    opts.Commitment.String(),
	}
	result, err := c.call(ctx, MethodSendRawTransaction, params)
	if err != nil {
		return "", err
	}
	var signature string
	if err := jsonCodec.Unmarshal(result, &signature); err != nil {
		return "", fmt.Errorf("malformed send response: %w", err)
	}
	return signature, nil
}

func (c *Client) ConfirmTransaction(ctx context.Context, signature string, commitment domain.Commitment) (bool, error) {
	result, err := c.call(ctx, MethodConfirmTransaction, confirmParams{Signature: signature, Commitment: commitment.String()})
	if err != nil {
		return false, err
	}
	var confirmed confirmResult
	if err := jsonCodec.Unmarshal(result, &confirmed); err != nil {
		return false, fmt.Errorf("malformed confirm response: %w", err)
	}
	return confirmed.Confirmed, nil
}

var _ ports.SolanaService = (*Client)(nil)
