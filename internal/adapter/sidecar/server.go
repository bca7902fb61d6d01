package sidecar

/*
	Solgate Sidecar Adapter - IPC Server

	Local access surface for worker processes. Workers speak newline
	delimited JSON over a unix stream socket; every request is handled on
	its own goroutine and answered whenever it finishes, so responses
	arrive in any order and one slow upstream call never blocks the
	connection. Workers are trusted but throttled: a crash-looping worker
	must not be able to saturate the shared pool.
*/

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/tidemill/solgate/internal/core/constants"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

// Server owns the unix socket surface.
type Server struct {
	service ports.SolanaService
	logger  logger.StyledLogger
	metrics *Metrics

	socketPath     string
	clientRPS      int
	clientBurst    int
	requestTimeout time.Duration

	listener net.Listener

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	closed atomic.Bool
	wg     sync.WaitGroup
}

func NewServer(service ports.SolanaService, socketPath string, styledLogger logger.StyledLogger, metrics *Metrics) *Server {
	return NewServerWithPolicy(service, socketPath, styledLogger, metrics,
		constants.DefaultSidecarClientRPS, constants.DefaultSidecarClientBurst, constants.DefaultSidecarRequestTimeout)
}

func NewServerWithPolicy(service ports.SolanaService, socketPath string, styledLogger logger.StyledLogger, metrics *Metrics, clientRPS, clientBurst int, requestTimeout time.Duration) *Server {
	if socketPath == "" {
		socketPath = constants.DefaultSidecarSocketPath
	}
	if clientRPS <= 0 {
		clientRPS = constants.DefaultSidecarClientRPS
	}
	if clientBurst <= 0 {
		clientBurst = constants.DefaultSidecarClientBurst
	}
	if requestTimeout <= 0 {
		requestTimeout = constants.DefaultSidecarRequestTimeout
	}
	return &Server{
		service:        service,
		logger:         styledLogger,
		metrics:        metrics,
		socketPath:     socketPath,
		clientRPS:      clientRPS,
		clientBurst:    clientBurst,
		requestTimeout: requestTimeout,
		conns:          make(map[net.Conn]struct{}),
	}
}

// Start binds the socket and begins accepting workers. A stale socket file
// from an unclean shutdown is replaced.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to bind sidecar socket %s: %w", s.socketPath, err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	s.logger.InfoWithEndpoint("sidecar listening", s.socketPath)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Warn("sidecar accept failed", "error", err.Error())
			continue
		}

		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()
		if s.metrics != nil {
			s.metrics.IpcClients.Inc()
		}

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.dropConn(conn)

	limiter := rate.NewLimiter(rate.Limit(s.clientRPS), s.clientBurst)
	writer := &connWriter{conn: conn}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), constants.MaxSidecarFrameBytes)

	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if !limiter.Allow() {
			if s.metrics != nil {
				s.metrics.Throttled.Inc()
			}
			id := gjson.GetBytes(line, "id").Uint()
			s.writeResponse(writer, Response{ID: id, Error: &ResponseError{
				Code:    CodeRateLimited,
				Message: "client rate limit exceeded",
			}})
			continue
		}

		s.wg.Add(1)
		go func(frame []byte) {
			defer s.wg.Done()
			s.handleFrame(ctx, writer, frame)
		}(line)
	}

	if err := scanner.Err(); err != nil && !s.closed.Load() {
		if errors.Is(err, bufio.ErrTooLong) {
			if s.metrics != nil {
				s.metrics.FramesRejected.Inc()
			}
			s.writeResponse(writer, Response{Error: &ResponseError{
				Code:    CodeParseError,
				Message: fmt.Sprintf("frame exceeds %d bytes", constants.MaxSidecarFrameBytes),
			}})
			s.logger.Warn("oversized sidecar frame, dropping client")
		} else if !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("sidecar client read failed", "error", err.Error())
		}
	}
}

func (s *Server) dropConn(conn net.Conn) {
	conn.Close()
	s.connMu.Lock()
	_, tracked := s.conns[conn]
	delete(s.conns, conn)
	s.connMu.Unlock()
	if tracked && s.metrics != nil {
		s.metrics.IpcClients.Dec()
	}
}

func (s *Server) handleFrame(ctx context.Context, writer *connWriter, frame []byte) {
	var req Request
	if err := jsonCodec.Unmarshal(frame, &req); err != nil {
		if s.metrics != nil {
			s.metrics.FramesRejected.Inc()
		}
		id := gjson.GetBytes(frame, "id").Uint()
		s.writeResponse(writer, Response{ID: id, Error: &ResponseError{
			Code:    CodeParseError,
			Message: "malformed request frame",
		}})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	result, respErr := s.dispatch(reqCtx, req)

	outcome := "ok"
	if respErr != nil {
		outcome = "error"
	}
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(req.Method, outcome).Inc()
	}

	s.writeResponse(writer, Response{ID: req.ID, Result: result, Error: respErr})
}

func (s *Server) dispatch(ctx context.Context, req Request) (json.RawMessage, *ResponseError) {
	switch req.Method {
	case MethodPing:
		return s.ok(pongResult{Pong: true, Timestamp: time.Now().UnixMilli()})

	case MethodGetHealthStatus:
		report, err := s.service.HealthStatus(ctx)
		if err != nil {
			return nil, upstreamError(err)
		}
		return s.ok(report)

	case MethodGetAccountInfo:
		var p accountParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		commitment, err := domain.ParseCommitment(p.Commitment)
		if err != nil {
			return nil, invalidParams(err)
		}
		raw, err := s.service.GetAccountInfo(ctx, p.Pubkey, commitment)
		if err != nil {
			return nil, upstreamError(err)
		}
		return raw, nil

	case MethodGetMultipleAccounts:
		var p multipleAccountsParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		commitment, err := domain.ParseCommitment(p.Commitment)
		if err != nil {
			return nil, invalidParams(err)
		}
		raw, err := s.service.GetMultipleAccounts(ctx, p.Pubkeys, commitment)
		if err != nil {
			return nil, upstreamError(err)
		}
		return raw, nil

	case MethodGetTransaction:
		var p transactionParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		raw, err := s.service.GetTransaction(ctx, p.Signature)
		if err != nil {
			return nil, upstreamError(err)
		}
		return raw, nil

	case MethodGetLatestBlockhash:
		var p commitmentParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		commitment, err := domain.ParseCommitment(p.Commitment)
		if err != nil {
			return nil, invalidParams(err)
		}
		blockhash, err := s.service.GetLatestBlockhash(ctx, commitment)
		if err != nil {
			return nil, upstreamError(err)
		}
		return s.ok(blockhash)

	case MethodGetBalance:
		var p accountParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		commitment, err := domain.ParseCommitment(p.Commitment)
		if err != nil {
			return nil, invalidParams(err)
		}
		balance, err := s.service.GetBalance(ctx, p.Pubkey, commitment)
		if err != nil {
			return nil, upstreamError(err)
		}
		return s.ok(balance)

	case MethodGetTokenAccountBalance:
		var p tokenBalanceParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		raw, err := s.service.GetTokenAccountBalance(ctx, p.Pubkey)
		if err != nil {
			return nil, upstreamError(err)
		}
		return raw, nil

	case MethodGetTokenAccountsByOwner:
		var p tokenOwnerParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		raw, err := s.service.GetTokenAccountsByOwner(ctx, p.Owner, p.Mint)
		if err != nil {
			return nil, upstreamError(err)
		}
		return raw, nil

	case MethodGetSlot:
		var p commitmentParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		commitment, err := domain.ParseCommitment(p.Commitment)
		if err != nil {
			return nil, invalidParams(err)
		}
		slot, err := s.service.GetSlot(ctx, commitment)
		if err != nil {
			return nil, upstreamError(err)
		}
		return s.ok(slot)

	case MethodSendRawTransaction:
		var p sendTransactionParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		commitment, err := domain.ParseCommitment(p.Commitment)
		if err != nil {
			return nil, invalidParams(err)
		}
		signature, err := s.service.SendRawTransaction(ctx, p.Transaction, ports.SendOptions{
			SkipPreflight: p.SkipPreflight,
			MaxRetries:    p.MaxRetries,
			Commitment:    commitment,
		})
		if err != nil {
			return nil, upstreamError(err)
		}
		return s.ok(signature)

	case MethodConfirmTransaction:
		var p confirmParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		commitment, err := domain.ParseCommitment(p.Commitment)
		if err != nil {
			return nil, invalidParams(err)
		}
		confirmed, err := s.service.ConfirmTransaction(ctx, p.Signature, commitment)
		if err != nil {
			return nil, upstreamError(err)
		}
		return s.ok(confirmResult{Confirmed: confirmed})

	default:
		return nil, &ResponseError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func (s *Server) ok(v any) (json.RawMessage, *ResponseError) {
	data, err := jsonCodec.Marshal(v)
	if err != nil {
		return nil, &ResponseError{Code: CodeInternal, Message: "failed to serialise result"}
	}
	return data, nil
}

func (s *Server) writeResponse(writer *connWriter, resp Response) {
	data, err := jsonCodec.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to serialise sidecar response", "error", err.Error())
		return
	}
	if err := writer.writeFrame(data); err != nil && !s.closed.Load() {
		s.logger.Debug("sidecar response write failed", "error", err.Error())
	}
}

// Close stops accepting, disconnects workers and removes the socket file.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if s.listener != nil {
		s.listener.Close()
	}

	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove sidecar socket", "path", s.socketPath, "error", err.Error())
	}
	s.logger.Info("sidecar stopped")
	return nil
}

// connWriter serialises concurrent response writes onto one connection and
// keeps the frame plus newline atomic.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *connWriter) writeFrame(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(constants.DefaultSidecarWriteTimeout))
	if _, err := w.conn.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	return jsonCodec.Unmarshal(raw, into)
}

func invalidParams(err error) *ResponseError {
	return &ResponseError{Code: CodeInvalidParams, Message: err.Error()}
}

func upstreamError(err error) *ResponseError {
	return &ResponseError{Code: CodeUpstream, Message: err.Error()}
}
