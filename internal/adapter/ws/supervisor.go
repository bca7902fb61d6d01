package ws

/*
	Solgate WebSocket Adapter - Connection Supervisor

	Supervisor owns the upstream pubsub socket. It dials the best websocket
	endpoint, keeps the connection alive with protocol pings plus a periodic
	getVersion probe, and reconnects with exponential backoff when the link
	drops.

	Subscriptions are durable across reconnects: callers hold a stable handle
	while the upstream subscription id changes every time the socket is
	re-established. After a reconnect the supervisor re-registers every live
	subscription in the order it was created and remaps the new upstream ids
	into the existing handle table, so caller-held handles never go stale.

	Delivery runs on the single read goroutine, which preserves upstream order
	within each subscription. Messages the upstream sent while the socket was
	down are gone; consumers must tolerate gaps across a reconnect.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/tidemill/solgate/internal/core/constants"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/internal/util"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// State tracks where the supervisor is in its connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateFailed is terminal: the reconnect budget is spent and the
	// supervisor will not dial again until restarted.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReconnectPolicy tunes the backoff between reconnect attempts.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
	MaxAttempts int
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   constants.DefaultWsBaseReconnectDelay,
		MaxDelay:    constants.DefaultWsMaxReconnectDelay,
		Jitter:      constants.DefaultWsReconnectJitter,
		MaxAttempts: constants.DefaultWsMaxReconnectTries,
	}
}

// subscription is one durable registration. upstream is the current
// per-connection Solana subscription id, zero while unbound.
type subscription struct {
	handle   domain.SubscriptionHandle
	request  domain.SubscriptionRequest
	handler  domain.NotificationHandler
	upstream int64
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wsInbound is the superset of frames the upstream sends: responses carry an
// id, notifications carry a method plus params.
type wsInbound struct {
	ID     uint64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wsError        `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params struct {
		Subscription int64           `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

type wsReply struct {
	result json.RawMessage
	err    error
}

type Supervisor struct {
	repository ports.EndpointRepository
	selector   ports.EndpointSelector
	collector  ports.StatsCollector
	logger     logger.StyledLogger

	policy        ReconnectPolicy
	probeInterval time.Duration
	probeTimeout  time.Duration

	// onEvent receives every connection lifecycle transition. Bound once
	// during wiring, before Start.
	onEvent func(domain.ConnectionEvent)

	state atomic.Int32

	connMu   sync.Mutex
	conn     *websocket.Conn
	connURL  string
	writeMu  sync.Mutex
	reqSeq   atomic.Uint64
	pending  *xsync.Map[uint64, chan wsReply]
	handleID atomic.Uint64

	// subMu guards the handle table. Never held across socket I/O.
	subMu      sync.Mutex
	subs       map[domain.SubscriptionHandle]*subscription
	order      []domain.SubscriptionHandle
	byUpstream map[int64]*subscription

	closed  atomic.Bool
	stopped chan struct{}
	wg      sync.WaitGroup
}

func NewSupervisor(
	repository ports.EndpointRepository,
	selector ports.EndpointSelector,
	collector ports.StatsCollector,
	logger logger.StyledLogger,
) *Supervisor {
	return NewSupervisorWithPolicy(repository, selector, collector, logger, DefaultReconnectPolicy())
}

func NewSupervisorWithPolicy(
	repository ports.EndpointRepository,
	selector ports.EndpointSelector,
	collector ports.StatsCollector,
	logger logger.StyledLogger,
	policy ReconnectPolicy,
) *Supervisor {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = constants.DefaultWsBaseReconnectDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = constants.DefaultWsMaxReconnectDelay
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = constants.DefaultWsMaxReconnectTries
	}
	return &Supervisor{
		repository:    repository,
		selector:      selector,
		collector:     collector,
		logger:        logger,
		policy:        policy,
		probeInterval: constants.DefaultHealthCheckInterval,
		probeTimeout:  constants.DefaultHealthCheckTimeout,
		pending:       xsync.NewMap[uint64, chan wsReply](),
		subs:          make(map[domain.SubscriptionHandle]*subscription),
		byUpstream:    make(map[int64]*subscription),
		stopped:       make(chan struct{}),
	}
}

// OnConnectionEvent binds the lifecycle event sink. Call before Start.
func (s *Supervisor) OnConnectionEvent(fn func(domain.ConnectionEvent)) {
	s.onEvent = fn
}

// Start dials the websocket pool and keeps the connection supervised until
// Close. Fails fast when no websocket endpoint is configured.
func (s *Supervisor) Start(ctx context.Context) error {
	endpoints, err := s.repository.GetByPool(ctx, domain.PoolWebSocket)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		return fmt.Errorf("%w: no websocket endpoints configured", domain.ErrNoEndpointAvailable)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx)
	}()
	return nil
}

// supervise is the connection state machine. One reconnect round per loop
// iteration; delays apply before every dial except the very first.
func (s *Supervisor) supervise(ctx context.Context) {
	first := true
	attempt := 0

	for {
		if s.halted(ctx) {
			return
		}

		if !first {
			if attempt >= s.policy.MaxAttempts {
				s.setState(StateFailed)
				s.logger.Error("websocket reconnect budget exhausted", "attempts", attempt)
				s.emit(domain.ConnectionEvent{
					Kind:     domain.ConnectionGaveUp,
					Attempt:  attempt,
					Occurred: time.Now(),
				})
				return
			}

			delay := util.CalculateReconnectDelay(attempt+1, s.policy.BaseDelay, s.policy.MaxDelay, s.policy.Jitter)
			s.setState(StateReconnecting)
			s.logger.Warn("websocket reconnecting", "attempt", attempt, "delay_ms", delay.Milliseconds())
			s.collector.RecordWsEvent(ports.WsEventReconnect)
			s.emit(domain.ConnectionEvent{
				Kind:     domain.ConnectionRetrying,
				Attempt:  attempt,
				Delay:    delay,
				Occurred: time.Now(),
			})

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.stopped:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		s.setState(StateConnecting)
		dialStart := time.Now()
		conn, endpoint, err := s.dialBest(ctx)
		if err != nil {
			if endpoint != nil {
				if wentUnhealthy := endpoint.RecordFailure(err.Error()); wentUnhealthy {
					s.logger.WarnWithEndpoint("websocket endpoint went unhealthy", endpoint.URL, "error", err.Error())
				}
			}
			s.logger.Warn("websocket dial failed", "error", err.Error())
			s.setState(StateDisconnected)
			if first {
				first = false
			} else {
				attempt++
			}
			continue
		}

		s.installConn(conn, endpoint.URL)
		s.setState(StateConnected)
		if endpoint.RecordSuccess(time.Since(dialStart)) {
			s.logger.InfoHealthStatus("websocket endpoint recovered", endpoint.URL, true)
		}

		resubscribed := s.reregisterAll(ctx, endpoint)
		s.logger.InfoWithEndpoint("websocket connected", endpoint.URL,
			"attempts", attempt, "resubscribed", resubscribed)
		s.emit(domain.ConnectionEvent{
			Kind:     domain.ConnectionUp,
			URL:      endpoint.URL,
			Attempt:  attempt,
			Subs:     resubscribed,
			Occurred: time.Now(),
		})

		first = false
		attempt = 0

		reason := s.pump(ctx, conn, endpoint)
		s.teardownConn(conn)

		if s.halted(ctx) {
			return
		}

		s.setState(StateDisconnected)
		s.logger.WarnWithEndpoint("websocket disconnected", endpoint.URL, "reason", reason)
		s.emit(domain.ConnectionEvent{
			Kind:     domain.ConnectionDown,
			URL:      endpoint.URL,
			Reason:   reason,
			Occurred: time.Now(),
		})
	}
}

func (s *Supervisor) halted(ctx context.Context) bool {
	if s.closed.Load() || ctx.Err() != nil {
		return true
	}
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// dialBest picks the best websocket endpoint and opens the socket.
func (s *Supervisor) dialBest(ctx context.Context) (*websocket.Conn, *domain.Endpoint, error) {
	endpoints, err := s.repository.GetByPool(ctx, domain.PoolWebSocket)
	if err != nil {
		return nil, nil, err
	}
	endpoint, err := s.selector.Select(ctx, endpoints)
	if err != nil {
		return nil, nil, err
	}

	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: 10 * time.Second,
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialer.HandshakeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, endpoint.URL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, endpoint, fmt.Errorf("dial %s: %w", endpoint.URL, err)
	}
	return conn, endpoint, nil
}

func (s *Supervisor) installConn(conn *websocket.Conn, url string) {
	s.connMu.Lock()
	s.conn = conn
	s.connURL = url
	s.connMu.Unlock()
}

// teardownConn closes the socket, fails every pending request and unbinds
// all upstream subscription ids so stale ids cannot dispatch after reconnect.
func (s *Supervisor) teardownConn(conn *websocket.Conn) {
	_ = conn.Close()

	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.connURL = ""
	}
	s.connMu.Unlock()

	s.pending.Range(func(id uint64, ch chan wsReply) bool {
		s.pending.Delete(id)
		ch <- wsReply{err: domain.ErrWsDisconnected}
		return true
	})

	s.subMu.Lock()
	for _, sub := range s.subs {
		sub.upstream = 0
	}
	s.byUpstream = make(map[int64]*subscription)
	s.subMu.Unlock()
}

// pump reads frames until the connection dies, keeping it alive with pings
// and getVersion probes. Returns the reason the connection ended.
func (s *Supervisor) pump(ctx context.Context, conn *websocket.Conn, endpoint *domain.Endpoint) string {
	probeDone := make(chan struct{})
	defer close(probeDone)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.keepalive(ctx, conn, endpoint, probeDone)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(constants.DefaultWsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(constants.DefaultWsPongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err.Error()
			}
			return "connection closed"
		}
		_ = conn.SetReadDeadline(time.Now().Add(constants.DefaultWsPongWait))
		s.handleFrame(frame)
	}
}

// keepalive sends protocol pings and a periodic getVersion probe. A probe
// that times out kills the connection, which surfaces silent disconnects the
// transport never reports.
func (s *Supervisor) keepalive(ctx context.Context, conn *websocket.Conn, endpoint *domain.Endpoint, done <-chan struct{}) {
	ping := time.NewTicker(constants.DefaultWsPingPeriod)
	probe := time.NewTicker(s.probeInterval)
	defer ping.Stop()
	defer probe.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-s.stopped:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(constants.DefaultWsWriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case <-probe.C:
			probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
			started := time.Now()
			_, err := s.request(probeCtx, constants.HealthCheckMethod, nil)
			cancel()
			endpoint.RecordCheck(time.Now())
			if err != nil {
				s.logger.WarnWithEndpoint("websocket probe failed", endpoint.URL, "error", err.Error())
				if wentUnhealthy := endpoint.RecordFailure(err.Error()); wentUnhealthy {
					s.logger.WarnWithEndpoint("websocket endpoint went unhealthy", endpoint.URL, "error", err.Error())
				}
				_ = conn.Close()
				return
			}
			if endpoint.RecordSuccess(time.Since(started)) {
				s.logger.InfoHealthStatus("websocket endpoint recovered", endpoint.URL, true)
			}
		}
	}
}

// handleFrame routes one inbound frame: notifications to their subscription
// handler, responses to the waiting request.
func (s *Supervisor) handleFrame(frame []byte) {
	var msg wsInbound
	if err := jsonCodec.Unmarshal(frame, &msg); err != nil {
		s.logger.Debug("discarding unparseable websocket frame", "error", err.Error())
		return
	}

	if strings.HasSuffix(msg.Method, "Notification") {
		s.subMu.Lock()
		sub := s.byUpstream[msg.Params.Subscription]
		s.subMu.Unlock()
		if sub == nil {
			// Unsubscribed or not yet rebound; drop.
			return
		}
		s.collector.RecordWsEvent(ports.WsEventNotification)
		sub.handler(msg.Params.Result)
		return
	}

	if ch, ok := s.pending.LoadAndDelete(msg.ID); ok {
		if msg.Error != nil {
			ch <- wsReply{err: domain.NewUpstreamError(s.currentURL(), msg.Error.Code, msg.Error.Message)}
			return
		}
		ch <- wsReply{result: msg.Result}
	}
}

func (s *Supervisor) currentURL() string {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connURL
}

// request sends one JSON-RPC frame on the socket and waits for the matching
// response.
func (s *Supervisor) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return nil, domain.ErrWsDisconnected
	}

	id := s.reqSeq.Add(1)
	ch := make(chan wsReply, 1)
	s.pending.Store(id, ch)

	payload, err := jsonCodec.Marshal(wsRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		s.pending.Delete(id)
		return nil, err
	}

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(constants.DefaultWsWriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	s.writeMu.Unlock()
	if err != nil {
		s.pending.Delete(id)
		return nil, fmt.Errorf("%w: %v", domain.ErrWsDisconnected, err)
	}

	select {
	case reply := <-ch:
		return reply.result, reply.err
	case <-ctx.Done():
		s.pending.Delete(id)
		return nil, ctx.Err()
	}
}

// Subscribe registers a durable subscription and returns its stable handle.
func (s *Supervisor) Subscribe(ctx context.Context, req domain.SubscriptionRequest, handler domain.NotificationHandler) (domain.SubscriptionHandle, error) {
	if s.closed.Load() {
		return 0, domain.ErrClosed
	}
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if handler == nil {
		return 0, fmt.Errorf("subscription requires a handler")
	}

	subCtx, cancel := context.WithTimeout(ctx, constants.DefaultWsSubscribeTimeout)
	defer cancel()

	result, err := s.request(subCtx, req.SubscribeMethod(), req.SubscribeParams())
	if err != nil {
		return 0, err
	}

	var upstream int64
	if err := jsonCodec.Unmarshal(result, &upstream); err != nil {
		return 0, fmt.Errorf("unexpected %s result %s: %w", req.SubscribeMethod(), result, err)
	}

	handle := domain.SubscriptionHandle(s.handleID.Add(1))
	sub := &subscription{handle: handle, request: req, handler: handler, upstream: upstream}

	s.subMu.Lock()
	s.subs[handle] = sub
	s.order = append(s.order, handle)
	s.byUpstream[upstream] = sub
	s.subMu.Unlock()

	s.logger.Debug("subscribed", "handle", uint64(handle), "method", req.SubscribeMethod(),
		"filter", req.Filter, "upstream_id", upstream)
	return handle, nil
}

// Unsubscribe removes the subscription and stops its dispatch immediately.
// The upstream teardown frame is best effort; a dead socket simply never
// re-registers the entry.
func (s *Supervisor) Unsubscribe(ctx context.Context, handle domain.SubscriptionHandle) error {
	s.subMu.Lock()
	sub, ok := s.subs[handle]
	if !ok {
		s.subMu.Unlock()
		return fmt.Errorf("unknown subscription handle %d", handle)
	}
	delete(s.subs, handle)
	for i, h := range s.order {
		if h == handle {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	upstream := sub.upstream
	if upstream != 0 {
		delete(s.byUpstream, upstream)
	}
	s.subMu.Unlock()

	if upstream == 0 {
		return nil
	}

	unsubCtx, cancel := context.WithTimeout(ctx, constants.DefaultWsSubscribeTimeout)
	defer cancel()
	if _, err := s.request(unsubCtx, sub.request.UnsubscribeMethod(), []any{upstream}); err != nil {
		s.logger.Debug("upstream unsubscribe failed", "handle", uint64(handle), "error", err.Error())
	}
	return nil
}

// reregisterAll re-subscribes every live registration in creation order and
// rebinds the new upstream ids. Best effort: one failure is logged and the
// rest continue.
func (s *Supervisor) reregisterAll(ctx context.Context, endpoint *domain.Endpoint) int {
	s.subMu.Lock()
	handles := make([]domain.SubscriptionHandle, len(s.order))
	copy(handles, s.order)
	s.subMu.Unlock()

	if len(handles) == 0 {
		return 0
	}

	s.emit(domain.ConnectionEvent{
		Kind:     domain.ConnectionResubbing,
		URL:      endpoint.URL,
		Subs:     len(handles),
		Occurred: time.Now(),
	})

	resubscribed := 0
	for _, handle := range handles {
		s.subMu.Lock()
		sub, ok := s.subs[handle]
		s.subMu.Unlock()
		if !ok {
			// Unsubscribed while we were reconnecting.
			continue
		}

		subCtx, cancel := context.WithTimeout(ctx, constants.DefaultWsSubscribeTimeout)
		result, err := s.request(subCtx, sub.request.SubscribeMethod(), sub.request.SubscribeParams())
		cancel()
		if err != nil {
			s.logger.WarnWithEndpoint("re-subscribe failed", endpoint.URL,
				"handle", uint64(handle), "method", sub.request.SubscribeMethod(), "error", err.Error())
			continue
		}

		var upstream int64
		if err := jsonCodec.Unmarshal(result, &upstream); err != nil {
			s.logger.WarnWithEndpoint("re-subscribe returned unexpected result", endpoint.URL,
				"handle", uint64(handle), "result", string(result))
			continue
		}

		s.subMu.Lock()
		if _, still := s.subs[handle]; still {
			sub.upstream = upstream
			s.byUpstream[upstream] = sub
			resubscribed++
		}
		s.subMu.Unlock()
	}

	if resubscribed > 0 {
		s.logger.InfoWithCount("re-registered subscriptions", resubscribed)
	}
	return resubscribed
}

// Connected reports whether the socket is currently up.
func (s *Supervisor) Connected() bool {
	return State(s.state.Load()) == StateConnected
}

// CurrentState returns the supervisor's lifecycle state.
func (s *Supervisor) CurrentState() State {
	return State(s.state.Load())
}

// ActiveSubscriptions returns the number of live registrations.
func (s *Supervisor) ActiveSubscriptions() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

// Close tears the supervisor down: the socket is closed with a close frame,
// pending requests fail and new subscribe calls are rejected. Idempotent.
func (s *Supervisor) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopped)

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}

	s.wg.Wait()
	s.setState(StateDisconnected)
	s.logger.Info("websocket supervisor closed")
	return nil
}

func (s *Supervisor) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Supervisor) emit(event domain.ConnectionEvent) {
	if s.onEvent != nil {
		s.onEvent(event)
	}
}
