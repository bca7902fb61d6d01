/*
Solgate Sidecar Adapter - Subscription Client

Worker-side subscription surface. Implements the same port as the upstream
supervisor but registers channels against the local sidecar websocket, so
every worker process shares the sidecar's single upstream registration per
channel. Channels are durable: the client redials the sidecar indefinitely
and re-registers everything it holds on each reconnect.
*/
package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidemill/solgate/internal/core/constants"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/internal/util"
)

// localSub is one caller registration. Several handles can share a channel;
// the wire subscription exists while at least one remains.
type localSub struct {
	handle  domain.SubscriptionHandle
	channel string
	handler domain.NotificationHandler
}

// channelJoin lets callers who arrive while a channel is being established
// share the outcome of the in-flight subscribe. err is written before done
// is closed.
type channelJoin struct {
	done chan struct{}
	err  error
}

// SubClient subscribes to sidecar channels on behalf of a worker.
type SubClient struct {
	url    string
	logger logger.StyledLogger

	handleID  atomic.Uint64
	connected atomic.Bool
	closed    atomic.Bool

	// mu guards the handle and channel tables plus ack waiters. Never held
	// across socket I/O.
	mu           sync.Mutex
	handlers     map[domain.SubscriptionHandle]*localSub
	channels     map[string]map[domain.SubscriptionHandle]struct{}
	establishing map[string]*channelJoin
	acks         map[string][]chan error

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewSubClient builds a subscription client for the sidecar websocket at
// url, e.g. "ws://localhost:3002".
func NewSubClient(url string, styledLogger logger.StyledLogger) *SubClient {
	if url == "" {
		url = constants.DefaultSidecarWsURL
	}
	return &SubClient{
		url:          url,
		logger:       styledLogger,
		handlers:     make(map[domain.SubscriptionHandle]*localSub),
		channels:     make(map[string]map[domain.SubscriptionHandle]struct{}),
		establishing: make(map[string]*channelJoin),
		acks:         make(map[string][]chan error),
		stopped:      make(chan struct{}),
	}
}

// Start begins supervising the sidecar connection. The sidecar is local and
// expected to come back, so redials continue until Close.
func (c *SubClient) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.supervise(ctx)
	}()
	return nil
}

func (c *SubClient) supervise(ctx context.Context) {
	first := true
	attempt := 0

	for {
		if c.halted(ctx) {
			return
		}

		if !first {
			delay := util.CalculateReconnectDelay(attempt,
				constants.DefaultSidecarRedialBase, constants.DefaultSidecarRedialMax,
				constants.DefaultWsReconnectJitter)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-c.stopped:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		dialer := &websocket.Dialer{HandshakeTimeout: constants.DefaultSidecarDialTimeout}
		conn, resp, err := dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if first {
				c.logger.Warn("sidecar websocket dial failed", "url", c.url, "error", err.Error())
			} else {
				c.logger.Debug("sidecar websocket redial failed", "attempt", attempt, "error", err.Error())
			}
			first = false
			attempt++
			continue
		}

		c.installConn(conn)
		c.connected.Store(true)
		resubscribed := c.resubscribeAll()
		c.logger.InfoWithEndpoint("sidecar websocket connected", c.url, "channels", resubscribed)

		first = false
		attempt = 0

		c.pump(conn)

		c.connected.Store(false)
		c.teardownConn(conn)
		if !c.halted(ctx) {
			c.logger.Warn("sidecar websocket disconnected", "url", c.url)
		}
	}
}

func (c *SubClient) halted(ctx context.Context) bool {
	if c.closed.Load() || ctx.Err() != nil {
		return true
	}
	select {
	case <-c.stopped:
		return true
	default:
		return false
	}
}

func (c *SubClient) installConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// teardownConn clears the dead socket and fails every ack waiter.
func (c *SubClient) teardownConn(conn *websocket.Conn) {
	_ = conn.Close()

	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()

	c.mu.Lock()
	acks := c.acks
	c.acks = make(map[string][]chan error)
	c.mu.Unlock()

	for _, waiters := range acks {
		for _, ch := range waiters {
			ch <- domain.ErrWsDisconnected
		}
	}
}

// pump reads frames until the connection dies. The server pings us; gorilla
// answers with pongs during ReadMessage, so the deadline only needs to be
// pushed forward on traffic.
func (c *SubClient) pump(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(constants.DefaultWsPongWait))
	conn.SetPingHandler(func(message string) error {
		_ = conn.SetReadDeadline(time.Now().Add(constants.DefaultWsPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(constants.DefaultWsWriteTimeout))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(constants.DefaultWsPongWait))
		c.handleFrame(frame)
	}
}

// wsInbound is the superset of sidecar frames: replies carry type plus an
// optional message, events carry the channel payload.
type wsInbound struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *SubClient) handleFrame(frame []byte) {
	var msg wsInbound
	if err := jsonCodec.Unmarshal(frame, &msg); err != nil {
		c.logger.Debug("discarding unparseable sidecar frame", "error", err.Error())
		return
	}

	switch msg.Type {
	case EventTypeNotification:
		c.dispatch(msg.Channel, msg.Data)
	case ReplySubscribed, ReplyUnsubscribed:
		c.resolveAcks(msg.Channel, nil)
	case ReplyError:
		err := fmt.Errorf("sidecar rejected %s: %s", msg.Channel, msg.Message)
		if msg.Channel == "" {
			err = fmt.Errorf("sidecar error: %s", msg.Message)
		}
		if !c.resolveAcks(msg.Channel, err) {
			c.logger.Warn("sidecar websocket error", "channel", msg.Channel, "message", msg.Message)
		}
	case ReplyPong:
		// Keepalive answer; nothing to do.
	default:
		c.logger.Debug("unknown sidecar frame type", "type", msg.Type)
	}
}

// dispatch runs on the read goroutine, which preserves per-channel event
// order for every handler.
func (c *SubClient) dispatch(channel string, data json.RawMessage) {
	c.mu.Lock()
	handles := c.channels[channel]
	handlers := make([]domain.NotificationHandler, 0, len(handles))
	for handle := range handles {
		if sub, ok := c.handlers[handle]; ok {
			handlers = append(handlers, sub.handler)
		}
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(data)
	}
}

func (c *SubClient) resolveAcks(channel string, err error) bool {
	c.mu.Lock()
	waiters := c.acks[channel]
	delete(c.acks, channel)
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
	return len(waiters) > 0
}

// Subscribe registers a handler for the channel derived from req. The first
// handler on a channel subscribes it on the wire; later ones share it.
// Commitment is not part of channel addressing; the sidecar applies its
// configured default upstream.
func (c *SubClient) Subscribe(ctx context.Context, req domain.SubscriptionRequest, handler domain.NotificationHandler) (domain.SubscriptionHandle, error) {
	if c.closed.Load() {
		return 0, domain.ErrClosed
	}
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if handler == nil {
		return 0, fmt.Errorf("subscription requires a handler")
	}

	channel, err := channelForRequest(req)
	if err != nil {
		return 0, err
	}

	handle := domain.SubscriptionHandle(c.handleID.Add(1))
	sub := &localSub{handle: handle, channel: channel, handler: handler}

	c.mu.Lock()
	members, active := c.channels[channel]
	if !active {
		members = make(map[domain.SubscriptionHandle]struct{})
		c.channels[channel] = members
	}
	members[handle] = struct{}{}
	c.handlers[handle] = sub

	if join := c.establishing[channel]; join != nil {
		// Another caller is bringing this channel up; share its outcome.
		c.mu.Unlock()
		select {
		case <-join.done:
		case <-ctx.Done():
			c.dropHandle(handle, channel)
			return 0, ctx.Err()
		}
		if join.err != nil {
			c.dropHandle(handle, channel)
			return 0, join.err
		}
		return handle, nil
	}
	if active {
		// Channel already live; the new handler rides the existing wire
		// subscription.
		c.mu.Unlock()
		return handle, nil
	}
	join := &channelJoin{done: make(chan struct{})}
	c.establishing[channel] = join
	c.mu.Unlock()

	err = c.subscribeChannel(ctx, channel)

	join.err = err
	c.mu.Lock()
	delete(c.establishing, channel)
	if err != nil {
		// The channel never came up; evict it so the next subscriber
		// retries from scratch. Joiners clean their own handles up when
		// they observe the error.
		delete(c.handlers, handle)
		delete(c.channels, channel)
	}
	c.mu.Unlock()
	close(join.done)

	if err != nil {
		return 0, err
	}
	c.logger.Debug("subscribed", "handle", uint64(handle), "channel", channel)
	return handle, nil
}

// dropHandle removes one caller registration after a failed or cancelled
// join.
func (c *SubClient) dropHandle(handle domain.SubscriptionHandle, channel string) {
	c.mu.Lock()
	delete(c.handlers, handle)
	if members, ok := c.channels[channel]; ok {
		delete(members, handle)
		if len(members) == 0 {
			delete(c.channels, channel)
		}
	}
	c.mu.Unlock()
}

// subscribeChannel sends the subscribe command and waits for the sidecar's
// ack.
func (c *SubClient) subscribeChannel(ctx context.Context, channel string) error {
	ack := make(chan error, 1)
	c.mu.Lock()
	c.acks[channel] = append(c.acks[channel], ack)
	c.mu.Unlock()

	if err := c.writeCommand(WsCommand{Action: ActionSubscribe, Channel: channel}); err != nil {
		c.discardAck(channel, ack)
		return err
	}

	timer := time.NewTimer(constants.DefaultWsSubscribeTimeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		c.discardAck(channel, ack)
		return ctx.Err()
	case <-timer.C:
		c.discardAck(channel, ack)
		return domain.NewTimeoutError("subscribe "+channel, c.url, constants.DefaultWsSubscribeTimeout)
	}
}

func (c *SubClient) discardAck(channel string, ack chan error) {
	c.mu.Lock()
	waiters := c.acks[channel]
	for i, ch := range waiters {
		if ch == ack {
			c.acks[channel] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(c.acks[channel]) == 0 {
		delete(c.acks, channel)
	}
	c.mu.Unlock()
}

// Unsubscribe drops the handle. The wire unsubscribe goes out only when the
// last handle on the channel is gone, and is best effort.
func (c *SubClient) Unsubscribe(ctx context.Context, handle domain.SubscriptionHandle) error {
	c.mu.Lock()
	sub, ok := c.handlers[handle]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown subscription handle %d", handle)
	}
	delete(c.handlers, handle)
	channel := sub.channel
	last := false
	if members, exists := c.channels[channel]; exists {
		delete(members, handle)
		if len(members) == 0 {
			delete(c.channels, channel)
			last = true
		}
	}
	c.mu.Unlock()

	if !last {
		return nil
	}
	if err := c.writeCommand(WsCommand{Action: ActionUnsubscribe, Channel: channel}); err != nil {
		c.logger.Debug("sidecar unsubscribe failed", "channel", channel, "error", err.Error())
	}
	return nil
}

// resubscribeAll re-sends subscribe commands for every live channel after a
// reconnect. Acks arrive with no waiters and are absorbed by resolveAcks.
func (c *SubClient) resubscribeAll() int {
	c.mu.Lock()
	channels := make([]string, 0, len(c.channels))
	for channel := range c.channels {
		channels = append(channels, channel)
	}
	c.mu.Unlock()

	sent := 0
	for _, channel := range channels {
		if err := c.writeCommand(WsCommand{Action: ActionSubscribe, Channel: channel}); err != nil {
			c.logger.Warn("channel re-subscribe failed", "channel", channel, "error", err.Error())
			continue
		}
		sent++
	}
	if sent > 0 {
		c.logger.InfoWithCount("re-registered sidecar channels", sent)
	}
	return sent
}

func (c *SubClient) writeCommand(cmd WsCommand) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return domain.ErrWsDisconnected
	}

	payload, err := jsonCodec.Marshal(cmd)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(constants.DefaultWsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWsDisconnected, err)
	}
	return nil
}

// channelForRequest maps a subscription request to its sidecar channel
// name. Empty logs filters address the catch-all channel.
func channelForRequest(req domain.SubscriptionRequest) (string, error) {
	var kind string
	switch req.Kind {
	case domain.SubscribeAccount:
		kind = ChannelAccount
	case domain.SubscribeLogs:
		kind = ChannelLogs
	case domain.SubscribeProgram:
		kind = ChannelProgram
	default:
		return "", fmt.Errorf("unsupported subscription kind %q", req.Kind)
	}
	arg := req.Filter
	if req.Kind == domain.SubscribeLogs && arg == "" {
		arg = "all"
	}
	return kind + ":" + arg, nil
}

// Connected reports whether the sidecar websocket is currently up.
func (c *SubClient) Connected() bool {
	return c.connected.Load()
}

// ActiveSubscriptions returns the number of live handles.
func (c *SubClient) ActiveSubscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Close drops the connection and stops the supervisor loop. Idempotent.
func (c *SubClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stopped)

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}

	c.wg.Wait()
	c.logger.Info("sidecar subscription client closed")
	return nil
}

var _ ports.SubscriptionService = (*SubClient)(nil)
