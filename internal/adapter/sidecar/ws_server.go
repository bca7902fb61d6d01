/*
Solgate Sidecar Adapter - Local Websocket Multiplexer

Serves the push half of the sidecar protocol: local workers connect over
websocket, subscribe to named channels and receive fanned-out events. All
upstream traffic rides the shared supervisor and bus connections; a
thousand local subscribers still cost one upstream registration each.
*/
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tidemill/solgate/internal/core/constants"
	"github.com/tidemill/solgate/internal/logger"
)

const (
	// Outbound buffer per client; fanout drops frames once it is full.
	wsSendBuffer = 256

	// Commands are tiny; anything larger is a misbehaving client.
	wsMaxCommandBytes = 1024

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// wsClient is one connected local worker. channels is guarded by the mux
// lock, send is closed exactly once by unregister.
type wsClient struct {
	id       uint64
	conn     *websocket.Conn
	send     chan []byte
	channels map[string]struct{}
}

// WsServer accepts local websocket clients and routes their channel
// commands through the multiplexer.
type WsServer struct {
	mux     *Mux
	logger  logger.StyledLogger
	metrics *Metrics

	addr        string
	clientRPS   int
	clientBurst int

	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	nextID atomic.Uint64
	closed atomic.Bool

	clientMu sync.Mutex
	clients  map[*wsClient]struct{}

	wg sync.WaitGroup
}

func NewWsServer(mux *Mux, styledLogger logger.StyledLogger, metrics *Metrics, addr string, clientRPS, clientBurst int) *WsServer {
	if addr == "" {
		addr = constants.DefaultSidecarWsAddr
	}
	if clientRPS <= 0 {
		clientRPS = constants.DefaultSidecarClientRPS
	}
	if clientBurst <= 0 {
		clientBurst = constants.DefaultSidecarClientBurst
	}
	return &WsServer{
		mux:         mux,
		logger:      styledLogger,
		metrics:     metrics,
		addr:        addr,
		clientRPS:   clientRPS,
		clientBurst: clientBurst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The listener faces local worker processes only.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Start binds the listener and begins accepting clients. Bind failures are
// surfaced synchronously.
func (s *WsServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind sidecar websocket on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           http.HandlerFunc(s.handleWs),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("sidecar websocket server failed", "error", err.Error())
		}
	}()

	s.logger.InfoWithEndpoint("sidecar websocket listening", "ws://"+listener.Addr().String())
	return nil
}

// Addr reports the bound listen address once Start has succeeded.
func (s *WsServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Close stops accepting, disconnects every client and waits for their
// pumps to drain.
func (s *WsServer) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if s.server != nil {
		err = s.server.Close()
	}

	s.clientMu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.clientMu.Unlock()

	for _, client := range clients {
		client.conn.Close()
	}

	s.wg.Wait()
	s.logger.Info("sidecar websocket stopped")
	return err
}

// ClientCount reports currently connected clients.
func (s *WsServer) ClientCount() int {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	return len(s.clients)
}

func (s *WsServer) handleWs(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err.Error())
		return
	}

	client := &wsClient{
		id:       s.nextID.Add(1),
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		channels: make(map[string]struct{}),
	}
	if !s.register(client) {
		conn.Close()
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writePump(client)
	}()
	go func() {
		defer s.wg.Done()
		s.readPump(client)
	}()
}

func (s *WsServer) register(client *wsClient) bool {
	s.clientMu.Lock()
	if s.closed.Load() {
		s.clientMu.Unlock()
		return false
	}
	s.clients[client] = struct{}{}
	s.clientMu.Unlock()

	if s.metrics != nil {
		s.metrics.WsClients.Inc()
	}
	s.logger.Debug("websocket client connected", "client", client.id)
	return true
}

// unregister is called once, from the read pump's exit path. Dropping the
// client from the mux before closing send keeps fanout from writing to a
// closed buffer.
func (s *WsServer) unregister(client *wsClient) {
	s.clientMu.Lock()
	_, tracked := s.clients[client]
	delete(s.clients, client)
	s.clientMu.Unlock()

	if tracked && s.metrics != nil {
		s.metrics.WsClients.Dec()
	}

	s.mux.DropClient(client)
	close(client.send)
	s.logger.Debug("websocket client disconnected", "client", client.id)
}

func (s *WsServer) readPump(client *wsClient) {
	defer func() {
		s.unregister(client)
		client.conn.Close()
	}()

	limiter := rate.NewLimiter(rate.Limit(s.clientRPS), s.clientBurst)

	client.conn.SetReadLimit(wsMaxCommandBytes)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "client", client.id, "error", err.Error())
			}
			return
		}

		if !limiter.Allow() {
			if s.metrics != nil {
				s.metrics.Throttled.Inc()
			}
			s.sendReply(client, WsReply{Type: ReplyError, Message: "rate limit exceeded"})
			continue
		}

		s.handleCommand(client, message)
	}
}

func (s *WsServer) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WsServer) handleCommand(client *wsClient, message []byte) {
	var cmd WsCommand
	if err := jsonCodec.Unmarshal(message, &cmd); err != nil {
		s.sendReply(client, WsReply{Type: ReplyError, Message: "malformed command"})
		return
	}

	switch cmd.Action {
	case ActionSubscribe:
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultWsSubscribeTimeout)
		err := s.mux.Subscribe(ctx, client, cmd.Channel)
		cancel()
		if err != nil {
			s.sendReply(client, WsReply{Type: ReplyError, Channel: cmd.Channel, Message: err.Error()})
			return
		}
		s.sendReply(client, WsReply{Type: ReplySubscribed, Channel: cmd.Channel})
	case ActionUnsubscribe:
		if err := s.mux.Unsubscribe(client, cmd.Channel); err != nil {
			s.sendReply(client, WsReply{Type: ReplyError, Channel: cmd.Channel, Message: err.Error()})
			return
		}
		s.sendReply(client, WsReply{Type: ReplyUnsubscribed, Channel: cmd.Channel})
	case ActionPing:
		s.sendReply(client, WsReply{Type: ReplyPong})
	default:
		s.sendReply(client, WsReply{Type: ReplyError, Message: fmt.Sprintf("unknown action %q", cmd.Action)})
	}
}

func (s *WsServer) sendReply(client *wsClient, reply WsReply) {
	frame, err := jsonCodec.Marshal(reply)
	if err != nil {
		s.logger.Error("failed to serialise reply", "error", err.Error())
		return
	}
	select {
	case client.send <- frame:
	default:
		s.logger.Debug("dropping reply for slow client", "client", client.id)
	}
}
