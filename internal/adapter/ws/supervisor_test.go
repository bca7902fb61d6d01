package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidemill/solgate/internal/adapter/balancer"
	"github.com/tidemill/solgate/internal/adapter/stats"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/logger"
)

func createTestLogger() logger.StyledLogger {
	loggerCfg := &logger.Config{Level: "error", Theme: "default"}
	log, _, _ := logger.New(loggerCfg)
	return logger.NewPlainStyledLogger(log)
}

type fakeSubscribe struct {
	method string
	filter string
	id     int64
}

type serverConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (sc *serverConn) write(payload string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_ = sc.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// pubsubServer fakes the Solana pubsub endpoint: it answers getVersion,
// assigns incrementing subscription ids and records every subscribe and
// unsubscribe it sees across all connections.
type pubsubServer struct {
	server *httptest.Server

	mu      sync.Mutex
	current *serverConn
	seq     int64
	subs    []fakeSubscribe
	unsubs  []int64
}

func newPubsubServer(t *testing.T) *pubsubServer {
	t.Helper()
	ps := &pubsubServer{}
	upgrader := websocket.Upgrader{}

	ps.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn}
		ps.mu.Lock()
		ps.current = sc
		ps.mu.Unlock()

		for {
			var req struct {
				ID     uint64            `json:"id"`
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			switch {
			case req.Method == "getVersion":
				sc.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"solana-core":"2.0.3"}}`, req.ID))
			case strings.HasSuffix(req.Method, "Subscribe"):
				ps.mu.Lock()
				ps.seq++
				id := ps.seq
				filter := ""
				if len(req.Params) > 0 {
					filter = strings.Trim(string(req.Params[0]), `"`)
				}
				ps.subs = append(ps.subs, fakeSubscribe{method: req.Method, filter: filter, id: id})
				ps.mu.Unlock()
				sc.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%d}`, req.ID, id))
			case strings.HasSuffix(req.Method, "Unsubscribe"):
				var subID int64
				if len(req.Params) > 0 {
					_ = json.Unmarshal(req.Params[0], &subID)
				}
				ps.mu.Lock()
				ps.unsubs = append(ps.unsubs, subID)
				ps.mu.Unlock()
				sc.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":true}`, req.ID))
			}
		}
	}))
	t.Cleanup(ps.server.Close)
	return ps
}

func (ps *pubsubServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.server.URL, "http")
}

func (ps *pubsubServer) notify(subID int64, result string) {
	ps.mu.Lock()
	sc := ps.current
	ps.mu.Unlock()
	if sc == nil {
		return
	}
	sc.write(fmt.Sprintf(`{"jsonrpc":"2.0","method":"accountNotification","params":{"subscription":%d,"result":%s}}`, subID, result))
}

func (ps *pubsubServer) lastSubID() int64 {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.subs) == 0 {
		return 0
	}
	return ps.subs[len(ps.subs)-1].id
}

func (ps *pubsubServer) subscribeFilters() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]string, len(ps.subs))
	for i, s := range ps.subs {
		out[i] = s.filter
	}
	return out
}

func (ps *pubsubServer) subscribeCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.subs)
}

func (ps *pubsubServer) unsubscribeCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.unsubs)
}

func (ps *pubsubServer) dropConnection() {
	ps.mu.Lock()
	sc := ps.current
	ps.mu.Unlock()
	if sc != nil {
		_ = sc.conn.Close()
	}
}

type wsRepo struct {
	endpoints []*domain.Endpoint
}

func (r *wsRepo) GetAll(ctx context.Context) ([]*domain.Endpoint, error) { return r.endpoints, nil }
func (r *wsRepo) GetByPool(ctx context.Context, pt domain.PoolType) ([]*domain.Endpoint, error) {
	out := make([]*domain.Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		if e.ServesPool(pt) {
			out = append(out, e)
		}
	}
	return out, nil
}
func (r *wsRepo) GetHealthy(ctx context.Context, pt domain.PoolType) ([]*domain.Endpoint, error) {
	return r.GetByPool(ctx, pt)
}
func (r *wsRepo) Get(ctx context.Context, url string) (*domain.Endpoint, error) {
	for _, e := range r.endpoints {
		if e.URL == url {
			return e, nil
		}
	}
	return nil, fmt.Errorf("endpoint not found: %s", url)
}
func (r *wsRepo) UpsertFromConfig(ctx context.Context, configs []domain.EndpointConfig) error {
	return nil
}

type testHarness struct {
	supervisor *Supervisor
	collector  *stats.Collector
	repo       *wsRepo

	eventMu sync.Mutex
	events  []domain.ConnectionEvent
}

func newTestSupervisor(t *testing.T, url string) *testHarness {
	t.Helper()
	log := createTestLogger()

	repo := &wsRepo{}
	if url != "" {
		endpoint, err := domain.NewEndpoint(domain.EndpointConfig{
			URL:       url,
			Priority:  1,
			PoolTypes: []domain.PoolType{domain.PoolWebSocket},
		}, domain.RateLimitConfig{})
		if err != nil {
			t.Fatalf("Failed to build websocket endpoint: %v", err)
		}
		repo.endpoints = append(repo.endpoints, endpoint)
	}

	collector := stats.NewCollector(log)
	policy := ReconnectPolicy{
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Jitter:      0,
		MaxAttempts: 3,
	}
	h := &testHarness{
		supervisor: NewSupervisorWithPolicy(repo, balancer.NewScoredSelector(log), collector, log, policy),
		collector:  collector,
		repo:       repo,
	}
	h.supervisor.OnConnectionEvent(func(event domain.ConnectionEvent) {
		h.eventMu.Lock()
		h.events = append(h.events, event)
		h.eventMu.Unlock()
	})
	t.Cleanup(func() { _ = h.supervisor.Close() })
	return h
}

func (h *testHarness) eventKinds() []domain.ConnectionEventKind {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()
	out := make([]domain.ConnectionEventKind, len(h.events))
	for i, e := range h.events {
		out[i] = e.Kind
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func accountRequest(pubkey string) domain.SubscriptionRequest {
	return domain.SubscriptionRequest{
		Kind:       domain.SubscribeAccount,
		Filter:     pubkey,
		Commitment: domain.CommitmentConfirmed,
	}
}

func TestSupervisor_SubscribeAndDispatch(t *testing.T) {
	server := newPubsubServer(t)
	h := newTestSupervisor(t, server.wsURL())

	if err := h.supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	waitFor(t, 2*time.Second, "connection", h.supervisor.Connected)

	var (
		mu       sync.Mutex
		received []string
	)
	handle, err := h.supervisor.Subscribe(context.Background(), accountRequest("pubkey-1"), func(data json.RawMessage) {
		mu.Lock()
		received = append(received, string(data))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Expected subscribe to succeed, got %v", err)
	}
	if handle == 0 {
		t.Fatal("Expected a non-zero handle")
	}
	if got := h.supervisor.ActiveSubscriptions(); got != 1 {
		t.Errorf("Expected 1 active subscription, got %d", got)
	}

	server.notify(server.lastSubID(), `{"lamports":100}`)
	server.notify(server.lastSubID(), `{"lamports":200}`)

	waitFor(t, 2*time.Second, "notifications", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	// Upstream order must be preserved within the subscription.
	if !strings.Contains(received[0], "100") || !strings.Contains(received[1], "200") {
		t.Errorf("Expected notifications in upstream order, got %v", received)
	}
	if got := h.collector.GetSummary().WsNotifications; got != 2 {
		t.Errorf("Expected 2 recorded notifications, got %d", got)
	}
}

func TestSupervisor_ReconnectKeepsHandlesValid(t *testing.T) {
	server := newPubsubServer(t)
	h := newTestSupervisor(t, server.wsURL())

	if err := h.supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	waitFor(t, 2*time.Second, "connection", h.supervisor.Connected)

	var notified sync.Map
	handle, err := h.supervisor.Subscribe(context.Background(), accountRequest("pubkey-1"), func(data json.RawMessage) {
		notified.Store(string(data), true)
	})
	if err != nil {
		t.Fatalf("Expected subscribe to succeed, got %v", err)
	}
	firstUpstream := server.lastSubID()

	server.dropConnection()

	// The supervisor must reconnect and re-register on its own.
	waitFor(t, 3*time.Second, "re-subscribe", func() bool {
		return server.subscribeCount() == 2 && h.supervisor.Connected()
	})

	secondUpstream := server.lastSubID()
	if secondUpstream == firstUpstream {
		t.Fatalf("Expected a fresh upstream id after reconnect, got %d twice", firstUpstream)
	}

	server.notify(secondUpstream, `{"lamports":300}`)
	waitFor(t, 2*time.Second, "post-reconnect notification", func() bool {
		_, ok := notified.Load(`{"lamports":300}`)
		return ok
	})

	// The caller-held handle survived the remap.
	if got := h.supervisor.ActiveSubscriptions(); got != 1 {
		t.Errorf("Expected the subscription to survive reconnect, got %d", got)
	}
	if err := h.supervisor.Unsubscribe(context.Background(), handle); err != nil {
		t.Errorf("Expected handle still valid after reconnect, got %v", err)
	}

	kinds := h.eventKinds()
	var sawDown, sawRetry, sawUp bool
	for _, k := range kinds {
		switch k {
		case domain.ConnectionDown:
			sawDown = true
		case domain.ConnectionRetrying:
			sawRetry = true
		case domain.ConnectionUp:
			sawUp = true
		}
	}
	if !sawDown || !sawRetry || !sawUp {
		t.Errorf("Expected down/retrying/up events, got %v", kinds)
	}
	if got := h.collector.GetSummary().WsReconnects; got < 1 {
		t.Errorf("Expected at least 1 recorded reconnect, got %d", got)
	}
}

func TestSupervisor_ResubscribesInInsertionOrder(t *testing.T) {
	server := newPubsubServer(t)
	h := newTestSupervisor(t, server.wsURL())

	if err := h.supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	waitFor(t, 2*time.Second, "connection", h.supervisor.Connected)

	discard := func(json.RawMessage) {}
	for _, pubkey := range []string{"alpha", "bravo", "charlie"} {
		if _, err := h.supervisor.Subscribe(context.Background(), accountRequest(pubkey), discard); err != nil {
			t.Fatalf("Expected subscribe %s to succeed, got %v", pubkey, err)
		}
	}

	server.dropConnection()
	waitFor(t, 3*time.Second, "re-subscribe of all three", func() bool {
		return server.subscribeCount() == 6
	})

	filters := server.subscribeFilters()
	resubscribed := filters[3:]
	want := []string{"alpha", "bravo", "charlie"}
	for i, filter := range resubscribed {
		if filter != want[i] {
			t.Fatalf("Expected re-subscribe order %v, got %v", want, resubscribed)
		}
	}
}

func TestSupervisor_UnsubscribeStopsDispatch(t *testing.T) {
	server := newPubsubServer(t)
	h := newTestSupervisor(t, server.wsURL())

	if err := h.supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	waitFor(t, 2*time.Second, "connection", h.supervisor.Connected)

	var (
		mu    sync.Mutex
		count int
	)
	handle, err := h.supervisor.Subscribe(context.Background(), accountRequest("pubkey-1"), func(json.RawMessage) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Expected subscribe to succeed, got %v", err)
	}
	upstream := server.lastSubID()

	if err := h.supervisor.Unsubscribe(context.Background(), handle); err != nil {
		t.Fatalf("Expected unsubscribe to succeed, got %v", err)
	}
	waitFor(t, 2*time.Second, "upstream unsubscribe", func() bool {
		return server.unsubscribeCount() == 1
	})
	if got := h.supervisor.ActiveSubscriptions(); got != 0 {
		t.Errorf("Expected 0 active subscriptions, got %d", got)
	}

	// Late frames for the dead subscription must not reach the handler.
	server.notify(upstream, `{"lamports":999}`)
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	if count != 0 {
		t.Errorf("Expected no dispatch after unsubscribe, got %d", count)
	}
	mu.Unlock()

	if err := h.supervisor.Unsubscribe(context.Background(), handle); err == nil {
		t.Error("Expected unknown handle error on double unsubscribe")
	}
}

func TestSupervisor_FailsAfterReconnectBudget(t *testing.T) {
	server := newPubsubServer(t)
	h := newTestSupervisor(t, server.wsURL())

	if err := h.supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	waitFor(t, 2*time.Second, "connection", h.supervisor.Connected)

	// Take the upstream away for good.
	server.server.Close()

	waitFor(t, 5*time.Second, "terminal failed state", func() bool {
		return h.supervisor.CurrentState() == StateFailed
	})

	kinds := h.eventKinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != domain.ConnectionGaveUp {
		t.Errorf("Expected gave_up as the final event, got %v", kinds)
	}

	_, err := h.supervisor.Subscribe(context.Background(), accountRequest("pubkey-1"), func(json.RawMessage) {})
	if !errors.Is(err, domain.ErrWsDisconnected) {
		t.Errorf("Expected ErrWsDisconnected after terminal failure, got %v", err)
	}
}

func TestSupervisor_StartRequiresWebsocketEndpoints(t *testing.T) {
	h := newTestSupervisor(t, "")
	err := h.supervisor.Start(context.Background())
	if !errors.Is(err, domain.ErrNoEndpointAvailable) {
		t.Fatalf("Expected ErrNoEndpointAvailable, got %v", err)
	}
}

func TestSupervisor_SubscribeValidation(t *testing.T) {
	server := newPubsubServer(t)
	h := newTestSupervisor(t, server.wsURL())

	if err := h.supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	waitFor(t, 2*time.Second, "connection", h.supervisor.Connected)

	if _, err := h.supervisor.Subscribe(context.Background(), domain.SubscriptionRequest{Kind: "bogus"}, func(json.RawMessage) {}); err == nil {
		t.Error("Expected unknown kind to be rejected")
	}
	if _, err := h.supervisor.Subscribe(context.Background(), accountRequest("pubkey-1"), nil); err == nil {
		t.Error("Expected nil handler to be rejected")
	}

	_ = h.supervisor.Close()
	if _, err := h.supervisor.Subscribe(context.Background(), accountRequest("pubkey-1"), func(json.RawMessage) {}); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
}
