package sidecar

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

func createTestLogger() logger.StyledLogger {
	loggerCfg := &logger.Config{Level: "error", Theme: "default"}
	log, _, _ := logger.New(loggerCfg)
	return logger.NewPlainStyledLogger(log)
}

// stubSolana answers the service port with canned values so tests can
// exercise the wire layer in isolation.
type stubSolana struct {
	mu           sync.Mutex
	accountDelay time.Duration
	balanceErr   error
	sendOpts     ports.SendOptions
	sendTx       string
}

func (s *stubSolana) Ping(ctx context.Context) error { return nil }

func (s *stubSolana) HealthStatus(ctx context.Context) (domain.HealthReport, error) {
	return domain.HealthReport{Healthy: true, WsConnected: true}, nil
}

func (s *stubSolana) GetAccountInfo(ctx context.Context, pubkey string, commitment domain.Commitment) (json.RawMessage, error) {
	s.mu.Lock()
	delay := s.accountDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return json.RawMessage(`{"lamports":88}`), nil
}

func (s *stubSolana) GetMultipleAccounts(ctx context.Context, pubkeys []string, commitment domain.Commitment) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"count":%d}`, len(pubkeys))), nil
}

func (s *stubSolana) GetTransaction(ctx context.Context, signature string) (json.RawMessage, error) {
	return json.RawMessage(`{"slot":99}`), nil
}

func (s *stubSolana) GetLatestBlockhash(ctx context.Context, commitment domain.Commitment) (domain.LatestBlockhash, error) {
	return domain.LatestBlockhash{Blockhash: "9sHcvWb4mYuxMNFFcNGDnAiiUZB3HkA6UFPxZM5ysSTt", LastValidBlockHeight: 3330011}, nil
}

func (s *stubSolana) GetBalance(ctx context.Context, pubkey string, commitment domain.Commitment) (uint64, error) {
	s.mu.Lock()
	err := s.balanceErr
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return 5000000000, nil
}

func (s *stubSolana) GetTokenAccountBalance(ctx context.Context, pubkey string) (json.RawMessage, error) {
	return json.RawMessage(`{"value":{"amount":"1000"}}`), nil
}

func (s *stubSolana) GetTokenAccountsByOwner(ctx context.Context, owner, mint string) (json.RawMessage, error) {
	return json.RawMessage(`{"value":[]}`), nil
}

func (s *stubSolana) GetSlot(ctx context.Context, commitment domain.Commitment) (uint64, error) {
	return 412, nil
}

func (s *stubSolana) SendRawTransaction(ctx context.Context, txBase64 string, opts ports.SendOptions) (string, error) {
	s.mu.Lock()
	s.sendTx = txBase64
	s.sendOpts = opts
	s.mu.Unlock()
	return "5oSigAbcDefGhiJkLmNoPqRsTuVwXyZ1234567890abcdEfGhIjKlMnOpQrStUvWxYz", nil
}

func (s *stubSolana) ConfirmTransaction(ctx context.Context, signature string, commitment domain.Commitment) (bool, error) {
	return true, nil
}

func startIPCServer(t *testing.T, service ports.SolanaService, rps, burst int) (*Server, string) {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "s.sock")
	srv := NewServerWithPolicy(service, socket, createTestLogger(), nil, rps, burst, 2*time.Second)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start sidecar server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv, socket
}

// ipcConn is a bare-wire worker for driving the socket directly.
type ipcConn struct {
	t       *testing.T
	conn    net.Conn
	scanner *bufio.Scanner
}

func dialIPC(t *testing.T, socket string) *ipcConn {
	t.Helper()
	conn, err := net.Dial("unix", socket)
	if err != nil {
		t.Fatalf("Failed to dial sidecar socket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 8<<20)
	return &ipcConn{t: t, conn: conn, scanner: scanner}
}

func (c *ipcConn) send(frame string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(frame + "\n")); err != nil {
		c.t.Fatalf("Failed to write frame: %v", err)
	}
}

func (c *ipcConn) read() Response {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if !c.scanner.Scan() {
		c.t.Fatalf("Expected a response frame, read failed: %v", c.scanner.Err())
	}
	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		c.t.Fatalf("Failed to decode response %q: %v", c.scanner.Text(), err)
	}
	return resp
}

func TestRequestResponseRoundTrip(t *testing.T) {
	_, socket := startIPCServer(t, &stubSolana{}, 0, 0)
	conn := dialIPC(t, socket)

	conn.send(`{"id":7,"method":"getSlot"}`)
	resp := conn.read()

	if resp.ID != 7 {
		t.Errorf("Expected response id 7, got %d", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("Expected success, got error: %v", resp.Error)
	}
	if string(resp.Result) != "412" {
		t.Errorf("Expected slot 412, got %s", resp.Result)
	}
}

func TestResponsesArriveOutOfOrder(t *testing.T) {
	service := &stubSolana{accountDelay: 150 * time.Millisecond}
	_, socket := startIPCServer(t, service, 0, 0)
	conn := dialIPC(t, socket)

	conn.send(`{"id":1,"method":"getAccountInfo","params":{"pubkey":"SomePubkey11111111111111111111111111111111"}}`)
	conn.send(`{"id":2,"method":"getSlot"}`)

	first := conn.read()
	second := conn.read()

	if first.ID != 2 {
		t.Errorf("Expected the fast request to answer first, got id %d", first.ID)
	}
	if second.ID != 1 {
		t.Errorf("Expected the slow request to answer second, got id %d", second.ID)
	}
	if string(second.Result) != `{"lamports":88}` {
		t.Errorf("Expected account payload, got %s", second.Result)
	}
}

func TestUnknownMethodRejected(t *testing.T) {
	_, socket := startIPCServer(t, &stubSolana{}, 0, 0)
	conn := dialIPC(t, socket)

	conn.send(`{"id":3,"method":"getEpochInfo"}`)
	resp := conn.read()

	if resp.Error == nil {
		t.Fatalf("Expected an error response, got result %s", resp.Result)
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("Expected code %d, got %d", CodeMethodNotFound, resp.Error.Code)
	}
	if !strings.Contains(resp.Error.Message, "getEpochInfo") {
		t.Errorf("Expected the method name in %q", resp.Error.Message)
	}
}

func TestMalformedFrameDoesNotKillConnection(t *testing.T) {
	_, socket := startIPCServer(t, &stubSolana{}, 0, 0)
	conn := dialIPC(t, socket)

	conn.send(`{"id":9,"method":"getSlot"`)
	resp := conn.read()
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("Expected parse error, got %+v", resp)
	}
	if resp.ID != 9 {
		t.Errorf("Expected best-effort id 9 on parse error, got %d", resp.ID)
	}

	// The connection must survive a bad frame.
	conn.send(`{"id":10,"method":"getSlot"}`)
	resp = conn.read()
	if resp.Error != nil || resp.ID != 10 {
		t.Errorf("Expected the connection to keep working, got %+v", resp)
	}
}

func TestBadCommitmentRejected(t *testing.T) {
	_, socket := startIPCServer(t, &stubSolana{}, 0, 0)
	conn := dialIPC(t, socket)

	conn.send(`{"id":4,"method":"getBalance","params":{"pubkey":"SomePubkey11111111111111111111111111111111","commitment":"super"}}`)
	resp := conn.read()

	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("Expected invalid params, got %+v", resp)
	}
}

func TestUpstreamFailureMapsToUpstreamCode(t *testing.T) {
	service := &stubSolana{balanceErr: fmt.Errorf("node unhealthy")}
	_, socket := startIPCServer(t, service, 0, 0)
	conn := dialIPC(t, socket)

	conn.send(`{"id":5,"method":"getBalance","params":{"pubkey":"SomePubkey11111111111111111111111111111111"}}`)
	resp := conn.read()

	if resp.Error == nil || resp.Error.Code != CodeUpstream {
		t.Fatalf("Expected upstream error, got %+v", resp)
	}
	if !strings.Contains(resp.Error.Message, "node unhealthy") {
		t.Errorf("Expected the cause in %q", resp.Error.Message)
	}
}

func TestChattyClientThrottled(t *testing.T) {
	_, socket := startIPCServer(t, &stubSolana{}, 1, 1)
	conn := dialIPC(t, socket)

	conn.send(`{"id":1,"method":"getSlot"}`)
	conn.send(`{"id":2,"method":"getSlot"}`)

	responses := map[uint64]Response{}
	for i := 0; i < 2; i++ {
		resp := conn.read()
		responses[resp.ID] = resp
	}

	throttled := 0
	served := 0
	for _, resp := range responses {
		if resp.Error != nil && resp.Error.Code == CodeRateLimited {
			throttled++
		} else if resp.Error == nil {
			served++
		}
	}
	if served != 1 || throttled != 1 {
		t.Errorf("Expected 1 served and 1 throttled, got %d/%d: %+v", served, throttled, responses)
	}
}

func TestOversizedFrameDropsClient(t *testing.T) {
	_, socket := startIPCServer(t, &stubSolana{}, 0, 0)
	conn := dialIPC(t, socket)

	huge := bytes.Repeat([]byte("a"), 4<<20+2)
	huge = append(huge, '\n')
	// The server stops reading mid-frame, so this write may fail partway.
	_, _ = conn.conn.Write(huge)

	resp := conn.read()
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("Expected parse error for oversized frame, got %+v", resp)
	}
	if !strings.Contains(resp.Error.Message, "exceeds") {
		t.Errorf("Expected size limit message, got %q", resp.Error.Message)
	}

	// The client is disconnected afterwards.
	_ = conn.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if conn.scanner.Scan() {
		t.Errorf("Expected the connection to be closed, read %q", conn.scanner.Text())
	}
}

func TestStaleSocketFileReplaced(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "s.sock")
	if err := os.WriteFile(socket, []byte("stale"), 0o600); err != nil {
		t.Fatalf("Failed to plant stale socket: %v", err)
	}

	srv := NewServer(&stubSolana{}, socket, createTestLogger(), nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Expected start to replace the stale socket, got: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	conn := dialIPC(t, socket)
	conn.send(`{"id":1,"method":"ping"}`)
	resp := conn.read()
	if resp.Error != nil {
		t.Errorf("Expected ping to succeed, got %+v", resp.Error)
	}
}

func TestCloseRemovesSocketFile(t *testing.T) {
	srv, socket := startIPCServer(t, &stubSolana{}, 0, 0)

	if err := srv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Errorf("Expected the socket file to be removed, stat: %v", err)
	}

	// Idempotent.
	if err := srv.Close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got: %v", err)
	}
}

func TestPingAnswersLocally(t *testing.T) {
	_, socket := startIPCServer(t, &stubSolana{}, 0, 0)
	conn := dialIPC(t, socket)

	conn.send(`{"id":11,"method":"ping"}`)
	resp := conn.read()
	if resp.Error != nil {
		t.Fatalf("Expected pong, got %+v", resp.Error)
	}

	var pong pongResult
	if err := json.Unmarshal(resp.Result, &pong); err != nil {
		t.Fatalf("Failed to decode pong: %v", err)
	}
	if !pong.Pong || pong.Timestamp == 0 {
		t.Errorf("Expected a timestamped pong, got %+v", pong)
	}
}
