package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

// Mux multiplexes channel subscriptions: however many local clients watch a
// channel, there is exactly one upstream registration behind it. The
// upstream is established when the first client arrives and torn down when
// the last one leaves.
type Mux struct {
	subs       ports.SubscriptionService
	stream     ports.EventStream
	logger     logger.StyledLogger
	metrics    *Metrics
	commitment domain.Commitment

	mu       sync.Mutex
	channels map[string]*channelState
}

type channelState struct {
	channel  Channel
	clients  map[*wsClient]struct{}
	teardown func()
}

// NewMux wires the multiplexer. subs may be nil when no upstream websocket
// is configured and stream may be nil when the bus is disabled; channels of
// the missing family then fail to subscribe.
func NewMux(subs ports.SubscriptionService, stream ports.EventStream, styledLogger logger.StyledLogger, metrics *Metrics, commitment domain.Commitment) *Mux {
	if commitment == "" {
		commitment = domain.DefaultCommitment
	}
	return &Mux{
		subs:       subs,
		stream:     stream,
		logger:     styledLogger,
		metrics:    metrics,
		commitment: commitment,
		channels:   make(map[string]*channelState),
	}
}

// Subscribe joins client to a channel, establishing the upstream if this is
// the first subscriber. Upstream I/O happens outside the mux lock.
func (m *Mux) Subscribe(ctx context.Context, client *wsClient, name string) error {
	channel, err := ParseChannel(name)
	if err != nil {
		return err
	}
	key := channel.String()

	m.mu.Lock()
	if state, exists := m.channels[key]; exists {
		state.clients[client] = struct{}{}
		client.channels[key] = struct{}{}
		m.mu.Unlock()
		return nil
	}
	state := &channelState{
		channel: channel,
		clients: map[*wsClient]struct{}{client: {}},
	}
	m.channels[key] = state
	client.channels[key] = struct{}{}
	m.updateChannelGauge()
	m.mu.Unlock()

	teardown, err := m.establish(ctx, channel)

	m.mu.Lock()
	if err != nil {
		// Roll the placeholder back; racing subscribers joined a channel
		// that never came up.
		delete(m.channels, key)
		for c := range state.clients {
			delete(c.channels, key)
		}
		m.updateChannelGauge()
		m.mu.Unlock()
		return err
	}
	if len(state.clients) == 0 {
		// Everyone left while the upstream was being established.
		delete(m.channels, key)
		m.updateChannelGauge()
		m.mu.Unlock()
		teardown()
		return fmt.Errorf("subscription to %s cancelled", key)
	}
	state.teardown = teardown
	m.mu.Unlock()

	m.logger.Debug("channel established", "channel", key)
	return nil
}

// Unsubscribe removes client from a channel and tears the upstream down if
// the channel is now empty.
func (m *Mux) Unsubscribe(client *wsClient, name string) error {
	channel, err := ParseChannel(name)
	if err != nil {
		return err
	}
	key := channel.String()

	m.mu.Lock()
	state, exists := m.channels[key]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("not subscribed to %s", key)
	}
	if _, subscribed := state.clients[client]; !subscribed {
		m.mu.Unlock()
		return fmt.Errorf("not subscribed to %s", key)
	}
	delete(state.clients, client)
	delete(client.channels, key)
	teardown := m.reapLocked(key, state)
	m.mu.Unlock()

	if teardown != nil {
		teardown()
		m.logger.Debug("channel torn down", "channel", key)
	}
	return nil
}

// DropClient detaches a disconnected client from every channel it joined.
func (m *Mux) DropClient(client *wsClient) {
	m.mu.Lock()
	var teardowns []func()
	for key := range client.channels {
		state, exists := m.channels[key]
		if !exists {
			continue
		}
		delete(state.clients, client)
		if teardown := m.reapLocked(key, state); teardown != nil {
			teardowns = append(teardowns, teardown)
		}
	}
	client.channels = make(map[string]struct{})
	m.mu.Unlock()

	for _, teardown := range teardowns {
		teardown()
	}
}

// reapLocked removes an empty channel and hands back its teardown. Caller
// holds the lock and runs the teardown after releasing it.
func (m *Mux) reapLocked(key string, state *channelState) func() {
	if len(state.clients) != 0 {
		return nil
	}
	delete(m.channels, key)
	m.updateChannelGauge()
	return state.teardown
}

// ChannelCount reports channels with at least one subscriber.
func (m *Mux) ChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Close tears down every upstream. Clients are expected to be gone already.
func (m *Mux) Close() {
	m.mu.Lock()
	var teardowns []func()
	for key, state := range m.channels {
		if state.teardown != nil {
			teardowns = append(teardowns, state.teardown)
		}
		delete(m.channels, key)
	}
	m.updateChannelGauge()
	m.mu.Unlock()

	for _, teardown := range teardowns {
		teardown()
	}
}

func (m *Mux) establish(ctx context.Context, channel Channel) (func(), error) {
	if channel.IsBusBridge() {
		if m.stream == nil {
			return nil, fmt.Errorf("event bus not configured")
		}
		key := channel.String()
		return m.stream.Subscribe(channel.Subject(), func(data []byte) {
			m.fanout(key, data)
		})
	}

	if m.subs == nil {
		return nil, fmt.Errorf("%w: no websocket endpoint configured", domain.ErrWsDisconnected)
	}

	var kind domain.SubscriptionKind
	switch channel.Kind {
	case ChannelAccount:
		kind = domain.SubscribeAccount
	case ChannelLogs:
		kind = domain.SubscribeLogs
	case ChannelProgram:
		kind = domain.SubscribeProgram
	default:
		return nil, fmt.Errorf("unknown channel kind %q", channel.Kind)
	}

	filter := channel.Arg
	if kind == domain.SubscribeLogs && filter == "all" {
		filter = ""
	}

	key := channel.String()
	handle, err := m.subs.Subscribe(ctx, domain.SubscriptionRequest{
		Kind:       kind,
		Filter:     filter,
		Commitment: m.commitment,
	}, func(data json.RawMessage) {
		m.fanout(key, data)
	})
	if err != nil {
		return nil, err
	}

	return func() {
		unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.subs.Unsubscribe(unsubCtx, handle); err != nil {
			m.logger.Debug("upstream unsubscribe failed", "channel", key, "error", err.Error())
		}
	}, nil
}

// fanout relays one upstream payload to every subscriber. A client whose
// send buffer is full loses this event rather than stalling the rest.
// Sends are non-blocking, so the lock is held across the loop; that orders
// fanout against a departing client's buffer being closed.
func (m *Mux) fanout(key string, data []byte) {
	frame, err := jsonCodec.Marshal(WsEvent{
		Type:    EventTypeNotification,
		Channel: key,
		Data:    json.RawMessage(data),
	})
	if err != nil {
		m.logger.Error("failed to serialise channel event", "channel", key, "error", err.Error())
		return
	}

	m.mu.Lock()
	state, exists := m.channels[key]
	if !exists {
		m.mu.Unlock()
		return
	}
	kind := state.channel.Kind
	dropped := 0
	for client := range state.clients {
		select {
		case client.send <- frame:
		default:
			dropped++
		}
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.EventsTotal.WithLabelValues(kind).Inc()
	}
	if dropped > 0 {
		m.logger.Debug("dropped event for slow clients", "channel", key, "clients", dropped)
	}
}

func (m *Mux) updateChannelGauge() {
	if m.metrics != nil {
		m.metrics.ChannelsActive.Set(float64(len(m.channels)))
	}
}
