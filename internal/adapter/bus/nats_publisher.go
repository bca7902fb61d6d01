package bus

/*
	Solgate Event Bus Adapter - NATS Publisher

	Best-effort fan-out of access-layer events to NATS. Publishing never
	surfaces errors to callers: a dropped event is logged and counted, and
	the request that produced it carries on regardless. Every payload is
	wrapped in a domain.EventEnvelope before it goes on the wire.
*/

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/internal/version"
)

const (
	DefaultReconnectWait   = 2 * time.Second
	DefaultReconnectJitter = 500 * time.Millisecond
	DefaultDrainTimeout    = 5 * time.Second
)

// NATSPublisher pushes envelope-wrapped events onto NATS subjects. The
// underlying connection reconnects forever on its own; while it is down,
// publishes land in the client's reconnect buffer or are dropped and counted.
type NATSPublisher struct {
	conn      *nats.Conn
	collector ports.StatsCollector
	logger    logger.StyledLogger
	seq       atomic.Uint64
	closed    atomic.Bool
}

// NewNATSPublisher connects to the broker at url. The connection is lazy:
// an unreachable broker does not fail construction, the client keeps
// retrying in the background and buffers publishes meanwhile.
func NewNATSPublisher(url string, collector ports.StatsCollector, styledLogger logger.StyledLogger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(version.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(DefaultReconnectWait),
		nats.ReconnectJitter(DefaultReconnectJitter, DefaultReconnectJitter),
		nats.ConnectHandler(func(nc *nats.Conn) {
			styledLogger.InfoWithEndpoint("event bus connected", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				styledLogger.Warn("event bus disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			styledLogger.InfoWithEndpoint("event bus reconnected", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			styledLogger.Warn("event bus error", "error", err.Error())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event bus: %w", err)
	}

	return &NATSPublisher{
		conn:      conn,
		collector: collector,
		logger:    styledLogger,
	}, nil
}

// Publish wraps payload in an envelope and fires it at subject. Failures are
// swallowed: they are logged, counted as drops, and never reach the caller.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) {
	if p.closed.Load() {
		p.collector.RecordPublish(subject, false)
		return
	}

	envelope := domain.EventEnvelope{
		Type:      domain.EventTypeForSubject(subject),
		Timestamp: time.Now().UTC(),
		ID:        p.nextEventID(),
		Data:      payload,
	}

	data, err := jsonCodec.Marshal(envelope)
	if err != nil {
		p.collector.RecordPublish(subject, false)
		p.logger.Warn("event serialisation failed", "subject", subject, "error", err.Error())
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.collector.RecordPublish(subject, false)
		p.logger.Warn("event publish failed", "subject", subject, "error", err.Error())
		return
	}

	p.collector.RecordPublish(subject, true)
}

// Connected reports whether the broker link is currently up. A false answer
// does not stop publishing, it only means events are buffering or dropping.
func (p *NATSPublisher) Connected() bool {
	return p.conn.IsConnected()
}

// Subscribe bridges a subject back out of the bus. Used by the sidecar to
// relay bus traffic onto its local websocket channels.
func (p *NATSPublisher) Subscribe(subject string, handler func(data []byte)) (func(), error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("event bus closed")
	}
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			p.logger.Debug("bus unsubscribe failed", "subject", subject, "error", err.Error())
		}
	}, nil
}

// Close drains buffered publishes and shuts the connection down. Publishes
// arriving after Close are counted as drops.
func (p *NATSPublisher) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	p.logger.Info("event bus closed")
}

func (p *NATSPublisher) nextEventID() string {
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixMilli(), p.seq.Add(1))
}

var (
	_ ports.EventPublisher = (*NATSPublisher)(nil)
	_ ports.EventStream    = (*NATSPublisher)(nil)
)
