package ports

import "context"

// EventPublisher pushes pipeline events to the shared bus. Publishing is
// best effort: failures are logged by the implementation and never surfaced,
// so a broker outage cannot stall the data path.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any)
	Connected() bool
	Close()
}

// EventStream reads bus subjects back, used by the sidecar to bridge bus
// traffic onto its local websocket channels. The returned function tears
// the subscription down.
type EventStream interface {
	Subscribe(subject string, handler func(data []byte)) (func(), error)
}
