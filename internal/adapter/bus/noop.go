package bus

import (
	"context"

	"github.com/tidemill/solgate/internal/core/ports"
)

// NoopPublisher discards every event. It stands in for the real bus when no
// broker is configured so callers never need a nil check.
type NoopPublisher struct{}

func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (*NoopPublisher) Publish(_ context.Context, _ string, _ any) {}

func (*NoopPublisher) Connected() bool { return false }

func (*NoopPublisher) Close() {}

var _ ports.EventPublisher = (*NoopPublisher)(nil)
