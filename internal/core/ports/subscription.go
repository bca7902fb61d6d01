package ports

import (
	"context"

	"github.com/tidemill/solgate/internal/core/domain"
)

// SubscriptionService registers durable subscriptions against the upstream
// websocket. Handles stay valid across reconnects; the service re-registers
// everything it holds whenever the connection is re-established.
type SubscriptionService interface {
	Subscribe(ctx context.Context, req domain.SubscriptionRequest, handler domain.NotificationHandler) (domain.SubscriptionHandle, error)
	Unsubscribe(ctx context.Context, handle domain.SubscriptionHandle) error
	Connected() bool
	ActiveSubscriptions() int
}
