package domain

import (
	"encoding/json"
	"fmt"
)

// SubscriptionHandle identifies a registered subscription for its whole
// lifetime. Handles are allocated once at registration and survive
// reconnects; the per-connection Solana subscription id is an internal
// detail that changes every time the socket is re-established.
type SubscriptionHandle uint64

// SubscriptionKind is the Solana pubsub method family a subscription uses.
type SubscriptionKind string

const (
	SubscribeAccount SubscriptionKind = "account"
	SubscribeLogs    SubscriptionKind = "logs"
	SubscribeProgram SubscriptionKind = "program"
)

// NotificationHandler receives the raw notification payload for one
// subscription. Handlers run on the supervisor's dispatch goroutine and must
// not block.
type NotificationHandler func(data json.RawMessage)

// SubscriptionRequest describes what to watch. Filter is the pubkey for
// account and program subscriptions, or a log mentions filter; empty means
// "all" for logs.
type SubscriptionRequest struct {
	Kind       SubscriptionKind
	Filter     string
	Commitment Commitment
}

// Validate checks the request before registration.
func (r SubscriptionRequest) Validate() error {
	switch r.Kind {
	case SubscribeAccount, SubscribeProgram:
		if r.Filter == "" {
			return fmt.Errorf("%s subscription requires a pubkey", r.Kind)
		}
	case SubscribeLogs:
		// empty filter means all transactions
	default:
		return fmt.Errorf("unknown subscription kind %q", r.Kind)
	}
	if r.Commitment != "" {
		if _, err := ParseCommitment(string(r.Commitment)); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeMethod returns the pubsub method name for the request.
func (r SubscriptionRequest) SubscribeMethod() string {
	return string(r.Kind) + "Subscribe"
}

// UnsubscribeMethod returns the pubsub method that tears the request down.
func (r SubscriptionRequest) UnsubscribeMethod() string {
	return string(r.Kind) + "Unsubscribe"
}

// NotificationMethod returns the server-push method name whose params carry
// this subscription's events.
func (r SubscriptionRequest) NotificationMethod() string {
	return string(r.Kind) + "Notification"
}

// SubscribeParams builds the positional params array for the subscribe call.
func (r SubscriptionRequest) SubscribeParams() []any {
	commitment := r.Commitment
	if commitment == "" {
		commitment = DefaultCommitment
	}
	opts := map[string]any{"commitment": commitment.String()}

	switch r.Kind {
	case SubscribeAccount, SubscribeProgram:
		opts["encoding"] = "base64"
		return []any{r.Filter, opts}
	case SubscribeLogs:
		if r.Filter == "" {
			return []any{"all", opts}
		}
		return []any{map[string]any{"mentions": []string{r.Filter}}, opts}
	default:
		return []any{r.Filter, opts}
	}
}
