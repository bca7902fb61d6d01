package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrClosed is returned by any operation issued after shutdown began.
	ErrClosed = errors.New("rpc access layer is closed")
	// ErrNoEndpointAvailable means the pool has no healthy endpoint for the
	// requested pool type and the unhealthy fallback also came up empty.
	ErrNoEndpointAvailable = errors.New("no endpoint available")
	// ErrWsDisconnected is returned for websocket sends while the supervisor
	// is between connections.
	ErrWsDisconnected = errors.New("websocket disconnected")
	// ErrNoQuotesAvailable means every quote provider failed or returned
	// nothing for the requested pair.
	ErrNoQuotesAvailable = errors.New("no quotes available")
	// ErrRateLimited is returned when a limiter wait is abandoned rather
	// than served, e.g. the caller's context expired while queued.
	ErrRateLimited = errors.New("rate limited")
)

// UpstreamErrorKind classifies an RPC node error for retry decisions.
type UpstreamErrorKind string

const (
	// UpstreamInvalidParams covers malformed request errors. Never retried.
	UpstreamInvalidParams UpstreamErrorKind = "invalid_params"
	// UpstreamNotFound covers missing accounts, blocks and transactions.
	// Never retried: the next node will give the same answer.
	UpstreamNotFound UpstreamErrorKind = "not_found"
	// UpstreamRateLimited covers 429 responses. Retried: another endpoint
	// has its own budget. The limiter does not refund the spent slot.
	UpstreamRateLimited UpstreamErrorKind = "rate_limited"
	// UpstreamTransient covers everything else: node errors, connection
	// resets. Retried against another endpoint.
	UpstreamTransient UpstreamErrorKind = "transient"
)

type UpstreamError struct {
	Kind    UpstreamErrorKind
	Code    int
	Message string
	URL     string
}

func (e *UpstreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("upstream error from %s: %s (code %d)", e.URL, e.Message, e.Code)
	}
	return fmt.Sprintf("upstream error from %s: %s", e.URL, e.Message)
}

// Retryable reports whether trying another endpoint could change the outcome.
func (e *UpstreamError) Retryable() bool {
	return e.Kind == UpstreamTransient || e.Kind == UpstreamRateLimited
}

type TimeoutError struct {
	Operation string
	URL       string
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s timed out after %v (endpoint %s)", e.Operation, e.Elapsed, e.URL)
	}
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Elapsed)
}

// AllAttemptsFailedError carries the outcome of an exhausted retry loop: how
// many attempts ran, which endpoints served them and the final cause.
type AllAttemptsFailedError struct {
	Err       error
	Operation string
	Attempts  int
	URLs      []string
}

func (e *AllAttemptsFailedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts (endpoints: %s): %v",
		e.Operation, e.Attempts, strings.Join(e.URLs, ", "), e.Err)
}

func (e *AllAttemptsFailedError) Unwrap() error {
	return e.Err
}

type ConfigValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s=%v: %s", e.Field, e.Value, e.Reason)
}

func NewUpstreamError(url string, code int, message string) *UpstreamError {
	return &UpstreamError{
		Kind:    ClassifyRPCMessage(message),
		Code:    code,
		Message: message,
		URL:     url,
	}
}

func NewTimeoutError(operation, url string, elapsed time.Duration) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		URL:       url,
		Elapsed:   elapsed,
	}
}

func NewAllAttemptsFailedError(operation string, attempts int, urls []string, err error) *AllAttemptsFailedError {
	return &AllAttemptsFailedError{
		Operation: operation,
		Attempts:  attempts,
		URLs:      urls,
		Err:       err,
	}
}

// ClassifyRPCMessage maps a node error message onto a retry class. Matching
// is substring-based: Solana nodes phrase the same failure several ways.
func ClassifyRPCMessage(msg string) UpstreamErrorKind {
	switch {
	case strings.Contains(msg, "Invalid params"),
		strings.Contains(msg, "invalid params"):
		return UpstreamInvalidParams
	case strings.Contains(msg, "Account not found"),
		strings.Contains(msg, "Block not found"),
		strings.Contains(msg, "could not find account"):
		return UpstreamNotFound
	case strings.Contains(msg, "Too many requests"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return UpstreamRateLimited
	default:
		return UpstreamTransient
	}
}

// IsRetryable decides whether an attempt loop should continue after err.
// Classified upstream errors answer for themselves; everything unclassified
// (transport failures, timeouts) is worth another endpoint.
func IsRetryable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	if errors.Is(err, ErrClosed) {
		return false
	}
	return true
}
