package gateway

/*
	Solgate Gateway - Worker Facade

	The operation surface workers program against. Reads ride the query
	pool, transaction submission always rides the submit pool, and chain
	subscriptions delegate to the websocket supervisor. Responses stay
	opaque wherever workers treat them as opaque; only routing-relevant
	scalars (blockhash, balance, slot, confirmation status) are extracted.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tidemill/solgate/internal/core/constants"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

// Gateway implements ports.SolanaService directly on the RPC pool.
type Gateway struct {
	pool       ports.RPCPool
	subs       ports.SubscriptionService
	logger     logger.StyledLogger
	commitment domain.Commitment

	confirmTimeout      time.Duration
	confirmPollInterval time.Duration
}

// New wires the facade. subs may be nil when no websocket endpoint is
// configured; subscription calls then fail with ErrWsDisconnected.
func New(pool ports.RPCPool, subs ports.SubscriptionService, styledLogger logger.StyledLogger, defaultCommitment domain.Commitment) *Gateway {
	return NewWithPolicy(pool, subs, styledLogger, defaultCommitment,
		constants.DefaultConfirmTimeout, constants.DefaultConfirmPollInterval)
}

func NewWithPolicy(pool ports.RPCPool, subs ports.SubscriptionService, styledLogger logger.StyledLogger, defaultCommitment domain.Commitment, confirmTimeout, confirmPollInterval time.Duration) *Gateway {
	if defaultCommitment == "" {
		defaultCommitment = domain.DefaultCommitment
	}
	if confirmTimeout <= 0 {
		confirmTimeout = constants.DefaultConfirmTimeout
	}
	if confirmPollInterval <= 0 {
		confirmPollInterval = constants.DefaultConfirmPollInterval
	}
	return &Gateway{
		pool:                pool,
		subs:                subs,
		logger:              styledLogger,
		commitment:          defaultCommitment,
		confirmTimeout:      confirmTimeout,
		confirmPollInterval: confirmPollInterval,
	}
}

func (g *Gateway) resolve(commitment domain.Commitment) domain.Commitment {
	if commitment == "" {
		return g.commitment
	}
	return commitment
}

// Ping checks that at least one upstream endpoint answers.
func (g *Gateway) Ping(ctx context.Context) error {
	_, err := g.pool.Call(ctx, domain.PoolQuery, constants.HealthCheckMethod, []any{})
	return err
}

func (g *Gateway) HealthStatus(ctx context.Context) (domain.HealthReport, error) {
	return g.pool.Report(ctx), nil
}

func (g *Gateway) GetAccountInfo(ctx context.Context, pubkey string, commitment domain.Commitment) (json.RawMessage, error) {
	if pubkey == "" {
		return nil, fmt.Errorf("pubkey is required")
	}
	return g.pool.Call(ctx, domain.PoolQuery, "getAccountInfo", []any{
		pubkey,
		map[string]any{
			"encoding":   "base64",
			"commitment": g.resolve(commitment).String(),
		},
	})
}

func (g *Gateway) GetMultipleAccounts(ctx context.Context, pubkeys []string, commitment domain.Commitment) (json.RawMessage, error) {
	if len(pubkeys) == 0 {
		return nil, fmt.Errorf("at least one pubkey is required")
	}
	if len(pubkeys) > constants.MaxMultipleAccountsKeys {
		return nil, fmt.Errorf("too many pubkeys: %d exceeds the upstream limit of %d", len(pubkeys), constants.MaxMultipleAccountsKeys)
	}
	return g.pool.Call(ctx, domain.PoolQuery, "getMultipleAccounts", []any{
		pubkeys,
		map[string]any{
			"encoding":   "base64",
			"commitment": g.resolve(commitment).String(),
		},
	})
}

func (g *Gateway) GetTransaction(ctx context.Context, signature string) (json.RawMessage, error) {
	if signature == "" {
		return nil, fmt.Errorf("signature is required")
	}
	return g.pool.Call(ctx, domain.PoolQuery, "getTransaction", []any{
		signature,
		map[string]any{
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
		},
	})
}

func (g *Gateway) GetLatestBlockhash(ctx context.Context, commitment domain.Commitment) (domain.LatestBlockhash, error) {
	raw, err := g.pool.Call(ctx, domain.PoolQuery, "getLatestBlockhash", []any{
		map[string]any{"commitment": g.resolve(commitment).String()},
	})
	if err != nil {
		return domain.LatestBlockhash{}, err
	}

	blockhash := gjson.GetBytes(raw, "value.blockhash")
	height := gjson.GetBytes(raw, "value.lastValidBlockHeight")
	if !blockhash.Exists() || blockhash.String() == "" {
		return domain.LatestBlockhash{}, fmt.Errorf("malformed getLatestBlockhash response: missing blockhash")
	}
	return domain.LatestBlockhash{
		Blockhash:            blockhash.String(),
		LastValidBlockHeight: height.Uint(),
	}, nil
}

func (g *Gateway) GetBalance(ctx context.Context, pubkey string, commitment domain.Commitment) (uint64, error) {
	if pubkey == "" {
		return 0, fmt.Errorf("pubkey is required")
	}
	raw, err := g.pool.Call(ctx, domain.PoolQuery, "getBalance", []any{
		pubkey,
		map[string]any{"commitment": g.resolve(commitment).String()},
	})
	if err != nil {
		return 0, err
	}

	value := gjson.GetBytes(raw, "value")
	if !value.Exists() {
		return 0, fmt.Errorf("malformed getBalance response: missing value")
	}
	return value.Uint(), nil
}

func (g *Gateway) GetTokenAccountBalance(ctx context.Context, pubkey string) (json.RawMessage, error) {
	if pubkey == "" {
		return nil, fmt.Errorf("pubkey is required")
	}
	return g.pool.Call(ctx, domain.PoolQuery, "getTokenAccountBalance", []any{pubkey})
}

func (g *Gateway) GetTokenAccountsByOwner(ctx context.Context, owner, mint string) (json.RawMessage, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if mint == "" {
		return nil, fmt.Errorf("mint is required")
	}
	return g.pool.Call(ctx, domain.PoolQuery, "getTokenAccountsByOwner", []any{
		owner,
		map[string]any{"mint": mint},
		map[string]any{"encoding": "base64"},
	})
}

func (g *Gateway) GetSlot(ctx context.Context, commitment domain.Commitment) (uint64, error) {
	raw, err := g.pool.Call(ctx, domain.PoolQuery, "getSlot", []any{
		map[string]any{"commitment": g.resolve(commitment).String()},
	})
	if err != nil {
		return 0, err
	}

	slot := gjson.ParseBytes(raw)
	if slot.Type != gjson.Number {
		return 0, fmt.Errorf("malformed getSlot response: %s", string(raw))
	}
	return slot.Uint(), nil
}

// SendRawTransaction forwards a pre-signed transaction. Submission always
// rides the submit pool so read bursts cannot starve it.
func (g *Gateway) SendRawTransaction(ctx context.Context, txBase64 string, opts ports.SendOptions) (string, error) {
	if txBase64 == "" {
		return "", fmt.Errorf("transaction payload is required")
	}

	params := map[string]any{
		"encoding":            "base64",
		"skipPreflight":       opts.SkipPreflight,
		"preflightCommitment": g.resolve(opts.Commitment).String(),
	}
	if opts.MaxRetries != nil {
		params["maxRetries"] = *opts.MaxRetries
	}

	raw, err := g.pool.Call(ctx, domain.PoolSubmit, "sendTransaction", []any{txBase64, params})
	if err != nil {
		return "", err
	}

	signature := gjson.ParseBytes(raw).String()
	if signature == "" {
		return "", fmt.Errorf("malformed sendTransaction response: %s", string(raw))
	}
	g.logger.Debug("transaction submitted", "signature", signature)
	return signature, nil
}

// ConfirmTransaction polls signature status until the target commitment is
// reached. It reports false without error when the deadline passes first;
// a transaction that landed with an error is surfaced as a failure.
func (g *Gateway) ConfirmTransaction(ctx context.Context, signature string, commitment domain.Commitment) (bool, error) {
	if signature == "" {
		return false, fmt.Errorf("signature is required")
	}
	target := g.resolve(commitment)

	confirmCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		confirmCtx, cancel = context.WithTimeout(ctx, g.confirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(g.confirmPollInterval)
	defer ticker.Stop()

	for {
		raw, err := g.pool.Call(confirmCtx, domain.PoolQuery, "getSignatureStatuses", []any{
			[]string{signature},
			map[string]any{"searchTransactionHistory": false},
		})
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if confirmCtx.Err() == nil {
				g.logger.Debug("confirmation poll failed", "signature", signature, "error", err.Error())
			}
		} else {
			status := gjson.GetBytes(raw, "value.0")
			if status.Exists() && status.Type != gjson.Null {
				if txErr := status.Get("err"); txErr.Exists() && txErr.Type != gjson.Null {
					return false, fmt.Errorf("transaction %s failed: %s", signature, txErr.Raw)
				}
				reached := domain.Commitment(status.Get("confirmationStatus").String())
				if reached.AtLeast(target) {
					return true, nil
				}
			}
		}

		select {
		case <-confirmCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		case <-ticker.C:
		}
	}
}

func (g *Gateway) SubscribeAccount(ctx context.Context, pubkey string, commitment domain.Commitment, handler domain.NotificationHandler) (domain.SubscriptionHandle, error) {
	return g.subscribe(ctx, domain.SubscribeAccount, pubkey, commitment, handler)
}

func (g *Gateway) SubscribeLogs(ctx context.Context, filter string, commitment domain.Commitment, handler domain.NotificationHandler) (domain.SubscriptionHandle, error) {
	return g.subscribe(ctx, domain.SubscribeLogs, filter, commitment, handler)
}

func (g *Gateway) SubscribeProgram(ctx context.Context, programID string, commitment domain.Commitment, handler domain.NotificationHandler) (domain.SubscriptionHandle, error) {
	return g.subscribe(ctx, domain.SubscribeProgram, programID, commitment, handler)
}

func (g *Gateway) subscribe(ctx context.Context, kind domain.SubscriptionKind, filter string, commitment domain.Commitment, handler domain.NotificationHandler) (domain.SubscriptionHandle, error) {
	if g.subs == nil {
		return 0, fmt.Errorf("%w: no websocket endpoint configured", domain.ErrWsDisconnected)
	}
	return g.subs.Subscribe(ctx, domain.SubscriptionRequest{
		Kind:       kind,
		Filter:     filter,
		Commitment: g.resolve(commitment),
	}, handler)
}

func (g *Gateway) Unsubscribe(ctx context.Context, handle domain.SubscriptionHandle) error {
	if g.subs == nil {
		return fmt.Errorf("%w: no websocket endpoint configured", domain.ErrWsDisconnected)
	}
	return g.subs.Unsubscribe(ctx, handle)
}

// Close releases the pool. The websocket supervisor has its own lifecycle
// and is closed by whoever started it.
func (g *Gateway) Close() error {
	return g.pool.Close()
}

var _ ports.SolanaService = (*Gateway)(nil)
