package ports

import (
	"context"
	"encoding/json"

	"github.com/tidemill/solgate/internal/core/domain"
)

// RPCPool executes a JSON-RPC call against the best endpoint of a pool,
// retrying across endpoints on transient failure. The returned bytes are the
// raw "result" member of the response.
type RPCPool interface {
	Call(ctx context.Context, pt domain.PoolType, method string, params any) (json.RawMessage, error)
	Report(ctx context.Context) domain.HealthReport
	ResetEndpoint(ctx context.Context, url string) error
	ResetAll(ctx context.Context) error
	Close() error
}

// SendOptions tune transaction submission.
type SendOptions struct {
	SkipPreflight bool
	MaxRetries    *int
	Commitment    domain.Commitment
}

// SolanaService is the operation surface workers program against. The
// direct implementation sits on RPCPool; the sidecar client speaks the same
// interface over the local socket.
type SolanaService interface {
	Ping(ctx context.Context) error
	HealthStatus(ctx context.Context) (domain.HealthReport, error)

	GetAccountInfo(ctx context.Context, pubkey string, commitment domain.Commitment) (json.RawMessage, error)
	GetMultipleAccounts(ctx context.Context, pubkeys []string, commitment domain.Commitment) (json.RawMessage, error)
	GetTransaction(ctx context.Context, signature string) (json.RawMessage, error)
	GetLatestBlockhash(ctx context.Context, commitment domain.Commitment) (domain.LatestBlockhash, error)
	GetBalance(ctx context.Context, pubkey string, commitment domain.Commitment) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, pubkey string) (json.RawMessage, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, mint string) (json.RawMessage, error)
	GetSlot(ctx context.Context, commitment domain.Commitment) (uint64, error)

	SendRawTransaction(ctx context.Context, txBase64 string, opts SendOptions) (string, error)
	ConfirmTransaction(ctx context.Context, signature string, commitment domain.Commitment) (bool, error)
}
