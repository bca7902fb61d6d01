package ports

import (
	"context"

	"github.com/tidemill/solgate/internal/core/domain"
)

// QuoteProvider fetches a swap quote from one venue.
type QuoteProvider interface {
	Name() string
	GetQuote(ctx context.Context, req domain.QuoteRequest) (*domain.Quote, error)
}

// SwapProvider can also build and submit the swap it quoted.
type SwapProvider interface {
	QuoteProvider
	ExecuteSwap(ctx context.Context, req domain.SwapRequest) (*domain.SwapResult, error)
}

// QuoteAggregator fans a request out to every provider, waits for all of
// them to settle and picks the best answer.
type QuoteAggregator interface {
	GetBestQuote(ctx context.Context, req domain.QuoteRequest) (*domain.Quote, error)
	GetAllQuotes(ctx context.Context, req domain.QuoteRequest) ([]domain.QuoteOutcome, error)
	ExecuteSwap(ctx context.Context, req domain.SwapRequest) *domain.SwapResult
}
