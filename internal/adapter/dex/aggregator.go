package dex

/*
	Solgate DEX Adapter - Quote Aggregation

	Fans a quote request out to every registered venue, waits for all of
	them to settle and picks the best answer by output amount. One venue
	failing never cancels the others; a fan-out only fails outright when
	no venue produced a usable quote. A venue that keeps failing gets
	suspended for a cooldown instead of eating its full timeout on every
	fan-out. Each comparison is published to the event bus as a side
	effect, and publish failures never reach callers.
*/

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/internal/util"
)

// Aggregator implements ports.QuoteAggregator over a fixed provider set.
type Aggregator struct {
	providers []ports.SwapProvider
	byName    map[string]ports.SwapProvider
	publisher ports.EventPublisher
	collector ports.StatsCollector
	breaker   *ProviderBreaker
	logger    logger.StyledLogger

	quoteTimeout       time.Duration
	publishComparisons bool
}

func NewAggregator(providers []ports.SwapProvider, publisher ports.EventPublisher, collector ports.StatsCollector, styledLogger logger.StyledLogger) *Aggregator {
	return NewAggregatorWithPolicy(providers, publisher, collector, styledLogger, DefaultQuoteTimeout, true)
}

func NewAggregatorWithPolicy(providers []ports.SwapProvider, publisher ports.EventPublisher, collector ports.StatsCollector, styledLogger logger.StyledLogger, quoteTimeout time.Duration, publishComparisons bool) *Aggregator {
	if quoteTimeout <= 0 {
		quoteTimeout = DefaultQuoteTimeout
	}
	byName := make(map[string]ports.SwapProvider, len(providers))
	for _, provider := range providers {
		byName[provider.Name()] = provider
	}
	return &Aggregator{
		providers:          providers,
		byName:             byName,
		publisher:          publisher,
		collector:          collector,
		breaker:            NewProviderBreaker(DefaultBreakerThreshold, DefaultBreakerCooldown),
		logger:             styledLogger,
		quoteTimeout:       quoteTimeout,
		publishComparisons: publishComparisons,
	}
}

// GetAllQuotes runs the fan-out and returns every venue's outcome, success
// or failure, in registration order. The error return only covers request
// validation; venue failures live inside the outcomes.
func (a *Aggregator) GetAllQuotes(ctx context.Context, req domain.QuoteRequest) ([]domain.QuoteOutcome, error) {
	return a.fanOut(ctx, req, util.GenerateRequestID())
}

// fanOut queries every venue concurrently. fanoutID ties the log lines of
// one fan-out together across goroutines.
func (a *Aggregator) fanOut(ctx context.Context, req domain.QuoteRequest, fanoutID string) ([]domain.QuoteOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(a.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", domain.ErrNoQuotesAvailable)
	}

	outcomes := make([]domain.QuoteOutcome, len(a.providers))
	var wg sync.WaitGroup
	for i, provider := range a.providers {
		wg.Add(1)
		go func(i int, provider ports.SwapProvider) {
			defer wg.Done()

			name := provider.Name()
			if a.breaker.IsOpen(name) {
				outcomes[i] = domain.QuoteOutcome{Provider: name, Err: ErrProviderSuspended}
				return
			}

			quoteCtx, cancel := context.WithTimeout(ctx, a.quoteTimeout)
			defer cancel()

			started := time.Now()
			quote, err := provider.GetQuote(quoteCtx, req)
			a.collector.RecordQuote(name, err == nil, time.Since(started))

			if err != nil {
				// Caller cancellations say nothing about venue health
				if !errors.Is(err, context.Canceled) {
					a.breaker.RecordFailure(name)
				}
				a.logger.Debug("quote fetch failed", "fanout_id", fanoutID, "provider", name, "error", err.Error())
				outcomes[i] = domain.QuoteOutcome{Provider: name, Err: err}
				return
			}
			a.breaker.RecordSuccess(name)
			outcomes[i] = domain.QuoteOutcome{Provider: name, Quote: quote}
		}(i, provider)
	}
	wg.Wait()

	return outcomes, nil
}

// GetBestQuote fans out, publishes the comparison and returns the winner:
// highest output amount, ties broken by lower price impact then name.
func (a *Aggregator) GetBestQuote(ctx context.Context, req domain.QuoteRequest) (*domain.Quote, error) {
	fanoutID := util.GenerateRequestID()
	outcomes, err := a.fanOut(ctx, req, fanoutID)
	if err != nil {
		return nil, err
	}

	best := domain.BestQuote(outcomes)
	a.publishComparison(ctx, req, outcomes, best)

	if best == nil {
		return nil, fmt.Errorf("%w: all %d providers failed", domain.ErrNoQuotesAvailable, len(outcomes))
	}

	a.logger.Debug("best quote selected",
		"fanout_id", fanoutID,
		"provider", best.Provider,
		"outAmount", best.OutAmount,
		"priceImpact", best.PriceImpactPc)
	return best, nil
}

// ExecuteSwap routes the swap to the venue that produced the quote. It never
// returns an error: every failure becomes a result with Success=false so
// callers branch on one shape.
func (a *Aggregator) ExecuteSwap(ctx context.Context, req domain.SwapRequest) *domain.SwapResult {
	started := time.Now()
	if req.Quote == nil {
		return failedSwap("", "no quote to execute", started)
	}
	if req.MaxSlippageBps < 0 || req.MaxSlippageBps > 10000 {
		return failedSwap(req.Quote.Provider, fmt.Sprintf("slippage %d bps out of range [0, 10000]", req.MaxSlippageBps), started)
	}

	provider, exists := a.byName[req.Quote.Provider]
	if !exists {
		return failedSwap(req.Quote.Provider, fmt.Sprintf("unknown quote provider %q", req.Quote.Provider), started)
	}

	result, err := provider.ExecuteSwap(ctx, req)
	if err != nil {
		a.logger.Warn("swap execution failed", "provider", provider.Name(), "error", err.Error())
		return failedSwap(provider.Name(), err.Error(), started)
	}
	if result.Provider == "" {
		result.Provider = provider.Name()
	}
	if !result.Success {
		a.logger.Warn("swap rejected by venue", "provider", result.Provider, "error", result.Error)
	}
	return result
}

// Providers lists the registered venue names in registration order.
func (a *Aggregator) Providers() []string {
	names := make([]string, 0, len(a.providers))
	for _, provider := range a.providers {
		names = append(names, provider.Name())
	}
	return names
}

func (a *Aggregator) publishComparison(ctx context.Context, req domain.QuoteRequest, outcomes []domain.QuoteOutcome, best *domain.Quote) {
	if !a.publishComparisons || a.publisher == nil {
		return
	}

	event := domain.QuoteComparisonEvent{
		InputMint:  req.InputMint,
		OutputMint: req.OutputMint,
		Amount:     req.Amount,
		Quotes:     make([]domain.QuoteSummary, 0, len(outcomes)),
		Timestamp:  time.Now().UTC(),
	}
	if best != nil {
		event.BestProvider = best.Provider
		event.BestQuote = best
	}
	for _, outcome := range outcomes {
		summary := domain.QuoteSummary{Provider: outcome.Provider}
		switch {
		case outcome.Err != nil:
			summary.Error = outcome.Err.Error()
		case outcome.Quote != nil:
			summary.OutAmount = outcome.Quote.OutAmount
			summary.PriceImpact = outcome.Quote.PriceImpactPc
			summary.LatencyMs = outcome.Quote.LatencyMs
		}
		event.Quotes = append(event.Quotes, summary)
	}

	a.publisher.Publish(ctx, domain.EventDexComparison, event)
}

func failedSwap(provider, message string, started time.Time) *domain.SwapResult {
	return &domain.SwapResult{
		Success:     false,
		Provider:    provider,
		Error:       message,
		DurationMs:  time.Since(started).Milliseconds(),
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

var _ ports.QuoteAggregator = (*Aggregator)(nil)
