package dex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidemill/solgate/internal/adapter/stats"
	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

const (
	mintSol  = "So11111111111111111111111111111111111111112"
	mintUsdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func createTestLogger() logger.StyledLogger {
	loggerCfg := &logger.Config{Level: "error", Theme: "default"}
	log, _, _ := logger.New(loggerCfg)
	return logger.NewPlainStyledLogger(log)
}

type stubProvider struct {
	name    string
	quote   *domain.Quote
	err     error
	delay   time.Duration
	swap    *domain.SwapResult
	swapErr error
	calls   atomic.Int64
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) GetQuote(ctx context.Context, _ domain.QuoteRequest) (*domain.Quote, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	quote := *s.quote
	return &quote, nil
}

func (s *stubProvider) ExecuteSwap(_ context.Context, _ domain.SwapRequest) (*domain.SwapResult, error) {
	if s.swapErr != nil {
		return nil, s.swapErr
	}
	result := *s.swap
	return &result, nil
}

type capturedEvent struct {
	subject string
	payload any
}

type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (c *capturePublisher) Publish(_ context.Context, subject string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{subject: subject, payload: payload})
}

func (c *capturePublisher) Connected() bool { return true }
func (c *capturePublisher) Close()          {}

func (c *capturePublisher) captured() []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedEvent(nil), c.events...)
}

func quoteFor(provider, outAmount string, impact float64) *domain.Quote {
	return &domain.Quote{
		Provider:      provider,
		InputMint:     mintSol,
		OutputMint:    mintUsdc,
		InAmount:      "1000000",
		OutAmount:     outAmount,
		PriceImpactPc: impact,
		FetchedAt:     time.Now().UTC(),
		LatencyMs:     5,
	}
}

func quoteRequest() domain.QuoteRequest {
	return domain.QuoteRequest{
		InputMint:   mintSol,
		OutputMint:  mintUsdc,
		Amount:      "1000000",
		SlippageBps: 50,
	}
}

func TestBestQuotePicksHighestOutputWithImpactTieBreak(t *testing.T) {
	publisher := &capturePublisher{}
	collector := stats.NewCollector(createTestLogger())
	aggregator := NewAggregator([]ports.SwapProvider{
		&stubProvider{name: "Jupiter", quote: quoteFor("Jupiter", "1000000", 0.002)},
		&stubProvider{name: "Orca", quote: quoteFor("Orca", "1050000", 0.004)},
		&stubProvider{name: "Raydium", err: errors.New("pool temporarily unavailable")},
		&stubProvider{name: "Meteora", quote: quoteFor("Meteora", "1050000", 0.006)},
	}, publisher, collector, createTestLogger())

	best, err := aggregator.GetBestQuote(context.Background(), quoteRequest())
	if err != nil {
		t.Fatalf("Expected a best quote, got %v", err)
	}
	if best.Provider != "Orca" {
		t.Errorf("Expected Orca to win the output tie on lower impact, got %s", best.Provider)
	}
	if best.OutAmount != "1050000" {
		t.Errorf("Expected winning outAmount 1050000, got %s", best.OutAmount)
	}

	events := publisher.captured()
	if len(events) != 1 {
		t.Fatalf("Expected one comparison event, got %d", len(events))
	}
	if events[0].subject != domain.EventDexComparison {
		t.Errorf("Expected subject %s, got %s", domain.EventDexComparison, events[0].subject)
	}

	comparison, ok := events[0].payload.(domain.QuoteComparisonEvent)
	if !ok {
		t.Fatalf("Expected QuoteComparisonEvent payload, got %T", events[0].payload)
	}
	if comparison.BestProvider != "Orca" {
		t.Errorf("Expected BestProvider Orca, got %s", comparison.BestProvider)
	}
	if comparison.BestQuote == nil || comparison.BestQuote.OutAmount != "1050000" {
		t.Error("Expected the selected quote embedded in the event")
	}
	if len(comparison.Quotes) != 4 {
		t.Fatalf("Expected all four outcomes in the event, got %d", len(comparison.Quotes))
	}

	withAmount, withError := 0, 0
	for _, summary := range comparison.Quotes {
		if summary.Error != "" {
			withError++
		}
		if summary.OutAmount != "" {
			withAmount++
		}
	}
	if withAmount != 3 || withError != 1 {
		t.Errorf("Expected 3 quoted and 1 failed outcome, got %d quoted %d failed", withAmount, withError)
	}
}

func TestBestQuoteToleratesPartialFailure(t *testing.T) {
	publisher := &capturePublisher{}
	collector := stats.NewCollector(createTestLogger())
	aggregator := NewAggregator([]ports.SwapProvider{
		&stubProvider{name: "Jupiter", err: errors.New("upstream 500")},
		&stubProvider{name: "Orca", quote: quoteFor("Orca", "990000", 0.003)},
		&stubProvider{name: "Raydium", err: errors.New("timeout")},
	}, publisher, collector, createTestLogger())

	best, err := aggregator.GetBestQuote(context.Background(), quoteRequest())
	if err != nil {
		t.Fatalf("Expected the single success to win, got %v", err)
	}
	if best.Provider != "Orca" {
		t.Errorf("Expected Orca, got %s", best.Provider)
	}
}

func TestBestQuoteFailsWhenEveryProviderFails(t *testing.T) {
	publisher := &capturePublisher{}
	collector := stats.NewCollector(createTestLogger())
	aggregator := NewAggregator([]ports.SwapProvider{
		&stubProvider{name: "Jupiter", err: errors.New("upstream 500")},
		&stubProvider{name: "Orca", err: errors.New("connection refused")},
	}, publisher, collector, createTestLogger())

	_, err := aggregator.GetBestQuote(context.Background(), quoteRequest())
	if !errors.Is(err, domain.ErrNoQuotesAvailable) {
		t.Fatalf("Expected ErrNoQuotesAvailable, got %v", err)
	}

	events := publisher.captured()
	if len(events) != 1 {
		t.Fatalf("Expected the comparison still published on total failure, got %d events", len(events))
	}
	comparison := events[0].payload.(domain.QuoteComparisonEvent)
	if comparison.BestProvider != "" {
		t.Errorf("Expected no selected provider, got %s", comparison.BestProvider)
	}
	for _, summary := range comparison.Quotes {
		if summary.Error == "" {
			t.Errorf("Expected every outcome to carry an error, %s has none", summary.Provider)
		}
	}
}

func TestFanOutDoesNotCancelSlowProviders(t *testing.T) {
	slow := &stubProvider{name: "Orca", quote: quoteFor("Orca", "990000", 0.003), delay: 80 * time.Millisecond}
	aggregator := NewAggregator([]ports.SwapProvider{
		&stubProvider{name: "Jupiter", err: errors.New("immediate failure")},
		slow,
	}, &capturePublisher{}, stats.NewCollector(createTestLogger()), createTestLogger())

	outcomes, err := aggregator.GetAllQuotes(context.Background(), quoteRequest())
	if err != nil {
		t.Fatalf("Expected outcomes, got %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("Expected both outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Err == nil {
		t.Error("Expected the fast failure recorded")
	}
	if outcomes[1].Quote == nil {
		t.Error("Expected the slow provider to settle with its quote, not be cancelled")
	}
}

func TestQuoteTimeoutBoundsEachProvider(t *testing.T) {
	slow := &stubProvider{name: "Jupiter", quote: quoteFor("Jupiter", "990000", 0.003), delay: 500 * time.Millisecond}
	aggregator := NewAggregatorWithPolicy([]ports.SwapProvider{slow},
		&capturePublisher{}, stats.NewCollector(createTestLogger()), createTestLogger(),
		40*time.Millisecond, false)

	started := time.Now()
	_, err := aggregator.GetBestQuote(context.Background(), quoteRequest())
	if !errors.Is(err, domain.ErrNoQuotesAvailable) {
		t.Fatalf("Expected ErrNoQuotesAvailable after timeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 400*time.Millisecond {
		t.Errorf("Expected the timeout to cut the provider short, took %v", elapsed)
	}
}

func TestQuoteRequestValidation(t *testing.T) {
	provider := &stubProvider{name: "Jupiter", quote: quoteFor("Jupiter", "990000", 0.003)}
	aggregator := NewAggregator([]ports.SwapProvider{provider}, &capturePublisher{}, stats.NewCollector(createTestLogger()), createTestLogger())

	bad := []domain.QuoteRequest{
		{InputMint: "", OutputMint: mintUsdc, Amount: "1"},
		{InputMint: mintSol, OutputMint: mintSol, Amount: "1"},
		{InputMint: mintSol, OutputMint: mintUsdc, Amount: "not-a-number"},
		{InputMint: mintSol, OutputMint: mintUsdc, Amount: "-5"},
		{InputMint: mintSol, OutputMint: mintUsdc, Amount: "1", SlippageBps: 20000},
	}
	for i, req := range bad {
		if _, err := aggregator.GetBestQuote(context.Background(), req); err == nil {
			t.Errorf("Expected request %d to be rejected", i)
		}
	}
	if provider.calls.Load() != 0 {
		t.Errorf("Expected no provider calls for invalid requests, got %d", provider.calls.Load())
	}
}

func TestComparisonListsOutcomesInRegistrationOrder(t *testing.T) {
	publisher := &capturePublisher{}
	aggregator := NewAggregator([]ports.SwapProvider{
		&stubProvider{name: "Meteora", quote: quoteFor("Meteora", "1", 0)},
		&stubProvider{name: "Jupiter", quote: quoteFor("Jupiter", "2", 0)},
		&stubProvider{name: "Orca", quote: quoteFor("Orca", "3", 0)},
	}, publisher, stats.NewCollector(createTestLogger()), createTestLogger())

	if _, err := aggregator.GetBestQuote(context.Background(), quoteRequest()); err != nil {
		t.Fatalf("Expected a quote, got %v", err)
	}

	comparison := publisher.captured()[0].payload.(domain.QuoteComparisonEvent)
	expected := []string{"Meteora", "Jupiter", "Orca"}
	for i, name := range expected {
		if comparison.Quotes[i].Provider != name {
			t.Errorf("Expected outcome %d from %s, got %s", i, name, comparison.Quotes[i].Provider)
		}
	}
}

func TestComparisonPublishingCanBeDisabled(t *testing.T) {
	publisher := &capturePublisher{}
	aggregator := NewAggregatorWithPolicy([]ports.SwapProvider{
		&stubProvider{name: "Jupiter", quote: quoteFor("Jupiter", "1", 0)},
	}, publisher, stats.NewCollector(createTestLogger()), createTestLogger(), time.Second, false)

	if _, err := aggregator.GetBestQuote(context.Background(), quoteRequest()); err != nil {
		t.Fatalf("Expected a quote, got %v", err)
	}
	if len(publisher.captured()) != 0 {
		t.Error("Expected no events while publishing is disabled")
	}
}

func TestQuoteStatsAreRecorded(t *testing.T) {
	collector := stats.NewCollector(createTestLogger())
	aggregator := NewAggregator([]ports.SwapProvider{
		&stubProvider{name: "Jupiter", quote: quoteFor("Jupiter", "1", 0)},
		&stubProvider{name: "Orca", err: errors.New("down")},
	}, &capturePublisher{}, collector, createTestLogger())

	if _, err := aggregator.GetBestQuote(context.Background(), quoteRequest()); err != nil {
		t.Fatalf("Expected a quote, got %v", err)
	}

	providerStats := collector.GetProviderStats()
	if providerStats["Jupiter"].Quotes != 1 || providerStats["Jupiter"].Failures != 0 {
		t.Errorf("Expected Jupiter 1/0, got %d/%d", providerStats["Jupiter"].Quotes, providerStats["Jupiter"].Failures)
	}
	if providerStats["Orca"].Quotes != 1 || providerStats["Orca"].Failures != 1 {
		t.Errorf("Expected Orca 1/1, got %d/%d", providerStats["Orca"].Quotes, providerStats["Orca"].Failures)
	}
}

func TestExecuteSwapRoutesToQuoteProvider(t *testing.T) {
	orca := &stubProvider{name: "Orca", swap: &domain.SwapResult{
		Success:   true,
		Signature: "5wHu1qwD4kE6MBv3KKC8ZXHk1QBkkq3zYXmQDgwAVBzS",
		Provider:  "Orca",
		OutAmount: "1050000",
	}}
	aggregator := NewAggregator([]ports.SwapProvider{orca}, &capturePublisher{}, stats.NewCollector(createTestLogger()), createTestLogger())

	result := aggregator.ExecuteSwap(context.Background(), domain.SwapRequest{
		Quote:          quoteFor("Orca", "1050000", 0.004),
		UserPubkey:     "7VHUFJHWu2CuExkJcJrzhQPJ2oygupTWkL2A2For4BmE",
		MaxSlippageBps: 100,
	})
	if !result.Success {
		t.Fatalf("Expected success, got error %q", result.Error)
	}
	if result.Provider != "Orca" {
		t.Errorf("Expected provider tag Orca, got %s", result.Provider)
	}
	if result.Signature == "" {
		t.Error("Expected a signature on success")
	}
}

func TestExecuteSwapNeverReturnsAnError(t *testing.T) {
	failing := &stubProvider{name: "Jupiter", swapErr: fmt.Errorf("venue rejected order")}
	aggregator := NewAggregator([]ports.SwapProvider{failing}, &capturePublisher{}, stats.NewCollector(createTestLogger()), createTestLogger())

	cases := []struct {
		name string
		req  domain.SwapRequest
	}{
		{"nil quote", domain.SwapRequest{}},
		{"unknown provider", domain.SwapRequest{Quote: quoteFor("Phoenix", "1", 0), MaxSlippageBps: 50}},
		{"slippage out of range", domain.SwapRequest{Quote: quoteFor("Jupiter", "1", 0), MaxSlippageBps: 20000}},
		{"venue failure", domain.SwapRequest{Quote: quoteFor("Jupiter", "1", 0), MaxSlippageBps: 50}},
	}
	for _, tc := range cases {
		result := aggregator.ExecuteSwap(context.Background(), tc.req)
		if result == nil {
			t.Fatalf("%s: expected a result, got nil", tc.name)
		}
		if result.Success {
			t.Errorf("%s: expected failure", tc.name)
		}
		if result.Error == "" {
			t.Errorf("%s: expected a populated error field", tc.name)
		}
		if result.CompletedAt == "" {
			t.Errorf("%s: expected a completion timestamp", tc.name)
		}
	}
}

func TestProvidersListsRegistrationOrder(t *testing.T) {
	aggregator := NewAggregator([]ports.SwapProvider{
		&stubProvider{name: "Jupiter"},
		&stubProvider{name: "Orca"},
	}, &capturePublisher{}, stats.NewCollector(createTestLogger()), createTestLogger())

	names := aggregator.Providers()
	if len(names) != 2 || names[0] != "Jupiter" || names[1] != "Orca" {
		t.Errorf("Expected [Jupiter Orca], got %v", names)
	}
}
