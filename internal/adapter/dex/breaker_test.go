package dex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tidemill/solgate/internal/adapter/stats"
	"github.com/tidemill/solgate/internal/core/ports"
)

func TestProviderBreakerOpensAfterThreshold(t *testing.T) {
	breaker := NewProviderBreaker(3, time.Hour)

	for i := 0; i < 2; i++ {
		breaker.RecordFailure("Jupiter")
	}
	if breaker.IsOpen("Jupiter") {
		t.Error("Breaker should stay closed below the threshold")
	}

	breaker.RecordFailure("Jupiter")
	if !breaker.IsOpen("Jupiter") {
		t.Error("Breaker should open at the threshold")
	}
	if breaker.IsOpen("Orca") {
		t.Error("Other providers should be unaffected")
	}
}

func TestProviderBreakerClosesAfterCooldown(t *testing.T) {
	breaker := NewProviderBreaker(1, 10*time.Millisecond)

	breaker.RecordFailure("Raydium")
	if !breaker.IsOpen("Raydium") {
		t.Fatal("Breaker should open after the single allowed failure")
	}

	time.Sleep(20 * time.Millisecond)
	if breaker.IsOpen("Raydium") {
		t.Error("Breaker should close once the cooldown passes")
	}
}

func TestProviderBreakerSuccessResets(t *testing.T) {
	breaker := NewProviderBreaker(2, time.Hour)

	breaker.RecordFailure("Orca")
	breaker.RecordSuccess("Orca")
	breaker.RecordFailure("Orca")

	if breaker.IsOpen("Orca") {
		t.Error("Success should reset the failure count")
	}
}

func TestAggregatorSkipsSuspendedProvider(t *testing.T) {
	failing := &stubProvider{name: "Raydium", err: errors.New("pool temporarily unavailable")}
	healthy := &stubProvider{name: "Jupiter", quote: quoteFor("Jupiter", "1000000", 0.002)}

	collector := stats.NewCollector(createTestLogger())
	aggregator := NewAggregator([]ports.SwapProvider{healthy, failing}, &capturePublisher{}, collector, createTestLogger())
	aggregator.breaker = NewProviderBreaker(2, time.Hour)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := aggregator.GetBestQuote(ctx, quoteRequest()); err != nil {
			t.Fatalf("Healthy provider should keep fan-outs succeeding: %v", err)
		}
	}

	callsBefore := failing.calls.Load()
	outcomes, err := aggregator.GetAllQuotes(ctx, quoteRequest())
	if err != nil {
		t.Fatalf("GetAllQuotes failed: %v", err)
	}
	if failing.calls.Load() != callsBefore {
		t.Error("Suspended provider should not be called")
	}

	var suspended bool
	for _, outcome := range outcomes {
		if outcome.Provider == "Raydium" && errors.Is(outcome.Err, ErrProviderSuspended) {
			suspended = true
		}
	}
	if !suspended {
		t.Error("Expected a suspended outcome for the broken venue")
	}
}
