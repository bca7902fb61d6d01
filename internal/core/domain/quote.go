package domain

import (
	"fmt"
	"math/big"
	"time"
)

// QuoteRequest asks the aggregator for a swap price. Amount is the input
// token quantity in base units, carried as a decimal string because token
// amounts routinely exceed uint64.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      string
	SlippageBps int
}

// Validate rejects requests the providers would refuse anyway.
func (r QuoteRequest) Validate() error {
	if r.InputMint == "" || r.OutputMint == "" {
		return fmt.Errorf("quote request requires input and output mints")
	}
	if r.InputMint == r.OutputMint {
		return fmt.Errorf("input and output mints must differ")
	}
	if _, err := ParseAmount(r.Amount); err != nil {
		return err
	}
	if r.SlippageBps < 0 || r.SlippageBps > 10000 {
		return fmt.Errorf("slippage %d bps out of range [0, 10000]", r.SlippageBps)
	}
	return nil
}

// RouteHop is one leg of a quoted route.
type RouteHop struct {
	AMM        string `json:"amm"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	Percent    int    `json:"percent"`
}

// Quote is a single provider's answer. OutAmount stays a decimal string on
// the wire; compare with OutAmountInt.
type Quote struct {
	Provider      string     `json:"provider"`
	InputMint     string     `json:"inputMint"`
	OutputMint    string     `json:"outputMint"`
	InAmount      string     `json:"inAmount"`
	OutAmount     string     `json:"outAmount"`
	PriceImpactPc float64    `json:"priceImpactPct"`
	Route         []RouteHop `json:"route,omitempty"`
	FetchedAt     time.Time  `json:"fetchedAt"`
	LatencyMs     int64      `json:"latencyMs"`
}

// OutAmountInt parses the output amount for comparison. Unparseable amounts
// rank below everything.
func (q *Quote) OutAmountInt() *big.Int {
	v, err := ParseAmount(q.OutAmount)
	if err != nil {
		return big.NewInt(-1)
	}
	return v
}

// QuoteOutcome records one provider's result in a fan-out, success or not.
type QuoteOutcome struct {
	Provider string
	Quote    *Quote
	Err      error
}

// BestQuote picks the winner from a settled fan-out: highest output amount,
// then lowest price impact, then alphabetical provider name. Returns nil when
// no outcome carries a usable quote.
func BestQuote(outcomes []QuoteOutcome) *Quote {
	var best *Quote
	for _, o := range outcomes {
		if o.Err != nil || o.Quote == nil {
			continue
		}
		if best == nil {
			best = o.Quote
			continue
		}
		switch o.Quote.OutAmountInt().Cmp(best.OutAmountInt()) {
		case 1:
			best = o.Quote
		case 0:
			if o.Quote.PriceImpactPc < best.PriceImpactPc ||
				(o.Quote.PriceImpactPc == best.PriceImpactPc && o.Quote.Provider < best.Provider) {
				best = o.Quote
			}
		}
	}
	return best
}

// ParseAmount parses a base-unit token amount. Amounts are non-negative
// decimal integers.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", s)
	}
	return v, nil
}

// SwapRequest asks for a quote to be executed.
type SwapRequest struct {
	Quote          *Quote
	UserPubkey     string
	MaxSlippageBps int
	// PriorityFeeLamports and ComputeUnits tune the transaction when the
	// provider supports them; zero leaves the provider default.
	PriorityFeeLamports uint64
	ComputeUnits        uint32
}

// SwapResult is always returned, even on failure: swap execution reports
// errors in-band so callers can branch on Success without unwrapping.
type SwapResult struct {
	Success     bool   `json:"success"`
	Signature   string `json:"signature,omitempty"`
	Provider    string `json:"provider,omitempty"`
	InAmount    string `json:"inAmount,omitempty"`
	OutAmount   string `json:"outAmount,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"durationMs"`
	CompletedAt string `json:"completedAt"`
}
