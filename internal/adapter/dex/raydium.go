package dex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
	"github.com/tidemill/solgate/internal/util"
)

// raydiumEnvelope wraps every v3 compute response; failures come back with
// HTTP 200 and success=false.
type raydiumEnvelope struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Data    raydiumSwapData `json:"data"`
}

type raydiumSwapData struct {
	InputMint      string  `json:"inputMint"`
	InputAmount    string  `json:"inputAmount"`
	OutputMint     string  `json:"outputMint"`
	OutputAmount   string  `json:"outputAmount"`
	PriceImpactPct float64 `json:"priceImpactPct"`
	RoutePlan      []struct {
		PoolID     string `json:"poolId"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
	} `json:"routePlan"`
}

// RaydiumProvider quotes through the Raydium v3 trade API.
type RaydiumProvider struct {
	name    string
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  logger.StyledLogger
}

func NewRaydiumProvider(name, baseURL string, timeout time.Duration, client *http.Client, styledLogger logger.StyledLogger) *RaydiumProvider {
	return &RaydiumProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  client,
		logger:  styledLogger,
	}
}

func (p *RaydiumProvider) Name() string {
	return p.name
}

func (p *RaydiumProvider) GetQuote(ctx context.Context, req domain.QuoteRequest) (*domain.Quote, error) {
	quoteCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	values := url.Values{}
	values.Set("inputMint", req.InputMint)
	values.Set("outputMint", req.OutputMint)
	values.Set("amount", req.Amount)
	values.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	values.Set("txVersion", "V0")

	started := time.Now()
	var envelope raydiumEnvelope
	if err := getJSON(quoteCtx, p.client, fmt.Sprintf("%s?%s", util.ResolveURLPath(p.baseURL, "/compute/swap-base-in"), values.Encode()), &envelope); err != nil {
		return nil, fmt.Errorf("raydium quote: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("raydium quote: %s", orDefault(envelope.Msg, "request rejected"))
	}
	if envelope.Data.OutputAmount == "" {
		return nil, fmt.Errorf("raydium quote: missing outputAmount")
	}

	// Raydium routes are sequential legs with no split, so every hop
	// carries the full amount.
	route := make([]domain.RouteHop, 0, len(envelope.Data.RoutePlan))
	for _, hop := range envelope.Data.RoutePlan {
		route = append(route, domain.RouteHop{
			AMM:        hop.PoolID,
			Label:      p.name,
			InputMint:  hop.InputMint,
			OutputMint: hop.OutputMint,
			Percent:    100,
		})
	}

	return &domain.Quote{
		Provider:      p.name,
		InputMint:     orDefault(envelope.Data.InputMint, req.InputMint),
		OutputMint:    orDefault(envelope.Data.OutputMint, req.OutputMint),
		InAmount:      orDefault(envelope.Data.InputAmount, req.Amount),
		OutAmount:     envelope.Data.OutputAmount,
		PriceImpactPc: envelope.Data.PriceImpactPct,
		Route:         route,
		FetchedAt:     time.Now().UTC(),
		LatencyMs:     time.Since(started).Milliseconds(),
	}, nil
}

func (p *RaydiumProvider) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (*domain.SwapResult, error) {
	return executeSwapOrder(ctx, p.client, p.baseURL, p.name, req)
}

var _ ports.SwapProvider = (*RaydiumProvider)(nil)
