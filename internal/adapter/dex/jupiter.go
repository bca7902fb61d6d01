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

// jupiterQuote is the v6 quote response. Price impact arrives as a decimal
// string and the route is nested under swapInfo, both quirks of that API.
type jupiterQuote struct {
	InputMint      string `json:"inputMint"`
	InAmount       string `json:"inAmount"`
	OutputMint     string `json:"outputMint"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	RoutePlan      []struct {
		SwapInfo struct {
			AmmKey     string `json:"ammKey"`
			Label      string `json:"label"`
			InputMint  string `json:"inputMint"`
			OutputMint string `json:"outputMint"`
		} `json:"swapInfo"`
		Percent int `json:"percent"`
	} `json:"routePlan"`
}

// JupiterProvider quotes through the Jupiter v6 aggregation API.
type JupiterProvider struct {
	name    string
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  logger.StyledLogger
}

func NewJupiterProvider(name, baseURL string, timeout time.Duration, client *http.Client, styledLogger logger.StyledLogger) *JupiterProvider {
	return &JupiterProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  client,
		logger:  styledLogger,
	}
}

func (p *JupiterProvider) Name() string {
	return p.name
}

func (p *JupiterProvider) GetQuote(ctx context.Context, req domain.QuoteRequest) (*domain.Quote, error) {
	quoteCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	values := url.Values{}
	values.Set("inputMint", req.InputMint)
	values.Set("outputMint", req.OutputMint)
	values.Set("amount", req.Amount)
	values.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	started := time.Now()
	var response jupiterQuote
	if err := getJSON(quoteCtx, p.client, fmt.Sprintf("%s?%s", util.ResolveURLPath(p.baseURL, "/quote"), values.Encode()), &response); err != nil {
		return nil, fmt.Errorf("jupiter quote: %w", err)
	}
	if response.OutAmount == "" {
		return nil, fmt.Errorf("jupiter quote: missing outAmount")
	}

	impact := 0.0
	if response.PriceImpactPct != "" {
		parsed, err := strconv.ParseFloat(response.PriceImpactPct, 64)
		if err != nil {
			return nil, fmt.Errorf("jupiter quote: bad priceImpactPct %q", response.PriceImpactPct)
		}
		impact = parsed
	}

	route := make([]domain.RouteHop, 0, len(response.RoutePlan))
	for _, hop := range response.RoutePlan {
		route = append(route, domain.RouteHop{
			AMM:        hop.SwapInfo.AmmKey,
			Label:      hop.SwapInfo.Label,
			InputMint:  hop.SwapInfo.InputMint,
			OutputMint: hop.SwapInfo.OutputMint,
			Percent:    hop.Percent,
		})
	}

	return &domain.Quote{
		Provider:      p.name,
		InputMint:     orDefault(response.InputMint, req.InputMint),
		OutputMint:    orDefault(response.OutputMint, req.OutputMint),
		InAmount:      orDefault(response.InAmount, req.Amount),
		OutAmount:     response.OutAmount,
		PriceImpactPc: impact,
		Route:         route,
		FetchedAt:     time.Now().UTC(),
		LatencyMs:     time.Since(started).Milliseconds(),
	}, nil
}

func (p *JupiterProvider) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (*domain.SwapResult, error) {
	return executeSwapOrder(ctx, p.client, p.baseURL, p.name, req)
}

var _ ports.SwapProvider = (*JupiterProvider)(nil)
