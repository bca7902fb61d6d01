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

// flatQuote is the plain quote contract spoken by venue-fronting services
// that have no hosted aggregation API of their own (Orca, Meteora).
type flatQuote struct {
	InputMint      string            `json:"inputMint"`
	InAmount       string            `json:"inAmount"`
	OutputMint     string            `json:"outputMint"`
	OutAmount      string            `json:"outAmount"`
	PriceImpactPct float64           `json:"priceImpactPct"`
	Route          []domain.RouteHop `json:"route"`
}

// GenericProvider covers any venue whose quote service speaks the flat
// contract. The display name comes from configuration so one implementation
// serves several venues.
type GenericProvider struct {
	name    string
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  logger.StyledLogger
}

func NewGenericProvider(name, baseURL string, timeout time.Duration, client *http.Client, styledLogger logger.StyledLogger) *GenericProvider {
	return &GenericProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  client,
		logger:  styledLogger,
	}
}

func (p *GenericProvider) Name() string {
	return p.name
}

func (p *GenericProvider) GetQuote(ctx context.Context, req domain.QuoteRequest) (*domain.Quote, error) {
	quoteCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	values := url.Values{}
	values.Set("inputMint", req.InputMint)
	values.Set("outputMint", req.OutputMint)
	values.Set("amount", req.Amount)
	values.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	started := time.Now()
	var response flatQuote
	if err := getJSON(quoteCtx, p.client, fmt.Sprintf("%s?%s", util.ResolveURLPath(p.baseURL, "/quote"), values.Encode()), &response); err != nil {
		return nil, fmt.Errorf("%s quote: %w", strings.ToLower(p.name), err)
	}
	if response.OutAmount == "" {
		return nil, fmt.Errorf("%s quote: missing outAmount", strings.ToLower(p.name))
	}

	return &domain.Quote{
		Provider:      p.name,
		InputMint:     orDefault(response.InputMint, req.InputMint),
		OutputMint:    orDefault(response.OutputMint, req.OutputMint),
		InAmount:      orDefault(response.InAmount, req.Amount),
		OutAmount:     response.OutAmount,
		PriceImpactPc: response.PriceImpactPct,
		Route:         response.Route,
		FetchedAt:     time.Now().UTC(),
		LatencyMs:     time.Since(started).Milliseconds(),
	}, nil
}

func (p *GenericProvider) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (*domain.SwapResult, error) {
	return executeSwapOrder(ctx, p.client, p.baseURL, p.name, req)
}

var _ ports.SwapProvider = (*GenericProvider)(nil)
