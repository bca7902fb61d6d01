package dex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/util"
	"github.com/tidemill/solgate/internal/version"
)

const (
	DefaultQuoteTimeout = 5 * time.Second
	// Swap execution waits on chain confirmation inside the venue service,
	// so it gets a far longer leash than a quote fetch.
	DefaultSwapTimeout = 30 * time.Second
	DefaultContentType = "application/json"
	MaxResponseSize    = 4 * 1024 * 1024

	DefaultMaxIdleConnections        = 16
	DefaultMaxIdleConnectionsPerHost = 4
	DefaultIdleConnTimeout           = 60 * time.Second
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// NewHTTPClient builds the shared venue client. Quote traffic is
// latency-bound rather than connection-bound, so the idle pool stays small.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        DefaultMaxIdleConnections,
			MaxIdleConnsPerHost: DefaultMaxIdleConnectionsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
	}
}

func userAgent() string {
	return fmt.Sprintf("%s-dex/%s", version.Name, version.Version)
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", DefaultContentType)
	httpReq.Header.Set("User-Agent", userAgent())
	return doJSON(client, httpReq, out)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, out any) error {
	body, err := jsonCodec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialise request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", DefaultContentType)
	httpReq.Header.Set("Accept", DefaultContentType)
	httpReq.Header.Set("User-Agent", userAgent())
	return doJSON(client, httpReq, out)
}

func doJSON(client *http.Client, httpReq *http.Request, out any) error {
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, upstreamMessage(body))
	}
	if err := jsonCodec.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// upstreamMessage digs the human-readable complaint out of an error body.
func upstreamMessage(body []byte) string {
	for _, key := range []string{"error", "msg", "message"} {
		if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	if len(body) > 120 {
		body = body[:120]
	}
	return strings.TrimSpace(string(body))
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// swapOrder is the uniform execution contract every venue service accepts.
// Quoting speaks each venue's native wire shape, but execution is delegated
// to services that sign and land the transaction out of process, and those
// all take the same order document.
type swapOrder struct {
	Quote               *domain.Quote `json:"quote"`
	UserPublicKey       string        `json:"userPublicKey"`
	MaxSlippageBps      int           `json:"maxSlippageBps"`
	PriorityFeeLamports uint64        `json:"priorityFeeLamports,omitempty"`
	ComputeUnits        uint32        `json:"computeUnits,omitempty"`
}

type swapReceipt struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	InAmount  string `json:"inAmount"`
	OutAmount string `json:"outAmount"`
	Error     string `json:"error"`
}

func executeSwapOrder(ctx context.Context, client *http.Client, baseURL, providerName string, req domain.SwapRequest) (*domain.SwapResult, error) {
	if req.Quote == nil {
		return nil, fmt.Errorf("swap requires a quote")
	}

	swapCtx, cancel := context.WithTimeout(ctx, DefaultSwapTimeout)
	defer cancel()

	started := time.Now()
	order := swapOrder{
		Quote:               req.Quote,
		UserPublicKey:       req.UserPubkey,
		MaxSlippageBps:      req.MaxSlippageBps,
		PriorityFeeLamports: req.PriorityFeeLamports,
		ComputeUnits:        req.ComputeUnits,
	}

	var receipt swapReceipt
	if err := postJSON(swapCtx, client, util.ResolveURLPath(baseURL, "/swap"), order, &receipt); err != nil {
		return nil, err
	}

	return &domain.SwapResult{
		Success:     receipt.Success,
		Signature:   receipt.Signature,
		Provider:    providerName,
		InAmount:    orDefault(receipt.InAmount, req.Quote.InAmount),
		OutAmount:   orDefault(receipt.OutAmount, req.Quote.OutAmount),
		Error:       receipt.Error,
		DurationMs:  time.Since(started).Milliseconds(),
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}
