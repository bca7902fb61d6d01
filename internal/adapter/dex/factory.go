package dex

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

// Venue identifiers matched case-insensitively against configured names.
const (
	ProviderJupiter = "jupiter"
	ProviderRaydium = "raydium"
	ProviderOrca    = "orca"
	ProviderMeteora = "meteora"
)

// ProviderSpec describes one venue to construct. Name is kept verbatim as
// the display name carried on quotes and events.
type ProviderSpec struct {
	Name    string
	BaseURL string
	Timeout time.Duration
}

// NewProvider builds the venue adapter for a spec. Jupiter and Raydium get
// their native wire mappings; anything else falls back to the flat quote
// contract, the same way unknown platforms fall back to a compatible
// profile elsewhere in this codebase.
func NewProvider(spec ProviderSpec, client *http.Client, styledLogger logger.StyledLogger) (ports.SwapProvider, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("quote provider requires a name")
	}
	if spec.BaseURL == "" {
		return nil, fmt.Errorf("quote provider %q requires a base url", spec.Name)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultQuoteTimeout
	}

	switch strings.ToLower(spec.Name) {
	case ProviderJupiter:
		return NewJupiterProvider(spec.Name, spec.BaseURL, timeout, client, styledLogger), nil
	case ProviderRaydium:
		return NewRaydiumProvider(spec.Name, spec.BaseURL, timeout, client, styledLogger), nil
	default:
		return NewGenericProvider(spec.Name, spec.BaseURL, timeout, client, styledLogger), nil
	}
}

// BuildProviders constructs every spec in order. Order matters downstream:
// comparison events list outcomes in registration order.
func BuildProviders(specs []ProviderSpec, client *http.Client, styledLogger logger.StyledLogger) ([]ports.SwapProvider, error) {
	providers := make([]ports.SwapProvider, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		key := strings.ToLower(spec.Name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate quote provider %q", spec.Name)
		}
		provider, err := NewProvider(spec, client, styledLogger)
		if err != nil {
			return nil, err
		}
		seen[key] = true
		providers = append(providers, provider)
	}
	return providers, nil
}
