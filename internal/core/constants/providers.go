package constants

const (
	ProviderJupiter = "jupiter"
	ProviderRaydium = "raydium"
	ProviderOrca    = "orca"

	// Provider display names
	ProviderDisplayJupiter = "Jupiter"
	ProviderDisplayRaydium = "Raydium"
	ProviderDisplayOrca    = "Orca"

	// Default quote API bases. Overridable per provider in config.
	DefaultJupiterBaseURL = "https://quote-api.jup.ag/v6"
	DefaultRaydiumBaseURL = "https://transaction-v1.raydium.io"
	DefaultOrcaBaseURL    = "https://api.orca.so/v2/solana"
)
