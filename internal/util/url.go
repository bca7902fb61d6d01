package util

import (
	"net"
	"net/url"
	"path"
	"strconv"
)

// ResolveURLPath resolves a path or absolute URL against a base URL.
// If pathOrURL is already an absolute URL (has a scheme like https://), it is
// returned as-is. Otherwise it is joined with the base URL's path, preserving
// any prefix the base carries.
//
// path.Join is used instead of url.ResolveReference() because the latter
// treats paths starting with "/" as absolute references per RFC 3986 and
// would discard the base prefix.
//
// Examples:
//   - ResolveURLPath("https://quote-api.jup.ag/v6", "/quote") -> "https://quote-api.jup.ag/v6/quote"
//   - ResolveURLPath("https://quote-api.jup.ag/v6", "https://other/quote") -> "https://other/quote"
func ResolveURLPath(baseURL, pathOrURL string) string {
	if baseURL == "" {
		return pathOrURL
	}
	if pathOrURL == "" {
		return baseURL
	}

	if parsed, err := url.Parse(pathOrURL); err == nil && parsed.IsAbs() {
		return pathOrURL
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return pathOrURL
	}

	base.Path = path.Join(base.Path, pathOrURL)
	return base.String()
}

// HTTPToWsURL rewrites an http(s) RPC URL to its websocket counterpart.
// Hosted endpoints serve both protocols on the default port, so the scheme
// swaps in place. When the URL names an explicit port the websocket
// listener sits one port up, matching the local validator layout
// (8899 becomes 8900).
func HTTPToWsURL(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return rpcURL
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	default:
		return rpcURL
	}

	if port := parsed.Port(); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			parsed.Host = net.JoinHostPort(parsed.Hostname(), strconv.Itoa(n+1))
		}
	}

	return parsed.String()
}
