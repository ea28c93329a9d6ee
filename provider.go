package ongoingai

import (
	"net/url"
	"strings"
)

// providerHosts maps known API hostnames to provider names.
var providerHosts = map[string]string{
	"api.openai.com":                    "openai",
	"api.anthropic.com":                 "anthropic",
	"generativelanguage.googleapis.com": "google",
}

// DetectProvider classifies a client-shaped value by its configured base
// endpoint. It probes the plausible endpoint accessors and falls back to
// "unknown" for shapes it cannot read. Never fails.
func DetectProvider(client any) string {
	switch c := client.(type) {
	case nil:
		return "unknown"
	case interface{ BaseURL() string }:
		return ProviderForEndpoint(c.BaseURL())
	case interface{ Endpoint() string }:
		return ProviderForEndpoint(c.Endpoint())
	case string:
		return ProviderForEndpoint(c)
	}
	return "unknown"
}

// ProviderForEndpoint maps an endpoint URL to a provider name. Unknown
// hostnames resolve to the literal hostname; unparsable endpoints resolve
// to "unknown".
func ProviderForEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "unknown"
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "unknown"
	}
	host := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if host == "" {
		return "unknown"
	}

	if provider, ok := providerHosts[host]; ok {
		return provider
	}
	if strings.HasSuffix(host, ".openai.azure.com") {
		return "azure_openai"
	}
	return host
}
