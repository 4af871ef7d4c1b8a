package exporter

import (
	"github.com/dynatrace-oss/dynatrace-metric-utils-go/metric/apiconstants"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dtmetrics/internal/delivery"
)

// EndpointStrategy selects where metrics are sent.
type EndpointStrategy uint8

// Endpoint strategies.
const (
	// StrategyExplicit sends to the configured URL with the configured token.
	StrategyExplicit EndpointStrategy = iota + 1
	// StrategyLocalAgent sends to the co-located agent without a token.
	StrategyLocalAgent
)

// String returns a human-readable strategy name.
func (s EndpointStrategy) String() string {
	switch s {
	case StrategyExplicit:
		return "explicit"
	case StrategyLocalAgent:
		return "local_agent"
	default:
		return "unknown"
	}
}

// Endpoint is the ingest target resolved once at construction.
type Endpoint struct {
	Strategy EndpointStrategy
	URL      string
	Token    string
}

func (e Endpoint) target() delivery.Target {
	return delivery.Target{URL: e.URL, Token: e.Token}
}

// ResolveEndpoint picks the endpoint strategy for cfg. Without an explicit
// URL the local agent default is used and any configured token is dropped.
func ResolveEndpoint(log logrus.FieldLogger, cfg *Config) Endpoint {
	if cfg.EndpointURL != "" {
		if cfg.APIToken == "" {
			log.Warn("No API token configured for explicit endpoint, requests will be unauthenticated")
		}

		return Endpoint{
			Strategy: StrategyExplicit,
			URL:      cfg.EndpointURL,
			Token:    cfg.APIToken,
		}
	}

	if cfg.APIToken != "" {
		log.Warn("API token is ignored when sending to the local agent")
	}

	return Endpoint{
		Strategy: StrategyLocalAgent,
		URL:      apiconstants.GetDefaultOneAgentEndpoint(),
	}
}
