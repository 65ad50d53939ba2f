package dispatch

import (
	"fmt"
	"strings"

	"github.com/contractlane/go-webhooks/core"
)

type EndpointResolver interface {
	Resolve(eventType string) (string, error)
}

// ConfigEndpoints resolves endpoints from the dispatch configuration,
// preferring per-type overrides over the shared endpoint.
type ConfigEndpoints struct {
	Config core.DispatchConfig
}

func (r ConfigEndpoints) Resolve(eventType string) (string, error) {
	url := strings.TrimSpace(r.Config.EndpointFor(strings.TrimSpace(eventType)))
	if url == "" {
		return "", fmt.Errorf("dispatch: no endpoint configured for event type %q", strings.TrimSpace(eventType))
	}
	return url, nil
}

// StaticEndpoint sends every event type to one URL.
type StaticEndpoint string

func (e StaticEndpoint) Resolve(string) (string, error) {
	url := strings.TrimSpace(string(e))
	if url == "" {
		return "", fmt.Errorf("dispatch: endpoint is not configured")
	}
	return url, nil
}
