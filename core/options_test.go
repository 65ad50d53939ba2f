package core

import (
	"context"
	"testing"
	"time"
)

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}

func TestCfgxConfigProvider_MergesDefaults(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"signing": map[string]any{
			"secret": "shh",
		},
	}})

	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Signing.Secret != "shh" {
		t.Fatalf("expected loaded secret, got %q", cfg.Signing.Secret)
	}
	if cfg.Signing.SignatureHeader != "x-signature" {
		t.Fatalf("expected default signature header to survive, got %q", cfg.Signing.SignatureHeader)
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts, got %d", cfg.Dispatch.MaxAttempts)
	}
}

func TestResolveConfig_RuntimeOverridesLoaded(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name": "from-config",
		"dispatch": map[string]any{
			"endpoint_url": "https://config.example.com/hook",
		},
	}})

	runtime := Config{
		ServiceName: "from-runtime",
	}

	cfg, err := ResolveConfig(context.Background(), provider, GoOptionsResolver{}, runtime)
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to win, got %q", cfg.ServiceName)
	}
	if cfg.Dispatch.EndpointURL != "https://config.example.com/hook" {
		t.Fatalf("expected config layer endpoint, got %q", cfg.Dispatch.EndpointURL)
	}
	if cfg.Signing.ReplayWindow != 5*time.Minute {
		t.Fatalf("expected default replay window, got %v", cfg.Signing.ReplayWindow)
	}
}

func TestResolveConfig_NilCollaboratorsUseDefaults(t *testing.T) {
	cfg, err := ResolveConfig(context.Background(), nil, nil, Config{})
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.ServiceName != "webhooks" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
}
