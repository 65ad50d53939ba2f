package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults, loaded config, and runtime overrides in
// ascending priority and rebuilds a validated Config from the merged map.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ResolveConfig runs the provider then the resolver, the standard load path
// for binaries embedding this module.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.Server.Address) != "" {
		layer["server"] = map[string]any{
			"address": cfg.Server.Address,
		}
	}

	signing := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Signing.Secret) != "" {
		signing["secret"] = cfg.Signing.Secret
	}
	if includeZero || strings.TrimSpace(cfg.Signing.SignatureHeader) != "" {
		signing["signature_header"] = cfg.Signing.SignatureHeader
	}
	if includeZero || strings.TrimSpace(cfg.Signing.TimestampHeader) != "" {
		signing["timestamp_header"] = cfg.Signing.TimestampHeader
	}
	if includeZero || strings.TrimSpace(cfg.Signing.IdempotencyHeader) != "" {
		signing["idempotency_header"] = cfg.Signing.IdempotencyHeader
	}
	if includeZero || cfg.Signing.ReplayWindow > 0 {
		signing["replay_window"] = cfg.Signing.ReplayWindow
	}
	if len(signing) > 0 {
		layer["signing"] = signing
	}

	lifecycle := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Lifecycle.Secret) != "" {
		lifecycle["secret"] = cfg.Lifecycle.Secret
	}
	if includeZero || strings.TrimSpace(cfg.Lifecycle.Header) != "" {
		lifecycle["header"] = cfg.Lifecycle.Header
	}
	if len(lifecycle) > 0 {
		layer["lifecycle"] = lifecycle
	}

	dispatch := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Dispatch.EndpointURL) != "" {
		dispatch["endpoint_url"] = cfg.Dispatch.EndpointURL
	}
	if includeZero || len(cfg.Dispatch.TypeEndpoints) > 0 {
		dispatch["type_endpoints"] = copyStringMap(cfg.Dispatch.TypeEndpoints)
	}
	if includeZero || cfg.Dispatch.Timeout > 0 {
		dispatch["timeout"] = cfg.Dispatch.Timeout
	}
	if includeZero || cfg.Dispatch.MaxAttempts > 0 {
		dispatch["max_attempts"] = cfg.Dispatch.MaxAttempts
	}
	if includeZero || cfg.Dispatch.InitialBackoff > 0 {
		dispatch["initial_backoff"] = cfg.Dispatch.InitialBackoff
	}
	if includeZero || cfg.Dispatch.MaxBackoff > 0 {
		dispatch["max_backoff"] = cfg.Dispatch.MaxBackoff
	}
	if includeZero || cfg.Dispatch.FailOpen {
		dispatch["fail_open"] = cfg.Dispatch.FailOpen
	}
	if len(dispatch) > 0 {
		layer["dispatch"] = dispatch
	}

	if includeZero || strings.TrimSpace(cfg.Messaging.Provider) != "" {
		layer["messaging"] = map[string]any{
			"provider": cfg.Messaging.Provider,
		}
	}

	database := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Database.Driver) != "" {
		database["driver"] = cfg.Database.Driver
	}
	if includeZero || strings.TrimSpace(cfg.Database.DSN) != "" {
		database["dsn"] = cfg.Database.DSN
	}
	if includeZero || cfg.Database.Debug {
		database["debug"] = cfg.Database.Debug
	}
	if includeZero || cfg.Database.PingTimeout > 0 {
		database["ping_timeout"] = cfg.Database.PingTimeout
	}
	if len(database) > 0 {
		layer["database"] = database
	}

	if includeZero || cfg.Idempotency.TTL > 0 {
		layer["idempotency"] = map[string]any{
			"ttl": cfg.Idempotency.TTL,
		}
	}
	return layer
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
