package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

const loggerName = "crowdauth"

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type validatorBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	now             func() time.Time
	syncEngine      *IdentitySyncEngine
}

type Option func(*validatorBuilder)

func WithLogger(logger Logger) Option {
	return func(b *validatorBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *validatorBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *validatorBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *validatorBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *validatorBuilder) {
		b.optionsResolver = resolver
	}
}

// WithClock overrides the clock used for freshness decisions and UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(b *validatorBuilder) {
		b.now = now
	}
}

func WithSyncEngine(engine *IdentitySyncEngine) Option {
	return func(b *validatorBuilder) {
		b.syncEngine = engine
	}
}

// defaultValidatorBuilder leaves the logger unset so an explicit WithLogger
// is not outranked by a nop provider when resolveLogger runs.
func defaultValidatorBuilder(runtime Config) validatorBuilder {
	return validatorBuilder{
		runtimeConfig:   runtime,
		metricsRecorder: NopMetricsRecorder{},
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		now:             utcNow,
	}
}

func (b *validatorBuilder) resolveLogger() {
	b.loggerProvider, b.logger = glog.Resolve(loggerName, b.loggerProvider, b.logger)
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// ResolveConfig runs the same defaults < loaded < runtime layering the
// validator uses, for hosts that need the effective config up front.
func ResolveConfig(ctx context.Context, runtime Config, provider ConfigProvider, resolver OptionsResolver) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
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
		loader = StaticRawConfigLoader{}
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

// configToLayerMap drops zero values unless includeZero so a partial
// runtime config does not erase loaded values.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.RefreshInterval != 0 {
		layer["refresh_interval"] = cfg.RefreshInterval
	}
	if includeZero || len(cfg.AppGroups) > 0 {
		layer["app_groups"] = append([]string(nil), cfg.AppGroups...)
	}

	directory := map[string]any{}
	putString := func(key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			directory[key] = value
		}
	}
	putInt := func(key string, value int) {
		if includeZero || value != 0 {
			directory[key] = value
		}
	}
	putString("url", cfg.Directory.URL)
	putString("app_name", cfg.Directory.AppName)
	putString("app_password", cfg.Directory.AppPassword)
	putString("user_agent", cfg.Directory.UserAgent)
	putInt("timeout_seconds", cfg.Directory.TimeoutSeconds)
	putInt("max_retries", cfg.Directory.MaxRetries)
	putInt("retry_delay_ms", cfg.Directory.RetryDelayMS)
	putInt("max_redirects", cfg.Directory.MaxRedirects)
	if len(directory) > 0 {
		layer["directory"] = directory
	}
	return layer
}
