package config

import (
	"time"

	"github.com/mattjoyce/promptq/internal/provider"
)

// Config represents the complete promptq configuration. YAML is the base
// layer; PROMPTQ_* environment variables override individual fields.
type Config struct {
	Service         ServiceConfig             `yaml:"service" envPrefix:"SERVICE_"`
	Database        DatabaseConfig            `yaml:"database" envPrefix:"DATABASE_"`
	Executor        ExecutorConfig            `yaml:"executor" envPrefix:"EXECUTOR_"`
	Worker          WorkerConfig              `yaml:"worker" envPrefix:"WORKER_"`
	Notify          NotifyConfig              `yaml:"notify" envPrefix:"NOTIFY_"`
	API             APIConfig                 `yaml:"api" envPrefix:"API_"`
	Metrics         MetricsConfig             `yaml:"metrics" envPrefix:"METRICS_"`
	DefaultProvider string                    `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	Providers       map[string]ProviderConfig `yaml:"providers"`

	// SourcePath is the file the config was loaded from, empty when built
	// from defaults and environment only.
	SourcePath string `yaml:"-"`
}

type ServiceConfig struct {
	Name      string `yaml:"name" env:"NAME"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
	// RequireConfigHash refuses to start unless <config>.b3 exists and matches.
	RequireConfigHash bool `yaml:"require_config_hash" env:"REQUIRE_CONFIG_HASH"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type ExecutorConfig struct {
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	KillGrace      time.Duration `yaml:"kill_grace" env:"KILL_GRACE"`
	PermissionMode string        `yaml:"permission_mode" env:"PERMISSION_MODE"`
}

type WorkerConfig struct {
	Interval      time.Duration `yaml:"interval" env:"INTERVAL"`
	Autostart     bool          `yaml:"autostart" env:"AUTOSTART"`
	LeaseRecovery bool          `yaml:"lease_recovery" env:"LEASE_RECOVERY"`
	LeaseMargin   time.Duration `yaml:"lease_margin" env:"LEASE_MARGIN"`
}

type NotifyConfig struct {
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxReplyChars int           `yaml:"max_reply_chars" env:"MAX_REPLY_CHARS"`
	// Sink is the fallback delivery layer: log, webhook, redis or none.
	Sink string `yaml:"sink" env:"SINK"`
	// Routes maps a channel platform to a sink name.
	Routes  map[string]string `yaml:"routes,omitempty"`
	Webhook WebhookConfig     `yaml:"webhook" envPrefix:"WEBHOOK_"`
	Redis   RedisConfig       `yaml:"redis" envPrefix:"REDIS_"`
}

type WebhookConfig struct {
	URL    string `yaml:"url" env:"URL"`
	Secret string `yaml:"secret" env:"SECRET"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Listen  string `yaml:"listen" env:"LISTEN"`
	// Token is a single full-access bearer token. Prefer Tokens for scoped
	// access.
	Token     string          `yaml:"token" env:"TOKEN"`
	Tokens    []APIToken      `yaml:"tokens,omitempty"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// RateLimitConfig bounds POST /jobs. PerSecond 0 disables limiting.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" env:"PER_SECOND"`
	Burst     int     `yaml:"burst" env:"BURST"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

type ProviderConfig struct {
	Type      string            `yaml:"type"`
	Binary    string            `yaml:"binary,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	ExtraArgs string            `yaml:"extra_args,omitempty"`
	Model     string            `yaml:"model,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// Sink names accepted by notify.sink and notify.routes.
const (
	SinkLog     = "log"
	SinkWebhook = "webhook"
	SinkRedis   = "redis"
	SinkNone    = "none"
)

// Defaults returns a Config with every field at its default.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "promptq",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Database: DatabaseConfig{
			Path: "./data/promptq.db",
		},
		Executor: ExecutorConfig{
			Timeout:        5 * time.Minute,
			KillGrace:      5 * time.Second,
			PermissionMode: "bypassPermissions",
		},
		Worker: WorkerConfig{
			Interval:      3 * time.Second,
			Autostart:     true,
			LeaseRecovery: true,
			LeaseMargin:   time.Minute,
		},
		Notify: NotifyConfig{
			Timeout:       10 * time.Second,
			MaxReplyChars: 4000,
			Sink:          SinkLog,
			Redis:         RedisConfig{Prefix: "promptq"},
		},
		API: APIConfig{
			Enabled:   false,
			Listen:    "127.0.0.1:8377",
			RateLimit: RateLimitConfig{PerSecond: 2, Burst: 10},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "promptq",
		},
		DefaultProvider: provider.TypeClaude,
		Providers:       make(map[string]ProviderConfig),
	}
}

// LeaseDuration is how long a job may stay running before it is presumed
// orphaned. The executor always kills its process well within this.
func (c *Config) LeaseDuration() time.Duration {
	return c.Executor.Timeout + c.Executor.KillGrace + c.Worker.LeaseMargin
}

// ProviderSpecs converts the providers section for provider.NewRegistryFromSpecs.
func (c *Config) ProviderSpecs() []provider.Spec {
	specs := make([]provider.Spec, 0, len(c.Providers))
	for _, name := range sortedKeys(c.Providers) {
		p := c.Providers[name]
		specs = append(specs, provider.Spec{
			Name:      name,
			Type:      p.Type,
			Binary:    p.Binary,
			Args:      p.Args,
			ExtraArgs: p.ExtraArgs,
			Model:     p.Model,
			Env:       p.Env,
		})
	}
	return specs
}
