package config

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/promptq/internal/provider"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvPrefix is the prefix of environment overrides, e.g.
// PROMPTQ_EXECUTOR_TIMEOUT=10m.
const EnvPrefix = "PROMPTQ_"

var ErrInvalid = errors.New("invalid configuration")

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then PROMPTQ_* environment overrides. A .env file next
// to the config file, or in the working directory, is loaded first without
// overriding variables that are already set.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	dotenvDirs := []string{"."}
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve config path %q", path)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, errors.WithHint(
				errors.Newf("config file not found: %s", absPath),
				"Check the path or pass --config")
		}
		if info.IsDir() {
			absPath = filepath.Join(absPath, "config.yaml")
		}
		cfg.SourcePath = absPath
		dotenvDirs = append([]string{filepath.Dir(absPath)}, dotenvDirs...)
	}

	if err := loadDotEnv(dotenvDirs...); err != nil {
		return nil, err
	}

	if cfg.SourcePath != "" {
		if err := verifyConfigHash(cfg.SourcePath, false); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(cfg.SourcePath)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", filepath.Base(cfg.SourcePath))
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Wrap(err, "parse environment overrides")
	}

	applyDerivedDefaults(cfg)

	if cfg.SourcePath != "" && cfg.Service.RequireConfigHash {
		if err := verifyConfigHash(cfg.SourcePath, true); err != nil {
			return nil, err
		}
	}

	if err := validate(cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid configuration"), ErrInvalid)
	}
	return cfg, nil
}

// DiscoverConfigPath finds a config file: $PROMPTQ_CONFIG, ./promptq.yaml,
// ~/.config/promptq/config.yaml, /etc/promptq/config.yaml. It returns ""
// when none exists, in which case defaults and environment apply.
func DiscoverConfigPath() string {
	candidates := []string{os.Getenv("PROMPTQ_CONFIG"), "promptq.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "promptq", "config.yaml"))
	}
	candidates = append(candidates, "/etc/promptq/config.yaml")

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func loadDotEnv(dirs ...string) error {
	for _, dir := range dirs {
		if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil {
			var pathErr *os.PathError
			if errors.As(err, &pathErr) {
				continue
			}
			return errors.Wrapf(err, "load %s", filepath.Join(dir, ".env"))
		}
	}
	return nil
}

// applyDerivedDefaults fills values that depend on other fields.
func applyDerivedDefaults(cfg *Config) {
	if len(cfg.Providers) == 0 {
		cfg.Providers = map[string]ProviderConfig{
			provider.TypeClaude: {Type: provider.TypeClaude},
		}
	}
	for name, p := range cfg.Providers {
		if p.Type == "" {
			p.Type = provider.TypeClaude
			cfg.Providers[name] = p
		}
	}
	if cfg.Database.Path != ":memory:" && cfg.SourcePath != "" && !filepath.IsAbs(cfg.Database.Path) {
		cfg.Database.Path = filepath.Join(filepath.Dir(cfg.SourcePath), cfg.Database.Path)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validate where they
// matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	switch cfg.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch cfg.Service.LogFormat {
	case "json", "text":
	default:
		return errors.Newf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Database.Path == "" {
		return errors.New("database.path is required")
	}

	if cfg.Executor.Timeout <= 0 {
		return errors.New("executor.timeout must be positive")
	}
	if cfg.Executor.KillGrace <= 0 {
		return errors.New("executor.kill_grace must be positive")
	}
	if cfg.Executor.PermissionMode == "" {
		return errors.New("executor.permission_mode is required")
	}

	if cfg.Worker.Interval <= 0 {
		return errors.New("worker.interval must be positive")
	}
	if cfg.Worker.LeaseMargin < 0 {
		return errors.New("worker.lease_margin must not be negative")
	}

	for _, name := range sortedKeys(cfg.Providers) {
		p := cfg.Providers[name]
		switch p.Type {
		case provider.TypeClaude:
		case provider.TypeCommand:
			if p.Binary == "" {
				return errors.Newf("providers.%s.binary is required for command providers", name)
			}
		default:
			return errors.Newf("providers.%s.type must be claude or command (got %q)", name, p.Type)
		}
		if err := checkUnresolved("providers."+name+".extra_args", p.ExtraArgs); err != nil {
			return err
		}
		for k, v := range p.Env {
			if err := checkUnresolved("providers."+name+".env."+k, v); err != nil {
				return err
			}
		}
	}
	if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
		return errors.Newf("default_provider %q is not defined under providers", cfg.DefaultProvider)
	}

	if err := validateNotify(&cfg.Notify); err != nil {
		return err
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return errors.New("api.listen is required when the api is enabled")
		}
		if err := checkUnresolved("api.token", cfg.API.Token); err != nil {
			return err
		}
		for i, tok := range cfg.API.Tokens {
			field := "api.tokens[" + strconv.Itoa(i) + "]"
			if tok.Token == "" {
				return errors.Newf("%s.token is required", field)
			}
			if err := checkUnresolved(field+".token", tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return errors.Newf("%s.scopes must be non-empty", field)
			}
		}
		if cfg.API.Token == "" && len(cfg.API.Tokens) == 0 {
			return errors.WithHint(
				errors.New("api is enabled but no tokens are configured"),
				"Set api.token or PROMPTQ_API_TOKEN, or add api.tokens")
		}
		if cfg.API.RateLimit.PerSecond < 0 || cfg.API.RateLimit.Burst < 0 {
			return errors.New("api.rate_limit values must not be negative")
		}
	}
	return nil
}

func validateNotify(n *NotifyConfig) error {
	if n.Timeout <= 0 {
		return errors.New("notify.timeout must be positive")
	}
	if n.MaxReplyChars < 0 {
		return errors.New("notify.max_reply_chars must not be negative")
	}

	used := map[string]bool{n.Sink: true}
	for _, s := range n.Routes {
		used[s] = true
	}
	for s := range used {
		switch s {
		case SinkLog, SinkNone:
		case SinkWebhook:
			if n.Webhook.URL == "" {
				return errors.New("notify.webhook.url is required when the webhook sink is used")
			}
			if err := checkUnresolved("notify.webhook.secret", n.Webhook.Secret); err != nil {
				return err
			}
		case SinkRedis:
			if n.Redis.Addr == "" {
				return errors.New("notify.redis.addr is required when the redis sink is used")
			}
		default:
			return errors.Newf("unknown notification sink %q (want log, webhook, redis or none)", s)
		}
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return errors.Newf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
