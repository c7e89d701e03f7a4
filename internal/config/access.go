package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

// Redacted returns a copy of c with secrets replaced.
func (c *Config) Redacted() *Config {
	out := *c
	if out.API.Token != "" {
		out.API.Token = redacted
	}
	out.API.Tokens = make([]APIToken, len(c.API.Tokens))
	for i, t := range c.API.Tokens {
		out.API.Tokens[i] = APIToken{Token: redacted, Scopes: t.Scopes}
	}
	if out.Notify.Webhook.Secret != "" {
		out.Notify.Webhook.Secret = redacted
	}
	if out.Notify.Redis.Password != "" {
		out.Notify.Redis.Password = redacted
	}
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		if len(p.Env) > 0 {
			env := make(map[string]string, len(p.Env))
			for k := range p.Env {
				env[k] = redacted
			}
			p.Env = env
		}
		out.Providers[name] = p
	}
	return &out
}

// GetPath retrieves a value by dot-notation path ("worker.interval") or
// entity address ("provider:claude", "provider:*"). Secrets are redacted.
func (c *Config) GetPath(path string) (any, error) {
	r := c.Redacted()

	if entityType, name, ok := strings.Cut(path, ":"); ok {
		if entityType != "provider" {
			return nil, errors.Newf("unsupported entity type %q", entityType)
		}
		if name == "*" {
			return r.Providers, nil
		}
		p, ok := r.Providers[name]
		if !ok {
			return nil, errors.Newf("provider %q not found", name)
		}
		return p, nil
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config")
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return getValue(m, path)
}

func getValue(m map[string]any, path string) (any, error) {
	var current any = m
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		node, ok := current.(map[string]any)
		if !ok {
			return nil, errors.Newf("path %q breaks at %q (not a map)", path, part)
		}
		val, exists := node[part]
		if !exists {
			return nil, errors.Newf("path %q: key %q not found", path, part)
		}
		current = val
	}
	return current, nil
}
