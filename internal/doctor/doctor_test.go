package doctor

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/promptq/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	cfg := config.Defaults()
	cfg.Database.Path = filepath.Join(t.TempDir(), "promptq.db")
	cfg.Providers = map[string]config.ProviderConfig{
		"claude": {Type: "claude"},
		"echo":   {Type: "command", Binary: "/bin/echo"},
	}
	return cfg
}

// allFound resolves every binary.
func allFound(name string) (string, error) { return name, nil }

func lookPathMissing(missing ...string) Option {
	return WithLookPath(func(name string) (string, error) {
		for _, m := range missing {
			if name == m {
				return "", errors.New("not found")
			}
		}
		return name, nil
	})
}

func hasIssue(issues []Issue, field, substr string) bool {
	for _, i := range issues {
		if i.Field == field && strings.Contains(i.Message, substr) {
			return true
		}
	}
	return false
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t), WithLookPath(allFound)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
}

func TestValidate_MissingDefaultProviderBinary(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t), lookPathMissing("claude")).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "providers.claude.binary", "claude not found") {
		t.Fatalf("missing provider error: %v", r.Errors)
	}
}

func TestValidate_MissingSecondaryProviderBinaryWarns(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t), lookPathMissing("/bin/echo")).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if !hasIssue(r.Warnings, "providers.echo.binary", "not found") {
		t.Fatalf("missing warning: %v", r.Warnings)
	}
}

func TestValidate_DatabaseDirectory(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Database.Path = filepath.Join(t.TempDir(), "missing", "promptq.db")
	r := New(cfg, WithLookPath(allFound)).Validate()
	if !r.Valid || !hasIssue(r.Warnings, "database.path", "will be created") {
		t.Fatalf("unexpected result: %+v", r)
	}

	cfg.Database.Path = ":memory:"
	r = New(cfg, WithLookPath(allFound)).Validate()
	if !hasIssue(r.Warnings, "database.path", "do not survive") {
		t.Fatalf("expected in-memory warning: %v", r.Warnings)
	}
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"jobs:ro", "events:ro"}},
		{Token: "b", Scopes: []string{"jobs:admin"}},
		{Token: "c"},
	}
	r := New(cfg, WithLookPath(allFound)).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "api.tokens[1].scopes[0]", `"jobs:admin"`) {
		t.Fatalf("missing scope error: %v", r.Errors)
	}
	if !hasIssue(r.Warnings, "api.tokens[2].scopes", "no scopes") {
		t.Fatalf("missing empty-scope warning: %v", r.Warnings)
	}
	if len(r.Errors) != 1 {
		t.Fatalf("expected exactly one error, got %v", r.Errors)
	}
}

func TestValidate_APIExposure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		listen   string
		rate     float64
		wantWarn []string
		wantErr  bool
	}{
		{name: "loopback", listen: "127.0.0.1:8377", rate: 0},
		{name: "localhost", listen: "localhost:8377", rate: 0},
		{name: "public with limit", listen: "0.0.0.0:8377", rate: 2, wantWarn: []string{"api.listen"}},
		{name: "public without limit", listen: ":8377", rate: 0, wantWarn: []string{"api.listen", "api.rate_limit"}},
		{name: "garbage", listen: "nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.API.Enabled = true
			cfg.API.Listen = tt.listen
			cfg.API.RateLimit.PerSecond = tt.rate
			r := New(cfg, WithLookPath(allFound)).Validate()
			if tt.wantErr {
				if r.Valid {
					t.Fatal("expected invalid")
				}
				return
			}
			if len(r.Warnings) != len(tt.wantWarn) {
				t.Fatalf("warnings = %v, want fields %v", r.Warnings, tt.wantWarn)
			}
			for i, f := range tt.wantWarn {
				if r.Warnings[i].Field != f {
					t.Errorf("warning %d field = %s, want %s", i, r.Warnings[i].Field, f)
				}
			}
		})
	}
}

func TestValidate_WebhookHygiene(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Notify.Routes = map[string]string{"slack": config.SinkWebhook}
	cfg.Notify.Webhook.URL = "http://bots.example.com/hook"
	r := New(cfg, WithLookPath(allFound)).Validate()
	if !hasIssue(r.Warnings, "notify.webhook.secret", "unsigned") {
		t.Errorf("missing secret warning: %v", r.Warnings)
	}
	if !hasIssue(r.Warnings, "notify.webhook.url", "plain http") {
		t.Errorf("missing http warning: %v", r.Warnings)
	}

	cfg.Notify.Webhook.URL = "http://127.0.0.1:9000/hook"
	cfg.Notify.Webhook.Secret = "s"
	r = New(cfg, WithLookPath(allFound)).Validate()
	if len(r.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", r.Warnings)
	}
}

func TestValidate_WorkerAndEnv(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Worker.LeaseRecovery = false
	cfg.Worker.Interval = 10 * time.Millisecond
	cfg.Providers["echo"] = config.ProviderConfig{Type: "command", Binary: "/bin/echo", Env: map[string]string{"KEY": "${PROMPTQ_DOCTOR_UNSET}"}}

	r := New(cfg, WithLookPath(allFound)).Validate()
	if !r.Valid {
		t.Fatalf("warnings only, got errors: %v", r.Errors)
	}
	for _, want := range []string{"worker.lease_recovery", "worker.interval", "providers.echo.env.KEY"} {
		if !hasIssue(r.Warnings, want, "") {
			t.Errorf("missing warning for %s: %v", want, r.Warnings)
		}
	}
}
