// Package doctor checks a loaded configuration against the machine it will
// run on: provider binaries, the database location, token scopes and
// delivery settings. Config.Load already rejects malformed values; doctor
// reports what only shows up at runtime.
package doctor

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/mattjoyce/promptq/internal/auth"
	"github.com/mattjoyce/promptq/internal/config"
	"github.com/mattjoyce/promptq/internal/provider"
)

// Result holds the outcome of a check run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue is a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor runs the checks.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

type Option func(*Doctor)

// WithLookPath replaces exec.LookPath for binary resolution.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(d *Doctor) { d.lookPath = fn }
}

func New(cfg *config.Config, opts ...Option) *Doctor {
	d := &Doctor{cfg: cfg, lookPath: exec.LookPath}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Validate runs every check.
func (d *Doctor) Validate() *Result {
	r := &Result{}

	d.checkProviders(r)
	d.checkDatabase(r)
	d.checkTokenScopes(r)
	d.checkAPIExposure(r)
	d.checkNotify(r)
	d.checkWorker(r)
	d.warnUnresolvedEnv(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkProviders(r *Result) {
	names := make([]string, 0, len(d.cfg.Providers))
	for name := range d.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := d.cfg.Providers[name]
		binary := p.Binary
		if binary == "" && p.Type == provider.TypeClaude {
			binary = provider.DefaultClaudeBinary
		}
		field := fmt.Sprintf("providers.%s.binary", name)
		if _, err := d.lookPath(binary); err != nil {
			msg := fmt.Sprintf("provider %q: %s not found or not executable", name, binary)
			if name == d.cfg.DefaultProvider {
				d.addError(r, "providers", field, msg)
			} else {
				d.addWarning(r, "providers", field, msg)
			}
		}
	}
}

func (d *Doctor) checkDatabase(r *Result) {
	path := d.cfg.Database.Path
	if path == ":memory:" {
		d.addWarning(r, "database", "database.path", "in-memory database: jobs do not survive a restart")
		return
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "database", "database.path", fmt.Sprintf("directory %s does not exist yet and will be created", dir))
	case err != nil:
		d.addError(r, "database", "database.path", fmt.Sprintf("cannot stat %s: %v", dir, err))
	case !info.IsDir():
		d.addError(r, "database", "database.path", fmt.Sprintf("%s is not a directory", dir))
	}
}

var knownScopes = map[string]bool{
	auth.ScopeAll:      true,
	auth.ScopeJobsRO:   true,
	auth.ScopeJobsRW:   true,
	auth.ScopeEventsRO: true,
}

func (d *Doctor) checkTokenScopes(r *Result) {
	for i, t := range d.cfg.API.Tokens {
		if len(t.Scopes) == 0 {
			d.addWarning(r, "token_scopes", fmt.Sprintf("api.tokens[%d].scopes", i), "token has no scopes and can only reach /healthz")
		}
		for j, s := range t.Scopes {
			if !knownScopes[s] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected jobs:ro, jobs:rw, events:ro or *)", s))
			}
		}
	}
}

func (d *Doctor) checkAPIExposure(r *Result) {
	api := d.cfg.API
	if !api.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(api.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", api.Listen, err))
		return
	}
	if isLoopback(host) {
		return
	}
	d.addWarning(r, "api", "api.listen", fmt.Sprintf("API listens on %s, reachable beyond this host", api.Listen))
	if api.RateLimit.PerSecond <= 0 {
		d.addWarning(r, "api", "api.rate_limit", "POST /jobs is not rate limited on a non-loopback address")
	}
}

func (d *Doctor) checkNotify(r *Result) {
	n := d.cfg.Notify
	usesWebhook := n.Sink == config.SinkWebhook
	for _, s := range n.Routes {
		if s == config.SinkWebhook {
			usesWebhook = true
		}
	}
	if !usesWebhook {
		return
	}
	if n.Webhook.Secret == "" {
		d.addWarning(r, "notify", "notify.webhook.secret", "webhook deliveries are unsigned")
	}
	if u, err := url.Parse(n.Webhook.URL); err == nil && u.Scheme == "http" && !isLoopback(u.Hostname()) {
		d.addWarning(r, "notify", "notify.webhook.url", "webhook URL is plain http to a remote host")
	}
}

func (d *Doctor) checkWorker(r *Result) {
	w := d.cfg.Worker
	if !w.LeaseRecovery {
		d.addWarning(r, "worker", "worker.lease_recovery",
			"lease recovery is off: a job left running by a crash stays running until cleared by hand")
	}
	if w.Interval < 100*time.Millisecond {
		d.addWarning(r, "worker", "worker.interval", fmt.Sprintf("interval %s polls the database very often", w.Interval))
	}
}

var unresolved = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

func (d *Doctor) warnUnresolvedEnv(r *Result) {
	for name, p := range d.cfg.Providers {
		for k, v := range p.Env {
			if m := unresolved.FindString(v); m != "" {
				d.addWarning(r, "env", fmt.Sprintf("providers.%s.env.%s", name, k),
					fmt.Sprintf("%s is not set; the provider will see it literally", m))
			}
		}
	}
	if m := unresolved.FindString(d.cfg.Notify.Webhook.URL); m != "" {
		d.addWarning(r, "env", "notify.webhook.url", fmt.Sprintf("%s is not set", m))
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
